package channels

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"omnibox/internal/events"
	"omnibox/internal/flows"
	"omnibox/internal/models"
)

const tiktokAPIBase = "https://business-api.tiktok.com/open_api/v1.3"

// TikTokAdapter sends direct-message replies through the TikTok business
// messaging API, with "@sender" reply emulation.
type TikTokAdapter struct {
	store  Store
	hub    Broadcaster
	flows  flows.Executor
	events events.Publisher

	httpClient *http.Client
	baseURL    string
}

func NewTikTokAdapter(store Store, hub Broadcaster, exec flows.Executor, pub events.Publisher) *TikTokAdapter {
	return &TikTokAdapter{
		store:      store,
		hub:        hub,
		flows:      exec,
		events:     pub,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    tiktokAPIBase,
	}
}

func (a *TikTokAdapter) Type() ChannelType { return ChannelTikTok }

func (a *TikTokAdapter) Connect(conn *models.ChannelConnection) error {
	var cfg TikTokConfig
	if err := decodeConfig(conn, &cfg); err != nil {
		return err
	}
	if cfg.BusinessID == "" || cfg.AccessToken == "" {
		return errors.New("tiktok connection requires business_id and access_token")
	}
	return a.store.UpdateChannelConnection(conn.ID, map[string]interface{}{
		"status": models.ConnectionStatusActive, "last_error": "",
	})
}

func (a *TikTokAdapter) Disconnect(conn *models.ChannelConnection) error {
	return a.store.UpdateChannelConnection(conn.ID, map[string]interface{}{
		"status": models.ConnectionStatusDisconnected,
	})
}

func (a *TikTokAdapter) ConnectionStatus(conn *models.ChannelConnection) string {
	return conn.Status
}

func (a *TikTokAdapter) SendReply(ctx context.Context, req ReplyRequest) (*ProviderMessage, error) {
	if req.Conversation.IsGroup {
		return nil, errors.New("TikTok does not support group chat replies")
	}

	var cfg TikTokConfig
	if err := decodeConfig(req.Connection, &cfg); err != nil {
		return nil, err
	}

	payload := map[string]interface{}{
		"business_id": cfg.BusinessID,
		"user_id":     req.Recipient,
		"message": map[string]string{
			"type": "text",
			"text": mentionPrefix(req.Options.OriginalSender, req.Content),
		},
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/business/message/send/", bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Access-Token", cfg.AccessToken)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("tiktok API returned %d: %s", resp.StatusCode, string(respBody))
	}

	var result struct {
		Code int `json:"code"`
		Data struct {
			MessageID string `json:"message_id"`
		} `json:"data"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, err
	}
	if result.Code != 0 {
		return nil, fmt.Errorf("tiktok API error %d: %s", result.Code, result.Message)
	}
	return &ProviderMessage{ExternalID: result.Data.MessageID}, nil
}

// ProcessWebhook ingests TikTok inbound-message webhooks.
func (a *TikTokAdapter) ProcessWebhook(ctx context.Context, conn *models.ChannelConnection, senderID, messageID, text string) error {
	if messageID != "" {
		if _, err := a.store.GetMessageByExternalID(messageID); err == nil {
			return nil
		}
	}
	return ingestMetaMessage(ctx, cloudIngestDeps{
		store:  a.store,
		hub:    a.hub,
		flows:  a.flows,
		events: a.events,
	}, conn, string(ChannelTikTok), "tiktok", senderID, messageID, text)
}
