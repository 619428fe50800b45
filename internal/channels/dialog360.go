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

const dialog360APIBase = "https://waba-v2.360dialog.io"

// Dialog360Adapter sends WhatsApp messages through the 360Dialog BSP. The
// wire format is the Cloud API payload; only the endpoint and the
// D360-API-KEY auth header differ.
type Dialog360Adapter struct {
	store  Store
	hub    Broadcaster
	flows  flows.Executor
	events events.Publisher

	httpClient *http.Client
	baseURL    string
}

func NewDialog360Adapter(store Store, hub Broadcaster, exec flows.Executor, pub events.Publisher) *Dialog360Adapter {
	return &Dialog360Adapter{
		store:      store,
		hub:        hub,
		flows:      exec,
		events:     pub,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    dialog360APIBase,
	}
}

func (a *Dialog360Adapter) Type() ChannelType { return ChannelWhatsApp360Dialog }

func (a *Dialog360Adapter) Connect(conn *models.ChannelConnection) error {
	var cfg Dialog360Config
	if err := decodeConfig(conn, &cfg); err != nil {
		return err
	}
	if cfg.APIKey == "" {
		return errors.New("360dialog connection requires api_key")
	}
	return a.store.UpdateChannelConnection(conn.ID, map[string]interface{}{
		"status": models.ConnectionStatusActive, "last_error": "",
	})
}

func (a *Dialog360Adapter) Disconnect(conn *models.ChannelConnection) error {
	return a.store.UpdateChannelConnection(conn.ID, map[string]interface{}{
		"status": models.ConnectionStatusDisconnected,
	})
}

func (a *Dialog360Adapter) ConnectionStatus(conn *models.ChannelConnection) string {
	return conn.Status
}

func (a *Dialog360Adapter) SendReply(ctx context.Context, req ReplyRequest) (*ProviderMessage, error) {
	if req.Conversation.IsGroup {
		return nil, errors.New("WhatsApp via 360Dialog does not support group chat replies")
	}

	var cfg Dialog360Config
	if err := decodeConfig(req.Connection, &cfg); err != nil {
		return nil, err
	}

	body := req.Content
	if req.Options.OriginalContent != "" {
		body = quoteExcerpt(req.Options.OriginalContent, req.Content)
	}

	payload := map[string]interface{}{
		"messaging_product": "whatsapp",
		"to":                digitsOnly(req.Recipient),
		"type":              "text",
		"text":              map[string]string{"body": body},
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/messages", bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("D360-API-KEY", cfg.APIKey)
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
		return nil, fmt.Errorf("360dialog API returned %d: %s", resp.StatusCode, string(respBody))
	}

	var result struct {
		Messages []struct {
			ID string `json:"id"`
		} `json:"messages"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, err
	}
	if len(result.Messages) == 0 {
		return nil, errors.New("360dialog API returned no message id")
	}
	return &ProviderMessage{ExternalID: result.Messages[0].ID}, nil
}

// ProcessWebhook reuses the Cloud API ingest path; 360Dialog forwards the
// identical webhook shape.
func (a *Dialog360Adapter) ProcessWebhook(ctx context.Context, conn *models.ChannelConnection, payload CloudWebhookPayload) error {
	return processCloudWebhook(ctx, cloudIngestDeps{
		store:  a.store,
		hub:    a.hub,
		flows:  a.flows,
		events: a.events,
	}, conn, string(ChannelWhatsApp360Dialog), payload)
}
