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
	"omnibox/internal/realtime"

	"github.com/sirupsen/logrus"
)

const graphAPIBase = "https://graph.facebook.com/v18.0"

// OfficialWhatsAppAdapter sends through the Meta WhatsApp Cloud API. The
// Cloud API cannot revoke messages, and replies carry a synthesized quote of
// the original.
type OfficialWhatsAppAdapter struct {
	store  Store
	hub    Broadcaster
	flows  flows.Executor
	events events.Publisher

	httpClient *http.Client
	baseURL    string
}

func NewOfficialWhatsAppAdapter(store Store, hub Broadcaster, exec flows.Executor, pub events.Publisher) *OfficialWhatsAppAdapter {
	return &OfficialWhatsAppAdapter{
		store:      store,
		hub:        hub,
		flows:      exec,
		events:     pub,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    graphAPIBase,
	}
}

func (a *OfficialWhatsAppAdapter) Type() ChannelType { return ChannelWhatsAppOfficial }

// Connect validates the access token by fetching the phone number resource.
func (a *OfficialWhatsAppAdapter) Connect(conn *models.ChannelConnection) error {
	var cfg WhatsAppOfficialConfig
	if err := decodeConfig(conn, &cfg); err != nil {
		return err
	}
	if cfg.PhoneNumberID == "" || cfg.AccessToken == "" {
		return errors.New("official whatsapp connection requires phone_number_id and access_token")
	}

	req, err := http.NewRequest(http.MethodGet, a.baseURL+"/"+cfg.PhoneNumberID, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+cfg.AccessToken)
	resp, err := a.httpClient.Do(req)
	if err != nil {
		_ = a.store.UpdateChannelConnection(conn.ID, map[string]interface{}{
			"status": models.ConnectionStatusError, "last_error": err.Error(),
		})
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		errMsg := fmt.Sprintf("cloud API validation failed (%d): %s", resp.StatusCode, string(body))
		_ = a.store.UpdateChannelConnection(conn.ID, map[string]interface{}{
			"status": models.ConnectionStatusError, "last_error": errMsg,
		})
		return errors.New(errMsg)
	}
	return a.store.UpdateChannelConnection(conn.ID, map[string]interface{}{
		"status": models.ConnectionStatusActive, "last_error": "",
	})
}

func (a *OfficialWhatsAppAdapter) Disconnect(conn *models.ChannelConnection) error {
	return a.store.UpdateChannelConnection(conn.ID, map[string]interface{}{
		"status": models.ConnectionStatusDisconnected,
	})
}

func (a *OfficialWhatsAppAdapter) ConnectionStatus(conn *models.ChannelConnection) string {
	return conn.Status
}

func (a *OfficialWhatsAppAdapter) SendReply(ctx context.Context, req ReplyRequest) (*ProviderMessage, error) {
	if req.Conversation.IsGroup {
		return nil, errors.New("Official WhatsApp API does not support group chat replies")
	}

	var cfg WhatsAppOfficialConfig
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

	var result struct {
		Messages []struct {
			ID string `json:"id"`
		} `json:"messages"`
	}
	err := a.post(ctx, cfg.AccessToken, "/"+cfg.PhoneNumberID+"/messages", payload, &result)
	if err != nil {
		return nil, err
	}
	if len(result.Messages) == 0 {
		return nil, errors.New("cloud API returned no message id")
	}
	return &ProviderMessage{ExternalID: result.Messages[0].ID}, nil
}

func (a *OfficialWhatsAppAdapter) post(ctx context.Context, token, path string, payload, into interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("cloud API %s returned %d: %s", path, resp.StatusCode, string(respBody))
	}
	if into == nil {
		return nil
	}
	return json.Unmarshal(respBody, into)
}

// CloudWebhookPayload is the Cloud API webhook envelope, shared with the
// 360Dialog adapter since 360Dialog forwards the same shape.
type CloudWebhookPayload struct {
	Entry []struct {
		Changes []struct {
			Value struct {
				Messages []CloudInboundMessage `json:"messages"`
				Statuses []struct {
					ID     string `json:"id"`
					Status string `json:"status"`
				} `json:"statuses"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

type CloudInboundMessage struct {
	ID   string `json:"id"`
	From string `json:"from"`
	Type string `json:"type"`
	Text struct {
		Body string `json:"body"`
	} `json:"text"`
	Image struct {
		Caption string `json:"caption"`
	} `json:"image"`
	Document struct {
		Filename string `json:"filename"`
	} `json:"document"`
}

// ProcessWebhook ingests Cloud API inbound messages and delivery-status
// updates for one connection.
func (a *OfficialWhatsAppAdapter) ProcessWebhook(ctx context.Context, conn *models.ChannelConnection, payload CloudWebhookPayload) error {
	return processCloudWebhook(ctx, cloudIngestDeps{
		store:  a.store,
		hub:    a.hub,
		flows:  a.flows,
		events: a.events,
	}, conn, string(ChannelWhatsAppOfficial), payload)
}

// cloudIngestDeps lets the official and 360Dialog adapters share one ingest
// path for the common webhook shape.
type cloudIngestDeps struct {
	store  Store
	hub    Broadcaster
	flows  flows.Executor
	events events.Publisher
}

func processCloudWebhook(ctx context.Context, deps cloudIngestDeps, conn *models.ChannelConnection, channelType string, payload CloudWebhookPayload) error {
	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			for _, status := range change.Value.Statuses {
				applyCloudStatus(deps.store, status.ID, status.Status)
			}
			for _, inbound := range change.Value.Messages {
				if err := ingestCloudMessage(ctx, deps, conn, channelType, inbound); err != nil {
					logrus.Errorf("%s: webhook ingest failed on connection %d: %v", channelType, conn.ID, err)
				}
			}
		}
	}
	return nil
}

// applyCloudStatus maps Cloud API delivery statuses onto ours, joined on the
// provider message id.
func applyCloudStatus(store Store, externalID, status string) {
	msg, err := store.GetMessageByExternalID(externalID)
	if err != nil {
		return
	}
	var mapped string
	switch status {
	case "sent":
		mapped = models.MessageStatusSent
	case "delivered":
		mapped = models.MessageStatusDelivered
	case "read":
		mapped = models.MessageStatusRead
	case "failed":
		mapped = models.MessageStatusFailed
	default:
		return
	}
	if err := store.UpdateMessageStatus(msg.ID, mapped); err != nil {
		logrus.Warnf("failed to update message %d status to %s: %v", msg.ID, mapped, err)
	}
}

func ingestCloudMessage(ctx context.Context, deps cloudIngestDeps, conn *models.ChannelConnection, channelType string, inbound CloudInboundMessage) error {
	if inbound.ID != "" {
		if _, err := deps.store.GetMessageByExternalID(inbound.ID); err == nil {
			return nil
		}
	}

	phone := digitsOnly(inbound.From)
	if phone == "" {
		return errors.New("inbound message has no sender phone")
	}

	contact, err := deps.store.GetOrCreateContact(&models.Contact{
		CompanyID:      conn.CompanyID,
		Identifier:     phone,
		IdentifierType: "phone",
		Name:           "+" + phone,
		Phone:          phone,
	})
	if err != nil {
		return err
	}

	conv, err := deps.store.GetConversationByContactAndChannel(contact.ID, conn.ID)
	if err != nil {
		conv, err = deps.store.CreateConversation(&models.Conversation{
			CompanyID:   conn.CompanyID,
			ChannelID:   conn.ID,
			ChannelType: channelType,
			ContactID:   &contact.ID,
			Status:      models.ConversationStatusOpen,
		})
		if err != nil {
			return err
		}
	}

	content, msgType := classifyCloudMessage(inbound)

	now := time.Now()
	msg, err := deps.store.CreateMessage(&models.Message{
		ConversationID: conv.ID,
		Direction:      models.DirectionInbound,
		SenderType:     models.SenderTypeContact,
		Type:           msgType,
		Content:        content,
		Status:         models.MessageStatusDelivered,
		ExternalID:     inbound.ID,
		SentAt:         &now,
	})
	if err != nil {
		return err
	}

	if err := deps.store.UpdateConversation(conv.ID, map[string]interface{}{"last_message_at": now}); err != nil {
		logrus.Warnf("%s: failed to touch conversation %d: %v", channelType, conv.ID, err)
	}

	deps.hub.PublishToCompany(conn.CompanyID, realtime.Event{Type: "new_message", Data: msg})

	if !conv.BotDisabled {
		if err := deps.flows.HandleInbound(ctx, msg, conv); err != nil {
			logrus.Errorf("%s: flow executor failed for message %d: %v", channelType, msg.ID, err)
		}
	}
	err = deps.events.Publish(ctx, events.KeyMessageInbound, events.MessageEvent{
		CompanyID:      conn.CompanyID,
		ConversationID: conv.ID,
		MessageID:      msg.ID,
		ChannelType:    channelType,
		Direction:      msg.Direction,
		Kind:           msg.Type,
	})
	if err != nil {
		logrus.Warnf("%s: event publish failed: %v", channelType, err)
	}
	return nil
}

func classifyCloudMessage(inbound CloudInboundMessage) (string, string) {
	switch inbound.Type {
	case "text", "":
		return inbound.Text.Body, models.MessageTypeText
	case "image":
		return inbound.Image.Caption, models.MessageTypeImage
	case "video":
		return "", models.MessageTypeVideo
	case "audio", "voice":
		return "", models.MessageTypeAudio
	case "document":
		return inbound.Document.Filename, models.MessageTypeDocument
	default:
		return inbound.Text.Body, models.MessageTypeText
	}
}
