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

// MessengerAdapter sends Facebook Messenger replies through the Meta Send
// API. Messenger has no quote primitive, so replies are emulated with an
// "@sender" prefix.
type MessengerAdapter struct {
	store  Store
	hub    Broadcaster
	flows  flows.Executor
	events events.Publisher

	httpClient *http.Client
	baseURL    string
}

func NewMessengerAdapter(store Store, hub Broadcaster, exec flows.Executor, pub events.Publisher) *MessengerAdapter {
	return &MessengerAdapter{
		store:      store,
		hub:        hub,
		flows:      exec,
		events:     pub,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    graphAPIBase,
	}
}

func (a *MessengerAdapter) Type() ChannelType { return ChannelMessenger }

func (a *MessengerAdapter) Connect(conn *models.ChannelConnection) error {
	var cfg MetaConfig
	if err := decodeConfig(conn, &cfg); err != nil {
		return err
	}
	if cfg.PageID == "" || cfg.AccessToken == "" {
		return errors.New("messenger connection requires page_id and access_token")
	}
	return a.store.UpdateChannelConnection(conn.ID, map[string]interface{}{
		"status": models.ConnectionStatusActive, "last_error": "",
	})
}

func (a *MessengerAdapter) Disconnect(conn *models.ChannelConnection) error {
	return a.store.UpdateChannelConnection(conn.ID, map[string]interface{}{
		"status": models.ConnectionStatusDisconnected,
	})
}

func (a *MessengerAdapter) ConnectionStatus(conn *models.ChannelConnection) string {
	return conn.Status
}

func (a *MessengerAdapter) SendReply(ctx context.Context, req ReplyRequest) (*ProviderMessage, error) {
	if req.Conversation.IsGroup {
		return nil, errors.New("Messenger does not support group chat replies")
	}

	var cfg MetaConfig
	if err := decodeConfig(req.Connection, &cfg); err != nil {
		return nil, err
	}

	body := mentionPrefix(req.Options.OriginalSender, req.Content)
	return sendMetaMessage(ctx, a.httpClient, a.baseURL, &cfg, req.Recipient, body)
}

// ProcessWebhook ingests Messenger messaging events for one connection.
func (a *MessengerAdapter) ProcessWebhook(ctx context.Context, conn *models.ChannelConnection, payload MetaWebhookPayload) error {
	return processMetaWebhook(ctx, cloudIngestDeps{
		store:  a.store,
		hub:    a.hub,
		flows:  a.flows,
		events: a.events,
	}, conn, string(ChannelMessenger), "messenger", payload)
}

// sendMetaMessage posts a text message through the Meta Send API, shared by
// the Messenger and Instagram adapters.
func sendMetaMessage(ctx context.Context, client *http.Client, baseURL string, cfg *MetaConfig, recipientID, text string) (*ProviderMessage, error) {
	payload := map[string]interface{}{
		"recipient":      map[string]string{"id": recipientID},
		"message":        map[string]string{"text": text},
		"messaging_type": "RESPONSE",
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/%s/messages?access_token=%s", baseURL, cfg.PageID, cfg.AccessToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("meta send API returned %d: %s", resp.StatusCode, string(respBody))
	}

	var result struct {
		MessageID string `json:"message_id"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, err
	}
	return &ProviderMessage{ExternalID: result.MessageID}, nil
}

// MetaWebhookPayload is the messaging-event envelope shared by Messenger and
// Instagram webhooks.
type MetaWebhookPayload struct {
	Entry []struct {
		Messaging []struct {
			Sender struct {
				ID string `json:"id"`
			} `json:"sender"`
			Recipient struct {
				ID string `json:"id"`
			} `json:"recipient"`
			Message struct {
				MID  string `json:"mid"`
				Text string `json:"text"`
				// IsEcho marks our own sends echoed back by the platform.
				IsEcho bool `json:"is_echo"`
			} `json:"message"`
		} `json:"messaging"`
	} `json:"entry"`
}

func processMetaWebhook(ctx context.Context, deps cloudIngestDeps, conn *models.ChannelConnection, channelType, identifierType string, payload MetaWebhookPayload) error {
	for _, entry := range payload.Entry {
		for _, ev := range entry.Messaging {
			if ev.Message.IsEcho || ev.Message.MID == "" {
				continue
			}
			if _, err := deps.store.GetMessageByExternalID(ev.Message.MID); err == nil {
				continue
			}
			err := ingestMetaMessage(ctx, deps, conn, channelType, identifierType, ev.Sender.ID, ev.Message.MID, ev.Message.Text)
			if err != nil {
				logrus.Errorf("%s: webhook ingest failed on connection %d: %v", channelType, conn.ID, err)
			}
		}
	}
	return nil
}

func ingestMetaMessage(ctx context.Context, deps cloudIngestDeps, conn *models.ChannelConnection, channelType, identifierType, senderID, mid, text string) error {
	contact, err := deps.store.GetOrCreateContact(&models.Contact{
		CompanyID:      conn.CompanyID,
		Identifier:     senderID,
		IdentifierType: identifierType,
		Name:           senderID,
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

	now := time.Now()
	msg, err := deps.store.CreateMessage(&models.Message{
		ConversationID: conv.ID,
		Direction:      models.DirectionInbound,
		SenderType:     models.SenderTypeContact,
		Type:           models.MessageTypeText,
		Content:        text,
		Status:         models.MessageStatusDelivered,
		ExternalID:     mid,
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
