package channels

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"omnibox/internal/events"
	"omnibox/internal/flows"
	"omnibox/internal/models"
	"omnibox/internal/realtime"

	"github.com/sirupsen/logrus"
)

const twilioSMSAPIBase = "https://api.twilio.com/2010-04-01"

// SMSAdapter sends plain SMS through the Twilio Messages API. SMS has no
// reply semantics at all; replies are delivered flat.
type SMSAdapter struct {
	store  Store
	hub    Broadcaster
	flows  flows.Executor
	events events.Publisher

	httpClient *http.Client
	baseURL    string
}

func NewSMSAdapter(store Store, hub Broadcaster, exec flows.Executor, pub events.Publisher) *SMSAdapter {
	return &SMSAdapter{
		store:      store,
		hub:        hub,
		flows:      exec,
		events:     pub,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    twilioSMSAPIBase,
	}
}

func (a *SMSAdapter) Type() ChannelType { return ChannelSMS }

func (a *SMSAdapter) Connect(conn *models.ChannelConnection) error {
	var cfg SMSConfig
	if err := decodeConfig(conn, &cfg); err != nil {
		return err
	}
	if cfg.AccountSID == "" || cfg.AuthToken == "" || cfg.FromNumber == "" {
		return errors.New("sms connection requires account_sid, auth_token and from_number")
	}
	return a.store.UpdateChannelConnection(conn.ID, map[string]interface{}{
		"status": models.ConnectionStatusActive, "last_error": "",
	})
}

func (a *SMSAdapter) Disconnect(conn *models.ChannelConnection) error {
	return a.store.UpdateChannelConnection(conn.ID, map[string]interface{}{
		"status": models.ConnectionStatusDisconnected,
	})
}

func (a *SMSAdapter) ConnectionStatus(conn *models.ChannelConnection) string {
	return conn.Status
}

func (a *SMSAdapter) SendReply(ctx context.Context, req ReplyRequest) (*ProviderMessage, error) {
	if req.Conversation.IsGroup {
		return nil, errors.New("SMS does not support group chat replies")
	}

	var cfg SMSConfig
	if err := decodeConfig(req.Connection, &cfg); err != nil {
		return nil, err
	}

	form := url.Values{}
	form.Set("To", "+"+digitsOnly(req.Recipient))
	form.Set("From", cfg.FromNumber)
	form.Set("Body", req.Content)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		a.baseURL+"/Accounts/"+cfg.AccountSID+"/Messages.json", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	httpReq.SetBasicAuth(cfg.AccountSID, cfg.AuthToken)
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

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
		return nil, fmt.Errorf("twilio messages API returned %d: %s", resp.StatusCode, string(respBody))
	}

	var result struct {
		SID string `json:"sid"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, err
	}
	return &ProviderMessage{ExternalID: result.SID}, nil
}

// ProcessWebhook ingests a Twilio inbound-SMS webhook (form fields From,
// Body, MessageSid).
func (a *SMSAdapter) ProcessWebhook(ctx context.Context, conn *models.ChannelConnection, from, body, messageSID string) error {
	if messageSID != "" {
		if _, err := a.store.GetMessageByExternalID(messageSID); err == nil {
			return nil
		}
	}

	phone := digitsOnly(from)
	if phone == "" {
		return errors.New("sms webhook sender has no phone digits")
	}

	contact, err := a.store.GetOrCreateContact(&models.Contact{
		CompanyID:      conn.CompanyID,
		Identifier:     phone,
		IdentifierType: "phone",
		Name:           "+" + phone,
		Phone:          phone,
	})
	if err != nil {
		return err
	}

	conv, err := a.store.GetConversationByContactAndChannel(contact.ID, conn.ID)
	if err != nil {
		conv, err = a.store.CreateConversation(&models.Conversation{
			CompanyID:   conn.CompanyID,
			ChannelID:   conn.ID,
			ChannelType: string(ChannelSMS),
			ContactID:   &contact.ID,
			Status:      models.ConversationStatusOpen,
		})
		if err != nil {
			return err
		}
	}

	now := time.Now()
	msg, err := a.store.CreateMessage(&models.Message{
		ConversationID: conv.ID,
		Direction:      models.DirectionInbound,
		SenderType:     models.SenderTypeContact,
		Type:           models.MessageTypeText,
		Content:        body,
		Status:         models.MessageStatusDelivered,
		ExternalID:     messageSID,
		SentAt:         &now,
	})
	if err != nil {
		return err
	}

	if err := a.store.UpdateConversation(conv.ID, map[string]interface{}{"last_message_at": now}); err != nil {
		logrus.Warnf("sms: failed to touch conversation %d: %v", conv.ID, err)
	}

	a.hub.PublishToCompany(conn.CompanyID, realtime.Event{Type: "new_message", Data: msg})

	if !conv.BotDisabled {
		if err := a.flows.HandleInbound(ctx, msg, conv); err != nil {
			logrus.Errorf("sms: flow executor failed for message %d: %v", msg.ID, err)
		}
	}
	err = a.events.Publish(ctx, events.KeyMessageInbound, events.MessageEvent{
		CompanyID:      conn.CompanyID,
		ConversationID: conv.ID,
		MessageID:      msg.ID,
		ChannelType:    string(ChannelSMS),
		Direction:      msg.Direction,
		Kind:           msg.Type,
	})
	if err != nil {
		logrus.Warnf("sms: event publish failed: %v", err)
	}
	return nil
}
