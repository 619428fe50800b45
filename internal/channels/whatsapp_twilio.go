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

const twilioAPIBase = "https://conversations.twilio.com/v1"

// TwilioWhatsAppAdapter sends WhatsApp messages through the Twilio
// Conversations API. Twilio has no native quoting, so replies carry a
// synthesized excerpt of the original message.
type TwilioWhatsAppAdapter struct {
	store  Store
	hub    Broadcaster
	flows  flows.Executor
	events events.Publisher

	httpClient *http.Client
	baseURL    string // overridable in tests
}

func NewTwilioWhatsAppAdapter(store Store, hub Broadcaster, exec flows.Executor, pub events.Publisher) *TwilioWhatsAppAdapter {
	return &TwilioWhatsAppAdapter{
		store:      store,
		hub:        hub,
		flows:      exec,
		events:     pub,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    twilioAPIBase,
	}
}

func (a *TwilioWhatsAppAdapter) Type() ChannelType { return ChannelWhatsAppTwilio }

// Connect validates the credentials by fetching the configured Conversations
// service. Twilio connections have no session to establish beyond that.
func (a *TwilioWhatsAppAdapter) Connect(conn *models.ChannelConnection) error {
	var cfg TwilioConfig
	if err := decodeConfig(conn, &cfg); err != nil {
		return err
	}
	if cfg.AccountSID == "" || cfg.AuthToken == "" || cfg.ServiceSID == "" {
		return errors.New("twilio connection requires account_sid, auth_token and service_sid")
	}

	req, err := http.NewRequest(http.MethodGet, a.baseURL+"/Services/"+cfg.ServiceSID, nil)
	if err != nil {
		return err
	}
	req.SetBasicAuth(cfg.AccountSID, cfg.AuthToken)
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
		errMsg := fmt.Sprintf("twilio service validation failed (%d): %s", resp.StatusCode, string(body))
		_ = a.store.UpdateChannelConnection(conn.ID, map[string]interface{}{
			"status": models.ConnectionStatusError, "last_error": errMsg,
		})
		return errors.New(errMsg)
	}

	return a.store.UpdateChannelConnection(conn.ID, map[string]interface{}{
		"status": models.ConnectionStatusActive, "last_error": "",
	})
}

func (a *TwilioWhatsAppAdapter) Disconnect(conn *models.ChannelConnection) error {
	return a.store.UpdateChannelConnection(conn.ID, map[string]interface{}{
		"status": models.ConnectionStatusDisconnected,
	})
}

func (a *TwilioWhatsAppAdapter) ConnectionStatus(conn *models.ChannelConnection) string {
	return conn.Status
}

// SendReply delivers a reply with a synthesized quote. Twilio Conversations
// does not model group chats for WhatsApp, so group conversations are
// rejected here.
func (a *TwilioWhatsAppAdapter) SendReply(ctx context.Context, req ReplyRequest) (*ProviderMessage, error) {
	if req.Conversation.IsGroup {
		return nil, errors.New("WhatsApp via Twilio does not support group chat replies")
	}

	var cfg TwilioConfig
	if err := decodeConfig(req.Connection, &cfg); err != nil {
		return nil, err
	}

	body := req.Content
	if req.Options.OriginalContent != "" {
		body = quoteExcerpt(req.Options.OriginalContent, req.Content)
	}

	return a.send(ctx, req.Conversation, &cfg, req.Recipient, body)
}

// send runs the three-step Twilio Conversations flow: ensure a conversation
// SID, ensure the contact is a participant, then post the message. The SID is
// cached on our conversation metadata path via TwilioMeta on each message.
func (a *TwilioWhatsAppAdapter) send(ctx context.Context, conv *models.Conversation, cfg *TwilioConfig, recipient, body string) (*ProviderMessage, error) {
	convSID, err := a.ensureTwilioConversation(ctx, conv, cfg, recipient)
	if err != nil {
		return nil, err
	}

	form := url.Values{}
	form.Set("Body", body)
	form.Set("Author", "whatsapp:+"+digitsOnly(cfg.WhatsAppNumber))
	var msgResp struct {
		SID string `json:"sid"`
	}
	err = a.postForm(ctx, cfg, "/Conversations/"+convSID+"/Messages", form, &msgResp)
	if err != nil {
		return nil, err
	}

	meta := TwilioMeta{ConversationSID: convSID, MessageSID: msgResp.SID}
	return &ProviderMessage{ExternalID: msgResp.SID, Metadata: encodeMeta(meta)}, nil
}

// ensureTwilioConversation reuses the Conversation SID stored on the last
// message of this conversation, creating a fresh Twilio conversation plus
// WhatsApp participant binding when none exists yet.
func (a *TwilioWhatsAppAdapter) ensureTwilioConversation(ctx context.Context, conv *models.Conversation, cfg *TwilioConfig, recipient string) (string, error) {
	if sid := a.knownConversationSID(conv); sid != "" {
		return sid, nil
	}

	form := url.Values{}
	form.Set("FriendlyName", fmt.Sprintf("omnibox-conv-%d", conv.ID))
	var created struct {
		SID string `json:"sid"`
	}
	if err := a.postForm(ctx, cfg, "/Conversations", form, &created); err != nil {
		return "", err
	}

	participant := url.Values{}
	participant.Set("MessagingBinding.Address", "whatsapp:+"+digitsOnly(recipient))
	participant.Set("MessagingBinding.ProxyAddress", "whatsapp:+"+digitsOnly(cfg.WhatsAppNumber))
	if err := a.postForm(ctx, cfg, "/Conversations/"+created.SID+"/Participants", participant, nil); err != nil {
		return "", err
	}

	return created.SID, nil
}

func (a *TwilioWhatsAppAdapter) knownConversationSID(conv *models.Conversation) string {
	msg, err := a.store.GetLastMessage(conv.ID)
	if err != nil {
		return ""
	}
	var meta TwilioMeta
	if err := decodeMeta(msg, &meta); err != nil {
		return ""
	}
	return meta.ConversationSID
}

func (a *TwilioWhatsAppAdapter) postForm(ctx context.Context, cfg *TwilioConfig, path string, form url.Values, into interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.SetBasicAuth(cfg.AccountSID, cfg.AuthToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("twilio API %s returned %d: %s", path, resp.StatusCode, string(raw))
	}
	if into == nil {
		return nil
	}
	return json.Unmarshal(raw, into)
}

// TwilioWebhookPayload is the form-encoded Conversations webhook, decoded by
// the HTTP handler.
type TwilioWebhookPayload struct {
	EventType       string
	ConversationSID string
	MessageSID      string
	Author          string
	Body            string
	Media           string // JSON array when the message carries media
}

// ProcessWebhook handles Conversations post-event webhooks. onMessageUpdated
// is parsed and acknowledged without any action: Twilio fires it for
// delivery-receipt metadata changes we do not track.
func (a *TwilioWhatsAppAdapter) ProcessWebhook(ctx context.Context, conn *models.ChannelConnection, payload TwilioWebhookPayload) error {
	switch payload.EventType {
	case "onMessageAdded":
		return a.processInbound(ctx, conn, payload)
	case "onMessageUpdated":
		return nil
	default:
		logrus.Debugf("twilio: ignoring webhook event %s on connection %d", payload.EventType, conn.ID)
		return nil
	}
}

func (a *TwilioWhatsAppAdapter) processInbound(ctx context.Context, conn *models.ChannelConnection, payload TwilioWebhookPayload) error {
	var cfg TwilioConfig
	if err := decodeConfig(conn, &cfg); err != nil {
		return err
	}

	// Our own outbound posts echo back through onMessageAdded with the
	// business number as the author.
	if digitsOnly(payload.Author) == digitsOnly(cfg.WhatsAppNumber) {
		return nil
	}

	if payload.MessageSID != "" {
		if _, err := a.store.GetMessageByExternalID(payload.MessageSID); err == nil {
			return nil
		}
	}

	phone := digitsOnly(payload.Author)
	if phone == "" {
		return errors.New("twilio webhook author has no phone digits")
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
			ChannelType: string(ChannelWhatsAppTwilio),
			ContactID:   &contact.ID,
			Status:      models.ConversationStatusOpen,
		})
		if err != nil {
			return err
		}
	}

	content := payload.Body
	msgType := models.MessageTypeText
	mediaURL := ""
	if payload.Media != "" {
		msgType, mediaURL = classifyTwilioMedia(payload.Media)
	}

	now := time.Now()
	meta := TwilioMeta{ConversationSID: payload.ConversationSID, MessageSID: payload.MessageSID}
	msg, err := a.store.CreateMessage(&models.Message{
		ConversationID: conv.ID,
		Direction:      models.DirectionInbound,
		SenderType:     models.SenderTypeContact,
		Type:           msgType,
		Content:        content,
		MediaURL:       mediaURL,
		Status:         models.MessageStatusDelivered,
		ExternalID:     payload.MessageSID,
		Metadata:       encodeMeta(meta),
		SentAt:         &now,
	})
	if err != nil {
		return err
	}

	if err := a.store.UpdateConversation(conv.ID, map[string]interface{}{"last_message_at": now}); err != nil {
		logrus.Warnf("twilio: failed to touch conversation %d: %v", conv.ID, err)
	}

	a.hub.PublishToCompany(conn.CompanyID, realtime.Event{Type: "new_message", Data: msg})

	if !conv.BotDisabled {
		if err := a.flows.HandleInbound(ctx, msg, conv); err != nil {
			logrus.Errorf("twilio: flow executor failed for message %d: %v", msg.ID, err)
		}
	}
	err = a.events.Publish(ctx, events.KeyMessageInbound, events.MessageEvent{
		CompanyID:      conn.CompanyID,
		ConversationID: conv.ID,
		MessageID:      msg.ID,
		ChannelType:    string(ChannelWhatsAppTwilio),
		Direction:      msg.Direction,
		Kind:           msg.Type,
	})
	if err != nil {
		logrus.Warnf("twilio: event publish failed: %v", err)
	}
	return nil
}

// classifyTwilioMedia maps the first media item's content type onto the
// canonical message types.
func classifyTwilioMedia(mediaJSON string) (string, string) {
	var items []struct {
		ContentType string `json:"content_type"`
		URL         string `json:"url"`
		SID         string `json:"sid"`
	}
	if err := json.Unmarshal([]byte(mediaJSON), &items); err != nil || len(items) == 0 {
		return models.MessageTypeText, ""
	}
	item := items[0]
	switch {
	case strings.HasPrefix(item.ContentType, "image/"):
		return models.MessageTypeImage, item.URL
	case strings.HasPrefix(item.ContentType, "video/"):
		return models.MessageTypeVideo, item.URL
	case strings.HasPrefix(item.ContentType, "audio/"):
		return models.MessageTypeAudio, item.URL
	default:
		return models.MessageTypeDocument, item.URL
	}
}
