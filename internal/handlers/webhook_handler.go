package handlers

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"os"

	"omnibox/internal/channels"
	"omnibox/internal/models"
	"omnibox/internal/storage"

	"github.com/sirupsen/logrus"
)

// WebhookHandler terminates all provider webhooks. Authentication differs
// per provider: webchat uses the widget token (plus an optional HMAC
// signature), Meta uses the verify-token handshake, the rest are scoped by
// the connection id in the path.
type WebhookHandler struct {
	store     *storage.Storage
	webchat   *channels.WebChatAdapter
	twilio    *channels.TwilioWhatsAppAdapter
	official  *channels.OfficialWhatsAppAdapter
	dialog360 *channels.Dialog360Adapter
	messenger *channels.MessengerAdapter
	instagram *channels.InstagramAdapter
	tiktok    *channels.TikTokAdapter
	sms       *channels.SMSAdapter
	email     *channels.EmailAdapter
}

func NewWebhookHandler(
	store *storage.Storage,
	webchat *channels.WebChatAdapter,
	twilio *channels.TwilioWhatsAppAdapter,
	official *channels.OfficialWhatsAppAdapter,
	dialog360 *channels.Dialog360Adapter,
	messenger *channels.MessengerAdapter,
	instagram *channels.InstagramAdapter,
	tiktok *channels.TikTokAdapter,
	sms *channels.SMSAdapter,
	email *channels.EmailAdapter,
) *WebhookHandler {
	return &WebhookHandler{
		store:     store,
		webchat:   webchat,
		twilio:    twilio,
		official:  official,
		dialog360: dialog360,
		messenger: messenger,
		instagram: instagram,
		tiktok:    tiktok,
		sms:       sms,
		email:     email,
	}
}

// WebChat handles POST /webhooks/webchat. The widget token inside the body
// is the credential; when WEBHOOK_SECRET is set the HMAC signature header is
// verified as well.
func (h *WebhookHandler) WebChat(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "Failed to read request body", http.StatusBadRequest)
		return
	}

	if secret := os.Getenv("WEBHOOK_SECRET"); secret != "" {
		if !verifySignature(secret, body, r.Header.Get("X-Webhook-Signature")) {
			http.Error(w, "Invalid webhook signature", http.StatusUnauthorized)
			return
		}
	}

	var payload channels.WebChatPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		http.Error(w, "Invalid JSON payload", http.StatusBadRequest)
		return
	}

	conn, err := h.webchat.VerifyWidgetToken(payload.Token)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}

	if err := h.webchat.ProcessWebhook(r.Context(), conn, payload); err != nil {
		logrus.Errorf("webhook: webchat processing failed: %v", err)
		http.Error(w, "Failed to process event", http.StatusInternalServerError)
		return
	}

	writeOK(w)
}

// Twilio handles POST /webhooks/twilio/{connectionId} (form-encoded
// Conversations post-event webhooks).
func (h *WebhookHandler) Twilio(w http.ResponseWriter, r *http.Request) {
	conn, ok := h.webhookConnection(w, r, string(channels.ChannelWhatsAppTwilio))
	if !ok {
		return
	}

	if err := r.ParseForm(); err != nil {
		http.Error(w, "Invalid form payload", http.StatusBadRequest)
		return
	}

	payload := channels.TwilioWebhookPayload{
		EventType:       r.PostFormValue("EventType"),
		ConversationSID: r.PostFormValue("ConversationSid"),
		MessageSID:      r.PostFormValue("MessageSid"),
		Author:          r.PostFormValue("Author"),
		Body:            r.PostFormValue("Body"),
		Media:           r.PostFormValue("Media"),
	}

	if err := h.twilio.ProcessWebhook(r.Context(), conn, payload); err != nil {
		logrus.Errorf("webhook: twilio processing failed: %v", err)
		http.Error(w, "Failed to process event", http.StatusInternalServerError)
		return
	}

	writeOK(w)
}

// CloudWhatsApp handles GET and POST /webhooks/whatsapp/{connectionId} for
// official Cloud API and 360Dialog connections. GET is the Meta verify
// handshake.
func (h *WebhookHandler) CloudWhatsApp(w http.ResponseWriter, r *http.Request) {
	connectionID, ok := pathID(r, "connectionId")
	if !ok {
		http.Error(w, "Invalid connection ID", http.StatusBadRequest)
		return
	}
	conn, err := h.store.GetChannelConnection(connectionID)
	if err != nil {
		http.Error(w, "Channel connection not found", http.StatusNotFound)
		return
	}

	if r.Method == http.MethodGet {
		h.verifyChallenge(w, r)
		return
	}

	var payload channels.CloudWebhookPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "Invalid JSON payload", http.StatusBadRequest)
		return
	}

	switch conn.ChannelType {
	case string(channels.ChannelWhatsAppOfficial):
		err = h.official.ProcessWebhook(r.Context(), conn, payload)
	case string(channels.ChannelWhatsApp360Dialog):
		err = h.dialog360.ProcessWebhook(r.Context(), conn, payload)
	default:
		http.Error(w, "Connection is not a cloud WhatsApp channel", http.StatusBadRequest)
		return
	}
	if err != nil {
		logrus.Errorf("webhook: cloud whatsapp processing failed: %v", err)
		http.Error(w, "Failed to process event", http.StatusInternalServerError)
		return
	}

	writeOK(w)
}

// Meta handles GET and POST /webhooks/meta/{connectionId} for Messenger and
// Instagram connections.
func (h *WebhookHandler) Meta(w http.ResponseWriter, r *http.Request) {
	connectionID, ok := pathID(r, "connectionId")
	if !ok {
		http.Error(w, "Invalid connection ID", http.StatusBadRequest)
		return
	}
	conn, err := h.store.GetChannelConnection(connectionID)
	if err != nil {
		http.Error(w, "Channel connection not found", http.StatusNotFound)
		return
	}

	if r.Method == http.MethodGet {
		h.verifyChallenge(w, r)
		return
	}

	var payload channels.MetaWebhookPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "Invalid JSON payload", http.StatusBadRequest)
		return
	}

	switch conn.ChannelType {
	case string(channels.ChannelMessenger):
		err = h.messenger.ProcessWebhook(r.Context(), conn, payload)
	case string(channels.ChannelInstagram):
		err = h.instagram.ProcessWebhook(r.Context(), conn, payload)
	default:
		http.Error(w, "Connection is not a Meta messaging channel", http.StatusBadRequest)
		return
	}
	if err != nil {
		logrus.Errorf("webhook: meta processing failed: %v", err)
		http.Error(w, "Failed to process event", http.StatusInternalServerError)
		return
	}

	writeOK(w)
}

// TikTok handles POST /webhooks/tiktok/{connectionId}.
func (h *WebhookHandler) TikTok(w http.ResponseWriter, r *http.Request) {
	conn, ok := h.webhookConnection(w, r, string(channels.ChannelTikTok))
	if !ok {
		return
	}

	var payload struct {
		SenderID  string `json:"sender_id"`
		MessageID string `json:"message_id"`
		Text      string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "Invalid JSON payload", http.StatusBadRequest)
		return
	}

	if err := h.tiktok.ProcessWebhook(r.Context(), conn, payload.SenderID, payload.MessageID, payload.Text); err != nil {
		logrus.Errorf("webhook: tiktok processing failed: %v", err)
		http.Error(w, "Failed to process event", http.StatusInternalServerError)
		return
	}

	writeOK(w)
}

// SMS handles POST /webhooks/sms/{connectionId} (Twilio inbound SMS form).
func (h *WebhookHandler) SMS(w http.ResponseWriter, r *http.Request) {
	conn, ok := h.webhookConnection(w, r, string(channels.ChannelSMS))
	if !ok {
		return
	}

	if err := r.ParseForm(); err != nil {
		http.Error(w, "Invalid form payload", http.StatusBadRequest)
		return
	}

	err := h.sms.ProcessWebhook(r.Context(), conn,
		r.PostFormValue("From"), r.PostFormValue("Body"), r.PostFormValue("MessageSid"))
	if err != nil {
		logrus.Errorf("webhook: sms processing failed: %v", err)
		http.Error(w, "Failed to process event", http.StatusInternalServerError)
		return
	}

	writeOK(w)
}

// Email handles POST /webhooks/email/{connectionId}, fed by an inbound mail
// parser (e.g. an SES/Mailgun ingest function).
func (h *WebhookHandler) Email(w http.ResponseWriter, r *http.Request) {
	conn, ok := h.webhookConnection(w, r, string(channels.ChannelEmail))
	if !ok {
		return
	}

	var payload struct {
		From       string `json:"from"`
		Subject    string `json:"subject"`
		Body       string `json:"body"`
		MessageID  string `json:"message_id"`
		References string `json:"references"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "Invalid JSON payload", http.StatusBadRequest)
		return
	}

	err := h.email.ProcessInbound(r.Context(), conn, channels.InboundEmail{
		From:       payload.From,
		Subject:    payload.Subject,
		Body:       payload.Body,
		MessageID:  payload.MessageID,
		References: payload.References,
	})
	if err != nil {
		logrus.Errorf("webhook: email processing failed: %v", err)
		http.Error(w, "Failed to process event", http.StatusInternalServerError)
		return
	}

	writeOK(w)
}

// verifyChallenge answers the Meta webhook verification handshake. The
// verify token is deployment-wide (META_VERIFY_TOKEN).
func (h *WebhookHandler) verifyChallenge(w http.ResponseWriter, r *http.Request) {
	mode := r.URL.Query().Get("hub.mode")
	token := r.URL.Query().Get("hub.verify_token")
	challenge := r.URL.Query().Get("hub.challenge")

	expected := os.Getenv("META_VERIFY_TOKEN")
	if mode == "subscribe" && expected != "" && token == expected {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(challenge))
		return
	}
	http.Error(w, "Verification failed", http.StatusForbidden)
}

// webhookConnection loads the connection referenced in the path and checks
// its channel type.
func (h *WebhookHandler) webhookConnection(w http.ResponseWriter, r *http.Request, channelType string) (*models.ChannelConnection, bool) {
	connectionID, ok := pathID(r, "connectionId")
	if !ok {
		http.Error(w, "Invalid connection ID", http.StatusBadRequest)
		return nil, false
	}
	conn, err := h.store.GetChannelConnection(connectionID)
	if err != nil {
		http.Error(w, "Channel connection not found", http.StatusNotFound)
		return nil, false
	}
	if conn.ChannelType != channelType {
		http.Error(w, "Connection channel type mismatch", http.StatusBadRequest)
		return nil, false
	}
	return conn, true
}

func verifySignature(secret string, body []byte, signature string) bool {
	if signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

func writeOK(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{"success": true})
}
