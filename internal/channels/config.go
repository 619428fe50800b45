package channels

import (
	"encoding/json"

	"omnibox/internal/models"
)

// Per-channel-type connection config variants. Each adapter decodes only its
// own variant from ChannelConnection.ConnectionData; no cross-type fields
// are ever read.

// WhatsAppConfig configures an unofficial (whatsmeow) connection.
type WhatsAppConfig struct {
	StoreDriver string `json:"store_driver,omitempty"` // "sqlite" (default) or "postgres"
	StoreDSN    string `json:"store_dsn,omitempty"`
	PhoneNumber string `json:"phone_number,omitempty"` // filled after pairing
}

// WhatsAppOfficialConfig configures a Meta Cloud API connection.
type WhatsAppOfficialConfig struct {
	PhoneNumberID string `json:"phone_number_id"`
	AccessToken   string `json:"access_token"`
}

// TwilioConfig configures a Twilio Conversations WhatsApp connection.
type TwilioConfig struct {
	AccountSID     string `json:"account_sid"`
	AuthToken      string `json:"auth_token"`
	ServiceSID     string `json:"service_sid"`
	WhatsAppNumber string `json:"whatsapp_number"` // E.164 business line
}

// Dialog360Config configures a 360Dialog partner connection.
type Dialog360Config struct {
	APIKey    string `json:"api_key"`
	PartnerID string `json:"partner_id,omitempty"`
	ChannelID string `json:"channel_id,omitempty"`
}

// MetaConfig configures a Messenger or Instagram connection.
type MetaConfig struct {
	PageID      string `json:"page_id"`
	AccessToken string `json:"access_token"`
	VerifyToken string `json:"verify_token,omitempty"`
}

// TikTokConfig configures a TikTok business messaging connection.
type TikTokConfig struct {
	BusinessID  string `json:"business_id"`
	AccessToken string `json:"access_token"`
}

// EmailConfig configures an SMTP sending identity.
type EmailConfig struct {
	SMTPHost    string `json:"smtp_host"`
	SMTPPort    string `json:"smtp_port"`
	Username    string `json:"username"`
	Password    string `json:"password"`
	FromAddress string `json:"from_address"`
	FromName    string `json:"from_name,omitempty"`
}

// SMSConfig configures a Twilio SMS connection.
type SMSConfig struct {
	AccountSID string `json:"account_sid"`
	AuthToken  string `json:"auth_token"`
	FromNumber string `json:"from_number"`
}

// WebChatConfig configures an embeddable widget connection. WidgetToken is
// the sole inbound-webhook credential.
type WebChatConfig struct {
	WidgetToken string `json:"widget_token,omitempty"`
	WidgetColor string `json:"widget_color,omitempty"`
}

// decodeConfig unmarshals a connection's config blob into the adapter's
// variant. An empty blob decodes to the zero value.
func decodeConfig(conn *models.ChannelConnection, into interface{}) error {
	if conn.ConnectionData == "" {
		return nil
	}
	return json.Unmarshal([]byte(conn.ConnectionData), into)
}

func encodeConfig(cfg interface{}) string {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return "{}"
	}
	return string(raw)
}

// Per-provider message metadata variants persisted on models.Message.

// WhatsAppMessageKey is the provider-native deletion/quote key.
type WhatsAppMessageKey struct {
	RemoteJID string `json:"remoteJid"`
	FromMe    bool   `json:"fromMe"`
	ID        string `json:"id"`
}

// WhatsAppMeta is stored on unofficial-WhatsApp messages.
type WhatsAppMeta struct {
	WhatsAppMessage struct {
		Key WhatsAppMessageKey `json:"key"`
	} `json:"whatsappMessage"`
}

// TwilioMeta is stored on Twilio messages.
type TwilioMeta struct {
	ConversationSID string `json:"conversationSid"`
	MessageSID      string `json:"messageSid"`
}

// EmailMeta is stored on email messages and drives reply threading.
type EmailMeta struct {
	EmailMessageID  string `json:"emailMessageId"`
	EmailReferences string `json:"emailReferences,omitempty"`
	Subject         string `json:"subject,omitempty"`
}

func decodeMeta(msg *models.Message, into interface{}) error {
	if msg.Metadata == "" {
		return nil
	}
	return json.Unmarshal([]byte(msg.Metadata), into)
}

func encodeMeta(meta interface{}) string {
	raw, err := json.Marshal(meta)
	if err != nil {
		return "{}"
	}
	return string(raw)
}
