package models

import "time"

// Message directions.
const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

// Message content types.
const (
	MessageTypeText     = "text"
	MessageTypeImage    = "image"
	MessageTypeVideo    = "video"
	MessageTypeAudio    = "audio"
	MessageTypeDocument = "document"
)

// Message statuses.
const (
	MessageStatusSending   = "sending"
	MessageStatusSent      = "sent"
	MessageStatusDelivered = "delivered"
	MessageStatusRead      = "read"
	MessageStatusFailed    = "failed"
)

// Sender types.
const (
	SenderTypeContact = "contact"
	SenderTypeUser    = "user"
	SenderTypeBot     = "bot"
)

// Message is the canonical unit across all channels. ExternalID is the
// provider's native message id and, when present, is unique per provider;
// inbound status-update webhooks join on it. Metadata is a JSON blob whose
// shape is provider-specific (Twilio SIDs, WhatsApp message key, email
// Message-ID/References).
type Message struct {
	ID             uint   `json:"id" gorm:"primaryKey;autoIncrement"`
	ConversationID uint   `json:"conversation_id" gorm:"index;not null"`
	Direction      string `json:"direction" gorm:"type:varchar(10);not null"`
	SenderType     string `json:"sender_type" gorm:"type:varchar(10);default:'contact'"`
	SenderID       *uint  `json:"sender_id"`
	Type           string `json:"type" gorm:"type:varchar(10);default:'text'"`
	Content        string `json:"content" gorm:"type:text"`
	MediaURL       string `json:"media_url" gorm:"size:1000"`
	Status         string `json:"status" gorm:"type:varchar(10);default:'sent'"`
	ExternalID     string `json:"external_id" gorm:"index;size:255"`
	Metadata       string `json:"-" gorm:"type:text"`

	SentAt    *time.Time `json:"sent_at"`
	ReadAt    *time.Time `json:"read_at"`
	CreatedAt time.Time  `json:"created_at" gorm:"autoCreateTime"`
}

func (Message) TableName() string {
	return "messages"
}
