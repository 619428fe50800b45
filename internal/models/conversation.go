package models

import "time"

// Contact is a counterpart identity, keyed by (company, identifier,
// identifier type). IdentifierType encodes the channel family: "phone" for
// the WhatsApp variants and SMS, "webchat" for widget sessions, "email",
// "messenger", "instagram", "tiktok" for platform user ids.
type Contact struct {
	ID             uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	CompanyID      uint      `json:"company_id" gorm:"uniqueIndex:idx_contact_identity;not null"`
	Identifier     string    `json:"identifier" gorm:"uniqueIndex:idx_contact_identity;size:255;not null"`
	IdentifierType string    `json:"identifier_type" gorm:"uniqueIndex:idx_contact_identity;size:30;not null"`
	Name           string    `json:"name" gorm:"size:100"`
	Phone          string    `json:"phone" gorm:"size:30;index"`
	Email          string    `json:"email" gorm:"size:100"`
	AvatarURL      string    `json:"avatar_url" gorm:"size:500"`
	CreatedAt      time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt      time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

func (Contact) TableName() string {
	return "contacts"
}

// Conversation statuses.
const (
	ConversationStatusOpen   = "open"
	ConversationStatusClosed = "closed"
)

// Conversation groups messages with one contact (or a group entity) on one
// channel. CompanyID always equals the owning connection's CompanyID; the
// channel manager re-checks this on every access.
type Conversation struct {
	ID          uint   `json:"id" gorm:"primaryKey;autoIncrement"`
	CompanyID   uint   `json:"company_id" gorm:"index;not null"`
	ChannelID   uint   `json:"channel_id" gorm:"index;not null"`
	ChannelType string `json:"channel_type" gorm:"size:30;not null"`
	ContactID   *uint  `json:"contact_id" gorm:"index"`
	IsGroup     bool   `json:"is_group" gorm:"default:false"`
	GroupJID    string `json:"group_jid" gorm:"size:100"`
	Status      string `json:"status" gorm:"type:varchar(20);default:'open'"`
	BotDisabled bool   `json:"bot_disabled" gorm:"default:false"`

	LastMessageAt *time.Time `json:"last_message_at" gorm:"index"`
	CreatedAt     time.Time  `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt     time.Time  `json:"updated_at" gorm:"autoUpdateTime"`

	Contact *Contact `json:"contact,omitempty" gorm:"foreignKey:ContactID"`
}

func (Conversation) TableName() string {
	return "conversations"
}
