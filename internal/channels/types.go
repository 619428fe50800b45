package channels

import (
	"context"
	"strings"

	"omnibox/internal/models"
	"omnibox/internal/realtime"
)

// Store is the persistence interface the channel layer consumes. Implemented
// by *storage.Storage; tests substitute fakes.
type Store interface {
	GetConversation(id uint) (*models.Conversation, error)
	GetChannelConnection(id uint) (*models.ChannelConnection, error)
	GetChannelConnectionsByType(channelType string) ([]models.ChannelConnection, error)
	UpdateChannelConnection(id uint, patch map[string]interface{}) error
	GetContact(id uint) (*models.Contact, error)
	GetContactByPhone(phone string, companyID uint) (*models.Contact, error)
	GetOrCreateContact(data *models.Contact) (*models.Contact, error)
	GetConversationByContactAndChannel(contactID, channelID uint) (*models.Conversation, error)
	GetConversationByGroupJID(groupJID string, channelID uint) (*models.Conversation, error)
	CreateConversation(data *models.Conversation) (*models.Conversation, error)
	UpdateConversation(id uint, patch map[string]interface{}) error
	CreateMessage(data *models.Message) (*models.Message, error)
	GetMessageByID(id uint) (*models.Message, error)
	GetLastMessage(conversationID uint) (*models.Message, error)
	GetMessageByExternalID(externalID string) (*models.Message, error)
	UpdateMessageStatus(id uint, status string) error
	DeleteMessage(id uint) error
	GetCompanySetting(companyID uint, key string) (string, error)
	GetUser(userID uint) (*models.User, error)
}

// Broadcaster is the fire-and-forget client notification primitive.
type Broadcaster interface {
	PublishToCompany(companyID uint, event realtime.Event)
	PublishToSession(sessionID string, event realtime.Event)
	PublishGlobal(event realtime.Event)
}

// ReplyOptions carries the original-message context a reply refers to.
type ReplyOptions struct {
	OriginalMessageID string                 `json:"originalMessageId"`
	OriginalContent   string                 `json:"originalContent"`
	OriginalSender    string                 `json:"originalSender"`
	QuotedMessage     map[string]interface{} `json:"quotedMessage,omitempty"`
}

// ReplyRequest is what the manager hands an adapter after all cross-channel
// checks have passed. Content already carries the agent signature when the
// company has it enabled.
type ReplyRequest struct {
	Conversation *models.Conversation
	Connection   *models.ChannelConnection
	Contact      *models.Contact // nil for group conversations
	Recipient    string          // phone/identifier, or group JID for groups
	Content      string
	Options      ReplyOptions
}

// ProviderMessage is an adapter's description of a successfully delivered
// message: the provider-native id plus an opaque metadata blob to persist.
type ProviderMessage struct {
	ExternalID string
	Metadata   string
	Data       interface{}
}

// Adapter sends a reply on one channel type. Group-conversation rejection is
// the adapter's responsibility: support differs even within one provider
// family, so the manager never checks it centrally.
type Adapter interface {
	Type() ChannelType
	SendReply(ctx context.Context, req ReplyRequest) (*ProviderMessage, error)
}

// Deleter is implemented by adapters whose provider supports remote message
// deletion. Channels whose capability table allows delete but whose adapter
// does not implement Deleter get a local-only delete.
type Deleter interface {
	DeleteMessage(ctx context.Context, conn *models.ChannelConnection, conv *models.Conversation, msg *models.Message) error
}

// Connector is implemented by adapters with a connection lifecycle.
type Connector interface {
	Connect(conn *models.ChannelConnection) error
	Disconnect(conn *models.ChannelConnection) error
	ConnectionStatus(conn *models.ChannelConnection) string
}

// SendResult is the uniform result of ChannelManager.SendReply. Callers must
// not inspect Data structurally; its shape is provider-specific.
type SendResult struct {
	Success   bool        `json:"success"`
	MessageID *uint       `json:"messageId,omitempty"`
	Error     string      `json:"error,omitempty"`
	Data      interface{} `json:"data,omitempty"`
}

// DeleteResult is the uniform result of ChannelManager.DeleteMessage.
type DeleteResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

func failSend(msg string) SendResult     { return SendResult{Error: msg} }
func failDelete(msg string) DeleteResult { return DeleteResult{Error: msg} }

// quoteExcerpt builds the synthesized-quote body used by the cloud WhatsApp
// variants: a truncated excerpt of the original message above the reply.
func quoteExcerpt(original, reply string) string {
	excerpt := original
	if len(excerpt) > 50 {
		excerpt = excerpt[:50] + "..."
	}
	if excerpt == "" {
		return reply
	}
	return "> " + excerpt + "\n\n" + reply
}

// mentionPrefix builds the "@sender" reply emulation used by the social
// channels.
func mentionPrefix(sender, reply string) string {
	if sender == "" {
		return reply
	}
	return "@" + sender + " " + reply
}

// digitsOnly normalizes a phone-ish identifier ("whatsapp:+55119...",
// "+55 11 9...") to bare digits.
func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
