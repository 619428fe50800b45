// Package channels normalizes heterogeneous messaging providers into one
// conversation/message model and routes reply, delete and send operations to
// the matching provider adapter.
package channels

import (
	"context"
	"strings"
	"time"

	"omnibox/internal/events"
	"omnibox/internal/models"
	"omnibox/internal/realtime"

	"github.com/sirupsen/logrus"
)

// agentSignatureSettingKey toggles the "> *Agent Name*" prefix on outbound
// replies. Enabled unless the company explicitly set it to false.
const agentSignatureSettingKey = "inbox_agent_signature_enabled"

// Manager orchestrates all cross-channel business rules: tenant isolation,
// capability gating, recipient resolution, signature injection and adapter
// dispatch. Every public method returns a result struct instead of an error;
// provider failures are caught at this boundary.
type Manager struct {
	store    Store
	hub      Broadcaster
	events   events.Publisher
	adapters map[ChannelType]Adapter
}

func NewManager(store Store, hub Broadcaster, pub events.Publisher) *Manager {
	return &Manager{
		store:    store,
		hub:      hub,
		events:   pub,
		adapters: make(map[ChannelType]Adapter),
	}
}

// Register binds an adapter to its channel type.
func (m *Manager) Register(a Adapter) {
	m.adapters[a.Type()] = a
}

// Connector returns the connection-lifecycle interface of a channel type's
// adapter, when it has one.
func (m *Manager) Connector(channelType string) (Connector, bool) {
	adapter, ok := m.adapters[ChannelType(channelType)]
	if !ok {
		return nil, false
	}
	connector, ok := adapter.(Connector)
	return connector, ok
}

// GetCapabilities reports the capability descriptor for a channel type.
func (m *Manager) GetCapabilities(channelType string) ChannelCapabilities {
	return Capabilities(channelType)
}

// SendReply sends a reply into a conversation on whatever channel it lives
// on. companyID scopes the operation to the caller's tenant; pass 0 only for
// trusted internal callers.
func (m *Manager) SendReply(ctx context.Context, conversationID uint, content string, opts ReplyOptions, userID, companyID uint) SendResult {
	conv, err := m.store.GetConversation(conversationID)
	if err != nil {
		return failSend("Conversation not found")
	}

	// Tenant isolation, re-checked at the connection below.
	if companyID != 0 && conv.CompanyID != companyID {
		return failSend("Access denied: conversation belongs to another company")
	}

	conn, err := m.store.GetChannelConnection(conv.ChannelID)
	if err != nil {
		return failSend("Channel connection not found")
	}
	if companyID != 0 && conn.CompanyID != companyID {
		return failSend("Access denied: channel connection belongs to another company")
	}

	var (
		contact   *models.Contact
		recipient string
	)
	if conv.IsGroup {
		if conv.GroupJID == "" {
			return failSend("Group conversation has no group identifier")
		}
		recipient = conv.GroupJID
	} else {
		if conv.ContactID == nil {
			return failSend("Contact not found")
		}
		contact, err = m.store.GetContact(*conv.ContactID)
		if err != nil {
			return failSend("Contact not found")
		}
		recipient = contact.Phone
		if recipient == "" {
			recipient = contact.Identifier
		}
		if recipient == "" {
			return failSend("Contact has no phone number or identifier")
		}
	}

	caps := Capabilities(conv.ChannelType)
	if !caps.SupportsReply {
		return failSend("Channel does not support replies")
	}

	content = m.applyAgentSignature(conv.CompanyID, userID, content)

	adapter, ok := m.adapters[ChannelType(conv.ChannelType)]
	if !ok {
		return failSend("No adapter registered for channel type " + conv.ChannelType)
	}

	pm, err := adapter.SendReply(ctx, ReplyRequest{
		Conversation: conv,
		Connection:   conn,
		Contact:      contact,
		Recipient:    recipient,
		Content:      content,
		Options:      opts,
	})
	if err != nil {
		logrus.Errorf("channels: %s reply on conversation %d failed: %v", conv.ChannelType, conv.ID, err)
		return failSend(err.Error())
	}

	now := time.Now()
	msg, err := m.store.CreateMessage(&models.Message{
		ConversationID: conv.ID,
		Direction:      models.DirectionOutbound,
		SenderType:     models.SenderTypeUser,
		SenderID:       &userID,
		Type:           models.MessageTypeText,
		Content:        content,
		Status:         models.MessageStatusSent,
		ExternalID:     pm.ExternalID,
		Metadata:       pm.Metadata,
		SentAt:         &now,
	})
	if err != nil {
		return failSend("Failed to persist outbound message: " + err.Error())
	}

	if err := m.store.UpdateConversation(conv.ID, map[string]interface{}{"last_message_at": now}); err != nil {
		logrus.Warnf("channels: failed to touch conversation %d: %v", conv.ID, err)
	}

	m.hub.PublishToCompany(conv.CompanyID, realtime.Event{Type: "new_message", Data: msg})
	m.publishEvent(ctx, events.KeyMessageOutbound, conv, msg)

	return SendResult{Success: true, MessageID: &msg.ID, Data: pm.Data}
}

// DeleteMessage deletes a message, remotely when the provider supports it
// and locally always. The local row is only removed after a successful
// provider delete.
func (m *Manager) DeleteMessage(ctx context.Context, messageID, userID, companyID uint) DeleteResult {
	msg, err := m.store.GetMessageByID(messageID)
	if err != nil {
		return failDelete("Message not found")
	}

	conv, err := m.store.GetConversation(msg.ConversationID)
	if err != nil {
		return failDelete("Conversation not found")
	}
	if companyID != 0 && conv.CompanyID != companyID {
		return failDelete("Access denied: conversation belongs to another company")
	}

	conn, err := m.store.GetChannelConnection(conv.ChannelID)
	if err != nil {
		return failDelete("Channel connection not found")
	}
	if companyID != 0 && conn.CompanyID != companyID {
		return failDelete("Access denied: channel connection belongs to another company")
	}

	caps := Capabilities(conv.ChannelType)
	if !caps.SupportsDelete {
		return failDelete("Message deletion is not supported for this channel")
	}

	if caps.DeleteTimeLimit > 0 {
		ref := msg.CreatedAt
		if msg.SentAt != nil {
			ref = *msg.SentAt
		}
		if time.Since(ref) > time.Duration(caps.DeleteTimeLimit)*time.Minute {
			return failDelete("Message is too old to be deleted")
		}
	}

	// Remote delete first where the adapter supports it; the adapter may
	// enforce its own tighter protocol limit.
	if adapter, ok := m.adapters[ChannelType(conv.ChannelType)]; ok {
		if deleter, ok := adapter.(Deleter); ok {
			if err := deleter.DeleteMessage(ctx, conn, conv, msg); err != nil {
				logrus.Errorf("channels: %s delete of message %d failed: %v", conv.ChannelType, msg.ID, err)
				return failDelete(err.Error())
			}
		}
	}

	if err := m.store.DeleteMessage(msg.ID); err != nil {
		return failDelete("Failed to delete message: " + err.Error())
	}

	m.hub.PublishToCompany(conv.CompanyID, realtime.Event{
		Type: "message_deleted",
		Data: map[string]interface{}{"messageId": msg.ID, "conversationId": conv.ID},
	})
	m.publishEvent(ctx, events.KeyMessageDeleted, conv, msg)

	return DeleteResult{Success: true}
}

// applyAgentSignature prefixes the reply with the sending agent's display
// name when the company has signatures enabled (the default). Resolution
// failures are logged and swallowed; the signature is best-effort.
func (m *Manager) applyAgentSignature(companyID, userID uint, content string) string {
	value, err := m.store.GetCompanySetting(companyID, agentSignatureSettingKey)
	if err == nil && strings.EqualFold(value, "false") {
		return content
	}

	user, err := m.store.GetUser(userID)
	if err != nil {
		logrus.Warnf("channels: signature lookup for user %d failed: %v", userID, err)
		return content
	}

	name := resolveAgentName(user)
	if name == "" {
		return content
	}
	return "> *" + name + "*\n\n" + content
}

// resolveAgentName walks the display-name fallback chain.
func resolveAgentName(user *models.User) string {
	if user.FullName != "" {
		return user.FullName
	}
	if user.Name != "" {
		return user.Name
	}
	if user.FirstName != "" || user.LastName != "" {
		return strings.TrimSpace(user.FirstName + " " + user.LastName)
	}
	if user.DisplayName != "" {
		return user.DisplayName
	}
	if at := strings.Index(user.Email, "@"); at > 0 {
		return user.Email[:at]
	}
	return ""
}

func (m *Manager) publishEvent(ctx context.Context, key string, conv *models.Conversation, msg *models.Message) {
	err := m.events.Publish(ctx, key, events.MessageEvent{
		CompanyID:      conv.CompanyID,
		ConversationID: conv.ID,
		MessageID:      msg.ID,
		ChannelType:    conv.ChannelType,
		Direction:      msg.Direction,
		Kind:           msg.Type,
	})
	if err != nil {
		logrus.Warnf("channels: event publish %s failed: %v", key, err)
	}
}
