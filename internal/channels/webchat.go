package channels

import (
	"context"
	"errors"
	"sync"
	"time"

	"omnibox/internal/events"
	"omnibox/internal/flows"
	"omnibox/internal/models"
	"omnibox/internal/realtime"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// webChatMaxContentLength caps stored message content from the widget.
const webChatMaxContentLength = 5000

// SessionInfo is the in-memory state of one anonymous widget visitor.
// Never persisted; evicted by TTL sweep or process restart.
type SessionInfo struct {
	SessionID      string
	ConnectionID   uint
	CompanyID      uint
	ContactID      uint
	ConversationID uint
	VisitorName    string
	VisitorEmail   string
	VisitorPhone   string
	CreatedAt      time.Time
	LastSeenAt     time.Time
}

// WebChatPayload is the inbound webhook body posted by the widget.
type WebChatPayload struct {
	Token     string          `json:"token"`
	EventType string          `json:"eventType"`
	Data      WebChatEventData `json:"data"`
}

type WebChatEventData struct {
	SessionID    string `json:"sessionId"`
	Message      string `json:"message"`
	MessageType  string `json:"messageType"`
	VisitorName  string `json:"visitorName"`
	VisitorEmail string `json:"visitorEmail"`
	VisitorPhone string `json:"visitorPhone"`
	MediaURL     string `json:"mediaUrl"`
}

// WebChatAdapter serves the embeddable widget channel. Connections are
// authenticated by a widget token generated on connect; visitor sessions are
// materialized lazily into Contact + Conversation on first event.
type WebChatAdapter struct {
	store  Store
	hub    Broadcaster
	flows  flows.Executor
	events events.Publisher

	mu       sync.RWMutex
	sessions map[string]*SessionInfo
}

func NewWebChatAdapter(store Store, hub Broadcaster, exec flows.Executor, pub events.Publisher) *WebChatAdapter {
	return &WebChatAdapter{
		store:    store,
		hub:      hub,
		flows:    exec,
		events:   pub,
		sessions: make(map[string]*SessionInfo),
	}
}

func (w *WebChatAdapter) Type() ChannelType { return ChannelWebChat }

// Connect activates a webchat connection, generating a widget token when the
// connection has none yet. Reconnecting an active connection reuses its
// token so embedded widgets keep working.
func (w *WebChatAdapter) Connect(conn *models.ChannelConnection) error {
	var cfg WebChatConfig
	if err := decodeConfig(conn, &cfg); err != nil {
		return err
	}
	if cfg.WidgetToken == "" {
		cfg.WidgetToken = uuid.NewString()
	}
	conn.ConnectionData = encodeConfig(cfg)
	conn.Status = models.ConnectionStatusActive
	return w.store.UpdateChannelConnection(conn.ID, map[string]interface{}{
		"connection_data": conn.ConnectionData,
		"status":          conn.Status,
	})
}

// Disconnect clears the widget token and evicts all in-memory sessions of
// the connection.
func (w *WebChatAdapter) Disconnect(conn *models.ChannelConnection) error {
	conn.ConnectionData = encodeConfig(WebChatConfig{})
	conn.Status = models.ConnectionStatusDisconnected

	w.mu.Lock()
	for id, s := range w.sessions {
		if s.ConnectionID == conn.ID {
			delete(w.sessions, id)
		}
	}
	w.mu.Unlock()

	return w.store.UpdateChannelConnection(conn.ID, map[string]interface{}{
		"connection_data": conn.ConnectionData,
		"status":          conn.Status,
	})
}

func (w *WebChatAdapter) ConnectionStatus(conn *models.ChannelConnection) string {
	return conn.Status
}

// VerifyWidgetToken resolves the connection owning a widget token. Scans all
// webchat connections; O(n), acceptable for the low connection counts a
// deployment carries.
func (w *WebChatAdapter) VerifyWidgetToken(token string) (*models.ChannelConnection, error) {
	if token == "" {
		return nil, errors.New("missing widget token")
	}
	conns, err := w.store.GetChannelConnectionsByType(string(ChannelWebChat))
	if err != nil {
		return nil, err
	}
	for i := range conns {
		var cfg WebChatConfig
		if err := decodeConfig(&conns[i], &cfg); err != nil {
			continue
		}
		if cfg.WidgetToken != "" && cfg.WidgetToken == token {
			return &conns[i], nil
		}
	}
	return nil, errors.New("invalid widget token")
}

// ProcessWebhook handles one widget event. "message" persists an inbound
// message; "typing" and "session_start" only materialize the session;
// "session_end" and "file_upload" are accepted and ignored.
func (w *WebChatAdapter) ProcessWebhook(ctx context.Context, conn *models.ChannelConnection, payload WebChatPayload) error {
	if payload.Data.SessionID == "" {
		return errors.New("missing session id")
	}

	switch payload.EventType {
	case "message":
		return w.processInboundMessage(ctx, conn, payload.Data)
	case "typing":
		session, err := w.ensureSession(conn, payload.Data)
		if err != nil {
			return err
		}
		w.hub.PublishToCompany(conn.CompanyID, realtime.Event{
			Type: "visitor_typing",
			Data: map[string]interface{}{"conversationId": session.ConversationID, "sessionId": session.SessionID},
		})
		return nil
	case "session_start":
		_, err := w.ensureSession(conn, payload.Data)
		return err
	case "session_end", "file_upload":
		// Accepted but not acted on.
		return nil
	default:
		logrus.Debugf("webchat: ignoring unknown event type %q", payload.EventType)
		return nil
	}
}

func (w *WebChatAdapter) processInboundMessage(ctx context.Context, conn *models.ChannelConnection, data WebChatEventData) error {
	session, err := w.ensureSession(conn, data)
	if err != nil {
		return err
	}

	content := data.Message
	if len(content) > webChatMaxContentLength {
		content = content[:webChatMaxContentLength]
	}
	msgType := data.MessageType
	if msgType == "" {
		msgType = models.MessageTypeText
	}

	msg, err := w.store.CreateMessage(&models.Message{
		ConversationID: session.ConversationID,
		Direction:      models.DirectionInbound,
		SenderType:     models.SenderTypeContact,
		Type:           msgType,
		Content:        content,
		MediaURL:       data.MediaURL,
		Status:         models.MessageStatusDelivered,
	})
	if err != nil {
		return err
	}

	now := time.Now()
	if err := w.store.UpdateConversation(session.ConversationID, map[string]interface{}{"last_message_at": now}); err != nil {
		logrus.Warnf("webchat: failed to touch conversation %d: %v", session.ConversationID, err)
	}

	// Company inbox views plus smart-broadcast subscribers.
	event := realtime.Event{Type: "new_message", Data: msg}
	w.hub.PublishToCompany(conn.CompanyID, event)
	w.hub.PublishGlobal(event)

	w.handoffToFlows(ctx, msg, session)
	w.publishInboundEvent(ctx, conn, session, msg)
	return nil
}

// SendMessage sends an outbound message to a visitor session, mirroring the
// inbound path but also notifying the visitor's widget directly.
func (w *WebChatAdapter) SendMessage(ctx context.Context, conn *models.ChannelConnection, sessionID, content, msgType, mediaURL string, userID uint) (*models.Message, error) {
	session, err := w.ensureSession(conn, WebChatEventData{SessionID: sessionID})
	if err != nil {
		return nil, err
	}

	if len(content) > webChatMaxContentLength {
		content = content[:webChatMaxContentLength]
	}
	if msgType == "" {
		msgType = models.MessageTypeText
	}

	var sender *uint
	if userID != 0 {
		sender = &userID
	}
	msg, err := w.store.CreateMessage(&models.Message{
		ConversationID: session.ConversationID,
		Direction:      models.DirectionOutbound,
		SenderType:     models.SenderTypeUser,
		SenderID:       sender,
		Type:           msgType,
		Content:        content,
		MediaURL:       mediaURL,
		Status:         models.MessageStatusSent,
	})
	if err != nil {
		return nil, err
	}

	now := time.Now()
	if err := w.store.UpdateConversation(session.ConversationID, map[string]interface{}{"last_message_at": now}); err != nil {
		logrus.Warnf("webchat: failed to touch conversation %d: %v", session.ConversationID, err)
	}

	event := realtime.Event{Type: "new_message", Data: msg}
	w.hub.PublishToCompany(conn.CompanyID, event)
	w.hub.PublishToSession(sessionID, event)
	return msg, nil
}

// SendReply implements Adapter for the manager path. The manager persists
// the message; this only delivers it to the visitor's widget.
func (w *WebChatAdapter) SendReply(_ context.Context, req ReplyRequest) (*ProviderMessage, error) {
	if req.Conversation.IsGroup {
		return nil, errors.New("WebChat does not support group chat replies")
	}

	sessionID := w.sessionForConversation(req.Conversation.ID)
	if sessionID == "" && req.Contact != nil {
		// The registry is process-local; after a restart fall back to the
		// contact identifier, which is the session id for webchat contacts.
		sessionID = req.Contact.Identifier
	}
	if sessionID != "" {
		w.hub.PublishToSession(sessionID, realtime.Event{
			Type: "new_message",
			Data: map[string]interface{}{
				"conversationId": req.Conversation.ID,
				"content":        req.Content,
				"direction":      models.DirectionOutbound,
			},
		})
	}

	return &ProviderMessage{ExternalID: uuid.NewString(), Data: map[string]interface{}{"sessionId": sessionID}}, nil
}

// ensureSession materializes Contact + Conversation for a session id,
// idempotently, and refreshes the in-memory registry entry.
func (w *WebChatAdapter) ensureSession(conn *models.ChannelConnection, data WebChatEventData) (*SessionInfo, error) {
	w.mu.RLock()
	session, exists := w.sessions[data.SessionID]
	w.mu.RUnlock()
	if exists {
		w.mu.Lock()
		session.LastSeenAt = time.Now()
		if data.VisitorName != "" {
			session.VisitorName = data.VisitorName
		}
		w.mu.Unlock()
		return session, nil
	}

	name := data.VisitorName
	if name == "" {
		name = "Website Visitor"
	}
	contact, err := w.store.GetOrCreateContact(&models.Contact{
		CompanyID:      conn.CompanyID,
		Identifier:     data.SessionID,
		IdentifierType: string(ChannelWebChat),
		Name:           name,
		Email:          data.VisitorEmail,
		Phone:          data.VisitorPhone,
	})
	if err != nil {
		return nil, err
	}

	conv, err := w.store.GetConversationByContactAndChannel(contact.ID, conn.ID)
	if err != nil {
		conv, err = w.store.CreateConversation(&models.Conversation{
			CompanyID:   conn.CompanyID,
			ChannelID:   conn.ID,
			ChannelType: string(ChannelWebChat),
			ContactID:   &contact.ID,
			Status:      models.ConversationStatusOpen,
		})
		if err != nil {
			return nil, err
		}
	}

	now := time.Now()
	session = &SessionInfo{
		SessionID:      data.SessionID,
		ConnectionID:   conn.ID,
		CompanyID:      conn.CompanyID,
		ContactID:      contact.ID,
		ConversationID: conv.ID,
		VisitorName:    data.VisitorName,
		VisitorEmail:   data.VisitorEmail,
		VisitorPhone:   data.VisitorPhone,
		CreatedAt:      now,
		LastSeenAt:     now,
	}

	w.mu.Lock()
	// Another event may have raced us; keep the first entry.
	if existing, ok := w.sessions[data.SessionID]; ok {
		session = existing
		session.LastSeenAt = now
	} else {
		w.sessions[data.SessionID] = session
	}
	w.mu.Unlock()

	return session, nil
}

func (w *WebChatAdapter) sessionForConversation(conversationID uint) string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	for id, s := range w.sessions {
		if s.ConversationID == conversationID {
			return id
		}
	}
	return ""
}

// SessionCount reports the registry size.
func (w *WebChatAdapter) SessionCount() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.sessions)
}

// EvictStale drops sessions idle longer than ttl and returns how many were
// removed. Run periodically; the contact/conversation rows stay and a
// returning visitor re-materializes the session from them.
func (w *WebChatAdapter) EvictStale(ttl time.Duration) int {
	cutoff := time.Now().Add(-ttl)
	w.mu.Lock()
	defer w.mu.Unlock()
	evicted := 0
	for id, s := range w.sessions {
		if s.LastSeenAt.Before(cutoff) {
			delete(w.sessions, id)
			evicted++
		}
	}
	if evicted > 0 {
		logrus.Infof("webchat: evicted %d stale sessions", evicted)
	}
	return evicted
}

func (w *WebChatAdapter) handoffToFlows(ctx context.Context, msg *models.Message, session *SessionInfo) {
	conv, err := w.store.GetConversation(session.ConversationID)
	if err != nil || conv.BotDisabled {
		return
	}
	if err := w.flows.HandleInbound(ctx, msg, conv); err != nil {
		// Automation failures never fail inbound processing.
		logrus.Errorf("webchat: flow executor failed for message %d: %v", msg.ID, err)
	}
}

func (w *WebChatAdapter) publishInboundEvent(ctx context.Context, conn *models.ChannelConnection, session *SessionInfo, msg *models.Message) {
	err := w.events.Publish(ctx, events.KeyMessageInbound, events.MessageEvent{
		CompanyID:      conn.CompanyID,
		ConversationID: session.ConversationID,
		MessageID:      msg.ID,
		ChannelType:    string(ChannelWebChat),
		Direction:      msg.Direction,
		Kind:           msg.Type,
	})
	if err != nil {
		logrus.Warnf("webchat: event publish failed: %v", err)
	}
}
