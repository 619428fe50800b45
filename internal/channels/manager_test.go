package channels

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"omnibox/internal/events"
	"omnibox/internal/models"
	"omnibox/internal/realtime"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStore is an in-memory Store for adapter and manager tests.
type fakeStore struct {
	mu            sync.Mutex
	conversations map[uint]*models.Conversation
	connections   map[uint]*models.ChannelConnection
	contacts      map[uint]*models.Contact
	messages      map[uint]*models.Message
	settings      map[string]string // "companyID/key"
	users         map[uint]*models.User

	nextID         uint
	deletedIDs     []uint
	statusUpdates  map[uint]string
	updatedConns   map[uint]map[string]interface{}
	createdContact int
	createdConv    int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		conversations: make(map[uint]*models.Conversation),
		connections:   make(map[uint]*models.ChannelConnection),
		contacts:      make(map[uint]*models.Contact),
		messages:      make(map[uint]*models.Message),
		settings:      make(map[string]string),
		users:         make(map[uint]*models.User),
		statusUpdates: make(map[uint]string),
		updatedConns:  make(map[uint]map[string]interface{}),
		nextID:        1000,
	}
}

var errNotFound = errors.New("record not found")

func (f *fakeStore) GetConversation(id uint) (*models.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.conversations[id]; ok {
		return c, nil
	}
	return nil, errNotFound
}

func (f *fakeStore) GetChannelConnection(id uint) (*models.ChannelConnection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.connections[id]; ok {
		return c, nil
	}
	return nil, errNotFound
}

func (f *fakeStore) GetChannelConnectionsByType(channelType string) ([]models.ChannelConnection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.ChannelConnection
	for _, c := range f.connections {
		if c.ChannelType == channelType {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (f *fakeStore) UpdateChannelConnection(id uint, patch map[string]interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updatedConns[id] = patch
	if conn, ok := f.connections[id]; ok {
		if status, ok := patch["status"].(string); ok {
			conn.Status = status
		}
		if data, ok := patch["connection_data"].(string); ok {
			conn.ConnectionData = data
		}
	}
	return nil
}

func (f *fakeStore) GetContact(id uint) (*models.Contact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.contacts[id]; ok {
		return c, nil
	}
	return nil, errNotFound
}

func (f *fakeStore) GetContactByPhone(phone string, companyID uint) (*models.Contact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.contacts {
		if c.Phone == phone && c.CompanyID == companyID {
			return c, nil
		}
	}
	return nil, errNotFound
}

func (f *fakeStore) GetOrCreateContact(data *models.Contact) (*models.Contact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.contacts {
		if c.CompanyID == data.CompanyID && c.Identifier == data.Identifier && c.IdentifierType == data.IdentifierType {
			return c, nil
		}
	}
	f.nextID++
	data.ID = f.nextID
	f.contacts[data.ID] = data
	f.createdContact++
	return data, nil
}

func (f *fakeStore) GetConversationByContactAndChannel(contactID, channelID uint) (*models.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.conversations {
		if c.ContactID != nil && *c.ContactID == contactID && c.ChannelID == channelID {
			return c, nil
		}
	}
	return nil, errNotFound
}

func (f *fakeStore) GetConversationByGroupJID(groupJID string, channelID uint) (*models.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.conversations {
		if c.GroupJID == groupJID && c.ChannelID == channelID {
			return c, nil
		}
	}
	return nil, errNotFound
}

func (f *fakeStore) CreateConversation(data *models.Conversation) (*models.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	data.ID = f.nextID
	f.conversations[data.ID] = data
	f.createdConv++
	return data, nil
}

func (f *fakeStore) UpdateConversation(id uint, patch map[string]interface{}) error {
	return nil
}

func (f *fakeStore) CreateMessage(data *models.Message) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	data.ID = f.nextID
	if data.CreatedAt.IsZero() {
		data.CreatedAt = time.Now()
	}
	f.messages[data.ID] = data
	return data, nil
}

func (f *fakeStore) GetMessageByID(id uint) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if m, ok := f.messages[id]; ok {
		return m, nil
	}
	return nil, errNotFound
}

func (f *fakeStore) GetLastMessage(conversationID uint) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var last *models.Message
	for _, m := range f.messages {
		if m.ConversationID != conversationID {
			continue
		}
		if last == nil || m.CreatedAt.After(last.CreatedAt) {
			last = m
		}
	}
	if last == nil {
		return nil, errNotFound
	}
	return last, nil
}

func (f *fakeStore) GetMessageByExternalID(externalID string) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.messages {
		if m.ExternalID == externalID && externalID != "" {
			return m, nil
		}
	}
	return nil, errNotFound
}

func (f *fakeStore) UpdateMessageStatus(id uint, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if m, ok := f.messages[id]; ok {
		m.Status = status
		return nil
	}
	return errNotFound
}

func (f *fakeStore) DeleteMessage(id uint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletedIDs = append(f.deletedIDs, id)
	delete(f.messages, id)
	return nil
}

func (f *fakeStore) GetCompanySetting(companyID uint, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if v, ok := f.settings[fmt.Sprintf("%d/%s", companyID, key)]; ok {
		return v, nil
	}
	return "", errNotFound
}

func (f *fakeStore) GetUser(userID uint) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.users[userID]; ok {
		return u, nil
	}
	return nil, errNotFound
}

// fakeHub records broadcast events.
type fakeHub struct {
	mu      sync.Mutex
	company []realtime.Event
	session []realtime.Event
	global  []realtime.Event
}

func (f *fakeHub) PublishToCompany(_ uint, event realtime.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.company = append(f.company, event)
}

func (f *fakeHub) PublishToSession(_ string, event realtime.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.session = append(f.session, event)
}

func (f *fakeHub) PublishGlobal(event realtime.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.global = append(f.global, event)
}

// fakePublisher records event keys.
type fakePublisher struct {
	mu   sync.Mutex
	keys []string
}

func (f *fakePublisher) Publish(_ context.Context, key string, _ interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys = append(f.keys, key)
	return nil
}

func (f *fakePublisher) Close() error { return nil }

var _ events.Publisher = (*fakePublisher)(nil)

// spyAdapter records SendReply calls and returns a canned result.
type spyAdapter struct {
	channelType ChannelType
	calls       int
	lastReq     ReplyRequest
	err         error
}

func (s *spyAdapter) Type() ChannelType { return s.channelType }

func (s *spyAdapter) SendReply(_ context.Context, req ReplyRequest) (*ProviderMessage, error) {
	s.calls++
	s.lastReq = req
	if s.err != nil {
		return nil, s.err
	}
	return &ProviderMessage{ExternalID: "ext-123"}, nil
}

// spyDeleter is a spyAdapter whose provider also supports deletion.
type spyDeleter struct {
	spyAdapter
	deleteCalls int
	deleteErr   error
}

func (s *spyDeleter) DeleteMessage(context.Context, *models.ChannelConnection, *models.Conversation, *models.Message) error {
	s.deleteCalls++
	return s.deleteErr
}

func seedConversation(store *fakeStore, channelType string) (*models.Conversation, *models.ChannelConnection, *models.Contact) {
	conn := &models.ChannelConnection{ID: 1, CompanyID: 1, ChannelType: channelType, Status: models.ConnectionStatusActive}
	contact := &models.Contact{ID: 2, CompanyID: 1, Identifier: "5511999990000", IdentifierType: "phone", Phone: "5511999990000"}
	conv := &models.Conversation{ID: 3, CompanyID: 1, ChannelID: 1, ChannelType: channelType, ContactID: &contact.ID}
	store.connections[conn.ID] = conn
	store.contacts[contact.ID] = contact
	store.conversations[conv.ID] = conv
	store.users[7] = &models.User{ID: 7, CompanyID: 1, FullName: "Maria Souza", Email: "maria@example.com"}
	return conv, conn, contact
}

func TestSendReplyConversationNotFound(t *testing.T) {
	m := NewManager(newFakeStore(), &fakeHub{}, &fakePublisher{})

	result := m.SendReply(context.Background(), 99, "hi", ReplyOptions{}, 7, 1)

	assert.False(t, result.Success)
	assert.Equal(t, "Conversation not found", result.Error)
}

func TestSendReplyTenantIsolation(t *testing.T) {
	store := newFakeStore()
	conv, _, _ := seedConversation(store, string(ChannelWhatsApp))
	spy := &spyAdapter{channelType: ChannelWhatsApp}
	m := NewManager(store, &fakeHub{}, &fakePublisher{})
	m.Register(spy)

	result := m.SendReply(context.Background(), conv.ID, "hi", ReplyOptions{}, 7, 2)

	assert.False(t, result.Success)
	assert.Equal(t, "Access denied: conversation belongs to another company", result.Error)
	assert.Zero(t, spy.calls, "provider must not be reached on a cross-tenant request")
}

func TestSendReplyConnectionTenantMismatch(t *testing.T) {
	store := newFakeStore()
	conv, conn, _ := seedConversation(store, string(ChannelWhatsApp))
	// The conversation passes the first check but its connection belongs to
	// another tenant.
	conv.CompanyID = 2
	conn.CompanyID = 1
	spy := &spyAdapter{channelType: ChannelWhatsApp}
	m := NewManager(store, &fakeHub{}, &fakePublisher{})
	m.Register(spy)

	result := m.SendReply(context.Background(), conv.ID, "hi", ReplyOptions{}, 7, 2)

	assert.False(t, result.Success)
	assert.Equal(t, "Access denied: channel connection belongs to another company", result.Error)
	assert.Zero(t, spy.calls)
}

func TestSendReplyGroupWithoutJID(t *testing.T) {
	store := newFakeStore()
	conv, _, _ := seedConversation(store, string(ChannelWhatsApp))
	conv.IsGroup = true
	conv.GroupJID = ""
	m := NewManager(store, &fakeHub{}, &fakePublisher{})
	m.Register(&spyAdapter{channelType: ChannelWhatsApp})

	result := m.SendReply(context.Background(), conv.ID, "hi", ReplyOptions{}, 7, 1)

	assert.Equal(t, "Group conversation has no group identifier", result.Error)
}

func TestSendReplyUnknownChannelRejected(t *testing.T) {
	store := newFakeStore()
	conv, _, _ := seedConversation(store, "carrier-pigeon")
	m := NewManager(store, &fakeHub{}, &fakePublisher{})

	result := m.SendReply(context.Background(), conv.ID, "hi", ReplyOptions{}, 7, 1)

	assert.Equal(t, "Channel does not support replies", result.Error)
}

func TestSendReplySuccess(t *testing.T) {
	store := newFakeStore()
	conv, _, _ := seedConversation(store, string(ChannelWhatsApp))
	spy := &spyAdapter{channelType: ChannelWhatsApp}
	hub := &fakeHub{}
	pub := &fakePublisher{}
	m := NewManager(store, hub, pub)
	m.Register(spy)

	result := m.SendReply(context.Background(), conv.ID, "on my way", ReplyOptions{}, 7, 1)

	require.True(t, result.Success, result.Error)
	require.NotNil(t, result.MessageID)

	assert.Equal(t, 1, spy.calls)
	assert.Equal(t, "5511999990000", spy.lastReq.Recipient)
	// Signatures are on by default; the agent's name is prefixed.
	assert.Equal(t, "> *Maria Souza*\n\non my way", spy.lastReq.Content)

	msg, err := store.GetMessageByID(*result.MessageID)
	require.NoError(t, err)
	assert.Equal(t, models.DirectionOutbound, msg.Direction)
	assert.Equal(t, models.SenderTypeUser, msg.SenderType)
	assert.Equal(t, "ext-123", msg.ExternalID)

	require.Len(t, hub.company, 1)
	assert.Equal(t, "new_message", hub.company[0].Type)
	assert.Equal(t, []string{events.KeyMessageOutbound}, pub.keys)
}

func TestSendReplySignatureDisabled(t *testing.T) {
	store := newFakeStore()
	conv, _, _ := seedConversation(store, string(ChannelWhatsApp))
	store.settings["1/inbox_agent_signature_enabled"] = "false"
	spy := &spyAdapter{channelType: ChannelWhatsApp}
	m := NewManager(store, &fakeHub{}, &fakePublisher{})
	m.Register(spy)

	result := m.SendReply(context.Background(), conv.ID, "on my way", ReplyOptions{}, 7, 1)

	require.True(t, result.Success, result.Error)
	assert.Equal(t, "on my way", spy.lastReq.Content)
}

func TestSendReplyProviderErrorSurfaces(t *testing.T) {
	store := newFakeStore()
	conv, _, _ := seedConversation(store, string(ChannelWhatsApp))
	spy := &spyAdapter{channelType: ChannelWhatsApp, err: errors.New("No quoted message object provided for WhatsApp reply")}
	m := NewManager(store, &fakeHub{}, &fakePublisher{})
	m.Register(spy)

	result := m.SendReply(context.Background(), conv.ID, "hi", ReplyOptions{}, 7, 1)

	assert.False(t, result.Success)
	assert.Equal(t, "No quoted message object provided for WhatsApp reply", result.Error)
	// The failed send must leave no outbound message behind.
	assert.Empty(t, store.deletedIDs)
	for _, msg := range store.messages {
		assert.NotEqual(t, models.DirectionOutbound, msg.Direction)
	}
}

func TestDeleteMessageNotFound(t *testing.T) {
	m := NewManager(newFakeStore(), &fakeHub{}, &fakePublisher{})

	result := m.DeleteMessage(context.Background(), 42, 7, 1)

	assert.Equal(t, "Message not found", result.Error)
}

func TestDeleteMessageUnsupportedChannel(t *testing.T) {
	store := newFakeStore()
	conv, _, _ := seedConversation(store, string(ChannelMessenger))
	msg, _ := store.CreateMessage(&models.Message{ConversationID: conv.ID, Direction: models.DirectionOutbound})
	deleter := &spyDeleter{spyAdapter: spyAdapter{channelType: ChannelMessenger}}
	m := NewManager(store, &fakeHub{}, &fakePublisher{})
	m.Register(deleter)

	result := m.DeleteMessage(context.Background(), msg.ID, 7, 1)

	assert.Equal(t, "Message deletion is not supported for this channel", result.Error)
	assert.Zero(t, deleter.deleteCalls)
	assert.Empty(t, store.deletedIDs)
}

func TestDeleteMessageTooOld(t *testing.T) {
	store := newFakeStore()
	conv, _, _ := seedConversation(store, string(ChannelWhatsApp))
	old := time.Now().Add(-time.Duration(whatsAppDeleteWindowMinutes+1) * time.Minute)
	msg, _ := store.CreateMessage(&models.Message{ConversationID: conv.ID, Direction: models.DirectionOutbound, SentAt: &old})
	m := NewManager(store, &fakeHub{}, &fakePublisher{})
	m.Register(&spyDeleter{spyAdapter: spyAdapter{channelType: ChannelWhatsApp}})

	result := m.DeleteMessage(context.Background(), msg.ID, 7, 1)

	assert.Equal(t, "Message is too old to be deleted", result.Error)
}

func TestDeleteMessageWithinCoarseWindow(t *testing.T) {
	store := newFakeStore()
	conv, _, _ := seedConversation(store, string(ChannelWhatsApp))
	recent := time.Now().Add(-time.Duration(whatsAppDeleteWindowMinutes-1) * time.Minute)
	msg, _ := store.CreateMessage(&models.Message{ConversationID: conv.ID, Direction: models.DirectionOutbound, SentAt: &recent})
	deleter := &spyDeleter{spyAdapter: spyAdapter{channelType: ChannelWhatsApp}}
	hub := &fakeHub{}
	pub := &fakePublisher{}
	m := NewManager(store, hub, pub)
	m.Register(deleter)

	result := m.DeleteMessage(context.Background(), msg.ID, 7, 1)

	require.True(t, result.Success, result.Error)
	assert.Equal(t, 1, deleter.deleteCalls)
	assert.Equal(t, []uint{msg.ID}, store.deletedIDs)
	require.Len(t, hub.company, 1)
	assert.Equal(t, "message_deleted", hub.company[0].Type)
	assert.Equal(t, []string{events.KeyMessageDeleted}, pub.keys)
}

func TestDeleteMessageRemoteFailureBlocksLocal(t *testing.T) {
	store := newFakeStore()
	conv, _, _ := seedConversation(store, string(ChannelWhatsApp))
	now := time.Now()
	msg, _ := store.CreateMessage(&models.Message{ConversationID: conv.ID, Direction: models.DirectionOutbound, SentAt: &now})
	deleter := &spyDeleter{
		spyAdapter: spyAdapter{channelType: ChannelWhatsApp},
		deleteErr:  errors.New("Message is too old to be deleted"),
	}
	m := NewManager(store, &fakeHub{}, &fakePublisher{})
	m.Register(deleter)

	result := m.DeleteMessage(context.Background(), msg.ID, 7, 1)

	assert.False(t, result.Success)
	assert.Equal(t, 1, deleter.deleteCalls)
	assert.Empty(t, store.deletedIDs, "local row must survive a failed provider delete")
}

func TestDeleteMessageLocalOnlyChannel(t *testing.T) {
	store := newFakeStore()
	conv, _, _ := seedConversation(store, string(ChannelWebChat))
	msg, _ := store.CreateMessage(&models.Message{ConversationID: conv.ID, Direction: models.DirectionOutbound})
	// The webchat adapter supports delete in its capability table but does not
	// implement the remote Deleter interface; deletion is local-only.
	m := NewManager(store, &fakeHub{}, &fakePublisher{})
	m.Register(&spyAdapter{channelType: ChannelWebChat})

	result := m.DeleteMessage(context.Background(), msg.ID, 7, 1)

	require.True(t, result.Success, result.Error)
	assert.Equal(t, []uint{msg.ID}, store.deletedIDs)
}

func TestDeleteMessageTenantIsolation(t *testing.T) {
	store := newFakeStore()
	conv, _, _ := seedConversation(store, string(ChannelWhatsApp))
	msg, _ := store.CreateMessage(&models.Message{ConversationID: conv.ID, Direction: models.DirectionOutbound})
	deleter := &spyDeleter{spyAdapter: spyAdapter{channelType: ChannelWhatsApp}}
	m := NewManager(store, &fakeHub{}, &fakePublisher{})
	m.Register(deleter)

	result := m.DeleteMessage(context.Background(), msg.ID, 7, 9)

	assert.Equal(t, "Access denied: conversation belongs to another company", result.Error)
	assert.Zero(t, deleter.deleteCalls)
	assert.Empty(t, store.deletedIDs)
}

func TestResolveAgentNameFallbackChain(t *testing.T) {
	cases := []struct {
		name string
		user models.User
		want string
	}{
		{"full name wins", models.User{FullName: "Ana Lima", Name: "ana", Email: "a@x.com"}, "Ana Lima"},
		{"name next", models.User{Name: "ana", FirstName: "Ana", Email: "a@x.com"}, "ana"},
		{"first and last", models.User{FirstName: "Ana", LastName: "Lima"}, "Ana Lima"},
		{"first only", models.User{FirstName: "Ana"}, "Ana"},
		{"display name", models.User{DisplayName: "analima"}, "analima"},
		{"email local part", models.User{Email: "ana.lima@example.com"}, "ana.lima"},
		{"nothing", models.User{}, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, resolveAgentName(&tc.user))
		})
	}
}
