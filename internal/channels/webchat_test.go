package channels

import (
	"context"
	"strings"
	"testing"
	"time"

	"omnibox/internal/flows"
	"omnibox/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newWebChatFixture() (*WebChatAdapter, *fakeStore, *fakeHub, *models.ChannelConnection) {
	store := newFakeStore()
	hub := &fakeHub{}
	adapter := NewWebChatAdapter(store, hub, flows.LogExecutor{}, &fakePublisher{})
	conn := &models.ChannelConnection{ID: 10, CompanyID: 1, ChannelType: string(ChannelWebChat), Status: models.ConnectionStatusActive}
	store.connections[conn.ID] = conn
	return adapter, store, hub, conn
}

func TestWebChatConnectGeneratesToken(t *testing.T) {
	adapter, store, _, conn := newWebChatFixture()

	require.NoError(t, adapter.Connect(conn))

	var cfg WebChatConfig
	require.NoError(t, decodeConfig(conn, &cfg))
	require.NotEmpty(t, cfg.WidgetToken)

	// Reconnecting keeps the token stable so embedded widgets keep working.
	first := cfg.WidgetToken
	require.NoError(t, adapter.Connect(conn))
	require.NoError(t, decodeConfig(conn, &cfg))
	assert.Equal(t, first, cfg.WidgetToken)

	resolved, err := adapter.VerifyWidgetToken(first)
	require.NoError(t, err)
	assert.Equal(t, conn.ID, resolved.ID)
	_ = store
}

func TestWebChatVerifyWidgetTokenRejectsUnknown(t *testing.T) {
	adapter, _, _, conn := newWebChatFixture()
	require.NoError(t, adapter.Connect(conn))

	_, err := adapter.VerifyWidgetToken("not-a-token")
	assert.Error(t, err)
	_, err = adapter.VerifyWidgetToken("")
	assert.Error(t, err)
}

func TestWebChatTypingMaterializesSessionOnce(t *testing.T) {
	adapter, store, hub, conn := newWebChatFixture()
	ctx := context.Background()

	typing := WebChatPayload{EventType: "typing", Data: WebChatEventData{SessionID: "sess-1", VisitorName: "Clara"}}
	require.NoError(t, adapter.ProcessWebhook(ctx, conn, typing))
	require.NoError(t, adapter.ProcessWebhook(ctx, conn, typing))

	msg := WebChatPayload{EventType: "message", Data: WebChatEventData{SessionID: "sess-1", Message: "hello"}}
	require.NoError(t, adapter.ProcessWebhook(ctx, conn, msg))

	// One contact and one conversation regardless of how many events arrived.
	assert.Equal(t, 1, store.createdContact)
	assert.Equal(t, 1, store.createdConv)
	assert.Equal(t, 1, adapter.SessionCount())

	// Both typing events broadcast, plus the message.
	typingEvents := 0
	for _, e := range hub.company {
		if e.Type == "visitor_typing" {
			typingEvents++
		}
	}
	assert.Equal(t, 2, typingEvents)
}

func TestWebChatInboundMessageTruncated(t *testing.T) {
	adapter, store, _, conn := newWebChatFixture()

	long := strings.Repeat("x", 6000)
	payload := WebChatPayload{EventType: "message", Data: WebChatEventData{SessionID: "sess-2", Message: long}}
	require.NoError(t, adapter.ProcessWebhook(context.Background(), conn, payload))

	var stored *models.Message
	for _, m := range store.messages {
		stored = m
	}
	require.NotNil(t, stored)
	assert.Len(t, stored.Content, webChatMaxContentLength)
	assert.Equal(t, models.DirectionInbound, stored.Direction)
	assert.Equal(t, models.MessageStatusDelivered, stored.Status)
}

func TestWebChatOutboundThenInboundSameConversation(t *testing.T) {
	adapter, store, hub, conn := newWebChatFixture()
	ctx := context.Background()

	out, err := adapter.SendMessage(ctx, conn, "sess-3", "welcome!", "", "", 7)
	require.NoError(t, err)

	inbound := WebChatPayload{EventType: "message", Data: WebChatEventData{SessionID: "sess-3", Message: "thanks"}}
	require.NoError(t, adapter.ProcessWebhook(ctx, conn, inbound))

	var in *models.Message
	for _, m := range store.messages {
		if m.Direction == models.DirectionInbound {
			in = m
		}
	}
	require.NotNil(t, in)
	assert.Equal(t, out.ConversationID, in.ConversationID)

	// The outbound leg reached the visitor's widget.
	require.NotEmpty(t, hub.session)
}

func TestWebChatSessionEndAndFileUploadIgnored(t *testing.T) {
	adapter, store, _, conn := newWebChatFixture()
	ctx := context.Background()

	for _, eventType := range []string{"session_end", "file_upload", "something_new"} {
		payload := WebChatPayload{EventType: eventType, Data: WebChatEventData{SessionID: "sess-4"}}
		assert.NoError(t, adapter.ProcessWebhook(ctx, conn, payload))
	}
	assert.Empty(t, store.messages)
}

func TestWebChatMissingSessionIDRejected(t *testing.T) {
	adapter, _, _, conn := newWebChatFixture()

	payload := WebChatPayload{EventType: "message", Data: WebChatEventData{Message: "hi"}}
	assert.Error(t, adapter.ProcessWebhook(context.Background(), conn, payload))
}

func TestWebChatSendReplyGroupRejected(t *testing.T) {
	adapter, _, _, conn := newWebChatFixture()

	_, err := adapter.SendReply(context.Background(), ReplyRequest{
		Conversation: &models.Conversation{IsGroup: true},
		Connection:   conn,
	})
	require.Error(t, err)
	assert.Equal(t, "WebChat does not support group chat replies", err.Error())
}

func TestWebChatEvictStale(t *testing.T) {
	adapter, _, _, conn := newWebChatFixture()
	ctx := context.Background()

	require.NoError(t, adapter.ProcessWebhook(ctx, conn, WebChatPayload{
		EventType: "session_start", Data: WebChatEventData{SessionID: "old"},
	}))
	require.NoError(t, adapter.ProcessWebhook(ctx, conn, WebChatPayload{
		EventType: "session_start", Data: WebChatEventData{SessionID: "fresh"},
	}))

	adapter.mu.Lock()
	adapter.sessions["old"].LastSeenAt = time.Now().Add(-time.Hour)
	adapter.mu.Unlock()

	evicted := adapter.EvictStale(30 * time.Minute)

	assert.Equal(t, 1, evicted)
	assert.Equal(t, 1, adapter.SessionCount())

	// A returning visitor re-materializes from the persisted contact without
	// duplicating rows.
	require.NoError(t, adapter.ProcessWebhook(ctx, conn, WebChatPayload{
		EventType: "message", Data: WebChatEventData{SessionID: "old", Message: "back"},
	}))
	adapterStore := adapter.store.(*fakeStore)
	assert.Equal(t, 2, adapterStore.createdContact)
}
