package channels

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"omnibox/internal/flows"
	"omnibox/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTwilioFixture() (*TwilioWhatsAppAdapter, *fakeStore, *models.ChannelConnection) {
	store := newFakeStore()
	adapter := NewTwilioWhatsAppAdapter(store, &fakeHub{}, flows.LogExecutor{}, &fakePublisher{})
	conn := &models.ChannelConnection{
		ID:          20,
		CompanyID:   1,
		ChannelType: string(ChannelWhatsAppTwilio),
		ConnectionData: encodeConfig(TwilioConfig{
			AccountSID:     "AC123",
			AuthToken:      "secret",
			ServiceSID:     "IS123",
			WhatsAppNumber: "+5511999990000",
		}),
	}
	store.connections[conn.ID] = conn
	return adapter, store, conn
}

func TestTwilioGroupReplyRejected(t *testing.T) {
	adapter, _, conn := newTwilioFixture()

	_, err := adapter.SendReply(context.Background(), ReplyRequest{
		Conversation: &models.Conversation{IsGroup: true, GroupJID: "g-1"},
		Connection:   conn,
	})

	require.Error(t, err)
	assert.Equal(t, "WhatsApp via Twilio does not support group chat replies", err.Error())
}

func TestTwilioSendReplyThreeStepFlow(t *testing.T) {
	adapter, store, conn := newTwilioFixture()

	var paths []string
	var messageBody string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		paths = append(paths, r.URL.Path)
		user, _, ok := r.BasicAuth()
		require.True(t, ok)
		assert.Equal(t, "AC123", user)

		switch r.URL.Path {
		case "/Conversations":
			json.NewEncoder(w).Encode(map[string]string{"sid": "CH111"})
		case "/Conversations/CH111/Participants":
			assert.Equal(t, "whatsapp:+5511988880000", r.PostFormValue("MessagingBinding.Address"))
			assert.Equal(t, "whatsapp:+5511999990000", r.PostFormValue("MessagingBinding.ProxyAddress"))
			json.NewEncoder(w).Encode(map[string]string{"sid": "MB111"})
		case "/Conversations/CH111/Messages":
			messageBody = r.PostFormValue("Body")
			assert.Equal(t, "whatsapp:+5511999990000", r.PostFormValue("Author"))
			json.NewEncoder(w).Encode(map[string]string{"sid": "IM111"})
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer server.Close()
	adapter.baseURL = server.URL

	conv := &models.Conversation{ID: 3, CompanyID: 1, ChannelID: conn.ID, ChannelType: string(ChannelWhatsAppTwilio)}
	store.conversations[conv.ID] = conv

	pm, err := adapter.SendReply(context.Background(), ReplyRequest{
		Conversation: conv,
		Connection:   conn,
		Recipient:    "+5511988880000",
		Content:      "be right there",
		Options:      ReplyOptions{OriginalContent: "where are you?"},
	})

	require.NoError(t, err)
	assert.Equal(t, "IM111", pm.ExternalID)
	assert.Equal(t, []string{"/Conversations", "/Conversations/CH111/Participants", "/Conversations/CH111/Messages"}, paths)
	// Twilio has no native quoting; the original is excerpted into the body.
	assert.Equal(t, "> where are you?\n\nbe right there", messageBody)

	var meta TwilioMeta
	require.NoError(t, json.Unmarshal([]byte(pm.Metadata), &meta))
	assert.Equal(t, "CH111", meta.ConversationSID)
	assert.Equal(t, "IM111", meta.MessageSID)
}

func TestTwilioSendReusesKnownConversationSID(t *testing.T) {
	adapter, store, conn := newTwilioFixture()

	conv := &models.Conversation{ID: 3, CompanyID: 1, ChannelID: conn.ID}
	store.conversations[conv.ID] = conv
	_, err := store.CreateMessage(&models.Message{
		ConversationID: conv.ID,
		ExternalID:     "IM000",
		Metadata:       encodeMeta(TwilioMeta{ConversationSID: "CH999", MessageSID: "IM000"}),
	})
	require.NoError(t, err)

	var paths []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		json.NewEncoder(w).Encode(map[string]string{"sid": "IM001"})
	}))
	defer server.Close()
	adapter.baseURL = server.URL

	_, err = adapter.SendReply(context.Background(), ReplyRequest{
		Conversation: conv,
		Connection:   conn,
		Recipient:    "+5511988880000",
		Content:      "again",
	})

	require.NoError(t, err)
	// No conversation or participant creation, only the message post.
	assert.Equal(t, []string{"/Conversations/CH999/Messages"}, paths)
}

func TestTwilioWebhookSelfEchoSuppressed(t *testing.T) {
	adapter, store, conn := newTwilioFixture()

	err := adapter.ProcessWebhook(context.Background(), conn, TwilioWebhookPayload{
		EventType:       "onMessageAdded",
		ConversationSID: "CH111",
		MessageSID:      "IM200",
		Author:          "whatsapp:+5511999990000", // the business number
		Body:            "our own outbound echoing back",
	})

	require.NoError(t, err)
	assert.Empty(t, store.messages)
	assert.Zero(t, store.createdContact)
}

func TestTwilioWebhookInboundPersisted(t *testing.T) {
	adapter, store, conn := newTwilioFixture()

	err := adapter.ProcessWebhook(context.Background(), conn, TwilioWebhookPayload{
		EventType:       "onMessageAdded",
		ConversationSID: "CH111",
		MessageSID:      "IM201",
		Author:          "whatsapp:+5511988880000",
		Body:            "hello there",
	})

	require.NoError(t, err)
	require.Len(t, store.messages, 1)
	for _, m := range store.messages {
		assert.Equal(t, models.DirectionInbound, m.Direction)
		assert.Equal(t, "IM201", m.ExternalID)
		assert.Equal(t, "hello there", m.Content)
	}

	// Redelivery of the same SID is a no-op.
	err = adapter.ProcessWebhook(context.Background(), conn, TwilioWebhookPayload{
		EventType:  "onMessageAdded",
		MessageSID: "IM201",
		Author:     "whatsapp:+5511988880000",
		Body:       "hello there",
	})
	require.NoError(t, err)
	assert.Len(t, store.messages, 1)
}

func TestTwilioWebhookMessageUpdatedIsNoOp(t *testing.T) {
	adapter, store, conn := newTwilioFixture()

	err := adapter.ProcessWebhook(context.Background(), conn, TwilioWebhookPayload{
		EventType:  "onMessageUpdated",
		MessageSID: "IM300",
		Author:     "whatsapp:+5511988880000",
		Body:       "edited",
	})

	require.NoError(t, err)
	assert.Empty(t, store.messages)
}

func TestClassifyTwilioMedia(t *testing.T) {
	kind, url := classifyTwilioMedia(`[{"content_type":"image/jpeg","url":"https://x/img.jpg"}]`)
	assert.Equal(t, models.MessageTypeImage, kind)
	assert.Equal(t, "https://x/img.jpg", url)

	kind, _ = classifyTwilioMedia(`[{"content_type":"application/pdf"}]`)
	assert.Equal(t, models.MessageTypeDocument, kind)

	kind, _ = classifyTwilioMedia("not json")
	assert.Equal(t, models.MessageTypeText, kind)
}
