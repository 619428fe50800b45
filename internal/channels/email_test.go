package channels

import (
	"context"
	"net/smtp"
	"strings"
	"testing"

	"omnibox/internal/flows"
	"omnibox/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEmailFixture() (*EmailAdapter, *fakeStore, *models.ChannelConnection) {
	store := newFakeStore()
	adapter := NewEmailAdapter(store, &fakeHub{}, flows.LogExecutor{}, &fakePublisher{})
	conn := &models.ChannelConnection{
		ID:          30,
		CompanyID:   1,
		ChannelType: string(ChannelEmail),
		ConnectionData: encodeConfig(EmailConfig{
			SMTPHost:    "smtp.example.com",
			SMTPPort:    "587",
			Username:    "support@example.com",
			Password:    "pw",
			FromAddress: "support@example.com",
			FromName:    "Support",
		}),
	}
	store.connections[conn.ID] = conn
	return adapter, store, conn
}

func TestEmailReplyThreadsOnOriginal(t *testing.T) {
	adapter, store, conn := newEmailFixture()

	_, err := store.CreateMessage(&models.Message{
		ConversationID: 3,
		ExternalID:     "<orig-1@mail.example.com>",
		Metadata: encodeMeta(EmailMeta{
			EmailMessageID:  "<orig-1@mail.example.com>",
			EmailReferences: "<root@mail.example.com>",
			Subject:         "Order #42",
		}),
	})
	require.NoError(t, err)

	var sentTo []string
	var sentBody string
	adapter.sendMail = func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		assert.Equal(t, "smtp.example.com:587", addr)
		assert.Equal(t, "support@example.com", from)
		sentTo = to
		sentBody = string(msg)
		return nil
	}

	pm, err := adapter.SendReply(context.Background(), ReplyRequest{
		Conversation: &models.Conversation{ID: 3},
		Connection:   conn,
		Recipient:    "client@example.com",
		Content:      "Your order shipped today.",
		Options:      ReplyOptions{OriginalMessageID: "<orig-1@mail.example.com>"},
	})

	require.NoError(t, err)
	assert.Equal(t, []string{"client@example.com"}, sentTo)
	assert.Contains(t, sentBody, "Subject: Re: Order #42\r\n")
	assert.Contains(t, sentBody, "In-Reply-To: <orig-1@mail.example.com>\r\n")
	assert.Contains(t, sentBody, "References: <root@mail.example.com> <orig-1@mail.example.com>\r\n")
	assert.Contains(t, sentBody, "From: Support <support@example.com>\r\n")
	assert.True(t, strings.HasSuffix(sentBody, "Your order shipped today."))

	var meta EmailMeta
	require.NoError(t, decodeMeta(&models.Message{Metadata: pm.Metadata}, &meta))
	assert.Equal(t, pm.ExternalID, meta.EmailMessageID)
}

func TestEmailReplyWithoutOriginalFails(t *testing.T) {
	adapter, _, conn := newEmailFixture()
	adapter.sendMail = func(string, smtp.Auth, string, []string, []byte) error {
		t.Fatal("send must not happen without the original message")
		return nil
	}

	_, err := adapter.SendReply(context.Background(), ReplyRequest{
		Conversation: &models.Conversation{ID: 3},
		Connection:   conn,
		Recipient:    "client@example.com",
		Content:      "hi",
		Options:      ReplyOptions{OriginalMessageID: "<unknown@mail>"},
	})

	require.Error(t, err)
	assert.Equal(t, "Original email message not found for threading", err.Error())
}

func TestEmailGroupConversationAccepted(t *testing.T) {
	adapter, store, conn := newEmailFixture()

	_, err := store.CreateMessage(&models.Message{
		ConversationID: 4,
		ExternalID:     "<orig-2@mail.example.com>",
		Metadata:       encodeMeta(EmailMeta{EmailMessageID: "<orig-2@mail.example.com>", Subject: "Team thread"}),
	})
	require.NoError(t, err)

	sent := false
	adapter.sendMail = func(string, smtp.Auth, string, []string, []byte) error {
		sent = true
		return nil
	}

	// Email threads can have many participants, so group conversations are
	// not rejected here.
	_, err = adapter.SendReply(context.Background(), ReplyRequest{
		Conversation: &models.Conversation{ID: 4, IsGroup: true, GroupJID: "team-thread"},
		Connection:   conn,
		Recipient:    "team@example.com",
		Content:      "agreed",
		Options:      ReplyOptions{OriginalMessageID: "<orig-2@mail.example.com>"},
	})

	require.NoError(t, err)
	assert.True(t, sent)
}

func TestEmailInboundMaterializesConversation(t *testing.T) {
	adapter, store, conn := newEmailFixture()
	ctx := context.Background()

	mail := InboundEmail{
		From:      "Client@Example.com",
		Subject:   "Order #42",
		Body:      "Where is my order?",
		MessageID: "<in-1@client>",
	}
	require.NoError(t, adapter.ProcessInbound(ctx, conn, mail))

	assert.Equal(t, 1, store.createdContact)
	assert.Equal(t, 1, store.createdConv)
	for _, c := range store.contacts {
		// Addresses normalize to lower case.
		assert.Equal(t, "client@example.com", c.Identifier)
		assert.Equal(t, "email", c.IdentifierType)
	}

	// Redelivery dedupes on Message-ID.
	require.NoError(t, adapter.ProcessInbound(ctx, conn, mail))
	assert.Len(t, store.messages, 1)
}
