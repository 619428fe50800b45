package channels

import (
	"context"
	"errors"
	"fmt"
	"net/smtp"
	"strings"
	"time"

	"omnibox/internal/events"
	"omnibox/internal/flows"
	"omnibox/internal/models"
	"omnibox/internal/realtime"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// EmailAdapter sends threaded email replies over SMTP. Threading is the one
// channel with real native reply semantics: In-Reply-To and References
// headers taken from the original message's stored metadata. Email is also
// the only provider besides unofficial WhatsApp that accepts group
// conversations, since a thread can have many participants.
type EmailAdapter struct {
	store  Store
	hub    Broadcaster
	flows  flows.Executor
	events events.Publisher

	// sendMail is swapped in tests; defaults to smtp.SendMail.
	sendMail func(addr string, auth smtp.Auth, from string, to []string, msg []byte) error
}

func NewEmailAdapter(store Store, hub Broadcaster, exec flows.Executor, pub events.Publisher) *EmailAdapter {
	return &EmailAdapter{
		store:    store,
		hub:      hub,
		flows:    exec,
		events:   pub,
		sendMail: smtp.SendMail,
	}
}

func (a *EmailAdapter) Type() ChannelType { return ChannelEmail }

func (a *EmailAdapter) Connect(conn *models.ChannelConnection) error {
	var cfg EmailConfig
	if err := decodeConfig(conn, &cfg); err != nil {
		return err
	}
	if cfg.SMTPHost == "" || cfg.SMTPPort == "" || cfg.FromAddress == "" {
		return errors.New("email connection requires smtp_host, smtp_port and from_address")
	}
	return a.store.UpdateChannelConnection(conn.ID, map[string]interface{}{
		"status": models.ConnectionStatusActive, "last_error": "",
	})
}

func (a *EmailAdapter) Disconnect(conn *models.ChannelConnection) error {
	return a.store.UpdateChannelConnection(conn.ID, map[string]interface{}{
		"status": models.ConnectionStatusDisconnected,
	})
}

func (a *EmailAdapter) ConnectionStatus(conn *models.ChannelConnection) string {
	return conn.Status
}

func (a *EmailAdapter) SendReply(ctx context.Context, req ReplyRequest) (*ProviderMessage, error) {
	var cfg EmailConfig
	if err := decodeConfig(req.Connection, &cfg); err != nil {
		return nil, err
	}

	// The reply threads onto the original email; without it the headers
	// cannot be built and the mail would start a new thread.
	original, err := a.store.GetMessageByExternalID(req.Options.OriginalMessageID)
	if err != nil {
		return nil, errors.New("Original email message not found for threading")
	}
	var origMeta EmailMeta
	if err := decodeMeta(original, &origMeta); err != nil || origMeta.EmailMessageID == "" {
		return nil, errors.New("Original email message has no Message-ID")
	}

	subject := origMeta.Subject
	if subject == "" {
		subject = "Your conversation"
	}
	if !strings.HasPrefix(strings.ToLower(subject), "re:") {
		subject = "Re: " + subject
	}

	references := origMeta.EmailReferences
	if references == "" {
		references = origMeta.EmailMessageID
	} else {
		references = references + " " + origMeta.EmailMessageID
	}

	messageID := fmt.Sprintf("<%s@%s>", uuid.NewString(), cfg.SMTPHost)
	from := cfg.FromAddress
	if cfg.FromName != "" {
		from = fmt.Sprintf("%s <%s>", cfg.FromName, cfg.FromAddress)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", req.Recipient)
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	fmt.Fprintf(&b, "Message-ID: %s\r\n", messageID)
	fmt.Fprintf(&b, "In-Reply-To: %s\r\n", origMeta.EmailMessageID)
	fmt.Fprintf(&b, "References: %s\r\n", references)
	fmt.Fprintf(&b, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(req.Content)

	var auth smtp.Auth
	if cfg.Username != "" {
		auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.SMTPHost)
	}
	addr := cfg.SMTPHost + ":" + cfg.SMTPPort
	if err := a.sendMail(addr, auth, cfg.FromAddress, []string{req.Recipient}, []byte(b.String())); err != nil {
		return nil, fmt.Errorf("smtp send failed: %v", err)
	}

	meta := EmailMeta{
		EmailMessageID:  messageID,
		EmailReferences: references,
		Subject:         subject,
	}
	return &ProviderMessage{ExternalID: messageID, Metadata: encodeMeta(meta)}, nil
}

// InboundEmail is a parsed inbound mail handed over by the ingest webhook.
type InboundEmail struct {
	From       string
	Subject    string
	Body       string
	MessageID  string
	References string
}

// ProcessInbound materializes the contact/conversation for an inbound email
// and persists it with its threading metadata.
func (a *EmailAdapter) ProcessInbound(ctx context.Context, conn *models.ChannelConnection, mail InboundEmail) error {
	if mail.MessageID != "" {
		if _, err := a.store.GetMessageByExternalID(mail.MessageID); err == nil {
			return nil
		}
	}

	address := strings.ToLower(strings.TrimSpace(mail.From))
	if address == "" {
		return errors.New("inbound email has no sender address")
	}

	contact, err := a.store.GetOrCreateContact(&models.Contact{
		CompanyID:      conn.CompanyID,
		Identifier:     address,
		IdentifierType: "email",
		Name:           address,
		Email:          address,
	})
	if err != nil {
		return err
	}

	conv, err := a.store.GetConversationByContactAndChannel(contact.ID, conn.ID)
	if err != nil {
		conv, err = a.store.CreateConversation(&models.Conversation{
			CompanyID:   conn.CompanyID,
			ChannelID:   conn.ID,
			ChannelType: string(ChannelEmail),
			ContactID:   &contact.ID,
			Status:      models.ConversationStatusOpen,
		})
		if err != nil {
			return err
		}
	}

	now := time.Now()
	meta := EmailMeta{
		EmailMessageID:  mail.MessageID,
		EmailReferences: mail.References,
		Subject:         mail.Subject,
	}
	msg, err := a.store.CreateMessage(&models.Message{
		ConversationID: conv.ID,
		Direction:      models.DirectionInbound,
		SenderType:     models.SenderTypeContact,
		Type:           models.MessageTypeText,
		Content:        mail.Body,
		Status:         models.MessageStatusDelivered,
		ExternalID:     mail.MessageID,
		Metadata:       encodeMeta(meta),
		SentAt:         &now,
	})
	if err != nil {
		return err
	}

	if err := a.store.UpdateConversation(conv.ID, map[string]interface{}{"last_message_at": now}); err != nil {
		logrus.Warnf("email: failed to touch conversation %d: %v", conv.ID, err)
	}

	a.hub.PublishToCompany(conn.CompanyID, realtime.Event{Type: "new_message", Data: msg})

	if !conv.BotDisabled {
		if err := a.flows.HandleInbound(ctx, msg, conv); err != nil {
			logrus.Errorf("email: flow executor failed for message %d: %v", msg.ID, err)
		}
	}
	err = a.events.Publish(ctx, events.KeyMessageInbound, events.MessageEvent{
		CompanyID:      conn.CompanyID,
		ConversationID: conv.ID,
		MessageID:      msg.ID,
		ChannelType:    string(ChannelEmail),
		Direction:      msg.Direction,
		Kind:           msg.Type,
	})
	if err != nil {
		logrus.Warnf("email: event publish failed: %v", err)
	}
	return nil
}
