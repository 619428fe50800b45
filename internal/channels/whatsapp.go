package channels

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"omnibox/internal/events"
	"omnibox/internal/flows"
	"omnibox/internal/models"
	"omnibox/internal/realtime"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/sirupsen/logrus"
	"github.com/skip2/go-qrcode"
	"go.mau.fi/whatsmeow"
	waProto "go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	waEvents "go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"
	_ "modernc.org/sqlite"
)

// whatsAppRevokeWindow is the protocol-level revoke limit enforced inside
// the delete path, tighter than the 72-hour capability gate. Both limits are
// intentional.
const whatsAppRevokeWindow = 72 * time.Minute

// waSession is one live whatsmeow client bound to a channel connection.
type waSession struct {
	ConnectionID uint
	CompanyID    uint
	Client       *whatsmeow.Client
	Container    *sqlstore.Container
	QRCode       string
	Status       string
	LastAttempt  time.Time
	mu           sync.RWMutex
}

// WhatsAppAdapter runs unofficial WhatsApp connections through whatsmeow.
// Each connection gets its own device store and client; pairing happens by
// QR code the same way the mobile app links a device.
type WhatsAppAdapter struct {
	store  Store
	hub    Broadcaster
	flows  flows.Executor
	events events.Publisher

	mu       sync.RWMutex
	sessions map[uint]*waSession
}

func NewWhatsAppAdapter(store Store, hub Broadcaster, exec flows.Executor, pub events.Publisher) *WhatsAppAdapter {
	return &WhatsAppAdapter{
		store:    store,
		hub:      hub,
		flows:    exec,
		events:   pub,
		sessions: make(map[uint]*waSession),
	}
}

func (a *WhatsAppAdapter) Type() ChannelType { return ChannelWhatsApp }

// Connect establishes (or restores) the whatsmeow session for a connection.
// With a stored device the session restores silently; otherwise a QR code is
// generated for pairing and exposed via GetQRCode.
func (a *WhatsAppAdapter) Connect(conn *models.ChannelConnection) error {
	session, err := a.getOrCreateSession(conn)
	if err != nil {
		return err
	}

	session.mu.Lock()
	defer session.mu.Unlock()

	// Guard against connect storms.
	if session.Status == "connected" || session.Status == "connecting" || session.Status == "scanning" {
		return nil
	}
	if time.Since(session.LastAttempt) < 5*time.Second {
		return nil
	}
	session.LastAttempt = time.Now()
	session.Status = "connecting"

	deviceStore, err := session.Container.GetFirstDevice(context.Background())
	if err != nil {
		a.markError(conn.ID, err)
		return fmt.Errorf("failed to get device store: %v", err)
	}

	client := whatsmeow.NewClient(deviceStore, nil)
	client.AddEventHandler(func(evt interface{}) {
		a.handleEvent(session, evt)
	})

	if deviceStore.ID != nil {
		logrus.Infof("whatsapp: connection %d restoring stored session", conn.ID)
		if err := client.Connect(); err != nil {
			logrus.Warnf("whatsapp: connection %d session restore failed: %v", conn.ID, err)
			a.clearDevices(session)
			// Start over with a fresh device for QR pairing.
			deviceStore, err = session.Container.GetFirstDevice(context.Background())
			if err != nil {
				a.markError(conn.ID, err)
				return fmt.Errorf("failed to get device store: %v", err)
			}
			client = whatsmeow.NewClient(deviceStore, nil)
			client.AddEventHandler(func(evt interface{}) {
				a.handleEvent(session, evt)
			})
		} else {
			session.Client = client
			session.Status = "connected"
			a.persistStatus(conn.ID, models.ConnectionStatusActive, "")
			return nil
		}
	}

	logrus.Infof("whatsapp: connection %d has no stored session, starting QR pairing", conn.ID)
	qrChan, _ := client.GetQRChannel(context.Background())
	if err := client.Connect(); err != nil {
		a.markError(conn.ID, err)
		return fmt.Errorf("failed to connect client: %v", err)
	}

	session.Client = client
	session.Status = "scanning"
	go a.waitForQR(session, qrChan)
	return nil
}

// waitForQR consumes the pairing channel, rendering each code as a data-URI
// PNG for the admin UI.
func (a *WhatsAppAdapter) waitForQR(session *waSession, qrChan <-chan whatsmeow.QRChannelItem) {
	for {
		select {
		case item := <-qrChan:
			switch item.Event {
			case "code":
				png, err := qrcode.Encode(item.Code, qrcode.Medium, 256)
				if err != nil {
					logrus.Errorf("whatsapp: connection %d QR encode failed: %v", session.ConnectionID, err)
					continue
				}
				session.mu.Lock()
				session.QRCode = "data:image/png;base64," + base64.StdEncoding.EncodeToString(png)
				session.mu.Unlock()
			case "success":
				session.mu.Lock()
				session.Status = "connected"
				session.QRCode = ""
				session.mu.Unlock()
				a.persistStatus(session.ConnectionID, models.ConnectionStatusActive, "")
				a.storePairedNumber(session)
				logrus.Infof("whatsapp: connection %d paired successfully", session.ConnectionID)
				return
			}
		case <-time.After(2 * time.Minute):
			session.mu.Lock()
			session.Status = "disconnected"
			session.QRCode = ""
			session.mu.Unlock()
			a.persistStatus(session.ConnectionID, models.ConnectionStatusDisconnected, "QR pairing timed out")
			return
		}
	}
}

// storePairedNumber records the paired phone number into connectionData.
func (a *WhatsAppAdapter) storePairedNumber(session *waSession) {
	session.mu.RLock()
	client := session.Client
	session.mu.RUnlock()
	if client == nil || client.Store.ID == nil {
		return
	}
	cfg := WhatsAppConfig{
		StoreDriver: os.Getenv("WA_STORE_DRIVER"),
		StoreDSN:    os.Getenv("WA_STORE_DSN"),
		PhoneNumber: "+" + client.Store.ID.User,
	}
	err := a.store.UpdateChannelConnection(session.ConnectionID, map[string]interface{}{
		"connection_data": encodeConfig(cfg),
	})
	if err != nil {
		logrus.Warnf("whatsapp: connection %d failed to store paired number: %v", session.ConnectionID, err)
	}
}

// Disconnect logs the session out, wipes the local device store and removes
// the in-memory session.
func (a *WhatsAppAdapter) Disconnect(conn *models.ChannelConnection) error {
	a.mu.Lock()
	session, exists := a.sessions[conn.ID]
	if exists {
		delete(a.sessions, conn.ID)
	}
	a.mu.Unlock()

	if exists && session.Client != nil {
		func() { defer func() { recover() }(); _ = session.Client.Logout(context.Background()) }()
		func() { defer func() { recover() }(); session.Client.Disconnect() }()
	}

	if os.Getenv("WA_STORE_DRIVER") == "" || os.Getenv("WA_STORE_DRIVER") == "sqlite" {
		storeFile := fmt.Sprintf("whatsapp_session_conn_%d.db", conn.ID)
		_ = os.Remove(storeFile)
		_ = os.Remove(storeFile + "-wal")
		_ = os.Remove(storeFile + "-shm")
	}

	return a.persistStatus(conn.ID, models.ConnectionStatusDisconnected, "")
}

func (a *WhatsAppAdapter) ConnectionStatus(conn *models.ChannelConnection) string {
	a.mu.RLock()
	session, exists := a.sessions[conn.ID]
	a.mu.RUnlock()
	if !exists {
		return conn.Status
	}
	session.mu.RLock()
	defer session.mu.RUnlock()
	return session.Status
}

// GetQRCode returns the current pairing QR for a connection, triggering a
// connect when none is pending.
func (a *WhatsAppAdapter) GetQRCode(conn *models.ChannelConnection) (string, error) {
	session, err := a.getOrCreateSession(conn)
	if err != nil {
		return "", err
	}

	session.mu.RLock()
	qr := session.QRCode
	status := session.Status
	session.mu.RUnlock()

	if qr == "" && status != "connected" && status != "scanning" && status != "connecting" {
		go func() {
			if err := a.Connect(conn); err != nil {
				logrus.Errorf("whatsapp: connection %d connect failed while fetching QR: %v", conn.ID, err)
			}
		}()
	}
	return qr, nil
}

// SendReply sends a natively quoted reply. Unofficial WhatsApp requires the
// original message key; there is no synthesized-quote fallback here.
func (a *WhatsAppAdapter) SendReply(ctx context.Context, req ReplyRequest) (*ProviderMessage, error) {
	if req.Options.QuotedMessage == nil {
		return nil, errors.New("No quoted message object provided for WhatsApp reply")
	}

	client, err := a.liveClient(req.Connection.ID)
	if err != nil {
		return nil, err
	}

	chatJID, err := a.chatJID(req)
	if err != nil {
		return nil, err
	}

	participant := req.Options.OriginalSender
	if participant == "" {
		participant = chatJID.String()
	}

	msg := &waProto.Message{
		ExtendedTextMessage: &waProto.ExtendedTextMessage{
			Text: proto.String(req.Content),
			ContextInfo: &waProto.ContextInfo{
				StanzaID:      proto.String(req.Options.OriginalMessageID),
				Participant:   proto.String(participant),
				QuotedMessage: &waProto.Message{Conversation: proto.String(req.Options.OriginalContent)},
			},
		},
	}

	resp, err := client.SendMessage(ctx, chatJID, msg)
	if err != nil {
		return nil, err
	}

	var meta WhatsAppMeta
	meta.WhatsAppMessage.Key = WhatsAppMessageKey{
		RemoteJID: chatJID.String(),
		FromMe:    true,
		ID:        resp.ID,
	}
	return &ProviderMessage{ExternalID: resp.ID, Metadata: encodeMeta(meta)}, nil
}

// SendMessage sends a plain text message outside the reply flow (campaigns,
// flow actions).
func (a *WhatsAppAdapter) SendMessage(ctx context.Context, conn *models.ChannelConnection, recipient, content string) (*ProviderMessage, error) {
	client, err := a.liveClient(conn.ID)
	if err != nil {
		return nil, err
	}
	jid, err := parseWhatsAppJID(recipient)
	if err != nil {
		return nil, err
	}
	resp, err := client.SendMessage(ctx, jid, &waProto.Message{Conversation: proto.String(content)})
	if err != nil {
		return nil, err
	}
	var meta WhatsAppMeta
	meta.WhatsAppMessage.Key = WhatsAppMessageKey{RemoteJID: jid.String(), FromMe: true, ID: resp.ID}
	return &ProviderMessage{ExternalID: resp.ID, Metadata: encodeMeta(meta)}, nil
}

// SendMediaMessage downloads the media and uploads it to WhatsApp as an
// image or document depending on MIME type.
func (a *WhatsAppAdapter) SendMediaMessage(ctx context.Context, conn *models.ChannelConnection, recipient, caption, mediaURL string) (*ProviderMessage, error) {
	client, err := a.liveClient(conn.ID)
	if err != nil {
		return nil, err
	}
	jid, err := parseWhatsAppJID(recipient)
	if err != nil {
		return nil, err
	}

	httpResp, err := http.Get(mediaURL)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch media: %v", err)
	}
	defer httpResp.Body.Close()
	data, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read media: %v", err)
	}
	mimeType := httpResp.Header.Get("Content-Type")

	var msg *waProto.Message
	if len(mimeType) >= 6 && mimeType[:6] == "image/" {
		uploaded, err := client.Upload(ctx, data, whatsmeow.MediaImage)
		if err != nil {
			return nil, err
		}
		msg = &waProto.Message{ImageMessage: &waProto.ImageMessage{
			Caption:       proto.String(caption),
			Mimetype:      proto.String(mimeType),
			URL:           proto.String(uploaded.URL),
			DirectPath:    proto.String(uploaded.DirectPath),
			MediaKey:      uploaded.MediaKey,
			FileEncSHA256: uploaded.FileEncSHA256,
			FileSHA256:    uploaded.FileSHA256,
			FileLength:    proto.Uint64(uploaded.FileLength),
		}}
	} else {
		uploaded, err := client.Upload(ctx, data, whatsmeow.MediaDocument)
		if err != nil {
			return nil, err
		}
		msg = &waProto.Message{DocumentMessage: &waProto.DocumentMessage{
			Caption:       proto.String(caption),
			Mimetype:      proto.String(mimeType),
			URL:           proto.String(uploaded.URL),
			DirectPath:    proto.String(uploaded.DirectPath),
			MediaKey:      uploaded.MediaKey,
			FileEncSHA256: uploaded.FileEncSHA256,
			FileSHA256:    uploaded.FileSHA256,
			FileLength:    proto.Uint64(uploaded.FileLength),
		}}
	}

	resp, err := client.SendMessage(ctx, jid, msg)
	if err != nil {
		return nil, err
	}
	var meta WhatsAppMeta
	meta.WhatsAppMessage.Key = WhatsAppMessageKey{RemoteJID: jid.String(), FromMe: true, ID: resp.ID}
	return &ProviderMessage{ExternalID: resp.ID, Metadata: encodeMeta(meta)}, nil
}

// DeleteMessage revokes a message for everyone. The protocol only honours
// revokes for about an hour, so a tighter window than the capability gate is
// enforced here.
func (a *WhatsAppAdapter) DeleteMessage(ctx context.Context, conn *models.ChannelConnection, conv *models.Conversation, msg *models.Message) error {
	ref := msg.CreatedAt
	if msg.SentAt != nil {
		ref = *msg.SentAt
	}
	if time.Since(ref) > whatsAppRevokeWindow {
		return errors.New("Message is too old to be deleted")
	}

	key, err := a.resolveMessageKey(conv, msg)
	if err != nil {
		return err
	}

	client, err := a.liveClient(conn.ID)
	if err != nil {
		return err
	}

	chatJID, err := types.ParseJID(key.RemoteJID)
	if err != nil {
		return fmt.Errorf("invalid remote JID %q: %v", key.RemoteJID, err)
	}

	_, err = client.SendMessage(ctx, chatJID, client.BuildRevoke(chatJID, types.EmptyJID, key.ID))
	return err
}

// resolveMessageKey prefers the stored provider key and synthesizes one from
// the conversation + external id when metadata is missing.
func (a *WhatsAppAdapter) resolveMessageKey(conv *models.Conversation, msg *models.Message) (*WhatsAppMessageKey, error) {
	var meta WhatsAppMeta
	if err := decodeMeta(msg, &meta); err == nil && meta.WhatsAppMessage.Key.ID != "" {
		return &meta.WhatsAppMessage.Key, nil
	}

	if msg.ExternalID == "" {
		return nil, errors.New("message has no provider message id")
	}

	remoteJID := conv.GroupJID
	if remoteJID == "" {
		if conv.ContactID == nil {
			return nil, errors.New("cannot resolve chat for message key")
		}
		contact, err := a.store.GetContact(*conv.ContactID)
		if err != nil {
			return nil, err
		}
		jid, err := parseWhatsAppJID(contact.Phone)
		if err != nil {
			return nil, err
		}
		remoteJID = jid.String()
	}

	return &WhatsAppMessageKey{
		RemoteJID: remoteJID,
		FromMe:    msg.Direction == models.DirectionOutbound,
		ID:        msg.ExternalID,
	}, nil
}

// handleEvent normalizes whatsmeow events into the canonical message model.
func (a *WhatsAppAdapter) handleEvent(session *waSession, evt interface{}) {
	switch v := evt.(type) {
	case *waEvents.Message:
		a.handleInboundMessage(session, v)
	case *waEvents.Disconnected:
		session.mu.Lock()
		session.Status = "disconnected"
		session.mu.Unlock()
		a.persistStatus(session.ConnectionID, models.ConnectionStatusDisconnected, "")
	case *waEvents.Connected:
		session.mu.Lock()
		session.Status = "connected"
		session.mu.Unlock()
		a.persistStatus(session.ConnectionID, models.ConnectionStatusActive, "")
	}
}

func (a *WhatsAppAdapter) handleInboundMessage(session *waSession, evt *waEvents.Message) {
	// Self-echo: our own sends come back through the event stream.
	if evt.Info.IsFromMe {
		return
	}

	// Idempotent webhook processing: the provider id is the dedupe key.
	if _, err := a.store.GetMessageByExternalID(evt.Info.ID); err == nil {
		return
	}

	content, msgType := extractWhatsAppContent(evt.Message)
	if content == "" && msgType == models.MessageTypeText {
		return
	}

	conv, err := a.ensureConversation(session, evt)
	if err != nil {
		logrus.Errorf("whatsapp: connection %d failed to materialize conversation: %v", session.ConnectionID, err)
		return
	}

	var meta WhatsAppMeta
	meta.WhatsAppMessage.Key = WhatsAppMessageKey{
		RemoteJID: evt.Info.Chat.String(),
		FromMe:    false,
		ID:        evt.Info.ID,
	}
	sentAt := evt.Info.Timestamp
	msg, err := a.store.CreateMessage(&models.Message{
		ConversationID: conv.ID,
		Direction:      models.DirectionInbound,
		SenderType:     models.SenderTypeContact,
		Type:           msgType,
		Content:        content,
		Status:         models.MessageStatusDelivered,
		ExternalID:     evt.Info.ID,
		Metadata:       encodeMeta(meta),
		SentAt:         &sentAt,
	})
	if err != nil {
		logrus.Errorf("whatsapp: connection %d failed to persist inbound message: %v", session.ConnectionID, err)
		return
	}

	if err := a.store.UpdateConversation(conv.ID, map[string]interface{}{"last_message_at": time.Now()}); err != nil {
		logrus.Warnf("whatsapp: failed to touch conversation %d: %v", conv.ID, err)
	}

	a.hub.PublishToCompany(session.CompanyID, realtime.Event{Type: "new_message", Data: msg})

	ctx := context.Background()
	if !conv.BotDisabled {
		if err := a.flows.HandleInbound(ctx, msg, conv); err != nil {
			logrus.Errorf("whatsapp: flow executor failed for message %d: %v", msg.ID, err)
		}
	}
	err = a.events.Publish(ctx, events.KeyMessageInbound, events.MessageEvent{
		CompanyID:      session.CompanyID,
		ConversationID: conv.ID,
		MessageID:      msg.ID,
		ChannelType:    string(ChannelWhatsApp),
		Direction:      msg.Direction,
		Kind:           msg.Type,
	})
	if err != nil {
		logrus.Warnf("whatsapp: event publish failed: %v", err)
	}
}

// ensureConversation get-or-creates the contact and conversation for an
// inbound event. Group chats key on the group JID, direct chats on the
// sender's phone number.
func (a *WhatsAppAdapter) ensureConversation(session *waSession, evt *waEvents.Message) (*models.Conversation, error) {
	if evt.Info.IsGroup {
		groupJID := evt.Info.Chat.String()
		conv, err := a.store.GetConversationByGroupJID(groupJID, session.ConnectionID)
		if err == nil {
			return conv, nil
		}
		return a.store.CreateConversation(&models.Conversation{
			CompanyID:   session.CompanyID,
			ChannelID:   session.ConnectionID,
			ChannelType: string(ChannelWhatsApp),
			IsGroup:     true,
			GroupJID:    groupJID,
			Status:      models.ConversationStatusOpen,
		})
	}

	phone := digitsOnly(evt.Info.Sender.User)
	name := evt.Info.PushName
	if name == "" {
		name = "+" + phone
	}
	contact, err := a.store.GetOrCreateContact(&models.Contact{
		CompanyID:      session.CompanyID,
		Identifier:     phone,
		IdentifierType: "phone",
		Name:           name,
		Phone:          phone,
	})
	if err != nil {
		return nil, err
	}

	conv, err := a.store.GetConversationByContactAndChannel(contact.ID, session.ConnectionID)
	if err == nil {
		return conv, nil
	}
	return a.store.CreateConversation(&models.Conversation{
		CompanyID:   session.CompanyID,
		ChannelID:   session.ConnectionID,
		ChannelType: string(ChannelWhatsApp),
		ContactID:   &contact.ID,
		Status:      models.ConversationStatusOpen,
	})
}

// extractWhatsAppContent classifies a raw proto message into the canonical
// (content, type) pair.
func extractWhatsAppContent(msg *waProto.Message) (string, string) {
	if msg == nil {
		return "", models.MessageTypeText
	}
	if text := msg.GetConversation(); text != "" {
		return text, models.MessageTypeText
	}
	if ext := msg.GetExtendedTextMessage(); ext != nil {
		return ext.GetText(), models.MessageTypeText
	}
	if img := msg.GetImageMessage(); img != nil {
		return img.GetCaption(), models.MessageTypeImage
	}
	if vid := msg.GetVideoMessage(); vid != nil {
		return vid.GetCaption(), models.MessageTypeVideo
	}
	if msg.GetAudioMessage() != nil {
		return "", models.MessageTypeAudio
	}
	if doc := msg.GetDocumentMessage(); doc != nil {
		return doc.GetFileName(), models.MessageTypeDocument
	}
	return "", models.MessageTypeText
}

func (a *WhatsAppAdapter) chatJID(req ReplyRequest) (types.JID, error) {
	if req.Conversation.IsGroup {
		return types.ParseJID(req.Conversation.GroupJID)
	}
	return parseWhatsAppJID(req.Recipient)
}

func parseWhatsAppJID(recipient string) (types.JID, error) {
	phone := digitsOnly(recipient)
	if phone == "" {
		return types.EmptyJID, fmt.Errorf("recipient %q has no phone digits", recipient)
	}
	return types.NewJID(phone, types.DefaultUserServer), nil
}

func (a *WhatsAppAdapter) getOrCreateSession(conn *models.ChannelConnection) (*waSession, error) {
	a.mu.RLock()
	session, exists := a.sessions[conn.ID]
	a.mu.RUnlock()
	if exists {
		return session, nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if session, exists = a.sessions[conn.ID]; exists {
		return session, nil
	}

	container, err := a.openStore(conn)
	if err != nil {
		return nil, err
	}
	session = &waSession{
		ConnectionID: conn.ID,
		CompanyID:    conn.CompanyID,
		Container:    container,
		Status:       "disconnected",
	}
	a.sessions[conn.ID] = session
	return session, nil
}

// openStore opens the whatsmeow device store for a connection. The driver is
// selected per connection config, falling back to the WA_STORE_* env pair,
// then to a per-connection sqlite file.
func (a *WhatsAppAdapter) openStore(conn *models.ChannelConnection) (*sqlstore.Container, error) {
	var cfg WhatsAppConfig
	if err := decodeConfig(conn, &cfg); err != nil {
		return nil, err
	}
	driver := cfg.StoreDriver
	if driver == "" {
		driver = os.Getenv("WA_STORE_DRIVER")
	}

	switch driver {
	case "postgres", "pgx":
		dsn := cfg.StoreDSN
		if dsn == "" {
			dsn = os.Getenv("WA_STORE_DSN")
		}
		if dsn == "" {
			return nil, errors.New("store DSN is required for the postgres whatsapp store")
		}
		return sqlstore.New(context.Background(), "pgx", dsn, nil)
	default:
		dsn := fmt.Sprintf("file:whatsapp_session_conn_%d.db?_pragma=foreign_keys(1)&_pragma=journal_mode=WAL&_pragma=synchronous=NORMAL", conn.ID)
		return sqlstore.New(context.Background(), "sqlite", dsn, nil)
	}
}

func (a *WhatsAppAdapter) clearDevices(session *waSession) {
	ctx := context.Background()
	devices, err := session.Container.GetAllDevices(ctx)
	if err != nil {
		logrus.Warnf("whatsapp: connection %d failed to list devices: %v", session.ConnectionID, err)
		return
	}
	for _, device := range devices {
		if err := session.Container.DeleteDevice(ctx, device); err != nil {
			logrus.Warnf("whatsapp: connection %d failed to delete device: %v", session.ConnectionID, err)
		}
	}
}

func (a *WhatsAppAdapter) liveClient(connectionID uint) (*whatsmeow.Client, error) {
	a.mu.RLock()
	session, exists := a.sessions[connectionID]
	a.mu.RUnlock()
	if !exists {
		return nil, errors.New("WhatsApp connection is not connected")
	}
	session.mu.RLock()
	defer session.mu.RUnlock()
	if session.Client == nil || !session.Client.IsConnected() {
		return nil, errors.New("WhatsApp connection is not connected")
	}
	return session.Client, nil
}

func (a *WhatsAppAdapter) persistStatus(connectionID uint, status, lastError string) error {
	patch := map[string]interface{}{"status": status}
	if lastError != "" {
		patch["last_error"] = lastError
	}
	return a.store.UpdateChannelConnection(connectionID, patch)
}

func (a *WhatsAppAdapter) markError(connectionID uint, err error) {
	if perr := a.persistStatus(connectionID, models.ConnectionStatusError, err.Error()); perr != nil {
		logrus.Warnf("whatsapp: connection %d failed to persist error state: %v", connectionID, perr)
	}
}
