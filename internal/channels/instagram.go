package channels

import (
	"context"
	"errors"
	"net/http"
	"time"

	"omnibox/internal/events"
	"omnibox/internal/flows"
	"omnibox/internal/models"
)

// InstagramAdapter sends Instagram DM replies through the Meta Send API.
// Same wire surface as Messenger; only the identifier namespace differs.
type InstagramAdapter struct {
	store  Store
	hub    Broadcaster
	flows  flows.Executor
	events events.Publisher

	httpClient *http.Client
	baseURL    string
}

func NewInstagramAdapter(store Store, hub Broadcaster, exec flows.Executor, pub events.Publisher) *InstagramAdapter {
	return &InstagramAdapter{
		store:      store,
		hub:        hub,
		flows:      exec,
		events:     pub,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    graphAPIBase,
	}
}

func (a *InstagramAdapter) Type() ChannelType { return ChannelInstagram }

func (a *InstagramAdapter) Connect(conn *models.ChannelConnection) error {
	var cfg MetaConfig
	if err := decodeConfig(conn, &cfg); err != nil {
		return err
	}
	if cfg.PageID == "" || cfg.AccessToken == "" {
		return errors.New("instagram connection requires page_id and access_token")
	}
	return a.store.UpdateChannelConnection(conn.ID, map[string]interface{}{
		"status": models.ConnectionStatusActive, "last_error": "",
	})
}

func (a *InstagramAdapter) Disconnect(conn *models.ChannelConnection) error {
	return a.store.UpdateChannelConnection(conn.ID, map[string]interface{}{
		"status": models.ConnectionStatusDisconnected,
	})
}

func (a *InstagramAdapter) ConnectionStatus(conn *models.ChannelConnection) string {
	return conn.Status
}

func (a *InstagramAdapter) SendReply(ctx context.Context, req ReplyRequest) (*ProviderMessage, error) {
	if req.Conversation.IsGroup {
		return nil, errors.New("Instagram does not support group chat replies")
	}

	var cfg MetaConfig
	if err := decodeConfig(req.Connection, &cfg); err != nil {
		return nil, err
	}

	body := mentionPrefix(req.Options.OriginalSender, req.Content)
	return sendMetaMessage(ctx, a.httpClient, a.baseURL, &cfg, req.Recipient, body)
}

func (a *InstagramAdapter) ProcessWebhook(ctx context.Context, conn *models.ChannelConnection, payload MetaWebhookPayload) error {
	return processMetaWebhook(ctx, cloudIngestDeps{
		store:  a.store,
		hub:    a.hub,
		flows:  a.flows,
		events: a.events,
	}, conn, string(ChannelInstagram), "instagram", payload)
}
