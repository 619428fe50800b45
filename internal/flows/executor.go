// Package flows is the handoff point between inbound message processing and
// the automation engine. The channel layer only knows this interface; a
// failing executor must never fail message persistence.
package flows

import (
	"context"

	"omnibox/internal/models"

	"github.com/sirupsen/logrus"
)

// Executor receives every persisted inbound message for a conversation whose
// bot is not disabled.
type Executor interface {
	HandleInbound(ctx context.Context, msg *models.Message, conv *models.Conversation) error
}

// LogExecutor is the default executor when no automation engine is wired in.
type LogExecutor struct{}

func (LogExecutor) HandleInbound(_ context.Context, msg *models.Message, conv *models.Conversation) error {
	logrus.Debugf("flows: inbound message %d on conversation %d (%s), no executor configured",
		msg.ID, conv.ID, conv.ChannelType)
	return nil
}
