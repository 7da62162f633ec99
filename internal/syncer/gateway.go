package syncer

import (
	"context"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/brandon/rss-bridge/internal/mailstore"
	"github.com/brandon/rss-bridge/pkg/types"
)

// Gateway applies read-state changes to single messages
type Gateway struct {
	store  mailstore.Store
	logger *logrus.Logger
}

// NewGateway creates a new mutation gateway
func NewGateway(store mailstore.Store, logger *logrus.Logger) *Gateway {
	return &Gateway{store: store, logger: logger}
}

// ParseID parses a numeric message id.
func ParseID(raw string) (types.MessageID, bool) {
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return types.MessageID(id), true
}

// MarkRead sets the read flag of the message with the given id. Ids that
// are not numeric are rejected without touching the store.
func (g *Gateway) MarkRead(ctx context.Context, rawID string) bool {
	id, ok := ParseID(rawID)
	if !ok {
		g.logger.WithField("item_id", rawID).Warn("Rejected mark-read for non-numeric id")
		return false
	}

	if err := g.store.SetRead(ctx, id, true); err != nil {
		g.logger.WithError(err).WithField("message_id", id).Warn("Failed to mark message as read")
		return false
	}

	g.logger.WithField("message_id", id).Info("Marked message as read")
	return true
}
