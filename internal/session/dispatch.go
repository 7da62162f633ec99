package session

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/brandon/rss-bridge/internal/channel"
	"github.com/brandon/rss-bridge/pkg/types"
)

// Syncer runs the sync queries
type Syncer interface {
	UnreadBatch(ctx context.Context) []types.Item
	SingleItem(ctx context.Context, id types.MessageID) (*types.Item, bool)
	FolderItems(ctx context.Context, path string) []types.Item
}

// Marker applies read-state mutations
type Marker interface {
	MarkRead(ctx context.Context, rawID string) bool
}

// Handler answers one inbound action
type Handler interface {
	Action() string
	Handle(ctx context.Context, req channel.Request) (channel.Response, error)
}

// Registry maps inbound actions to their handlers
type Registry struct {
	logger   *logrus.Logger
	handlers map[string]Handler
}

// NewRegistry creates a registry with every supported action
func NewRegistry(syncer Syncer, marker Marker, logger *logrus.Logger) *Registry {
	reg := &Registry{
		logger:   logger,
		handlers: make(map[string]Handler),
	}

	handlerList := []Handler{
		&unreadHandler{action: channel.ActionGetUnreadRSS, syncer: syncer},
		&unreadHandler{action: channel.ActionRefresh, syncer: syncer},
		&singleItemHandler{syncer: syncer},
		&folderItemsHandler{syncer: syncer},
		&markReadHandler{marker: marker},
	}
	for _, h := range handlerList {
		reg.handlers[h.Action()] = h
		logger.WithField("action", h.Action()).Debug("Registered handler")
	}

	return reg
}

// Get returns the handler of an action
func (r *Registry) Get(action string) (Handler, bool) {
	h, ok := r.handlers[action]
	return h, ok
}
