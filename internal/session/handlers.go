package session

import (
	"context"

	"github.com/brandon/rss-bridge/internal/channel"
	"github.com/brandon/rss-bridge/internal/syncer"
)

// unreadHandler answers with the unread batch of every feed account
type unreadHandler struct {
	action string
	syncer Syncer
}

func (h *unreadHandler) Action() string {
	return h.action
}

func (h *unreadHandler) Handle(ctx context.Context, _ channel.Request) (channel.Response, error) {
	return channel.NewRSSData(h.syncer.UnreadBatch(ctx))
}

// singleItemHandler looks one item up by id. Ids that do not parse or do
// not resolve are answered with null data.
type singleItemHandler struct {
	syncer Syncer
}

func (h *singleItemHandler) Action() string {
	return channel.ActionGetSingleItem
}

func (h *singleItemHandler) Handle(ctx context.Context, req channel.Request) (channel.Response, error) {
	id, ok := syncer.ParseID(string(req.ItemID))
	if !ok {
		return channel.NewSingleItemData(req.ItemID, nil)
	}
	item, found := h.syncer.SingleItem(ctx, id)
	if !found {
		item = nil
	}
	return channel.NewSingleItemData(req.ItemID, item)
}

// folderItemsHandler answers with every item under a folder path
type folderItemsHandler struct {
	syncer Syncer
}

func (h *folderItemsHandler) Action() string {
	return channel.ActionGetFolderItems
}

func (h *folderItemsHandler) Handle(ctx context.Context, req channel.Request) (channel.Response, error) {
	return channel.NewFolderData(req.FolderPath, h.syncer.FolderItems(ctx, req.FolderPath))
}

type markReadHandler struct {
	marker Marker
}

func (h *markReadHandler) Action() string {
	return channel.ActionMarkAsRead
}

func (h *markReadHandler) Handle(ctx context.Context, req channel.Request) (channel.Response, error) {
	return channel.NewMarkReadResult(req.ItemID, h.marker.MarkRead(ctx, string(req.ItemID))), nil
}
