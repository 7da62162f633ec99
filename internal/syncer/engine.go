package syncer

import (
	"context"
	"errors"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/brandon/rss-bridge/internal/items"
	"github.com/brandon/rss-bridge/internal/mailstore"
	"github.com/brandon/rss-bridge/pkg/types"
)

// Options configures an Engine
type Options struct {
	// FeedAccountType is the account type tag that marks feed accounts.
	FeedAccountType string
	// FetchConcurrency bounds concurrent message loads within a page.
	FetchConcurrency int
}

// Engine runs the three query modes over every feed account
type Engine struct {
	store    mailstore.Store
	walker   *Walker
	feedType string
	logger   *logrus.Logger
}

// NewEngine creates a new sync engine
func NewEngine(store mailstore.Store, logger *logrus.Logger, opts Options) *Engine {
	feedType := opts.FeedAccountType
	if feedType == "" {
		feedType = types.AccountTypeFeed
	}
	return &Engine{
		store:    store,
		walker:   NewWalker(store, logger, opts.FetchConcurrency),
		feedType: feedType,
		logger:   logger,
	}
}

// UnreadBatch returns every unread item of every feed account, in
// account order then traversal order.
func (e *Engine) UnreadBatch(ctx context.Context) []types.Item {
	accounts, err := e.feedAccounts(ctx)
	if err != nil {
		e.logger.WithError(err).Error("Failed to list accounts for unread sync")
		return []types.Item{}
	}

	batch := []types.Item{}
	for _, acct := range accounts {
		found := e.walker.Walk(ctx, acct.Folders, acct, Selection{UnreadOnly: true})
		e.logger.WithFields(logrus.Fields{
			"account": acct.Name,
			"count":   len(found),
		}).Debug("Collected unread items")
		batch = append(batch, found...)
	}

	e.logger.WithField("count", len(batch)).Info("Unread sync complete")
	return batch
}

// SingleItem resolves one message by id regardless of its read state. The
// boolean is false when the id does not resolve.
func (e *Engine) SingleItem(ctx context.Context, id types.MessageID) (*types.Item, bool) {
	msg, err := e.store.GetMessage(ctx, id)
	if err != nil {
		if errors.Is(err, mailstore.ErrNotFound) {
			e.logger.WithField("message_id", id).Info("Item not found")
		} else {
			e.logger.WithError(err).WithField("message_id", id).Warn("Failed to get message")
		}
		return nil, false
	}

	acct := e.owningAccount(ctx, msg.Folder.AccountID)

	var folder types.Folder
	if live, err := e.store.GetFolder(ctx, msg.Folder); err != nil {
		e.logger.WithError(err).WithField("folder", msg.Folder.Path).Debug("Failed to resolve item folder")
	} else {
		folder = *live
	}

	content, err := e.store.GetFullMessage(ctx, id)
	if err != nil {
		e.logger.WithError(err).WithField("message_id", id).Warn("Failed to load message content")
		content = nil
	}

	item := items.Normalize(*msg, folder, content, acct)
	return &item, true
}

// FolderItems returns all items under folders whose path starts with
// path, across every feed account, newest first.
func (e *Engine) FolderItems(ctx context.Context, path string) []types.Item {
	accounts, err := e.feedAccounts(ctx)
	if err != nil {
		e.logger.WithError(err).WithField("folder", path).Error("Failed to list accounts for folder query")
		return []types.Item{}
	}

	batch := []types.Item{}
	for _, acct := range accounts {
		batch = append(batch, e.walker.Walk(ctx, acct.Folders, acct, Selection{PathPrefix: path})...)
	}

	sort.SliceStable(batch, func(i, j int) bool {
		return batch[i].Date.After(batch[j].Date)
	})

	e.logger.WithFields(logrus.Fields{
		"folder": path,
		"count":  len(batch),
	}).Info("Folder query complete")
	return batch
}

func (e *Engine) feedAccounts(ctx context.Context) ([]types.Account, error) {
	accounts, err := e.store.ListAccounts(ctx)
	if err != nil {
		return nil, err
	}

	var feeds []types.Account
	for _, acct := range accounts {
		if acct.IsFeed(e.feedType) {
			feeds = append(feeds, acct)
		}
	}
	return feeds, nil
}

// owningAccount finds an account by id, falling back to an empty
// placeholder.
func (e *Engine) owningAccount(ctx context.Context, accountID string) types.Account {
	accounts, err := e.store.ListAccounts(ctx)
	if err != nil {
		e.logger.WithError(err).Warn("Failed to list accounts for item")
		return types.Account{}
	}
	for _, acct := range accounts {
		if acct.ID == accountID {
			return acct
		}
	}
	return types.Account{}
}
