package syncer

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc/iter"

	"github.com/brandon/rss-bridge/internal/items"
	"github.com/brandon/rss-bridge/internal/mailstore"
	"github.com/brandon/rss-bridge/pkg/types"
)

// DefaultFetchConcurrency bounds the per-page message fetch fan-out
const DefaultFetchConcurrency = 8

// Selection controls which messages a walk collects
type Selection struct {
	// UnreadOnly drops read messages.
	UnreadOnly bool
	// PathPrefix, when set, limits collection to folders whose path
	// starts with it. Subfolders are still visited either way.
	PathPrefix string
}

func (s Selection) matches(folder *types.Folder) bool {
	return s.PathPrefix == "" || strings.HasPrefix(folder.Path, s.PathPrefix)
}

// Walker traverses an account's folder forest and turns the selected
// messages into items
type Walker struct {
	store       mailstore.Store
	logger      *logrus.Logger
	concurrency int
}

// NewWalker creates a new walker. A concurrency below one falls back to
// DefaultFetchConcurrency.
func NewWalker(store mailstore.Store, logger *logrus.Logger, concurrency int) *Walker {
	if concurrency < 1 {
		concurrency = DefaultFetchConcurrency
	}
	return &Walker{
		store:       store,
		logger:      logger,
		concurrency: concurrency,
	}
}

// Walk visits folders depth-first in pre-order and returns the items of
// every selected message in traversal order. Trash folders and everything
// beneath them are skipped. Failures are logged and skip the affected
// folder subtree or message only.
func (w *Walker) Walk(ctx context.Context, folders []types.Folder, acct types.Account, sel Selection) []types.Item {
	var batch []types.Item

	stack := make([]types.Folder, 0, len(folders))
	stack = pushReversed(stack, folders)

	for len(stack) > 0 {
		if ctx.Err() != nil {
			return batch
		}

		ref := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		folder, err := w.store.GetFolder(ctx, ref.Ref())
		if err != nil {
			w.logger.WithError(err).WithFields(logrus.Fields{
				"account": acct.Name,
				"folder":  ref.Path,
			}).Warn("Failed to resolve folder, skipping subtree")
			continue
		}

		if folder.Type == types.FolderTypeTrash {
			continue
		}

		if sel.matches(folder) {
			batch = append(batch, w.collectFolder(ctx, folder, acct, sel)...)
		}

		stack = pushReversed(stack, folder.SubFolders)
	}

	return batch
}

// collectFolder pages through a folder's messages.
func (w *Walker) collectFolder(ctx context.Context, folder *types.Folder, acct types.Account, sel Selection) []types.Item {
	var batch []types.Item
	token := ""

	for {
		page, err := w.store.ListMessages(ctx, folder.Ref(), token)
		if err != nil {
			w.logger.WithError(err).WithFields(logrus.Fields{
				"account": acct.Name,
				"folder":  folder.Path,
			}).Warn("Failed to list messages")
			return batch
		}

		batch = append(batch, w.collectPage(ctx, page.Messages, folder, acct, sel)...)

		if page.NextPage == "" {
			return batch
		}
		if page.NextPage == token {
			w.logger.WithFields(logrus.Fields{
				"folder": folder.Path,
				"token":  token,
			}).Warn("Message list did not advance, stopping pagination")
			return batch
		}
		token = page.NextPage
	}
}

type fetchResult struct {
	item types.Item
	ok   bool
}

// collectPage fetches full content for the selected messages of one page
// concurrently and returns their items in page order.
func (w *Walker) collectPage(ctx context.Context, messages []types.Message, folder *types.Folder, acct types.Account, sel Selection) []types.Item {
	selected := make([]types.Message, 0, len(messages))
	for _, msg := range messages {
		if sel.UnreadOnly && msg.Read {
			continue
		}
		selected = append(selected, msg)
	}
	if len(selected) == 0 {
		return nil
	}

	mapper := iter.Mapper[types.Message, fetchResult]{MaxGoroutines: w.concurrency}
	results := mapper.Map(selected, func(msg *types.Message) fetchResult {
		content, err := w.store.GetFullMessage(ctx, msg.ID)
		if err != nil {
			w.logger.WithError(err).WithFields(logrus.Fields{
				"folder":     folder.Path,
				"message_id": msg.ID,
			}).Warn("Failed to load message, dropping it")
			return fetchResult{}
		}
		return fetchResult{item: items.Normalize(*msg, *folder, content, acct), ok: true}
	})

	batch := make([]types.Item, 0, len(results))
	for _, r := range results {
		if r.ok {
			batch = append(batch, r.item)
		}
	}
	return batch
}

func pushReversed(stack []types.Folder, folders []types.Folder) []types.Folder {
	for i := len(folders) - 1; i >= 0; i-- {
		stack = append(stack, folders[i])
	}
	return stack
}
