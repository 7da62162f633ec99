package mailstore

import (
	"context"
	"errors"

	"github.com/brandon/rss-bridge/pkg/types"
)

// ErrNotFound is returned when a folder or message reference does not resolve
var ErrNotFound = errors.New("not found")

// Store is the mail store the bridge reads from. Accounts, folders and
// messages are owned by the store; the bridge only reads them and flips the
// read flag.
type Store interface {
	// ListAccounts returns every account with its folder forest.
	ListAccounts(ctx context.Context) ([]types.Account, error)

	// GetFolder resolves a folder reference to the live folder, including
	// its current subfolders.
	GetFolder(ctx context.Context, ref types.FolderRef) (*types.Folder, error)

	// ListMessages returns one page of a folder's messages. An empty
	// pageToken requests the first page.
	ListMessages(ctx context.Context, ref types.FolderRef, pageToken string) (*types.MessagePage, error)

	// GetMessage resolves a message id regardless of its read state.
	GetMessage(ctx context.Context, id types.MessageID) (*types.Message, error)

	// GetFullMessage loads headers and the MIME part tree of a message.
	GetFullMessage(ctx context.Context, id types.MessageID) (*types.MessageContent, error)

	// SetRead sets or clears the read flag of a single message.
	SetRead(ctx context.Context, id types.MessageID, read bool) error
}
