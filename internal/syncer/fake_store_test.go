package syncer

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/brandon/rss-bridge/internal/mailstore"
	"github.com/brandon/rss-bridge/pkg/types"
)

// listFailure makes ListMessages fail from the given page index on.
type listFailure struct {
	page int
	err  error
}

type fakeStore struct {
	mu sync.Mutex

	accounts    []types.Account
	accountsErr error

	folders    map[string]types.Folder
	folderErr  map[string]error
	pages      map[string][]types.MessagePage
	listErr    map[string]listFailure
	messages   map[types.MessageID]types.Message
	contents   map[types.MessageID]*types.MessageContent
	contentErr map[types.MessageID]error
	delays     map[types.MessageID]time.Duration

	setReadErr   error
	setReadCalls []types.MessageID
	fullCalls    int
}

func newFakeStore(accounts ...types.Account) *fakeStore {
	f := &fakeStore{
		accounts:   accounts,
		folders:    make(map[string]types.Folder),
		folderErr:  make(map[string]error),
		pages:      make(map[string][]types.MessagePage),
		listErr:    make(map[string]listFailure),
		messages:   make(map[types.MessageID]types.Message),
		contents:   make(map[types.MessageID]*types.MessageContent),
		contentErr: make(map[types.MessageID]error),
		delays:     make(map[types.MessageID]time.Duration),
	}
	for _, acct := range accounts {
		f.index(acct.Folders)
	}
	return f
}

func (f *fakeStore) index(folders []types.Folder) {
	for _, folder := range folders {
		f.folders[folder.ID] = folder
		f.index(folder.SubFolders)
	}
}

// addMessages registers messages for a folder, split into pages of pageSize.
func (f *fakeStore) addMessages(folderID string, pageSize int, msgs ...types.Message) {
	folder := f.folders[folderID]
	var page types.MessagePage
	for i, msg := range msgs {
		msg.Folder = folder.Ref()
		f.messages[msg.ID] = msg
		f.contents[msg.ID] = &types.MessageContent{
			Headers: map[string][]string{"message-id": {fmt.Sprintf("<%d@example.com>", msg.ID)}},
			Parts:   []types.Part{{ContentType: "text/plain", Body: msg.Subject}},
		}
		page.Messages = append(page.Messages, msg)
		if len(page.Messages) == pageSize || i == len(msgs)-1 {
			f.pages[folderID] = append(f.pages[folderID], page)
			page = types.MessagePage{}
		}
	}
}

func (f *fakeStore) ListAccounts(ctx context.Context) ([]types.Account, error) {
	_ = ctx
	if f.accountsErr != nil {
		return nil, f.accountsErr
	}
	return f.accounts, nil
}

func (f *fakeStore) GetFolder(ctx context.Context, ref types.FolderRef) (*types.Folder, error) {
	_ = ctx
	if err := f.folderErr[ref.ID]; err != nil {
		return nil, err
	}
	folder, ok := f.folders[ref.ID]
	if !ok {
		return nil, mailstore.ErrNotFound
	}
	return &folder, nil
}

func (f *fakeStore) ListMessages(ctx context.Context, ref types.FolderRef, pageToken string) (*types.MessagePage, error) {
	_ = ctx
	idx := 0
	if pageToken != "" {
		n, err := strconv.Atoi(pageToken)
		if err != nil {
			return nil, err
		}
		idx = n
	}
	if failure, ok := f.listErr[ref.ID]; ok && idx >= failure.page {
		return nil, failure.err
	}

	pages := f.pages[ref.ID]
	if idx >= len(pages) {
		return &types.MessagePage{}, nil
	}
	page := pages[idx]
	if idx+1 < len(pages) {
		page.NextPage = strconv.Itoa(idx + 1)
	}
	return &page, nil
}

func (f *fakeStore) GetMessage(ctx context.Context, id types.MessageID) (*types.Message, error) {
	_ = ctx
	msg, ok := f.messages[id]
	if !ok {
		return nil, mailstore.ErrNotFound
	}
	return &msg, nil
}

func (f *fakeStore) GetFullMessage(ctx context.Context, id types.MessageID) (*types.MessageContent, error) {
	_ = ctx
	f.mu.Lock()
	f.fullCalls++
	delay := f.delays[id]
	err := f.contentErr[id]
	content := f.contents[id]
	f.mu.Unlock()

	time.Sleep(delay)
	if err != nil {
		return nil, err
	}
	if content == nil {
		return nil, mailstore.ErrNotFound
	}
	return content, nil
}

func (f *fakeStore) SetRead(ctx context.Context, id types.MessageID, read bool) error {
	_ = ctx
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setReadCalls = append(f.setReadCalls, id)
	if f.setReadErr != nil {
		return f.setReadErr
	}
	if msg, ok := f.messages[id]; ok {
		msg.Read = read
		f.messages[id] = msg
	}
	return nil
}

var _ mailstore.Store = (*fakeStore)(nil)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func day(n int) time.Time {
	return time.Date(2026, 10, n, 9, 0, 0, 0, time.UTC)
}

func itemIDs(batch []types.Item) []types.MessageID {
	ids := make([]types.MessageID, len(batch))
	for i, item := range batch {
		ids[i] = item.ID
	}
	return ids
}
