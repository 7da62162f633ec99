package mailstore

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brandon/rss-bridge/pkg/types"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestStore(t *testing.T, pageSize int) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(":memory:", pageSize, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func rawMessage(subject, messageID string) []byte {
	return []byte("From: Feed Bot <bot@example.com>\r\n" +
		"Subject: " + subject + "\r\n" +
		"Message-ID: " + messageID + "\r\n" +
		"Date: Mon, 02 Jan 2006 15:04:05 +0000\r\n" +
		"Content-Base: https://example.com/" + subject + "\r\n" +
		"Content-Type: text/plain; charset=utf-8\r\n" +
		"\r\n" +
		"body of " + subject + "\r\n")
}

func seedFeeds(t *testing.T, store *SQLiteStore) string {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.UpsertAccount(ctx, types.Account{ID: "feeds", Name: "Feeds", Type: types.AccountTypeFeed}))
	folderID, err := store.EnsureFolder(ctx, "feeds", "Blogs/Go", "")
	require.NoError(t, err)
	_, err = store.EnsureFolder(ctx, "feeds", "Trash", types.FolderTypeTrash)
	require.NoError(t, err)
	return folderID
}

func TestSQLiteStore_ListAccounts(t *testing.T) {
	store := newTestStore(t, 10)
	seedFeeds(t, store)

	accounts, err := store.ListAccounts(context.Background())
	require.NoError(t, err)
	require.Len(t, accounts, 1)

	acct := accounts[0]
	assert.Equal(t, "Feeds", acct.Name)
	assert.True(t, acct.IsFeed(""))
	require.Len(t, acct.Folders, 2)

	blogs := acct.Folders[0]
	assert.Equal(t, "Blogs", blogs.Path)
	require.Len(t, blogs.SubFolders, 1)
	assert.Equal(t, "Go", blogs.SubFolders[0].Name)
	assert.Equal(t, "Blogs/Go", blogs.SubFolders[0].Path)

	assert.Equal(t, "Trash", acct.Folders[1].Path)
	assert.Equal(t, types.FolderTypeTrash, acct.Folders[1].Type)
}

func TestSQLiteStore_EnsureFolderIsIdempotent(t *testing.T) {
	store := newTestStore(t, 10)
	first := seedFeeds(t, store)

	again, err := store.EnsureFolder(context.Background(), "feeds", "/Blogs/Go/", "")
	require.NoError(t, err)
	assert.Equal(t, first, again)

	_, err = store.EnsureFolder(context.Background(), "feeds", "", "")
	assert.Error(t, err)
}

func TestSQLiteStore_GetFolder(t *testing.T) {
	store := newTestStore(t, 10)
	seedFeeds(t, store)
	ctx := context.Background()

	accounts, err := store.ListAccounts(ctx)
	require.NoError(t, err)
	blogs := accounts[0].Folders[0]

	folder, err := store.GetFolder(ctx, blogs.Ref())
	require.NoError(t, err)
	assert.Equal(t, "Blogs", folder.Name)
	require.Len(t, folder.SubFolders, 1)
	assert.Equal(t, "Blogs/Go", folder.SubFolders[0].Path)

	_, err = store.GetFolder(ctx, types.FolderRef{ID: "9999"})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = store.GetFolder(ctx, types.FolderRef{ID: "abc"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStore_AddAndGetMessage(t *testing.T) {
	store := newTestStore(t, 10)
	folderID := seedFeeds(t, store)
	ctx := context.Background()

	raw := rawMessage("hello", "<a1@example.com>")
	id, err := store.AddMessage(ctx, folderID, raw, false)
	require.NoError(t, err)

	msg, err := store.GetMessage(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, msg.ID)
	assert.Equal(t, "hello", msg.Subject)
	assert.Equal(t, "Feed Bot <bot@example.com>", msg.Author)
	assert.True(t, msg.Date.Equal(time.Date(2006, 1, 2, 15, 4, 5, 0, time.UTC)))
	assert.False(t, msg.Read)
	assert.Equal(t, int64(len(raw)), msg.Size)
	assert.Equal(t, "feeds", msg.Folder.AccountID)
	assert.Equal(t, folderID, msg.Folder.ID)
	assert.Equal(t, "Blogs/Go", msg.Folder.Path)

	content, err := store.GetFullMessage(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "<a1@example.com>", content.Header("message-id"))
	require.Len(t, content.Parts, 1)
	assert.Equal(t, "https://example.com/hello", content.Parts[0].Header("content-base"))
	assert.Equal(t, "text/plain", content.Parts[0].ContentType)
	assert.Contains(t, content.Parts[0].Body, "body of hello")
}

func TestSQLiteStore_MissingMessage(t *testing.T) {
	store := newTestStore(t, 10)
	ctx := context.Background()

	_, err := store.GetMessage(ctx, 42)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = store.GetFullMessage(ctx, 42)
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, store.SetRead(ctx, 42, true), ErrNotFound)

	_, err = store.AddMessage(ctx, "nope", rawMessage("x", "<x@example.com>"), false)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStore_ListMessagesPagination(t *testing.T) {
	store := newTestStore(t, 2)
	folderID := seedFeeds(t, store)
	ctx := context.Background()

	var want []types.MessageID
	for _, subject := range []string{"a", "b", "c", "d", "e"} {
		id, err := store.AddMessage(ctx, folderID, rawMessage(subject, "<"+subject+"@example.com>"), false)
		require.NoError(t, err)
		want = append(want, id)
	}

	ref := types.FolderRef{AccountID: "feeds", ID: folderID, Path: "Blogs/Go"}
	var got []types.MessageID
	pages := 0
	token := ""
	for {
		page, err := store.ListMessages(ctx, ref, token)
		require.NoError(t, err)
		pages++
		for _, msg := range page.Messages {
			got = append(got, msg.ID)
		}
		if page.NextPage == "" {
			break
		}
		require.Less(t, pages, 10, "pagination did not terminate")
		token = page.NextPage
	}

	assert.Equal(t, want, got)
	assert.Equal(t, 3, pages)
}

func TestSQLiteStore_ListMessagesExactPageMultiple(t *testing.T) {
	store := newTestStore(t, 2)
	folderID := seedFeeds(t, store)
	ctx := context.Background()

	for _, subject := range []string{"a", "b", "c", "d"} {
		_, err := store.AddMessage(ctx, folderID, rawMessage(subject, "<"+subject+"@example.com>"), false)
		require.NoError(t, err)
	}

	ref := types.FolderRef{ID: folderID}
	first, err := store.ListMessages(ctx, ref, "")
	require.NoError(t, err)
	assert.Len(t, first.Messages, 2)
	require.NotEmpty(t, first.NextPage)

	second, err := store.ListMessages(ctx, ref, first.NextPage)
	require.NoError(t, err)
	assert.Len(t, second.Messages, 2)
	assert.Empty(t, second.NextPage)
}

func TestSQLiteStore_ListMessagesErrors(t *testing.T) {
	store := newTestStore(t, 2)
	folderID := seedFeeds(t, store)
	ctx := context.Background()

	_, err := store.ListMessages(ctx, types.FolderRef{ID: "9999"}, "")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = store.ListMessages(ctx, types.FolderRef{ID: folderID}, "not-a-token")
	assert.Error(t, err)

	page, err := store.ListMessages(ctx, types.FolderRef{ID: folderID}, "")
	require.NoError(t, err)
	assert.Empty(t, page.Messages)
	assert.Empty(t, page.NextPage)
}

func TestSQLiteStore_SetReadIsIdempotent(t *testing.T) {
	store := newTestStore(t, 10)
	folderID := seedFeeds(t, store)
	ctx := context.Background()

	id, err := store.AddMessage(ctx, folderID, rawMessage("hello", "<a1@example.com>"), false)
	require.NoError(t, err)

	require.NoError(t, store.SetRead(ctx, id, true))
	require.NoError(t, store.SetRead(ctx, id, true))

	msg, err := store.GetMessage(ctx, id)
	require.NoError(t, err)
	assert.True(t, msg.Read)

	require.NoError(t, store.SetRead(ctx, id, false))
	msg, err = store.GetMessage(ctx, id)
	require.NoError(t, err)
	assert.False(t, msg.Read)
}
