package mailstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brandon/rss-bridge/pkg/types"
)

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, data, 0644))
}

func TestImportDir(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.eml"), rawMessage("top", "<top@example.com>"))
	writeFile(t, filepath.Join(root, "Blogs", "b.eml"), rawMessage("blog", "<blog@example.com>"))
	writeFile(t, filepath.Join(root, "Blogs", "bad.eml"), []byte("garbage line\r\n\r\n"))
	writeFile(t, filepath.Join(root, "Blogs", "notes.txt"), []byte("ignored"))
	writeFile(t, filepath.Join(root, "Trash", "c.eml"), rawMessage("gone", "<gone@example.com>"))

	store := newTestStore(t, 10)
	acct := types.Account{ID: "local", Name: "Local Feeds", Type: types.AccountTypeFeed}

	result, err := ImportDir(context.Background(), store, acct, root, testLogger())
	require.NoError(t, err)
	assert.Equal(t, 3, result.Imported)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, []string{"Blogs/bad.eml"}, result.FailedFiles)
	assert.Equal(t, 3, result.Folders)

	accounts, err := store.ListAccounts(context.Background())
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	assert.Equal(t, "Local Feeds", accounts[0].Name)

	paths := map[string]types.Folder{}
	for _, f := range accounts[0].Folders {
		paths[f.Path] = f
	}
	require.Contains(t, paths, "Blogs")
	require.Contains(t, paths, "Inbox")
	require.Contains(t, paths, "Trash")
	assert.Equal(t, types.FolderTypeTrash, paths["Trash"].Type)
	assert.Empty(t, paths["Blogs"].Type)

	page, err := store.ListMessages(context.Background(), paths["Inbox"].Ref(), "")
	require.NoError(t, err)
	require.Len(t, page.Messages, 1)
	assert.Equal(t, "top", page.Messages[0].Subject)
	assert.False(t, page.Messages[0].Read)
}

func TestImportDir_MissingRoot(t *testing.T) {
	store := newTestStore(t, 10)
	acct := types.Account{ID: "local", Name: "Local", Type: types.AccountTypeFeed}

	_, err := ImportDir(context.Background(), store, acct, filepath.Join(t.TempDir(), "missing"), testLogger())
	assert.Error(t, err)
}
