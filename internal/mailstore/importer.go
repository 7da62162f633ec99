package mailstore

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/brandon/rss-bridge/pkg/types"
)

// rootFolderName holds .eml files found directly in the import root
const rootFolderName = "Inbox"

// ImportResult contains statistics about an import run
type ImportResult struct {
	Folders     int
	Imported    int
	Failed      int
	FailedFiles []string
}

// ImportDir loads a directory tree of .eml files into an account of the
// local store. Directories become folders; a directory named Trash becomes
// a trash folder.
func ImportDir(ctx context.Context, store *SQLiteStore, acct types.Account, root string, logger *logrus.Logger) (*ImportResult, error) {
	if err := store.UpsertAccount(ctx, acct); err != nil {
		return nil, err
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute root path: %w", err)
	}

	result := &ImportResult{}
	folderIDs := make(map[string]string)

	ensure := func(path string) (string, error) {
		if id, ok := folderIDs[path]; ok {
			return id, nil
		}
		folderType := ""
		if strings.EqualFold(filepath.Base(path), "trash") {
			folderType = types.FolderTypeTrash
		}
		id, err := store.EnsureFolder(ctx, acct.ID, path, folderType)
		if err != nil {
			return "", err
		}
		folderIDs[path] = id
		result.Folders++
		return id, nil
	}

	err = filepath.WalkDir(absRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("error accessing path %s: %w", path, err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		rel, err := filepath.Rel(absRoot, path)
		if err != nil {
			return fmt.Errorf("failed to get relative path for %s: %w", path, err)
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if rel == "." {
				return nil
			}
			_, err := ensure(rel)
			return err
		}

		if strings.ToLower(filepath.Ext(path)) != ".eml" {
			return nil
		}

		folderPath := filepath.ToSlash(filepath.Dir(rel))
		if folderPath == "." {
			folderPath = rootFolderName
		}
		folderID, err := ensure(folderPath)
		if err != nil {
			return err
		}

		raw, err := os.ReadFile(path)
		if err == nil {
			_, err = store.AddMessage(ctx, folderID, raw, false)
		}
		if err != nil {
			logger.WithError(err).WithField("file", rel).Warn("Failed to import message")
			result.Failed++
			result.FailedFiles = append(result.FailedFiles, rel)
			return nil
		}
		result.Imported++
		return nil
	})
	if err != nil {
		return result, fmt.Errorf("failed to import directory: %w", err)
	}

	logger.WithFields(logrus.Fields{
		"account":  acct.Name,
		"folders":  result.Folders,
		"imported": result.Imported,
		"failed":   result.Failed,
	}).Info("Import complete")
	return result, nil
}
