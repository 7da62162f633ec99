package mailstore

import (
	"bufio"
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-message/textproto"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/brandon/rss-bridge/pkg/types"
)

// DefaultPageSize is the number of messages returned per page
const DefaultPageSize = 100

// SQLiteStore is a local folder store kept in a SQLite database. Messages
// are stored as raw RFC 822 blobs alongside their header summary.
type SQLiteStore struct {
	db       *sqlx.DB
	logger   *logrus.Logger
	pageSize int
}

type accountRow struct {
	ID   string `db:"id"`
	Name string `db:"name"`
	Type string `db:"type"`
}

type folderRow struct {
	ID        int64         `db:"id"`
	AccountID string        `db:"account_id"`
	ParentID  sql.NullInt64 `db:"parent_id"`
	Name      string        `db:"name"`
	Path      string        `db:"path"`
	Type      string        `db:"type"`
}

type messageRow struct {
	ID        int64  `db:"id"`
	FolderID  int64  `db:"folder_id"`
	AccountID string `db:"account_id"`
	Path      string `db:"path"`
	Subject   string `db:"subject"`
	Author    string `db:"author"`
	DateUnix  int64  `db:"date_unix"`
	Read      bool   `db:"read"`
	Flagged   bool   `db:"flagged"`
	Size      int64  `db:"size"`
}

// NewSQLiteStore opens (or creates) the store at dbPath
func NewSQLiteStore(dbPath string, pageSize int, logger *logrus.Logger) (*SQLiteStore, error) {
	if dbPath != ":memory:" {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
	}

	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection keeps :memory: databases shared and writes serialized.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	if pageSize < 1 {
		pageSize = DefaultPageSize
	}

	logger.WithField("path", dbPath).Info("Local folder store opened")
	return &SQLiteStore{db: db, logger: logger, pageSize: pageSize}, nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// ListAccounts returns every account with its folder forest
func (s *SQLiteStore) ListAccounts(ctx context.Context) ([]types.Account, error) {
	var accountRows []accountRow
	err := s.db.SelectContext(ctx, &accountRows, "SELECT id, name, type FROM accounts ORDER BY rowid")
	if err != nil {
		return nil, fmt.Errorf("failed to query accounts: %w", err)
	}

	var rows []folderRow
	err = s.db.SelectContext(ctx, &rows, "SELECT id, account_id, parent_id, name, path, type FROM folders ORDER BY path")
	if err != nil {
		return nil, fmt.Errorf("failed to query folders: %w", err)
	}

	byAccount := make(map[string][]folderRow)
	for _, row := range rows {
		byAccount[row.AccountID] = append(byAccount[row.AccountID], row)
	}
	accounts := make([]types.Account, 0, len(accountRows))
	for _, row := range accountRows {
		accounts = append(accounts, types.Account{
			ID:      row.ID,
			Name:    row.Name,
			Type:    row.Type,
			Folders: buildForest(byAccount[row.ID], 0),
		})
	}

	return accounts, nil
}

// GetFolder resolves a folder reference with its current subtree
func (s *SQLiteStore) GetFolder(ctx context.Context, ref types.FolderRef) (*types.Folder, error) {
	id, err := strconv.ParseInt(ref.ID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("folder %q: %w", ref.ID, ErrNotFound)
	}

	var row folderRow
	err = s.db.GetContext(ctx, &row, "SELECT id, account_id, parent_id, name, path, type FROM folders WHERE id = ?", id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("folder %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get folder: %w", err)
	}

	var rows []folderRow
	err = s.db.SelectContext(ctx, &rows,
		"SELECT id, account_id, parent_id, name, path, type FROM folders WHERE account_id = ? ORDER BY path",
		row.AccountID)
	if err != nil {
		return nil, fmt.Errorf("failed to query subfolders: %w", err)
	}

	folder := row.toFolder()
	folder.SubFolders = buildForest(rows, row.ID)
	return &folder, nil
}

// ListMessages returns one page of a folder's messages in insertion order.
// The page token is the id of the last message of the previous page.
func (s *SQLiteStore) ListMessages(ctx context.Context, ref types.FolderRef, pageToken string) (*types.MessagePage, error) {
	folderID, err := strconv.ParseInt(ref.ID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("folder %q: %w", ref.ID, ErrNotFound)
	}
	var exists int
	if err := s.db.GetContext(ctx, &exists, "SELECT COUNT(*) FROM folders WHERE id = ?", folderID); err != nil {
		return nil, fmt.Errorf("failed to look up folder: %w", err)
	}
	if exists == 0 {
		return nil, fmt.Errorf("folder %d: %w", folderID, ErrNotFound)
	}

	var after int64
	if pageToken != "" {
		after, err = strconv.ParseInt(pageToken, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid page token %q: %w", pageToken, err)
		}
	}

	var rows []messageRow
	query := `
		SELECT m.id, m.folder_id, f.account_id, f.path, m.subject, m.author, m.date_unix, m.read, m.flagged, m.size
		FROM messages m
		JOIN folders f ON m.folder_id = f.id
		WHERE m.folder_id = ? AND m.id > ?
		ORDER BY m.id
		LIMIT ?
	`
	if err := s.db.SelectContext(ctx, &rows, query, folderID, after, s.pageSize+1); err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}

	page := &types.MessagePage{}
	if len(rows) > s.pageSize {
		rows = rows[:s.pageSize]
		page.NextPage = strconv.FormatInt(rows[len(rows)-1].ID, 10)
	}
	for _, row := range rows {
		page.Messages = append(page.Messages, row.toMessage())
	}
	return page, nil
}

// GetMessage resolves a message by id
func (s *SQLiteStore) GetMessage(ctx context.Context, id types.MessageID) (*types.Message, error) {
	var row messageRow
	query := `
		SELECT m.id, m.folder_id, f.account_id, f.path, m.subject, m.author, m.date_unix, m.read, m.flagged, m.size
		FROM messages m
		JOIN folders f ON m.folder_id = f.id
		WHERE m.id = ?
	`
	if err := s.db.GetContext(ctx, &row, query, int64(id)); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("message %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get message: %w", err)
	}

	msg := row.toMessage()
	return &msg, nil
}

// GetFullMessage loads and parses the stored raw message
func (s *SQLiteStore) GetFullMessage(ctx context.Context, id types.MessageID) (*types.MessageContent, error) {
	var raw []byte
	if err := s.db.GetContext(ctx, &raw, "SELECT raw FROM messages WHERE id = ?", int64(id)); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("message %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to load message: %w", err)
	}
	return ParseContent(raw)
}

// SetRead sets the read flag of a message
func (s *SQLiteStore) SetRead(ctx context.Context, id types.MessageID, read bool) error {
	result, err := s.db.ExecContext(ctx, "UPDATE messages SET read = ? WHERE id = ?", read, int64(id))
	if err != nil {
		return fmt.Errorf("failed to update message: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update message: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("message %d: %w", id, ErrNotFound)
	}
	return nil
}

// UpsertAccount creates or renames an account
func (s *SQLiteStore) UpsertAccount(ctx context.Context, acct types.Account) error {
	query := `
		INSERT INTO accounts (id, name, type)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			type = excluded.type
	`
	if _, err := s.db.ExecContext(ctx, query, acct.ID, acct.Name, acct.Type); err != nil {
		return fmt.Errorf("failed to upsert account: %w", err)
	}
	return nil
}

// EnsureFolder creates every missing folder along a "/"-separated path and
// returns the id of the last one. folderType applies to a newly created
// last folder only.
func (s *SQLiteStore) EnsureFolder(ctx context.Context, accountID, path, folderType string) (string, error) {
	segments := strings.Split(strings.Trim(path, "/"), "/")
	if len(segments) == 0 || segments[0] == "" {
		return "", errors.New("empty folder path")
	}

	var parent sql.NullInt64
	for i, name := range segments {
		current := strings.Join(segments[:i+1], "/")

		var id int64
		err := s.db.GetContext(ctx, &id, "SELECT id FROM folders WHERE account_id = ? AND path = ?", accountID, current)
		if errors.Is(err, sql.ErrNoRows) {
			typ := ""
			if i == len(segments)-1 {
				typ = folderType
			}
			result, err := s.db.ExecContext(ctx,
				"INSERT INTO folders (account_id, parent_id, name, path, type) VALUES (?, ?, ?, ?, ?)",
				accountID, parent, name, current, typ)
			if err != nil {
				return "", fmt.Errorf("failed to create folder %s: %w", current, err)
			}
			if id, err = result.LastInsertId(); err != nil {
				return "", fmt.Errorf("failed to get folder ID: %w", err)
			}
		} else if err != nil {
			return "", fmt.Errorf("failed to look up folder %s: %w", current, err)
		}

		parent = sql.NullInt64{Int64: id, Valid: true}
	}

	return strconv.FormatInt(parent.Int64, 10), nil
}

// AddMessage stores a raw message in a folder. Subject, author, date and
// message id are read from the message header.
func (s *SQLiteStore) AddMessage(ctx context.Context, folderID string, raw []byte, read bool) (types.MessageID, error) {
	fid, err := strconv.ParseInt(folderID, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("folder %q: %w", folderID, ErrNotFound)
	}

	summary, err := summarize(raw)
	if err != nil {
		return 0, err
	}

	query := `
		INSERT INTO messages (folder_id, message_id, subject, author, date_unix, read, flagged, size, raw)
		VALUES (?, ?, ?, ?, ?, ?, 0, ?, ?)
	`
	result, err := s.db.ExecContext(ctx, query,
		fid,
		summary.messageID,
		summary.subject,
		summary.author,
		summary.date.UnixMilli(),
		read,
		len(raw),
		raw,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert message: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get message ID: %w", err)
	}
	return types.MessageID(id), nil
}

type headerSummary struct {
	messageID string
	subject   string
	author    string
	date      time.Time
}

// summarize reads the header block of a raw message.
func summarize(raw []byte) (headerSummary, error) {
	th, err := textproto.ReadHeader(bufio.NewReader(bytes.NewReader(raw)))
	if err != nil {
		return headerSummary{}, fmt.Errorf("failed to read message header: %w", err)
	}
	h := mail.Header{Header: message.Header{Header: th}}

	var sum headerSummary
	if sum.subject, err = h.Subject(); err != nil {
		sum.subject = h.Get("Subject")
	}
	if sum.messageID, err = h.MessageID(); err != nil || sum.messageID == "" {
		sum.messageID = strings.TrimSpace(h.Get("Message-Id"))
	}
	if sum.date, err = h.Date(); err != nil {
		sum.date = time.Time{}
	}

	if from, err := h.AddressList("From"); err == nil && len(from) > 0 {
		sum.author = from[0].Address
		if from[0].Name != "" {
			sum.author = fmt.Sprintf("%s <%s>", from[0].Name, from[0].Address)
		}
	} else {
		sum.author = h.Get("From")
	}

	return sum, nil
}

func (r folderRow) toFolder() types.Folder {
	return types.Folder{
		ID:        strconv.FormatInt(r.ID, 10),
		AccountID: r.AccountID,
		Name:      r.Name,
		Path:      r.Path,
		Type:      r.Type,
	}
}

func (r messageRow) toMessage() types.Message {
	return types.Message{
		ID:      types.MessageID(r.ID),
		Subject: r.Subject,
		Author:  r.Author,
		Date:    time.UnixMilli(r.DateUnix).UTC(),
		Read:    r.Read,
		Flagged: r.Flagged,
		Size:    r.Size,
		Folder: types.FolderRef{
			AccountID: r.AccountID,
			ID:        strconv.FormatInt(r.FolderID, 10),
			Path:      r.Path,
		},
	}
}

// buildForest assembles the folders whose parent is parentID (0 for roots).
func buildForest(rows []folderRow, parentID int64) []types.Folder {
	children := make(map[int64][]folderRow)
	for _, row := range rows {
		var pid int64
		if row.ParentID.Valid {
			pid = row.ParentID.Int64
		}
		children[pid] = append(children[pid], row)
	}

	var build func(id int64) []types.Folder
	build = func(id int64) []types.Folder {
		var folders []types.Folder
		for _, row := range children[id] {
			folder := row.toFolder()
			folder.SubFolders = build(row.ID)
			folders = append(folders, folder)
		}
		return folders
	}
	return build(parentID)
}
