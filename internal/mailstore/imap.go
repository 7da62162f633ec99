package mailstore

import (
	"context"
	"fmt"
	"hash/crc32"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/emersion/go-imap"
	"github.com/sirupsen/logrus"

	"github.com/brandon/rss-bridge/internal/config"
	"github.com/brandon/rss-bridge/pkg/types"
)

// trashAttr is the RFC 6154 special-use attribute of trash mailboxes
const trashAttr = "\\Trash"

// Message ids keep to 53 bits so JSON consumers reading them as doubles
// get the exact value back: a 21-bit mailbox hash above the 32-bit UID.
const (
	mailboxHashBits = 21
	mailboxHashMask = 1<<mailboxHashBits - 1
)

// IMAPStore serves configured IMAP accounts as a mail store. Folder ids are
// mailbox names; message ids pack a mailbox hash and the message UID.
type IMAPStore struct {
	accounts []*imapAccount
	byID     map[string]*imapAccount
	logger   *logrus.Logger
	pageSize int

	mu        sync.RWMutex
	mailboxes map[uint32]mailboxEntry
	trees     map[string][]types.Folder
}

type imapAccount struct {
	config *config.AccountConfig
	client *IMAPClient
}

// mailboxEntry describes one mailbox seen in a LIST response
type mailboxEntry struct {
	account  string
	mailbox  string
	path     string
	noSelect bool
}

// NewIMAPStore creates a store over every configured account
func NewIMAPStore(cfg *config.Config, logger *logrus.Logger) *IMAPStore {
	s := &IMAPStore{
		byID:      make(map[string]*imapAccount),
		logger:    logger,
		pageSize:  cfg.PageSize,
		mailboxes: make(map[uint32]mailboxEntry),
		trees:     make(map[string][]types.Folder),
	}
	if s.pageSize < 1 {
		s.pageSize = DefaultPageSize
	}

	for i := range cfg.Accounts {
		accCfg := &cfg.Accounts[i]
		acct := &imapAccount{
			config: accCfg,
			client: NewIMAPClient(accCfg, logger),
		}
		s.accounts = append(s.accounts, acct)
		s.byID[accCfg.Name] = acct
	}
	return s
}

// Close closes all account connections
func (s *IMAPStore) Close() error {
	for _, acct := range s.accounts {
		if err := acct.client.Close(); err != nil {
			s.logger.WithError(err).WithField("account", acct.config.Name).Warn("Failed to close IMAP connection")
		}
	}
	return nil
}

// ListAccounts returns every configured account with its mailbox tree. An
// account whose server cannot be reached is returned without folders.
func (s *IMAPStore) ListAccounts(ctx context.Context) ([]types.Account, error) {
	accounts := make([]types.Account, 0, len(s.accounts))
	for _, acct := range s.accounts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		folders, err := s.folderTree(acct)
		if err != nil {
			s.logger.WithError(err).WithField("account", acct.config.Name).Warn("Failed to list mailboxes")
		}
		accounts = append(accounts, types.Account{
			ID:      acct.config.Name,
			Name:    acct.config.Name,
			Type:    acct.config.Type,
			Folders: folders,
		})
	}
	return accounts, nil
}

// GetFolder resolves a mailbox reference against the tree of the last
// ListAccounts call. A mailbox missing from it triggers one fresh LIST.
func (s *IMAPStore) GetFolder(ctx context.Context, ref types.FolderRef) (*types.Folder, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	acct, ok := s.byID[ref.AccountID]
	if !ok {
		return nil, fmt.Errorf("account %q: %w", ref.AccountID, ErrNotFound)
	}

	s.mu.RLock()
	cached := s.trees[acct.config.Name]
	s.mu.RUnlock()
	if folder := findFolder(cached, ref.ID); folder != nil {
		return folder, nil
	}

	folders, err := s.folderTree(acct)
	if err != nil {
		return nil, err
	}
	if folder := findFolder(folders, ref.ID); folder != nil {
		return folder, nil
	}
	return nil, fmt.Errorf("folder %q: %w", ref.ID, ErrNotFound)
}

// ListMessages returns one page of a mailbox, newest UID first. The page
// token is the lowest UID already returned; the next page holds the UIDs
// below it.
func (s *IMAPStore) ListMessages(ctx context.Context, ref types.FolderRef, pageToken string) (*types.MessagePage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	acct, ok := s.byID[ref.AccountID]
	if !ok {
		return nil, fmt.Errorf("account %q: %w", ref.AccountID, ErrNotFound)
	}

	var before uint32
	if pageToken != "" {
		n, err := strconv.ParseUint(pageToken, 10, 32)
		if err != nil || n == 0 {
			return nil, fmt.Errorf("invalid page token %q", pageToken)
		}
		before = uint32(n)
	}

	if entry, ok := s.lookup(mailboxHash(acct.config.Name, ref.ID)); ok && entry.noSelect {
		return &types.MessagePage{}, nil
	}

	uids, err := acct.client.ListUIDs(ref.ID)
	if err != nil {
		return nil, err
	}
	window, next := pageWindow(uids, before, s.pageSize)

	summaries, err := acct.client.FetchSummaries(ref.ID, window)
	if err != nil {
		return nil, err
	}

	page := &types.MessagePage{NextPage: next}
	for _, uid := range window {
		msg, ok := summaries[uid]
		if !ok {
			continue
		}
		page.Messages = append(page.Messages, toIMAPMessage(acct.config.Name, ref.ID, ref.Path, msg))
	}
	return page, nil
}

// GetMessage resolves a message by id
func (s *IMAPStore) GetMessage(ctx context.Context, id types.MessageID) (*types.Message, error) {
	acct, entry, uid, err := s.resolve(ctx, id)
	if err != nil {
		return nil, err
	}

	summaries, err := acct.client.FetchSummaries(entry.mailbox, []uint32{uid})
	if err != nil {
		return nil, err
	}
	msg, ok := summaries[uid]
	if !ok {
		return nil, fmt.Errorf("message %d: %w", id, ErrNotFound)
	}

	m := toIMAPMessage(entry.account, entry.mailbox, entry.path, msg)
	return &m, nil
}

// GetFullMessage fetches and parses the full message source
func (s *IMAPStore) GetFullMessage(ctx context.Context, id types.MessageID) (*types.MessageContent, error) {
	acct, entry, uid, err := s.resolve(ctx, id)
	if err != nil {
		return nil, err
	}

	raw, err := acct.client.FetchRaw(entry.mailbox, uid)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, fmt.Errorf("message %d: %w", id, ErrNotFound)
	}
	return ParseContent(raw)
}

// SetRead adds or removes the \Seen flag of a message
func (s *IMAPStore) SetRead(ctx context.Context, id types.MessageID, read bool) error {
	acct, entry, uid, err := s.resolve(ctx, id)
	if err != nil {
		return err
	}

	// UID STORE on a missing UID succeeds silently, so check first.
	summaries, err := acct.client.FetchSummaries(entry.mailbox, []uint32{uid})
	if err != nil {
		return err
	}
	if _, ok := summaries[uid]; !ok {
		return fmt.Errorf("message %d: %w", id, ErrNotFound)
	}
	return acct.client.StoreSeen(entry.mailbox, uid, read)
}

// resolve maps a message id to its account, mailbox and UID. Unknown
// mailbox hashes trigger one refresh of every account's mailbox list.
func (s *IMAPStore) resolve(ctx context.Context, id types.MessageID) (*imapAccount, mailboxEntry, uint32, error) {
	if err := ctx.Err(); err != nil {
		return nil, mailboxEntry{}, 0, err
	}
	hash, uid := splitMessageID(id)

	entry, ok := s.lookup(hash)
	if !ok {
		for _, acct := range s.accounts {
			if _, err := s.folderTree(acct); err != nil {
				s.logger.WithError(err).WithField("account", acct.config.Name).Debug("Failed to refresh mailboxes")
			}
		}
		entry, ok = s.lookup(hash)
	}
	if !ok {
		return nil, mailboxEntry{}, 0, fmt.Errorf("message %d: %w", id, ErrNotFound)
	}

	acct, ok := s.byID[entry.account]
	if !ok {
		return nil, mailboxEntry{}, 0, fmt.Errorf("message %d: %w", id, ErrNotFound)
	}
	return acct, entry, uid, nil
}

func (s *IMAPStore) lookup(hash uint32) (mailboxEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.mailboxes[hash]
	return entry, ok
}

// folderTree lists the account's mailboxes and records them for id lookups
func (s *IMAPStore) folderTree(acct *imapAccount) ([]types.Folder, error) {
	infos, err := acct.client.ListMailboxes()
	if err != nil {
		return nil, err
	}

	folders, entries := buildMailboxTree(acct.config.Name, infos)

	s.mu.Lock()
	s.trees[acct.config.Name] = folders
	for _, entry := range entries {
		hash := mailboxHash(entry.account, entry.mailbox)
		if prev, ok := s.mailboxes[hash]; ok && (prev.account != entry.account || prev.mailbox != entry.mailbox) {
			s.logger.WithFields(logrus.Fields{
				"account": entry.account,
				"mailbox": entry.mailbox,
				"other":   prev.mailbox,
			}).Warn("Mailbox hash collision")
		}
		s.mailboxes[hash] = entry
	}
	s.mu.Unlock()

	return folders, nil
}

// buildMailboxTree turns a flat LIST response into a folder forest. Paths
// are "/"-joined regardless of the server's delimiter; parents missing from
// the response are added as non-selectable folders.
func buildMailboxTree(accountID string, infos []*imap.MailboxInfo) ([]types.Folder, []mailboxEntry) {
	sorted := make([]*imap.MailboxInfo, len(infos))
	copy(sorted, infos)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	type node struct {
		folder   types.Folder
		entry    mailboxEntry
		children []*node
	}
	var roots []*node
	nodes := make(map[string]*node)
	var order []*node

	for _, info := range sorted {
		segments := []string{info.Name}
		if info.Delimiter != "" {
			segments = strings.Split(info.Name, info.Delimiter)
		}

		var parent *node
		for i, name := range segments {
			path := strings.Join(segments[:i+1], "/")
			n, ok := nodes[path]
			if !ok {
				mailbox := strings.Join(segments[:i+1], info.Delimiter)
				n = &node{
					folder: types.Folder{ID: mailbox, AccountID: accountID, Name: name, Path: path},
					entry:  mailboxEntry{account: accountID, mailbox: mailbox, path: path, noSelect: true},
				}
				nodes[path] = n
				order = append(order, n)
				if parent == nil {
					roots = append(roots, n)
				} else {
					parent.children = append(parent.children, n)
				}
			}
			parent = n
		}

		parent.entry.noSelect = hasAttr(info.Attributes, imap.NoSelectAttr)
		if hasAttr(info.Attributes, trashAttr) || strings.EqualFold(parent.folder.Name, "trash") {
			parent.folder.Type = types.FolderTypeTrash
		}
	}

	var build func(ns []*node) []types.Folder
	build = func(ns []*node) []types.Folder {
		var folders []types.Folder
		for _, n := range ns {
			folder := n.folder
			folder.SubFolders = build(n.children)
			folders = append(folders, folder)
		}
		return folders
	}

	entries := make([]mailboxEntry, 0, len(order))
	for _, n := range order {
		entries = append(entries, n.entry)
	}
	return build(roots), entries
}

func findFolder(folders []types.Folder, id string) *types.Folder {
	stack := make([]types.Folder, 0, len(folders))
	stack = append(stack, folders...)
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if f.ID == id {
			return &f
		}
		stack = append(stack, f.SubFolders...)
	}
	return nil
}

// pageWindow returns up to size UIDs below before (all UIDs when before is
// 0), newest first, and the token of the following page ("" when nothing
// older remains). uids must be ascending.
func pageWindow(uids []uint32, before uint32, size int) ([]uint32, string) {
	end := len(uids)
	if before != 0 {
		end = sort.Search(len(uids), func(i int) bool { return uids[i] >= before })
	}
	start := end - size
	if start < 0 {
		start = 0
	}
	if start == end {
		return nil, ""
	}

	window := make([]uint32, 0, end-start)
	for i := end - 1; i >= start; i-- {
		window = append(window, uids[i])
	}

	next := ""
	if start > 0 {
		next = strconv.FormatUint(uint64(uids[start]), 10)
	}
	return window, next
}

func mailboxHash(account, mailbox string) uint32 {
	return crc32.ChecksumIEEE([]byte(account+"\x00"+mailbox)) & mailboxHashMask
}

func makeMessageID(account, mailbox string, uid uint32) types.MessageID {
	return types.MessageID(uint64(mailboxHash(account, mailbox))<<32 | uint64(uid))
}

func splitMessageID(id types.MessageID) (hash uint32, uid uint32) {
	return uint32(uint64(id) >> 32), uint32(uint64(id))
}

func toIMAPMessage(account, mailbox, path string, msg *imap.Message) types.Message {
	m := types.Message{
		ID:      makeMessageID(account, mailbox, msg.Uid),
		Read:    hasAttr(msg.Flags, imap.SeenFlag),
		Flagged: hasAttr(msg.Flags, imap.FlaggedFlag),
		Size:    int64(msg.Size),
		Folder:  types.FolderRef{AccountID: account, ID: mailbox, Path: path},
	}

	if env := msg.Envelope; env != nil {
		m.Subject = env.Subject
		m.Date = env.Date
		if len(env.From) > 0 {
			addr := env.From[0]
			m.Author = addr.Address()
			if addr.PersonalName != "" {
				m.Author = fmt.Sprintf("%s <%s>", addr.PersonalName, addr.Address())
			}
		}
	}
	return m
}

func hasAttr(attrs []string, want string) bool {
	for _, a := range attrs {
		if strings.EqualFold(a, want) {
			return true
		}
	}
	return false
}
