package mailstore

import (
	"crypto/tls"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/sirupsen/logrus"

	"github.com/brandon/rss-bridge/internal/config"
)

// IMAPClient wraps an IMAP client connection for one account. Commands are
// serialized; the connection is opened lazily and re-opened after the
// server drops it.
type IMAPClient struct {
	config   *config.AccountConfig
	client   *client.Client
	logger   *logrus.Logger
	mu       sync.Mutex
	selected string
}

// NewIMAPClient creates a new IMAP client (does not connect immediately)
func NewIMAPClient(cfg *config.AccountConfig, logger *logrus.Logger) *IMAPClient {
	return &IMAPClient{
		config: cfg,
		logger: logger,
	}
}

// connect establishes a connection to the IMAP server. Callers hold c.mu.
func (c *IMAPClient) connect() error {
	if c.client != nil {
		if c.client.State() != imap.LogoutState {
			return nil
		}
		c.client = nil
		c.selected = ""
	}

	addr := fmt.Sprintf("%s:%d", c.config.IMAPHost, c.config.IMAPPort)

	var (
		cl  *client.Client
		err error
	)
	if c.config.IMAPTLS {
		cl, err = client.DialTLS(addr, &tls.Config{
			ServerName: c.config.IMAPHost,
			MinVersion: tls.VersionTLS12,
		})
	} else {
		cl, err = client.Dial(addr)
	}
	if err != nil {
		return fmt.Errorf("failed to connect to IMAP server: %w", err)
	}

	if err := cl.Login(c.config.IMAPUsername, c.config.IMAPPassword); err != nil {
		c.logger.WithError(err).WithField("account", c.config.Name).Error("Failed to login to IMAP server")
		cl.Logout() //nolint:errcheck
		return fmt.Errorf("failed to login to IMAP server: %w", err)
	}

	c.client = cl
	c.logger.WithField("account", c.config.Name).Info("Connected to IMAP server")
	return nil
}

// selectMailbox selects a mailbox read-write unless it is already selected.
// Callers hold c.mu.
func (c *IMAPClient) selectMailbox(name string) error {
	if err := c.connect(); err != nil {
		return err
	}
	if c.selected == name {
		return nil
	}
	if _, err := c.client.Select(name, false); err != nil {
		c.selected = ""
		return fmt.Errorf("failed to select folder %s: %w", name, err)
	}
	c.selected = name
	return nil
}

// Close closes the IMAP connection
func (c *IMAPClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client == nil {
		return nil
	}
	err := c.client.Logout()
	c.client = nil
	c.selected = ""
	return err
}

// ListMailboxes lists all mailboxes of the account
func (c *IMAPClient) ListMailboxes() ([]*imap.MailboxInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.connect(); err != nil {
		return nil, err
	}

	mailboxes := make(chan *imap.MailboxInfo, 10)
	done := make(chan error, 1)
	go func() {
		done <- c.client.List("", "*", mailboxes)
	}()

	var infos []*imap.MailboxInfo
	for m := range mailboxes {
		infos = append(infos, m)
	}
	if err := <-done; err != nil {
		return nil, fmt.Errorf("failed to list folders: %w", err)
	}
	return infos, nil
}

// ListUIDs returns every UID in a mailbox in ascending order
func (c *IMAPClient) ListUIDs(mailbox string) ([]uint32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.selectMailbox(mailbox); err != nil {
		return nil, err
	}

	uids, err := c.client.UidSearch(imap.NewSearchCriteria())
	if err != nil {
		return nil, fmt.Errorf("failed to search folder %s: %w", mailbox, err)
	}
	sort.Slice(uids, func(i, j int) bool { return uids[i] < uids[j] })
	return uids, nil
}

// FetchSummaries fetches envelope, flags and size of the given UIDs. The
// result is keyed by UID; expunged messages are absent.
func (c *IMAPClient) FetchSummaries(mailbox string, uids []uint32) (map[uint32]*imap.Message, error) {
	items := []imap.FetchItem{imap.FetchEnvelope, imap.FetchFlags, imap.FetchRFC822Size, imap.FetchUid}
	return c.fetch(mailbox, uids, items)
}

// FetchRaw fetches the full RFC 822 source of a message without setting
// the \Seen flag. A nil slice means the UID does not exist.
func (c *IMAPClient) FetchRaw(mailbox string, uid uint32) ([]byte, error) {
	section := &imap.BodySectionName{Peek: true}
	msgs, err := c.fetch(mailbox, []uint32{uid}, []imap.FetchItem{imap.FetchUid, section.FetchItem()})
	if err != nil {
		return nil, err
	}

	msg, ok := msgs[uid]
	if !ok {
		return nil, nil
	}
	literal := msg.GetBody(section)
	if literal == nil {
		return []byte{}, nil
	}
	raw, err := io.ReadAll(literal)
	if err != nil {
		return nil, fmt.Errorf("failed to read message body: %w", err)
	}
	return raw, nil
}

func (c *IMAPClient) fetch(mailbox string, uids []uint32, items []imap.FetchItem) (map[uint32]*imap.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	result := make(map[uint32]*imap.Message, len(uids))
	if len(uids) == 0 {
		return result, nil
	}
	if err := c.selectMailbox(mailbox); err != nil {
		return nil, err
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uids...)

	messages := make(chan *imap.Message, 10)
	done := make(chan error, 1)
	go func() {
		done <- c.client.UidFetch(seqSet, items, messages)
	}()

	for msg := range messages {
		result[msg.Uid] = msg
	}
	if err := <-done; err != nil {
		return nil, fmt.Errorf("failed to fetch messages: %w", err)
	}
	return result, nil
}

// StoreSeen adds or removes the \Seen flag of a message
func (c *IMAPClient) StoreSeen(mailbox string, uid uint32, seen bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.selectMailbox(mailbox); err != nil {
		return err
	}

	var op imap.FlagsOp = imap.RemoveFlags
	if seen {
		op = imap.AddFlags
	}
	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uid)

	item := imap.FormatFlagsOp(op, true)
	if err := c.client.UidStore(seqSet, item, []interface{}{imap.SeenFlag}, nil); err != nil {
		return fmt.Errorf("failed to store flags: %w", err)
	}
	return nil
}
