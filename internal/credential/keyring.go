package credential

import (
	"errors"
	"fmt"
	"sync"

	"github.com/99designs/keyring"
)

const serviceName = "rss-bridge"

// Options selects where IMAP passwords are kept
type Options struct {
	// Backend forces one keyring backend ("keychain", "secret-service",
	// "wincred", "pass" or "file"); empty picks the first available.
	Backend string
	// FileDir is the directory of the file backend
	FileDir string
	// FilePassword unlocks the file backend; empty prompts on the terminal
	FilePassword string
}

var defaultBackends = []keyring.BackendType{
	keyring.KeychainBackend,
	keyring.SecretServiceBackend,
	keyring.WinCredBackend,
	keyring.PassBackend,
	keyring.FileBackend,
}

// ValidBackend reports whether name is a backend Options accepts
func ValidBackend(name string) bool {
	if name == "" {
		return true
	}
	for _, b := range defaultBackends {
		if string(b) == name {
			return true
		}
	}
	return false
}

// Store keeps per-account IMAP passwords. The keyring is opened on first use.
type Store struct {
	opts Options

	once sync.Once
	ring keyring.Keyring
	err  error
}

// New creates a password store
func New(opts Options) *Store {
	return &Store{opts: opts}
}

// NewWithKeyring creates a password store over an already opened keyring
func NewWithKeyring(ring keyring.Keyring) *Store {
	s := &Store{ring: ring}
	s.once.Do(func() {})
	return s
}

func (s *Store) open() (keyring.Keyring, error) {
	s.once.Do(func() {
		if !ValidBackend(s.opts.Backend) {
			s.err = fmt.Errorf("unknown keyring backend %q", s.opts.Backend)
			return
		}
		backends := defaultBackends
		if s.opts.Backend != "" {
			backends = []keyring.BackendType{keyring.BackendType(s.opts.Backend)}
		}

		prompt := keyring.PromptFunc(keyring.TerminalPrompt)
		if s.opts.FilePassword != "" {
			prompt = keyring.FixedStringPrompt(s.opts.FilePassword)
		}

		s.ring, s.err = keyring.Open(keyring.Config{
			ServiceName:              serviceName,
			AllowedBackends:          backends,
			FileDir:                  s.opts.FileDir,
			FilePasswordFunc:         prompt,
			KeychainTrustApplication: true,
		})
		if s.err != nil {
			s.err = fmt.Errorf("opening keyring: %w", s.err)
		}
	})
	return s.ring, s.err
}

// Password returns the stored IMAP password of an account
func (s *Store) Password(account string) (string, error) {
	ring, err := s.open()
	if err != nil {
		return "", err
	}

	item, err := ring.Get(passwordKey(account))
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return "", fmt.Errorf("no password stored for account %q", account)
	}
	if err != nil {
		return "", fmt.Errorf("getting password for account %q: %w", account, err)
	}
	return string(item.Data), nil
}

// SetPassword stores the IMAP password of an account
func (s *Store) SetPassword(account, password string) error {
	if password == "" {
		return errors.New("empty password")
	}
	ring, err := s.open()
	if err != nil {
		return err
	}

	err = ring.Set(keyring.Item{
		Key:         passwordKey(account),
		Label:       fmt.Sprintf("rss-bridge IMAP password (%s)", account),
		Description: "IMAP password",
		Data:        []byte(password),
	})
	if err != nil {
		return fmt.Errorf("setting password for account %q: %w", account, err)
	}
	return nil
}

// DeletePassword removes the IMAP password of an account
func (s *Store) DeletePassword(account string) error {
	ring, err := s.open()
	if err != nil {
		return err
	}
	if err := ring.Remove(passwordKey(account)); err != nil && !errors.Is(err, keyring.ErrKeyNotFound) {
		return fmt.Errorf("deleting password for account %q: %w", account, err)
	}
	return nil
}

func passwordKey(account string) string {
	return "imap/" + account
}
