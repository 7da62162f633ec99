package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/brandon/rss-bridge/internal/credential"
	"github.com/brandon/rss-bridge/pkg/types"
)

// Store backends
const (
	StoreIMAP   = "imap"
	StoreSQLite = "sqlite"
)

// Config holds the application configuration
type Config struct {
	// Mail store
	Store           string
	SQLitePath      string
	FeedAccountType string
	PageSize        int

	// Sync session
	RelayAddr        string
	SyncInterval     time.Duration
	ReconnectDelay   time.Duration
	FetchConcurrency int

	// Relay
	HTTPPort  int
	IndexPath string

	LogLevel string

	// Password keyring
	KeyringBackend      string
	KeyringDir          string
	KeyringFilePassword string

	// Accounts
	Accounts []AccountConfig
}

// AccountConfig holds configuration for a single IMAP account
type AccountConfig struct {
	Name string
	Type string

	IMAPHost     string
	IMAPPort     int
	IMAPUsername string
	IMAPPassword string
	IMAPTLS      bool
}

// PasswordFunc looks up the IMAP password of an account
type PasswordFunc func(account string) (string, error)

// LoadConfig loads configuration from environment variables and, when path
// is set, a YAML file. Environment variables take precedence.
func LoadConfig(path string) (*Config, error) {
	v, err := newViper(path)
	if err != nil {
		return nil, err
	}
	cfg := loadCommon(v)

	if cfg.Store != StoreIMAP {
		return cfg, nil
	}

	accounts, err := loadAccounts(v, cfg.FeedAccountType)
	if err != nil {
		return nil, fmt.Errorf("failed to load accounts: %w", err)
	}

	cfg.Accounts = accounts
	return cfg, nil
}

// ResolvePasswords fills in every IMAP password not set in the
// configuration using lookup
func (c *Config) ResolvePasswords(lookup PasswordFunc) error {
	for i := range c.Accounts {
		acc := &c.Accounts[i]
		if acc.IMAPPassword != "" {
			continue
		}
		secret, err := lookup(acc.Name)
		if err != nil {
			return fmt.Errorf("account %s: IMAP_PASSWORD not set and keyring lookup failed: %w", acc.Name, err)
		}
		acc.IMAPPassword = secret
	}
	return nil
}

// LoadRelayConfig loads the settings the relay needs; no accounts are read
func LoadRelayConfig(path string) (*Config, error) {
	v, err := newViper(path)
	if err != nil {
		return nil, err
	}
	return loadCommon(v), nil
}

func newViper(path string) (*viper.Viper, error) {
	v := viper.New()
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}
	return v, nil
}

func loadCommon(v *viper.Viper) *Config {
	return &Config{
		Store:            getString(v, "STORE", StoreIMAP),
		SQLitePath:       getString(v, "SQLITE_PATH", "/data/rss_bridge.db"),
		FeedAccountType:  getString(v, "FEED_ACCOUNT_TYPE", types.AccountTypeFeed),
		PageSize:         getInt(v, "PAGE_SIZE", 100),
		RelayAddr:        getString(v, "RELAY_ADDR", "127.0.0.1:7655"),
		SyncInterval:     getDuration(v, "SYNC_INTERVAL", time.Minute),
		ReconnectDelay:   getDuration(v, "RECONNECT_DELAY", 5*time.Second),
		FetchConcurrency: getInt(v, "FETCH_CONCURRENCY", 8),
		HTTPPort:         getInt(v, "HTTP_PORT", 7654),
		IndexPath:        getString(v, "INDEX_PATH", ""),
		LogLevel:         getString(v, "LOG_LEVEL", "info"),

		KeyringBackend:      getString(v, "KEYRING_BACKEND", ""),
		KeyringDir:          getString(v, "KEYRING_DIR", "~/.config/rss-bridge/credentials"),
		KeyringFilePassword: getString(v, "KEYRING_FILE_PASSWORD", ""),
	}
}

// loadAccounts loads IMAP account configurations
func loadAccounts(v *viper.Viper, feedType string) ([]AccountConfig, error) {
	// Single account configuration
	if getString(v, "IMAP_HOST", "") != "" {
		account, err := loadAccount(v, "", getString(v, "ACCOUNT_NAME", "default"), feedType)
		if err != nil {
			return nil, err
		}
		return []AccountConfig{*account}, nil
	}

	// Multiple accounts (ACCOUNT_1_*, ACCOUNT_2_*, etc.)
	var accounts []AccountConfig
	for num := 1; ; num++ {
		prefix := fmt.Sprintf("ACCOUNT_%d_", num)
		name := getString(v, prefix+"NAME", "")
		if name == "" {
			break
		}
		account, err := loadAccount(v, prefix, name, feedType)
		if err != nil {
			return nil, fmt.Errorf("account %d: %w", num, err)
		}
		accounts = append(accounts, *account)
	}

	if len(accounts) == 0 {
		return nil, errors.New("no accounts found in environment variables")
	}
	return accounts, nil
}

// loadAccount reads the IMAP settings of one account under prefix
func loadAccount(v *viper.Viper, prefix, name, feedType string) (*AccountConfig, error) {
	account := &AccountConfig{
		Name:         name,
		Type:         getString(v, prefix+"TYPE", feedType),
		IMAPHost:     getString(v, prefix+"IMAP_HOST", ""),
		IMAPPort:     getInt(v, prefix+"IMAP_PORT", 993),
		IMAPUsername: getString(v, prefix+"IMAP_USERNAME", ""),
		IMAPPassword: getString(v, prefix+"IMAP_PASSWORD", ""),
		IMAPTLS:      getBool(v, prefix+"IMAP_TLS", true),
	}

	if account.IMAPHost == "" {
		return nil, errors.New("IMAP_HOST is required")
	}
	if account.IMAPUsername == "" {
		return nil, errors.New("IMAP_USERNAME is required")
	}
	return account, nil
}

func getString(v *viper.Viper, key, defaultValue string) string {
	if value := v.GetString(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(v *viper.Viper, key string, defaultValue int) int {
	if v.IsSet(key) {
		return v.GetInt(key)
	}
	return defaultValue
}

func getBool(v *viper.Viper, key string, defaultValue bool) bool {
	if v.IsSet(key) {
		return v.GetBool(key)
	}
	return defaultValue
}

func getDuration(v *viper.Viper, key string, defaultValue time.Duration) time.Duration {
	if v.IsSet(key) {
		return v.GetDuration(key)
	}
	return defaultValue
}

// Validate validates the configuration
func (c *Config) Validate() error {
	switch c.Store {
	case StoreIMAP:
		if len(c.Accounts) == 0 {
			return errors.New("at least one account must be configured")
		}
	case StoreSQLite:
		if c.SQLitePath == "" {
			return errors.New("SQLITE_PATH is required")
		}
	default:
		return fmt.Errorf("STORE must be %q or %q", StoreIMAP, StoreSQLite)
	}

	if c.PageSize < 1 || c.PageSize > 1000 {
		return errors.New("PAGE_SIZE must be between 1 and 1000")
	}
	if c.FetchConcurrency < 1 {
		return errors.New("FETCH_CONCURRENCY must be positive")
	}
	if c.SyncInterval <= 0 {
		return errors.New("SYNC_INTERVAL must be positive")
	}
	if c.ReconnectDelay <= 0 {
		return errors.New("RECONNECT_DELAY must be positive")
	}
	if err := c.ValidateRelay(); err != nil {
		return err
	}
	if !credential.ValidBackend(c.KeyringBackend) {
		return fmt.Errorf("unknown KEYRING_BACKEND %q", c.KeyringBackend)
	}

	for i := range c.Accounts {
		acc := &c.Accounts[i]
		if acc.IMAPHost == "" {
			return fmt.Errorf("account %s: IMAP_HOST is required", acc.Name)
		}
		if acc.IMAPPort < 1 || acc.IMAPPort > 65535 {
			return fmt.Errorf("account %s: invalid IMAP_PORT", acc.Name)
		}
		if acc.IMAPPassword == "" {
			return fmt.Errorf("account %s: IMAP_PASSWORD is required", acc.Name)
		}
	}

	return nil
}

// ValidateRelay validates the settings used by the relay
func (c *Config) ValidateRelay() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return errors.New("invalid HTTP_PORT")
	}
	if c.RelayAddr == "" {
		return errors.New("RELAY_ADDR is required")
	}
	return nil
}

// AccountNames returns a list of all account names
func (c *Config) AccountNames() []string {
	names := make([]string, len(c.Accounts))
	for i := range c.Accounts {
		names[i] = c.Accounts[i].Name
	}
	return names
}
