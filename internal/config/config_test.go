package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noPasswords(account string) (string, error) {
	return "", errors.New("no keyring")
}

func TestLoadConfig_SingleAccountDefaults(t *testing.T) {
	t.Setenv("IMAP_HOST", "imap.example.com")
	t.Setenv("IMAP_USERNAME", "reader")
	t.Setenv("IMAP_PASSWORD", "secret")

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, StoreIMAP, cfg.Store)
	assert.Equal(t, "rss", cfg.FeedAccountType)
	assert.Equal(t, time.Minute, cfg.SyncInterval)
	assert.Equal(t, 5*time.Second, cfg.ReconnectDelay)
	assert.Equal(t, 7654, cfg.HTTPPort)
	assert.Equal(t, "127.0.0.1:7655", cfg.RelayAddr)
	assert.Equal(t, 8, cfg.FetchConcurrency)
	assert.Equal(t, 100, cfg.PageSize)

	require.Len(t, cfg.Accounts, 1)
	acc := cfg.Accounts[0]
	assert.Equal(t, "default", acc.Name)
	assert.Equal(t, "rss", acc.Type)
	assert.Equal(t, 993, acc.IMAPPort)
	assert.True(t, acc.IMAPTLS)
	assert.Equal(t, "secret", acc.IMAPPassword)
}

func TestLoadConfig_MultipleAccounts(t *testing.T) {
	t.Setenv("ACCOUNT_1_NAME", "feeds")
	t.Setenv("ACCOUNT_1_IMAP_HOST", "imap.one.example")
	t.Setenv("ACCOUNT_1_IMAP_USERNAME", "one")
	t.Setenv("ACCOUNT_1_IMAP_PASSWORD", "pw1")
	t.Setenv("ACCOUNT_2_NAME", "local")
	t.Setenv("ACCOUNT_2_TYPE", "none")
	t.Setenv("ACCOUNT_2_IMAP_HOST", "localhost")
	t.Setenv("ACCOUNT_2_IMAP_PORT", "143")
	t.Setenv("ACCOUNT_2_IMAP_TLS", "false")
	t.Setenv("ACCOUNT_2_IMAP_USERNAME", "two")
	t.Setenv("ACCOUNT_2_IMAP_PASSWORD", "pw2")

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, []string{"feeds", "local"}, cfg.AccountNames())
	assert.Equal(t, "rss", cfg.Accounts[0].Type)
	assert.Equal(t, "none", cfg.Accounts[1].Type)
	assert.Equal(t, 143, cfg.Accounts[1].IMAPPort)
	assert.False(t, cfg.Accounts[1].IMAPTLS)
}

func TestResolvePasswords_FromKeyring(t *testing.T) {
	t.Setenv("IMAP_HOST", "imap.example.com")
	t.Setenv("IMAP_USERNAME", "reader")
	t.Setenv("ACCOUNT_NAME", "feeds")

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Empty(t, cfg.Accounts[0].IMAPPassword)
	assert.Error(t, cfg.Validate())

	var asked string
	require.NoError(t, cfg.ResolvePasswords(func(account string) (string, error) {
		asked = account
		return "from-keyring", nil
	}))
	assert.Equal(t, "feeds", asked)
	assert.Equal(t, "from-keyring", cfg.Accounts[0].IMAPPassword)
	assert.NoError(t, cfg.Validate())
}

func TestResolvePasswords_KeepsConfiguredPassword(t *testing.T) {
	cfg := &Config{Accounts: []AccountConfig{
		{Name: "set", IMAPPassword: "env"},
		{Name: "missing"},
	}}

	err := cfg.ResolvePasswords(noPasswords)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing")
	assert.Equal(t, "env", cfg.Accounts[0].IMAPPassword)
}

func TestLoadConfig_KeyringSettings(t *testing.T) {
	t.Setenv("STORE", "sqlite")
	t.Setenv("KEYRING_BACKEND", "file")
	t.Setenv("KEYRING_DIR", "/tmp/creds")

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "file", cfg.KeyringBackend)
	assert.Equal(t, "/tmp/creds", cfg.KeyringDir)
}

func TestLoadConfig_NoAccounts(t *testing.T) {
	_, err := LoadConfig("")
	assert.Error(t, err)
}

func TestLoadConfig_SQLiteNeedsNoAccounts(t *testing.T) {
	t.Setenv("STORE", "sqlite")
	t.Setenv("SQLITE_PATH", "/tmp/feeds.db")

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "/tmp/feeds.db", cfg.SQLitePath)
	assert.Empty(t, cfg.Accounts)
}

func TestLoadConfig_YAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bridge.yaml")
	data := []byte("store: sqlite\nsqlite_path: /tmp/from-file.db\nsync_interval: 30s\nlog_level: debug\n")
	require.NoError(t, os.WriteFile(path, data, 0644))

	t.Setenv("LOG_LEVEL", "warn")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, StoreSQLite, cfg.Store)
	assert.Equal(t, "/tmp/from-file.db", cfg.SQLitePath)
	assert.Equal(t, 30*time.Second, cfg.SyncInterval)
	assert.Equal(t, "warn", cfg.LogLevel, "environment overrides the file")
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Store:            StoreSQLite,
			SQLitePath:       "/tmp/x.db",
			PageSize:         100,
			FetchConcurrency: 8,
			SyncInterval:     time.Minute,
			ReconnectDelay:   5 * time.Second,
			HTTPPort:         7654,
			RelayAddr:        "127.0.0.1:7655",
		}
	}
	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"unknown store", func(c *Config) { c.Store = "maildir" }},
		{"imap without accounts", func(c *Config) { c.Store = StoreIMAP }},
		{"page size", func(c *Config) { c.PageSize = 0 }},
		{"fetch concurrency", func(c *Config) { c.FetchConcurrency = 0 }},
		{"sync interval", func(c *Config) { c.SyncInterval = 0 }},
		{"reconnect delay", func(c *Config) { c.ReconnectDelay = -time.Second }},
		{"http port", func(c *Config) { c.HTTPPort = 70000 }},
		{"relay addr", func(c *Config) { c.RelayAddr = "" }},
		{"keyring backend", func(c *Config) { c.KeyringBackend = "floppy" }},
		{"account port", func(c *Config) {
			c.Store = StoreIMAP
			c.Accounts = []AccountConfig{{Name: "a", IMAPHost: "h", IMAPPort: 0, IMAPPassword: "p"}}
		}},
		{"account password", func(c *Config) {
			c.Store = StoreIMAP
			c.Accounts = []AccountConfig{{Name: "a", IMAPHost: "h", IMAPPort: 993}}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadRelayConfig_IgnoresAccounts(t *testing.T) {
	t.Setenv("HTTP_PORT", "8080")
	t.Setenv("INDEX_PATH", "/srv/index.html")

	cfg, err := LoadRelayConfig("")
	require.NoError(t, err)
	require.NoError(t, cfg.ValidateRelay())
	assert.Equal(t, 8080, cfg.HTTPPort)
	assert.Equal(t, "/srv/index.html", cfg.IndexPath)
	assert.Empty(t, cfg.Accounts)
}
