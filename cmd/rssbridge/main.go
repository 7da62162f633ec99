package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/brandon/rss-bridge/internal/channel"
	"github.com/brandon/rss-bridge/internal/config"
	"github.com/brandon/rss-bridge/internal/credential"
	"github.com/brandon/rss-bridge/internal/mailstore"
	"github.com/brandon/rss-bridge/internal/session"
	"github.com/brandon/rss-bridge/internal/syncer"
	"github.com/brandon/rss-bridge/pkg/types"
)

var (
	version     = "dev"
	showVersion = flag.Bool("version", false, "Show version information")
	configPath  = flag.String("config", "", "Optional YAML config file")
	importDir   = flag.String("import", "", "Import a directory of .eml files into the local store and exit")
	importID    = flag.String("account-id", "local", "Account id for -import")
	importName  = flag.String("account-name", "Local Feeds", "Account name for -import")
	importType  = flag.String("account-type", types.AccountTypeFeed, "Account type for -import")
	setPassword = flag.String("set-password", "", "Store the IMAP password of the named account in the keyring (read from stdin) and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("rssbridge version %s\n", version)
		os.Exit(0)
	}

	// Logs go to stderr; stdout stays free for callers piping the bridge.
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stderr)

	if *setPassword != "" {
		cfg, err := config.LoadRelayConfig(*configPath)
		if err != nil {
			logger.WithError(err).Fatal("Failed to load configuration")
		}
		if err := storePassword(keyringFor(cfg), *setPassword, os.Stdin); err != nil {
			logger.WithError(err).Fatal("Failed to store password")
		}
		logger.WithField("account", *setPassword).Info("Password stored")
		return
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}
	if err := cfg.ResolvePasswords(keyringFor(cfg).Password); err != nil {
		logger.WithError(err).Fatal("Failed to resolve IMAP passwords")
	}
	if err := cfg.Validate(); err != nil {
		logger.WithError(err).Fatal("Invalid configuration")
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if *importDir != "" {
		runImport(cfg, logger)
		return
	}

	logger.WithField("store", cfg.Store).Info("Starting RSS bridge")

	var (
		store  mailstore.Store
		closer io.Closer
	)
	switch cfg.Store {
	case config.StoreSQLite:
		local, err := mailstore.NewSQLiteStore(cfg.SQLitePath, cfg.PageSize, logger)
		if err != nil {
			logger.WithError(err).Fatal("Failed to open local store")
		}
		store, closer = local, local
	default:
		remote := mailstore.NewIMAPStore(cfg, logger)
		logger.WithField("accounts", cfg.AccountNames()).Info("Using IMAP accounts")
		store, closer = remote, remote
	}
	defer closer.Close()

	engine := syncer.NewEngine(store, logger, syncer.Options{
		FeedAccountType:  cfg.FeedAccountType,
		FetchConcurrency: cfg.FetchConcurrency,
	})
	gateway := syncer.NewGateway(store, logger)

	dialer := channel.TCPDialer{Addr: cfg.RelayAddr, Timeout: 10 * time.Second}
	supervisor := session.NewSupervisor(dialer, engine, gateway, logger, session.Options{
		SyncInterval:   cfg.SyncInterval,
		ReconnectDelay: cfg.ReconnectDelay,
	})

	// Set up signal handling for graceful shutdown and manual refresh
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	triggerChan := make(chan os.Signal, 1)
	notifyTrigger(triggerChan)

	errChan := make(chan error, 1)
	go func() {
		errChan <- supervisor.Run(ctx)
	}()

	for {
		select {
		case <-triggerChan:
			logger.Info("Manual refresh requested")
			supervisor.Trigger()
		case sig := <-sigChan:
			logger.WithField("signal", sig).Info("Received shutdown signal")
			cancel()
			<-errChan
			logger.Info("Shutting down RSS bridge")
			return
		case err := <-errChan:
			if err != nil {
				logger.WithError(err).Error("Session error")
			}
			logger.Info("Shutting down RSS bridge")
			return
		}
	}
}

func runImport(cfg *config.Config, logger *logrus.Logger) {
	if cfg.Store != config.StoreSQLite {
		logger.Fatal("-import requires STORE=sqlite")
	}

	store, err := mailstore.NewSQLiteStore(cfg.SQLitePath, cfg.PageSize, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to open local store")
	}
	defer store.Close()

	acct := types.Account{ID: *importID, Name: *importName, Type: *importType}
	result, err := mailstore.ImportDir(context.Background(), store, acct, *importDir, logger)
	if err != nil {
		logger.WithError(err).Fatal("Import failed")
	}
	for _, file := range result.FailedFiles {
		logger.WithField("file", file).Warn("Not imported")
	}
}

func keyringFor(cfg *config.Config) *credential.Store {
	return credential.New(credential.Options{
		Backend:      cfg.KeyringBackend,
		FileDir:      cfg.KeyringDir,
		FilePassword: cfg.KeyringFilePassword,
	})
}

func storePassword(store *credential.Store, account string, in io.Reader) error {
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return fmt.Errorf("reading password: %w", err)
	}
	return store.SetPassword(account, strings.TrimRight(line, "\r\n"))
}
