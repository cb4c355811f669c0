package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kestrelmail/kestrel/internal/cache"
	"github.com/kestrelmail/kestrel/internal/config"
	"github.com/kestrelmail/kestrel/internal/events"
	"github.com/kestrelmail/kestrel/internal/imap"
	"github.com/kestrelmail/kestrel/internal/mailbox"
	"github.com/kestrelmail/kestrel/pkg/types"
)

var (
	version     = "dev"
	showVersion = flag.Bool("version", false, "Show version information")
	configPath  = flag.String("config", config.DefaultConfigPath(), "Path to config file")
	syncOnce    = flag.Bool("once", false, "Sync active accounts once and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("kestrel version %s\n", version)
		os.Exit(0)
	}

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)

	app, err := config.LoadApp(*configPath)
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}

	level, err := logrus.ParseLevel(app.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	logger.Info("Starting kestrel")

	db, err := cache.Open(app.CachePath, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to open cache")
	}
	defer db.Close()

	keyring, err := config.OpenKeyring(app.CredentialDir)
	if err != nil {
		logger.WithError(err).Fatal("Failed to open credential store")
	}

	bus := events.New()
	defer bus.Close()

	settings := cache.NewSettingsStore(db)
	accounts := config.NewStore(settings, bus, logger)

	sessions := imap.NewSessionManager(nil, accounts, keyring, logger)
	headers := cache.NewHeaderStore(db, sessions, logger)
	outbox := cache.NewOutboxStore(db, logger)

	controller := mailbox.NewController(mailbox.ControllerConfig{
		Accounts:   accounts,
		Writer:     sessions,
		Lister:     sessions,
		Headers:    headers,
		Outbox:     outbox,
		Bus:        bus,
		Logger:     logger,
		PageSize:   app.PageSize,
		SyncPacing: time.Duration(app.SyncPacingSecs) * time.Second,
	})
	defer controller.Close()

	if *syncOnce {
		syncActiveAccounts(controller, accounts, logger)
		return
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	syncActiveAccounts(controller, accounts, logger)
	for {
		select {
		case sig := <-sigChan:
			logger.WithField("signal", sig).Info("Received shutdown signal")
			logger.Info("Shutting down kestrel")
			return
		case <-ticker.C:
			syncActiveAccounts(controller, accounts, logger)
		}
	}
}

// syncActiveAccounts runs one sync pass over every account enabled for
// syncing, then reports the inbox listing and badge totals.
func syncActiveAccounts(controller *mailbox.Controller, accounts *config.Store, logger *logrus.Logger) {
	active := accounts.ActiveAccountIDs()
	for _, a := range accounts.Accounts() {
		if len(active) > 0 && !active[a.ID] {
			continue
		}
		controller.SyncAccount(a.ID)

		if err := controller.LoadCached(types.CategoryInbox, a.ID); err != nil {
			logger.WithError(err).WithField("account", a.Name).Warn("Failed to load cached inbox")
			continue
		}
		logger.WithFields(logrus.Fields{
			"account":  a.Name,
			"messages": len(controller.Headers()),
		}).Info("Inbox loaded")
	}

	logger.WithFields(logrus.Fields{
		"unread": controller.UnreadCount(),
		"outbox": controller.OutboxCount(),
	}).Info("Badge totals")
}
