package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"mail-notifier/internal/config"
	"mail-notifier/internal/handlers"
	"mail-notifier/internal/models"
	"mail-notifier/internal/services/dedup"
	"mail-notifier/internal/services/destination"
	"mail-notifier/internal/services/dispatcher"
	"mail-notifier/internal/services/email"
	"mail-notifier/internal/services/poller"
	"mail-notifier/internal/services/processor"
	"mail-notifier/internal/services/telegram"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start polling mailboxes and sending notifications",
	RunE:  runService,
}

func runService(_ *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	defer func(logger *zap.Logger) {
		_ = logger.Sync() // Ignore sync errors for stdout/stderr
	}(logger)

	resolver, err := secretResolver(cfg)
	if err != nil {
		logger.Fatal("Failed to open keyring", zap.Error(err))
	}

	accounts, err := config.NewAccountStore(configPath, cfg, resolver)
	if err != nil {
		logger.Fatal("Failed to build accounts", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Dedup cache, optionally persisted
	cache := dedup.NewCache(cfg.Dedup.Capacity)
	store, err := dedup.OpenStore(cfg.Dedup)
	if err != nil {
		logger.Fatal("Failed to open dedup store", zap.Error(err))
	}
	var syncer *dedup.Syncer
	if store != nil {
		syncer = dedup.NewSyncer(cache, store, cfg.Dedup, logger)
		if err := syncer.Start(ctx); err != nil {
			logger.Fatal("Failed to start dedup syncer", zap.Error(err))
		}
	}

	// Delivery pipeline
	telegramClient := telegram.NewClient(cfg.Telegram, logger)
	deliverer := dispatcher.New(telegramClient, cfg.Dispatcher, logger)
	manager := processor.NewManager(deliverer, processor.NewFormatter(cfg.Dispatcher.MaxBodyLength), logger)

	metrics := poller.NewMetrics()
	newSource := func(account models.Account) models.MessageSource {
		return email.NewSource(account, logger, email.WithTimeout(cfg.Poller.Timeout))
	}
	mailPoller := poller.New(cfg.Poller, accounts,
		destination.NewResolver(cfg.GlobalDestination(), logger),
		manager, cache, metrics, newSource, logger)

	if err := mailPoller.Sync(ctx); err != nil {
		logger.Fatal("Failed to load accounts", zap.Error(err))
	}

	notifyCtx := context.WithoutCancel(ctx)
	if cfg.Notifications.Lifecycle {
		manager.NotifyLifecycle(notifyCtx, processor.Started, mailPoller.Table().Routes())
	}

	// HTTP server for health, status and metrics
	router := handlers.NewRouter(handlers.NewStatusHandler(mailPoller, logger), metrics.Registry())
	srv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
	go func() {
		logger.Info("Starting server", zap.String("address", cfg.Server.Address))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	go watchReload(ctx, accounts, logger)

	pollerDone := make(chan struct{})
	go func() {
		mailPoller.Run(ctx)
		close(pollerDone)
	}()

	<-ctx.Done()
	logger.Info("Shutting down...")

	// The current cycle finishes before Run returns.
	<-pollerDone

	if cfg.Notifications.Lifecycle {
		manager.NotifyLifecycle(notifyCtx, processor.Stopped, mailPoller.Table().Routes())
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if syncer != nil {
		if err := syncer.Stop(shutdownCtx); err != nil {
			logger.Error("Failed to flush processed messages", zap.Error(err))
		}
	}

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
	return nil
}

// watchReload re-reads the account configuration on SIGHUP. The poller picks
// up the new snapshot on its next cycle.
func watchReload(ctx context.Context, accounts *config.AccountStore, logger *zap.Logger) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			if err := accounts.Reload(); err != nil {
				logger.Error("Config reload failed, keeping previous accounts", zap.Error(err))
				continue
			}
			logger.Info("Configuration reloaded")
		}
	}
}
