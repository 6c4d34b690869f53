package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"mail-notifier/internal/config"
	"mail-notifier/internal/services/email"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Test the IMAP connection of every active account",
	Long: `Check connects to every active account, selects its mailbox and counts the
unseen messages. Nothing is marked as seen and no notification is sent.`,
	RunE: runCheck,
}

func runCheck(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	defer func(logger *zap.Logger) {
		_ = logger.Sync()
	}(logger)

	resolver, err := secretResolver(cfg)
	if err != nil {
		return err
	}
	accounts, err := config.BuildAccounts(cfg.Accounts, resolver)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	failed := 0
	for _, account := range accounts {
		ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
		unseen, err := checkAccount(ctx, email.NewSource(account, logger, email.WithTimeout(cfg.Poller.Timeout)))
		cancel()

		if err != nil {
			failed++
			fmt.Fprintf(out, "❌ %s (%s:%d): %v\n", account.Address, account.Host, account.Port, err)
			continue
		}
		fmt.Fprintf(out, "✅ %s (%s:%d): %d unseen in %s\n", account.Address, account.Host, account.Port, unseen, account.Mailbox)
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d accounts failed", failed, len(accounts))
	}
	return nil
}

func checkAccount(ctx context.Context, source *email.Source) (int, error) {
	if err := source.Connect(ctx); err != nil {
		return 0, err
	}
	defer source.Disconnect()

	return source.CountUnseen(ctx)
}
