package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"mail-notifier/internal/config"
	"mail-notifier/internal/credential"
	"mail-notifier/internal/logging"
)

var (
	version = "dev"
	commit  = "none"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "mail-notifier",
	Short: "Forward new IMAP mail to Telegram",
	Long: `mail-notifier polls one or more IMAP mailboxes and posts a summary of every
new message to Telegram, per account or to a global chat.

Running without a subcommand is the same as "mail-notifier run".`,
	Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runService,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to the YAML config file (default: search ./configs and /app/configs)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(discoverCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// loadConfig reads and validates the configuration and builds the logger.
func loadConfig() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid config: %w", err)
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		return nil, nil, fmt.Errorf("building logger: %w", err)
	}
	return cfg, logger, nil
}

// secretResolver opens the keyring when enabled and resolves the global bot
// token through it. It returns a nil resolver when the keyring is disabled.
func secretResolver(cfg *config.Config) (config.SecretResolver, error) {
	if !cfg.Keyring.Enabled {
		return nil, nil
	}

	resolver, err := credential.Open(cfg.Keyring.Service, cfg.Keyring.FileDir, os.Getenv("MAILNOTIFIER_KEYRING_PASSWORD"))
	if err != nil {
		return nil, err
	}

	token, err := resolver.Resolve(cfg.Telegram.BotToken)
	if err != nil {
		return nil, fmt.Errorf("telegram bot token: %w", err)
	}
	cfg.Telegram.BotToken = token
	return resolver, nil
}
