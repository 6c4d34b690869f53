package config

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"mail-notifier/internal/models"
)

// SecretResolver turns a configured secret reference into its value.
type SecretResolver interface {
	Resolve(value string) (string, error)
}

// AccountStore serves snapshots of the active accounts from the configuration
// file. It is refreshed explicitly through Reload.
type AccountStore struct {
	path     string
	resolver SecretResolver

	mu       sync.RWMutex
	accounts []models.Account
}

// NewAccountStore builds the account snapshot from an already loaded config.
// path is used by Reload; resolver may be nil when no secret references are used.
func NewAccountStore(path string, cfg *Config, resolver SecretResolver) (*AccountStore, error) {
	accounts, err := BuildAccounts(cfg.Accounts, resolver)
	if err != nil {
		return nil, err
	}
	return &AccountStore{
		path:     path,
		resolver: resolver,
		accounts: accounts,
	}, nil
}

// Accounts returns a copy of the active accounts.
func (s *AccountStore) Accounts(_ context.Context) ([]models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Account, len(s.accounts))
	copy(out, s.accounts)
	return out, nil
}

// Reload re-reads the configuration file and replaces the snapshot. The
// previous snapshot is kept when the new file is invalid.
func (s *AccountStore) Reload() error {
	cfg, err := Load(s.path)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validating reloaded config: %w", err)
	}
	accounts, err := BuildAccounts(cfg.Accounts, s.resolver)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.accounts = accounts
	s.mu.Unlock()
	return nil
}

// BuildAccounts converts the active account entries into models, resolving
// secret references on the way.
func BuildAccounts(entries []AccountConfig, resolver SecretResolver) ([]models.Account, error) {
	var (
		accounts []models.Account
		errs     []error
	)

	resolve := func(value string) (string, error) {
		if resolver == nil || value == "" {
			return value, nil
		}
		return resolver.Resolve(value)
	}

	for _, entry := range entries {
		if !entry.IsActive() {
			continue
		}

		password, err := resolve(entry.Password)
		if err != nil {
			errs = append(errs, fmt.Errorf("account %s password: %w", entry.Address, err))
			continue
		}

		account := models.Account{
			Address:  entry.Address,
			Host:     entry.Host,
			Port:     entry.Port,
			Username: entry.Username,
			Password: password,
			TLS:      entry.UseTLS(),
			Insecure: entry.Insecure,
			Mailbox:  entry.Mailbox,
			Active:   true,
		}
		if account.Port == 0 {
			account.Port = 993
			if !account.TLS {
				account.Port = 143
			}
		}
		if account.Mailbox == "" {
			account.Mailbox = "INBOX"
		}

		for _, dest := range entry.Destinations {
			token, err := resolve(dest.Token)
			if err != nil {
				errs = append(errs, fmt.Errorf("account %s destination %s token: %w", entry.Address, dest.Name, err))
				continue
			}
			account.Destinations = append(account.Destinations, models.DestinationOverride{
				Name:   dest.Name,
				ChatID: dest.ChatID,
				Token:  token,
			})
		}

		accounts = append(accounts, account)
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return accounts, nil
}

// GlobalDestination returns the process-wide default destination.
func (c *Config) GlobalDestination() models.Destination {
	return models.Destination{
		Name:       "global",
		Target:     c.Telegram.ChatID,
		Credential: c.Telegram.BotToken,
	}
}
