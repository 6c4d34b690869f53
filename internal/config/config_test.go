package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
telegram:
  bot_token: "global-token"
  chat_id: "1000"
poller:
  interval: 30s
accounts:
  - address: alerts@example.com
    host: imap.example.com
    password: secret
    destinations:
      - name: ops
        chat_id: "2000"
      - name: security
        token: "sec-token"
  - address: old@example.com
    host: imap.example.com
    password: secret
    active: false
  - address: plain@example.com
    host: mail.example.com
    password: "keyring:plain"
    tls: false
    insecure: true
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

type mapResolver map[string]string

func (m mapResolver) Resolve(value string) (string, error) {
	if !strings.HasPrefix(value, "keyring:") {
		return value, nil
	}
	v, ok := m[strings.TrimPrefix(value, "keyring:")]
	if !ok {
		return "", errors.New("missing secret")
	}
	return v, nil
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, 30*time.Second, cfg.Poller.Interval)
	assert.Equal(t, 3, cfg.Poller.MaxConsecutiveFailures)
	assert.Equal(t, 10*time.Second, cfg.Poller.Timeout)
	assert.Equal(t, time.Second, cfg.Dispatcher.MinInterval)
	assert.Equal(t, 5, cfg.Dispatcher.MaxAttempts)
	assert.Equal(t, 2*time.Second, cfg.Dispatcher.RetryDelay)
	assert.Equal(t, 1000, cfg.Dispatcher.MaxBodyLength)
	assert.Equal(t, 1000, cfg.Dedup.Capacity)
	assert.Equal(t, 72*time.Hour, cfg.Dedup.Retention)
	assert.Equal(t, "none", cfg.Dedup.Store)
	assert.True(t, cfg.Notifications.Lifecycle)
	assert.Len(t, cfg.Accounts, 3)
	require.NoError(t, cfg.Validate())
}

func TestLoadEnvironmentOverride(t *testing.T) {
	t.Setenv("MAILNOTIFIER_TELEGRAM_CHAT_ID", "9999")
	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)
	assert.Equal(t, "9999", cfg.Telegram.ChatID)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestValidateRejectsEmptyAccounts(t *testing.T) {
	cfg := &Config{
		Telegram:   TelegramConfig{BotToken: "t", ChatID: "1"},
		Poller:     PollerConfig{Interval: time.Minute},
		Dispatcher: DispatcherConfig{MaxAttempts: 5},
	}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no active accounts")

	off := false
	cfg.Accounts = []AccountConfig{{Address: "a@example.com", Host: "h", Password: "p", Active: &off}}
	require.ErrorContains(t, cfg.Validate(), "no active accounts")
}

func TestValidateRequiresGlobalDestination(t *testing.T) {
	cfg := &Config{
		Poller:     PollerConfig{Interval: time.Minute},
		Dispatcher: DispatcherConfig{MaxAttempts: 5},
		Accounts:   []AccountConfig{{Address: "a@example.com", Host: "h", Password: "p"}},
	}
	require.ErrorContains(t, cfg.Validate(), "telegram.bot_token")
}

func TestBuildAccounts(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	accounts, err := BuildAccounts(cfg.Accounts, mapResolver{"plain": "resolved"})
	require.NoError(t, err)
	require.Len(t, accounts, 2, "inactive account must be skipped")

	first := accounts[0]
	assert.Equal(t, "alerts@example.com", first.Address)
	assert.Equal(t, 993, first.Port)
	assert.True(t, first.TLS)
	assert.Equal(t, "INBOX", first.Mailbox)
	require.Len(t, first.Destinations, 2)
	assert.Equal(t, "2000", first.Destinations[0].ChatID)
	assert.Equal(t, "sec-token", first.Destinations[1].Token)

	second := accounts[1]
	assert.False(t, second.TLS)
	assert.True(t, second.Insecure)
	assert.False(t, first.Insecure)
	assert.Equal(t, 143, second.Port)
	assert.Equal(t, "resolved", second.Password)
}

func TestBuildAccountsSecretFailure(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	_, err = BuildAccounts(cfg.Accounts, mapResolver{})
	require.ErrorContains(t, err, "plain@example.com")
}

func TestAccountStoreReload(t *testing.T) {
	path := writeConfig(t, sampleConfig)
	cfg, err := Load(path)
	require.NoError(t, err)

	store, err := NewAccountStore(path, cfg, mapResolver{"plain": "resolved"})
	require.NoError(t, err)

	accounts, err := store.Accounts(context.Background())
	require.NoError(t, err)
	require.Len(t, accounts, 2)

	updated := strings.Replace(sampleConfig, "active: false", "active: true", 1)
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o600))
	require.NoError(t, store.Reload())

	accounts, err = store.Accounts(context.Background())
	require.NoError(t, err)
	assert.Len(t, accounts, 3)

	require.NoError(t, os.WriteFile(path, []byte("telegram: {}\n"), 0o600))
	require.Error(t, store.Reload())
	accounts, _ = store.Accounts(context.Background())
	assert.Len(t, accounts, 3, "invalid reload keeps previous snapshot")
}

func TestGlobalDestination(t *testing.T) {
	cfg := &Config{Telegram: TelegramConfig{BotToken: "tok", ChatID: "42"}}
	dest := cfg.GlobalDestination()
	assert.Equal(t, "42", dest.Target)
	assert.Equal(t, "tok", dest.Credential)
}
