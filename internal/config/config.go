package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Log           LogConfig           `mapstructure:"log"`
	Telegram      TelegramConfig      `mapstructure:"telegram"`
	Poller        PollerConfig        `mapstructure:"poller"`
	Dispatcher    DispatcherConfig    `mapstructure:"dispatcher"`
	Dedup         DedupConfig         `mapstructure:"dedup"`
	Keyring       KeyringConfig       `mapstructure:"keyring"`
	Notifications NotificationsConfig `mapstructure:"notifications"`
	Accounts      []AccountConfig     `mapstructure:"accounts"`
}

type ServerConfig struct {
	Address string `mapstructure:"address"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

type TelegramConfig struct {
	BotToken    string        `mapstructure:"bot_token"`
	ChatID      string        `mapstructure:"chat_id"`
	APIEndpoint string        `mapstructure:"api_endpoint"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

type PollerConfig struct {
	Interval               time.Duration `mapstructure:"interval"`
	MaxConsecutiveFailures int           `mapstructure:"max_consecutive_failures"`
	Concurrency            int           `mapstructure:"concurrency"`
	Timeout                time.Duration `mapstructure:"timeout"`
}

type DispatcherConfig struct {
	MinInterval   time.Duration `mapstructure:"min_interval"`
	MaxAttempts   int           `mapstructure:"max_attempts"`
	RetryDelay    time.Duration `mapstructure:"retry_delay"`
	LinearBackoff bool          `mapstructure:"linear_backoff"`
	MaxBodyLength int           `mapstructure:"max_body_length"`
}

type DedupConfig struct {
	Capacity      int           `mapstructure:"capacity"`
	Retention     time.Duration `mapstructure:"retention"`
	Store         string        `mapstructure:"store"` // none, sqlite, redis
	SQLitePath    string        `mapstructure:"sqlite_path"`
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
	RedisPrefix   string        `mapstructure:"redis_prefix"`
	FlushSchedule string        `mapstructure:"flush_schedule"`
	PruneSchedule string        `mapstructure:"prune_schedule"`
}

type KeyringConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Service string `mapstructure:"service"`
	FileDir string `mapstructure:"file_dir"`
}

type NotificationsConfig struct {
	Lifecycle bool `mapstructure:"lifecycle"`
}

type AccountConfig struct {
	Address      string              `mapstructure:"address"`
	Host         string              `mapstructure:"host"`
	Port         int                 `mapstructure:"port"`
	Username     string              `mapstructure:"username"`
	Password     string              `mapstructure:"password"`
	TLS          *bool               `mapstructure:"tls"`
	Insecure     bool                `mapstructure:"insecure"`
	Mailbox      string              `mapstructure:"mailbox"`
	Active       *bool               `mapstructure:"active"`
	Destinations []DestinationConfig `mapstructure:"destinations"`
}

type DestinationConfig struct {
	Name   string `mapstructure:"name"`
	ChatID string `mapstructure:"chat_id"`
	Token  string `mapstructure:"token"`
}

// IsActive reports whether the account is enabled; accounts are active unless
// explicitly switched off.
func (a AccountConfig) IsActive() bool {
	return a.Active == nil || *a.Active
}

// UseTLS reports whether the account connects over implicit TLS (the default).
func (a AccountConfig) UseTLS() bool {
	return a.TLS == nil || *a.TLS
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.address", ":5000")
	v.SetDefault("log.level", "info")
	v.SetDefault("telegram.api_endpoint", "https://api.telegram.org/bot%s/%s")
	v.SetDefault("telegram.timeout", 10*time.Second)
	v.SetDefault("poller.interval", 60*time.Second)
	v.SetDefault("poller.max_consecutive_failures", 3)
	v.SetDefault("poller.concurrency", 1)
	v.SetDefault("poller.timeout", 10*time.Second)
	v.SetDefault("dispatcher.min_interval", time.Second)
	v.SetDefault("dispatcher.max_attempts", 5)
	v.SetDefault("dispatcher.retry_delay", 2*time.Second)
	v.SetDefault("dispatcher.max_body_length", 1000)
	v.SetDefault("dedup.capacity", 1000)
	v.SetDefault("dedup.retention", 72*time.Hour)
	v.SetDefault("dedup.store", "none")
	v.SetDefault("dedup.sqlite_path", "data/processed.db")
	v.SetDefault("dedup.redis_prefix", "mailnotifier:processed")
	v.SetDefault("dedup.flush_schedule", "@every 1m")
	v.SetDefault("dedup.prune_schedule", "@every 6h")
	v.SetDefault("keyring.service", "mail-notifier")
	v.SetDefault("notifications.lifecycle", true)
}

func newViper(path string) *viper.Viper {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("/app/configs")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/app")
		v.AddConfigPath(".")
	}

	// Environment variables override
	v.SetEnvPrefix("MAILNOTIFIER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	return v
}

func decode(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	return &config, nil
}

// Load reads the configuration from path, or from the default search paths
// when path is empty.
func Load(path string) (*Config, error) {
	v := newViper(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return decode(v)
}

// Validate checks the settings the service cannot start without.
func (c *Config) Validate() error {
	var errs []error

	if c.Telegram.BotToken == "" || c.Telegram.ChatID == "" {
		errs = append(errs, errors.New("telegram.bot_token and telegram.chat_id are required"))
	}

	active := 0
	seen := make(map[string]bool, len(c.Accounts))
	for i, acc := range c.Accounts {
		if acc.Address == "" {
			errs = append(errs, fmt.Errorf("accounts[%d]: address is required", i))
			continue
		}
		if seen[acc.Address] {
			errs = append(errs, fmt.Errorf("accounts[%d]: duplicate address %s", i, acc.Address))
		}
		seen[acc.Address] = true
		if acc.Host == "" || acc.Password == "" {
			errs = append(errs, fmt.Errorf("accounts[%d] (%s): host and password are required", i, acc.Address))
		}
		if acc.IsActive() {
			active++
		}
	}
	if active == 0 {
		errs = append(errs, errors.New("no active accounts configured"))
	}

	if c.Dispatcher.MaxAttempts < 1 {
		errs = append(errs, errors.New("dispatcher.max_attempts must be at least 1"))
	}
	if c.Poller.Interval <= 0 {
		errs = append(errs, errors.New("poller.interval must be positive"))
	}

	switch c.Dedup.Store {
	case "", "none", "sqlite", "redis":
	default:
		errs = append(errs, fmt.Errorf("dedup.store: unknown store %q", c.Dedup.Store))
	}

	return errors.Join(errs...)
}
