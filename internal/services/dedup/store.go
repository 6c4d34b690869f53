package dedup

import (
	"context"
	"fmt"
	"time"

	"mail-notifier/internal/config"
	"mail-notifier/internal/models"
)

// Store persists processed identifiers across restarts.
type Store interface {
	// LoadSince returns records processed at or after since, oldest first.
	LoadSince(ctx context.Context, since time.Time) ([]models.ProcessedRecord, error)
	Save(ctx context.Context, records []models.ProcessedRecord) error
	// Prune deletes records processed before the cutoff and returns how many.
	Prune(ctx context.Context, before time.Time) (int64, error)
	Close() error
}

// OpenStore returns the store selected by cfg.Store, or nil for "none".
func OpenStore(cfg config.DedupConfig) (Store, error) {
	switch cfg.Store {
	case "", "none":
		return nil, nil
	case "sqlite":
		return NewSQLiteStore(cfg.SQLitePath)
	case "redis":
		return NewRedisStore(cfg)
	default:
		return nil, fmt.Errorf("unknown dedup store %q", cfg.Store)
	}
}
