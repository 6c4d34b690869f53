package dedup

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"mail-notifier/internal/config"
)

// Syncer moves identifiers between a Cache and a durable Store: it preloads
// the retention window on Start, flushes and prunes on a cron schedule, and
// flushes once more on Stop.
type Syncer struct {
	cache     *Cache
	store     Store
	logger    *zap.Logger
	retention time.Duration
	flushSpec string
	pruneSpec string
	cron      *cron.Cron
	now       func() time.Time

	flushMu  sync.Mutex
	stopOnce sync.Once
}

// NewSyncer wires cache to store with the schedules from cfg.
func NewSyncer(cache *Cache, store Store, cfg config.DedupConfig, logger *zap.Logger) *Syncer {
	retention := cfg.Retention
	if retention <= 0 {
		retention = 72 * time.Hour
	}
	flushSpec := cfg.FlushSchedule
	if flushSpec == "" {
		flushSpec = "@every 1m"
	}
	pruneSpec := cfg.PruneSchedule
	if pruneSpec == "" {
		pruneSpec = "@every 6h"
	}

	cache.TrackPending(DefaultPendingLimit)

	return &Syncer{
		cache:     cache,
		store:     store,
		logger:    logger,
		retention: retention,
		flushSpec: flushSpec,
		pruneSpec: pruneSpec,
		cron:      cron.New(cron.WithLocation(time.UTC)),
		now:       time.Now,
	}
}

// Start preloads the cache and schedules the background jobs.
func (s *Syncer) Start(ctx context.Context) error {
	records, err := s.store.LoadSince(ctx, s.now().Add(-s.retention))
	if err != nil {
		return fmt.Errorf("preloading processed messages: %w", err)
	}
	s.cache.Preload(records)
	s.logger.Info("Preloaded processed messages", zap.Int("count", len(records)))

	if _, err := s.cron.AddFunc(s.flushSpec, func() {
		if err := s.Flush(context.Background()); err != nil {
			s.logger.Error("Failed to flush processed messages", zap.Error(err))
		}
	}); err != nil {
		return fmt.Errorf("scheduling flush %q: %w", s.flushSpec, err)
	}
	if _, err := s.cron.AddFunc(s.pruneSpec, func() {
		if err := s.Prune(context.Background()); err != nil {
			s.logger.Error("Failed to prune processed messages", zap.Error(err))
		}
	}); err != nil {
		return fmt.Errorf("scheduling prune %q: %w", s.pruneSpec, err)
	}

	s.cron.Start()
	return nil
}

// Flush persists every identifier recorded since the previous flush. Records
// that fail to save are requeued for the next attempt.
func (s *Syncer) Flush(ctx context.Context) error {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	records := s.cache.Drain()
	if len(records) == 0 {
		return nil
	}
	if err := s.store.Save(ctx, records); err != nil {
		s.cache.Requeue(records)
		return err
	}
	s.logger.Debug("Flushed processed messages", zap.Int("count", len(records)))
	return nil
}

// Prune drops stored identifiers older than the retention window.
func (s *Syncer) Prune(ctx context.Context) error {
	n, err := s.store.Prune(ctx, s.now().Add(-s.retention))
	if err != nil {
		return err
	}
	if n > 0 {
		s.logger.Info("Pruned processed messages", zap.Int64("count", n))
	}
	return nil
}

// Stop waits for running jobs, performs a final flush and closes the store.
func (s *Syncer) Stop(ctx context.Context) error {
	var err error
	s.stopOnce.Do(func() {
		<-s.cron.Stop().Done()
		if ferr := s.Flush(ctx); ferr != nil {
			err = fmt.Errorf("final flush: %w", ferr)
		}
		if cerr := s.store.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("closing store: %w", cerr)
		}
	})
	return err
}
