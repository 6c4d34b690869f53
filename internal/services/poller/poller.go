package poller

import (
	"context"
	"reflect"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"

	"mail-notifier/internal/config"
	"mail-notifier/internal/models"
	"mail-notifier/internal/services/dedup"
	"mail-notifier/internal/services/destination"
)

// AccountProvider supplies the current account snapshot.
type AccountProvider interface {
	Accounts(ctx context.Context) ([]models.Account, error)
}

// Processor delivers one message to its destinations.
type Processor interface {
	Process(ctx context.Context, msg models.Message, dests []models.Destination) []models.DeliveryResult
}

// SourceFactory opens a MessageSource for an account.
type SourceFactory func(account models.Account) models.MessageSource

// AccountStatus is a point-in-time view of one account.
type AccountStatus struct {
	Account             string    `json:"account"`
	State               string    `json:"state"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	MessagesProcessed   int64     `json:"messages_processed"`
	LastPoll            time.Time `json:"last_poll,omitempty"`
	LastError           string    `json:"last_error,omitempty"`
}

type accountState struct {
	account models.Account
	source  models.MessageSource

	// Only the worker polling the account writes these; mu guards them
	// against status readers.
	mu        sync.Mutex
	failures  int
	processed int64
	lastPoll  time.Time
	lastError string
}

// Poller runs periodic polling cycles over every active account.
type Poller struct {
	provider    AccountProvider
	resolver    *destination.Resolver
	processor   Processor
	cache       *dedup.Cache
	metrics     *Metrics
	newSource   SourceFactory
	logger      *zap.Logger
	interval    time.Duration
	maxFailures int
	concurrency int

	mu       sync.Mutex
	accounts map[string]*accountState
	order    []string
	snapshot []models.Account
	table    *destination.Table
}

func New(
	cfg config.PollerConfig,
	provider AccountProvider,
	resolver *destination.Resolver,
	processor Processor,
	cache *dedup.Cache,
	metrics *Metrics,
	newSource SourceFactory,
	logger *zap.Logger,
) *Poller {
	interval := cfg.Interval
	if interval <= 0 {
		interval = 60 * time.Second
	}
	maxFailures := cfg.MaxConsecutiveFailures
	if maxFailures <= 0 {
		maxFailures = 3
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	return &Poller{
		provider:    provider,
		resolver:    resolver,
		processor:   processor,
		cache:       cache,
		metrics:     metrics,
		newSource:   newSource,
		logger:      logger,
		interval:    interval,
		maxFailures: maxFailures,
		concurrency: concurrency,
		accounts:    make(map[string]*accountState),
		table:       resolver.Build(nil),
	}
}

// Run polls until ctx is cancelled. Cancellation is only observed between
// cycles; a cycle in progress always completes. Every source is disconnected
// before Run returns.
func (p *Poller) Run(ctx context.Context) {
	p.logger.Info("Starting mailbox polling",
		zap.Duration("interval", p.interval),
		zap.Int("concurrency", p.concurrency))

	cycleCtx := context.WithoutCancel(ctx)
	for {
		p.RunCycle(cycleCtx)

		timer := time.NewTimer(p.interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			p.Shutdown()
			return
		case <-timer.C:
		}
	}
}

// Sync refreshes the account set from the provider. New accounts get a
// source; removed or changed ones are disconnected. The destination table is
// rebuilt only when the snapshot changed.
func (p *Poller) Sync(ctx context.Context) error {
	accounts, err := p.provider.Accounts(ctx)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if reflect.DeepEqual(accounts, p.snapshot) {
		return nil
	}

	wanted := make(map[string]models.Account, len(accounts))
	var order []string
	var active []models.Account
	for _, account := range accounts {
		if !account.Active {
			continue
		}
		if _, dup := wanted[account.Address]; dup {
			continue
		}
		wanted[account.Address] = account
		order = append(order, account.Address)
		active = append(active, account)
	}

	for address, st := range p.accounts {
		account, keep := wanted[address]
		if keep && reflect.DeepEqual(account, st.account) {
			continue
		}
		p.logger.Info("Account removed or changed, disconnecting", zap.String("account", address))
		st.source.Disconnect()
		p.metrics.forget(address)
		delete(p.accounts, address)
	}

	for _, address := range order {
		if _, ok := p.accounts[address]; ok {
			continue
		}
		account := wanted[address]
		p.accounts[address] = &accountState{
			account: account,
			source:  p.newSource(account),
		}
		p.logger.Info("Account added", zap.String("account", address))
	}

	p.order = order
	p.snapshot = accounts
	p.table = p.resolver.Build(active)
	return nil
}

// RunCycle polls every account once.
func (p *Poller) RunCycle(ctx context.Context) {
	start := time.Now()
	cycleID := uuid.NewString()
	logger := p.logger.With(zap.String("cycle_id", cycleID))

	if err := p.Sync(ctx); err != nil {
		logger.Error("Failed to refresh accounts, using previous snapshot", zap.Error(err))
	}

	p.mu.Lock()
	states := make([]*accountState, 0, len(p.order))
	for _, address := range p.order {
		states = append(states, p.accounts[address])
	}
	table := p.table
	p.mu.Unlock()

	workers := pool.New().WithMaxGoroutines(p.concurrency)
	for _, st := range states {
		workers.Go(func() {
			p.pollAccount(ctx, logger, st, table.For(st.account.Address))
		})
	}
	workers.Wait()

	elapsed := time.Since(start)
	p.metrics.cycleDuration.Observe(elapsed.Seconds())
	logger.Debug("Polling cycle finished",
		zap.Int("accounts", len(states)),
		zap.Duration("elapsed", elapsed))
}

func (p *Poller) pollAccount(ctx context.Context, logger *zap.Logger, st *accountState, dests []models.Destination) {
	address := st.account.Address
	logger = logger.With(zap.String("account", address))

	if err := st.source.HealthCheck(ctx); err != nil {
		p.recordFailure(ctx, logger, st, err)
		return
	}

	seq, err := st.source.FetchUnseen(ctx)
	if err != nil {
		p.recordFailure(ctx, logger, st, err)
		return
	}

	var processed int64
	for msg := range seq {
		p.metrics.messagesSeen.WithLabelValues(address).Inc()

		// Recorded before dispatch: a failed delivery is not retried next cycle.
		if !p.cache.CheckAndRecord(address, msg.ID) {
			p.metrics.duplicates.WithLabelValues(address).Inc()
			logger.Debug("Skipping already processed message", zap.String("message_id", msg.ID))
			continue
		}

		logger.Info("New message",
			zap.String("message_id", msg.ID),
			zap.String("from", msg.From),
			zap.String("subject", msg.Subject))

		for _, result := range p.processor.Process(ctx, msg, dests) {
			p.metrics.observeDelivery(result)
		}
		processed++

		if err := st.source.MarkProcessed(ctx, msg); err != nil {
			logger.Warn("Failed to mark message as seen", zap.String("message_id", msg.ID), zap.Error(err))
		}
	}

	if err := st.source.Err(); err != nil {
		st.mu.Lock()
		st.processed += processed
		st.mu.Unlock()
		p.recordFailure(ctx, logger, st, err)
		return
	}

	st.mu.Lock()
	st.failures = 0
	st.processed += processed
	st.lastPoll = time.Now()
	st.lastError = ""
	st.mu.Unlock()
	p.metrics.setAccount(address, st.source.State(), 0)
}

// recordFailure counts a failed cycle and forces a full reconnect once the
// account reaches the failure limit.
func (p *Poller) recordFailure(ctx context.Context, logger *zap.Logger, st *accountState, cause error) {
	st.mu.Lock()
	st.failures++
	failures := st.failures
	st.lastPoll = time.Now()
	st.lastError = cause.Error()
	st.mu.Unlock()

	logger.Warn("Polling cycle failed",
		zap.Int("consecutive_failures", failures),
		zap.Int("max_failures", p.maxFailures),
		zap.Error(cause))

	if failures >= p.maxFailures {
		logger.Warn("Too many consecutive failures, forcing reconnect")
		st.source.Disconnect()
		if err := st.source.Connect(ctx); err != nil {
			logger.Error("Forced reconnect failed", zap.Error(err))
		}
		st.mu.Lock()
		st.failures = 0
		failures = 0
		st.mu.Unlock()
	}
	p.metrics.setAccount(st.account.Address, st.source.State(), failures)
}

// Shutdown disconnects every source.
func (p *Poller) Shutdown() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, address := range p.order {
		if st, ok := p.accounts[address]; ok {
			st.source.Disconnect()
		}
	}
	p.logger.Info("All mailbox connections closed")
}

// Table returns the current destination table.
func (p *Poller) Table() *destination.Table {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.table
}

// Statuses reports every account in configuration order.
func (p *Poller) Statuses() []AccountStatus {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]AccountStatus, 0, len(p.order))
	for _, address := range p.order {
		st := p.accounts[address]
		st.mu.Lock()
		out = append(out, AccountStatus{
			Account:             address,
			State:               st.source.State().String(),
			ConsecutiveFailures: st.failures,
			MessagesProcessed:   st.processed,
			LastPoll:            st.lastPoll,
			LastError:           st.lastError,
		})
		st.mu.Unlock()
	}
	return out
}
