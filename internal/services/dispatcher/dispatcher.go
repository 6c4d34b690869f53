package dispatcher

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"mail-notifier/internal/config"
	"mail-notifier/internal/models"
)

// Sender performs a single delivery attempt.
type Sender interface {
	Send(ctx context.Context, dest models.Destination, text string) error
}

// RetryAfterError is implemented by send errors that carry a server hint on
// how long to wait before the next attempt.
type RetryAfterError interface {
	error
	RetryAfter() time.Duration
}

// destinationLimiter serializes sends to one destination and remembers when
// the previous send completed.
type destinationLimiter struct {
	mu   sync.Mutex
	last time.Time
}

// Dispatcher delivers notifications with per-destination rate limiting and
// bounded retries.
type Dispatcher struct {
	sender      Sender
	logger      *zap.Logger
	policy      BackoffPolicy
	minInterval time.Duration
	clock       Clock

	mu       sync.Mutex
	limiters map[string]*destinationLimiter
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithClock replaces the wall clock.
func WithClock(c Clock) Option {
	return func(d *Dispatcher) { d.clock = c }
}

// WithBackoff replaces the policy derived from configuration.
func WithBackoff(p BackoffPolicy) Option {
	return func(d *Dispatcher) { d.policy = p }
}

func New(sender Sender, cfg config.DispatcherConfig, logger *zap.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		sender:      sender,
		logger:      logger,
		policy:      BackoffFromConfig(cfg),
		minInterval: cfg.MinInterval,
		clock:       SystemClock{},
		limiters:    make(map[string]*destinationLimiter),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Deliver sends text to dest, retrying per the backoff policy. It never
// panics on transport failure; a failed result carries a DeliveryError.
func (d *Dispatcher) Deliver(ctx context.Context, dest models.Destination, text string) models.DeliveryResult {
	result := models.DeliveryResult{Destination: dest}

	var lastErr error
	for attempt := 1; attempt <= d.policy.MaxAttempts; attempt++ {
		result.Attempts = attempt

		lastErr = d.sendLimited(ctx, dest, text)
		if lastErr == nil {
			result.Success = true
			return result
		}

		d.logger.Warn("Delivery attempt failed",
			zap.String("destination", dest.Name),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", d.policy.MaxAttempts),
			zap.Error(lastErr))

		if attempt == d.policy.MaxAttempts {
			break
		}

		delay := d.policy.DelayFor(attempt)
		var hinted RetryAfterError
		if errors.As(lastErr, &hinted) && hinted.RetryAfter() > delay {
			delay = hinted.RetryAfter()
		}
		if err := d.clock.Sleep(ctx, delay); err != nil {
			lastErr = err
			break
		}
	}

	result.Err = &models.DeliveryError{
		Destination: dest.Name,
		Attempts:    result.Attempts,
		Err:         lastErr,
	}
	return result
}

// sendLimited waits until minInterval has passed since the previous send to
// the same destination completed, then sends while holding its lock.
func (d *Dispatcher) sendLimited(ctx context.Context, dest models.Destination, text string) error {
	limiter := d.limiterFor(dest)
	limiter.mu.Lock()
	defer limiter.mu.Unlock()

	if !limiter.last.IsZero() && d.minInterval > 0 {
		wait := limiter.last.Add(d.minInterval).Sub(d.clock.Now())
		if wait > 0 {
			if err := d.clock.Sleep(ctx, wait); err != nil {
				return err
			}
		}
	}

	err := d.sender.Send(ctx, dest, text)
	limiter.last = d.clock.Now()
	return err
}

func (d *Dispatcher) limiterFor(dest models.Destination) *destinationLimiter {
	d.mu.Lock()
	defer d.mu.Unlock()

	l, ok := d.limiters[dest.Key()]
	if !ok {
		l = &destinationLimiter{}
		d.limiters[dest.Key()] = l
	}
	return l
}
