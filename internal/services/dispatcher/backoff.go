package dispatcher

import (
	"time"

	"mail-notifier/internal/config"
)

// BackoffPolicy bounds delivery attempts and the delay between them.
type BackoffPolicy struct {
	MaxAttempts int
	Delay       time.Duration
	// Linear multiplies Delay by the number of the failed attempt.
	Linear bool
}

// DefaultBackoff is five attempts two seconds apart.
var DefaultBackoff = BackoffPolicy{MaxAttempts: 5, Delay: 2 * time.Second}

// BackoffFromConfig builds a policy from cfg, falling back to DefaultBackoff
// for unset fields.
func BackoffFromConfig(cfg config.DispatcherConfig) BackoffPolicy {
	p := BackoffPolicy{
		MaxAttempts: cfg.MaxAttempts,
		Delay:       cfg.RetryDelay,
		Linear:      cfg.LinearBackoff,
	}
	if p.MaxAttempts < 1 {
		p.MaxAttempts = DefaultBackoff.MaxAttempts
	}
	if p.Delay <= 0 {
		p.Delay = DefaultBackoff.Delay
	}
	return p
}

// DelayFor returns the wait after the given failed attempt (1-based).
func (p BackoffPolicy) DelayFor(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if p.Linear {
		return p.Delay * time.Duration(attempt)
	}
	return p.Delay
}
