package connection

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Retry errors.
var (
	// ErrRetriesExhausted indicates the attempt budget ran out. The last
	// open error is wrapped alongside it.
	ErrRetriesExhausted = errors.New("open retries exhausted")
)

// DefaultMaxAttempts is the default open attempt budget.
const DefaultMaxAttempts = 5

// OpenFunc attempts to establish the terminal session.
type OpenFunc func(ctx context.Context) error

// Retrier drives repeated open attempts with backoff under a context.
// A Retrier is single-use per Run call but may be reused sequentially;
// the backoff resets on success.
type Retrier struct {
	backoff     *Backoff
	maxAttempts int

	// onAttempt, if set, is called before each attempt with the
	// 1-based attempt number and the delay that preceded it.
	onAttempt func(attempt int, delay time.Duration)
}

// RetrierConfig customizes a Retrier. Zero fields take defaults.
type RetrierConfig struct {
	Backoff     BackoffConfig
	MaxAttempts int
}

// NewRetrier creates a Retrier.
func NewRetrier(cfg RetrierConfig) *Retrier {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.Backoff.Jitter == 0 {
		cfg.Backoff.Jitter = DefaultJitterFactor
	}
	return &Retrier{
		backoff:     NewBackoffWithConfig(cfg.Backoff),
		maxAttempts: cfg.MaxAttempts,
	}
}

// OnAttempt sets a callback invoked before every attempt.
func (r *Retrier) OnAttempt(fn func(attempt int, delay time.Duration)) {
	r.onAttempt = fn
}

// Run attempts open until it succeeds, ctx is cancelled, or the attempt
// budget is exhausted. The first attempt is immediate; each subsequent
// attempt waits the next backoff delay. On success the backoff resets so
// the Retrier can serve a later reconnect from a cold start.
func (r *Retrier) Run(ctx context.Context, open OpenFunc) error {
	var lastErr error

	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		var delay time.Duration
		if attempt > 1 {
			delay = r.backoff.Next()
		}

		if r.onAttempt != nil {
			r.onAttempt(attempt, delay)
		}

		if delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}

		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = open(ctx)
		if lastErr == nil {
			r.backoff.Reset()
			return nil
		}
	}

	return fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, r.maxAttempts, lastErr)
}
