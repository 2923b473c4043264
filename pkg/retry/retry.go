// Package retry runs operations with bounded, jittered backoff. Retryability
// is decided by the error taxonomy: only recoverable errors whose strategy is
// retry or retry-with-backoff are attempted again; everything else aborts on
// the first failure.
package retry

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"time"

	"github.com/argus-audit/argus/pkg/faults"
)

// Backoff selects how the delay grows between attempts.
type Backoff string

// Backoff strategies.
const (
	BackoffConstant    Backoff = "constant"
	BackoffLinear      Backoff = "linear"
	BackoffExponential Backoff = "exponential"
)

// minDelay is the floor for computed (jittered) delays. Provider-supplied
// retry-after hints are used as-is.
const minDelay = 100 * time.Millisecond

// Observer is notified before each retry sleep. attempt is the 1-based
// attempt that just failed.
type Observer func(attempt int, err error, delay time.Duration)

type config struct {
	maxAttempts    int
	baseDelay      time.Duration
	maxDelay       time.Duration
	backoff        Backoff
	jitterFraction float64
	kinds          map[faults.Kind]bool
	observer       Observer
	logger         *slog.Logger
}

// Option configures a retry run.
type Option func(*config)

// MaxAttempts sets the total number of attempts (default 3).
func MaxAttempts(n int) Option {
	return func(c *config) { c.maxAttempts = n }
}

// BaseDelay sets the first backoff delay (default 1s).
func BaseDelay(d time.Duration) Option {
	return func(c *config) { c.baseDelay = d }
}

// MaxDelay caps every delay, including provider retry-after hints
// (default 30s).
func MaxDelay(d time.Duration) Option {
	return func(c *config) { c.maxDelay = d }
}

// WithBackoff selects the growth strategy (default exponential).
func WithBackoff(b Backoff) Option {
	return func(c *config) { c.backoff = b }
}

// JitterFraction sets the symmetric jitter applied to computed delays:
// delay is scaled by a random factor in [1-f, 1+f] (default 0.25).
func JitterFraction(f float64) Option {
	return func(c *config) { c.jitterFraction = f }
}

// RetryableKinds restricts retries to an explicit set of error kinds,
// overriding the taxonomy's default recoverability check.
func RetryableKinds(kinds ...faults.Kind) Option {
	return func(c *config) {
		c.kinds = make(map[faults.Kind]bool, len(kinds))
		for _, k := range kinds {
			c.kinds[k] = true
		}
	}
}

// WithObserver registers a callback fired before each retry sleep.
func WithObserver(o Observer) Option {
	return func(c *config) { c.observer = o }
}

// WithLogger sets the structured logger for retry warnings (default
// slog.Default()).
func WithLogger(l *slog.Logger) Option {
	return func(c *config) { c.logger = l }
}

func newConfig(opts []Option) *config {
	c := &config{
		maxAttempts:    3,
		baseDelay:      time.Second,
		maxDelay:       30 * time.Second,
		backoff:        BackoffExponential,
		jitterFraction: 0.25,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.maxAttempts < 1 {
		c.maxAttempts = 1
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c
}

// Do runs op up to MaxAttempts times. Cancellation interrupts both the
// operation (via ctx) and the sleep between attempts.
func Do(ctx context.Context, op func(context.Context) error, opts ...Option) error {
	_, err := DoValue(ctx, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	}, opts...)
	return err
}

// DoValue runs fn up to MaxAttempts times and returns its value.
func DoValue[T any](ctx context.Context, fn func(context.Context) (T, error), opts ...Option) (T, error) {
	c := newConfig(opts)
	var zero T
	var last error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if ctx.Err() != nil {
			return zero, faults.Wrap(faults.AgentCancelled, "retry loop cancelled", ctx.Err())
		}
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		if !c.retryable(err) || attempt == c.maxAttempts {
			return zero, err
		}
		last = err

		delay := c.delayFor(attempt, err)
		c.logger.Warn("retrying recoverable error",
			"kind", string(faults.KindOf(err)),
			"attempt", attempt,
			"max_attempts", c.maxAttempts,
			"delay", delay)
		if c.observer != nil {
			c.observer(attempt, err, delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, faults.Wrap(faults.AgentCancelled, "retry sleep cancelled", ctx.Err())
		case <-timer.C:
		}
	}
	return zero, last
}

// permanentError pins an error as non-retryable regardless of its kind.
type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks err as non-retryable for Do/DoValue even when its kind
// would normally allow retries. Used when a side effect has already escaped
// and repeating the operation would duplicate it.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func (c *config) retryable(err error) bool {
	var pe *permanentError
	if errors.As(err, &pe) {
		return false
	}
	if c.kinds != nil {
		return c.kinds[faults.KindOf(err)]
	}
	if !faults.IsRecoverable(err) {
		return false
	}
	switch faults.StrategyOf(err) {
	case faults.StrategyRetry, faults.StrategyRetryWithBackoff:
		return true
	default:
		return false
	}
}

// delayFor computes the sleep before the next attempt. A provider-supplied
// retry-after hint wins outright (capped at maxDelay); otherwise the
// strategy delay is jittered and floored.
func (c *config) delayFor(attempt int, err error) time.Duration {
	if ra, ok := faults.RetryAfterOf(err); ok {
		return min(ra, c.maxDelay)
	}

	var d time.Duration
	switch c.backoff {
	case BackoffConstant:
		d = c.baseDelay
	case BackoffLinear:
		d = c.baseDelay * time.Duration(attempt)
	default: // exponential
		d = c.baseDelay << (attempt - 1)
	}
	d = min(d, c.maxDelay)

	if c.jitterFraction > 0 {
		f := 1 + c.jitterFraction*(2*rand.Float64()-1)
		d = time.Duration(float64(d) * f)
	}
	return max(d, minDelay)
}
