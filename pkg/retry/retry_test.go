package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/argus-audit/argus/pkg/faults"
)

func TestDoValue_SucceedsWithinBudget(t *testing.T) {
	calls := 0
	got, err := DoValue(context.Background(), func(ctx context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", faults.New(faults.LLMTimeout, "slow upstream")
		}
		return "ok", nil
	}, MaxAttempts(3), BaseDelay(time.Millisecond), JitterFraction(0))

	require.NoError(t, err)
	// Outcome is identical to a single successful call.
	assert.Equal(t, "ok", got)
	assert.Equal(t, 3, calls)
}

func TestDoValue_NonRetryableAbortsImmediately(t *testing.T) {
	calls := 0
	_, err := DoValue(context.Background(), func(ctx context.Context) (int, error) {
		calls++
		return 0, faults.New(faults.LLMAuth, "bad key")
	}, MaxAttempts(5), BaseDelay(time.Millisecond))

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, faults.LLMAuth, faults.KindOf(err))
}

func TestDoValue_FallbackStrategyIsNotRetried(t *testing.T) {
	calls := 0
	_, err := DoValue(context.Background(), func(ctx context.Context) (int, error) {
		calls++
		return 0, faults.New(faults.LLMContextLength, "too many tokens")
	}, MaxAttempts(3), BaseDelay(time.Millisecond))

	require.Error(t, err)
	// Fallback errors belong to the caller's fallback path, not the retry loop.
	assert.Equal(t, 1, calls)
}

func TestDoValue_ExhaustsAttempts(t *testing.T) {
	calls := 0
	_, err := DoValue(context.Background(), func(ctx context.Context) (int, error) {
		calls++
		return 0, faults.New(faults.LLMConnection, "refused")
	}, MaxAttempts(3), BaseDelay(time.Millisecond), JitterFraction(0))

	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, faults.LLMConnection, faults.KindOf(err))
}

func TestDoValue_HonorsRetryAfter(t *testing.T) {
	calls := 0
	start := time.Now()
	_, err := DoValue(context.Background(), func(ctx context.Context) (int, error) {
		calls++
		if calls < 2 {
			return 0, faults.New(faults.LLMRateLimit, "throttled").WithRetryAfter(150 * time.Millisecond)
		}
		return 1, nil
	}, MaxAttempts(3), BaseDelay(time.Millisecond), JitterFraction(0))

	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)
}

func TestDoValue_RetryAfterCappedByMaxDelay(t *testing.T) {
	calls := 0
	start := time.Now()
	_, err := DoValue(context.Background(), func(ctx context.Context) (int, error) {
		calls++
		if calls < 2 {
			return 0, faults.New(faults.LLMRateLimit, "throttled").WithRetryAfter(10 * time.Second)
		}
		return 1, nil
	}, MaxAttempts(2), MaxDelay(50*time.Millisecond))

	require.NoError(t, err)
	elapsed := time.Since(start)
	assert.Less(t, elapsed, 2*time.Second, "delay should be capped, not the full retry-after")
}

func TestDoValue_ObserverSeesEachRetry(t *testing.T) {
	var attempts []int
	calls := 0
	_, err := DoValue(context.Background(), func(ctx context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, faults.New(faults.LLMRateLimit, "throttled").WithRetryAfter(time.Millisecond)
		}
		return 1, nil
	}, MaxAttempts(3), WithObserver(func(attempt int, err error, delay time.Duration) {
		attempts = append(attempts, attempt)
	}))

	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, attempts)
}

func TestDoValue_CancellationInterruptsSleep(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := DoValue(ctx, func(ctx context.Context) (int, error) {
		return 0, faults.New(faults.LLMRateLimit, "throttled").WithRetryAfter(5 * time.Second)
	}, MaxAttempts(2))

	require.Error(t, err)
	assert.Equal(t, faults.AgentCancelled, faults.KindOf(err))
	assert.Less(t, time.Since(start), time.Second)
}

func TestDoValue_ExplicitKindSet(t *testing.T) {
	calls := 0
	_, err := DoValue(context.Background(), func(ctx context.Context) (int, error) {
		calls++
		return 0, faults.New(faults.LLMTimeout, "slow")
	}, MaxAttempts(3), BaseDelay(time.Millisecond), RetryableKinds(faults.LLMRateLimit))

	require.Error(t, err)
	// LLMTimeout is normally retryable, but the explicit set excludes it.
	assert.Equal(t, 1, calls)
}

func TestDo_PlainErrorsAreNotRetried(t *testing.T) {
	calls := 0
	err := Do(context.Background(), func(ctx context.Context) error {
		calls++
		return errors.New("unclassified")
	}, MaxAttempts(4), BaseDelay(time.Millisecond))

	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDelayFor_Strategies(t *testing.T) {
	c := newConfig([]Option{BaseDelay(200 * time.Millisecond), JitterFraction(0), MaxDelay(time.Hour)})

	c.backoff = BackoffConstant
	assert.Equal(t, 200*time.Millisecond, c.delayFor(1, faults.New(faults.LLMTimeout, "")))
	assert.Equal(t, 200*time.Millisecond, c.delayFor(3, faults.New(faults.LLMTimeout, "")))

	c.backoff = BackoffLinear
	assert.Equal(t, 600*time.Millisecond, c.delayFor(3, faults.New(faults.LLMTimeout, "")))

	c.backoff = BackoffExponential
	assert.Equal(t, 800*time.Millisecond, c.delayFor(3, faults.New(faults.LLMTimeout, "")))
}

func TestDelayFor_Floor(t *testing.T) {
	c := newConfig([]Option{BaseDelay(time.Nanosecond), JitterFraction(0)})
	d := c.delayFor(1, faults.New(faults.LLMTimeout, ""))
	assert.GreaterOrEqual(t, d, minDelay)
}

func TestDoValue_PermanentErrorAbortsRetryableKind(t *testing.T) {
	calls := 0
	_, err := DoValue(context.Background(), func(ctx context.Context) (int, error) {
		calls++
		// Timeout is normally retryable; Permanent pins it.
		return 0, Permanent(faults.New(faults.LLMTimeout, "stream broke mid-flight"))
	}, MaxAttempts(4), BaseDelay(time.Millisecond))

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.True(t, faults.IsKind(err, faults.LLMTimeout))
}

func TestPermanentNil(t *testing.T) {
	assert.NoError(t, Permanent(nil))
}
