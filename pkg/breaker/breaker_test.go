package breaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/argus-audit/argus/pkg/faults"
)

func testConfig(recovery time.Duration) Config {
	return Config{
		FailureThreshold: 3,
		SuccessThreshold: 2,
		RecoveryTimeout:  recovery,
		HalfOpenMaxCalls: 1,
	}
}

func failN(b *Breaker, n int) {
	for i := 0; i < n; i++ {
		if err := b.Allow(); err == nil {
			b.Record(errors.New("downstream broke"))
		}
	}
}

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	b := New("llm", testConfig(time.Hour))

	failN(b, 2)
	assert.Equal(t, StateClosed, b.State())

	failN(b, 1)
	assert.Equal(t, StateOpen, b.State())

	// Fourth call within the recovery window is rejected.
	err := b.Allow()
	require.Error(t, err)
	assert.Equal(t, faults.ResourceCircuitOpen, faults.KindOf(err))
	assert.Contains(t, err.Error(), "llm")
}

func TestBreaker_HalfOpenAfterRecoveryTimeout(t *testing.T) {
	b := New("llm", testConfig(30*time.Millisecond))
	failN(b, 3)
	require.Equal(t, StateOpen, b.State())

	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, StateHalfOpen, b.State())

	// Probe is admitted.
	require.NoError(t, b.Allow())

	// A concurrent second probe exceeds HalfOpenMaxCalls.
	err := b.Allow()
	require.Error(t, err)
	assert.Equal(t, faults.ResourceCircuitOpen, faults.KindOf(err))
}

func TestBreaker_ClosesAfterSuccessThreshold(t *testing.T) {
	b := New("llm", testConfig(10 * time.Millisecond))
	failN(b, 3)
	time.Sleep(15 * time.Millisecond)

	require.NoError(t, b.Allow())
	b.Record(nil)
	assert.Equal(t, StateHalfOpen, b.State())

	require.NoError(t, b.Allow())
	b.Record(nil)
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	b := New("llm", testConfig(10 * time.Millisecond))
	failN(b, 3)
	time.Sleep(15 * time.Millisecond)

	require.NoError(t, b.Allow())
	b.Record(errors.New("still broken"))
	assert.Equal(t, StateOpen, b.State())

	err := b.Allow()
	require.Error(t, err)
}

func TestBreaker_ExcludedKindsNotCounted(t *testing.T) {
	cfg := testConfig(time.Hour)
	cfg.ExcludedKinds = []faults.Kind{faults.ValidationInput}
	b := New("tool:read_file", cfg)

	for i := 0; i < 10; i++ {
		require.NoError(t, b.Allow())
		b.Record(faults.New(faults.ValidationInput, "bad args"))
	}
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_CancellationNotCounted(t *testing.T) {
	b := New("llm", testConfig(time.Hour))
	for i := 0; i < 10; i++ {
		require.NoError(t, b.Allow())
		b.Record(faults.New(faults.AgentCancelled, "stop requested"))
	}
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_SuccessResetsFailureRun(t *testing.T) {
	b := New("llm", testConfig(time.Hour))
	failN(b, 2)
	require.NoError(t, b.Allow())
	b.Record(nil)
	failN(b, 2)
	assert.Equal(t, StateClosed, b.State(), "non-consecutive failures must not trip")
}

func TestBreaker_Stats(t *testing.T) {
	b := New("llm", testConfig(time.Hour))
	require.NoError(t, b.Allow())
	b.Record(nil)
	failN(b, 3)
	_ = b.Allow() // rejected

	stats := b.Stats()
	assert.Equal(t, StateOpen, stats.State)
	assert.Equal(t, int64(4), stats.TotalCalls)
	assert.Equal(t, int64(1), stats.TotalSuccesses)
	assert.Equal(t, int64(3), stats.TotalFailures)
	assert.Equal(t, int64(1), stats.TotalRejections)
	assert.Equal(t, 3, stats.ConsecutiveFailures)
	assert.InDelta(t, 0.75, stats.FailureRate, 0.0001)
	assert.False(t, stats.LastFailure.IsZero())
}

func TestDoValue_PassesThroughResult(t *testing.T) {
	b := New("llm", testConfig(time.Hour))
	got, err := DoValue(context.Background(), b, func(ctx context.Context) (string, error) {
		return "answer", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "answer", got)
}

func TestGroup_SharedConfigPerName(t *testing.T) {
	g := NewGroup(testConfig(time.Hour))
	a := g.Get("semgrep")
	b := g.Get("semgrep")
	assert.Same(t, a, b)

	failN(a, 3)
	assert.Equal(t, StateOpen, g.Get("semgrep").State())
	assert.Equal(t, StateClosed, g.Get("bandit").State())

	all := g.StatsAll()
	assert.Len(t, all, 2)
}
