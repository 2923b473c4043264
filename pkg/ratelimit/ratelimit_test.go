package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/argus-audit/argus/pkg/faults"
)

func TestTokenBucket_BurstThenWait(t *testing.T) {
	b := NewTokenBucket(1, 5)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 5; i++ {
		require.NoError(t, b.Acquire(ctx, 1))
	}
	burstElapsed := time.Since(start)
	assert.Less(t, burstElapsed, 200*time.Millisecond, "burst should be instant")

	// Sixth acquire refills at 1/s.
	require.NoError(t, b.Acquire(ctx, 1))
	total := time.Since(start)
	assert.GreaterOrEqual(t, total, 700*time.Millisecond, "sixth acquire should wait about a second")
}

func TestTokenBucket_CancellationInterruptsWait(t *testing.T) {
	b := NewTokenBucket(0.1, 1)
	require.True(t, b.TryAcquire(1))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := b.Acquire(ctx, 1)
	require.Error(t, err)
	assert.Equal(t, faults.AgentCancelled, faults.KindOf(err))
	assert.Less(t, time.Since(start), time.Second)
}

func TestTokenBucket_TryAcquire(t *testing.T) {
	b := NewTokenBucket(1, 2)
	assert.True(t, b.TryAcquire(2))
	assert.False(t, b.TryAcquire(1))
}

func TestSlidingWindow_AdmitsUpToMax(t *testing.T) {
	w := NewSlidingWindow(3, time.Minute)
	assert.True(t, w.TryAcquire(1))
	assert.True(t, w.TryAcquire(2))
	assert.False(t, w.TryAcquire(1))
}

func TestSlidingWindow_EvictsOldEntries(t *testing.T) {
	w := NewSlidingWindow(2, 50*time.Millisecond)
	require.True(t, w.TryAcquire(2))
	require.False(t, w.TryAcquire(1))

	time.Sleep(60 * time.Millisecond)
	assert.True(t, w.TryAcquire(2), "window should have rolled over")
}

func TestSlidingWindow_AcquireBlocksUntilSlotFrees(t *testing.T) {
	w := NewSlidingWindow(1, 80*time.Millisecond)
	ctx := context.Background()
	require.NoError(t, w.Acquire(ctx, 1))

	start := time.Now()
	require.NoError(t, w.Acquire(ctx, 1))
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestSlidingWindow_AcquireOverCapacity(t *testing.T) {
	w := NewSlidingWindow(2, time.Minute)
	err := w.Acquire(context.Background(), 3)
	require.Error(t, err)
	assert.Equal(t, faults.ResourceRateLimit, faults.KindOf(err))
}

func TestSlidingWindow_CancellationInterruptsWait(t *testing.T) {
	w := NewSlidingWindow(1, time.Minute)
	require.True(t, w.TryAcquire(1))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err := w.Acquire(ctx, 1)
	require.Error(t, err)
	assert.Equal(t, faults.AgentCancelled, faults.KindOf(err))
}

func TestRegistry_Defaults(t *testing.T) {
	r := NewRegistry()

	llm := r.Get(LimiterLLM)
	require.NotNil(t, llm)
	assert.Same(t, llm, r.Get(LimiterLLM))

	fileRead := r.Get(LimiterFileRead)
	require.NotNil(t, fileRead)

	// Per-tool limiters are created lazily with the slow external-tool shape.
	semgrep := r.ForTool("semgrep_scan")
	assert.Same(t, semgrep, r.Get("tool:semgrep_scan"))
	assert.True(t, semgrep.TryAcquire(3))
	assert.False(t, semgrep.TryAcquire(1), "external tool burst is 3")
}

func TestRegistry_SetOverrides(t *testing.T) {
	r := NewRegistry()
	custom := NewTokenBucket(100, 100)
	r.Set(LimiterLLM, custom)
	assert.Same(t, Limiter(custom), r.Get(LimiterLLM))
}
