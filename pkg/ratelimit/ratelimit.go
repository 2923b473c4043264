// Package ratelimit provides token-bucket and sliding-window limiters plus a
// named registry with engine-wide defaults (LLM calls, per-tool, file reads).
// All waits are context-aware; cancellation interrupts them.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/argus-audit/argus/pkg/faults"
)

// Limiter admits calls, blocking until capacity is available or the context
// is done.
type Limiter interface {
	// Acquire blocks until n permits are available.
	Acquire(ctx context.Context, n int) error
	// TryAcquire takes n permits without blocking, reporting success.
	TryAcquire(n int) bool
}

// TokenBucket replenishes permits at a steady rate up to a burst cap.
type TokenBucket struct {
	lim *rate.Limiter
}

// NewTokenBucket creates a bucket that refills at r permits per second and
// holds at most burst.
func NewTokenBucket(r float64, burst int) *TokenBucket {
	return &TokenBucket{lim: rate.NewLimiter(rate.Limit(r), burst)}
}

// Acquire blocks until n permits are available or ctx is done.
func (b *TokenBucket) Acquire(ctx context.Context, n int) error {
	if err := b.lim.WaitN(ctx, n); err != nil {
		if ctx.Err() != nil {
			return faults.Wrap(faults.AgentCancelled, "rate limit wait cancelled", ctx.Err())
		}
		return faults.Wrap(faults.ResourceRateLimit, "rate limit wait failed", err)
	}
	return nil
}

// TryAcquire takes n permits if immediately available.
func (b *TokenBucket) TryAcquire(n int) bool {
	return b.lim.AllowN(time.Now(), n)
}

// SlidingWindow admits at most max events per rolling window. Unlike the
// bucket there is no burst smoothing: admission is a strict count of
// timestamps newer than window.
type SlidingWindow struct {
	mu     sync.Mutex
	max    int
	window time.Duration
	stamps []time.Time
}

// NewSlidingWindow creates a window limiter allowing max events per window.
func NewSlidingWindow(max int, window time.Duration) *SlidingWindow {
	return &SlidingWindow{max: max, window: window}
}

// evict drops timestamps older than the window. Callers hold w.mu.
func (w *SlidingWindow) evict(now time.Time) {
	cutoff := now.Add(-w.window)
	i := 0
	for i < len(w.stamps) && !w.stamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		w.stamps = append(w.stamps[:0], w.stamps[i:]...)
	}
}

// TryAcquire admits n events if the window has room.
func (w *SlidingWindow) TryAcquire(n int) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	now := time.Now()
	w.evict(now)
	if len(w.stamps)+n > w.max {
		return false
	}
	for i := 0; i < n; i++ {
		w.stamps = append(w.stamps, now)
	}
	return true
}

// Acquire blocks until the window admits n events or ctx is done.
func (w *SlidingWindow) Acquire(ctx context.Context, n int) error {
	if n > w.max {
		return faults.Newf(faults.ResourceRateLimit, "request for %d exceeds window capacity %d", n, w.max)
	}
	for {
		w.mu.Lock()
		now := time.Now()
		w.evict(now)
		if len(w.stamps)+n <= w.max {
			for i := 0; i < n; i++ {
				w.stamps = append(w.stamps, now)
			}
			w.mu.Unlock()
			return nil
		}
		// Sleep until the oldest blocking timestamp ages out.
		wait := w.stamps[0].Add(w.window).Sub(now)
		w.mu.Unlock()
		if wait <= 0 {
			wait = time.Millisecond
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return faults.Wrap(faults.AgentCancelled, "rate limit wait cancelled", ctx.Err())
		case <-timer.C:
		}
	}
}

// Default limiter shapes.
const (
	// LimiterLLM throttles chat-completion calls.
	LimiterLLM = "llm"
	// LimiterFileRead throttles filesystem reads from tools.
	LimiterFileRead = "file-read"
	// toolPrefix namespaces per-tool limiters.
	toolPrefix = "tool:"
)

// Registry is a thread-safe set of named limiters with lazily-created
// defaults: llm 1/s burst 5, per-tool 0.2/s burst 3, file-read 10/s burst 20.
type Registry struct {
	mu       sync.Mutex
	limiters map[string]Limiter
}

// NewRegistry creates a registry pre-seeded with the engine defaults.
func NewRegistry() *Registry {
	r := &Registry{limiters: make(map[string]Limiter)}
	r.limiters[LimiterLLM] = NewTokenBucket(1, 5)
	r.limiters[LimiterFileRead] = NewTokenBucket(10, 20)
	return r
}

// Set installs or replaces a named limiter.
func (r *Registry) Set(name string, l Limiter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.limiters[name] = l
}

// Get returns the named limiter, creating a per-tool default when the name
// carries the tool prefix and an unlimited-burst bucket otherwise.
func (r *Registry) Get(name string) Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()
	if l, ok := r.limiters[name]; ok {
		return l
	}
	var l Limiter
	if len(name) > len(toolPrefix) && name[:len(toolPrefix)] == toolPrefix {
		l = NewTokenBucket(0.2, 3)
	} else {
		l = NewTokenBucket(1, 5)
	}
	r.limiters[name] = l
	return l
}

// ForTool returns the limiter guarding an external tool.
func (r *Registry) ForTool(tool string) Limiter {
	return r.Get(toolPrefix + tool)
}
