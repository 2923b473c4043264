// Package breaker implements a per-resource circuit breaker. A breaker trips
// open after a run of consecutive failures, rejects calls while open, then
// admits a limited number of probes after a recovery timeout before closing
// again.
package breaker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/argus-audit/argus/pkg/faults"
)

// State is the breaker condition.
type State string

// Breaker states.
const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// Config tunes a breaker. Zero values fall back to defaults.
type Config struct {
	// FailureThreshold is the run of consecutive failures that opens the
	// circuit (default 5).
	FailureThreshold int
	// SuccessThreshold is the run of consecutive half-open successes that
	// closes it again (default 2).
	SuccessThreshold int
	// RecoveryTimeout is how long the circuit stays open before admitting
	// probes (default 30s).
	RecoveryTimeout time.Duration
	// HalfOpenMaxCalls caps in-flight probes while half-open (default 1).
	HalfOpenMaxCalls int
	// ExcludedKinds are error kinds that count as neither success nor
	// failure (e.g. validation errors that say nothing about the resource).
	ExcludedKinds []faults.Kind
}

func (c Config) withDefaults() Config {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = 2
	}
	if c.RecoveryTimeout <= 0 {
		c.RecoveryTimeout = 30 * time.Second
	}
	if c.HalfOpenMaxCalls <= 0 {
		c.HalfOpenMaxCalls = 1
	}
	return c
}

// Stats is a snapshot of breaker counters.
type Stats struct {
	State                State         `json:"state"`
	TotalCalls           int64         `json:"total_calls"`
	TotalSuccesses       int64         `json:"total_successes"`
	TotalFailures        int64         `json:"total_failures"`
	TotalRejections      int64         `json:"total_rejections"`
	ConsecutiveFailures  int           `json:"consecutive_failures"`
	ConsecutiveSuccesses int           `json:"consecutive_successes"`
	LastFailure          time.Time     `json:"last_failure,omitempty"`
	FailureRate          float64       `json:"failure_rate"`
	TimeInState          time.Duration `json:"time_in_state"`
}

// Breaker guards one named resource.
type Breaker struct {
	name     string
	cfg      Config
	excluded map[faults.Kind]bool

	mu                   sync.Mutex
	state                State
	consecutiveFailures  int
	consecutiveSuccesses int
	halfOpenInFlight     int
	openedAt             time.Time
	transitionAt         time.Time
	lastFailure          time.Time
	totalCalls           int64
	totalSuccesses       int64
	totalFailures        int64
	totalRejections      int64
}

// New creates a closed breaker for the named resource.
func New(name string, cfg Config) *Breaker {
	cfg = cfg.withDefaults()
	excluded := make(map[faults.Kind]bool, len(cfg.ExcludedKinds))
	for _, k := range cfg.ExcludedKinds {
		excluded[k] = true
	}
	return &Breaker{
		name:         name,
		cfg:          cfg,
		excluded:     excluded,
		state:        StateClosed,
		transitionAt: time.Now(),
	}
}

// Name returns the guarded resource name.
func (b *Breaker) Name() string { return b.name }

// Allow admits or rejects a call. Rejection is a Resource.CircuitOpen error
// naming the resource. Every admitted call must be paired with exactly one
// Record call.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if time.Since(b.openedAt) < b.cfg.RecoveryTimeout {
			b.totalRejections++
			return faults.Newf(faults.ResourceCircuitOpen, "circuit %q is open", b.name)
		}
		b.setState(StateHalfOpen)
		fallthrough
	case StateHalfOpen:
		if b.halfOpenInFlight >= b.cfg.HalfOpenMaxCalls {
			b.totalRejections++
			return faults.Newf(faults.ResourceCircuitOpen, "circuit %q is probing", b.name)
		}
		b.halfOpenInFlight++
	}
	b.totalCalls++
	return nil
}

// Record reports the outcome of an admitted call. Cancellations and excluded
// kinds count as neither success nor failure.
func (b *Breaker) Record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateHalfOpen && b.halfOpenInFlight > 0 {
		b.halfOpenInFlight--
	}

	if err == nil {
		b.recordSuccess()
		return
	}
	kind := faults.KindOf(err)
	if kind == faults.AgentCancelled || b.excluded[kind] {
		return
	}
	b.recordFailure()
}

func (b *Breaker) recordSuccess() {
	b.totalSuccesses++
	b.consecutiveFailures = 0
	b.consecutiveSuccesses++
	if b.state == StateHalfOpen && b.consecutiveSuccesses >= b.cfg.SuccessThreshold {
		b.setState(StateClosed)
	}
}

func (b *Breaker) recordFailure() {
	b.totalFailures++
	b.consecutiveSuccesses = 0
	b.consecutiveFailures++
	b.lastFailure = time.Now()

	switch b.state {
	case StateHalfOpen:
		b.trip()
	case StateClosed:
		if b.consecutiveFailures >= b.cfg.FailureThreshold {
			b.trip()
		}
	}
}

func (b *Breaker) trip() {
	b.openedAt = time.Now()
	b.halfOpenInFlight = 0
	b.setState(StateOpen)
}

// setState must be called with b.mu held.
func (b *Breaker) setState(next State) {
	if b.state == next {
		return
	}
	slog.Info("Circuit breaker state change",
		"resource", b.name, "from", string(b.state), "to", string(next))
	b.state = next
	b.transitionAt = time.Now()
	b.consecutiveSuccesses = 0
	if next == StateHalfOpen {
		b.halfOpenInFlight = 0
	}
}

// State returns the current state, applying the open → half-open timeout
// lazily so observers see the same state the next Allow would.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && time.Since(b.openedAt) >= b.cfg.RecoveryTimeout {
		return StateHalfOpen
	}
	return b.state
}

// Stats returns a counter snapshot.
func (b *Breaker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()

	var rate float64
	if b.totalCalls > 0 {
		rate = float64(b.totalFailures) / float64(b.totalCalls)
	}
	return Stats{
		State:                b.state,
		TotalCalls:           b.totalCalls,
		TotalSuccesses:       b.totalSuccesses,
		TotalFailures:        b.totalFailures,
		TotalRejections:      b.totalRejections,
		ConsecutiveFailures:  b.consecutiveFailures,
		ConsecutiveSuccesses: b.consecutiveSuccesses,
		LastFailure:          b.lastFailure,
		FailureRate:          rate,
		TimeInState:          time.Since(b.transitionAt),
	}
}

// Do runs op through the breaker.
func (b *Breaker) Do(ctx context.Context, op func(context.Context) error) error {
	if err := b.Allow(); err != nil {
		return err
	}
	err := op(ctx)
	b.Record(err)
	return err
}

// DoValue runs fn through the breaker and returns its value.
func DoValue[T any](ctx context.Context, b *Breaker, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if err := b.Allow(); err != nil {
		return zero, err
	}
	result, err := fn(ctx)
	b.Record(err)
	if err != nil {
		return zero, err
	}
	return result, nil
}

// Group is a thread-safe registry of breakers keyed by resource name.
type Group struct {
	mu       sync.Mutex
	cfg      Config
	breakers map[string]*Breaker
}

// NewGroup creates a registry whose breakers share cfg.
func NewGroup(cfg Config) *Group {
	return &Group{cfg: cfg, breakers: make(map[string]*Breaker)}
}

// Get returns the breaker for name, creating it on first use.
func (g *Group) Get(name string) *Breaker {
	g.mu.Lock()
	defer g.mu.Unlock()
	if b, ok := g.breakers[name]; ok {
		return b
	}
	b := New(name, g.cfg)
	g.breakers[name] = b
	return b
}

// StatsAll snapshots every breaker in the group.
func (g *Group) StatsAll() map[string]Stats {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make(map[string]Stats, len(g.breakers))
	for name, b := range g.breakers {
		out[name] = b.Stats()
	}
	return out
}
