package checkpoint

import (
	"context"
	"log/slog"
	"time"

	"github.com/argus-audit/argus/pkg/agent"
)

// Config tunes automatic checkpointing and retention.
type Config struct {
	// Interval checkpoints every N iterations; 0 disables automatic
	// snapshots (terminal snapshots still happen).
	Interval int `yaml:"interval" json:"interval"`
	// Keep is how many checkpoints to retain per agent.
	Keep int `yaml:"keep" json:"keep"`
	// SweepInterval is how often the background sweeper enforces
	// retention across all agents.
	SweepInterval time.Duration `yaml:"sweep_interval" json:"sweep_interval"`
}

// DefaultConfig returns the stock checkpointing policy.
func DefaultConfig() Config {
	return Config{
		Interval:      5,
		Keep:          5,
		SweepInterval: 5 * time.Minute,
	}
}

// Manager drives automatic checkpoints against a store and runs the
// retention sweeper.
type Manager struct {
	store Store
	cfg   Config
	log   *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewManager wires a store with a policy. Zero-value config fields fall
// back to defaults.
func NewManager(store Store, cfg Config, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	def := DefaultConfig()
	if cfg.Keep <= 0 {
		cfg.Keep = def.Keep
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = def.SweepInterval
	}
	return &Manager{store: store, cfg: cfg, log: log.With("component", "checkpoint")}
}

// Store exposes the underlying store for restore flows.
func (m *Manager) Store() Store { return m.store }

// MaybeCheckpoint snapshots the state when the iteration counter crosses
// the configured interval. Called by the loop after each iteration.
func (m *Manager) MaybeCheckpoint(ctx context.Context, st *agent.State) error {
	if m.cfg.Interval <= 0 {
		return nil
	}
	iter := st.Iteration()
	if iter == 0 || iter%m.cfg.Interval != 0 {
		return nil
	}
	return m.Checkpoint(ctx, st)
}

// Checkpoint captures and persists the state now, then enforces retention
// for that agent.
func (m *Manager) Checkpoint(ctx context.Context, st *agent.State) error {
	snap := Capture(st, "")
	if err := m.store.Save(ctx, snap); err != nil {
		return err
	}
	removed, err := m.store.Prune(ctx, snap.AgentID, m.cfg.Keep)
	if err != nil {
		m.log.Warn("checkpoint retention prune failed", "agent_id", snap.AgentID, "error", err)
	} else if removed > 0 {
		m.log.Debug("pruned old checkpoints", "agent_id", snap.AgentID, "removed", removed)
	}
	m.log.Debug("checkpoint saved",
		"agent_id", snap.AgentID,
		"name", snap.Name,
		"iteration", st.Iteration(),
	)
	return nil
}

// Restore loads the most recent checkpoint for an agent and reconstitutes
// its state.
func (m *Manager) Restore(ctx context.Context, agentID string) (*agent.State, error) {
	snap, err := m.store.LoadLatest(ctx, agentID)
	if err != nil {
		return nil, err
	}
	return Restore(snap)
}

// Start launches the background retention sweeper.
func (m *Manager) Start(ctx context.Context) {
	if m.cancel != nil {
		return
	}
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})

	go m.run(ctx)

	m.log.Info("checkpoint sweeper started",
		"keep", m.cfg.Keep,
		"sweep_interval", m.cfg.SweepInterval,
	)
}

// Stop signals the sweeper to exit and waits for it to finish.
func (m *Manager) Stop() {
	if m.cancel == nil {
		return
	}
	m.cancel()
	<-m.done
	m.cancel = nil
	m.log.Info("checkpoint sweeper stopped")
}

func (m *Manager) run(ctx context.Context) {
	defer close(m.done)

	m.sweep(ctx)

	ticker := time.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sweep(ctx)
		}
	}
}

func (m *Manager) sweep(ctx context.Context) {
	ids, err := m.store.Agents(ctx)
	if err != nil {
		m.log.Error("retention sweep failed to list agents", "error", err)
		return
	}
	total := 0
	for _, id := range ids {
		removed, err := m.store.Prune(ctx, id, m.cfg.Keep)
		if err != nil {
			m.log.Error("retention sweep failed", "agent_id", id, "error", err)
			continue
		}
		total += removed
	}
	if total > 0 {
		m.log.Info("retention sweep removed old checkpoints", "removed", total)
	}
}
