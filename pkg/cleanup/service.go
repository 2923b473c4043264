// Package cleanup enforces retention on persisted event rows. Checkpoints
// have their own sweeper; this one keeps the events table from growing
// without bound across audit runs.
package cleanup

import (
	"context"
	"database/sql"
	"log/slog"
	"time"
)

// Config tunes the retention sweep.
type Config struct {
	// TTL is how long event rows are kept. Zero disables the service.
	TTL time.Duration
	// Interval is how often the sweep runs; 0 means hourly.
	Interval time.Duration
}

// Service periodically deletes event rows past their TTL. Deletes are
// idempotent and safe to run from multiple processes sharing a database.
type Service struct {
	db  *sql.DB
	cfg Config
	log *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService wires a retention service over an open database.
func NewService(db *sql.DB, cfg Config, log *slog.Logger) *Service {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	if log == nil {
		log = slog.Default()
	}
	return &Service{db: db, cfg: cfg, log: log.With("component", "retention")}
}

// Start launches the background sweep loop. A zero TTL or a second Start is
// a no-op.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil || s.cfg.TTL <= 0 {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	s.log.Info("event retention started", "ttl", s.cfg.TTL, "interval", s.cfg.Interval)
}

// Stop signals the loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.cancel = nil
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.sweep(ctx)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

// sweep deletes rows older than the TTL. Errors are logged, not returned;
// the next tick gets another chance.
func (s *Service) sweep(ctx context.Context) {
	cutoff := time.Now().Add(-s.cfg.TTL)
	res, err := s.db.ExecContext(ctx, `DELETE FROM events WHERE created_at < $1`, cutoff)
	if err != nil {
		s.log.Error("event retention sweep failed", "error", err)
		return
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		s.log.Info("expired event rows removed", "count", n)
	}
}
