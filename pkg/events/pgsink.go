package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"time"
)

// pgInsertTimeout bounds each row insert so a stalled database cannot back
// the sink up indefinitely.
const pgInsertTimeout = 5 * time.Second

// PGSink persists events as rows for post-run inspection and API catchup.
// Inserts are best-effort: failures are logged and the stream moves on.
type PGSink struct {
	db  *sql.DB
	log *slog.Logger
}

// NewPGSink wraps a database handle. The events table is created by the
// standard migrations.
func NewPGSink(db *sql.DB, log *slog.Logger) *PGSink {
	if log == nil {
		log = slog.Default()
	}
	return &PGSink{db: db, log: log.With("component", "events_pg_sink")}
}

// Attach subscribes the sink to an emitter. Returns a stop function that
// detaches and waits for the drain.
func (s *PGSink) Attach(e *Emitter) func() {
	ch, cancel := e.Subscribe()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range ch {
			s.insert(ev)
		}
	}()

	return func() {
		cancel()
		<-done
	}
}

func (s *PGSink) insert(ev Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		s.log.Error("failed to marshal event for persistence", "event_id", ev.ID, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), pgInsertTimeout)
	defer cancel()

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO events (event_id, seq, event_type, correlation_id, task_id, agent_id, agent_name, iteration, message, payload, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (event_id) DO NOTHING`,
		ev.ID, ev.Seq, string(ev.Type), ev.CorrelationID, ev.TaskID,
		ev.AgentID, ev.AgentName, ev.Iteration, ev.Message, payload, ev.Timestamp,
	)
	if err != nil {
		s.log.Error("failed to persist event", "event_id", ev.ID, "error", err)
	}
}
