package checkpoint

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/argus-audit/argus/pkg/agent"
	"github.com/argus-audit/argus/pkg/faults"
)

// PGStore persists snapshots as rows in the checkpoints table (created by
// the standard migrations). Save upserts on (agent_id, name).
type PGStore struct {
	db *sql.DB
}

// NewPGStore wraps an open database handle.
func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

// Save upserts one checkpoint row.
func (s *PGStore) Save(ctx context.Context, snap *Snapshot) error {
	if err := validateKey("agent id", snap.AgentID); err != nil {
		return err
	}
	if err := validateKey("name", snap.Name); err != nil {
		return err
	}
	state, err := json.Marshal(snap.State)
	if err != nil {
		return faults.Wrap(faults.StatePersistence, "failed to encode checkpoint state", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO checkpoints (agent_id, name, version, captured_at, state)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (agent_id, name)
		 DO UPDATE SET version = EXCLUDED.version, captured_at = EXCLUDED.captured_at, state = EXCLUDED.state`,
		snap.AgentID, snap.Name, snap.Version, snap.CapturedAt, state,
	)
	if err != nil {
		return faults.Wrap(faults.StatePersistence, "failed to persist checkpoint", err)
	}
	return nil
}

// Load reads one checkpoint by name.
func (s *PGStore) Load(ctx context.Context, agentID, name string) (*Snapshot, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT agent_id, name, version, captured_at, state
		 FROM checkpoints WHERE agent_id = $1 AND name = $2`,
		agentID, name,
	)
	return scanSnapshot(row)
}

// LoadLatest reads the most recently captured checkpoint for an agent.
func (s *PGStore) LoadLatest(ctx context.Context, agentID string) (*Snapshot, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT agent_id, name, version, captured_at, state
		 FROM checkpoints WHERE agent_id = $1
		 ORDER BY captured_at DESC, name DESC LIMIT 1`,
		agentID,
	)
	return scanSnapshot(row)
}

func scanSnapshot(row *sql.Row) (*Snapshot, error) {
	var snap Snapshot
	var state []byte
	err := row.Scan(&snap.AgentID, &snap.Name, &snap.Version, &snap.CapturedAt, &state)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, faults.Wrap(faults.StateRecovery, "checkpoint missing", ErrNotFound)
	}
	if err != nil {
		return nil, faults.Wrap(faults.StateRecovery, "failed to read checkpoint", err)
	}
	snap.State = &agent.StateSnapshot{}
	if err := json.Unmarshal(state, snap.State); err != nil {
		return nil, faults.Wrap(faults.StateRecovery, "corrupt checkpoint state", err)
	}
	return &snap, nil
}

// List returns checkpoint metadata, newest first.
func (s *PGStore) List(ctx context.Context, agentID string) ([]Meta, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT agent_id, name, captured_at FROM checkpoints
		 WHERE agent_id = $1 ORDER BY captured_at DESC, name DESC`,
		agentID,
	)
	if err != nil {
		return nil, faults.Wrap(faults.StateRecovery, "failed to list checkpoints", err)
	}
	defer rows.Close()

	var metas []Meta
	for rows.Next() {
		var m Meta
		if err := rows.Scan(&m.AgentID, &m.Name, &m.CapturedAt); err != nil {
			return nil, faults.Wrap(faults.StateRecovery, "failed to scan checkpoint row", err)
		}
		metas = append(metas, m)
	}
	if err := rows.Err(); err != nil {
		return nil, faults.Wrap(faults.StateRecovery, "failed to iterate checkpoint rows", err)
	}
	return metas, nil
}

// Delete removes one checkpoint row; missing rows are not an error.
func (s *PGStore) Delete(ctx context.Context, agentID, name string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM checkpoints WHERE agent_id = $1 AND name = $2`, agentID, name)
	if err != nil {
		return faults.Wrap(faults.StatePersistence, "failed to delete checkpoint", err)
	}
	return nil
}

// Prune keeps the newest keep rows per agent and deletes the rest.
func (s *PGStore) Prune(ctx context.Context, agentID string, keep int) (int, error) {
	if keep < 0 {
		keep = 0
	}
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM checkpoints
		 WHERE agent_id = $1 AND name NOT IN (
		   SELECT name FROM checkpoints WHERE agent_id = $1
		   ORDER BY captured_at DESC, name DESC LIMIT $2
		 )`,
		agentID, keep,
	)
	if err != nil {
		return 0, faults.Wrap(faults.StatePersistence, "failed to prune checkpoints", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return int(n), nil
}

// Agents lists agent ids with stored checkpoints.
func (s *PGStore) Agents(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT agent_id FROM checkpoints ORDER BY agent_id`)
	if err != nil {
		return nil, faults.Wrap(faults.StateRecovery, "failed to list checkpoint agents", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, faults.Wrap(faults.StateRecovery, "failed to scan agent id", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
