// Package checkpoint persists agent state snapshots at iteration boundaries
// so an interrupted audit can be resumed. Snapshots are version-tagged JSON
// keyed by (agent id, checkpoint name); a filesystem store and a Postgres
// store implement the same contract.
package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/argus-audit/argus/pkg/agent"
	"github.com/argus-audit/argus/pkg/faults"
)

// ErrNotFound reports a missing checkpoint. Wrapped in a State.Recovery
// fault by Load paths; test with errors.Is.
var ErrNotFound = errors.New("checkpoint not found")

// Snapshot is the persisted envelope. Version travels with the payload so
// a future format change can migrate on restore.
type Snapshot struct {
	Version    int                  `json:"version"`
	AgentID    string               `json:"agent_id"`
	Name       string               `json:"name"`
	CapturedAt time.Time            `json:"captured_at"`
	State      *agent.StateSnapshot `json:"state"`
}

// Meta identifies a stored checkpoint without its payload.
type Meta struct {
	AgentID    string    `json:"agent_id"`
	Name       string    `json:"name"`
	CapturedAt time.Time `json:"captured_at"`
}

// Store is the persistence contract shared by the filesystem and Postgres
// implementations. List returns newest first.
type Store interface {
	Save(ctx context.Context, snap *Snapshot) error
	Load(ctx context.Context, agentID, name string) (*Snapshot, error)
	LoadLatest(ctx context.Context, agentID string) (*Snapshot, error)
	List(ctx context.Context, agentID string) ([]Meta, error)
	Delete(ctx context.Context, agentID, name string) error
	// Prune removes all but the keep most recent checkpoints for an agent.
	Prune(ctx context.Context, agentID string, keep int) (removed int, err error)
	// Agents lists every agent id with at least one stored checkpoint.
	Agents(ctx context.Context) ([]string, error)
}

// Capture wraps a live state into a persistable snapshot. An empty name
// derives one from the capture time so names sort chronologically.
func Capture(st *agent.State, name string) *Snapshot {
	now := time.Now()
	if name == "" {
		name = AutoName(now)
	}
	return &Snapshot{
		Version:    agent.SnapshotVersion,
		AgentID:    st.AgentID(),
		Name:       name,
		CapturedAt: now,
		State:      st.Snapshot(),
	}
}

// AutoName builds the timestamp-derived checkpoint name. Zero-padded
// nanoseconds keep lexical and chronological order identical.
func AutoName(t time.Time) string {
	return fmt.Sprintf("cp-%020d", t.UnixNano())
}

// Restore reconstitutes a live state from a snapshot, rejecting versions
// newer than this build understands.
func Restore(snap *Snapshot) (*agent.State, error) {
	if snap.State == nil {
		return nil, faults.New(faults.StateRecovery, "checkpoint has no state payload")
	}
	if snap.Version > agent.SnapshotVersion {
		return nil, faults.Newf(faults.StateRecovery,
			"checkpoint version %d is newer than supported version %d", snap.Version, agent.SnapshotVersion)
	}
	return agent.RestoreState(snap.State), nil
}

// keyPattern constrains agent ids and checkpoint names used as storage
// keys. Anything else risks path traversal in the filesystem store.
var keyPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

func validateKey(kind, v string) error {
	if !keyPattern.MatchString(v) {
		return faults.Newf(faults.ValidationInput, "invalid checkpoint %s %q", kind, v)
	}
	return nil
}
