package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/argus-audit/argus/pkg/faults"
)

// FSStore persists snapshots as one JSON file per checkpoint under
// root/<agent_id>/<name>.json. Writes go through a temp file and an atomic
// rename so a crash never leaves a torn checkpoint behind.
type FSStore struct {
	root string
}

// NewFSStore creates the root directory if needed.
func NewFSStore(root string) (*FSStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, faults.Wrap(faults.StatePersistence, "failed to create checkpoint root", err)
	}
	return &FSStore{root: root}, nil
}

func (s *FSStore) agentDir(agentID string) string {
	return filepath.Join(s.root, agentID)
}

func (s *FSStore) path(agentID, name string) string {
	return filepath.Join(s.root, agentID, name+".json")
}

// Save writes the snapshot atomically.
func (s *FSStore) Save(_ context.Context, snap *Snapshot) error {
	if err := validateKey("agent id", snap.AgentID); err != nil {
		return err
	}
	if err := validateKey("name", snap.Name); err != nil {
		return err
	}

	dir := s.agentDir(snap.AgentID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return faults.Wrap(faults.StatePersistence, "failed to create agent checkpoint dir", err)
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return faults.Wrap(faults.StatePersistence, "failed to encode checkpoint", err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-"+snap.Name+"-*")
	if err != nil {
		return faults.Wrap(faults.StatePersistence, "failed to create checkpoint temp file", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return faults.Wrap(faults.StatePersistence, "failed to write checkpoint", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return faults.Wrap(faults.StatePersistence, "failed to close checkpoint temp file", err)
	}
	if err := os.Rename(tmpName, s.path(snap.AgentID, snap.Name)); err != nil {
		_ = os.Remove(tmpName)
		return faults.Wrap(faults.StatePersistence, "failed to finalize checkpoint", err)
	}
	return nil
}

// Load reads one checkpoint by name.
func (s *FSStore) Load(_ context.Context, agentID, name string) (*Snapshot, error) {
	if err := validateKey("agent id", agentID); err != nil {
		return nil, err
	}
	if err := validateKey("name", name); err != nil {
		return nil, err
	}
	return s.read(s.path(agentID, name))
}

func (s *FSStore) read(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, faults.Wrap(faults.StateRecovery, "checkpoint missing", ErrNotFound)
		}
		return nil, faults.Wrap(faults.StateRecovery, "failed to read checkpoint", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, faults.Wrap(faults.StateRecovery, fmt.Sprintf("corrupt checkpoint %s", filepath.Base(path)), err)
	}
	return &snap, nil
}

// LoadLatest returns the most recently captured checkpoint for an agent.
func (s *FSStore) LoadLatest(ctx context.Context, agentID string) (*Snapshot, error) {
	metas, err := s.List(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if len(metas) == 0 {
		return nil, faults.Wrap(faults.StateRecovery, "no checkpoints for agent "+agentID, ErrNotFound)
	}
	return s.Load(ctx, agentID, metas[0].Name)
}

// List returns checkpoint metadata, newest first.
func (s *FSStore) List(_ context.Context, agentID string) ([]Meta, error) {
	if err := validateKey("agent id", agentID); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(s.agentDir(agentID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, faults.Wrap(faults.StateRecovery, "failed to list checkpoints", err)
	}

	var metas []Meta
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") || strings.HasPrefix(name, ".tmp-") {
			continue
		}
		snap, err := s.read(filepath.Join(s.agentDir(agentID), name))
		if err != nil {
			// Corrupt files are skipped, not fatal for a listing.
			continue
		}
		metas = append(metas, Meta{AgentID: agentID, Name: snap.Name, CapturedAt: snap.CapturedAt})
	}
	sort.Slice(metas, func(i, j int) bool { return metas[i].CapturedAt.After(metas[j].CapturedAt) })
	return metas, nil
}

// Delete removes one checkpoint; deleting a missing one is not an error.
func (s *FSStore) Delete(_ context.Context, agentID, name string) error {
	if err := validateKey("agent id", agentID); err != nil {
		return err
	}
	if err := validateKey("name", name); err != nil {
		return err
	}
	if err := os.Remove(s.path(agentID, name)); err != nil && !os.IsNotExist(err) {
		return faults.Wrap(faults.StatePersistence, "failed to delete checkpoint", err)
	}
	return nil
}

// Prune keeps the newest keep checkpoints and removes the rest.
func (s *FSStore) Prune(ctx context.Context, agentID string, keep int) (int, error) {
	if keep < 0 {
		keep = 0
	}
	metas, err := s.List(ctx, agentID)
	if err != nil {
		return 0, err
	}
	removed := 0
	for i := keep; i < len(metas); i++ {
		if err := s.Delete(ctx, agentID, metas[i].Name); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// Agents lists agent ids that have a checkpoint directory.
func (s *FSStore) Agents(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, faults.Wrap(faults.StateRecovery, "failed to list checkpoint root", err)
	}
	var ids []string
	for _, entry := range entries {
		if entry.IsDir() {
			ids = append(ids, entry.Name())
		}
	}
	sort.Strings(ids)
	return ids, nil
}
