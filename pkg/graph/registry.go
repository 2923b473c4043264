package graph

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/argus-audit/argus/pkg/agent"
	"github.com/argus-audit/argus/pkg/bus"
	"github.com/argus-audit/argus/pkg/faults"
	"github.com/argus-audit/argus/pkg/models"
)

// entry is the registry's record for one agent. The instance and cancel
// function are dropped by CleanupFinished; the node snapshot and state handle
// survive for reporting.
type entry struct {
	node     Node
	instance agent.Agent
	state    *agent.State
	cancel   context.CancelFunc
}

// Registry is the thread-safe agent tree. The first agent registered without
// a parent becomes the root.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	rootID  string
	bus     *bus.Bus
	log     *slog.Logger
}

// New creates an empty registry sharing the given message bus. Unregistering
// an agent also destroys its bus queue.
func New(b *bus.Bus, log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		entries: make(map[string]*entry),
		bus:     b,
		log:     log.With("component", "graph"),
	}
}

// Bus returns the shared message bus.
func (r *Registry) Bus() *bus.Bus { return r.bus }

// Register adds an agent to the tree. The node is derived from the state
// handle; the parent edge comes from the state's parent id. Registering an
// existing id replaces the live instance and cancel function, which is how
// sub-agents are reused across dispatches.
func (r *Registry) Register(inst agent.Agent, st *agent.State, cancel context.CancelFunc) error {
	if st == nil {
		return faults.New(faults.ValidationInput, "cannot register agent without state")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	id := st.AgentID()
	parentID := st.ParentID()
	if parentID != "" {
		if _, ok := r.entries[parentID]; !ok {
			return faults.Newf(faults.CommAgentNotFound, "parent agent %s not registered", parentID)
		}
	}

	now := time.Now()
	if existing, ok := r.entries[id]; ok {
		existing.instance = inst
		existing.state = st
		existing.cancel = cancel
		existing.node.Status = st.Status()
		existing.node.UpdatedAt = now
		r.log.Debug("re-registered agent", "agent_id", id, "name", st.Name())
		return nil
	}

	r.entries[id] = &entry{
		node: Node{
			AgentID:   id,
			Name:      st.Name(),
			Role:      st.Role(),
			ParentID:  parentID,
			Status:    st.Status(),
			CreatedAt: now,
			UpdatedAt: now,
		},
		instance: inst,
		state:    st,
		cancel:   cancel,
	}

	if parentID == "" && r.rootID == "" {
		r.rootID = id
	}

	r.log.Info("registered agent",
		"agent_id", id, "name", st.Name(), "role", st.Role(), "parent_id", parentID)
	return nil
}

// Unregister removes an agent and destroys its bus queue. Unknown ids are
// no-ops.
func (r *Registry) Unregister(agentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[agentID]; !ok {
		return
	}
	delete(r.entries, agentID)
	if r.rootID == agentID {
		r.rootID = ""
	}
	if r.bus != nil {
		r.bus.Unregister(agentID)
	}
	r.log.Debug("unregistered agent", "agent_id", agentID)
}

// UpdateStatus refreshes the cached node status. The live state handle is
// still authoritative while the agent runs; the cache serves reporting after
// CleanupFinished drops the instance.
func (r *Registry) UpdateStatus(agentID string, status models.AgentStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[agentID]
	if !ok {
		return faults.Newf(faults.CommAgentNotFound, "agent %s not registered", agentID)
	}
	e.node.Status = status
	e.node.UpdatedAt = time.Now()
	return nil
}

// Get returns the live agent instance, if any.
func (r *Registry) Get(agentID string) (agent.Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[agentID]
	if !ok || e.instance == nil {
		return nil, false
	}
	return e.instance, true
}

// GetState returns the agent's state handle, if registered.
func (r *Registry) GetState(agentID string) (*agent.State, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[agentID]
	if !ok || e.state == nil {
		return nil, false
	}
	return e.state, true
}

// GetNode returns the node snapshot for one agent.
func (r *Registry) GetNode(agentID string) (Node, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[agentID]
	if !ok {
		return Node{}, false
	}
	return r.nodeLocked(e), true
}

// nodeLocked materializes a snapshot, preferring live state over the cached
// status. Callers hold r.mu.
func (r *Registry) nodeLocked(e *entry) Node {
	n := e.node
	if e.state != nil {
		n.Status = e.state.Status()
		n.Iteration = e.state.Iteration()
		n.Findings = len(e.state.Findings())
	}
	return n
}

// Children returns snapshots of an agent's direct children, sorted by
// creation time.
func (r *Registry) Children(agentID string) []Node {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.childrenLocked(agentID)
}

func (r *Registry) childrenLocked(agentID string) []Node {
	var out []Node
	for _, e := range r.entries {
		if e.node.ParentID == agentID {
			out = append(out, r.nodeLocked(e))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].AgentID < out[j].AgentID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Parent returns the snapshot of an agent's parent, if it has one.
func (r *Registry) Parent(agentID string) (Node, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[agentID]
	if !ok || e.node.ParentID == "" {
		return Node{}, false
	}
	p, ok := r.entries[e.node.ParentID]
	if !ok {
		return Node{}, false
	}
	return r.nodeLocked(p), true
}

// Root returns the root node snapshot.
func (r *Registry) Root() (Node, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.rootID == "" {
		return Node{}, false
	}
	e, ok := r.entries[r.rootID]
	if !ok {
		return Node{}, false
	}
	return r.nodeLocked(e), true
}

// RootID returns the root agent id, or empty if none registered.
func (r *Registry) RootID() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.rootID
}

// Tree returns a full snapshot of every node, root first, then by creation
// time.
func (r *Registry) Tree() []Node {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Node, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, r.nodeLocked(e))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].AgentID == r.rootID {
			return true
		}
		if out[j].AgentID == r.rootID {
			return false
		}
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].AgentID < out[j].AgentID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Statistics counts registered agents by status.
func (r *Registry) Statistics() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	st := Stats{
		Total:    len(r.entries),
		ByStatus: make(map[models.AgentStatus]int),
		RootID:   r.rootID,
	}
	for _, e := range r.entries {
		status := r.nodeLocked(e).Status
		st.ByStatus[status]++
		if !status.IsTerminal() {
			st.Active++
		}
	}
	return st
}

// StopAgent requests cooperative stop on an agent and every descendant.
// Cancellation is a tree operation: stopping an internal node propagates
// down so no orphaned child keeps running.
func (r *Registry) StopAgent(agentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[agentID]; !ok {
		return faults.Newf(faults.CommAgentNotFound, "agent %s not registered", agentID)
	}

	for _, id := range r.subtreeLocked(agentID) {
		r.stopOneLocked(id)
	}
	return nil
}

// StopAll requests stop on every registered agent. With excludeRoot the root
// keeps running so it can observe and report its children's termination.
// Returns the number of agents signalled.
func (r *Registry) StopAll(excludeRoot bool) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	stopped := 0
	for id := range r.entries {
		if excludeRoot && id == r.rootID {
			continue
		}
		if r.stopOneLocked(id) {
			stopped++
		}
	}
	return stopped
}

// stopOneLocked signals one agent. Callers hold r.mu.
func (r *Registry) stopOneLocked(agentID string) bool {
	e, ok := r.entries[agentID]
	if !ok {
		return false
	}
	if e.state != nil {
		if e.state.Status().IsTerminal() {
			return false
		}
		e.state.RequestStop()
	}
	if e.instance != nil {
		e.instance.Cancel()
	}
	if e.cancel != nil {
		e.cancel()
	}
	e.node.Status = models.StatusStopping
	e.node.UpdatedAt = time.Now()
	r.log.Info("stop requested", "agent_id", agentID, "name", e.node.Name)
	return true
}

// SweepExpiredWaits promotes agents whose wait deadline has passed back to
// Running and feeds a timeout observation into their conversation. Returns
// how many agents were promoted.
func (r *Registry) SweepExpiredWaits(now time.Time) int {
	r.mu.RLock()
	states := make([]*agent.State, 0, len(r.entries))
	for _, e := range r.entries {
		if e.state != nil {
			states = append(states, e.state)
		}
	}
	r.mu.RUnlock()

	promoted := 0
	for _, st := range states {
		reason, waited, ok := st.PromoteExpiredWait(now)
		if !ok {
			continue
		}
		obs := fmt.Sprintf("Observation: %s timed out after %s with no response. Continue without it.",
			reason, waited.Round(time.Second))
		st.RecordObservation(obs)
		st.AppendMessage(agent.NewMessage(agent.RoleUser, obs))
		r.log.Warn("waiting agent timed out",
			"agent_id", st.AgentID(), "reason", reason, "waited", waited.Round(time.Millisecond))
		promoted++
	}
	return promoted
}

// subtreeLocked returns agentID plus all descendant ids, breadth-first.
// Callers hold r.mu.
func (r *Registry) subtreeLocked(agentID string) []string {
	ids := []string{agentID}
	for i := 0; i < len(ids); i++ {
		for id, e := range r.entries {
			if e.node.ParentID == ids[i] {
				ids = append(ids, id)
			}
		}
	}
	return ids
}

// CleanupFinished drops live instances and cancel functions for terminal
// agents, keeping node snapshots and state handles for reporting. Returns
// the number of instances released.
func (r *Registry) CleanupFinished() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	released := 0
	for id, e := range r.entries {
		if e.instance == nil {
			continue
		}
		status := r.nodeLocked(e).Status
		if !status.IsTerminal() {
			continue
		}
		e.node.Status = status
		e.node.UpdatedAt = time.Now()
		e.instance = nil
		e.cancel = nil
		released++
		r.log.Debug("released finished agent instance", "agent_id", id, "status", status)
	}
	return released
}

// Clear empties the registry and destroys all bus queues.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id := range r.entries {
		if r.bus != nil {
			r.bus.Unregister(id)
		}
		delete(r.entries, id)
	}
	r.rootID = ""
	r.log.Debug("registry cleared")
}
