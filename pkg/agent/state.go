package agent

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/argus-audit/argus/pkg/faults"
	"github.com/argus-audit/argus/pkg/models"
)

// SnapshotVersion tags serialized state so future format changes can be
// migrated on restore.
const SnapshotVersion = 1

// State is the full lifecycle state of one agent. All mutation goes through
// its methods under the internal lock; Snapshot returns a consistent copy
// for checkpointing and graph nodes.
type State struct {
	mu sync.Mutex

	agentID  string
	name     string
	role     models.Role
	parentID string

	status        models.AgentStatus
	iteration     int
	maxIterations int
	tokenBudget   int
	timeout       time.Duration

	conversation []ConversationMessage
	actions      []ActionRecord
	observations []string
	errs         []string
	findings     []models.Finding

	toolCallCount int
	tokensUsed    models.TokenUsage

	stopRequested   bool
	waitingForInput bool
	waitingSince    time.Time
	waitingReason   string
	waitingTimeout  time.Duration

	taskContext map[string]any

	createdAt   time.Time
	startedAt   time.Time
	completedAt time.Time
}

// StateSnapshot is the serializable projection of State. It is the wire and
// checkpoint format; version tagging lives in the checkpoint envelope.
type StateSnapshot struct {
	AgentID  string      `json:"agent_id"`
	Name     string      `json:"name"`
	Role     models.Role `json:"role"`
	ParentID string      `json:"parent_id,omitempty"`

	Status        models.AgentStatus `json:"status"`
	Iteration     int                `json:"iteration"`
	MaxIterations int                `json:"max_iterations"`
	TokenBudget   int                `json:"token_budget,omitempty"`
	TimeoutSec    float64            `json:"timeout_seconds,omitempty"`

	Conversation []ConversationMessage `json:"conversation,omitempty"`
	Actions      []ActionRecord        `json:"actions,omitempty"`
	Observations []string              `json:"observations,omitempty"`
	Errors       []string              `json:"errors,omitempty"`
	Findings     []models.Finding      `json:"findings,omitempty"`

	ToolCallCount int               `json:"tool_call_count"`
	TokensUsed    models.TokenUsage `json:"tokens_used"`

	StopRequested     bool      `json:"stop_requested"`
	WaitingForInput   bool      `json:"waiting_for_input"`
	WaitingSince      time.Time `json:"waiting_since,omitempty"`
	WaitingReason     string    `json:"waiting_reason,omitempty"`
	WaitingTimeoutSec float64   `json:"waiting_timeout_seconds,omitempty"`

	TaskContext map[string]any `json:"task_context,omitempty"`

	CreatedAt   time.Time `json:"created_at"`
	StartedAt   time.Time `json:"started_at,omitempty"`
	CompletedAt time.Time `json:"completed_at,omitempty"`
}

// StateConfig carries the execution limits applied to a new State.
type StateConfig struct {
	MaxIterations int
	TokenBudget   int
	Timeout       time.Duration
}

// NewState creates an agent state in Created status. An empty agentID gets
// a fresh uuid.
func NewState(agentID, name string, role models.Role, parentID string, cfg StateConfig) *State {
	if agentID == "" {
		agentID = uuid.NewString()
	}
	maxIter := cfg.MaxIterations
	if maxIter <= 0 {
		maxIter = 10
	}
	return &State{
		agentID:       agentID,
		name:          name,
		role:          role,
		parentID:      parentID,
		status:        models.StatusCreated,
		maxIterations: maxIter,
		tokenBudget:   cfg.TokenBudget,
		timeout:       cfg.Timeout,
		taskContext:   map[string]any{},
		createdAt:     time.Now(),
	}
}

// RestoreState reconstitutes a State from a checkpoint snapshot.
func RestoreState(snap *StateSnapshot) *State {
	s := &State{
		agentID:         snap.AgentID,
		name:            snap.Name,
		role:            snap.Role,
		parentID:        snap.ParentID,
		status:          snap.Status,
		iteration:       snap.Iteration,
		maxIterations:   snap.MaxIterations,
		tokenBudget:     snap.TokenBudget,
		timeout:         time.Duration(snap.TimeoutSec * float64(time.Second)),
		conversation:    append([]ConversationMessage(nil), snap.Conversation...),
		actions:         append([]ActionRecord(nil), snap.Actions...),
		observations:    append([]string(nil), snap.Observations...),
		errs:            append([]string(nil), snap.Errors...),
		findings:        append([]models.Finding(nil), snap.Findings...),
		toolCallCount:   snap.ToolCallCount,
		tokensUsed:      snap.TokensUsed,
		stopRequested:   snap.StopRequested,
		waitingForInput: snap.WaitingForInput,
		waitingSince:    snap.WaitingSince,
		waitingReason:   snap.WaitingReason,
		waitingTimeout:  time.Duration(snap.WaitingTimeoutSec * float64(time.Second)),
		taskContext:     snap.TaskContext,
		createdAt:       snap.CreatedAt,
		startedAt:       snap.StartedAt,
		completedAt:     snap.CompletedAt,
	}
	if s.taskContext == nil {
		s.taskContext = map[string]any{}
	}
	return s
}

// AgentID returns the stable agent identity.
func (s *State) AgentID() string { return s.agentID }

// Name returns the human-readable agent name.
func (s *State) Name() string { return s.name }

// Role returns the agent's role.
func (s *State) Role() models.Role { return s.role }

// ParentID returns the dispatching agent's id, empty for the root.
func (s *State) ParentID() string { return s.parentID }

// Status returns the current lifecycle status.
func (s *State) Status() models.AgentStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Transition moves the state machine to target, enforcing the legal
// transition table. Moving out of a terminal status is a
// State.InvalidTransition error.
func (s *State) Transition(target models.AgentStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transitionLocked(target)
}

func (s *State) transitionLocked(target models.AgentStatus) error {
	if s.status == target {
		return nil
	}
	if !s.status.CanTransitionTo(target) {
		return faults.Newf(faults.StateInvalidTransition,
			"agent %s: illegal transition %s -> %s", s.agentID, s.status, target)
	}
	s.status = target
	switch target {
	case models.StatusRunning:
		if s.startedAt.IsZero() {
			s.startedAt = time.Now()
		}
		s.waitingForInput = false
		s.waitingReason = ""
		s.waitingSince = time.Time{}
	case models.StatusCompleted, models.StatusFailed, models.StatusStopped:
		s.completedAt = time.Now()
	}
	return nil
}

// RequestStop marks the agent for cooperative cancellation. Non-terminal
// agents move to Stopping; terminal ones only record the flag.
func (s *State) RequestStop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopRequested = true
	if !s.status.IsTerminal() && s.status != models.StatusStopping {
		// Created agents that never ran can still be stopped.
		_ = s.transitionLocked(models.StatusStopping)
	}
}

// StopRequested reports whether cancellation was requested.
func (s *State) StopRequested() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopRequested
}

// ShouldStop reports whether the loop must exit: stop requested, terminal
// status, or iteration budget consumed.
func (s *State) ShouldStop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopRequested || s.status.IsTerminal() || s.iteration >= s.maxIterations
}

// BeginIteration increments the iteration counter and returns the new value.
// The invariant iteration <= max_iterations is enforced by callers checking
// ShouldStop before each iteration.
func (s *State) BeginIteration() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.iteration++
	return s.iteration
}

// Iteration returns the current iteration count.
func (s *State) Iteration() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.iteration
}

// MaxIterations returns the configured iteration cap.
func (s *State) MaxIterations() int { return s.maxIterations }

// Timeout returns the agent's wall-clock budget (0 = none).
func (s *State) Timeout() time.Duration { return s.timeout }

// EnterWaiting transitions Running -> Waiting, recording why and for how
// long the agent is prepared to wait.
func (s *State) EnterWaiting(reason string, timeout time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.transitionLocked(models.StatusWaiting); err != nil {
		return err
	}
	s.waitingForInput = true
	s.waitingSince = time.Now()
	s.waitingReason = reason
	s.waitingTimeout = timeout
	return nil
}

// ExitWaiting transitions Waiting -> Running and clears the wait bookkeeping.
func (s *State) ExitWaiting() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != models.StatusWaiting {
		return nil
	}
	return s.transitionLocked(models.StatusRunning)
}

// WaitExpired reports whether a waiting agent has outlived its wait timeout.
func (s *State) WaitExpired(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status == models.StatusWaiting &&
		s.waitingTimeout > 0 &&
		now.Sub(s.waitingSince) >= s.waitingTimeout
}

// PromoteExpiredWait moves a timed-out waiter back to Running. It reports
// what the agent was waiting for and how long it actually waited; ok is
// false when the agent is not waiting or its deadline has not passed.
func (s *State) PromoteExpiredWait(now time.Time) (reason string, waited time.Duration, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != models.StatusWaiting || s.waitingTimeout <= 0 {
		return "", 0, false
	}
	waited = now.Sub(s.waitingSince)
	if waited < s.waitingTimeout {
		return "", 0, false
	}
	// transitionLocked clears the wait bookkeeping, so capture first.
	reason = s.waitingReason
	if err := s.transitionLocked(models.StatusRunning); err != nil {
		return "", 0, false
	}
	return reason, waited, true
}

// AppendMessage appends a conversation turn.
func (s *State) AppendMessage(msg ConversationMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversation = append(s.conversation, msg)
}

// Conversation returns a copy of the conversation.
func (s *State) Conversation() []ConversationMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ConversationMessage(nil), s.conversation...)
}

// SetConversation replaces the conversation wholesale. Used by the
// context-length fallback after reduction.
func (s *State) SetConversation(msgs []ConversationMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversation = append([]ConversationMessage(nil), msgs...)
}

// RecordAction appends to the action trail.
func (s *State) RecordAction(rec ActionRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actions = append(s.actions, rec)
}

// RecordObservation appends to the observation trail.
func (s *State) RecordObservation(obs string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observations = append(s.observations, obs)
}

// RecordError appends to the error trail.
func (s *State) RecordError(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs = append(s.errs, msg)
}

// AddFindings appends findings discovered by this agent.
func (s *State) AddFindings(fs ...models.Finding) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.findings = append(s.findings, fs...)
}

// Findings returns a copy of the findings recorded so far.
func (s *State) Findings() []models.Finding {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Finding(nil), s.findings...)
}

// CountToolCall increments the tool call counter.
func (s *State) CountToolCall() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.toolCallCount++
}

// ToolCallCount returns the number of tool invocations so far.
func (s *State) ToolCallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.toolCallCount
}

// AddUsage accumulates token usage from one LLM call.
func (s *State) AddUsage(u models.TokenUsage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokensUsed.Add(&u)
}

// TokensUsed returns the accumulated token usage.
func (s *State) TokensUsed() models.TokenUsage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tokensUsed
}

// OverTokenBudget reports whether the accumulated usage exceeds the budget
// (a zero budget means unlimited).
func (s *State) OverTokenBudget() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tokenBudget > 0 && s.tokensUsed.TotalTokens >= s.tokenBudget
}

// SetTaskContext merges inherited task context from the parent.
func (s *State) SetTaskContext(ctx map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range ctx {
		s.taskContext[k] = v
	}
}

// TaskContext returns a copy of the inherited task context.
func (s *State) TaskContext() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]any, len(s.taskContext))
	for k, v := range s.taskContext {
		out[k] = v
	}
	return out
}

// Snapshot returns a consistent serializable copy of the full state.
func (s *State) Snapshot() *StateSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &StateSnapshot{
		AgentID:           s.agentID,
		Name:              s.name,
		Role:              s.role,
		ParentID:          s.parentID,
		Status:            s.status,
		Iteration:         s.iteration,
		MaxIterations:     s.maxIterations,
		TokenBudget:       s.tokenBudget,
		TimeoutSec:        s.timeout.Seconds(),
		Conversation:      append([]ConversationMessage(nil), s.conversation...),
		Actions:           append([]ActionRecord(nil), s.actions...),
		Observations:      append([]string(nil), s.observations...),
		Errors:            append([]string(nil), s.errs...),
		Findings:          append([]models.Finding(nil), s.findings...),
		ToolCallCount:     s.toolCallCount,
		TokensUsed:        s.tokensUsed,
		StopRequested:     s.stopRequested,
		WaitingForInput:   s.waitingForInput,
		WaitingSince:      s.waitingSince,
		WaitingReason:     s.waitingReason,
		WaitingTimeoutSec: s.waitingTimeout.Seconds(),
		TaskContext:       s.taskContext,
		CreatedAt:         s.createdAt,
		StartedAt:         s.startedAt,
		CompletedAt:       s.completedAt,
	}
}
