package agent

import (
	"context"

	"github.com/argus-audit/argus/pkg/faults"
	"github.com/argus-audit/argus/pkg/models"
)

// Agent is a runnable investigation agent. Implementations are driven by a
// controller loop; Run blocks until the agent reaches a terminal status.
type Agent interface {
	// ID returns the stable agent id.
	ID() string
	// Name returns the registry name the agent was created under.
	Name() string
	// Role returns the agent's audit role.
	Role() models.Role
	// Run executes the agent to completion. A non-nil Result is returned
	// even on failure so callers can harvest partial findings.
	Run(ctx context.Context, input *RunInput) (*Result, error)
	// Cancel requests cooperative termination.
	Cancel()
	// State exposes the live lifecycle state.
	State() *State
}

// RunInput is the work order handed to an agent.
type RunInput struct {
	// Task is the natural-language instruction.
	Task string
	// Context carries inherited task context: project info, prior agent
	// results, handoff notes.
	Context map[string]any
}

// Result is the terminal outcome of one agent run.
type Result struct {
	Success    bool              `json:"success"`
	Data       map[string]any    `json:"data,omitempty"`
	Error      string            `json:"error,omitempty"`
	ErrorKind  faults.Kind       `json:"error_kind,omitempty"`
	Findings   []models.Finding  `json:"findings,omitempty"`
	Iterations int               `json:"iterations"`
	ToolCalls  int               `json:"tool_calls"`
	TokensUsed models.TokenUsage `json:"tokens_used"`
	DurationMS int64             `json:"duration_ms"`
	// Handoff carries notes for a follow-on agent, when the model chose
	// to produce them in its final answer.
	Handoff string `json:"handoff,omitempty"`
}

// FailedResult builds a Result for an error outcome, classifying err so
// downstream aggregation can distinguish cancellation from real failure.
func FailedResult(err error) *Result {
	return &Result{
		Success:   false,
		Error:     err.Error(),
		ErrorKind: faults.KindOf(err),
	}
}
