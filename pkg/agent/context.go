package agent

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

// ExecutionContext is the ambient metadata threaded through every call an
// agent makes: LLM turns, tool invocations, events, log lines. It is passed
// explicitly (never a global); child agents derive their own via Child.
type ExecutionContext struct {
	// CorrelationID ties together everything belonging to one audit task.
	// Inherited unchanged by children.
	CorrelationID string
	// TaskID identifies the audit task being executed.
	TaskID string

	// ParentAgentID is the dispatching agent, empty for the root.
	ParentAgentID string
	// AgentID and AgentName identify the agent this context belongs to.
	AgentID   string
	AgentName string

	// TracePath is the ordered list of ancestor agent names ending with
	// this agent's own name.
	TracePath []string
	// Iteration is the loop iteration currently executing (1-based, 0
	// before the loop starts).
	Iteration int
	// Depth is the distance from the root agent (root = 0).
	Depth int

	Metadata map[string]any
}

// NewExecutionContext creates a root context for a task. A fresh correlation
// id is generated when none is supplied.
func NewExecutionContext(taskID, agentID, agentName string) *ExecutionContext {
	return &ExecutionContext{
		CorrelationID: uuid.NewString(),
		TaskID:        taskID,
		AgentID:       agentID,
		AgentName:     agentName,
		TracePath:     []string{agentName},
	}
}

// Child derives the context for a dispatched child agent: correlation and
// task ids are inherited, the child's name is pushed onto the trace path,
// and depth increments.
func (ec *ExecutionContext) Child(agentID, agentName string) *ExecutionContext {
	path := make([]string, len(ec.TracePath), len(ec.TracePath)+1)
	copy(path, ec.TracePath)
	return &ExecutionContext{
		CorrelationID: ec.CorrelationID,
		TaskID:        ec.TaskID,
		ParentAgentID: ec.AgentID,
		AgentID:       agentID,
		AgentName:     agentName,
		TracePath:     append(path, agentName),
		Depth:         ec.Depth + 1,
	}
}

// WithIteration returns a shallow copy carrying the current loop iteration.
// The original is not mutated so concurrent readers see a stable value.
func (ec *ExecutionContext) WithIteration(n int) *ExecutionContext {
	cp := *ec
	cp.Iteration = n
	return &cp
}

// LogAttrs returns the slog attributes every log line in agent scope carries.
func (ec *ExecutionContext) LogAttrs() []any {
	return []any{
		slog.String("correlation_id", ec.CorrelationID),
		slog.String("agent_id", ec.AgentID),
		slog.String("agent_name", ec.AgentName),
		slog.Int("iteration", ec.Iteration),
	}
}

// Logger returns a logger pre-populated with the context's attributes.
func (ec *ExecutionContext) Logger() *slog.Logger {
	return slog.With(ec.LogAttrs()...)
}

type ctxKey struct{}

// IntoContext attaches the execution context to a context.Context so layers
// that only see ctx (LLM transport, tool internals) can project it into
// their log lines.
func IntoContext(ctx context.Context, ec *ExecutionContext) context.Context {
	return context.WithValue(ctx, ctxKey{}, ec)
}

// FromContext extracts the execution context, or nil when absent.
func FromContext(ctx context.Context) *ExecutionContext {
	ec, _ := ctx.Value(ctxKey{}).(*ExecutionContext)
	return ec
}
