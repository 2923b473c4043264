// Package events carries the engine's typed event stream: every LLM turn,
// tool call, dispatch and finding is emitted as a structured record and
// fanned out to subscribers (log sink, JSONL tracer, Postgres sink, the
// WebSocket hub). Producers never block on slow consumers; each subscriber
// has a bounded buffer that drops its oldest entry on overflow.
package events

import (
	"time"

	"github.com/google/uuid"
)

// Type classifies an event.
type Type string

// Event types, in rough loop order.
const (
	TypeLLMStart         Type = "llm_start"
	TypeLLMThought       Type = "llm_thought"
	TypeLLMAction        Type = "llm_action"
	TypeLLMObservation   Type = "llm_observation"
	TypeLLMDecision      Type = "llm_decision"
	TypeLLMComplete      Type = "llm_complete"
	TypeToolCall         Type = "tool_call"
	TypeToolResult       Type = "tool_result"
	TypeFinding          Type = "finding"
	TypeDispatch         Type = "dispatch"
	TypeDispatchComplete Type = "dispatch_complete"
	TypeWarning          Type = "warning"
	TypeError            Type = "error"
	TypeInfo             Type = "info"
)

// Event is one record in the stream. Ambient fields (correlation id, agent
// identity, iteration) are stamped by the producer; Seq and Timestamp are
// assigned by the emitter.
type Event struct {
	ID   string `json:"id"`
	Seq  int64  `json:"seq"`
	Type Type   `json:"type"`

	Message string `json:"message"`

	CorrelationID string `json:"correlation_id,omitempty"`
	TaskID        string `json:"task_id,omitempty"`
	AgentID       string `json:"agent_id,omitempty"`
	AgentName     string `json:"agent_name,omitempty"`
	Iteration     int    `json:"iteration,omitempty"`

	ToolName       string         `json:"tool_name,omitempty"`
	ToolInput      map[string]any `json:"tool_input,omitempty"`
	ToolDurationMS int64          `json:"tool_duration_ms,omitempty"`

	TokensUsed int `json:"tokens_used,omitempty"`

	Metadata map[string]any `json:"metadata,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}

// New builds an event with a fresh id. Seq is assigned on emit.
func New(t Type, message string) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      t,
		Message:   message,
		Timestamp: time.Now(),
	}
}
