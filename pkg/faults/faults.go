// Package faults defines the engine's error taxonomy. Every failure that
// crosses a component boundary is a *Error carrying a stable Kind and the
// recovery policy derived from it (retryability, strategy, severity).
// Callers branch on the policy, never on message text.
package faults

import (
	"errors"
	"fmt"
	"time"
)

// Context is the structured situation attached to an error: where in the
// agent tree it happened and during what operation.
type Context struct {
	CorrelationID string         `json:"correlation_id,omitempty"`
	TaskID        string         `json:"task_id,omitempty"`
	AgentID       string         `json:"agent_id,omitempty"`
	AgentName     string         `json:"agent_name,omitempty"`
	Iteration     int            `json:"iteration,omitempty"`
	ToolName      string         `json:"tool_name,omitempty"`
	Extra         map[string]any `json:"extra,omitempty"`
}

// Error is the tagged error type used across the engine.
type Error struct {
	Kind        Kind          `json:"kind"`
	Message     string        `json:"message"`
	Recoverable bool          `json:"recoverable"`
	Strategy    Strategy      `json:"strategy"`
	RetryAfter  time.Duration `json:"retry_after,omitempty"`
	Severity    Severity      `json:"severity"`
	Context     Context       `json:"context,omitempty"`
	Cause       error         `json:"-"`
}

// New creates an error of the given kind with the policy table applied.
func New(kind Kind, message string) *Error {
	recoverable, strategy, severity := PolicyFor(kind)
	return &Error{
		Kind:        kind,
		Message:     message,
		Recoverable: recoverable,
		Strategy:    strategy,
		Severity:    severity,
	}
}

// Newf is New with fmt.Sprintf formatting.
func Newf(kind Kind, format string, args ...any) *Error {
	return New(kind, fmt.Sprintf(format, args...))
}

// Wrap creates an error of the given kind wrapping a cause.
func Wrap(kind Kind, message string, cause error) *Error {
	e := New(kind, message)
	e.Cause = cause
	return e
}

// WithRetryAfter sets the provider-supplied retry delay hint.
func (e *Error) WithRetryAfter(d time.Duration) *Error {
	e.RetryAfter = d
	return e
}

// WithContext attaches situational context.
func (e *Error) WithContext(ctx Context) *Error {
	e.Context = ctx
	return e
}

// WithTool records the tool name in the error context.
func (e *Error) WithTool(name string) *Error {
	e.Context.ToolName = name
	return e
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the cause for errors.Is / errors.As chains.
func (e *Error) Unwrap() error {
	return e.Cause
}

// KindOf extracts the Kind from any error. Non-taxonomy errors map to the
// empty Kind.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind anywhere in its chain.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// IsRecoverable reports whether err is recoverable per the taxonomy.
// Unclassified errors are treated as non-recoverable.
func IsRecoverable(err error) bool {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Recoverable
	}
	return false
}

// StrategyOf returns the recovery strategy for err, or StrategyAbort for
// unclassified errors.
func StrategyOf(err error) Strategy {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Strategy
	}
	return StrategyAbort
}

// RetryAfterOf returns the retry-after hint carried by err, if any.
func RetryAfterOf(err error) (time.Duration, bool) {
	var fe *Error
	if errors.As(err, &fe) && fe.RetryAfter > 0 {
		return fe.RetryAfter, true
	}
	return 0, false
}
