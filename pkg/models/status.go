package models

// AgentStatus is the lifecycle state of an agent.
//
// Allowed transitions:
//
//	Created  → Running | Stopping | Failed
//	Running  → Waiting | Stopping | Completed | Failed
//	Waiting  → Running | Stopping
//	Stopping → Stopped
//
// Completed, Failed and Stopped are terminal and monotonic: once reached,
// no further transition is legal.
type AgentStatus string

// Agent lifecycle states.
const (
	StatusCreated   AgentStatus = "created"
	StatusRunning   AgentStatus = "running"
	StatusWaiting   AgentStatus = "waiting"
	StatusStopping  AgentStatus = "stopping"
	StatusStopped   AgentStatus = "stopped"
	StatusCompleted AgentStatus = "completed"
	StatusFailed    AgentStatus = "failed"
)

// IsTerminal reports whether the status is final.
func (s AgentStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusStopped:
		return true
	default:
		return false
	}
}

// CanTransitionTo reports whether target is a legal next state.
func (s AgentStatus) CanTransitionTo(target AgentStatus) bool {
	if s.IsTerminal() {
		return false
	}
	switch s {
	case StatusCreated:
		return target == StatusRunning || target == StatusStopping || target == StatusFailed
	case StatusRunning:
		return target == StatusWaiting || target == StatusStopping ||
			target == StatusCompleted || target == StatusFailed
	case StatusWaiting:
		return target == StatusRunning || target == StatusStopping
	case StatusStopping:
		return target == StatusStopped
	default:
		return false
	}
}

func (s AgentStatus) String() string {
	return string(s)
}
