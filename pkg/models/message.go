package models

import (
	"time"

	"github.com/google/uuid"
)

// MessageType classifies inter-agent messages.
type MessageType string

// Message types.
const (
	MessageQuery       MessageType = "query"
	MessageInstruction MessageType = "instruction"
	MessageInformation MessageType = "information"
	MessageResult      MessageType = "result"
	MessageError       MessageType = "error"
)

// MessagePriority orders messages within a queue drain. Higher values are
// delivered first; arrival order breaks ties.
type MessagePriority int

// Message priorities.
const (
	PriorityLow    MessagePriority = 0
	PriorityNormal MessagePriority = 1
	PriorityHigh   MessagePriority = 2
	PriorityUrgent MessagePriority = 3
)

func (p MessagePriority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityUrgent:
		return "urgent"
	default:
		return "normal"
	}
}

// AgentMessage is one unit of inter-agent communication. Messages are owned
// by the bus; reading does not transfer ownership.
type AgentMessage struct {
	ID        string          `json:"id"`
	Sender    string          `json:"sender"`
	Recipient string          `json:"recipient"`
	Content   string          `json:"content"`
	Type      MessageType     `json:"type"`
	Priority  MessagePriority `json:"priority"`
	Timestamp time.Time       `json:"timestamp"`
	Delivered bool            `json:"delivered"`
	Read      bool            `json:"read"`

	// Metadata carries structured payloads (e.g. result data) alongside
	// the human-readable content.
	Metadata map[string]any `json:"metadata,omitempty"`
}

// NewAgentMessage builds a message with a fresh id and timestamp.
func NewAgentMessage(sender, recipient, content string, msgType MessageType, priority MessagePriority) *AgentMessage {
	return &AgentMessage{
		ID:        uuid.NewString(),
		Sender:    sender,
		Recipient: recipient,
		Content:   content,
		Type:      msgType,
		Priority:  priority,
		Timestamp: time.Now(),
	}
}
