package agent

import "time"

// ConversationRole is the speaker of a conversation message.
type ConversationRole string

// Conversation roles.
const (
	RoleSystem    ConversationRole = "system"
	RoleUser      ConversationRole = "user"
	RoleAssistant ConversationRole = "assistant"
)

// ConversationMessage is one turn of an agent's LLM conversation. The
// conversation lives on the agent's state and is only touched through its
// locked accessors.
type ConversationMessage struct {
	Role      ConversationRole `json:"role"`
	Content   string           `json:"content"`
	Timestamp time.Time        `json:"timestamp"`
}

// NewMessage builds a timestamped conversation message.
func NewMessage(role ConversationRole, content string) ConversationMessage {
	return ConversationMessage{Role: role, Content: content, Timestamp: time.Now()}
}

// ActionRecord captures one action the agent took, for the state's audit
// trail and for checkpoints.
type ActionRecord struct {
	Iteration int            `json:"iteration"`
	Action    string         `json:"action"`
	Input     map[string]any `json:"input,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}
