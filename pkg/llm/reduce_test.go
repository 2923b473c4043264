package llm

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func conversation(n int) []Message {
	msgs := []Message{{Role: RoleSystem, Content: "you are an auditor"}}
	for i := 0; i < n; i++ {
		role := RoleAssistant
		if i%2 == 0 {
			role = RoleUser
		}
		msgs = append(msgs, Message{Role: role, Content: fmt.Sprintf("turn %d", i)})
	}
	return msgs
}

func TestReduceKeepsSystemAndRecent(t *testing.T) {
	msgs := conversation(10)
	reduced := ReduceMessages(msgs, 0.5)

	require.Less(t, len(reduced), len(msgs))
	assert.Equal(t, RoleSystem, reduced[0].Role)
	assert.Equal(t, "you are an auditor", reduced[0].Content)

	// The marker replaces the dropped span.
	assert.Contains(t, reduced[1].Content, "truncated")

	// The most recent turn survives.
	assert.Equal(t, "turn 9", reduced[len(reduced)-1].Content)

	// The oldest body turns are gone.
	for _, m := range reduced {
		assert.NotEqual(t, "turn 0", m.Content)
		assert.NotEqual(t, "turn 1", m.Content)
	}
}

func TestReducePreservesLastUserTurn(t *testing.T) {
	msgs := []Message{
		{Role: RoleSystem, Content: "sys"},
		{Role: RoleUser, Content: "only user turn"},
		{Role: RoleAssistant, Content: "a1"},
		{Role: RoleAssistant, Content: "a2"},
		{Role: RoleAssistant, Content: "a3"},
	}

	// Dropping anything would lose the only user turn, so nothing is dropped.
	reduced := ReduceMessages(msgs, 0.5)
	assert.Equal(t, msgs, reduced)
}

func TestReduceClampsDropBeforeLastUser(t *testing.T) {
	msgs := []Message{
		{Role: RoleSystem, Content: "sys"},
		{Role: RoleAssistant, Content: "a0"},
		{Role: RoleUser, Content: "ask"},
		{Role: RoleAssistant, Content: "a1"},
		{Role: RoleAssistant, Content: "a2"},
		{Role: RoleAssistant, Content: "a3"},
		{Role: RoleAssistant, Content: "a4"},
	}

	reduced := ReduceMessages(msgs, 0.5)
	var contents []string
	for _, m := range reduced {
		contents = append(contents, m.Content)
	}
	assert.Contains(t, contents, "ask")
	assert.NotContains(t, contents, "a0")
}

func TestReduceShortConversationUnchanged(t *testing.T) {
	msgs := []Message{
		{Role: RoleSystem, Content: "sys"},
		{Role: RoleUser, Content: "hello"},
	}
	assert.Equal(t, msgs, ReduceMessages(msgs, 0.5))
}

func TestReduceFractionClamped(t *testing.T) {
	msgs := conversation(10)

	// A fraction over the cap behaves like the cap, never dropping more
	// than half the body.
	aggressive := ReduceMessages(msgs, 0.95)
	capped := ReduceMessages(msgs, MaxReduceFraction)
	assert.Equal(t, len(capped), len(aggressive))
}

func TestReduceRepeatedShrinksMonotonically(t *testing.T) {
	msgs := conversation(20)
	prev := len(msgs)
	for i := 0; i < 3; i++ {
		msgs = ReduceMessages(msgs, 0.5)
		require.LessOrEqual(t, len(msgs), prev)
		prev = len(msgs)
	}
	assert.Equal(t, RoleSystem, msgs[0].Role)
}
