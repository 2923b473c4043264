package llm

import "fmt"

// MaxReduceFraction caps how much of one reduction pass may drop.
const MaxReduceFraction = 0.5

// truncationNotice replaces the dropped span so the model knows history is
// missing.
const truncationNotice = "[earlier conversation truncated to fit the model context window]"

// ReduceMessages shrinks a conversation that blew the provider's context
// window. It keeps the leading system prompt and the most recent messages,
// dropping the oldest span of the body. fraction is the share of the body to
// drop, clamped to (0, 0.5]. The last user turn is always preserved. Returns
// the input unchanged when nothing can be dropped.
func ReduceMessages(msgs []Message, fraction float64) []Message {
	if fraction <= 0 || fraction > MaxReduceFraction {
		fraction = MaxReduceFraction
	}

	// Leading system messages are never dropped.
	sysEnd := 0
	for sysEnd < len(msgs) && msgs[sysEnd].Role == RoleSystem {
		sysEnd++
	}
	body := msgs[sysEnd:]
	if len(body) < 3 {
		return msgs
	}

	drop := int(float64(len(body)) * fraction)
	if drop < 1 {
		drop = 1
	}
	// Keep the tail; never drop past the last user turn.
	lastUser := -1
	for i := len(body) - 1; i >= 0; i-- {
		if body[i].Role == RoleUser {
			lastUser = i
			break
		}
	}
	if lastUser >= 0 && drop > lastUser {
		drop = lastUser
	}
	if drop < 1 {
		return msgs
	}

	out := make([]Message, 0, sysEnd+1+len(body)-drop)
	out = append(out, msgs[:sysEnd]...)
	out = append(out, Message{
		Role:    RoleUser,
		Content: fmt.Sprintf("%s (%d messages removed)", truncationNotice, drop),
	})
	out = append(out, body[drop:]...)
	return out
}
