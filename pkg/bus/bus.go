// Package bus implements direct agent-to-agent messaging over per-recipient
// queues. Queues are created lazily on first send and destroyed when the
// recipient unregisters; messages stay owned by the bus, so a receive hands
// out copies rather than transferring ownership.
package bus

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/argus-audit/argus/pkg/faults"
	"github.com/argus-audit/argus/pkg/models"
)

// Bus routes messages between agents. Safe for concurrent use.
type Bus struct {
	mu     sync.Mutex
	queues map[string][]*models.AgentMessage
	notify map[string]chan struct{}

	log *slog.Logger
}

// New creates an empty bus.
func New(log *slog.Logger) *Bus {
	if log == nil {
		log = slog.Default()
	}
	return &Bus{
		queues: make(map[string][]*models.AgentMessage),
		notify: make(map[string]chan struct{}),
		log:    log.With("component", "bus"),
	}
}

// Send appends a message to the recipient's queue, creating the queue if
// this is the first message, and returns the stored message's id.
func (b *Bus) Send(from, to, content string, msgType models.MessageType, priority models.MessagePriority) string {
	msg := models.NewAgentMessage(from, to, content, msgType, priority)
	b.SendMessage(msg)
	return msg.ID
}

// SendMessage enqueues a prebuilt message, for callers that attach metadata.
func (b *Bus) SendMessage(msg *models.AgentMessage) {
	b.mu.Lock()
	msg.Delivered = true
	b.queues[msg.Recipient] = append(b.queues[msg.Recipient], msg)
	ch := b.notifyLocked(msg.Recipient)
	b.mu.Unlock()

	// Non-blocking: a buffered token is enough to wake one waiter.
	select {
	case ch <- struct{}{}:
	default:
	}

	b.log.Debug("message enqueued",
		"from", msg.Sender,
		"to", msg.Recipient,
		"type", string(msg.Type),
		"priority", msg.Priority.String(),
	)
}

func (b *Bus) notifyLocked(agent string) chan struct{} {
	ch, ok := b.notify[agent]
	if !ok {
		ch = make(chan struct{}, 1)
		b.notify[agent] = ch
	}
	return ch
}

// Receive returns the agent's messages ordered by priority (urgent first),
// stable by arrival within a class. With unreadOnly only unread messages
// are returned; with markRead the returned messages are flagged read in
// the queue.
func (b *Bus) Receive(agent string, unreadOnly, markRead bool) []models.AgentMessage {
	b.mu.Lock()
	defer b.mu.Unlock()

	var picked []*models.AgentMessage
	for _, msg := range b.queues[agent] {
		if unreadOnly && msg.Read {
			continue
		}
		picked = append(picked, msg)
	}
	sort.SliceStable(picked, func(i, j int) bool {
		return picked[i].Priority > picked[j].Priority
	})

	out := make([]models.AgentMessage, len(picked))
	for i, msg := range picked {
		if markRead {
			msg.Read = true
		}
		out[i] = *msg
	}
	return out
}

// PendingCount returns the number of unread messages queued for agent.
func (b *Bus) PendingCount(agent string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, msg := range b.queues[agent] {
		if !msg.Read {
			n++
		}
	}
	return n
}

// HasPending reports whether the agent has unread messages.
func (b *Bus) HasPending(agent string) bool {
	return b.PendingCount(agent) > 0
}

// WaitForMessage blocks until the agent has unread messages, the timeout
// elapses, or ctx is cancelled. On arrival the unread messages are
// returned marked read; a timeout returns an empty slice and no error so
// the caller can resume normally.
func (b *Bus) WaitForMessage(ctx context.Context, agent string, timeout time.Duration) ([]models.AgentMessage, error) {
	b.mu.Lock()
	ch := b.notifyLocked(agent)
	b.mu.Unlock()

	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	for {
		if msgs := b.Receive(agent, true, true); len(msgs) > 0 {
			return msgs, nil
		}
		select {
		case <-ctx.Done():
			return nil, faults.Wrap(faults.AgentCancelled, "wait for message interrupted", ctx.Err())
		case <-deadline:
			return nil, nil
		case <-ch:
			// Re-check the queue; the token may predate a concurrent drain.
		}
	}
}

// Unregister destroys the agent's queue and wait channel. Unread messages
// are dropped with the queue.
func (b *Bus) Unregister(agent string) {
	b.mu.Lock()
	dropped := 0
	for _, msg := range b.queues[agent] {
		if !msg.Read {
			dropped++
		}
	}
	delete(b.queues, agent)
	delete(b.notify, agent)
	b.mu.Unlock()

	if dropped > 0 {
		b.log.Debug("queue destroyed with unread messages", "agent", agent, "unread", dropped)
	}
}

// QueueSizes returns per-agent queue lengths, for introspection endpoints.
func (b *Bus) QueueSizes() map[string]int {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]int, len(b.queues))
	for agent, q := range b.queues {
		out[agent] = len(q)
	}
	return out
}
