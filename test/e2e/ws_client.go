package e2e

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// WSEvent is one received stream message, kept raw plus parsed.
type WSEvent struct {
	Type   string
	Raw    json.RawMessage
	Parsed map[string]any
}

// Message returns the event's message field, if any.
func (e WSEvent) Message() string {
	s, _ := e.Parsed["message"].(string)
	return s
}

// AgentName returns the event's agent_name field, if any.
func (e WSEvent) AgentName() string {
	s, _ := e.Parsed["agent_name"].(string)
	return s
}

// WSClient collects events from the stream endpoint in the background.
type WSClient struct {
	conn   *websocket.Conn
	mu     sync.Mutex
	events []WSEvent
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// WSConnect dials the stream endpoint and starts collecting.
func WSConnect(ctx context.Context, wsURL string) (*WSClient, error) {
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial: %w", err)
	}
	clientCtx, cancel := context.WithCancel(ctx)
	c := &WSClient{
		conn:   conn,
		ctx:    clientCtx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Subscribe asks the hub for a channel; "all" carries every event.
func (c *WSClient) Subscribe(channel string) error {
	data, _ := json.Marshal(map[string]string{"action": "subscribe", "channel": channel})
	return c.conn.Write(c.ctx, websocket.MessageText, data)
}

// WaitFor blocks until an event matching the predicate arrives.
func (c *WSClient) WaitFor(match func(WSEvent) bool, timeout time.Duration) (*WSEvent, error) {
	deadline := time.After(timeout)
	tick := time.NewTicker(25 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case <-deadline:
			return nil, fmt.Errorf("timeout waiting for event (%d collected)", len(c.Events()))
		case <-tick.C:
			for _, ev := range c.Events() {
				if match(ev) {
					e := ev
					return &e, nil
				}
			}
		}
	}
}

// WaitForType waits for the first event of the given type.
func (c *WSClient) WaitForType(eventType string, timeout time.Duration) (*WSEvent, error) {
	return c.WaitFor(func(e WSEvent) bool { return e.Type == eventType }, timeout)
}

// Events returns a snapshot of everything collected so far.
func (c *WSClient) Events() []WSEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]WSEvent, len(c.events))
	copy(out, c.events)
	return out
}

// EventsByType filters the collected events.
func (c *WSClient) EventsByType(eventType string) []WSEvent {
	var out []WSEvent
	for _, ev := range c.Events() {
		if ev.Type == eventType {
			out = append(out, ev)
		}
	}
	return out
}

// Close tears the connection down and waits for the reader to exit.
func (c *WSClient) Close() error {
	c.cancel()
	_ = c.conn.CloseNow()
	<-c.done
	return nil
}

func (c *WSClient) readLoop() {
	defer close(c.done)
	for {
		_, data, err := c.conn.Read(c.ctx)
		if err != nil {
			return
		}
		var parsed map[string]any
		if err := json.Unmarshal(data, &parsed); err != nil {
			continue
		}
		ev := WSEvent{Raw: json.RawMessage(data), Parsed: parsed}
		if t, ok := parsed["type"].(string); ok {
			ev.Type = t
		}
		c.mu.Lock()
		c.events = append(c.events, ev)
		c.mu.Unlock()
	}
}
