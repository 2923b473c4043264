// Package eventstream serves the live audit event feed over WebSocket.
// The hub subscribes once to the process-wide emitter, keeps a bounded
// ring of recent events for reconnect catchup, and fans each event out to
// every connection subscribed to a matching channel.
package eventstream

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/argus-audit/argus/pkg/events"
)

// ChannelAll carries every event. Agent-scoped channels are built with
// AgentChannel.
const ChannelAll = "audit"

const agentChannelPrefix = "agent:"

// AgentChannel names the channel carrying one agent's events.
func AgentChannel(agentID string) string { return agentChannelPrefix + agentID }

// catchupLimit caps one catchup replay. A client further behind than this
// gets a catchup.gap and should reload state over REST instead of paging.
const catchupLimit = 200

// Config tunes the hub.
type Config struct {
	// RingSize is how many recent events are kept for catchup.
	RingSize int
	// WriteTimeout bounds one send to one client; 0 means 5s.
	WriteTimeout time.Duration
}

func (c *Config) setDefaults() {
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
}

// Hub bridges the event emitter to WebSocket clients.
type Hub struct {
	ring         *events.Ring
	log          *slog.Logger
	writeTimeout time.Duration

	mu    sync.RWMutex
	conns map[string]*conn

	// channel name -> connection ids subscribed to it
	channelMu sync.RWMutex
	channels  map[string]map[string]bool

	unsubscribe func()
	done        chan struct{}
}

// conn is one WebSocket client. subscriptions is touched only by the
// goroutine running HandleConnection (its read loop and deferred cleanup),
// so it needs no lock; the hub-side view lives in Hub.channels.
type conn struct {
	id            string
	ws            *websocket.Conn
	subscriptions map[string]bool
	ctx           context.Context
	cancel        context.CancelFunc
}

// clientMessage is what clients send: subscribe/unsubscribe/catchup/ping.
type clientMessage struct {
	Action  string `json:"action"`
	Channel string `json:"channel,omitempty"`
	LastSeq *int64 `json:"last_seq,omitempty"`
}

// New builds a hub and starts pumping the emitter into it. Close detaches
// from the emitter and drops every connection.
func New(e *events.Emitter, cfg Config, log *slog.Logger) *Hub {
	cfg.setDefaults()
	if log == nil {
		log = slog.Default()
	}
	h := &Hub{
		ring:         events.NewRing(cfg.RingSize),
		log:          log.With("component", "eventstream"),
		writeTimeout: cfg.WriteTimeout,
		conns:        make(map[string]*conn),
		channels:     make(map[string]map[string]bool),
		done:         make(chan struct{}),
	}
	ch, cancel := e.Subscribe()
	h.unsubscribe = cancel
	go h.pump(ch)
	return h
}

func (h *Hub) pump(ch <-chan events.Event) {
	defer close(h.done)
	for ev := range ch {
		h.ring.Record(ev)
		h.broadcast(ev)
	}
}

// Close detaches from the emitter, waits for the pump to drain, and closes
// every client connection.
func (h *Hub) Close() {
	h.unsubscribe()
	<-h.done

	h.mu.Lock()
	conns := make([]*conn, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()
	for _, c := range conns {
		c.cancel()
		_ = c.ws.Close(websocket.StatusGoingAway, "server shutting down")
	}
}

// HandleConnection owns one client for its lifetime: registers it,
// auto-subscribes it to the full feed, then serves its messages until the
// socket closes. Called from the HTTP handler after the upgrade; blocks.
func (h *Hub) HandleConnection(parentCtx context.Context, ws *websocket.Conn) {
	ctx, cancel := context.WithCancel(parentCtx)
	c := &conn{
		id:            uuid.NewString(),
		ws:            ws,
		subscriptions: make(map[string]bool),
		ctx:           ctx,
		cancel:        cancel,
	}

	h.register(c)
	defer h.unregister(c)

	h.subscribeConn(c, ChannelAll)
	h.sendJSON(c, map[string]any{
		"type":          "connection.established",
		"connection_id": c.id,
		"last_seq":      h.ring.LastSeq(),
	})

	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			return
		}
		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			h.log.Warn("invalid client message", "connection_id", c.id, "error", err)
			continue
		}
		h.handleClientMessage(c, &msg)
	}
}

func (h *Hub) handleClientMessage(c *conn, msg *clientMessage) {
	channel := msg.Channel
	if channel == "" {
		channel = ChannelAll
	}

	switch msg.Action {
	case "subscribe":
		h.subscribeConn(c, channel)
		h.sendJSON(c, map[string]any{"type": "subscription.confirmed", "channel": channel})
		// Late subscribers replay the ring so they see what they missed.
		h.catchup(c, channel, 0)

	case "unsubscribe":
		h.unsubscribeConn(c, channel)

	case "catchup":
		var since int64
		if msg.LastSeq != nil {
			since = *msg.LastSeq
		}
		h.catchup(c, channel, since)

	case "ping":
		h.sendJSON(c, map[string]any{"type": "pong"})

	default:
		h.sendJSON(c, map[string]any{"type": "error", "message": "unknown action: " + msg.Action})
	}
}

// broadcast fans one event out to the union of its channels' subscribers.
// Connection pointers are snapshotted under the lock and sends happen
// outside it, so a slow client (up to writeTimeout) never stalls
// register/unregister.
func (h *Hub) broadcast(ev events.Event) {
	targets := []string{ChannelAll}
	if ev.AgentID != "" {
		targets = append(targets, AgentChannel(ev.AgentID))
	}

	h.channelMu.RLock()
	ids := make(map[string]bool)
	for _, channel := range targets {
		for id := range h.channels[channel] {
			ids[id] = true
		}
	}
	h.channelMu.RUnlock()
	if len(ids) == 0 {
		return
	}

	data, err := json.Marshal(ev)
	if err != nil {
		h.log.Warn("marshaling event", "error", err)
		return
	}

	h.mu.RLock()
	conns := make([]*conn, 0, len(ids))
	for id := range ids {
		if c, ok := h.conns[id]; ok {
			conns = append(conns, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range conns {
		if err := h.sendRaw(c, data); err != nil {
			h.log.Warn("send to client failed", "connection_id", c.id, "error", err)
		}
	}
}

// catchup replays ring events on the channel with Seq > since. When the
// ring has already evicted part of the requested range, a catchup.gap
// message tells the client to reload over REST instead.
func (h *Hub) catchup(c *conn, channel string, since int64) {
	evs := h.ring.Since(since)
	matched := evs[:0]
	for _, ev := range evs {
		if channelMatches(channel, &ev) {
			matched = append(matched, ev)
		}
	}

	gap := since > 0 && h.ring.Len() > 0 && h.ring.OldestSeq() > since+1
	if len(matched) > catchupLimit {
		matched = matched[len(matched)-catchupLimit:]
		gap = true
	}

	for i := range matched {
		data, err := json.Marshal(matched[i])
		if err != nil {
			continue
		}
		if err := h.sendRaw(c, data); err != nil {
			h.log.Warn("catchup send failed", "connection_id", c.id, "error", err)
			return
		}
	}

	if gap {
		h.sendJSON(c, map[string]any{
			"type":    "catchup.gap",
			"channel": channel,
			"message": "events were evicted before catchup; reload state over the REST API",
		})
	}
}

func channelMatches(channel string, ev *events.Event) bool {
	if channel == ChannelAll {
		return true
	}
	if id, ok := strings.CutPrefix(channel, agentChannelPrefix); ok {
		return ev.AgentID == id
	}
	return false
}

func (h *Hub) register(c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[c.id] = c
}

func (h *Hub) unregister(c *conn) {
	for channel := range c.subscriptions {
		h.unsubscribeConn(c, channel)
	}

	h.mu.Lock()
	delete(h.conns, c.id)
	h.mu.Unlock()

	c.cancel()
	_ = c.ws.Close(websocket.StatusNormalClosure, "")
}

func (h *Hub) subscribeConn(c *conn, channel string) {
	h.channelMu.Lock()
	if _, ok := h.channels[channel]; !ok {
		h.channels[channel] = make(map[string]bool)
	}
	h.channels[channel][c.id] = true
	h.channelMu.Unlock()

	c.subscriptions[channel] = true
}

func (h *Hub) unsubscribeConn(c *conn, channel string) {
	h.channelMu.Lock()
	if subs, ok := h.channels[channel]; ok {
		delete(subs, c.id)
		if len(subs) == 0 {
			delete(h.channels, channel)
		}
	}
	h.channelMu.Unlock()

	delete(c.subscriptions, channel)
}

// ActiveConnections returns the number of connected clients.
func (h *Hub) ActiveConnections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

func (h *Hub) subscriberCount(channel string) int {
	h.channelMu.RLock()
	defer h.channelMu.RUnlock()
	return len(h.channels[channel])
}

func (h *Hub) sendJSON(c *conn, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		h.log.Warn("marshaling message", "connection_id", c.id, "error", err)
		return
	}
	if err := h.sendRaw(c, data); err != nil {
		h.log.Warn("send failed", "connection_id", c.id, "error", err)
	}
}

func (h *Hub) sendRaw(c *conn, data []byte) error {
	ctx, cancel := context.WithTimeout(c.ctx, h.writeTimeout)
	defer cancel()
	return c.ws.Write(ctx, websocket.MessageText, data)
}
