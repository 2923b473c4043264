package events

import "sync"

// Ring keeps the last N events for subscriber catchup. The WebSocket hub
// replays Since(lastSeq) to clients that reconnect.
type Ring struct {
	mu    sync.Mutex
	buf   []Event
	next  int
	count int
}

// NewRing creates a ring holding up to capacity events (minimum 1).
func NewRing(capacity int) *Ring {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring{buf: make([]Event, capacity)}
}

// Record appends an event, evicting the oldest when full.
func (r *Ring) Record(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf[r.next] = ev
	r.next = (r.next + 1) % len(r.buf)
	if r.count < len(r.buf) {
		r.count++
	}
}

// Since returns buffered events with Seq > lastSeq in emission order.
func (r *Ring) Since(lastSeq int64) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Event, 0, r.count)
	start := r.next - r.count
	if start < 0 {
		start += len(r.buf)
	}
	for i := 0; i < r.count; i++ {
		ev := r.buf[(start+i)%len(r.buf)]
		if ev.Seq > lastSeq {
			out = append(out, ev)
		}
	}
	return out
}

// Len returns the number of buffered events.
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// LastSeq returns the sequence number of the newest buffered event, 0 when
// empty.
func (r *Ring) LastSeq() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.count == 0 {
		return 0
	}
	last := r.next - 1
	if last < 0 {
		last += len(r.buf)
	}
	return r.buf[last].Seq
}

// OldestSeq returns the sequence number of the oldest buffered event, 0
// when empty. Catchup uses it to detect evicted ranges.
func (r *Ring) OldestSeq() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.count == 0 {
		return 0
	}
	start := r.next - r.count
	if start < 0 {
		start += len(r.buf)
	}
	return r.buf[start].Seq
}
