package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultSubscriberBuffer is the per-subscriber channel capacity.
const DefaultSubscriberBuffer = 256

// Emitter fans events out to subscribers. Emit never blocks: when a
// subscriber's buffer is full its oldest buffered event is dropped to make
// room. Subscribers that need every event must keep up or use the ring
// snapshot for catchup.
type Emitter struct {
	mu      sync.Mutex
	subs    map[int64]chan Event
	nextSub int64
	seq     int64
	buffer  int
	closed  bool

	dropped int64
}

// NewEmitter creates an emitter whose subscribers get buffers of the given
// size (<= 0 selects DefaultSubscriberBuffer).
func NewEmitter(buffer int) *Emitter {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	return &Emitter{
		subs:   make(map[int64]chan Event),
		buffer: buffer,
	}
}

// Emit stamps the event with a sequence number and delivers it to all
// subscribers. Events without an id or timestamp get them filled in.
func (e *Emitter) Emit(ev Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.seq++
	ev.Seq = e.seq
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	for _, ch := range e.subs {
		select {
		case ch <- ev:
		default:
			// Full buffer: evict the oldest entry, then retry once. The
			// second send can only fail if a consumer raced the eviction,
			// in which case the event is dropped outright.
			select {
			case <-ch:
				e.dropped++
			default:
			}
			select {
			case ch <- ev:
			default:
				e.dropped++
			}
		}
	}
}

// Subscribe registers a new subscriber and returns its channel plus an
// unsubscribe function. The channel is closed on unsubscribe and on Close.
func (e *Emitter) Subscribe() (<-chan Event, func()) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ch := make(chan Event, e.buffer)
	if e.closed {
		close(ch)
		return ch, func() {}
	}
	e.nextSub++
	id := e.nextSub
	e.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			e.mu.Lock()
			defer e.mu.Unlock()
			if sub, ok := e.subs[id]; ok {
				delete(e.subs, id)
				close(sub)
			}
		})
	}
	return ch, cancel
}

// SubscriberCount returns the number of active subscribers.
func (e *Emitter) SubscriberCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.subs)
}

// Dropped returns how many events were discarded due to full buffers.
func (e *Emitter) Dropped() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dropped
}

// Seq returns the sequence number of the most recently emitted event.
func (e *Emitter) Seq() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.seq
}

// Close stops the emitter and closes all subscriber channels.
func (e *Emitter) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.closed = true
	for id, ch := range e.subs {
		delete(e.subs, id)
		close(ch)
	}
}
