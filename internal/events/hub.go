// Package events is the in-process feed of pipeline activity: bounty
// transitions and payment outcomes. Subscribers and the admin API read it;
// nothing in the settlement path depends on it.
package events

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
)

// Event types published by the pipeline.
const (
	TypeBountyTransitioned = "bounty.transitioned"
	TypePaymentStarted     = "payment.started"
	TypePaymentCompleted   = "payment.completed"
	TypePaymentRetry       = "payment.retry_scheduled"
	TypePaymentFailed      = "payment.failed"
	TypeDeliveryIgnored    = "webhook.ignored"
)

type Event struct {
	ID       int64           `json:"id"`
	Type     string          `json:"type"`
	BountyID string          `json:"bounty_id,omitempty"`
	At       time.Time       `json:"at"`
	Data     json.RawMessage `json:"data"`
}

// Hub is an in-memory pub/sub with a ring buffer for late readers.
type Hub struct {
	nextID atomic.Int64
	clock  clockwork.Clock

	mu    sync.Mutex
	ring  []Event
	start int
	size  int

	subs      map[int]chan Event
	nextSubID int
}

// NewHub creates a hub retaining the last capacity events. A nil clock
// means the wall clock.
func NewHub(capacity int, clock clockwork.Clock) *Hub {
	if capacity <= 0 {
		capacity = 256
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Hub{
		clock: clock,
		ring:  make([]Event, capacity),
		subs:  make(map[int]chan Event),
	}
}

// Publish records an event and fans it out without blocking on slow subscribers.
func (h *Hub) Publish(eventType, bountyID string, data any) Event {
	payload := json.RawMessage("{}")
	if data != nil {
		if b, err := json.Marshal(data); err == nil {
			payload = b
		}
	}

	ev := Event{
		ID:       h.nextID.Add(1),
		Type:     eventType,
		BountyID: bountyID,
		At:       h.clock.Now().UTC(),
		Data:     payload,
	}

	h.mu.Lock()
	h.pushLocked(ev)
	for _, ch := range h.subs {
		select {
		case ch <- ev:
		default:
		}
	}
	h.mu.Unlock()
	return ev
}

// Subscribe returns a buffered channel of new events and a cancel func that
// closes it.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextSubID
	h.nextSubID++
	ch := make(chan Event, 64)
	h.subs[id] = ch

	cancel := func() {
		h.mu.Lock()
		if c, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(c)
		}
		h.mu.Unlock()
	}
	return ch, cancel
}

// SnapshotSince returns buffered events with ID > lastID, oldest first.
func (h *Hub) SnapshotSince(lastID int64) []Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]Event, 0, h.size)
	for i := 0; i < h.size; i++ {
		ev := h.ring[(h.start+i)%len(h.ring)]
		if ev.ID > lastID {
			out = append(out, ev)
		}
	}
	return out
}

func (h *Hub) pushLocked(ev Event) {
	capacity := len(h.ring)
	if h.size < capacity {
		h.ring[(h.start+h.size)%capacity] = ev
		h.size++
		return
	}
	// Overwrite oldest.
	h.ring[h.start] = ev
	h.start = (h.start + 1) % capacity
}
