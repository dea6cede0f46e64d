package events

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// DefaultSubscriberBuffer is the channel size used when Subscribe is given
// a non-positive buffer.
const DefaultSubscriberBuffer = 256

// Hub fans events out to channel subscribers. Delivery never blocks the
// publisher: an event is dropped for a subscriber whose buffer is full.
type Hub struct {
	mu      sync.RWMutex
	subs    map[int]chan *Event
	nextID  int
	closed  bool
	dropped atomic.Int64
	logger  *slog.Logger
}

var _ Handler = (*Hub)(nil)

// NewHub creates an empty Hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		subs:   make(map[int]chan *Event),
		logger: logger.With("component", "event_hub"),
	}
}

// Subscribe registers a subscriber. The returned function unsubscribes and
// closes the channel; it is safe to call more than once.
func (h *Hub) Subscribe(buffer int) (<-chan *Event, func()) {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	ch := make(chan *Event, buffer)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := h.nextID
	h.nextID++
	h.subs[id] = ch
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if c, ok := h.subs[id]; ok {
				delete(h.subs, id)
				close(c)
			}
		})
	}
}

// HandleEvent implements Handler.
func (h *Hub) HandleEvent(_ context.Context, event *Event) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for id, ch := range h.subs {
		select {
		case ch <- event:
		default:
			h.dropped.Add(1)
			h.logger.Warn("subscriber buffer full, dropping event",
				"subscriber", id,
				"event_type", event.Type)
		}
	}
	return nil
}

// Subscribers returns the number of active subscribers.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Dropped returns the number of events dropped for slow subscribers.
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}

// Close unsubscribes everyone and closes their channels.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
}
