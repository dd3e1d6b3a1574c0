// Package broadcast fans watcher events out to live subscribers.
package broadcast

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/logmesh/logmesh/internal/model"
)

const subscriberBuffer = 256

// Broadcaster is the event sink injected into the watcher and server.
// Delivery is best-effort fan-out; there are no delivery guarantees.
type Broadcaster interface {
	Publish(event model.Event)
}

// Hub delivers events to all subscriber channels. A subscriber whose buffer
// is full is skipped and the event counted as dropped for it.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[uint64]chan model.Event
	nextID      uint64
	dropped     int64
	closed      bool
	log         *zap.Logger
}

// NewHub creates an empty Hub.
func NewHub(log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		subscribers: make(map[uint64]chan model.Event),
		log:         log,
	}
}

// Subscribe returns a buffered channel of events plus a cancel function
// that removes and closes it.
func (h *Hub) Subscribe() (<-chan model.Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		ch := make(chan model.Event)
		close(ch)
		return ch, func() {}
	}

	id := h.nextID
	h.nextID++
	ch := make(chan model.Event, subscriberBuffer)
	h.subscribers[id] = ch

	return ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if sub, ok := h.subscribers[id]; ok {
			delete(h.subscribers, id)
			close(sub)
		}
	}
}

// Publish stamps the event with an ID and timestamp when missing and sends
// it to every subscriber.
func (h *Hub) Publish(event model.Event) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	for _, ch := range h.subscribers {
		select {
		case ch <- event:
		default:
			h.dropped++
			h.log.Debug("dropped event for slow subscriber",
				zap.String("type", string(event.Type)),
				zap.Int64("totalDropped", h.dropped))
		}
	}
}

// Dropped returns the total number of events dropped for slow subscribers.
func (h *Hub) Dropped() int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.dropped
}

// SubscriberCount returns the number of connected subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// Close closes all subscriber channels. Further publishes are no-ops.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, ch := range h.subscribers {
		delete(h.subscribers, id)
		close(ch)
	}
}
