package broadcast

import (
	"context"
	"sync"
	"time"
)

// Hub is the in-process Channel: all tabs served by one instance observe the
// same key. Delivery is synchronous from the publisher's goroutine but
// happens outside the hub lock, so observers may call back into the hub.
type Hub struct {
	mu        sync.Mutex
	latest    time.Time
	nextID    int
	observers map[int]*hubObserver
	closed    bool
}

type hubObserver struct {
	fn   Observer
	seen time.Time
}

// NewHub creates an in-process broadcast hub.
func NewHub() *Hub {
	return &Hub{observers: make(map[int]*hubObserver)}
}

// Publish records a logout timestamp and notifies observers that have not yet
// processed a value this new.
func (h *Hub) Publish(_ context.Context, ts time.Time) error {
	h.mu.Lock()
	if h.closed || !ts.After(h.latest) {
		h.mu.Unlock()
		return nil
	}
	h.latest = ts

	var pending []Observer
	for _, obs := range h.observers {
		if ts.After(obs.seen) {
			obs.seen = ts
			pending = append(pending, obs.fn)
		}
	}
	h.mu.Unlock()

	for _, fn := range pending {
		fn(ts)
	}
	return nil
}

// Subscribe registers an observer. A value already published before the
// subscription is not replayed; tabs self-enforce the timeout locally.
func (h *Hub) Subscribe(obs Observer) func() {
	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.observers[id] = &hubObserver{fn: obs, seen: h.latest}
	h.mu.Unlock()

	return func() {
		h.mu.Lock()
		delete(h.observers, id)
		h.mu.Unlock()
	}
}

// Last returns the most recent published timestamp.
func (h *Hub) Last(_ context.Context) (time.Time, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.latest, nil
}

// Close stops delivery. Subsequent publishes are dropped.
func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	h.observers = make(map[int]*hubObserver)
	return nil
}

// Verify interface compliance.
var _ Channel = (*Hub)(nil)
