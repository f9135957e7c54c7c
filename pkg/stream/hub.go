// Package stream fans gateway events, primarily audit records, out to live
// subscribers such as the /v1/events websocket feed.
package stream

import (
	"encoding/json"
	"sync"
	"time"
)

// Event is one frame on the live feed. Data carries the payload already
// encoded, so publishing never re-marshals per subscriber.
type Event struct {
	Type string          `json:"type"`
	At   string          `json:"at"`
	Data json.RawMessage `json:"data,omitempty"`
}

func NewEvent(eventType string, data any) Event {
	evt := Event{Type: eventType, At: time.Now().UTC().Format(time.RFC3339Nano)}
	if data != nil {
		if raw, err := json.Marshal(data); err == nil {
			evt.Data = raw
		}
	}
	return evt
}

// Hub distributes events to an unbounded set of subscribers. A subscriber
// that falls behind loses events rather than stalling the request path that
// published them.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[chan Event]struct{}
}

func NewHub() *Hub {
	return &Hub{subscribers: make(map[chan Event]struct{})}
}

// Subscribe registers a new feed channel. The buffer absorbs bursts between
// reads; zero or negative asks for the default.
func (h *Hub) Subscribe(buffer int) chan Event {
	if buffer <= 0 {
		buffer = 32
	}
	ch := make(chan Event, buffer)
	h.mu.Lock()
	h.subscribers[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

// Unsubscribe removes and closes the channel. Safe to call more than once.
func (h *Hub) Unsubscribe(ch chan Event) {
	h.mu.Lock()
	_, registered := h.subscribers[ch]
	delete(h.subscribers, ch)
	h.mu.Unlock()
	if registered {
		close(ch)
	}
}

// Publish delivers evt to every subscriber with buffer room and drops it
// for the rest.
func (h *Hub) Publish(evt Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subscribers {
		select {
		case ch <- evt:
		default:
		}
	}
}
