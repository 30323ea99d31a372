// Package fanout delivers events to connected clients. The hub holds one
// buffered channel per connection; sends never block, and a slow subscriber
// only ever loses its own events.
package fanout

import (
	"context"
	"errors"
	"sync"

	"oceania.org/internal/obs"
)

// ErrNotConnected indicates a unicast target with no live subscription.
var ErrNotConnected = errors.New("fanout: connection not subscribed")

// Event is one outbound message. Val holds the command-specific payload.
type Event struct {
	Cmd string `json:"cmd"`
	Val any    `json:"val"`
}

const subscriberBuffer = 16

// Hub fans events out to all active subscribers.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]chan Event
}

// NewHub initialises an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[string]chan Event)}
}

// Subscribe registers the connection and returns its event channel. The
// channel is closed and the subscription removed when ctx ends. Subscribing
// the same connection id again replaces the previous channel.
func (h *Hub) Subscribe(ctx context.Context, connID string) <-chan Event {
	ch := make(chan Event, subscriberBuffer)

	h.mu.Lock()
	if old, ok := h.subs[connID]; ok {
		close(old)
	}
	h.subs[connID] = ch
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.mu.Lock()
		if h.subs[connID] == ch {
			delete(h.subs, connID)
			close(ch)
		}
		h.mu.Unlock()
	}()

	return ch
}

// Unicast delivers the event to exactly one connection. The read lock is held
// across the send so the channel cannot be closed underneath it; the send
// itself never blocks.
func (h *Hub) Unicast(connID string, evt Event) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ch, ok := h.subs[connID]
	if !ok {
		return ErrNotConnected
	}
	select {
	case ch <- evt:
	default:
		// Drop when the subscriber is slow to avoid blocking dispatch.
		obs.FanoutDrop()
	}
	return nil
}

// Multicast delivers the event to the set of connections subscribed at call
// time. A connection joining mid-call is not guaranteed delivery, and a full
// channel on one recipient never affects the rest.
func (h *Hub) Multicast(evt Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.subs {
		select {
		case ch <- evt:
		default:
			obs.FanoutDrop()
		}
	}
}

// Len reports the number of active subscriptions.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
