/*
Package presence fans registry change events out to WebSocket subscribers.

The Hub runs a single event loop that owns the subscriber set. Publishing never blocks
the caller: events are dropped when the hub queue is full, and subscribers that cannot
keep up are disconnected.
*/
package presence

import (
	"encoding/json"
	"sync/atomic"

	"github.com/rs/zerolog"

	"relayd/internal/app/registry"
	"relayd/internal/pkg/logx"
)

// eventBuffer bounds the queue between publishers and the hub loop.
const eventBuffer = 256

// Hub distributes registry events to all registered subscribers.
type Hub struct {
	// set of active subscribers, owned by the Run loop.
	subscribers map[*Subscriber]struct{}

	// inbound events waiting to be fanned out.
	events chan registry.Event

	register   chan *Subscriber
	unregister chan *Subscriber

	stopChan chan struct{}
	stopped  chan struct{}

	count   atomic.Int64
	dropped atomic.Int64

	logger zerolog.Logger
}

// NewHub creates a Hub. Call Run to start delivering events.
func NewHub() *Hub {
	return &Hub{
		subscribers: make(map[*Subscriber]struct{}),
		events:      make(chan registry.Event, eventBuffer),
		register:    make(chan *Subscriber),
		unregister:  make(chan *Subscriber),
		stopChan:    make(chan struct{}),
		stopped:     make(chan struct{}),
		logger:      logx.Component("PresenceHub"),
	}
}

// Publish queues ev for delivery. It never blocks; ev is dropped when the queue is full.
// Its signature matches registry.WithObserver.
func (h *Hub) Publish(ev registry.Event) {
	select {
	case h.events <- ev:
	default:
		h.dropped.Add(1)
		h.logger.Warn().Str("event_type", string(ev.Type)).Msg("Presence queue full, event dropped.")
	}
}

// Subscribers returns the number of connected subscribers.
func (h *Hub) Subscribers() int {
	return int(h.count.Load())
}

// Register adds s to the fan-out set. It reports false once the hub has stopped.
func (h *Hub) Register(s *Subscriber) bool {
	select {
	case h.register <- s:
		return true
	case <-h.stopChan:
		return false
	}
}

// Unregister removes s and closes its send queue.
func (h *Hub) Unregister(s *Subscriber) {
	select {
	case h.unregister <- s:
	case <-h.stopChan:
	}
}

// Stop terminates the Run loop and disconnects every subscriber.
func (h *Hub) Stop() {
	select {
	case <-h.stopChan:
	default:
		close(h.stopChan)
	}
}

// Done is closed when the Run loop has returned.
func (h *Hub) Done() <-chan struct{} {
	return h.stopped
}

// Run is the event loop; it returns after Stop.
func (h *Hub) Run() {
	defer close(h.stopped)

	for {
		select {
		case s := <-h.register:
			h.subscribers[s] = struct{}{}
			h.count.Store(int64(len(h.subscribers)))
			s.logger.Info().Msg("Presence subscriber registered.")

		case s := <-h.unregister:
			h.remove(s)

		case ev := <-h.events:
			payload, err := json.Marshal(ev)
			if err != nil {
				h.logger.Error().Err(err).Msg("Failed to marshal presence event.")
				continue
			}

			for s := range h.subscribers {
				select {
				case s.send <- payload:
				default:
					s.logger.Warn().Msg("Subscriber send queue full, disconnecting.")
					h.remove(s)
				}
			}

		case <-h.stopChan:
			for s := range h.subscribers {
				h.remove(s)
			}
			h.logger.Info().Msg("Presence hub stopped.")
			return
		}
	}
}

func (h *Hub) remove(s *Subscriber) {
	if _, ok := h.subscribers[s]; !ok {
		return
	}
	delete(h.subscribers, s)
	close(s.send)
	h.count.Store(int64(len(h.subscribers)))
}
