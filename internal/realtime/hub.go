// Package realtime terminates per-connection sessions, enforces room
// membership and fans events out to participants.
package realtime

import (
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ManoDarpan/ManoDarpan/internal/model"
	"github.com/ManoDarpan/ManoDarpan/pkg/logger"
	"github.com/ManoDarpan/ManoDarpan/pkg/metrics"
)

const (
	// PresenceRoom receives counsellorStatus events. Every connection is
	// subscribed to it.
	PresenceRoom = "presence"

	// subscriberBufferSize is the channel buffer for each subscriber.
	subscriberBufferSize = 64
)

// Bus is the room-scoped pub/sub abstraction. Rooms are keyed by identity id
// (personal rooms), conversation id, or the presence room. Publication is
// fire-and-forget: delivery to any individual subscriber is best-effort.
//
// The in-process Hub is the default; the NATS-backed bus swaps in for
// multi-process fan-out without touching the registry or broker.
type Bus interface {
	Subscribe(roomKey string) (<-chan model.Event, string)
	Unsubscribe(roomKey, subID string)
	Publish(roomKey string, event model.Event)
	Close()
}

// Hub is the in-memory Bus implementation.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]chan model.Event // roomKey -> subID -> ch
	logger      *logger.Logger
}

// NewHub creates an in-memory room hub.
func NewHub(log *logger.Logger) *Hub {
	return &Hub{
		subscribers: make(map[string]map[string]chan model.Event),
		logger:      log,
	}
}

// Subscribe registers a subscriber for the room and returns its event
// channel and subscription id.
func (h *Hub) Subscribe(roomKey string) (<-chan model.Event, string) {
	subID := uuid.Must(uuid.NewV7()).String()
	ch := make(chan model.Event, subscriberBufferSize)

	h.mu.Lock()
	if _, ok := h.subscribers[roomKey]; !ok {
		h.subscribers[roomKey] = make(map[string]chan model.Event)
	}
	h.subscribers[roomKey][subID] = ch
	h.mu.Unlock()

	return ch, subID
}

// Unsubscribe removes a subscription and closes its channel.
func (h *Hub) Unsubscribe(roomKey, subID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs, ok := h.subscribers[roomKey]
	if !ok {
		return
	}
	ch, exists := subs[subID]
	if !exists {
		return
	}

	delete(subs, subID)
	close(ch)
	if len(subs) == 0 {
		delete(h.subscribers, roomKey)
	}
}

// Publish sends the event to every subscriber of the room. Non-blocking:
// the event is dropped for subscribers whose channels are full. Sends happen
// under the read lock so a concurrent Unsubscribe cannot close a channel
// mid-delivery.
func (h *Hub) Publish(roomKey string, event model.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	subs, ok := h.subscribers[roomKey]
	if !ok || len(subs) == 0 {
		return
	}

	metrics.RoomEventsPublished.WithLabelValues(string(event.Type)).Inc()

	for _, ch := range subs {
		select {
		case ch <- event:
		default:
			h.logger.Debug("dropped event for slow subscriber",
				zap.String("room", roomKey),
				zap.String("event", string(event.Type)),
			)
		}
	}
}

// Close shuts down the hub and closes all subscriber channels.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for roomKey, subs := range h.subscribers {
		for subID, ch := range subs {
			close(ch)
			delete(subs, subID)
		}
		delete(h.subscribers, roomKey)
	}
}
