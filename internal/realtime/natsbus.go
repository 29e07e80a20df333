package realtime

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	natsclient "github.com/ManoDarpan/ManoDarpan/internal/nats"
	"github.com/ManoDarpan/ManoDarpan/internal/model"
	"github.com/ManoDarpan/ManoDarpan/pkg/logger"
	"github.com/ManoDarpan/ManoDarpan/pkg/metrics"
)

// roomSubjectPrefix maps room keys onto NATS subjects.
const roomSubjectPrefix = "room."

// NATSBus is a Bus backed by core NATS subjects, one per room. It lets
// several processes share the same room space; the registry and broker are
// unaware which bus is wired in.
type NATSBus struct {
	client *natsclient.Client
	logger *logger.Logger

	mu   sync.Mutex
	subs map[string]*busSubscription // subID -> subscription
}

type busSubscription struct {
	roomKey string
	sub     *nats.Subscription
	ch      chan model.Event
}

// NewNATSBus creates a NATS-backed room bus over an established client.
func NewNATSBus(client *natsclient.Client, log *logger.Logger) *NATSBus {
	return &NATSBus{
		client: client,
		logger: log,
		subs:   make(map[string]*busSubscription),
	}
}

func roomSubject(roomKey string) string {
	return roomSubjectPrefix + roomKey
}

// Subscribe registers a NATS subscription for the room.
func (b *NATSBus) Subscribe(roomKey string) (<-chan model.Event, string) {
	subID := uuid.Must(uuid.NewV7()).String()
	ch := make(chan model.Event, subscriberBufferSize)

	sub, err := b.client.Conn().Subscribe(roomSubject(roomKey), func(msg *nats.Msg) {
		var event model.Event
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			b.logger.Warn("dropping malformed room event",
				zap.String("room", roomKey),
				zap.Error(err),
			)
			return
		}
		select {
		case ch <- event:
		default:
			b.logger.Debug("dropped event for slow subscriber",
				zap.String("room", roomKey),
				zap.String("event", string(event.Type)),
			)
		}
	})
	if err != nil {
		// The connection reconnects on its own; surface the failure to the
		// subscriber as a closed channel rather than a nil one.
		b.logger.Error("room subscribe failed", zap.String("room", roomKey), zap.Error(err))
		close(ch)
		return ch, subID
	}

	b.mu.Lock()
	b.subs[subID] = &busSubscription{roomKey: roomKey, sub: sub, ch: ch}
	b.mu.Unlock()

	return ch, subID
}

// Unsubscribe drains and removes a subscription.
func (b *NATSBus) Unsubscribe(roomKey, subID string) {
	b.mu.Lock()
	entry, ok := b.subs[subID]
	if ok {
		delete(b.subs, subID)
	}
	b.mu.Unlock()

	if !ok || entry.roomKey != roomKey {
		return
	}
	_ = entry.sub.Unsubscribe()
	close(entry.ch)
}

// Publish sends the event to the room's subject. Fire-and-forget: a publish
// failure is logged, never propagated, matching the Bus contract.
func (b *NATSBus) Publish(roomKey string, event model.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		b.logger.Error("failed to encode room event", zap.Error(err))
		return
	}
	metrics.RoomEventsPublished.WithLabelValues(string(event.Type)).Inc()
	if err := b.client.Conn().Publish(roomSubject(roomKey), data); err != nil {
		b.logger.Warn("room publish failed",
			zap.String("room", roomKey),
			zap.Error(err),
		)
	}
}

// Close tears down all subscriptions. The underlying connection is owned by
// the caller.
func (b *NATSBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for subID, entry := range b.subs {
		_ = entry.sub.Unsubscribe()
		close(entry.ch)
		delete(b.subs, subID)
	}
}
