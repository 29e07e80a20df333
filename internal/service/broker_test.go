package service

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/ManoDarpan/ManoDarpan/internal/identity"
	"github.com/ManoDarpan/ManoDarpan/internal/model"
	"github.com/ManoDarpan/ManoDarpan/internal/store"
	"github.com/ManoDarpan/ManoDarpan/pkg/apperr"
	"github.com/ManoDarpan/ManoDarpan/pkg/logger"
)

// capturePublisher records published events per room for assertions.
type capturePublisher struct {
	mu     sync.Mutex
	events map[string][]model.Event
}

func newCapturePublisher() *capturePublisher {
	return &capturePublisher{events: make(map[string][]model.Event)}
}

func (p *capturePublisher) Publish(roomKey string, event model.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events[roomKey] = append(p.events[roomKey], event)
}

func (p *capturePublisher) forRoom(roomKey string) []model.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]model.Event(nil), p.events[roomKey]...)
}

func newTestBroker(t *testing.T) (*Broker, *capturePublisher, *store.MemoryRequestStore) {
	t.Helper()
	requests := store.NewMemoryRequestStore()
	registry, _ := newTestRegistry(t)
	publisher := newCapturePublisher()
	broker := NewBroker(requests, registry, publisher, identity.StaticDirectory{}, 10*time.Minute, logger.NewNop())
	return broker, publisher, requests
}

func TestBrokerCreate_PublishesToCounsellorRoom(t *testing.T) {
	t.Parallel()

	broker, publisher, _ := newTestBroker(t)
	ctx := context.Background()

	req, err := broker.Create(ctx, "u1", "c1", false)
	require.NoError(t, err)
	require.Equal(t, model.RequestPending, req.Status)
	require.WithinDuration(t, time.Now().Add(10*time.Minute), req.ExpiresAt, time.Second)

	events := publisher.forRoom("c1")
	require.Len(t, events, 1)
	require.Equal(t, model.EventNewRequest, events[0].Type)

	var payload model.NewRequestEvent
	require.NoError(t, json.Unmarshal(events[0].Payload, &payload))
	require.Equal(t, req.ID, payload.Request.ID)
}

func TestBrokerCreate_MasksAnonymousRequester(t *testing.T) {
	t.Parallel()

	broker, publisher, _ := newTestBroker(t)
	ctx := context.Background()

	_, err := broker.Create(ctx, "u1", "c1", true)
	require.NoError(t, err)

	events := publisher.forRoom("c1")
	require.Len(t, events, 1)

	var payload model.NewRequestEvent
	require.NoError(t, json.Unmarshal(events[0].Payload, &payload))
	require.Equal(t, model.AnonymousName, payload.Request.User.Name)
	require.Empty(t, payload.Request.User.ID)
}

func TestBrokerCreate_RejectsSecondPending(t *testing.T) {
	t.Parallel()

	broker, _, _ := newTestBroker(t)
	ctx := context.Background()

	_, err := broker.Create(ctx, "u1", "c1", false)
	require.NoError(t, err)

	_, err = broker.Create(ctx, "u1", "c2", false)
	require.True(t, apperr.Is(err, apperr.CodeInvalidState))
}

func TestBrokerCreate_ExpiresStalePendingInPlace(t *testing.T) {
	t.Parallel()

	broker, _, requests := newTestBroker(t)
	ctx := context.Background()

	first, err := broker.Create(ctx, "u1", "c1", false)
	require.NoError(t, err)

	// Age the pending request past its window.
	first.ExpiresAt = time.Now().Add(-time.Minute)
	require.NoError(t, requests.Save(ctx, first))

	second, err := broker.Create(ctx, "u1", "c2", false)
	require.NoError(t, err)
	require.NotEqual(t, first.ID, second.ID)

	stale, err := requests.FindByID(ctx, first.ID)
	require.NoError(t, err)
	require.Equal(t, model.RequestExpired, stale.Status)
}

func TestBrokerCreate_RejectedWhileConversationActive(t *testing.T) {
	t.Parallel()

	broker, _, _ := newTestBroker(t)
	ctx := context.Background()

	req, err := broker.Create(ctx, "u1", "c1", false)
	require.NoError(t, err)
	_, err = broker.Accept(ctx, req.ID, "c1")
	require.NoError(t, err)

	_, err = broker.Create(ctx, "u1", "c2", false)
	require.True(t, apperr.Is(err, apperr.CodeInvalidState))
}

func TestBrokerAccept_ActivatesAndNotifiesUser(t *testing.T) {
	t.Parallel()

	broker, publisher, requests := newTestBroker(t)
	ctx := context.Background()

	req, err := broker.Create(ctx, "u1", "c1", true)
	require.NoError(t, err)

	conv, err := broker.Accept(ctx, req.ID, "c1")
	require.NoError(t, err)
	require.True(t, conv.IsActive)
	require.True(t, conv.IsAnonymous)

	stored, err := requests.FindByID(ctx, req.ID)
	require.NoError(t, err)
	require.Equal(t, model.RequestAccepted, stored.Status)

	events := publisher.forRoom("u1")
	require.Len(t, events, 1)
	require.Equal(t, model.EventRequestAccepted, events[0].Type)

	var payload model.RequestAcceptedEvent
	require.NoError(t, json.Unmarshal(events[0].Payload, &payload))
	require.Equal(t, conv.ID, payload.ConversationID)
	require.True(t, payload.IsAnonymous)
}

func TestBrokerAccept_WrongCounsellor(t *testing.T) {
	t.Parallel()

	broker, _, _ := newTestBroker(t)
	ctx := context.Background()

	req, err := broker.Create(ctx, "u1", "c1", false)
	require.NoError(t, err)

	_, err = broker.Accept(ctx, req.ID, "c2")
	require.True(t, apperr.Is(err, apperr.CodePermissionDenied))
}

func TestBrokerAccept_ExpiredRequest(t *testing.T) {
	t.Parallel()

	broker, _, requests := newTestBroker(t)
	ctx := context.Background()

	req, err := broker.Create(ctx, "u1", "c1", false)
	require.NoError(t, err)

	req.ExpiresAt = time.Now().Add(-time.Second)
	require.NoError(t, requests.Save(ctx, req))

	_, err = broker.Accept(ctx, req.ID, "c1")
	require.True(t, apperr.Is(err, apperr.CodeInvalidState))
}

func TestBrokerAccept_AlreadyProcessed(t *testing.T) {
	t.Parallel()

	broker, _, _ := newTestBroker(t)
	ctx := context.Background()

	req, err := broker.Create(ctx, "u1", "c1", false)
	require.NoError(t, err)
	require.NoError(t, broker.Reject(ctx, req.ID, "c1"))

	_, err = broker.Accept(ctx, req.ID, "c1")
	require.True(t, apperr.Is(err, apperr.CodeInvalidState))
}

func TestBrokerAccept_BusyCounsellor(t *testing.T) {
	t.Parallel()

	broker, _, _ := newTestBroker(t)
	ctx := context.Background()

	first, err := broker.Create(ctx, "u1", "c1", false)
	require.NoError(t, err)
	_, err = broker.Accept(ctx, first.ID, "c1")
	require.NoError(t, err)

	second, err := broker.Create(ctx, "u2", "c1", false)
	require.NoError(t, err)

	_, err = broker.Accept(ctx, second.ID, "c1")
	require.True(t, apperr.Is(err, apperr.CodeInvalidState))
}

// contendedConversationStore slips a rival active conversation for the same
// counsellor into the underlying store right before the activation write, so
// the accept passes its advisory busy check but loses at the store.
type contendedConversationStore struct {
	store.ConversationStore
	inner *store.MemoryConversationStore
	once  sync.Once
}

func (s *contendedConversationStore) Save(ctx context.Context, conv *model.Conversation) error {
	s.once.Do(func() {
		now := time.Now()
		until := now.Add(time.Hour)
		_ = s.inner.Save(ctx, &model.Conversation{
			ID:           uuid.Must(uuid.NewV7()).String(),
			UserID:       "rival-user",
			CounsellorID: conv.CounsellorID,
			IsActive:     true,
			ActiveUntil:  &until,
			CreatedAt:    now,
		})
	})
	return s.ConversationStore.Save(ctx, conv)
}

func TestBrokerAccept_LostRaceKeepsRequestPending(t *testing.T) {
	t.Parallel()

	conversations := store.NewMemoryConversationStore()
	contended := &contendedConversationStore{ConversationStore: conversations, inner: conversations}
	registry := NewRegistry(contended, newVault(t), time.Hour, logger.NewNop())
	requests := store.NewMemoryRequestStore()
	publisher := newCapturePublisher()
	broker := NewBroker(requests, registry, publisher, identity.StaticDirectory{}, 10*time.Minute, logger.NewNop())
	ctx := context.Background()

	req, err := broker.Create(ctx, "u1", "c1", false)
	require.NoError(t, err)

	_, err = broker.Accept(ctx, req.ID, "c1")
	require.True(t, apperr.Is(err, apperr.CodeInvalidState))

	stored, err := requests.FindByID(ctx, req.ID)
	require.NoError(t, err)
	require.Equal(t, model.RequestPending, stored.Status)
	require.Empty(t, publisher.forRoom("u1"))
}

func TestBrokerAccept_ConcurrentOnlyOneSucceeds(t *testing.T) {
	t.Parallel()

	broker, _, requests := newTestBroker(t)
	ctx := context.Background()

	first, err := broker.Create(ctx, "u1", "c1", false)
	require.NoError(t, err)
	second, err := broker.Create(ctx, "u2", "c1", false)
	require.NoError(t, err)

	errs := make([]error, 2)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, errs[0] = broker.Accept(ctx, first.ID, "c1")
	}()
	go func() {
		defer wg.Done()
		_, errs[1] = broker.Accept(ctx, second.ID, "c1")
	}()
	wg.Wait()

	var succeeded, lost int
	for i, req := range []*model.ConversationRequest{first, second} {
		stored, err := requests.FindByID(ctx, req.ID)
		require.NoError(t, err)
		switch {
		case errs[i] == nil:
			succeeded++
			require.Equal(t, model.RequestAccepted, stored.Status)
		case apperr.Is(errs[i], apperr.CodeInvalidState):
			lost++
			require.Equal(t, model.RequestPending, stored.Status)
		default:
			t.Fatalf("unexpected accept error: %v", errs[i])
		}
	}
	require.Equal(t, 1, succeeded)
	require.Equal(t, 1, lost)
}

func TestBrokerReject_SharesExpiredStatus(t *testing.T) {
	t.Parallel()

	broker, publisher, requests := newTestBroker(t)
	ctx := context.Background()

	req, err := broker.Create(ctx, "u1", "c1", false)
	require.NoError(t, err)
	require.NoError(t, broker.Reject(ctx, req.ID, "c1"))

	stored, err := requests.FindByID(ctx, req.ID)
	require.NoError(t, err)
	require.Equal(t, model.RequestExpired, stored.Status)

	events := publisher.forRoom("u1")
	require.Len(t, events, 1)
	require.Equal(t, model.EventRequestRejected, events[0].Type)
}

func TestBrokerListPendingFor_MasksAnonymous(t *testing.T) {
	t.Parallel()

	broker, _, _ := newTestBroker(t)
	ctx := context.Background()

	_, err := broker.Create(ctx, "u1", "c1", true)
	require.NoError(t, err)
	_, err = broker.Create(ctx, "u2", "c1", false)
	require.NoError(t, err)

	views, err := broker.ListPendingFor(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, views, 2)

	byUser := make(map[string]model.PendingRequestView)
	for _, v := range views {
		byUser[v.User.Name] = v
	}
	anon, ok := byUser[model.AnonymousName]
	require.True(t, ok)
	require.Empty(t, anon.User.ID)
}

func TestBrokerReject_RequiresAddressee(t *testing.T) {
	t.Parallel()

	broker, _, _ := newTestBroker(t)
	ctx := context.Background()

	req, err := broker.Create(ctx, "u1", "c1", false)
	require.NoError(t, err)

	err = broker.Reject(ctx, req.ID, "c2")
	require.True(t, apperr.Is(err, apperr.CodePermissionDenied))
}
