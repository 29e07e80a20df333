package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ManoDarpan/ManoDarpan/internal/identity"
	"github.com/ManoDarpan/ManoDarpan/internal/model"
	"github.com/ManoDarpan/ManoDarpan/internal/store"
	"github.com/ManoDarpan/ManoDarpan/pkg/apperr"
	"github.com/ManoDarpan/ManoDarpan/pkg/logger"
	"github.com/ManoDarpan/ManoDarpan/pkg/metrics"
)

// Broker owns the counselling-request lifecycle: creation, the pending
// window, acceptance (which activates a conversation through the registry)
// and rejection.
type Broker struct {
	requests  store.RequestStore
	registry  *Registry
	publisher Publisher
	directory identity.Directory
	ttl       time.Duration
	logger    *logger.Logger
}

// NewBroker creates a request broker. ttl is the acceptance window for a
// pending request.
func NewBroker(requests store.RequestStore, registry *Registry, publisher Publisher, directory identity.Directory, ttl time.Duration, log *logger.Logger) *Broker {
	return &Broker{
		requests:  requests,
		registry:  registry,
		publisher: publisher,
		directory: directory,
		ttl:       ttl,
		logger:    log,
	}
}

// Create files a new counselling request for the user. It is rejected when
// the user already has an active conversation or a live pending request. A
// stale pending request found on the way is expired in place, which keeps
// the one-pending-per-user storage invariant meaningful.
func (b *Broker) Create(ctx context.Context, userID, counsellorID string, anonymous bool) (*model.ConversationRequest, error) {
	now := time.Now()

	if _, err := b.registry.ActiveForUser(ctx, userID); err == nil {
		return nil, apperr.InvalidState("you already have an active conversation")
	} else if !apperr.Is(err, apperr.CodeNotFound) {
		return nil, err
	}

	pending, err := b.requests.FindPendingForUser(ctx, userID)
	switch {
	case err == nil && !pending.Expired(now):
		return nil, apperr.InvalidState("you already have a pending request")
	case err == nil:
		pending.Status = model.RequestExpired
		if err := b.requests.Save(ctx, pending); err != nil {
			return nil, err
		}
		metrics.CounsellingRequestsTotal.WithLabelValues("expired").Inc()
	case !apperr.Is(err, apperr.CodeNotFound):
		return nil, err
	}

	req := &model.ConversationRequest{
		ID:           uuid.Must(uuid.NewV7()).String(),
		UserID:       userID,
		CounsellorID: counsellorID,
		Anonymous:    anonymous,
		Status:       model.RequestPending,
		CreatedAt:    now,
		ExpiresAt:    now.Add(b.ttl),
	}
	if err := b.requests.Save(ctx, req); err != nil {
		return nil, err
	}

	metrics.CounsellingRequestsTotal.WithLabelValues("created").Inc()
	b.logger.Info("request created",
		zap.String("request_id", req.ID),
		zap.String("counsellor_id", counsellorID),
		zap.Bool("anonymous", anonymous),
	)

	name := b.directory.DisplayName(ctx, userID, model.RoleUser)
	b.publisher.Publish(counsellorID, model.NewEvent(model.EventNewRequest, model.NewRequestEvent{
		Request: req.PendingView(name),
	}))

	return req, nil
}

// ListPendingFor returns the counsellor's live pending requests, with
// anonymous requesters fully masked.
func (b *Broker) ListPendingFor(ctx context.Context, counsellorID string) ([]model.PendingRequestView, error) {
	reqs, err := b.requests.ListPendingForCounsellor(ctx, counsellorID, time.Now())
	if err != nil {
		return nil, err
	}

	views := make([]model.PendingRequestView, 0, len(reqs))
	for _, req := range reqs {
		name := ""
		if !req.Anonymous {
			name = b.directory.DisplayName(ctx, req.UserID, model.RoleUser)
		}
		views = append(views, req.PendingView(name))
	}
	return views, nil
}

// ListForUser returns the user's own requests, unmasked.
func (b *Broker) ListForUser(ctx context.Context, userID string) ([]*model.ConversationRequest, error) {
	return b.requests.ListForUser(ctx, userID)
}

// Accept marks the request accepted and activates its conversation. The
// counsellor-busy check is advisory; the store's single-active invariant is
// what holds under concurrent accepts, surfacing as INVALID_STATE for the
// loser.
func (b *Broker) Accept(ctx context.Context, requestID, counsellorID string) (*model.Conversation, error) {
	req, err := b.requests.FindByID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.CounsellorID != counsellorID {
		return nil, apperr.Forbidden("request is addressed to another counsellor")
	}
	if req.Status != model.RequestPending {
		return nil, apperr.InvalidState("request already processed")
	}
	if req.Expired(time.Now()) {
		return nil, apperr.InvalidState("request expired")
	}

	if _, err := b.registry.ActiveForCounsellor(ctx, counsellorID); err == nil {
		return nil, apperr.InvalidState("you already have an active conversation")
	} else if !apperr.Is(err, apperr.CodeNotFound) {
		return nil, err
	}

	// Activate before persisting the accepted status. When activation loses
	// the single-active race the request stays pending and can be accepted
	// again once the counsellor frees up.
	conv, err := b.registry.ActivateFromRequest(ctx, req)
	if err != nil {
		return nil, err
	}

	req.Status = model.RequestAccepted
	if err := b.requests.Save(ctx, req); err != nil {
		return nil, err
	}

	metrics.CounsellingRequestsTotal.WithLabelValues("accepted").Inc()
	b.logger.Info("request accepted",
		zap.String("request_id", req.ID),
		zap.String("conversation_id", conv.ID),
	)

	b.publisher.Publish(req.UserID, model.NewEvent(model.EventRequestAccepted, model.RequestAcceptedEvent{
		RequestID:      req.ID,
		ConversationID: conv.ID,
		CounsellorID:   req.CounsellorID,
		IsAnonymous:    req.Anonymous,
	}))

	return conv, nil
}

// Reject marks the request expired, the shared terminal status for rejection
// and natural expiry.
func (b *Broker) Reject(ctx context.Context, requestID, counsellorID string) error {
	req, err := b.requests.FindByID(ctx, requestID)
	if err != nil {
		return err
	}
	if req.CounsellorID != counsellorID {
		return apperr.Forbidden("request is addressed to another counsellor")
	}
	if req.Status != model.RequestPending {
		return apperr.InvalidState("request already processed")
	}

	req.Status = model.RequestExpired
	if err := b.requests.Save(ctx, req); err != nil {
		return err
	}

	metrics.CounsellingRequestsTotal.WithLabelValues("rejected").Inc()
	b.logger.Info("request rejected", zap.String("request_id", req.ID))

	b.publisher.Publish(req.UserID, model.NewEvent(model.EventRequestRejected, model.RequestRejectedEvent{
		RequestID: req.ID,
	}))

	return nil
}
