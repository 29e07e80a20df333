// Package service provides the conversation and request lifecycle logic.
package service

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ManoDarpan/ManoDarpan/internal/crypto"
	"github.com/ManoDarpan/ManoDarpan/internal/model"
	"github.com/ManoDarpan/ManoDarpan/internal/store"
	"github.com/ManoDarpan/ManoDarpan/pkg/apperr"
	"github.com/ManoDarpan/ManoDarpan/pkg/logger"
	"github.com/ManoDarpan/ManoDarpan/pkg/metrics"
)

// Publisher is the fire-and-forget room fan-out used by the services.
// Personal rooms are keyed by identity id, conversation rooms by
// conversation id.
type Publisher interface {
	Publish(roomKey string, event model.Event)
}

// Registry owns the conversation lifecycle: activation on accept, lazy
// expiry, termination, and conversation-key wrapping via the vault.
type Registry struct {
	conversations store.ConversationStore
	vault         *crypto.KeyVault
	activeWindow  time.Duration
	logger        *logger.Logger

	// keys caches unwrapped conversation keys by conversation id. Safe
	// because a wrapped key is written once at creation and never rotated;
	// the anonymous accept path creates a new conversation id rather than
	// replacing a key.
	keys sync.Map
}

// NewRegistry creates a conversation registry. activeWindow is how long an
// activation keeps the conversation open for messages.
func NewRegistry(conversations store.ConversationStore, vault *crypto.KeyVault, activeWindow time.Duration, log *logger.Logger) *Registry {
	return &Registry{
		conversations: conversations,
		vault:         vault,
		activeWindow:  activeWindow,
		logger:        log,
	}
}

// Get loads a conversation by id and reconciles lazy expiry.
func (r *Registry) Get(ctx context.Context, id string) (*model.Conversation, error) {
	conv, err := r.conversations.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return r.ReconcileExpiry(ctx, conv)
}

// FindByPair returns the pair's conversation with expiry reconciled, or
// NOT_FOUND.
func (r *Registry) FindByPair(ctx context.Context, userID, counsellorID string) (*model.Conversation, error) {
	conv, err := r.conversations.FindByPair(ctx, userID, counsellorID)
	if err != nil {
		return nil, err
	}
	return r.ReconcileExpiry(ctx, conv)
}

// ActiveForUser returns the user's active conversation after reconciling
// expiry, or NOT_FOUND.
func (r *Registry) ActiveForUser(ctx context.Context, userID string) (*model.Conversation, error) {
	return r.activeFor(ctx, r.conversations.FindActiveForUser, userID)
}

// ActiveForCounsellor returns the counsellor's active conversation after
// reconciling expiry, or NOT_FOUND.
func (r *Registry) ActiveForCounsellor(ctx context.Context, counsellorID string) (*model.Conversation, error) {
	return r.activeFor(ctx, r.conversations.FindActiveForCounsellor, counsellorID)
}

func (r *Registry) activeFor(ctx context.Context, find func(context.Context, string) (*model.Conversation, error), id string) (*model.Conversation, error) {
	conv, err := find(ctx, id)
	if err != nil {
		return nil, err
	}
	conv, err = r.ReconcileExpiry(ctx, conv)
	if err != nil {
		return nil, err
	}
	if !conv.IsActive {
		return nil, apperr.NotFound("no active conversation")
	}
	return conv, nil
}

// ActivateFromRequest activates the conversation for an accepted request.
// A non-anonymous accept reuses the pair's existing conversation when there
// is one; every other path creates a fresh conversation with a freshly
// generated wrapped key. Anonymous accepts always create a new conversation
// even when a prior one exists for the pair.
func (r *Registry) ActivateFromRequest(ctx context.Context, req *model.ConversationRequest) (*model.Conversation, error) {
	now := time.Now()
	until := now.Add(r.activeWindow)

	if !req.Anonymous {
		conv, err := r.conversations.FindByPair(ctx, req.UserID, req.CounsellorID)
		if err == nil {
			conv.IsActive = true
			conv.LastActivatedAt = &now
			conv.ActiveUntil = &until
			if err := r.conversations.Save(ctx, conv); err != nil {
				return nil, err
			}
			metrics.ConversationsActivatedTotal.WithLabelValues("reused").Inc()
			r.logger.Info("conversation reused",
				zap.String("conversation_id", conv.ID),
				zap.String("request_id", req.ID),
			)
			return conv, nil
		}
		if !apperr.Is(err, apperr.CodeNotFound) {
			return nil, err
		}
	}

	rawKey, err := r.vault.NewConversationKey()
	if err != nil {
		return nil, err
	}
	wrapped, err := r.vault.Wrap(rawKey)
	if err != nil {
		return nil, err
	}

	conv := &model.Conversation{
		ID:              uuid.Must(uuid.NewV7()).String(),
		UserID:          req.UserID,
		CounsellorID:    req.CounsellorID,
		WrappedKey:      wrapped,
		IsActive:        true,
		IsAnonymous:     req.Anonymous,
		LastActivatedAt: &now,
		ActiveUntil:     &until,
		CreatedAt:       now,
	}
	if err := r.conversations.Save(ctx, conv); err != nil {
		return nil, err
	}
	r.keys.Store(conv.ID, rawKey)

	metrics.ConversationsActivatedTotal.WithLabelValues("created").Inc()
	r.logger.Info("conversation created",
		zap.String("conversation_id", conv.ID),
		zap.String("request_id", req.ID),
		zap.Bool("anonymous", conv.IsAnonymous),
	)
	return conv, nil
}

// ReconcileExpiry flips an active conversation with an elapsed window to
// inactive and persists the change. Idempotent: a second call observes the
// conversation already inactive and does nothing. There is no background
// timer; every read and send path goes through here.
func (r *Registry) ReconcileExpiry(ctx context.Context, conv *model.Conversation) (*model.Conversation, error) {
	if !conv.IsActive || !conv.WindowElapsed(time.Now()) {
		return conv, nil
	}

	conv.IsActive = false
	if err := r.conversations.Save(ctx, conv); err != nil {
		return nil, err
	}
	r.logger.Info("conversation expired", zap.String("conversation_id", conv.ID))
	return conv, nil
}

// End deactivates the conversation on behalf of a participant. Non-
// participants get PERMISSION_DENIED. It does not interrupt a send already
// past its expiry check; it only stops new sends from being accepted.
func (r *Registry) End(ctx context.Context, conversationID, actorID string) (*model.Conversation, error) {
	conv, err := r.conversations.FindByID(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.Participant(actorID) {
		return nil, apperr.Forbidden("not a participant")
	}

	conv.IsActive = false
	conv.ActiveUntil = nil
	if err := r.conversations.Save(ctx, conv); err != nil {
		return nil, err
	}

	r.logger.Info("conversation ended",
		zap.String("conversation_id", conv.ID),
		zap.String("ended_by", actorID),
	)
	return conv, nil
}

// UnwrapKey returns the conversation's raw key, unwrapping through the vault
// on first use and caching per conversation id. An INTEGRITY failure is
// fatal for the conversation and is never masked.
func (r *Registry) UnwrapKey(conv *model.Conversation) ([]byte, error) {
	if cached, ok := r.keys.Load(conv.ID); ok {
		return cached.([]byte), nil
	}

	rawKey, err := r.vault.Unwrap(conv.WrappedKey)
	if err != nil {
		if apperr.Is(err, apperr.CodeIntegrity) {
			metrics.DecryptFailuresTotal.Inc()
			r.logger.Error("conversation key failed integrity check",
				zap.String("conversation_id", conv.ID),
			)
		}
		return nil, err
	}

	r.keys.Store(conv.ID, rawKey)
	return rawKey, nil
}

// ListForUser returns the user's conversations with expiry reconciled.
func (r *Registry) ListForUser(ctx context.Context, userID string) ([]*model.Conversation, error) {
	return r.reconcileList(ctx, r.conversations.ListForUser, userID)
}

// ListForCounsellor returns the counsellor's conversations with expiry
// reconciled.
func (r *Registry) ListForCounsellor(ctx context.Context, counsellorID string) ([]*model.Conversation, error) {
	return r.reconcileList(ctx, r.conversations.ListForCounsellor, counsellorID)
}

func (r *Registry) reconcileList(ctx context.Context, list func(context.Context, string) ([]*model.Conversation, error), id string) ([]*model.Conversation, error) {
	convs, err := list(ctx, id)
	if err != nil {
		return nil, err
	}
	for i, conv := range convs {
		reconciled, err := r.ReconcileExpiry(ctx, conv)
		if err != nil {
			return nil, err
		}
		convs[i] = reconciled
	}
	return convs, nil
}
