// Package store defines the persistence interfaces consumed by the
// conversation engine, with Postgres and in-memory implementations.
//
// The "one active conversation per user", "one active conversation per
// counsellor" and "one pending request per user" invariants are enforced
// inside the save paths, not by callers: the Postgres implementation maps
// partial unique index violations to INVALID_STATE, and the memory
// implementation validates under its write lock. Callers may treat a save
// rejection as a lost race.
package store

import (
	"context"
	"time"

	"github.com/ManoDarpan/ManoDarpan/internal/model"
)

// ConversationStore persists conversations.
type ConversationStore interface {
	FindByID(ctx context.Context, id string) (*model.Conversation, error)

	// FindByPair returns the earliest-created conversation for the pair, or
	// NOT_FOUND. Anonymous accepts can leave several rows per pair; the
	// earliest row is the stable reuse candidate.
	FindByPair(ctx context.Context, userID, counsellorID string) (*model.Conversation, error)

	FindActiveForUser(ctx context.Context, userID string) (*model.Conversation, error)
	FindActiveForCounsellor(ctx context.Context, counsellorID string) (*model.Conversation, error)

	ListForUser(ctx context.Context, userID string) ([]*model.Conversation, error)
	ListForCounsellor(ctx context.Context, counsellorID string) ([]*model.Conversation, error)

	// Save inserts or updates by id. Returns INVALID_STATE when activating
	// would violate a single-active invariant.
	Save(ctx context.Context, conv *model.Conversation) error
}

// RequestStore persists counselling requests.
type RequestStore interface {
	FindByID(ctx context.Context, id string) (*model.ConversationRequest, error)

	// FindPendingForUser returns the user's pending request regardless of
	// expiry, or NOT_FOUND. Expiry is the broker's concern.
	FindPendingForUser(ctx context.Context, userID string) (*model.ConversationRequest, error)

	// ListPendingForCounsellor returns pending requests that have not
	// expired as of now.
	ListPendingForCounsellor(ctx context.Context, counsellorID string, now time.Time) ([]*model.ConversationRequest, error)

	ListForUser(ctx context.Context, userID string) ([]*model.ConversationRequest, error)

	// Save inserts or updates by id. Returns INVALID_STATE when inserting a
	// second pending request for the same user.
	Save(ctx context.Context, req *model.ConversationRequest) error
}

// MessageStore persists encrypted messages.
type MessageStore interface {
	// Append stores a new message and assigns its insertion sequence.
	Append(ctx context.Context, msg *model.Message) error

	// ListByConversation returns messages ordered by created_at ascending,
	// insertion sequence as tie-break.
	ListByConversation(ctx context.Context, conversationID string) ([]*model.Message, error)
}
