package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/ManoDarpan/ManoDarpan/internal/model"
	"github.com/ManoDarpan/ManoDarpan/pkg/apperr"
)

func newConversation(userID, counsellorID string, active bool) *model.Conversation {
	return &model.Conversation{
		ID:           uuid.New().String(),
		UserID:       userID,
		CounsellorID: counsellorID,
		IsActive:     active,
		CreatedAt:    time.Now().UTC(),
	}
}

func TestMemoryConversationStore_SingleActivePerUser(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewMemoryConversationStore()

	require.NoError(t, s.Save(ctx, newConversation("u1", "c1", true)))

	err := s.Save(ctx, newConversation("u1", "c2", true))
	require.True(t, apperr.Is(err, apperr.CodeInvalidState))

	// Inactive rows are unconstrained.
	require.NoError(t, s.Save(ctx, newConversation("u1", "c2", false)))
}

func TestMemoryConversationStore_SingleActivePerCounsellor(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewMemoryConversationStore()

	require.NoError(t, s.Save(ctx, newConversation("u1", "c1", true)))

	err := s.Save(ctx, newConversation("u2", "c1", true))
	require.True(t, apperr.Is(err, apperr.CodeInvalidState))
}

func TestMemoryConversationStore_UpdateOwnRow(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewMemoryConversationStore()

	conv := newConversation("u1", "c1", true)
	require.NoError(t, s.Save(ctx, conv))

	// Re-saving the same row is not a conflict with itself.
	conv.IsActive = false
	require.NoError(t, s.Save(ctx, conv))

	got, err := s.FindByID(ctx, conv.ID)
	require.NoError(t, err)
	require.False(t, got.IsActive)
}

func TestMemoryConversationStore_FindByPairReturnsEarliest(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewMemoryConversationStore()

	older := newConversation("u1", "c1", false)
	older.CreatedAt = time.Now().UTC().Add(-time.Hour)
	newer := newConversation("u1", "c1", false)

	require.NoError(t, s.Save(ctx, newer))
	require.NoError(t, s.Save(ctx, older))

	got, err := s.FindByPair(ctx, "u1", "c1")
	require.NoError(t, err)
	require.Equal(t, older.ID, got.ID)
}

func TestMemoryConversationStore_FindActive(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewMemoryConversationStore()

	conv := newConversation("u1", "c1", true)
	require.NoError(t, s.Save(ctx, conv))
	require.NoError(t, s.Save(ctx, newConversation("u1", "c2", false)))

	got, err := s.FindActiveForUser(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, conv.ID, got.ID)

	got, err = s.FindActiveForCounsellor(ctx, "c1")
	require.NoError(t, err)
	require.Equal(t, conv.ID, got.ID)

	_, err = s.FindActiveForCounsellor(ctx, "c2")
	require.True(t, apperr.Is(err, apperr.CodeNotFound))
}

func TestMemoryConversationStore_ReadsReturnCopies(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewMemoryConversationStore()

	conv := newConversation("u1", "c1", true)
	require.NoError(t, s.Save(ctx, conv))

	got, err := s.FindByID(ctx, conv.ID)
	require.NoError(t, err)
	got.IsActive = false

	again, err := s.FindByID(ctx, conv.ID)
	require.NoError(t, err)
	require.True(t, again.IsActive)
}

func newRequest(userID, counsellorID string, status model.RequestStatus, expiresAt time.Time) *model.ConversationRequest {
	return &model.ConversationRequest{
		ID:           uuid.New().String(),
		UserID:       userID,
		CounsellorID: counsellorID,
		Status:       status,
		CreatedAt:    time.Now().UTC(),
		ExpiresAt:    expiresAt,
	}
}

func TestMemoryRequestStore_SinglePendingPerUser(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewMemoryRequestStore()
	expiry := time.Now().Add(10 * time.Minute)

	require.NoError(t, s.Save(ctx, newRequest("u1", "c1", model.RequestPending, expiry)))

	err := s.Save(ctx, newRequest("u1", "c2", model.RequestPending, expiry))
	require.True(t, apperr.Is(err, apperr.CodeInvalidState))

	// A different user is fine, as is a non-pending row.
	require.NoError(t, s.Save(ctx, newRequest("u2", "c1", model.RequestPending, expiry)))
	require.NoError(t, s.Save(ctx, newRequest("u1", "c2", model.RequestExpired, expiry)))
}

func TestMemoryRequestStore_ListPendingForCounsellorSkipsExpired(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewMemoryRequestStore()
	now := time.Now().UTC()

	live := newRequest("u1", "c1", model.RequestPending, now.Add(5*time.Minute))
	stale := newRequest("u2", "c1", model.RequestPending, now.Add(-time.Minute))
	other := newRequest("u3", "c2", model.RequestPending, now.Add(5*time.Minute))

	require.NoError(t, s.Save(ctx, live))
	require.NoError(t, s.Save(ctx, stale))
	require.NoError(t, s.Save(ctx, other))

	got, err := s.ListPendingForCounsellor(ctx, "c1", now)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, live.ID, got[0].ID)
}

func TestMemoryRequestStore_FindPendingForUserIgnoresExpiry(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewMemoryRequestStore()

	stale := newRequest("u1", "c1", model.RequestPending, time.Now().Add(-time.Hour))
	require.NoError(t, s.Save(ctx, stale))

	got, err := s.FindPendingForUser(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, stale.ID, got.ID)
}

func TestMemoryMessageStore_AppendAssignsSequence(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewMemoryMessageStore()
	convID := uuid.New().String()

	for i := 0; i < 3; i++ {
		msg := &model.Message{
			ID:             uuid.New().String(),
			ConversationID: convID,
			SenderRole:     model.RoleUser,
			SenderID:       "u1",
			CreatedAt:      time.Now().UTC(),
		}
		require.NoError(t, s.Append(ctx, msg))
		require.Equal(t, uint64(i+1), msg.Seq)
	}

	got, err := s.ListByConversation(ctx, convID)
	require.NoError(t, err)
	require.Len(t, got, 3)
	for i := 1; i < len(got); i++ {
		require.Less(t, got[i-1].Seq, got[i].Seq)
	}
}

func TestMemoryMessageStore_ScopedByConversation(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewMemoryMessageStore()

	a := uuid.New().String()
	b := uuid.New().String()

	require.NoError(t, s.Append(ctx, &model.Message{ID: uuid.New().String(), ConversationID: a, CreatedAt: time.Now()}))
	require.NoError(t, s.Append(ctx, &model.Message{ID: uuid.New().String(), ConversationID: b, CreatedAt: time.Now()}))

	got, err := s.ListByConversation(ctx, a)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, a, got[0].ConversationID)
}
