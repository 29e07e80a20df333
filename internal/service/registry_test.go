package service

import (
	"context"
	"crypto/rand"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/ManoDarpan/ManoDarpan/internal/crypto"
	"github.com/ManoDarpan/ManoDarpan/internal/model"
	"github.com/ManoDarpan/ManoDarpan/internal/store"
	"github.com/ManoDarpan/ManoDarpan/pkg/apperr"
	"github.com/ManoDarpan/ManoDarpan/pkg/logger"
)

func newVault(t *testing.T) *crypto.KeyVault {
	t.Helper()
	masterKey := make([]byte, crypto.KeySize)
	_, err := rand.Read(masterKey)
	require.NoError(t, err)
	vault, err := crypto.NewKeyVault(masterKey)
	require.NoError(t, err)
	return vault
}

func newTestRegistry(t *testing.T) (*Registry, *store.MemoryConversationStore) {
	t.Helper()
	conversations := store.NewMemoryConversationStore()
	return NewRegistry(conversations, newVault(t), time.Hour, logger.NewNop()), conversations
}

func pendingRequest(userID, counsellorID string, anonymous bool) *model.ConversationRequest {
	return &model.ConversationRequest{
		ID:           uuid.Must(uuid.NewV7()).String(),
		UserID:       userID,
		CounsellorID: counsellorID,
		Anonymous:    anonymous,
		Status:       model.RequestPending,
		CreatedAt:    time.Now().UTC(),
		ExpiresAt:    time.Now().UTC().Add(10 * time.Minute),
	}
}

func TestActivateFromRequest_CreatesConversationWithKey(t *testing.T) {
	t.Parallel()

	registry, _ := newTestRegistry(t)
	ctx := context.Background()

	conv, err := registry.ActivateFromRequest(ctx, pendingRequest("u1", "c1", false))
	require.NoError(t, err)
	require.True(t, conv.IsActive)
	require.False(t, conv.IsAnonymous)
	require.NotNil(t, conv.ActiveUntil)
	require.NotEmpty(t, conv.WrappedKey.Ciphertext)

	key, err := registry.UnwrapKey(conv)
	require.NoError(t, err)
	require.Len(t, key, crypto.KeySize)
}

func TestActivateFromRequest_ReusesPairConversation(t *testing.T) {
	t.Parallel()

	registry, _ := newTestRegistry(t)
	ctx := context.Background()

	first, err := registry.ActivateFromRequest(ctx, pendingRequest("u1", "c1", false))
	require.NoError(t, err)
	_, err = registry.End(ctx, first.ID, "u1")
	require.NoError(t, err)

	second, err := registry.ActivateFromRequest(ctx, pendingRequest("u1", "c1", false))
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)
	require.True(t, second.IsActive)

	// The reused row keeps its original key.
	firstKey, err := registry.UnwrapKey(first)
	require.NoError(t, err)
	secondKey, err := registry.UnwrapKey(second)
	require.NoError(t, err)
	require.Equal(t, firstKey, secondKey)
}

func TestActivateFromRequest_AnonymousAlwaysCreatesNew(t *testing.T) {
	t.Parallel()

	registry, _ := newTestRegistry(t)
	ctx := context.Background()

	first, err := registry.ActivateFromRequest(ctx, pendingRequest("u1", "c1", false))
	require.NoError(t, err)
	_, err = registry.End(ctx, first.ID, "u1")
	require.NoError(t, err)

	anon, err := registry.ActivateFromRequest(ctx, pendingRequest("u1", "c1", true))
	require.NoError(t, err)
	require.NotEqual(t, first.ID, anon.ID)
	require.True(t, anon.IsAnonymous)

	// Distinct conversation, distinct key.
	firstKey, err := registry.UnwrapKey(first)
	require.NoError(t, err)
	anonKey, err := registry.UnwrapKey(anon)
	require.NoError(t, err)
	require.NotEqual(t, firstKey, anonKey)
}

func TestActivateFromRequest_SecondActiveForCounsellorRejected(t *testing.T) {
	t.Parallel()

	registry, _ := newTestRegistry(t)
	ctx := context.Background()

	_, err := registry.ActivateFromRequest(ctx, pendingRequest("u1", "c1", false))
	require.NoError(t, err)

	_, err = registry.ActivateFromRequest(ctx, pendingRequest("u2", "c1", false))
	require.True(t, apperr.Is(err, apperr.CodeInvalidState))
}

func TestReconcileExpiry_FlipsElapsedWindow(t *testing.T) {
	t.Parallel()

	registry, conversations := newTestRegistry(t)
	ctx := context.Background()

	conv, err := registry.ActivateFromRequest(ctx, pendingRequest("u1", "c1", false))
	require.NoError(t, err)

	// Rewind the window so the next read observes it elapsed.
	past := time.Now().Add(-time.Minute)
	conv.ActiveUntil = &past
	require.NoError(t, conversations.Save(ctx, conv))

	got, err := registry.Get(ctx, conv.ID)
	require.NoError(t, err)
	require.False(t, got.IsActive)

	// Idempotent on a second read.
	again, err := registry.Get(ctx, conv.ID)
	require.NoError(t, err)
	require.False(t, again.IsActive)

	_, err = registry.ActiveForUser(ctx, "u1")
	require.True(t, apperr.Is(err, apperr.CodeNotFound))
}

func TestEnd_RequiresParticipant(t *testing.T) {
	t.Parallel()

	registry, _ := newTestRegistry(t)
	ctx := context.Background()

	conv, err := registry.ActivateFromRequest(ctx, pendingRequest("u1", "c1", false))
	require.NoError(t, err)

	_, err = registry.End(ctx, conv.ID, "intruder")
	require.True(t, apperr.Is(err, apperr.CodePermissionDenied))

	ended, err := registry.End(ctx, conv.ID, "c1")
	require.NoError(t, err)
	require.False(t, ended.IsActive)
	require.Nil(t, ended.ActiveUntil)
}

func TestActiveForUser_ReturnsLiveConversation(t *testing.T) {
	t.Parallel()

	registry, _ := newTestRegistry(t)
	ctx := context.Background()

	conv, err := registry.ActivateFromRequest(ctx, pendingRequest("u1", "c1", false))
	require.NoError(t, err)

	got, err := registry.ActiveForUser(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, conv.ID, got.ID)

	got, err = registry.ActiveForCounsellor(ctx, "c1")
	require.NoError(t, err)
	require.Equal(t, conv.ID, got.ID)
}
