package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ManoDarpan/ManoDarpan/internal/model"
	"github.com/ManoDarpan/ManoDarpan/pkg/apperr"
)

// The memory stores are in-process implementations used by tests and as a
// no-database development mode. Each store serializes every mutation through
// a single write lock, which is what makes its uniqueness checks race-free.

// MemoryConversationStore implements ConversationStore in memory.
type MemoryConversationStore struct {
	mu            sync.RWMutex
	conversations map[string]*model.Conversation
}

// NewMemoryConversationStore creates an empty conversation store.
func NewMemoryConversationStore() *MemoryConversationStore {
	return &MemoryConversationStore{conversations: make(map[string]*model.Conversation)}
}

func (s *MemoryConversationStore) FindByID(ctx context.Context, id string) (*model.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, ok := s.conversations[id]
	if !ok {
		return nil, apperr.NotFound("conversation not found")
	}
	return cloneConversation(conv), nil
}

func (s *MemoryConversationStore) FindByPair(ctx context.Context, userID, counsellorID string) (*model.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var earliest *model.Conversation
	for _, conv := range s.conversations {
		if conv.UserID != userID || conv.CounsellorID != counsellorID {
			continue
		}
		if earliest == nil || conv.CreatedAt.Before(earliest.CreatedAt) {
			earliest = conv
		}
	}
	if earliest == nil {
		return nil, apperr.NotFound("conversation not found")
	}
	return cloneConversation(earliest), nil
}

func (s *MemoryConversationStore) FindActiveForUser(ctx context.Context, userID string) (*model.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, conv := range s.conversations {
		if conv.UserID == userID && conv.IsActive {
			return cloneConversation(conv), nil
		}
	}
	return nil, apperr.NotFound("no active conversation")
}

func (s *MemoryConversationStore) FindActiveForCounsellor(ctx context.Context, counsellorID string) (*model.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, conv := range s.conversations {
		if conv.CounsellorID == counsellorID && conv.IsActive {
			return cloneConversation(conv), nil
		}
	}
	return nil, apperr.NotFound("no active conversation")
}

func (s *MemoryConversationStore) ListForUser(ctx context.Context, userID string) ([]*model.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*model.Conversation
	for _, conv := range s.conversations {
		if conv.UserID == userID {
			out = append(out, cloneConversation(conv))
		}
	}
	sortConversations(out)
	return out, nil
}

func (s *MemoryConversationStore) ListForCounsellor(ctx context.Context, counsellorID string) ([]*model.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*model.Conversation
	for _, conv := range s.conversations {
		if conv.CounsellorID == counsellorID {
			out = append(out, cloneConversation(conv))
		}
	}
	sortConversations(out)
	return out, nil
}

func (s *MemoryConversationStore) Save(ctx context.Context, conv *model.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if conv.IsActive {
		for id, other := range s.conversations {
			if id == conv.ID || !other.IsActive {
				continue
			}
			if other.UserID == conv.UserID {
				return apperr.InvalidState("user already has an active conversation")
			}
			if other.CounsellorID == conv.CounsellorID {
				return apperr.InvalidState("counsellor already has an active conversation")
			}
		}
	}

	s.conversations[conv.ID] = cloneConversation(conv)
	return nil
}

// MemoryRequestStore implements RequestStore in memory.
type MemoryRequestStore struct {
	mu       sync.RWMutex
	requests map[string]*model.ConversationRequest
}

// NewMemoryRequestStore creates an empty request store.
func NewMemoryRequestStore() *MemoryRequestStore {
	return &MemoryRequestStore{requests: make(map[string]*model.ConversationRequest)}
}

func (s *MemoryRequestStore) FindByID(ctx context.Context, id string) (*model.ConversationRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	req, ok := s.requests[id]
	if !ok {
		return nil, apperr.NotFound("request not found")
	}
	clone := *req
	return &clone, nil
}

func (s *MemoryRequestStore) FindPendingForUser(ctx context.Context, userID string) (*model.ConversationRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, req := range s.requests {
		if req.UserID == userID && req.Status == model.RequestPending {
			clone := *req
			return &clone, nil
		}
	}
	return nil, apperr.NotFound("no pending request")
}

func (s *MemoryRequestStore) ListPendingForCounsellor(ctx context.Context, counsellorID string, now time.Time) ([]*model.ConversationRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*model.ConversationRequest
	for _, req := range s.requests {
		if req.CounsellorID == counsellorID && req.Status == model.RequestPending && !req.Expired(now) {
			clone := *req
			out = append(out, &clone)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryRequestStore) ListForUser(ctx context.Context, userID string) ([]*model.ConversationRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*model.ConversationRequest
	for _, req := range s.requests {
		if req.UserID == userID {
			clone := *req
			out = append(out, &clone)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryRequestStore) Save(ctx context.Context, req *model.ConversationRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if req.Status == model.RequestPending {
		for id, other := range s.requests {
			if id != req.ID && other.UserID == req.UserID && other.Status == model.RequestPending {
				return apperr.InvalidState("user already has a pending request")
			}
		}
	}

	clone := *req
	s.requests[req.ID] = &clone
	return nil
}

// MemoryMessageStore implements MessageStore in memory.
type MemoryMessageStore struct {
	mu       sync.RWMutex
	messages map[string][]*model.Message
	seq      uint64
}

// NewMemoryMessageStore creates an empty message store.
func NewMemoryMessageStore() *MemoryMessageStore {
	return &MemoryMessageStore{messages: make(map[string][]*model.Message)}
}

func (s *MemoryMessageStore) Append(ctx context.Context, msg *model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	msg.Seq = s.seq
	clone := *msg
	s.messages[msg.ConversationID] = append(s.messages[msg.ConversationID], &clone)
	return nil
}

func (s *MemoryMessageStore) ListByConversation(ctx context.Context, conversationID string) ([]*model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs := s.messages[conversationID]
	out := make([]*model.Message, len(msgs))
	for i, msg := range msgs {
		clone := *msg
		out[i] = &clone
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Seq < out[j].Seq
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func cloneConversation(conv *model.Conversation) *model.Conversation {
	clone := *conv
	if conv.LastActivatedAt != nil {
		t := *conv.LastActivatedAt
		clone.LastActivatedAt = &t
	}
	if conv.ActiveUntil != nil {
		t := *conv.ActiveUntil
		clone.ActiveUntil = &t
	}
	return &clone
}

func sortConversations(convs []*model.Conversation) {
	sort.Slice(convs, func(i, j int) bool { return convs[i].CreatedAt.Before(convs[j].CreatedAt) })
}
