package realtime

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ManoDarpan/ManoDarpan/internal/crypto"
	"github.com/ManoDarpan/ManoDarpan/internal/identity"
	"github.com/ManoDarpan/ManoDarpan/internal/model"
	"github.com/ManoDarpan/ManoDarpan/internal/service"
	"github.com/ManoDarpan/ManoDarpan/internal/store"
	"github.com/ManoDarpan/ManoDarpan/pkg/apperr"
	"github.com/ManoDarpan/ManoDarpan/pkg/logger"
	"github.com/ManoDarpan/ManoDarpan/pkg/metrics"
)

// connEventBufferSize bounds the per-connection delivery queue. A connection
// that cannot keep up loses events rather than stalling the fan-out.
const connEventBufferSize = 128

// Conn is one live realtime connection. Events from every room the
// connection has joined are merged onto a single delivery channel.
type Conn struct {
	ID       string
	Identity model.Identity

	events chan model.Event
	done   chan struct{}

	mu    sync.Mutex
	rooms map[string]string // room key -> bus subscription id
}

// Events is the merged stream of events for this connection.
func (c *Conn) Events() <-chan model.Event {
	return c.events
}

// Router owns connection lifecycle, room membership and the message path.
// Every mutation of conversation state flows through the registry so expiry
// is reconciled before any realtime decision.
type Router struct {
	registry  *service.Registry
	messages  store.MessageStore
	bus       Bus
	presence  *PresenceHub
	directory identity.Directory
	logger    *logger.Logger

	mu    sync.Mutex
	conns map[string]*Conn
}

func NewRouter(registry *service.Registry, messages store.MessageStore, bus Bus, presence *PresenceHub, directory identity.Directory, log *logger.Logger) *Router {
	return &Router{
		registry:  registry,
		messages:  messages,
		bus:       bus,
		presence:  presence,
		directory: directory,
		logger:    log,
		conns:     make(map[string]*Conn),
	}
}

// Connect establishes a connection for the identity, subscribing it to its
// personal room and the shared presence room. A counsellor's first
// connection announces them online.
func (r *Router) Connect(id model.Identity) *Conn {
	conn := &Conn{
		ID:       uuid.Must(uuid.NewV7()).String(),
		Identity: id,
		events:   make(chan model.Event, connEventBufferSize),
		done:     make(chan struct{}),
		rooms:    make(map[string]string),
	}

	r.mu.Lock()
	r.conns[conn.ID] = conn
	r.mu.Unlock()

	r.join(conn, id.ID)
	r.join(conn, PresenceRoom)

	if r.presence.MarkOnline(id) {
		r.bus.Publish(PresenceRoom, model.NewEvent(model.EventCounsellorStatus, model.CounsellorStatusEvent{
			ID:     id.ID,
			Status: "online",
		}))
	}

	conn.events <- model.NewEvent(model.EventConnected, model.ConnectedEvent{ConnectionID: conn.ID})

	r.logger.Info("realtime connection opened",
		zap.String("connection_id", conn.ID),
		zap.String("identity_id", id.ID),
		zap.String("role", string(id.Role)),
	)
	return conn
}

// Disconnect tears down the connection and all of its room subscriptions. A
// counsellor's last connection announces them offline.
func (r *Router) Disconnect(connID string) {
	r.mu.Lock()
	conn, ok := r.conns[connID]
	if ok {
		delete(r.conns, connID)
	}
	r.mu.Unlock()
	if !ok {
		return
	}

	close(conn.done)

	conn.mu.Lock()
	for roomKey, subID := range conn.rooms {
		r.bus.Unsubscribe(roomKey, subID)
		delete(conn.rooms, roomKey)
	}
	conn.mu.Unlock()

	if r.presence.MarkOffline(conn.Identity) {
		r.bus.Publish(PresenceRoom, model.NewEvent(model.EventCounsellorStatus, model.CounsellorStatusEvent{
			ID:     conn.Identity.ID,
			Status: "offline",
		}))
	}

	r.logger.Info("realtime connection closed",
		zap.String("connection_id", connID),
		zap.String("identity_id", conn.Identity.ID),
	)
}

// Conn looks up a live connection by id.
func (r *Router) Conn(connID string) (*Conn, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.conns[connID]
	return conn, ok
}

// join subscribes the connection to a room and starts the forwarding
// goroutine merging that room onto the connection's event channel.
func (r *Router) join(conn *Conn, roomKey string) {
	conn.mu.Lock()
	if _, already := conn.rooms[roomKey]; already {
		conn.mu.Unlock()
		return
	}
	ch, subID := r.bus.Subscribe(roomKey)
	conn.rooms[roomKey] = subID
	conn.mu.Unlock()

	go func() {
		for {
			select {
			case event, ok := <-ch:
				if !ok {
					return
				}
				select {
				case conn.events <- event:
				case <-conn.done:
					return
				default:
					r.logger.Debug("connection queue full, dropping event",
						zap.String("connection_id", conn.ID),
						zap.String("event", string(event.Type)),
					)
				}
			case <-conn.done:
				return
			}
		}
	}()
}

// JoinConversation subscribes the connection to a conversation room after
// verifying the caller is a participant. Expiry is reconciled first, so a
// stale window cannot be joined as active, but joining an inactive
// conversation is allowed for reading history.
func (r *Router) JoinConversation(ctx context.Context, connID, conversationID string) error {
	conn, ok := r.Conn(connID)
	if !ok {
		return apperr.NotFound("connection not found")
	}

	conv, err := r.registry.Get(ctx, conversationID)
	if err != nil {
		return err
	}
	if !conv.Participant(conn.Identity.ID) {
		return apperr.Forbidden("not a participant")
	}

	r.join(conn, conv.ID)
	select {
	case conn.events <- model.NewEvent(model.EventJoined, model.JoinedEvent{ConversationID: conv.ID}):
	case <-conn.done:
	}
	return nil
}

// SendMessage encrypts, persists and broadcasts one message. The broadcast
// text is recovered by decrypting the stored envelope, so what subscribers
// see is exactly what a later history read will return.
func (r *Router) SendMessage(ctx context.Context, sender model.Identity, conversationID, text string) (*model.DecryptedMessage, error) {
	if strings.TrimSpace(text) == "" {
		return nil, apperr.InvalidArg("message text is empty")
	}

	conv, err := r.registry.Get(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	role, ok := conv.RoleOf(sender.ID)
	if !ok {
		return nil, apperr.Forbidden("not a participant")
	}
	if !conv.IsActive {
		return nil, apperr.InvalidState("conversation is not active")
	}

	key, err := r.registry.UnwrapKey(conv)
	if err != nil {
		return nil, err
	}

	body, err := crypto.Encrypt([]byte(text), key)
	if err != nil {
		return nil, apperr.Internal("failed to encrypt message", err)
	}

	msg := &model.Message{
		ID:             uuid.Must(uuid.NewV7()).String(),
		ConversationID: conv.ID,
		SenderRole:     role,
		SenderID:       sender.ID,
		Body:           body,
		CreatedAt:      time.Now().UTC(),
	}
	if err := r.messages.Append(ctx, msg); err != nil {
		return nil, err
	}

	plaintext, err := crypto.Decrypt(msg.Body, key)
	if err != nil {
		return nil, err
	}

	metrics.MessagesTotal.WithLabelValues(string(role)).Inc()
	r.bus.Publish(conv.ID, model.NewEvent(model.EventNewMessage, model.NewMessageEvent{
		SenderRole: role,
		SenderID:   sender.ID,
		Text:       string(plaintext),
		CreatedAt:  msg.CreatedAt,
	}))

	return &model.DecryptedMessage{
		ID:             msg.ID,
		ConversationID: msg.ConversationID,
		SenderRole:     msg.SenderRole,
		SenderID:       msg.SenderID,
		Text:           string(plaintext),
		CreatedAt:      msg.CreatedAt,
	}, nil
}

// History returns the conversation's messages decrypted for a participant,
// oldest first. Works on ended conversations; a single undecryptable
// message fails the whole read rather than returning a gap.
func (r *Router) History(ctx context.Context, caller model.Identity, conversationID string) ([]model.DecryptedMessage, error) {
	conv, err := r.registry.Get(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.Participant(caller.ID) {
		return nil, apperr.Forbidden("not a participant")
	}

	key, err := r.registry.UnwrapKey(conv)
	if err != nil {
		return nil, err
	}

	msgs, err := r.messages.ListByConversation(ctx, conv.ID)
	if err != nil {
		return nil, err
	}

	out := make([]model.DecryptedMessage, 0, len(msgs))
	for _, msg := range msgs {
		plaintext, err := crypto.Decrypt(msg.Body, key)
		if err != nil {
			metrics.DecryptFailuresTotal.Inc()
			r.logger.Error("stored message failed integrity check",
				zap.String("conversation_id", conv.ID),
				zap.String("message_id", msg.ID),
			)
			return nil, err
		}
		out = append(out, model.DecryptedMessage{
			ID:             msg.ID,
			ConversationID: msg.ConversationID,
			SenderRole:     msg.SenderRole,
			SenderID:       msg.SenderID,
			Text:           string(plaintext),
			CreatedAt:      msg.CreatedAt,
		})
	}
	return out, nil
}

// EndConversation deactivates the conversation and notifies the
// conversation room plus both personal rooms with an identical payload, so
// participants hear about the end whether or not they joined the room. The
// ending party's name is masked when an anonymous requester ends.
func (r *Router) EndConversation(ctx context.Context, actor model.Identity, conversationID string) error {
	conv, err := r.registry.End(ctx, conversationID, actor.ID)
	if err != nil {
		return err
	}

	role, _ := conv.RoleOf(actor.ID)
	name := r.directory.DisplayName(ctx, actor.ID, role)
	if conv.IsAnonymous && role == model.RoleUser {
		name = model.AnonymousName
	}

	event := model.NewEvent(model.EventConversationEnded, model.ConversationEndedEvent{
		ConversationID: conv.ID,
		EndedBy:        role,
		EndedByName:    name,
	})
	r.bus.Publish(conv.ID, event)
	r.bus.Publish(conv.UserID, event)
	r.bus.Publish(conv.CounsellorID, event)
	return nil
}

// OnlineCounsellors reports the ids of currently online counsellors.
func (r *Router) OnlineCounsellors() []string {
	return r.presence.OnlineSet()
}
