package model

import (
	"encoding/json"
	"time"
)

// EventType names a server→client realtime event.
type EventType string

const (
	EventConnected         EventType = "connected"
	EventJoined            EventType = "joined"
	EventNewMessage        EventType = "newMessage"
	EventNewRequest        EventType = "newRequest"
	EventRequestAccepted   EventType = "requestAccepted"
	EventRequestRejected   EventType = "requestRejected"
	EventConversationEnded EventType = "conversationEnded"
	EventCounsellorStatus  EventType = "counsellorStatus"
	EventError             EventType = "error"
	EventHeartbeat         EventType = "heartbeat"
)

// Event is a realtime event as delivered to a room. The payload is kept as
// raw JSON so events survive a round trip through an external bus unchanged.
type Event struct {
	Type    EventType       `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// NewEvent marshals the payload into an Event. Payload types are plain
// structs, so marshalling cannot fail in practice; a failure is reported as
// an error event to keep the fan-out path total.
func NewEvent(eventType EventType, payload any) Event {
	data, err := json.Marshal(payload)
	if err != nil {
		data, _ = json.Marshal(ErrorEvent{Message: "failed to encode event"})
		return Event{Type: EventError, Payload: data}
	}
	return Event{Type: eventType, Payload: data}
}

// ConnectedEvent confirms an established realtime connection.
type ConnectedEvent struct {
	ConnectionID string `json:"connection_id"`
}

// JoinedEvent confirms membership of a conversation room.
type JoinedEvent struct {
	ConversationID string `json:"conversation_id"`
}

// NewMessageEvent is the live delivery of a just-persisted message.
type NewMessageEvent struct {
	SenderRole Role      `json:"sender_role"`
	SenderID   string    `json:"sender_id"`
	Text       string    `json:"text"`
	CreatedAt  time.Time `json:"created_at"`
}

// NewRequestEvent notifies a counsellor of a fresh pending request.
type NewRequestEvent struct {
	Request PendingRequestView `json:"request"`
}

// RequestAcceptedEvent notifies the requester that a counsellor accepted.
type RequestAcceptedEvent struct {
	RequestID      string `json:"request_id"`
	ConversationID string `json:"conversation_id"`
	CounsellorID   string `json:"counsellor_id"`
	IsAnonymous    bool   `json:"is_anonymous"`
}

// RequestRejectedEvent notifies the requester of a rejection.
type RequestRejectedEvent struct {
	RequestID string `json:"request_id"`
}

// ConversationEndedEvent notifies participants that the conversation was
// ended. EndedByName carries the placeholder name when the ending party is
// the requester of an anonymous conversation.
type ConversationEndedEvent struct {
	ConversationID string `json:"conversation_id"`
	EndedBy        Role   `json:"ended_by"`
	EndedByName    string `json:"ended_by_name"`
}

// CounsellorStatusEvent announces a presence transition.
type CounsellorStatusEvent struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// ErrorEvent carries a non-fatal error to the client.
type ErrorEvent struct {
	Message string `json:"message"`
}

// HeartbeatEvent keeps idle streaming connections alive.
type HeartbeatEvent struct {
	Timestamp time.Time `json:"timestamp"`
}
