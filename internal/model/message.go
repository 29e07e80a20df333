package model

import (
	"time"

	"github.com/ManoDarpan/ManoDarpan/internal/crypto"
)

// Message is an encrypted message row. Immutable once created; ordering
// within a conversation is by CreatedAt with the insertion sequence as
// tie-break.
type Message struct {
	ID             string          `json:"id"`
	ConversationID string          `json:"conversation_id"`
	SenderRole     Role            `json:"sender_role"`
	SenderID       string          `json:"sender_id"`
	Body           crypto.Envelope `json:"body"`
	CreatedAt      time.Time       `json:"created_at"`

	// Seq is the insertion sequence assigned by the store on append.
	Seq uint64 `json:"seq,omitempty"`
}

// DecryptedMessage is a message with its body decrypted for a participant.
type DecryptedMessage struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	SenderRole     Role      `json:"sender_role"`
	SenderID       string    `json:"sender_id"`
	Text           string    `json:"text"`
	CreatedAt      time.Time `json:"created_at"`
}

// SendAck is the acknowledgement returned for a sendMessage call.
type SendAck struct {
	OK    bool   `json:"ok,omitempty"`
	ID    string `json:"id,omitempty"`
	Error string `json:"error,omitempty"`
}
