package model

import (
	"time"

	"github.com/ManoDarpan/ManoDarpan/internal/crypto"
)

// Conversation is an encrypted counselling channel between one user and one
// counsellor. The row is never deleted; it cycles between active and inactive
// as requests are accepted, the activity window lapses, or a participant ends
// it.
type Conversation struct {
	ID              string          `json:"id"`
	UserID          string          `json:"user_id"`
	CounsellorID    string          `json:"counsellor_id"`
	WrappedKey      crypto.Envelope `json:"-"`
	IsActive        bool            `json:"is_active"`
	IsAnonymous     bool            `json:"is_anonymous"`
	LastActivatedAt *time.Time      `json:"last_activated_at,omitempty"`
	ActiveUntil     *time.Time      `json:"active_until,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}

// WindowElapsed reports whether the activity window is set and in the past.
// IsActive together with an elapsed window is a transient state that must be
// reconciled to inactive on next observation.
func (c *Conversation) WindowElapsed(now time.Time) bool {
	return c.ActiveUntil != nil && c.ActiveUntil.Before(now)
}

// Participant reports whether the given identity id is one of the two
// participants.
func (c *Conversation) Participant(identityID string) bool {
	return identityID == c.UserID || identityID == c.CounsellorID
}

// RoleOf returns the role the identity plays in this conversation. The bool
// is false for non-participants.
func (c *Conversation) RoleOf(identityID string) (Role, bool) {
	switch identityID {
	case c.UserID:
		return RoleUser, true
	case c.CounsellorID:
		return RoleCounsellor, true
	}
	return "", false
}

// ConversationView is conversation metadata as returned to a participant.
// When the conversation is anonymous and the viewer is the counsellor, the
// user identity is masked.
type ConversationView struct {
	ID              string        `json:"id"`
	User            RequesterView `json:"user"`
	CounsellorID    string        `json:"counsellor_id"`
	IsActive        bool          `json:"is_active"`
	IsAnonymous     bool          `json:"is_anonymous"`
	ActiveUntil     *time.Time    `json:"active_until,omitempty"`
	LastActivatedAt *time.Time    `json:"last_activated_at,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
}

// View renders the conversation for the given viewer role.
func (c *Conversation) View(viewer Role, userName string) ConversationView {
	view := ConversationView{
		ID:              c.ID,
		CounsellorID:    c.CounsellorID,
		IsActive:        c.IsActive,
		IsAnonymous:     c.IsAnonymous,
		ActiveUntil:     c.ActiveUntil,
		LastActivatedAt: c.LastActivatedAt,
		CreatedAt:       c.CreatedAt,
	}
	if c.IsAnonymous && viewer == RoleCounsellor {
		view.User = RequesterView{Name: AnonymousName}
	} else {
		view.User = RequesterView{ID: c.UserID, Name: userName}
	}
	return view
}
