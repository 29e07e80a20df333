package model

import "time"

// RequestStatus is the lifecycle state of a counselling request.
type RequestStatus string

const (
	RequestPending  RequestStatus = "pending"
	RequestAccepted RequestStatus = "accepted"
	// RequestExpired is the shared terminal status for rejection and natural
	// expiry.
	RequestExpired RequestStatus = "expired"
)

// ConversationRequest is a user's ask for a counselling session with a
// specific counsellor. It is created pending and transitions exactly once to
// accepted or expired.
type ConversationRequest struct {
	ID           string        `json:"id"`
	UserID       string        `json:"user_id"`
	CounsellorID string        `json:"counsellor_id"`
	Anonymous    bool          `json:"anonymous"`
	Status       RequestStatus `json:"status"`
	CreatedAt    time.Time     `json:"created_at"`
	ExpiresAt    time.Time     `json:"expires_at"`
}

// Expired reports whether the request's acceptance window has passed.
func (r *ConversationRequest) Expired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

// RequesterView is the requester identity as exposed to counsellors.
type RequesterView struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name"`
}

// PendingRequestView is a pending request as listed to a counsellor. For
// anonymous requests the requester is fully masked: no id, placeholder name.
type PendingRequestView struct {
	ID        string        `json:"id"`
	Status    RequestStatus `json:"status"`
	Anonymous bool          `json:"anonymous"`
	CreatedAt time.Time     `json:"created_at"`
	ExpiresAt time.Time     `json:"expires_at"`
	User      RequesterView `json:"user"`
}

// PendingView masks the request for counsellor consumption.
func (r *ConversationRequest) PendingView(requesterName string) PendingRequestView {
	view := PendingRequestView{
		ID:        r.ID,
		Status:    r.Status,
		Anonymous: r.Anonymous,
		CreatedAt: r.CreatedAt,
		ExpiresAt: r.ExpiresAt,
	}
	if r.Anonymous {
		view.User = RequesterView{Name: AnonymousName}
	} else {
		view.User = RequesterView{ID: r.UserID, Name: requesterName}
	}
	return view
}
