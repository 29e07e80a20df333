// Package model defines data structures for the counselling conversation
// engine.
package model

// Role identifies which side of a conversation an identity is on.
type Role string

const (
	RoleUser       Role = "user"
	RoleCounsellor Role = "counsellor"
)

// Valid reports whether the role is one of the two known variants.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleCounsellor
}

// Identity is an authenticated participant resolved from a credential.
type Identity struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}

// AnonymousName is the fixed placeholder shown in every payload that masks
// the requester of an anonymous conversation.
const AnonymousName = "Anonymous"
