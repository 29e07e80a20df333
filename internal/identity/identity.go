// Package identity resolves credentials to authenticated identities.
// Credential issuance itself (login, token minting) lives outside this
// service.
package identity

import (
	"context"

	"github.com/ManoDarpan/ManoDarpan/internal/model"
)

// Resolver turns an opaque credential into an identity.
type Resolver interface {
	// Resolve returns the identity behind the credential, or an
	// UNAUTHENTICATED error for a bad, missing or expired credential.
	Resolve(ctx context.Context, credential string) (model.Identity, error)
}

// Directory resolves display names for identities. Profile storage is an
// external collaborator; the static default covers deployments without one.
type Directory interface {
	DisplayName(ctx context.Context, id string, role model.Role) string
}

// StaticDirectory returns the role label as the display name.
type StaticDirectory struct{}

func (StaticDirectory) DisplayName(_ context.Context, _ string, role model.Role) string {
	if role == model.RoleCounsellor {
		return "Counsellor"
	}
	return "User"
}
