package identity

import (
	"context"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ManoDarpan/ManoDarpan/internal/model"
	"github.com/ManoDarpan/ManoDarpan/pkg/apperr"
)

// Claims are the JWT claims carried by credentials issued for this service.
type Claims struct {
	jwt.RegisteredClaims
	Role model.Role `json:"role"`
}

// JWTResolver resolves HS256 bearer tokens.
type JWTResolver struct {
	secret []byte
}

// NewJWTResolver creates a resolver for tokens signed with the given secret.
func NewJWTResolver(secret string) *JWTResolver {
	return &JWTResolver{secret: []byte(secret)}
}

func (r *JWTResolver) Resolve(_ context.Context, credential string) (model.Identity, error) {
	if credential == "" {
		return model.Identity{}, apperr.Unauthenticated("missing credential")
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(credential, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return r.secret, nil
	})
	if err != nil || !token.Valid {
		return model.Identity{}, apperr.Unauthenticated("invalid token")
	}

	role := claims.Role
	if role == "" {
		role = model.RoleUser
	}
	if !role.Valid() {
		return model.Identity{}, apperr.Unauthenticated("unknown role")
	}
	if claims.Subject == "" {
		return model.Identity{}, apperr.Unauthenticated("token has no subject")
	}

	return model.Identity{ID: claims.Subject, Role: role}, nil
}

// NewToken mints a token for the identity. Exposed for tests and tooling;
// production token issuance is handled by the identity service.
func NewToken(identity model.Identity, secret string, opts ...func(*Claims)) (string, error) {
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: identity.ID},
		Role:             identity.Role,
	}
	for _, opt := range opts {
		opt(claims)
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}
