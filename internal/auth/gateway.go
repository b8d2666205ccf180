// Package auth resolves bearer credentials to an authenticated identity.
// Token issuance is owned by an external service; this package only needs
// the shared HS256 secret to verify what that service signed.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"

	"github.com/example/ride-tracking/internal/models"
)

var (
	ErrMissingToken = errors.New("missing authentication token")
	ErrInvalidToken = errors.New("invalid or expired token")
)

// Gateway authenticates a bearer token. Implemented by JWTGateway in
// production and by fakes in tests.
type Gateway interface {
	Authenticate(ctx context.Context, token string) (models.Identity, error)
}

type claims struct {
	Role string `json:"role"`
	jwtlib.RegisteredClaims
}

// JWTGateway validates HS256 tokens whose claims carry sub and role.
type JWTGateway struct {
	secret []byte
}

func NewJWTGateway(secret string) (*JWTGateway, error) {
	s := strings.TrimSpace(secret)
	if s == "" {
		return nil, errors.New("auth: empty JWT secret")
	}
	return &JWTGateway{secret: []byte(s)}, nil
}

func (g *JWTGateway) Authenticate(ctx context.Context, token string) (models.Identity, error) {
	if strings.TrimSpace(token) == "" {
		return models.Identity{}, ErrMissingToken
	}
	var c claims
	parsed, err := jwtlib.ParseWithClaims(token, &c, func(t *jwtlib.Token) (any, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return g.secret, nil
	})
	if err != nil || !parsed.Valid {
		return models.Identity{}, ErrInvalidToken
	}
	if c.Subject == "" {
		return models.Identity{}, ErrInvalidToken
	}
	role := models.Role(c.Role)
	if !role.Valid() {
		return models.Identity{}, ErrInvalidToken
	}
	return models.Identity{UserID: c.Subject, Role: role}, nil
}

// IssueToken signs a token for the given subject. Used by tests and local
// tooling; the production issuer lives in the credentials service.
func (g *JWTGateway) IssueToken(userID string, role models.Role, ttl time.Duration) (string, error) {
	now := time.Now()
	c := claims{
		Role: string(role),
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwtlib.NewNumericDate(now),
			ExpiresAt: jwtlib.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, c).SignedString(g.secret)
}

// BearerToken extracts the credential from "Authorization: Bearer <token>"
// or, for websocket clients that cannot set headers, from ?token=<token>.
// Returns the empty string when neither is present.
func BearerToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		parts := strings.Fields(auth)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return strings.TrimSpace(parts[1])
		}
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}
