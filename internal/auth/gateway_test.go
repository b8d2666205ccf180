package auth

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/example/ride-tracking/internal/models"
)

func TestAuthenticateRoundTrip(t *testing.T) {
	g, err := NewJWTGateway("test-secret")
	if err != nil {
		t.Fatal(err)
	}
	token, err := g.IssueToken("user-1", models.RoleDriver, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	id, err := g.Authenticate(context.Background(), token)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if id.UserID != "user-1" || id.Role != models.RoleDriver {
		t.Fatalf("unexpected identity %+v", id)
	}
}

func TestAuthenticateRejectsMissingAndGarbage(t *testing.T) {
	g, _ := NewJWTGateway("test-secret")
	if _, err := g.Authenticate(context.Background(), ""); !errors.Is(err, ErrMissingToken) {
		t.Fatalf("expected ErrMissingToken, got %v", err)
	}
	if _, err := g.Authenticate(context.Background(), "not-a-jwt"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestAuthenticateRejectsExpiredAndForeignSecret(t *testing.T) {
	g, _ := NewJWTGateway("test-secret")
	expired, _ := g.IssueToken("user-1", models.RoleRider, -time.Minute)
	if _, err := g.Authenticate(context.Background(), expired); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for expired token, got %v", err)
	}

	other, _ := NewJWTGateway("other-secret")
	foreign, _ := other.IssueToken("user-1", models.RoleRider, time.Minute)
	if _, err := g.Authenticate(context.Background(), foreign); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for foreign token, got %v", err)
	}
}

func TestAuthenticateRejectsUnknownRole(t *testing.T) {
	g, _ := NewJWTGateway("test-secret")
	token, _ := g.IssueToken("user-1", models.Role("root"), time.Minute)
	if _, err := g.Authenticate(context.Background(), token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for unknown role, got %v", err)
	}
}

func TestBearerToken(t *testing.T) {
	r := httptest.NewRequest("GET", "/ws/rides/r1/driver", nil)
	if got := BearerToken(r); got != "" {
		t.Fatalf("expected empty token, got %q", got)
	}

	r.Header.Set("Authorization", "Bearer abc123")
	if got := BearerToken(r); got != "abc123" {
		t.Fatalf("header token: got %q", got)
	}

	r2 := httptest.NewRequest("GET", "/ws/rides/r1/driver?token=qp456", nil)
	if got := BearerToken(r2); got != "qp456" {
		t.Fatalf("query token: got %q", got)
	}
}
