// ABOUTME: Unit tests for JWT token issuing and verification
// ABOUTME: Tests valid tokens, scopes, tampered tokens and expiry

package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestIssuer_AgentToken(t *testing.T) {
	issuer := NewIssuer([]byte("test-secret-key-for-jwt-signing"), time.Hour)

	token, err := issuer.AgentToken("agent_123")
	if err != nil {
		t.Fatalf("AgentToken() error = %v", err)
	}
	p, err := issuer.Verify(token)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if p.Subject != "agent_123" || p.Scope != ScopeAgent {
		t.Errorf("Verify() = %+v, want agent_123/agent", p)
	}
	if p.IsAdmin() {
		t.Error("agent token should not be admin")
	}
}

func TestIssuer_AdminToken(t *testing.T) {
	issuer := NewIssuer([]byte("secret"), time.Hour)

	token, err := issuer.AdminToken("operator", 0)
	if err != nil {
		t.Fatalf("AdminToken() error = %v", err)
	}
	p, err := issuer.Verify(token)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if !p.IsAdmin() {
		t.Errorf("expected admin scope, got %q", p.Scope)
	}
}

func TestIssuer_InvalidTokens(t *testing.T) {
	issuer := NewIssuer([]byte("secret"), time.Hour)
	other := NewIssuer([]byte("different-secret"), time.Hour)
	foreign, _ := other.AgentToken("agent_1")

	unscoped, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "agent_1"}).
		SignedString([]byte("secret"))
	noSubject, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"scope": ScopeAgent}).
		SignedString([]byte("secret"))

	tests := []struct {
		name  string
		token string
		want  error
	}{
		{"empty", "", ErrInvalidToken},
		{"garbage", "not-a-jwt-token", ErrInvalidToken},
		{"wrong secret", foreign, ErrInvalidToken},
		{"no scope", unscoped, ErrMissingClaim},
		{"no subject", noSubject, ErrMissingClaim},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := issuer.Verify(tt.token)
			if !errors.Is(err, tt.want) {
				t.Errorf("Verify() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestIssuer_ExpiredToken(t *testing.T) {
	issuer := NewIssuer([]byte("secret"), time.Minute)
	base := time.Now()
	issuer.now = func() time.Time { return base }

	token, err := issuer.AgentToken("agent_1")
	if err != nil {
		t.Fatalf("AgentToken() error = %v", err)
	}

	issuer.now = func() time.Time { return base.Add(2 * time.Minute) }
	if _, err := issuer.Verify(token); !errors.Is(err, ErrExpiredToken) {
		t.Errorf("Verify() error = %v, want ErrExpiredToken", err)
	}
}

func TestIssuer_EmptySubject(t *testing.T) {
	issuer := NewIssuer([]byte("secret"), time.Hour)
	if _, err := issuer.AgentToken(""); !errors.Is(err, ErrMissingClaim) {
		t.Errorf("AgentToken(\"\") error = %v, want ErrMissingClaim", err)
	}
}
