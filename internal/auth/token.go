// ABOUTME: JWT issuing and verification for agent and admin bearer tokens
// ABOUTME: Uses HS256 signing with the configured secret and a scope claim

package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token errors
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
	ErrMissingClaim = errors.New("missing required claim")
)

// Token scopes.
const (
	ScopeAgent = "agent"
	ScopeAdmin = "admin"
)

// Principal is the identity carried by a verified token.
type Principal struct {
	Subject string
	Scope   string
}

// IsAdmin reports whether the token carries the admin scope.
func (p *Principal) IsAdmin() bool { return p != nil && p.Scope == ScopeAdmin }

// Verifier checks bearer tokens.
type Verifier interface {
	Verify(tokenString string) (*Principal, error)
}

// Issuer mints and verifies HS256 tokens.
type Issuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewIssuer creates an Issuer. A non-positive ttl issues tokens without expiry.
func NewIssuer(secret []byte, ttl time.Duration) *Issuer {
	return &Issuer{secret: secret, ttl: ttl, now: time.Now}
}

// AgentToken issues a token authorising requests on behalf of agentID.
func (i *Issuer) AgentToken(agentID string) (string, error) {
	return i.Generate(agentID, ScopeAgent, i.ttl)
}

// AdminToken issues an admin token for subject.
func (i *Issuer) AdminToken(subject string, expiresIn time.Duration) (string, error) {
	return i.Generate(subject, ScopeAdmin, expiresIn)
}

// Generate signs a token for subject with the given scope.
func (i *Issuer) Generate(subject, scope string, expiresIn time.Duration) (string, error) {
	if subject == "" {
		return "", fmt.Errorf("%w: sub", ErrMissingClaim)
	}
	now := i.now()
	claims := jwt.MapClaims{
		"sub":   subject,
		"scope": scope,
		"iat":   now.Unix(),
	}
	if expiresIn > 0 {
		claims["exp"] = now.Add(expiresIn).Unix()
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}

// Verify validates the token and extracts its subject and scope.
func (i *Issuer) Verify(tokenString string) (*Principal, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return i.secret, nil
	}, jwt.WithTimeFunc(i.now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrInvalidToken
	}
	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return nil, fmt.Errorf("%w: sub", ErrMissingClaim)
	}
	scope, _ := claims["scope"].(string)
	switch scope {
	case ScopeAgent, ScopeAdmin:
	default:
		return nil, fmt.Errorf("%w: scope", ErrMissingClaim)
	}
	return &Principal{Subject: sub, Scope: scope}, nil
}
