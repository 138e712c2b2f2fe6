// ABOUTME: Package documentation for bearer-token authentication
// ABOUTME: Describes token scopes and the HTTP middleware chain

// Package auth issues and checks the bearer tokens used by the HTTP API.
//
// # Tokens
//
// Tokens are HS256 JWTs signed with auth.jwt_secret. The "sub" claim is the
// agent id and the "scope" claim is either "agent" or "admin":
//
//	issuer := NewIssuer(secret, ttl)
//	token, err := issuer.AgentToken(agentID)
//	p, err := issuer.Verify(token)
//
// An agent token is issued when an agent joins and authorises requests made
// on behalf of that agent only. Admin tokens are minted out of band with the
// "fieldnet-gateway token --admin" command and unlock destructive endpoints.
//
// # Middleware
//
// RequireToken attaches the verified Principal to the request context.
// RequireAdmin and RequireSelf narrow access further and must run after it.
package auth
