// ABOUTME: HTTP middleware for bearer-token authentication on API endpoints
// ABOUTME: Extracts the JWT from the Authorization header and adds the principal to context

package auth

import (
	"errors"
	"net/http"
	"strings"
)

// extractBearerToken returns the token and an error message (empty if successful).
func extractBearerToken(authHeader string) (string, string) {
	if authHeader == "" {
		return "", "missing authorization header"
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", "invalid authorization header format"
	}
	token := strings.TrimPrefix(authHeader, "Bearer ")
	if token == "" {
		return "", "empty token"
	}
	return token, ""
}

func deny(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"error":"` + msg + `"}`))
}

// RequireToken rejects requests without a valid bearer token.
func RequireToken(verifier Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, errMsg := extractBearerToken(r.Header.Get("Authorization"))
			if errMsg != "" {
				deny(w, http.StatusUnauthorized, errMsg)
				return
			}
			p, err := verifier.Verify(token)
			if errors.Is(err, ErrExpiredToken) {
				deny(w, http.StatusUnauthorized, "token expired")
				return
			}
			if err != nil {
				deny(w, http.StatusUnauthorized, "invalid token")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
		})
	}
}

// RequireAdmin rejects principals without the admin scope.
// Must be used after RequireToken.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := FromContext(r.Context())
		if p == nil {
			deny(w, http.StatusUnauthorized, "not authenticated")
			return
		}
		if !p.IsAdmin() {
			deny(w, http.StatusForbidden, "admin token required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Allowed reports whether the request principal may act as agentID.
// Admin tokens may act as any agent.
func Allowed(r *http.Request, agentID string) bool {
	p := FromContext(r.Context())
	if p == nil {
		return false
	}
	return p.IsAdmin() || p.Subject == agentID
}

// RequireSelf rejects requests whose path value named by param is not the
// token subject. Must be used after RequireToken.
func RequireSelf(param string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if FromContext(r.Context()) == nil {
			deny(w, http.StatusUnauthorized, "not authenticated")
			return
		}
		if !Allowed(r, r.PathValue(param)) {
			deny(w, http.StatusForbidden, "token does not match agent")
			return
		}
		next.ServeHTTP(w, r)
	})
}
