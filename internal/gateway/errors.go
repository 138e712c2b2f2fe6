// ABOUTME: Maps network and store errors onto HTTP status codes and JSON bodies
// ABOUTME: Unavailable stores answer 503 with a Retry-After hint

package gateway

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/2389/fieldnet-gateway/internal/collective"
	"github.com/2389/fieldnet-gateway/internal/registry"
	"github.com/2389/fieldnet-gateway/internal/router"
	"github.com/2389/fieldnet-gateway/internal/store"
	"github.com/2389/fieldnet-gateway/internal/work"
)

// retryAfterSeconds is sent with 503 responses.
const retryAfterSeconds = "2"

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// sendJSON writes v with the given status.
func (g *Gateway) sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.logger.Error("failed to encode response", "error", err)
	}
}

// writeError picks a status for err.
func (g *Gateway) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, registry.ErrNotRegistered):
		g.sendJSONError(w, http.StatusNotFound, "agent not registered")
	case errors.Is(err, collective.ErrNotMember):
		g.sendJSONError(w, http.StatusForbidden, "not a member of the collective")
	case errors.Is(err, work.ErrClosed):
		g.sendJSONError(w, http.StatusConflict, "work item is already completed")
	case errors.Is(err, work.ErrInvalid):
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrNotFound):
		g.sendJSONError(w, http.StatusNotFound, "not found")
	case errors.Is(err, router.ErrEmptyContent):
		g.sendJSONError(w, http.StatusBadRequest, "content is required")
	case errors.Is(err, store.ErrUnavailable):
		g.logger.Warn("store unavailable", "path", r.URL.Path, "error", err)
		w.Header().Set("Retry-After", retryAfterSeconds)
		g.sendJSONError(w, http.StatusServiceUnavailable, "store unavailable, retry later")
	default:
		g.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
	}
}
