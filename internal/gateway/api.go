// ABOUTME: HTTP API handlers for agents, messages, collectives, work and the field
// ABOUTME: Decodes JSON requests, enforces token ownership and encodes network views

package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/2389/fieldnet-gateway/internal/auth"
	"github.com/2389/fieldnet-gateway/internal/collective"
	"github.com/2389/fieldnet-gateway/internal/field"
	"github.com/2389/fieldnet-gateway/internal/mcp"
	"github.com/2389/fieldnet-gateway/internal/network"
	"github.com/2389/fieldnet-gateway/internal/router"
	"github.com/2389/fieldnet-gateway/internal/session"
	"github.com/2389/fieldnet-gateway/internal/store"
	"github.com/2389/fieldnet-gateway/internal/work"
)

// Query limits.
const (
	defaultLimit = 50
	maxLimit     = 500
	maxBodyBytes = 1 << 20
)

// SessionRequest is a caller-supplied session fingerprint.
type SessionRequest struct {
	Platform  string    `json:"platform"`
	PID       int       `json:"pid"`
	StartTime time.Time `json:"start_time"`
	Nonce     string    `json:"nonce"`
}

// JoinRequest is the JSON request body for POST /api/agents.
type JoinRequest struct {
	Name         string          `json:"name"`
	Role         string          `json:"role,omitempty"`
	Capabilities []string        `json:"capabilities,omitempty"`
	Session      *SessionRequest `json:"session,omitempty"`
}

// JoinResponse is the JSON response for POST /api/agents.
type JoinResponse struct {
	Agent             network.AgentView `json:"agent"`
	Outcome           string            `json:"outcome"`
	PreviousAgentID   string            `json:"previous_agent_id,omitempty"`
	Token             string            `json:"token,omitempty"`
	HeartbeatInterval string            `json:"heartbeat_interval"`
}

// SendRequest is the JSON request body for POST /api/messages and
// POST /api/collectives/{id}/messages. To is ignored for collectives.
type SendRequest struct {
	From           string   `json:"from"`
	To             string   `json:"to"`
	Content        string   `json:"content"`
	Type           string   `json:"type,omitempty"`
	Priority       string   `json:"priority,omitempty"`
	ResponseNeeded bool     `json:"response_needed,omitempty"`
	LoveQuotient   *float64 `json:"love_quotient,omitempty"`
}

// SendResponse is the JSON response for sends.
type SendResponse struct {
	MessageIDs []string `json:"message_ids"`
	Replayed   bool     `json:"replayed"`
}

// FormRequest is the JSON request body for POST /api/collectives.
type FormRequest struct {
	Name               string  `json:"name"`
	Purpose            string  `json:"purpose"`
	Founder            string  `json:"founder"`
	NorthStar          string  `json:"north_star,omitempty"`
	CoherenceThreshold float64 `json:"coherence_threshold,omitempty"`
}

// MemberRequest is the JSON request body for POST /api/collectives/{id}/members.
type MemberRequest struct {
	AgentID string `json:"agent_id"`
	Role    string `json:"role,omitempty"`
}

// WorkRequest is the JSON request body for POST /api/work.
type WorkRequest struct {
	CreatedBy   string `json:"created_by"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	AssignedTo  string `json:"assigned_to,omitempty"`
	Priority    string `json:"priority,omitempty"`
}

// WorkUpdateRequest is the JSON request body for progress and completion.
type WorkUpdateRequest struct {
	AgentID  string `json:"agent_id"`
	Progress int    `json:"progress"`
}

// StatusResponse is the JSON form of GET /api/status.
type StatusResponse struct {
	Agents         []network.AgentView      `json:"agents"`
	Field          *field.Snapshot          `json:"field"`
	Collectives    []network.CollectiveView `json:"collectives"`
	RecentMessages []network.MessageView    `json:"recent_messages"`
	ActiveWork     []network.WorkView       `json:"active_work"`
	GeneratedAt    time.Time                `json:"generated_at"`
}

// Handler returns the HTTP routes.
func (g *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", g.handleHealth)
	mux.HandleFunc("GET /ready", g.handleReady)
	mux.HandleFunc("GET /status", g.handleStatusPage)

	// Joining issues the token, so it is open.
	mux.HandleFunc("POST /api/agents", g.handleJoin)
	mux.HandleFunc("GET /api/agents", g.handleListAgents)
	mux.HandleFunc("GET /api/agents/{id}", g.handleGetAgent)
	mux.HandleFunc("GET /api/messages/recent", g.handleRecentMessages)
	mux.HandleFunc("GET /api/collectives", g.handleListCollectives)
	mux.HandleFunc("GET /api/collectives/{id}", g.handleGetCollective)
	mux.HandleFunc("GET /api/work", g.handleListWork)
	mux.HandleFunc("GET /api/work/{id}", g.handleGetWork)
	mux.HandleFunc("GET /api/field", g.handleField)
	mux.HandleFunc("GET /api/field/history", g.handleFieldHistory)
	mux.HandleFunc("GET /api/field/stream", g.handleFieldStream)
	mux.HandleFunc("GET /api/status", g.handleStatus)

	mux.Handle("POST /api/agents/{id}/heartbeat", g.self(g.handleHeartbeat))
	mux.Handle("DELETE /api/agents/{id}", g.self(g.handleLeave))
	mux.Handle("GET /api/agents/{id}/messages", g.self(g.handleAgentMessages))
	mux.Handle("GET /api/agents/{id}/stream", g.self(g.handleAgentStream))

	mux.Handle("POST /api/messages", g.authed(g.handleSend))
	mux.Handle("POST /api/collectives", g.authed(g.handleFormCollective))
	mux.Handle("POST /api/collectives/{id}/members", g.authed(g.handleJoinCollective))
	mux.Handle("POST /api/collectives/{id}/messages", g.authed(g.handleCollectiveMessage))
	mux.Handle("POST /api/work", g.authed(g.handleCreateWork))
	mux.Handle("POST /api/work/{id}/progress", g.authed(g.handleWorkProgress))
	mux.Handle("POST /api/work/{id}/complete", g.authed(g.handleCompleteWork))

	mux.Handle("POST /api/admin/clear", g.admin(g.handleClear))

	// MCP over HTTP can act as any agent.
	mux.Handle(mcp.MountPath, g.admin(g.mcp.HTTPHandler().ServeHTTP))
	return mux
}

// authed requires a token when auth is enabled.
func (g *Gateway) authed(h http.HandlerFunc) http.Handler {
	if g.issuer == nil {
		return h
	}
	return auth.RequireToken(g.issuer)(h)
}

// self requires the token subject to match the {id} path value.
func (g *Gateway) self(h http.HandlerFunc) http.Handler {
	if g.issuer == nil {
		return h
	}
	return auth.RequireToken(g.issuer)(auth.RequireSelf("id", h))
}

// admin requires an admin token when auth is enabled.
func (g *Gateway) admin(h http.HandlerFunc) http.Handler {
	if g.issuer == nil {
		return h
	}
	return auth.RequireToken(g.issuer)(auth.RequireAdmin(h))
}

// actingAs reports whether the caller may act as agentID, writing 403 if not.
func (g *Gateway) actingAs(w http.ResponseWriter, r *http.Request, agentID string) bool {
	if g.issuer == nil || auth.Allowed(r, agentID) {
		return true
	}
	g.sendJSONError(w, http.StatusForbidden, "token does not match agent")
	return false
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return errors.New("invalid JSON body")
	}
	return nil
}

// parseLimit reads ?limit=, clamped to [1, maxLimit].
func parseLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultLimit, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("invalid limit %q", raw)
	}
	return min(n, maxLimit), nil
}

// parseSince reads ?since= as RFC 3339.
func parseSince(r *http.Request) (time.Time, error) {
	raw := r.URL.Query().Get("since")
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid since %q", raw)
	}
	return t, nil
}

func sendOptions(req *SendRequest, r *http.Request) router.SendOptions {
	return router.SendOptions{
		Type:           req.Type,
		Priority:       req.Priority,
		ResponseNeeded: req.ResponseNeeded,
		LoveQuotient:   req.LoveQuotient,
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
	}
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK when the store answers a ping.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := g.network.Ping(r.Context()); err != nil {
		w.Header().Set("Retry-After", retryAfterSeconds)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("store unavailable"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

func (g *Gateway) handleJoin(w http.ResponseWriter, r *http.Request) {
	var req JoinRequest
	if err := decodeJSON(r, &req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		g.sendJSONError(w, http.StatusBadRequest, "name is required")
		return
	}

	var fp session.Fingerprint
	if s := req.Session; s != nil && s.Nonce != "" {
		fp = session.Fingerprint{Platform: s.Platform, PID: s.PID, StartTime: s.StartTime, Nonce: s.Nonce}
	} else {
		// Without a fingerprint every call is a fresh session.
		fp = session.NewFingerprint("http")
	}

	res, err := g.network.Join(r.Context(), network.JoinRequest{
		Name:         req.Name,
		Role:         req.Role,
		Capabilities: req.Capabilities,
		Fingerprint:  &fp,
	})
	if err != nil {
		g.writeError(w, r, err)
		return
	}

	resp := JoinResponse{
		Agent:             network.ViewAgent(res.Agent, ""),
		Outcome:           string(res.Outcome),
		PreviousAgentID:   res.Previous,
		HeartbeatInterval: g.network.HeartbeatInterval().String(),
	}
	if g.issuer != nil {
		token, err := g.issuer.AgentToken(res.AgentID)
		if err != nil {
			g.writeError(w, r, err)
			return
		}
		resp.Token = token
	}

	status := http.StatusCreated
	if res.Outcome.Reconnected() {
		status = http.StatusOK
	}
	g.sendJSON(w, status, resp)
}

func (g *Gateway) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	at, err := g.network.Heartbeat(r.Context(), r.PathValue("id"))
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	g.sendJSON(w, http.StatusOK, map[string]time.Time{"last_heartbeat": at})
}

func (g *Gateway) handleLeave(w http.ResponseWriter, r *http.Request) {
	if err := g.network.Leave(r.Context(), r.PathValue("id")); err != nil {
		g.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (g *Gateway) handleListAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := g.network.LiveAgents(r.Context())
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	g.sendJSON(w, http.StatusOK, network.ViewAgents(agents))
}

func (g *Gateway) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	a, err := g.network.Agent(r.Context(), r.PathValue("id"))
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	g.sendJSON(w, http.StatusOK, network.ViewAgent(a.Agent, a.Presence))
}

// handleAgentMessages serves the inbox, or the full conversation with ?view=conversation.
func (g *Gateway) handleAgentMessages(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	limit, err := parseLimit(r)
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	if r.URL.Query().Get("view") == "conversation" {
		msgs, err := g.network.Conversation(r.Context(), id, limit)
		if err != nil {
			g.writeError(w, r, err)
			return
		}
		g.sendJSON(w, http.StatusOK, network.ViewMessages(msgs))
		return
	}

	since, err := parseSince(r)
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	msgs, err := g.network.Inbox(r.Context(), id, since, limit)
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	g.sendJSON(w, http.StatusOK, network.ViewMessages(msgs))
}

func (g *Gateway) handleSend(w http.ResponseWriter, r *http.Request) {
	var req SendRequest
	if err := decodeJSON(r, &req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.From == "" || req.To == "" {
		g.sendJSONError(w, http.StatusBadRequest, "from and to are required")
		return
	}
	if !g.actingAs(w, r, req.From) {
		return
	}

	receipt, err := g.network.Send(r.Context(), req.From, req.To, req.Content, sendOptions(&req, r))
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	g.sendReceipt(w, receipt)
}

func (g *Gateway) sendReceipt(w http.ResponseWriter, receipt router.Receipt) {
	ids := receipt.MessageIDs
	if ids == nil {
		ids = []string{}
	}
	status := http.StatusCreated
	if receipt.Replayed {
		status = http.StatusOK
	}
	g.sendJSON(w, status, SendResponse{MessageIDs: ids, Replayed: receipt.Replayed})
}

func (g *Gateway) handleRecentMessages(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	msgs, err := g.network.RecentMessages(r.Context(), limit)
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	g.sendJSON(w, http.StatusOK, network.ViewMessages(msgs))
}

func (g *Gateway) handleFormCollective(w http.ResponseWriter, r *http.Request) {
	var req FormRequest
	if err := decodeJSON(r, &req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Name) == "" || req.Founder == "" {
		g.sendJSONError(w, http.StatusBadRequest, "name and founder are required")
		return
	}
	if !g.actingAs(w, r, req.Founder) {
		return
	}

	st, err := g.network.FormCollective(r.Context(), req.Name, req.Purpose, req.Founder, collective.FormOptions{
		NorthStar:          req.NorthStar,
		CoherenceThreshold: req.CoherenceThreshold,
	})
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	g.sendJSON(w, http.StatusCreated, network.ViewCollective(st))
}

func (g *Gateway) handleListCollectives(w http.ResponseWriter, r *http.Request) {
	sts, err := g.network.ListCollectives(r.Context())
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	g.sendJSON(w, http.StatusOK, network.ViewCollectives(sts))
}

func (g *Gateway) handleGetCollective(w http.ResponseWriter, r *http.Request) {
	st, err := g.network.CollectiveStatus(r.Context(), r.PathValue("id"))
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	g.sendJSON(w, http.StatusOK, network.ViewCollective(st))
}

func (g *Gateway) handleJoinCollective(w http.ResponseWriter, r *http.Request) {
	var req MemberRequest
	if err := decodeJSON(r, &req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.AgentID == "" {
		g.sendJSONError(w, http.StatusBadRequest, "agent_id is required")
		return
	}
	if !g.actingAs(w, r, req.AgentID) {
		return
	}

	st, err := g.network.JoinCollective(r.Context(), r.PathValue("id"), req.AgentID, req.Role)
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	g.sendJSON(w, http.StatusOK, network.ViewCollective(st))
}

func (g *Gateway) handleCollectiveMessage(w http.ResponseWriter, r *http.Request) {
	var req SendRequest
	if err := decodeJSON(r, &req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.From == "" {
		g.sendJSONError(w, http.StatusBadRequest, "from is required")
		return
	}
	if !g.actingAs(w, r, req.From) {
		return
	}

	receipt, err := g.network.CollectiveMessage(r.Context(), r.PathValue("id"), req.From, req.Content, sendOptions(&req, r))
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	g.sendReceipt(w, receipt)
}

func (g *Gateway) handleCreateWork(w http.ResponseWriter, r *http.Request) {
	var req WorkRequest
	if err := decodeJSON(r, &req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Title) == "" || req.CreatedBy == "" {
		g.sendJSONError(w, http.StatusBadRequest, "title and created_by are required")
		return
	}
	if !g.actingAs(w, r, req.CreatedBy) {
		return
	}

	item, err := g.network.CreateWork(r.Context(), req.CreatedBy, req.Title, req.Description, work.CreateOptions{
		AssignedTo: req.AssignedTo,
		Priority:   req.Priority,
	})
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	g.sendJSON(w, http.StatusCreated, network.ViewWork(item))
}

// handleListWork lists open items, or every item with ?all=true.
func (g *Gateway) handleListWork(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	all := r.URL.Query().Get("all") == "true"
	items, err := g.network.ListWork(r.Context(), !all, limit)
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	g.sendJSON(w, http.StatusOK, network.ViewWorkItems(items))
}

func (g *Gateway) handleGetWork(w http.ResponseWriter, r *http.Request) {
	item, err := g.network.GetWork(r.Context(), r.PathValue("id"))
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	g.sendJSON(w, http.StatusOK, network.ViewWork(item))
}

func (g *Gateway) handleWorkProgress(w http.ResponseWriter, r *http.Request) {
	g.updateWork(w, r, func(req WorkUpdateRequest) (*store.WorkItem, error) {
		return g.network.UpdateWork(r.Context(), req.AgentID, r.PathValue("id"), req.Progress)
	})
}

func (g *Gateway) handleCompleteWork(w http.ResponseWriter, r *http.Request) {
	g.updateWork(w, r, func(req WorkUpdateRequest) (*store.WorkItem, error) {
		return g.network.CompleteWork(r.Context(), req.AgentID, r.PathValue("id"))
	})
}

func (g *Gateway) updateWork(w http.ResponseWriter, r *http.Request, apply func(WorkUpdateRequest) (*store.WorkItem, error)) {
	var req WorkUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.AgentID == "" {
		g.sendJSONError(w, http.StatusBadRequest, "agent_id is required")
		return
	}
	if !g.actingAs(w, r, req.AgentID) {
		return
	}

	item, err := apply(req)
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	g.sendJSON(w, http.StatusOK, network.ViewWork(item))
}

func (g *Gateway) handleField(w http.ResponseWriter, r *http.Request) {
	snap, err := g.network.FieldState(r.Context())
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	g.sendJSON(w, http.StatusOK, snap)
}

func (g *Gateway) handleFieldHistory(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	rows, err := g.network.FieldHistory(r.Context(), limit)
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	g.sendJSON(w, http.StatusOK, network.ViewSnapshots(rows))
}

func (g *Gateway) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := g.network.Status(r.Context(), 10)
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	g.sendJSON(w, http.StatusOK, StatusResponse{
		Agents:         network.ViewAgents(st.Agents),
		Field:          st.Field,
		Collectives:    network.ViewCollectives(st.Collectives),
		RecentMessages: network.ViewMessages(st.RecentMessages),
		ActiveWork:     network.ViewWorkItems(st.ActiveWork),
		GeneratedAt:    st.GeneratedAt,
	})
}

// handleStatusPage renders the HTML summary.
func (g *Gateway) handleStatusPage(w http.ResponseWriter, r *http.Request) {
	st, err := g.network.Status(r.Context(), 10)
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := g.renderer.HTML(w, st); err != nil {
		g.logger.Error("failed to render status page", "error", err)
	}
}

func (g *Gateway) handleClear(w http.ResponseWriter, r *http.Request) {
	if err := g.network.Clear(r.Context()); err != nil {
		g.writeError(w, r, err)
		return
	}
	if p := auth.FromContext(r.Context()); p != nil {
		g.logger.Warn("network cleared by admin", "subject", p.Subject)
	}
	w.WriteHeader(http.StatusNoContent)
}
