// ABOUTME: Tests for the gateway HTTP API over a real SQLite-backed network
// ABOUTME: Covers join and tokens, ownership checks, error mapping, SSE and gRPC health

package gateway

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/2389/fieldnet-gateway/internal/config"
	"github.com/2389/fieldnet-gateway/internal/network"
	"github.com/2389/fieldnet-gateway/internal/store"
)

const testSecret = "gateway-test-secret"

type testGateway struct {
	gw  *Gateway
	srv *httptest.Server
	net *network.Network
}

func newTestGateway(t *testing.T, secret string) *testGateway {
	t.Helper()
	cfg := config.Default(filepath.Join(t.TempDir(), "field.db"))
	cfg.Auth.JWTSecret = secret

	s, err := store.NewSQLiteStore(cfg.Database.Path)
	require.NoError(t, err)
	n := network.New(s, network.Options{Config: cfg.Network})

	gw, err := New(cfg, n, nil)
	require.NoError(t, err)
	srv := httptest.NewServer(gw.Handler())
	t.Cleanup(func() {
		srv.Close()
		n.Close()
		_ = s.Close()
	})
	return &testGateway{gw: gw, srv: srv, net: n}
}

func (tg *testGateway) do(t *testing.T, method, path, token string, body any, headers ...string) *http.Response {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, tg.srv.URL+path, rdr)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func (tg *testGateway) join(t *testing.T, name string) JoinResponse {
	t.Helper()
	resp := tg.do(t, http.MethodPost, "/api/agents", "", JoinRequest{
		Name:    name,
		Session: &SessionRequest{Platform: "test", PID: 1, Nonce: name},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return decode[JoinResponse](t, resp)
}

func TestJoin_IssuesTokenAndReconnects(t *testing.T) {
	tg := newTestGateway(t, testSecret)

	first := tg.join(t, "Alice")
	assert.NotEmpty(t, first.Token)
	assert.Equal(t, "fresh", first.Outcome)
	assert.Equal(t, "Bridge Builder", first.Agent.Role)
	assert.NotEmpty(t, first.HeartbeatInterval)

	resp := tg.do(t, http.MethodPost, "/api/agents", "", JoinRequest{
		Name:    "Alice",
		Session: &SessionRequest{Platform: "test", PID: 1, Nonce: "Alice"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	again := decode[JoinResponse](t, resp)
	assert.Equal(t, first.Agent.ID, again.Agent.ID)
	assert.Equal(t, "reconnected-same-session", again.Outcome)
}

func TestJoin_Validation(t *testing.T) {
	tg := newTestGateway(t, "")

	resp := tg.do(t, http.MethodPost, "/api/agents", "", JoinRequest{Name: "  "})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	req, _ := http.NewRequest(http.MethodPost, tg.srv.URL+"/api/agents", strings.NewReader("{nope"))
	raw, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer raw.Body.Close()
	assert.Equal(t, http.StatusBadRequest, raw.StatusCode)
}

func TestHeartbeat_RequiresOwnToken(t *testing.T) {
	tg := newTestGateway(t, testSecret)
	alice := tg.join(t, "Alice")
	bob := tg.join(t, "Bob")

	path := "/api/agents/" + alice.Agent.ID + "/heartbeat"
	assert.Equal(t, http.StatusUnauthorized, tg.do(t, http.MethodPost, path, "", nil).StatusCode)
	assert.Equal(t, http.StatusForbidden, tg.do(t, http.MethodPost, path, bob.Token, nil).StatusCode)
	assert.Equal(t, http.StatusOK, tg.do(t, http.MethodPost, path, alice.Token, nil).StatusCode)
}

func TestSend_AndReadInbox(t *testing.T) {
	tg := newTestGateway(t, testSecret)
	alice := tg.join(t, "Alice")
	bob := tg.join(t, "Bob")

	// Alice cannot send as Bob.
	resp := tg.do(t, http.MethodPost, "/api/messages", alice.Token, SendRequest{
		From: bob.Agent.ID, To: alice.Agent.ID, Content: "spoofed",
	})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = tg.do(t, http.MethodPost, "/api/messages", alice.Token, SendRequest{
		From: alice.Agent.ID, To: bob.Agent.ID, Content: "I love how we share this",
	}, "Idempotency-Key", "once")
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	sent := decode[SendResponse](t, resp)
	require.Len(t, sent.MessageIDs, 1)

	resp = tg.do(t, http.MethodPost, "/api/messages", alice.Token, SendRequest{
		From: alice.Agent.ID, To: bob.Agent.ID, Content: "I love how we share this",
	}, "Idempotency-Key", "once")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, decode[SendResponse](t, resp).Replayed)

	resp = tg.do(t, http.MethodGet, "/api/agents/"+bob.Agent.ID+"/messages", bob.Token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	inbox := decode[[]network.MessageView](t, resp)
	require.Len(t, inbox, 1)
	assert.Equal(t, sent.MessageIDs[0], inbox[0].ID)
	assert.Greater(t, inbox[0].LoveQuotient, 0.0)
}

func TestSend_ErrorMapping(t *testing.T) {
	tg := newTestGateway(t, "")
	alice := tg.join(t, "Alice")

	resp := tg.do(t, http.MethodPost, "/api/messages", "", SendRequest{From: alice.Agent.ID, To: "agent_missing", Content: "hi"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = tg.do(t, http.MethodPost, "/api/messages", "", SendRequest{From: "agent_ghost", To: alice.Agent.ID, Content: "hi"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = tg.do(t, http.MethodPost, "/api/messages", "", SendRequest{From: alice.Agent.ID, To: "all", Content: "   "})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = tg.do(t, http.MethodGet, "/api/agents/"+alice.Agent.ID+"/messages?limit=zero", "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCollectives(t *testing.T) {
	tg := newTestGateway(t, testSecret)
	alice := tg.join(t, "Alice")
	bob := tg.join(t, "Bob")
	carol := tg.join(t, "Carol")

	resp := tg.do(t, http.MethodPost, "/api/collectives", alice.Token, FormRequest{
		Name: "Truth Circle", Purpose: "clear honest inquiry", Founder: alice.Agent.ID,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	formed := decode[network.CollectiveView](t, resp)
	assert.Equal(t, 1, formed.MemberCount)

	resp = tg.do(t, http.MethodPost, "/api/collectives/"+formed.ID+"/members", bob.Token, MemberRequest{AgentID: bob.Agent.ID})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 2, decode[network.CollectiveView](t, resp).MemberCount)

	resp = tg.do(t, http.MethodPost, "/api/collectives/"+formed.ID+"/messages", carol.Token, SendRequest{
		From: carol.Agent.ID, Content: "let me in",
	})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = tg.do(t, http.MethodPost, "/api/collectives/"+formed.ID+"/messages", alice.Token, SendRequest{
		From: alice.Agent.ID, Content: "welcome, let us integrate",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Len(t, decode[SendResponse](t, resp).MessageIDs, 1)

	resp = tg.do(t, http.MethodGet, "/api/collectives/collective_missing", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = tg.do(t, http.MethodGet, "/api/collectives", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decode[[]network.CollectiveView](t, resp), 1)
}

func TestWork(t *testing.T) {
	tg := newTestGateway(t, testSecret)
	alice := tg.join(t, "Alice")
	bob := tg.join(t, "Bob")

	resp := tg.do(t, http.MethodPost, "/api/work", bob.Token, WorkRequest{CreatedBy: alice.Agent.ID, Title: "Docs"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = tg.do(t, http.MethodPost, "/api/work", alice.Token, WorkRequest{Title: "Docs", CreatedBy: alice.Agent.ID, Priority: "whenever"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = tg.do(t, http.MethodPost, "/api/work", alice.Token, WorkRequest{
		CreatedBy: alice.Agent.ID, Title: "Write documentation", Description: "clear and honest", AssignedTo: bob.Agent.ID,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	item := decode[network.WorkView](t, resp)
	assert.Equal(t, "integral-wisdom-cultivation", item.PrimaryHarmony)
	assert.Equal(t, "pending", item.Status)

	resp = tg.do(t, http.MethodPost, "/api/work/"+item.ID+"/progress", bob.Token, WorkUpdateRequest{AgentID: bob.Agent.ID, Progress: 50})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 50, decode[network.WorkView](t, resp).Progress)

	resp = tg.do(t, http.MethodGet, "/api/status", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decode[StatusResponse](t, resp).ActiveWork, 1)

	resp = tg.do(t, http.MethodPost, "/api/work/"+item.ID+"/complete", bob.Token, WorkUpdateRequest{AgentID: bob.Agent.ID})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	done := decode[network.WorkView](t, resp)
	assert.Equal(t, "completed", done.Status)
	require.NotNil(t, done.CompletedAt)

	resp = tg.do(t, http.MethodPost, "/api/work/"+item.ID+"/complete", bob.Token, WorkUpdateRequest{AgentID: bob.Agent.ID})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = tg.do(t, http.MethodGet, "/api/agents/"+bob.Agent.ID, "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, decode[network.AgentView](t, resp).WorkCompleted)

	resp = tg.do(t, http.MethodGet, "/api/work", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, decode[[]network.WorkView](t, resp))

	resp = tg.do(t, http.MethodGet, "/api/work?all=true", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decode[[]network.WorkView](t, resp), 1)

	resp = tg.do(t, http.MethodGet, "/api/work/work_missing", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestField_AndStatus(t *testing.T) {
	tg := newTestGateway(t, "")
	tg.join(t, "Alice")

	resp := tg.do(t, http.MethodGet, "/api/field", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var snap map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	assert.Equal(t, "seed", snap["pattern"])

	require.NoError(t, tg.net.Flush(context.Background()))
	resp = tg.do(t, http.MethodGet, "/api/field/history?limit=5", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decode[[]network.SnapshotView](t, resp), 1)

	resp = tg.do(t, http.MethodGet, "/status", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), "Alice")

	resp = tg.do(t, http.MethodGet, "/api/status", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decode[StatusResponse](t, resp).Agents, 1)
}

func TestAdminClear(t *testing.T) {
	tg := newTestGateway(t, testSecret)
	alice := tg.join(t, "Alice")

	assert.Equal(t, http.StatusForbidden, tg.do(t, http.MethodPost, "/api/admin/clear", alice.Token, nil).StatusCode)

	admin, err := tg.gw.issuer.AdminToken("operator", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, tg.do(t, http.MethodPost, "/api/admin/clear", admin, nil).StatusCode)

	resp := tg.do(t, http.MethodGet, "/api/agents", "", nil)
	assert.Empty(t, decode[[]network.AgentView](t, resp))
}

func TestMCPEndpoint_RequiresAdmin(t *testing.T) {
	tg := newTestGateway(t, testSecret)
	alice := tg.join(t, "Alice")

	initialize := map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "initialize",
		"params": map[string]any{
			"protocolVersion": "2025-03-26",
			"clientInfo":      map[string]any{"name": "test", "version": "1"},
			"capabilities":    map[string]any{},
		},
	}
	accept := []string{"Accept", "application/json, text/event-stream"}

	assert.Equal(t, http.StatusUnauthorized, tg.do(t, http.MethodPost, "/mcp", "", initialize, accept...).StatusCode)
	assert.Equal(t, http.StatusForbidden, tg.do(t, http.MethodPost, "/mcp", alice.Token, initialize, accept...).StatusCode)

	admin, err := tg.gw.issuer.AdminToken("operator", time.Hour)
	require.NoError(t, err)
	resp := tg.do(t, http.MethodPost, "/mcp", admin, initialize, accept...)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("Mcp-Session-Id"))
}

func TestStoreUnavailable_Returns503(t *testing.T) {
	cfg := config.Default("")
	ms := store.NewMockStore()
	n := network.New(ms, network.Options{Config: cfg.Network})
	defer n.Close()
	gw, err := New(cfg, n, nil)
	require.NoError(t, err)

	ms.FailWith(store.ErrUnavailable)
	rec := httptest.NewRecorder()
	gw.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/agents", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, retryAfterSeconds, rec.Header().Get("Retry-After"))

	rec = httptest.NewRecorder()
	gw.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, gw.checkHealth(context.Background()))
	ms.FailWith(nil)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, gw.checkHealth(context.Background()))
}

func TestAgentStream_DeliversMessages(t *testing.T) {
	tg := newTestGateway(t, "")
	alice := tg.join(t, "Alice")
	bob := tg.join(t, "Bob")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, tg.srv.URL+"/api/agents/"+bob.Agent.ID+"/stream", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	lines := bufio.NewScanner(resp.Body)
	readEvent := func() (string, string) {
		var event, data string
		for lines.Scan() {
			line := lines.Text()
			switch {
			case strings.HasPrefix(line, "event: "):
				event = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				data = strings.TrimPrefix(line, "data: ")
			case line == "" && event != "":
				return event, data
			}
		}
		return "", ""
	}

	event, _ := readEvent()
	require.Equal(t, "started", event)

	send := tg.do(t, http.MethodPost, "/api/messages", "", SendRequest{From: alice.Agent.ID, To: bob.Agent.ID, Content: "ping"})
	require.Equal(t, http.StatusCreated, send.StatusCode)

	event, data := readEvent()
	require.Equal(t, "message", event)
	var msg network.MessageView
	require.NoError(t, json.Unmarshal([]byte(data), &msg))
	assert.Equal(t, "ping", msg.Content)
}

func TestFormatSSEEvent(t *testing.T) {
	assert.Equal(t, "event: field\ndata: {}\n\n", formatSSEEvent("field", "{}"))
}

func TestRun_ServesAndShutsDown(t *testing.T) {
	cfg := config.Default(filepath.Join(t.TempDir(), "field.db"))
	cfg.Server.GRPCAddr = "127.0.0.1:0"
	cfg.Server.HTTPAddr = "127.0.0.1:0"

	s, err := store.NewSQLiteStore(cfg.Database.Path)
	require.NoError(t, err)
	n := network.New(s, network.Options{Config: cfg.Network})
	gw, err := New(cfg, n, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- gw.Run(ctx) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("gateway did not shut down")
	}
}

func TestTailnetStateDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "ts")
	got, err := tailnetStateDir(dir)
	require.NoError(t, err)
	assert.Equal(t, dir, got)
	assert.DirExists(t, dir)

	t.Setenv("HOME", t.TempDir())
	got, err = tailnetStateDir("")
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(got, filepath.Join("fieldnet", "tailscale")))
}
