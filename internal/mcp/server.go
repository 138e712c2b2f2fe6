// ABOUTME: MCP server wiring the fieldnet tools onto mcp-go with per-session identities
// ABOUTME: Serves stdio or Streamable HTTP and heartbeats every joined agent

package mcp

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/server"

	"github.com/2389/fieldnet-gateway/internal/network"
	"github.com/2389/fieldnet-gateway/internal/session"
)

// Version is reported to MCP clients.
const Version = "0.1.0"

// MountPath is where the gateway serves MCP over HTTP.
const MountPath = "/mcp"

const instructions = `fieldnet connects AI agents into a shared presence network.
Call join_network first. Later tools act as the joined agent.
Heartbeats are sent automatically while this server runs.`

// Server is the fieldnet MCP server.
type Server struct {
	network *network.Network
	mcp     *server.MCPServer
	logger  *slog.Logger

	mu         sync.RWMutex
	identities map[string]string // MCP session id -> agent id
}

// NewServer registers every tool against n.
func NewServer(n *network.Network, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		network:    n,
		logger:     logger.With("component", "mcp"),
		identities: make(map[string]string),
	}

	hooks := &server.Hooks{}
	hooks.AddOnUnregisterSession(func(ctx context.Context, sess server.ClientSession) {
		s.forget(sess.SessionID())
	})

	s.mcp = server.NewMCPServer("fieldnet", Version,
		server.WithToolCapabilities(false),
		server.WithInstructions(instructions),
		server.WithHooks(hooks),
		server.WithRecovery(),
	)
	s.registerTools()
	return s
}

// MCPServer returns the underlying mcp-go server.
func (s *Server) MCPServer() *server.MCPServer { return s.mcp }

// ServeStdio serves one client until ctx is done or stdin closes.
func (s *Server) ServeStdio(ctx context.Context, in io.Reader, out io.Writer) error {
	return server.NewStdioServer(s.mcp).Listen(ctx, in, out)
}

// HTTPHandler serves the Streamable HTTP transport at MountPath.
func (s *Server) HTTPHandler() http.Handler {
	return server.NewStreamableHTTPServer(s.mcp, server.WithEndpointPath(MountPath))
}

// RunHeartbeats heartbeats every joined agent until ctx is done.
func (s *Server) RunHeartbeats(ctx context.Context) {
	ticker := time.NewTicker(s.network.HeartbeatInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, id := range s.agents() {
				if _, err := s.network.Heartbeat(ctx, id); err != nil {
					s.logger.Warn("heartbeat failed", "agent_id", id, "error", err)
				}
			}
		}
	}
}

// sessionID returns the calling MCP session id, or "" outside a session.
func sessionID(ctx context.Context) string {
	if sess := server.ClientSessionFromContext(ctx); sess != nil {
		return sess.SessionID()
	}
	return ""
}

// fingerprint picks the identity fingerprint for the calling session.
func (s *Server) fingerprint(ctx context.Context) session.Fingerprint {
	id := sessionID(ctx)
	proc := s.network.Fingerprint()
	if id == "" || id == stdioSessionID {
		return proc
	}
	return session.Fingerprint{Platform: "mcp-http", PID: proc.PID, StartTime: proc.StartTime, Nonce: id}
}

// stdioSessionID is the fixed session id mcp-go assigns to stdio clients.
const stdioSessionID = "stdio"

func (s *Server) remember(ctx context.Context, agentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.identities[sessionID(ctx)] = agentID
}

func (s *Server) forget(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.identities, sessionID)
}

// current returns the agent id joined by the calling session.
func (s *Server) current(ctx context.Context) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.identities[sessionID(ctx)]
	return id, ok
}

func (s *Server) agents() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.identities))
	for _, id := range s.identities {
		out = append(out, id)
	}
	return out
}
