// ABOUTME: Session Identity Resolver deciding between reconnect, conflict and fresh registration
// ABOUTME: Gates every agent registration; storage uniqueness is the cross-process backstop

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/2389/fieldnet-gateway/internal/config"
	"github.com/2389/fieldnet-gateway/internal/keylock"
	"github.com/2389/fieldnet-gateway/internal/registry"
	"github.com/2389/fieldnet-gateway/internal/store"
)

// Outcome is how a resolve was settled.
type Outcome string

const (
	ReconnectedSameSession  Outcome = "reconnected-same-session"
	ReconnectedAfterTimeout Outcome = "reconnected-after-timeout"
	NameConflict            Outcome = "name-conflict"
	Fresh                   Outcome = "fresh"
)

// Reconnected reports whether the caller got back an existing identity.
func (o Outcome) Reconnected() bool { return o == ReconnectedSameSession }

// Request names the identity a process wants.
type Request struct {
	Name         string
	Role         string
	Capabilities []string
	Fingerprint  Fingerprint
}

// Resolution is the result of a resolve.
type Resolution struct {
	AgentID string
	Outcome Outcome
	Agent   *store.Agent
	// Previous is the id of the row that was deactivated or conflicted with.
	Previous string
}

// Resolver maps a (name, fingerprint) pair to an agent id.
type Resolver struct {
	store          store.Store
	registry       *registry.Registry
	logger         *slog.Logger
	conflictWindow time.Duration
	names          keylock.Map
}

// NewResolver creates a Resolver. A zero conflictWindow uses the default.
func NewResolver(s store.Store, reg *registry.Registry, conflictWindow time.Duration, logger *slog.Logger) *Resolver {
	if conflictWindow <= 0 {
		conflictWindow = config.DefaultConflictWindow
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		store:          s,
		registry:       reg,
		logger:         logger.With("component", "session"),
		conflictWindow: conflictWindow,
	}
}

// Resolve finds or creates the agent for req. Store failures fail the whole
// resolve; a name-conflict is an outcome, not an error.
func (r *Resolver) Resolve(ctx context.Context, req Request) (*Resolution, error) {
	if req.Name == "" {
		return nil, errors.New("resolving session: name is required")
	}

	unlock := r.names.Lock(req.Name)
	defer unlock()

	hash := req.Fingerprint.Hash()
	now := r.registry.Now()

	// Our own row wins over whatever was registered under the name since.
	mine, err := r.store.FindActiveAgentBySession(ctx, req.Name, hash)
	switch {
	case err == nil:
		if now.Sub(mine.LastHeartbeat) < r.conflictWindow {
			return r.reconnect(ctx, req, mine)
		}
		return r.retire(ctx, req, mine)
	case !errors.Is(err, store.ErrNotFound):
		return nil, fmt.Errorf("looking up %q: %w", req.Name, err)
	}

	existing, err := r.store.FindActiveAgentByName(ctx, req.Name)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return r.register(ctx, req, Fresh, "")
	case err != nil:
		return nil, fmt.Errorf("looking up %q: %w", req.Name, err)
	}

	if now.Sub(existing.LastHeartbeat) >= r.conflictWindow {
		return r.retire(ctx, req, existing)
	}

	// Two live sessions now share a display name under separate ids. Whether
	// this should be rejected instead is an open product question.
	r.logger.Warn("name conflict: registering a second active agent",
		"name", req.Name,
		"conflicting_id", existing.ID,
		"platform", req.Fingerprint.Platform)
	return r.register(ctx, req, NameConflict, existing.ID)
}

// retire deactivates a row that went quiet past the conflict window and
// registers a replacement.
func (r *Resolver) retire(ctx context.Context, req Request, stale *store.Agent) (*Resolution, error) {
	if err := r.registry.Deactivate(ctx, stale.ID); err != nil {
		return nil, fmt.Errorf("retiring stale agent %s: %w", stale.ID, err)
	}
	r.logger.Info("stale agent retired", "name", req.Name, "previous_id", stale.ID)
	return r.register(ctx, req, ReconnectedAfterTimeout, stale.ID)
}

func (r *Resolver) register(ctx context.Context, req Request, outcome Outcome, previous string) (*Resolution, error) {
	a, err := r.registry.Register(ctx, registry.RegisterRequest{
		Name:         req.Name,
		Role:         req.Role,
		Capabilities: req.Capabilities,
		Session:      req.Fingerprint.Info(r.registry.Now()),
	})
	if errors.Is(err, store.ErrDuplicate) {
		// Another process with our fingerprint won the insert. Re-read once.
		winner, ferr := r.store.FindActiveAgentBySession(ctx, req.Name, req.Fingerprint.Hash())
		if errors.Is(ferr, store.ErrNotFound) {
			return nil, err
		}
		if ferr != nil {
			return nil, fmt.Errorf("re-reading %q after duplicate insert: %w", req.Name, ferr)
		}
		return r.reconnect(ctx, req, winner)
	}
	if err != nil {
		return nil, err
	}
	return &Resolution{AgentID: a.ID, Outcome: outcome, Agent: a, Previous: previous}, nil
}

func (r *Resolver) reconnect(ctx context.Context, req Request, existing *store.Agent) (*Resolution, error) {
	joined := existing.Session.JoinedAt
	if joined.IsZero() {
		joined = existing.CreatedAt
	}
	a, err := r.registry.Reconnect(ctx, existing.ID, req.Fingerprint.Info(joined))
	if err != nil {
		return nil, fmt.Errorf("reconnecting %s: %w", existing.ID, err)
	}
	r.logger.Info("agent reconnected", "agent_id", a.ID, "name", req.Name)
	return &Resolution{AgentID: a.ID, Outcome: ReconnectedSameSession, Agent: a}, nil
}
