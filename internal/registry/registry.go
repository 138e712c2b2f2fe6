// ABOUTME: Agent Registry: registration, heartbeats, liveness reads and soft deletes
// ABOUTME: Mutations are serialised per agent id; reads go straight to the store

package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/2389/fieldnet-gateway/internal/config"
	"github.com/2389/fieldnet-gateway/internal/field"
	"github.com/2389/fieldnet-gateway/internal/keylock"
	"github.com/2389/fieldnet-gateway/internal/store"
)

// ErrNotRegistered is returned when an operation names an agent id that does
// not exist or has left the network.
var ErrNotRegistered = errors.New("agent not registered")

// Presence tiers.
const (
	PresenceOnline = "online"
	PresenceRecent = "recent"
	PresenceAway   = "away"
)

// RegisterRequest carries the caller-supplied part of a new agent row.
type RegisterRequest struct {
	Name         string
	Role         string
	Capabilities []string
	Session      store.SessionInfo
}

// Registry owns agent rows.
type Registry struct {
	store        store.Store
	logger       *slog.Logger
	notifier     field.Notifier
	locks        keylock.Map
	onlineWindow time.Duration
	recentWindow time.Duration
	now          func() time.Time
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// WithNotifier sets where registration and leave events go.
func WithNotifier(n field.Notifier) Option {
	return func(r *Registry) { r.notifier = n }
}

// WithWindows overrides the liveness windows.
func WithWindows(online, recent time.Duration) Option {
	return func(r *Registry) {
		if online > 0 {
			r.onlineWindow = online
		}
		if recent > 0 {
			r.recentWindow = recent
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// New creates a Registry over s.
func New(s store.Store, opts ...Option) *Registry {
	r := &Registry{
		store:        s,
		logger:       slog.Default(),
		notifier:     field.Discard,
		onlineWindow: config.DefaultOnlineWindow,
		recentWindow: config.DefaultRecentWindow,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "registry")
	return r
}

// Now returns the registry clock reading.
func (r *Registry) Now() time.Time { return r.now().UTC() }

// OnlineWindow is the liveness window.
func (r *Registry) OnlineWindow() time.Duration { return r.onlineWindow }

// Register creates a new agent row seeded from the role profile.
// Returns store.ErrDuplicate if an active row with the same name and session
// hash already exists.
func (r *Registry) Register(ctx context.Context, req RegisterRequest) (*store.Agent, error) {
	role := req.Role
	if role == "" {
		role = DefaultRole
	}
	profile, known := ProfileFor(role)
	if !known {
		r.logger.Debug("unknown role, using default profile", "role", role)
	}

	now := r.Now()
	session := req.Session
	if session.JoinedAt.IsZero() {
		session.JoinedAt = now
	}

	a := &store.Agent{
		ID:             "agent_" + uuid.New().String(),
		Name:           req.Name,
		Role:           role,
		Capabilities:   mergeCapabilities(req.Capabilities, profile.ExtraCapabilities),
		CoherenceLevel: profile.CoherenceLevel,
		LoveResonance:  profile.LoveResonance,
		FieldCoherence: profile.FieldCoherence,
		PrimaryHarmony: profile.Harmony.String(),
		Status:         store.AgentActive,
		LastHeartbeat:  now,
		Session:        session,
		CreatedAt:      now,
	}
	if err := r.store.CreateAgent(ctx, a); err != nil {
		return nil, fmt.Errorf("registering %q: %w", req.Name, err)
	}

	r.logger.Info("agent registered", "agent_id", a.ID, "name", a.Name, "role", a.Role)
	r.notifier.Notify(store.FieldEvent{
		Type:      field.EventRegistration,
		Data:      map[string]any{"agent_id": a.ID, "name": a.Name, "role": a.Role},
		Timestamp: now,
	})
	return a, nil
}

// Heartbeat refreshes the agent's last heartbeat. It never moves it backwards
// and has no effect beyond the timestamp.
func (r *Registry) Heartbeat(ctx context.Context, id string) (time.Time, error) {
	unlock := r.locks.Lock(id)
	defer unlock()

	a, err := r.Get(ctx, id)
	if err != nil {
		return time.Time{}, err
	}
	if a.Status != store.AgentActive {
		return time.Time{}, ErrNotRegistered
	}

	now := r.Now()
	if err := r.store.TouchAgent(ctx, id, now); err != nil {
		return time.Time{}, notRegistered("heartbeat", err)
	}
	if a.LastHeartbeat.After(now) {
		return a.LastHeartbeat, nil
	}
	return now, nil
}

// Reconnect moves an existing row onto a new session and refreshes its heartbeat.
func (r *Registry) Reconnect(ctx context.Context, id string, info store.SessionInfo) (*store.Agent, error) {
	unlock := r.locks.Lock(id)
	defer unlock()

	now := r.Now()
	info.ReconnectedAt = now
	if err := r.store.UpdateAgentSession(ctx, id, info, now); err != nil {
		return nil, notRegistered("reconnecting", err)
	}
	return r.Get(ctx, id)
}

// Get returns the agent row, active or not.
func (r *Registry) Get(ctx context.Context, id string) (*store.Agent, error) {
	a, err := r.store.GetAgent(ctx, id)
	if err != nil {
		return nil, notRegistered("getting agent", err)
	}
	return a, nil
}

// GetActive returns the agent only if it has not left the network.
func (r *Registry) GetActive(ctx context.Context, id string) (*store.Agent, error) {
	a, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.Status != store.AgentActive {
		return nil, ErrNotRegistered
	}
	return a, nil
}

// ListLive returns every live agent in a single query.
func (r *Registry) ListLive(ctx context.Context) ([]*store.Agent, error) {
	agents, err := r.store.ListLiveAgents(ctx, r.Now().Add(-r.onlineWindow))
	if err != nil {
		return nil, fmt.Errorf("listing live agents: %w", err)
	}
	return agents, nil
}

// Deactivate marks the agent inactive. The row is kept.
func (r *Registry) Deactivate(ctx context.Context, id string) error {
	unlock := r.locks.Lock(id)
	defer unlock()

	if err := r.store.SetAgentStatus(ctx, id, store.AgentInactive); err != nil {
		return notRegistered("deactivating agent", err)
	}
	r.logger.Info("agent deactivated", "agent_id", id)
	r.notifier.Notify(store.FieldEvent{
		Type:      field.EventLeave,
		Data:      map[string]any{"agent_id": id},
		Timestamp: r.Now(),
	})
	return nil
}

// Deliver persists msg and credits its sender in one store transaction,
// serialised with the sender's other writes. Either both land or neither does.
func (r *Registry) Deliver(ctx context.Context, msg *store.Message) error {
	unlock := r.locks.Lock(msg.FromAgent)
	defer unlock()

	if err := r.store.DeliverMessage(ctx, msg); err != nil {
		return notRegistered("delivering message", err)
	}
	return nil
}

// Clear hard-deletes everything. Admin only.
func (r *Registry) Clear(ctx context.Context) error {
	if err := r.store.ClearAll(ctx); err != nil {
		return fmt.Errorf("clearing network: %w", err)
	}
	r.logger.Warn("network cleared")
	r.notifier.Notify(store.FieldEvent{Type: field.EventClear, Timestamp: r.Now()})
	return nil
}

// IsLive reports whether a is active with a heartbeat inside the online window.
func (r *Registry) IsLive(a *store.Agent, now time.Time) bool {
	return a.Status == store.AgentActive && now.Sub(a.LastHeartbeat) < r.onlineWindow
}

// Presence classifies a into online, recent or away.
func (r *Registry) Presence(a *store.Agent, now time.Time) string {
	if a.Status != store.AgentActive {
		return PresenceAway
	}
	age := now.Sub(a.LastHeartbeat)
	switch {
	case age < r.recentWindow:
		return PresenceOnline
	case age < r.onlineWindow:
		return PresenceRecent
	default:
		return PresenceAway
	}
}

func notRegistered(op string, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return ErrNotRegistered
	}
	return fmt.Errorf("%s: %w", op, err)
}
