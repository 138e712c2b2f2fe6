// ABOUTME: Facade wiring the store, resolver, registry, router, collectives and field aggregator
// ABOUTME: The single entry point used by the HTTP gateway, the MCP server and the CLI

package network

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/2389/fieldnet-gateway/internal/collective"
	"github.com/2389/fieldnet-gateway/internal/config"
	"github.com/2389/fieldnet-gateway/internal/dedupe"
	"github.com/2389/fieldnet-gateway/internal/field"
	"github.com/2389/fieldnet-gateway/internal/harmony"
	"github.com/2389/fieldnet-gateway/internal/registry"
	"github.com/2389/fieldnet-gateway/internal/router"
	"github.com/2389/fieldnet-gateway/internal/session"
	"github.com/2389/fieldnet-gateway/internal/store"
	"github.com/2389/fieldnet-gateway/internal/stream"
	"github.com/2389/fieldnet-gateway/internal/work"
)

// idempotencyCacheSize bounds remembered send keys.
const idempotencyCacheSize = 10000

// Options configure a Network.
type Options struct {
	Config config.NetworkConfig
	// Tables defaults to the compiled-in keyword tables.
	Tables harmony.Provider
	Logger *slog.Logger
	// Now replaces time.Now.
	Now func() time.Time
	// Fingerprint identifies this process; one is generated if zero.
	Fingerprint session.Fingerprint
}

// Network is the assembled presence network.
type Network struct {
	Store       store.Store
	Tables      harmony.Provider
	Hub         *stream.Hub
	Registry    *registry.Registry
	Resolver    *session.Resolver
	Router      *router.Router
	Collectives *collective.Manager
	Work        *work.Manager
	Field       *field.Aggregator

	fingerprint session.Fingerprint
	replays     *dedupe.Cache[[]string]
	cfg         config.NetworkConfig
	logger      *slog.Logger
}

// New assembles a Network over s. The caller keeps ownership of s.
func New(s store.Store, opts Options) *Network {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	tables := opts.Tables
	if tables == nil {
		tables = harmony.DefaultTables()
	}
	cfg := opts.Config
	if cfg.Platform == "" {
		cfg.Platform = "fieldnet"
	}
	ttl := cfg.IdempotencyTTL
	if ttl <= 0 {
		ttl = config.DefaultIdempotencyTTL
	}
	fp := opts.Fingerprint
	if fp.Nonce == "" {
		fp = session.NewFingerprint(cfg.Platform)
	}

	hub := stream.NewHub(logger)
	agg := field.NewAggregator(s, field.AggregatorConfig{
		Params:       field.Params{MessageWindow: cfg.MessageWindow, Cap: field.DefaultCap},
		OnlineWindow: cfg.OnlineWindow,
		PollInterval: cfg.PollInterval,
		Publisher:    hub,
		Logger:       logger,
		Now:          now,
	})
	reg := registry.New(s,
		registry.WithLogger(logger),
		registry.WithNotifier(agg),
		registry.WithWindows(cfg.OnlineWindow, cfg.RecentWindow),
		registry.WithClock(now))
	replays := dedupe.New[[]string](ttl, idempotencyCacheSize)
	rt := router.New(s, reg, tables,
		router.WithLogger(logger),
		router.WithPublisher(hub),
		router.WithNotifier(agg),
		router.WithIdempotency(replays))

	return &Network{
		Store:       s,
		Tables:      tables,
		Hub:         hub,
		Registry:    reg,
		Resolver:    session.NewResolver(s, reg, cfg.ConflictWindow, logger),
		Router:      rt,
		Collectives: collective.NewManager(s, reg, rt, tables, agg, logger),
		Work:        work.NewManager(s, reg, tables, agg, logger),
		Field:       agg,
		fingerprint: fp,
		replays:     replays,
		cfg:         cfg,
		logger:      logger.With("component", "network"),
	}
}

// Fingerprint is the session fingerprint of this process.
func (n *Network) Fingerprint() session.Fingerprint { return n.fingerprint }

// HeartbeatInterval is how often producers should heartbeat.
func (n *Network) HeartbeatInterval() time.Duration {
	window := n.Registry.OnlineWindow()
	return window / 6
}

// Run drives the field aggregator until ctx is done.
func (n *Network) Run(ctx context.Context) error {
	return n.Field.Run(ctx)
}

// Flush records any pending field events immediately.
func (n *Network) Flush(ctx context.Context) error {
	if n.Field.Pending() == 0 {
		return nil
	}
	return n.Field.Flush(ctx)
}

// Close releases in-memory resources. It does not close the store.
func (n *Network) Close() {
	n.replays.Close()
	n.Hub.Close()
}

// JoinRequest asks to join the network.
type JoinRequest struct {
	Name         string
	Role         string
	Capabilities []string
	// Fingerprint defaults to this process's fingerprint. Remote callers
	// supply their own.
	Fingerprint *session.Fingerprint
}

// Join resolves the caller's identity.
func (n *Network) Join(ctx context.Context, req JoinRequest) (*session.Resolution, error) {
	fp := n.fingerprint
	if req.Fingerprint != nil {
		fp = *req.Fingerprint
	}
	res, err := n.Resolver.Resolve(ctx, session.Request{
		Name:         req.Name,
		Role:         req.Role,
		Capabilities: req.Capabilities,
		Fingerprint:  fp,
	})
	if err != nil {
		return nil, err
	}
	if res.Outcome.Reconnected() {
		n.Field.Trigger(store.FieldEvent{
			Type: field.EventReconnect,
			Data: map[string]any{"agent_id": res.AgentID, "name": req.Name},
		})
	}
	return res, nil
}

// Heartbeat refreshes an agent's liveness.
func (n *Network) Heartbeat(ctx context.Context, agentID string) (time.Time, error) {
	return n.Registry.Heartbeat(ctx, agentID)
}

// Leave deactivates an agent.
func (n *Network) Leave(ctx context.Context, agentID string) error {
	return n.Registry.Deactivate(ctx, agentID)
}

// Agent is an agent row with its presence tier.
type Agent struct {
	*store.Agent
	Presence string
}

// Agent returns one agent with presence.
func (n *Network) Agent(ctx context.Context, agentID string) (*Agent, error) {
	a, err := n.Registry.Get(ctx, agentID)
	if err != nil {
		return nil, err
	}
	return &Agent{Agent: a, Presence: n.Registry.Presence(a, n.Registry.Now())}, nil
}

// LiveAgents lists live agents with presence, from one point-in-time read.
func (n *Network) LiveAgents(ctx context.Context) ([]*Agent, error) {
	agents, err := n.Registry.ListLive(ctx)
	if err != nil {
		return nil, err
	}
	now := n.Registry.Now()
	out := make([]*Agent, 0, len(agents))
	for _, a := range agents {
		out = append(out, &Agent{Agent: a, Presence: n.Registry.Presence(a, now)})
	}
	return out, nil
}

// Send delivers a message; to may be router.BroadcastTarget.
func (n *Network) Send(ctx context.Context, from, to, content string, opts router.SendOptions) (router.Receipt, error) {
	return n.Router.Send(ctx, from, to, content, opts)
}

// Inbox reads an agent's received messages.
func (n *Network) Inbox(ctx context.Context, agentID string, since time.Time, limit int) ([]*store.Message, error) {
	return n.Router.Inbox(ctx, agentID, since, limit)
}

// Conversation reads messages an agent sent or received.
func (n *Network) Conversation(ctx context.Context, agentID string, limit int) ([]*store.Message, error) {
	return n.Router.Conversation(ctx, agentID, limit)
}

// RecentMessages reads the newest messages on the network.
func (n *Network) RecentMessages(ctx context.Context, limit int) ([]*store.Message, error) {
	return n.Router.Recent(ctx, limit)
}

// FormCollective creates a collective with founder as its first member.
func (n *Network) FormCollective(ctx context.Context, name, purpose, founder string, opts collective.FormOptions) (*collective.Status, error) {
	return n.Collectives.Form(ctx, name, purpose, founder, opts)
}

// JoinCollective adds or replaces a membership.
func (n *Network) JoinCollective(ctx context.Context, collectiveID, agentID, role string) (*collective.Status, error) {
	if _, err := n.Collectives.Join(ctx, collectiveID, agentID, role); err != nil {
		return nil, err
	}
	return n.Collectives.Status(ctx, collectiveID)
}

// CollectiveStatus reads one collective with fresh metrics.
func (n *Network) CollectiveStatus(ctx context.Context, collectiveID string) (*collective.Status, error) {
	return n.Collectives.Status(ctx, collectiveID)
}

// ListCollectives reads every collective with fresh metrics.
func (n *Network) ListCollectives(ctx context.Context) ([]*collective.Status, error) {
	return n.Collectives.List(ctx)
}

// CollectiveMessage fans a message out to a collective.
func (n *Network) CollectiveMessage(ctx context.Context, collectiveID, from, content string, opts router.SendOptions) (router.Receipt, error) {
	return n.Collectives.Broadcast(ctx, collectiveID, from, content, opts)
}

// CreateWork records a work item scored from its title and description.
func (n *Network) CreateWork(ctx context.Context, creator, title, description string, opts work.CreateOptions) (*store.WorkItem, error) {
	return n.Work.Create(ctx, creator, title, description, opts)
}

// GetWork reads one work item.
func (n *Network) GetWork(ctx context.Context, workID string) (*store.WorkItem, error) {
	return n.Work.Get(ctx, workID)
}

// ListWork reads work items newest first.
func (n *Network) ListWork(ctx context.Context, openOnly bool, limit int) ([]*store.WorkItem, error) {
	return n.Work.List(ctx, openOnly, limit)
}

// UpdateWork sets progress on an item; 100 completes it.
func (n *Network) UpdateWork(ctx context.Context, agentID, workID string, progress int) (*store.WorkItem, error) {
	return n.Work.Progress(ctx, agentID, workID, progress)
}

// CompleteWork closes an item and credits agentID.
func (n *Network) CompleteWork(ctx context.Context, agentID, workID string) (*store.WorkItem, error) {
	return n.Work.Complete(ctx, agentID, workID)
}

// FieldState computes the current field without writing it.
func (n *Network) FieldState(ctx context.Context) (*field.Snapshot, error) {
	return n.Field.Current(ctx)
}

// FieldHistory reads the field log, newest first.
func (n *Network) FieldHistory(ctx context.Context, limit int) ([]*store.FieldSnapshot, error) {
	return n.Field.History(ctx, limit)
}

// Status summarises the whole network.
type Status struct {
	Agents         []*Agent
	Field          *field.Snapshot
	Collectives    []*collective.Status
	RecentMessages []*store.Message
	// ActiveWork holds pending and in-progress items.
	ActiveWork  []*store.WorkItem
	GeneratedAt time.Time
}

// Status reads agents, field, collectives, recent messages and open work.
func (n *Network) Status(ctx context.Context, recent int) (*Status, error) {
	agents, err := n.LiveAgents(ctx)
	if err != nil {
		return nil, err
	}
	snap, err := n.FieldState(ctx)
	if err != nil {
		return nil, err
	}
	cs, err := n.ListCollectives(ctx)
	if err != nil {
		return nil, err
	}
	msgs, err := n.RecentMessages(ctx, recent)
	if err != nil {
		return nil, err
	}
	open, err := n.ListWork(ctx, true, 0)
	if err != nil {
		return nil, err
	}
	return &Status{
		Agents:         agents,
		Field:          snap,
		Collectives:    cs,
		RecentMessages: msgs,
		ActiveWork:     open,
		GeneratedAt:    n.Registry.Now(),
	}, nil
}

// Clear wipes every table. Admin only.
func (n *Network) Clear(ctx context.Context) error {
	if err := n.Registry.Clear(ctx); err != nil {
		return err
	}
	n.logger.Warn("network data cleared")
	return nil
}

// Ping checks the store.
func (n *Network) Ping(ctx context.Context) error {
	if err := n.Store.Ping(ctx); err != nil {
		return fmt.Errorf("store ping: %w", err)
	}
	return nil
}
