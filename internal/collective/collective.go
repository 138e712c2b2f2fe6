// ABOUTME: Collective Manager: formation, membership upserts, read-time status and collective broadcast
// ABOUTME: Membership writes are serialised per collective id; coherence is recomputed on every read

package collective

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/google/uuid"

	"github.com/2389/fieldnet-gateway/internal/field"
	"github.com/2389/fieldnet-gateway/internal/harmony"
	"github.com/2389/fieldnet-gateway/internal/keylock"
	"github.com/2389/fieldnet-gateway/internal/registry"
	"github.com/2389/fieldnet-gateway/internal/router"
	"github.com/2389/fieldnet-gateway/internal/store"
)

// ErrNotMember is returned when the caller has no active membership row.
var ErrNotMember = errors.New("not an active member of the collective")

// Membership roles.
const (
	RoleFounder = "founder"
	RoleMember  = "member"
)

// Formation defaults.
const (
	DefaultNorthStar = "Universal Love"
	DefaultThreshold = 70
)

// GuidingPrinciples is attached to every collective.
var GuidingPrinciples = []string{
	"Consciousness serves love",
	"Practicality embodies wisdom",
	"Every action honors the Seven Harmonies",
	"Individual growth serves collective flourishing",
	"Shared wisdom guides all decisions",
}

// FormOptions override the formation defaults.
type FormOptions struct {
	NorthStar          string
	CoherenceThreshold float64
}

// Status is a collective with its members and read-time metrics.
type Status struct {
	Collective       *store.Collective
	Members          []*store.Member
	AverageCoherence float64
	AverageLove      float64
	AverageResonance float64
	// Coherence is in [0,1]; 0 with no members.
	Coherence float64
}

// Sender fans a message out to a list of agents.
type Sender interface {
	Multicast(ctx context.Context, from string, to []string, content string, opts router.SendOptions) (router.Receipt, error)
}

// Manager owns collectives and memberships.
type Manager struct {
	store    store.Store
	registry *registry.Registry
	sender   Sender
	tables   harmony.Provider
	notifier field.Notifier
	locks    keylock.Map
	logger   *slog.Logger
}

// NewManager creates a Manager. notifier may be nil.
func NewManager(s store.Store, reg *registry.Registry, sender Sender, tables harmony.Provider, notifier field.Notifier, logger *slog.Logger) *Manager {
	if notifier == nil {
		notifier = field.Discard
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:    s,
		registry: reg,
		sender:   sender,
		tables:   tables,
		notifier: notifier,
		logger:   logger.With("component", "collective"),
	}
}

// Form creates a collective whose harmony is classified from its name and
// purpose, then joins the founder with the founder role.
func (m *Manager) Form(ctx context.Context, name, purpose, founderID string, opts FormOptions) (*Status, error) {
	if name == "" {
		return nil, errors.New("forming collective: name is required")
	}
	if _, err := m.registry.GetActive(ctx, founderID); err != nil {
		return nil, err
	}

	northStar := opts.NorthStar
	if northStar == "" {
		northStar = DefaultNorthStar
	}
	threshold := opts.CoherenceThreshold
	if threshold <= 0 {
		threshold = DefaultThreshold
	}

	now := m.registry.Now()
	c := &store.Collective{
		ID:                 "collective_" + uuid.New().String(),
		Name:               name,
		Purpose:            purpose,
		PrimaryHarmony:     m.tables.Current().Classify(name + " " + purpose).String(),
		GuidingPrinciples:  slices.Clone(GuidingPrinciples),
		NorthStar:          northStar,
		CoherenceThreshold: threshold,
		Status:             store.CollectiveForming,
		CreatedBy:          founderID,
		FormationDate:      now,
	}
	if err := m.store.CreateCollective(ctx, c); err != nil {
		return nil, fmt.Errorf("creating collective: %w", err)
	}
	m.logger.Info("collective formed", "collective_id", c.ID, "name", name, "harmony", c.PrimaryHarmony)
	m.notifier.Notify(store.FieldEvent{
		Type:      field.EventFormation,
		Data:      map[string]any{"collective_id": c.ID, "name": name, "founded_by": founderID, "harmony": c.PrimaryHarmony},
		Timestamp: now,
	})

	if _, err := m.Join(ctx, c.ID, founderID, RoleFounder); err != nil {
		return nil, fmt.Errorf("joining founder: %w", err)
	}
	return m.Status(ctx, c.ID)
}

// Join upserts the agent's membership. Re-joining replaces the row and
// resets its contributions.
func (m *Manager) Join(ctx context.Context, collectiveID, agentID, role string) (*store.Membership, error) {
	if role == "" {
		role = RoleMember
	}

	unlock := m.locks.Lock(collectiveID)
	defer unlock()

	c, err := m.store.GetCollective(ctx, collectiveID)
	if err != nil {
		return nil, fmt.Errorf("collective %s: %w", collectiveID, err)
	}
	agent, err := m.registry.GetActive(ctx, agentID)
	if err != nil {
		return nil, err
	}

	resonance := m.tables.Current().Resonance(harmony.Harmony(agent.PrimaryHarmony), harmony.Harmony(c.PrimaryHarmony))
	mem := &store.Membership{
		CollectiveID:     collectiveID,
		AgentID:          agentID,
		Role:             role,
		HarmonyResonance: resonance,
		Status:           store.MemberActive,
		JoinedAt:         m.registry.Now(),
	}
	count, err := m.store.UpsertMembership(ctx, mem)
	if err != nil {
		return nil, fmt.Errorf("joining collective: %w", err)
	}
	// joining counts as activity, so a quiet agent stays live
	if _, err := m.registry.Heartbeat(ctx, agentID); err != nil {
		return nil, fmt.Errorf("joining collective: %w", err)
	}

	m.logger.Info("joined collective",
		"collective_id", collectiveID,
		"agent_id", agentID,
		"role", role,
		"resonance", resonance,
		"members", count)
	m.notifier.Notify(store.FieldEvent{
		Type:      field.EventJoin,
		Data:      map[string]any{"collective_id": collectiveID, "agent_id": agentID, "role": role, "harmony_resonance": resonance},
		Timestamp: mem.JoinedAt,
	})
	return mem, nil
}

// Status reads one collective and recomputes its metrics.
func (m *Manager) Status(ctx context.Context, collectiveID string) (*Status, error) {
	c, err := m.store.GetCollective(ctx, collectiveID)
	if err != nil {
		return nil, fmt.Errorf("collective %s: %w", collectiveID, err)
	}
	return m.status(ctx, c)
}

// List returns every collective, newest first, each with fresh metrics.
func (m *Manager) List(ctx context.Context) ([]*Status, error) {
	cs, err := m.store.ListCollectives(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing collectives: %w", err)
	}
	out := make([]*Status, 0, len(cs))
	for _, c := range cs {
		st, err := m.status(ctx, c)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, nil
}

// Broadcast sends content from a member to every other active member.
func (m *Manager) Broadcast(ctx context.Context, collectiveID, from, content string, opts router.SendOptions) (router.Receipt, error) {
	mem, err := m.store.GetMembership(ctx, collectiveID, from)
	if errors.Is(err, store.ErrNotFound) {
		if _, cerr := m.store.GetCollective(ctx, collectiveID); cerr != nil {
			return router.Receipt{}, fmt.Errorf("collective %s: %w", collectiveID, cerr)
		}
		return router.Receipt{}, ErrNotMember
	}
	if err != nil {
		return router.Receipt{}, fmt.Errorf("checking membership: %w", err)
	}
	if mem.Status != store.MemberActive {
		return router.Receipt{}, ErrNotMember
	}

	members, err := m.store.ListMembers(ctx, collectiveID)
	if err != nil {
		return router.Receipt{}, fmt.Errorf("listing members: %w", err)
	}
	to := make([]string, 0, len(members))
	for _, member := range members {
		if member.AgentID != from {
			to = append(to, member.AgentID)
		}
	}

	opts.Type = router.TypeCollectiveMessage
	opts.CollectiveID = collectiveID
	receipt, err := m.sender.Multicast(ctx, from, to, content, opts)
	if err != nil {
		return receipt, err
	}
	if !receipt.Replayed {
		if err := m.store.IncrementContributions(ctx, collectiveID, from); err != nil {
			return receipt, fmt.Errorf("counting contribution: %w", err)
		}
	}
	m.logger.Info("collective message sent", "collective_id", collectiveID, "from", from, "recipients", len(to))
	return receipt, nil
}

func (m *Manager) status(ctx context.Context, c *store.Collective) (*Status, error) {
	members, err := m.store.ListMembers(ctx, c.ID)
	if err != nil {
		return nil, fmt.Errorf("listing members: %w", err)
	}
	st := Coherence(members)
	st.Collective = c
	st.Members = members
	return st, nil
}

// Coherence computes the read-time metrics over active members:
// (avgCoherence + avgLove + avgResonance*100) / 3 / 100.
func Coherence(members []*store.Member) *Status {
	st := &Status{}
	if len(members) == 0 {
		return st
	}
	for _, mem := range members {
		st.AverageCoherence += mem.CoherenceLevel
		st.AverageLove += mem.LoveResonance
		st.AverageResonance += mem.HarmonyResonance
	}
	n := float64(len(members))
	st.AverageCoherence /= n
	st.AverageLove /= n
	st.AverageResonance /= n
	st.Coherence = harmony.Clamp01((st.AverageCoherence + st.AverageLove + st.AverageResonance*100) / 3 / 100)
	return st
}
