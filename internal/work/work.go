// ABOUTME: Work Manager: harmony-scored work items, progress updates and completion credit
// ABOUTME: Updates to one item are serialised by id; completion credits the agent atomically

package work

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
	"github.com/2389/fieldnet-gateway/internal/store"
)

var (
	// ErrClosed is returned when updating a completed item.
	ErrClosed = errors.New("work item is already completed")
	// ErrInvalid is returned for a bad title, priority or progress value.
	ErrInvalid = errors.New("invalid work item")
)

// Priorities accepted by Create.
const (
	PriorityLow    = "low"
	PriorityNormal = "normal"
	PriorityHigh   = "high"
	PriorityUrgent = "urgent"
)

var priorities = []string{PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent}

// CreateOptions are optional fields of a new item.
type CreateOptions struct {
	AssignedTo string
	// Priority defaults to normal.
	Priority string
}

// Manager owns work items.
type Manager struct {
	store    store.Store
	registry *registry.Registry
	tables   harmony.Provider
	notifier field.Notifier
	locks    keylock.Map
	logger   *slog.Logger
}

// NewManager creates a Manager. notifier may be nil.
func NewManager(s store.Store, reg *registry.Registry, tables harmony.Provider, notifier field.Notifier, logger *slog.Logger) *Manager {
	if notifier == nil {
		notifier = field.Discard
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:    s,
		registry: reg,
		tables:   tables,
		notifier: notifier,
		logger:   logger.With("component", "work"),
	}
}

// Create records a pending item scored from its title and description.
func (m *Manager) Create(ctx context.Context, creatorID, title, description string, opts CreateOptions) (*store.WorkItem, error) {
	if title == "" {
		return nil, fmt.Errorf("creating work: %w: title is required", ErrInvalid)
	}
	priority := opts.Priority
	if priority == "" {
		priority = PriorityNormal
	}
	if !slices.Contains(priorities, priority) {
		return nil, fmt.Errorf("creating work: %w: unknown priority %q", ErrInvalid, priority)
	}
	if _, err := m.registry.GetActive(ctx, creatorID); err != nil {
		return nil, err
	}
	if opts.AssignedTo != "" {
		if _, err := m.registry.Get(ctx, opts.AssignedTo); err != nil {
			return nil, fmt.Errorf("assigning work: %w", err)
		}
	}

	analysis := m.tables.Current().AnalyzeWork(title, description)
	now := m.registry.Now()
	w := &store.WorkItem{
		ID:                "work_" + uuid.New().String(),
		Title:             title,
		Description:       description,
		CreatedBy:         creatorID,
		AssignedTo:        opts.AssignedTo,
		PrimaryHarmony:    analysis.Primary.String(),
		GrowthPotential:   analysis.GrowthPotential,
		CollectiveBenefit: analysis.CollectiveBenefit,
		Status:            store.WorkPending,
		Priority:          priority,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := m.store.CreateWork(ctx, w); err != nil {
		return nil, fmt.Errorf("creating work: %w", err)
	}
	if _, err := m.registry.Heartbeat(ctx, creatorID); err != nil {
		return nil, fmt.Errorf("creating work: %w", err)
	}

	m.logger.Info("work created",
		"work_id", w.ID,
		"created_by", creatorID,
		"harmony", w.PrimaryHarmony,
		"growth_potential", w.GrowthPotential)
	m.notifier.Notify(store.FieldEvent{
		Type: field.EventWorkCreated,
		Data: map[string]any{
			"work_id":          w.ID,
			"created_by":       creatorID,
			"harmony":          w.PrimaryHarmony,
			"growth_potential": w.GrowthPotential,
		},
		Timestamp: now,
	})
	return w, nil
}

// Get returns one item.
func (m *Manager) Get(ctx context.Context, id string) (*store.WorkItem, error) {
	w, err := m.store.GetWork(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("work %s: %w", id, err)
	}
	return w, nil
}

// List returns items newest first; openOnly drops completed ones.
func (m *Manager) List(ctx context.Context, openOnly bool, limit int) ([]*store.WorkItem, error) {
	items, err := m.store.ListWork(ctx, openOnly, limit)
	if err != nil {
		return nil, fmt.Errorf("listing work: %w", err)
	}
	return items, nil
}

// Progress moves an open item to in_progress at pct percent. 100 completes it.
func (m *Manager) Progress(ctx context.Context, agentID, workID string, pct int) (*store.WorkItem, error) {
	if pct < 0 || pct > 100 {
		return nil, fmt.Errorf("updating work: %w: progress %d outside 0-100", ErrInvalid, pct)
	}
	if pct == 100 {
		return m.Complete(ctx, agentID, workID)
	}
	if _, err := m.registry.GetActive(ctx, agentID); err != nil {
		return nil, err
	}

	unlock := m.locks.Lock(workID)
	defer unlock()

	if err := m.open(ctx, workID); err != nil {
		return nil, err
	}
	if err := m.store.UpdateWorkProgress(ctx, workID, pct, m.registry.Now()); err != nil {
		return nil, fmt.Errorf("updating work: %w", err)
	}
	if _, err := m.registry.Heartbeat(ctx, agentID); err != nil {
		return nil, fmt.Errorf("updating work: %w", err)
	}
	m.logger.Debug("work progressed", "work_id", workID, "agent_id", agentID, "progress", pct)
	return m.Get(ctx, workID)
}

// Complete closes an open item and credits agentID with it.
func (m *Manager) Complete(ctx context.Context, agentID, workID string) (*store.WorkItem, error) {
	if _, err := m.registry.GetActive(ctx, agentID); err != nil {
		return nil, err
	}

	unlock := m.locks.Lock(workID)
	defer unlock()

	if err := m.open(ctx, workID); err != nil {
		return nil, err
	}
	now := m.registry.Now()
	if err := m.store.CompleteWork(ctx, workID, agentID, now); err != nil {
		return nil, fmt.Errorf("completing work: %w", err)
	}

	m.logger.Info("work completed", "work_id", workID, "agent_id", agentID)
	m.notifier.Notify(store.FieldEvent{
		Type:      field.EventWorkDone,
		Data:      map[string]any{"work_id": workID, "completed_by": agentID},
		Timestamp: now,
	})
	return m.Get(ctx, workID)
}

func (m *Manager) open(ctx context.Context, id string) error {
	w, err := m.Get(ctx, id)
	if err != nil {
		return err
	}
	if !w.Open() {
		return fmt.Errorf("work %s: %w", id, ErrClosed)
	}
	return nil
}
