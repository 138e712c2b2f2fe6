// ABOUTME: Tests for the Work Manager over the in-memory store
// ABOUTME: Covers scoring on create, progress rules, completion credit and field events

package work

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/fieldnet-gateway/internal/field"
	"github.com/2389/fieldnet-gateway/internal/harmony"
	"github.com/2389/fieldnet-gateway/internal/registry"
	"github.com/2389/fieldnet-gateway/internal/store"
)

type recorder struct {
	mu     sync.Mutex
	events []store.FieldEvent
}

func (r *recorder) Notify(ev store.FieldEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, ev := range r.events {
		out = append(out, ev.Type)
	}
	return out
}

type harness struct {
	store    *store.MockStore
	registry *registry.Registry
	manager  *Manager
	rec      *recorder
	now      time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		store: store.NewMockStore(),
		rec:   &recorder{},
		now:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	h.registry = registry.New(h.store, registry.WithClock(func() time.Time { return h.now }))
	h.manager = NewManager(h.store, h.registry, harmony.DefaultTables(), h.rec, nil)
	return h
}

func (h *harness) join(t *testing.T, name string) *store.Agent {
	t.Helper()
	a, err := h.registry.Register(context.Background(), registry.RegisterRequest{
		Name:    name,
		Session: store.SessionInfo{SessionHash: name},
	})
	require.NoError(t, err)
	return a
}

func TestCreate_ScoresAndDefaults(t *testing.T) {
	h := newHarness(t)
	alice := h.join(t, "Alice")
	h.now = h.now.Add(time.Minute)

	w, err := h.manager.Create(context.Background(), alice.ID, "Unify the architecture", "system integration", CreateOptions{})
	require.NoError(t, err)

	assert.Contains(t, w.ID, "work_")
	assert.Equal(t, harmony.ResonantCoherence.String(), w.PrimaryHarmony)
	assert.InDelta(t, 0.3, w.GrowthPotential, 1e-9)
	assert.Equal(t, "System-Wide", w.CollectiveBenefit)
	assert.Equal(t, store.WorkPending, w.Status)
	assert.Equal(t, PriorityNormal, w.Priority)
	assert.Equal(t, alice.ID, w.CreatedBy)

	got, err := h.registry.Get(context.Background(), alice.ID)
	require.NoError(t, err)
	assert.Equal(t, h.now, got.LastHeartbeat, "creating work counts as activity")

	assert.Equal(t, []string{field.EventWorkCreated}, h.rec.types())
	assert.Equal(t, w.ID, h.rec.events[0].Data["work_id"])
}

func TestCreate_Validation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alice := h.join(t, "Alice")

	_, err := h.manager.Create(ctx, alice.ID, "", "", CreateOptions{})
	assert.ErrorIs(t, err, ErrInvalid)

	_, err = h.manager.Create(ctx, alice.ID, "Docs", "", CreateOptions{Priority: "whenever"})
	assert.ErrorIs(t, err, ErrInvalid)

	_, err = h.manager.Create(ctx, "agent_ghost", "Docs", "", CreateOptions{})
	assert.ErrorIs(t, err, registry.ErrNotRegistered)

	_, err = h.manager.Create(ctx, alice.ID, "Docs", "", CreateOptions{AssignedTo: "agent_ghost"})
	assert.ErrorIs(t, err, registry.ErrNotRegistered)

	require.NoError(t, h.registry.Deactivate(ctx, alice.ID))
	_, err = h.manager.Create(ctx, alice.ID, "Docs", "", CreateOptions{})
	assert.ErrorIs(t, err, registry.ErrNotRegistered)

	assert.Empty(t, h.rec.types())
}

func TestProgress(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alice := h.join(t, "Alice")
	bob := h.join(t, "Bob")

	w, err := h.manager.Create(ctx, alice.ID, "Docs", "", CreateOptions{AssignedTo: bob.ID, Priority: PriorityHigh})
	require.NoError(t, err)

	got, err := h.manager.Progress(ctx, bob.ID, w.ID, 40)
	require.NoError(t, err)
	assert.Equal(t, store.WorkInProgress, got.Status)
	assert.Equal(t, 40, got.Progress)
	assert.Equal(t, bob.ID, got.AssignedTo)

	_, err = h.manager.Progress(ctx, bob.ID, w.ID, 101)
	assert.ErrorIs(t, err, ErrInvalid)
	_, err = h.manager.Progress(ctx, bob.ID, "work_missing", 10)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestComplete_CreditsAgent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alice := h.join(t, "Alice")
	bob := h.join(t, "Bob")

	w, err := h.manager.Create(ctx, alice.ID, "Docs", "", CreateOptions{})
	require.NoError(t, err)

	h.now = h.now.Add(time.Minute)
	done, err := h.manager.Progress(ctx, bob.ID, w.ID, 100)
	require.NoError(t, err)
	assert.Equal(t, store.WorkCompleted, done.Status)
	assert.Equal(t, 100, done.Progress)
	assert.Equal(t, bob.ID, done.CompletedBy)
	assert.Equal(t, h.now, done.CompletedAt)

	credited, err := h.registry.Get(ctx, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, credited.WorkCompleted)
	assert.Equal(t, h.now, credited.LastHeartbeat)

	creator, err := h.registry.Get(ctx, alice.ID)
	require.NoError(t, err)
	assert.Zero(t, creator.WorkCompleted)

	_, err = h.manager.Complete(ctx, bob.ID, w.ID)
	assert.ErrorIs(t, err, ErrClosed)
	_, err = h.manager.Progress(ctx, bob.ID, w.ID, 10)
	assert.ErrorIs(t, err, ErrClosed)

	assert.Equal(t, []string{field.EventWorkCreated, field.EventWorkDone}, h.rec.types())
}

func TestComplete_ConcurrentCreditsOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alice := h.join(t, "Alice")
	w, err := h.manager.Create(ctx, alice.ID, "Docs", "", CreateOptions{})
	require.NoError(t, err)

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := h.manager.Complete(ctx, alice.ID, w.ID); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	a, err := h.registry.Get(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, a.WorkCompleted)
}

func TestList_OpenOnly(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alice := h.join(t, "Alice")

	first, err := h.manager.Create(ctx, alice.ID, "First", "", CreateOptions{})
	require.NoError(t, err)
	h.now = h.now.Add(time.Second)
	second, err := h.manager.Create(ctx, alice.ID, "Second", "", CreateOptions{})
	require.NoError(t, err)
	_, err = h.manager.Complete(ctx, alice.ID, first.ID)
	require.NoError(t, err)

	all, err := h.manager.List(ctx, false, 0)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, second.ID, all[0].ID, "newest first")

	open, err := h.manager.List(ctx, true, 0)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, second.ID, open[0].ID)
}
