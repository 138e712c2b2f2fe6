// ABOUTME: Tests for the Field Aggregator over the in-memory store
// ABOUTME: Covers read-only Current, log appends, trigger coalescing and polling

package field

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/fieldnet-gateway/internal/harmony"
	"github.com/2389/fieldnet-gateway/internal/store"
	"github.com/2389/fieldnet-gateway/internal/store/storetest"
)

type capture struct {
	mu   sync.Mutex
	rows []*store.FieldSnapshot
}

func (c *capture) PublishField(row *store.FieldSnapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rows = append(c.rows, row)
}

func (c *capture) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.rows)
}

func newTestAggregator(t *testing.T, poll time.Duration) (*Aggregator, *store.MockStore, *capture) {
	t.Helper()
	s := store.NewMockStore()
	pub := &capture{}
	agg := NewAggregator(s, AggregatorConfig{
		PollInterval: poll,
		Publisher:    pub,
		Now:          func() time.Time { return now },
	})
	return agg, s, pub
}

func TestAggregator_CurrentDoesNotWrite(t *testing.T) {
	agg, s, pub := newTestAggregator(t, time.Hour)
	ctx := context.Background()
	require.NoError(t, s.CreateAgent(ctx, storetest.NewAgent("agent_1", "Alice", "h", now)))

	snap, err := agg.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, PatternSeed, snap.Pattern)
	assert.InDelta(t, 0.835, snap.Coherence, 1e-9)

	rows, err := agg.History(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, rows)
	assert.Equal(t, 0, pub.count())
}

func TestAggregator_ExcludesStaleAgents(t *testing.T) {
	agg, s, _ := newTestAggregator(t, time.Hour)
	ctx := context.Background()
	require.NoError(t, s.CreateAgent(ctx, storetest.NewAgent("agent_1", "Alice", "h1", now)))
	require.NoError(t, s.CreateAgent(ctx, storetest.NewAgent("agent_2", "Bob", "h2", now.Add(-6*time.Minute))))

	snap, err := agg.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, snap.ActiveAgents)
}

func TestAggregator_RecordAppendsAndPublishes(t *testing.T) {
	agg, s, pub := newTestAggregator(t, time.Hour)
	ctx := context.Background()
	require.NoError(t, s.CreateAgent(ctx, storetest.NewAgent("agent_1", "Alice", "h1", now)))
	require.NoError(t, s.CreateAgent(ctx, storetest.NewAgent("agent_2", "Bob", "h2", now)))

	row, err := agg.Record(ctx, []store.FieldEvent{{Type: EventRegistration, Timestamp: now}})
	require.NoError(t, err)
	assert.Equal(t, 2, row.ActiveAgents)
	assert.Equal(t, harmony.SacredReciprocity.String(), row.DominantHarmony)
	assert.Equal(t, PatternConvergence, row.Pattern)

	rows, err := agg.History(ctx, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, EventRegistration, rows[0].Events[0].Type)
	assert.Equal(t, 1, pub.count())
}

func TestAggregator_StoreUnavailable(t *testing.T) {
	agg, s, _ := newTestAggregator(t, time.Hour)
	s.FailWith(errors.New("busy"))

	_, err := agg.Record(context.Background(), nil)
	assert.True(t, store.IsRetryable(err))
}

func TestAggregator_TriggerCoalesces(t *testing.T) {
	agg, _, pub := newTestAggregator(t, time.Hour)

	// triggers before Run starts fold into one pending recompute
	for range 5 {
		agg.Trigger(store.FieldEvent{Type: EventMessage})
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- agg.Run(ctx) }()

	assert.Eventually(t, func() bool { return pub.count() == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	pub.mu.Lock()
	defer pub.mu.Unlock()
	assert.Len(t, pub.rows[0].Events, 5)
}

func TestAggregator_TriggerBoundsEvents(t *testing.T) {
	agg, _, _ := newTestAggregator(t, time.Hour)

	for range maxPendingEvents + 3 {
		agg.Notify(store.FieldEvent{Type: EventMessage})
	}

	agg.mu.Lock()
	defer agg.mu.Unlock()
	assert.Len(t, agg.pending, maxPendingEvents)
	assert.Equal(t, 3, agg.dropped)
}

func TestAggregator_PollsWithoutEvents(t *testing.T) {
	agg, _, pub := newTestAggregator(t, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = agg.Run(ctx) }()

	assert.Eventually(t, func() bool { return pub.count() >= 2 }, 2*time.Second, 5*time.Millisecond)

	pub.mu.Lock()
	defer pub.mu.Unlock()
	assert.Equal(t, PatternVoid, pub.rows[0].Pattern)
	assert.Equal(t, EventTick, pub.rows[0].Events[0].Type)
}
