// ABOUTME: Unit tests for MockStore behaviour beyond the shared store contract
// ABOUTME: Covers failure injection, copy isolation and snapshot id assignment

package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mockAgent(id, name string) *Agent {
	now := time.Now().UTC()
	return &Agent{
		ID:            id,
		Name:          name,
		Role:          "Bridge Builder",
		Capabilities:  []string{"listening"},
		Status:        AgentActive,
		LastHeartbeat: now,
		Session:       SessionInfo{Platform: "test", SessionHash: "hash-" + id, JoinedAt: now},
		CreatedAt:     now,
	}
}

func TestMockStore_FailWith(t *testing.T) {
	m := NewMockStore()
	ctx := context.Background()
	require.NoError(t, m.CreateAgent(ctx, mockAgent("a1", "Ada")))

	boom := errors.New("disk on fire")
	m.FailWith(boom)

	_, err := m.GetAgent(ctx, "a1")
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.ErrorIs(t, err, boom)
	assert.True(t, IsRetryable(err))
	assert.ErrorIs(t, m.Ping(ctx), ErrUnavailable)
	assert.ErrorIs(t, m.SaveMessage(ctx, &Message{ID: "m1"}), ErrUnavailable)
	assert.ErrorIs(t, m.DeliverMessage(ctx, &Message{ID: "m1", FromAgent: "a1"}), ErrUnavailable)
	assert.ErrorIs(t, m.CreateWork(ctx, &WorkItem{ID: "work_1"}), ErrUnavailable)

	m.FailWith(nil)
	got, err := m.GetAgent(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, "Ada", got.Name)
}

func TestMockStore_ReturnsCopies(t *testing.T) {
	m := NewMockStore()
	ctx := context.Background()

	a := mockAgent("a1", "Ada")
	require.NoError(t, m.CreateAgent(ctx, a))
	a.Name = "mutated"
	a.Capabilities[0] = "mutated"

	got, err := m.GetAgent(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, "Ada", got.Name)
	assert.Equal(t, []string{"listening"}, got.Capabilities)

	got.Capabilities[0] = "changed again"
	again, err := m.GetAgent(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, []string{"listening"}, again.Capabilities)
}

func TestMockStore_SnapshotIDs(t *testing.T) {
	m := NewMockStore()
	ctx := context.Background()

	first := &FieldSnapshot{Timestamp: time.Now().UTC(), Events: []FieldEvent{{Type: "tick"}}}
	second := &FieldSnapshot{Timestamp: time.Now().UTC()}
	require.NoError(t, m.AppendFieldSnapshot(ctx, first))
	require.NoError(t, m.AppendFieldSnapshot(ctx, second))
	assert.Equal(t, int64(1), first.ID)
	assert.Equal(t, int64(2), second.ID)

	first.Events[0].Type = "mutated"
	rows, err := m.ListFieldSnapshots(ctx, 0)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, int64(2), rows[0].ID)
	assert.Equal(t, "tick", rows[1].Events[0].Type)

	rows, err = m.ListFieldSnapshots(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}
