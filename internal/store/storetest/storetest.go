// ABOUTME: Behavioural test suite shared by every Store implementation
// ABOUTME: Run it from each backend's tests so SQLite, Postgres and the mock agree

package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/fieldnet-gateway/internal/store"
)

// Factory returns a fresh, empty store. The suite closes it.
type Factory func(t *testing.T) store.Store

// Run executes the full contract against stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s store.Store)
	}{
		{"AgentRoundTrip", testAgentRoundTrip},
		{"ActiveSessionUnique", testActiveSessionUnique},
		{"FindActiveAgentByName", testFindActiveAgentByName},
		{"FindActiveAgentBySession", testFindActiveAgentBySession},
		{"ListLiveAgentsWindow", testListLiveAgentsWindow},
		{"TouchAgentMonotonic", testTouchAgentMonotonic},
		{"DeliverMessage", testDeliverMessage},
		{"DeliverMessageUnknownSender", testDeliverMessageUnknownSender},
		{"UnknownAgentUpdates", testUnknownAgentUpdates},
		{"Messages", testMessages},
		{"MembershipUpsert", testMembershipUpsert},
		{"MembershipRequiresRows", testMembershipRequiresRows},
		{"ConcurrentMembershipUpsert", testConcurrentMembershipUpsert},
		{"WorkLifecycle", testWorkLifecycle},
		{"CompleteWorkAtomic", testCompleteWorkAtomic},
		{"FieldLog", testFieldLog},
		{"ClearAll", testClearAll},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStore(t)
			t.Cleanup(func() { _ = s.Close() })
			tt.fn(t, s)
		})
	}
}

// base is a fixed reference time with millisecond precision.
var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// NewAgent builds an active agent for tests.
func NewAgent(id, name, sessionHash string, heartbeat time.Time) *store.Agent {
	return &store.Agent{
		ID:             id,
		Name:           name,
		Role:           "Bridge Builder",
		Capabilities:   []string{"bridging", "listening"},
		CoherenceLevel: 85,
		LoveResonance:  80,
		FieldCoherence: 0.82,
		PrimaryHarmony: "sacred-reciprocity",
		Status:         store.AgentActive,
		LastHeartbeat:  heartbeat,
		Session: store.SessionInfo{
			Platform:    "test",
			SessionHash: sessionHash,
			JoinedAt:    heartbeat,
		},
		CreatedAt: heartbeat,
	}
}

func newMessage(id, from, to string, at time.Time) *store.Message {
	return &store.Message{
		ID:           id,
		FromAgent:    from,
		ToAgent:      to,
		Content:      "hello " + to,
		Type:         "collaboration",
		Harmony:      "universal-interconnectedness",
		FieldImpact:  0.1,
		LoveQuotient: 0.5,
		Priority:     "normal",
		CreatedAt:    at,
	}
}

func newCollective(id, founder string, at time.Time) *store.Collective {
	return &store.Collective{
		ID:                 id,
		Name:               "Circle " + id,
		Purpose:            "testing",
		PrimaryHarmony:     "resonant-coherence",
		GuidingPrinciples:  []string{"one", "two"},
		NorthStar:          "Universal Love",
		CoherenceThreshold: 70,
		Status:             store.CollectiveForming,
		CreatedBy:          founder,
		FormationDate:      at,
	}
}

func testAgentRoundTrip(t *testing.T, s store.Store) {
	ctx := context.Background()
	want := NewAgent("agent_1", "Alice", "hash-a", base)
	want.FieldImpactGiven = 0.25
	require.NoError(t, s.CreateAgent(ctx, want))

	got, err := s.GetAgent(ctx, "agent_1")
	require.NoError(t, err)
	assert.Equal(t, "Alice", got.Name)
	assert.Equal(t, []string{"bridging", "listening"}, got.Capabilities)
	assert.Equal(t, 85.0, got.CoherenceLevel)
	assert.Equal(t, "sacred-reciprocity", got.PrimaryHarmony)
	assert.True(t, got.LastHeartbeat.Equal(base), "heartbeat %v", got.LastHeartbeat)
	assert.True(t, got.CreatedAt.Equal(base))
	assert.Equal(t, "hash-a", got.Session.SessionHash)
	assert.Equal(t, "test", got.Session.Platform)
	assert.InDelta(t, 0.25, got.FieldImpactGiven, 1e-9)

	_, err = s.GetAgent(ctx, "agent_missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testActiveSessionUnique(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.CreateAgent(ctx, NewAgent("agent_1", "Alice", "hash-a", base)))

	err := s.CreateAgent(ctx, NewAgent("agent_2", "Alice", "hash-a", base))
	assert.ErrorIs(t, err, store.ErrDuplicate, "second active row for same name+session must be rejected")

	// a different session may share the name
	require.NoError(t, s.CreateAgent(ctx, NewAgent("agent_3", "Alice", "hash-b", base)))

	// once the first row is inactive the session may register again
	require.NoError(t, s.SetAgentStatus(ctx, "agent_1", store.AgentInactive))
	require.NoError(t, s.CreateAgent(ctx, NewAgent("agent_4", "Alice", "hash-a", base)))
}

func testFindActiveAgentByName(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.CreateAgent(ctx, NewAgent("agent_old", "Bob", "h1", base)))
	require.NoError(t, s.CreateAgent(ctx, NewAgent("agent_new", "Bob", "h2", base.Add(time.Minute))))
	inactive := NewAgent("agent_gone", "Bob", "h3", base.Add(time.Hour))
	inactive.Status = store.AgentInactive
	require.NoError(t, s.CreateAgent(ctx, inactive))

	got, err := s.FindActiveAgentByName(ctx, "Bob")
	require.NoError(t, err)
	assert.Equal(t, "agent_new", got.ID)

	_, err = s.FindActiveAgentByName(ctx, "Nobody")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testFindActiveAgentBySession(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.CreateAgent(ctx, NewAgent("agent_mine", "Bob", "h1", base)))
	require.NoError(t, s.CreateAgent(ctx, NewAgent("agent_other", "Bob", "h2", base.Add(time.Minute))))
	retired := NewAgent("agent_retired", "Bob", "h3", base)
	retired.Status = store.AgentInactive
	require.NoError(t, s.CreateAgent(ctx, retired))

	got, err := s.FindActiveAgentBySession(ctx, "Bob", "h1")
	require.NoError(t, err)
	assert.Equal(t, "agent_mine", got.ID, "must not fall back to the newest row for the name")

	_, err = s.FindActiveAgentBySession(ctx, "Bob", "h3")
	assert.ErrorIs(t, err, store.ErrNotFound, "inactive rows are not found")
	_, err = s.FindActiveAgentBySession(ctx, "Carol", "h1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func newWork(id, creator string, at time.Time) *store.WorkItem {
	return &store.WorkItem{
		ID:                id,
		Title:             "Document " + id,
		Description:       "clear documentation",
		CreatedBy:         creator,
		PrimaryHarmony:    "integral-wisdom-cultivation",
		GrowthPotential:   0.5,
		CollectiveBenefit: "Individual",
		Status:            store.WorkPending,
		Priority:          "normal",
		CreatedAt:         at,
		UpdatedAt:         at,
	}
}

func testWorkLifecycle(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.CreateAgent(ctx, NewAgent("agent_1", "A", "h1", base)))
	require.NoError(t, s.CreateWork(ctx, newWork("work_1", "agent_1", base)))
	require.NoError(t, s.CreateWork(ctx, newWork("work_2", "agent_1", base.Add(time.Second))))
	assert.ErrorIs(t, s.CreateWork(ctx, newWork("work_1", "agent_1", base)), store.ErrDuplicate)

	got, err := s.GetWork(ctx, "work_1")
	require.NoError(t, err)
	assert.Equal(t, "Document work_1", got.Title)
	assert.Equal(t, store.WorkPending, got.Status)
	assert.InDelta(t, 0.5, got.GrowthPotential, 1e-9)
	assert.True(t, got.CreatedAt.Equal(base))
	assert.True(t, got.CompletedAt.IsZero())

	require.NoError(t, s.UpdateWorkProgress(ctx, "work_1", 40, base.Add(time.Minute)))
	got, err = s.GetWork(ctx, "work_1")
	require.NoError(t, err)
	assert.Equal(t, 40, got.Progress)
	assert.Equal(t, store.WorkInProgress, got.Status)
	assert.True(t, got.UpdatedAt.Equal(base.Add(time.Minute)))

	require.NoError(t, s.CompleteWork(ctx, "work_1", "agent_1", base.Add(2*time.Minute)))
	got, err = s.GetWork(ctx, "work_1")
	require.NoError(t, err)
	assert.Equal(t, store.WorkCompleted, got.Status)
	assert.Equal(t, 100, got.Progress)
	assert.Equal(t, "agent_1", got.CompletedBy)
	assert.True(t, got.CompletedAt.Equal(base.Add(2*time.Minute)))

	agent, err := s.GetAgent(ctx, "agent_1")
	require.NoError(t, err)
	assert.Equal(t, 1, agent.WorkCompleted)
	assert.True(t, agent.LastHeartbeat.Equal(base.Add(2*time.Minute)), "completion is a write by the agent")

	assert.ErrorIs(t, s.UpdateWorkProgress(ctx, "work_1", 50, base), store.ErrNotFound, "completed items take no progress")
	assert.ErrorIs(t, s.CompleteWork(ctx, "work_1", "agent_1", base), store.ErrNotFound)

	open, err := s.ListWork(ctx, true, 0)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "work_2", open[0].ID)

	all, err := s.ListWork(ctx, false, 0)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "work_2", all[0].ID, "newest first")

	limited, err := s.ListWork(ctx, false, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	_, err = s.GetWork(ctx, "work_9")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testCompleteWorkAtomic(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.CreateAgent(ctx, NewAgent("agent_1", "A", "h1", base)))
	require.NoError(t, s.CreateWork(ctx, newWork("work_1", "agent_1", base)))

	assert.ErrorIs(t, s.CompleteWork(ctx, "work_1", "agent_missing", base.Add(time.Minute)), store.ErrNotFound)

	got, err := s.GetWork(ctx, "work_1")
	require.NoError(t, err)
	assert.Equal(t, store.WorkPending, got.Status, "a failed credit must leave the item open")
	assert.Empty(t, got.CompletedBy)
}

func testListLiveAgentsWindow(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.CreateAgent(ctx, NewAgent("agent_fresh", "A", "h1", base)))
	require.NoError(t, s.CreateAgent(ctx, NewAgent("agent_stale", "B", "h2", base.Add(-10*time.Minute))))
	left := NewAgent("agent_left", "C", "h3", base)
	left.Status = store.AgentInactive
	require.NoError(t, s.CreateAgent(ctx, left))

	live, err := s.ListLiveAgents(ctx, base.Add(-5*time.Minute))
	require.NoError(t, err)
	require.Len(t, live, 1)
	assert.Equal(t, "agent_fresh", live[0].ID)

	live, err = s.ListLiveAgents(ctx, base.Add(-time.Hour))
	require.NoError(t, err)
	assert.Len(t, live, 2)
}

func testTouchAgentMonotonic(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.CreateAgent(ctx, NewAgent("agent_1", "A", "h1", base)))

	require.NoError(t, s.TouchAgent(ctx, "agent_1", base.Add(time.Minute)))
	require.NoError(t, s.TouchAgent(ctx, "agent_1", base.Add(-time.Minute)))

	got, err := s.GetAgent(ctx, "agent_1")
	require.NoError(t, err)
	assert.True(t, got.LastHeartbeat.Equal(base.Add(time.Minute)), "heartbeat moved backwards to %v", got.LastHeartbeat)

	info := got.Session
	info.ReconnectedAt = base.Add(2 * time.Minute)
	require.NoError(t, s.UpdateAgentSession(ctx, "agent_1", info, base.Add(2*time.Minute)))
	got, err = s.GetAgent(ctx, "agent_1")
	require.NoError(t, err)
	assert.True(t, got.LastHeartbeat.Equal(base.Add(2*time.Minute)))
	assert.True(t, got.Session.ReconnectedAt.Equal(base.Add(2*time.Minute)))
}

func testDeliverMessage(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.CreateAgent(ctx, NewAgent("agent_1", "A", "h1", base)))

	first := newMessage("msg_1", "agent_1", "agent_2", base.Add(time.Second))
	first.FieldImpact = 0.6
	second := newMessage("msg_2", "agent_1", "agent_2", base.Add(2*time.Second))
	second.FieldImpact = 0.3
	require.NoError(t, s.DeliverMessage(ctx, first))
	require.NoError(t, s.DeliverMessage(ctx, second))

	got, err := s.GetAgent(ctx, "agent_1")
	require.NoError(t, err)
	assert.Equal(t, 2, got.MessagesSent)
	assert.InDelta(t, 0.9, got.FieldImpactGiven, 1e-9)
	assert.True(t, got.LastHeartbeat.Equal(base.Add(2*time.Second)))

	inbox, err := s.ListInbox(ctx, "agent_2", time.Time{}, 0)
	require.NoError(t, err)
	assert.Len(t, inbox, 2)

	// a duplicate id leaves the counters alone
	assert.ErrorIs(t, s.DeliverMessage(ctx, first), store.ErrDuplicate)
	got, err = s.GetAgent(ctx, "agent_1")
	require.NoError(t, err)
	assert.Equal(t, 2, got.MessagesSent)
}

func testDeliverMessageUnknownSender(t *testing.T, s store.Store) {
	ctx := context.Background()
	err := s.DeliverMessage(ctx, newMessage("msg_1", "agent_x", "agent_2", base))
	assert.ErrorIs(t, err, store.ErrNotFound)

	msgs, err := s.ListMessagesSince(ctx, time.Time{}, 0)
	require.NoError(t, err)
	assert.Empty(t, msgs, "a failed delivery must not leave a message row")
}

func testUnknownAgentUpdates(t *testing.T, s store.Store) {
	ctx := context.Background()
	assert.ErrorIs(t, s.TouchAgent(ctx, "agent_x", base), store.ErrNotFound)
	assert.ErrorIs(t, s.SetAgentStatus(ctx, "agent_x", store.AgentInactive), store.ErrNotFound)
	assert.ErrorIs(t, s.UpdateWorkProgress(ctx, "work_x", 10, base), store.ErrNotFound)
}

func testMessages(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.SaveMessage(ctx, newMessage("msg_1", "a", "b", base)))
	require.NoError(t, s.SaveMessage(ctx, newMessage("msg_2", "c", "b", base.Add(time.Second))))
	require.NoError(t, s.SaveMessage(ctx, newMessage("msg_3", "b", "a", base.Add(2*time.Second))))
	collective := newMessage("msg_4", "a", "b", base.Add(3*time.Second))
	collective.CollectiveID = "collective_1"
	collective.ResponseNeeded = true
	require.NoError(t, s.SaveMessage(ctx, collective))

	assert.ErrorIs(t, s.SaveMessage(ctx, newMessage("msg_1", "a", "b", base)), store.ErrDuplicate)

	inbox, err := s.ListInbox(ctx, "b", time.Time{}, 0)
	require.NoError(t, err)
	require.Len(t, inbox, 3)
	assert.Equal(t, "msg_4", inbox[0].ID, "newest first")
	assert.Equal(t, "collective_1", inbox[0].CollectiveID)
	assert.True(t, inbox[0].ResponseNeeded)

	inbox, err = s.ListInbox(ctx, "b", base, 0)
	require.NoError(t, err)
	assert.Len(t, inbox, 2, "since is exclusive")

	inbox, err = s.ListInbox(ctx, "b", time.Time{}, 1)
	require.NoError(t, err)
	assert.Len(t, inbox, 1)

	conv, err := s.ListConversation(ctx, "a", 0)
	require.NoError(t, err)
	assert.Len(t, conv, 3)

	recent, err := s.ListMessagesSince(ctx, base.Add(500*time.Millisecond), 0)
	require.NoError(t, err)
	assert.Len(t, recent, 3)
	assert.True(t, recent[0].CreatedAt.Equal(base.Add(3*time.Second)))
}

func testMembershipUpsert(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.CreateAgent(ctx, NewAgent("agent_1", "A", "h1", base)))
	require.NoError(t, s.CreateAgent(ctx, NewAgent("agent_2", "B", "h2", base)))
	require.NoError(t, s.CreateCollective(ctx, newCollective("collective_1", "agent_1", base)))

	join := func(agentID, role string, resonance float64) int {
		n, err := s.UpsertMembership(ctx, &store.Membership{
			CollectiveID:     "collective_1",
			AgentID:          agentID,
			Role:             role,
			HarmonyResonance: resonance,
			Status:           store.MemberActive,
			JoinedAt:         base,
		})
		require.NoError(t, err)
		return n
	}

	assert.Equal(t, 1, join("agent_1", "founder", 1.0))
	assert.Equal(t, 1, join("agent_1", "founder", 1.0), "re-join must not add a row")
	assert.Equal(t, 2, join("agent_2", "member", 0.6))
	assert.Equal(t, 2, join("agent_2", "weaver", 0.8))

	c, err := s.GetCollective(ctx, "collective_1")
	require.NoError(t, err)
	assert.Equal(t, 2, c.MemberCount)
	assert.Equal(t, []string{"one", "two"}, c.GuidingPrinciples)

	mem, err := s.GetMembership(ctx, "collective_1", "agent_2")
	require.NoError(t, err)
	assert.Equal(t, "weaver", mem.Role, "re-join replaces the row")
	assert.InDelta(t, 0.8, mem.HarmonyResonance, 1e-9)

	members, err := s.ListMembers(ctx, "collective_1")
	require.NoError(t, err)
	require.Len(t, members, 2)
	assert.Equal(t, "A", members[0].AgentName)
	assert.Equal(t, 85.0, members[0].CoherenceLevel)

	require.NoError(t, s.IncrementContributions(ctx, "collective_1", "agent_1"))
	mem, err = s.GetMembership(ctx, "collective_1", "agent_1")
	require.NoError(t, err)
	assert.Equal(t, 1, mem.Contributions)

	list, err := s.ListCollectives(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 2, list[0].MemberCount)

	_, err = s.GetMembership(ctx, "collective_1", "agent_9")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.GetCollective(ctx, "collective_9")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testMembershipRequiresRows(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.CreateAgent(ctx, NewAgent("agent_1", "A", "h1", base)))

	_, err := s.UpsertMembership(ctx, &store.Membership{
		CollectiveID: "collective_missing",
		AgentID:      "agent_1",
		Role:         "member",
		Status:       store.MemberActive,
		JoinedAt:     base,
	})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testConcurrentMembershipUpsert(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.CreateAgent(ctx, NewAgent("agent_1", "A", "h1", base)))
	require.NoError(t, s.CreateCollective(ctx, newCollective("collective_1", "agent_1", base)))

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.UpsertMembership(ctx, &store.Membership{
				CollectiveID: "collective_1",
				AgentID:      "agent_1",
				Role:         fmt.Sprintf("role-%d", i),
				Status:       store.MemberActive,
				JoinedAt:     base,
			})
			if err != nil && !errors.Is(err, store.ErrUnavailable) {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("unexpected upsert error: %v", err)
	}

	members, err := s.ListMembers(ctx, "collective_1")
	require.NoError(t, err)
	assert.Len(t, members, 1)
}

func testFieldLog(t *testing.T, s store.Store) {
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		snap := &store.FieldSnapshot{
			Timestamp:           base.Add(time.Duration(i) * time.Second),
			ActiveAgents:        i,
			AverageCoherence:    85,
			LoveFieldStrength:   0.8,
			CollectiveCoherence: 0.5 + float64(i)/10,
			DominantHarmony:     "infinite-play",
			Pattern:             "seed",
			Events: []store.FieldEvent{{
				Type:      "agent_joined",
				Data:      map[string]any{"agent_id": "agent_1"},
				Timestamp: base,
			}},
		}
		require.NoError(t, s.AppendFieldSnapshot(ctx, snap))
		assert.NotZero(t, snap.ID)
	}

	snaps, err := s.ListFieldSnapshots(ctx, 2)
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	assert.Equal(t, 2, snaps[0].ActiveAgents, "newest first")
	assert.Equal(t, "seed", snaps[0].Pattern)
	require.Len(t, snaps[0].Events, 1)
	assert.Equal(t, "agent_joined", snaps[0].Events[0].Type)
	assert.Equal(t, "agent_1", snaps[0].Events[0].Data["agent_id"])
}

func testClearAll(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.CreateAgent(ctx, NewAgent("agent_1", "A", "h1", base)))
	require.NoError(t, s.CreateCollective(ctx, newCollective("collective_1", "agent_1", base)))
	_, err := s.UpsertMembership(ctx, &store.Membership{
		CollectiveID: "collective_1", AgentID: "agent_1", Role: "founder", Status: store.MemberActive, JoinedAt: base,
	})
	require.NoError(t, err)
	require.NoError(t, s.SaveMessage(ctx, newMessage("msg_1", "agent_1", "agent_1", base)))
	require.NoError(t, s.CreateWork(ctx, newWork("work_1", "agent_1", base)))
	require.NoError(t, s.AppendFieldSnapshot(ctx, &store.FieldSnapshot{Timestamp: base, DominantHarmony: "none"}))

	require.NoError(t, s.ClearAll(ctx))

	_, err = s.GetAgent(ctx, "agent_1")
	assert.ErrorIs(t, err, store.ErrNotFound)
	list, err := s.ListCollectives(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
	msgs, err := s.ListMessagesSince(ctx, time.Time{}, 0)
	require.NoError(t, err)
	assert.Empty(t, msgs)
	work, err := s.ListWork(ctx, false, 0)
	require.NoError(t, err)
	assert.Empty(t, work)
	snaps, err := s.ListFieldSnapshots(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, snaps)
}
