// ABOUTME: End-to-end tests for the assembled network over a SQLite file store
// ABOUTME: Covers join and reconnect, direct and collective messaging, field snapshots and status

package network

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/fieldnet-gateway/internal/collective"
	"github.com/2389/fieldnet-gateway/internal/config"
	"github.com/2389/fieldnet-gateway/internal/field"
	"github.com/2389/fieldnet-gateway/internal/registry"
	"github.com/2389/fieldnet-gateway/internal/router"
	"github.com/2389/fieldnet-gateway/internal/session"
	"github.com/2389/fieldnet-gateway/internal/store"
	"github.com/2389/fieldnet-gateway/internal/stream"
	"github.com/2389/fieldnet-gateway/internal/work"
)

func newNetwork(t *testing.T) *Network {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "field.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	n := New(s, Options{Config: config.Default("").Network})
	t.Cleanup(n.Close)
	return n
}

func fingerprint(nonce string) *session.Fingerprint {
	return &session.Fingerprint{Platform: "test", PID: 7, StartTime: time.Unix(1700000000, 0), Nonce: nonce}
}

func join(t *testing.T, n *Network, name, role string) *session.Resolution {
	t.Helper()
	res, err := n.Join(context.Background(), JoinRequest{Name: name, Role: role, Fingerprint: fingerprint(name)})
	require.NoError(t, err)
	return res
}

func TestJoin_ReconnectIsIdempotent(t *testing.T) {
	n := newNetwork(t)
	ctx := context.Background()

	first := join(t, n, "Alice", "Code Weaver")
	assert.Equal(t, session.Fresh, first.Outcome)

	again := join(t, n, "Alice", "Code Weaver")
	assert.Equal(t, session.ReconnectedSameSession, again.Outcome)
	assert.Equal(t, first.AgentID, again.AgentID)

	live, err := n.LiveAgents(ctx)
	require.NoError(t, err)
	require.Len(t, live, 1)
	assert.Equal(t, registry.PresenceOnline, live[0].Presence)

	// registration and reconnect both queue field events
	assert.Equal(t, 2, n.Field.Pending())
	require.NoError(t, n.Flush(ctx))
	assert.Equal(t, 0, n.Field.Pending())

	history, err := n.FieldHistory(ctx, 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, field.PatternSeed, history[0].Pattern)
	assert.Len(t, history[0].Events, 2)
}

func TestJoin_DefaultFingerprint(t *testing.T) {
	n := newNetwork(t)
	ctx := context.Background()

	a, err := n.Join(ctx, JoinRequest{Name: "Solo"})
	require.NoError(t, err)
	b, err := n.Join(ctx, JoinRequest{Name: "Solo"})
	require.NoError(t, err)

	assert.Equal(t, a.AgentID, b.AgentID)
	assert.NotEmpty(t, n.Fingerprint().Nonce)
}

func TestSend_DeliversAndStreams(t *testing.T) {
	n := newNetwork(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	alice := join(t, n, "Alice", "")
	bob := join(t, n, "Bob", "")

	events, _ := n.Hub.Subscribe(ctx, stream.AgentTopic(bob.AgentID))

	receipt, err := n.Send(ctx, alice.AgentID, bob.AgentID, "thank you, I love this", router.SendOptions{})
	require.NoError(t, err)
	require.Len(t, receipt.MessageIDs, 1)

	select {
	case ev := <-events:
		require.Equal(t, stream.KindMessage, ev.Kind)
		assert.Equal(t, receipt.ID(), ev.Message.ID)
	case <-time.After(time.Second):
		t.Fatal("no message event")
	}

	inbox, err := n.Inbox(ctx, bob.AgentID, time.Time{}, 0)
	require.NoError(t, err)
	require.Len(t, inbox, 1)
	assert.Equal(t, alice.AgentID, inbox[0].FromAgent)

	sender, err := n.Agent(ctx, alice.AgentID)
	require.NoError(t, err)
	assert.Equal(t, 1, sender.MessagesSent)
}

func TestSend_IdempotencyKeyReplays(t *testing.T) {
	n := newNetwork(t)
	ctx := context.Background()
	alice := join(t, n, "Alice", "")
	bob := join(t, n, "Bob", "")

	opts := router.SendOptions{IdempotencyKey: "k1"}
	first, err := n.Send(ctx, alice.AgentID, bob.AgentID, "hello", opts)
	require.NoError(t, err)
	second, err := n.Send(ctx, alice.AgentID, bob.AgentID, "hello", opts)
	require.NoError(t, err)

	assert.True(t, second.Replayed)
	assert.Equal(t, first.MessageIDs, second.MessageIDs)

	inbox, err := n.Inbox(ctx, bob.AgentID, time.Time{}, 0)
	require.NoError(t, err)
	assert.Len(t, inbox, 1)
}

func TestLeave_StopsDelivery(t *testing.T) {
	n := newNetwork(t)
	ctx := context.Background()
	alice := join(t, n, "Alice", "")

	require.NoError(t, n.Leave(ctx, alice.AgentID))

	_, err := n.Heartbeat(ctx, alice.AgentID)
	assert.ErrorIs(t, err, registry.ErrNotRegistered)
	_, err = n.Send(ctx, alice.AgentID, router.BroadcastTarget, "anyone?", router.SendOptions{})
	assert.ErrorIs(t, err, registry.ErrNotRegistered)
}

func TestCollective_Lifecycle(t *testing.T) {
	n := newNetwork(t)
	ctx := context.Background()
	alice := join(t, n, "Alice", "Wisdom Synthesis Specialist")
	bob := join(t, n, "Bob", "Code Weaver")
	carol := join(t, n, "Carol", "")

	st, err := n.FormCollective(ctx, "Truth Circle", "clear honest inquiry", alice.AgentID, collective.FormOptions{})
	require.NoError(t, err)
	id := st.Collective.ID

	st, err = n.JoinCollective(ctx, id, bob.AgentID, "")
	require.NoError(t, err)
	assert.Equal(t, 2, st.Collective.MemberCount)

	receipt, err := n.CollectiveMessage(ctx, id, alice.AgentID, "let us integrate", router.SendOptions{})
	require.NoError(t, err)
	assert.Len(t, receipt.MessageIDs, 1)

	_, err = n.CollectiveMessage(ctx, id, carol.AgentID, "let me in", router.SendOptions{})
	assert.ErrorIs(t, err, collective.ErrNotMember)

	all, err := n.ListCollectives(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, id, all[0].Collective.ID)
}

func TestStatus_Summarises(t *testing.T) {
	n := newNetwork(t)
	ctx := context.Background()
	alice := join(t, n, "Alice", "")
	bob := join(t, n, "Bob", "")
	_, err := n.Send(ctx, alice.AgentID, bob.AgentID, "we share the load equally", router.SendOptions{})
	require.NoError(t, err)

	st, err := n.Status(ctx, 5)
	require.NoError(t, err)
	assert.Len(t, st.Agents, 2)
	assert.Len(t, st.RecentMessages, 1)
	assert.Equal(t, 2, st.Field.ActiveAgents)
	assert.Empty(t, st.Collectives)
	assert.False(t, st.GeneratedAt.IsZero())
}

func TestWork_LifecycleOnSQLite(t *testing.T) {
	n := newNetwork(t)
	ctx := context.Background()
	alice := join(t, n, "Alice", "")
	bob := join(t, n, "Bob", "")

	first, err := n.CreateWork(ctx, alice.AgentID, "Document the architecture", "clear, honest notes", work.CreateOptions{AssignedTo: bob.AgentID})
	require.NoError(t, err)
	_, err = n.CreateWork(ctx, bob.AgentID, "Explore", "", work.CreateOptions{})
	require.NoError(t, err)

	st, err := n.Status(ctx, 5)
	require.NoError(t, err)
	assert.Len(t, st.ActiveWork, 2)

	_, err = n.UpdateWork(ctx, bob.AgentID, first.ID, 60)
	require.NoError(t, err)
	done, err := n.CompleteWork(ctx, bob.AgentID, first.ID)
	require.NoError(t, err)
	assert.Equal(t, store.WorkCompleted, done.Status)
	assert.Equal(t, bob.AgentID, done.CompletedBy)

	st, err = n.Status(ctx, 5)
	require.NoError(t, err)
	assert.Len(t, st.ActiveWork, 1)

	a, err := n.Agent(ctx, bob.AgentID)
	require.NoError(t, err)
	assert.Equal(t, 1, a.WorkCompleted)
	assert.Equal(t, 1, ViewAgent(a.Agent, a.Presence).WorkCompleted)

	got, err := n.GetWork(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, 100, got.Progress)
	assert.NotNil(t, ViewWork(got).CompletedAt)

	require.NoError(t, n.Flush(ctx))
	rows, err := n.FieldHistory(ctx, 10)
	require.NoError(t, err)
	var types []string
	for _, r := range rows {
		for _, ev := range r.Events {
			types = append(types, ev.Type)
		}
	}
	assert.Contains(t, types, field.EventWorkCreated)
	assert.Contains(t, types, field.EventWorkDone)
}

func TestClear_WipesEverything(t *testing.T) {
	n := newNetwork(t)
	ctx := context.Background()
	join(t, n, "Alice", "")

	require.NoError(t, n.Clear(ctx))

	live, err := n.LiveAgents(ctx)
	require.NoError(t, err)
	assert.Empty(t, live)
	require.NoError(t, n.Ping(ctx))
}

func TestRun_PublishesSnapshots(t *testing.T) {
	n := newNetwork(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, _ := n.Hub.Subscribe(ctx, stream.FieldTopic)
	done := make(chan error, 1)
	go func() { done <- n.Run(ctx) }()

	join(t, n, "Alice", "")

	select {
	case ev := <-events:
		require.Equal(t, stream.KindField, ev.Kind)
		assert.Equal(t, 1, ev.Field.ActiveAgents)
	case <-time.After(2 * time.Second):
		t.Fatal("no field event")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}
}

func TestHeartbeatInterval(t *testing.T) {
	n := newNetwork(t)
	assert.Equal(t, config.DefaultOnlineWindow/6, n.HeartbeatInterval())
}

func TestViews(t *testing.T) {
	n := newNetwork(t)
	ctx := context.Background()
	alice := join(t, n, "Alice", "Code Weaver")
	bob := join(t, n, "Bob", "")

	live, err := n.LiveAgents(ctx)
	require.NoError(t, err)
	views := ViewAgents(live)
	require.Len(t, views, 2)
	assert.NotNil(t, views[0].Capabilities)
	assert.Equal(t, registry.PresenceOnline, views[0].Presence)

	_, err = n.Send(ctx, alice.AgentID, bob.AgentID, "hello", router.SendOptions{})
	require.NoError(t, err)
	msgs, err := n.Inbox(ctx, bob.AgentID, time.Time{}, 0)
	require.NoError(t, err)
	mv := ViewMessages(msgs)
	require.Len(t, mv, 1)
	assert.Equal(t, alice.AgentID, mv[0].From)

	st, err := n.FormCollective(ctx, "Circle", "grow together", alice.AgentID, collective.FormOptions{})
	require.NoError(t, err)
	cv := ViewCollective(st)
	assert.Len(t, cv.Members, 1)
	assert.Equal(t, "Alice", cv.Members[0].Name)

	sv := ViewSnapshot(&store.FieldSnapshot{Pattern: field.PatternVoid})
	assert.NotNil(t, sv.Events)
}

func TestOpenStore_SQLite(t *testing.T) {
	cfg := config.DatabaseConfig{Driver: config.DriverSQLite, Path: filepath.Join(t.TempDir(), "x.db")}
	s, err := OpenStore(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.Ping(context.Background()))
}

func TestOpenStore_UnknownDriver(t *testing.T) {
	_, err := OpenStore(context.Background(), config.DatabaseConfig{Driver: "oracle"}, nil)
	assert.Error(t, err)
}

func TestOpenTables(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p, err := OpenTables(ctx, config.HarmonyConfig{}, nil)
	require.NoError(t, err)
	assert.NotNil(t, p.Current())

	_, err = OpenTables(ctx, config.HarmonyConfig{TablesPath: filepath.Join(t.TempDir(), "missing.yaml")}, nil)
	assert.Error(t, err)
}
