// ABOUTME: Tests for the Session Identity Resolver outcomes and fingerprint hashing
// ABOUTME: Simulates separate processes with distinct fingerprints over one store

package session

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/fieldnet-gateway/internal/registry"
	"github.com/2389/fieldnet-gateway/internal/store"
)

var baseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type harness struct {
	store    *store.MockStore
	registry *registry.Registry
	resolver *Resolver
	clock    *fakeClock
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	s := store.NewMockStore()
	clock := &fakeClock{t: baseTime}
	reg := registry.New(s, registry.WithClock(clock.Now))
	return &harness{
		store:    s,
		registry: reg,
		resolver: NewResolver(s, reg, 10*time.Minute, nil),
		clock:    clock,
	}
}

func process(pid int) Fingerprint {
	return Fingerprint{Platform: "test", PID: pid, StartTime: baseTime, Nonce: "n"}
}

func (h *harness) resolve(t *testing.T, name string, fp Fingerprint) *Resolution {
	t.Helper()
	res, err := h.resolver.Resolve(context.Background(), Request{Name: name, Role: "Code Weaver", Fingerprint: fp})
	require.NoError(t, err)
	return res
}

func TestFingerprint_Hash(t *testing.T) {
	a := process(100)
	b := process(101)

	assert.Len(t, a.Hash(), hashLen)
	assert.Equal(t, a.Hash(), a.Hash())
	assert.NotEqual(t, a.Hash(), b.Hash())

	live1 := NewFingerprint("cli")
	live2 := NewFingerprint("cli")
	assert.NotEqual(t, live1.Hash(), live2.Hash(), "nonce must separate processes with the same pid")
}

func TestResolve_Fresh(t *testing.T) {
	h := newHarness(t)

	res := h.resolve(t, "Alice", process(1))

	assert.Equal(t, Fresh, res.Outcome)
	assert.NotEmpty(t, res.AgentID)
	assert.Equal(t, "Code Weaver", res.Agent.Role)
	assert.Equal(t, process(1).Hash(), res.Agent.Session.SessionHash)
}

func TestResolve_IdempotentReconnect(t *testing.T) {
	h := newHarness(t)

	first := h.resolve(t, "Alice", process(1))
	h.clock.Advance(time.Second)
	second := h.resolve(t, "Alice", process(1))

	assert.Equal(t, first.AgentID, second.AgentID)
	assert.Equal(t, ReconnectedSameSession, second.Outcome)
	assert.True(t, second.Outcome.Reconnected())
	assert.Equal(t, h.clock.Now(), second.Agent.LastHeartbeat)
	assert.Equal(t, baseTime, second.Agent.Session.JoinedAt)
	assert.Equal(t, h.clock.Now(), second.Agent.Session.ReconnectedAt)

	live, err := h.registry.ListLive(context.Background())
	require.NoError(t, err)
	assert.Len(t, live, 1, "reconnect must not create a row")
}

func TestResolve_NameConflict(t *testing.T) {
	h := newHarness(t)

	first := h.resolve(t, "Alice", process(1))
	h.clock.Advance(time.Minute)
	second := h.resolve(t, "Alice", process(2))

	assert.Equal(t, NameConflict, second.Outcome)
	assert.NotEqual(t, first.AgentID, second.AgentID)
	assert.Equal(t, first.AgentID, second.Previous)

	// both identities stay active
	live, err := h.registry.ListLive(context.Background())
	require.NoError(t, err)
	assert.Len(t, live, 2)
}

func TestResolve_AfterTimeout(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	first := h.resolve(t, "Alice", process(1))
	h.clock.Advance(11 * time.Minute)
	second := h.resolve(t, "Alice", process(1))

	assert.Equal(t, ReconnectedAfterTimeout, second.Outcome)
	assert.NotEqual(t, first.AgentID, second.AgentID, "a new id is minted after the window")
	assert.Equal(t, first.AgentID, second.Previous)

	old, err := h.registry.Get(ctx, first.AgentID)
	require.NoError(t, err)
	assert.Equal(t, store.AgentInactive, old.Status)
}

func TestResolve_ReconnectsAfterNameConflict(t *testing.T) {
	backends := map[string]func(t *testing.T) store.Store{
		"mock": func(t *testing.T) store.Store { return store.NewMockStore() },
		"sqlite": func(t *testing.T) store.Store {
			s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "session.db"))
			require.NoError(t, err)
			t.Cleanup(func() { _ = s.Close() })
			return s
		},
	}
	for name, open := range backends {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t)
			clock := &fakeClock{t: baseTime}
			reg := registry.New(s, registry.WithClock(clock.Now))
			r := NewResolver(s, reg, 10*time.Minute, nil)
			resolve := func(fp Fingerprint) *Resolution {
				res, err := r.Resolve(ctx, Request{Name: "Alice", Fingerprint: fp})
				require.NoError(t, err)
				return res
			}

			first := resolve(process(1))
			clock.Advance(time.Minute)
			second := resolve(process(2))
			require.Equal(t, NameConflict, second.Outcome)

			// the newer row by name belongs to pid 2; pid 1 still gets its own id back
			clock.Advance(time.Minute)
			third := resolve(process(1))
			assert.Equal(t, ReconnectedSameSession, third.Outcome)
			assert.Equal(t, first.AgentID, third.AgentID)

			live, err := reg.ListLive(ctx)
			require.NoError(t, err)
			assert.Len(t, live, 2)

			// and pid 2 keeps its identity too
			clock.Advance(time.Minute)
			fourth := resolve(process(2))
			assert.Equal(t, ReconnectedSameSession, fourth.Outcome)
			assert.Equal(t, second.AgentID, fourth.AgentID)
		})
	}
}

func TestResolve_OwnRowStaleAfterConflict(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	first := h.resolve(t, "Alice", process(1))
	h.clock.Advance(time.Minute)
	second := h.resolve(t, "Alice", process(2))
	require.Equal(t, NameConflict, second.Outcome)

	h.clock.Advance(11 * time.Minute)
	third := h.resolve(t, "Alice", process(1))
	assert.Equal(t, ReconnectedAfterTimeout, third.Outcome)
	assert.Equal(t, first.AgentID, third.Previous)

	old, err := h.registry.Get(ctx, first.AgentID)
	require.NoError(t, err)
	assert.Equal(t, store.AgentInactive, old.Status)
}

// sessionBlind loses every session lookup, as if a concurrent writer
// deactivated the row between the insert and the re-read.
type sessionBlind struct {
	*store.MockStore
}

func (sessionBlind) FindActiveAgentBySession(context.Context, string, string) (*store.Agent, error) {
	return nil, store.ErrNotFound
}

func TestResolve_DuplicateSurfacesOnce(t *testing.T) {
	s := sessionBlind{store.NewMockStore()}
	clock := &fakeClock{t: baseTime}
	reg := registry.New(s, registry.WithClock(clock.Now))
	r := NewResolver(s, reg, 10*time.Minute, nil)
	ctx := context.Background()

	_, err := r.Resolve(ctx, Request{Name: "Alice", Fingerprint: process(1)})
	require.NoError(t, err)

	clock.Advance(time.Minute)
	_, err = r.Resolve(ctx, Request{Name: "Alice", Fingerprint: process(1)})
	require.ErrorIs(t, err, store.ErrDuplicate)
	assert.Equal(t, 1, strings.Count(err.Error(), `registering "Alice"`), err.Error())
}

func TestResolve_RequiresName(t *testing.T) {
	h := newHarness(t)
	_, err := h.resolver.Resolve(context.Background(), Request{Fingerprint: process(1)})
	assert.Error(t, err)
}

func TestResolve_StoreUnavailable(t *testing.T) {
	h := newHarness(t)
	h.store.FailWith(errors.New("locked"))

	_, err := h.resolver.Resolve(context.Background(), Request{Name: "Alice", Fingerprint: process(1)})
	require.Error(t, err)
	assert.True(t, store.IsRetryable(err))
}

func TestResolve_ConcurrentSameSession(t *testing.T) {
	h := newHarness(t)
	// a second resolver over the same store stands in for another process
	// sharing the fingerprint; only the storage constraint keeps them apart
	other := NewResolver(h.store, h.registry, 10*time.Minute, nil)

	var wg sync.WaitGroup
	ids := make([]string, 10)
	for i := range ids {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r := h.resolver
			if i%2 == 1 {
				r = other
			}
			res, err := r.Resolve(context.Background(), Request{Name: "Alice", Fingerprint: process(1)})
			if assert.NoError(t, err) {
				ids[i] = res.AgentID
			}
		}()
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	live, err := h.registry.ListLive(context.Background())
	require.NoError(t, err)
	assert.Len(t, live, 1)
}
