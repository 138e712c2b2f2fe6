// ABOUTME: Mock Store implementation for testing
// ABOUTME: In-memory tables with the same uniqueness rules as SQLite plus failure injection

package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu          sync.RWMutex
	agents      map[string]*Agent
	messages    []*Message // insertion order
	collectives map[string]*Collective
	members     map[string]map[string]*Membership // collective ID -> agent ID
	work        map[string]*WorkItem
	snapshots   []*FieldSnapshot
	nextSnapID  int64
	failWith    error
}

var _ Store = (*MockStore)(nil)

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		agents:      make(map[string]*Agent),
		collectives: make(map[string]*Collective),
		members:     make(map[string]map[string]*Membership),
		work:        make(map[string]*WorkItem),
	}
}

// FailWith makes every subsequent call return err wrapped as ErrUnavailable.
// Pass nil to restore normal behaviour.
func (m *MockStore) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failWith = err
}

func (m *MockStore) check(op string) error {
	if m.failWith != nil {
		return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, m.failWith)
	}
	return nil
}

// CreateAgent stores a new agent, enforcing one active row per name and session hash.
func (m *MockStore) CreateAgent(ctx context.Context, agent *Agent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("inserting agent"); err != nil {
		return err
	}

	if _, ok := m.agents[agent.ID]; ok {
		return ErrDuplicate
	}
	if agent.Status == AgentActive {
		for _, a := range m.agents {
			if a.Status == AgentActive && a.Name == agent.Name && a.Session.SessionHash == agent.Session.SessionHash {
				return ErrDuplicate
			}
		}
	}

	m.agents[agent.ID] = copyAgent(agent)
	return nil
}

// GetAgent retrieves an agent by ID.
func (m *MockStore) GetAgent(ctx context.Context, id string) (*Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.check("querying agent"); err != nil {
		return nil, err
	}

	a, ok := m.agents[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyAgent(a), nil
}

// FindActiveAgentByName returns the active agent named name with the latest heartbeat.
func (m *MockStore) FindActiveAgentByName(ctx context.Context, name string) (*Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.check("querying agent by name"); err != nil {
		return nil, err
	}

	var best *Agent
	for _, a := range m.agents {
		if a.Status != AgentActive || a.Name != name {
			continue
		}
		if best == nil || a.LastHeartbeat.After(best.LastHeartbeat) {
			best = a
		}
	}
	if best == nil {
		return nil, ErrNotFound
	}
	return copyAgent(best), nil
}

// FindActiveAgentBySession returns the active agent holding name and sessionHash.
func (m *MockStore) FindActiveAgentBySession(ctx context.Context, name, sessionHash string) (*Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.check("querying agent by session"); err != nil {
		return nil, err
	}

	for _, a := range m.agents {
		if a.Status == AgentActive && a.Name == name && a.Session.SessionHash == sessionHash {
			return copyAgent(a), nil
		}
	}
	return nil, ErrNotFound
}

// ListLiveAgents returns active agents with a heartbeat after since.
func (m *MockStore) ListLiveAgents(ctx context.Context, since time.Time) ([]*Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.check("querying live agents"); err != nil {
		return nil, err
	}

	var out []*Agent
	for _, a := range m.agents {
		if a.Status == AgentActive && a.LastHeartbeat.After(since) {
			out = append(out, copyAgent(a))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastHeartbeat.Equal(out[j].LastHeartbeat) {
			return out[i].LastHeartbeat.After(out[j].LastHeartbeat)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// TouchAgent advances the heartbeat, never backwards.
func (m *MockStore) TouchAgent(ctx context.Context, id string, at time.Time) error {
	return m.updateAgent("touching agent", id, func(a *Agent) {
		if at.After(a.LastHeartbeat) {
			a.LastHeartbeat = at
		}
	})
}

// UpdateAgentSession replaces the session info and touches the heartbeat.
func (m *MockStore) UpdateAgentSession(ctx context.Context, id string, info SessionInfo, at time.Time) error {
	return m.updateAgent("updating agent session", id, func(a *Agent) {
		a.Session = info
		if at.After(a.LastHeartbeat) {
			a.LastHeartbeat = at
		}
	})
}

// SetAgentStatus changes an agent's status.
func (m *MockStore) SetAgentStatus(ctx context.Context, id, status string) error {
	return m.updateAgent("setting agent status", id, func(a *Agent) {
		a.Status = status
	})
}

func (m *MockStore) updateAgent(op, id string, fn func(*Agent)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(op); err != nil {
		return err
	}

	a, ok := m.agents[id]
	if !ok {
		return ErrNotFound
	}
	fn(a)
	return nil
}

// ClearAll empties every table.
func (m *MockStore) ClearAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("clearing"); err != nil {
		return err
	}

	m.agents = make(map[string]*Agent)
	m.messages = nil
	m.collectives = make(map[string]*Collective)
	m.members = make(map[string]map[string]*Membership)
	m.work = make(map[string]*WorkItem)
	m.snapshots = nil
	return nil
}

// SaveMessage appends a message.
func (m *MockStore) SaveMessage(ctx context.Context, msg *Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("inserting message"); err != nil {
		return err
	}
	if m.hasMessage(msg.ID) {
		return ErrDuplicate
	}
	c := *msg
	m.messages = append(m.messages, &c)
	return nil
}

// DeliverMessage appends msg and bumps the sender counters, or changes nothing.
func (m *MockStore) DeliverMessage(ctx context.Context, msg *Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("delivering message"); err != nil {
		return err
	}
	if m.hasMessage(msg.ID) {
		return ErrDuplicate
	}
	sender, ok := m.agents[msg.FromAgent]
	if !ok {
		return ErrNotFound
	}

	c := *msg
	m.messages = append(m.messages, &c)
	sender.MessagesSent++
	sender.FieldImpactGiven += msg.FieldImpact
	if msg.CreatedAt.After(sender.LastHeartbeat) {
		sender.LastHeartbeat = msg.CreatedAt
	}
	return nil
}

func (m *MockStore) hasMessage(id string) bool {
	for _, existing := range m.messages {
		if existing.ID == id {
			return true
		}
	}
	return false
}

// ListInbox returns messages to agentID after since, newest first.
func (m *MockStore) ListInbox(ctx context.Context, agentID string, since time.Time, limit int) ([]*Message, error) {
	return m.filterMessages("querying inbox", limit, func(msg *Message) bool {
		return msg.ToAgent == agentID && msg.CreatedAt.After(since)
	})
}

// ListConversation returns messages from or to agentID, newest first.
func (m *MockStore) ListConversation(ctx context.Context, agentID string, limit int) ([]*Message, error) {
	return m.filterMessages("querying conversation", limit, func(msg *Message) bool {
		return msg.FromAgent == agentID || msg.ToAgent == agentID
	})
}

// ListMessagesSince returns messages after since, newest first.
func (m *MockStore) ListMessagesSince(ctx context.Context, since time.Time, limit int) ([]*Message, error) {
	return m.filterMessages("querying messages", limit, func(msg *Message) bool {
		return msg.CreatedAt.After(since)
	})
}

func (m *MockStore) filterMessages(op string, limit int, keep func(*Message) bool) ([]*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.check(op); err != nil {
		return nil, err
	}

	var out []*Message
	for i := len(m.messages) - 1; i >= 0; i-- {
		if keep(m.messages[i]) {
			c := *m.messages[i]
			out = append(out, &c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// CreateCollective stores a new collective.
func (m *MockStore) CreateCollective(ctx context.Context, c *Collective) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("inserting collective"); err != nil {
		return err
	}

	if _, ok := m.collectives[c.ID]; ok {
		return ErrDuplicate
	}
	cp := *c
	cp.GuidingPrinciples = append([]string(nil), c.GuidingPrinciples...)
	m.collectives[c.ID] = &cp
	return nil
}

// GetCollective retrieves a collective with a fresh member count.
func (m *MockStore) GetCollective(ctx context.Context, id string) (*Collective, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.check("querying collective"); err != nil {
		return nil, err
	}

	c, ok := m.collectives[id]
	if !ok {
		return nil, ErrNotFound
	}
	return m.withCount(c), nil
}

// ListCollectives returns all collectives, newest first.
func (m *MockStore) ListCollectives(ctx context.Context) ([]*Collective, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.check("querying collectives"); err != nil {
		return nil, err
	}

	out := make([]*Collective, 0, len(m.collectives))
	for _, c := range m.collectives {
		out = append(out, m.withCount(c))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].FormationDate.Equal(out[j].FormationDate) {
			return out[i].FormationDate.After(out[j].FormationDate)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *MockStore) withCount(c *Collective) *Collective {
	cp := *c
	cp.GuidingPrinciples = append([]string(nil), c.GuidingPrinciples...)
	cp.MemberCount = m.activeMembers(c.ID)
	return &cp
}

func (m *MockStore) activeMembers(collectiveID string) int {
	n := 0
	for _, mem := range m.members[collectiveID] {
		if mem.Status == MemberActive {
			n++
		}
	}
	return n
}

// UpsertMembership inserts or replaces the membership row and returns the active member count.
func (m *MockStore) UpsertMembership(ctx context.Context, mem *Membership) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("upserting membership"); err != nil {
		return 0, err
	}

	if _, ok := m.collectives[mem.CollectiveID]; !ok {
		return 0, ErrNotFound
	}
	if _, ok := m.agents[mem.AgentID]; !ok {
		return 0, ErrNotFound
	}
	if m.members[mem.CollectiveID] == nil {
		m.members[mem.CollectiveID] = make(map[string]*Membership)
	}
	cp := *mem
	m.members[mem.CollectiveID][mem.AgentID] = &cp
	return m.activeMembers(mem.CollectiveID), nil
}

// GetMembership retrieves one membership row.
func (m *MockStore) GetMembership(ctx context.Context, collectiveID, agentID string) (*Membership, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.check("querying membership"); err != nil {
		return nil, err
	}

	mem, ok := m.members[collectiveID][agentID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *mem
	return &cp, nil
}

// ListMembers returns active members with their agent metrics, oldest join first.
func (m *MockStore) ListMembers(ctx context.Context, collectiveID string) ([]*Member, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.check("querying members"); err != nil {
		return nil, err
	}

	var out []*Member
	for agentID, mem := range m.members[collectiveID] {
		a, ok := m.agents[agentID]
		if !ok || mem.Status != MemberActive {
			continue
		}
		out = append(out, &Member{
			Membership:     *mem,
			AgentName:      a.Name,
			AgentStatus:    a.Status,
			CoherenceLevel: a.CoherenceLevel,
			LoveResonance:  a.LoveResonance,
			PrimaryHarmony: a.PrimaryHarmony,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].JoinedAt.Before(out[j].JoinedAt)
		}
		return out[i].AgentID < out[j].AgentID
	})
	return out, nil
}

// IncrementContributions bumps a member's contribution counter.
func (m *MockStore) IncrementContributions(ctx context.Context, collectiveID, agentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("incrementing contributions"); err != nil {
		return err
	}

	mem, ok := m.members[collectiveID][agentID]
	if !ok {
		return ErrNotFound
	}
	mem.Contributions++
	return nil
}

// CreateWork stores a new work item.
func (m *MockStore) CreateWork(ctx context.Context, w *WorkItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("inserting work item"); err != nil {
		return err
	}

	if _, ok := m.work[w.ID]; ok {
		return ErrDuplicate
	}
	cp := *w
	m.work[w.ID] = &cp
	return nil
}

// GetWork retrieves a work item.
func (m *MockStore) GetWork(ctx context.Context, id string) (*WorkItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.check("querying work item"); err != nil {
		return nil, err
	}

	w, ok := m.work[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *w
	return &cp, nil
}

// ListWork returns work items newest first.
func (m *MockStore) ListWork(ctx context.Context, openOnly bool, limit int) ([]*WorkItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.check("querying work items"); err != nil {
		return nil, err
	}

	var out []*WorkItem
	for _, w := range m.work {
		if openOnly && !w.Open() {
			continue
		}
		cp := *w
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// UpdateWorkProgress records progress on an open item.
func (m *MockStore) UpdateWorkProgress(ctx context.Context, id string, progress int, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("updating work progress"); err != nil {
		return err
	}

	w, ok := m.work[id]
	if !ok || !w.Open() {
		return ErrNotFound
	}
	w.Progress = progress
	w.Status = WorkInProgress
	w.UpdatedAt = at
	return nil
}

// CompleteWork closes the item and credits agentID, or changes nothing.
func (m *MockStore) CompleteWork(ctx context.Context, id, agentID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("completing work item"); err != nil {
		return err
	}

	w, ok := m.work[id]
	if !ok || !w.Open() {
		return ErrNotFound
	}
	a, ok := m.agents[agentID]
	if !ok {
		return ErrNotFound
	}
	w.Status = WorkCompleted
	w.Progress = 100
	w.CompletedBy = agentID
	w.CompletedAt = at
	w.UpdatedAt = at
	a.WorkCompleted++
	if at.After(a.LastHeartbeat) {
		a.LastHeartbeat = at
	}
	return nil
}

// AppendFieldSnapshot appends to the field log.
func (m *MockStore) AppendFieldSnapshot(ctx context.Context, snap *FieldSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("inserting field snapshot"); err != nil {
		return err
	}

	m.nextSnapID++
	snap.ID = m.nextSnapID
	cp := *snap
	cp.Events = append([]FieldEvent(nil), snap.Events...)
	m.snapshots = append(m.snapshots, &cp)
	return nil
}

// ListFieldSnapshots returns the most recent snapshots, newest first.
func (m *MockStore) ListFieldSnapshots(ctx context.Context, limit int) ([]*FieldSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.check("querying field log"); err != nil {
		return nil, err
	}

	var out []*FieldSnapshot
	for i := len(m.snapshots) - 1; i >= 0; i-- {
		cp := *m.snapshots[i]
		out = append(out, &cp)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// Ping reports the injected failure, if any.
func (m *MockStore) Ping(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.check("pinging")
}

// Close is a no-op.
func (m *MockStore) Close() error { return nil }

func copyAgent(a *Agent) *Agent {
	cp := *a
	cp.Capabilities = append([]string(nil), a.Capabilities...)
	return &cp
}
