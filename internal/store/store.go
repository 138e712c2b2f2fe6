// ABOUTME: Store interface and data types for fieldnet persistence
// ABOUTME: Defines Agent, Message, Collective, Membership, WorkItem and FieldSnapshot plus the error taxonomy

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when an insert violates a uniqueness constraint,
// e.g. a second active agent row for the same name and session.
var ErrDuplicate = errors.New("already exists")

// ErrUnavailable is returned when the backing database could not serve the
// request in time (timeout, busy, closed). The operation may be retried.
var ErrUnavailable = errors.New("store unavailable")

// IsRetryable reports whether err signals a transient store failure.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}

// Agent statuses
const (
	AgentActive   = "active"
	AgentInactive = "inactive"
)

// Membership and collective statuses
const (
	MemberActive      = "active"
	CollectiveForming = "forming"
)

// Work item statuses. Pending and in-progress items are open.
const (
	WorkPending    = "pending"
	WorkInProgress = "in_progress"
	WorkCompleted  = "completed"
)

// SessionInfo is the opaque session blob stored with each agent.
type SessionInfo struct {
	Platform      string    `json:"platform"`
	SessionHash   string    `json:"session_hash"`
	JoinedAt      time.Time `json:"joined_at"`
	ReconnectedAt time.Time `json:"reconnected_at,omitzero"`
}

// Agent is a registered participant and its live state.
type Agent struct {
	ID               string
	Name             string
	Role             string
	Capabilities     []string
	CoherenceLevel   float64 // 0-100
	LoveResonance    float64 // 0-100
	FieldCoherence   float64 // 0-1
	PrimaryHarmony   string
	Status           string
	LastHeartbeat    time.Time
	Session          SessionInfo
	MessagesSent     int
	WorkCompleted    int
	FieldImpactGiven float64
	CreatedAt        time.Time
}

// Message is an immutable directed message between two agents.
type Message struct {
	ID             string
	FromAgent      string
	ToAgent        string
	Content        string
	Type           string
	Harmony        string
	FieldImpact    float64
	LoveQuotient   float64
	Priority       string
	ResponseNeeded bool
	CollectiveID   string // set when fanned out to a collective
	CreatedAt      time.Time
}

// Collective is a named group of agents. MemberCount is recounted from
// membership rows on every read.
type Collective struct {
	ID                 string
	Name               string
	Purpose            string
	PrimaryHarmony     string
	GuidingPrinciples  []string
	NorthStar          string
	CoherenceThreshold float64
	MemberCount        int
	Status             string
	CreatedBy          string
	FormationDate      time.Time
}

// Membership joins an agent to a collective. Unique per (CollectiveID, AgentID).
type Membership struct {
	CollectiveID     string
	AgentID          string
	Role             string
	HarmonyResonance float64
	Contributions    int
	Status           string
	JoinedAt         time.Time
}

// Member is a membership row together with the member agent's metrics.
type Member struct {
	Membership
	AgentName      string
	AgentStatus    string
	CoherenceLevel float64
	LoveResonance  float64
	PrimaryHarmony string
}

// WorkItem is a unit of work created by an agent and completed by one.
type WorkItem struct {
	ID                string
	Title             string
	Description       string
	CreatedBy         string
	AssignedTo        string
	PrimaryHarmony    string
	GrowthPotential   float64 // 0-1
	CollectiveBenefit string
	Status            string
	Progress          int // 0-100
	Priority          string
	CompletedBy       string
	CreatedAt         time.Time
	UpdatedAt         time.Time
	CompletedAt       time.Time // zero while open
}

// Open reports whether the item still accepts progress.
func (w *WorkItem) Open() bool { return w.Status != WorkCompleted }

// FieldEvent is one entry in a field snapshot's audit blob.
type FieldEvent struct {
	Type      string         `json:"type"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// FieldSnapshot is one append-only row of the field-state log.
type FieldSnapshot struct {
	ID                  int64
	Timestamp           time.Time
	ActiveAgents        int
	AverageCoherence    float64
	LoveFieldStrength   float64
	CollectiveCoherence float64
	DominantHarmony     string
	Pattern             string
	Events              []FieldEvent
}

// Store defines the persistence operations of the network.
// Every implementation must enforce uniqueness in storage, not in callers.
type Store interface {
	// Agents

	// CreateAgent inserts a new agent row. Returns ErrDuplicate if an active
	// row with the same name and session hash already exists.
	CreateAgent(ctx context.Context, agent *Agent) error
	GetAgent(ctx context.Context, id string) (*Agent, error)
	// FindActiveAgentByName returns the active row with the given name and the
	// most recent heartbeat, or ErrNotFound.
	FindActiveAgentByName(ctx context.Context, name string) (*Agent, error)
	// FindActiveAgentBySession returns the active row holding both name and
	// sessionHash, or ErrNotFound. At most one such row exists.
	FindActiveAgentBySession(ctx context.Context, name, sessionHash string) (*Agent, error)
	// ListLiveAgents returns active agents whose heartbeat is after since, in one query.
	ListLiveAgents(ctx context.Context, since time.Time) ([]*Agent, error)
	// TouchAgent moves last_heartbeat forward to at; it never moves it back.
	TouchAgent(ctx context.Context, id string, at time.Time) error
	UpdateAgentSession(ctx context.Context, id string, info SessionInfo, at time.Time) error
	SetAgentStatus(ctx context.Context, id, status string) error
	// ClearAll hard-deletes every row in every table.
	ClearAll(ctx context.Context) error

	// Messages

	SaveMessage(ctx context.Context, msg *Message) error
	// DeliverMessage inserts msg and records the send on msg.FromAgent
	// (messages_sent, field_impact_given, heartbeat at msg.CreatedAt) in one
	// transaction. Returns ErrNotFound with nothing written if the sender row
	// is missing.
	DeliverMessage(ctx context.Context, msg *Message) error
	// ListInbox returns messages to agentID newer than since, newest first.
	ListInbox(ctx context.Context, agentID string, since time.Time, limit int) ([]*Message, error)
	// ListConversation returns messages sent or received by agentID, newest first.
	ListConversation(ctx context.Context, agentID string, limit int) ([]*Message, error)
	// ListMessagesSince returns all messages newer than since, newest first.
	// A limit <= 0 means no limit.
	ListMessagesSince(ctx context.Context, since time.Time, limit int) ([]*Message, error)

	// Collectives

	CreateCollective(ctx context.Context, c *Collective) error
	GetCollective(ctx context.Context, id string) (*Collective, error)
	ListCollectives(ctx context.Context) ([]*Collective, error)
	// UpsertMembership inserts or replaces the (collective, agent) row and
	// returns the recounted number of active members.
	UpsertMembership(ctx context.Context, m *Membership) (int, error)
	GetMembership(ctx context.Context, collectiveID, agentID string) (*Membership, error)
	ListMembers(ctx context.Context, collectiveID string) ([]*Member, error)
	IncrementContributions(ctx context.Context, collectiveID, agentID string) error

	// Work

	CreateWork(ctx context.Context, w *WorkItem) error
	GetWork(ctx context.Context, id string) (*WorkItem, error)
	// ListWork returns work items newest first. openOnly drops completed items.
	// A limit <= 0 means no limit.
	ListWork(ctx context.Context, openOnly bool, limit int) ([]*WorkItem, error)
	// UpdateWorkProgress sets progress on an open item and marks it in
	// progress. Returns ErrNotFound if the item is missing or completed.
	UpdateWorkProgress(ctx context.Context, id string, progress int, at time.Time) error
	// CompleteWork closes an open item as done by agentID and, in the same
	// transaction, increments that agent's work_completed and touches its
	// heartbeat. Returns ErrNotFound with nothing written if the item is
	// missing or completed, or the agent row is missing.
	CompleteWork(ctx context.Context, id, agentID string, at time.Time) error

	// Field log

	AppendFieldSnapshot(ctx context.Context, snap *FieldSnapshot) error
	ListFieldSnapshots(ctx context.Context, limit int) ([]*FieldSnapshot, error)

	// Ping checks the backing database is reachable.
	Ping(ctx context.Context) error
	Close() error
}
