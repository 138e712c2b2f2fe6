// ABOUTME: JSON views of agents, messages, collectives, work items and field snapshots
// ABOUTME: Shared wire shape for the HTTP API, MCP tool results and CLI --json output

package network

import (
	"time"

	"github.com/2389/fieldnet-gateway/internal/collective"
	"github.com/2389/fieldnet-gateway/internal/store"
)

// AgentView is the wire form of an agent.
type AgentView struct {
	ID               string    `json:"id"`
	Name             string    `json:"name"`
	Role             string    `json:"role"`
	Capabilities     []string  `json:"capabilities"`
	CoherenceLevel   float64   `json:"coherence_level"`
	LoveResonance    float64   `json:"love_resonance"`
	FieldCoherence   float64   `json:"field_coherence"`
	PrimaryHarmony   string    `json:"primary_harmony"`
	Status           string    `json:"status"`
	Presence         string    `json:"presence,omitempty"`
	LastHeartbeat    time.Time `json:"last_heartbeat"`
	MessagesSent     int       `json:"messages_sent"`
	WorkCompleted    int       `json:"work_completed"`
	FieldImpactGiven float64   `json:"field_impact_given"`
	Platform         string    `json:"platform,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

// ViewAgent converts a store row. presence may be empty.
func ViewAgent(a *store.Agent, presence string) AgentView {
	caps := a.Capabilities
	if caps == nil {
		caps = []string{}
	}
	return AgentView{
		ID:               a.ID,
		Name:             a.Name,
		Role:             a.Role,
		Capabilities:     caps,
		CoherenceLevel:   a.CoherenceLevel,
		LoveResonance:    a.LoveResonance,
		FieldCoherence:   a.FieldCoherence,
		PrimaryHarmony:   a.PrimaryHarmony,
		Status:           a.Status,
		Presence:         presence,
		LastHeartbeat:    a.LastHeartbeat,
		MessagesSent:     a.MessagesSent,
		WorkCompleted:    a.WorkCompleted,
		FieldImpactGiven: a.FieldImpactGiven,
		Platform:         a.Session.Platform,
		CreatedAt:        a.CreatedAt,
	}
}

// ViewAgents converts agents with presence.
func ViewAgents(agents []*Agent) []AgentView {
	out := make([]AgentView, 0, len(agents))
	for _, a := range agents {
		out = append(out, ViewAgent(a.Agent, a.Presence))
	}
	return out
}

// MessageView is the wire form of a message.
type MessageView struct {
	ID             string    `json:"id"`
	From           string    `json:"from"`
	To             string    `json:"to"`
	Content        string    `json:"content"`
	Type           string    `json:"type"`
	Harmony        string    `json:"harmony"`
	FieldImpact    float64   `json:"field_impact"`
	LoveQuotient   float64   `json:"love_quotient"`
	Priority       string    `json:"priority"`
	ResponseNeeded bool      `json:"response_needed"`
	CollectiveID   string    `json:"collective_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// ViewMessages converts store rows.
func ViewMessages(msgs []*store.Message) []MessageView {
	out := make([]MessageView, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, ViewMessage(m))
	}
	return out
}

// ViewMessage converts one store row.
func ViewMessage(m *store.Message) MessageView {
	return MessageView{
		ID:             m.ID,
		From:           m.FromAgent,
		To:             m.ToAgent,
		Content:        m.Content,
		Type:           m.Type,
		Harmony:        m.Harmony,
		FieldImpact:    m.FieldImpact,
		LoveQuotient:   m.LoveQuotient,
		Priority:       m.Priority,
		ResponseNeeded: m.ResponseNeeded,
		CollectiveID:   m.CollectiveID,
		CreatedAt:      m.CreatedAt,
	}
}

// MemberView is the wire form of a collective member.
type MemberView struct {
	AgentID          string    `json:"agent_id"`
	Name             string    `json:"name"`
	Role             string    `json:"role"`
	HarmonyResonance float64   `json:"harmony_resonance"`
	Contributions    int       `json:"contributions"`
	PrimaryHarmony   string    `json:"primary_harmony"`
	JoinedAt         time.Time `json:"joined_at"`
}

// CollectiveView is the wire form of a collective with its metrics.
type CollectiveView struct {
	ID                 string       `json:"id"`
	Name               string       `json:"name"`
	Purpose            string       `json:"purpose"`
	PrimaryHarmony     string       `json:"primary_harmony"`
	GuidingPrinciples  []string     `json:"guiding_principles"`
	NorthStar          string       `json:"north_star"`
	CoherenceThreshold float64      `json:"coherence_threshold"`
	Status             string       `json:"status"`
	CreatedBy          string       `json:"created_by"`
	FormationDate      time.Time    `json:"formation_date"`
	MemberCount        int          `json:"member_count"`
	Coherence          float64      `json:"coherence"`
	AverageCoherence   float64      `json:"average_coherence"`
	AverageLove        float64      `json:"average_love"`
	AverageResonance   float64      `json:"average_resonance"`
	Members            []MemberView `json:"members,omitempty"`
}

// ViewCollective converts a collective status.
func ViewCollective(st *collective.Status) CollectiveView {
	c := st.Collective
	v := CollectiveView{
		ID:                 c.ID,
		Name:               c.Name,
		Purpose:            c.Purpose,
		PrimaryHarmony:     c.PrimaryHarmony,
		GuidingPrinciples:  c.GuidingPrinciples,
		NorthStar:          c.NorthStar,
		CoherenceThreshold: c.CoherenceThreshold,
		Status:             c.Status,
		CreatedBy:          c.CreatedBy,
		FormationDate:      c.FormationDate,
		MemberCount:        c.MemberCount,
		Coherence:          st.Coherence,
		AverageCoherence:   st.AverageCoherence,
		AverageLove:        st.AverageLove,
		AverageResonance:   st.AverageResonance,
	}
	for _, m := range st.Members {
		v.Members = append(v.Members, MemberView{
			AgentID:          m.AgentID,
			Name:             m.AgentName,
			Role:             m.Role,
			HarmonyResonance: m.HarmonyResonance,
			Contributions:    m.Contributions,
			PrimaryHarmony:   m.PrimaryHarmony,
			JoinedAt:         m.JoinedAt,
		})
	}
	return v
}

// ViewCollectives converts a list of statuses.
func ViewCollectives(sts []*collective.Status) []CollectiveView {
	out := make([]CollectiveView, 0, len(sts))
	for _, st := range sts {
		out = append(out, ViewCollective(st))
	}
	return out
}

// WorkView is the wire form of a work item.
type WorkView struct {
	ID                string     `json:"id"`
	Title             string     `json:"title"`
	Description       string     `json:"description,omitempty"`
	CreatedBy         string     `json:"created_by"`
	AssignedTo        string     `json:"assigned_to,omitempty"`
	PrimaryHarmony    string     `json:"primary_harmony"`
	GrowthPotential   float64    `json:"growth_potential"`
	CollectiveBenefit string     `json:"collective_benefit"`
	Status            string     `json:"status"`
	Progress          int        `json:"progress"`
	Priority          string     `json:"priority"`
	CompletedBy       string     `json:"completed_by,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
	CompletedAt       *time.Time `json:"completed_at,omitempty"`
}

// ViewWork converts one store row.
func ViewWork(w *store.WorkItem) WorkView {
	v := WorkView{
		ID:                w.ID,
		Title:             w.Title,
		Description:       w.Description,
		CreatedBy:         w.CreatedBy,
		AssignedTo:        w.AssignedTo,
		PrimaryHarmony:    w.PrimaryHarmony,
		GrowthPotential:   w.GrowthPotential,
		CollectiveBenefit: w.CollectiveBenefit,
		Status:            w.Status,
		Progress:          w.Progress,
		Priority:          w.Priority,
		CompletedBy:       w.CompletedBy,
		CreatedAt:         w.CreatedAt,
		UpdatedAt:         w.UpdatedAt,
	}
	if !w.CompletedAt.IsZero() {
		done := w.CompletedAt
		v.CompletedAt = &done
	}
	return v
}

// ViewWorkItems converts store rows.
func ViewWorkItems(items []*store.WorkItem) []WorkView {
	out := make([]WorkView, 0, len(items))
	for _, w := range items {
		out = append(out, ViewWork(w))
	}
	return out
}

// SnapshotView is the wire form of a field-log row.
type SnapshotView struct {
	ID                  int64              `json:"id"`
	Timestamp           time.Time          `json:"timestamp"`
	ActiveAgents        int                `json:"active_agents"`
	AverageCoherence    float64            `json:"average_coherence"`
	LoveFieldStrength   float64            `json:"love_field_strength"`
	CollectiveCoherence float64            `json:"collective_coherence"`
	DominantHarmony     string             `json:"dominant_harmony"`
	Pattern             string             `json:"pattern"`
	Events              []store.FieldEvent `json:"events"`
}

// ViewSnapshot converts a field-log row.
func ViewSnapshot(s *store.FieldSnapshot) SnapshotView {
	events := s.Events
	if events == nil {
		events = []store.FieldEvent{}
	}
	return SnapshotView{
		ID:                  s.ID,
		Timestamp:           s.Timestamp,
		ActiveAgents:        s.ActiveAgents,
		AverageCoherence:    s.AverageCoherence,
		LoveFieldStrength:   s.LoveFieldStrength,
		CollectiveCoherence: s.CollectiveCoherence,
		DominantHarmony:     s.DominantHarmony,
		Pattern:             s.Pattern,
		Events:              events,
	}
}

// ViewSnapshots converts field-log rows.
func ViewSnapshots(rows []*store.FieldSnapshot) []SnapshotView {
	out := make([]SnapshotView, 0, len(rows))
	for _, r := range rows {
		out = append(out, ViewSnapshot(r))
	}
	return out
}
