// ABOUTME: Agent persistence for the PostgreSQL store
// ABOUTME: Mirrors the SQLite semantics with GREATEST for monotonic heartbeats

package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/2389/fieldnet-gateway/internal/store"
)

const agentColumns = `id, name, role, capabilities, coherence_level, love_resonance, field_coherence,
    primary_harmony, status, last_heartbeat, session_info, messages_sent, work_completed,
    field_impact_given, created_at`

func (s *Store) CreateAgent(ctx context.Context, a *store.Agent) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	session, err := json.Marshal(a.Session)
	if err != nil {
		return fmt.Errorf("marshaling session info: %w", err)
	}

	query := `
INSERT INTO agents (id, name, role, capabilities, coherence_level, love_resonance, field_coherence,
    primary_harmony, status, last_heartbeat, session_hash, session_info, messages_sent,
    work_completed, field_impact_given, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
`
	_, err = s.pool.Exec(ctx, query,
		a.ID, a.Name, a.Role, nonNil(a.Capabilities),
		a.CoherenceLevel, a.LoveResonance, a.FieldCoherence,
		a.PrimaryHarmony, a.Status, a.LastHeartbeat.UnixMilli(),
		a.Session.SessionHash, session,
		a.MessagesSent, a.WorkCompleted, a.FieldImpactGiven, a.CreatedAt.UTC(),
	)
	if err != nil {
		return wrapErr("inserting agent", err)
	}
	return nil
}

func (s *Store) GetAgent(ctx context.Context, id string) (*store.Agent, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	a, err := scanAgent(s.pool.QueryRow(ctx, `SELECT `+agentColumns+` FROM agents WHERE id = $1`, id))
	if isNoRows(err) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, wrapErr("querying agent", err)
	}
	return a, nil
}

func (s *Store) FindActiveAgentByName(ctx context.Context, name string) (*store.Agent, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	query := `SELECT ` + agentColumns + ` FROM agents
WHERE name = $1 AND status = 'active'
ORDER BY last_heartbeat DESC
LIMIT 1`
	a, err := scanAgent(s.pool.QueryRow(ctx, query, name))
	if isNoRows(err) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, wrapErr("querying agent by name", err)
	}
	return a, nil
}

func (s *Store) FindActiveAgentBySession(ctx context.Context, name, sessionHash string) (*store.Agent, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	query := `SELECT ` + agentColumns + ` FROM agents
WHERE name = $1 AND session_hash = $2 AND status = 'active'`
	a, err := scanAgent(s.pool.QueryRow(ctx, query, name, sessionHash))
	if isNoRows(err) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, wrapErr("querying agent by session", err)
	}
	return a, nil
}

func (s *Store) ListLiveAgents(ctx context.Context, since time.Time) ([]*store.Agent, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	query := `SELECT ` + agentColumns + ` FROM agents
WHERE status = 'active' AND last_heartbeat > $1
ORDER BY last_heartbeat DESC, id`
	rows, err := s.pool.Query(ctx, query, since.UnixMilli())
	if err != nil {
		return nil, wrapErr("querying live agents", err)
	}
	defer rows.Close()

	var agents []*store.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, wrapErr("scanning agent", err)
		}
		agents = append(agents, a)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("iterating agents", err)
	}
	return agents, nil
}

func (s *Store) TouchAgent(ctx context.Context, id string, at time.Time) error {
	return s.execOne(ctx, "touching agent",
		`UPDATE agents SET last_heartbeat = GREATEST(last_heartbeat, $1) WHERE id = $2`,
		at.UnixMilli(), id)
}

func (s *Store) UpdateAgentSession(ctx context.Context, id string, info store.SessionInfo, at time.Time) error {
	session, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("marshaling session info: %w", err)
	}
	return s.execOne(ctx, "updating agent session",
		`UPDATE agents SET session_hash = $1, session_info = $2, last_heartbeat = GREATEST(last_heartbeat, $3) WHERE id = $4`,
		info.SessionHash, session, at.UnixMilli(), id)
}

func (s *Store) SetAgentStatus(ctx context.Context, id, status string) error {
	return s.execOne(ctx, "setting agent status",
		`UPDATE agents SET status = $1 WHERE id = $2`, status, id)
}

const recordSendQuery = `UPDATE agents
SET messages_sent = messages_sent + 1,
    field_impact_given = field_impact_given + $1,
    last_heartbeat = GREATEST(last_heartbeat, $2)
WHERE id = $3`

func (s *Store) execOne(ctx context.Context, op, query string, args ...any) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return wrapErr(op, err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func scanAgent(row pgx.Row) (*store.Agent, error) {
	var a store.Agent
	var heartbeat int64
	var session []byte
	if err := row.Scan(
		&a.ID, &a.Name, &a.Role, &a.Capabilities,
		&a.CoherenceLevel, &a.LoveResonance, &a.FieldCoherence,
		&a.PrimaryHarmony, &a.Status, &heartbeat, &session,
		&a.MessagesSent, &a.WorkCompleted, &a.FieldImpactGiven, &a.CreatedAt,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(session, &a.Session); err != nil {
		return nil, fmt.Errorf("parsing session info: %w", err)
	}
	a.LastHeartbeat = time.UnixMilli(heartbeat).UTC()
	a.CreatedAt = a.CreatedAt.UTC()
	return &a, nil
}
