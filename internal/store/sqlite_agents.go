// ABOUTME: Agent persistence for SQLiteStore
// ABOUTME: Registration rows, session lookups, monotonic heartbeats and the admin clear

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const agentColumns = `id, name, role, capabilities, coherence_level, love_resonance, field_coherence,
	primary_harmony, status, last_heartbeat, session_info, messages_sent, work_completed,
	field_impact_given, created_at`

// CreateAgent inserts a new agent row.
// Returns ErrDuplicate if an active row already holds the same name and session hash.
func (s *SQLiteStore) CreateAgent(ctx context.Context, agent *Agent) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	caps, err := json.Marshal(nonNil(agent.Capabilities))
	if err != nil {
		return fmt.Errorf("marshaling capabilities: %w", err)
	}
	session, err := json.Marshal(agent.Session)
	if err != nil {
		return fmt.Errorf("marshaling session info: %w", err)
	}

	query := `
		INSERT INTO agents (id, name, role, capabilities, coherence_level, love_resonance, field_coherence,
			primary_harmony, status, last_heartbeat, session_hash, session_info, messages_sent,
			work_completed, field_impact_given, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = s.db.ExecContext(ctx, query,
		agent.ID,
		agent.Name,
		agent.Role,
		string(caps),
		agent.CoherenceLevel,
		agent.LoveResonance,
		agent.FieldCoherence,
		agent.PrimaryHarmony,
		agent.Status,
		toMillis(agent.LastHeartbeat),
		agent.Session.SessionHash,
		string(session),
		agent.MessagesSent,
		agent.WorkCompleted,
		agent.FieldImpactGiven,
		formatTime(agent.CreatedAt),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicate
		}
		return wrapErr("inserting agent", err)
	}

	s.logger.Debug("created agent", "id", agent.ID, "name", agent.Name, "role", agent.Role)
	return nil
}

// GetAgent retrieves an agent by ID.
// Returns ErrNotFound if the agent doesn't exist.
func (s *SQLiteStore) GetAgent(ctx context.Context, id string) (*Agent, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	row := s.db.QueryRowContext(ctx, `SELECT `+agentColumns+` FROM agents WHERE id = ?`, id)
	agent, err := scanAgent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, wrapErr("querying agent", err)
	}
	return agent, nil
}

// FindActiveAgentByName returns the most recently heartbeating active row for name.
func (s *SQLiteStore) FindActiveAgentByName(ctx context.Context, name string) (*Agent, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	query := `SELECT ` + agentColumns + ` FROM agents
		WHERE name = ? AND status = 'active'
		ORDER BY last_heartbeat DESC
		LIMIT 1`
	agent, err := scanAgent(s.db.QueryRowContext(ctx, query, name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, wrapErr("querying agent by name", err)
	}
	return agent, nil
}

// FindActiveAgentBySession returns the active row for name held by sessionHash.
func (s *SQLiteStore) FindActiveAgentBySession(ctx context.Context, name, sessionHash string) (*Agent, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	query := `SELECT ` + agentColumns + ` FROM agents
		WHERE name = ? AND session_hash = ? AND status = 'active'`
	agent, err := scanAgent(s.db.QueryRowContext(ctx, query, name, sessionHash))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, wrapErr("querying agent by session", err)
	}
	return agent, nil
}

// ListLiveAgents returns active agents that heartbeated after since, most recent first.
func (s *SQLiteStore) ListLiveAgents(ctx context.Context, since time.Time) ([]*Agent, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	query := `SELECT ` + agentColumns + ` FROM agents
		WHERE status = 'active' AND last_heartbeat > ?
		ORDER BY last_heartbeat DESC, id`
	rows, err := s.db.QueryContext(ctx, query, toMillis(since))
	if err != nil {
		return nil, wrapErr("querying live agents", err)
	}
	defer rows.Close()

	var agents []*Agent
	for rows.Next() {
		agent, err := scanAgent(rows)
		if err != nil {
			return nil, wrapErr("scanning agent", err)
		}
		agents = append(agents, agent)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("iterating agents", err)
	}
	return agents, nil
}

// TouchAgent advances last_heartbeat to at, never backwards.
func (s *SQLiteStore) TouchAgent(ctx context.Context, id string, at time.Time) error {
	return s.execOne(ctx, "touching agent", id,
		`UPDATE agents SET last_heartbeat = MAX(last_heartbeat, ?) WHERE id = ?`,
		toMillis(at), id)
}

// UpdateAgentSession replaces the session blob and touches the heartbeat.
func (s *SQLiteStore) UpdateAgentSession(ctx context.Context, id string, info SessionInfo, at time.Time) error {
	session, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("marshaling session info: %w", err)
	}
	return s.execOne(ctx, "updating agent session", id,
		`UPDATE agents SET session_hash = ?, session_info = ?, last_heartbeat = MAX(last_heartbeat, ?) WHERE id = ?`,
		info.SessionHash, string(session), toMillis(at), id)
}

// SetAgentStatus changes an agent's status.
func (s *SQLiteStore) SetAgentStatus(ctx context.Context, id, status string) error {
	return s.execOne(ctx, "setting agent status", id,
		`UPDATE agents SET status = ? WHERE id = ?`, status, id)
}

// recordSendQuery bumps the sender counters and touches the heartbeat.
const recordSendQuery = `UPDATE agents
	SET messages_sent = messages_sent + 1,
	    field_impact_given = field_impact_given + ?,
	    last_heartbeat = MAX(last_heartbeat, ?)
	WHERE id = ?`

// execOne runs a single-row update, mapping zero affected rows to ErrNotFound.
func (s *SQLiteStore) execOne(ctx context.Context, op, id, query string, args ...any) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicate
		}
		return wrapErr(op, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return wrapErr(op, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ClearAll removes every row from every table in one transaction.
func (s *SQLiteStore) ClearAll(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapErr("beginning clear", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, table := range []string{"collective_members", "collectives", "messages", "work_items", "field_log", "agents"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return wrapErr("clearing "+table, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return wrapErr("committing clear", err)
	}

	s.logger.Warn("cleared all network data")
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAgent(row rowScanner) (*Agent, error) {
	var a Agent
	var caps, session, createdAt string
	var heartbeat int64

	if err := row.Scan(
		&a.ID,
		&a.Name,
		&a.Role,
		&caps,
		&a.CoherenceLevel,
		&a.LoveResonance,
		&a.FieldCoherence,
		&a.PrimaryHarmony,
		&a.Status,
		&heartbeat,
		&session,
		&a.MessagesSent,
		&a.WorkCompleted,
		&a.FieldImpactGiven,
		&createdAt,
	); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(caps), &a.Capabilities); err != nil {
		return nil, fmt.Errorf("parsing capabilities: %w", err)
	}
	if err := json.Unmarshal([]byte(session), &a.Session); err != nil {
		return nil, fmt.Errorf("parsing session info: %w", err)
	}
	a.LastHeartbeat = fromMillis(heartbeat)

	var err error
	if a.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
		return nil, err
	}
	return &a, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
