// ABOUTME: Collective and membership persistence for SQLiteStore
// ABOUTME: Member counts are recounted from membership rows on every read

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// CreateCollective inserts a new collective.
func (s *SQLiteStore) CreateCollective(ctx context.Context, c *Collective) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	principles, err := json.Marshal(nonNil(c.GuidingPrinciples))
	if err != nil {
		return fmt.Errorf("marshaling guiding principles: %w", err)
	}

	query := `
		INSERT INTO collectives (id, name, purpose, primary_harmony, guiding_principles, north_star,
			coherence_threshold, status, created_by, formation_date)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = s.db.ExecContext(ctx, query,
		c.ID,
		c.Name,
		c.Purpose,
		c.PrimaryHarmony,
		string(principles),
		c.NorthStar,
		c.CoherenceThreshold,
		c.Status,
		c.CreatedBy,
		formatTime(c.FormationDate),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicate
		}
		return wrapErr("inserting collective", err)
	}

	s.logger.Debug("created collective", "id", c.ID, "name", c.Name, "harmony", c.PrimaryHarmony)
	return nil
}

const collectiveSelect = `
	SELECT c.id, c.name, c.purpose, c.primary_harmony, c.guiding_principles, c.north_star,
		c.coherence_threshold, c.status, c.created_by, c.formation_date,
		(SELECT COUNT(*) FROM collective_members m WHERE m.collective_id = c.id AND m.status = 'active')
	FROM collectives c`

// GetCollective retrieves a collective by ID.
// Returns ErrNotFound if the collective doesn't exist.
func (s *SQLiteStore) GetCollective(ctx context.Context, id string) (*Collective, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	c, err := scanCollective(s.db.QueryRowContext(ctx, collectiveSelect+` WHERE c.id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, wrapErr("querying collective", err)
	}
	return c, nil
}

// ListCollectives returns all collectives, newest first.
func (s *SQLiteStore) ListCollectives(ctx context.Context) ([]*Collective, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, collectiveSelect+` ORDER BY c.formation_date DESC, c.id`)
	if err != nil {
		return nil, wrapErr("querying collectives", err)
	}
	defer rows.Close()

	var collectives []*Collective
	for rows.Next() {
		c, err := scanCollective(rows)
		if err != nil {
			return nil, wrapErr("scanning collective", err)
		}
		collectives = append(collectives, c)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("iterating collectives", err)
	}
	return collectives, nil
}

// UpsertMembership inserts the membership or replaces the existing row for the
// same (collective, agent) pair, then recounts active members in the same transaction.
func (s *SQLiteStore) UpsertMembership(ctx context.Context, m *Membership) (int, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, wrapErr("beginning membership upsert", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := `
		INSERT INTO collective_members (collective_id, agent_id, role, harmony_resonance, contributions, status, joined_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(collective_id, agent_id) DO UPDATE SET
			role = excluded.role,
			harmony_resonance = excluded.harmony_resonance,
			contributions = excluded.contributions,
			status = excluded.status,
			joined_at = excluded.joined_at
	`
	if _, err := tx.ExecContext(ctx, query,
		m.CollectiveID,
		m.AgentID,
		m.Role,
		m.HarmonyResonance,
		m.Contributions,
		m.Status,
		formatTime(m.JoinedAt),
	); err != nil {
		if isForeignKeyViolation(err) {
			return 0, ErrNotFound
		}
		return 0, wrapErr("upserting membership", err)
	}

	var count int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM collective_members WHERE collective_id = ? AND status = 'active'`,
		m.CollectiveID,
	).Scan(&count); err != nil {
		return 0, wrapErr("counting members", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, wrapErr("committing membership", err)
	}

	s.logger.Debug("upserted membership", "collective", m.CollectiveID, "agent", m.AgentID, "members", count)
	return count, nil
}

// GetMembership retrieves one membership row.
// Returns ErrNotFound if the agent never joined the collective.
func (s *SQLiteStore) GetMembership(ctx context.Context, collectiveID, agentID string) (*Membership, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	query := `
		SELECT collective_id, agent_id, role, harmony_resonance, contributions, status, joined_at
		FROM collective_members
		WHERE collective_id = ? AND agent_id = ?
	`
	var m Membership
	var joinedAt string
	err := s.db.QueryRowContext(ctx, query, collectiveID, agentID).Scan(
		&m.CollectiveID, &m.AgentID, &m.Role, &m.HarmonyResonance, &m.Contributions, &m.Status, &joinedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, wrapErr("querying membership", err)
	}
	if m.JoinedAt, err = parseTime("joined_at", joinedAt); err != nil {
		return nil, err
	}
	return &m, nil
}

// ListMembers returns the active members of a collective with their agent metrics.
func (s *SQLiteStore) ListMembers(ctx context.Context, collectiveID string) ([]*Member, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	query := `
		SELECT m.collective_id, m.agent_id, m.role, m.harmony_resonance, m.contributions, m.status, m.joined_at,
			a.name, a.status, a.coherence_level, a.love_resonance, a.primary_harmony
		FROM collective_members m
		JOIN agents a ON a.id = m.agent_id
		WHERE m.collective_id = ? AND m.status = 'active'
		ORDER BY m.joined_at, m.agent_id
	`
	rows, err := s.db.QueryContext(ctx, query, collectiveID)
	if err != nil {
		return nil, wrapErr("querying members", err)
	}
	defer rows.Close()

	var members []*Member
	for rows.Next() {
		var mem Member
		var joinedAt string
		if err := rows.Scan(
			&mem.CollectiveID, &mem.AgentID, &mem.Role, &mem.HarmonyResonance, &mem.Contributions, &mem.Status, &joinedAt,
			&mem.AgentName, &mem.AgentStatus, &mem.CoherenceLevel, &mem.LoveResonance, &mem.PrimaryHarmony,
		); err != nil {
			return nil, wrapErr("scanning member", err)
		}
		if mem.JoinedAt, err = parseTime("joined_at", joinedAt); err != nil {
			return nil, err
		}
		members = append(members, &mem)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("iterating members", err)
	}
	return members, nil
}

// IncrementContributions bumps a member's contribution counter.
func (s *SQLiteStore) IncrementContributions(ctx context.Context, collectiveID, agentID string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	result, err := s.db.ExecContext(ctx,
		`UPDATE collective_members SET contributions = contributions + 1 WHERE collective_id = ? AND agent_id = ?`,
		collectiveID, agentID)
	if err != nil {
		return wrapErr("incrementing contributions", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return wrapErr("incrementing contributions", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanCollective(row rowScanner) (*Collective, error) {
	var c Collective
	var principles, formed string
	if err := row.Scan(
		&c.ID,
		&c.Name,
		&c.Purpose,
		&c.PrimaryHarmony,
		&principles,
		&c.NorthStar,
		&c.CoherenceThreshold,
		&c.Status,
		&c.CreatedBy,
		&formed,
		&c.MemberCount,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(principles), &c.GuidingPrinciples); err != nil {
		return nil, fmt.Errorf("parsing guiding principles: %w", err)
	}
	var err error
	if c.FormationDate, err = parseTime("formation_date", formed); err != nil {
		return nil, err
	}
	return &c, nil
}

// isForeignKeyViolation checks for a SQLite FOREIGN KEY constraint failure.
func isForeignKeyViolation(err error) bool {
	return err != nil && containsAny(err.Error(), "FOREIGN KEY constraint failed", "foreign key")
}
