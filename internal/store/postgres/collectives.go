// ABOUTME: Collective, membership and field-log persistence for the PostgreSQL store
// ABOUTME: Membership upserts use ON CONFLICT and recount members in the same transaction

package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/2389/fieldnet-gateway/internal/store"
)

func (s *Store) CreateCollective(ctx context.Context, c *store.Collective) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	query := `
INSERT INTO collectives (id, name, purpose, primary_harmony, guiding_principles, north_star,
    coherence_threshold, status, created_by, formation_date)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	_, err := s.pool.Exec(ctx, query,
		c.ID, c.Name, c.Purpose, c.PrimaryHarmony, nonNil(c.GuidingPrinciples), c.NorthStar,
		c.CoherenceThreshold, c.Status, c.CreatedBy, c.FormationDate.UTC(),
	)
	if err != nil {
		return wrapErr("inserting collective", err)
	}
	return nil
}

const collectiveSelect = `
SELECT c.id, c.name, c.purpose, c.primary_harmony, c.guiding_principles, c.north_star,
    c.coherence_threshold, c.status, c.created_by, c.formation_date,
    (SELECT COUNT(*) FROM collective_members m WHERE m.collective_id = c.id AND m.status = 'active')
FROM collectives c`

func (s *Store) GetCollective(ctx context.Context, id string) (*store.Collective, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	c, err := scanCollective(s.pool.QueryRow(ctx, collectiveSelect+` WHERE c.id = $1`, id))
	if isNoRows(err) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, wrapErr("querying collective", err)
	}
	return c, nil
}

func (s *Store) ListCollectives(ctx context.Context) ([]*store.Collective, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.pool.Query(ctx, collectiveSelect+` ORDER BY c.formation_date DESC, c.id`)
	if err != nil {
		return nil, wrapErr("querying collectives", err)
	}
	defer rows.Close()

	var out []*store.Collective
	for rows.Next() {
		c, err := scanCollective(rows)
		if err != nil {
			return nil, wrapErr("scanning collective", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("iterating collectives", err)
	}
	return out, nil
}

func (s *Store) UpsertMembership(ctx context.Context, m *store.Membership) (int, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var count int
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
INSERT INTO collective_members (collective_id, agent_id, role, harmony_resonance, contributions, status, joined_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (collective_id, agent_id) DO UPDATE SET
    role = EXCLUDED.role,
    harmony_resonance = EXCLUDED.harmony_resonance,
    contributions = EXCLUDED.contributions,
    status = EXCLUDED.status,
    joined_at = EXCLUDED.joined_at`,
			m.CollectiveID, m.AgentID, m.Role, m.HarmonyResonance, m.Contributions, m.Status, m.JoinedAt.UTC())
		if err != nil {
			return err
		}
		return tx.QueryRow(ctx,
			`SELECT COUNT(*) FROM collective_members WHERE collective_id = $1 AND status = 'active'`,
			m.CollectiveID).Scan(&count)
	})
	if err != nil {
		return 0, wrapErr("upserting membership", err)
	}
	return count, nil
}

func (s *Store) GetMembership(ctx context.Context, collectiveID, agentID string) (*store.Membership, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var m store.Membership
	err := s.pool.QueryRow(ctx, `
SELECT collective_id, agent_id, role, harmony_resonance, contributions, status, joined_at
FROM collective_members
WHERE collective_id = $1 AND agent_id = $2`, collectiveID, agentID).Scan(
		&m.CollectiveID, &m.AgentID, &m.Role, &m.HarmonyResonance, &m.Contributions, &m.Status, &m.JoinedAt,
	)
	if isNoRows(err) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, wrapErr("querying membership", err)
	}
	m.JoinedAt = m.JoinedAt.UTC()
	return &m, nil
}

func (s *Store) ListMembers(ctx context.Context, collectiveID string) ([]*store.Member, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.pool.Query(ctx, `
SELECT m.collective_id, m.agent_id, m.role, m.harmony_resonance, m.contributions, m.status, m.joined_at,
    a.name, a.status, a.coherence_level, a.love_resonance, a.primary_harmony
FROM collective_members m
JOIN agents a ON a.id = m.agent_id
WHERE m.collective_id = $1 AND m.status = 'active'
ORDER BY m.joined_at, m.agent_id`, collectiveID)
	if err != nil {
		return nil, wrapErr("querying members", err)
	}
	defer rows.Close()

	var out []*store.Member
	for rows.Next() {
		var mem store.Member
		if err := rows.Scan(
			&mem.CollectiveID, &mem.AgentID, &mem.Role, &mem.HarmonyResonance, &mem.Contributions, &mem.Status, &mem.JoinedAt,
			&mem.AgentName, &mem.AgentStatus, &mem.CoherenceLevel, &mem.LoveResonance, &mem.PrimaryHarmony,
		); err != nil {
			return nil, wrapErr("scanning member", err)
		}
		mem.JoinedAt = mem.JoinedAt.UTC()
		out = append(out, &mem)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("iterating members", err)
	}
	return out, nil
}

func (s *Store) IncrementContributions(ctx context.Context, collectiveID, agentID string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	tag, err := s.pool.Exec(ctx,
		`UPDATE collective_members SET contributions = contributions + 1 WHERE collective_id = $1 AND agent_id = $2`,
		collectiveID, agentID)
	if err != nil {
		return wrapErr("incrementing contributions", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) AppendFieldSnapshot(ctx context.Context, snap *store.FieldSnapshot) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	events := snap.Events
	if events == nil {
		events = []store.FieldEvent{}
	}
	raw, err := json.Marshal(events)
	if err != nil {
		return fmt.Errorf("marshaling field events: %w", err)
	}

	err = s.pool.QueryRow(ctx, `
INSERT INTO field_log (timestamp, active_agents, average_coherence, love_field_strength,
    collective_coherence, dominant_harmony, pattern, events)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING id`,
		snap.Timestamp.UnixMilli(), snap.ActiveAgents, snap.AverageCoherence, snap.LoveFieldStrength,
		snap.CollectiveCoherence, snap.DominantHarmony, snap.Pattern, raw,
	).Scan(&snap.ID)
	if err != nil {
		return wrapErr("inserting field snapshot", err)
	}
	return nil
}

func (s *Store) ListFieldSnapshots(ctx context.Context, limit int) ([]*store.FieldSnapshot, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.pool.Query(ctx, `
SELECT id, timestamp, active_agents, average_coherence, love_field_strength,
    collective_coherence, dominant_harmony, pattern, events
FROM field_log
ORDER BY timestamp DESC, id DESC`+limitClause(limit))
	if err != nil {
		return nil, wrapErr("querying field log", err)
	}
	defer rows.Close()

	var out []*store.FieldSnapshot
	for rows.Next() {
		var snap store.FieldSnapshot
		var ts int64
		var raw []byte
		if err := rows.Scan(
			&snap.ID, &ts, &snap.ActiveAgents, &snap.AverageCoherence, &snap.LoveFieldStrength,
			&snap.CollectiveCoherence, &snap.DominantHarmony, &snap.Pattern, &raw,
		); err != nil {
			return nil, wrapErr("scanning field snapshot", err)
		}
		snap.Timestamp = time.UnixMilli(ts).UTC()
		if err := json.Unmarshal(raw, &snap.Events); err != nil {
			return nil, fmt.Errorf("parsing field events: %w", err)
		}
		out = append(out, &snap)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("iterating field log", err)
	}
	return out, nil
}

func scanCollective(row pgx.Row) (*store.Collective, error) {
	var c store.Collective
	var count int64
	if err := row.Scan(
		&c.ID, &c.Name, &c.Purpose, &c.PrimaryHarmony, &c.GuidingPrinciples, &c.NorthStar,
		&c.CoherenceThreshold, &c.Status, &c.CreatedBy, &c.FormationDate, &count,
	); err != nil {
		return nil, err
	}
	c.MemberCount = int(count)
	c.FormationDate = c.FormationDate.UTC()
	return &c, nil
}
