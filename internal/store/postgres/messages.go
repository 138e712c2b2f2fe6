// ABOUTME: Message persistence for the PostgreSQL store
// ABOUTME: Transactional delivery plus inbox, conversation and window queries ordered newest first

package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/2389/fieldnet-gateway/internal/store"
)

const messageColumns = `id, from_agent, to_agent, content, type, harmony, field_impact, love_quotient,
    priority, response_needed, collective_id, created_at`

const insertMessageQuery = `INSERT INTO messages (` + messageColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

func messageArgs(m *store.Message) []any {
	return []any{
		m.ID, m.FromAgent, m.ToAgent, m.Content, m.Type, m.Harmony,
		m.FieldImpact, m.LoveQuotient, m.Priority, m.ResponseNeeded, m.CollectiveID,
		m.CreatedAt.UnixMilli(),
	}
}

func (s *Store) SaveMessage(ctx context.Context, m *store.Message) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if _, err := s.pool.Exec(ctx, insertMessageQuery, messageArgs(m)...); err != nil {
		return wrapErr("inserting message", err)
	}
	return nil
}

func (s *Store) DeliverMessage(ctx context.Context, m *store.Message) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, insertMessageQuery, messageArgs(m)...); err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, recordSendQuery, m.FieldImpact, m.CreatedAt.UnixMilli(), m.FromAgent)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return store.ErrNotFound
		}
		return nil
	})
	if errors.Is(err, store.ErrNotFound) {
		return err
	}
	if err != nil {
		return wrapErr("delivering message", err)
	}
	return nil
}

func (s *Store) ListInbox(ctx context.Context, agentID string, since time.Time, limit int) ([]*store.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages
WHERE to_agent = $1 AND created_at > $2
ORDER BY created_at DESC, id DESC` + limitClause(limit)
	return s.queryMessages(ctx, "querying inbox", query, agentID, sinceMillis(since))
}

func (s *Store) ListConversation(ctx context.Context, agentID string, limit int) ([]*store.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages
WHERE from_agent = $1 OR to_agent = $1
ORDER BY created_at DESC, id DESC` + limitClause(limit)
	return s.queryMessages(ctx, "querying conversation", query, agentID)
}

func (s *Store) ListMessagesSince(ctx context.Context, since time.Time, limit int) ([]*store.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages
WHERE created_at > $1
ORDER BY created_at DESC, id DESC` + limitClause(limit)
	return s.queryMessages(ctx, "querying messages", query, sinceMillis(since))
}

func (s *Store) queryMessages(ctx context.Context, op, query string, args ...any) ([]*store.Message, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, wrapErr(op, err)
	}
	defer rows.Close()

	var out []*store.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, wrapErr("scanning message", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr(op, err)
	}
	return out, nil
}

func scanMessage(row pgx.Row) (*store.Message, error) {
	var m store.Message
	var createdAt int64
	if err := row.Scan(
		&m.ID, &m.FromAgent, &m.ToAgent, &m.Content, &m.Type, &m.Harmony,
		&m.FieldImpact, &m.LoveQuotient, &m.Priority, &m.ResponseNeeded, &m.CollectiveID,
		&createdAt,
	); err != nil {
		return nil, err
	}
	m.CreatedAt = time.UnixMilli(createdAt).UTC()
	return &m, nil
}
