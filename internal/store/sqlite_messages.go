// ABOUTME: Message persistence for SQLiteStore
// ABOUTME: Immutable message rows, transactional delivery, inbox, conversation and window queries

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const messageColumns = `id, from_agent, to_agent, content, type, harmony, field_impact, love_quotient,
	priority, response_needed, collective_id, created_at`

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// SaveMessage inserts a message. Messages are never updated afterwards.
func (s *SQLiteStore) SaveMessage(ctx context.Context, msg *Message) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if err := insertMessage(ctx, s.db, msg); err != nil {
		return err
	}
	s.logger.Debug("saved message", "id", msg.ID, "from", msg.FromAgent, "to", msg.ToAgent, "harmony", msg.Harmony)
	return nil
}

// DeliverMessage inserts msg and bumps its sender's counters in one transaction.
func (s *SQLiteStore) DeliverMessage(ctx context.Context, msg *Message) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapErr("beginning delivery", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := insertMessage(ctx, tx, msg); err != nil {
		return err
	}
	result, err := tx.ExecContext(ctx, recordSendQuery, msg.FieldImpact, toMillis(msg.CreatedAt), msg.FromAgent)
	if err != nil {
		return wrapErr("recording send", err)
	}
	if n, err := result.RowsAffected(); err != nil {
		return wrapErr("recording send", err)
	} else if n == 0 {
		return ErrNotFound
	}
	if err := tx.Commit(); err != nil {
		return wrapErr("committing delivery", err)
	}

	s.logger.Debug("delivered message", "id", msg.ID, "from", msg.FromAgent, "to", msg.ToAgent, "harmony", msg.Harmony)
	return nil
}

func insertMessage(ctx context.Context, db execer, msg *Message) error {
	query := `
		INSERT INTO messages (` + messageColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := db.ExecContext(ctx, query,
		msg.ID,
		msg.FromAgent,
		msg.ToAgent,
		msg.Content,
		msg.Type,
		msg.Harmony,
		msg.FieldImpact,
		msg.LoveQuotient,
		msg.Priority,
		boolToInt(msg.ResponseNeeded),
		msg.CollectiveID,
		toMillis(msg.CreatedAt),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicate
		}
		return wrapErr("inserting message", err)
	}
	return nil
}

// ListInbox returns messages addressed to agentID created after since, newest first.
func (s *SQLiteStore) ListInbox(ctx context.Context, agentID string, since time.Time, limit int) ([]*Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages
		WHERE to_agent = ? AND created_at > ?
		ORDER BY created_at DESC, id DESC` + limitClause(limit)
	return s.queryMessages(ctx, "querying inbox", query, agentID, sinceMillis(since))
}

// ListConversation returns messages sent or received by agentID, newest first.
func (s *SQLiteStore) ListConversation(ctx context.Context, agentID string, limit int) ([]*Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages
		WHERE from_agent = ? OR to_agent = ?
		ORDER BY created_at DESC, id DESC` + limitClause(limit)
	return s.queryMessages(ctx, "querying conversation", query, agentID, agentID)
}

// ListMessagesSince returns every message created after since, newest first.
func (s *SQLiteStore) ListMessagesSince(ctx context.Context, since time.Time, limit int) ([]*Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages
		WHERE created_at > ?
		ORDER BY created_at DESC, id DESC` + limitClause(limit)
	return s.queryMessages(ctx, "querying messages", query, sinceMillis(since))
}

func (s *SQLiteStore) queryMessages(ctx context.Context, op, query string, args ...any) ([]*Message, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapErr(op, err)
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, wrapErr("scanning message", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr(op, err)
	}
	return messages, nil
}

func scanMessage(row rowScanner) (*Message, error) {
	var m Message
	var responseNeeded int
	var createdAt int64
	var collectiveID sql.NullString

	if err := row.Scan(
		&m.ID,
		&m.FromAgent,
		&m.ToAgent,
		&m.Content,
		&m.Type,
		&m.Harmony,
		&m.FieldImpact,
		&m.LoveQuotient,
		&m.Priority,
		&responseNeeded,
		&collectiveID,
		&createdAt,
	); err != nil {
		return nil, err
	}
	m.ResponseNeeded = responseNeeded != 0
	m.CollectiveID = collectiveID.String
	m.CreatedAt = fromMillis(createdAt)
	return &m, nil
}

// sinceMillis maps the zero time to "everything".
func sinceMillis(since time.Time) int64 {
	if since.IsZero() {
		return 0
	}
	return toMillis(since)
}

func limitClause(limit int) string {
	if limit <= 0 {
		return ""
	}
	return fmt.Sprintf(" LIMIT %d", limit)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
