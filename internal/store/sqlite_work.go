// ABOUTME: Work item persistence for SQLiteStore
// ABOUTME: Completion closes the item and credits the agent in one transaction

package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

const workColumns = `id, title, description, created_by, assigned_to, primary_harmony, growth_potential,
	collective_benefit, status, progress, priority, completed_by, created_at, updated_at, completed_at`

// CreateWork inserts a work item.
func (s *SQLiteStore) CreateWork(ctx context.Context, w *WorkItem) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	query := `INSERT INTO work_items (` + workColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		w.ID,
		w.Title,
		w.Description,
		w.CreatedBy,
		w.AssignedTo,
		w.PrimaryHarmony,
		w.GrowthPotential,
		w.CollectiveBenefit,
		w.Status,
		w.Progress,
		w.Priority,
		w.CompletedBy,
		toMillis(w.CreatedAt),
		toMillis(w.UpdatedAt),
		optionalMillis(w.CompletedAt),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicate
		}
		return wrapErr("inserting work item", err)
	}

	s.logger.Debug("created work item", "id", w.ID, "created_by", w.CreatedBy, "harmony", w.PrimaryHarmony)
	return nil
}

// GetWork retrieves a work item by ID.
func (s *SQLiteStore) GetWork(ctx context.Context, id string) (*WorkItem, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	w, err := scanWork(s.db.QueryRowContext(ctx, `SELECT `+workColumns+` FROM work_items WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, wrapErr("querying work item", err)
	}
	return w, nil
}

// ListWork returns work items newest first.
func (s *SQLiteStore) ListWork(ctx context.Context, openOnly bool, limit int) ([]*WorkItem, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	query := `SELECT ` + workColumns + ` FROM work_items`
	if openOnly {
		query += ` WHERE status != 'completed'`
	}
	query += ` ORDER BY created_at DESC, id DESC` + limitClause(limit)

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, wrapErr("querying work items", err)
	}
	defer rows.Close()

	var out []*WorkItem
	for rows.Next() {
		w, err := scanWork(rows)
		if err != nil {
			return nil, wrapErr("scanning work item", err)
		}
		out = append(out, w)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("iterating work items", err)
	}
	return out, nil
}

// UpdateWorkProgress records progress on an open item.
func (s *SQLiteStore) UpdateWorkProgress(ctx context.Context, id string, progress int, at time.Time) error {
	return s.execOne(ctx, "updating work progress", id,
		`UPDATE work_items SET progress = ?, status = 'in_progress', updated_at = ?
		 WHERE id = ? AND status != 'completed'`,
		progress, toMillis(at), id)
}

// CompleteWork closes the item and credits agentID.
func (s *SQLiteStore) CompleteWork(ctx context.Context, id, agentID string, at time.Time) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapErr("beginning work completion", err)
	}
	defer func() { _ = tx.Rollback() }()

	steps := []struct {
		op    string
		query string
		args  []any
	}{
		{
			op: "completing work item",
			query: `UPDATE work_items
				SET status = 'completed', progress = 100, completed_by = ?, completed_at = ?, updated_at = ?
				WHERE id = ? AND status != 'completed'`,
			args: []any{agentID, toMillis(at), toMillis(at), id},
		},
		{
			op: "crediting completed work",
			query: `UPDATE agents
				SET work_completed = work_completed + 1, last_heartbeat = MAX(last_heartbeat, ?)
				WHERE id = ?`,
			args: []any{toMillis(at), agentID},
		},
	}
	for _, step := range steps {
		result, err := tx.ExecContext(ctx, step.query, step.args...)
		if err != nil {
			return wrapErr(step.op, err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return wrapErr(step.op, err)
		}
		if n == 0 {
			return ErrNotFound
		}
	}
	if err := tx.Commit(); err != nil {
		return wrapErr("committing work completion", err)
	}

	s.logger.Debug("completed work item", "id", id, "agent", agentID)
	return nil
}

func scanWork(row rowScanner) (*WorkItem, error) {
	var w WorkItem
	var createdAt, updatedAt, completedAt int64
	if err := row.Scan(
		&w.ID,
		&w.Title,
		&w.Description,
		&w.CreatedBy,
		&w.AssignedTo,
		&w.PrimaryHarmony,
		&w.GrowthPotential,
		&w.CollectiveBenefit,
		&w.Status,
		&w.Progress,
		&w.Priority,
		&w.CompletedBy,
		&createdAt,
		&updatedAt,
		&completedAt,
	); err != nil {
		return nil, err
	}
	w.CreatedAt = fromMillis(createdAt)
	w.UpdatedAt = fromMillis(updatedAt)
	if completedAt > 0 {
		w.CompletedAt = fromMillis(completedAt)
	}
	return &w, nil
}

// optionalMillis stores the zero time as 0.
func optionalMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return toMillis(t)
}
