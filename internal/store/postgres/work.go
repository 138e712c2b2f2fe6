// ABOUTME: Work item persistence for the PostgreSQL store
// ABOUTME: Completion closes the item and credits the agent inside one transaction

package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/2389/fieldnet-gateway/internal/store"
)

const workColumns = `id, title, description, created_by, assigned_to, primary_harmony, growth_potential,
    collective_benefit, status, progress, priority, completed_by, created_at, updated_at, completed_at`

func (s *Store) CreateWork(ctx context.Context, w *store.WorkItem) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var completedAt int64
	if !w.CompletedAt.IsZero() {
		completedAt = w.CompletedAt.UnixMilli()
	}
	query := `INSERT INTO work_items (` + workColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`
	_, err := s.pool.Exec(ctx, query,
		w.ID, w.Title, w.Description, w.CreatedBy, w.AssignedTo,
		w.PrimaryHarmony, w.GrowthPotential, w.CollectiveBenefit,
		w.Status, w.Progress, w.Priority, w.CompletedBy,
		w.CreatedAt.UnixMilli(), w.UpdatedAt.UnixMilli(), completedAt,
	)
	if err != nil {
		return wrapErr("inserting work item", err)
	}
	return nil
}

func (s *Store) GetWork(ctx context.Context, id string) (*store.WorkItem, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	w, err := scanWork(s.pool.QueryRow(ctx, `SELECT `+workColumns+` FROM work_items WHERE id = $1`, id))
	if isNoRows(err) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, wrapErr("querying work item", err)
	}
	return w, nil
}

func (s *Store) ListWork(ctx context.Context, openOnly bool, limit int) ([]*store.WorkItem, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	query := `SELECT ` + workColumns + ` FROM work_items`
	if openOnly {
		query += ` WHERE status <> 'completed'`
	}
	query += ` ORDER BY created_at DESC, id DESC` + limitClause(limit)

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, wrapErr("querying work items", err)
	}
	defer rows.Close()

	var out []*store.WorkItem
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

func (s *Store) UpdateWorkProgress(ctx context.Context, id string, progress int, at time.Time) error {
	return s.execOne(ctx, "updating work progress",
		`UPDATE work_items SET progress = $1, status = 'in_progress', updated_at = $2
WHERE id = $3 AND status <> 'completed'`,
		progress, at.UnixMilli(), id)
}

func (s *Store) CompleteWork(ctx context.Context, id, agentID string, at time.Time) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	ms := at.UnixMilli()
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `UPDATE work_items
SET status = 'completed', progress = 100, completed_by = $1, completed_at = $2, updated_at = $2
WHERE id = $3 AND status <> 'completed'`, agentID, ms, id)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return store.ErrNotFound
		}
		tag, err = tx.Exec(ctx, `UPDATE agents
SET work_completed = work_completed + 1, last_heartbeat = GREATEST(last_heartbeat, $1)
WHERE id = $2`, ms, agentID)
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
		return wrapErr("completing work item", err)
	}
	return nil
}

func scanWork(row pgx.Row) (*store.WorkItem, error) {
	var w store.WorkItem
	var createdAt, updatedAt, completedAt int64
	if err := row.Scan(
		&w.ID, &w.Title, &w.Description, &w.CreatedBy, &w.AssignedTo,
		&w.PrimaryHarmony, &w.GrowthPotential, &w.CollectiveBenefit,
		&w.Status, &w.Progress, &w.Priority, &w.CompletedBy,
		&createdAt, &updatedAt, &completedAt,
	); err != nil {
		return nil, err
	}
	w.CreatedAt = time.UnixMilli(createdAt).UTC()
	w.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	if completedAt > 0 {
		w.CompletedAt = time.UnixMilli(completedAt).UTC()
	}
	return &w, nil
}
