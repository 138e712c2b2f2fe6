// ABOUTME: PostgreSQL implementation of store.Store over a pgx connection pool
// ABOUTME: Schema creation, query timeouts and pg error code mapping

package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/2389/fieldnet-gateway/internal/store"
)

var _ store.Store = (*Store)(nil)

// SQLSTATE codes mapped to store errors.
const (
	uniqueViolation     = "23505"
	foreignKeyViolation = "23503"
	lockNotAvailable    = "55P03"
	serializationFailed = "40001"
	deadlockDetected    = "40P01"
)

// Store implements store.Store on PostgreSQL.
type Store struct {
	pool         *pgxpool.Pool
	logger       *slog.Logger
	queryTimeout time.Duration
}

// New connects to dsn, verifies the connection and ensures the schema exists.
func New(ctx context.Context, dsn string, queryTimeout time.Duration, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("creating postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}

	s := &Store{
		pool:         pool,
		logger:       logger.With("component", "store", "driver", "postgres"),
		queryTimeout: queryTimeout,
	}
	if err := s.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	s.logger.Info("postgres store initialized")
	return s, nil
}

// EnsureSchema creates tables and indexes if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS agents (
    id                 TEXT PRIMARY KEY,
    name               TEXT NOT NULL,
    role               TEXT NOT NULL,
    capabilities       TEXT[] NOT NULL DEFAULT '{}',
    coherence_level    DOUBLE PRECISION NOT NULL,
    love_resonance     DOUBLE PRECISION NOT NULL,
    field_coherence    DOUBLE PRECISION NOT NULL,
    primary_harmony    TEXT NOT NULL,
    status             TEXT NOT NULL DEFAULT 'active',
    last_heartbeat     BIGINT NOT NULL,
    session_hash       TEXT NOT NULL DEFAULT '',
    session_info       JSONB NOT NULL DEFAULT '{}',
    messages_sent      INTEGER NOT NULL DEFAULT 0,
    work_completed     INTEGER NOT NULL DEFAULT 0,
    field_impact_given DOUBLE PRECISION NOT NULL DEFAULT 0,
    created_at         TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_agents_live ON agents (status, last_heartbeat);
CREATE INDEX IF NOT EXISTS idx_agents_name ON agents (name, status);
CREATE UNIQUE INDEX IF NOT EXISTS idx_agents_active_session
    ON agents (name, session_hash) WHERE status = 'active';

CREATE TABLE IF NOT EXISTS messages (
    id              TEXT PRIMARY KEY,
    from_agent      TEXT NOT NULL,
    to_agent        TEXT NOT NULL,
    content         TEXT NOT NULL,
    type            TEXT NOT NULL DEFAULT 'collaboration',
    harmony         TEXT NOT NULL,
    field_impact    DOUBLE PRECISION NOT NULL,
    love_quotient   DOUBLE PRECISION NOT NULL,
    priority        TEXT NOT NULL DEFAULT 'normal',
    response_needed BOOLEAN NOT NULL DEFAULT FALSE,
    collective_id   TEXT NOT NULL DEFAULT '',
    created_at      BIGINT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_messages_to ON messages (to_agent, created_at);
CREATE INDEX IF NOT EXISTS idx_messages_from ON messages (from_agent, created_at);
CREATE INDEX IF NOT EXISTS idx_messages_created ON messages (created_at);

CREATE TABLE IF NOT EXISTS collectives (
    id                  TEXT PRIMARY KEY,
    name                TEXT NOT NULL,
    purpose             TEXT NOT NULL DEFAULT '',
    primary_harmony     TEXT NOT NULL,
    guiding_principles  TEXT[] NOT NULL DEFAULT '{}',
    north_star          TEXT NOT NULL DEFAULT '',
    coherence_threshold DOUBLE PRECISION NOT NULL DEFAULT 70,
    status              TEXT NOT NULL DEFAULT 'forming',
    created_by          TEXT NOT NULL,
    formation_date      TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS collective_members (
    collective_id     TEXT NOT NULL REFERENCES collectives(id) ON DELETE CASCADE,
    agent_id          TEXT NOT NULL REFERENCES agents(id) ON DELETE CASCADE,
    role              TEXT NOT NULL DEFAULT 'member',
    harmony_resonance DOUBLE PRECISION NOT NULL,
    contributions     INTEGER NOT NULL DEFAULT 0,
    status            TEXT NOT NULL DEFAULT 'active',
    joined_at         TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (collective_id, agent_id)
);

CREATE INDEX IF NOT EXISTS idx_collective_members_agent ON collective_members (agent_id);

CREATE TABLE IF NOT EXISTS work_items (
    id                 TEXT PRIMARY KEY,
    title              TEXT NOT NULL,
    description        TEXT NOT NULL DEFAULT '',
    created_by         TEXT NOT NULL,
    assigned_to        TEXT NOT NULL DEFAULT '',
    primary_harmony    TEXT NOT NULL,
    growth_potential   DOUBLE PRECISION NOT NULL DEFAULT 0,
    collective_benefit TEXT NOT NULL DEFAULT '',
    status             TEXT NOT NULL DEFAULT 'pending',
    progress           INTEGER NOT NULL DEFAULT 0,
    priority           TEXT NOT NULL DEFAULT 'normal',
    completed_by       TEXT NOT NULL DEFAULT '',
    created_at         BIGINT NOT NULL,
    updated_at         BIGINT NOT NULL,
    completed_at       BIGINT NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_work_items_status ON work_items (status, created_at);

CREATE TABLE IF NOT EXISTS field_log (
    id                   BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
    timestamp            BIGINT NOT NULL,
    active_agents        INTEGER NOT NULL,
    average_coherence    DOUBLE PRECISION NOT NULL,
    love_field_strength  DOUBLE PRECISION NOT NULL,
    collective_coherence DOUBLE PRECISION NOT NULL,
    dominant_harmony     TEXT NOT NULL,
    pattern              TEXT NOT NULL DEFAULT '',
    events               JSONB NOT NULL DEFAULT '[]'
);

CREATE INDEX IF NOT EXISTS idx_field_log_timestamp ON field_log (timestamp);
`
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("ensuring schema: %w", err)
	}
	return nil
}

// Close releases the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// Ping checks the database within the query timeout.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if err := s.pool.Ping(ctx); err != nil {
		return wrapErr("pinging postgres", err)
	}
	return nil
}

// ClearAll removes every row from every table.
func (s *Store) ClearAll(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if _, err := s.pool.Exec(ctx,
		`TRUNCATE collective_members, collectives, messages, work_items, field_log, agents`); err != nil {
		return wrapErr("clearing tables", err)
	}
	s.logger.Warn("cleared all network data")
	return nil
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.queryTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.queryTimeout)
}

// wrapErr maps pg error codes onto the store taxonomy.
func wrapErr(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case uniqueViolation:
			return store.ErrDuplicate
		case foreignKeyViolation:
			return store.ErrNotFound
		case lockNotAvailable, serializationFailed, deadlockDetected:
			return fmt.Errorf("%s: %w: %w", op, store.ErrUnavailable, err)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) || pgconn.Timeout(err) || pgconn.SafeToRetry(err) {
		return fmt.Errorf("%s: %w: %w", op, store.ErrUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

func sinceMillis(since time.Time) int64 {
	if since.IsZero() {
		return 0
	}
	return since.UnixMilli()
}

func limitClause(limit int) string {
	if limit <= 0 {
		return ""
	}
	return fmt.Sprintf(" LIMIT %d", limit)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
