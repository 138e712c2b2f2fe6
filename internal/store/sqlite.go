// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite or mattn/go-sqlite3
// ABOUTME: Provides schema creation, per-call timeouts and uniqueness enforced by indexes

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"
)

// Driver names registered by the two SQLite packages.
const (
	DriverModernc = "sqlite"
	DriverMattn   = "sqlite3"
)

const defaultQueryTimeout = 5 * time.Second

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db           *sql.DB
	logger       *slog.Logger
	queryTimeout time.Duration
}

// SQLiteOption configures a SQLiteStore.
type SQLiteOption func(*sqliteOptions)

type sqliteOptions struct {
	driver       string
	queryTimeout time.Duration
	logger       *slog.Logger
}

// WithDriver selects the database/sql driver: DriverModernc (default) or DriverMattn.
func WithDriver(driver string) SQLiteOption {
	return func(o *sqliteOptions) { o.driver = driver }
}

// WithQueryTimeout bounds every store call. Calls that exceed it fail with ErrUnavailable.
func WithQueryTimeout(d time.Duration) SQLiteOption {
	return func(o *sqliteOptions) { o.queryTimeout = d }
}

// WithLogger sets the logger used by the store.
func WithLogger(l *slog.Logger) SQLiteOption {
	return func(o *sqliteOptions) { o.logger = l }
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string, opts ...SQLiteOption) (*SQLiteStore, error) {
	o := sqliteOptions{
		driver:       DriverModernc,
		queryTimeout: defaultQueryTimeout,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger.With("component", "store")

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	dsn, err := sqliteDSN(o.driver, path, o.queryTimeout)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(o.driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if path == ":memory:" {
		// each connection would otherwise get its own empty database
		db.SetMaxOpenConns(1)
	}

	s := &SQLiteStore{
		db:           db,
		logger:       logger,
		queryTimeout: o.queryTimeout,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path, "driver", o.driver)
	return s, nil
}

// sqliteDSN builds a connection string that applies WAL, foreign keys and a
// busy timeout on every pooled connection, in each driver's own syntax.
func sqliteDSN(driver, path string, busy time.Duration) (string, error) {
	ms := busy.Milliseconds()
	switch driver {
	case DriverModernc:
		if path == ":memory:" {
			return fmt.Sprintf(":memory:?_pragma=foreign_keys(1)&_pragma=busy_timeout(%d)", ms), nil
		}
		return fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(%d)", path, ms), nil
	case DriverMattn:
		if path == ":memory:" {
			return fmt.Sprintf("file::memory:?_foreign_keys=on&_busy_timeout=%d", ms), nil
		}
		return fmt.Sprintf("file:%s?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=%d", path, ms), nil
	default:
		return "", fmt.Errorf("unsupported sqlite driver %q", driver)
	}
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS agents (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		role TEXT NOT NULL,
		capabilities TEXT NOT NULL DEFAULT '[]',
		coherence_level REAL NOT NULL,
		love_resonance REAL NOT NULL,
		field_coherence REAL NOT NULL,
		primary_harmony TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'active',
		last_heartbeat INTEGER NOT NULL,
		session_hash TEXT NOT NULL DEFAULT '',
		session_info TEXT NOT NULL DEFAULT '{}',
		messages_sent INTEGER NOT NULL DEFAULT 0,
		work_completed INTEGER NOT NULL DEFAULT 0,
		field_impact_given REAL NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_agents_live ON agents(status, last_heartbeat);
	CREATE INDEX IF NOT EXISTS idx_agents_name ON agents(name, status);

	-- One active row per (name, session): the backstop for concurrent resolves.
	CREATE UNIQUE INDEX IF NOT EXISTS idx_agents_active_session
		ON agents(name, session_hash) WHERE status = 'active';

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		from_agent TEXT NOT NULL,
		to_agent TEXT NOT NULL,
		content TEXT NOT NULL,
		type TEXT NOT NULL DEFAULT 'collaboration',
		harmony TEXT NOT NULL,
		field_impact REAL NOT NULL,
		love_quotient REAL NOT NULL,
		priority TEXT NOT NULL DEFAULT 'normal',
		response_needed INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_messages_to ON messages(to_agent, created_at);
	CREATE INDEX IF NOT EXISTS idx_messages_from ON messages(from_agent, created_at);
	CREATE INDEX IF NOT EXISTS idx_messages_created ON messages(created_at);

	CREATE TABLE IF NOT EXISTS collectives (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		purpose TEXT NOT NULL DEFAULT '',
		primary_harmony TEXT NOT NULL,
		guiding_principles TEXT NOT NULL DEFAULT '[]',
		north_star TEXT NOT NULL DEFAULT '',
		coherence_threshold REAL NOT NULL DEFAULT 70,
		status TEXT NOT NULL DEFAULT 'forming',
		created_by TEXT NOT NULL,
		formation_date TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS collective_members (
		collective_id TEXT NOT NULL REFERENCES collectives(id) ON DELETE CASCADE,
		agent_id TEXT NOT NULL REFERENCES agents(id) ON DELETE CASCADE,
		role TEXT NOT NULL DEFAULT 'member',
		harmony_resonance REAL NOT NULL,
		contributions INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'active',
		joined_at TEXT NOT NULL,
		PRIMARY KEY (collective_id, agent_id)
	);

	CREATE INDEX IF NOT EXISTS idx_collective_members_agent ON collective_members(agent_id);

	CREATE TABLE IF NOT EXISTS work_items (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		created_by TEXT NOT NULL,
		assigned_to TEXT NOT NULL DEFAULT '',
		primary_harmony TEXT NOT NULL,
		growth_potential REAL NOT NULL DEFAULT 0,
		collective_benefit TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'pending',
		progress INTEGER NOT NULL DEFAULT 0,
		priority TEXT NOT NULL DEFAULT 'normal',
		completed_by TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		completed_at INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_work_items_status ON work_items(status, created_at);

	CREATE TABLE IF NOT EXISTS field_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp INTEGER NOT NULL,
		active_agents INTEGER NOT NULL,
		average_coherence REAL NOT NULL,
		love_field_strength REAL NOT NULL,
		collective_coherence REAL NOT NULL,
		dominant_harmony TEXT NOT NULL,
		events TEXT NOT NULL DEFAULT '[]'
	);

	CREATE INDEX IF NOT EXISTS idx_field_log_timestamp ON field_log(timestamp);
	`

	_, err := s.db.Exec(schema)
	return err
}

// runMigrations applies schema migrations for existing databases.
// These are idempotent - safe to run multiple times.
func (s *SQLiteStore) runMigrations() error {
	// SQLite doesn't support ADD COLUMN IF NOT EXISTS, so we check first
	migrations := []struct {
		table  string
		column string
		apply  string
	}{
		{
			table:  "messages",
			column: "collective_id",
			apply:  `ALTER TABLE messages ADD COLUMN collective_id TEXT NOT NULL DEFAULT ''`,
		},
		{
			table:  "field_log",
			column: "pattern",
			apply:  `ALTER TABLE field_log ADD COLUMN pattern TEXT NOT NULL DEFAULT ''`,
		},
	}

	for _, m := range migrations {
		var exists int
		err := s.db.QueryRow(`SELECT 1 FROM pragma_table_info(?) WHERE name = ?`, m.table, m.column).Scan(&exists)
		if err == nil {
			continue
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("checking %s.%s: %w", m.table, m.column, err)
		}
		if _, err := s.db.Exec(m.apply); err != nil {
			return fmt.Errorf("adding %s column to %s: %w", m.column, m.table, err)
		}
		s.logger.Info("applied migration", "column", m.column, "table", m.table)
	}

	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// Ping checks the database connection within the query timeout.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if err := s.db.PingContext(ctx); err != nil {
		return wrapErr("pinging database", err)
	}
	return nil
}

func (s *SQLiteStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.queryTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.queryTimeout)
}

// wrapErr labels err with the operation and marks transient failures with ErrUnavailable.
func wrapErr(op string, err error) error {
	if isTransient(err) {
		return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// isTransient reports timeouts, lock contention and closed connections.
func isTransient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, sql.ErrConnDone) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "database table is locked") ||
		strings.Contains(msg, "database is closed")
}

// isConstraintViolation checks if the error is a SQLite UNIQUE constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed")
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func toMillis(t time.Time) int64 { return t.UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func parseTime(field, s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing %s: %w", field, err)
	}
	return t, nil
}
