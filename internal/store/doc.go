// Package store provides durable storage for the presence network.
//
// # Architecture
//
// Store is a single interface covering agents, messages, collectives,
// memberships and the field-state log. Implementations:
//
//   - SQLiteStore: modernc.org/sqlite (driver "sqlite", default) or
//     github.com/mattn/go-sqlite3 (driver "sqlite3", cgo)
//   - postgres.Store: PostgreSQL over pgx (package store/postgres)
//   - MockStore: in-memory, with FailWith for failure injection
//
// The storetest package holds the behavioural suite every implementation passes.
//
// # Correctness Backstops
//
// Uniqueness is enforced by the database, not by callers, because several
// processes may share one database:
//
//   - agents: unique (name, session_hash) among rows with status 'active'
//   - collective_members: primary key (collective_id, agent_id); joins upsert
//   - heartbeats only move forward: last_heartbeat = MAX(last_heartbeat, ?)
//
// Member counts are never stored; they are recounted from membership rows on read.
//
// # Errors
//
//   - ErrNotFound: the row does not exist
//   - ErrDuplicate: a uniqueness constraint rejected the write
//   - ErrUnavailable: timeout, lock contention or closed database; retryable
//
// Every call runs under the configured query timeout so a wedged database
// surfaces as ErrUnavailable instead of hanging the caller.
//
// # SQLite Configuration
//
// Each pooled connection is opened with WAL journaling, foreign keys and a
// busy timeout equal to the query timeout. Heartbeat and message timestamps
// are stored as unix milliseconds so window queries compare integers.
package store
