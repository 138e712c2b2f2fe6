// ABOUTME: Tests for SQLite store implementation
// ABOUTME: Covers file creation, driver DSNs, migrations and transient error mapping

package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestNewSQLiteStore(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer store.Close()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestNewSQLiteStore_CreatesDirectory(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "subdir", "nested", "test.db")

	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer store.Close()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("database file was not created in nested directory")
	}
}

func TestNewSQLiteStore_Reopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	first, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)
	if err := first.CreateAgent(ctx, &Agent{
		ID: "agent_1", Name: "A", Role: "Bridge Builder", PrimaryHarmony: "sacred-reciprocity",
		Status: AgentActive, LastHeartbeat: now, CreatedAt: now,
	}); err != nil {
		t.Fatalf("CreateAgent failed: %v", err)
	}
	first.Close()

	// migrations must be idempotent on an existing database
	second, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("reopening store failed: %v", err)
	}
	defer second.Close()

	if _, err := second.GetAgent(ctx, "agent_1"); err != nil {
		t.Fatalf("GetAgent after reopen failed: %v", err)
	}
}

func TestNewSQLiteStore_Memory(t *testing.T) {
	s, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer s.Close()

	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("Ping failed: %v", err)
	}
}

func TestSQLiteDSN(t *testing.T) {
	tests := []struct {
		driver  string
		path    string
		want    string
		wantErr bool
	}{
		{DriverModernc, "/tmp/x.db", "file:/tmp/x.db?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", false},
		{DriverMattn, "/tmp/x.db", "file:/tmp/x.db?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000", false},
		{DriverMattn, ":memory:", "file::memory:?_foreign_keys=on&_busy_timeout=5000", false},
		{"mysql", "/tmp/x.db", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.driver+tt.path, func(t *testing.T) {
			got, err := sqliteDSN(tt.driver, tt.path, 5*time.Second)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("sqliteDSN() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSQLiteStore_ExpiredDeadlineIsRetryable(t *testing.T) {
	s := newTestStore(t)

	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	_, err := s.GetAgent(ctx, "agent_1")
	if err == nil {
		t.Fatal("expected error from expired context")
	}
	if !IsRetryable(err) {
		t.Errorf("expected retryable error, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected wrapped DeadlineExceeded, got %v", err)
	}
}

func TestSQLiteStore_ClosedIsRetryable(t *testing.T) {
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	s.Close()

	if err := s.Ping(context.Background()); !IsRetryable(err) {
		t.Errorf("Ping on closed store = %v, want retryable", err)
	}
}

func TestWrapErr(t *testing.T) {
	base := errors.New("database is locked (5) (SQLITE_BUSY)")
	if err := wrapErr("op", base); !IsRetryable(err) {
		t.Errorf("busy error should be retryable: %v", err)
	}
	plain := errors.New("no such column: nope")
	err := wrapErr("op", plain)
	if IsRetryable(err) {
		t.Errorf("schema error should not be retryable: %v", err)
	}
	if !errors.Is(err, plain) {
		t.Errorf("wrapped error should unwrap to original")
	}
}
