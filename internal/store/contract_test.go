// ABOUTME: Runs the shared store contract against SQLite (both drivers) and MockStore
// ABOUTME: External test package so storetest can import store without a cycle

package store_test

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/fieldnet-gateway/internal/store"
	"github.com/2389/fieldnet-gateway/internal/store/storetest"
)

func TestSQLiteStore_Contract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "contract.db"))
		require.NoError(t, err)
		return s
	})
}

func TestSQLiteStore_MattnContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "contract.db"), store.WithDriver(store.DriverMattn))
		if err != nil && strings.Contains(err.Error(), "cgo") {
			t.Skip("mattn/go-sqlite3 requires cgo")
		}
		require.NoError(t, err)
		return s
	})
}

func TestMockStore_Contract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		return store.NewMockStore()
	})
}

func TestMockStore_FailWith(t *testing.T) {
	m := store.NewMockStore()
	m.FailWith(errors.New("disk gone"))

	_, err := m.GetAgent(context.Background(), "agent_1")
	assert.True(t, store.IsRetryable(err))
	assert.Contains(t, err.Error(), "disk gone")
	assert.True(t, store.IsRetryable(m.Ping(context.Background())))

	m.FailWith(nil)
	_, err = m.GetAgent(context.Background(), "agent_1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}
