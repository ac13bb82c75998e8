package store

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cookcard/ingest/internal/budget"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func TestSQLite_MigrateIdempotent(t *testing.T) {
	st := newTestSQLiteStore(t)
	require.NoError(t, st.Migrate(context.Background()))
	require.NoError(t, st.Ping(context.Background()))
}

func TestSQLite_CounterExpiresWithWindow(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 15, 14, 20, 0, 0, time.UTC)
	st.now = func() time.Time { return now }

	key := budget.Key{SubjectID: "user:u1", CounterType: budget.CounterHourlyRequests, WindowKey: "2026031514"}
	_, ok, err := st.IncrementIfWithin(ctx, key, 1, 30, budget.HourTTL)
	require.NoError(t, err)
	require.True(t, ok)

	now = now.Add(3 * time.Hour)
	n, err := st.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestSQLite_ConcurrentReservations(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	key := budget.Key{SubjectID: "global", CounterType: budget.CounterDailyVisionMinutes, WindowKey: "20260315"}

	var (
		wg      sync.WaitGroup
		granted atomic.Int64
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := st.IncrementIfWithin(ctx, key, 3, 10, budget.DayTTL)
			if err == nil && ok {
				granted.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(3), granted.Load())
	n, err := st.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int64(9), n)
}

func TestSQLite_UpsertCanonicalItemsEmpty(t *testing.T) {
	st := newTestSQLiteStore(t)
	n, err := st.UpsertCanonicalItems(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}
