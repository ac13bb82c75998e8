//go:build !integration

package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cookcard/ingest/internal/budget"
	"github.com/cookcard/ingest/internal/config"
)

func TestInitStore_SQLite(t *testing.T) {
	cfg = &config.Config{
		Store: config.StoreConfig{
			Driver:     "sqlite",
			SQLitePath: filepath.Join(t.TempDir(), "test.db"),
		},
	}

	st, err := initStore(context.Background(), false)
	require.NoError(t, err)
	require.NotNil(t, st)
	defer st.Close() //nolint:errcheck

	require.NoError(t, st.Migrate(context.Background()))
	assert.NoError(t, st.Ping(context.Background()))
}

func TestInitStore_SQLiteDefaultDSN(t *testing.T) {
	tmpDir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(tmpDir))
	defer os.Chdir(origDir) //nolint:errcheck

	cfg = &config.Config{Store: config.StoreConfig{Driver: "sqlite"}}

	st, err := initStore(context.Background(), false)
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck

	_, statErr := os.Stat(filepath.Join(tmpDir, "cookcard.db"))
	assert.NoError(t, statErr)
}

func TestInitStore_UnsupportedDriver(t *testing.T) {
	cfg = &config.Config{Store: config.StoreConfig{Driver: "mysql"}}

	st, err := initStore(context.Background(), false)
	assert.Error(t, err)
	assert.Nil(t, st)
	assert.Contains(t, err.Error(), "unsupported store driver")
}

func TestInitCounters_StoreBackend(t *testing.T) {
	cfg = &config.Config{
		Store:  config.StoreConfig{Driver: "sqlite", SQLitePath: filepath.Join(t.TempDir(), "c.db")},
		Budget: config.BudgetConfig{Backend: "store"},
	}
	st, err := initStore(context.Background(), false)
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck

	counters, closeFn, err := initCounters(context.Background(), st)
	require.NoError(t, err)
	defer closeFn()
	assert.Equal(t, st, counters)
}

func TestInitCounters_Redis(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg = &config.Config{
		Budget: config.BudgetConfig{Backend: "redis"},
		Redis:  config.RedisConfig{Addr: mr.Addr()},
	}

	counters, closeFn, err := initCounters(context.Background(), nil)
	require.NoError(t, err)
	defer closeFn()

	_, ok := counters.(*budget.RedisCounters)
	assert.True(t, ok)
}

func TestInitCounters_RedisUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	cfg = &config.Config{
		Budget: config.BudgetConfig{Backend: "redis"},
		Redis:  config.RedisConfig{Addr: addr},
	}

	_, _, err := initCounters(context.Background(), nil)
	assert.Error(t, err)
}
