package main

import (
	"context"

	"github.com/go-redis/redis/v8"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/cookcard/ingest/internal/budget"
	"github.com/cookcard/ingest/internal/store"
)

// initStore opens the configured database. prepare enables prepared hot-path
// statements and must be false when the tables may not exist yet.
func initStore(ctx context.Context, prepare bool) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.SQLitePath
		if dsn == "" {
			dsn = "cookcard.db"
		}
		st, err := store.NewSQLite(dsn)
		if err != nil {
			return nil, err
		}
		return st, nil
	case "postgres":
		st, err := store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			Prepare:  prepare,
		})
		if err != nil {
			return nil, err
		}
		return st, nil
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// initCounters picks the budget counter backend. The returned close func
// is never nil.
func initCounters(ctx context.Context, st store.Store) (budget.Counters, func(), error) {
	if cfg.Budget.Backend != "redis" {
		return st, func() {}, nil
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    []string{cfg.Redis.Addr},
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, eris.Wrap(err, "redis: ping")
	}
	zap.L().Info("budget counters using redis", zap.String("addr", cfg.Redis.Addr))
	return budget.NewRedisCounters(client), func() { _ = client.Close() }, nil
}
