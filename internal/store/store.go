// Package store persists Cook Cards, the extraction cache, rate/budget
// counters, telemetry, the canonical vocabulary and user tiers.
package store

import (
	"context"
	"time"

	"github.com/cookcard/ingest/internal/budget"
	"github.com/cookcard/ingest/internal/model"
)

// TelemetryFilter specifies criteria for listing telemetry events.
type TelemetryFilter struct {
	Since   time.Time     `json:"since,omitempty"`
	UserID  string        `json:"user_id,omitempty"`
	Outcome model.Outcome `json:"outcome,omitempty"`
	Limit   int           `json:"limit,omitempty"`
}

// PruneResult counts rows removed by DeleteExpired.
type PruneResult struct {
	CacheRows   int64 `json:"cache_rows"`
	CounterRows int64 `json:"counter_rows"`
}

// Store defines the persistence interface for the ingestion service. Every
// implementation also backs the budget counters.
type Store interface {
	budget.Counters

	// Extraction cache
	GetCachedExtraction(ctx context.Context, inputHash string) (*model.CacheEntry, error)
	SetCachedExtraction(ctx context.Context, entry model.CacheEntry) error

	// Cook cards
	SaveCookCard(ctx context.Context, card *model.CookCard) error
	GetCookCard(ctx context.Context, id string) (*model.CookCard, error)

	// Telemetry
	AppendTelemetry(ctx context.Context, ev *model.TelemetryEvent) error
	ListTelemetry(ctx context.Context, filter TelemetryFilter) ([]model.TelemetryEvent, error)

	// Vocabulary
	LoadCanonicalItems(ctx context.Context) ([]model.CanonicalItem, error)
	UpsertCanonicalItems(ctx context.Context, items []model.CanonicalItem) (int64, error)

	// Tiers
	GetUserTier(ctx context.Context, userID string) (model.Tier, error)
	SetUserTier(ctx context.Context, userID string, tier model.Tier) error

	// Maintenance
	DeleteExpired(ctx context.Context, now time.Time) (PruneResult, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

const defaultTelemetryLimit = 1000
