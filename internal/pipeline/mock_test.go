package pipeline

import (
	"context"
	"sync"

	"github.com/cookcard/ingest/internal/model"
)

// memStore is an in-memory cache store, card sink, telemetry sink and tier
// resolver.
type memStore struct {
	mu        sync.Mutex
	cache     map[string]model.CacheEntry
	cards     []*model.CookCard
	telemetry []*model.TelemetryEvent
	tiers     map[string]model.Tier
	cacheErr  error
}

func newMemStore() *memStore {
	return &memStore{
		cache: make(map[string]model.CacheEntry),
		tiers: make(map[string]model.Tier),
	}
}

func (m *memStore) GetCachedExtraction(_ context.Context, inputHash string) (*model.CacheEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cacheErr != nil {
		return nil, m.cacheErr
	}
	e, ok := m.cache[inputHash]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

func (m *memStore) SetCachedExtraction(_ context.Context, entry model.CacheEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache[entry.InputHash] = entry
	return nil
}

func (m *memStore) SaveCookCard(_ context.Context, card *model.CookCard) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cards = append(m.cards, card)
	return nil
}

func (m *memStore) AppendTelemetry(_ context.Context, ev *model.TelemetryEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.telemetry = append(m.telemetry, ev)
	return nil
}

func (m *memStore) GetUserTier(_ context.Context, userID string) (model.Tier, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.tiers[userID]; ok {
		return t, nil
	}
	return model.TierFree, nil
}

func (m *memStore) lastEvent() *model.TelemetryEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.telemetry) == 0 {
		return nil
	}
	return m.telemetry[len(m.telemetry)-1]
}

func (m *memStore) counts() (cache, cards, telemetry int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.cache), len(m.cards), len(m.telemetry)
}
