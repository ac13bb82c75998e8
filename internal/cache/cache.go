// Package cache fingerprints extraction inputs and stores finished Cook
// Cards against the fingerprint for a fixed period.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/cookcard/ingest/internal/model"
)

// ExtractionVersion salts every key. Bump it whenever extraction behavior
// changes; older entries then miss and age out on their own.
const ExtractionVersion = "2026.03.1"

// DefaultTTL is how long a cached card stays valid.
const DefaultTTL = 30 * 24 * time.Hour

// Store is the persistence contract the cache needs.
type Store interface {
	GetCachedExtraction(ctx context.Context, inputHash string) (*model.CacheEntry, error)
	SetCachedExtraction(ctx context.Context, entry model.CacheEntry) error
}

// Key returns the hex SHA-256 of the version-salted input. canonicalURL must
// already be canonicalized; title and description are the client's share
// hints and may be empty.
func Key(canonicalURL, title, description string) string {
	return keyFor(ExtractionVersion, canonicalURL, title, description)
}

func keyFor(version, canonicalURL, title, description string) string {
	h := sha256.New()
	for i, part := range []string{"cookcard", version, canonicalURL, strings.TrimSpace(title), strings.TrimSpace(description)} {
		if i > 0 {
			h.Write([]byte{0})
		}
		h.Write([]byte(part))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Service reads and writes cached extractions.
type Service struct {
	store Store
	ttl   time.Duration
	now   func() time.Time
}

// New creates a Service. A non-positive ttl uses DefaultTTL.
func New(store Store, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Service{store: store, ttl: ttl, now: time.Now}
}

// Get returns the cached card for key, or nil on a miss.
func (s *Service) Get(ctx context.Context, key string) (*model.CookCard, error) {
	entry, err := s.store.GetCachedExtraction(ctx, key)
	if err != nil {
		return nil, eris.Wrap(err, "cache: get")
	}
	if entry == nil {
		return nil, nil
	}
	zap.L().Debug("cache: hit",
		zap.String("key", shortKey(key)),
		zap.String("version", entry.CookCard.Extraction.Version),
	)
	card := entry.CookCard
	return &card, nil
}

// Put stores card under key with the accumulated cost. Cards without
// ingredients are never cached, so a later attempt can do better.
func (s *Service) Put(ctx context.Context, key string, card *model.CookCard, costUSD float64) error {
	if card == nil || len(card.Ingredients) == 0 {
		return nil
	}
	now := s.now().UTC()
	err := s.store.SetCachedExtraction(ctx, model.CacheEntry{
		InputHash: key,
		CookCard:  *card,
		CostUSD:   costUSD,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	})
	return eris.Wrap(err, "cache: put")
}

func shortKey(key string) string {
	if len(key) > 12 {
		return key[:12]
	}
	return key
}
