package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/cookcard/ingest/internal/budget"
	"github.com/cookcard/ingest/internal/db"
	"github.com/cookcard/ingest/internal/model"
)

// ErrNotFound is returned by lookups that have no row to return.
var ErrNotFound = eris.New("store: not found")

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

var _ Store = (*PostgresStore)(nil)

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`

	// Prepare enables per-connection statement preparation. The tables
	// must already exist, so leave it off for the migrate command.
	Prepare bool `yaml:"prepare" mapstructure:"prepare"`
}

const (
	pgIncrementIfWithin = `
WITH up AS (
	INSERT INTO rate_limit_counters (subject_id, counter_type, window_key, count, expires_at)
	SELECT $1::text, $2::text, $3::text, $4::bigint, $6::timestamptz WHERE $4::bigint <= $5::bigint
	ON CONFLICT (subject_id, counter_type, window_key) DO UPDATE
		SET count = rate_limit_counters.count + EXCLUDED.count
		WHERE rate_limit_counters.count + EXCLUDED.count <= $5::bigint
	RETURNING count
)
SELECT true, count FROM up
UNION ALL
SELECT false, COALESCE((SELECT count FROM rate_limit_counters
	WHERE subject_id = $1::text AND counter_type = $2::text AND window_key = $3::text), 0)
WHERE NOT EXISTS (SELECT 1 FROM up)`

	pgIncrement = `
INSERT INTO rate_limit_counters (subject_id, counter_type, window_key, count, expires_at)
VALUES ($1, $2, $3, GREATEST($4::bigint, 0), $5)
ON CONFLICT (subject_id, counter_type, window_key) DO UPDATE
	SET count = GREATEST(rate_limit_counters.count + $4::bigint, 0)
RETURNING count`

	pgGetCounter = `SELECT count FROM rate_limit_counters
	WHERE subject_id = $1 AND counter_type = $2 AND window_key = $3 AND expires_at > now()`

	pgGetCachedExtraction = `SELECT input_hash, cook_card, cost_usd, created_at, expires_at FROM extraction_cache
	WHERE input_hash = $1 AND expires_at > now()`
)

// preparedStatements lists the hot-path queries to prepare on each new
// connection. Every extraction request runs at least one of each.
var preparedStatements = map[string]string{
	"increment_if_within":   pgIncrementIfWithin,
	"increment":             pgIncrement,
	"get_counter":           pgGetCounter,
	"get_cached_extraction": pgGetCachedExtraction,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	if poolCfg != nil && poolCfg.Prepare {
		pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
			for name, sql := range preparedStatements {
				if _, err := conn.Prepare(ctx, name, sql); err != nil {
					return eris.Wrapf(err, "postgres: prepare %s", name)
				}
			}
			return nil
		}
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// Pool returns the underlying database pool.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS extraction_cache (
	input_hash TEXT PRIMARY KEY,
	cook_card  JSONB NOT NULL,
	cost_usd   DOUBLE PRECISION NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	expires_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_extraction_cache_expires_at ON extraction_cache(expires_at);

CREATE TABLE IF NOT EXISTS rate_limit_counters (
	subject_id   TEXT NOT NULL,
	counter_type TEXT NOT NULL,
	window_key   TEXT NOT NULL,
	count        BIGINT NOT NULL DEFAULT 0 CHECK (count >= 0),
	expires_at   TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (subject_id, counter_type, window_key)
);

CREATE INDEX IF NOT EXISTS idx_rate_limit_counters_expires_at ON rate_limit_counters(expires_at);

CREATE TABLE IF NOT EXISTS cook_cards (
	id         TEXT PRIMARY KEY,
	source_url TEXT NOT NULL,
	platform   TEXT NOT NULL,
	method     TEXT NOT NULL,
	card       JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_cook_cards_source_url ON cook_cards(source_url);

CREATE TABLE IF NOT EXISTS extraction_telemetry (
	id               TEXT PRIMARY KEY,
	request_id       TEXT NOT NULL,
	user_id          TEXT NOT NULL,
	household_id     TEXT NOT NULL DEFAULT '',
	source_url       TEXT NOT NULL,
	platform         TEXT NOT NULL DEFAULT '',
	cache_status     TEXT NOT NULL DEFAULT '',
	ladder_path      JSONB NOT NULL DEFAULT '[]',
	evidence_source  TEXT NOT NULL DEFAULT '',
	method           TEXT NOT NULL DEFAULT '',
	outcome          TEXT NOT NULL,
	rejections       JSONB NOT NULL DEFAULT '{}',
	ingredient_count INTEGER NOT NULL DEFAULT 0,
	vision_minutes   BIGINT NOT NULL DEFAULT 0,
	cost_usd         DOUBLE PRECISION NOT NULL DEFAULT 0,
	latency_ms       BIGINT NOT NULL DEFAULT 0,
	error            TEXT NOT NULL DEFAULT '',
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_extraction_telemetry_created_at ON extraction_telemetry(created_at);
CREATE INDEX IF NOT EXISTS idx_extraction_telemetry_user_id ON extraction_telemetry(user_id, created_at DESC);

CREATE TABLE IF NOT EXISTS canonical_items (
	id             TEXT PRIMARY KEY,
	canonical_name TEXT NOT NULL,
	aliases        TEXT[] NOT NULL DEFAULT '{}',
	category       TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS user_tiers (
	user_id    TEXT PRIMARY KEY,
	tier       TEXT NOT NULL DEFAULT 'free',
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// IncrementIfWithin implements budget.Counters in one statement: the upsert
// only applies when the new count stays within limit, and the trailing
// SELECT reports the untouched count when it does not.
func (s *PostgresStore) IncrementIfWithin(ctx context.Context, key budget.Key, delta, limit int64, ttl time.Duration) (int64, bool, error) {
	var (
		allowed bool
		count   int64
	)
	err := s.pool.QueryRow(ctx, pgIncrementIfWithin,
		key.SubjectID, string(key.CounterType), key.WindowKey, delta, limit, time.Now().UTC().Add(ttl),
	).Scan(&allowed, &count)
	if err != nil {
		return 0, false, eris.Wrapf(err, "postgres: increment %s", key)
	}
	return count, allowed, nil
}

// Increment implements budget.Counters. The stored count is clamped at zero.
func (s *PostgresStore) Increment(ctx context.Context, key budget.Key, delta int64, ttl time.Duration) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, pgIncrement,
		key.SubjectID, string(key.CounterType), key.WindowKey, delta, time.Now().UTC().Add(ttl),
	).Scan(&count)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: adjust %s", key)
	}
	return count, nil
}

// Get implements budget.Counters.
func (s *PostgresStore) Get(ctx context.Context, key budget.Key) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, pgGetCounter, key.SubjectID, string(key.CounterType), key.WindowKey).Scan(&count)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, eris.Wrapf(err, "postgres: get %s", key)
	}
	return count, nil
}

func (s *PostgresStore) GetCachedExtraction(ctx context.Context, inputHash string) (*model.CacheEntry, error) {
	var (
		e        model.CacheEntry
		cardJSON []byte
	)
	err := s.pool.QueryRow(ctx, pgGetCachedExtraction, inputHash).
		Scan(&e.InputHash, &cardJSON, &e.CostUSD, &e.CreatedAt, &e.ExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: get cached extraction")
	}
	if err := json.Unmarshal(cardJSON, &e.CookCard); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal cached card")
	}
	return &e, nil
}

func (s *PostgresStore) SetCachedExtraction(ctx context.Context, entry model.CacheEntry) error {
	cardJSON, err := json.Marshal(entry.CookCard)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal cached card")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO extraction_cache (input_hash, cook_card, cost_usd, created_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (input_hash) DO UPDATE SET
		   cook_card = EXCLUDED.cook_card,
		   cost_usd = EXCLUDED.cost_usd,
		   created_at = EXCLUDED.created_at,
		   expires_at = EXCLUDED.expires_at`,
		entry.InputHash, cardJSON, entry.CostUSD, entry.CreatedAt, entry.ExpiresAt,
	)
	return eris.Wrap(err, "postgres: set cached extraction")
}

func (s *PostgresStore) SaveCookCard(ctx context.Context, card *model.CookCard) error {
	if card.ID == "" {
		card.ID = uuid.New().String()
	}
	cardJSON, err := json.Marshal(card)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal cook card")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO cook_cards (id, source_url, platform, method, card, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (id) DO NOTHING`,
		card.ID, card.SourceURL, string(card.Platform), string(card.Extraction.Method), cardJSON, time.Now().UTC(),
	)
	return eris.Wrapf(err, "postgres: save cook card %s", card.ID)
}

func (s *PostgresStore) GetCookCard(ctx context.Context, id string) (*model.CookCard, error) {
	var cardJSON []byte
	err := s.pool.QueryRow(ctx, `SELECT card FROM cook_cards WHERE id = $1`, id).Scan(&cardJSON)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, eris.Wrapf(ErrNotFound, "cook card %s", id)
		}
		return nil, eris.Wrapf(err, "postgres: get cook card %s", id)
	}
	var card model.CookCard
	if err := json.Unmarshal(cardJSON, &card); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal cook card")
	}
	return &card, nil
}

func (s *PostgresStore) AppendTelemetry(ctx context.Context, ev *model.TelemetryEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	pathJSON, rejJSON, err := marshalTelemetryJSON(ev)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal telemetry")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO extraction_telemetry (id, request_id, user_id, household_id, source_url, platform,
		   cache_status, ladder_path, evidence_source, method, outcome, rejections, ingredient_count,
		   vision_minutes, cost_usd, latency_ms, error, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		ev.ID, ev.RequestID, ev.UserID, ev.HouseholdID, ev.SourceURL, string(ev.Platform),
		string(ev.CacheStatus), pathJSON, string(ev.EvidenceSource), string(ev.Method), string(ev.Outcome), rejJSON,
		ev.IngredientCount, ev.VisionMinutes, ev.CostUSD, ev.LatencyMS, ev.Error, ev.CreatedAt,
	)
	return eris.Wrap(err, "postgres: append telemetry")
}

func (s *PostgresStore) ListTelemetry(ctx context.Context, filter TelemetryFilter) ([]model.TelemetryEvent, error) {
	query := `SELECT id, request_id, user_id, household_id, source_url, platform, cache_status, ladder_path,
		evidence_source, method, outcome, rejections, ingredient_count, vision_minutes, cost_usd, latency_ms,
		error, created_at FROM extraction_telemetry WHERE true`
	args := []any{}
	argIdx := 1

	if !filter.Since.IsZero() {
		query += fmt.Sprintf(` AND created_at >= $%d`, argIdx)
		args = append(args, filter.Since)
		argIdx++
	}
	if filter.UserID != "" {
		query += fmt.Sprintf(` AND user_id = $%d`, argIdx)
		args = append(args, filter.UserID)
		argIdx++
	}
	if filter.Outcome != "" {
		query += fmt.Sprintf(` AND outcome = $%d`, argIdx)
		args = append(args, string(filter.Outcome))
		argIdx++
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultTelemetryLimit
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list telemetry")
	}
	defer rows.Close()

	var events []model.TelemetryEvent
	for rows.Next() {
		var (
			ev                      model.TelemetryEvent
			pathJSON, rejJSON       []byte
			platform, cache, source string
			method, outcome         string
		)
		if err := rows.Scan(&ev.ID, &ev.RequestID, &ev.UserID, &ev.HouseholdID, &ev.SourceURL, &platform, &cache,
			&pathJSON, &source, &method, &outcome, &rejJSON, &ev.IngredientCount, &ev.VisionMinutes, &ev.CostUSD,
			&ev.LatencyMS, &ev.Error, &ev.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan telemetry")
		}
		ev.Platform = model.Platform(platform)
		ev.CacheStatus = model.CacheStatus(cache)
		ev.EvidenceSource = model.EvidenceSource(source)
		ev.Method = model.ExtractionMethod(method)
		ev.Outcome = model.Outcome(outcome)
		if err := unmarshalTelemetryJSON(&ev, pathJSON, rejJSON); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal telemetry")
		}
		events = append(events, ev)
	}
	return events, eris.Wrap(rows.Err(), "postgres: list telemetry iterate")
}

func (s *PostgresStore) LoadCanonicalItems(ctx context.Context) ([]model.CanonicalItem, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, canonical_name, aliases, category FROM canonical_items ORDER BY id`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: load canonical items")
	}
	defer rows.Close()

	var items []model.CanonicalItem
	for rows.Next() {
		var it model.CanonicalItem
		if err := rows.Scan(&it.ID, &it.CanonicalName, &it.Aliases, &it.Category); err != nil {
			return nil, eris.Wrap(err, "postgres: scan canonical item")
		}
		items = append(items, it)
	}
	return items, eris.Wrap(rows.Err(), "postgres: load canonical items iterate")
}

// UpsertCanonicalItems bulk-loads the vocabulary through db.BulkUpsert.
func (s *PostgresStore) UpsertCanonicalItems(ctx context.Context, items []model.CanonicalItem) (int64, error) {
	rows := make([][]any, 0, len(items))
	for _, it := range items {
		aliases := it.Aliases
		if aliases == nil {
			aliases = []string{}
		}
		rows = append(rows, []any{it.ID, it.CanonicalName, aliases, it.Category})
	}
	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "canonical_items",
		Columns:      []string{"id", "canonical_name", "aliases", "category"},
		ConflictKeys: []string{"id"},
	}, rows)
	return n, eris.Wrap(err, "postgres: upsert canonical items")
}

func (s *PostgresStore) GetUserTier(ctx context.Context, userID string) (model.Tier, error) {
	var tier string
	err := s.pool.QueryRow(ctx, `SELECT tier FROM user_tiers WHERE user_id = $1`, userID).Scan(&tier)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.TierFree, nil
		}
		return model.TierFree, eris.Wrapf(err, "postgres: get tier for %s", userID)
	}
	return model.Tier(tier), nil
}

func (s *PostgresStore) SetUserTier(ctx context.Context, userID string, tier model.Tier) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO user_tiers (user_id, tier, updated_at) VALUES ($1, $2, $3)
		 ON CONFLICT (user_id) DO UPDATE SET tier = EXCLUDED.tier, updated_at = EXCLUDED.updated_at`,
		userID, string(tier), time.Now().UTC(),
	)
	return eris.Wrapf(err, "postgres: set tier for %s", userID)
}

// DeleteExpired removes cache rows and counter rows whose window has
// already closed.
func (s *PostgresStore) DeleteExpired(ctx context.Context, now time.Time) (PruneResult, error) {
	var res PruneResult
	tag, err := s.pool.Exec(ctx, `DELETE FROM extraction_cache WHERE expires_at <= $1`, now)
	if err != nil {
		return res, eris.Wrap(err, "postgres: delete expired cache")
	}
	res.CacheRows = tag.RowsAffected()

	tag, err = s.pool.Exec(ctx, `DELETE FROM rate_limit_counters WHERE expires_at <= $1`, now)
	if err != nil {
		return res, eris.Wrap(err, "postgres: delete expired counters")
	}
	res.CounterRows = tag.RowsAffected()
	return res, nil
}

func marshalTelemetryJSON(ev *model.TelemetryEvent) ([]byte, []byte, error) {
	path := ev.LadderPath
	if path == nil {
		path = []string{}
	}
	pathJSON, err := json.Marshal(path)
	if err != nil {
		return nil, nil, err
	}
	rej := ev.Rejections
	if rej == nil {
		rej = map[string]int{}
	}
	rejJSON, err := json.Marshal(rej)
	if err != nil {
		return nil, nil, err
	}
	return pathJSON, rejJSON, nil
}

func unmarshalTelemetryJSON(ev *model.TelemetryEvent, pathJSON, rejJSON []byte) error {
	if len(pathJSON) > 0 {
		if err := json.Unmarshal(pathJSON, &ev.LadderPath); err != nil {
			return err
		}
	}
	if len(rejJSON) > 0 {
		if err := json.Unmarshal(rejJSON, &ev.Rejections); err != nil {
			return err
		}
		if len(ev.Rejections) == 0 {
			ev.Rejections = nil
		}
	}
	return nil
}
