package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/cookcard/ingest/internal/budget"
	"github.com/cookcard/ingest/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. It is meant for
// local runs and tests; timestamps are stored as unix seconds.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	// One writer keeps the counter upserts serialized.
	db.SetMaxOpenConns(1)
	return &SQLiteStore{db: db, now: time.Now}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS extraction_cache (
	input_hash TEXT PRIMARY KEY,
	cook_card  TEXT NOT NULL,
	cost_usd   REAL NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL,
	expires_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_extraction_cache_expires_at ON extraction_cache(expires_at);

CREATE TABLE IF NOT EXISTS rate_limit_counters (
	subject_id   TEXT NOT NULL,
	counter_type TEXT NOT NULL,
	window_key   TEXT NOT NULL,
	count        INTEGER NOT NULL DEFAULT 0 CHECK (count >= 0),
	expires_at   INTEGER NOT NULL,
	PRIMARY KEY (subject_id, counter_type, window_key)
);

CREATE TABLE IF NOT EXISTS cook_cards (
	id         TEXT PRIMARY KEY,
	source_url TEXT NOT NULL,
	platform   TEXT NOT NULL,
	method     TEXT NOT NULL,
	card       TEXT NOT NULL,
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS extraction_telemetry (
	id               TEXT PRIMARY KEY,
	request_id       TEXT NOT NULL,
	user_id          TEXT NOT NULL,
	household_id     TEXT NOT NULL DEFAULT '',
	source_url       TEXT NOT NULL,
	platform         TEXT NOT NULL DEFAULT '',
	cache_status     TEXT NOT NULL DEFAULT '',
	ladder_path      TEXT NOT NULL DEFAULT '[]',
	evidence_source  TEXT NOT NULL DEFAULT '',
	method           TEXT NOT NULL DEFAULT '',
	outcome          TEXT NOT NULL,
	rejections       TEXT NOT NULL DEFAULT '{}',
	ingredient_count INTEGER NOT NULL DEFAULT 0,
	vision_minutes   INTEGER NOT NULL DEFAULT 0,
	cost_usd         REAL NOT NULL DEFAULT 0,
	latency_ms       INTEGER NOT NULL DEFAULT 0,
	error            TEXT NOT NULL DEFAULT '',
	created_at       INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_extraction_telemetry_created_at ON extraction_telemetry(created_at);

CREATE TABLE IF NOT EXISTS canonical_items (
	id             TEXT PRIMARY KEY,
	canonical_name TEXT NOT NULL,
	aliases        TEXT NOT NULL DEFAULT '[]',
	category       TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS user_tiers (
	user_id    TEXT PRIMARY KEY,
	tier       TEXT NOT NULL DEFAULT 'free',
	updated_at INTEGER NOT NULL
);
`

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// IncrementIfWithin implements budget.Counters. The conditional upsert is
// atomic; the follow-up read only runs on denial to report the count.
func (s *SQLiteStore) IncrementIfWithin(ctx context.Context, key budget.Key, delta, limit int64, ttl time.Duration) (int64, bool, error) {
	var count int64
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO rate_limit_counters (subject_id, counter_type, window_key, count, expires_at)
		 SELECT ?1, ?2, ?3, ?4, ?6 WHERE ?4 <= ?5
		 ON CONFLICT (subject_id, counter_type, window_key) DO UPDATE
		   SET count = count + excluded.count
		   WHERE count + excluded.count <= ?5
		 RETURNING count`,
		key.SubjectID, string(key.CounterType), key.WindowKey, delta, limit, s.now().Add(ttl).Unix(),
	).Scan(&count)
	if err == nil {
		return count, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, false, eris.Wrapf(err, "sqlite: increment %s", key)
	}
	cur, err := s.Get(ctx, key)
	if err != nil {
		return 0, false, err
	}
	return cur, false, nil
}

// Increment implements budget.Counters. The stored count is clamped at zero.
func (s *SQLiteStore) Increment(ctx context.Context, key budget.Key, delta int64, ttl time.Duration) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO rate_limit_counters (subject_id, counter_type, window_key, count, expires_at)
		 VALUES (?1, ?2, ?3, MAX(?4, 0), ?5)
		 ON CONFLICT (subject_id, counter_type, window_key) DO UPDATE
		   SET count = MAX(count + ?4, 0)
		 RETURNING count`,
		key.SubjectID, string(key.CounterType), key.WindowKey, delta, s.now().Add(ttl).Unix(),
	).Scan(&count)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: adjust %s", key)
	}
	return count, nil
}

// Get implements budget.Counters.
func (s *SQLiteStore) Get(ctx context.Context, key budget.Key) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx,
		`SELECT count FROM rate_limit_counters
		 WHERE subject_id = ? AND counter_type = ? AND window_key = ? AND expires_at > ?`,
		key.SubjectID, string(key.CounterType), key.WindowKey, s.now().Unix(),
	).Scan(&count)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, eris.Wrapf(err, "sqlite: get %s", key)
	}
	return count, nil
}

func (s *SQLiteStore) GetCachedExtraction(ctx context.Context, inputHash string) (*model.CacheEntry, error) {
	var (
		e                  model.CacheEntry
		cardJSON           string
		created, expiresAt int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT input_hash, cook_card, cost_usd, created_at, expires_at FROM extraction_cache
		 WHERE input_hash = ? AND expires_at > ?`,
		inputHash, s.now().Unix(),
	).Scan(&e.InputHash, &cardJSON, &e.CostUSD, &created, &expiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "sqlite: get cached extraction")
	}
	if err := json.Unmarshal([]byte(cardJSON), &e.CookCard); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal cached card")
	}
	e.CreatedAt = time.Unix(created, 0).UTC()
	e.ExpiresAt = time.Unix(expiresAt, 0).UTC()
	return &e, nil
}

func (s *SQLiteStore) SetCachedExtraction(ctx context.Context, entry model.CacheEntry) error {
	cardJSON, err := json.Marshal(entry.CookCard)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal cached card")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO extraction_cache (input_hash, cook_card, cost_usd, created_at, expires_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (input_hash) DO UPDATE SET
		   cook_card = excluded.cook_card,
		   cost_usd = excluded.cost_usd,
		   created_at = excluded.created_at,
		   expires_at = excluded.expires_at`,
		entry.InputHash, string(cardJSON), entry.CostUSD, entry.CreatedAt.Unix(), entry.ExpiresAt.Unix(),
	)
	return eris.Wrap(err, "sqlite: set cached extraction")
}

func (s *SQLiteStore) SaveCookCard(ctx context.Context, card *model.CookCard) error {
	if card.ID == "" {
		card.ID = uuid.New().String()
	}
	cardJSON, err := json.Marshal(card)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal cook card")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO cook_cards (id, source_url, platform, method, card, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO NOTHING`,
		card.ID, card.SourceURL, string(card.Platform), string(card.Extraction.Method), string(cardJSON), s.now().Unix(),
	)
	return eris.Wrapf(err, "sqlite: save cook card %s", card.ID)
}

func (s *SQLiteStore) GetCookCard(ctx context.Context, id string) (*model.CookCard, error) {
	var cardJSON string
	err := s.db.QueryRowContext(ctx, `SELECT card FROM cook_cards WHERE id = ?`, id).Scan(&cardJSON)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, eris.Wrapf(ErrNotFound, "cook card %s", id)
		}
		return nil, eris.Wrapf(err, "sqlite: get cook card %s", id)
	}
	var card model.CookCard
	if err := json.Unmarshal([]byte(cardJSON), &card); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal cook card")
	}
	return &card, nil
}

func (s *SQLiteStore) AppendTelemetry(ctx context.Context, ev *model.TelemetryEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = s.now().UTC()
	}
	pathJSON, rejJSON, err := marshalTelemetryJSON(ev)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal telemetry")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO extraction_telemetry (id, request_id, user_id, household_id, source_url, platform,
		   cache_status, ladder_path, evidence_source, method, outcome, rejections, ingredient_count,
		   vision_minutes, cost_usd, latency_ms, error, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.RequestID, ev.UserID, ev.HouseholdID, ev.SourceURL, string(ev.Platform),
		string(ev.CacheStatus), string(pathJSON), string(ev.EvidenceSource), string(ev.Method), string(ev.Outcome),
		string(rejJSON), ev.IngredientCount, ev.VisionMinutes, ev.CostUSD, ev.LatencyMS, ev.Error, ev.CreatedAt.Unix(),
	)
	return eris.Wrap(err, "sqlite: append telemetry")
}

func (s *SQLiteStore) ListTelemetry(ctx context.Context, filter TelemetryFilter) ([]model.TelemetryEvent, error) {
	query := `SELECT id, request_id, user_id, household_id, source_url, platform, cache_status, ladder_path,
		evidence_source, method, outcome, rejections, ingredient_count, vision_minutes, cost_usd, latency_ms,
		error, created_at FROM extraction_telemetry WHERE 1=1`
	var args []any

	if !filter.Since.IsZero() {
		query += ` AND created_at >= ?`
		args = append(args, filter.Since.Unix())
	}
	if filter.UserID != "" {
		query += ` AND user_id = ?`
		args = append(args, filter.UserID)
	}
	if filter.Outcome != "" {
		query += ` AND outcome = ?`
		args = append(args, string(filter.Outcome))
	}
	query += ` ORDER BY created_at DESC, rowid DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultTelemetryLimit
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list telemetry")
	}
	defer rows.Close()

	var events []model.TelemetryEvent
	for rows.Next() {
		var (
			ev                      model.TelemetryEvent
			pathJSON, rejJSON       string
			platform, cache, source string
			method, outcome         string
			created                 int64
		)
		if err := rows.Scan(&ev.ID, &ev.RequestID, &ev.UserID, &ev.HouseholdID, &ev.SourceURL, &platform, &cache,
			&pathJSON, &source, &method, &outcome, &rejJSON, &ev.IngredientCount, &ev.VisionMinutes, &ev.CostUSD,
			&ev.LatencyMS, &ev.Error, &created); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan telemetry")
		}
		ev.Platform = model.Platform(platform)
		ev.CacheStatus = model.CacheStatus(cache)
		ev.EvidenceSource = model.EvidenceSource(source)
		ev.Method = model.ExtractionMethod(method)
		ev.Outcome = model.Outcome(outcome)
		ev.CreatedAt = time.Unix(created, 0).UTC()
		if err := unmarshalTelemetryJSON(&ev, []byte(pathJSON), []byte(rejJSON)); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal telemetry")
		}
		events = append(events, ev)
	}
	return events, eris.Wrap(rows.Err(), "sqlite: list telemetry iterate")
}

func (s *SQLiteStore) LoadCanonicalItems(ctx context.Context) ([]model.CanonicalItem, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, canonical_name, aliases, category FROM canonical_items ORDER BY id`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: load canonical items")
	}
	defer rows.Close()

	var items []model.CanonicalItem
	for rows.Next() {
		var (
			it      model.CanonicalItem
			aliases string
		)
		if err := rows.Scan(&it.ID, &it.CanonicalName, &aliases, &it.Category); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan canonical item")
		}
		if err := json.Unmarshal([]byte(aliases), &it.Aliases); err != nil {
			return nil, eris.Wrapf(err, "sqlite: unmarshal aliases for %s", it.ID)
		}
		items = append(items, it)
	}
	return items, eris.Wrap(rows.Err(), "sqlite: load canonical items iterate")
}

func (s *SQLiteStore) UpsertCanonicalItems(ctx context.Context, items []model.CanonicalItem) (int64, error) {
	if len(items) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO canonical_items (id, canonical_name, aliases, category) VALUES (?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
		   canonical_name = excluded.canonical_name,
		   aliases = excluded.aliases,
		   category = excluded.category`)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prepare canonical upsert")
	}
	defer stmt.Close()

	var n int64
	for _, it := range items {
		aliases := it.Aliases
		if aliases == nil {
			aliases = []string{}
		}
		aliasJSON, err := json.Marshal(aliases)
		if err != nil {
			return 0, eris.Wrap(err, "sqlite: marshal aliases")
		}
		res, err := stmt.ExecContext(ctx, it.ID, it.CanonicalName, string(aliasJSON), it.Category)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: upsert canonical item %s", it.ID)
		}
		affected, _ := res.RowsAffected()
		n += affected
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit canonical items")
	}
	return n, nil
}

func (s *SQLiteStore) GetUserTier(ctx context.Context, userID string) (model.Tier, error) {
	var tier string
	err := s.db.QueryRowContext(ctx, `SELECT tier FROM user_tiers WHERE user_id = ?`, userID).Scan(&tier)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.TierFree, nil
		}
		return model.TierFree, eris.Wrapf(err, "sqlite: get tier for %s", userID)
	}
	return model.Tier(tier), nil
}

func (s *SQLiteStore) SetUserTier(ctx context.Context, userID string, tier model.Tier) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO user_tiers (user_id, tier, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT (user_id) DO UPDATE SET tier = excluded.tier, updated_at = excluded.updated_at`,
		userID, string(tier), s.now().Unix(),
	)
	return eris.Wrapf(err, "sqlite: set tier for %s", userID)
}

func (s *SQLiteStore) DeleteExpired(ctx context.Context, now time.Time) (PruneResult, error) {
	var res PruneResult
	r, err := s.db.ExecContext(ctx, `DELETE FROM extraction_cache WHERE expires_at <= ?`, now.Unix())
	if err != nil {
		return res, eris.Wrap(err, "sqlite: delete expired cache")
	}
	res.CacheRows, _ = r.RowsAffected()

	r, err = s.db.ExecContext(ctx, `DELETE FROM rate_limit_counters WHERE expires_at <= ?`, now.Unix())
	if err != nil {
		return res, eris.Wrap(err, "sqlite: delete expired counters")
	}
	res.CounterRows, _ = r.RowsAffected()
	return res, nil
}
