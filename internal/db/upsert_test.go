package db

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var itemsConfig = UpsertConfig{
	Table:        "canonical_items",
	Columns:      []string{"id", "canonical_name", "aliases", "category"},
	ConflictKeys: []string{"id"},
}

func TestBulkUpsert_EmptyRows(t *testing.T) {
	n, err := BulkUpsert(context.Background(), nil, itemsConfig, nil)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestBulkUpsert_NoColumns(t *testing.T) {
	_, err := BulkUpsert(context.Background(), nil, UpsertConfig{
		Table:        "canonical_items",
		ConflictKeys: []string{"id"},
	}, [][]any{{1, "a"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no columns specified")
}

func TestBulkUpsert_NoConflictKeys(t *testing.T) {
	_, err := BulkUpsert(context.Background(), nil, UpsertConfig{
		Table:   "canonical_items",
		Columns: []string{"id", "name"},
	}, [][]any{{1, "a"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no conflict keys specified")
}

func TestBulkUpsert_UnknownConflictKey(t *testing.T) {
	_, err := BulkUpsert(context.Background(), nil, UpsertConfig{
		Table:        "canonical_items",
		Columns:      []string{"id", "name"},
		ConflictKeys: []string{"slug"},
	}, [][]any{{1, "a"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `conflict key "slug"`)
}

func TestBulkUpsert_Success(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE "_load_canonical_items"`).
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_load_canonical_items"}, itemsConfig.Columns).
		WillReturnResult(2)
	mock.ExpectExec(`INSERT INTO "canonical_items" .* ON CONFLICT \("id"\) DO UPDATE SET "canonical_name" = EXCLUDED."canonical_name"`).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectCommit()

	rows := [][]any{
		{"tomato", "tomato", []string{"tomatoes"}, "produce"},
		{"garlic", "garlic", []string{}, "produce"},
		{"tomato", "tomato", []string{"tomatoes", "roma tomato"}, "produce"},
	}
	n, err := BulkUpsert(context.Background(), mock, itemsConfig, rows)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBulkUpsert_CopyError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE`).WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_load_canonical_items"}, itemsConfig.Columns).
		WillReturnError(errors.New("copy failed"))
	mock.ExpectRollback()

	_, err = BulkUpsert(context.Background(), mock, itemsConfig, [][]any{{"salt", "salt", []string{}, "pantry"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "copy into temp table for canonical_items")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDedupeRows(t *testing.T) {
	rows := [][]any{
		{"a", 1},
		{"b", 2},
		{"a", 3},
	}
	got := dedupeRows(rows, []int{0})
	assert.Equal(t, [][]any{{"a", 3}, {"b", 2}}, got)
}

func TestUpsertStatement_DoNothing(t *testing.T) {
	cfg := UpsertConfig{Table: "user_tiers", Columns: []string{"user_id"}, ConflictKeys: []string{"user_id"}}
	got := upsertStatement(cfg, "_load_user_tiers", nil)
	assert.Equal(t, `INSERT INTO "user_tiers" ("user_id") SELECT "user_id" FROM "_load_user_tiers" ON CONFLICT ("user_id") DO NOTHING`, got)
}

func TestSanitizeTable(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"simple", `"simple"`},
		{"public.canonical_items", `"public"."canonical_items"`},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := sanitizeTable(tt.input)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestQuoteAndJoin(t *testing.T) {
	result := quoteAndJoin([]string{"id", "name", "value"})
	assert.Equal(t, `"id", "name", "value"`, result)
}
