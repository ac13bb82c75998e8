package main

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cookcard/ingest/internal/model"
	"github.com/cookcard/ingest/internal/pipeline"
)

func TestParseBatchFile(t *testing.T) {
	input := strings.Join([]string{
		"# links shared this week",
		"https://youtu.be/dQw4w9WgXcQ",
		"https://www.tiktok.com/@chef/video/123, u7",
		"https://example.com/recipes/pasta,u8,h1",
		"",
		"https://example.com/recipes/soup,,h2",
	}, "\n")

	reqs, err := parseBatchFile(strings.NewReader(input), "batch")
	require.NoError(t, err)
	require.Len(t, reqs, 4)

	assert.Equal(t, "https://youtu.be/dQw4w9WgXcQ", reqs[0].URL)
	assert.Equal(t, "batch", reqs[0].UserID)
	assert.Empty(t, reqs[0].HouseholdID)

	assert.Equal(t, "u7", reqs[1].UserID)
	assert.Equal(t, "u8", reqs[2].UserID)
	assert.Equal(t, "h1", reqs[2].HouseholdID)

	assert.Equal(t, "batch", reqs[3].UserID)
	assert.Equal(t, "h2", reqs[3].HouseholdID)

	seen := map[string]bool{}
	for _, r := range reqs {
		assert.NotEmpty(t, r.RequestID)
		assert.False(t, seen[r.RequestID], "request ids are unique")
		seen[r.RequestID] = true
	}
}

func TestParseBatchFile_Empty(t *testing.T) {
	reqs, err := parseBatchFile(strings.NewReader("# nothing\n\n"), "batch")
	require.NoError(t, err)
	assert.Empty(t, reqs)
}

func TestParseBatchFile_BadQuote(t *testing.T) {
	_, err := parseBatchFile(strings.NewReader("\"https://example.com\n"), "batch")
	assert.Error(t, err)
}

func TestSummarizeBatch(t *testing.T) {
	results := []pipeline.BatchResult{
		{Response: &pipeline.Response{Outcome: model.OutcomeSuccess, CostUSD: 0.002}},
		{Response: &pipeline.Response{Outcome: model.OutcomeSuccess, CostUSD: 0.001}},
		{Response: &pipeline.Response{Outcome: model.OutcomeDegraded, CostUSD: 0.004}},
		{Response: &pipeline.Response{Outcome: model.OutcomeCached}},
		{Response: &pipeline.Response{Outcome: model.OutcomeQuota}, Err: errors.New("quota")},
		{Request: pipeline.Request{URL: "https://bad"}, Err: errors.New("metadata unavailable")},
	}

	s := summarizeBatch(results)
	assert.Equal(t, 2, s.Success)
	assert.Equal(t, 1, s.Degraded)
	assert.Equal(t, 1, s.Cached)
	assert.Equal(t, 1, s.Quota)
	assert.Equal(t, 1, s.Failed)
	assert.InDelta(t, 0.007, s.CostUSD, 1e-9)
	assert.Equal(t, "success=2 degraded=1 cached=1 quota=1 failed=1 cost=$0.0070", s.String())
}
