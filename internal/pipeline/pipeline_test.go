package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/cookcard/ingest/internal/budget"
	"github.com/cookcard/ingest/internal/budget/budgettest"
	"github.com/cookcard/ingest/internal/cache"
	"github.com/cookcard/ingest/internal/canonical"
	"github.com/cookcard/ingest/internal/extract"
	"github.com/cookcard/ingest/internal/ladder"
	"github.com/cookcard/ingest/internal/model"
	"github.com/cookcard/ingest/internal/resilience"
	"github.com/cookcard/ingest/internal/vision"
	"github.com/cookcard/ingest/pkg/anthropic"
	anthropicmocks "github.com/cookcard/ingest/pkg/anthropic/mocks"
	"github.com/cookcard/ingest/pkg/gemini"
	geminimocks "github.com/cookcard/ingest/pkg/gemini/mocks"
	"github.com/cookcard/ingest/pkg/platform"
	platformmocks "github.com/cookcard/ingest/pkg/platform/mocks"
)

const (
	ytURL  = "https://youtu.be/dQw4w9WgXcQ?si=share"
	webURL = "https://example.com/recipes/pasta"
)

var (
	fixedNow    = time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	description = "Easy weeknight pasta! 1 lb pasta, 2 tbsp olive oil, 4 cloves garlic, salt and pepper. " +
		"Boil the pasta, then toss with the garlic oil."
	textAnswer = `{"ingredients":[
		{"name":"pasta","amount":"1","unit":"lb","evidence_phrase":"1 lb pasta","confidence":0.95},
		{"name":"olive oil","amount":"2","unit":"tbsp","evidence_phrase":"2 tbsp olive oil","confidence":0.9},
		{"name":"garlic","amount":"4","unit":"cloves","evidence_phrase":"4 cloves garlic","confidence":0.9},
		{"name":"vodka","amount":"2","unit":"tbsp","evidence_phrase":"2 tbsp vodka","confidence":0.9}
	],"steps":[]}`
	visionAnswer = `{"ingredients":[
		{"name":"ramen noodles"},{"name":"egg","amount":"2"},{"name":"soy sauce"},{"name":"scallions"}
	]}`
)

type harness struct {
	store     *memStore
	counters  *budgettest.Counters
	platform  *platformmocks.MockClient
	anthropic *anthropicmocks.MockClient
	gemini    *geminimocks.MockClient
	pipeline  *Pipeline
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		store:     newMemStore(),
		counters:  budgettest.New(),
		platform:  platformmocks.NewMockClient(t),
		anthropic: anthropicmocks.NewMockClient(t),
		gemini:    geminimocks.NewMockClient(t),
	}
	ctrl := budget.NewController(h.counters, budget.DefaultLimits(), budget.WithClock(func() time.Time { return fixedNow }))

	lcfg := ladder.DefaultConfig()
	lcfg.Retry = resilience.RetryPolicy{MaxAttempts: 1}

	h.pipeline = New(Deps{
		Budget:    ctrl,
		Tiers:     h.store,
		Ladder:    ladder.New(h.platform, resilience.NewBreakers(resilience.DefaultBreakerConfig()), lcfg),
		Text:      extract.New(h.anthropic, nil, extract.DefaultConfig()),
		Vision:    vision.New(h.gemini, ctrl, nil, vision.DefaultConfig()),
		Cache:     cache.New(h.store, 0),
		Canonical: canonical.NewService(nil, 0.2),
		Sink:      h.store,
	})
	h.pipeline.now = func() time.Time { return fixedNow }
	return h
}

func (h *harness) monthly(user string) int64 {
	return h.counters.Value(budget.Key{SubjectID: budget.UserSubject(user), CounterType: budget.CounterMonthlyExtractions, WindowKey: budget.MonthWindow(fixedNow)})
}

func (h *harness) visionMinutes(subject string) int64 {
	return h.counters.Value(budget.Key{SubjectID: subject, CounterType: budget.CounterDailyVisionMinutes, WindowKey: budget.DayWindow(fixedNow)})
}

func ytMeta(desc string, d time.Duration) *platform.Metadata {
	return &platform.Metadata{
		Platform:     platform.YouTube,
		URL:          "https://www.youtube.com/watch?v=dQw4w9WgXcQ",
		VideoID:      "dQw4w9WgXcQ",
		Title:        "Weeknight pasta",
		Description:  desc,
		Creator:      "Chef Ana",
		ThumbnailURL: "https://i.ytimg.com/vi/dQw4w9WgXcQ/hqdefault.jpg",
		Duration:     d,
	}
}

func claudeReply(text string) *anthropic.MessageResponse {
	return &anthropic.MessageResponse{
		Content: []anthropic.ContentBlock{{Type: "text", Text: text}},
		Usage:   anthropic.TokenUsage{InputTokens: 1200, OutputTokens: 300},
	}
}

func TestExtract_TextSuccess(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.platform.On("Metadata", mock.Anything, "https://www.youtube.com/watch?v=dQw4w9WgXcQ").
		Return(ytMeta(description, 8*time.Minute), nil).Once()
	h.anthropic.On("CreateMessage", mock.Anything, mock.Anything).Return(claudeReply(textAnswer), nil).Once()

	resp, err := h.pipeline.Extract(context.Background(), Request{URL: ytURL, UserID: "u1", HouseholdID: "h1"})
	require.NoError(t, err)

	card := resp.CookCard
	assert.Equal(t, model.OutcomeSuccess, resp.Outcome)
	assert.Equal(t, model.CacheMiss, resp.CacheStatus)
	assert.Equal(t, model.MethodLLMText, card.Extraction.Method)
	assert.Equal(t, model.EvidenceDescription, card.Extraction.EvidenceSource)
	assert.Equal(t, cache.ExtractionVersion, card.Extraction.Version)
	assert.Equal(t, []string{ladder.StepMetadata, ladder.StepDescription, StepLLMText}, card.Extraction.LadderPath)
	assert.Equal(t, model.InstructionsLinkOnly, card.Instructions.Mode)
	assert.Len(t, card.Ingredients, 3)
	assert.False(t, resp.RequiresConfirmation)
	assert.Greater(t, resp.CostUSD, 0.0)
	assert.Equal(t, "Chef Ana", card.Creator)

	assert.Equal(t, int64(1), h.monthly("u1"))
	nCache, nCards, _ := h.store.counts()
	assert.Equal(t, 1, nCache)
	assert.Equal(t, 1, nCards)

	ev := h.store.lastEvent()
	require.NotNil(t, ev)
	assert.Equal(t, model.OutcomeSuccess, ev.Outcome)
	assert.Equal(t, map[string]int{extract.ReasonEvidenceNotFound: 1}, ev.Rejections)
	assert.Equal(t, 3, ev.IngredientCount)
	assert.Equal(t, model.PlatformYouTube, ev.Platform)
	assert.Equal(t, "h1", ev.HouseholdID)
	assert.NotEmpty(t, ev.RequestID)
}

func TestExtract_CacheHitIsFreeAndIdentical(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.platform.On("Metadata", mock.Anything, mock.Anything).Return(ytMeta(description, 8*time.Minute), nil).Once()
	h.anthropic.On("CreateMessage", mock.Anything, mock.Anything).Return(claudeReply(textAnswer), nil).Once()

	req := Request{URL: ytURL, UserID: "u1", Title: "Weeknight pasta"}
	first, err := h.pipeline.Extract(context.Background(), req)
	require.NoError(t, err)

	second, err := h.pipeline.Extract(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, model.CacheHit, second.CacheStatus)
	assert.Equal(t, model.OutcomeCached, second.Outcome)
	assert.Zero(t, second.CostUSD)
	assert.Equal(t, first.CookCard.Ingredients, second.CookCard.Ingredients)
	assert.Equal(t, first.CookCard.ID, second.CookCard.ID)
	assert.Equal(t, int64(1), h.monthly("u1"), "cache hit must not count against quota")
	assert.Equal(t, model.CacheHit, h.store.lastEvent().CacheStatus)
}

func TestExtract_BypassCacheStillWrites(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.platform.On("Metadata", mock.Anything, mock.Anything).Return(ytMeta(description, 8*time.Minute), nil).Twice()
	h.anthropic.On("CreateMessage", mock.Anything, mock.Anything).Return(claudeReply(textAnswer), nil).Twice()

	req := Request{URL: ytURL, UserID: "u1"}
	_, err := h.pipeline.Extract(context.Background(), req)
	require.NoError(t, err)

	req.BypassCache = true
	resp, err := h.pipeline.Extract(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, model.CacheBypass, resp.CacheStatus)
	assert.Equal(t, model.OutcomeSuccess, resp.Outcome)
	assert.Equal(t, int64(2), h.monthly("u1"))
}

func TestExtract_VisionSuccessCountsQuota(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	meta := ytMeta("New video! Link in bio", 2*time.Minute)
	h.platform.On("Metadata", mock.Anything, mock.Anything).Return(meta, nil).Once()
	h.platform.On("Comments", mock.Anything, mock.Anything, 20).Return([]platform.Comment{{Text: "first"}}, nil).Once()
	h.gemini.On("AnalyzeVideo", mock.Anything, mock.Anything).Return(&gemini.VideoResponse{
		Text:  visionAnswer,
		Usage: gemini.TokenUsage{InputTokens: 50_000, OutputTokens: 400},
	}, nil).Once()

	require.Equal(t, int64(0), h.monthly("u1"))
	resp, err := h.pipeline.Extract(context.Background(), Request{URL: ytURL, UserID: "u1"})
	require.NoError(t, err)

	card := resp.CookCard
	assert.Equal(t, model.OutcomeSuccess, resp.Outcome)
	assert.Equal(t, model.MethodVideoVision, card.Extraction.Method)
	assert.Equal(t, model.EvidenceVideo, card.Extraction.EvidenceSource)
	assert.Equal(t, 0.75, card.Extraction.Confidence)
	assert.True(t, resp.RequiresConfirmation)
	assert.Equal(t, []string{ladder.StepMetadata, ladder.StepDescription, ladder.StepComments, StepVideoVision}, card.Extraction.LadderPath)

	assert.Equal(t, int64(1), h.monthly("u1"), "1/10 after a successful vision extraction")
	assert.Equal(t, int64(2), h.visionMinutes(budget.UserSubject("u1")))
	assert.Equal(t, int64(2), h.visionMinutes(budget.GlobalSubject))
	assert.Equal(t, int64(2), h.store.lastEvent().VisionMinutes)
	h.anthropic.AssertNotCalled(t, "CreateMessage", mock.Anything, mock.Anything)
}

func TestExtract_VisionDeniedDegrades(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.counters.Set(budget.Key{SubjectID: budget.UserSubject("u1"), CounterType: budget.CounterDailyVisionMinutes, WindowKey: budget.DayWindow(fixedNow)}, 29)

	meta := ytMeta("Link in bio", 2*time.Minute)
	h.platform.On("Metadata", mock.Anything, mock.Anything).Return(meta, nil).Once()
	h.platform.On("Comments", mock.Anything, mock.Anything, 20).Return(nil, nil).Once()

	resp, err := h.pipeline.Extract(context.Background(), Request{URL: ytURL, UserID: "u1"})
	require.NoError(t, err)

	assert.Equal(t, model.OutcomeDegraded, resp.Outcome)
	assert.Equal(t, model.MethodLinkOnly, resp.CookCard.Extraction.Method)
	assert.Empty(t, resp.CookCard.Ingredients)
	assert.Equal(t, "Weeknight pasta", resp.CookCard.Title)
	assert.Equal(t, int64(29), h.visionMinutes(budget.UserSubject("u1")))
	assert.Equal(t, int64(0), h.visionMinutes(budget.GlobalSubject))
	assert.Equal(t, int64(0), h.monthly("u1"))
	h.gemini.AssertNotCalled(t, "AnalyzeVideo", mock.Anything, mock.Anything)

	nCache, nCards, _ := h.store.counts()
	assert.Zero(t, nCache, "degraded cards are not cached")
	assert.Equal(t, 1, nCards, "degraded cards are still saved")
}

func TestExtract_VisionFailureRefunds(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	userKey := budget.Key{SubjectID: budget.UserSubject("u1"), CounterType: budget.CounterDailyVisionMinutes, WindowKey: budget.DayWindow(fixedNow)}
	h.counters.Set(userKey, 27)

	meta := ytMeta("Link in bio", 2*time.Minute)
	h.platform.On("Metadata", mock.Anything, mock.Anything).Return(meta, nil).Once()
	h.platform.On("Comments", mock.Anything, mock.Anything, 20).Return(nil, nil).Once()
	h.gemini.On("AnalyzeVideo", mock.Anything, mock.Anything).Return(nil, errors.New("upstream 500")).Once()

	resp, err := h.pipeline.Extract(context.Background(), Request{URL: ytURL, UserID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeDegraded, resp.Outcome)
	assert.Equal(t, int64(27), h.counters.Value(userKey))
	assert.Equal(t, int64(0), h.monthly("u1"))
	assert.Zero(t, h.store.lastEvent().VisionMinutes)
}

func TestExtract_AllRejectedOnWebDegrades(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.platform.On("Metadata", mock.Anything, webURL).Return(&platform.Metadata{
		Platform:    platform.Web,
		URL:         webURL,
		Title:       "Pasta",
		Description: description,
	}, nil).Once()
	h.anthropic.On("CreateMessage", mock.Anything, mock.Anything).
		Return(claudeReply(`{"ingredients":[{"name":"vodka","evidence_phrase":"a splash of vodka"}]}`), nil).Once()

	resp, err := h.pipeline.Extract(context.Background(), Request{URL: webURL, UserID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeDegraded, resp.Outcome)
	assert.Greater(t, resp.CookCard.Extraction.CostUSD, 0.0)
	assert.Equal(t, int64(0), h.monthly("u1"))
	assert.Equal(t, map[string]int{extract.ReasonEvidenceNotFound: 1}, h.store.lastEvent().Rejections)
}

func TestExtract_QuotaExceeded(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.counters.Set(budget.Key{SubjectID: budget.UserSubject("u1"), CounterType: budget.CounterMonthlyExtractions, WindowKey: budget.MonthWindow(fixedNow)}, 10)

	resp, err := h.pipeline.Extract(context.Background(), Request{URL: ytURL, UserID: "u1", Title: "Pasta"})

	var quota *budget.QuotaError
	require.ErrorAs(t, err, &quota)
	assert.Equal(t, int64(10), quota.Used)
	assert.Equal(t, int64(10), quota.Limit)
	require.NotNil(t, resp)
	assert.Equal(t, model.MethodLinkOnly, resp.CookCard.Extraction.Method)
	assert.Equal(t, "Pasta", resp.CookCard.Title)
	assert.Equal(t, model.OutcomeQuota, h.store.lastEvent().Outcome)
	h.platform.AssertNotCalled(t, "Metadata", mock.Anything, mock.Anything)
}

func TestExtract_ConcurrentAtQuotaEdge(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.counters.Set(budget.Key{SubjectID: budget.UserSubject("u1"), CounterType: budget.CounterMonthlyExtractions, WindowKey: budget.MonthWindow(fixedNow)}, 9)

	entered := make(chan struct{})
	release := make(chan struct{})
	h.platform.On("Metadata", mock.Anything, mock.Anything).Return(ytMeta(description, 8*time.Minute), nil).Once()
	h.anthropic.On("CreateMessage", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) {
			close(entered)
			<-release
		}).
		Return(claudeReply(textAnswer), nil).Once()

	type result struct {
		resp *Response
		err  error
	}
	first := make(chan result, 1)
	go func() {
		resp, err := h.pipeline.Extract(context.Background(), Request{URL: ytURL, UserID: "u1"})
		first <- result{resp, err}
	}()

	<-entered
	_, err := h.pipeline.Extract(context.Background(), Request{URL: ytURL, UserID: "u1", BypassCache: true})
	var quota *budget.QuotaError
	require.ErrorAs(t, err, &quota, "second request must not be admitted while the first holds the last slot")
	assert.Equal(t, int64(10), quota.Used)

	close(release)
	r := <-first
	require.NoError(t, r.err)
	assert.Equal(t, model.OutcomeSuccess, r.resp.Outcome)
	assert.Equal(t, int64(10), h.monthly("u1"))
}

func TestExtract_PremiumTierHasHigherQuota(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.store.tiers["u1"] = model.TierPremium
	h.counters.Set(budget.Key{SubjectID: budget.UserSubject("u1"), CounterType: budget.CounterMonthlyExtractions, WindowKey: budget.MonthWindow(fixedNow)}, 10)
	h.platform.On("Metadata", mock.Anything, mock.Anything).Return(ytMeta(description, 8*time.Minute), nil).Once()
	h.anthropic.On("CreateMessage", mock.Anything, mock.Anything).Return(claudeReply(textAnswer), nil).Once()

	_, err := h.pipeline.Extract(context.Background(), Request{URL: ytURL, UserID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, int64(11), h.monthly("u1"))
}

func TestExtract_RateLimited(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.counters.Set(budget.Key{SubjectID: budget.UserSubject("u1"), CounterType: budget.CounterHourlyRequests, WindowKey: budget.HourWindow(fixedNow)}, 30)

	resp, err := h.pipeline.Extract(context.Background(), Request{URL: ytURL, UserID: "u1"})
	assert.Nil(t, resp)

	var rl *budget.RateLimitError
	require.ErrorAs(t, err, &rl)
	assert.Equal(t, "user", rl.Scope)
	assert.Equal(t, model.OutcomeRateLimited, h.store.lastEvent().Outcome)
}

func TestExtract_InvalidRequest(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		req  Request
	}{
		{"missing url", Request{UserID: "u1"}},
		{"missing user", Request{URL: ytURL}},
		{"bad scheme", Request{URL: "ftp://example.com/x", UserID: "u1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := newHarness(t)
			_, err := h.pipeline.Extract(context.Background(), tt.req)
			assert.ErrorIs(t, err, ErrInvalidRequest)
			_, _, nTelemetry := h.store.counts()
			assert.Zero(t, nTelemetry)
		})
	}
}

func TestExtract_MetadataUnavailable(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.platform.On("Metadata", mock.Anything, mock.Anything).Return(nil, platform.ErrNotFound).Once()

	_, err := h.pipeline.Extract(context.Background(), Request{URL: ytURL, UserID: "u1"})
	require.ErrorIs(t, err, ladder.ErrMetadataUnavailable)
	assert.Equal(t, model.OutcomeFailed, h.store.lastEvent().Outcome)
	assert.Equal(t, int64(0), h.monthly("u1"))
}

func TestExtract_CacheReadErrorIsMiss(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.store.cacheErr = errors.New("db down")
	h.platform.On("Metadata", mock.Anything, mock.Anything).Return(ytMeta(description, 8*time.Minute), nil).Once()
	h.anthropic.On("CreateMessage", mock.Anything, mock.Anything).Return(claudeReply(textAnswer), nil).Once()

	resp, err := h.pipeline.Extract(context.Background(), Request{URL: ytURL, UserID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, model.CacheMiss, resp.CacheStatus)
	assert.Equal(t, model.OutcomeSuccess, resp.Outcome)
}

func TestRunBatch(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.platform.On("Metadata", mock.Anything, mock.Anything).Return(ytMeta(description, 8*time.Minute), nil)
	h.anthropic.On("CreateMessage", mock.Anything, mock.Anything).Return(claudeReply(textAnswer), nil)

	reqs := []Request{
		{URL: ytURL, UserID: "u1"},
		{URL: "", UserID: "u1"},
		{URL: "https://www.youtube.com/watch?v=abcdefghijk", UserID: "u2"},
	}
	results, err := h.pipeline.RunBatch(context.Background(), reqs, 2)
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.NoError(t, results[0].Err)
	assert.ErrorIs(t, results[1].Err, ErrInvalidRequest)
	assert.NoError(t, results[2].Err)
	assert.Equal(t, reqs[2].URL, results[2].Request.URL)
	assert.Equal(t, model.OutcomeSuccess, results[2].Response.Outcome)
}

func TestUsage(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.store.tiers["u1"] = model.TierPlus

	u, err := h.pipeline.Usage(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, model.TierPlus, u.Tier)
	assert.Equal(t, int64(50), u.MonthlyLimit)
	assert.Equal(t, int64(60), u.VisionMinutesLimit)

	_, err = h.pipeline.Usage(context.Background(), " ")
	assert.ErrorIs(t, err, ErrInvalidRequest)
}
