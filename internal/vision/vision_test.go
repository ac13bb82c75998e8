package vision

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
	"github.com/cookcard/ingest/internal/model"
	"github.com/cookcard/ingest/pkg/gemini"
	"github.com/cookcard/ingest/pkg/gemini/mocks"
	"github.com/cookcard/ingest/pkg/platform"
)

var fixedNow = time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

type fixture struct {
	counters  *budgettest.Counters
	client    *mocks.MockClient
	extractor *Extractor
	userKey   budget.Key
	globalKey budget.Key
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	counters := budgettest.New()
	ctrl := budget.NewController(counters, budget.DefaultLimits(), budget.WithClock(func() time.Time { return fixedNow }))
	client := mocks.NewMockClient(t)
	day := budget.DayWindow(fixedNow)
	return &fixture{
		counters:  counters,
		client:    client,
		extractor: New(client, ctrl, nil, DefaultConfig()),
		userKey:   budget.Key{SubjectID: budget.UserSubject("u1"), CounterType: budget.CounterDailyVisionMinutes, WindowKey: day},
		globalKey: budget.Key{SubjectID: budget.GlobalSubject, CounterType: budget.CounterDailyVisionMinutes, WindowKey: day},
	}
}

func video(d time.Duration) *platform.Metadata {
	return &platform.Metadata{
		Platform: platform.YouTube,
		URL:      "https://www.youtube.com/watch?v=dQw4w9WgXcQ",
		VideoID:  "dQw4w9WgXcQ",
		Title:    "Weeknight ramen",
		Duration: d,
	}
}

const fourIngredients = `{"ingredients":[
	{"name":"ramen noodles","evidence_phrase":"package shown at 0:05"},
	{"name":"egg","amount":"2","evidence_phrase":"spoken: two eggs"},
	{"name":"Soy Sauce","amount":"1","unit":"tablespoon","evidence_phrase":"bottle at 0:40"},
	{"name":"scallions","evidence_phrase":"chopped at 1:10"},
	{"name":"For the broth:","evidence_phrase":"on-screen text"},
	{"name":"","evidence_phrase":"?"}
]}`

func TestExtract_SuccessCommitsReservation(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.client.On("AnalyzeVideo", mock.Anything, mock.MatchedBy(func(req gemini.VideoRequest) bool {
		return req.VideoURI == video(0).URL && req.Model == "gemini-2.5-flash" && req.MaxOutputTokens == 3072
	})).Return(&gemini.VideoResponse{
		Text:  fourIngredients,
		Usage: gemini.TokenUsage{InputTokens: 1_000_000, OutputTokens: 100_000},
	}, nil).Once()

	res, err := f.extractor.Extract(context.Background(), Request{Meta: video(90 * time.Second), UserID: "u1", Tier: model.TierFree})
	require.NoError(t, err)

	assert.Equal(t, int64(2), res.Minutes)
	assert.Equal(t, int64(2), f.counters.Value(f.userKey))
	assert.Equal(t, int64(2), f.counters.Value(f.globalKey))
	assert.Equal(t, ResolutionMedium, res.Resolution)
	assert.Equal(t, 0.75, res.Confidence)
	assert.InDelta(t, 0.30+0.25, res.CostUSD, 1e-9)
	assert.Equal(t, map[string]int{"section_header": 1, "empty_name": 1}, res.Rejections)

	require.Len(t, res.Ingredients, 4)
	for _, ing := range res.Ingredients {
		assert.Equal(t, model.ProvenanceVideoVision, ing.Provenance)
		assert.Equal(t, model.EvidenceVideo, ing.EvidenceSource)
		assert.Equal(t, 0.75, ing.Confidence)
		assert.NotEmpty(t, ing.EvidencePhrase)
	}
	assert.Equal(t, "soy sauce", res.Ingredients[2].NormalizedName)
	assert.Equal(t, "tbsp", res.Ingredients[2].Unit)
}

func TestExtract_DeniedWithoutCallingModel(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.counters.Set(f.userKey, 29)

	_, err := f.extractor.Extract(context.Background(), Request{Meta: video(2 * time.Minute), UserID: "u1", Tier: model.TierFree})

	var exceeded *budget.BudgetExceededError
	require.ErrorAs(t, err, &exceeded)
	assert.Equal(t, "user", exceeded.Scope)
	assert.Equal(t, int64(29), f.counters.Value(f.userKey))
	assert.Equal(t, int64(0), f.counters.Value(f.globalKey))
	f.client.AssertNotCalled(t, "AnalyzeVideo", mock.Anything, mock.Anything)
}

func TestExtract_RefundsOnFailure(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		resp    *gemini.VideoResponse
		err     error
		wantErr error
	}{
		{"model error", nil, errors.New("deadline"), nil},
		{"unparseable", &gemini.VideoResponse{Text: "no idea"}, nil, nil},
		{"zero ingredients", &gemini.VideoResponse{Text: `{"ingredients":[]}`}, nil, ErrNoIngredients},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t)
			f.counters.Set(f.userKey, 27)
			f.client.On("AnalyzeVideo", mock.Anything, mock.Anything).Return(tt.resp, tt.err).Once()

			res, err := f.extractor.Extract(context.Background(), Request{Meta: video(2 * time.Minute), UserID: "u1", Tier: model.TierFree})
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
			assert.True(t, res.Called)
			assert.Zero(t, res.Minutes)
			assert.Equal(t, int64(27), f.counters.Value(f.userKey))
			assert.Equal(t, int64(0), f.counters.Value(f.globalKey))
		})
	}
}

func TestExtract_RefundsOnPanic(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.client.On("AnalyzeVideo", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { panic("sdk bug") }).
		Return(nil, nil).Once()

	assert.Panics(t, func() {
		_, _ = f.extractor.Extract(context.Background(), Request{Meta: video(3 * time.Minute), UserID: "u1", Tier: model.TierFree})
	})
	assert.Equal(t, int64(0), f.counters.Value(f.userKey))
	assert.Equal(t, int64(0), f.counters.Value(f.globalKey))
}

func TestExtract_RefundsWhenCallerCancels(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	f.client.On("AnalyzeVideo", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { cancel() }).
		Return(nil, context.Canceled).Once()

	_, err := f.extractor.Extract(ctx, Request{Meta: video(time.Minute), UserID: "u1", Tier: model.TierFree})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int64(0), f.counters.Value(f.userKey))
	assert.Equal(t, int64(0), f.counters.Value(f.globalKey))
}

func TestExtract_BudgetStoreDownFailsClosed(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.counters.Err = errors.New("connection refused")

	_, err := f.extractor.Extract(context.Background(), Request{Meta: video(time.Minute), UserID: "u1", Tier: model.TierFree})
	require.ErrorIs(t, err, budget.ErrBudgetUnavailable)
	f.client.AssertNotCalled(t, "AnalyzeVideo", mock.Anything, mock.Anything)
}

func TestCheckEligible(t *testing.T) {
	t.Parallel()
	e := New(mocks.NewMockClient(t), nil, nil, DefaultConfig())

	tiktok := video(time.Minute)
	tiktok.Platform = platform.TikTok

	tests := []struct {
		name string
		meta *platform.Metadata
		want error
	}{
		{"eligible", video(10 * time.Minute), nil},
		{"platform", tiktok, ErrPlatformUnsupported},
		{"unknown duration", video(0), ErrDurationUnknown},
		{"too long", video(10*time.Minute + time.Second), ErrTooLong},
		{"nil metadata", nil, ErrPlatformUnsupported},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := e.CheckEligible(tt.meta)
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestMinutesAndConfidence(t *testing.T) {
	t.Parallel()
	assert.Equal(t, int64(0), MinutesFor(0))
	assert.Equal(t, int64(1), MinutesFor(time.Second))
	assert.Equal(t, int64(1), MinutesFor(time.Minute))
	assert.Equal(t, int64(2), MinutesFor(61*time.Second))

	assert.Equal(t, 0.0, ConfidenceFor(0))
	assert.Equal(t, 0.60, ConfidenceFor(1))
	assert.Equal(t, 0.60, ConfidenceFor(3))
	assert.Equal(t, 0.75, ConfidenceFor(4))
	assert.Equal(t, 0.85, ConfidenceFor(8))
}

func TestResolutionFor(t *testing.T) {
	t.Parallel()
	assert.Equal(t, ResolutionHigh, ResolutionFor(time.Minute))
	assert.Equal(t, ResolutionMedium, ResolutionFor(5*time.Minute))
	assert.Equal(t, ResolutionLow, ResolutionFor(5*time.Minute+time.Second))
	assert.Equal(t, int32(4096), ResolutionHigh.OutputTokens(4096))
	assert.Equal(t, int32(2048), ResolutionLow.OutputTokens(4096))
	assert.Contains(t, userPrompt(video(time.Minute), ResolutionLow), "0.2 frames per second")
}
