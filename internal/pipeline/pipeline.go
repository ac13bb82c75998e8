// Package pipeline orchestrates one Cook Card extraction: rate limits, the
// cache, the free text ladder, the paid text and vision levels, quota
// accounting and telemetry.
package pipeline

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/cookcard/ingest/internal/budget"
	"github.com/cookcard/ingest/internal/cache"
	"github.com/cookcard/ingest/internal/extract"
	"github.com/cookcard/ingest/internal/ladder"
	"github.com/cookcard/ingest/internal/model"
	"github.com/cookcard/ingest/internal/vision"
	"github.com/cookcard/ingest/pkg/platform"
)

// Ladder path steps for the paid levels.
const (
	StepLLMText     = "llm_text"
	StepVideoVision = "video_vision"
)

// ErrInvalidRequest marks input that can never succeed.
var ErrInvalidRequest = eris.New("pipeline: invalid request")

// Budget gates paid work. budget.Controller implements it.
type Budget interface {
	CheckRate(ctx context.Context, userID, householdID string) error
	ReserveExtraction(ctx context.Context, userID string, tier model.Tier) (*budget.Reservation, error)
	Usage(ctx context.Context, userID string, tier model.Tier) (*budget.Usage, error)
}

// TierResolver looks up a user's subscription tier.
type TierResolver interface {
	GetUserTier(ctx context.Context, userID string) (model.Tier, error)
}

// TextLadder gathers free evidence text. ladder.Ladder implements it.
type TextLadder interface {
	Run(ctx context.Context, canonicalURL string, hints ladder.Hints) (*ladder.Result, error)
}

// TextExtractor is level three. extract.Extractor implements it.
type TextExtractor interface {
	Extract(ctx context.Context, sourceText string, src model.EvidenceSource) (*extract.Result, error)
}

// VisionExtractor is level four. vision.Extractor implements it.
type VisionExtractor interface {
	CheckEligible(meta *platform.Metadata) error
	Extract(ctx context.Context, req vision.Request) (*vision.Result, error)
}

// CardCache stores finished cards. cache.Service implements it.
type CardCache interface {
	Get(ctx context.Context, key string) (*model.CookCard, error)
	Put(ctx context.Context, key string, card *model.CookCard, costUSD float64) error
}

// Canonicalizer attaches canonical item ids. canonical.Service implements it.
type Canonicalizer interface {
	Attach(ctx context.Context, ingredients []model.Ingredient) (int, error)
}

// Sink persists cards and telemetry. store.Store implements it.
type Sink interface {
	SaveCookCard(ctx context.Context, card *model.CookCard) error
	AppendTelemetry(ctx context.Context, ev *model.TelemetryEvent) error
}

// Deps are the Pipeline's collaborators. Vision and Canonical may be nil.
type Deps struct {
	Budget    Budget
	Tiers     TierResolver
	Ladder    TextLadder
	Text      TextExtractor
	Vision    VisionExtractor
	Cache     CardCache
	Canonical Canonicalizer
	Sink      Sink
}

// Request is one inbound extraction request.
type Request struct {
	RequestID   string `json:"request_id,omitempty"`
	URL         string `json:"url"`
	UserID      string `json:"user_id"`
	HouseholdID string `json:"household_id,omitempty"`
	BypassCache bool   `json:"bypass_cache,omitempty"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
}

// Response is the extraction result handed back to callers.
type Response struct {
	CookCard             *model.CookCard   `json:"cook_card"`
	RequiresConfirmation bool              `json:"requires_confirmation"`
	CacheStatus          model.CacheStatus `json:"cache_status"`
	Outcome              model.Outcome     `json:"-"`
	CostUSD              float64           `json:"-"`
}

// Pipeline runs extractions. It holds no per-request state and is safe for
// concurrent use.
type Pipeline struct {
	deps Deps
	now  func() time.Time
}

// New creates a Pipeline.
func New(deps Deps) *Pipeline {
	return &Pipeline{deps: deps, now: time.Now}
}

// Extract serves one request.
//
// Errors: ErrInvalidRequest and ladder.ErrMetadataUnavailable are fatal and
// have no side effects beyond the rate counter. *budget.RateLimitError is
// returned with a nil Response. *budget.QuotaError is returned together with
// a link-only Response.
func (p *Pipeline) Extract(ctx context.Context, req Request) (*Response, error) {
	start := p.now()
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}

	canonicalURL, err := validate(req)
	if err != nil {
		return nil, err
	}
	plat, _ := platform.Detect(canonicalURL)

	log := zap.L().With(
		zap.String("request_id", req.RequestID),
		zap.String("user_id", req.UserID),
		zap.String("url", canonicalURL),
	)
	ev := &model.TelemetryEvent{
		RequestID:   req.RequestID,
		UserID:      req.UserID,
		HouseholdID: req.HouseholdID,
		SourceURL:   canonicalURL,
		Platform:    model.Platform(plat),
		CacheStatus: model.CacheMiss,
	}
	defer func() {
		ev.LatencyMS = p.now().Sub(start).Milliseconds()
		p.recordTelemetry(ctx, ev)
	}()

	if err := p.deps.Budget.CheckRate(ctx, req.UserID, req.HouseholdID); err != nil {
		ev.Outcome = model.OutcomeRateLimited
		ev.Error = err.Error()
		log.Info("pipeline: rate limited", zap.Error(err))
		return nil, err
	}

	tier := p.resolveTier(ctx, req.UserID)

	key := cache.Key(canonicalURL, req.Title, req.Description)
	if req.BypassCache {
		ev.CacheStatus = model.CacheBypass
	} else if card := p.cacheLookup(ctx, key); card != nil {
		ev.CacheStatus = model.CacheHit
		ev.Outcome = model.OutcomeCached
		ev.Method = card.Extraction.Method
		ev.EvidenceSource = card.Extraction.EvidenceSource
		ev.IngredientCount = len(card.Ingredients)
		log.Info("pipeline: cache hit", zap.String("card_id", card.ID))
		return &Response{
			CookCard:             card,
			RequiresConfirmation: card.RequiresConfirmation(),
			CacheStatus:          model.CacheHit,
			Outcome:              model.OutcomeCached,
		}, nil
	}

	slot, err := p.deps.Budget.ReserveExtraction(ctx, req.UserID, tier)
	if err != nil {
		ev.Outcome = model.OutcomeQuota
		ev.Error = err.Error()
		log.Info("pipeline: monthly quota exhausted", zap.Error(err))
		card := p.linkOnlyCard(canonicalURL, model.Platform(plat), nil, req, nil)
		return &Response{
			CookCard:             card,
			RequiresConfirmation: false,
			CacheStatus:          ev.CacheStatus,
			Outcome:              model.OutcomeQuota,
		}, err
	}
	// Anything short of a successful card gives the quota slot back.
	defer slot.Release(ctx)

	lr, err := p.deps.Ladder.Run(ctx, canonicalURL, ladder.Hints{Title: req.Title, Description: req.Description})
	if err != nil {
		ev.Outcome = model.OutcomeFailed
		ev.Error = err.Error()
		log.Warn("pipeline: ladder failed", zap.Error(err))
		return nil, err
	}
	ev.LadderPath = append(ev.LadderPath, lr.Path...)
	ev.EvidenceSource = lr.EvidenceSource

	run := &attempt{ladder: lr, rejections: map[string]int{}}
	p.runText(ctx, log, run)
	if len(run.ingredients) == 0 {
		p.runVision(ctx, log, run, req.UserID, tier)
	}

	ev.LadderPath = append(ev.LadderPath, run.path...)
	ev.CostUSD = run.cost
	ev.VisionMinutes = run.visionMinutes
	if len(run.rejections) > 0 {
		ev.Rejections = run.rejections
	}

	if len(run.ingredients) == 0 {
		ev.Outcome = model.OutcomeDegraded
		card := p.linkOnlyCard(canonicalURL, model.Platform(plat), lr, req, ev.LadderPath)
		card.Extraction.CostUSD = run.cost
		if p.deps.Sink != nil {
			if err := p.deps.Sink.SaveCookCard(ctx, card); err != nil {
				log.Warn("pipeline: save cook card failed", zap.Error(err))
			}
		}
		log.Info("pipeline: no ingredients, returning link-only card",
			zap.Strings("ladder_path", ev.LadderPath),
			zap.Float64("cost_usd", run.cost),
		)
		return &Response{CookCard: card, CacheStatus: ev.CacheStatus, Outcome: model.OutcomeDegraded, CostUSD: run.cost}, nil
	}

	card := p.buildCard(canonicalURL, model.Platform(plat), lr, run, ev.LadderPath)
	if p.deps.Canonical != nil {
		if _, err := p.deps.Canonical.Attach(ctx, card.Ingredients); err != nil {
			log.Warn("pipeline: canonical matching failed", zap.Error(err))
		}
	}

	slot.Commit()

	if err := p.deps.Cache.Put(ctx, key, card, run.cost); err != nil {
		log.Warn("pipeline: cache write failed", zap.Error(err))
	}
	if p.deps.Sink != nil {
		if err := p.deps.Sink.SaveCookCard(ctx, card); err != nil {
			log.Warn("pipeline: save cook card failed", zap.Error(err))
		}
	}

	ev.Outcome = model.OutcomeSuccess
	ev.Method = card.Extraction.Method
	ev.EvidenceSource = card.Extraction.EvidenceSource
	ev.IngredientCount = len(card.Ingredients)
	log.Info("pipeline: extraction complete",
		zap.String("method", string(card.Extraction.Method)),
		zap.Int("ingredients", len(card.Ingredients)),
		zap.Float64("cost_usd", run.cost),
	)
	return &Response{
		CookCard:             card,
		RequiresConfirmation: card.RequiresConfirmation(),
		CacheStatus:          ev.CacheStatus,
		Outcome:              model.OutcomeSuccess,
		CostUSD:              run.cost,
	}, nil
}

// Usage reports a user's quota and vision minutes.
func (p *Pipeline) Usage(ctx context.Context, userID string) (*budget.Usage, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, eris.Wrap(ErrInvalidRequest, "user_id is required")
	}
	return p.deps.Budget.Usage(ctx, userID, p.resolveTier(ctx, userID))
}

// attempt accumulates the paid levels' output for one request.
type attempt struct {
	ladder        *ladder.Result
	path          []string
	ingredients   []model.Ingredient
	steps         []string
	method        model.ExtractionMethod
	source        model.EvidenceSource
	confidence    float64
	cost          float64
	visionMinutes int64
	rejections    map[string]int
}

func (a *attempt) addRejections(m map[string]int) {
	for k, v := range m {
		a.rejections[k] += v
	}
}

func (p *Pipeline) runText(ctx context.Context, log *zap.Logger, run *attempt) {
	if p.deps.Text == nil {
		return
	}
	res, err := p.deps.Text.Extract(ctx, run.ladder.Text, run.ladder.EvidenceSource)
	if res != nil {
		if res.Called {
			run.path = append(run.path, StepLLMText)
		}
		run.cost += res.CostUSD
		run.addRejections(res.Rejections)
	}
	if err != nil {
		log.Warn("pipeline: text extraction failed, falling through", zap.Error(err))
		return
	}
	if len(res.Ingredients) == 0 {
		return
	}
	run.ingredients = res.Ingredients
	run.steps = res.Steps
	run.method = model.MethodLLMText
	run.source = run.ladder.EvidenceSource
	card := model.CookCard{Ingredients: res.Ingredients}
	run.confidence = card.AverageConfidence()
}

func (p *Pipeline) runVision(ctx context.Context, log *zap.Logger, run *attempt, userID string, tier model.Tier) {
	if p.deps.Vision == nil {
		return
	}
	if err := p.deps.Vision.CheckEligible(run.ladder.Meta); err != nil {
		log.Debug("pipeline: vision not eligible", zap.Error(err))
		return
	}
	run.path = append(run.path, StepVideoVision)

	res, err := p.deps.Vision.Extract(ctx, vision.Request{Meta: run.ladder.Meta, UserID: userID, Tier: tier})
	if res != nil {
		run.cost += res.CostUSD
		run.visionMinutes = res.Minutes
		run.addRejections(res.Rejections)
	}
	if err != nil {
		var exceeded *budget.BudgetExceededError
		switch {
		case errors.As(err, &exceeded):
			log.Info("pipeline: vision budget exhausted", zap.String("scope", exceeded.Scope), zap.Error(err))
		case errors.Is(err, vision.ErrNoIngredients):
			log.Info("pipeline: vision found no ingredients")
		default:
			log.Warn("pipeline: vision extraction failed", zap.Error(err))
		}
		return
	}
	run.ingredients = res.Ingredients
	run.method = model.MethodVideoVision
	run.source = model.EvidenceVideo
	run.confidence = res.Confidence
}

func (p *Pipeline) resolveTier(ctx context.Context, userID string) model.Tier {
	if p.deps.Tiers == nil {
		return model.TierFree
	}
	tier, err := p.deps.Tiers.GetUserTier(ctx, userID)
	if err != nil || tier == "" {
		if err != nil {
			zap.L().Warn("pipeline: tier lookup failed, using free tier", zap.String("user_id", userID), zap.Error(err))
		}
		return model.TierFree
	}
	return tier
}

func (p *Pipeline) cacheLookup(ctx context.Context, key string) *model.CookCard {
	card, err := p.deps.Cache.Get(ctx, key)
	if err != nil {
		zap.L().Warn("pipeline: cache read failed, treating as miss", zap.Error(err))
		return nil
	}
	return card
}

func (p *Pipeline) recordTelemetry(ctx context.Context, ev *model.TelemetryEvent) {
	if p.deps.Sink == nil {
		return
	}
	tctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := p.deps.Sink.AppendTelemetry(tctx, ev); err != nil {
		zap.L().Warn("pipeline: telemetry write failed",
			zap.String("request_id", ev.RequestID),
			zap.Error(err),
		)
	}
}

func validate(req Request) (string, error) {
	if strings.TrimSpace(req.URL) == "" {
		return "", eris.Wrap(ErrInvalidRequest, "url is required")
	}
	if strings.TrimSpace(req.UserID) == "" {
		return "", eris.Wrap(ErrInvalidRequest, "user_id is required")
	}
	canonicalURL, err := platform.Canonicalize(req.URL)
	if err != nil {
		return "", eris.Wrap(ErrInvalidRequest, err.Error())
	}
	return canonicalURL, nil
}
