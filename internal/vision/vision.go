// Package vision is ladder level four: a paid video-model pass for posts
// whose text yielded no ingredients. Every call is preceded by a vision
// minute reservation that is refunded unless the call produced ingredients.
package vision

import (
	"context"
	"math"
	"slices"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/cookcard/ingest/internal/budget"
	"github.com/cookcard/ingest/internal/cost"
	"github.com/cookcard/ingest/internal/extract"
	"github.com/cookcard/ingest/internal/model"
	"github.com/cookcard/ingest/pkg/gemini"
	"github.com/cookcard/ingest/pkg/platform"
)

var (
	// ErrPlatformUnsupported means vision is not enabled for the platform.
	ErrPlatformUnsupported = eris.New("vision: platform not supported")
	// ErrDurationUnknown means the metadata carried no duration to reserve.
	ErrDurationUnknown = eris.New("vision: video duration unknown")
	// ErrTooLong means the video exceeds the configured maximum.
	ErrTooLong = eris.New("vision: video too long")
	// ErrNoIngredients means the model found nothing; the reservation was
	// refunded.
	ErrNoIngredients = eris.New("vision: no ingredients found")
)

// Reserver debits vision minutes. budget.Controller implements it.
type Reserver interface {
	ReserveVisionMinutes(ctx context.Context, userID string, tier model.Tier, minutes int64) (*budget.Reservation, error)
}

// Config tunes the vision fallback.
type Config struct {
	Model           string
	Platforms       []model.Platform
	MaxDuration     time.Duration
	MaxOutputTokens int32
	Timeout         time.Duration
}

// DefaultConfig returns the production settings.
func DefaultConfig() Config {
	return Config{
		Model:           "gemini-2.5-flash",
		Platforms:       []model.Platform{model.PlatformYouTube},
		MaxDuration:     10 * time.Minute,
		MaxOutputTokens: 4096,
		Timeout:         120 * time.Second,
	}
}

// Request identifies the video and who pays for it.
type Request struct {
	Meta   *platform.Metadata
	UserID string
	Tier   model.Tier
}

// Result is what one vision attempt produced. Minutes is non-zero only when
// the reservation was committed.
type Result struct {
	Ingredients []model.Ingredient
	Rejections  map[string]int
	Confidence  float64
	Resolution  Resolution
	Minutes     int64
	Usage       model.TokenUsage
	CostUSD     float64
	Called      bool
}

// Extractor runs level four.
type Extractor struct {
	client gemini.Client
	budget Reserver
	calc   *cost.Calculator
	cfg    Config
}

// New creates an Extractor.
func New(client gemini.Client, reserver Reserver, calc *cost.Calculator, cfg Config) *Extractor {
	def := DefaultConfig()
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.MaxDuration <= 0 {
		cfg.MaxDuration = def.MaxDuration
	}
	if cfg.MaxOutputTokens <= 0 {
		cfg.MaxOutputTokens = def.MaxOutputTokens
	}
	if calc == nil {
		calc = cost.NewCalculator(cost.DefaultRates())
	}
	return &Extractor{client: client, budget: reserver, calc: calc, cfg: cfg}
}

// CheckEligible applies the free gates in order: platform, then duration.
func (e *Extractor) CheckEligible(meta *platform.Metadata) error {
	if e == nil || e.client == nil || meta == nil {
		return ErrPlatformUnsupported
	}
	if !slices.Contains(e.cfg.Platforms, model.Platform(meta.Platform)) {
		return eris.Wrap(ErrPlatformUnsupported, string(meta.Platform))
	}
	if meta.Duration <= 0 {
		return ErrDurationUnknown
	}
	if meta.Duration > e.cfg.MaxDuration {
		return eris.Wrapf(ErrTooLong, "%s > %s", meta.Duration, e.cfg.MaxDuration)
	}
	return nil
}

// Extract reserves minutes, calls the video model once and commits the
// reservation only when at least one ingredient came back. Any error or
// panic after the reservation refunds it.
func (e *Extractor) Extract(ctx context.Context, req Request) (*Result, error) {
	res := &Result{}
	if err := e.CheckEligible(req.Meta); err != nil {
		return res, err
	}
	meta := req.Meta
	minutes := MinutesFor(meta.Duration)
	log := zap.L().With(
		zap.String("user_id", req.UserID),
		zap.String("url", meta.URL),
		zap.Int64("minutes", minutes),
	)

	reservation, err := e.budget.ReserveVisionMinutes(ctx, req.UserID, req.Tier, minutes)
	if err != nil {
		return res, err
	}
	defer reservation.Release(ctx)

	res.Resolution = ResolutionFor(meta.Duration)
	callCtx, cancel := withTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	resp, err := e.client.AnalyzeVideo(callCtx, gemini.VideoRequest{
		Model:           e.cfg.Model,
		System:          systemPrompt,
		Prompt:          userPrompt(meta, res.Resolution),
		VideoURI:        meta.URL,
		MaxOutputTokens: res.Resolution.OutputTokens(e.cfg.MaxOutputTokens),
	})
	res.Called = true
	if err != nil {
		log.Warn("vision: analyze failed, refunding reservation", zap.Error(err))
		return res, eris.Wrap(err, "vision: analyze video")
	}

	res.Usage = model.TokenUsage{
		InputTokens:  int(resp.Usage.InputTokens),
		OutputTokens: int(resp.Usage.OutputTokens),
	}
	res.Usage.Cost = e.calc.Gemini(e.cfg.Model, res.Usage.InputTokens, res.Usage.OutputTokens)
	res.CostUSD = res.Usage.Cost

	parsed, err := extract.ParseResponse(resp.Text)
	if err != nil {
		log.Warn("vision: unparseable response", zap.String("finish_reason", resp.FinishReason), zap.Error(err))
		return res, err
	}

	res.Ingredients, res.Rejections = normalizeIngredients(parsed)
	if len(res.Ingredients) == 0 {
		log.Info("vision: no ingredients, refunding reservation", zap.Float64("cost_usd", res.CostUSD))
		return res, ErrNoIngredients
	}

	res.Confidence = ConfidenceFor(len(res.Ingredients))
	for i := range res.Ingredients {
		res.Ingredients[i].Confidence = res.Confidence
	}

	reservation.Commit()
	res.Minutes = minutes
	log.Info("vision: extraction complete",
		zap.String("resolution", string(res.Resolution)),
		zap.Int("ingredients", len(res.Ingredients)),
		zap.Int("input_tokens", res.Usage.InputTokens),
		zap.Int("output_tokens", res.Usage.OutputTokens),
		zap.Float64("cost_usd", res.CostUSD),
	)
	return res, nil
}

// normalizeIngredients applies the text path's normalization. Evidence
// phrases are kept as observations and never checked, since there is no
// source text to check them against.
func normalizeIngredients(resp *extract.Response) ([]model.Ingredient, map[string]int) {
	var (
		out        []model.Ingredient
		rejections = map[string]int{}
	)
	for _, raw := range resp.Ingredients {
		ing := extract.BuildIngredient(raw, model.ProvenanceVideoVision, model.EvidenceVideo, len(out))
		switch {
		case ing.NormalizedName == "":
			rejections[extract.ReasonEmptyName]++
			continue
		case extract.IsSectionHeader(ing.Name):
			rejections[extract.ReasonSectionHeader]++
			continue
		}
		out = append(out, ing)
	}
	if len(rejections) == 0 {
		rejections = nil
	}
	return out, rejections
}

// MinutesFor rounds a duration up to whole minutes.
func MinutesFor(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	return int64(math.Ceil(d.Minutes()))
}

// ConfidenceFor is the card confidence for a vision result with n
// ingredients. Fewer ingredients read as a less reliable pass.
func ConfidenceFor(n int) float64 {
	switch {
	case n >= 8:
		return 0.85
	case n >= 4:
		return 0.75
	case n >= 1:
		return 0.60
	default:
		return 0
	}
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
