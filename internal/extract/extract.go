// Package extract is ladder level three: a single text-model call that turns
// evidence text into attributed ingredients. Every ingredient must quote a
// phrase that literally occurs in the source, and structural section labels
// are filtered out before anything reaches a Cook Card.
package extract

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/cookcard/ingest/internal/cost"
	"github.com/cookcard/ingest/internal/model"
	"github.com/cookcard/ingest/internal/normalize"
	"github.com/cookcard/ingest/pkg/anthropic"
)

// Config tunes the text extractor.
type Config struct {
	Model     string
	MaxTokens int64
	Timeout   time.Duration
	MinChars  int
}

// DefaultConfig returns the production settings.
func DefaultConfig() Config {
	return Config{
		Model:     "claude-haiku-4-5-20251001",
		MaxTokens: 2048,
		Timeout:   60 * time.Second,
		MinChars:  50,
	}
}

// Result is what one extraction attempt produced. Usage and CostUSD are set
// whenever the model was called, even if parsing failed afterwards.
type Result struct {
	Ingredients []model.Ingredient
	Steps       []string
	Rejections  map[string]int
	Usage       model.TokenUsage
	CostUSD     float64
	Model       string
	Called      bool
}

// Extractor runs level three.
type Extractor struct {
	client anthropic.Client
	calc   *cost.Calculator
	cfg    Config
}

// New creates an Extractor.
func New(client anthropic.Client, calc *cost.Calculator, cfg Config) *Extractor {
	def := DefaultConfig()
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = def.MaxTokens
	}
	if cfg.MinChars <= 0 {
		cfg.MinChars = def.MinChars
	}
	if calc == nil {
		calc = cost.NewCalculator(cost.DefaultRates())
	}
	return &Extractor{client: client, calc: calc, cfg: cfg}
}

// Eligible is the pre-gate: text that is too short or carries no recipe
// signal is never sent to the model.
func (e *Extractor) Eligible(sourceText string) bool {
	text := strings.TrimSpace(sourceText)
	return utf8.RuneCountInString(text) >= e.cfg.MinChars && normalize.LooksLikeRecipe(text)
}

// Extract calls the model once and validates its answer against sourceText.
// A failed call is not retried. When the pre-gate rejects the text the
// returned Result has Called=false and no error.
func (e *Extractor) Extract(ctx context.Context, sourceText string, src model.EvidenceSource) (*Result, error) {
	res := &Result{Rejections: map[string]int{}, Model: e.cfg.Model}
	log := zap.L().With(zap.String("model", e.cfg.Model), zap.String("evidence_source", string(src)))

	if !e.Eligible(sourceText) {
		log.Debug("extract: pre-gate rejected text", zap.Int("chars", utf8.RuneCountInString(sourceText)))
		return res, nil
	}

	text := normalize.ExpandFractions(sourceText)

	callCtx, cancel := withTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	temp := 0.0
	resp, err := e.client.CreateMessage(callCtx, anthropic.MessageRequest{
		Model:       e.cfg.Model,
		MaxTokens:   e.cfg.MaxTokens,
		System:      []anthropic.SystemBlock{{Text: systemPrompt}},
		Messages:    []anthropic.Message{{Role: "user", Content: userMessage(text)}},
		Temperature: &temp,
	})
	res.Called = true
	if err != nil {
		return res, eris.Wrap(err, "extract: create message")
	}

	res.Usage = model.TokenUsage{
		InputTokens:         int(resp.Usage.InputTokens),
		OutputTokens:        int(resp.Usage.OutputTokens),
		CacheCreationTokens: int(resp.Usage.CacheCreationInputTokens),
		CacheReadTokens:     int(resp.Usage.CacheReadInputTokens),
	}
	res.CostUSD = e.calc.ClaudeUsage(e.cfg.Model, &res.Usage)

	parsed, err := ParseResponse(resp.Text())
	if err != nil {
		log.Warn("extract: unparseable response",
			zap.String("stop_reason", resp.StopReason),
			zap.Error(err),
		)
		return res, err
	}

	v := Validate(text, src, parsed)
	res.Ingredients = v.Ingredients
	res.Steps = v.Steps
	res.Rejections = v.Rejections

	log.Info("extract: llm extraction complete",
		zap.Int("input_tokens", res.Usage.InputTokens),
		zap.Int("output_tokens", res.Usage.OutputTokens),
		zap.Float64("cost_usd", res.CostUSD),
		zap.Int("proposed", len(parsed.Ingredients)),
		zap.Int("accepted", len(res.Ingredients)),
		zap.Any("rejections", res.Rejections),
	)
	return res, nil
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
