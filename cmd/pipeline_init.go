package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/cookcard/ingest/internal/budget"
	"github.com/cookcard/ingest/internal/cache"
	"github.com/cookcard/ingest/internal/canonical"
	"github.com/cookcard/ingest/internal/config"
	"github.com/cookcard/ingest/internal/cost"
	"github.com/cookcard/ingest/internal/extract"
	"github.com/cookcard/ingest/internal/ladder"
	"github.com/cookcard/ingest/internal/model"
	"github.com/cookcard/ingest/internal/pipeline"
	"github.com/cookcard/ingest/internal/resilience"
	"github.com/cookcard/ingest/internal/store"
	"github.com/cookcard/ingest/internal/vision"
	"github.com/cookcard/ingest/pkg/anthropic"
	"github.com/cookcard/ingest/pkg/gemini"
	"github.com/cookcard/ingest/pkg/platform"
)

// pipelineEnv holds the initialized store, clients and the pipeline needed
// by the extract/batch/serve commands.
type pipelineEnv struct {
	Store      store.Store
	Counters   budget.Counters
	Controller *budget.Controller
	Pipeline   *pipeline.Pipeline
	Gemini     gemini.Client // nil when vision is disabled

	closeCounters func()
}

// Close releases resources held by the pipeline environment.
func (pe *pipelineEnv) Close() {
	if pe.Gemini != nil {
		_ = pe.Gemini.Close()
	}
	if pe.closeCounters != nil {
		pe.closeCounters()
	}
	if pe.Store != nil {
		_ = pe.Store.Close()
	}
}

// initPipeline sets up the store, counters, model clients and the Pipeline.
// With preload the vocabulary is read once up front (batch); otherwise it is
// read per request (serve). Callers should defer env.Close().
func initPipeline(ctx context.Context, mode string, preload bool) (*pipelineEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := initStore(ctx, cfg.Store.Driver == "postgres")
	if err != nil {
		return nil, err
	}
	env := &pipelineEnv{Store: st}

	counters, closeCounters, err := initCounters(ctx, st)
	if err != nil {
		env.Close()
		return nil, err
	}
	env.Counters = counters
	env.closeCounters = closeCounters
	env.Controller = budget.NewController(counters, buildLimits(cfg.Budget))

	calc := cost.NewCalculator(buildRates(cfg.Pricing))
	breakers := resilience.NewBreakers(resilience.BreakerConfig{
		FailureThreshold: cfg.Resilience.FailureThreshold,
		ResetTimeout:     cfg.Resilience.ResetTimeout,
	})

	router := platform.NewRouter(
		youtubeClient(),
		platform.NewOEmbedClient(platform.OEmbedConfig{
			InstagramToken: cfg.Platform.InstagramToken,
			Timeout:        cfg.Platform.MetadataTimeout,
		}),
		platform.NewWebClient(cfg.Platform.MetadataTimeout, nil),
		transcriptClient(),
	)

	deps := pipeline.Deps{
		Budget: env.Controller,
		Tiers:  st,
		Ladder: ladder.New(router, breakers, ladderConfig(cfg)),
		Text:   extract.New(anthropic.NewClient(cfg.Anthropic.Key), calc, extractConfig(cfg)),
		Cache:  cache.New(st, time.Duration(cfg.Cache.TTLDays)*24*time.Hour),
		Sink:   st,
	}

	if cfg.Vision.Enabled {
		gc, err := gemini.NewClient(ctx, cfg.Gemini.Key)
		if err != nil {
			env.Close()
			return nil, eris.Wrap(err, "init gemini client")
		}
		env.Gemini = gc
		deps.Vision = vision.New(gc, env.Controller, calc, visionConfig(cfg))
	} else {
		zap.L().Info("vision fallback disabled")
	}

	if preload {
		svc, err := canonical.Preload(ctx, st, cfg.Canonical.FuzzyThreshold)
		if err != nil {
			env.Close()
			return nil, err
		}
		deps.Canonical = svc
	} else {
		deps.Canonical = canonical.NewService(st, cfg.Canonical.FuzzyThreshold)
	}

	env.Pipeline = pipeline.New(deps)
	zap.L().Info("pipeline initialized",
		zap.String("store", cfg.Store.Driver),
		zap.String("counters", cfg.Budget.Backend),
		zap.Bool("vision", cfg.Vision.Enabled),
	)
	return env, nil
}

func youtubeClient() *platform.YouTubeClient {
	if cfg.Platform.YouTubeAPIKey == "" {
		zap.L().Warn("COOKCARD_PLATFORM_YOUTUBE_API_KEY not set, youtube links will fail metadata")
		return nil
	}
	return platform.NewYouTubeClient(cfg.Platform.YouTubeAPIKey,
		platform.WithYouTubeTimeout(cfg.Platform.MetadataTimeout))
}

func transcriptClient() *platform.TranscriptClient {
	if cfg.Platform.TranscriptURL == "" {
		zap.L().Debug("transcript service not configured, level 2.5 disabled")
		return nil
	}
	return platform.NewTranscriptClient(cfg.Platform.TranscriptURL, cfg.Platform.TranscriptKey,
		cfg.Platform.TranscriptLang, cfg.Platform.TranscriptTimeout)
}

// buildLimits converts tier-name maps from config into budget.Limits.
func buildLimits(bc config.BudgetConfig) budget.Limits {
	def := budget.DefaultLimits()
	return budget.Limits{
		MonthlyExtractions:       tierMap(bc.MonthlyExtractions, def.MonthlyExtractions),
		HourlyPerUser:            orDefault(bc.HourlyPerUser, def.HourlyPerUser),
		HourlyPerHousehold:       orDefault(bc.HourlyPerHousehold, def.HourlyPerHousehold),
		DailyVisionMinutes:       tierMap(bc.DailyVisionMinutes, def.DailyVisionMinutes),
		GlobalDailyVisionMinutes: orDefault(bc.GlobalDailyVisionMinutes, def.GlobalDailyVisionMinutes),
	}
}

func tierMap(in map[string]int64, def map[model.Tier]int64) map[model.Tier]int64 {
	out := make(map[model.Tier]int64, len(def))
	for k, v := range def {
		out[k] = v
	}
	// An explicit zero is a real limit: it shuts the tier off.
	for k, v := range in {
		out[model.Tier(k)] = v
	}
	return out
}

// orDefault treats zero as unset. Load always fills these scalars, so a zero
// only reaches here from a hand-built config; negatives are rejected by
// config.Validate.
func orDefault(v, def int64) int64 {
	if v > 0 {
		return v
	}
	return def
}

// buildRates overlays configured pricing on the built-in rates.
func buildRates(pc config.PricingConfig) cost.Rates {
	rates := cost.DefaultRates()
	for name, p := range pc.Anthropic {
		rates.Anthropic[name] = cost.ModelRate(p)
	}
	for name, p := range pc.Gemini {
		rates.Gemini[name] = cost.ModelRate(p)
	}
	return rates
}

func ladderConfig(c *config.Config) ladder.Config {
	lc := ladder.DefaultConfig()
	if c.Ladder.DescriptionMinChars > 0 {
		lc.DescriptionMinChars = c.Ladder.DescriptionMinChars
	}
	if c.Ladder.CommentLimit > 0 {
		lc.CommentLimit = c.Ladder.CommentLimit
	}
	if c.Ladder.CommentMinScore > 0 {
		lc.CommentMinScore = c.Ladder.CommentMinScore
	}
	if c.Ladder.TranscriptMaxDurationSecs > 0 {
		lc.TranscriptMaxDuration = time.Duration(c.Ladder.TranscriptMaxDurationSecs) * time.Second
	}
	if c.Ladder.TranscriptBelowChars > 0 {
		lc.TranscriptBelowChars = c.Ladder.TranscriptBelowChars
	}
	if c.Platform.MetadataTimeout > 0 {
		lc.MetadataTimeout = c.Platform.MetadataTimeout
	}
	if c.Platform.CommentsTimeout > 0 {
		lc.CommentsTimeout = c.Platform.CommentsTimeout
	}
	if c.Platform.TranscriptTimeout > 0 {
		lc.TranscriptTimeout = c.Platform.TranscriptTimeout
	}
	if c.Resilience.MaxAttempts > 0 {
		lc.Retry.MaxAttempts = c.Resilience.MaxAttempts
	}
	if c.Resilience.InitialBackoff > 0 {
		lc.Retry.InitialBackoff = c.Resilience.InitialBackoff
	}
	return lc
}

func extractConfig(c *config.Config) extract.Config {
	return extract.Config{
		Model:     c.Anthropic.Model,
		MaxTokens: c.Anthropic.MaxTokens,
		Timeout:   c.Anthropic.Timeout,
		MinChars:  c.Ladder.LLMMinChars,
	}
}

func visionConfig(c *config.Config) vision.Config {
	vc := vision.Config{
		Model:           c.Gemini.Model,
		MaxDuration:     time.Duration(c.Vision.MaxDurationSecs) * time.Second,
		MaxOutputTokens: c.Vision.MaxOutputTokens,
		Timeout:         c.Gemini.Timeout,
	}
	for _, p := range c.Vision.Platforms {
		vc.Platforms = append(vc.Platforms, model.Platform(p))
	}
	return vc
}
