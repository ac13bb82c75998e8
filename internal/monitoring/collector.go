package monitoring

import (
	"context"
	"slices"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/sync/errgroup"

	"github.com/cookcard/ingest/internal/budget"
	"github.com/cookcard/ingest/internal/model"
	"github.com/cookcard/ingest/internal/store"
)

// MetricsSnapshot summarizes telemetry over a lookback window.
type MetricsSnapshot struct {
	Requests    int `json:"requests"`
	Success     int `json:"success"`
	Degraded    int `json:"degraded"`
	Cached      int `json:"cached"`
	RateLimited int `json:"rate_limited"`
	Quota       int `json:"quota_exceeded"`
	Failed      int `json:"failed"`

	// Extractions counts requests that reached the paid levels.
	Extractions   int     `json:"extractions"`
	LLMCalls      int     `json:"llm_calls"`
	VisionCalls   int     `json:"vision_calls"`
	VisionShare   float64 `json:"vision_share"`
	VisionMinutes int64   `json:"vision_minutes"`

	IngredientsAccepted int            `json:"ingredients_accepted"`
	IngredientsRejected int            `json:"ingredients_rejected"`
	RejectionRate       float64        `json:"rejection_rate"`
	Rejections          map[string]int `json:"rejections,omitempty"`

	CostUSD      float64                        `json:"cost_usd"`
	CacheHitRate float64                        `json:"cache_hit_rate"`
	AvgLatencyMS int64                          `json:"avg_latency_ms"`
	ByPlatform   map[model.Platform]int         `json:"by_platform,omitempty"`
	ByMethod     map[model.ExtractionMethod]int `json:"by_method,omitempty"`

	// GlobalVisionMinutes is today's shared vision counter, read directly.
	GlobalVisionMinutes int64 `json:"global_vision_minutes"`

	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// TelemetryLister is the store surface the collector reads.
type TelemetryLister interface {
	ListTelemetry(ctx context.Context, filter store.TelemetryFilter) ([]model.TelemetryEvent, error)
}

// Collector gathers metrics from telemetry and the budget counters.
type Collector struct {
	events   TelemetryLister
	counters budget.Counters
	now      func() time.Time
}

// NewCollector creates a metrics collector. counters may be nil.
func NewCollector(events TelemetryLister, counters budget.Counters) *Collector {
	return &Collector{events: events, counters: counters, now: time.Now}
}

// Collect gathers a snapshot over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	if lookbackHours <= 0 {
		lookbackHours = 24
	}
	now := c.now().UTC()
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}
	cutoff := now.Add(-time.Duration(lookbackHours) * time.Hour)

	var events []model.TelemetryEvent
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		events, err = c.events.ListTelemetry(gctx, store.TelemetryFilter{Since: cutoff, Limit: 100000})
		return eris.Wrap(err, "monitoring: list telemetry")
	})
	if c.counters != nil {
		g.Go(func() error {
			key := budget.Key{SubjectID: budget.GlobalSubject, CounterType: budget.CounterDailyVisionMinutes, WindowKey: budget.DayWindow(now)}
			n, err := c.counters.Get(gctx, key)
			if err != nil {
				return eris.Wrap(err, "monitoring: read global vision minutes")
			}
			snap.GlobalVisionMinutes = n
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	summarize(snap, events)
	return snap, nil
}

func summarize(snap *MetricsSnapshot, events []model.TelemetryEvent) {
	snap.Rejections = map[string]int{}
	snap.ByPlatform = map[model.Platform]int{}
	snap.ByMethod = map[model.ExtractionMethod]int{}

	var latency int64
	for _, ev := range events {
		snap.Requests++
		latency += ev.LatencyMS
		snap.CostUSD += ev.CostUSD
		snap.VisionMinutes += ev.VisionMinutes
		if ev.Platform != "" {
			snap.ByPlatform[ev.Platform]++
		}
		if ev.Method != "" {
			snap.ByMethod[ev.Method]++
		}

		switch ev.Outcome {
		case model.OutcomeSuccess:
			snap.Success++
		case model.OutcomeDegraded:
			snap.Degraded++
		case model.OutcomeCached:
			snap.Cached++
		case model.OutcomeRateLimited:
			snap.RateLimited++
		case model.OutcomeQuota:
			snap.Quota++
		case model.OutcomeFailed:
			snap.Failed++
		}

		if ev.Outcome == model.OutcomeSuccess || ev.Outcome == model.OutcomeDegraded {
			snap.Extractions++
			if slices.Contains(ev.LadderPath, string(model.MethodLLMText)) {
				snap.LLMCalls++
			}
			if slices.Contains(ev.LadderPath, string(model.MethodVideoVision)) {
				snap.VisionCalls++
			}
			if ev.Method == model.MethodLLMText {
				snap.IngredientsAccepted += ev.IngredientCount
			}
		}
		for reason, n := range ev.Rejections {
			snap.Rejections[reason] += n
			snap.IngredientsRejected += n
		}
	}

	if snap.Requests > 0 {
		snap.AvgLatencyMS = latency / int64(snap.Requests)
		snap.CacheHitRate = float64(snap.Cached) / float64(snap.Requests)
	}
	if snap.Extractions > 0 {
		snap.VisionShare = float64(snap.VisionCalls) / float64(snap.Extractions)
	}
	if total := snap.IngredientsAccepted + snap.IngredientsRejected; total > 0 {
		snap.RejectionRate = float64(snap.IngredientsRejected) / float64(total)
	}
}
