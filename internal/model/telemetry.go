package model

import "time"

// CacheStatus describes how the extraction cache participated in a request.
type CacheStatus string

const (
	CacheHit    CacheStatus = "hit"
	CacheMiss   CacheStatus = "miss"
	CacheBypass CacheStatus = "bypass"
)

// Outcome is the terminal state of one extraction request.
type Outcome string

const (
	OutcomeSuccess     Outcome = "success"
	OutcomeDegraded    Outcome = "degraded"
	OutcomeCached      Outcome = "cached"
	OutcomeRateLimited Outcome = "rate_limited"
	OutcomeQuota       Outcome = "quota_exceeded"
	OutcomeFailed      Outcome = "failed"
)

// Tier is a user's subscription level.
type Tier string

const (
	TierFree    Tier = "free"
	TierPlus    Tier = "plus"
	TierPremium Tier = "premium"
)

// TokenUsage tracks token consumption and the cost derived from it.
type TokenUsage struct {
	InputTokens         int     `json:"input_tokens"`
	OutputTokens        int     `json:"output_tokens"`
	CacheCreationTokens int     `json:"cache_creation_tokens"`
	CacheReadTokens     int     `json:"cache_read_tokens"`
	Cost                float64 `json:"cost"`
}

// Add merges token usage from another instance.
func (t *TokenUsage) Add(other TokenUsage) {
	t.InputTokens += other.InputTokens
	t.OutputTokens += other.OutputTokens
	t.CacheCreationTokens += other.CacheCreationTokens
	t.CacheReadTokens += other.CacheReadTokens
	t.Cost += other.Cost
}

// TelemetryEvent is one append-only row describing a served request.
type TelemetryEvent struct {
	ID              string           `json:"id"`
	RequestID       string           `json:"request_id"`
	UserID          string           `json:"user_id"`
	HouseholdID     string           `json:"household_id,omitempty"`
	SourceURL       string           `json:"source_url"`
	Platform        Platform         `json:"platform,omitempty"`
	CacheStatus     CacheStatus      `json:"cache_status,omitempty"`
	LadderPath      []string         `json:"ladder_path"`
	EvidenceSource  EvidenceSource   `json:"evidence_source,omitempty"`
	Method          ExtractionMethod `json:"method,omitempty"`
	Outcome         Outcome          `json:"outcome"`
	Rejections      map[string]int   `json:"rejections,omitempty"`
	IngredientCount int              `json:"ingredient_count"`
	VisionMinutes   int64            `json:"vision_minutes,omitempty"`
	CostUSD         float64          `json:"cost_usd"`
	LatencyMS       int64            `json:"latency_ms"`
	Error           string           `json:"error,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
}
