package monitoring

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/cookcard/ingest/internal/config"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertDailySpend    AlertType = "daily_spend"
	AlertVisionShare   AlertType = "vision_share"
	AlertRejectionRate AlertType = "rejection_rate"
)

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a MetricsSnapshot against configured thresholds
// and sends alerts via webhook when thresholds are breached.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *resty.Client
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg: cfg,
		client: resty.New().
			SetTimeout(10 * time.Second).
			SetHeader("Content-Type", "application/json"),
	}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
// Ratio alerts need at least MinSamples extractions in the window.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	var alerts []Alert
	now := snap.CollectedAt
	if now.IsZero() {
		now = time.Now().UTC()
	}
	enough := snap.Extractions >= a.cfg.MinSamples

	if a.cfg.DailySpendUSD > 0 && snap.CostUSD > a.cfg.DailySpendUSD {
		alerts = append(alerts, Alert{
			Type:     AlertDailySpend,
			Severity: "high",
			Message: fmt.Sprintf(
				"Model spend $%.2f exceeds threshold $%.2f in last %dh",
				snap.CostUSD, a.cfg.DailySpendUSD, snap.LookbackHours,
			),
			Details: map[string]any{
				"cost_usd":      snap.CostUSD,
				"threshold_usd": a.cfg.DailySpendUSD,
				"vision_calls":  snap.VisionCalls,
				"llm_calls":     snap.LLMCalls,
			},
			Timestamp: now,
		})
	}

	if enough && a.cfg.VisionShareMax > 0 && snap.VisionShare > a.cfg.VisionShareMax {
		alerts = append(alerts, Alert{
			Type:     AlertVisionShare,
			Severity: "medium",
			Message: fmt.Sprintf(
				"Vision fallback share %.1f%% exceeds threshold %.1f%% (%d of %d extractions in last %dh)",
				snap.VisionShare*100, a.cfg.VisionShareMax*100,
				snap.VisionCalls, snap.Extractions, snap.LookbackHours,
			),
			Details: map[string]any{
				"vision_share":          snap.VisionShare,
				"threshold":             a.cfg.VisionShareMax,
				"vision_minutes":        snap.VisionMinutes,
				"global_vision_minutes": snap.GlobalVisionMinutes,
			},
			Timestamp: now,
		})
	}

	if enough && a.cfg.RejectionRateMax > 0 && snap.RejectionRate > a.cfg.RejectionRateMax {
		alerts = append(alerts, Alert{
			Type:     AlertRejectionRate,
			Severity: "medium",
			Message: fmt.Sprintf(
				"Evidence rejection rate %.1f%% exceeds threshold %.1f%% (%d rejected, %d accepted in last %dh)",
				snap.RejectionRate*100, a.cfg.RejectionRateMax*100,
				snap.IngredientsRejected, snap.IngredientsAccepted, snap.LookbackHours,
			),
			Details: map[string]any{
				"rejection_rate": snap.RejectionRate,
				"threshold":      a.cfg.RejectionRateMax,
				"reasons":        snap.Rejections,
			},
			Timestamp: now,
		})
	}

	return alerts
}

// SendAlerts delivers alerts to the configured webhook URL.
// Returns the number of alerts successfully sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		if err := a.sendWebhook(ctx, alert); err != nil {
			zap.L().Error("monitoring: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("monitoring: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
		)
		sent++
	}
	return sent
}

func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	resp, err := a.client.R().
		SetContext(ctx).
		SetBody(alert).
		Post(a.cfg.WebhookURL)
	if err != nil {
		return eris.Wrap(err, "monitoring: webhook request")
	}
	if resp.IsError() {
		return eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode())
	}
	return nil
}
