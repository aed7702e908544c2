package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/assessment-ingest/internal/config"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertProviderFailureRate AlertType = "provider_failure_rate"
	AlertCostOverrun         AlertType = "cost_overrun"
	AlertReviewBacklog       AlertType = "review_backlog"
)

// minCallsForRate is the sample size below which failure rates are noise.
const minCallsForRate = 5

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// webhookPayload is the Slack-compatible incoming webhook body.
type webhookPayload struct {
	Text string `json:"text"`
}

// Alerter evaluates a MetricsSnapshot against configured thresholds and
// posts messages to the alert webhook.
type Alerter struct {
	cfg    config.AlertConfig
	client *http.Client
}

// NewAlerter creates a new Alerter with the given alert config.
func NewAlerter(cfg config.AlertConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Configured reports whether a webhook URL is set.
func (a *Alerter) Configured() bool {
	return a.cfg.WebhookURL != ""
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	if snap.CallsTotal >= minCallsForRate && a.cfg.FailureRateThreshold > 0 &&
		snap.FailureRate > a.cfg.FailureRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertProviderFailureRate,
			Severity: "high",
			Message: fmt.Sprintf(
				"Provider failure rate %.1f%% exceeds threshold %.1f%% (%d failed / %d calls in last %dh)",
				snap.FailureRate*100, a.cfg.FailureRateThreshold*100,
				snap.CallsFailed, snap.CallsTotal, snap.LookbackHours,
			),
			Details: map[string]any{
				"failure_rate": snap.FailureRate,
				"threshold":    a.cfg.FailureRateThreshold,
				"failed":       snap.CallsFailed,
				"total":        snap.CallsTotal,
			},
			Timestamp: now,
		})
	}

	if a.cfg.CostThresholdCents > 0 && snap.CostMinorUnits > a.cfg.CostThresholdCents {
		alerts = append(alerts, Alert{
			Type:     AlertCostOverrun,
			Severity: "high",
			Message: fmt.Sprintf(
				"Provider cost $%.2f exceeds threshold $%.2f in last %dh",
				float64(snap.CostMinorUnits)/100, float64(a.cfg.CostThresholdCents)/100, snap.LookbackHours,
			),
			Details: map[string]any{
				"cost_minor_units": snap.CostMinorUnits,
				"threshold_cents":  a.cfg.CostThresholdCents,
			},
			Timestamp: now,
		})
	}

	if a.cfg.BacklogThreshold > 0 && snap.NeedsReview > a.cfg.BacklogThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertReviewBacklog,
			Severity: "medium",
			Message: fmt.Sprintf(
				"%d uploads awaiting review (threshold %d)",
				snap.NeedsReview, a.cfg.BacklogThreshold,
			),
			Details: map[string]any{
				"needs_review": snap.NeedsReview,
				"threshold":    a.cfg.BacklogThreshold,
			},
			Timestamp: now,
		})
	}

	return alerts
}

// SendAlerts delivers alerts to the configured webhook URL.
// Returns the number of alerts successfully sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if !a.Configured() || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		text := fmt.Sprintf("[%s] %s", alert.Severity, alert.Message)
		if err := a.Notify(ctx, text); err != nil {
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

// Notify posts free text to the webhook. It fails when no webhook is set.
func (a *Alerter) Notify(ctx context.Context, text string) error {
	if !a.Configured() {
		return eris.New("monitoring: webhook not configured")
	}
	payload, err := json.Marshal(webhookPayload{Text: text})
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitoring: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
