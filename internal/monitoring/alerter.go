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

	"github.com/ddoubleg123/carrot-sub001/internal/config"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertRejectRate  AlertType = "citation_reject_rate"
	AlertHeroFailure AlertType = "hero_failures"
	AlertFeedFailure AlertType = "feed_failures"
	AlertFeedBacklog AlertType = "feed_backlog"
	AlertRunFailure  AlertType = "run_failure"
)

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a Snapshot against configured thresholds and sends
// alerts via webhook when thresholds are breached.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
func (a *Alerter) Evaluate(snap *Snapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	// Reject-rate alerts need a minimum sample so a topic's first few
	// citations do not trip the threshold.
	decided := snap.CitationsSaved + snap.CitationsDenied + snap.CitationsRejected
	if decided >= 10 && a.cfg.RejectRateThreshold > 0 && snap.RejectRate > a.cfg.RejectRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertRejectRate,
			Severity: "high",
			Message: fmt.Sprintf(
				"Citation reject rate %.1f%% exceeds threshold %.1f%% (%d rejected / %d decided)",
				snap.RejectRate*100, a.cfg.RejectRateThreshold*100,
				snap.CitationsRejected, decided,
			),
			Details: map[string]any{
				"reject_rate": snap.RejectRate,
				"threshold":   a.cfg.RejectRateThreshold,
				"rejected":    snap.CitationsRejected,
				"decided":     decided,
			},
			Timestamp: now,
		})
	}

	if snap.HeroFailed > 0 {
		alerts = append(alerts, Alert{
			Type:     AlertHeroFailure,
			Severity: "medium",
			Message:  fmt.Sprintf("%d hero enrichment(s) failed", snap.HeroFailed),
			Details: map[string]any{
				"failed_count": snap.HeroFailed,
				"backlog":      snap.HeroBacklog,
			},
			Timestamp: now,
		})
	}

	if snap.FeedFailed > 0 {
		alerts = append(alerts, Alert{
			Type:     AlertFeedFailure,
			Severity: "high",
			Message:  fmt.Sprintf("%d feed item(s) in FAILED state", snap.FeedFailed),
			Details: map[string]any{
				"failed_count": snap.FeedFailed,
			},
			Timestamp: now,
		})
	}

	if a.cfg.FeedBacklogThreshold > 0 && snap.FeedBacklog > a.cfg.FeedBacklogThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertFeedBacklog,
			Severity: "medium",
			Message: fmt.Sprintf(
				"Feed backlog %d exceeds threshold %d",
				snap.FeedBacklog, a.cfg.FeedBacklogThreshold,
			),
			Details: map[string]any{
				"backlog":   snap.FeedBacklog,
				"threshold": a.cfg.FeedBacklogThreshold,
			},
			Timestamp: now,
		})
	}

	if snap.FailedRuns > 0 {
		alerts = append(alerts, Alert{
			Type:     AlertRunFailure,
			Severity: "high",
			Message:  fmt.Sprintf("%d run(s) ended in error", snap.FailedRuns),
			Details: map[string]any{
				"failed_runs": snap.FailedRuns,
				"active_runs": snap.ActiveRuns,
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

// sendWebhook posts a single alert to the webhook URL.
func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
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
