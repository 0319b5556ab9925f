package monitoring

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/listing-radar/internal/config"
	"github.com/sells-group/listing-radar/internal/discovery"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertCycleAborted   AlertType = "cycle_aborted"
	AlertPageFailures   AlertType = "page_failure_rate"
	AlertSafetyLimitAll AlertType = "safety_limit_all_categories"
)

// minPagesForRate keeps a single failed page out of the failure rate alert.
const minPagesForRate = 5

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	CycleID   string         `json:"cycle_id,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates cycle reports against configured thresholds and sends
// alerts via webhook when thresholds are breached.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *resty.Client
	now    func() time.Time
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg: cfg,
		client: resty.New().
			SetTimeout(10*time.Second).
			SetHeader("Content-Type", "application/json"),
		now: func() time.Time { return time.Now().UTC() },
	}
}

// Evaluate checks a cycle report and returns any alerts.
func (a *Alerter) Evaluate(r discovery.CycleReport) []Alert {
	var alerts []Alert
	now := a.now()

	if r.Aborted {
		reason := ""
		for _, c := range r.Categories {
			if c.Err != "" {
				reason = c.Err
			}
		}
		alerts = append(alerts, Alert{
			Type:     AlertCycleAborted,
			Severity: "high",
			Message:  fmt.Sprintf("Full scrape %s aborted after %d categories", r.ID, len(r.Categories)),
			CycleID:  r.ID,
			Details: map[string]any{
				"trigger": string(r.Trigger),
				"error":   reason,
			},
			Timestamp: now,
		})
	}

	tot := r.Totals()
	attempted := tot.PagesFetched + tot.PagesFailed
	if attempted >= minPagesForRate && a.cfg.PageFailureThreshold > 0 {
		rate := float64(tot.PagesFailed) / float64(attempted)
		if rate > a.cfg.PageFailureThreshold {
			alerts = append(alerts, Alert{
				Type:     AlertPageFailures,
				Severity: "high",
				Message: fmt.Sprintf(
					"Page failure rate %.1f%% exceeds threshold %.1f%% (%d failed / %d pages)",
					rate*100, a.cfg.PageFailureThreshold*100, tot.PagesFailed, attempted,
				),
				CycleID: r.ID,
				Details: map[string]any{
					"failure_rate": rate,
					"threshold":    a.cfg.PageFailureThreshold,
					"failed":       tot.PagesFailed,
					"pages":        attempted,
				},
				Timestamp: now,
			})
		}
	}

	if hits := r.SafetyLimitHits(); hits > 0 && hits == len(r.Categories) {
		alerts = append(alerts, Alert{
			Type:     AlertSafetyLimitAll,
			Severity: "medium",
			Message: fmt.Sprintf(
				"Every category (%d) hit the page safety limit; cursors may be stale or the marketplace reordered",
				hits,
			),
			CycleID:   r.ID,
			Details:   map[string]any{"categories": hits},
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
