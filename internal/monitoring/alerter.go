package monitoring

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/auction-ingest/internal/config"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertFailureRate  AlertType = "failure_rate"
	AlertLowValidRate AlertType = "low_valid_rate"
	AlertCostOverrun  AlertType = "cost_overrun"
	AlertStuckRun     AlertType = "stuck_run"
)

// minFinishedRuns is how many finished runs the failure rate needs before
// it is considered meaningful.
const minFinishedRuns = 3

// stuckAfter is how long a run may stay running before it is flagged.
const stuckAfter = 6 * time.Hour

// Alert is a single threshold breach.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a Snapshot against configured thresholds.
type Alerter struct {
	cfg config.MonitoringConfig
}

// NewAlerter creates a new Alerter with the given thresholds.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{cfg: cfg}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
func (a *Alerter) Evaluate(snap *Snapshot) []Alert {
	var alerts []Alert
	now := snap.CollectedAt

	finished := snap.RunsComplete + snap.RunsFailed
	if finished >= minFinishedRuns && snap.FailRate > a.cfg.FailureRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertFailureRate,
			Severity: "high",
			Message: fmt.Sprintf(
				"run failure rate %.1f%% exceeds threshold %.1f%% (%d failed / %d finished in last %dh)",
				snap.FailRate*100, a.cfg.FailureRateThreshold*100,
				snap.RunsFailed, finished, snap.LookbackHours,
			),
			Details: map[string]any{
				"failure_rate": snap.FailRate,
				"threshold":    a.cfg.FailureRateThreshold,
				"failed":       snap.RunsFailed,
				"finished":     finished,
			},
			Timestamp: now,
		})
	}

	if a.cfg.MinValidRate > 0 && snap.Processed > 0 && snap.OverallValidRate < a.cfg.MinValidRate {
		alerts = append(alerts, Alert{
			Type:     AlertLowValidRate,
			Severity: "medium",
			Message: fmt.Sprintf(
				"valid rate %.1f%% below minimum %.1f%% (%d of %d records in last %dh)",
				snap.OverallValidRate*100, a.cfg.MinValidRate*100,
				snap.Valid, snap.Processed, snap.LookbackHours,
			),
			Details: map[string]any{
				"valid_rate": snap.OverallValidRate,
				"minimum":    a.cfg.MinValidRate,
				"processed":  snap.Processed,
			},
			Timestamp: now,
		})
	}

	if a.cfg.CostThresholdUSD > 0 && snap.CostUSD > a.cfg.CostThresholdUSD {
		alerts = append(alerts, Alert{
			Type:     AlertCostOverrun,
			Severity: "high",
			Message: fmt.Sprintf(
				"run cost $%.2f exceeds threshold $%.2f in last %dh",
				snap.CostUSD, a.cfg.CostThresholdUSD, snap.LookbackHours,
			),
			Details: map[string]any{
				"cost_usd":      snap.CostUSD,
				"threshold_usd": a.cfg.CostThresholdUSD,
				"runs_total":    snap.RunsTotal,
			},
			Timestamp: now,
		})
	}

	if last := snap.LastRun; last != nil && !last.Closed() && now.Sub(last.StartedAt) > stuckAfter {
		alerts = append(alerts, Alert{
			Type:     AlertStuckRun,
			Severity: "medium",
			Message: fmt.Sprintf("run %s has been running since %s",
				last.RunID, last.StartedAt.UTC().Format(time.RFC3339)),
			Details:   map[string]any{"run_id": last.RunID},
			Timestamp: now,
		})
	}

	return alerts
}

// Log writes each alert to the global logger.
func Log(alerts []Alert) {
	for _, a := range alerts {
		zap.L().Warn("monitoring: threshold breached",
			zap.String("type", string(a.Type)),
			zap.String("severity", a.Severity),
			zap.String("message", a.Message),
		)
	}
}
