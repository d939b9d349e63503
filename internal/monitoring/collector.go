// Package monitoring summarizes recent runs into a trend snapshot and flags
// threshold breaches.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/auction-ingest/internal/model"
	"github.com/sells-group/auction-ingest/internal/store"
)

// maxRuns bounds how many runs a single snapshot scans.
const maxRuns = 1000

// Snapshot holds a point-in-time view of run health over a lookback window.
type Snapshot struct {
	RunsTotal     int `json:"runs_total"`
	RunsComplete  int `json:"runs_complete"`
	RunsFailed    int `json:"runs_failed"`
	RunsCancelled int `json:"runs_cancelled"`
	RunsRunning   int `json:"runs_running"`

	// FailRate is failed / (complete + failed).
	FailRate float64 `json:"fail_rate"`

	Processed   int `json:"processed"`
	Valid       int `json:"valid"`
	Quarantined int `json:"quarantined"`

	// MeanValidRate averages the valid rate of completed runs that
	// processed at least one record.
	MeanValidRate float64 `json:"mean_valid_rate"`
	// OverallValidRate is Valid / Processed across the window.
	OverallValidRate float64 `json:"overall_valid_rate"`

	CostUSD       float64 `json:"cost_usd"`
	AvgDurationMS int64   `json:"avg_duration_ms"`

	LastRun *model.RunExecution `json:"last_run,omitempty"`

	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// RunLister is the slice of the store the collector needs.
type RunLister interface {
	ListRuns(ctx context.Context, filter store.RunFilter) ([]model.RunExecution, error)
}

// Collector gathers run trends from the store.
type Collector struct {
	runs RunLister
	now  func() time.Time
}

// NewCollector creates a new collector.
func NewCollector(runs RunLister) *Collector {
	return &Collector{runs: runs, now: time.Now}
}

// Collect builds a snapshot over runs started within the lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*Snapshot, error) {
	now := c.now().UTC()
	snap := &Snapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}

	cutoff := now.Add(-time.Duration(lookbackHours) * time.Hour)
	runs, err := c.runs.ListRuns(ctx, store.RunFilter{Since: cutoff, Limit: maxRuns})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list runs")
	}

	var (
		rateSum     float64
		rateRuns    int
		durationSum int64
		finished    int
	)
	for i := range runs {
		r := &runs[i]
		snap.RunsTotal++
		if snap.LastRun == nil || r.StartedAt.After(snap.LastRun.StartedAt) {
			snap.LastRun = r
		}
		snap.CostUSD += r.CostUSD

		switch r.Status {
		case model.RunStatusComplete:
			snap.RunsComplete++
			if r.Quality.Processed > 0 {
				rateSum += r.Quality.ValidRate
				rateRuns++
			}
		case model.RunStatusFailed:
			snap.RunsFailed++
		case model.RunStatusCancelled:
			snap.RunsCancelled++
		case model.RunStatusRunning:
			snap.RunsRunning++
			continue
		}

		snap.Processed += r.Quality.Processed
		snap.Valid += r.Quality.Valid
		snap.Quarantined += r.Quality.Quarantined
		durationSum += r.DurationMS
		finished++
	}

	if n := snap.RunsComplete + snap.RunsFailed; n > 0 {
		snap.FailRate = float64(snap.RunsFailed) / float64(n)
	}
	if rateRuns > 0 {
		snap.MeanValidRate = rateSum / float64(rateRuns)
	}
	if snap.Processed > 0 {
		snap.OverallValidRate = float64(snap.Valid) / float64(snap.Processed)
	}
	if finished > 0 {
		snap.AvgDurationMS = durationSum / int64(finished)
	}
	return snap, nil
}
