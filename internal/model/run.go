package model

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// RunMode selects how existing catalog rows are treated.
type RunMode string

const (
	// RunModeIncremental skips candidates already present in the catalog.
	RunModeIncremental RunMode = "INCREMENTAL"
	// RunModeFull reprocesses every candidate and overwrites catalog rows.
	RunModeFull RunMode = "FULL"
)

// ParseRunMode accepts "incremental" or "full" in any case.
func ParseRunMode(s string) (RunMode, error) {
	switch RunMode(strings.ToUpper(strings.TrimSpace(s))) {
	case RunModeIncremental:
		return RunModeIncremental, nil
	case RunModeFull:
		return RunModeFull, nil
	}
	return "", eris.Errorf("model: unknown run mode %q", s)
}

// RunStatus is the lifecycle state of a run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusComplete  RunStatus = "complete"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// RunCounts are the discovery-level counters of a run.
type RunCounts struct {
	Found           int `json:"found"`
	New             int `json:"new"`
	SkippedExisting int `json:"skipped_existing"`
	Errors          int `json:"errors"`
	Cancelled       int `json:"cancelled"`
}

// QualityCounts summarize classification outcomes of a run.
type QualityCounts struct {
	Processed      int     `json:"processed"`
	Valid          int     `json:"valid"`
	Quarantined    int     `json:"quarantined"`
	ValidRate      float64 `json:"valid_rate"`
	QuarantineRate float64 `json:"quarantine_rate"`
}

// RunExecution is the durable record of one run.
type RunExecution struct {
	RunID      string        `json:"run_id"`
	Mode       RunMode       `json:"mode"`
	Status     RunStatus     `json:"status"`
	DryRun     bool          `json:"dry_run"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt *time.Time    `json:"finished_at,omitempty"`
	Counts     RunCounts     `json:"counts"`
	Quality    QualityCounts `json:"quality"`
	DurationMS int64         `json:"duration_ms"`
	CostUSD    float64       `json:"cost_usd"`
	Error      string        `json:"error,omitempty"`
}

// Closed reports whether the run has left the running state.
func (r *RunExecution) Closed() bool {
	return r.Status != RunStatusRunning
}

// Close stamps the finish time, duration and final status.
func (r *RunExecution) Close(status RunStatus, at time.Time) {
	r.Status = status
	r.FinishedAt = &at
	r.DurationMS = at.Sub(r.StartedAt).Milliseconds()
}
