// Package store persists the catalog, quarantine, runs, quality reports and
// pipeline events.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/auction-ingest/internal/model"
)

var (
	// ErrNotFound is returned by getters when the row does not exist.
	ErrNotFound = eris.New("store: not found")
	// ErrReportExists is returned when a run's quality report was already
	// written. Reports are insert-only.
	ErrReportExists = eris.New("store: quality report already exists")
	// ErrRunClosed is returned when finishing a run that is not running.
	ErrRunClosed = eris.New("store: run is not running")
)

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status model.RunStatus `json:"status,omitempty"`
	Since  time.Time       `json:"since,omitempty"`
	Limit  int             `json:"limit,omitempty"`
	Offset int             `json:"offset,omitempty"`
}

// QuarantineFilter specifies criteria for listing quarantine entries.
type QuarantineFilter struct {
	RunID  string               `json:"run_id,omitempty"`
	Status model.Classification `json:"status,omitempty"`
	Limit  int                  `json:"limit,omitempty"`
	Offset int                  `json:"offset,omitempty"`
}

const defaultListLimit = 100

func listLimit(n int) int {
	if n <= 0 {
		return defaultListLimit
	}
	return n
}

// Store defines the persistence interface for the ingestion pipeline.
type Store interface {
	// Catalog
	UpsertAuction(ctx context.Context, runID string, rec *model.NormalizedRecord) error
	GetAuction(ctx context.Context, externalID string) (*model.NormalizedRecord, error)
	AuctionExists(ctx context.Context, externalID string) (bool, error)

	// Quarantine
	UpsertQuarantine(ctx context.Context, entry *model.QuarantineEntry) error
	ListQuarantine(ctx context.Context, filter QuarantineFilter) ([]model.QuarantineEntry, error)

	// Runs
	CreateRun(ctx context.Context, run *model.RunExecution) error
	FinishRun(ctx context.Context, run *model.RunExecution) error
	GetRun(ctx context.Context, runID string) (*model.RunExecution, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.RunExecution, error)

	// Reports
	InsertReport(ctx context.Context, report *model.QualityReport) error
	GetReport(ctx context.Context, runID string) (*model.QualityReport, error)

	// Events
	AppendEvents(ctx context.Context, events []model.PipelineEvent) error
	ListEvents(ctx context.Context, runID string) ([]model.PipelineEvent, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
