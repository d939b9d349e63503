package model

import "time"

// Pipeline stages.
const (
	StageDiscovery = "discovery"
	StageDetail    = "detail"
	StageDocument  = "document"
	StageExtract   = "extract"
	StageValidate  = "validate"
	StageRoute     = "route"
	StageReport    = "report"
	StageRun       = "run"
)

// EventKind is the type of a pipeline event.
type EventKind string

const (
	EventStart   EventKind = "start"
	EventSuccess EventKind = "success"
	EventError   EventKind = "error"
	EventSkip    EventKind = "skip"
	EventMetric  EventKind = "metric"
)

// PipelineEvent is an append-only log entry for a run.
type PipelineEvent struct {
	ID         string           `json:"id"`
	RunID      string           `json:"run_id"`
	Stage      string           `json:"stage"`
	Event      EventKind        `json:"event"`
	Level      string           `json:"level"`
	Message    string           `json:"message"`
	ExternalID string           `json:"external_id,omitempty"`
	Counters   map[string]int64 `json:"counters,omitempty"`
	CreatedAt  time.Time        `json:"created_at"`
}
