package model

import "time"

// Usage counts the metered work done in a run.
type Usage struct {
	SearchCalls         int   `json:"search_calls"`
	DetailCalls         int   `json:"detail_calls"`
	Documents           int   `json:"documents"`
	OCRPages            int   `json:"ocr_pages"`
	Records             int   `json:"records"`
	SummaryInputTokens  int64 `json:"summary_input_tokens"`
	SummaryOutputTokens int64 `json:"summary_output_tokens"`
}

// Add accumulates o into u.
func (u *Usage) Add(o Usage) {
	u.SearchCalls += o.SearchCalls
	u.DetailCalls += o.DetailCalls
	u.Documents += o.Documents
	u.OCRPages += o.OCRPages
	u.Records += o.Records
	u.SummaryInputTokens += o.SummaryInputTokens
	u.SummaryOutputTokens += o.SummaryOutputTokens
}

// ClassTotals counts records per classification.
type ClassTotals struct {
	Processed   int `json:"processed"`
	Valid       int `json:"valid"`
	Draft       int `json:"draft"`
	NotSellable int `json:"not_sellable"`
	Rejected    int `json:"rejected"`
}

// Quarantined is the number of non-valid records.
func (t ClassTotals) Quarantined() int {
	return t.Draft + t.NotSellable + t.Rejected
}

// ErrorCount is one row of the "top reasons" ranking.
type ErrorCount struct {
	Code    string  `json:"code"`
	Count   int     `json:"count"`
	Percent float64 `json:"percent"`
}

// StageTiming aggregates wall time spent in one stage.
type StageTiming struct {
	Stage   string  `json:"stage"`
	Count   int     `json:"count"`
	TotalMS int64   `json:"total_ms"`
	AvgMS   float64 `json:"avg_ms"`
}

// QualityReport is the immutable per-run quality summary.
type QualityReport struct {
	RunID          string                    `json:"run_id"`
	Mode           RunMode                   `json:"mode"`
	Totals         ClassTotals               `json:"totals"`
	ValidRate      float64                   `json:"valid_rate"`
	QuarantineRate float64                   `json:"quarantine_rate"`
	TopErrors      []ErrorCount              `json:"top_errors"`
	Stages         []StageTiming             `json:"stages"`
	FieldSources   map[string]map[string]int `json:"field_sources,omitempty"`
	Usage          Usage                     `json:"usage"`
	CostUSD        float64                   `json:"cost_usd"`
	DurationMS     int64                     `json:"duration_ms"`
	CreatedAt      time.Time                 `json:"created_at"`
}
