package model

import "time"

// QuarantineEntry is a non-valid record retained for review. Unique on
// (RunID, ExternalID).
type QuarantineEntry struct {
	RunID      string            `json:"run_id"`
	ExternalID string            `json:"external_id"`
	Status     Classification    `json:"status"`
	Errors     []ValidationError `json:"errors"`
	Raw        *RawListing       `json:"raw_record"`
	Normalized *NormalizedRecord `json:"normalized_record"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
}
