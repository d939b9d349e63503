package model

// Classification is the data-quality state of a record.
type Classification string

const (
	ClassValid       Classification = "VALID"
	ClassDraft       Classification = "DRAFT"
	ClassNotSellable Classification = "NOT_SELLABLE"
	ClassRejected    Classification = "REJECTED"
)

// Classifications lists every state in report order.
var Classifications = []Classification{ClassValid, ClassDraft, ClassNotSellable, ClassRejected}

// Quarantined reports whether records in this state go to quarantine.
func (c Classification) Quarantined() bool {
	return c != ClassValid
}

// Error codes.
const (
	CodeInvalidURL           = "invalid_url"
	CodeInvalidValue         = "invalid_value"
	CodeMissingRequiredField = "missing_required_field"
	CodeMissingTaxonomy      = "missing_taxonomy"
	CodeSourceUnavailable    = "source_unavailable"
	CodeProcessingError      = "processing_error"
)

// ValidationError describes one data-quality problem with a record.
type ValidationError struct {
	Code    string `json:"code"`
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e ValidationError) String() string {
	return e.Code + ":" + e.Field
}

// ValidationResult is the output of classifying one record.
type ValidationResult struct {
	Classification Classification    `json:"classification"`
	Errors         []ValidationError `json:"errors"`
}

// HasCode reports whether any error carries the given code.
func (r ValidationResult) HasCode(code string) bool {
	for _, e := range r.Errors {
		if e.Code == code {
			return true
		}
	}
	return false
}

// Degraded reports whether the record was built without one of its sources
// or after a processing failure. Degraded records never enter the catalog.
func (r ValidationResult) Degraded() bool {
	return r.HasCode(CodeSourceUnavailable) || r.HasCode(CodeProcessingError)
}
