// Package cascade resolves each record field by trying its sources in
// declared priority order until one yields a value that passes the field's
// sanity check.
package cascade

import (
	"strings"

	"github.com/sells-group/auction-ingest/internal/model"
)

// Source names where a value came from.
type Source string

const (
	SourceSearch      Source = "search"
	SourceDetail      Source = "detail"
	SourceDescription Source = "description"
	SourceDocument    Source = "document"
	SourceDerived     Source = "derived"
)

// Available reports whether the source was fetched for raw.
func (s Source) Available(raw *model.RawListing) bool {
	switch s {
	case SourceDetail:
		return raw.Detail != nil
	case SourceDocument:
		return raw.Document != nil
	default:
		return true
	}
}

// Outcome is what happened when a step ran.
type Outcome string

const (
	OutcomeFound       Outcome = "found"
	OutcomeEmpty       Outcome = "empty"
	OutcomeDiscarded   Outcome = "discarded"
	OutcomeUnavailable Outcome = "unavailable"
)

// Extract pulls a raw value for one field from one source.
type Extract func(raw *model.RawListing) string

// Check vets a candidate value. A non-nil error discards it.
type Check func(value string) error

// Step pairs a source with the extractor that reads it.
type Step struct {
	Source  Source
	Extract Extract
}

// Attempt records one evaluated step.
type Attempt struct {
	Source  Source  `json:"source"`
	Value   string  `json:"value,omitempty"`
	Outcome Outcome `json:"outcome"`
	Reason  string  `json:"reason,omitempty"`
}

// Resolution is the outcome of a chain for one record.
type Resolution struct {
	Field    string    `json:"field"`
	Value    string    `json:"value,omitempty"`
	Source   Source    `json:"source,omitempty"`
	Found    bool      `json:"found"`
	Attempts []Attempt `json:"attempts"`
}

// Chain is the ordered fallback list for one field.
type Chain struct {
	Field string
	Steps []Step
	Check Check
}

// Resolve evaluates steps lazily and stops at the first value that is
// non-blank and passes Check. Steps after the winner are not run.
func (c Chain) Resolve(raw *model.RawListing) Resolution {
	res := Resolution{Field: c.Field}
	for _, st := range c.Steps {
		if !st.Source.Available(raw) {
			res.Attempts = append(res.Attempts, Attempt{Source: st.Source, Outcome: OutcomeUnavailable})
			continue
		}
		v := strings.TrimSpace(st.Extract(raw))
		if v == "" {
			res.Attempts = append(res.Attempts, Attempt{Source: st.Source, Outcome: OutcomeEmpty})
			continue
		}
		if c.Check != nil {
			if err := c.Check(v); err != nil {
				res.Attempts = append(res.Attempts, Attempt{
					Source:  st.Source,
					Value:   clip(v),
					Outcome: OutcomeDiscarded,
					Reason:  err.Error(),
				})
				continue
			}
		}
		res.Attempts = append(res.Attempts, Attempt{Source: st.Source, Value: clip(v), Outcome: OutcomeFound})
		res.Value = v
		res.Source = st.Source
		res.Found = true
		return res
	}
	return res
}

func clip(s string) string {
	const limit = 200
	if r := []rune(s); len(r) > limit {
		return string(r[:limit]) + "…"
	}
	return s
}
