// Package validate classifies normalized records against the field
// contract. Classification is pure: it reads the record and the contract
// and nothing else.
package validate

import (
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/sells-group/auction-ingest/internal/contract"
	"github.com/sells-group/auction-ingest/internal/model"
)

// severity orders classifications so the worst rule wins.
var severity = map[model.Classification]int{
	model.ClassValid:       0,
	model.ClassNotSellable: 1,
	model.ClassDraft:       2,
	model.ClassRejected:    3,
}

type result struct {
	class  model.Classification
	errors []model.ValidationError
}

func (r *result) add(class model.Classification, code, field, msg string) {
	r.errors = append(r.errors, model.ValidationError{Code: code, Field: field, Message: msg})
	if severity[class] > severity[r.class] {
		r.class = class
	}
}

// Classify applies, in order: malformed values (REJECTED), general
// completeness (DRAFT), sellability completeness (NOT_SELLABLE) and the
// taxonomy policy. It never panics; a nil record has every field absent.
// Errors are sorted by field, then code.
func Classify(rec *model.NormalizedRecord, c *contract.Contract) model.ValidationResult {
	r := &result{class: model.ClassValid}

	if rec != nil {
		checkMalformed(r, rec)
	}

	reported := make(map[string]bool)
	for _, field := range c.Required() {
		if !rec.Present(field) {
			reported[field] = true
			r.add(model.ClassDraft, model.CodeMissingRequiredField, field,
				fmt.Sprintf("%s is required", field))
		}
	}
	for _, field := range c.Sellable() {
		if !rec.Present(field) && !reported[field] {
			r.add(model.ClassNotSellable, model.CodeMissingRequiredField, field,
				fmt.Sprintf("%s is required for the record to be sellable", field))
		}
	}

	if !rec.Present(model.FieldTags) {
		switch c.Policies.MissingTaxonomy {
		case contract.TaxonomyNotSellable:
			r.add(model.ClassNotSellable, model.CodeMissingTaxonomy, model.FieldTags,
				"no category detected")
		case contract.TaxonomyRejected:
			r.add(model.ClassRejected, model.CodeMissingTaxonomy, model.FieldTags,
				"no category detected")
		}
	}

	SortErrors(r.errors)
	return model.ValidationResult{Classification: r.class, Errors: r.errors}
}

func checkMalformed(r *result, rec *model.NormalizedRecord) {
	for field, raw := range rec.Links() {
		if !IsHTTPURL(raw) {
			r.add(model.ClassRejected, model.CodeInvalidURL, field,
				fmt.Sprintf("%s is not an absolute http(s) URL: %q", field, raw))
		}
	}
	if rec.EstimatedValue != nil && *rec.EstimatedValue < 0 {
		r.add(model.ClassRejected, model.CodeInvalidValue, model.FieldEstimatedValue,
			fmt.Sprintf("estimated_value is negative: %s", rec.EstimatedValue))
	}
}

// IsHTTPURL reports whether s is an absolute http or https URL with a host.
func IsHTTPURL(s string) bool {
	if s == "" || strings.ContainsAny(s, " \t\n") {
		return false
	}
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// SortErrors orders errors by field, then code, then message.
func SortErrors(errs []model.ValidationError) {
	sort.SliceStable(errs, func(i, j int) bool {
		if errs[i].Field != errs[j].Field {
			return errs[i].Field < errs[j].Field
		}
		if errs[i].Code != errs[j].Code {
			return errs[i].Code < errs[j].Code
		}
		return errs[i].Message < errs[j].Message
	})
}
