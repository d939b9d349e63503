// Package normalize converts raw extracted strings into the typed values of
// a model.NormalizedRecord. Anything blank or unparseable becomes nil.
package normalize

import (
	"time"

	"github.com/sells-group/auction-ingest/internal/model"
)

// Input is the raw material for one record: resolved string values keyed
// by field name, raw tag labels and the source that produced each value.
type Input struct {
	ExternalID string
	Values     map[string]string
	Tags       []string
	Sources    map[string]string
}

// Options configure a Normalizer.
type Options struct {
	Location *time.Location
	Denylist []string
}

// Normalizer turns an Input into a NormalizedRecord. It is safe for
// concurrent use.
type Normalizer struct {
	loc    *time.Location
	tagger *Tagger
}

// New creates a Normalizer. A nil Location means America/Sao_Paulo and a
// nil Denylist means DefaultDenylist.
func New(opts Options) *Normalizer {
	loc := opts.Location
	if loc == nil {
		loc = DefaultLocation()
	}
	deny := opts.Denylist
	if deny == nil {
		deny = DefaultDenylist
	}
	return &Normalizer{loc: loc, tagger: NewTagger(deny)}
}

// Location is the zone dates are interpreted in.
func (n *Normalizer) Location() *time.Location { return n.loc }

// Date parses s in the normalizer's zone.
func (n *Normalizer) Date(s string) *time.Time { return Date(s, n.loc) }

// Tags canonicalizes raw tag labels.
func (n *Normalizer) Tags(raw []string) []string { return n.tagger.Tags(raw) }

// Record builds the normalized record for in.
func (n *Normalizer) Record(in Input) *model.NormalizedRecord {
	v := func(field string) string { return in.Values[field] }

	rec := &model.NormalizedRecord{
		ExternalID:       in.ExternalID,
		OrganizationName: Text(v(model.FieldOrganizationName)),
		Region:           Region(v(model.FieldRegion)),
		Locality:         Text(v(model.FieldLocality)),
		PublicationDate:  n.Date(v(model.FieldPublicationDate)),
		AuctionDate:      n.Date(v(model.FieldAuctionDate)),
		Title:            Text(v(model.FieldTitle)),
		Description:      Text(v(model.FieldDescription)),
		SummarizedObject: Text(v(model.FieldSummarizedObject)),
		Tags:             n.Tags(in.Tags),
		DocumentRef:      URL(v(model.FieldDocumentRef)),
		DetailLink:       URL(v(model.FieldDetailLink)),
		AuctioneerLink:   URL(v(model.FieldAuctioneerLink)),
		EstimatedValue:   Money(v(model.FieldEstimatedValue)),
		Modality:         Text(v(model.FieldModality)),
	}

	for field, src := range in.Sources {
		if rec.Present(field) {
			if rec.Sources == nil {
				rec.Sources = make(map[string]string)
			}
			rec.Sources[field] = src
		}
	}
	return rec
}
