package cascade

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/auction-ingest/internal/contract"
	"github.com/sells-group/auction-ingest/internal/extract"
	"github.com/sells-group/auction-ingest/internal/model"
	"github.com/sells-group/auction-ingest/internal/normalize"
)

// SummaryLimit caps the heuristic summary, in runes.
const SummaryLimit = 280

// Options are the sanity-check thresholds.
type Options struct {
	// HorizonDays discards dates older than now minus this many days.
	// Zero disables the check.
	HorizonDays int
	MinYear     int
	MaxYear     int

	// DetailBaseURL prefixes derived detail links, e.g.
	// https://pncp.gov.br/app/editais.
	DetailBaseURL string

	Now func() time.Time
}

// Result is everything resolved for one listing.
type Result struct {
	Input       normalize.Input
	Resolutions []Resolution
}

// Resolution returns the resolution for field, if a chain ran for it.
func (r Result) Resolution(field string) (Resolution, bool) {
	for _, res := range r.Resolutions {
		if res.Field == field {
			return res, true
		}
	}
	return Resolution{}, false
}

// Resolver runs one chain per contract field.
type Resolver struct {
	chains []Chain
	norm   *normalize.Normalizer
	opts   Options
}

// NewResolver builds chains in the source order the contract declares. It
// fails when the contract names a source no extractor exists for.
func NewResolver(c *contract.Contract, n *normalize.Normalizer, opts Options) (*Resolver, error) {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	r := &Resolver{norm: n, opts: opts}
	extractors := r.extractors()
	for _, f := range c.Fields {
		byField := extractors[f.Name]
		chain := Chain{Field: f.Name, Check: r.check(f.Name)}
		for _, s := range f.Sources {
			fn, ok := byField[Source(s)]
			if !ok {
				return nil, eris.Errorf("cascade: no %s extractor for field %s", s, f.Name)
			}
			chain.Steps = append(chain.Steps, Step{Source: Source(s), Extract: fn})
		}
		r.chains = append(r.chains, chain)
	}
	return r, nil
}

// Chains exposes the built chains, in contract order.
func (r *Resolver) Chains() []Chain { return r.chains }

// Resolve runs every chain against raw.
func (r *Resolver) Resolve(raw *model.RawListing) Result {
	out := Result{Input: normalize.Input{
		ExternalID: raw.ExternalID(),
		Values:     make(map[string]string),
		Sources:    make(map[string]string),
	}}
	for _, ch := range r.chains {
		res := ch.Resolve(raw)
		out.Resolutions = append(out.Resolutions, res)
		if !res.Found {
			continue
		}
		out.Input.Sources[ch.Field] = string(res.Source)
		if ch.Field == model.FieldTags {
			out.Input.Tags = splitTags(res.Value)
			continue
		}
		if ch.Field == model.FieldExternalID {
			out.Input.ExternalID = res.Value
			continue
		}
		out.Input.Values[ch.Field] = res.Value
	}
	return out
}

func (r *Resolver) extractors() map[string]map[Source]Extract {
	description := func(raw *model.RawListing) string { return raw.Search.Description }
	document := func(raw *model.RawListing) string { return raw.DocumentText() }
	capture := func(text func(*model.RawListing) string, rules []extract.Rule) Extract {
		return func(raw *model.RawListing) string {
			return extract.Capture(text(raw), rules).Value()
		}
	}

	return map[string]map[Source]Extract{
		model.FieldExternalID: {
			SourceSearch: func(raw *model.RawListing) string { return raw.ExternalID() },
		},
		model.FieldOrganizationName: {
			SourceSearch: func(raw *model.RawListing) string { return raw.Search.OrganizationName },
		},
		model.FieldRegion: {
			SourceDetail: func(raw *model.RawListing) string { return raw.Detail.UnitUF },
			SourceSearch: func(raw *model.RawListing) string { return raw.Search.UF },
		},
		model.FieldLocality: {
			SourceDetail: func(raw *model.RawListing) string { return raw.Detail.UnitMunicipality },
			SourceSearch: func(raw *model.RawListing) string { return raw.Search.Municipality },
		},
		model.FieldPublicationDate: {
			SourceSearch: func(raw *model.RawListing) string { return raw.Search.PublishedAt },
		},
		model.FieldAuctionDate: {
			SourceDetail:      func(raw *model.RawListing) string { return raw.Detail.AuctionDate },
			SourceDescription: capture(description, extract.AuctionDateRules),
			SourceDocument:    capture(document, extract.DocumentDateRules),
		},
		model.FieldTitle: {
			SourceSearch: func(raw *model.RawListing) string { return raw.Search.Title },
			SourceDetail: func(raw *model.RawListing) string { return firstSentence(raw.Detail.Object) },
		},
		model.FieldDescription: {
			SourceSearch: description,
			SourceDetail: func(raw *model.RawListing) string { return raw.Detail.Object },
		},
		model.FieldSummarizedObject: {
			SourceDerived: func(raw *model.RawListing) string { return HeuristicSummary(raw) },
		},
		model.FieldTags: {
			SourceDescription: func(raw *model.RawListing) string {
				return strings.Join(extract.DetectTags(raw.Search.Title+"\n"+raw.Search.Description), ",")
			},
			SourceDocument: func(raw *model.RawListing) string {
				return strings.Join(extract.DetectTags(raw.DocumentText()), ",")
			},
		},
		model.FieldDocumentRef: {
			SourceDocument: func(raw *model.RawListing) string { return raw.Document.URL },
		},
		model.FieldDetailLink: {
			SourceDerived: r.detailLink,
		},
		model.FieldAuctioneerLink: {
			SourceDetail:      func(raw *model.RawListing) string { return raw.Detail.SourceSystemLink },
			SourceDescription: capture(description, extract.AuctioneerLinkRules),
			SourceDocument:    capture(document, extract.AuctioneerLinkRules),
		},
		model.FieldEstimatedValue: {
			SourceDetail: func(raw *model.RawListing) string {
				if raw.Detail.EstimatedValue == nil {
					return ""
				}
				return strconv.FormatFloat(*raw.Detail.EstimatedValue, 'f', 2, 64)
			},
			SourceDescription: capture(description, extract.ValueRules),
			SourceDocument:    capture(document, extract.DocumentValueRules),
		},
		model.FieldModality: {
			SourceDetail: func(raw *model.RawListing) string { return raw.Detail.ModalityName },
			SourceSearch: func(raw *model.RawListing) string { return raw.Search.ModalityName },
			SourceDocument: func(raw *model.RawListing) string {
				m := extract.FirstMatch(raw.DocumentText(), extract.ModalityRules)
				if !m.Found {
					return ""
				}
				return m.Rule.Name()
			},
		},
	}
}

func (r *Resolver) detailLink(raw *model.RawListing) string {
	if !raw.Key.Valid() || r.opts.DetailBaseURL == "" {
		return ""
	}
	return fmt.Sprintf("%s/%s/%d/%d",
		strings.TrimRight(r.opts.DetailBaseURL, "/"), raw.Key.CNPJ, raw.Key.Year, raw.Key.Sequence)
}

func (r *Resolver) check(field string) Check {
	switch field {
	case model.FieldAuctionDate:
		return r.checkDate(true)
	case model.FieldPublicationDate:
		return r.checkDate(false)
	case model.FieldEstimatedValue:
		return func(v string) error {
			m := normalize.Money(v)
			if m == nil {
				return eris.New("not a currency amount")
			}
			if *m == 0 {
				return eris.New("zero amount")
			}
			return nil
		}
	case model.FieldRegion:
		return func(v string) error {
			if normalize.Region(v) == nil {
				return eris.New("not a state code")
			}
			return nil
		}
	case model.FieldTags:
		return func(v string) error {
			if len(r.norm.Tags(splitTags(v))) == 0 {
				return eris.New("no canonical tags")
			}
			return nil
		}
	}
	return nil
}

// checkDate rejects unparseable dates and years outside the plausible
// range. The horizon applies to auction dates only.
func (r *Resolver) checkDate(horizon bool) Check {
	return func(v string) error {
		t := r.norm.Date(v)
		if t == nil {
			return eris.New("unparseable date")
		}
		if r.opts.MinYear > 0 && t.Year() < r.opts.MinYear {
			return eris.Errorf("year %d before %d", t.Year(), r.opts.MinYear)
		}
		if r.opts.MaxYear > 0 && t.Year() > r.opts.MaxYear {
			return eris.Errorf("year %d after %d", t.Year(), r.opts.MaxYear)
		}
		if horizon && r.opts.HorizonDays > 0 {
			cutoff := r.opts.Now().AddDate(0, 0, -r.opts.HorizonDays)
			if t.Before(cutoff) {
				return eris.Errorf("older than %d days", r.opts.HorizonDays)
			}
		}
		return nil
	}
}

func splitTags(v string) []string {
	var out []string
	for _, t := range strings.Split(v, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

var sentenceEnd = regexp.MustCompile(`[.;!?](\s|$)`)

func firstSentence(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if loc := sentenceEnd.FindStringIndex(s); loc != nil {
		return s[:loc[0]]
	}
	return s
}

// HeuristicSummary is the offline summary of what a notice sells: the
// first sentence of the detail object, falling back to the description,
// capped at SummaryLimit runes.
func HeuristicSummary(raw *model.RawListing) string {
	var src string
	if raw.Detail != nil {
		src = raw.Detail.Object
	}
	if strings.TrimSpace(src) == "" {
		src = raw.Search.Description
	}
	return normalize.Truncate(firstSentence(src), SummaryLimit)
}
