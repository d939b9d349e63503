// Package quality aggregates per-run classification counts, error
// histograms, stage timings and metered usage into a QualityReport.
package quality

import (
	"sort"
	"sync"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/auction-ingest/internal/model"
)

// DefaultTopN is how many error codes a report ranks.
const DefaultTopN = 10

// Accumulator collects per-candidate outcomes. It is safe for concurrent use.
type Accumulator struct {
	mu           sync.Mutex
	totals       model.ClassTotals
	errorCodes   map[string]int
	stages       map[string]*model.StageTiming
	fieldSources map[string]map[string]int
	usage        model.Usage
}

// NewAccumulator returns an empty Accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{
		errorCodes:   make(map[string]int),
		stages:       make(map[string]*model.StageTiming),
		fieldSources: make(map[string]map[string]int),
	}
}

// Record counts one classified record. Each error code is counted once per
// record, so a code's share is the fraction of records carrying it.
func (a *Accumulator) Record(res model.ValidationResult, rec *model.NormalizedRecord) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.totals.Processed++
	switch res.Classification {
	case model.ClassValid:
		a.totals.Valid++
	case model.ClassDraft:
		a.totals.Draft++
	case model.ClassNotSellable:
		a.totals.NotSellable++
	default:
		a.totals.Rejected++
	}

	seen := make(map[string]bool, len(res.Errors))
	for _, e := range res.Errors {
		if !seen[e.Code] {
			seen[e.Code] = true
			a.errorCodes[e.Code]++
		}
	}

	if rec != nil {
		for field, src := range rec.Sources {
			bySource, ok := a.fieldSources[field]
			if !ok {
				bySource = make(map[string]int)
				a.fieldSources[field] = bySource
			}
			bySource[src]++
		}
	}
}

// Observe adds d to the stage's wall time.
func (a *Accumulator) Observe(stage string, d time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()

	st, ok := a.stages[stage]
	if !ok {
		st = &model.StageTiming{Stage: stage}
		a.stages[stage] = st
	}
	st.Count++
	st.TotalMS += d.Milliseconds()
}

// AddUsage accumulates metered work.
func (a *Accumulator) AddUsage(u model.Usage) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.usage.Add(u)
}

// Totals returns a snapshot of the classification counts.
func (a *Accumulator) Totals() model.ClassTotals {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.totals
}

// Usage returns a snapshot of the metered usage.
func (a *Accumulator) Usage() model.Usage {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.usage
}

// Meta is the run-level context a report needs beyond the counters.
type Meta struct {
	RunID      string
	Mode       model.RunMode
	CostUSD    float64
	DurationMS int64
	TopN       int
	CreatedAt  time.Time
}

// Build produces the immutable report. It fails if the class counts do
// not add up to the processed total.
func (a *Accumulator) Build(meta Meta) (*model.QualityReport, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	t := a.totals
	if t.Valid+t.Draft+t.NotSellable+t.Rejected != t.Processed {
		return nil, eris.Errorf("quality: processed %d != valid %d + draft %d + not_sellable %d + rejected %d",
			t.Processed, t.Valid, t.Draft, t.NotSellable, t.Rejected)
	}

	createdAt := meta.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	topN := meta.TopN
	if topN <= 0 {
		topN = DefaultTopN
	}

	rep := &model.QualityReport{
		RunID:          meta.RunID,
		Mode:           meta.Mode,
		Totals:         t,
		ValidRate:      rate(t.Valid, t.Processed),
		QuarantineRate: rate(t.Quarantined(), t.Processed),
		TopErrors:      rankErrors(a.errorCodes, t.Processed, topN),
		Stages:         a.stageTimings(),
		FieldSources:   copySources(a.fieldSources),
		Usage:          a.usage,
		CostUSD:        meta.CostUSD,
		DurationMS:     meta.DurationMS,
		CreatedAt:      createdAt,
	}
	return rep, nil
}

// QualityCounts condenses report totals for the run record.
func QualityCounts(rep *model.QualityReport) model.QualityCounts {
	return model.QualityCounts{
		Processed:      rep.Totals.Processed,
		Valid:          rep.Totals.Valid,
		Quarantined:    rep.Totals.Quarantined(),
		ValidRate:      rep.ValidRate,
		QuarantineRate: rep.QuarantineRate,
	}
}

func rate(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(n) / float64(total)
}

func percent(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(100*n) / float64(total)
}

// rankErrors orders codes by count, ties broken by code.
func rankErrors(codes map[string]int, processed, topN int) []model.ErrorCount {
	out := make([]model.ErrorCount, 0, len(codes))
	for code, n := range codes {
		out = append(out, model.ErrorCount{Code: code, Count: n, Percent: percent(n, processed)})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Code < out[j].Code
	})
	if len(out) > topN {
		out = out[:topN]
	}
	return out
}

var stageOrder = map[string]int{
	model.StageDiscovery: 0,
	model.StageDetail:    1,
	model.StageDocument:  2,
	model.StageExtract:   3,
	model.StageValidate:  4,
	model.StageRoute:     5,
	model.StageReport:    6,
}

func (a *Accumulator) stageTimings() []model.StageTiming {
	out := make([]model.StageTiming, 0, len(a.stages))
	for _, st := range a.stages {
		s := *st
		if s.Count > 0 {
			s.AvgMS = float64(s.TotalMS) / float64(s.Count)
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		oi, iok := stageOrder[out[i].Stage]
		oj, jok := stageOrder[out[j].Stage]
		if iok != jok {
			return iok
		}
		if oi != oj {
			return oi < oj
		}
		return out[i].Stage < out[j].Stage
	})
	return out
}

func copySources(in map[string]map[string]int) map[string]map[string]int {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]map[string]int, len(in))
	for field, bySource := range in {
		m := make(map[string]int, len(bySource))
		for src, n := range bySource {
			m[src] = n
		}
		out[field] = m
	}
	return out
}
