// Package pipeline runs one ingestion pass: discovery, enrichment, cascade
// extraction, normalization, validation and routing, then the quality
// report.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/auction-ingest/internal/cascade"
	"github.com/sells-group/auction-ingest/internal/contract"
	"github.com/sells-group/auction-ingest/internal/cost"
	"github.com/sells-group/auction-ingest/internal/document"
	"github.com/sells-group/auction-ingest/internal/metrics"
	"github.com/sells-group/auction-ingest/internal/model"
	"github.com/sells-group/auction-ingest/internal/normalize"
	"github.com/sells-group/auction-ingest/internal/quality"
	"github.com/sells-group/auction-ingest/internal/quarantine"
	"github.com/sells-group/auction-ingest/internal/resilience"
	"github.com/sells-group/auction-ingest/internal/store"
	"github.com/sells-group/auction-ingest/internal/validate"
	"github.com/sells-group/auction-ingest/pkg/pncp"
)

// Pipeline orchestrates ingestion runs.
type Pipeline struct {
	opts       Options
	store      store.Store
	portal     pncp.Client
	docs       *document.Reader
	summarizer Summarizer
	contract   *contract.Contract
	norm       *normalize.Normalizer
	resolver   *cascade.Resolver
	costCalc   *cost.Calculator
	breaker    *resilience.Breaker
	metrics    *metrics.RunMetrics
}

// Result is the outcome of a run. Report is nil when the run failed.
type Result struct {
	Run    *model.RunExecution
	Report *model.QualityReport
}

// New creates a Pipeline. docs may be nil to skip attachments and
// summarizer may be nil to keep the heuristic summary.
func New(
	opts Options,
	st store.Store,
	portal pncp.Client,
	docs *document.Reader,
	summarizer Summarizer,
	c *contract.Contract,
	costCalc *cost.Calculator,
) (*Pipeline, error) {
	opts = opts.withDefaults()
	norm := normalize.New(normalize.Options{Location: opts.Location, Denylist: opts.TagDenylist})
	resolver, err := cascade.NewResolver(c, norm, opts.Cascade)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: build cascade")
	}
	if !opts.Documents {
		docs = nil
	}
	p := &Pipeline{
		opts:       opts,
		store:      st,
		portal:     portal,
		docs:       docs,
		summarizer: summarizer,
		contract:   c,
		norm:       norm,
		resolver:   resolver,
		costCalc:   costCalc,
		breaker:    resilience.NewBreaker(opts.Breaker),
	}
	if opts.MetricsPath != "" {
		p.metrics = metrics.New()
	}
	return p, nil
}

// runState is the mutable state owned by one run.
type runState struct {
	run    *model.RunExecution
	req    Request
	acc    *quality.Accumulator
	events *eventLog

	mu     sync.Mutex
	counts model.RunCounts
}

func (rs *runState) setFound(n int) {
	rs.mu.Lock()
	rs.counts.Found = n
	rs.mu.Unlock()
}

func (rs *runState) inc(f func(c *model.RunCounts)) {
	rs.mu.Lock()
	f(&rs.counts)
	rs.mu.Unlock()
}

func (rs *runState) snapshot() model.RunCounts {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.counts
}

// Run executes one ingestion pass. It returns an error only for systemic
// failures: discovery, or a store write. Per-candidate failures are
// recorded on the candidate and in the run counters.
func (p *Pipeline) Run(ctx context.Context, req Request) (*Result, error) {
	if req.Mode == "" {
		req.Mode = model.RunModeIncremental
	}
	run := &model.RunExecution{
		RunID:     uuid.NewString(),
		Mode:      req.Mode,
		Status:    model.RunStatusRunning,
		DryRun:    req.DryRun,
		StartedAt: p.opts.Now().UTC(),
	}
	if err := p.store.CreateRun(ctx, run); err != nil {
		return nil, eris.Wrap(err, "pipeline: create run")
	}

	log := zap.L().With(zap.String("run_id", run.RunID), zap.String("mode", string(run.Mode)))
	log.Info("pipeline: run started", zap.Bool("dry_run", req.DryRun), zap.Int("limit", req.Limit))

	rs := &runState{
		run:    run,
		req:    req,
		acc:    quality.NewAccumulator(),
		events: newEventLog(p.store, run.RunID, p.opts.EventBatchSize, p.opts.Now),
	}
	rs.events.start(ctx, model.StageRun, fmt.Sprintf("%s run started", run.Mode), "")

	cands, err := p.discover(ctx, rs)
	if err != nil {
		if ctx.Err() != nil {
			return p.finish(ctx, rs, model.RunStatusCancelled)
		}
		return p.fail(ctx, rs, err)
	}

	if err := p.process(ctx, rs, cands); err != nil {
		return p.fail(ctx, rs, err)
	}

	status := model.RunStatusComplete
	if ctx.Err() != nil {
		status = model.RunStatusCancelled
	}
	return p.finish(ctx, rs, status)
}

// process runs candidates through a bounded worker pool. A store write
// failure stops the pool and is returned. Candidates not started before
// cancellation are counted as cancelled.
func (p *Pipeline) process(ctx context.Context, rs *runState, cands []candidate) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.Concurrency)

	for i, c := range cands {
		if gctx.Err() != nil {
			rest := len(cands) - i
			rs.inc(func(rc *model.RunCounts) { rc.Cancelled += rest })
			break
		}
		g.Go(func() error {
			return p.handle(gctx, rs, c)
		})
	}
	return g.Wait()
}

// handle processes one candidate end to end. Routing happens only after
// classification is complete, so a cancelled candidate writes nothing.
func (p *Pipeline) handle(ctx context.Context, rs *runState, c candidate) error {
	if ctx.Err() != nil {
		rs.inc(func(rc *model.RunCounts) { rc.Cancelled++ })
		return nil
	}
	id := c.externalID()
	log := zap.L().With(zap.String("run_id", rs.run.RunID), zap.String("external_id", id))

	if rs.req.Mode == model.RunModeIncremental && id != "" {
		exists, err := p.store.AuctionExists(ctx, id)
		if err != nil {
			if ctx.Err() != nil {
				rs.inc(func(rc *model.RunCounts) { rc.Cancelled++ })
				return nil
			}
			return eris.Wrapf(err, "pipeline: check existing %s", id)
		}
		if exists {
			rs.inc(func(rc *model.RunCounts) { rc.SkippedExisting++ })
			rs.events.skip(ctx, model.StageDiscovery, "already in catalog", id)
			return nil
		}
	}
	rs.inc(func(rc *model.RunCounts) { rc.New++ })

	raw := p.enrich(ctx, rs, c)
	if ctx.Err() != nil {
		rs.inc(func(rc *model.RunCounts) { rc.Cancelled++ })
		return nil
	}

	rec, res, panicked := p.classify(ctx, rs, raw)
	if ctx.Err() != nil {
		rs.inc(func(rc *model.RunCounts) { rc.Cancelled++ })
		return nil
	}
	if panicked || len(raw.FetchErrors) > 0 {
		rs.inc(func(rc *model.RunCounts) { rc.Errors++ })
		for _, src := range sortedKeys(raw.FetchErrors) {
			rs.events.warn(ctx, src, raw.FetchErrors[src], id)
		}
	}

	start := time.Now()
	d, err := quarantine.NewRouter(p.store, rs.req.DryRun).Route(ctx, rs.run.RunID, raw, rec, res)
	rs.acc.Observe(model.StageRoute, time.Since(start))
	switch {
	case errors.Is(err, quarantine.ErrUnkeyed):
		rs.inc(func(rc *model.RunCounts) { rc.Errors++ })
		rs.events.fail(ctx, model.StageRoute, "listing has no external id: "+raw.Search.ItemURL, "")
		log.Warn("pipeline: unkeyed listing dropped", zap.String("item_url", raw.Search.ItemURL))
		return nil
	case err != nil:
		if ctx.Err() != nil {
			rs.inc(func(rc *model.RunCounts) { rc.Cancelled++ })
			return nil
		}
		return eris.Wrapf(err, "pipeline: route %s", id)
	}

	rs.acc.Record(res, rec)
	rs.acc.AddUsage(model.Usage{Records: 1})
	rs.events.success(ctx, model.StageRoute, string(d.Destination)+": "+string(res.Classification), id, map[string]int64{
		"errors": int64(len(res.Errors)),
	})
	log.Debug("pipeline: candidate routed",
		zap.String("classification", string(res.Classification)),
		zap.String("destination", string(d.Destination)),
	)
	return nil
}

// classify resolves, normalizes and validates raw. A panic anywhere in
// these steps is recovered: the record is classified with whatever was
// built, gains a processing_error and is never VALID.
func (p *Pipeline) classify(ctx context.Context, rs *runState, raw *model.RawListing) (rec *model.NormalizedRecord, res model.ValidationResult, panicked bool) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		zap.L().Error("pipeline: recovered panic",
			zap.String("run_id", rs.run.RunID),
			zap.String("external_id", raw.ExternalID()),
			zap.Any("panic", r),
		)
		res = validate.Classify(rec, p.contract)
		res.Errors = append(res.Errors, model.ValidationError{
			Code:    model.CodeProcessingError,
			Field:   "record",
			Message: fmt.Sprintf("processing failed: %v", r),
		})
		if res.Classification == model.ClassValid {
			res.Classification = model.ClassDraft
		}
		addSourceErrors(&res, raw)
		validate.SortErrors(res.Errors)
		panicked = true
	}()

	start := time.Now()
	out := p.resolver.Resolve(raw)
	p.summarize(ctx, rs, raw, &out.Input)
	rec = p.norm.Record(out.Input)
	rs.acc.Observe(model.StageExtract, time.Since(start))

	start = time.Now()
	res = validate.Classify(rec, p.contract)
	addSourceErrors(&res, raw)
	validate.SortErrors(res.Errors)
	rs.acc.Observe(model.StageValidate, time.Since(start))
	return rec, res, false
}

// summarize replaces the heuristic summary with the model's when a
// summarizer is configured and answers. Failures keep the heuristic.
func (p *Pipeline) summarize(ctx context.Context, rs *runState, raw *model.RawListing, in *normalize.Input) {
	if p.summarizer == nil {
		return
	}
	s, err := p.summarizer.Summarize(ctx, raw)
	rs.acc.AddUsage(model.Usage{SummaryInputTokens: s.InputTokens, SummaryOutputTokens: s.OutputTokens})
	if err != nil {
		zap.L().Debug("pipeline: summary failed, keeping heuristic",
			zap.String("external_id", raw.ExternalID()),
			zap.Error(err),
		)
		return
	}
	if s.Text == "" {
		return
	}
	in.Values[model.FieldSummarizedObject] = s.Text
	in.Sources[model.FieldSummarizedObject] = SourceLLM
}

// addSourceErrors notes unreachable sources. A record that would be VALID
// without them becomes DRAFT, so it is quarantined until a later run can
// reach every source.
func addSourceErrors(res *model.ValidationResult, raw *model.RawListing) {
	for _, src := range sortedKeys(raw.FetchErrors) {
		res.Errors = append(res.Errors, model.ValidationError{
			Code:    model.CodeSourceUnavailable,
			Field:   src,
			Message: raw.FetchErrors[src],
		})
	}
	if len(raw.FetchErrors) > 0 && res.Classification == model.ClassValid {
		res.Classification = model.ClassDraft
	}
}

// finish closes a run that was not systemically failed: it builds and
// stores the report, then closes the run record. Writes use a context
// detached from cancellation so a cancelled run still records its outcome.
func (p *Pipeline) finish(ctx context.Context, rs *runState, status model.RunStatus) (*Result, error) {
	wctx := context.WithoutCancel(ctx)
	run := rs.run
	usage := rs.acc.Usage()

	run.Counts = rs.snapshot()
	run.CostUSD = p.costCalc.Estimate(usage)
	run.Close(status, p.opts.Now().UTC())

	rep, err := rs.acc.Build(quality.Meta{
		RunID:      run.RunID,
		Mode:       run.Mode,
		CostUSD:    run.CostUSD,
		DurationMS: run.DurationMS,
		TopN:       p.opts.TopErrors,
		CreatedAt:  *run.FinishedAt,
	})
	if err != nil {
		return p.fail(ctx, rs, err)
	}
	run.Quality = quality.QualityCounts(rep)

	if err := p.store.InsertReport(wctx, rep); err != nil {
		return p.fail(ctx, rs, eris.Wrap(err, "pipeline: insert report"))
	}

	breakdown := p.costCalc.Breakdown(usage)
	counters := map[string]int64{
		"found":            int64(run.Counts.Found),
		"new":              int64(run.Counts.New),
		"skipped_existing": int64(run.Counts.SkippedExisting),
		"errors":           int64(run.Counts.Errors),
		"cancelled":        int64(run.Counts.Cancelled),
		"processed":        int64(rep.Totals.Processed),
		"valid":            int64(rep.Totals.Valid),
		"quarantined":      int64(rep.Totals.Quarantined()),
		"cost_microusd":    int64(run.CostUSD * 1e6),
	}
	for k, v := range breakdown {
		counters["cost_"+k+"_microusd"] = int64(v * 1e6)
	}
	rs.events.metric(wctx, model.StageReport, "quality report stored", counters)
	rs.events.success(wctx, model.StageRun, fmt.Sprintf("run %s", status), "", nil)
	if err := rs.events.flush(wctx); err != nil {
		return p.fail(ctx, rs, err)
	}

	if err := p.store.FinishRun(wctx, run); err != nil {
		return nil, eris.Wrap(err, "pipeline: finish run")
	}
	p.exportMetrics(run, rep)

	zap.L().Info("pipeline: run finished",
		zap.String("run_id", run.RunID),
		zap.String("status", string(run.Status)),
		zap.Int("processed", rep.Totals.Processed),
		zap.Int("valid", rep.Totals.Valid),
		zap.Int("quarantined", rep.Totals.Quarantined()),
		zap.Int("skipped_existing", run.Counts.SkippedExisting),
		zap.Int("errors", run.Counts.Errors),
		zap.Float64("cost_usd", run.CostUSD),
		zap.Int64("duration_ms", run.DurationMS),
	)
	return &Result{Run: run, Report: rep}, nil
}

// fail closes the run as failed and returns cause. No report is stored.
func (p *Pipeline) fail(ctx context.Context, rs *runState, cause error) (*Result, error) {
	wctx := context.WithoutCancel(ctx)
	run := rs.run
	run.Counts = rs.snapshot()
	run.CostUSD = p.costCalc.Estimate(rs.acc.Usage())
	run.Quality = model.QualityCounts{}
	run.Error = cause.Error()
	run.Close(model.RunStatusFailed, p.opts.Now().UTC())

	log := zap.L().With(zap.String("run_id", run.RunID))
	log.Error("pipeline: run failed", zap.Error(cause))

	rs.events.fail(wctx, model.StageRun, cause.Error(), "")
	if err := rs.events.flush(wctx); err != nil {
		log.Warn("pipeline: could not flush events of failed run", zap.Error(err))
	}
	if err := p.store.FinishRun(wctx, run); err != nil {
		log.Error("pipeline: could not close failed run", zap.Error(err))
	}
	p.exportMetrics(run, nil)
	return &Result{Run: run}, cause
}

func (p *Pipeline) exportMetrics(run *model.RunExecution, rep *model.QualityReport) {
	if p.metrics == nil {
		return
	}
	p.metrics.Observe(run, rep)
	p.metrics.ObserveBreaker(p.opts.Breaker.Name, int(p.breaker.State()))
	if err := p.metrics.WriteTextfile(p.opts.MetricsPath); err != nil {
		zap.L().Warn("pipeline: metrics export failed", zap.Error(err))
	}
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
