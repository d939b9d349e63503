// Package metrics exports last-run gauges in the Prometheus text format for
// the node_exporter textfile collector.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rotisserie/eris"

	"github.com/sells-group/auction-ingest/internal/model"
)

const (
	// Namespace is the namespace for all ingest metrics.
	Namespace = "auction_ingest"
	// Subsystem is the subsystem for last-run metrics.
	Subsystem = "last_run"
)

// RunMetrics holds the gauges describing the most recent run.
type RunMetrics struct {
	reg *prometheus.Registry

	Info       *prometheus.GaugeVec
	Timestamp  prometheus.Gauge
	Duration   prometheus.Gauge
	CostUSD    prometheus.Gauge
	Counts     *prometheus.GaugeVec
	Classes    *prometheus.GaugeVec
	ValidRate  prometheus.Gauge
	Usage      *prometheus.GaugeVec
	ErrorCodes *prometheus.GaugeVec
	Breakers   *prometheus.GaugeVec
}

// New creates the gauges on a private registry.
func New() *RunMetrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	m := &RunMetrics{reg: reg}

	m.Info = factory.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: Namespace, Subsystem: Subsystem,
		Name: "info",
		Help: "Always 1, labelled with the run id, mode and status",
	}, []string{"run_id", "mode", "status"})
	m.Timestamp = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: Namespace, Subsystem: Subsystem,
		Name: "finished_timestamp_seconds",
		Help: "Unix time the run finished",
	})
	m.Duration = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: Namespace, Subsystem: Subsystem,
		Name: "duration_seconds",
		Help: "Wall time of the run",
	})
	m.CostUSD = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: Namespace, Subsystem: Subsystem,
		Name: "cost_usd",
		Help: "Estimated cost of the run in USD",
	})
	m.Counts = factory.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: Namespace, Subsystem: Subsystem,
		Name: "candidates",
		Help: "Discovery counters by kind",
	}, []string{"kind"})
	m.Classes = factory.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: Namespace, Subsystem: Subsystem,
		Name: "records",
		Help: "Processed records by classification",
	}, []string{"class"})
	m.ValidRate = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: Namespace, Subsystem: Subsystem,
		Name: "valid_ratio",
		Help: "Share of processed records classified VALID",
	})
	m.Usage = factory.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: Namespace, Subsystem: Subsystem,
		Name: "usage",
		Help: "Metered work units by kind",
	}, []string{"kind"})
	m.ErrorCodes = factory.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: Namespace, Subsystem: Subsystem,
		Name: "error_code_records",
		Help: "Records carrying each top error code",
	}, []string{"code"})
	m.Breakers = factory.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: Namespace, Subsystem: Subsystem,
		Name: "circuit_state",
		Help: "Circuit breaker state at run end (0=closed, 1=open, 2=half-open)",
	}, []string{"name"})

	return m
}

// Observe sets every gauge from a finished run and its report. report may
// be nil for a failed run.
func (m *RunMetrics) Observe(run *model.RunExecution, report *model.QualityReport) {
	m.Info.Reset()
	m.Info.WithLabelValues(run.RunID, string(run.Mode), string(run.Status)).Set(1)
	if run.FinishedAt != nil {
		m.Timestamp.Set(float64(run.FinishedAt.Unix()))
	}
	m.Duration.Set(float64(run.DurationMS) / 1000)
	m.CostUSD.Set(run.CostUSD)

	m.Counts.WithLabelValues("found").Set(float64(run.Counts.Found))
	m.Counts.WithLabelValues("new").Set(float64(run.Counts.New))
	m.Counts.WithLabelValues("skipped_existing").Set(float64(run.Counts.SkippedExisting))
	m.Counts.WithLabelValues("errors").Set(float64(run.Counts.Errors))
	m.Counts.WithLabelValues("cancelled").Set(float64(run.Counts.Cancelled))

	if report == nil {
		return
	}
	m.Classes.WithLabelValues(string(model.ClassValid)).Set(float64(report.Totals.Valid))
	m.Classes.WithLabelValues(string(model.ClassDraft)).Set(float64(report.Totals.Draft))
	m.Classes.WithLabelValues(string(model.ClassNotSellable)).Set(float64(report.Totals.NotSellable))
	m.Classes.WithLabelValues(string(model.ClassRejected)).Set(float64(report.Totals.Rejected))
	m.ValidRate.Set(report.ValidRate)

	u := report.Usage
	m.Usage.WithLabelValues("search_calls").Set(float64(u.SearchCalls))
	m.Usage.WithLabelValues("detail_calls").Set(float64(u.DetailCalls))
	m.Usage.WithLabelValues("documents").Set(float64(u.Documents))
	m.Usage.WithLabelValues("ocr_pages").Set(float64(u.OCRPages))
	m.Usage.WithLabelValues("summary_input_tokens").Set(float64(u.SummaryInputTokens))
	m.Usage.WithLabelValues("summary_output_tokens").Set(float64(u.SummaryOutputTokens))

	m.ErrorCodes.Reset()
	for _, e := range report.TopErrors {
		m.ErrorCodes.WithLabelValues(e.Code).Set(float64(e.Count))
	}
}

// ObserveBreaker records a circuit breaker's state.
func (m *RunMetrics) ObserveBreaker(name string, state int) {
	m.Breakers.WithLabelValues(name).Set(float64(state))
}

// WriteTextfile writes the registry atomically to path.
func (m *RunMetrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.reg); err != nil {
		return eris.Wrapf(err, "metrics: write textfile %s", path)
	}
	return nil
}

// Registry exposes the underlying registry.
func (m *RunMetrics) Registry() *prometheus.Registry { return m.reg }
