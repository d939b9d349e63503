package pipeline

import (
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/auction-ingest/internal/cascade"
	"github.com/sells-group/auction-ingest/internal/config"
	"github.com/sells-group/auction-ingest/internal/model"
	"github.com/sells-group/auction-ingest/internal/normalize"
	"github.com/sells-group/auction-ingest/internal/quality"
	"github.com/sells-group/auction-ingest/internal/resilience"
)

// Options is the configuration a Pipeline is built with. It is copied at
// construction and never changed afterward.
type Options struct {
	// Concurrency bounds the candidate worker pool.
	Concurrency int

	// Discovery.
	Categories   []string
	SearchTerms  string
	SearchStatus string
	PageSize     int
	MaxPages     int
	WindowDays   int

	// Extraction and normalization.
	Cascade     cascade.Options
	Location    *time.Location
	TagDenylist []string

	// Documents enables the attachment fetch. With it off only search and
	// detail feed the cascade.
	Documents bool

	SearchRetry resilience.Policy
	DetailRetry resilience.Policy
	Breaker     resilience.BreakerConfig

	EventBatchSize int
	TopErrors      int

	// MetricsPath, when set, receives a Prometheus textfile after each run.
	MetricsPath string

	Now func() time.Time
}

// Request holds the per-run inputs chosen by the caller.
type Request struct {
	Mode   model.RunMode
	DryRun bool
	// Limit caps discovered candidates. Zero means no cap.
	Limit int
	// From and To bound the search window. Zero values default to the last
	// WindowDays days.
	From time.Time
	To   time.Time
}

// OptionsFromConfig derives pipeline Options from the loaded config.
func OptionsFromConfig(cfg *config.Config) (Options, error) {
	loc := normalize.DefaultLocation()
	if cfg.Pipeline.Timezone != "" {
		l, err := time.LoadLocation(cfg.Pipeline.Timezone)
		if err != nil {
			return Options{}, eris.Wrapf(err, "pipeline: load timezone %s", cfg.Pipeline.Timezone)
		}
		loc = l
	}

	retry := cfg.Portal.Retry
	searchRetry := resilience.PolicyFromMillis(retry.MaxAttempts, retry.InitialBackoffMs, retry.MaxBackoffMs)
	searchRetry.OnRetry = resilience.RetryLogger("pncp", "search")
	detailRetry := resilience.PolicyFromMillis(retry.MaxAttempts, retry.InitialBackoffMs, retry.MaxBackoffMs)
	detailRetry.OnRetry = resilience.RetryLogger("pncp", "detail")

	return Options{
		Concurrency:  cfg.Pipeline.Concurrency,
		Categories:   cfg.Portal.Categories,
		SearchTerms:  cfg.Portal.SearchTerms,
		SearchStatus: cfg.Portal.SearchStatus,
		PageSize:     cfg.Portal.PageSize,
		MaxPages:     cfg.Portal.MaxPages,
		WindowDays:   cfg.Pipeline.WindowDays,
		Cascade: cascade.Options{
			HorizonDays:   cfg.Pipeline.DateHorizonDays,
			MinYear:       cfg.Pipeline.MinYear,
			MaxYear:       cfg.Pipeline.MaxYear,
			DetailBaseURL: cfg.Portal.DetailBaseURL,
		},
		Location:       loc,
		TagDenylist:    cfg.Pipeline.TagDenylist,
		Documents:      cfg.Document.Enabled,
		SearchRetry:    searchRetry,
		DetailRetry:    detailRetry,
		Breaker:        resilience.BreakerFromSeconds("detail", cfg.Portal.Circuit.FailureThreshold, cfg.Portal.Circuit.ResetTimeoutSecs),
		EventBatchSize: cfg.Pipeline.EventBatchSize,
		TopErrors:      cfg.Pipeline.TopErrors,
		MetricsPath:    cfg.Metrics.TextfilePath,
	}, nil
}

func (o Options) withDefaults() Options {
	if o.Concurrency < 1 {
		o.Concurrency = 1
	}
	if len(o.Categories) == 0 {
		o.Categories = []string{""}
	}
	if o.PageSize < 1 {
		o.PageSize = 50
	}
	if o.MaxPages < 1 {
		o.MaxPages = 200
	}
	if o.WindowDays < 1 {
		o.WindowDays = 30
	}
	if o.EventBatchSize < 1 {
		o.EventBatchSize = 200
	}
	if o.TopErrors < 1 {
		o.TopErrors = quality.DefaultTopN
	}
	if o.Breaker.Name == "" {
		o.Breaker.Name = "detail"
	}
	if o.Location == nil {
		o.Location = normalize.DefaultLocation()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Cascade.Now == nil {
		o.Cascade.Now = o.Now
	}
	return o
}

// window resolves the search bounds of req.
func (o Options) window(req Request) (time.Time, time.Time) {
	to := req.To
	if to.IsZero() {
		to = o.Now().In(o.Location)
	}
	from := req.From
	if from.IsZero() {
		from = to.AddDate(0, 0, -o.WindowDays)
	}
	return from, to
}
