package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/auction-ingest/internal/contract"
	"github.com/sells-group/auction-ingest/internal/cost"
	"github.com/sells-group/auction-ingest/internal/document"
	"github.com/sells-group/auction-ingest/internal/model"
	"github.com/sells-group/auction-ingest/internal/ocr"
	"github.com/sells-group/auction-ingest/internal/pipeline"
	"github.com/sells-group/auction-ingest/internal/quality"
	"github.com/sells-group/auction-ingest/internal/store"
	anthropicpkg "github.com/sells-group/auction-ingest/pkg/anthropic"
	"github.com/sells-group/auction-ingest/pkg/pncp"
)

const dayLayout = "2006-01-02"

var (
	runMode         string
	runLimit        int
	runDryRun       bool
	runFrom         string
	runTo           string
	runExportReport string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one ingestion pass over the portal",
	Long:  "Searches the portal for auction notices in the date window, classifies every new listing and writes it to the catalog or to quarantine. Prints the quality report.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := cfg.Validate("run"); err != nil {
			return err
		}

		mode, err := model.ParseRunMode(runMode)
		if err != nil {
			return err
		}

		opts, err := pipeline.OptionsFromConfig(cfg)
		if err != nil {
			return err
		}
		req, err := buildRequest(mode, opts.Location)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		p, err := buildPipeline(opts, st)
		if err != nil {
			return err
		}

		result, runErr := p.Run(ctx, req)
		if result != nil && result.Report != nil {
			fmt.Fprintln(os.Stdout, quality.Format(result.Report))
			if runExportReport != "" {
				if err := quality.Export(result.Report, runExportReport); err != nil {
					return eris.Wrap(err, "export report")
				}
				zap.L().Info("report exported", zap.String("path", runExportReport))
			}
		}
		if runErr != nil {
			return eris.Wrap(runErr, "pipeline run")
		}
		if result.Run.Status == model.RunStatusCancelled {
			return eris.Errorf("run %s cancelled", result.Run.RunID)
		}
		return nil
	},
}

// buildPipeline wires the portal, document and summary clients from cfg.
func buildPipeline(opts pipeline.Options, st store.Store) (*pipeline.Pipeline, error) {
	portal := pncp.NewClient(
		pncp.WithSearchBaseURL(cfg.Portal.SearchBaseURL),
		pncp.WithAPIBaseURL(cfg.Portal.APIBaseURL),
		pncp.WithHTTPClient(&http.Client{Timeout: time.Duration(cfg.Portal.TimeoutSecs) * time.Second}),
		pncp.WithDetailDelay(time.Duration(cfg.Portal.DetailDelayMs)*time.Millisecond),
		pncp.WithMaxDownloadBytes(cfg.Document.MaxBytes),
	)

	var docs *document.Reader
	if cfg.Document.Enabled {
		pdf, err := ocr.NewExtractor(cfg.Document)
		if err != nil {
			return nil, err
		}
		docs = document.NewReader(pdf, cfg.Document.MaxBytes)
	}

	var summarizer pipeline.Summarizer
	if cfg.Anthropic.Key != "" {
		client := anthropicpkg.NewClient(cfg.Anthropic.Key)
		summarizer = pipeline.NewLLMSummarizer(client, cfg.Anthropic.Model, int64(cfg.Anthropic.MaxTokens))
	} else {
		zap.L().Info("anthropic key not set, using heuristic summaries")
	}

	c, err := loadContract()
	if err != nil {
		return nil, err
	}

	calc := cost.NewCalculator(cfg.Pricing.Rates(), cfg.Anthropic.Model)
	return pipeline.New(opts, st, portal, docs, summarizer, c, calc)
}

// loadContract reads the configured contract file, or the built-in one.
func loadContract() (*contract.Contract, error) {
	if cfg.Pipeline.ContractPath == "" {
		return contract.Default(), nil
	}
	c, err := contract.Load(cfg.Pipeline.ContractPath)
	if err != nil {
		return nil, eris.Wrap(err, "load contract")
	}
	return c, nil
}

func buildRequest(mode model.RunMode, loc *time.Location) (pipeline.Request, error) {
	req := pipeline.Request{Mode: mode, DryRun: runDryRun, Limit: runLimit}
	if runLimit < 0 {
		return req, eris.New("--limit must not be negative")
	}
	var err error
	if req.From, err = parseDay(runFrom, loc, false); err != nil {
		return req, eris.Wrap(err, "--from")
	}
	if req.To, err = parseDay(runTo, loc, true); err != nil {
		return req, eris.Wrap(err, "--to")
	}
	if !req.From.IsZero() && !req.To.IsZero() && req.To.Before(req.From) {
		return req, eris.New("--to is before --from")
	}
	return req, nil
}

// parseDay parses a YYYY-MM-DD flag in loc. With endOfDay set the result is
// the last instant of that day. An empty value yields the zero time.
func parseDay(s string, loc *time.Location, endOfDay bool) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.ParseInLocation(dayLayout, s, loc)
	if err != nil {
		return time.Time{}, eris.Errorf("invalid date %q, want YYYY-MM-DD", s)
	}
	if endOfDay {
		t = t.AddDate(0, 0, 1).Add(-time.Nanosecond)
	}
	return t, nil
}

func init() {
	runCmd.Flags().StringVar(&runMode, "mode", string(model.RunModeIncremental), "run mode: INCREMENTAL skips listings already in the catalog, FULL reprocesses them")
	runCmd.Flags().IntVar(&runLimit, "limit", 0, "max listings to process (0 = no limit)")
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "classify and report without writing the catalog or quarantine")
	runCmd.Flags().StringVar(&runFrom, "from", "", "window start, YYYY-MM-DD (default: window_days before --to)")
	runCmd.Flags().StringVar(&runTo, "to", "", "window end, YYYY-MM-DD (default: today)")
	runCmd.Flags().StringVar(&runExportReport, "export-report", "", "write the quality report to this .json or .xlsx file")
	rootCmd.AddCommand(runCmd)
}
