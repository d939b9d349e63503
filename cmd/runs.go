package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/auction-ingest/internal/model"
	"github.com/sells-group/auction-ingest/internal/monitoring"
	"github.com/sells-group/auction-ingest/internal/quality"
	"github.com/sells-group/auction-ingest/internal/store"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect ingestion run history",
	Long:  "Commands for listing, viewing, and summarizing ingestion runs.",
}

// -- runs list --

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List ingestion runs, newest first",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		status, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")

		runs, err := st.ListRuns(ctx, store.RunFilter{
			Status: model.RunStatus(status),
			Limit:  limit,
		})
		if err != nil {
			return eris.Wrap(err, "runs list")
		}

		if len(runs) == 0 {
			fmt.Fprintln(os.Stderr, "No runs found.")
			return nil
		}

		formatRunsList(os.Stdout, runs)
		return nil
	},
}

// -- runs show --

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show a run, its quality report and optionally its events",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		run, err := st.GetRun(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "runs show")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(run); err != nil {
			return err
		}

		rep, err := st.GetReport(ctx, run.RunID)
		switch {
		case errors.Is(err, store.ErrNotFound):
			fmt.Fprintln(os.Stderr, "No quality report for this run.")
		case err != nil:
			return eris.Wrap(err, "runs show: report")
		default:
			fmt.Fprintln(os.Stdout)
			fmt.Fprintln(os.Stdout, quality.Format(rep))
		}

		if withEvents, _ := cmd.Flags().GetBool("events"); withEvents {
			events, err := st.ListEvents(ctx, run.RunID)
			if err != nil {
				return eris.Wrap(err, "runs show: events")
			}
			formatEvents(os.Stdout, events)
		}
		return nil
	},
}

// -- runs stats --

var runsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show run trends and threshold alerts",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		since, _ := cmd.Flags().GetDuration("since")
		hours := cfg.Monitoring.LookbackHours
		if since > 0 {
			hours = int(since.Hours())
		}

		snap, err := monitoring.NewCollector(st).Collect(ctx, hours)
		if err != nil {
			return eris.Wrap(err, "runs stats")
		}
		alerts := monitoring.NewAlerter(cfg.Monitoring).Evaluate(snap)
		monitoring.Log(alerts)

		formatSnapshot(os.Stdout, snap)
		formatAlerts(os.Stdout, alerts)
		return nil
	},
}

func init() {
	runsListCmd.Flags().String("status", "", "filter by run status (running, complete, failed, cancelled)")
	runsListCmd.Flags().Int("limit", 50, "max number of runs to display")

	runsShowCmd.Flags().Bool("events", false, "also list the run's pipeline events")

	runsStatsCmd.Flags().Duration("since", 0, "time window for stats (e.g. 24h, 168h); defaults to monitoring.lookback_hours")

	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
	runsCmd.AddCommand(runsStatsCmd)
	rootCmd.AddCommand(runsCmd)
}

// formatRunsList writes a tabular list of runs to w.
func formatRunsList(out io.Writer, runs []model.RunExecution) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tMODE\tSTATUS\tSTARTED\tDURATION\tFOUND\tPROCESSED\tVALID\tQUARANTINED\tCOST")
	_, _ = fmt.Fprintln(w, "--\t----\t------\t-------\t--------\t-----\t---------\t-----\t-----------\t----")

	for _, r := range runs {
		dur := "-"
		if r.FinishedAt != nil {
			dur = (time.Duration(r.DurationMS) * time.Millisecond).Round(time.Second).String()
		}
		mode := string(r.Mode)
		if r.DryRun {
			mode += " (dry)"
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%d\t%d\t%d\t$%.4f\n",
			truncateID(r.RunID),
			mode,
			r.Status,
			r.StartedAt.UTC().Format("2006-01-02 15:04"),
			dur,
			r.Counts.Found,
			r.Quality.Processed,
			r.Quality.Valid,
			r.Quality.Quarantined,
			r.CostUSD,
		)
	}
	_ = w.Flush()
}

// formatEvents writes the event log of a run to w.
func formatEvents(out io.Writer, events []model.PipelineEvent) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "TIME\tSTAGE\tEVENT\tLEVEL\tEXTERNAL_ID\tMESSAGE")
	for _, e := range events {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			e.CreatedAt.UTC().Format("15:04:05.000"),
			e.Stage,
			e.Event,
			e.Level,
			e.ExternalID,
			e.Message,
		)
	}
	_ = w.Flush()
}

// formatSnapshot writes aggregate run trends to w.
func formatSnapshot(out io.Writer, s *monitoring.Snapshot) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Window:\tlast %dh\n", s.LookbackHours)
	_, _ = fmt.Fprintf(w, "Total runs:\t%d\n", s.RunsTotal)
	_, _ = fmt.Fprintf(w, "Complete:\t%d\n", s.RunsComplete)
	_, _ = fmt.Fprintf(w, "Failed:\t%d\n", s.RunsFailed)
	_, _ = fmt.Fprintf(w, "Cancelled:\t%d\n", s.RunsCancelled)
	_, _ = fmt.Fprintf(w, "Running:\t%d\n", s.RunsRunning)
	_, _ = fmt.Fprintf(w, "Failure rate:\t%.1f%%\n", s.FailRate*100)
	_, _ = fmt.Fprintf(w, "Processed:\t%d\n", s.Processed)
	_, _ = fmt.Fprintf(w, "Valid:\t%d\n", s.Valid)
	_, _ = fmt.Fprintf(w, "Quarantined:\t%d\n", s.Quarantined)
	_, _ = fmt.Fprintf(w, "Valid rate:\t%.1f%% (mean per run %.1f%%)\n", s.OverallValidRate*100, s.MeanValidRate*100)
	_, _ = fmt.Fprintf(w, "Cost:\t$%.4f\n", s.CostUSD)
	if s.AvgDurationMS > 0 {
		_, _ = fmt.Fprintf(w, "Avg duration:\t%.1fs\n", float64(s.AvgDurationMS)/1000)
	}
	if s.LastRun != nil {
		_, _ = fmt.Fprintf(w, "Last run:\t%s %s at %s\n",
			truncateID(s.LastRun.RunID), s.LastRun.Status, s.LastRun.StartedAt.UTC().Format("2006-01-02 15:04"))
	}
	_ = w.Flush()
}

// formatAlerts writes threshold alerts to w.
func formatAlerts(out io.Writer, alerts []monitoring.Alert) {
	if len(alerts) == 0 {
		_, _ = fmt.Fprintln(out, "\nNo alerts.")
		return
	}
	_, _ = fmt.Fprintf(out, "\nAlerts (%d):\n", len(alerts))
	for _, a := range alerts {
		_, _ = fmt.Fprintf(out, "  [%s] %s: %s\n", a.Severity, a.Type, a.Message)
	}
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
