package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/auction-ingest/internal/model"
	"github.com/sells-group/auction-ingest/internal/store"
)

var quarantineCmd = &cobra.Command{
	Use:   "quarantine",
	Short: "Inspect records held out of the catalog",
}

var quarantineListCmd = &cobra.Command{
	Use:   "list",
	Short: "List quarantined records",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		status, _ := cmd.Flags().GetString("status")
		var class model.Classification
		if status != "" {
			class = model.Classification(strings.ToUpper(status))
			if !slices.Contains(model.Classifications, class) || !class.Quarantined() {
				return eris.Errorf("invalid --status %q: want DRAFT, NOT_SELLABLE or REJECTED", status)
			}
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		runID, _ := cmd.Flags().GetString("run-id")
		limit, _ := cmd.Flags().GetInt("limit")

		entries, err := st.ListQuarantine(ctx, store.QuarantineFilter{
			RunID:  runID,
			Status: class,
			Limit:  limit,
		})
		if err != nil {
			return eris.Wrap(err, "quarantine list")
		}

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(entries)
		}

		if len(entries) == 0 {
			fmt.Fprintln(os.Stderr, "No quarantined records found.")
			return nil
		}
		formatQuarantineList(os.Stdout, entries)
		return nil
	},
}

func init() {
	quarantineListCmd.Flags().String("run-id", "", "filter by run ID")
	quarantineListCmd.Flags().String("status", "", "filter by classification (DRAFT, NOT_SELLABLE, REJECTED)")
	quarantineListCmd.Flags().Int("limit", 50, "max number of records to display")
	quarantineListCmd.Flags().Bool("json", false, "print full entries, raw and normalized records included, as JSON")

	quarantineCmd.AddCommand(quarantineListCmd)
	rootCmd.AddCommand(quarantineCmd)
}

// formatQuarantineList writes a tabular list of quarantine entries to w.
func formatQuarantineList(out io.Writer, entries []model.QuarantineEntry) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "EXTERNAL_ID\tSTATUS\tRUN\tUPDATED\tERRORS")
	_, _ = fmt.Fprintln(w, "-----------\t------\t---\t-------\t------")

	for _, e := range entries {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			e.ExternalID,
			e.Status,
			truncateID(e.RunID),
			e.UpdatedAt.UTC().Format("2006-01-02 15:04"),
			errorSummary(e.Errors),
		)
	}
	_ = w.Flush()
}

// errorSummary renders errors as code:field pairs.
func errorSummary(errs []model.ValidationError) string {
	parts := make([]string, len(errs))
	for i, e := range errs {
		parts[i] = e.String()
	}
	return strings.Join(parts, ", ")
}
