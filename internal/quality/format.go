package quality

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sells-group/auction-ingest/internal/model"
)

// Format renders a human-readable quality report.
func Format(rep *model.QualityReport) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Quality Report: %s\n", rep.RunID)
	fmt.Fprintf(&b, "Mode: %s\n", rep.Mode)
	fmt.Fprintf(&b, "Created: %s\n", rep.CreatedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "Duration: %s\n\n", time.Duration(rep.DurationMS)*time.Millisecond)

	t := rep.Totals
	b.WriteString("## Totals\n")
	fmt.Fprintf(&b, "- Processed: %d\n", t.Processed)
	fmt.Fprintf(&b, "- VALID: %d (%.1f%%)\n", t.Valid, 100*rep.ValidRate)
	fmt.Fprintf(&b, "- DRAFT: %d\n", t.Draft)
	fmt.Fprintf(&b, "- NOT_SELLABLE: %d\n", t.NotSellable)
	fmt.Fprintf(&b, "- REJECTED: %d\n", t.Rejected)
	fmt.Fprintf(&b, "- Quarantined: %d (%.1f%%)\n\n", t.Quarantined(), 100*rep.QuarantineRate)

	b.WriteString("## Top Errors\n")
	if len(rep.TopErrors) == 0 {
		b.WriteString("No errors.\n")
	}
	for i, e := range rep.TopErrors {
		fmt.Fprintf(&b, "%d. %s: %d (%.1f%%)\n", i+1, e.Code, e.Count, e.Percent)
	}
	b.WriteString("\n")

	b.WriteString("## Stages\n")
	for _, s := range rep.Stages {
		fmt.Fprintf(&b, "- %s: %d calls, %dms total, %.1fms avg\n", s.Stage, s.Count, s.TotalMS, s.AvgMS)
	}
	b.WriteString("\n")

	if len(rep.FieldSources) > 0 {
		b.WriteString("## Field Sources\n")
		fields := make([]string, 0, len(rep.FieldSources))
		for f := range rep.FieldSources {
			fields = append(fields, f)
		}
		sort.Strings(fields)
		for _, f := range fields {
			bySource := rep.FieldSources[f]
			srcs := make([]string, 0, len(bySource))
			for s := range bySource {
				srcs = append(srcs, s)
			}
			sort.Strings(srcs)
			parts := make([]string, len(srcs))
			for i, s := range srcs {
				parts[i] = fmt.Sprintf("%s=%d", s, bySource[s])
			}
			fmt.Fprintf(&b, "- %s: %s\n", f, strings.Join(parts, ", "))
		}
		b.WriteString("\n")
	}

	u := rep.Usage
	b.WriteString("## Usage\n")
	fmt.Fprintf(&b, "- Search calls: %d\n", u.SearchCalls)
	fmt.Fprintf(&b, "- Detail calls: %d\n", u.DetailCalls)
	fmt.Fprintf(&b, "- Documents: %d (%d OCR pages)\n", u.Documents, u.OCRPages)
	fmt.Fprintf(&b, "- Summary tokens: %d input, %d output\n", u.SummaryInputTokens, u.SummaryOutputTokens)
	fmt.Fprintf(&b, "- Estimated cost: $%.4f\n", rep.CostUSD)

	return b.String()
}
