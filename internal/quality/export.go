package quality

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/auction-ingest/internal/model"
)

// Export writes rep to path, choosing the format from the extension:
// .xlsx or .json.
func Export(rep *model.QualityReport, path string) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		return ExportXLSX(rep, path)
	case ".json":
		return ExportJSON(rep, path)
	}
	return eris.Errorf("quality: unsupported export format %q", filepath.Ext(path))
}

// ExportJSON writes rep as indented JSON.
func ExportJSON(rep *model.QualityReport, path string) error {
	data, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return eris.Wrap(err, "quality: marshal report")
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return eris.Wrapf(err, "quality: write %s", path)
	}
	return nil
}

// Sheet names in an exported workbook.
const (
	SheetSummary = "Summary"
	SheetErrors  = "Errors"
	SheetStages  = "Stages"
	SheetSources = "Sources"
)

// ExportXLSX writes rep as a workbook with one sheet per section.
func ExportXLSX(rep *model.QualityReport, path string) error {
	f := xlsx.NewFile()

	summary, err := f.AddSheet(SheetSummary)
	if err != nil {
		return eris.Wrap(err, "quality: add summary sheet")
	}
	t := rep.Totals
	addRow(summary, "run_id", rep.RunID)
	addRow(summary, "mode", string(rep.Mode))
	addRow(summary, "created_at", rep.CreatedAt.UTC().Format("2006-01-02 15:04:05"))
	addIntRow(summary, "processed", int64(t.Processed))
	addIntRow(summary, "valid", int64(t.Valid))
	addIntRow(summary, "draft", int64(t.Draft))
	addIntRow(summary, "not_sellable", int64(t.NotSellable))
	addIntRow(summary, "rejected", int64(t.Rejected))
	addFloatRow(summary, "valid_rate", rep.ValidRate)
	addFloatRow(summary, "quarantine_rate", rep.QuarantineRate)
	addIntRow(summary, "duration_ms", rep.DurationMS)
	addFloatRow(summary, "cost_usd", rep.CostUSD)
	addIntRow(summary, "search_calls", int64(rep.Usage.SearchCalls))
	addIntRow(summary, "detail_calls", int64(rep.Usage.DetailCalls))
	addIntRow(summary, "documents", int64(rep.Usage.Documents))
	addIntRow(summary, "ocr_pages", int64(rep.Usage.OCRPages))

	errs, err := f.AddSheet(SheetErrors)
	if err != nil {
		return eris.Wrap(err, "quality: add errors sheet")
	}
	addRow(errs, "code", "count", "percent")
	for _, e := range rep.TopErrors {
		row := errs.AddRow()
		row.AddCell().SetString(e.Code)
		row.AddCell().SetInt(e.Count)
		row.AddCell().SetFloat(e.Percent)
	}

	stages, err := f.AddSheet(SheetStages)
	if err != nil {
		return eris.Wrap(err, "quality: add stages sheet")
	}
	addRow(stages, "stage", "count", "total_ms", "avg_ms")
	for _, s := range rep.Stages {
		row := stages.AddRow()
		row.AddCell().SetString(s.Stage)
		row.AddCell().SetInt(s.Count)
		row.AddCell().SetInt64(s.TotalMS)
		row.AddCell().SetFloat(s.AvgMS)
	}

	sources, err := f.AddSheet(SheetSources)
	if err != nil {
		return eris.Wrap(err, "quality: add sources sheet")
	}
	addRow(sources, "field", "source", "count")
	fields := make([]string, 0, len(rep.FieldSources))
	for field := range rep.FieldSources {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	for _, field := range fields {
		srcs := make([]string, 0, len(rep.FieldSources[field]))
		for s := range rep.FieldSources[field] {
			srcs = append(srcs, s)
		}
		sort.Strings(srcs)
		for _, s := range srcs {
			row := sources.AddRow()
			row.AddCell().SetString(field)
			row.AddCell().SetString(s)
			row.AddCell().SetInt(rep.FieldSources[field][s])
		}
	}

	if err := f.Save(path); err != nil {
		return eris.Wrapf(err, "quality: save %s", path)
	}
	return nil
}

func addRow(sheet *xlsx.Sheet, values ...string) {
	row := sheet.AddRow()
	for _, v := range values {
		row.AddCell().SetString(v)
	}
}

func addIntRow(sheet *xlsx.Sheet, key string, v int64) {
	row := sheet.AddRow()
	row.AddCell().SetString(key)
	row.AddCell().SetInt64(v)
}

func addFloatRow(sheet *xlsx.Sheet, key string, v float64) {
	row := sheet.AddRow()
	row.AddCell().SetString(key)
	row.AddCell().SetFloat(v)
}
