package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/auction-ingest/internal/cascade"
	"github.com/sells-group/auction-ingest/internal/contract"
	"github.com/sells-group/auction-ingest/internal/cost"
	"github.com/sells-group/auction-ingest/internal/document"
	"github.com/sells-group/auction-ingest/internal/model"
	"github.com/sells-group/auction-ingest/internal/resilience"
	"github.com/sells-group/auction-ingest/internal/store"
	"github.com/sells-group/auction-ingest/pkg/pncp"
)

var (
	brt     = time.FixedZone("BRT", -3*60*60)
	testNow = time.Date(2024, 6, 1, 12, 0, 0, 0, brt)

	keyA = pncp.Key{CNPJ: "00394460000141", Year: 2024, Sequence: 123}
	keyB = pncp.Key{CNPJ: "18715383000140", Year: 2024, Sequence: 45}
	idA  = "00394460000141-1-000123/2024"
	idB  = "18715383000140-1-000045/2024"
)

func fastRetry() resilience.Policy {
	return resilience.Policy{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
		Multiplier:     2,
	}
}

func testOptions() Options {
	return Options{
		Concurrency: 2,
		PageSize:    50,
		MaxPages:    3,
		WindowDays:  30,
		Cascade: cascade.Options{
			HorizonDays:   365,
			MinYear:       2020,
			MaxYear:       2030,
			DetailBaseURL: "https://pncp.gov.br/app/editais",
		},
		Location:       brt,
		SearchRetry:    fastRetry(),
		DetailRetry:    fastRetry(),
		Breaker:        resilience.BreakerConfig{Name: "detail", FailureThreshold: 100},
		EventBatchSize: 3,
		Now:            func() time.Time { return testNow },
	}
}

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "pipeline.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func newTestPipeline(t *testing.T, opts Options, st store.Store, portal pncp.Client, summarizer Summarizer) *Pipeline {
	t.Helper()
	p, err := New(opts, st, portal, document.NewReader(nil, 0), summarizer, contract.Default(),
		cost.NewCalculator(cost.DefaultRates(), "claude-haiku-4-5-20251001"))
	require.NoError(t, err)
	return p
}

func searchItem(k pncp.Key, title, description, uf, city string) pncp.SearchItem {
	return pncp.SearchItem{
		Title:        title,
		Description:  description,
		ItemURL:      fmt.Sprintf("/compras/%s/%d/%d", k.CNPJ, k.Year, k.Sequence),
		OrgName:      "Prefeitura Municipal",
		UF:           uf,
		Municipality: city,
		PublishedAt:  "2024-05-02T09:00:00",
		ModalityName: "Leilão - Eletrônico",
	}
}

func itemA() pncp.SearchItem {
	return searchItem(keyA, "Leilão de veículos", "Alienação de veículos inservíveis", "MG", "Uberlândia")
}

func itemB() pncp.SearchItem {
	return searchItem(keyB, "Leilão de veículos usados", "Alienação de veículos usados da frota", "SP", "Campinas")
}

func detailA() *pncp.Detail {
	value := 25000.0
	return &pncp.Detail{
		Object:         "Alienação de veículos inservíveis. Lotes 1 a 12.",
		ModalityName:   "Leilão - Eletrônico",
		OpeningDate:    "2024-06-18T14:00:00",
		EstimatedValue: &value,
		Unit:           pncp.Unit{Municipality: "Uberlândia", UF: "MG"},
	}
}

func detailB() *pncp.Detail {
	return &pncp.Detail{
		Object:      "Alienação de veículos usados da frota.",
		OpeningDate: "2024-06-20T10:00:00",
		Unit:        pncp.Unit{Municipality: "Campinas", UF: "SP"},
	}
}

func page(items ...pncp.SearchItem) *pncp.SearchPage {
	return &pncp.SearchPage{Items: items, Total: len(items), Page: 1, PageSize: 50}
}

func TestRun_RoutesValidAndQuarantined(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	portal := &mockPortal{}
	portal.On("Search", mock.Anything, mock.AnythingOfType("pncp.SearchQuery")).Return(page(itemA(), itemB()), nil)
	portal.On("Detail", mock.Anything, keyA).Return(detailA(), nil)
	portal.On("Detail", mock.Anything, keyB).Return(nil, eris.Wrap(pncp.ErrNotFound, "pncp: detail"))

	opts := testOptions()
	opts.MetricsPath = filepath.Join(t.TempDir(), "auction_ingest.prom")
	p := newTestPipeline(t, opts, st, portal, nil)

	res, err := p.Run(ctx, Request{Mode: model.RunModeFull})
	require.NoError(t, err)
	require.NotNil(t, res.Report)

	run := res.Run
	assert.Equal(t, model.RunStatusComplete, run.Status)
	assert.Equal(t, model.RunCounts{Found: 2, New: 2, Errors: 1}, run.Counts)

	rep := res.Report
	assert.Equal(t, model.ClassTotals{Processed: 2, Valid: 1, NotSellable: 1}, rep.Totals)
	assert.Equal(t, rep.Totals.Processed, rep.Totals.Valid+rep.Totals.Draft+rep.Totals.NotSellable+rep.Totals.Rejected)
	assert.InDelta(t, 0.5, rep.ValidRate, 1e-9)
	assert.Equal(t, 1, rep.Usage.SearchCalls)
	assert.Equal(t, 2, rep.Usage.DetailCalls, "not-found detail is not retried")
	assert.Equal(t, 2, rep.Usage.Records)

	// VALID goes to the catalog.
	rec, err := st.GetAuction(ctx, idA)
	require.NoError(t, err)
	require.NotNil(t, rec.Title)
	assert.Equal(t, "Leilão de veículos", *rec.Title)
	require.NotNil(t, rec.AuctionDate)
	assert.True(t, rec.AuctionDate.Equal(time.Date(2024, 6, 18, 14, 0, 0, 0, brt)))
	assert.Equal(t, "detail", rec.Sources[model.FieldAuctionDate])

	// A record with an unreachable source is quarantined and notes the source.
	exists, err := st.AuctionExists(ctx, idB)
	require.NoError(t, err)
	assert.False(t, exists)
	entries, err := st.ListQuarantine(ctx, store.QuarantineFilter{RunID: run.RunID})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	entry := entries[0]
	assert.Equal(t, idB, entry.ExternalID)
	assert.Equal(t, model.ClassNotSellable, entry.Status)
	assert.Equal(t, []string{"missing_required_field:auction_date", "source_unavailable:detail"}, errorStrings(entry.Errors))
	require.NotNil(t, entry.Raw)
	assert.Contains(t, entry.Raw.FetchErrors, "detail")
	assert.Nil(t, entry.Raw.Detail)
	require.NotNil(t, entry.Normalized)

	// Run, report and events are durable.
	stored, err := st.GetRun(ctx, run.RunID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusComplete, stored.Status)
	assert.Equal(t, 2, stored.Quality.Processed)
	assert.Equal(t, 1, stored.Quality.Valid)

	storedRep, err := st.GetReport(ctx, run.RunID)
	require.NoError(t, err)
	assert.Equal(t, rep.Totals, storedRep.Totals)

	events, err := st.ListEvents(ctx, run.RunID)
	require.NoError(t, err)
	require.NotEmpty(t, events)
	assert.Equal(t, model.StageRun, events[0].Stage)
	assert.Equal(t, model.EventStart, events[0].Event)
	last := events[len(events)-1]
	assert.Equal(t, model.StageRun, last.Stage)
	assert.Equal(t, model.EventSuccess, last.Event)

	data, err := os.ReadFile(opts.MetricsPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "auction_ingest_last_run_info")
}

func TestRun_IncrementalSkipsExisting(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	require.NoError(t, st.UpsertAuction(ctx, "earlier-run", &model.NormalizedRecord{
		ExternalID: idA,
		Title:      model.Str("Título antigo"),
	}))

	portal := &mockPortal{}
	portal.On("Search", mock.Anything, mock.Anything).Return(page(itemA(), itemB()), nil)
	portal.On("Detail", mock.Anything, keyB).Return(detailB(), nil)
	portal.On("Documents", mock.Anything, keyB).Return([]pncp.Document{}, nil)

	opts := testOptions()
	opts.Documents = true
	p := newTestPipeline(t, opts, st, portal, nil)

	res, err := p.Run(ctx, Request{Mode: model.RunModeIncremental})
	require.NoError(t, err)

	assert.Equal(t, model.RunCounts{Found: 2, New: 1, SkippedExisting: 1}, res.Run.Counts)
	assert.Equal(t, 1, res.Report.Totals.Processed)
	portal.AssertNotCalled(t, "Detail", mock.Anything, keyA)
	portal.AssertNotCalled(t, "Documents", mock.Anything, keyA)

	rec, err := st.GetAuction(ctx, idA)
	require.NoError(t, err)
	assert.Equal(t, "Título antigo", *rec.Title)

	events, err := st.ListEvents(ctx, res.Run.RunID)
	require.NoError(t, err)
	var skipped []string
	for _, ev := range events {
		if ev.Event == model.EventSkip {
			skipped = append(skipped, ev.ExternalID)
		}
	}
	assert.Equal(t, []string{idA}, skipped)
}

func TestRun_FullOverwritesExisting(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	require.NoError(t, st.UpsertAuction(ctx, "earlier-run", &model.NormalizedRecord{
		ExternalID: idA,
		Title:      model.Str("Título antigo"),
	}))

	portal := &mockPortal{}
	portal.On("Search", mock.Anything, mock.Anything).Return(page(itemA()), nil)
	portal.On("Detail", mock.Anything, keyA).Return(detailA(), nil)
	p := newTestPipeline(t, testOptions(), st, portal, nil)

	res, err := p.Run(ctx, Request{Mode: model.RunModeFull})
	require.NoError(t, err)

	assert.Equal(t, model.RunCounts{Found: 1, New: 1}, res.Run.Counts)
	portal.AssertCalled(t, "Detail", mock.Anything, keyA)

	rec, err := st.GetAuction(ctx, idA)
	require.NoError(t, err)
	assert.Equal(t, "Leilão de veículos", *rec.Title)
	require.NotNil(t, rec.EstimatedValue)
	assert.Equal(t, model.Money(2500000), *rec.EstimatedValue)
}

func TestRun_DiscoveryFailureFailsRun(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	portal := &mockPortal{}
	portal.On("Search", mock.Anything, mock.Anything).Return(nil, errors.New("search index unreachable"))
	p := newTestPipeline(t, testOptions(), st, portal, nil)

	res, err := p.Run(ctx, Request{Mode: model.RunModeFull})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "search index unreachable")
	require.NotNil(t, res)
	assert.Nil(t, res.Report)
	assert.Equal(t, model.RunStatusFailed, res.Run.Status)

	stored, err := st.GetRun(ctx, res.Run.RunID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusFailed, stored.Status)
	assert.NotEmpty(t, stored.Error)

	_, err = st.GetReport(ctx, res.Run.RunID)
	assert.True(t, errors.Is(err, store.ErrNotFound))
	portal.AssertNotCalled(t, "Detail", mock.Anything, mock.Anything)
}

func TestRun_SearchRetriesTransientErrors(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	portal := &mockPortal{}
	portal.On("Search", mock.Anything, mock.Anything).
		Return(nil, resilience.NewTransientError(errors.New("bad gateway"), 502)).Once()
	portal.On("Search", mock.Anything, mock.Anything).Return(page(itemA()), nil)
	portal.On("Detail", mock.Anything, keyA).Return(detailA(), nil)
	p := newTestPipeline(t, testOptions(), st, portal, nil)

	res, err := p.Run(ctx, Request{Mode: model.RunModeFull})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Report.Usage.SearchCalls)
	assert.Equal(t, 1, res.Report.Totals.Valid)
}

func TestRun_DetailRetryExhaustionDegradesField(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	portal := &mockPortal{}
	portal.On("Search", mock.Anything, mock.Anything).Return(page(itemA()), nil)
	portal.On("Detail", mock.Anything, keyA).Return(nil, resilience.NewTransientError(errors.New("timeout"), 0))
	p := newTestPipeline(t, testOptions(), st, portal, nil)

	res, err := p.Run(ctx, Request{Mode: model.RunModeFull})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Report.Usage.DetailCalls)
	assert.Equal(t, 1, res.Run.Counts.Errors)
	assert.Equal(t, 1, res.Report.Totals.NotSellable)
	portal.AssertNumberOfCalls(t, "Detail", 3)
}

func TestRun_FailedDetailIsQuarantinedEvenWhenComplete(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	item := searchItem(keyA, "Leilão de veículos",
		"Alienação de veículos inservíveis. Data do leilão: 18/06/2024 às 14h", "MG", "Uberlândia")
	portal := &mockPortal{}
	portal.On("Search", mock.Anything, mock.Anything).Return(page(item), nil)
	portal.On("Detail", mock.Anything, keyA).Return(nil, resilience.NewTransientError(errors.New("timeout"), 0))
	p := newTestPipeline(t, testOptions(), st, portal, nil)

	res, err := p.Run(ctx, Request{Mode: model.RunModeFull})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Run.Counts.Errors)
	assert.Equal(t, model.ClassTotals{Processed: 1, Draft: 1}, res.Report.Totals)

	exists, err := st.AuctionExists(ctx, idA)
	require.NoError(t, err)
	assert.False(t, exists)

	entries, err := st.ListQuarantine(ctx, store.QuarantineFilter{RunID: res.Run.RunID})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, model.ClassDraft, entries[0].Status)
	assert.Equal(t, []string{"source_unavailable:detail"}, errorStrings(entries[0].Errors))
	require.NotNil(t, entries[0].Normalized)
	require.NotNil(t, entries[0].Normalized.AuctionDate)
	assert.True(t, entries[0].Normalized.AuctionDate.Equal(time.Date(2024, 6, 18, 14, 0, 0, 0, brt)))
	assert.Equal(t, "description", entries[0].Normalized.Sources[model.FieldAuctionDate])
}

func TestRun_NegativeDetailValueIsRejected(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	detail := detailA()
	negative := -25000.0
	detail.EstimatedValue = &negative
	portal := &mockPortal{}
	portal.On("Search", mock.Anything, mock.Anything).Return(page(itemA()), nil)
	portal.On("Detail", mock.Anything, keyA).Return(detail, nil)
	p := newTestPipeline(t, testOptions(), st, portal, nil)

	res, err := p.Run(ctx, Request{Mode: model.RunModeFull})
	require.NoError(t, err)
	assert.Equal(t, model.ClassTotals{Processed: 1, Rejected: 1}, res.Report.Totals)

	entries, err := st.ListQuarantine(ctx, store.QuarantineFilter{RunID: res.Run.RunID})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, model.ClassRejected, entries[0].Status)
	assert.Equal(t, []string{"invalid_value:estimated_value"}, errorStrings(entries[0].Errors))
}

func TestRun_DocumentFillsMissingDate(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	detail := detailA()
	detail.OpeningDate = ""
	docURL := "https://pncp.gov.br/pncp-api/v1/orgaos/00394460000141/compras/2024/123/arquivos/1"

	portal := &mockPortal{}
	portal.On("Search", mock.Anything, mock.Anything).Return(page(itemA()), nil)
	portal.On("Detail", mock.Anything, keyA).Return(detail, nil)
	portal.On("Documents", mock.Anything, keyA).Return([]pncp.Document{
		{Sequence: 2, Title: "Anexo", URL: docURL + "-anexo", TypeName: "Outros", Active: false},
		{Sequence: 1, Title: "Edital", URL: docURL, TypeName: "Edital", Active: true},
	}, nil)
	portal.On("Download", mock.Anything, docURL).Return(&pncp.Download{
		URL:         docURL,
		ContentType: "text/plain; charset=utf-8",
		Body:        []byte("EDITAL DE LEILÃO\nA sessão pública ocorrerá em 25/06/2024 às 9h30."),
	}, nil)

	opts := testOptions()
	opts.Documents = true
	p := newTestPipeline(t, opts, st, portal, nil)

	res, err := p.Run(ctx, Request{Mode: model.RunModeFull})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Report.Totals.Valid)
	assert.Equal(t, 1, res.Report.Usage.Documents)
	portal.AssertNotCalled(t, "Download", mock.Anything, docURL+"-anexo")

	rec, err := st.GetAuction(ctx, idA)
	require.NoError(t, err)
	require.NotNil(t, rec.AuctionDate)
	assert.True(t, rec.AuctionDate.Equal(time.Date(2024, 6, 25, 9, 30, 0, 0, brt)))
	assert.Equal(t, "document", rec.Sources[model.FieldAuctionDate])
	require.NotNil(t, rec.DocumentRef)
	assert.Equal(t, docURL, *rec.DocumentRef)
}

func TestRun_DryRunWritesNothingButRunRecords(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	portal := &mockPortal{}
	portal.On("Search", mock.Anything, mock.Anything).Return(page(itemA(), itemB()), nil)
	portal.On("Detail", mock.Anything, keyA).Return(detailA(), nil)
	portal.On("Detail", mock.Anything, keyB).Return(nil, eris.Wrap(pncp.ErrNotFound, "pncp: detail"))
	p := newTestPipeline(t, testOptions(), st, portal, nil)

	res, err := p.Run(ctx, Request{Mode: model.RunModeFull, DryRun: true})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Report.Totals.Processed)

	exists, err := st.AuctionExists(ctx, idA)
	require.NoError(t, err)
	assert.False(t, exists)
	entries, err := st.ListQuarantine(ctx, store.QuarantineFilter{RunID: res.Run.RunID})
	require.NoError(t, err)
	assert.Empty(t, entries)

	stored, err := st.GetRun(ctx, res.Run.RunID)
	require.NoError(t, err)
	assert.True(t, stored.DryRun)
	_, err = st.GetReport(ctx, res.Run.RunID)
	assert.NoError(t, err)
}

func TestRun_CancellationDropsUnroutedCandidates(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	st := newTestStore(t)

	portal := &mockPortal{}
	portal.On("Search", mock.Anything, mock.Anything).Return(page(itemA(), itemB()), nil)
	portal.On("Detail", mock.Anything, keyA).Run(func(mock.Arguments) { cancel() }).Return(detailA(), nil)
	portal.On("Detail", mock.Anything, keyB).Return(detailB(), nil)

	opts := testOptions()
	opts.Concurrency = 1
	p := newTestPipeline(t, opts, st, portal, nil)

	res, err := p.Run(ctx, Request{Mode: model.RunModeFull})
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusCancelled, res.Run.Status)
	assert.Equal(t, 2, res.Run.Counts.Cancelled)
	assert.Zero(t, res.Report.Totals.Processed)

	bg := context.Background()
	exists, err := st.AuctionExists(bg, idA)
	require.NoError(t, err)
	assert.False(t, exists, "a cancelled candidate is not persisted")

	stored, err := st.GetRun(bg, res.Run.RunID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusCancelled, stored.Status)
	_, err = st.GetReport(bg, res.Run.RunID)
	assert.NoError(t, err)
}

func TestRun_PanicIsRecoveredAsProcessingError(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	portal := &mockPortal{}
	portal.On("Search", mock.Anything, mock.Anything).Return(page(itemA(), itemB()), nil)
	portal.On("Detail", mock.Anything, keyA).Return(detailA(), nil)
	portal.On("Detail", mock.Anything, keyB).Return(detailB(), nil)
	p := newTestPipeline(t, testOptions(), st, portal, panicSummarizer{externalID: idA})

	res, err := p.Run(ctx, Request{Mode: model.RunModeFull})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Run.Counts.Errors)
	assert.Equal(t, 2, res.Report.Totals.Processed)
	assert.Equal(t, 1, res.Report.Totals.Valid)
	assert.Equal(t, 1, res.Report.Totals.Draft)

	entries, err := st.ListQuarantine(ctx, store.QuarantineFilter{RunID: res.Run.RunID})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, idA, entries[0].ExternalID)
	assert.Equal(t, model.ClassDraft, entries[0].Status)
	assert.True(t, model.ValidationResult{Errors: entries[0].Errors}.HasCode(model.CodeProcessingError))

	exists, err := st.AuctionExists(ctx, idB)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestRun_UnkeyedListingCountsAsError(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	unkeyed := itemA()
	unkeyed.ItemURL = "/editais/sem-numero"

	portal := &mockPortal{}
	portal.On("Search", mock.Anything, mock.Anything).Return(page(unkeyed, itemB()), nil)
	portal.On("Detail", mock.Anything, keyB).Return(detailB(), nil)
	p := newTestPipeline(t, testOptions(), st, portal, nil)

	res, err := p.Run(ctx, Request{Mode: model.RunModeIncremental})
	require.NoError(t, err)
	assert.Equal(t, model.RunCounts{Found: 2, New: 2, Errors: 1}, res.Run.Counts)
	assert.Equal(t, 1, res.Report.Totals.Processed)
}

func TestRun_LimitAndDeduplication(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	portal := &mockPortal{}
	portal.On("Search", mock.Anything, mock.Anything).Return(page(itemA(), itemA(), itemB()), nil)
	portal.On("Detail", mock.Anything, keyA).Return(detailA(), nil)
	p := newTestPipeline(t, testOptions(), st, portal, nil)

	res, err := p.Run(ctx, Request{Mode: model.RunModeFull, Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Run.Counts.Found)
	portal.AssertNotCalled(t, "Detail", mock.Anything, keyB)
}

func TestRun_SummarizerOutputAndUsage(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	portal := &mockPortal{}
	portal.On("Search", mock.Anything, mock.Anything).Return(page(itemA()), nil)
	portal.On("Detail", mock.Anything, keyA).Return(detailA(), nil)
	p := newTestPipeline(t, testOptions(), st, portal, staticSummarizer{summary: Summary{
		Text:         "Veículos inservíveis da frota",
		InputTokens:  120,
		OutputTokens: 9,
	}})

	res, err := p.Run(ctx, Request{Mode: model.RunModeFull})
	require.NoError(t, err)
	assert.Equal(t, int64(120), res.Report.Usage.SummaryInputTokens)
	assert.Equal(t, int64(9), res.Report.Usage.SummaryOutputTokens)
	assert.Greater(t, res.Report.CostUSD, 0.0)

	rec, err := st.GetAuction(ctx, idA)
	require.NoError(t, err)
	require.NotNil(t, rec.SummarizedObject)
	assert.Equal(t, "Veículos inservíveis da frota", *rec.SummarizedObject)
	assert.Equal(t, SourceLLM, rec.Sources[model.FieldSummarizedObject])
}

func TestRun_SummarizerFailureKeepsHeuristic(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	portal := &mockPortal{}
	portal.On("Search", mock.Anything, mock.Anything).Return(page(itemA()), nil)
	portal.On("Detail", mock.Anything, keyA).Return(detailA(), nil)
	p := newTestPipeline(t, testOptions(), st, portal, staticSummarizer{err: errors.New("overloaded")})

	res, err := p.Run(ctx, Request{Mode: model.RunModeFull})
	require.NoError(t, err)
	assert.Zero(t, res.Run.Counts.Errors)

	rec, err := st.GetAuction(ctx, idA)
	require.NoError(t, err)
	require.NotNil(t, rec.SummarizedObject)
	assert.Equal(t, "Alienação de veículos inservíveis", *rec.SummarizedObject)
	assert.Equal(t, "derived", rec.Sources[model.FieldSummarizedObject])
}

func TestRankDocuments(t *testing.T) {
	docs := rankDocuments([]pncp.Document{
		{Title: "Ata", URL: "u1", TypeName: "Ata", Active: true},
		{Title: "Edital antigo", URL: "u2", TypeName: "Edital", Active: false},
		{Title: "Edital", URL: "u3", TypeName: "Edital", Active: true},
		{Title: "Sem URL", TypeName: "Edital", Active: true},
	})
	require.Len(t, docs, 2)
	assert.Equal(t, "u3", docs[0].URL)
	assert.Equal(t, "u1", docs[1].URL)
}

func TestOptions_Window(t *testing.T) {
	opts := testOptions().withDefaults()
	from, to := opts.window(Request{})
	assert.True(t, to.Equal(testNow))
	assert.True(t, from.Equal(testNow.AddDate(0, 0, -30)))

	explicit := time.Date(2024, 1, 1, 0, 0, 0, 0, brt)
	from, _ = opts.window(Request{From: explicit})
	assert.True(t, from.Equal(explicit))
}

func errorStrings(errs []model.ValidationError) []string {
	out := make([]string, len(errs))
	for i, e := range errs {
		out[i] = e.String()
	}
	return out
}
