package store

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/auction-ingest/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

func anyArgs(n int) []any {
	args := make([]any, n)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}
	return args
}

func TestPostgresStore_Migrate(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS auctions`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertAuction(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(regexp.QuoteMeta(upsertAuctionSQL)).
		WithArgs(anyArgs(8)...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.UpsertAuction(context.Background(), "run-1", testRecord("00394460000141-1-000123/2024"))
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_AuctionExists(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT EXISTS\(SELECT 1 FROM auctions WHERE external_id = \$1\)`).
		WithArgs("x-1-000001/2024").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

	exists, err := s.AuctionExists(context.Background(), "x-1-000001/2024")
	require.NoError(t, err)
	assert.True(t, exists)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetAuction_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT record FROM auctions WHERE external_id = \$1`).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetAuction(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertQuarantine(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO "quarantine" .* ON CONFLICT \("run_id", "external_id"\) DO UPDATE`).
		WithArgs("run-1", "x-1-000001/2024", "DRAFT", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.UpsertQuarantine(context.Background(), &model.QuarantineEntry{
		RunID: "run-1", ExternalID: "x-1-000001/2024", Status: model.ClassDraft,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateRun(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO runs \(id, mode, status, dry_run, started_at, counts, quality\)`).
		WithArgs(pgxmock.AnyArg(), "FULL", "running", false, pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	run := &model.RunExecution{Mode: model.RunModeFull}
	require.NoError(t, s.CreateRun(context.Background(), run))
	assert.NotEmpty(t, run.RunID)
	assert.Equal(t, model.RunStatusRunning, run.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FinishRun_AlreadyClosed(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(regexp.QuoteMeta(finishRunSQL)).
		WithArgs(anyArgs(8)...).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	run := &model.RunExecution{RunID: "run-1", Mode: model.RunModeFull, StartedAt: time.Now()}
	run.Close(model.RunStatusComplete, time.Now())
	err := s.FinishRun(context.Background(), run)
	assert.ErrorIs(t, err, ErrRunClosed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetRun(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	started := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	finished := started.Add(time.Minute)

	rows := pgxmock.NewRows([]string{"id", "mode", "status", "dry_run", "started_at", "finished_at", "counts", "quality", "duration_ms", "cost_usd", "error"}).
		AddRow("run-1", "FULL", "complete", false, started, &finished,
			[]byte(`{"found":3,"new":3}`), []byte(`{"processed":3,"valid":2,"quarantined":1}`),
			int64(60000), 0.25, "")
	mock.ExpectQuery(`SELECT id, mode, status, .* FROM runs WHERE id = \$1`).
		WithArgs("run-1").
		WillReturnRows(rows)

	run, err := s.GetRun(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, model.RunModeFull, run.Mode)
	assert.Equal(t, model.RunStatusComplete, run.Status)
	assert.Equal(t, 3, run.Counts.Found)
	assert.Equal(t, 2, run.Quality.Valid)
	require.NotNil(t, run.FinishedAt)
	assert.Equal(t, finished, *run.FinishedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetRun_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM runs WHERE id = \$1`).
		WithArgs("nonexistent-run").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetRun(context.Background(), "nonexistent-run")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), "get run")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListRuns_Filters(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	since := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`FROM runs WHERE true AND status = \$1 AND started_at >= \$2 ORDER BY started_at DESC LIMIT \$3 OFFSET \$4`).
		WithArgs("failed", since, 10, 20).
		WillReturnRows(pgxmock.NewRows([]string{"id", "mode", "status", "dry_run", "started_at", "finished_at", "counts", "quality", "duration_ms", "cost_usd", "error"}))

	runs, err := s.ListRuns(context.Background(), RunFilter{Status: model.RunStatusFailed, Since: since, Limit: 10, Offset: 20})
	require.NoError(t, err)
	assert.Empty(t, runs)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_InsertReport_Exists(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO "quality_reports" .* ON CONFLICT \("run_id"\) DO NOTHING`).
		WithArgs("run-1", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	err := s.InsertReport(context.Background(), &model.QualityReport{RunID: "run-1"})
	assert.ErrorIs(t, err, ErrReportExists)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_AppendEvents(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectCopyFrom(pgx.Identifier{"pipeline_events"}, eventColumns).WillReturnResult(2)

	events := []model.PipelineEvent{
		{RunID: "run-1", Stage: model.StageRun, Event: model.EventStart},
		{RunID: "run-1", Stage: model.StageRun, Event: model.EventSuccess},
	}
	require.NoError(t, s.AppendEvents(context.Background(), events))
	assert.NotEmpty(t, events[0].ID)
	assert.False(t, events[1].CreatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}
