package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/auction-ingest/internal/db"
	"github.com/sells-group/auction-ingest/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

var (
	upsertAuctionSQL = db.MustUpsertSQL(db.UpsertConfig{
		Table:        "auctions",
		Columns:      []string{"external_id", "title", "region", "auction_date", "record", "run_id", "created_at", "updated_at"},
		ConflictKeys: []string{"external_id"},
		UpdateCols:   []string{"title", "region", "auction_date", "record", "run_id", "updated_at"},
	})
	upsertQuarantineSQL = db.MustUpsertSQL(db.UpsertConfig{
		Table:        "quarantine",
		Columns:      []string{"run_id", "external_id", "status", "errors", "raw_record", "normalized_record", "created_at", "updated_at"},
		ConflictKeys: []string{"run_id", "external_id"},
		UpdateCols:   []string{"status", "errors", "raw_record", "normalized_record", "updated_at"},
	})
	insertReportSQL = db.MustUpsertSQL(db.UpsertConfig{
		Table:        "quality_reports",
		Columns:      []string{"run_id", "report", "created_at"},
		ConflictKeys: []string{"run_id"},
		UpdateCols:   []string{},
	})
)

const (
	selectRunSQL = `SELECT id, mode, status, dry_run, started_at, finished_at, counts, quality, duration_ms, cost_usd, error FROM runs`

	finishRunSQL = `UPDATE runs SET status = $1, finished_at = $2, counts = $3, quality = $4, duration_ms = $5, cost_usd = $6, error = $7 WHERE id = $8 AND status = 'running'`
)

var eventColumns = []string{"id", "run_id", "stage", "event", "level", "message", "external_id", "counters", "created_at"}

// preparedStatements lists queries to prepare on each new connection. The
// per-candidate statements run once or twice for every listing.
var preparedStatements = map[string]string{
	"auction_exists":    `SELECT EXISTS(SELECT 1 FROM auctions WHERE external_id = $1)`,
	"upsert_auction":    upsertAuctionSQL,
	"upsert_quarantine": upsertQuarantineSQL,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS auctions (
	external_id  TEXT PRIMARY KEY,
	title        TEXT,
	region       TEXT,
	auction_date TIMESTAMPTZ,
	record       JSONB NOT NULL,
	run_id       TEXT NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_auctions_region_date ON auctions(region, auction_date);

CREATE TABLE IF NOT EXISTS quarantine (
	run_id            TEXT NOT NULL,
	external_id       TEXT NOT NULL,
	status            TEXT NOT NULL,
	errors            JSONB NOT NULL DEFAULT '[]',
	raw_record        JSONB,
	normalized_record JSONB,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (run_id, external_id)
);

CREATE INDEX IF NOT EXISTS idx_quarantine_status ON quarantine(status);

CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	mode        TEXT NOT NULL,
	status      TEXT NOT NULL DEFAULT 'running',
	dry_run     BOOLEAN NOT NULL DEFAULT false,
	started_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	finished_at TIMESTAMPTZ,
	counts      JSONB NOT NULL DEFAULT '{}',
	quality     JSONB NOT NULL DEFAULT '{}',
	duration_ms BIGINT NOT NULL DEFAULT 0,
	cost_usd    DOUBLE PRECISION NOT NULL DEFAULT 0,
	error       TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);

CREATE TABLE IF NOT EXISTS quality_reports (
	run_id     TEXT PRIMARY KEY REFERENCES runs(id),
	report     JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS pipeline_events (
	seq         BIGSERIAL PRIMARY KEY,
	id          TEXT NOT NULL UNIQUE,
	run_id      TEXT NOT NULL,
	stage       TEXT NOT NULL,
	event       TEXT NOT NULL,
	level       TEXT NOT NULL DEFAULT 'info',
	message     TEXT NOT NULL DEFAULT '',
	external_id TEXT NOT NULL DEFAULT '',
	counters    JSONB NOT NULL DEFAULT '{}',
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_pipeline_events_run_id ON pipeline_events(run_id);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// --- Catalog ---

func (s *PostgresStore) UpsertAuction(ctx context.Context, runID string, rec *model.NormalizedRecord) error {
	if rec == nil || rec.ExternalID == "" {
		return eris.New("postgres: upsert auction: missing external id")
	}
	recJSON, err := json.Marshal(rec)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal record")
	}
	now := time.Now().UTC()
	_, err = s.pool.Exec(ctx, upsertAuctionSQL,
		rec.ExternalID, rec.Title, rec.Region, rec.AuctionDate, recJSON, runID, now, now,
	)
	return eris.Wrapf(err, "postgres: upsert auction %s", rec.ExternalID)
}

func (s *PostgresStore) GetAuction(ctx context.Context, externalID string) (*model.NormalizedRecord, error) {
	var recJSON []byte
	err := s.pool.QueryRow(ctx, `SELECT record FROM auctions WHERE external_id = $1`, externalID).Scan(&recJSON)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: get auction %s", externalID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get auction %s", externalID)
	}
	var rec model.NormalizedRecord
	if err := json.Unmarshal(recJSON, &rec); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal record")
	}
	return &rec, nil
}

func (s *PostgresStore) AuctionExists(ctx context.Context, externalID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM auctions WHERE external_id = $1)`, externalID,
	).Scan(&exists)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: auction exists %s", externalID)
	}
	return exists, nil
}

// --- Quarantine ---

func (s *PostgresStore) UpsertQuarantine(ctx context.Context, entry *model.QuarantineEntry) error {
	j, err := marshalQuarantine(entry)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	_, err = s.pool.Exec(ctx, upsertQuarantineSQL,
		entry.RunID, entry.ExternalID, string(entry.Status), j.errors, j.raw, j.normalized, now, now,
	)
	return eris.Wrapf(err, "postgres: upsert quarantine %s/%s", entry.RunID, entry.ExternalID)
}

func (s *PostgresStore) ListQuarantine(ctx context.Context, filter QuarantineFilter) ([]model.QuarantineEntry, error) {
	query := `SELECT run_id, external_id, status, errors, raw_record, normalized_record, created_at, updated_at FROM quarantine WHERE true`
	args := []any{}
	argIdx := 1

	if filter.RunID != "" {
		query += fmt.Sprintf(` AND run_id = $%d`, argIdx)
		args = append(args, filter.RunID)
		argIdx++
	}
	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	query += fmt.Sprintf(` ORDER BY updated_at DESC, external_id LIMIT $%d`, argIdx)
	args = append(args, listLimit(filter.Limit))
	argIdx++
	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list quarantine")
	}
	defer rows.Close()

	var out []model.QuarantineEntry
	for rows.Next() {
		var e model.QuarantineEntry
		var status string
		var j quarantineJSON
		if err := rows.Scan(&e.RunID, &e.ExternalID, &status, &j.errors, &j.raw, &j.normalized, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan quarantine")
		}
		e.Status = model.Classification(status)
		if err := unmarshalQuarantine(&e, j); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate quarantine")
}

// --- Runs ---

func (s *PostgresStore) CreateRun(ctx context.Context, run *model.RunExecution) error {
	if run.RunID == "" {
		run.RunID = uuid.NewString()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	run.Status = model.RunStatusRunning

	counts, quality, err := marshalRunCounts(run)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO runs (id, mode, status, dry_run, started_at, counts, quality) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		run.RunID, string(run.Mode), string(run.Status), run.DryRun, run.StartedAt.UTC(), counts, quality,
	)
	return eris.Wrapf(err, "postgres: insert run %s", run.RunID)
}

func (s *PostgresStore) FinishRun(ctx context.Context, run *model.RunExecution) error {
	if !run.Closed() || run.FinishedAt == nil {
		return eris.Errorf("postgres: finish run %s: status %s is not terminal", run.RunID, run.Status)
	}
	counts, quality, err := marshalRunCounts(run)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, finishRunSQL,
		string(run.Status), run.FinishedAt.UTC(), counts, quality, run.DurationMS, run.CostUSD, run.Error, run.RunID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: finish run %s", run.RunID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrRunClosed, "postgres: finish run %s", run.RunID)
	}
	return nil
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.RunExecution, error) {
	r, err := scanPostgresRun(s.pool.QueryRow(ctx, selectRunSQL+` WHERE id = $1`, runID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: get run %s", runID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}
	return r, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.RunExecution, error) {
	query := selectRunSQL + ` WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if !filter.Since.IsZero() {
		query += fmt.Sprintf(` AND started_at >= $%d`, argIdx)
		args = append(args, filter.Since.UTC())
		argIdx++
	}
	query += fmt.Sprintf(` ORDER BY started_at DESC LIMIT $%d`, argIdx)
	args = append(args, listLimit(filter.Limit))
	argIdx++
	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.RunExecution
	for rows.Next() {
		r, err := scanPostgresRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: iterate runs")
}

func scanPostgresRun(row pgx.Row) (*model.RunExecution, error) {
	var r model.RunExecution
	var mode, status string
	var counts, quality []byte
	err := row.Scan(&r.RunID, &mode, &status, &r.DryRun, &r.StartedAt, &r.FinishedAt,
		&counts, &quality, &r.DurationMS, &r.CostUSD, &r.Error)
	if err != nil {
		return nil, err
	}
	r.Mode = model.RunMode(mode)
	r.Status = model.RunStatus(status)
	if err := unmarshalRunCounts(&r, counts, quality); err != nil {
		return nil, err
	}
	return &r, nil
}

// --- Reports ---

func (s *PostgresStore) InsertReport(ctx context.Context, report *model.QualityReport) error {
	if report.CreatedAt.IsZero() {
		report.CreatedAt = time.Now().UTC()
	}
	reportJSON, err := json.Marshal(report)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal report")
	}
	tag, err := s.pool.Exec(ctx, insertReportSQL, report.RunID, reportJSON, report.CreatedAt.UTC())
	if err != nil {
		return eris.Wrapf(err, "postgres: insert report %s", report.RunID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrReportExists, "postgres: insert report %s", report.RunID)
	}
	return nil
}

func (s *PostgresStore) GetReport(ctx context.Context, runID string) (*model.QualityReport, error) {
	var reportJSON []byte
	err := s.pool.QueryRow(ctx, `SELECT report FROM quality_reports WHERE run_id = $1`, runID).Scan(&reportJSON)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: get report %s", runID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get report %s", runID)
	}
	var rep model.QualityReport
	if err := json.Unmarshal(reportJSON, &rep); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal report")
	}
	return &rep, nil
}

// --- Events ---

// AppendEvents writes the batch with COPY.
func (s *PostgresStore) AppendEvents(ctx context.Context, events []model.PipelineEvent) error {
	if len(events) == 0 {
		return nil
	}
	prepareEvents(events)
	rows := make([][]any, 0, len(events))
	for _, ev := range events {
		counters, err := marshalCounters(ev.Counters)
		if err != nil {
			return err
		}
		rows = append(rows, []any{
			ev.ID, ev.RunID, ev.Stage, string(ev.Event), ev.Level, ev.Message, ev.ExternalID, counters, ev.CreatedAt,
		})
	}
	_, err := db.CopyFrom(ctx, s.pool, "pipeline_events", eventColumns, rows)
	return eris.Wrap(err, "postgres: append events")
}

func (s *PostgresStore) ListEvents(ctx context.Context, runID string) ([]model.PipelineEvent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, run_id, stage, event, level, message, external_id, counters, created_at FROM pipeline_events WHERE run_id = $1 ORDER BY seq`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list events %s", runID)
	}
	defer rows.Close()

	var out []model.PipelineEvent
	for rows.Next() {
		var ev model.PipelineEvent
		var kind string
		var counters []byte
		if err := rows.Scan(&ev.ID, &ev.RunID, &ev.Stage, &kind, &ev.Level, &ev.Message, &ev.ExternalID, &counters, &ev.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan event")
		}
		ev.Event = model.EventKind(kind)
		if ev.Counters, err = unmarshalCounters(counters); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate events")
}
