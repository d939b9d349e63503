package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/auction-ingest/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. It backs local
// runs and tests.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// One connection serializes writers and keeps the pragmas in effect.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS auctions (
	external_id  TEXT PRIMARY KEY,
	title        TEXT,
	region       TEXT,
	auction_date DATETIME,
	record       TEXT NOT NULL,
	run_id       TEXT NOT NULL,
	created_at   DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at   DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS quarantine (
	run_id            TEXT NOT NULL,
	external_id       TEXT NOT NULL,
	status            TEXT NOT NULL,
	errors            TEXT NOT NULL DEFAULT '[]',
	raw_record        TEXT,
	normalized_record TEXT,
	created_at        DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at        DATETIME NOT NULL DEFAULT (datetime('now')),
	PRIMARY KEY (run_id, external_id)
);

CREATE INDEX IF NOT EXISTS idx_quarantine_status ON quarantine(status);

CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	mode        TEXT NOT NULL,
	status      TEXT NOT NULL DEFAULT 'running',
	dry_run     INTEGER NOT NULL DEFAULT 0,
	started_at  DATETIME NOT NULL DEFAULT (datetime('now')),
	finished_at DATETIME,
	counts      TEXT NOT NULL DEFAULT '{}',
	quality     TEXT NOT NULL DEFAULT '{}',
	duration_ms INTEGER NOT NULL DEFAULT 0,
	cost_usd    REAL NOT NULL DEFAULT 0,
	error       TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);

CREATE TABLE IF NOT EXISTS quality_reports (
	run_id     TEXT PRIMARY KEY REFERENCES runs(id),
	report     TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS pipeline_events (
	seq         INTEGER PRIMARY KEY AUTOINCREMENT,
	id          TEXT NOT NULL UNIQUE,
	run_id      TEXT NOT NULL,
	stage       TEXT NOT NULL,
	event       TEXT NOT NULL,
	level       TEXT NOT NULL DEFAULT 'info',
	message     TEXT NOT NULL DEFAULT '',
	external_id TEXT NOT NULL DEFAULT '',
	counters    TEXT NOT NULL DEFAULT '{}',
	created_at  DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_pipeline_events_run_id ON pipeline_events(run_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Catalog ---

func (s *SQLiteStore) UpsertAuction(ctx context.Context, runID string, rec *model.NormalizedRecord) error {
	if rec == nil || rec.ExternalID == "" {
		return eris.New("sqlite: upsert auction: missing external id")
	}
	recJSON, err := json.Marshal(rec)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal record")
	}
	var auctionDate any
	if rec.AuctionDate != nil {
		auctionDate = rec.AuctionDate.UTC()
	}
	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO auctions (external_id, title, region, auction_date, record, run_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (external_id) DO UPDATE SET
			title = excluded.title,
			region = excluded.region,
			auction_date = excluded.auction_date,
			record = excluded.record,
			run_id = excluded.run_id,
			updated_at = excluded.updated_at`,
		rec.ExternalID, rec.Title, rec.Region, auctionDate, string(recJSON), runID, now, now,
	)
	return eris.Wrapf(err, "sqlite: upsert auction %s", rec.ExternalID)
}

func (s *SQLiteStore) GetAuction(ctx context.Context, externalID string) (*model.NormalizedRecord, error) {
	var recJSON string
	err := s.db.QueryRowContext(ctx, `SELECT record FROM auctions WHERE external_id = ?`, externalID).Scan(&recJSON)
	if err == sql.ErrNoRows {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: get auction %s", externalID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get auction %s", externalID)
	}
	var rec model.NormalizedRecord
	if err := json.Unmarshal([]byte(recJSON), &rec); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal record")
	}
	return &rec, nil
}

func (s *SQLiteStore) AuctionExists(ctx context.Context, externalID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM auctions WHERE external_id = ?`, externalID).Scan(&n)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: auction exists %s", externalID)
	}
	return n > 0, nil
}

// --- Quarantine ---

func (s *SQLiteStore) UpsertQuarantine(ctx context.Context, entry *model.QuarantineEntry) error {
	j, err := marshalQuarantine(entry)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO quarantine (run_id, external_id, status, errors, raw_record, normalized_record, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (run_id, external_id) DO UPDATE SET
			status = excluded.status,
			errors = excluded.errors,
			raw_record = excluded.raw_record,
			normalized_record = excluded.normalized_record,
			updated_at = excluded.updated_at`,
		entry.RunID, entry.ExternalID, string(entry.Status),
		string(j.errors), string(j.raw), string(j.normalized), now, now,
	)
	return eris.Wrapf(err, "sqlite: upsert quarantine %s/%s", entry.RunID, entry.ExternalID)
}

func (s *SQLiteStore) ListQuarantine(ctx context.Context, filter QuarantineFilter) ([]model.QuarantineEntry, error) {
	query := `SELECT run_id, external_id, status, errors, raw_record, normalized_record, created_at, updated_at FROM quarantine WHERE 1=1`
	args := []any{}
	if filter.RunID != "" {
		query += ` AND run_id = ?`
		args = append(args, filter.RunID)
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY updated_at DESC, external_id LIMIT ? OFFSET ?`
	args = append(args, listLimit(filter.Limit), filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list quarantine")
	}
	defer rows.Close()

	var out []model.QuarantineEntry
	for rows.Next() {
		var e model.QuarantineEntry
		var status, errs string
		var raw, normalized sql.NullString
		if err := rows.Scan(&e.RunID, &e.ExternalID, &status, &errs, &raw, &normalized, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan quarantine")
		}
		e.Status = model.Classification(status)
		j := quarantineJSON{errors: []byte(errs), raw: []byte(raw.String), normalized: []byte(normalized.String)}
		if err := unmarshalQuarantine(&e, j); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate quarantine")
}

// --- Runs ---

func (s *SQLiteStore) CreateRun(ctx context.Context, run *model.RunExecution) error {
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
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (id, mode, status, dry_run, started_at, counts, quality) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.RunID, string(run.Mode), string(run.Status), run.DryRun, run.StartedAt.UTC(), string(counts), string(quality),
	)
	return eris.Wrapf(err, "sqlite: insert run %s", run.RunID)
}

func (s *SQLiteStore) FinishRun(ctx context.Context, run *model.RunExecution) error {
	if !run.Closed() || run.FinishedAt == nil {
		return eris.Errorf("sqlite: finish run %s: status %s is not terminal", run.RunID, run.Status)
	}
	counts, quality, err := marshalRunCounts(run)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, finished_at = ?, counts = ?, quality = ?, duration_ms = ?, cost_usd = ?, error = ?
		 WHERE id = ? AND status = 'running'`,
		string(run.Status), run.FinishedAt.UTC(), string(counts), string(quality),
		run.DurationMS, run.CostUSD, run.Error, run.RunID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: finish run %s", run.RunID)
	}
	if err := checkRowsAffected(res); err != nil {
		return eris.Wrapf(err, "sqlite: finish run %s", run.RunID)
	}
	return nil
}

const sqliteSelectRun = `SELECT id, mode, status, dry_run, started_at, finished_at, counts, quality, duration_ms, cost_usd, error FROM runs`

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.RunExecution, error) {
	r, err := scanRun(s.db.QueryRowContext(ctx, sqliteSelectRun+` WHERE id = ?`, runID))
	if err == sql.ErrNoRows {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: get run %s", runID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get run %s", runID)
	}
	return r, nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.RunExecution, error) {
	query := sqliteSelectRun + ` WHERE 1=1`
	args := []any{}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if !filter.Since.IsZero() {
		query += ` AND started_at >= ?`
		args = append(args, filter.Since.UTC())
	}
	query += ` ORDER BY started_at DESC LIMIT ? OFFSET ?`
	args = append(args, listLimit(filter.Limit), filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []model.RunExecution
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: iterate runs")
}

// --- Reports ---

func (s *SQLiteStore) InsertReport(ctx context.Context, report *model.QualityReport) error {
	if report.CreatedAt.IsZero() {
		report.CreatedAt = time.Now().UTC()
	}
	reportJSON, err := json.Marshal(report)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal report")
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO quality_reports (run_id, report, created_at) VALUES (?, ?, ?) ON CONFLICT (run_id) DO NOTHING`,
		report.RunID, string(reportJSON), report.CreatedAt.UTC(),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: insert report %s", report.RunID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrReportExists, "sqlite: insert report %s", report.RunID)
	}
	return nil
}

func (s *SQLiteStore) GetReport(ctx context.Context, runID string) (*model.QualityReport, error) {
	var reportJSON string
	err := s.db.QueryRowContext(ctx, `SELECT report FROM quality_reports WHERE run_id = ?`, runID).Scan(&reportJSON)
	if err == sql.ErrNoRows {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: get report %s", runID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get report %s", runID)
	}
	var rep model.QualityReport
	if err := json.Unmarshal([]byte(reportJSON), &rep); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal report")
	}
	return &rep, nil
}

// --- Events ---

// AppendEvents writes the batch in one transaction.
func (s *SQLiteStore) AppendEvents(ctx context.Context, events []model.PipelineEvent) error {
	if len(events) == 0 {
		return nil
	}
	prepareEvents(events)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: append events: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO pipeline_events (id, run_id, stage, event, level, message, external_id, counters, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return eris.Wrap(err, "sqlite: append events: prepare")
	}
	defer stmt.Close()

	for _, ev := range events {
		counters, err := marshalCounters(ev.Counters)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, ev.ID, ev.RunID, ev.Stage, string(ev.Event), ev.Level,
			ev.Message, ev.ExternalID, string(counters), ev.CreatedAt); err != nil {
			return eris.Wrapf(err, "sqlite: append event %s", ev.ID)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: append events: commit")
}

func (s *SQLiteStore) ListEvents(ctx context.Context, runID string) ([]model.PipelineEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, stage, event, level, message, external_id, counters, created_at
		 FROM pipeline_events WHERE run_id = ? ORDER BY seq`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list events %s", runID)
	}
	defer rows.Close()

	var out []model.PipelineEvent
	for rows.Next() {
		var ev model.PipelineEvent
		var kind, counters string
		if err := rows.Scan(&ev.ID, &ev.RunID, &ev.Stage, &kind, &ev.Level, &ev.Message, &ev.ExternalID, &counters, &ev.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan event")
		}
		ev.Event = model.EventKind(kind)
		if ev.Counters, err = unmarshalCounters([]byte(counters)); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate events")
}

// helpers

func checkRowsAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return ErrRunClosed
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRun(row scannable) (*model.RunExecution, error) {
	var r model.RunExecution
	var mode, status, counts, quality string
	var finished sql.NullTime

	err := row.Scan(&r.RunID, &mode, &status, &r.DryRun, &r.StartedAt, &finished,
		&counts, &quality, &r.DurationMS, &r.CostUSD, &r.Error)
	if err != nil {
		return nil, err
	}
	r.Mode = model.RunMode(mode)
	r.Status = model.RunStatus(status)
	if finished.Valid {
		t := finished.Time
		r.FinishedAt = &t
	}
	if err := unmarshalRunCounts(&r, []byte(counts), []byte(quality)); err != nil {
		return nil, err
	}
	return &r, nil
}
