package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/hazmat-radar/internal/model"
)

// timeLayout is fixed width so stored timestamps compare correctly as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// SQLiteStore implements Store using modernc.org/sqlite through sqlx.
type SQLiteStore struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// One connection: the pragmas below are per connection, and concurrent
	// writers would otherwise fail with SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id                TEXT PRIMARY KEY,
	stage             TEXT NOT NULL,
	month             TEXT NOT NULL DEFAULT '',
	status            TEXT NOT NULL DEFAULT 'running',
	started_at        TEXT NOT NULL,
	completed_at      TEXT,
	revisions         INTEGER NOT NULL DEFAULT 0,
	records           INTEGER NOT NULL DEFAULT 0,
	skipped_rows      INTEGER NOT NULL DEFAULT 0,
	skipped_revisions INTEGER NOT NULL DEFAULT 0,
	error             TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS discoveries (
	report_number TEXT PRIMARY KEY,
	file          TEXT NOT NULL,
	revision      TEXT NOT NULL,
	discovered_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
CREATE INDEX IF NOT EXISTS idx_runs_stage ON runs(stage);
CREATE INDEX IF NOT EXISTS idx_discoveries_discovered_at ON discoveries(discovered_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// StartRun records the beginning of a stage run and returns its ID.
func (s *SQLiteStore) StartRun(ctx context.Context, stage model.Stage, month string) (string, error) {
	id := uuid.New().String()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, stage, month, status, started_at) VALUES (?, ?, ?, ?, ?)`,
		id, string(stage), month, string(model.RunStatusRunning), formatTime(s.now()),
	)
	if err != nil {
		return "", eris.Wrapf(err, "sqlite: start %s run", stage)
	}
	return id, nil
}

// CompleteRun marks a run as complete with its counters.
func (s *SQLiteStore) CompleteRun(ctx context.Context, runID string, result model.RunResult) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, completed_at = ?, revisions = ?, records = ?,
		 skipped_rows = ?, skipped_revisions = ? WHERE id = ?`,
		string(model.RunStatusComplete), formatTime(s.now()),
		result.Revisions, result.Records, result.SkippedRows, result.SkippedRevisions, runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete run %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

// FailRun marks a run as failed with an error message.
func (s *SQLiteStore) FailRun(ctx context.Context, runID string, errMsg string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, completed_at = ?, error = ? WHERE id = ?`,
		string(model.RunStatusFailed), formatTime(s.now()), errMsg, runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: fail run %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

type runRow struct {
	ID               string         `db:"id"`
	Stage            string         `db:"stage"`
	Month            string         `db:"month"`
	Status           string         `db:"status"`
	StartedAt        string         `db:"started_at"`
	CompletedAt      sql.NullString `db:"completed_at"`
	Revisions        int            `db:"revisions"`
	Records          int            `db:"records"`
	SkippedRows      int            `db:"skipped_rows"`
	SkippedRevisions int            `db:"skipped_revisions"`
	Error            string         `db:"error"`
}

func (r runRow) toModel() (model.Run, error) {
	started, err := parseTime(r.StartedAt)
	if err != nil {
		return model.Run{}, err
	}
	run := model.Run{
		ID:               r.ID,
		Stage:            model.Stage(r.Stage),
		Month:            r.Month,
		Status:           model.RunStatus(r.Status),
		StartedAt:        started,
		Revisions:        r.Revisions,
		Records:          r.Records,
		SkippedRows:      r.SkippedRows,
		SkippedRevisions: r.SkippedRevisions,
		Error:            r.Error,
	}
	if r.CompletedAt.Valid {
		done, err := parseTime(r.CompletedAt.String)
		if err != nil {
			return model.Run{}, err
		}
		run.CompletedAt = &done
	}
	return run, nil
}

// ListRuns returns runs most recent first.
func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT * FROM runs WHERE 1=1`
	var args []any

	if filter.Stage != "" {
		query += ` AND stage = ?`
		args = append(args, string(filter.Stage))
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY started_at DESC, rowid DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	var rows []runRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}

	runs := make([]model.Run, 0, len(rows))
	for _, r := range rows {
		run, err := r.toModel()
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, nil
}

type discoveryRow struct {
	ReportNumber string `db:"report_number"`
	File         string `db:"file"`
	Revision     string `db:"revision"`
	DiscoveredAt string `db:"discovered_at"`
}

// MergeDiscoveries upserts records in one transaction. An existing row is
// replaced only by a strictly earlier discovery.
func (s *SQLiteStore) MergeDiscoveries(ctx context.Context, records []model.Discovery) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin merge")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PreparexContext(ctx, `
		INSERT INTO discoveries (report_number, file, revision, discovered_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(report_number) DO UPDATE SET
			file = excluded.file,
			revision = excluded.revision,
			discovered_at = excluded.discovered_at
		WHERE excluded.discovered_at < discoveries.discovered_at`)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prepare merge")
	}
	defer stmt.Close() //nolint:errcheck

	changed := 0
	for _, d := range records {
		res, err := stmt.ExecContext(ctx, string(d.ReportNumber), d.File, d.Revision, formatTime(d.Timestamp))
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: merge %s", d.ReportNumber)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, eris.Wrap(err, "sqlite: rows affected")
		}
		changed += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit merge")
	}
	return changed, nil
}

// RecentDiscoveries returns records discovered at or after since, newest first.
func (s *SQLiteStore) RecentDiscoveries(ctx context.Context, since time.Time, limit int) ([]model.Discovery, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []discoveryRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT report_number, file, revision, discovered_at FROM discoveries
		 WHERE discovered_at >= ? ORDER BY discovered_at DESC, report_number LIMIT ?`,
		formatTime(since), limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: recent discoveries")
	}

	out := make([]model.Discovery, 0, len(rows))
	for _, r := range rows {
		ts, err := parseTime(r.DiscoveredAt)
		if err != nil {
			return nil, err
		}
		out = append(out, model.Discovery{
			ReportNumber: model.Key(r.ReportNumber),
			File:         r.File,
			Revision:     r.Revision,
			Timestamp:    ts,
		})
	}
	return out, nil
}

// CountDiscoveries returns the number of indexed report numbers.
func (s *SQLiteStore) CountDiscoveries(ctx context.Context) (int, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM discoveries`); err != nil {
		return 0, eris.Wrap(err, "sqlite: count discoveries")
	}
	return n, nil
}

// helpers

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, eris.Wrapf(err, "sqlite: parse time %q", s)
	}
	return t, nil
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}
