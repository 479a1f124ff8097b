package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/email-sleuth/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
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
CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	status      TEXT NOT NULL DEFAULT 'running',
	source      TEXT NOT NULL DEFAULT '',
	total       INTEGER NOT NULL DEFAULT 0,
	found       INTEGER NOT NULL DEFAULT 0,
	skipped     INTEGER NOT NULL DEFAULT 0,
	failed      INTEGER NOT NULL DEFAULT 0,
	started_at  DATETIME NOT NULL,
	finished_at DATETIME
);

CREATE TABLE IF NOT EXISTS contact_results (
	run_id       TEXT NOT NULL REFERENCES runs(id),
	idx          INTEGER NOT NULL,
	email        TEXT,
	confidence   INTEGER NOT NULL DEFAULT 0,
	skipped      INTEGER NOT NULL DEFAULT 0,
	error        TEXT,
	result       TEXT NOT NULL,
	processed_at DATETIME NOT NULL,
	PRIMARY KEY (run_id, idx)
);

CREATE TABLE IF NOT EXISTS mx_cache (
	domain      TEXT PRIMARY KEY,
	hosts       TEXT NOT NULL,
	fallback    INTEGER NOT NULL DEFAULT 0,
	resolved_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateRun(ctx context.Context, run *model.Run) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, status, source, total, started_at) VALUES (?, ?, ?, ?, ?)`,
		run.ID, string(run.Status), run.Source, run.Total, run.StartedAt.UTC(),
	)
	return eris.Wrapf(err, "sqlite: insert run %s", run.ID)
}

func (s *SQLiteStore) SaveResult(ctx context.Context, runID string, res *model.ContactResult) error {
	resultJSON, err := json.Marshal(res)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal result")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO contact_results (run_id, idx, email, confidence, skipped, error, result, processed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (run_id, idx) DO UPDATE SET
			email = excluded.email, confidence = excluded.confidence, skipped = excluded.skipped,
			error = excluded.error, result = excluded.result, processed_at = excluded.processed_at`,
		runID, res.Index, res.Email, res.Score, res.Skipped, res.Error, string(resultJSON), res.ProcessedAt.UTC(),
	)
	return eris.Wrapf(err, "sqlite: save result %s/%d", runID, res.Index)
}

func (s *SQLiteStore) CompleteRun(ctx context.Context, run *model.Run) error {
	var finished any
	if run.FinishedAt != nil {
		finished = run.FinishedAt.UTC()
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, found = ?, skipped = ?, failed = ?, finished_at = ? WHERE id = ?`,
		string(run.Status), run.Found, run.Skipped, run.Failed, finished, run.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete run %s", run.ID)
	}
	return checkRowsAffected(res, "run", run.ID)
}

const sqliteRunColumns = `id, status, source, total, found, skipped, failed, started_at, finished_at`

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteRunColumns+` FROM runs WHERE id = ?`, runID)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "run %s", runID)
	}
	return r, err
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter model.RunFilter) ([]model.Run, error) {
	query := `SELECT ` + sqliteRunColumns + ` FROM runs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY started_at DESC LIMIT ?`
	args = append(args, defaultLimit(filter.Limit))

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

func (s *SQLiteStore) ListResults(ctx context.Context, runID string) ([]*model.ContactResult, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT result FROM contact_results WHERE run_id = ? ORDER BY idx`, runID)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list results %s", runID)
	}
	defer rows.Close()

	var out []*model.ContactResult
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan result")
		}
		var res model.ContactResult
		if err := json.Unmarshal([]byte(raw), &res); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal result")
		}
		out = append(out, &res)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list results iterate")
}

func (s *SQLiteStore) GetCachedMX(ctx context.Context, domain string, maxAge time.Duration) (*model.MailExchangeSet, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT domain, hosts, fallback, resolved_at FROM mx_cache WHERE domain = ?`, domain)

	var (
		set       model.MailExchangeSet
		hostsJSON string
	)
	err := row.Scan(&set.Domain, &hostsJSON, &set.Fallback, &set.ResolvedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get cached mx")
	}
	if time.Since(set.ResolvedAt) > maxAge {
		return nil, nil
	}
	if err := json.Unmarshal([]byte(hostsJSON), &set.Hosts); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal cached hosts")
	}
	return &set, nil
}

func (s *SQLiteStore) SetCachedMX(ctx context.Context, set *model.MailExchangeSet) error {
	hostsJSON, err := json.Marshal(set.Hosts)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal hosts")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO mx_cache (domain, hosts, fallback, resolved_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (domain) DO UPDATE SET
			hosts = excluded.hosts, fallback = excluded.fallback, resolved_at = excluded.resolved_at`,
		set.Domain, string(hostsJSON), set.Fallback, set.ResolvedAt.UTC(),
	)
	return eris.Wrapf(err, "sqlite: set cached mx %s", set.Domain)
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRun(row scannable) (*model.Run, error) {
	var (
		r        model.Run
		status   string
		finished sql.NullTime
	)
	err := row.Scan(&r.ID, &status, &r.Source, &r.Total, &r.Found, &r.Skipped, &r.Failed, &r.StartedAt, &finished)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan run")
	}
	r.Status = model.RunStatus(status)
	if finished.Valid {
		t := finished.Time
		r.FinishedAt = &t
	}
	return &r, nil
}
