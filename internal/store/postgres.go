package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/email-sleuth/internal/model"
)

// Pool is the subset of *pgxpool.Pool the store uses. pgxmock pools
// satisfy it in tests.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// the operations issued once per contact.
var preparedStatements = map[string]string{
	"save_result":   postgresSaveResult,
	"get_cached_mx": `SELECT domain, hosts, fallback, resolved_at FROM mx_cache WHERE domain = $1 AND resolved_at > $2`,
	"set_cached_mx": postgresSetCachedMX,
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
CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	status      TEXT NOT NULL DEFAULT 'running',
	source      TEXT NOT NULL DEFAULT '',
	total       INTEGER NOT NULL DEFAULT 0,
	found       INTEGER NOT NULL DEFAULT 0,
	skipped     INTEGER NOT NULL DEFAULT 0,
	failed      INTEGER NOT NULL DEFAULT 0,
	started_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	finished_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS contact_results (
	run_id       TEXT NOT NULL REFERENCES runs(id),
	idx          INTEGER NOT NULL,
	email        TEXT,
	confidence   INTEGER NOT NULL DEFAULT 0,
	skipped      BOOLEAN NOT NULL DEFAULT false,
	error        TEXT,
	result       JSONB NOT NULL,
	processed_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (run_id, idx)
);

CREATE TABLE IF NOT EXISTS mx_cache (
	domain      TEXT PRIMARY KEY,
	hosts       JSONB NOT NULL,
	fallback    BOOLEAN NOT NULL DEFAULT false,
	resolved_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at DESC);
CREATE INDEX IF NOT EXISTS idx_contact_results_email ON contact_results(email);
`

const postgresSaveResult = `INSERT INTO contact_results (run_id, idx, email, confidence, skipped, error, result, processed_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	ON CONFLICT (run_id, idx) DO UPDATE SET
		email = EXCLUDED.email, confidence = EXCLUDED.confidence, skipped = EXCLUDED.skipped,
		error = EXCLUDED.error, result = EXCLUDED.result, processed_at = EXCLUDED.processed_at`

const postgresSetCachedMX = `INSERT INTO mx_cache (domain, hosts, fallback, resolved_at) VALUES ($1, $2, $3, $4)
	ON CONFLICT (domain) DO UPDATE SET
		hosts = EXCLUDED.hosts, fallback = EXCLUDED.fallback, resolved_at = EXCLUDED.resolved_at`

const postgresRunColumns = `id, status, source, total, found, skipped, failed, started_at, finished_at`

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

func (s *PostgresStore) CreateRun(ctx context.Context, run *model.Run) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO runs (id, status, source, total, started_at) VALUES ($1, $2, $3, $4, $5)`,
		run.ID, string(run.Status), run.Source, run.Total, run.StartedAt.UTC(),
	)
	return eris.Wrapf(err, "postgres: insert run %s", run.ID)
}

func (s *PostgresStore) SaveResult(ctx context.Context, runID string, res *model.ContactResult) error {
	resultJSON, err := json.Marshal(res)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal result")
	}
	_, err = s.pool.Exec(ctx, postgresSaveResult,
		runID, res.Index, res.Email, res.Score, res.Skipped, res.Error, resultJSON, res.ProcessedAt.UTC(),
	)
	return eris.Wrapf(err, "postgres: save result %s/%d", runID, res.Index)
}

func (s *PostgresStore) CompleteRun(ctx context.Context, run *model.Run) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, found = $2, skipped = $3, failed = $4, finished_at = $5 WHERE id = $6`,
		string(run.Status), run.Found, run.Skipped, run.Failed, run.FinishedAt, run.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete run %s", run.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "run %s", run.ID)
	}
	return nil
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+postgresRunColumns+` FROM runs WHERE id = $1`, runID)
	r, err := scanPostgresRun(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, eris.Wrapf(ErrNotFound, "postgres: get run %s", runID)
		}
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}
	return r, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter model.RunFilter) ([]model.Run, error) {
	query := `SELECT ` + postgresRunColumns + ` FROM runs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	query += fmt.Sprintf(` ORDER BY started_at DESC LIMIT $%d`, argIdx)
	args = append(args, defaultLimit(filter.Limit))
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

	var runs []model.Run
	for rows.Next() {
		r, err := scanPostgresRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

func (s *PostgresStore) ListResults(ctx context.Context, runID string) ([]*model.ContactResult, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT result FROM contact_results WHERE run_id = $1 ORDER BY idx`, runID)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list results %s", runID)
	}
	defer rows.Close()

	var out []*model.ContactResult
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, eris.Wrap(err, "postgres: scan result")
		}
		var res model.ContactResult
		if err := json.Unmarshal(raw, &res); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal result")
		}
		out = append(out, &res)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list results iterate")
}

func (s *PostgresStore) GetCachedMX(ctx context.Context, domain string, maxAge time.Duration) (*model.MailExchangeSet, error) {
	var (
		set       model.MailExchangeSet
		hostsJSON []byte
	)
	err := s.pool.QueryRow(ctx,
		`SELECT domain, hosts, fallback, resolved_at FROM mx_cache WHERE domain = $1 AND resolved_at > $2`,
		domain, time.Now().UTC().Add(-maxAge),
	).Scan(&set.Domain, &hostsJSON, &set.Fallback, &set.ResolvedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: get cached mx")
	}
	if err := json.Unmarshal(hostsJSON, &set.Hosts); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal cached hosts")
	}
	return &set, nil
}

func (s *PostgresStore) SetCachedMX(ctx context.Context, set *model.MailExchangeSet) error {
	hostsJSON, err := json.Marshal(set.Hosts)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal hosts")
	}
	_, err = s.pool.Exec(ctx, postgresSetCachedMX, set.Domain, hostsJSON, set.Fallback, set.ResolvedAt.UTC())
	return eris.Wrapf(err, "postgres: set cached mx %s", set.Domain)
}

func scanPostgresRun(row pgx.Row) (*model.Run, error) {
	var (
		r      model.Run
		status string
	)
	if err := row.Scan(&r.ID, &status, &r.Source, &r.Total, &r.Found, &r.Skipped, &r.Failed, &r.StartedAt, &r.FinishedAt); err != nil {
		return nil, err
	}
	r.Status = model.RunStatus(status)
	return &r, nil
}
