package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/email-sleuth/internal/config"
	"github.com/sells-group/email-sleuth/internal/model"
)

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = eris.New("store: not found")

// Store defines the persistence interface for batch runs and the
// cross-run mail exchange cache.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, run *model.Run) error
	SaveResult(ctx context.Context, runID string, res *model.ContactResult) error
	CompleteRun(ctx context.Context, run *model.Run) error
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter model.RunFilter) ([]model.Run, error)
	ListResults(ctx context.Context, runID string) ([]*model.ContactResult, error)

	// Mail exchange cache
	GetCachedMX(ctx context.Context, domain string, maxAge time.Duration) (*model.MailExchangeSet, error)
	SetCachedMX(ctx context.Context, set *model.MailExchangeSet) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// Open creates the store selected by cfg.Driver and migrates it. Driver
// "none" (or empty) returns a nil Store and no error.
func Open(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	var (
		st  Store
		err error
	)
	switch cfg.Driver {
	case "", "none":
		return nil, nil
	case "sqlite":
		dsn := cfg.DatabaseURL
		if dsn == "" {
			dsn = "sleuth.db"
		}
		st, err = NewSQLite(dsn)
	case "postgres":
		st, err = NewPostgres(ctx, cfg.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("store: unknown driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, err
	}
	return st, nil
}

func defaultLimit(limit int) int {
	if limit <= 0 {
		return 100
	}
	return limit
}
