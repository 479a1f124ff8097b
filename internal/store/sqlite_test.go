package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/email-sleuth/internal/config"
	"github.com/sells-group/email-sleuth/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func testRun(id string, started time.Time) *model.Run {
	return &model.Run{
		ID:        id,
		Status:    model.RunStatusRunning,
		Source:    "contacts.json",
		Total:     2,
		StartedAt: started,
	}
}

// --- Runs ---

func TestSQLite_RunLifecycle(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	started := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	run := testRun("run-1", started)
	require.NoError(t, st.CreateRun(ctx, run))

	got, err := st.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusRunning, got.Status)
	assert.Equal(t, "contacts.json", got.Source)
	assert.Equal(t, 2, got.Total)
	assert.True(t, started.Equal(got.StartedAt))
	assert.Nil(t, got.FinishedAt)

	finished := started.Add(time.Minute)
	run.Status = model.RunStatusComplete
	run.Found, run.Skipped, run.Failed = 1, 1, 0
	run.FinishedAt = &finished
	require.NoError(t, st.CompleteRun(ctx, run))

	got, err = st.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusComplete, got.Status)
	assert.Equal(t, 1, got.Found)
	assert.Equal(t, 1, got.Skipped)
	require.NotNil(t, got.FinishedAt)
	assert.True(t, finished.Equal(*got.FinishedAt))
}

func TestSQLite_GetRun_NotFound(t *testing.T) {
	st := newTestSQLiteStore(t)

	_, err := st.GetRun(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestSQLite_CompleteRun_NotFound(t *testing.T) {
	st := newTestSQLiteStore(t)

	err := st.CompleteRun(context.Background(), &model.Run{ID: "missing", Status: model.RunStatusComplete})
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestSQLite_ListRuns(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	for i, id := range []string{"r1", "r2", "r3"} {
		require.NoError(t, st.CreateRun(ctx, testRun(id, base.Add(time.Duration(i)*time.Hour))))
	}
	done := testRun("r2", base.Add(time.Hour))
	done.Status = model.RunStatusComplete
	require.NoError(t, st.CompleteRun(ctx, done))

	runs, err := st.ListRuns(ctx, model.RunFilter{})
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, "r3", runs[0].ID, "newest first")

	runs, err = st.ListRuns(ctx, model.RunFilter{Status: model.RunStatusComplete})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "r2", runs[0].ID)

	runs, err = st.ListRuns(ctx, model.RunFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "r2", runs[0].ID)
}

// --- Results ---

func TestSQLite_SaveAndListResults(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	require.NoError(t, st.CreateRun(ctx, testRun("run-1", time.Now().UTC())))

	second := &model.ContactResult{
		Index:       1,
		Contact:     model.Contact{FirstName: "Jane", LastName: "Roe", Domain: "example.com"},
		Skipped:     true,
		SkipReason:  "Missing domain",
		ProcessedAt: time.Now().UTC(),
	}
	first := &model.ContactResult{
		Index:        0,
		Contact:      model.Contact{FirstName: "John", LastName: "Doe", Domain: "example.com"},
		Email:        "john.doe@example.com",
		Score:        9,
		Alternatives: []string{"jdoe@example.com"},
		ProcessedAt:  time.Now().UTC(),
	}
	require.NoError(t, st.SaveResult(ctx, "run-1", second))
	require.NoError(t, st.SaveResult(ctx, "run-1", first))

	// Saving the same index again replaces the row.
	first.Score = 10
	require.NoError(t, st.SaveResult(ctx, "run-1", first))

	results, err := st.ListResults(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "john.doe@example.com", results[0].Email)
	assert.Equal(t, 10, results[0].Score)
	assert.Equal(t, []string{"jdoe@example.com"}, results[0].Alternatives)
	assert.Equal(t, "John", results[0].Contact.FirstName)
	assert.True(t, results[1].Skipped)
	assert.Equal(t, "Missing domain", results[1].SkipReason)
}

func TestSQLite_ListResults_Empty(t *testing.T) {
	st := newTestSQLiteStore(t)

	results, err := st.ListResults(context.Background(), "nope")
	require.NoError(t, err)
	assert.Empty(t, results)
}

// --- MX cache ---

func TestSQLite_MXCache(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	set := &model.MailExchangeSet{
		Domain: "example.com",
		Hosts: []model.MailExchanger{
			{Priority: 10, Host: "mx1.example.com"},
			{Priority: 20, Host: "mx2.example.com"},
		},
		ResolvedAt: time.Now().UTC(),
	}
	require.NoError(t, st.SetCachedMX(ctx, set))

	got, err := st.GetCachedMX(ctx, "example.com", time.Hour)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, set.Hosts, got.Hosts)
	assert.False(t, got.Fallback)

	// Upsert replaces the entry.
	set.Hosts = []model.MailExchanger{{Priority: 0, Host: "example.com"}}
	set.Fallback = true
	require.NoError(t, st.SetCachedMX(ctx, set))
	got, err = st.GetCachedMX(ctx, "example.com", time.Hour)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.Fallback)
	assert.Len(t, got.Hosts, 1)
}

func TestSQLite_MXCache_MissingAndStale(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	got, err := st.GetCachedMX(ctx, "unknown.com", time.Hour)
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, st.SetCachedMX(ctx, &model.MailExchangeSet{
		Domain:     "old.com",
		Hosts:      []model.MailExchanger{{Priority: 10, Host: "mx.old.com"}},
		ResolvedAt: time.Now().UTC().Add(-2 * time.Hour),
	}))
	got, err = st.GetCachedMX(ctx, "old.com", time.Hour)
	require.NoError(t, err)
	assert.Nil(t, got)
}

// --- Open ---

func TestOpen_Drivers(t *testing.T) {
	ctx := context.Background()

	st, err := Open(ctx, config.StoreConfig{Driver: "none"})
	require.NoError(t, err)
	assert.Nil(t, st)

	st, err = Open(ctx, config.StoreConfig{Driver: "sqlite", DatabaseURL: filepath.Join(t.TempDir(), "open.db")})
	require.NoError(t, err)
	require.NotNil(t, st)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	_, err = st.ListRuns(ctx, model.RunFilter{})
	require.NoError(t, err)

	_, err = Open(ctx, config.StoreConfig{Driver: "mongo"})
	assert.Error(t, err)
}
