//go:build !integration

package main

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/email-sleuth/internal/config"
	"github.com/sells-group/email-sleuth/internal/model"
)

func TestFormatRunsList(t *testing.T) {
	now := time.Date(2025, 6, 15, 10, 30, 0, 0, time.UTC)
	finished := now.Add(2 * time.Minute)
	runs := []model.Run{
		{
			ID:         "abc12345-6789-0000-0000-000000000000",
			Source:     "contacts.csv",
			Status:     model.RunStatusComplete,
			Total:      10,
			Found:      7,
			Skipped:    2,
			Failed:     1,
			StartedAt:  now,
			FinishedAt: &finished,
		},
		{
			ID:        "def12345-6789-0000-0000-000000000000",
			Source:    "a-very-long-input-file-name-from-the-crm-export.xlsx",
			Status:    model.RunStatusRunning,
			StartedAt: now.Add(-1 * time.Hour),
		},
	}

	var buf bytes.Buffer
	formatRunsList(&buf, runs)

	output := buf.String()
	assert.Contains(t, output, "SOURCE")
	assert.Contains(t, output, "contacts.csv")
	assert.Contains(t, output, "complete")
	assert.Contains(t, output, "running")
	assert.Contains(t, output, "2025-06-15 10:30")
	assert.Contains(t, output, "2m0s")
	assert.Contains(t, output, "abc12345")
	assert.NotContains(t, output, "abc12345-6789")
	assert.Contains(t, output, "a-very-long-input-file-name...")
}

func TestFormatRunSummary(t *testing.T) {
	now := time.Date(2025, 6, 15, 10, 30, 0, 0, time.UTC)
	finished := now.Add(90 * time.Second)

	var buf bytes.Buffer
	formatRunSummary(&buf, &model.Run{
		ID: "run-1", Source: "api", Status: model.RunStatusFailed,
		Total: 4, Found: 1, Skipped: 1, Failed: 2,
		StartedAt: now, FinishedAt: &finished,
	})

	output := buf.String()
	assert.Contains(t, output, "run-1")
	assert.Contains(t, output, "failed")
	assert.Contains(t, output, "1m30s")
}

func TestRunDuration_Unfinished(t *testing.T) {
	assert.Equal(t, "-", runDuration(model.Run{StartedAt: time.Now()}))
}

func TestTruncateID(t *testing.T) {
	assert.Equal(t, "abc12345", truncateID("abc12345-6789"))
	assert.Equal(t, "short", truncateID("short"))
}

func TestOpenRunStore_RequiresDriver(t *testing.T) {
	prev := cfg
	t.Cleanup(func() { cfg = prev })

	cfg = &config.Config{
		SMTP: config.SMTPConfig{
			Sender: "verify-probe@example.com", HeloName: "localhost", Port: 25, MaxVerificationAttempts: 1,
		},
		Verification: config.VerificationConfig{
			ConfidenceThreshold: 4, GenericConfidenceThreshold: 7, MaxConcurrency: 1,
		},
		Store: config.StoreConfig{Driver: "none"},
	}

	cmd := &cobra.Command{}
	cmd.SetContext(context.Background())
	_, err := openRunStore(cmd)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.driver is required")

	cfg.Store = config.StoreConfig{Driver: "sqlite", DatabaseURL: filepath.Join(t.TempDir(), "runs.db")}
	st, err := openRunStore(cmd)
	require.NoError(t, err)
	require.NotNil(t, st)
	defer st.Close() //nolint:errcheck

	runs, err := st.ListRuns(context.Background(), model.RunFilter{})
	require.NoError(t, err)
	assert.Empty(t, runs)
}
