package main

import (
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/email-sleuth/internal/contactio"
	"github.com/sells-group/email-sleuth/internal/model"
	"github.com/sells-group/email-sleuth/internal/pipeline"
)

var (
	batchInput  string
	batchOutput string
	batchLimit  int
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Find email addresses for a list of contacts",
	Long:  "Reads contacts from a JSON, YAML, CSV or XLSX file, processes them concurrently and writes one result per contact in input order.",
	Example: `  email-sleuth batch --input contacts.json --output results.json
  email-sleuth batch --input leads.xlsx --output results.csv --limit 50`,
	RunE: func(cmd *cobra.Command, args []string) error {
		contacts, err := contactio.ReadContacts(batchInput)
		if err != nil {
			return eris.Wrap(err, "batch: read contacts")
		}
		if batchLimit > 0 && len(contacts) > batchLimit {
			contacts = contacts[:batchLimit]
		}
		if len(contacts) == 0 {
			zap.L().Info("no contacts to process", zap.String("input", batchInput))
			return contactio.WriteResults(batchOutput, nil)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx, "batch")
		if err != nil {
			return err
		}
		defer env.Close()

		zap.L().Info("processing batch",
			zap.Int("contacts", len(contacts)),
			zap.Int("concurrency", cfg.Verification.MaxConcurrency),
		)

		run, results, err := env.NewBatch(logProgress(time.Now())).Run(ctx, filepath.Base(batchInput), contacts)
		if err != nil {
			return eris.Wrap(err, "batch: run")
		}

		logRunSummary(run)
		if err := contactio.WriteResults(batchOutput, results); err != nil {
			return eris.Wrap(err, "batch: write results")
		}
		if run.Status == model.RunStatusFailed {
			return eris.Errorf("batch: run %s interrupted; partial results written", run.ID)
		}
		return nil
	},
}

func init() {
	batchCmd.Flags().StringVarP(&batchInput, "input", "i", "", "contacts file (.json, .yaml, .csv, .xlsx or - for stdin)")
	batchCmd.Flags().StringVarP(&batchOutput, "output", "o", contactio.Stdio, "results file (.json, .yaml, .csv, .xlsx or - for stdout)")
	batchCmd.Flags().IntVar(&batchLimit, "limit", 0, "max number of contacts to process (0 = all)")
	_ = batchCmd.MarkFlagRequired("input")
	rootCmd.AddCommand(batchCmd)
}

// logProgress returns a progress callback that logs each finished contact.
func logProgress(start time.Time) pipeline.ProgressFunc {
	return func(done, total int, res *model.ContactResult) {
		fields := []zap.Field{
			zap.Int("done", done),
			zap.Int("total", total),
			zap.Duration("elapsed", time.Since(start).Round(time.Millisecond)),
		}
		switch {
		case res.Skipped:
			fields = append(fields, zap.String("skipped", res.SkipReason))
		case res.Error != "":
			fields = append(fields, zap.String("error", res.Error))
		default:
			fields = append(fields, zap.String("email", res.Email), zap.Int("confidence", res.Score))
		}
		zap.L().Info("contact processed", fields...)
	}
}

func logRunSummary(run *model.Run) {
	zap.L().Info("batch complete",
		zap.String("run_id", run.ID),
		zap.String("status", string(run.Status)),
		zap.Int("total", run.Total),
		zap.Int("found", run.Found),
		zap.Int("skipped", run.Skipped),
		zap.Int("failed", run.Failed),
	)
}
