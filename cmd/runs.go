package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/email-sleuth/internal/contactio"
	"github.com/sells-group/email-sleuth/internal/model"
	"github.com/sells-group/email-sleuth/internal/store"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect batch run history",
	Long:  "Lists persisted batch runs and shows their results. Requires store.driver to be sqlite or postgres.",
	RunE:  runsList,
}

// -- runs list --

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List batch runs, newest first",
	RunE:  runsList,
}

func runsList(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	st, err := openRunStore(cmd)
	if err != nil {
		return err
	}
	defer st.Close() //nolint:errcheck

	status, _ := cmd.Flags().GetString("status")
	limit, _ := cmd.Flags().GetInt("limit")
	offset, _ := cmd.Flags().GetInt("offset")

	runs, err := st.ListRuns(ctx, model.RunFilter{
		Status: model.RunStatus(status),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		return eris.Wrap(err, "runs list")
	}

	if len(runs) == 0 {
		fmt.Fprintln(os.Stderr, "No runs found.")
		return nil
	}

	formatRunsList(os.Stdout, runs)
	return nil
}

// -- runs show --

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show a run and its results",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openRunStore(cmd)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		run, err := st.GetRun(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "runs show")
		}
		results, err := st.ListResults(ctx, run.ID)
		if err != nil {
			return eris.Wrap(err, "runs show")
		}

		output, _ := cmd.Flags().GetString("output")
		if output != "" && output != contactio.Stdio {
			formatRunSummary(os.Stdout, run)
			return contactio.WriteResults(output, results)
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			*model.Run
			Results []*model.ContactResult `json:"results"`
		}{run, results})
	},
}

func init() {
	for _, c := range []*cobra.Command{runsCmd, runsListCmd} {
		c.Flags().String("status", "", "filter by run status (running, complete, failed)")
		c.Flags().Int("limit", 20, "max number of runs to display")
		c.Flags().Int("offset", 0, "number of runs to skip")
	}
	runsShowCmd.Flags().StringP("output", "o", "", "write results to a file (.json, .yaml, .csv, .xlsx) instead of stdout")

	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
	rootCmd.AddCommand(runsCmd)
}

// openRunStore validates config and opens the configured store.
func openRunStore(cmd *cobra.Command) (store.Store, error) {
	if err := cfg.Validate("runs"); err != nil {
		return nil, err
	}
	st, err := store.Open(cmd.Context(), cfg.Store)
	if err != nil {
		return nil, eris.Wrap(err, "open store")
	}
	return st, nil
}

// formatRunsList writes a tabular list of runs to w.
func formatRunsList(out io.Writer, runs []model.Run) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tSOURCE\tSTATUS\tTOTAL\tFOUND\tSKIPPED\tFAILED\tSTARTED\tDURATION")
	_, _ = fmt.Fprintln(w, "--\t------\t------\t-----\t-----\t-------\t------\t-------\t--------")

	for _, r := range runs {
		source := r.Source
		if len(source) > 30 {
			source = source[:27] + "..."
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%d\t%s\t%s\n",
			truncateID(r.ID),
			source,
			r.Status,
			r.Total,
			r.Found,
			r.Skipped,
			r.Failed,
			r.StartedAt.Format("2006-01-02 15:04"),
			runDuration(r),
		)
	}
	_ = w.Flush()
}

// formatRunSummary writes one run's counters to w.
func formatRunSummary(out io.Writer, r *model.Run) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Run:\t%s\n", r.ID)
	_, _ = fmt.Fprintf(w, "Source:\t%s\n", r.Source)
	_, _ = fmt.Fprintf(w, "Status:\t%s\n", r.Status)
	_, _ = fmt.Fprintf(w, "Total:\t%d\n", r.Total)
	_, _ = fmt.Fprintf(w, "  Found:\t%d\n", r.Found)
	_, _ = fmt.Fprintf(w, "  Skipped:\t%d\n", r.Skipped)
	_, _ = fmt.Fprintf(w, "  Failed:\t%d\n", r.Failed)
	_, _ = fmt.Fprintf(w, "Duration:\t%s\n", runDuration(*r))
	_ = w.Flush()
}

func runDuration(r model.Run) string {
	if r.FinishedAt == nil {
		return "-"
	}
	return r.FinishedAt.Sub(r.StartedAt).Round(time.Second).String()
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
