package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/cv-extract/internal/model"
	"github.com/sells-group/cv-extract/internal/store"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect extraction run history",
	Long:  "Commands for listing, viewing, and summarizing extraction runs.",
}

// -- runs list --

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List extraction runs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		filter, err := runFilterFromFlags(cmd)
		if err != nil {
			return err
		}

		runs, err := st.ListRuns(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "runs list")
		}

		if len(runs) == 0 {
			fmt.Fprintln(os.Stderr, "No runs found.")
			return nil
		}

		formatRunsList(cmd.OutOrStdout(), runs)
		return nil
	},
}

// -- runs show --

// runDetail is a run with its attempt history.
type runDetail struct {
	model.Run
	Attempts []model.AttemptRecord `json:"attempts"`
}

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show full details of a run with its model attempts",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		run, err := st.GetRun(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "runs show")
		}
		attempts, err := st.ListAttempts(ctx, run.ID)
		if err != nil {
			return eris.Wrap(err, "runs show attempts")
		}

		format, _ := cmd.Flags().GetString("format")
		return writeOutput(cmd.OutOrStdout(), format, runDetail{Run: *run, Attempts: attempts})
	},
}

// -- runs stats --

var runsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show aggregate run statistics",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		stats, err := st.Stats(ctx)
		if err != nil {
			return eris.Wrap(err, "runs stats")
		}
		queued, err := st.CountDLQ(ctx)
		if err != nil {
			return eris.Wrap(err, "runs stats dlq")
		}

		formatRunStats(cmd.OutOrStdout(), stats, queued)
		return nil
	},
}

func init() {
	runsListCmd.Flags().String("status", "", "filter by run status (queued, extracting, complete, failed)")
	runsListCmd.Flags().String("document", "", "filter by document ID")
	runsListCmd.Flags().String("model", "", "filter by the model that produced the record")
	runsListCmd.Flags().Duration("since", 0, "only runs created within this window (e.g. 24h)")
	runsListCmd.Flags().Int("limit", 50, "max number of runs to display")

	runsShowCmd.Flags().String("format", "json", "output format (json, yaml)")

	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
	runsCmd.AddCommand(runsStatsCmd)
	rootCmd.AddCommand(runsCmd)
}

func runFilterFromFlags(cmd *cobra.Command) (store.RunFilter, error) {
	status, _ := cmd.Flags().GetString("status")
	document, _ := cmd.Flags().GetString("document")
	modelName, _ := cmd.Flags().GetString("model")
	since, _ := cmd.Flags().GetDuration("since")
	limit, _ := cmd.Flags().GetInt("limit")

	switch model.RunStatus(status) {
	case "", model.RunStatusQueued, model.RunStatusExtracting, model.RunStatusComplete, model.RunStatusFailed:
	default:
		return store.RunFilter{}, eris.Errorf("unknown run status %q", status)
	}

	filter := store.RunFilter{
		Status:     model.RunStatus(status),
		DocumentID: document,
		Model:      modelName,
		Limit:      limit,
	}
	if since > 0 {
		filter.Since = time.Now().Add(-since)
	}
	return filter, nil
}

// formatRunsList writes a tabular list of runs to w.
func formatRunsList(out io.Writer, runs []model.Run) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tSOURCE\tSTATUS\tMODEL\tCOST\tCREATED\tDURATION")
	_, _ = fmt.Fprintln(w, "--\t------\t------\t-----\t----\t-------\t--------")

	for _, r := range runs {
		dur := r.UpdatedAt.Sub(r.CreatedAt).Round(time.Second).String()

		modelUsed, costStr := "", ""
		if r.Result != nil {
			modelUsed = r.Result.ModelUsed
			costStr = fmt.Sprintf("$%.4f", r.Result.Cost)
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			truncateID(r.ID),
			truncate(r.SourcePath, 40),
			r.Status,
			modelUsed,
			costStr,
			r.CreatedAt.Format("2006-01-02 15:04"),
			dur,
		)
	}
	_ = w.Flush()
}

// formatRunStats writes aggregate stats to w.
func formatRunStats(out io.Writer, s *model.RunStats, queued int) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Total runs:\t%d\n", s.Total)
	for _, status := range sortedKeys(s.ByStatus) {
		_, _ = fmt.Fprintf(w, "  %s:\t%d\n", status, s.ByStatus[status])
	}
	if len(s.ByModel) > 0 {
		_, _ = fmt.Fprintln(w, "Records by model:\t")
		for _, m := range sortedKeys(s.ByModel) {
			_, _ = fmt.Fprintf(w, "  %s:\t%d\n", m, s.ByModel[m])
		}
	}
	_, _ = fmt.Fprintf(w, "Total cost:\t$%.4f\n", s.TotalCost)
	_, _ = fmt.Fprintf(w, "Dead letter queue:\t%d\n", queued)
	_ = w.Flush()
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
