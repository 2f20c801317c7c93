package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/cv-extract/internal/resilience"
	"github.com/sells-group/cv-extract/internal/workflow"
)

var dlqCmd = &cobra.Command{
	Use:   "dlq",
	Short: "Inspect and retry documents whose extraction failed on every model",
}

var dlqListCmd = &cobra.Command{
	Use:   "list",
	Short: "List dead letter queue entries",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		filter, err := dlqFilterFromFlags(cmd)
		if err != nil {
			return err
		}
		entries, err := st.ListDLQ(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "dlq list")
		}
		if len(entries) == 0 {
			fmt.Fprintln(os.Stderr, "Dead letter queue is empty.")
			return nil
		}

		formatDLQList(cmd.OutOrStdout(), entries)
		return nil
	},
}

var dlqRetryCmd = &cobra.Command{
	Use:   "retry",
	Short: "Re-extract queued documents",
	Long:  "Re-runs the model chain for queued documents. By default only entries whose retry time has passed are retried; --all retries every entry with retries left.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		filter, err := dlqFilterFromFlags(cmd)
		if err != nil {
			return err
		}
		all, _ := cmd.Flags().GetBool("all")

		env, err := initExtractEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		summary, err := env.Processor.RetryDLQ(ctx, workflow.RetryOptions{
			Due:       !all,
			ErrorType: filter.ErrorType,
			Limit:     filter.Limit,
		})
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintf(w, "Attempted:\t%d\n", summary.Attempted)
		_, _ = fmt.Fprintf(w, "Recovered:\t%d\n", summary.Recovered)
		_, _ = fmt.Fprintf(w, "Failed:\t%d\n", summary.Failed)
		_, _ = fmt.Fprintf(w, "Out of retries:\t%d\n", summary.Exhausted)
		return w.Flush()
	},
}

func init() {
	for _, c := range []*cobra.Command{dlqListCmd, dlqRetryCmd} {
		c.Flags().String("error-type", "", "filter by error type (transient, permanent)")
		c.Flags().Int("limit", 50, "max number of entries")
	}
	dlqRetryCmd.Flags().Bool("all", false, "retry entries that are not yet due")

	dlqCmd.AddCommand(dlqListCmd)
	dlqCmd.AddCommand(dlqRetryCmd)
	rootCmd.AddCommand(dlqCmd)
}

func dlqFilterFromFlags(cmd *cobra.Command) (resilience.DLQFilter, error) {
	errType, _ := cmd.Flags().GetString("error-type")
	limit, _ := cmd.Flags().GetInt("limit")
	switch errType {
	case "", "transient", "permanent":
	default:
		return resilience.DLQFilter{}, eris.Errorf("unknown error type %q", errType)
	}
	return resilience.DLQFilter{ErrorType: errType, Limit: limit}, nil
}

// formatDLQList writes a tabular list of queue entries to w.
func formatDLQList(out io.Writer, entries []resilience.DLQEntry) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "DOCUMENT\tSOURCE\tTYPE\tRETRIES\tNEXT RETRY\tERROR")
	_, _ = fmt.Fprintln(w, "--------\t------\t----\t-------\t----------\t-----")
	for _, e := range entries {
		next := e.NextRetryAt.Format("2006-01-02 15:04")
		if !e.CanRetry() {
			next = "never"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d/%d\t%s\t%s\n",
			truncateID(e.DocumentID),
			truncate(e.SourcePath, 40),
			e.ErrorType,
			e.RetryCount, e.MaxRetries,
			next,
			truncate(e.Error, 60),
		)
	}
	_ = w.Flush()
}
