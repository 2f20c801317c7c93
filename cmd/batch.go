package main

import (
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/cv-extract/internal/workflow"
)

var (
	batchLimit       int
	batchConcurrency int
	batchForce       bool
	batchCharset     string
	batchErrorLog    string
)

var batchCmd = &cobra.Command{
	Use:   "batch <dir|archive.zip>",
	Short: "Extract records from every CV text file in a directory or zip archive",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if batchConcurrency > 0 {
			cfg.Batch.Concurrency = batchConcurrency
		}

		env, err := initExtractEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		b := workflow.NewBatch(env.Processor, cfg.Batch)
		summary, err := b.Run(ctx, args[0], workflow.BatchOptions{
			Options: workflow.Options{Force: batchForce, Charset: batchCharset},
			Limit:   batchLimit,
		})
		if err != nil {
			return err
		}

		formatBatchSummary(cmd.OutOrStdout(), summary)

		if batchErrorLog != "" && len(summary.Errors) > 0 {
			if err := workflow.WriteErrorLog(batchErrorLog, summary); err != nil {
				return err
			}
			zap.L().Info("batch: error log written", zap.String("path", batchErrorLog))
		}
		return nil
	},
}

func init() {
	batchCmd.Flags().IntVar(&batchLimit, "limit", 0, "max number of files to process (0 = all)")
	batchCmd.Flags().IntVar(&batchConcurrency, "concurrency", 0, "concurrent documents (default: batch.concurrency)")
	batchCmd.Flags().BoolVar(&batchForce, "force", false, "re-extract content that was already processed")
	batchCmd.Flags().StringVar(&batchCharset, "charset", "", "input charset for every file")
	batchCmd.Flags().StringVar(&batchErrorLog, "error-log", "", "write the summary with per-file errors to this JSON file")
	rootCmd.AddCommand(batchCmd)
}

// formatBatchSummary writes a batch summary to w.
func formatBatchSummary(out io.Writer, s *workflow.Summary) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Files found:\t%d\n", s.Found)
	_, _ = fmt.Fprintf(w, "Succeeded:\t%d\n", s.Succeeded)
	_, _ = fmt.Fprintf(w, "Duplicates:\t%d\n", s.Duplicates)
	_, _ = fmt.Fprintf(w, "Failed:\t%d\n", s.Failed)
	_, _ = fmt.Fprintf(w, "Skipped:\t%d\n", s.Skipped)
	_, _ = fmt.Fprintf(w, "Success rate:\t%.1f%%\n", s.SuccessRate*100)
	_, _ = fmt.Fprintf(w, "Cost:\t$%.4f\n", s.Cost)
	_, _ = fmt.Fprintf(w, "Duration:\t%s\n", s.Duration.Round(time.Millisecond))
	_ = w.Flush()

	if len(s.Errors) == 0 {
		return
	}
	_, _ = fmt.Fprintln(out)
	w = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "FILE\tSTAGE\tREASON")
	for _, e := range s.Errors {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", e.Path, e.Stage, truncate(e.Reason, 100))
	}
	_ = w.Flush()
}
