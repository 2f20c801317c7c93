package main

import (
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sells-group/cv-extract/internal/monitoring"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Check extraction health and send threshold alerts",
	Long: "Summarizes recent runs (failure rate, fallback usage, cost, DLQ depth) and posts alerts " +
		"to monitoring.webhook_url when thresholds are exceeded. With --watch, checks repeatedly until interrupted.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		mcfg := cfg.Monitoring
		if hours, _ := cmd.Flags().GetInt("lookback"); hours > 0 {
			mcfg.LookbackWindowHours = hours
		}

		checker := monitoring.NewChecker(
			monitoring.NewCollector(st, cfg.LLM.PrimaryModel),
			monitoring.NewAlerter(mcfg),
			mcfg,
		)

		snap, alerts, err := checker.Check(ctx)
		if err != nil {
			return err
		}

		format, _ := cmd.Flags().GetString("format")
		if format == "table" {
			formatHealth(cmd.OutOrStdout(), snap, alerts)
		} else if err := writeOutput(cmd.OutOrStdout(), format, healthReport{Snapshot: snap, Alerts: alerts}); err != nil {
			return err
		}

		if watch, _ := cmd.Flags().GetBool("watch"); watch {
			checker.Run(ctx)
		}
		return nil
	},
}

// healthReport is the structured output of a single check.
type healthReport struct {
	Snapshot *monitoring.Snapshot `json:"snapshot"`
	Alerts   []monitoring.Alert   `json:"alerts"`
}

func init() {
	monitorCmd.Flags().Bool("watch", false, "keep checking every monitoring.check_interval_secs")
	monitorCmd.Flags().Int("lookback", 0, "lookback window in hours (overrides config)")
	monitorCmd.Flags().String("format", "table", "output format (table, json, yaml)")
	rootCmd.AddCommand(monitorCmd)
}

// formatHealth writes a snapshot and its alerts to w.
func formatHealth(out io.Writer, s *monitoring.Snapshot, alerts []monitoring.Alert) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Window:\tlast %dh\n", s.LookbackHours)
	_, _ = fmt.Fprintf(w, "Runs:\t%d (%d complete, %d failed, %d in flight)\n", s.Runs, s.Complete, s.Failed, s.InFlight)
	_, _ = fmt.Fprintf(w, "Failure rate:\t%.1f%%\n", s.FailRate*100)
	_, _ = fmt.Fprintf(w, "Fallback rate:\t%.1f%%\n", s.FallbackRate*100)
	_, _ = fmt.Fprintf(w, "Avg tokens:\t%d\n", s.AvgTokens)
	_, _ = fmt.Fprintf(w, "Avg latency:\t%.0fms\n", s.AvgLatency)
	_, _ = fmt.Fprintf(w, "Cost:\t$%.4f\n", s.CostUSD)
	_, _ = fmt.Fprintf(w, "DLQ depth:\t%d\n", s.DLQDepth)
	_ = w.Flush()

	if len(s.ByModel) > 0 {
		_, _ = fmt.Fprintln(out, "\nRecords by model:")
		bw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		for _, m := range sortedKeys(s.ByModel) {
			_, _ = fmt.Fprintf(bw, "  %s\t%d\n", m, s.ByModel[m])
		}
		_ = bw.Flush()
	}

	if len(alerts) == 0 {
		_, _ = fmt.Fprintln(out, "\nNo alerts.")
		return
	}
	_, _ = fmt.Fprintf(out, "\nAlerts (%d):\n", len(alerts))
	for _, a := range alerts {
		_, _ = fmt.Fprintf(out, "  [%s] %s: %s\n", a.Severity, a.Type, a.Message)
	}
}
