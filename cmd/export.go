package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/cv-extract/internal/export"
)

var exportCmd = &cobra.Command{
	Use:   "export <file.xlsx>",
	Short: "Export run history to an xlsx workbook",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
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
			return eris.Wrap(err, "export runs")
		}

		if err := export.WriteXLSX(args[0], runs); err != nil {
			return err
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Exported %d runs to %s\n", len(runs), args[0])
		return nil
	},
}

func init() {
	exportCmd.Flags().String("status", "complete", "filter by run status (empty for all)")
	exportCmd.Flags().String("document", "", "filter by document ID")
	exportCmd.Flags().String("model", "", "filter by the model that produced the record")
	exportCmd.Flags().Duration("since", 0, "only runs created within this window (e.g. 168h)")
	exportCmd.Flags().Int("limit", 10000, "max number of runs to export")
	rootCmd.AddCommand(exportCmd)
}
