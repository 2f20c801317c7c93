package main

import (
	"io"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/cv-extract/internal/model"
	"github.com/sells-group/cv-extract/internal/schema"
	"github.com/sells-group/cv-extract/internal/textproc"
	"github.com/sells-group/cv-extract/internal/workflow"
)

var (
	extractFormat     string
	extractDocumentID string
	extractCharset    string
	extractSave       bool
	extractForce      bool
)

var errExtractionFailed = eris.New("extraction failed on every model")

var extractCmd = &cobra.Command{
	Use:   "extract <file|->",
	Short: "Extract a structured record from one CV text file",
	Long:  "Runs the model chain on one file (or stdin) and prints the success or failure response. With --save the run is recorded like a batch run.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		path := args[0]
		opts := workflow.Options{Force: extractForce, Charset: extractCharset}

		var outcome *model.Outcome
		if extractSave {
			if path == "-" {
				return eris.New("extract: --save needs a file path")
			}
			env, err := initExtractEnv(ctx)
			if err != nil {
				return err
			}
			defer env.Close()

			res, err := env.Processor.ProcessFile(ctx, path, opts)
			if err != nil {
				return err
			}
			if res.Duplicate {
				return eris.Errorf("extract: %s was already processed as document %s (use --force)", path, res.Document.ID)
			}
			outcome = res.Outcome
		} else {
			if err := cfg.Validate("extract"); err != nil {
				return err
			}
			orch, err := initOrchestrator()
			if err != nil {
				return err
			}
			text, id, err := readInput(cmd.InOrStdin(), path, extractCharset)
			if err != nil {
				return err
			}
			if extractDocumentID != "" {
				id = extractDocumentID
			}
			// An exhausted chain still yields an outcome to print.
			outcome, _ = orch.Extract(ctx, model.ExtractionRequest{DocumentID: id, Text: text, Spec: schema.CV()})
		}

		if err := writeOutput(cmd.OutOrStdout(), extractFormat, outcome.Contract()); err != nil {
			return err
		}
		if !outcome.Succeeded() {
			return errExtractionFailed
		}
		return nil
	},
}

// readInput returns the normalized text of path, or of r when path is "-",
// along with the document id used in the prompt.
func readInput(r io.Reader, path, charset string) (string, string, error) {
	if path == "-" {
		text, err := textproc.Decode(r, charset)
		if err != nil {
			return "", "", eris.Wrap(err, "read stdin")
		}
		return textproc.Normalize(text), "stdin", nil
	}

	text, err := textproc.ReadFile(path, charset)
	if err != nil {
		return "", "", err
	}
	return textproc.Normalize(text), filepath.Base(path), nil
}

func init() {
	extractCmd.Flags().StringVar(&extractFormat, "format", "json", "output format (json, yaml)")
	extractCmd.Flags().StringVar(&extractDocumentID, "document-id", "", "document id used in the prompt (default: file name)")
	extractCmd.Flags().StringVar(&extractCharset, "charset", "", "input charset (default: utf-8, falling back to windows-1252)")
	extractCmd.Flags().BoolVar(&extractSave, "save", false, "record the run in the store")
	extractCmd.Flags().BoolVar(&extractForce, "force", false, "with --save, re-extract content that was already processed")
	rootCmd.AddCommand(extractCmd)
}
