// Package export writes run history to spreadsheets.
package export

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"

	"github.com/sells-group/cv-extract/internal/model"
)

// Sheet names of the exported workbook.
const (
	RunsSheet       = "Runs"
	CandidatesSheet = "Candidates"
)

// summaryChars caps the professional summary column.
const summaryChars = 300

var runHeaders = []string{
	"Run ID", "Document ID", "Source Path", "Status", "Model Used",
	"Duration (ms)", "Input Tokens", "Output Tokens", "Cost (USD)",
	"Warnings", "Failure", "Created At",
}

var candidateHeaders = []string{
	"Run ID", "First Name", "Middle Name", "Last Name", "Emails",
	"Phones", "City", "Professional Summary", "Skills",
}

// WriteXLSX writes runs to a workbook at path. Every run gets a row on the
// Runs sheet; completed runs also get a row on the Candidates sheet with the
// identity and contact fields of their record.
func WriteXLSX(path string, runs []model.Run) error {
	f := xlsx.NewFile()

	runSheet, err := f.AddSheet(RunsSheet)
	if err != nil {
		return eris.Wrap(err, "export: add runs sheet")
	}
	candSheet, err := f.AddSheet(CandidatesSheet)
	if err != nil {
		return eris.Wrap(err, "export: add candidates sheet")
	}
	addRow(runSheet, runHeaders...)
	addRow(candSheet, candidateHeaders...)

	candidates := 0
	for i := range runs {
		r := &runs[i]
		writeRun(runSheet, r)
		if r.Status != model.RunStatusComplete || r.Result == nil || len(r.Result.Record) == 0 {
			continue
		}
		var rec map[string]any
		if err := json.Unmarshal(r.Result.Record, &rec); err != nil {
			return eris.Wrapf(err, "export: decode record of run %s", r.ID)
		}
		writeCandidate(candSheet, r.ID, rec)
		candidates++
	}

	if err := f.Save(path); err != nil {
		return eris.Wrapf(err, "export: save %s", path)
	}
	zap.L().Info("export: workbook written",
		zap.String("path", path),
		zap.Int("runs", len(runs)),
		zap.Int("candidates", candidates),
	)
	return nil
}

func writeRun(sheet *xlsx.Sheet, r *model.Run) {
	row := sheet.AddRow()
	for _, s := range []string{r.ID, r.DocumentID, r.SourcePath, string(r.Status)} {
		row.AddCell().SetString(s)
	}

	res := r.Result
	if res == nil {
		res = &model.RunResult{}
	}
	row.AddCell().SetString(res.ModelUsed)
	row.AddCell().SetInt64(res.DurationMS)
	row.AddCell().SetInt(res.Tokens.InputTokens)
	row.AddCell().SetInt(res.Tokens.OutputTokens)
	row.AddCell().SetFloat(res.Cost)
	row.AddCell().SetString(strings.Join(res.Warnings, "; "))
	row.AddCell().SetString(failureText(res.Failure))
	row.AddCell().SetString(r.CreatedAt.UTC().Format(time.RFC3339))
}

func writeCandidate(sheet *xlsx.Sheet, runID string, rec map[string]any) {
	personal, _ := rec["personal_information"].(map[string]any)
	address, _ := personal["address"].(map[string]any)
	skills, _ := rec["skills"].(map[string]any)

	addRow(sheet,
		runID,
		text(personal["first_name"]),
		text(personal["middle_name"]),
		text(personal["last_name"]),
		join(personal["emails"]),
		phones(personal["phones"]),
		text(address["city"]),
		truncate(text(rec["professional_summary"]), summaryChars),
		join(skills["technical_skills"]),
	)
}

func addRow(sheet *xlsx.Sheet, values ...string) {
	row := sheet.AddRow()
	for _, v := range values {
		row.AddCell().SetString(v)
	}
}

func failureText(f *model.ExtractionFailure) string {
	if f == nil {
		return ""
	}
	parts := make([]string, len(f.Attempts))
	for i, a := range f.Attempts {
		parts[i] = a.Model + ": " + a.Reason
	}
	return strings.Join(parts, "; ")
}

func text(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		return fmt.Sprint(t)
	}
}

// join flattens an array of scalars.
func join(v any) string {
	items, ok := v.([]any)
	if !ok {
		return text(v)
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		if s := text(it); s != "" {
			out = append(out, s)
		}
	}
	return strings.Join(out, ", ")
}

// phones renders [{"type": "mobile", "number": "0917"}] as "mobile: 0917".
func phones(v any) string {
	items, ok := v.([]any)
	if !ok {
		return text(v)
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		p, ok := it.(map[string]any)
		if !ok {
			out = append(out, text(it))
			continue
		}
		num := text(p["number"])
		if kind := text(p["type"]); kind != "" {
			num = kind + ": " + num
		}
		out = append(out, num)
	}
	return strings.Join(out, ", ")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

// ReadSheet returns the rows of the named sheet of the workbook at path as
// strings, header row included.
func ReadSheet(path, name string) ([][]string, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "export: open %s", path)
	}
	sheet, ok := f.Sheet[name]
	if !ok {
		return nil, eris.Errorf("export: sheet %q not found", name)
	}

	rows := make([][]string, 0, len(sheet.Rows))
	for _, row := range sheet.Rows {
		cells := make([]string, len(row.Cells))
		for j, cell := range row.Cells {
			cells[j] = cell.String()
		}
		rows = append(rows, cells)
	}
	return rows, nil
}
