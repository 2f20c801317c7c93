package textproc

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/sells-group/cv-extract/internal/model"
)

// MinLineChars is the shortest line kept by Lines.
const MinLineChars = 3

var (
	artifactRe = regexp.MustCompile(`[^\p{L}\p{N}_\s\-.,!?@#$%&*()+=<>/\\\[\]{}|;:"']`)
	alnumRe    = regexp.MustCompile(`[a-zA-Z0-9]`)
	headerRe   = regexp.MustCompile(`^[A-Z][A-Z\s]+$`)
	numberedRe = regexp.MustCompile(`^\d+\.`)
	bulletRe   = regexp.MustCompile(`^[•\-*]\s`)
	keyValueRe = regexp.MustCompile(`^[\p{L}\p{N}_]+:\s`)
	yearRe     = regexp.MustCompile(`\d{4}`)
	monthRe    = regexp.MustCompile(`jan|feb|mar|apr|may|jun|jul|aug|sep|oct|nov|dec`)
)

// Lines splits text into cleaned, classified lines. Line numbers are 1-based
// positions in the original text, so dropped lines leave gaps.
func Lines(documentID, text string) []model.TextLine {
	if text == "" {
		return nil
	}

	var out []model.TextLine
	for i, raw := range strings.Split(text, "\n") {
		line := CleanLine(raw)
		if !valid(line) {
			continue
		}
		out = append(out, model.TextLine{
			DocumentID: documentID,
			Number:     i + 1,
			Text:       line,
			Type:       Classify(line),
		})
	}
	return out
}

// CleanLine strips characters outside the set usually produced by text
// extraction and collapses whitespace.
func CleanLine(line string) string {
	cleaned := artifactRe.ReplaceAllString(line, "")
	return strings.Join(strings.Fields(cleaned), " ")
}

func valid(line string) bool {
	return utf8.RuneCountInString(line) >= MinLineChars && alnumRe.MatchString(line)
}

// Classify assigns a line type. The first matching rule wins.
func Classify(line string) model.LineType {
	switch {
	case headerRe.MatchString(line):
		return model.LineHeader
	case numberedRe.MatchString(line), bulletRe.MatchString(line):
		return model.LineListItem
	case keyValueRe.MatchString(line):
		return model.LineKeyValue
	case utf8.RuneCountInString(line) < 50 && strings.Contains(line, "@"):
		return model.LineContactInfo
	case yearRe.MatchString(line) && monthRe.MatchString(strings.ToLower(line)):
		return model.LineDateInfo
	default:
		return model.LineContent
	}
}
