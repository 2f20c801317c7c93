package jsonrepair

import (
	"encoding/json"
	"regexp"
	"strings"
)

// Strategy turns malformed or incomplete text into a candidate that parses.
// Repair must be a pure function of raw.
type Strategy interface {
	Name() string
	Repair(raw string) (candidate string, ok bool)
}

// Parse decodes s as a single JSON value.
func Parse(s string) (any, bool) {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, false
	}
	return v, true
}

func parses(s string) bool {
	return json.Valid([]byte(s))
}

// BraceMatch extracts the span from the first opening brace to its matching
// closing brace. Leading prose, code fences and trailing chatter are dropped.
type BraceMatch struct{}

// Name implements Strategy.
func (BraceMatch) Name() string { return "brace_match" }

// Repair implements Strategy.
func (BraceMatch) Repair(raw string) (string, bool) {
	start := strings.IndexByte(raw, '{')
	if start < 0 {
		return "", false
	}
	end := matchingBrace(raw, start)
	if end < 0 {
		return "", false
	}
	candidate := raw[start : end+1]
	if !parses(candidate) {
		return "", false
	}
	return candidate, true
}

type keyRewrite struct {
	re   *regexp.Regexp
	repl string
}

// Unquoted keys the models emit: inside an array of objects, right after an
// opening brace, after a comma, and after a colon opening a nested object.
var keyRewrites = []keyRewrite{
	{regexp.MustCompile(`\[\s*{\s*([^"\s]+):`), `[{ "$1":`},
	{regexp.MustCompile(`{\s*([^"\s]+):`), `{ "$1":`},
	{regexp.MustCompile(`,\s*([^"\s]+):`), `, "$1":`},
	{regexp.MustCompile(`:\s*{\s*([^"\s]+):`), `: { "$1":`},
}

// missingKey is a bare colon with the key missing entirely.
var missingKey = keyRewrite{regexp.MustCompile(`{\s*":\s*"([^"]+)"`), `{ "name": "$1"`}

// QuoteKeys rewrites every unquoted key pattern to a quoted key. Text inside
// string literals is never rewritten.
func QuoteKeys(s string) string {
	var b strings.Builder
	for start := 0; start < len(s); {
		open := strings.IndexByte(s[start:], '"')
		if open < 0 {
			b.WriteString(quoteBareKeys(s[start:]))
			break
		}
		open += start
		b.WriteString(quoteBareKeys(s[start:open]))
		end := stringEnd(s, open)
		b.WriteString(s[open:end])
		start = end
	}
	return missingKey.re.ReplaceAllString(b.String(), missingKey.repl)
}

func quoteBareKeys(s string) string {
	for _, kr := range keyRewrites {
		s = kr.re.ReplaceAllString(s, kr.repl)
	}
	return s
}

// KeyQuote repairs unquoted object keys.
type KeyQuote struct{}

// Name implements Strategy.
func (KeyQuote) Name() string { return "key_quote" }

// Repair implements Strategy.
func (KeyQuote) Repair(raw string) (string, bool) {
	candidate := QuoteKeys(strings.TrimSpace(raw))
	if !parses(candidate) {
		return "", false
	}
	return candidate, true
}

// CloseOpen completes truncated text by appending the missing closers. It
// first closes the full text, then the prefix ending at the last complete
// node, then the text cut back to the last member comma of each open
// container, and finally retries all of them with key-quoting applied.
type CloseOpen struct{}

// Name implements Strategy.
func (CloseOpen) Name() string { return "close_open" }

// Repair implements Strategy.
func (CloseOpen) Repair(raw string) (string, bool) {
	trimmed := strings.TrimSpace(raw)
	full := scan(trimmed)
	var completed []string

	if !full.stray && full.depth >= 0 {
		body := trimmed
		if !full.inString {
			body = trimTrailingComma(body)
		}
		completed = append(completed, Close(body))
	}

	t := Detect(trimmed, false)
	if prefix := t.Prefix(trimmed); prefix != "" && prefix != trimmed {
		completed = append(completed, Close(prefix))
	}
	if !full.stray {
		for _, cut := range full.commaCuts() {
			completed = append(completed, Close(trimTrailingComma(trimmed[:cut])))
		}
	}

	for _, c := range completed {
		if parses(c) {
			return c, true
		}
	}
	for _, c := range completed {
		if q := QuoteKeys(c); parses(q) {
			return q, true
		}
	}
	return "", false
}

func trimTrailingComma(s string) string {
	s = strings.TrimRight(s, " \t\r\n")
	return strings.TrimRight(strings.TrimSuffix(s, ","), " \t\r\n")
}
