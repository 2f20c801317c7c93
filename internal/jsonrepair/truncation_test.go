package jsonrepair

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const truncatedCV = `{"personal_information": {"first_name": "Ana", "last_name": "Cruz"}, "education": [`

func TestDetect(t *testing.T) {
	tests := []struct {
		name          string
		raw           string
		provider      bool
		wantTruncated bool
		wantOffset    int
		wantStray     bool
	}{
		{name: "complete object", raw: `{"a": 1}`},
		{name: "complete with whitespace", raw: "  {\"a\": [1, 2]}\n"},
		{name: "braces inside strings", raw: `{"a": "x}]"}`},
		{name: "escaped quote inside string", raw: `{"a": "say \"hi}\""}`},
		{name: "provider flag on complete text", raw: `{"a": 1}`, provider: true, wantTruncated: true, wantOffset: 8},
		{name: "trailing prose", raw: `{"a": 1} thanks!`, wantTruncated: true, wantOffset: 8},
		{name: "stray closer", raw: `{"a": 1}}`, wantTruncated: true, wantOffset: 8, wantStray: true},
		{name: "no braces", raw: "I could not parse this CV", wantTruncated: true},
		{name: "open root no child", raw: `{"a": "b`, wantTruncated: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Detect(tt.raw, tt.provider)
			assert.Equal(t, tt.wantTruncated, got.Truncated)
			assert.Equal(t, tt.wantOffset, got.LastCompleteOffset)
			assert.Equal(t, tt.wantStray, got.Unbalanced)
			assert.Equal(t, tt.provider, got.ProviderSignaled)
		})
	}
}

func TestDetect_TruncatedCVOffset(t *testing.T) {
	got := Detect(truncatedCV, true)

	require.True(t, got.Truncated)
	want := strings.Index(truncatedCV, `"Cruz"}`) + len(`"Cruz"}`)
	assert.Equal(t, want, got.LastCompleteOffset)
	assert.Equal(t, `{"personal_information": {"first_name": "Ana", "last_name": "Cruz"}`, got.Prefix(truncatedCV))
}

func TestDetect_RootClosed(t *testing.T) {
	fenced := "```json\n{\"a\": {\"b\": 1}}\n```"
	got := Detect(fenced, false)
	assert.True(t, got.Truncated)
	assert.True(t, got.RootClosed)
	assert.Equal(t, strings.Index(fenced, "}}")+2, got.LastCompleteOffset)

	got = Detect(`{"a": 1} thanks!`, false)
	assert.True(t, got.RootClosed)

	got = Detect(truncatedCV, true)
	assert.True(t, got.Truncated)
	assert.False(t, got.RootClosed)

	assert.False(t, Detect(`{"a": 1}`, false).RootClosed)
}

func TestDetect_NotTruncatedMeansBalanced(t *testing.T) {
	inputs := []string{
		`{}`,
		`{"a": {"b": [1, 2, {"c": "}"}]}}`,
		`{"a": [}`,
		`{"a": 1}]`,
		`[{"a": 1}]`,
		`{"a": "\\"}`,
		truncatedCV,
		truncatedCV + "]}",
		`{"x": "[[[["}`,
	}
	for _, in := range inputs {
		got := Detect(in, false)
		if !got.Truncated {
			assert.Zero(t, got.Depth, in)
			assert.False(t, got.Unbalanced, in)
		}
	}
}

func TestPrefix_TrimsTrailingComma(t *testing.T) {
	tr := Truncation{Truncated: true, LastCompleteOffset: 10}
	assert.Equal(t, `{"a": [1]`, tr.Prefix(`{"a": [1], "b": 2`))
	assert.Empty(t, Truncation{}.Prefix(`{"a"`))
}

func TestClose_BalancesUnmatchedOpeners(t *testing.T) {
	inputs := []string{
		truncatedCV,
		`{"a": [1, {"b": [2`,
		`[[{`,
		`{"a": {"b": {`,
		`{"skills": {"technical_skills": ["Go", "SQL"`,
		`{"a": "open string`,
	}
	for _, in := range inputs {
		out := Close(in)
		assert.True(t, strings.HasPrefix(out, in), in)
		st := scan(out)
		assert.Zero(t, st.depth, in)
		assert.False(t, st.stray, in)
		assert.False(t, st.inString, in)
	}
}

func TestClose_TruncatedCV(t *testing.T) {
	assert.Equal(t, truncatedCV+"]}", Close(truncatedCV))
}

func TestCountMarkers(t *testing.T) {
	markers := []string{`"personal_information"`, `"first_name"`, `"last_name"`}
	assert.Equal(t, 3, CountMarkers(truncatedCV, markers))
	assert.Equal(t, 1, CountMarkers(`{"first_name": "Ana"`, markers))
	assert.Equal(t, 0, CountMarkers(`{"name": "Ana"}`, markers))
}
