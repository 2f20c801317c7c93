package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunStatusValues(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status RunStatus
		want   string
	}{
		{RunStatusQueued, "queued"},
		{RunStatusExtracting, "extracting"},
		{RunStatusComplete, "complete"},
		{RunStatusFailed, "failed"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, string(tt.status))
		})
	}
}

func TestOutcome_SuccessContract(t *testing.T) {
	t.Parallel()

	o := &Outcome{
		DocumentID: "cv-1",
		Record: &StructuredRecord{
			Data:      map[string]any{"personal_information": map[string]any{"first_name": "Ana"}},
			ModelUsed: "openai/gpt-4o",
			Duration:  1500 * time.Millisecond,
		},
	}
	require.True(t, o.Succeeded())

	b, err := json.Marshal(o.Contract())
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"success": true,
		"record": {"personal_information": {"first_name": "Ana"}},
		"model_used": "openai/gpt-4o",
		"duration_ms": 1500
	}`, string(b))
}

func TestOutcome_FailureContract(t *testing.T) {
	t.Parallel()

	o := &Outcome{
		Failure: &ExtractionFailure{Attempts: []AttemptFailure{
			{Model: "a", Kind: FailureTransport, Reason: "status 500"},
			{Model: "b", Kind: FailureRequiredField, Reason: "missing required field 'first_name' in personal_information"},
		}},
	}
	require.False(t, o.Succeeded())

	b, err := json.Marshal(o.Contract())
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"success": false,
		"attempts": [
			{"model": "a", "reason": "status 500"},
			{"model": "b", "reason": "missing required field 'first_name' in personal_information"}
		]
	}`, string(b))
}

func TestOutcome_Usage(t *testing.T) {
	t.Parallel()

	o := &Outcome{Attempts: []ModelAttempt{
		{Usage: TokenUsage{InputTokens: 10, OutputTokens: 5}},
		{Usage: TokenUsage{InputTokens: 3, OutputTokens: 2}},
	}}
	assert.Equal(t, TokenUsage{InputTokens: 13, OutputTokens: 7}, o.Usage())
}

func TestModelAttempt_RawNotSerialized(t *testing.T) {
	t.Parallel()

	b, err := json.Marshal(ModelAttempt{Model: "m", Raw: "secret raw output"})
	require.NoError(t, err)
	assert.NotContains(t, string(b), "secret raw output")
}

func TestNewAttemptRecord(t *testing.T) {
	t.Parallel()

	a := ModelAttempt{
		Model:          "m",
		Raw:            "{}",
		Duration:       2 * time.Second,
		Usage:          TokenUsage{InputTokens: 1, OutputTokens: 2},
		Outcome:        AttemptValidated,
		Continued:      true,
		RepairStrategy: "close_open",
	}
	rec := NewAttemptRecord("run-1", 2, a)
	assert.Equal(t, "run-1", rec.RunID)
	assert.Equal(t, 2, rec.Seq)
	assert.Equal(t, int64(2000), rec.DurationMS)
	assert.Equal(t, "close_open", rec.RepairStrategy)
	assert.True(t, rec.Continued)
	assert.Equal(t, AttemptValidated, rec.Outcome)
}
