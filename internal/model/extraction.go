package model

import (
	"time"

	"github.com/sells-group/cv-extract/internal/schema"
)

// ExtractionRequest is the input of one extraction. It is never mutated.
type ExtractionRequest struct {
	DocumentID string      `json:"document_id"`
	Text       string      `json:"text"`
	Spec       schema.Spec `json:"-"`
}

// FinishReason is the provider's reason for ending a completion.
type FinishReason string

const (
	FinishStop   FinishReason = "stop"
	FinishLength FinishReason = "length"
)

// TokenUsage tracks LLM token consumption.
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Add accumulates other into u.
func (u *TokenUsage) Add(other TokenUsage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
}

// FailureKind classifies why a model attempt failed.
type FailureKind string

const (
	FailureTransport       FailureKind = "transport"
	FailureStructuralParse FailureKind = "structural_parse"
	FailureRequiredField   FailureKind = "required_field"
	FailureCancelled       FailureKind = "cancelled"
)

// AttemptOutcome is the terminal state of a model attempt.
type AttemptOutcome string

const (
	AttemptValidated   AttemptOutcome = "validated"
	AttemptModelFailed AttemptOutcome = "model_failed"
)

// ModelAttempt records one model's pass through the extraction pipeline.
type ModelAttempt struct {
	Model        string         `json:"model"`
	Raw          string         `json:"-"`
	FinishReason FinishReason   `json:"finish_reason,omitempty"`
	Duration     time.Duration  `json:"duration"`
	Usage        TokenUsage     `json:"usage"`
	Outcome      AttemptOutcome `json:"outcome"`
	Kind         FailureKind    `json:"kind,omitempty"`
	Reason       string         `json:"reason,omitempty"`
	Truncated    bool           `json:"truncated"`
	Continued    bool           `json:"continued"`
	// ContinuationError is set when a continuation ran and did not produce
	// parseable output.
	ContinuationError string   `json:"continuation_error,omitempty"`
	RepairStrategy    string   `json:"repair_strategy,omitempty"`
	Warnings          []string `json:"warnings,omitempty"`
	// Excerpt holds the head of the raw response, only for failed attempts.
	Excerpt string `json:"excerpt,omitempty"`
}

// StructuredRecord is a validated record tagged with its provenance.
type StructuredRecord struct {
	Data      map[string]any `json:"record"`
	ModelUsed string         `json:"model_used"`
	Duration  time.Duration  `json:"duration"`
	Warnings  []string       `json:"warnings,omitempty"`
}

// AttemptFailure is one model's entry in an ExtractionFailure.
type AttemptFailure struct {
	Model  string      `json:"model"`
	Kind   FailureKind `json:"kind"`
	Reason string      `json:"reason"`
}

// ExtractionFailure lists every model tried, in order, with why it failed.
type ExtractionFailure struct {
	Attempts []AttemptFailure `json:"attempts"`
}

// Outcome is the result of one extraction. Exactly one of Record and
// Failure is set.
type Outcome struct {
	DocumentID string             `json:"document_id"`
	Record     *StructuredRecord  `json:"record,omitempty"`
	Failure    *ExtractionFailure `json:"failure,omitempty"`
	Attempts   []ModelAttempt     `json:"attempts"`
}

// Succeeded reports whether the outcome carries a record.
func (o *Outcome) Succeeded() bool { return o.Record != nil }

// Usage sums token usage over all attempts.
func (o *Outcome) Usage() TokenUsage {
	var u TokenUsage
	for _, a := range o.Attempts {
		u.Add(a.Usage)
	}
	return u
}

// SuccessResponse is the external success contract.
type SuccessResponse struct {
	Success    bool           `json:"success" yaml:"success"`
	Record     map[string]any `json:"record" yaml:"record"`
	ModelUsed  string         `json:"model_used" yaml:"model_used"`
	DurationMS int64          `json:"duration_ms" yaml:"duration_ms"`
}

// AttemptReason is one entry of the external failure contract.
type AttemptReason struct {
	Model  string `json:"model" yaml:"model"`
	Reason string `json:"reason" yaml:"reason"`
}

// FailureResponse is the external failure contract.
type FailureResponse struct {
	Success  bool            `json:"success" yaml:"success"`
	Attempts []AttemptReason `json:"attempts" yaml:"attempts"`
}

// Contract returns the external view of o: a SuccessResponse or a
// FailureResponse.
func (o *Outcome) Contract() any {
	if o.Record != nil {
		return SuccessResponse{
			Success:    true,
			Record:     o.Record.Data,
			ModelUsed:  o.Record.ModelUsed,
			DurationMS: o.Record.Duration.Milliseconds(),
		}
	}
	resp := FailureResponse{Attempts: []AttemptReason{}}
	if o.Failure != nil {
		for _, a := range o.Failure.Attempts {
			resp.Attempts = append(resp.Attempts, AttemptReason{Model: a.Model, Reason: a.Reason})
		}
	}
	return resp
}
