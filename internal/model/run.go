package model

import (
	"encoding/json"
	"time"
)

// RunStatus represents the current state of an extraction run.
type RunStatus string

const (
	RunStatusQueued     RunStatus = "queued"
	RunStatusExtracting RunStatus = "extracting"
	RunStatusComplete   RunStatus = "complete"
	RunStatusFailed     RunStatus = "failed"
)

// Run represents a single extraction run for a document.
type Run struct {
	ID         string     `json:"id"`
	DocumentID string     `json:"document_id"`
	SourcePath string     `json:"source_path"`
	Status     RunStatus  `json:"status"`
	Result     *RunResult `json:"result,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// RunResult holds the final outcome of a run.
type RunResult struct {
	ModelUsed  string             `json:"model_used,omitempty"`
	DurationMS int64              `json:"duration_ms"`
	Record     json.RawMessage    `json:"record,omitempty"`
	Warnings   []string           `json:"warnings,omitempty"`
	Failure    *ExtractionFailure `json:"failure,omitempty"`
	Tokens     TokenUsage         `json:"tokens"`
	Cost       float64            `json:"cost"`
}

// AttemptRecord is a persisted ModelAttempt. Raw model output is never
// stored.
type AttemptRecord struct {
	ID             string         `json:"id"`
	RunID          string         `json:"run_id"`
	Seq            int            `json:"seq"`
	Model          string         `json:"model"`
	Outcome        AttemptOutcome `json:"outcome"`
	Kind           FailureKind    `json:"kind,omitempty"`
	Reason         string         `json:"reason,omitempty"`
	Truncated      bool           `json:"truncated"`
	Continued      bool           `json:"continued"`
	RepairStrategy string         `json:"repair_strategy,omitempty"`
	DurationMS     int64          `json:"duration_ms"`
	Tokens         TokenUsage     `json:"tokens"`
	Cost           float64        `json:"cost"`
	CreatedAt      time.Time      `json:"created_at"`
}

// NewAttemptRecord converts the seq-th attempt of a run.
func NewAttemptRecord(runID string, seq int, a ModelAttempt) AttemptRecord {
	return AttemptRecord{
		RunID:          runID,
		Seq:            seq,
		Model:          a.Model,
		Outcome:        a.Outcome,
		Kind:           a.Kind,
		Reason:         a.Reason,
		Truncated:      a.Truncated,
		Continued:      a.Continued,
		RepairStrategy: a.RepairStrategy,
		DurationMS:     a.Duration.Milliseconds(),
		Tokens:         a.Usage,
	}
}

// RunStats aggregates run history.
type RunStats struct {
	Total     int            `json:"total"`
	ByStatus  map[string]int `json:"by_status"`
	ByModel   map[string]int `json:"by_model"`
	TotalCost float64        `json:"total_cost"`
}
