package resilience

import (
	"time"

	"github.com/sells-group/cv-extract/internal/model"
)

// DLQEntry is a document whose extraction exhausted every model.
type DLQEntry struct {
	ID           string    `json:"id"`
	DocumentID   string    `json:"document_id"`
	SourcePath   string    `json:"source_path"`
	Error        string    `json:"error"`
	ErrorType    string    `json:"error_type"` // "transient" or "permanent"
	RetryCount   int       `json:"retry_count"`
	MaxRetries   int       `json:"max_retries"`
	NextRetryAt  time.Time `json:"next_retry_at"`
	CreatedAt    time.Time `json:"created_at"`
	LastFailedAt time.Time `json:"last_failed_at"`
}

// DLQFilter specifies criteria for querying the dead letter queue.
type DLQFilter struct {
	ErrorType string `json:"error_type,omitempty"`
	Limit     int    `json:"limit,omitempty"`
}

// CanRetry returns true if this entry hasn't exceeded its max retry count.
func (e *DLQEntry) CanRetry() bool {
	return e.RetryCount < e.MaxRetries
}

// ClassifyFailure labels an exhausted extraction "transient" when any model
// failed on transport or was skipped by cancellation, else "permanent".
func ClassifyFailure(f model.ExtractionFailure) string {
	for _, a := range f.Attempts {
		if a.Kind == model.FailureTransport || a.Kind == model.FailureCancelled {
			return "transient"
		}
	}
	return "permanent"
}

// RetryDelay returns the wait before retry number retryCount+1: five
// minutes doubling per retry, capped at six hours.
func RetryDelay(retryCount int) time.Duration {
	const maxDelay = 6 * time.Hour
	d := 5 * time.Minute
	for i := 0; i < retryCount; i++ {
		d *= 2
		if d >= maxDelay {
			return maxDelay
		}
	}
	return d
}
