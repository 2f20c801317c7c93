package resilience

import (
	"testing"
	"time"

	"github.com/sells-group/cv-extract/internal/model"
)

func TestDLQEntry_CanRetry(t *testing.T) {
	e := &DLQEntry{RetryCount: 2, MaxRetries: 3}
	if !e.CanRetry() {
		t.Error("expected retry allowed")
	}
	e.RetryCount = 3
	if e.CanRetry() {
		t.Error("expected retry exhausted")
	}
}

func TestClassifyFailure(t *testing.T) {
	tests := []struct {
		name  string
		kinds []model.FailureKind
		want  string
	}{
		{"all rejected", []model.FailureKind{model.FailureStructuralParse, model.FailureRequiredField}, "permanent"},
		{"one transport", []model.FailureKind{model.FailureRequiredField, model.FailureTransport}, "transient"},
		{"cancelled", []model.FailureKind{model.FailureCancelled}, "transient"},
		{"no attempts", nil, "permanent"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var f model.ExtractionFailure
			for i, k := range tt.kinds {
				f.Attempts = append(f.Attempts, model.AttemptFailure{Model: string(rune('a' + i)), Kind: k})
			}
			if got := ClassifyFailure(f); got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestRetryDelay(t *testing.T) {
	tests := []struct {
		count int
		want  time.Duration
	}{
		{0, 5 * time.Minute},
		{1, 10 * time.Minute},
		{3, 40 * time.Minute},
		{6, 320 * time.Minute},
		{7, 6 * time.Hour},
		{50, 6 * time.Hour},
	}
	for _, tt := range tests {
		if got := RetryDelay(tt.count); got != tt.want {
			t.Errorf("RetryDelay(%d) = %s, want %s", tt.count, got, tt.want)
		}
	}
}
