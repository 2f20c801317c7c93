package extract

import (
	"context"

	"github.com/sells-group/cv-extract/internal/model"
	"github.com/sells-group/cv-extract/internal/prompt"
)

// Call is one completion request for a named model.
type Call struct {
	Model       string
	Request     prompt.Request
	MaxTokens   int
	Temperature float64
}

// Completion is a model's raw response.
type Completion struct {
	Text         string
	FinishReason model.FinishReason
	Usage        model.TokenUsage
}

// Truncated reports whether the provider stopped on the length limit.
func (c *Completion) Truncated() bool {
	return c.FinishReason == model.FinishLength
}

// Invoker sends a single completion request. Implementations must not retry.
type Invoker interface {
	Invoke(ctx context.Context, call Call) (*Completion, error)
}

// TransportError wraps any failure to obtain a completion: network errors,
// timeouts, non-success statuses, malformed envelopes, open circuits.
type TransportError struct {
	Model string
	Err   error
}

func (e *TransportError) Error() string {
	return "transport: " + e.Err.Error()
}

func (e *TransportError) Unwrap() error { return e.Err }
