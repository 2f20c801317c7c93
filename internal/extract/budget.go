package extract

import (
	"time"

	"github.com/sells-group/cv-extract/internal/config"
)

// charsPerToken approximates prompt tokens from characters.
const charsPerToken = 4

// Budget computes response token budgets and call timeouts from the model
// token limit table.
type Budget struct {
	cfg config.LLMConfig
}

// NewBudget creates a Budget over cfg.
func NewBudget(cfg config.LLMConfig) Budget {
	return Budget{cfg: cfg}
}

// baseResponseTokens grows the response allocation with the prompt length.
func baseResponseTokens(promptChars int) int {
	switch {
	case promptChars > 100000:
		return 30000
	case promptChars > 50000:
		return 25000
	case promptChars > 20000:
		return 20000
	default:
		return 15000
	}
}

// ResponseTokens returns the max response tokens for a prompt of promptChars
// characters sent to model. The result never drops below the configured
// minimum.
func (b Budget) ResponseTokens(model string, promptChars int) int {
	available := b.cfg.Limit(model) - promptChars/charsPerToken - b.cfg.SafetyBuffer
	tokens := min(baseResponseTokens(promptChars), available)
	if b.cfg.MaxTokens > 0 {
		tokens = min(tokens, b.cfg.MaxTokens)
	}
	return max(tokens, b.cfg.MinTokens)
}

// ContinuationTokens returns the response budget of a continuation call.
func (b Budget) ContinuationTokens(model string) int {
	return min(b.cfg.ContinuationMaxTokens, b.cfg.Limit(model))
}

// Timeout returns the per-call deadline for a document of textChars
// characters.
func (b Budget) Timeout(textChars int) time.Duration {
	secs := b.cfg.TimeoutSecs
	if textChars > b.cfg.LongDocumentChars && b.cfg.LongTimeoutSecs > secs {
		secs = b.cfg.LongTimeoutSecs
	}
	return time.Duration(secs) * time.Second
}
