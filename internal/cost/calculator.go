// Package cost prices model token usage.
package cost

import (
	"github.com/sells-group/cv-extract/internal/config"
	"github.com/sells-group/cv-extract/internal/model"
)

// ModelRate holds per-model token pricing (per million tokens).
type ModelRate struct {
	Input  float64
	Output float64
}

// Rates maps model names to their pricing.
type Rates map[string]ModelRate

// Calculator computes costs for API usage.
type Calculator struct {
	rates Rates
}

// NewCalculator creates a Calculator with the given rates.
func NewCalculator(rates Rates) *Calculator {
	return &Calculator{rates: rates}
}

// FromConfig starts from DefaultRates and applies the configured models on
// top of them.
func FromConfig(cfg config.PricingConfig) *Calculator {
	rates := DefaultRates()
	for _, p := range cfg.Models {
		if p.Model == "" {
			continue
		}
		rates[p.Model] = ModelRate{Input: p.Input, Output: p.Output}
	}
	return NewCalculator(rates)
}

// Usage computes the cost of usage on modelName. Unknown models cost 0.
func (c *Calculator) Usage(modelName string, usage model.TokenUsage) float64 {
	rate, ok := c.rates[modelName]
	if !ok {
		return 0
	}
	inCost := (float64(usage.InputTokens) / 1e6) * rate.Input
	outCost := (float64(usage.OutputTokens) / 1e6) * rate.Output
	return inCost + outCost
}

// Attempt prices one model attempt, continuation tokens included.
func (c *Calculator) Attempt(a *model.ModelAttempt) float64 {
	return c.Usage(a.Model, a.Usage)
}

// Outcome sums the cost of every attempt of an extraction.
func (c *Calculator) Outcome(o *model.Outcome) float64 {
	var total float64
	for i := range o.Attempts {
		total += c.Attempt(&o.Attempts[i])
	}
	return total
}

// Known reports whether modelName has a rate.
func (c *Calculator) Known(modelName string) bool {
	_, ok := c.rates[modelName]
	return ok
}

// DefaultRates returns the OpenRouter list prices of the default model chain.
func DefaultRates() Rates {
	return Rates{
		"anthropic/claude-3.5-sonnet":      {Input: 3.00, Output: 15.00},
		"anthropic/claude-3-haiku":         {Input: 0.25, Output: 1.25},
		"openai/gpt-4o":                    {Input: 2.50, Output: 10.00},
		"openai/gpt-4o-mini":               {Input: 0.15, Output: 0.60},
		"meta-llama/llama-3.1-8b-instruct": {Input: 0.05, Output: 0.05},
		"claude-3-5-sonnet-20241022":       {Input: 3.00, Output: 15.00},
		"claude-3-haiku-20240307":          {Input: 0.25, Output: 1.25},
	}
}
