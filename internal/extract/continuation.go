package extract

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/cv-extract/internal/jsonrepair"
	"github.com/sells-group/cv-extract/internal/model"
	"github.com/sells-group/cv-extract/internal/prompt"
)

// ErrNoPrefix means a truncated response has no complete element to resume
// from.
var ErrNoPrefix = eris.New("extract: no complete prefix to continue from")

// ErrContinuationInvalid means prefix plus continuation is still not JSON.
var ErrContinuationInvalid = eris.New("extract: continued response is not valid JSON")

// Continuer asks the same model to resume a truncated response.
type Continuer struct {
	invoker     Invoker
	budget      Budget
	minMarkers  int
	temperature float64
}

// NewContinuer creates a Continuer gated on minMarkers structural markers.
func NewContinuer(inv Invoker, budget Budget, minMarkers int, temperature float64) *Continuer {
	return &Continuer{invoker: inv, budget: budget, minMarkers: minMarkers, temperature: temperature}
}

// Eligible reports whether raw was cut off inside its still-open root yet
// shows enough of the target structure to be worth continuing.
func (c *Continuer) Eligible(raw string, t jsonrepair.Truncation, markers []string) bool {
	return t.Truncated && !t.RootClosed && jsonrepair.CountMarkers(raw, markers) >= c.minMarkers
}

// Continue requests the rest of raw from modelName. It returns the prefix
// with the continuation appended verbatim, only when that parses.
func (c *Continuer) Continue(ctx context.Context, documentID, modelName, raw string, t jsonrepair.Truncation) (string, model.TokenUsage, error) {
	var usage model.TokenUsage
	prefix := t.Prefix(raw)
	if prefix == "" {
		return "", usage, ErrNoPrefix
	}

	comp, err := c.invoker.Invoke(ctx, Call{
		Model:       modelName,
		Request:     prompt.BuildContinuation(documentID, prefix),
		MaxTokens:   c.budget.ContinuationTokens(modelName),
		Temperature: c.temperature,
	})
	if err != nil {
		return "", usage, eris.Wrap(err, "extract: continuation call")
	}
	usage = comp.Usage

	combined := prefix + comp.Text
	if _, ok := jsonrepair.Parse(combined); !ok {
		return "", usage, ErrContinuationInvalid
	}
	return combined, usage, nil
}
