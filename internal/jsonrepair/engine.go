package jsonrepair

import (
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// ErrStructural is returned when no strategy produced parseable text.
var ErrStructural = eris.New("jsonrepair: no strategy produced parseable JSON")

// StructuralError carries the raw response that every strategy rejected.
type StructuralError struct {
	Raw   string
	Tried []string
}

func (e *StructuralError) Error() string { return ErrStructural.Error() }

// Unwrap lets errors.Is match ErrStructural.
func (e *StructuralError) Unwrap() error { return ErrStructural }

// Result is the first candidate that parsed.
type Result struct {
	Strategy string
	Text     string
	Value    any
}

// Engine applies strategies in a fixed order. Every strategy receives the
// original raw text, never the output of another strategy.
type Engine struct {
	strategies []Strategy
}

// DefaultStrategies returns brace matching, key quoting and completion by
// closing, in that order.
func DefaultStrategies() []Strategy {
	return []Strategy{BraceMatch{}, KeyQuote{}, CloseOpen{}}
}

// NewEngine creates an Engine. With no strategies it uses DefaultStrategies.
func NewEngine(strategies ...Strategy) *Engine {
	if len(strategies) == 0 {
		strategies = DefaultStrategies()
	}
	return &Engine{strategies: strategies}
}

// Repair returns the first strategy result that parses, or a
// *StructuralError.
func (e *Engine) Repair(raw string) (*Result, error) {
	tried := make([]string, 0, len(e.strategies))
	for _, s := range e.strategies {
		tried = append(tried, s.Name())
		candidate, ok := s.Repair(raw)
		if !ok {
			zap.L().Debug("jsonrepair: strategy failed", zap.String("strategy", s.Name()))
			continue
		}
		v, ok := Parse(candidate)
		if !ok {
			continue
		}
		return &Result{Strategy: s.Name(), Text: candidate, Value: v}, nil
	}
	return nil, &StructuralError{Raw: raw, Tried: tried}
}
