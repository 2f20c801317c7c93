package invoker

import (
	"context"

	"github.com/sells-group/cv-extract/internal/extract"
	"github.com/sells-group/cv-extract/internal/resilience"
)

// Guarded fails fast for models whose circuit is open. It never retries.
type Guarded struct {
	next     extract.Invoker
	breakers *resilience.Breakers
}

// NewGuarded wraps next with one breaker per model.
func NewGuarded(next extract.Invoker, breakers *resilience.Breakers) *Guarded {
	return &Guarded{next: next, breakers: breakers}
}

func (g *Guarded) Invoke(ctx context.Context, call extract.Call) (*extract.Completion, error) {
	return resilience.Call(ctx, g.breakers.Get(call.Model), func(ctx context.Context) (*extract.Completion, error) {
		return g.next.Invoke(ctx, call)
	})
}
