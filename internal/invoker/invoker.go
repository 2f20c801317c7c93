// Package invoker adapts provider clients to extract.Invoker and guards each
// model behind its own circuit breaker.
package invoker

import (
	"github.com/rotisserie/eris"

	"github.com/sells-group/cv-extract/internal/config"
	"github.com/sells-group/cv-extract/internal/extract"
	"github.com/sells-group/cv-extract/internal/resilience"
	"github.com/sells-group/cv-extract/pkg/anthropic"
	"github.com/sells-group/cv-extract/pkg/openrouter"
)

// New builds the invoker for cfg.Provider. When breakers is non-nil every
// call goes through the breaker of its model.
func New(cfg config.LLMConfig, breakers *resilience.Breakers) (extract.Invoker, error) {
	var inv extract.Invoker
	switch cfg.Provider {
	case "openrouter":
		opts := []openrouter.Option{openrouter.WithAttribution(cfg.Referer, cfg.Title)}
		if cfg.BaseURL != "" {
			opts = append(opts, openrouter.WithBaseURL(cfg.BaseURL))
		}
		inv = NewOpenRouter(openrouter.NewClient(cfg.APIKey, opts...))
	case "anthropic":
		var opts []anthropic.Option
		if cfg.BaseURL != "" {
			opts = append(opts, anthropic.WithBaseURL(cfg.BaseURL))
		}
		inv = NewAnthropic(anthropic.NewClient(cfg.APIKey, opts...))
	default:
		return nil, eris.Errorf("invoker: unsupported provider %q", cfg.Provider)
	}

	if breakers != nil {
		inv = NewGuarded(inv, breakers)
	}
	return inv, nil
}

// transient marks errors carrying a retryable HTTP status so the dead letter
// queue can classify them.
func transient(err error, status int) error {
	if resilience.IsTransientHTTPStatus(status) {
		return resilience.NewTransientError(err, status)
	}
	return err
}
