package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/cv-extract/internal/cost"
	"github.com/sells-group/cv-extract/internal/extract"
	"github.com/sells-group/cv-extract/internal/invoker"
	"github.com/sells-group/cv-extract/internal/resilience"
	"github.com/sells-group/cv-extract/internal/schema"
	"github.com/sells-group/cv-extract/internal/store"
	"github.com/sells-group/cv-extract/internal/workflow"
)

// extractEnv holds the store, the model chain and the processor used by the
// batch and dlq commands.
type extractEnv struct {
	Store        store.Store
	Orchestrator *extract.Orchestrator
	Processor    *workflow.Processor
}

// Close releases resources held by the environment.
func (e *extractEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

func initStore(ctx context.Context) (store.Store, error) {
	if err := cfg.Validate("store"); err != nil {
		return nil, err
	}
	st, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return nil, eris.Wrap(err, "open store")
	}
	return st, nil
}

// initOrchestrator builds the model chain: provider client, per-model
// circuit breakers and the fallback orchestrator.
func initOrchestrator() (*extract.Orchestrator, error) {
	breakerCfg, _ := resilience.FromConfig(cfg.Resilience)
	inv, err := invoker.New(cfg.LLM, resilience.NewBreakers(breakerCfg))
	if err != nil {
		return nil, err
	}
	validator, err := schema.NewValidator(schema.CV())
	if err != nil {
		return nil, eris.Wrap(err, "compile cv schema")
	}
	return extract.New(cfg.LLM, inv, validator), nil
}

// initExtractEnv sets up everything a persisted extraction needs. Callers
// should defer env.Close().
func initExtractEnv(ctx context.Context) (*extractEnv, error) {
	if err := cfg.Validate("batch"); err != nil {
		return nil, err
	}

	orch, err := initOrchestrator()
	if err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	_, retryCfg := resilience.FromConfig(cfg.Resilience)
	proc := workflow.NewProcessor(st, orch, schema.CV(), cost.FromConfig(cfg.Pricing), workflow.ProcessorConfig{
		Retry:         retryCfg,
		DLQMaxRetries: cfg.Resilience.DLQMaxRetries,
		SkipLines:     cfg.Batch.SkipLines,
	})

	return &extractEnv{Store: st, Orchestrator: orch, Processor: proc}, nil
}
