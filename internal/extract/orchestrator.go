// Package extract turns document text into a validated structured record by
// trying an ordered list of models, continuing truncated responses and
// repairing malformed ones.
package extract

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/cv-extract/internal/config"
	"github.com/sells-group/cv-extract/internal/jsonrepair"
	"github.com/sells-group/cv-extract/internal/model"
	"github.com/sells-group/cv-extract/internal/prompt"
	"github.com/sells-group/cv-extract/internal/schema"
)

// ErrExhaustedFallback is returned when every configured model failed.
var ErrExhaustedFallback = eris.New("extract: all models failed")

// ExhaustedError lists why each model failed, in attempt order.
type ExhaustedError struct {
	Failure model.ExtractionFailure
}

func (e *ExhaustedError) Error() string {
	parts := make([]string, len(e.Failure.Attempts))
	for i, a := range e.Failure.Attempts {
		parts[i] = a.Model + ": " + a.Reason
	}
	if len(parts) == 0 {
		return ErrExhaustedFallback.Error() + ": no models configured"
	}
	return ErrExhaustedFallback.Error() + ": " + strings.Join(parts, "; ")
}

// Unwrap lets errors.Is match ErrExhaustedFallback.
func (e *ExhaustedError) Unwrap() error { return ErrExhaustedFallback }

const defaultExcerptChars = 500

type stepKind int

const (
	stepValidated stepKind = iota
	stepNeedsContinuation
	stepNeedsRepair
	stepModelFailed
)

func (k stepKind) String() string {
	switch k {
	case stepValidated:
		return "validated"
	case stepNeedsContinuation:
		return "needs_continuation"
	case stepNeedsRepair:
		return "needs_repair"
	default:
		return "model_failed"
	}
}

// step is the result of one stage of a model attempt.
type step struct {
	kind     stepKind
	record   map[string]any
	warnings []string
	failure  model.FailureKind
	reason   string
}

func failed(kind model.FailureKind, reason string) step {
	return step{kind: stepModelFailed, failure: kind, reason: reason}
}

// Orchestrator runs the fallback state machine. Models are tried strictly
// in order, one at a time.
type Orchestrator struct {
	models      []string
	temperature float64
	excerpt     int
	invoker     Invoker
	validator   *schema.Validator
	engine      *jsonrepair.Engine
	budget      Budget
	continuer   *Continuer
}

// New creates an Orchestrator for the models of cfg.
func New(cfg config.LLMConfig, inv Invoker, validator *schema.Validator) *Orchestrator {
	budget := NewBudget(cfg)
	excerpt := cfg.ExcerptChars
	if excerpt <= 0 {
		excerpt = defaultExcerptChars
	}
	return &Orchestrator{
		models:      cfg.Models(),
		temperature: cfg.Temperature,
		excerpt:     excerpt,
		invoker:     inv,
		validator:   validator,
		engine:      jsonrepair.NewEngine(),
		budget:      budget,
		continuer:   NewContinuer(inv, budget, cfg.ContinuationMinMarkers, cfg.Temperature),
	}
}

// Models returns the attempt order.
func (o *Orchestrator) Models() []string {
	return append([]string(nil), o.models...)
}

// Extract produces a record for req. The returned Outcome is always non-nil
// and holds the attempt history. When every model fails the error is an
// *ExhaustedError and Outcome.Failure mirrors it.
//
// Cancelling ctx stops the run before the next model; a model attempt that
// has started runs to completion or to its own timeout.
func (o *Orchestrator) Extract(ctx context.Context, req model.ExtractionRequest) (*model.Outcome, error) {
	start := time.Now()
	log := zap.L().With(zap.String("document_id", req.DocumentID))
	pr := prompt.Build(req.DocumentID, req.Text, req.Spec)

	out := &model.Outcome{DocumentID: req.DocumentID}
	failure := model.ExtractionFailure{}

	for i, name := range o.models {
		if err := ctx.Err(); err != nil {
			for _, rest := range o.models[i:] {
				a := model.ModelAttempt{
					Model:   rest,
					Outcome: model.AttemptModelFailed,
					Kind:    model.FailureCancelled,
					Reason:  "cancelled before attempt: " + err.Error(),
				}
				out.Attempts = append(out.Attempts, a)
				failure.Attempts = append(failure.Attempts, model.AttemptFailure{Model: rest, Kind: a.Kind, Reason: a.Reason})
			}
			log.Warn("extract: cancelled", zap.Int("models_skipped", len(o.models)-i))
			break
		}

		a, s := o.attempt(ctx, req, pr, name)
		out.Attempts = append(out.Attempts, a)

		if s.kind == stepValidated {
			out.Record = &model.StructuredRecord{
				Data:      s.record,
				ModelUsed: name,
				Duration:  time.Since(start),
				Warnings:  s.warnings,
			}
			log.Info("extract: record validated",
				zap.String("model", name),
				zap.Int("attempt", i+1),
				zap.Bool("continued", a.Continued),
				zap.String("strategy", a.RepairStrategy),
				zap.Int("warnings", len(s.warnings)),
				zap.Duration("duration", out.Record.Duration),
			)
			return out, nil
		}

		failure.Attempts = append(failure.Attempts, model.AttemptFailure{Model: name, Kind: a.Kind, Reason: a.Reason})
		log.Warn("extract: model failed, trying next",
			zap.String("model", name),
			zap.Int("attempt", i+1),
			zap.String("kind", string(a.Kind)),
			zap.String("reason", a.Reason),
		)
	}

	out.Failure = &failure
	return out, &ExhaustedError{Failure: failure}
}

// attempt drives one model through invoke, direct parse, continuation and
// repair until it reaches a terminal step.
func (o *Orchestrator) attempt(ctx context.Context, req model.ExtractionRequest, pr prompt.Request, name string) (model.ModelAttempt, step) {
	a := model.ModelAttempt{Model: name}
	start := time.Now()

	// The attempt is not preempted by cancellation of ctx, only by its own
	// deadline.
	base := context.WithoutCancel(ctx)
	timeout := o.budget.Timeout(len(req.Text))

	var s step
	var trunc jsonrepair.Truncation
	if err := o.invoke(base, timeout, pr, name, &a); err != nil {
		s = failed(model.FailureTransport, err.Error())
	} else {
		trunc = jsonrepair.Detect(a.Raw, a.FinishReason == model.FinishLength)
		a.Truncated = trunc.Truncated
		s = o.direct(a.Raw, trunc, req.Spec)
	}

	for s.kind == stepNeedsContinuation || s.kind == stepNeedsRepair {
		zap.L().Debug("extract: step",
			zap.String("document_id", req.DocumentID),
			zap.String("model", name),
			zap.Stringer("step", s.kind),
		)
		if s.kind == stepNeedsContinuation {
			s = o.continueStep(base, timeout, req, name, trunc, &a)
		} else {
			s = o.repairStep(&a)
		}
	}

	a.Duration = time.Since(start)
	switch s.kind {
	case stepValidated:
		a.Outcome = model.AttemptValidated
		a.Warnings = s.warnings
	default:
		a.Outcome = model.AttemptModelFailed
		a.Kind = s.failure
		a.Reason = capText(s.reason, o.excerpt)
		a.Excerpt = capText(a.Raw, o.excerpt)
	}
	return a, s
}

func (o *Orchestrator) invoke(ctx context.Context, timeout time.Duration, pr prompt.Request, name string, a *model.ModelAttempt) error {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	comp, err := o.invoker.Invoke(callCtx, Call{
		Model:       name,
		Request:     pr,
		MaxTokens:   o.budget.ResponseTokens(name, len(pr.Text())),
		Temperature: o.temperature,
	})
	if err != nil {
		return &TransportError{Model: name, Err: err}
	}
	a.Raw = comp.Text
	a.FinishReason = comp.FinishReason
	a.Usage.Add(comp.Usage)
	return nil
}

// direct parses raw as-is. Unparseable text goes to continuation when it is
// truncated and shows enough structure, otherwise to repair.
func (o *Orchestrator) direct(raw string, trunc jsonrepair.Truncation, spec schema.Spec) step {
	if v, ok := jsonrepair.Parse(raw); ok {
		return o.validate(v)
	}
	if o.continuer.Eligible(raw, trunc, spec.Markers()) {
		return step{kind: stepNeedsContinuation}
	}
	return step{kind: stepNeedsRepair}
}

func (o *Orchestrator) continueStep(ctx context.Context, timeout time.Duration, req model.ExtractionRequest, name string, trunc jsonrepair.Truncation, a *model.ModelAttempt) step {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	a.Continued = true
	combined, usage, err := o.continuer.Continue(callCtx, req.DocumentID, name, a.Raw, trunc)
	a.Usage.Add(usage)
	if err != nil {
		a.ContinuationError = capText(err.Error(), o.excerpt)
		zap.L().Info("extract: continuation failed, repairing original response",
			zap.String("document_id", req.DocumentID),
			zap.String("model", name),
			zap.Error(err),
		)
		return step{kind: stepNeedsRepair}
	}

	v, _ := jsonrepair.Parse(combined)
	return o.validate(v)
}

func (o *Orchestrator) repairStep(a *model.ModelAttempt) step {
	res, err := o.engine.Repair(a.Raw)
	if err != nil {
		reason := "structural parse failure: " + err.Error()
		if a.ContinuationError != "" {
			reason += " (continuation: " + a.ContinuationError + ")"
		}
		return failed(model.FailureStructuralParse, reason)
	}
	a.RepairStrategy = res.Strategy
	return o.validate(res.Value)
}

func (o *Orchestrator) validate(v any) step {
	warnings, err := o.validator.Validate(v)
	if err != nil {
		return failed(model.FailureRequiredField, err.Error())
	}
	return step{kind: stepValidated, record: v.(map[string]any), warnings: warnings}
}

// capText truncates s to at most n bytes on a rune boundary.
func capText(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
