package workflow

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/cv-extract/internal/resilience"
)

// RetryOptions controls a dead letter queue retry pass.
type RetryOptions struct {
	Options
	// Due limits the pass to entries whose next retry time has passed.
	Due       bool
	ErrorType string
	Limit     int
}

// RetrySummary reports a dead letter queue retry pass.
type RetrySummary struct {
	Attempted int `json:"attempted"`
	Recovered int `json:"recovered"`
	Failed    int `json:"failed"`
	// Exhausted counts entries skipped because they used all their retries.
	Exhausted int `json:"exhausted"`
}

// RetryDLQ re-extracts queued documents one at a time. A recovered document
// leaves the queue; a failed one has its retry count bumped and its next
// retry pushed back.
func (p *Processor) RetryDLQ(ctx context.Context, opts RetryOptions) (*RetrySummary, error) {
	filter := resilience.DLQFilter{ErrorType: opts.ErrorType, Limit: opts.Limit}

	var (
		entries []resilience.DLQEntry
		err     error
	)
	if opts.Due {
		entries, err = p.store.DequeueDLQ(ctx, filter)
	} else {
		entries, err = p.store.ListDLQ(ctx, filter)
	}
	if err != nil {
		return nil, eris.Wrap(err, "workflow: load dlq")
	}

	summary := &RetrySummary{}
	for i := range entries {
		entry := &entries[i]
		if !entry.CanRetry() {
			summary.Exhausted++
			continue
		}
		if ctx.Err() != nil {
			break
		}
		summary.Attempted++
		log := zap.L().With(
			zap.String("document_id", entry.DocumentID),
			zap.Int("retry", entry.RetryCount+1),
		)

		res, err := p.Reprocess(ctx, entry.DocumentID, opts.Options)
		if err == nil && res.Succeeded() {
			if err := p.store.RemoveDLQ(context.WithoutCancel(ctx), entry.ID); err != nil {
				return summary, eris.Wrap(err, "workflow: remove dlq entry")
			}
			summary.Recovered++
			log.Info("workflow: dlq entry recovered")
			continue
		}

		summary.Failed++
		reason := "extraction exhausted"
		if err != nil {
			reason = err.Error()
		} else if res.Outcome != nil && res.Outcome.Failure != nil {
			reason = failureReason(res)
		}
		next := time.Now().Add(resilience.RetryDelay(entry.RetryCount + 1))
		if err := p.store.IncrementDLQRetry(context.WithoutCancel(ctx), entry.ID, next, reason); err != nil {
			return summary, eris.Wrap(err, "workflow: increment dlq retry")
		}
		log.Warn("workflow: dlq retry failed", zap.Time("next_retry_at", next), zap.String("reason", reason))
	}

	return summary, nil
}
