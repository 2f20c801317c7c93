// Package workflow drives extraction of documents end to end: dedupe,
// persistence, the model fallback chain and dead letter handling.
package workflow

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/cv-extract/internal/cost"
	"github.com/sells-group/cv-extract/internal/extract"
	"github.com/sells-group/cv-extract/internal/model"
	"github.com/sells-group/cv-extract/internal/resilience"
	"github.com/sells-group/cv-extract/internal/schema"
	"github.com/sells-group/cv-extract/internal/store"
	"github.com/sells-group/cv-extract/internal/textproc"
)

// Extractor runs the model fallback chain for one request.
type Extractor interface {
	Extract(ctx context.Context, req model.ExtractionRequest) (*model.Outcome, error)
}

// Options controls a single document run.
type Options struct {
	// Force re-extracts a document whose content was already seen.
	Force bool
	// Charset overrides input encoding detection.
	Charset string
}

// Result is the outcome of processing one document.
type Result struct {
	Path      string         `json:"path"`
	Document  model.Document `json:"document"`
	Run       *model.Run     `json:"run,omitempty"`
	Outcome   *model.Outcome `json:"-"`
	Duplicate bool           `json:"duplicate"`
	Cost      float64        `json:"cost"`
}

// Succeeded reports whether a record was extracted.
func (r *Result) Succeeded() bool {
	return r.Outcome != nil && r.Outcome.Succeeded()
}

// Processor persists and extracts single documents.
type Processor struct {
	store         store.Store
	extractor     Extractor
	spec          schema.Spec
	costs         *cost.Calculator
	retry         resilience.RetryConfig
	dlqMaxRetries int
	skipLines     bool
}

// ProcessorConfig holds the Processor settings that come from config.
type ProcessorConfig struct {
	Retry         resilience.RetryConfig
	DLQMaxRetries int
	// SkipLines disables line segmentation of new documents.
	SkipLines bool
}

// NewProcessor creates a Processor.
func NewProcessor(st store.Store, ex Extractor, spec schema.Spec, costs *cost.Calculator, cfg ProcessorConfig) *Processor {
	if costs == nil {
		costs = cost.NewCalculator(cost.DefaultRates())
	}
	return &Processor{
		store:         st,
		extractor:     ex,
		spec:          spec,
		costs:         costs,
		retry:         cfg.Retry,
		dlqMaxRetries: cfg.DLQMaxRetries,
		skipLines:     cfg.SkipLines,
	}
}

// ProcessFile reads, decodes and extracts the text file at path.
func (p *Processor) ProcessFile(ctx context.Context, path string, opts Options) (*Result, error) {
	return p.processFile(ctx, path, path, opts)
}

// processFile reads path and records the document under source, which is
// where Reprocess reads it back from.
func (p *Processor) processFile(ctx context.Context, path, source string, opts Options) (*Result, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "workflow: read file")
	}
	text, err := textproc.Decode(bytes.NewReader(raw), opts.Charset)
	if err != nil {
		return nil, eris.Wrapf(err, "workflow: decode %s", source)
	}

	sum := sha256.Sum256(raw)
	doc := model.Document{
		SourcePath: source,
		SHA256:     hex.EncodeToString(sum[:]),
		SizeBytes:  int64(len(raw)),
		Text:       textproc.Normalize(text),
	}
	return p.Process(ctx, doc, opts)
}

// Process extracts doc. A document whose hash is already stored is reported
// as a duplicate without a run unless opts.Force is set, in which case the
// stored document gets a new run.
//
// Extraction failure is not an error: the run is finished as failed, the
// document is queued for retry and the Result carries the failure.
func (p *Processor) Process(ctx context.Context, doc model.Document, opts Options) (*Result, error) {
	log := zap.L().With(zap.String("path", doc.SourcePath))

	existing, err := resilience.Retry(ctx, p.retry, "find document", func(ctx context.Context) (*model.Document, error) {
		return p.store.FindDocumentByHash(ctx, doc.SHA256)
	})
	if err != nil {
		return nil, eris.Wrap(err, "workflow: find document")
	}

	if existing != nil {
		if !opts.Force {
			log.Info("workflow: duplicate document skipped", zap.String("document_id", existing.ID))
			return &Result{Path: doc.SourcePath, Document: *existing, Duplicate: true}, nil
		}
		existing.Text = doc.Text
		doc = *existing
	} else {
		created, err := p.register(ctx, doc)
		var race *registeredError
		switch {
		case errors.As(err, &race):
			if !opts.Force {
				log.Info("workflow: duplicate document skipped", zap.String("document_id", race.doc.ID))
				return &Result{Path: doc.SourcePath, Document: *race.doc, Duplicate: true}, nil
			}
			race.doc.Text = doc.Text
			doc = *race.doc
		case err != nil:
			return nil, err
		default:
			doc = *created
		}
	}

	return p.run(ctx, doc)
}

// Reprocess runs extraction again for a stored document, reading its text
// from the source path. Archive sources are read from the archive.
func (p *Processor) Reprocess(ctx context.Context, documentID string, opts Options) (*Result, error) {
	doc, err := p.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, eris.Wrap(err, "workflow: get document")
	}
	text, err := textproc.ReadFile(doc.SourcePath, opts.Charset)
	if err != nil {
		return nil, eris.Wrapf(err, "workflow: reread document %s", doc.ID)
	}
	doc.Text = textproc.Normalize(text)
	return p.run(ctx, *doc)
}

// registeredError reports that another run stored the same content between
// the hash lookup and the insert.
type registeredError struct {
	doc *model.Document
	err error
}

func (e *registeredError) Error() string { return "workflow: document already registered: " + e.err.Error() }

func (e *registeredError) Unwrap() error { return e.err }

func (p *Processor) register(ctx context.Context, doc model.Document) (*model.Document, error) {
	text := doc.Text
	created, err := resilience.Retry(ctx, p.retry, "create document", func(ctx context.Context) (*model.Document, error) {
		return p.store.CreateDocument(ctx, doc)
	})
	if err != nil {
		if dup, findErr := p.store.FindDocumentByHash(ctx, doc.SHA256); findErr == nil && dup != nil {
			return nil, &registeredError{doc: dup, err: err}
		}
		return nil, eris.Wrap(err, "workflow: create document")
	}
	created.Text = text

	if p.skipLines {
		return created, nil
	}
	lines := textproc.Lines(created.ID, text)
	n, err := resilience.Retry(ctx, p.retry, "replace lines", func(ctx context.Context) (int, error) {
		return p.store.ReplaceLines(ctx, created.ID, lines)
	})
	if err != nil {
		return nil, eris.Wrap(err, "workflow: store lines")
	}
	zap.L().Debug("workflow: lines stored", zap.String("document_id", created.ID), zap.Int("lines", n))
	return created, nil
}

func (p *Processor) run(ctx context.Context, doc model.Document) (*Result, error) {
	log := zap.L().With(zap.String("document_id", doc.ID), zap.String("path", doc.SourcePath))

	run, err := resilience.Retry(ctx, p.retry, "create run", func(ctx context.Context) (*model.Run, error) {
		return p.store.CreateRun(ctx, doc)
	})
	if err != nil {
		return nil, eris.Wrap(err, "workflow: create run")
	}
	if err := resilience.Do(ctx, p.retry, "update run status", func(ctx context.Context) error {
		return p.store.UpdateRunStatus(ctx, run.ID, model.RunStatusExtracting)
	}); err != nil {
		return nil, eris.Wrap(err, "workflow: mark run extracting")
	}

	req := model.ExtractionRequest{
		DocumentID: filepath.Base(doc.SourcePath),
		Text:       doc.Text,
		Spec:       p.spec,
	}
	start := time.Now()
	outcome, extractErr := p.extractor.Extract(ctx, req)
	if extractErr != nil && !errors.Is(extractErr, extract.ErrExhaustedFallback) {
		return nil, eris.Wrap(extractErr, "workflow: extract")
	}
	if outcome == nil {
		return nil, eris.New("workflow: extractor returned no outcome")
	}

	// The outcome is recorded even when ctx was cancelled mid-run.
	persistCtx := context.WithoutCancel(ctx)

	result, err := p.record(persistCtx, run, outcome, time.Since(start))
	if err != nil {
		return nil, err
	}
	res := &Result{Path: doc.SourcePath, Document: doc, Run: run, Outcome: outcome, Cost: result.Cost}

	if outcome.Succeeded() {
		log.Info("workflow: document extracted",
			zap.String("run_id", run.ID),
			zap.String("model", outcome.Record.ModelUsed),
			zap.Float64("cost", result.Cost),
		)
		return res, nil
	}

	if err := p.enqueue(persistCtx, doc, extractErr, *outcome.Failure); err != nil {
		log.Error("workflow: dlq enqueue failed", zap.Error(err))
	}
	log.Warn("workflow: extraction exhausted", zap.String("run_id", run.ID), zap.Error(extractErr))
	return res, nil
}

// record persists the attempt history and finishes the run.
func (p *Processor) record(ctx context.Context, run *model.Run, outcome *model.Outcome, elapsed time.Duration) (*model.RunResult, error) {
	records := make([]model.AttemptRecord, len(outcome.Attempts))
	for i := range outcome.Attempts {
		records[i] = model.NewAttemptRecord(run.ID, i+1, outcome.Attempts[i])
		records[i].Cost = p.costs.Attempt(&outcome.Attempts[i])
	}
	if err := resilience.Do(ctx, p.retry, "save attempts", func(ctx context.Context) error {
		return p.store.SaveAttempts(ctx, records)
	}); err != nil {
		return nil, eris.Wrap(err, "workflow: save attempts")
	}

	result := &model.RunResult{
		DurationMS: elapsed.Milliseconds(),
		Tokens:     outcome.Usage(),
		Cost:       p.costs.Outcome(outcome),
		Failure:    outcome.Failure,
	}
	status := model.RunStatusFailed
	if rec := outcome.Record; rec != nil {
		data, err := json.Marshal(rec.Data)
		if err != nil {
			return nil, eris.Wrap(err, "workflow: marshal record")
		}
		status = model.RunStatusComplete
		result.ModelUsed = rec.ModelUsed
		result.DurationMS = rec.Duration.Milliseconds()
		result.Record = data
		result.Warnings = rec.Warnings
	}

	if err := resilience.Do(ctx, p.retry, "finish run", func(ctx context.Context) error {
		return p.store.FinishRun(ctx, run.ID, status, result)
	}); err != nil {
		return nil, eris.Wrap(err, "workflow: finish run")
	}
	run.Status = status
	run.Result = result
	return result, nil
}

func (p *Processor) enqueue(ctx context.Context, doc model.Document, cause error, failure model.ExtractionFailure) error {
	now := time.Now().UTC()
	msg := "extraction exhausted"
	if cause != nil {
		msg = cause.Error()
	}
	entry := resilience.DLQEntry{
		DocumentID:   doc.ID,
		SourcePath:   doc.SourcePath,
		Error:        msg,
		ErrorType:    resilience.ClassifyFailure(failure),
		MaxRetries:   p.dlqMaxRetries,
		NextRetryAt:  now.Add(resilience.RetryDelay(0)),
		CreatedAt:    now,
		LastFailedAt: now,
	}
	return resilience.Do(ctx, p.retry, "enqueue dlq", func(ctx context.Context) error {
		return p.store.EnqueueDLQ(ctx, entry)
	})
}
