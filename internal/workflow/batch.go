package workflow

import (
	"context"
	"encoding/json"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/cv-extract/internal/config"
	"github.com/sells-group/cv-extract/internal/textproc"
)

// FileError records why one batch input did not produce a record.
type FileError struct {
	Path   string `json:"path"`
	Stage  string `json:"stage"` // "validate", "process" or "extract"
	Reason string `json:"reason"`
}

// Summary reports a finished batch.
type Summary struct {
	Found       int           `json:"found"`
	Succeeded   int           `json:"succeeded"`
	Duplicates  int           `json:"duplicates"`
	Failed      int           `json:"failed"`
	Skipped     int           `json:"skipped"`
	SuccessRate float64       `json:"success_rate"`
	Cost        float64       `json:"cost"`
	Duration    time.Duration `json:"duration"`
	Errors      []FileError   `json:"errors,omitempty"`
}

// BatchOptions controls a batch run.
type BatchOptions struct {
	Options
	// Limit caps the number of files processed when > 0.
	Limit int
}

// Batch processes every supported file under a directory or zip archive.
type Batch struct {
	proc *Processor
	cfg  config.BatchConfig
}

// NewBatch creates a Batch.
func NewBatch(proc *Processor, cfg config.BatchConfig) *Batch {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	return &Batch{proc: proc, cfg: cfg}
}

// Run processes the files under root, which is a directory or a .zip
// archive. Individual failures never abort the batch; Run returns an error
// only if root cannot be read.
func (b *Batch) Run(ctx context.Context, root string, opts BatchOptions) (*Summary, error) {
	start := time.Now()

	dir := root
	archive := ""
	if strings.EqualFold(filepath.Ext(root), ".zip") {
		abs, err := filepath.Abs(root)
		if err != nil {
			return nil, eris.Wrap(err, "workflow: resolve archive path")
		}
		tmp, err := os.MkdirTemp("", "cv-extract-*")
		if err != nil {
			return nil, eris.Wrap(err, "workflow: create temp dir")
		}
		defer os.RemoveAll(tmp) //nolint:errcheck
		if _, err := textproc.ExtractArchive(abs, tmp); err != nil {
			return nil, eris.Wrap(err, "workflow: extract archive")
		}
		dir, archive = tmp, abs
	}

	// Extracted files are recorded under their archive entry so they can be
	// read again after the temp dir is removed.
	source := func(path string) string {
		if archive == "" {
			return path
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return path
		}
		return textproc.ArchiveSource(archive, rel)
	}

	files, rejected, err := b.Collect(dir)
	if err != nil {
		return nil, err
	}
	for i := range rejected {
		rejected[i].Path = source(rejected[i].Path)
	}
	if opts.Limit > 0 && len(files) > opts.Limit {
		files = files[:opts.Limit]
	}

	summary := &Summary{
		Found:   len(files) + len(rejected),
		Skipped: len(rejected),
		Errors:  rejected,
	}
	zap.L().Info("workflow: batch starting",
		zap.String("root", root),
		zap.Int("files", len(files)),
		zap.Int("skipped", len(rejected)),
		zap.Int("concurrency", b.cfg.Concurrency),
	)

	var succeeded, duplicates, failed atomic.Int64
	var mu sync.Mutex
	var totalCost float64
	fail := func(path, stage, reason string) {
		failed.Add(1)
		mu.Lock()
		summary.Errors = append(summary.Errors, FileError{Path: path, Stage: stage, Reason: reason})
		mu.Unlock()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.cfg.Concurrency)

	for _, path := range files {
		src := source(path)
		g.Go(func() error {
			if gctx.Err() != nil {
				fail(src, "process", gctx.Err().Error())
				return nil
			}
			log := zap.L().With(zap.String("path", src))

			res, err := b.proc.processFile(gctx, path, src, opts.Options)
			if err != nil {
				log.Error("workflow: document failed", zap.Error(err))
				fail(src, "process", err.Error())
				return nil // don't fail the batch
			}

			mu.Lock()
			totalCost += res.Cost
			mu.Unlock()

			switch {
			case res.Duplicate:
				duplicates.Add(1)
			case res.Succeeded():
				succeeded.Add(1)
			default:
				fail(src, "extract", failureReason(res))
			}
			return nil
		})
	}

	_ = g.Wait()

	summary.Succeeded = int(succeeded.Load())
	summary.Duplicates = int(duplicates.Load())
	summary.Failed = int(failed.Load())
	summary.Cost = totalCost
	summary.Duration = time.Since(start)
	if attempted := summary.Succeeded + summary.Failed; attempted > 0 {
		summary.SuccessRate = float64(summary.Succeeded) / float64(attempted)
	}
	sort.Slice(summary.Errors, func(i, j int) bool { return summary.Errors[i].Path < summary.Errors[j].Path })

	zap.L().Info("workflow: batch complete",
		zap.Int("found", summary.Found),
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("duplicates", summary.Duplicates),
		zap.Int("failed", summary.Failed),
		zap.Int("skipped", summary.Skipped),
		zap.Float64("cost", summary.Cost),
		zap.Duration("duration", summary.Duration),
	)
	return summary, nil
}

// Collect walks dir and returns the supported files in path order, plus a
// FileError for each file rejected by extension or size. Hidden files and
// directories are ignored.
func (b *Batch) Collect(dir string) ([]string, []FileError, error) {
	var files []string
	var rejected []FileError

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if strings.HasPrefix(d.Name(), ".") && path != dir {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if reason := b.reject(path, info.Size()); reason != "" {
			rejected = append(rejected, FileError{Path: path, Stage: "validate", Reason: reason})
			return nil
		}
		files = append(files, path)
		return nil
	})
	if err != nil {
		return nil, nil, eris.Wrapf(err, "workflow: walk %s", dir)
	}
	sort.Strings(files)
	return files, rejected, nil
}

func (b *Batch) reject(path string, size int64) string {
	if len(b.cfg.Extensions) > 0 {
		ext := strings.ToLower(filepath.Ext(path))
		ok := false
		for _, e := range b.cfg.Extensions {
			if strings.ToLower(e) == ext {
				ok = true
				break
			}
		}
		if !ok {
			return "unsupported file type " + ext
		}
	}
	if b.cfg.MinFileBytes > 0 && size < b.cfg.MinFileBytes {
		return "file too small"
	}
	if b.cfg.MaxFileBytes > 0 && size > b.cfg.MaxFileBytes {
		return "file too large"
	}
	return ""
}

func failureReason(res *Result) string {
	if res.Outcome == nil || res.Outcome.Failure == nil {
		return "extraction failed"
	}
	parts := make([]string, 0, len(res.Outcome.Failure.Attempts))
	for _, a := range res.Outcome.Failure.Attempts {
		parts = append(parts, a.Model+": "+a.Reason)
	}
	return strings.Join(parts, "; ")
}

// WriteErrorLog writes the batch summary as indented JSON to path.
func WriteErrorLog(path string, s *Summary) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return eris.Wrap(err, "workflow: marshal error log")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return eris.Wrapf(err, "workflow: write error log %s", path)
	}
	return nil
}
