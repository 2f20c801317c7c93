package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/cv-extract/internal/db"
	"github.com/sells-group/cv-extract/internal/model"
	"github.com/sells-group/cv-extract/internal/resilience"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(1)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS documents (
	id          TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	source_path TEXT NOT NULL,
	sha256      TEXT NOT NULL UNIQUE,
	size_bytes  BIGINT NOT NULL DEFAULT 0,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS document_lines (
	document_id TEXT NOT NULL REFERENCES documents(id),
	line_number INTEGER NOT NULL,
	line_text   TEXT NOT NULL,
	line_type   TEXT NOT NULL,
	PRIMARY KEY (document_id, line_number)
);

CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	document_id TEXT NOT NULL REFERENCES documents(id),
	source_path TEXT NOT NULL,
	status      TEXT NOT NULL DEFAULT 'queued',
	model_used  TEXT NOT NULL DEFAULT '',
	cost        DOUBLE PRECISION NOT NULL DEFAULT 0,
	result      JSONB,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS run_attempts (
	id              TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	run_id          TEXT NOT NULL REFERENCES runs(id),
	seq             INTEGER NOT NULL,
	model           TEXT NOT NULL,
	outcome         TEXT NOT NULL,
	kind            TEXT NOT NULL DEFAULT '',
	reason          TEXT NOT NULL DEFAULT '',
	truncated       BOOLEAN NOT NULL DEFAULT false,
	continued       BOOLEAN NOT NULL DEFAULT false,
	repair_strategy TEXT NOT NULL DEFAULT '',
	duration_ms     BIGINT NOT NULL DEFAULT 0,
	input_tokens    INTEGER NOT NULL DEFAULT 0,
	output_tokens   INTEGER NOT NULL DEFAULT 0,
	cost            DOUBLE PRECISION NOT NULL DEFAULT 0,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (run_id, seq)
);

CREATE TABLE IF NOT EXISTS dead_letter_queue (
	id             TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	document_id    TEXT NOT NULL UNIQUE,
	source_path    TEXT NOT NULL,
	error          TEXT NOT NULL,
	error_type     TEXT NOT NULL DEFAULT 'transient',
	retry_count    INTEGER NOT NULL DEFAULT 0,
	max_retries    INTEGER NOT NULL DEFAULT 3,
	next_retry_at  TIMESTAMPTZ NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	last_failed_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_document_id ON runs(document_id);
CREATE INDEX IF NOT EXISTS idx_run_attempts_run_id ON run_attempts(run_id);
CREATE INDEX IF NOT EXISTS idx_dlq_error_type ON dead_letter_queue(error_type);
CREATE INDEX IF NOT EXISTS idx_dlq_next_retry ON dead_letter_queue(next_retry_at);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// --- Documents ---

func (s *PostgresStore) CreateDocument(ctx context.Context, doc model.Document) (*model.Document, error) {
	if doc.ID == "" {
		doc.ID = uuid.New().String()
	}
	doc.CreatedAt = time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO documents (id, source_path, sha256, size_bytes, created_at) VALUES ($1, $2, $3, $4, $5)`,
		doc.ID, doc.SourcePath, doc.SHA256, doc.SizeBytes, doc.CreatedAt,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: insert document %s", doc.SourcePath)
	}
	return &doc, nil
}

func (s *PostgresStore) GetDocument(ctx context.Context, id string) (*model.Document, error) {
	var d model.Document
	err := s.pool.QueryRow(ctx,
		`SELECT id, source_path, sha256, size_bytes, created_at FROM documents WHERE id = $1`, id,
	).Scan(&d.ID, &d.SourcePath, &d.SHA256, &d.SizeBytes, &d.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notFound("document", id)
		}
		return nil, eris.Wrapf(err, "postgres: get document %s", id)
	}
	return &d, nil
}

func (s *PostgresStore) FindDocumentByHash(ctx context.Context, sha256 string) (*model.Document, error) {
	var d model.Document
	err := s.pool.QueryRow(ctx,
		`SELECT id, source_path, sha256, size_bytes, created_at FROM documents WHERE sha256 = $1`, sha256,
	).Scan(&d.ID, &d.SourcePath, &d.SHA256, &d.SizeBytes, &d.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: find document by hash")
	}
	return &d, nil
}

var lineColumns = []string{"document_id", "line_number", "line_text", "line_type"}

func (s *PostgresStore) ReplaceLines(ctx context.Context, documentID string, lines []model.TextLine) (int, error) {
	rows := make([][]any, len(lines))
	for i, l := range lines {
		rows[i] = []any{documentID, l.Number, l.Text, string(l.Type)}
	}
	n, err := db.ReplaceRows(ctx, s.pool, "document_lines", "document_id", documentID, lineColumns, rows)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: replace lines of %s", documentID)
	}
	return int(n), nil
}

func (s *PostgresStore) ListLines(ctx context.Context, documentID string) ([]model.TextLine, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT document_id, line_number, line_text, line_type FROM document_lines
		 WHERE document_id = $1 ORDER BY line_number`,
		documentID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list lines")
	}
	defer rows.Close()

	var lines []model.TextLine
	for rows.Next() {
		var l model.TextLine
		if err := rows.Scan(&l.DocumentID, &l.Number, &l.Text, &l.Type); err != nil {
			return nil, eris.Wrap(err, "postgres: scan line")
		}
		lines = append(lines, l)
	}
	return lines, eris.Wrap(rows.Err(), "postgres: list lines iterate")
}

// --- Runs ---

func (s *PostgresStore) CreateRun(ctx context.Context, doc model.Document) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO runs (id, document_id, source_path, status, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		id, doc.ID, doc.SourcePath, string(model.RunStatusQueued), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
	}

	return &model.Run{
		ID:         id,
		DocumentID: doc.ID,
		SourcePath: doc.SourcePath,
		Status:     model.RunStatusQueued,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

func (s *PostgresStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, updated_at = $2 WHERE id = $3`,
		string(status), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update run status %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return notFound("run", runID)
	}
	return nil
}

func (s *PostgresStore) FinishRun(ctx context.Context, runID string, status model.RunStatus, result *model.RunResult) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal result")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET result = $1, status = $2, model_used = $3, cost = $4, updated_at = $5 WHERE id = $6`,
		resultJSON, string(status), result.ModelUsed, result.Cost, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: finish run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return notFound("run", runID)
	}
	return nil
}

const postgresRunColumns = `id, document_id, source_path, status, result, created_at, updated_at`

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+postgresRunColumns+` FROM runs WHERE id = $1`,
		runID,
	)
	r, err := scanPostgresRun(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notFound("run", runID)
		}
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}
	return r, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT ` + postgresRunColumns + ` FROM runs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if filter.DocumentID != "" {
		query += fmt.Sprintf(` AND document_id = $%d`, argIdx)
		args = append(args, filter.DocumentID)
		argIdx++
	}
	if filter.Model != "" {
		query += fmt.Sprintf(` AND model_used = $%d`, argIdx)
		args = append(args, filter.Model)
		argIdx++
	}
	if !filter.Since.IsZero() {
		query += fmt.Sprintf(` AND created_at >= $%d`, argIdx)
		args = append(args, filter.Since.UTC())
		argIdx++
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d`, argIdx)
	args = append(args, listLimit(filter.Limit))
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := scanPostgresRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

func scanPostgresRun(row pgx.Row) (*model.Run, error) {
	var r model.Run
	var resultJSON []byte
	if err := row.Scan(&r.ID, &r.DocumentID, &r.SourcePath, &r.Status, &resultJSON, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	if resultJSON != nil {
		r.Result = &model.RunResult{}
		if err := json.Unmarshal(resultJSON, r.Result); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal result")
		}
	}
	return &r, nil
}

func (s *PostgresStore) Stats(ctx context.Context) (*model.RunStats, error) {
	stats := &model.RunStats{ByStatus: map[string]int{}, ByModel: map[string]int{}}

	if err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*), COALESCE(SUM(cost), 0) FROM runs`,
	).Scan(&stats.Total, &stats.TotalCost); err != nil {
		return nil, eris.Wrap(err, "postgres: run totals")
	}
	if err := s.countInto(ctx, stats.ByStatus, `SELECT status, COUNT(*) FROM runs GROUP BY status`); err != nil {
		return nil, eris.Wrap(err, "postgres: runs by status")
	}
	if err := s.countInto(ctx, stats.ByModel,
		`SELECT model_used, COUNT(*) FROM runs WHERE model_used <> '' GROUP BY model_used`,
	); err != nil {
		return nil, eris.Wrap(err, "postgres: runs by model")
	}
	return stats, nil
}

func (s *PostgresStore) countInto(ctx context.Context, dst map[string]int, query string) error {
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var n int
		if err := rows.Scan(&key, &n); err != nil {
			return err
		}
		dst[key] = n
	}
	return rows.Err()
}

// --- Attempts ---

var attemptColumns = []string{
	"id", "run_id", "seq", "model", "outcome", "kind", "reason", "truncated", "continued",
	"repair_strategy", "duration_ms", "input_tokens", "output_tokens", "cost", "created_at",
}

func (s *PostgresStore) SaveAttempts(ctx context.Context, attempts []model.AttemptRecord) error {
	now := time.Now().UTC()
	rows := make([][]any, len(attempts))
	for i, a := range attempts {
		if a.ID == "" {
			a.ID = uuid.New().String()
		}
		if a.CreatedAt.IsZero() {
			a.CreatedAt = now
		}
		rows[i] = []any{
			a.ID, a.RunID, a.Seq, a.Model, string(a.Outcome), string(a.Kind), a.Reason, a.Truncated, a.Continued,
			a.RepairStrategy, a.DurationMS, a.Tokens.InputTokens, a.Tokens.OutputTokens, a.Cost, a.CreatedAt,
		}
	}
	_, err := db.CopyFrom(ctx, s.pool, "run_attempts", attemptColumns, rows)
	return eris.Wrap(err, "postgres: save attempts")
}

func (s *PostgresStore) ListAttempts(ctx context.Context, runID string) ([]model.AttemptRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, run_id, seq, model, outcome, kind, reason, truncated, continued, repair_strategy,
		        duration_ms, input_tokens, output_tokens, cost, created_at
		 FROM run_attempts WHERE run_id = $1 ORDER BY seq`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list attempts")
	}
	defer rows.Close()

	var out []model.AttemptRecord
	for rows.Next() {
		var a model.AttemptRecord
		if err := rows.Scan(&a.ID, &a.RunID, &a.Seq, &a.Model, &a.Outcome, &a.Kind, &a.Reason,
			&a.Truncated, &a.Continued, &a.RepairStrategy,
			&a.DurationMS, &a.Tokens.InputTokens, &a.Tokens.OutputTokens, &a.Cost, &a.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan attempt")
		}
		out = append(out, a)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list attempts iterate")
}

// --- Dead letter queue ---

func (s *PostgresStore) EnqueueDLQ(ctx context.Context, entry resilience.DLQEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO dead_letter_queue
		 (id, document_id, source_path, error, error_type, retry_count, max_retries, next_retry_at, created_at, last_failed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (document_id) DO UPDATE SET
		   error = $4, error_type = $5, next_retry_at = $8, last_failed_at = $10`,
		entry.ID, entry.DocumentID, entry.SourcePath, entry.Error, entry.ErrorType,
		entry.RetryCount, entry.MaxRetries,
		entry.NextRetryAt, entry.CreatedAt, entry.LastFailedAt,
	)
	return eris.Wrap(err, "postgres: enqueue dlq")
}

const postgresDLQColumns = `id, document_id, source_path, error, error_type, retry_count, max_retries, next_retry_at, created_at, last_failed_at`

func (s *PostgresStore) DequeueDLQ(ctx context.Context, filter resilience.DLQFilter) ([]resilience.DLQEntry, error) {
	query := `SELECT ` + postgresDLQColumns + `
	          FROM dead_letter_queue
	          WHERE next_retry_at <= now() AND retry_count < max_retries`
	args := []any{}
	argIdx := 1

	if filter.ErrorType != "" {
		query += fmt.Sprintf(` AND error_type = $%d`, argIdx)
		args = append(args, filter.ErrorType)
		argIdx++
	}
	query += fmt.Sprintf(` ORDER BY next_retry_at ASC LIMIT $%d`, argIdx)
	args = append(args, listLimit(filter.Limit))

	return s.queryDLQ(ctx, "dequeue", query, args...)
}

func (s *PostgresStore) ListDLQ(ctx context.Context, filter resilience.DLQFilter) ([]resilience.DLQEntry, error) {
	query := `SELECT ` + postgresDLQColumns + ` FROM dead_letter_queue WHERE true`
	args := []any{}
	argIdx := 1

	if filter.ErrorType != "" {
		query += fmt.Sprintf(` AND error_type = $%d`, argIdx)
		args = append(args, filter.ErrorType)
		argIdx++
	}
	query += fmt.Sprintf(` ORDER BY created_at ASC LIMIT $%d`, argIdx)
	args = append(args, listLimit(filter.Limit))

	return s.queryDLQ(ctx, "list", query, args...)
}

func (s *PostgresStore) queryDLQ(ctx context.Context, op, query string, args ...any) ([]resilience.DLQEntry, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: %s dlq", op)
	}
	defer rows.Close()

	var entries []resilience.DLQEntry
	for rows.Next() {
		var e resilience.DLQEntry
		if err := rows.Scan(&e.ID, &e.DocumentID, &e.SourcePath, &e.Error, &e.ErrorType,
			&e.RetryCount, &e.MaxRetries, &e.NextRetryAt, &e.CreatedAt, &e.LastFailedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan dlq entry")
		}
		entries = append(entries, e)
	}
	return entries, eris.Wrapf(rows.Err(), "postgres: %s dlq iterate", op)
}

func (s *PostgresStore) IncrementDLQRetry(ctx context.Context, id string, nextRetryAt time.Time, lastErr string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE dead_letter_queue
		 SET retry_count = retry_count + 1, next_retry_at = $1, error = $2, last_failed_at = now()
		 WHERE id = $3`,
		nextRetryAt, lastErr, id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: increment dlq retry %s", id)
	}
	if tag.RowsAffected() == 0 {
		return notFound("dlq_entry", id)
	}
	return nil
}

func (s *PostgresStore) RemoveDLQ(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM dead_letter_queue WHERE id = $1`, id)
	return eris.Wrap(err, "postgres: remove dlq")
}

func (s *PostgresStore) CountDLQ(ctx context.Context) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM dead_letter_queue`).Scan(&count)
	return count, eris.Wrap(err, "postgres: count dlq")
}
