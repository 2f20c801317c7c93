package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/cv-extract/internal/model"
	"github.com/sells-group/cv-extract/internal/resilience"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// One connection serializes writers and keeps the pragmas in effect.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS documents (
	id          TEXT PRIMARY KEY,
	source_path TEXT NOT NULL,
	sha256      TEXT NOT NULL UNIQUE,
	size_bytes  INTEGER NOT NULL DEFAULT 0,
	created_at  DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS document_lines (
	document_id TEXT NOT NULL REFERENCES documents(id),
	line_number INTEGER NOT NULL,
	line_text   TEXT NOT NULL,
	line_type   TEXT NOT NULL,
	PRIMARY KEY (document_id, line_number)
);

CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	document_id TEXT NOT NULL REFERENCES documents(id),
	source_path TEXT NOT NULL,
	status      TEXT NOT NULL DEFAULT 'queued',
	model_used  TEXT NOT NULL DEFAULT '',
	cost        REAL NOT NULL DEFAULT 0,
	result      TEXT,
	created_at  DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at  DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS run_attempts (
	id              TEXT PRIMARY KEY,
	run_id          TEXT NOT NULL REFERENCES runs(id),
	seq             INTEGER NOT NULL,
	model           TEXT NOT NULL,
	outcome         TEXT NOT NULL,
	kind            TEXT NOT NULL DEFAULT '',
	reason          TEXT NOT NULL DEFAULT '',
	truncated       INTEGER NOT NULL DEFAULT 0,
	continued       INTEGER NOT NULL DEFAULT 0,
	repair_strategy TEXT NOT NULL DEFAULT '',
	duration_ms     INTEGER NOT NULL DEFAULT 0,
	input_tokens    INTEGER NOT NULL DEFAULT 0,
	output_tokens   INTEGER NOT NULL DEFAULT 0,
	cost            REAL NOT NULL DEFAULT 0,
	created_at      DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE (run_id, seq)
);

CREATE TABLE IF NOT EXISTS dead_letter_queue (
	id             TEXT PRIMARY KEY,
	document_id    TEXT NOT NULL UNIQUE,
	source_path    TEXT NOT NULL,
	error          TEXT NOT NULL,
	error_type     TEXT NOT NULL DEFAULT 'transient',
	retry_count    INTEGER NOT NULL DEFAULT 0,
	max_retries    INTEGER NOT NULL DEFAULT 3,
	next_retry_at  DATETIME NOT NULL,
	created_at     DATETIME NOT NULL DEFAULT (datetime('now')),
	last_failed_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_document_id ON runs(document_id);
CREATE INDEX IF NOT EXISTS idx_run_attempts_run_id ON run_attempts(run_id);
CREATE INDEX IF NOT EXISTS idx_dlq_next_retry ON dead_letter_queue(next_retry_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Documents ---

func (s *SQLiteStore) CreateDocument(ctx context.Context, doc model.Document) (*model.Document, error) {
	if doc.ID == "" {
		doc.ID = uuid.New().String()
	}
	doc.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (id, source_path, sha256, size_bytes, created_at) VALUES (?, ?, ?, ?, ?)`,
		doc.ID, doc.SourcePath, doc.SHA256, doc.SizeBytes, doc.CreatedAt,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: insert document %s", doc.SourcePath)
	}
	return &doc, nil
}

func (s *SQLiteStore) GetDocument(ctx context.Context, id string) (*model.Document, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, source_path, sha256, size_bytes, created_at FROM documents WHERE id = ?`, id,
	)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("document", id)
	}
	return doc, eris.Wrapf(err, "sqlite: get document %s", id)
}

func (s *SQLiteStore) FindDocumentByHash(ctx context.Context, sha256 string) (*model.Document, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, source_path, sha256, size_bytes, created_at FROM documents WHERE sha256 = ?`, sha256,
	)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return doc, eris.Wrap(err, "sqlite: find document by hash")
}

func scanDocument(row scannable) (*model.Document, error) {
	var d model.Document
	if err := row.Scan(&d.ID, &d.SourcePath, &d.SHA256, &d.SizeBytes, &d.CreatedAt); err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *SQLiteStore) ReplaceLines(ctx context.Context, documentID string, lines []model.TextLine) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin replace lines")
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM document_lines WHERE document_id = ?`, documentID); err != nil {
		return 0, eris.Wrapf(err, "sqlite: delete lines of %s", documentID)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO document_lines (document_id, line_number, line_text, line_type) VALUES (?, ?, ?, ?)`,
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prepare insert line")
	}
	defer stmt.Close() //nolint:errcheck

	for _, l := range lines {
		if _, err := stmt.ExecContext(ctx, documentID, l.Number, l.Text, string(l.Type)); err != nil {
			return 0, eris.Wrapf(err, "sqlite: insert line %d of %s", l.Number, documentID)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit replace lines")
	}
	return len(lines), nil
}

func (s *SQLiteStore) ListLines(ctx context.Context, documentID string) ([]model.TextLine, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT document_id, line_number, line_text, line_type FROM document_lines
		 WHERE document_id = ? ORDER BY line_number`,
		documentID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list lines")
	}
	defer rows.Close() //nolint:errcheck

	var lines []model.TextLine
	for rows.Next() {
		var l model.TextLine
		if err := rows.Scan(&l.DocumentID, &l.Number, &l.Text, &l.Type); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan line")
		}
		lines = append(lines, l)
	}
	return lines, eris.Wrap(rows.Err(), "sqlite: list lines iterate")
}

// --- Runs ---

func (s *SQLiteStore) CreateRun(ctx context.Context, doc model.Document) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, document_id, source_path, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		id, doc.ID, doc.SourcePath, string(model.RunStatusQueued), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
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

func (s *SQLiteStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update run status %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) FinishRun(ctx context.Context, runID string, status model.RunStatus, result *model.RunResult) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal result")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET result = ?, status = ?, model_used = ?, cost = ?, updated_at = ? WHERE id = ?`,
		string(resultJSON), string(status), result.ModelUsed, result.Cost, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: finish run %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

const sqliteRunColumns = `id, document_id, source_path, status, result, created_at, updated_at`

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteRunColumns+` FROM runs WHERE id = ?`,
		runID,
	)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("run", runID)
	}
	return r, err
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT ` + sqliteRunColumns + ` FROM runs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.DocumentID != "" {
		query += ` AND document_id = ?`
		args = append(args, filter.DocumentID)
	}
	if filter.Model != "" {
		query += ` AND model_used = ?`
		args = append(args, filter.Model)
	}
	if !filter.Since.IsZero() {
		query += ` AND created_at >= ?`
		args = append(args, filter.Since.UTC())
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, listLimit(filter.Limit))

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close() //nolint:errcheck

	var runs []model.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

func (s *SQLiteStore) Stats(ctx context.Context) (*model.RunStats, error) {
	stats := &model.RunStats{ByStatus: map[string]int{}, ByModel: map[string]int{}}

	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(cost), 0) FROM runs`,
	).Scan(&stats.Total, &stats.TotalCost); err != nil {
		return nil, eris.Wrap(err, "sqlite: run totals")
	}

	if err := s.countInto(ctx, stats.ByStatus, `SELECT status, COUNT(*) FROM runs GROUP BY status`); err != nil {
		return nil, eris.Wrap(err, "sqlite: runs by status")
	}
	if err := s.countInto(ctx, stats.ByModel,
		`SELECT model_used, COUNT(*) FROM runs WHERE model_used != '' GROUP BY model_used`,
	); err != nil {
		return nil, eris.Wrap(err, "sqlite: runs by model")
	}
	return stats, nil
}

func (s *SQLiteStore) countInto(ctx context.Context, dst map[string]int, query string) error {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return err
	}
	defer rows.Close() //nolint:errcheck

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

func (s *SQLiteStore) SaveAttempts(ctx context.Context, attempts []model.AttemptRecord) error {
	if len(attempts) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin save attempts")
	}
	defer tx.Rollback() //nolint:errcheck

	now := time.Now().UTC()
	for _, a := range attempts {
		if a.ID == "" {
			a.ID = uuid.New().String()
		}
		if a.CreatedAt.IsZero() {
			a.CreatedAt = now
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO run_attempts
			 (id, run_id, seq, model, outcome, kind, reason, truncated, continued, repair_strategy,
			  duration_ms, input_tokens, output_tokens, cost, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			a.ID, a.RunID, a.Seq, a.Model, string(a.Outcome), string(a.Kind), a.Reason,
			a.Truncated, a.Continued, a.RepairStrategy,
			a.DurationMS, a.Tokens.InputTokens, a.Tokens.OutputTokens, a.Cost, a.CreatedAt,
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: insert attempt %d of run %s", a.Seq, a.RunID)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit attempts")
}

func (s *SQLiteStore) ListAttempts(ctx context.Context, runID string) ([]model.AttemptRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, seq, model, outcome, kind, reason, truncated, continued, repair_strategy,
		        duration_ms, input_tokens, output_tokens, cost, created_at
		 FROM run_attempts WHERE run_id = ? ORDER BY seq`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list attempts")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.AttemptRecord
	for rows.Next() {
		var a model.AttemptRecord
		if err := rows.Scan(&a.ID, &a.RunID, &a.Seq, &a.Model, &a.Outcome, &a.Kind, &a.Reason,
			&a.Truncated, &a.Continued, &a.RepairStrategy,
			&a.DurationMS, &a.Tokens.InputTokens, &a.Tokens.OutputTokens, &a.Cost, &a.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan attempt")
		}
		out = append(out, a)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list attempts iterate")
}

// --- Dead letter queue ---

func (s *SQLiteStore) EnqueueDLQ(ctx context.Context, entry resilience.DLQEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO dead_letter_queue
		 (id, document_id, source_path, error, error_type, retry_count, max_retries, next_retry_at, created_at, last_failed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (document_id) DO UPDATE SET
		   error = excluded.error, error_type = excluded.error_type,
		   next_retry_at = excluded.next_retry_at, last_failed_at = excluded.last_failed_at`,
		entry.ID, entry.DocumentID, entry.SourcePath, entry.Error, entry.ErrorType,
		entry.RetryCount, entry.MaxRetries,
		entry.NextRetryAt.UTC(), entry.CreatedAt.UTC(), entry.LastFailedAt.UTC(),
	)
	return eris.Wrap(err, "sqlite: enqueue dlq")
}

const sqliteDLQColumns = `id, document_id, source_path, error, error_type, retry_count, max_retries, next_retry_at, created_at, last_failed_at`

func (s *SQLiteStore) DequeueDLQ(ctx context.Context, filter resilience.DLQFilter) ([]resilience.DLQEntry, error) {
	query := `SELECT ` + sqliteDLQColumns + ` FROM dead_letter_queue
	          WHERE next_retry_at <= ? AND retry_count < max_retries`
	args := []any{time.Now().UTC()}

	if filter.ErrorType != "" {
		query += ` AND error_type = ?`
		args = append(args, filter.ErrorType)
	}
	query += ` ORDER BY next_retry_at ASC LIMIT ?`
	args = append(args, listLimit(filter.Limit))

	return s.queryDLQ(ctx, "dequeue", query, args...)
}

func (s *SQLiteStore) ListDLQ(ctx context.Context, filter resilience.DLQFilter) ([]resilience.DLQEntry, error) {
	query := `SELECT ` + sqliteDLQColumns + ` FROM dead_letter_queue WHERE 1=1`
	var args []any

	if filter.ErrorType != "" {
		query += ` AND error_type = ?`
		args = append(args, filter.ErrorType)
	}
	query += ` ORDER BY created_at ASC LIMIT ?`
	args = append(args, listLimit(filter.Limit))

	return s.queryDLQ(ctx, "list", query, args...)
}

func (s *SQLiteStore) queryDLQ(ctx context.Context, op, query string, args ...any) ([]resilience.DLQEntry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: %s dlq", op)
	}
	defer rows.Close() //nolint:errcheck

	var entries []resilience.DLQEntry
	for rows.Next() {
		var e resilience.DLQEntry
		if err := rows.Scan(&e.ID, &e.DocumentID, &e.SourcePath, &e.Error, &e.ErrorType,
			&e.RetryCount, &e.MaxRetries, &e.NextRetryAt, &e.CreatedAt, &e.LastFailedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan dlq entry")
		}
		entries = append(entries, e)
	}
	return entries, eris.Wrapf(rows.Err(), "sqlite: %s dlq iterate", op)
}

func (s *SQLiteStore) IncrementDLQRetry(ctx context.Context, id string, nextRetryAt time.Time, lastErr string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE dead_letter_queue
		 SET retry_count = retry_count + 1, next_retry_at = ?, error = ?, last_failed_at = ?
		 WHERE id = ?`,
		nextRetryAt.UTC(), lastErr, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: increment dlq retry %s", id)
	}
	return checkRowsAffected(res, "dlq_entry", id)
}

func (s *SQLiteStore) RemoveDLQ(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM dead_letter_queue WHERE id = ?`, id)
	return eris.Wrap(err, "sqlite: remove dlq")
}

func (s *SQLiteStore) CountDLQ(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM dead_letter_queue`).Scan(&count)
	return count, eris.Wrap(err, "sqlite: count dlq")
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return notFound(entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRun(row scannable) (*model.Run, error) {
	var r model.Run
	var resultJSON sql.NullString

	err := row.Scan(&r.ID, &r.DocumentID, &r.SourcePath, &r.Status, &resultJSON, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan run")
	}

	if resultJSON.Valid {
		r.Result = &model.RunResult{}
		if err := json.Unmarshal([]byte(resultJSON.String), r.Result); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal result")
		}
	}
	return &r, nil
}
