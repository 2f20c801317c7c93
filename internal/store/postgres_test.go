package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/cv-extract/internal/model"
	"github.com/sells-group/cv-extract/internal/resilience"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

func TestPostgresStore_Migrate(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS documents`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateDocument(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO documents`).
		WithArgs(pgxmock.AnyArg(), "cvs/ana.txt", "abc", int64(12), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	doc, err := s.CreateDocument(context.Background(), model.Document{SourcePath: "cvs/ana.txt", SHA256: "abc", SizeBytes: 12})
	require.NoError(t, err)
	assert.NotEmpty(t, doc.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FindDocumentByHash_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT id, source_path, sha256, size_bytes, created_at FROM documents WHERE sha256 = \$1`).
		WithArgs("nope").
		WillReturnError(pgx.ErrNoRows)

	doc, err := s.FindDocumentByHash(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, doc)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FindDocumentByHash_Found(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`FROM documents WHERE sha256 = \$1`).
		WithArgs("abc").
		WillReturnRows(pgxmock.NewRows([]string{"id", "source_path", "sha256", "size_bytes", "created_at"}).
			AddRow("doc-1", "cvs/ana.txt", "abc", int64(12), now))

	doc, err := s.FindDocumentByHash(context.Background(), "abc")
	require.NoError(t, err)
	require.NotNil(t, doc)
	assert.Equal(t, "doc-1", doc.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ReplaceLines(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM "document_lines" WHERE "document_id" = \$1`).
		WithArgs("doc-1").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"document_lines"}, lineColumns).WillReturnResult(2)
	mock.ExpectCommit()

	n, err := s.ReplaceLines(context.Background(), "doc-1", []model.TextLine{
		{Number: 1, Text: "ANA CRUZ", Type: model.LineHeader},
		{Number: 2, Text: "ana@example.com", Type: model.LineContactInfo},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetRun_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT id, document_id, source_path, status, result, created_at, updated_at FROM runs WHERE id = \$1`).
		WithArgs("nonexistent-run").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetRun(context.Background(), "nonexistent-run")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetRun_WithResult(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`FROM runs WHERE id = \$1`).
		WithArgs("run-1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "document_id", "source_path", "status", "result", "created_at", "updated_at"}).
			AddRow("run-1", "doc-1", "a.txt", model.RunStatusComplete, []byte(`{"model_used":"m1","duration_ms":10,"tokens":{"input_tokens":1,"output_tokens":2},"cost":0.5}`), now, now))

	run, err := s.GetRun(context.Background(), "run-1")
	require.NoError(t, err)
	require.NotNil(t, run.Result)
	assert.Equal(t, "m1", run.Result.ModelUsed)
	assert.Equal(t, 2, run.Result.Tokens.OutputTokens)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FinishRun(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE runs SET result = \$1, status = \$2, model_used = \$3, cost = \$4`).
		WithArgs(pgxmock.AnyArg(), "complete", "m1", 0.25, pgxmock.AnyArg(), "run-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := s.FinishRun(context.Background(), "run-1", model.RunStatusComplete, &model.RunResult{ModelUsed: "m1", Cost: 0.25})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateRunStatus_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE runs SET status`).
		WithArgs("failed", pgxmock.AnyArg(), "missing").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.UpdateRunStatus(context.Background(), "missing", model.RunStatusFailed)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListRuns_Filters(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`WHERE true AND status = \$1 AND model_used = \$2 ORDER BY created_at DESC LIMIT \$3 OFFSET \$4`).
		WithArgs("complete", "m1", 5, 10).
		WillReturnRows(pgxmock.NewRows([]string{"id", "document_id", "source_path", "status", "result", "created_at", "updated_at"}).
			AddRow("run-1", "doc-1", "a.txt", model.RunStatusComplete, nil, now, now))

	runs, err := s.ListRuns(context.Background(), RunFilter{Status: model.RunStatusComplete, Model: "m1", Limit: 5, Offset: 10})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Nil(t, runs[0].Result)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Stats(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT COUNT\(\*\), COALESCE\(SUM\(cost\), 0\) FROM runs`).
		WillReturnRows(pgxmock.NewRows([]string{"count", "sum"}).AddRow(3, 1.5))
	mock.ExpectQuery(`GROUP BY status`).
		WillReturnRows(pgxmock.NewRows([]string{"status", "count"}).AddRow("complete", 2).AddRow("failed", 1))
	mock.ExpectQuery(`GROUP BY model_used`).
		WillReturnRows(pgxmock.NewRows([]string{"model_used", "count"}).AddRow("m1", 2))

	stats, err := s.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Total)
	assert.InDelta(t, 1.5, stats.TotalCost, 1e-9)
	assert.Equal(t, map[string]int{"complete": 2, "failed": 1}, stats.ByStatus)
	assert.Equal(t, map[string]int{"m1": 2}, stats.ByModel)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveAttempts_Copy(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectCopyFrom(pgx.Identifier{"run_attempts"}, attemptColumns).WillReturnResult(2)

	err := s.SaveAttempts(context.Background(), []model.AttemptRecord{
		{RunID: "run-1", Seq: 0, Model: "m1", Outcome: model.AttemptModelFailed, Kind: model.FailureTransport},
		{RunID: "run-1", Seq: 1, Model: "m2", Outcome: model.AttemptValidated},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_EnqueueDLQ_Upsert(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`ON CONFLICT \(document_id\)`).
		WithArgs(pgxmock.AnyArg(), "doc-1", "a.txt", "boom", "permanent", 0, 3,
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.EnqueueDLQ(context.Background(), resilience.DLQEntry{
		DocumentID: "doc-1", SourcePath: "a.txt", Error: "boom", ErrorType: "permanent", MaxRetries: 3,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_DequeueDLQ(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`WHERE next_retry_at <= now\(\) AND retry_count < max_retries AND error_type = \$1`).
		WithArgs("transient", 100).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "document_id", "source_path", "error", "error_type", "retry_count", "max_retries",
			"next_retry_at", "created_at", "last_failed_at",
		}).AddRow("dlq-1", "doc-1", "a.txt", "timeout", "transient", 1, 3, now, now, now))

	entries, err := s.DequeueDLQ(context.Background(), resilience.DLQFilter{ErrorType: "transient"})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 1, entries[0].RetryCount)
	assert.True(t, entries[0].CanRetry())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_IncrementDLQRetry_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE dead_letter_queue`).
		WithArgs(pgxmock.AnyArg(), "err", "missing").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.IncrementDLQRetry(context.Background(), "missing", time.Now(), "err")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CountDLQ(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM dead_letter_queue`).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(4))

	n, err := s.CountDLQ(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}
