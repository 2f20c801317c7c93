package store

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/cv-extract/internal/config"
	"github.com/sells-group/cv-extract/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func createTestDocument(t *testing.T, st Store, path, sha string) *model.Document {
	t.Helper()
	doc, err := st.CreateDocument(context.Background(), model.Document{SourcePath: path, SHA256: sha, SizeBytes: 42})
	require.NoError(t, err)
	return doc
}

func TestSQLite_MigrateIdempotent(t *testing.T) {
	st := newTestSQLiteStore(t)
	require.NoError(t, st.Migrate(context.Background()))
}

// --- Documents ---

func TestSQLite_Documents(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	doc := createTestDocument(t, st, "cvs/ana.txt", "abc123")
	assert.NotEmpty(t, doc.ID)
	assert.False(t, doc.CreatedAt.IsZero())

	got, err := st.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, "cvs/ana.txt", got.SourcePath)
	assert.Equal(t, int64(42), got.SizeBytes)

	found, err := st.FindDocumentByHash(ctx, "abc123")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, doc.ID, found.ID)

	missing, err := st.FindDocumentByHash(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	_, err = st.GetDocument(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLite_DuplicateHashRejected(t *testing.T) {
	st := newTestSQLiteStore(t)
	createTestDocument(t, st, "a.txt", "same")

	_, err := st.CreateDocument(context.Background(), model.Document{SourcePath: "b.txt", SHA256: "same"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insert document b.txt")
}

func TestSQLite_ReplaceLines(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	doc := createTestDocument(t, st, "a.txt", "h1")

	n, err := st.ReplaceLines(ctx, doc.ID, []model.TextLine{
		{Number: 1, Text: "ANA CRUZ", Type: model.LineHeader},
		{Number: 3, Text: "ana@example.com", Type: model.LineContactInfo},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = st.ReplaceLines(ctx, doc.ID, []model.TextLine{
		{Number: 2, Text: "Skills: Go", Type: model.LineKeyValue},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	lines, err := st.ListLines(ctx, doc.ID)
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Equal(t, model.TextLine{DocumentID: doc.ID, Number: 2, Text: "Skills: Go", Type: model.LineKeyValue}, lines[0])
}

// --- Runs ---

func TestSQLite_RunLifecycle(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	doc := createTestDocument(t, st, "cvs/ana.txt", "h1")

	run, err := st.CreateRun(ctx, *doc)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusQueued, run.Status)
	assert.Equal(t, doc.ID, run.DocumentID)

	require.NoError(t, st.UpdateRunStatus(ctx, run.ID, model.RunStatusExtracting))

	result := &model.RunResult{
		ModelUsed:  "openai/gpt-4o",
		DurationMS: 1234,
		Record:     json.RawMessage(`{"personal_information":{"first_name":"Ana","last_name":"Cruz"}}`),
		Warnings:   []string{"missing optional field 'education'"},
		Tokens:     model.TokenUsage{InputTokens: 100, OutputTokens: 50},
		Cost:       0.0125,
	}
	require.NoError(t, st.FinishRun(ctx, run.ID, model.RunStatusComplete, result))

	got, err := st.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusComplete, got.Status)
	require.NotNil(t, got.Result)
	assert.Equal(t, "openai/gpt-4o", got.Result.ModelUsed)
	assert.JSONEq(t, string(result.Record), string(got.Result.Record))
	assert.Equal(t, result.Warnings, got.Result.Warnings)
	assert.InDelta(t, 0.0125, got.Result.Cost, 1e-9)
}

func TestSQLite_RunNotFound(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	_, err := st.GetRun(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	err = st.UpdateRunStatus(ctx, "missing", model.RunStatusFailed)
	assert.ErrorIs(t, err, ErrNotFound)

	err = st.FinishRun(ctx, "missing", model.RunStatusFailed, &model.RunResult{})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLite_ListRunsFilters(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	a := createTestDocument(t, st, "a.txt", "ha")
	b := createTestDocument(t, st, "b.txt", "hb")

	r1, err := st.CreateRun(ctx, *a)
	require.NoError(t, err)
	require.NoError(t, st.FinishRun(ctx, r1.ID, model.RunStatusComplete, &model.RunResult{ModelUsed: "m1"}))
	r2, err := st.CreateRun(ctx, *b)
	require.NoError(t, err)
	require.NoError(t, st.FinishRun(ctx, r2.ID, model.RunStatusFailed, &model.RunResult{}))
	_, err = st.CreateRun(ctx, *b)
	require.NoError(t, err)

	all, err := st.ListRuns(ctx, RunFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	failed, err := st.ListRuns(ctx, RunFilter{Status: model.RunStatusFailed})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, r2.ID, failed[0].ID)

	byDoc, err := st.ListRuns(ctx, RunFilter{DocumentID: b.ID})
	require.NoError(t, err)
	assert.Len(t, byDoc, 2)

	byModel, err := st.ListRuns(ctx, RunFilter{Model: "m1"})
	require.NoError(t, err)
	require.Len(t, byModel, 1)
	assert.Equal(t, r1.ID, byModel[0].ID)

	page, err := st.ListRuns(ctx, RunFilter{Limit: 2, Offset: 2})
	require.NoError(t, err)
	assert.Len(t, page, 1)

	future, err := st.ListRuns(ctx, RunFilter{Since: time.Now().Add(time.Hour)})
	require.NoError(t, err)
	assert.Empty(t, future)
}

func TestSQLite_Stats(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	doc := createTestDocument(t, st, "a.txt", "h")

	for _, res := range []struct {
		status model.RunStatus
		model  string
		cost   float64
	}{
		{model.RunStatusComplete, "m1", 0.5},
		{model.RunStatusComplete, "m2", 0.25},
		{model.RunStatusComplete, "m1", 0.25},
		{model.RunStatusFailed, "", 0.1},
	} {
		r, err := st.CreateRun(ctx, *doc)
		require.NoError(t, err)
		require.NoError(t, st.FinishRun(ctx, r.ID, res.status, &model.RunResult{ModelUsed: res.model, Cost: res.cost}))
	}

	stats, err := st.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, stats.Total)
	assert.Equal(t, map[string]int{"complete": 3, "failed": 1}, stats.ByStatus)
	assert.Equal(t, map[string]int{"m1": 2, "m2": 1}, stats.ByModel)
	assert.InDelta(t, 1.1, stats.TotalCost, 1e-9)
}

// --- Attempts ---

func TestSQLite_Attempts(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	doc := createTestDocument(t, st, "a.txt", "h")
	run, err := st.CreateRun(ctx, *doc)
	require.NoError(t, err)

	err = st.SaveAttempts(ctx, []model.AttemptRecord{
		{
			RunID: run.ID, Seq: 0, Model: "m1", Outcome: model.AttemptModelFailed,
			Kind: model.FailureRequiredField, Reason: "missing required field 'last_name' in personal_information",
			DurationMS: 900, Tokens: model.TokenUsage{InputTokens: 10, OutputTokens: 20},
		},
		{
			RunID: run.ID, Seq: 1, Model: "m2", Outcome: model.AttemptValidated,
			Truncated: true, RepairStrategy: "close_open", DurationMS: 1500, Cost: 0.01,
		},
	})
	require.NoError(t, err)

	got, err := st.ListAttempts(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.NotEmpty(t, got[0].ID)
	assert.Equal(t, model.FailureRequiredField, got[0].Kind)
	assert.Equal(t, 20, got[0].Tokens.OutputTokens)
	assert.True(t, got[1].Truncated)
	assert.False(t, got[1].Continued)
	assert.Equal(t, "close_open", got[1].RepairStrategy)

	require.NoError(t, st.SaveAttempts(ctx, nil))
}

func TestOpen(t *testing.T) {
	ctx := context.Background()
	st, err := Open(ctx, config.StoreConfig{Driver: "sqlite", SQLitePath: filepath.Join(t.TempDir(), "open.db")})
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck

	n, err := st.CountDLQ(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = Open(ctx, config.StoreConfig{Driver: "mongo"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unsupported driver "mongo"`)
}
