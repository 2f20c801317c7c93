package db

import (
	"context"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var lineColumns = []string{"document_id", "line_number", "line_text", "line_type"}

func TestCopyFrom_EmptyRows(t *testing.T) {
	n, err := CopyFrom(context.TODO(), nil, "document_lines", lineColumns, nil)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestCopyFrom_Success(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectCopyFrom(pgx.Identifier{"document_lines"}, lineColumns).WillReturnResult(2)

	rows := [][]any{{"doc-1", 1, "ANA CRUZ", "header"}, {"doc-1", 3, "ana@example.com", "contact_info"}}
	n, err := CopyFrom(context.Background(), mock, "document_lines", lineColumns, rows)
	assert.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCopyFrom_Error(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectCopyFrom(pgx.Identifier{"document_lines"}, lineColumns).WillReturnError(fmt.Errorf("copy failed"))

	_, err = CopyFrom(context.Background(), mock, "document_lines", lineColumns, [][]any{{"doc-1", 1, "x", "content"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "COPY INTO document_lines")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReplaceRows_Success(t *testing.T) {
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM "document_lines" WHERE "document_id" = \$1`).
		WithArgs("doc-1").
		WillReturnResult(pgxmock.NewResult("DELETE", 4))
	mock.ExpectCopyFrom(pgx.Identifier{"document_lines"}, lineColumns).WillReturnResult(1)
	mock.ExpectCommit()

	n, err := ReplaceRows(context.Background(), mock, "document_lines", "document_id", "doc-1", lineColumns,
		[][]any{{"doc-1", 1, "ANA CRUZ", "header"}})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReplaceRows_NoRowsStillDeletes(t *testing.T) {
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM "document_lines"`).
		WithArgs("doc-1").
		WillReturnResult(pgxmock.NewResult("DELETE", 2))
	mock.ExpectCommit()

	n, err := ReplaceRows(context.Background(), mock, "document_lines", "document_id", "doc-1", lineColumns, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReplaceRows_CopyErrorRollsBack(t *testing.T) {
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM "document_lines"`).
		WithArgs("doc-1").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"document_lines"}, lineColumns).WillReturnError(fmt.Errorf("permission denied"))
	mock.ExpectRollback()

	_, err = ReplaceRows(context.Background(), mock, "document_lines", "document_id", "doc-1", lineColumns,
		[][]any{{"doc-1", 1, "x", "content"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "permission denied")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReplaceRows_BeginError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin().WillReturnError(fmt.Errorf("too many clients"))

	_, err = ReplaceRows(context.Background(), mock, "document_lines", "document_id", "doc-1", lineColumns, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "begin tx")
}
