package db

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBulkUpsert_EmptyRows(t *testing.T) {
	n, err := BulkUpsert(context.Background(), nil, UpsertConfig{
		Table:        "generation",
		Columns:      []string{"psr_type", "start_time"},
		ConflictKeys: []string{"psr_type", "start_time"},
	}, nil)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestBulkUpsert_NoColumns(t *testing.T) {
	_, err := BulkUpsert(context.Background(), nil, UpsertConfig{
		Table:        "generation",
		ConflictKeys: []string{"psr_type"},
	}, [][]any{{1, "a"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no columns specified")
}

func TestBulkUpsert_NoConflictKeys(t *testing.T) {
	_, err := BulkUpsert(context.Background(), nil, UpsertConfig{
		Table:   "generation",
		Columns: []string{"psr_type", "start_time"},
	}, [][]any{{1, "a"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no conflict keys specified")
}

func TestBulkUpsert_FullPath(t *testing.T) {
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer mock.Close()

	rows := [][]any{
		{time.Now(), "Solar generation", "Solar", 3112.0, time.Now(), "2023-05-21", 15, false},
		{time.Now(), "Wind generation", "Wind Offshore", 2250.5, time.Now(), "2023-05-21", 15, false},
	}
	cols := []string{"publish_time", "business_type", "psr_type", "quantity", "start_time", "settlement_date", "settlement_period", "quantity_missing"}

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE "_tmp_upsert_generation" \(LIKE "generation" INCLUDING DEFAULTS\) ON COMMIT DROP`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_generation"}, cols).
		WillReturnResult(2)
	mock.ExpectExec(`INSERT INTO "generation" .* ON CONFLICT \("psr_type", "start_time"\) DO UPDATE SET`).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectCommit()
	mock.ExpectRollback()

	n, err := BulkUpsert(context.Background(), mock, UpsertConfig{
		Table:        "generation",
		Columns:      cols,
		ConflictKeys: []string{"psr_type", "start_time"},
	}, rows)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBulkUpsert_CopyFailureRollsBack(t *testing.T) {
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_generation"}, []string{"psr_type", "start_time"}).
		WillReturnError(assert.AnError)
	mock.ExpectRollback()

	_, err = BulkUpsert(context.Background(), mock, UpsertConfig{
		Table:        "generation",
		Columns:      []string{"psr_type", "start_time"},
		ConflictKeys: []string{"psr_type", "start_time"},
	}, [][]any{{"Solar", time.Now()}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "COPY into temp table")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateColumns_DefaultsToNonConflict(t *testing.T) {
	cols := updateColumns(UpsertConfig{
		Columns:      []string{"psr_type", "start_time", "quantity", "publish_time"},
		ConflictKeys: []string{"psr_type", "start_time"},
	})
	assert.Equal(t, []string{"quantity", "publish_time"}, cols)
}

func TestUpdateColumns_ExplicitList(t *testing.T) {
	cols := updateColumns(UpsertConfig{
		Columns:      []string{"psr_type", "start_time", "quantity"},
		ConflictKeys: []string{"psr_type", "start_time"},
		UpdateCols:   []string{"quantity"},
	})
	assert.Equal(t, []string{"quantity"}, cols)
}

func TestSanitizeTable(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"generation", `"generation"`},
		{"public.generation", `"public"."generation"`},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := sanitizeTable(tt.input)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestQuoteAndJoin(t *testing.T) {
	result := quoteAndJoin([]string{"psr_type", "start_time", "quantity"})
	assert.Equal(t, `"psr_type", "start_time", "quantity"`, result)
}
