package store

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridscope/elexon-pipeline/internal/model"
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

func TestPostgres_UpsertRecords_Empty(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	n, err := s.UpsertRecords(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_UpsertRecords_FullPath(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE "_tmp_upsert_generation"`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_generation"}, generationColumns).
		WillReturnResult(2)
	mock.ExpectExec(`INSERT INTO "generation" .* ON CONFLICT \("psr_type", "start_time"\) DO UPDATE SET`).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectCommit()
	mock.ExpectRollback() // deferred rollback after commit is a no-op

	start := time.Date(2023, 5, 21, 0, 0, 0, 0, time.UTC)
	n, err := s.UpsertRecords(context.Background(), []model.GenerationRecord{
		{PSRType: "Solar", StartTime: start, Quantity: 3112, PublishTime: start.Add(5 * time.Minute)},
		{PSRType: "Wind Offshore", StartTime: start, Quantity: 2250.5},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_QueryRecords_Filters(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	start := time.Date(2023, 5, 21, 12, 0, 0, 0, time.UTC)
	from := time.Date(2023, 5, 21, 0, 0, 0, 0, time.UTC)
	publish := start.Add(5 * time.Minute)

	rows := pgxmock.NewRows([]string{
		"publish_time", "business_type", "psr_type", "quantity",
		"start_time", "settlement_date", "settlement_period", "quantity_missing",
	}).AddRow(&publish, "Solar generation", "Solar", 130.0, start, "2023-05-21", 25, false)

	mock.ExpectQuery(`FROM generation WHERE true AND psr_type = \$1 AND start_time >= \$2`).
		WithArgs("Solar", from).
		WillReturnRows(rows)

	records, err := s.QueryRecords(context.Background(), Filter{PSRType: "Solar", From: from})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "Solar", records[0].PSRType)
	assert.Equal(t, 130.0, records[0].Quantity)
	assert.Equal(t, start, records[0].StartTime)
	assert.Equal(t, publish, records[0].PublishTime)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_QueryRecords_NullPublishTime(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	start := time.Date(2023, 5, 21, 12, 0, 0, 0, time.UTC)
	rows := pgxmock.NewRows([]string{
		"publish_time", "business_type", "psr_type", "quantity",
		"start_time", "settlement_date", "settlement_period", "quantity_missing",
	}).AddRow(nil, "", "Wind Onshore", 0.0, start, "2023-05-21", 25, true)

	mock.ExpectQuery(`FROM generation WHERE true`).
		WillReturnRows(rows)

	records, err := s.QueryRecords(context.Background(), Filter{})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.True(t, records[0].PublishTime.IsZero())
	assert.True(t, records[0].QuantityMissing)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_Status(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	early := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	late := time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC)
	publish := late.Add(5 * time.Minute)

	mock.ExpectQuery(`SELECT COUNT\(\*\), MIN\(start_time\), MAX\(start_time\), MAX\(publish_time\) FROM generation`).
		WillReturnRows(pgxmock.NewRows([]string{"count", "min", "max", "max_publish"}).
			AddRow(int64(2), &early, &late, &publish))
	mock.ExpectQuery(`SELECT DISTINCT psr_type FROM generation ORDER BY psr_type`).
		WillReturnRows(pgxmock.NewRows([]string{"psr_type"}).
			AddRow("Solar").AddRow("Wind Offshore"))

	status, err := s.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), status.TotalRecords)
	assert.Equal(t, []string{"Solar", "Wind Offshore"}, status.PSRTypes)
	require.NotNil(t, status.EarliestStart)
	assert.Equal(t, early, *status.EarliestStart)
	require.NotNil(t, status.LatestPublish)
	assert.Equal(t, publish, *status.LatestPublish)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_Status_EmptyStore(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT COUNT\(\*\), MIN\(start_time\)`).
		WillReturnRows(pgxmock.NewRows([]string{"count", "min", "max", "max_publish"}).
			AddRow(int64(0), nil, nil, nil))
	mock.ExpectQuery(`SELECT DISTINCT psr_type`).
		WillReturnRows(pgxmock.NewRows([]string{"psr_type"}))

	status, err := s.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), status.TotalRecords)
	assert.Nil(t, status.EarliestStart)
	assert.Nil(t, status.LatestStart)
	assert.Nil(t, status.LatestPublish)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_Summaries(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	peak := time.Date(2023, 5, 21, 12, 30, 0, 0, time.UTC)
	mock.ExpectQuery(`SELECT g\.psr_type, COUNT\(\*\)`).
		WillReturnRows(pgxmock.NewRows([]string{"psr_type", "records", "missing", "total", "mean", "max", "peak_time"}).
			AddRow("Solar", int64(3), int64(1), 300.0, 100.0, 200.0, &peak))

	summaries, err := s.Summaries(context.Background())
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, "Solar", summaries[0].PSRType)
	assert.Equal(t, int64(3), summaries[0].Records)
	assert.Equal(t, int64(1), summaries[0].Missing)
	assert.Equal(t, 300.0, summaries[0].TotalQuantity)
	require.NotNil(t, summaries[0].PeakTime)
	assert.Equal(t, peak, *summaries[0].PeakTime)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_StartImport(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	rec := testImportRecord("run-pg")
	mock.ExpectExec(`INSERT INTO import_log`).
		WithArgs(rec.RunID, rec.RangeStart, rec.RangeEnd, "running", rec.TotalWindows, rec.StartedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, s.StartImport(context.Background(), rec))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_CompleteImport_UnknownRun(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	rec := testImportRecord("run-missing")
	rec.Status = model.ImportComplete
	rec.FinishedAt = rec.StartedAt.Add(time.Minute)

	mock.ExpectExec(`UPDATE import_log`).
		WithArgs("complete", rec.Succeeded, rec.Failed, rec.Skipped, rec.RecordsTotal,
			rec.DroppedTotal, pgxmock.AnyArg(), pgxmock.AnyArg(), rec.RunID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.CompleteImport(context.Background(), rec)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "import not found")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_GetImport_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM import_log WHERE id = \$1`).
		WithArgs("nonexistent-run").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetImport(context.Background(), "nonexistent-run")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_GetImport_ScansRow(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	rec := testImportRecord("run-42")
	finished := rec.StartedAt.Add(90 * time.Second)
	failedJSON := []byte(`[{"start":"2023-01-08T00:00:00Z","end":"2023-01-10T00:00:00Z"}]`)

	mock.ExpectQuery(`FROM import_log WHERE id = \$1`).
		WithArgs("run-42").
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "range_start", "range_end", "status", "total_windows", "succeeded", "failed",
			"skipped", "records_total", "dropped_total", "failed_windows", "started_at", "finished_at",
		}).AddRow("run-42", rec.RangeStart, rec.RangeEnd, model.ImportPartial, 2, 1, 1,
			0, int64(672), 3, failedJSON, rec.StartedAt, &finished))

	got, err := s.GetImport(context.Background(), "run-42")
	require.NoError(t, err)
	assert.Equal(t, model.ImportPartial, got.Status)
	assert.Equal(t, 1, got.Failed)
	assert.Equal(t, int64(672), got.RecordsTotal)
	assert.Equal(t, finished, got.FinishedAt)
	require.Len(t, got.FailedWindows, 1)
	assert.Equal(t, time.Date(2023, 1, 8, 0, 0, 0, 0, time.UTC), got.FailedWindows[0].Start)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_ListImports_DefaultLimit(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM import_log ORDER BY started_at DESC LIMIT \$1`).
		WithArgs(100).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "range_start", "range_end", "status", "total_windows", "succeeded", "failed",
			"skipped", "records_total", "dropped_total", "failed_windows", "started_at", "finished_at",
		}))

	runs, err := s.ListImports(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, runs)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_LatestFailedImport_None(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`WHERE failed > 0 ORDER BY started_at DESC LIMIT 1`).
		WillReturnError(pgx.ErrNoRows)

	got, err := s.LatestFailedImport(context.Background())
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_Migrate(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS generation`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
