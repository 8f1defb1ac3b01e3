package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/gridscope/elexon-pipeline/internal/model"
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
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

// Timestamps are stored as RFC 3339 UTC text so that string comparison,
// MIN/MAX and ORDER BY all agree with chronological order.
const sqliteTimeLayout = time.RFC3339

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS generation (
	publish_time      TEXT,
	business_type     TEXT,
	psr_type          TEXT NOT NULL,
	quantity          REAL NOT NULL DEFAULT 0,
	start_time        TEXT NOT NULL,
	settlement_date   TEXT,
	settlement_period INTEGER,
	quantity_missing  INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (psr_type, start_time)
);

CREATE TABLE IF NOT EXISTS import_log (
	id             TEXT PRIMARY KEY,
	range_start    TEXT NOT NULL,
	range_end      TEXT NOT NULL,
	status         TEXT NOT NULL DEFAULT 'running',
	total_windows  INTEGER NOT NULL DEFAULT 0,
	succeeded      INTEGER NOT NULL DEFAULT 0,
	failed         INTEGER NOT NULL DEFAULT 0,
	skipped        INTEGER NOT NULL DEFAULT 0,
	records_total  INTEGER NOT NULL DEFAULT 0,
	dropped_total  INTEGER NOT NULL DEFAULT 0,
	failed_windows TEXT,
	started_at     TEXT NOT NULL,
	finished_at    TEXT
);

CREATE INDEX IF NOT EXISTS idx_generation_start_time ON generation(start_time);
CREATE INDEX IF NOT EXISTS idx_generation_settlement_date ON generation(settlement_date);
CREATE INDEX IF NOT EXISTS idx_import_log_started_at ON import_log(started_at);
CREATE INDEX IF NOT EXISTS idx_import_log_status ON import_log(status);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) UpsertRecords(ctx context.Context, records []model.GenerationRecord) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO generation
			(publish_time, business_type, psr_type, quantity, start_time, settlement_date, settlement_period, quantity_missing)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (psr_type, start_time) DO UPDATE SET
			publish_time = excluded.publish_time,
			business_type = excluded.business_type,
			quantity = excluded.quantity,
			settlement_date = excluded.settlement_date,
			settlement_period = excluded.settlement_period,
			quantity_missing = excluded.quantity_missing`)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prepare upsert")
	}
	defer stmt.Close() //nolint:errcheck

	for _, rec := range records {
		_, err := stmt.ExecContext(ctx,
			sqliteTimeOrNil(rec.PublishTime), rec.BusinessType, rec.PSRType, rec.Quantity,
			sqliteTime(rec.StartTime), rec.SettlementDate, rec.SettlementPeriod, rec.QuantityMissing,
		)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: upsert record %s %s", rec.PSRType, rec.StartTime.Format(sqliteTimeLayout))
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit upsert")
	}
	return int64(len(records)), nil
}

func (s *SQLiteStore) QueryRecords(ctx context.Context, filter Filter) ([]model.GenerationRecord, error) {
	query := `SELECT publish_time, business_type, psr_type, quantity, start_time, settlement_date, settlement_period, quantity_missing
	          FROM generation WHERE 1=1`
	var args []any

	if filter.PSRType != "" {
		query += ` AND psr_type = ?`
		args = append(args, filter.PSRType)
	}
	if !filter.From.IsZero() {
		query += ` AND start_time >= ?`
		args = append(args, sqliteTime(filter.From))
	}
	if !filter.To.IsZero() {
		query += ` AND start_time < ?`
		args = append(args, sqliteTime(filter.To))
	}
	query += ` ORDER BY start_time, psr_type`

	// Limit <= 0 returns all matching rows. SQLite needs a LIMIT clause
	// before OFFSET, so an offset-only filter uses LIMIT -1.
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	} else if filter.Offset > 0 {
		query += ` LIMIT -1`
	}
	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query records")
	}
	defer rows.Close() //nolint:errcheck

	var records []model.GenerationRecord
	for rows.Next() {
		rec, err := scanSQLiteRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	return records, eris.Wrap(rows.Err(), "sqlite: query records iterate")
}

func (s *SQLiteStore) Status(ctx context.Context) (*Status, error) {
	var st Status
	var minStart, maxStart, maxPublish sql.NullString

	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), MIN(start_time), MAX(start_time), MAX(publish_time) FROM generation`,
	).Scan(&st.TotalRecords, &minStart, &maxStart, &maxPublish)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: status counts")
	}

	if st.EarliestStart, err = sqliteNullTime(minStart); err != nil {
		return nil, err
	}
	if st.LatestStart, err = sqliteNullTime(maxStart); err != nil {
		return nil, err
	}
	if st.LatestPublish, err = sqliteNullTime(maxPublish); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT psr_type FROM generation ORDER BY psr_type`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: status psr types")
	}
	defer rows.Close() //nolint:errcheck

	for rows.Next() {
		var pt string
		if err := rows.Scan(&pt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan psr type")
		}
		st.PSRTypes = append(st.PSRTypes, pt)
	}
	return &st, eris.Wrap(rows.Err(), "sqlite: status iterate")
}

func (s *SQLiteStore) Summaries(ctx context.Context) ([]TechSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT g.psr_type, COUNT(*), SUM(g.quantity_missing), SUM(g.quantity), AVG(g.quantity), MAX(g.quantity),
		       (SELECT p.start_time FROM generation p
		        WHERE p.psr_type = g.psr_type
		        ORDER BY p.quantity DESC, p.start_time LIMIT 1)
		FROM generation g GROUP BY g.psr_type ORDER BY g.psr_type`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: summaries")
	}
	defer rows.Close() //nolint:errcheck

	var out []TechSummary
	for rows.Next() {
		var ts TechSummary
		var peak sql.NullString
		if err := rows.Scan(&ts.PSRType, &ts.Records, &ts.Missing, &ts.TotalQuantity, &ts.MeanQuantity, &ts.MaxQuantity, &peak); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan summary")
		}
		if ts.PeakTime, err = sqliteNullTime(peak); err != nil {
			return nil, err
		}
		out = append(out, ts)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: summaries iterate")
}

func (s *SQLiteStore) StartImport(ctx context.Context, rec model.ImportRecord) error {
	status := rec.Status
	if status == "" {
		status = model.ImportRunning
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO import_log (id, range_start, range_end, status, total_windows, started_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		rec.RunID, sqliteTime(rec.RangeStart), sqliteTime(rec.RangeEnd),
		string(status), rec.TotalWindows, sqliteTime(rec.StartedAt),
	)
	return eris.Wrapf(err, "sqlite: start import %s", rec.RunID)
}

func (s *SQLiteStore) CompleteImport(ctx context.Context, rec model.ImportRecord) error {
	failedJSON, err := json.Marshal(rec.FailedWindows)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal failed windows")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE import_log
		 SET status = ?, succeeded = ?, failed = ?, skipped = ?, records_total = ?,
		     dropped_total = ?, failed_windows = ?, finished_at = ?
		 WHERE id = ?`,
		string(rec.Status), rec.Succeeded, rec.Failed, rec.Skipped, rec.RecordsTotal,
		rec.DroppedTotal, string(failedJSON), sqliteTimeOrNil(rec.FinishedAt), rec.RunID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete import %s", rec.RunID)
	}
	return checkRowsAffected(res, "import", rec.RunID)
}

const sqliteImportColumns = `id, range_start, range_end, status, total_windows, succeeded, failed, skipped,
	records_total, dropped_total, failed_windows, started_at, finished_at`

func (s *SQLiteStore) GetImport(ctx context.Context, runID string) (*model.ImportRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteImportColumns+` FROM import_log WHERE id = ?`, runID)
	rec, err := scanSQLiteImport(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, eris.Wrapf(ErrNotFound, "import %s", runID)
		}
		return nil, eris.Wrapf(err, "sqlite: get import %s", runID)
	}
	return rec, nil
}

func (s *SQLiteStore) ListImports(ctx context.Context, limit int) ([]model.ImportRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteImportColumns+` FROM import_log ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list imports")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.ImportRecord
	for rows.Next() {
		rec, err := scanSQLiteImport(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: list imports scan")
		}
		out = append(out, *rec)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list imports iterate")
}

func (s *SQLiteStore) LatestFailedImport(ctx context.Context) (*model.ImportRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteImportColumns+` FROM import_log WHERE failed > 0 ORDER BY started_at DESC LIMIT 1`)
	rec, err := scanSQLiteImport(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "sqlite: latest failed import")
	}
	return rec, nil
}

// helpers

func sqliteTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeLayout)
}

func parseSQLiteTime(s string) (time.Time, error) {
	t, err := time.Parse(sqliteTimeLayout, s)
	if err != nil {
		return time.Time{}, eris.Wrapf(err, "sqlite: parse stored time %q", s)
	}
	return t.UTC(), nil
}

func sqliteTimeOrNil(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return sqliteTime(t)
}

func sqliteNullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid {
		return nil, nil
	}
	t, err := parseSQLiteTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanSQLiteRecord(row scannable) (*model.GenerationRecord, error) {
	var rec model.GenerationRecord
	var publish sql.NullString
	var start string

	err := row.Scan(&publish, &rec.BusinessType, &rec.PSRType, &rec.Quantity,
		&start, &rec.SettlementDate, &rec.SettlementPeriod, &rec.QuantityMissing)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan record")
	}

	if rec.StartTime, err = parseSQLiteTime(start); err != nil {
		return nil, err
	}

	if pt, err := sqliteNullTime(publish); err != nil {
		return nil, err
	} else if pt != nil {
		rec.PublishTime = *pt
	}
	return &rec, nil
}

func scanSQLiteImport(row scannable) (*model.ImportRecord, error) {
	var rec model.ImportRecord
	var rangeStart, rangeEnd, startedAt string
	var finishedAt, failedWindows sql.NullString

	err := row.Scan(&rec.RunID, &rangeStart, &rangeEnd, &rec.Status, &rec.TotalWindows,
		&rec.Succeeded, &rec.Failed, &rec.Skipped, &rec.RecordsTotal, &rec.DroppedTotal,
		&failedWindows, &startedAt, &finishedAt)
	if err != nil {
		return nil, err
	}

	if rec.RangeStart, err = parseSQLiteTime(rangeStart); err != nil {
		return nil, err
	}
	if rec.RangeEnd, err = parseSQLiteTime(rangeEnd); err != nil {
		return nil, err
	}
	if rec.StartedAt, err = parseSQLiteTime(startedAt); err != nil {
		return nil, err
	}

	if ft, err := sqliteNullTime(finishedAt); err != nil {
		return nil, err
	} else if ft != nil {
		rec.FinishedAt = *ft
	}

	if failedWindows.Valid && failedWindows.String != "" {
		if err := json.Unmarshal([]byte(failedWindows.String), &rec.FailedWindows); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal failed windows")
		}
	}
	return &rec, nil
}
