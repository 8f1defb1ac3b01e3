package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/gridscope/elexon-pipeline/internal/db"
	"github.com/gridscope/elexon-pipeline/internal/model"
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

	// Apply pool sizing from config with sensible defaults.
	maxConns := int32(10)
	minConns := int32(2)
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

// Pool returns the underlying database pool for subsystems that need direct
// query access.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS generation (
	publish_time      TIMESTAMPTZ,
	business_type     TEXT,
	psr_type          TEXT NOT NULL,
	quantity          DOUBLE PRECISION NOT NULL DEFAULT 0,
	start_time        TIMESTAMPTZ NOT NULL,
	settlement_date   TEXT,
	settlement_period INTEGER,
	quantity_missing  BOOLEAN NOT NULL DEFAULT false,
	PRIMARY KEY (psr_type, start_time)
);

CREATE INDEX IF NOT EXISTS idx_generation_start_time ON generation(start_time);
CREATE INDEX IF NOT EXISTS idx_generation_settlement_date ON generation(settlement_date);

CREATE TABLE IF NOT EXISTS import_log (
	id             TEXT PRIMARY KEY,
	range_start    TIMESTAMPTZ NOT NULL,
	range_end      TIMESTAMPTZ NOT NULL,
	status         TEXT NOT NULL DEFAULT 'running',
	total_windows  INTEGER NOT NULL DEFAULT 0,
	succeeded      INTEGER NOT NULL DEFAULT 0,
	failed         INTEGER NOT NULL DEFAULT 0,
	skipped        INTEGER NOT NULL DEFAULT 0,
	records_total  BIGINT NOT NULL DEFAULT 0,
	dropped_total  INTEGER NOT NULL DEFAULT 0,
	failed_windows JSONB,
	started_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	finished_at    TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_import_log_started_at ON import_log(started_at DESC);
CREATE INDEX IF NOT EXISTS idx_import_log_status ON import_log(status);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

var generationColumns = []string{
	"publish_time", "business_type", "psr_type", "quantity",
	"start_time", "settlement_date", "settlement_period", "quantity_missing",
}

func (s *PostgresStore) UpsertRecords(ctx context.Context, records []model.GenerationRecord) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}

	rows := make([][]any, 0, len(records))
	for _, rec := range records {
		rows = append(rows, []any{
			pgTimeOrNil(rec.PublishTime), rec.BusinessType, rec.PSRType, rec.Quantity,
			rec.StartTime.UTC(), rec.SettlementDate, rec.SettlementPeriod, rec.QuantityMissing,
		})
	}

	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "generation",
		Columns:      generationColumns,
		ConflictKeys: []string{"psr_type", "start_time"},
	}, rows)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: upsert records")
	}
	return n, nil
}

func (s *PostgresStore) QueryRecords(ctx context.Context, filter Filter) ([]model.GenerationRecord, error) {
	query := `SELECT publish_time, business_type, psr_type, quantity, start_time, settlement_date, settlement_period, quantity_missing
	          FROM generation WHERE true`
	args := []any{}
	argIdx := 1

	if filter.PSRType != "" {
		query += fmt.Sprintf(` AND psr_type = $%d`, argIdx)
		args = append(args, filter.PSRType)
		argIdx++
	}
	if !filter.From.IsZero() {
		query += fmt.Sprintf(` AND start_time >= $%d`, argIdx)
		args = append(args, filter.From.UTC())
		argIdx++
	}
	if !filter.To.IsZero() {
		query += fmt.Sprintf(` AND start_time < $%d`, argIdx)
		args = append(args, filter.To.UTC())
		argIdx++
	}
	query += ` ORDER BY start_time, psr_type`

	// Limit <= 0 returns all matching rows.
	if filter.Limit > 0 {
		query += fmt.Sprintf(` LIMIT $%d`, argIdx)
		args = append(args, filter.Limit)
		argIdx++
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
		argIdx++
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query records")
	}
	defer rows.Close()

	var records []model.GenerationRecord
	for rows.Next() {
		var rec model.GenerationRecord
		var publish *time.Time

		if err := rows.Scan(&publish, &rec.BusinessType, &rec.PSRType, &rec.Quantity,
			&rec.StartTime, &rec.SettlementDate, &rec.SettlementPeriod, &rec.QuantityMissing); err != nil {
			return nil, eris.Wrap(err, "postgres: scan record")
		}
		if publish != nil {
			rec.PublishTime = publish.UTC()
		}
		rec.StartTime = rec.StartTime.UTC()
		records = append(records, rec)
	}
	return records, eris.Wrap(rows.Err(), "postgres: query records iterate")
}

func (s *PostgresStore) Status(ctx context.Context) (*Status, error) {
	var st Status
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*), MIN(start_time), MAX(start_time), MAX(publish_time) FROM generation`,
	).Scan(&st.TotalRecords, &st.EarliestStart, &st.LatestStart, &st.LatestPublish)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: status counts")
	}

	rows, err := s.pool.Query(ctx, `SELECT DISTINCT psr_type FROM generation ORDER BY psr_type`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: status psr types")
	}
	defer rows.Close()

	for rows.Next() {
		var pt string
		if err := rows.Scan(&pt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan psr type")
		}
		st.PSRTypes = append(st.PSRTypes, pt)
	}
	return &st, eris.Wrap(rows.Err(), "postgres: status iterate")
}

func (s *PostgresStore) Summaries(ctx context.Context) ([]TechSummary, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT g.psr_type, COUNT(*),
		       SUM(CASE WHEN g.quantity_missing THEN 1 ELSE 0 END),
		       SUM(g.quantity), AVG(g.quantity), MAX(g.quantity),
		       (SELECT p.start_time FROM generation p
		        WHERE p.psr_type = g.psr_type
		        ORDER BY p.quantity DESC, p.start_time LIMIT 1)
		FROM generation g GROUP BY g.psr_type ORDER BY g.psr_type`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: summaries")
	}
	defer rows.Close()

	var out []TechSummary
	for rows.Next() {
		var ts TechSummary
		if err := rows.Scan(&ts.PSRType, &ts.Records, &ts.Missing, &ts.TotalQuantity, &ts.MeanQuantity, &ts.MaxQuantity, &ts.PeakTime); err != nil {
			return nil, eris.Wrap(err, "postgres: scan summary")
		}
		out = append(out, ts)
	}
	return out, eris.Wrap(rows.Err(), "postgres: summaries iterate")
}

func (s *PostgresStore) StartImport(ctx context.Context, rec model.ImportRecord) error {
	status := rec.Status
	if status == "" {
		status = model.ImportRunning
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO import_log (id, range_start, range_end, status, total_windows, started_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		rec.RunID, rec.RangeStart.UTC(), rec.RangeEnd.UTC(),
		string(status), rec.TotalWindows, rec.StartedAt.UTC(),
	)
	return eris.Wrapf(err, "postgres: start import %s", rec.RunID)
}

func (s *PostgresStore) CompleteImport(ctx context.Context, rec model.ImportRecord) error {
	failedJSON, err := json.Marshal(rec.FailedWindows)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal failed windows")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE import_log
		 SET status = $1, succeeded = $2, failed = $3, skipped = $4, records_total = $5,
		     dropped_total = $6, failed_windows = $7, finished_at = $8
		 WHERE id = $9`,
		string(rec.Status), rec.Succeeded, rec.Failed, rec.Skipped, rec.RecordsTotal,
		rec.DroppedTotal, failedJSON, pgTimeOrNil(rec.FinishedAt), rec.RunID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete import %s", rec.RunID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("import not found: %s", rec.RunID)
	}
	return nil
}

const pgImportColumns = `id, range_start, range_end, status, total_windows, succeeded, failed, skipped,
	records_total, dropped_total, failed_windows, started_at, finished_at`

func (s *PostgresStore) GetImport(ctx context.Context, runID string) (*model.ImportRecord, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+pgImportColumns+` FROM import_log WHERE id = $1`, runID)
	rec, err := scanPGImport(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, eris.Wrapf(ErrNotFound, "import %s", runID)
		}
		return nil, eris.Wrapf(err, "postgres: get import %s", runID)
	}
	return rec, nil
}

func (s *PostgresStore) ListImports(ctx context.Context, limit int) ([]model.ImportRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+pgImportColumns+` FROM import_log ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list imports")
	}
	defer rows.Close()

	var out []model.ImportRecord
	for rows.Next() {
		rec, err := scanPGImport(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: list imports scan")
		}
		out = append(out, *rec)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list imports iterate")
}

func (s *PostgresStore) LatestFailedImport(ctx context.Context) (*model.ImportRecord, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+pgImportColumns+` FROM import_log WHERE failed > 0 ORDER BY started_at DESC LIMIT 1`)
	rec, err := scanPGImport(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: latest failed import")
	}
	return rec, nil
}

// helpers

func pgTimeOrNil(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}

func scanPGImport(row pgx.Row) (*model.ImportRecord, error) {
	var rec model.ImportRecord
	var failedJSON []byte
	var finished *time.Time

	err := row.Scan(&rec.RunID, &rec.RangeStart, &rec.RangeEnd, &rec.Status, &rec.TotalWindows,
		&rec.Succeeded, &rec.Failed, &rec.Skipped, &rec.RecordsTotal, &rec.DroppedTotal,
		&failedJSON, &rec.StartedAt, &finished)
	if err != nil {
		return nil, err
	}

	rec.RangeStart = rec.RangeStart.UTC()
	rec.RangeEnd = rec.RangeEnd.UTC()
	rec.StartedAt = rec.StartedAt.UTC()
	if finished != nil {
		rec.FinishedAt = finished.UTC()
	}
	if len(failedJSON) > 0 {
		if err := json.Unmarshal(failedJSON, &rec.FailedWindows); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal failed windows")
		}
	}
	return &rec, nil
}
