// Package store persists generation records and the import log behind a
// driver-agnostic interface with SQLite and Postgres implementations.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/gridscope/elexon-pipeline/internal/model"
)

// ErrNotFound is returned by lookups addressing a row that does not exist.
var ErrNotFound = eris.New("store: not found")

// Filter specifies criteria for querying generation records.
type Filter struct {
	PSRType string    `json:"psr_type,omitempty"`
	From    time.Time `json:"from,omitempty"` // inclusive lower bound on start_time
	To      time.Time `json:"to,omitempty"`   // exclusive upper bound on start_time
	Limit   int       `json:"limit,omitempty"`
	Offset  int       `json:"offset,omitempty"`
}

// Status summarizes the stored dataset.
type Status struct {
	TotalRecords  int64      `json:"total_records"`
	PSRTypes      []string   `json:"psr_types"`
	EarliestStart *time.Time `json:"earliest_start,omitempty"`
	LatestStart   *time.Time `json:"latest_start,omitempty"`
	LatestPublish *time.Time `json:"latest_publish,omitempty"`
}

// TechSummary aggregates stored output for one PSR type. Quantity stats
// cover every row, counting null-flagged quantities as zero.
type TechSummary struct {
	PSRType       string     `json:"psr_type"`
	Records       int64      `json:"records"`
	Missing       int64      `json:"missing,omitempty"`
	TotalQuantity float64    `json:"total_quantity"`
	MeanQuantity  float64    `json:"mean_quantity"`
	MaxQuantity   float64    `json:"max_quantity"`
	PeakTime      *time.Time `json:"peak_time,omitempty"` // start of the highest-output period
}

// Store defines the persistence interface for the generation pipeline.
type Store interface {
	// Generation records
	UpsertRecords(ctx context.Context, records []model.GenerationRecord) (int64, error)
	QueryRecords(ctx context.Context, filter Filter) ([]model.GenerationRecord, error)
	Status(ctx context.Context) (*Status, error)
	Summaries(ctx context.Context) ([]TechSummary, error)

	// Import log
	StartImport(ctx context.Context, rec model.ImportRecord) error
	CompleteImport(ctx context.Context, rec model.ImportRecord) error
	GetImport(ctx context.Context, runID string) (*model.ImportRecord, error)
	ListImports(ctx context.Context, limit int) ([]model.ImportRecord, error)
	LatestFailedImport(ctx context.Context) (*model.ImportRecord, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}
