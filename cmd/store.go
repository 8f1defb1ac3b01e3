package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/gridscope/elexon-pipeline/internal/elexon"
	"github.com/gridscope/elexon-pipeline/internal/importer"
	"github.com/gridscope/elexon-pipeline/internal/model"
	"github.com/gridscope/elexon-pipeline/internal/resilience"
	"github.com/gridscope/elexon-pipeline/internal/store"
)

// initStore opens the configured store backend.
func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		path := cfg.Store.Path
		if path == "" {
			path = "elexon_generation.db"
		}
		return store.NewSQLite(path)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// newElexonClient builds the API client from config.
func newElexonClient() *elexon.Client {
	return elexon.NewClient(elexon.Options{
		BaseURL:           cfg.Elexon.BaseURL,
		UserAgent:         cfg.Elexon.UserAgent,
		Timeout:           time.Duration(cfg.Elexon.TimeoutSecs) * time.Second,
		RequestsPerSecond: cfg.Elexon.RequestsPerSecond,
		Burst:             cfg.Elexon.Burst,
		Retry: resilience.FromRetryConfig(
			cfg.Elexon.MaxAttempts,
			cfg.Elexon.InitialBackoffMs,
			cfg.Elexon.MaxBackoffMs,
			cfg.Elexon.BackoffMultiplier,
			cfg.Elexon.JitterFraction,
		),
	})
}

// newImporter wires an Importer from config with an optional progress sink.
func newImporter(st store.Store, dryRun bool, progress func(model.ImportOutcome)) *importer.Importer {
	return importer.New(st, newElexonClient(), importer.Options{
		MaxWindowDays: cfg.Import.MaxWindowDays,
		Concurrency:   cfg.Import.Concurrency,
		DryRun:        dryRun,
		Progress:      progress,
	})
}
