// Package importer orchestrates multi-window import runs: plan, fetch,
// upsert, and record the outcome in the import log.
package importer

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/gridscope/elexon-pipeline/internal/elexon"
	"github.com/gridscope/elexon-pipeline/internal/model"
	"github.com/gridscope/elexon-pipeline/internal/store"
	"github.com/gridscope/elexon-pipeline/internal/window"
)

// Fetcher retrieves the generation records for one window.
type Fetcher interface {
	FetchWindow(ctx context.Context, w model.Window) (*elexon.Result, error)
}

// Options configures an import run.
type Options struct {
	// MaxWindowDays caps the span of each planned window.
	MaxWindowDays int

	// Concurrency is the number of windows fetched in parallel. The
	// upstream rate limit makes 1 the sensible default.
	Concurrency int

	// DryRun fetches and counts records without writing to the store.
	DryRun bool

	// Progress, when set, receives each window outcome as it completes.
	// Calls are serialized.
	Progress func(model.ImportOutcome)
}

// Importer coordinates import runs against a store and a fetcher.
type Importer struct {
	store   store.Store
	fetcher Fetcher
	opts    Options
}

// New creates an Importer. Zero option values fall back to defaults.
func New(st store.Store, f Fetcher, opts Options) *Importer {
	if opts.MaxWindowDays <= 0 {
		opts.MaxWindowDays = window.DefaultMaxDays
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	return &Importer{store: st, fetcher: f, opts: opts}
}

// RunRange plans [start, end) into windows and imports them.
func (imp *Importer) RunRange(ctx context.Context, start, end time.Time) (*model.ImportSummary, error) {
	windows, err := window.Plan(start, end, imp.opts.MaxWindowDays)
	if err != nil {
		return nil, err
	}
	return imp.run(ctx, start, end, windows)
}

// RunYear imports one calendar year.
func (imp *Importer) RunYear(ctx context.Context, year int) (*model.ImportSummary, error) {
	start, end := window.YearRange(year)
	return imp.RunRange(ctx, start, end)
}

// RetryFailed re-runs the failed windows of the most recent import that had
// failures. It returns (nil, nil) when there is nothing to retry.
func (imp *Importer) RetryFailed(ctx context.Context) (*model.ImportSummary, error) {
	last, err := imp.store.LatestFailedImport(ctx)
	if err != nil {
		return nil, err
	}
	if last == nil || len(last.FailedWindows) == 0 {
		return nil, nil
	}

	zap.L().Info("retrying failed windows",
		zap.String("source_run", last.RunID),
		zap.Int("windows", len(last.FailedWindows)),
	)
	return imp.run(ctx, last.RangeStart, last.RangeEnd, last.FailedWindows)
}

// RetryRun re-runs the failed windows of one specific logged import.
func (imp *Importer) RetryRun(ctx context.Context, runID string) (*model.ImportSummary, error) {
	rec, err := imp.store.GetImport(ctx, runID)
	if err != nil {
		return nil, err
	}
	if len(rec.FailedWindows) == 0 {
		return nil, eris.Errorf("importer: run %s has no failed windows", runID)
	}

	zap.L().Info("retrying failed windows",
		zap.String("source_run", rec.RunID),
		zap.Int("windows", len(rec.FailedWindows)),
	)
	return imp.run(ctx, rec.RangeStart, rec.RangeEnd, rec.FailedWindows)
}

// run imports the given windows as one logged run. Fetch failures are
// tolerated per window; a store write failure cancels the remaining windows.
func (imp *Importer) run(ctx context.Context, start, end time.Time, windows []model.Window) (*model.ImportSummary, error) {
	if len(windows) == 0 {
		return nil, eris.New("importer: no windows to import")
	}

	runID := uuid.NewString()
	startedAt := time.Now().UTC()
	log := zap.L().With(zap.String("component", "importer"), zap.String("run_id", runID))

	log.Info("starting import",
		zap.String("range", model.Window{Start: start, End: end}.String()),
		zap.Int("windows", len(windows)),
		zap.Int("concurrency", imp.opts.Concurrency),
		zap.Bool("dry_run", imp.opts.DryRun),
	)

	if !imp.opts.DryRun {
		err := imp.store.StartImport(ctx, model.ImportRecord{
			RunID:        runID,
			RangeStart:   start,
			RangeEnd:     end,
			Status:       model.ImportRunning,
			TotalWindows: len(windows),
			StartedAt:    startedAt,
		})
		if err != nil {
			return nil, eris.Wrap(err, "importer: record run start")
		}
	}

	outcomes := make([]model.ImportOutcome, len(windows))
	var progressMu sync.Mutex

	emit := func(o model.ImportOutcome) {
		if imp.opts.Progress == nil {
			return
		}
		progressMu.Lock()
		defer progressMu.Unlock()
		imp.opts.Progress(o)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(imp.opts.Concurrency)

	for i, w := range windows {
		i, w := i, w
		g.Go(func() error {
			// Windows reached after cancellation are skipped, not failed,
			// so a later retry-failed run does not re-import them blindly.
			select {
			case <-gctx.Done():
				outcomes[i] = model.ImportOutcome{Window: w, Status: model.WindowSkipped, Reason: "cancelled"}
				emit(outcomes[i])
				return nil
			default:
			}

			wLog := log.With(zap.String("window", w.String()))

			res, err := imp.fetcher.FetchWindow(gctx, w)
			if err != nil {
				wLog.Error("window fetch failed", zap.Error(err))
				outcomes[i] = model.ImportOutcome{Window: w, Status: model.WindowFailed, Reason: err.Error()}
				emit(outcomes[i])
				return nil // fetch failures don't abort the run
			}

			if !imp.opts.DryRun {
				if _, err := imp.store.UpsertRecords(gctx, res.Records); err != nil {
					wLog.Error("window upsert failed", zap.Error(err))
					outcomes[i] = model.ImportOutcome{Window: w, Status: model.WindowFailed, Reason: err.Error()}
					emit(outcomes[i])
					return eris.Wrapf(err, "importer: upsert window %s", w)
				}
			}

			outcomes[i] = model.ImportOutcome{
				Window:         w,
				Status:         model.WindowSucceeded,
				RecordsFetched: len(res.Records),
				RecordsDropped: res.Dropped,
			}
			wLog.Info("window imported",
				zap.Int("records", len(res.Records)),
				zap.Int("dropped", res.Dropped),
			)
			emit(outcomes[i])
			return nil
		})
	}

	waitErr := g.Wait()
	if waitErr == nil {
		// Surface caller cancellation even though skipped windows return nil.
		waitErr = ctx.Err()
	}

	summary := &model.ImportSummary{
		RunID:        runID,
		Start:        start,
		End:          end,
		TotalWindows: len(windows),
		StartedAt:    startedAt,
		Elapsed:      time.Since(startedAt),
		Outcomes:     outcomes,
	}
	for _, o := range outcomes {
		switch o.Status {
		case model.WindowSucceeded:
			summary.Succeeded++
			summary.RecordsTotal += int64(o.RecordsFetched)
			summary.DroppedTotal += o.RecordsDropped
		case model.WindowFailed:
			summary.Failed++
		case model.WindowSkipped:
			summary.Skipped++
		}
	}

	if !imp.opts.DryRun {
		// Recording the final state must not depend on the (possibly
		// cancelled) run context.
		logCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := imp.store.CompleteImport(logCtx, summary.Record()); err != nil {
			log.Error("failed to record run completion", zap.Error(err))
		}
	}

	log.Info("import finished",
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("failed", summary.Failed),
		zap.Int("skipped", summary.Skipped),
		zap.Int64("records", summary.RecordsTotal),
		zap.Duration("elapsed", summary.Elapsed),
	)

	if waitErr != nil {
		return summary, waitErr
	}
	return summary, nil
}
