package discovery

import (
	"context"
	"path"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/hazmat-radar/internal/fetcher"
	"github.com/sells-group/hazmat-radar/internal/model"
	"github.com/sells-group/hazmat-radar/internal/store"
)

// RunnerOptions locates snapshots and outputs.
type RunnerOptions struct {
	// SnapshotDir is the repository-relative directory holding the monthly
	// snapshots (e.g. "data/fetched").
	SnapshotDir string
	// OutputDir is the filesystem directory receiving one table per month.
	OutputDir string
}

// RunOpts selects which months a run processes.
type RunOpts struct {
	Start       model.Month
	Count       int
	Forward     bool
	Concurrency int
}

// MonthResult is the outcome of one month.
type MonthResult struct {
	Month    model.Month `json:"month"`
	Output   string      `json:"output"`
	Existing int         `json:"existing"`
	Total    int         `json:"total"`
	Written  bool        `json:"written"`
	Stats    Stats       `json:"stats"`
}

// Runner drives incremental per-month discovery. Each month's output is read
// back before its history is folded, so records already written are kept
// as-is and only new keys are appended.
type Runner struct {
	engine *Engine
	runLog store.RunLog
	index  store.DiscoveryIndex
	opts   RunnerOptions
}

// NewRunner creates a Runner. runLog and index may be nil.
func NewRunner(engine *Engine, runLog store.RunLog, index store.DiscoveryIndex, opts RunnerOptions) *Runner {
	return &Runner{engine: engine, runLog: runLog, index: index, opts: opts}
}

// OutputPath returns the output table path for month.
func (r *Runner) OutputPath(m model.Month) string {
	return filepath.Join(r.opts.OutputDir, m.FileName())
}

// SnapshotPath returns the repository-relative snapshot path for month.
func (r *Runner) SnapshotPath(m model.Month) string {
	return path.Join(filepath.ToSlash(r.opts.SnapshotDir), m.FileName())
}

// Run processes the selected months. Months are independent; with
// Concurrency > 1 they run in parallel, each writing its own file. The
// first month error cancels the rest and is returned.
func (r *Runner) Run(ctx context.Context, opts RunOpts) ([]MonthResult, error) {
	log := zap.L().With(zap.String("component", "discovery.runner"))
	months := model.Walk(opts.Start, opts.Count, opts.Forward)
	if len(months) == 0 {
		log.Info("no months selected")
		return nil, nil
	}

	results := make([]MonthResult, len(months))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(opts.Concurrency, 1))

	for i, m := range months {
		g.Go(func() error {
			res, err := r.RunMonth(gctx, m)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var total Stats
	for _, res := range results {
		total.Add(res.Stats)
	}
	log.Info("discovery run complete",
		zap.Int("months", len(months)),
		zap.Int("revisions", total.Revisions),
		zap.Int("new_records", total.NewRecords),
		zap.Int("skipped_revisions", total.SkippedRevisions),
		zap.Int("skipped_rows", total.SkippedRows),
	)
	return results, nil
}

// RunMonth processes one month and records it in the run log.
func (r *Runner) RunMonth(ctx context.Context, m model.Month) (MonthResult, error) {
	log := zap.L().With(zap.String("component", "discovery.runner"), zap.String("month", m.String()))

	runID := ""
	if r.runLog != nil {
		id, err := r.runLog.StartRun(ctx, model.StageDiscover, m.String())
		if err != nil {
			return MonthResult{}, eris.Wrapf(err, "discovery: start run for %s", m)
		}
		runID = id
	}

	start := time.Now()
	res, err := r.runMonth(ctx, m)
	elapsed := time.Since(start)

	if err != nil {
		log.Error("month failed", zap.Error(err), zap.Duration("elapsed", elapsed))
		if r.runLog != nil {
			if logErr := r.runLog.FailRun(context.WithoutCancel(ctx), runID, err.Error()); logErr != nil {
				log.Error("failed to record run failure", zap.Error(logErr))
			}
		}
		return MonthResult{}, eris.Wrapf(err, "discovery: month %s", m)
	}

	if r.runLog != nil {
		if err := r.runLog.CompleteRun(ctx, runID, res.Stats.RunResult()); err != nil {
			log.Error("failed to record run completion", zap.Error(err))
		}
	}

	log.Info("month complete",
		zap.Int("existing", res.Existing),
		zap.Int("new_records", res.Stats.NewRecords),
		zap.Int("revisions", res.Stats.Revisions),
		zap.Int("skipped_revisions", res.Stats.SkippedRevisions),
		zap.Int("skipped_rows", res.Stats.SkippedRows),
		zap.Bool("written", res.Written),
		zap.Duration("elapsed", elapsed),
	)
	return res, nil
}

func (r *Runner) runMonth(ctx context.Context, m model.Month) (MonthResult, error) {
	out := r.OutputPath(m)
	res := MonthResult{Month: m, Output: out}

	table := NewTable()
	exists := fetcher.FileExists(out)
	if exists {
		prev, err := ReadTable(out)
		if err != nil {
			return res, err
		}
		table = prev
	}
	res.Existing = table.Len()

	stats, err := r.engine.DiscoverInto(ctx, table, r.SnapshotPath(m))
	res.Stats = stats
	if err != nil {
		return res, err
	}
	res.Total = table.Len()

	if table.Len() == 0 && !exists {
		return res, nil
	}
	if err := WriteTable(out, table); err != nil {
		return res, err
	}
	res.Written = true

	if r.index != nil {
		if _, err := r.index.MergeDiscoveries(ctx, table.Records()); err != nil {
			return res, eris.Wrap(err, "discovery: update index")
		}
	}
	return res, nil
}
