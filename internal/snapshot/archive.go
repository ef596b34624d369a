package snapshot

import (
	"context"
	"errors"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/hazmat-radar/internal/fetcher"
	"github.com/sells-group/hazmat-radar/internal/model"
	"github.com/sells-group/hazmat-radar/internal/resilience"
	"github.com/sells-group/hazmat-radar/internal/store"
	"github.com/sells-group/hazmat-radar/pkg/portal"
)

// ArchiveOpts selects the months to fetch.
type ArchiveOpts struct {
	Start     model.Month
	Count     int
	Forward   bool
	Overwrite bool
	Expand    bool
}

// MonthFetch is the outcome of one archived month.
type MonthFetch struct {
	Month   model.Month `json:"month"`
	Path    string      `json:"path"`
	Bytes   int         `json:"bytes"`
	Skipped bool        `json:"skipped"`
	NoRows  bool        `json:"no_rows"`
}

// Archiver downloads monthly exports into its directory as YYYY-MM.csv.
type Archiver struct {
	source portal.Fetcher
	runLog store.RunLog
	dir    string

	// Delay separates consecutive downloads.
	Delay time.Duration
	// Retry reruns a whole month's download. MaxAttempts <= 1 disables it.
	Retry resilience.RetryConfig

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewArchiver creates an Archiver. runLog may be nil.
func NewArchiver(source portal.Fetcher, runLog store.RunLog, dir string, delay time.Duration) *Archiver {
	return &Archiver{
		source: source,
		runLog: runLog,
		dir:    dir,
		Delay:  delay,
		now:    time.Now,
		sleep:  sleepCtx,
	}
}

// Path returns the archive path of month.
func (a *Archiver) Path(m model.Month) string {
	return filepath.Join(a.dir, m.FileName())
}

// Run fetches each selected month in order. A month outside the published
// range stops the run before anything for it is fetched.
func (a *Archiver) Run(ctx context.Context, opts ArchiveOpts) ([]MonthFetch, error) {
	log := zap.L().With(zap.String("component", "snapshot.archiver"))
	months := model.Walk(opts.Start, opts.Count, opts.Forward)

	var out []MonthFetch
	for i, m := range months {
		if err := m.Validate(a.now()); err != nil {
			return out, err
		}

		dest := a.Path(m)
		if !opts.Overwrite && fetcher.FileExists(dest) {
			log.Debug("already fetched", zap.String("month", m.String()), zap.String("path", dest))
			out = append(out, MonthFetch{Month: m, Path: dest, Skipped: true})
			continue
		}

		res, err := a.fetchMonth(ctx, m, dest, opts.Expand)
		if err != nil {
			return out, err
		}
		out = append(out, res)

		if i < len(months)-1 && a.Delay > 0 {
			if err := a.sleep(ctx, a.Delay); err != nil {
				return out, eris.Wrap(err, "snapshot: wait between months")
			}
		}
	}
	return out, nil
}

func (a *Archiver) fetchMonth(ctx context.Context, m model.Month, dest string, expand bool) (MonthFetch, error) {
	log := zap.L().With(zap.String("component", "snapshot.archiver"), zap.String("month", m.String()))
	res := MonthFetch{Month: m, Path: dest}

	runID := ""
	if a.runLog != nil {
		id, err := a.runLog.StartRun(ctx, model.StageFetch, m.String())
		if err != nil {
			return res, eris.Wrapf(err, "snapshot: start run for %s", m)
		}
		runID = id
	}
	fail := func(err error) (MonthFetch, error) {
		if a.runLog != nil {
			if logErr := a.runLog.FailRun(context.WithoutCancel(ctx), runID, err.Error()); logErr != nil {
				log.Error("failed to record run failure", zap.Error(logErr))
			}
		}
		return res, err
	}

	from, to := m.DateRange()
	log.Info("fetching", zap.String("date_from", from), zap.String("date_to", to))

	body, err := a.fetch(ctx, portal.Query{DateFrom: from, DateTo: to, Expand: expand})
	switch {
	case errors.Is(err, portal.ErrNoRows):
		log.Info("the query resulted in no rows")
		res.NoRows = true
	case err != nil:
		return fail(eris.Wrapf(err, "snapshot: fetch %s", m))
	default:
		if err := fetcher.WriteBytesAtomic(dest, body); err != nil {
			return fail(eris.Wrapf(err, "snapshot: write %s", dest))
		}
		res.Bytes = len(body)
		log.Info("snapshot archived", zap.String("path", dest), zap.Int("bytes", len(body)))
	}

	if a.runLog != nil {
		if err := a.runLog.CompleteRun(ctx, runID, model.RunResult{}); err != nil {
			log.Error("failed to record run completion", zap.Error(err))
		}
	}
	return res, nil
}

func (a *Archiver) fetch(ctx context.Context, q portal.Query) ([]byte, error) {
	if a.Retry.MaxAttempts <= 1 {
		return a.source.Fetch(ctx, q)
	}
	retry := a.Retry
	retry.ShouldRetry = func(err error) bool {
		return !errors.Is(err, portal.ErrNoRows) && !errors.Is(err, context.Canceled)
	}
	retry.OnRetry = resilience.RetryLogger("snapshot.archiver", "fetch "+q.DateFrom)
	return resilience.DoVal(ctx, retry, func(ctx context.Context) ([]byte, error) {
		return a.source.Fetch(ctx, q)
	})
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
