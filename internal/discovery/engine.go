package discovery

import (
	"context"
	"errors"
	"path"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/hazmat-radar/internal/history"
	"github.com/sells-group/hazmat-radar/internal/identity"
	"github.com/sells-group/hazmat-radar/internal/model"
	"github.com/sells-group/hazmat-radar/internal/snapshot"
)

// Stats counts what one fold saw.
type Stats struct {
	Revisions        int `json:"revisions"`
	SkippedRevisions int `json:"skipped_revisions"`
	Rows             int `json:"rows"`
	SkippedRows      int `json:"skipped_rows"`
	NewRecords       int `json:"new_records"`
}

// Add accumulates o into s.
func (s *Stats) Add(o Stats) {
	s.Revisions += o.Revisions
	s.SkippedRevisions += o.SkippedRevisions
	s.Rows += o.Rows
	s.SkippedRows += o.SkippedRows
	s.NewRecords += o.NewRecords
}

// RunResult converts the counters for the run log.
func (s Stats) RunResult() model.RunResult {
	return model.RunResult{
		Revisions:        s.Revisions,
		Records:          s.NewRecords,
		SkippedRows:      s.SkippedRows,
		SkippedRevisions: s.SkippedRevisions,
	}
}

// EngineOptions configures an Engine.
type EngineOptions struct {
	// Policy decides whether an unparsable identifier skips the row or
	// aborts the fold. Defaults to identity.PolicySkip.
	Policy identity.Policy
	// IDColumn names the identifier column. Defaults to "Report Number".
	IDColumn string
}

// Engine folds snapshot revisions into discovery tables.
type Engine struct {
	reader history.Reader
	opts   EngineOptions
}

// NewEngine creates an engine reading history from reader.
func NewEngine(reader history.Reader, opts EngineOptions) *Engine {
	if opts.Policy == "" {
		opts.Policy = identity.PolicySkip
	}
	return &Engine{reader: reader, opts: opts}
}

// Discover lists every revision of path and folds them into a new table.
func (e *Engine) Discover(ctx context.Context, p string) (*Table, Stats, error) {
	t := NewTable()
	stats, err := e.DiscoverInto(ctx, t, p)
	if err != nil {
		return nil, stats, err
	}
	return t, stats, nil
}

// DiscoverInto folds the history of path into an existing table.
func (e *Engine) DiscoverInto(ctx context.Context, t *Table, p string) (Stats, error) {
	revs, err := e.reader.ListRevisions(ctx, p)
	if err != nil {
		return Stats{}, eris.Wrapf(err, "discovery: list revisions of %s", p)
	}
	return e.FoldInto(ctx, t, revs)
}

// Fold folds revisions into a new table. See FoldInto.
func (e *Engine) Fold(ctx context.Context, revs []model.Revision) (*Table, Stats, error) {
	t := NewTable()
	stats, err := e.FoldInto(ctx, t, revs)
	if err != nil {
		return nil, stats, err
	}
	return t, stats, nil
}

// FoldInto walks revs in the order given, which must be oldest first; the
// order is trusted, not re-sorted. Each key seen for the first time is added
// with the revision's file, id and timestamp. Keys already in t are never
// touched. Missing and malformed revisions are logged and skipped.
func (e *Engine) FoldInto(ctx context.Context, t *Table, revs []model.Revision) (Stats, error) {
	log := zap.L().With(zap.String("component", "discovery.engine"))
	var stats Stats

	for _, rev := range revs {
		if err := ctx.Err(); err != nil {
			return stats, eris.Wrap(err, "discovery: fold cancelled")
		}
		revLog := log.With(zap.String("path", rev.Path), zap.String("revision", rev.ID))

		if rev.Missing() {
			revLog.Warn("skipping revision without content",
				zap.Error(history.ErrMissingRevisionContent),
			)
			stats.SkippedRevisions++
			continue
		}

		incidents, err := snapshot.Decode(ctx, rev.Content, snapshot.DecodeOptions{IDColumn: e.opts.IDColumn})
		if err != nil {
			if errors.Is(err, snapshot.ErrMalformedSnapshot) {
				revLog.Warn("skipping malformed revision", zap.Error(err))
				stats.SkippedRevisions++
				continue
			}
			return stats, eris.Wrapf(err, "discovery: decode %s at %s", rev.Path, rev.ID)
		}
		stats.Revisions++

		file := path.Base(rev.Path)
		for _, inc := range incidents {
			stats.Rows++
			key, err := identity.Extract(inc.RawReportNumber)
			if err != nil {
				if e.opts.Policy == identity.PolicyStrict {
					return stats, eris.Wrapf(err, "discovery: %s at %s", rev.Path, rev.ID)
				}
				revLog.Warn("skipping row with unparsable identifier", zap.Error(err))
				stats.SkippedRows++
				continue
			}
			if t.Add(model.Discovery{
				ReportNumber: key,
				File:         file,
				Revision:     rev.ID,
				Timestamp:    rev.Timestamp.UTC(),
			}) {
				stats.NewRecords++
			}
		}
	}
	return stats, nil
}
