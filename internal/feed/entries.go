// Package feed publishes RSS feeds of recently discovered incident reports.
package feed

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/hazmat-radar/internal/discovery"
	"github.com/sells-group/hazmat-radar/internal/identity"
	"github.com/sells-group/hazmat-radar/internal/model"
	"github.com/sells-group/hazmat-radar/internal/snapshot"
)

// Entry is a discovered report joined with its snapshot row.
type Entry struct {
	Discovery model.Discovery
	Incident  model.Incident
	Link      string
}

// ReportNumber returns the canonical report number.
func (e Entry) ReportNumber() model.Key {
	return e.Discovery.ReportNumber
}

// LoadOptions bounds the data an entry set is built from.
type LoadOptions struct {
	DiscoveredDir  string
	SnapshotDir    string
	NumMonths      int
	DiscoveredDays int
	IDColumn       string
}

// LoadEntries joins the last NumMonths discovery tables with the last
// NumMonths snapshots, keeping reports discovered within DiscoveredDays of
// now. Discovery tables are merged earliest-first; snapshot rows are
// deduplicated by raw identifier and then by report number, keeping the
// first occurrence.
func LoadEntries(ctx context.Context, opts LoadOptions, now time.Time) ([]Entry, error) {
	log := zap.L().With(zap.String("component", "feed"))

	tables, err := discovery.ReadTables(opts.DiscoveredDir, opts.NumMonths)
	if err != nil {
		return nil, err
	}
	merged := discovery.Merge(tables...)

	incidents, err := loadIncidents(ctx, opts, log)
	if err != nil {
		return nil, err
	}

	cutoff := now.Add(-time.Duration(opts.DiscoveredDays) * 24 * time.Hour)
	var out []Entry
	for _, d := range merged.Records() {
		if !d.Timestamp.After(cutoff) {
			continue
		}
		inc, ok := incidents[d.ReportNumber]
		if !ok {
			log.Debug("discovered report not in recent snapshots", zap.String("report_number", string(d.ReportNumber)))
			continue
		}
		out = append(out, Entry{
			Discovery: d,
			Incident:  inc,
			Link:      identity.Link(inc.RawReportNumber),
		})
	}
	return out, nil
}

func loadIncidents(ctx context.Context, opts LoadOptions, log *zap.Logger) (map[model.Key]model.Incident, error) {
	paths, err := filepath.Glob(filepath.Join(opts.SnapshotDir, "*.csv"))
	if err != nil {
		return nil, eris.Wrap(err, "feed: list snapshots")
	}
	slices.Sort(paths)
	if opts.NumMonths > 0 && len(paths) > opts.NumMonths {
		paths = paths[len(paths)-opts.NumMonths:]
	}

	rawSeen := make(map[string]bool)
	out := make(map[model.Key]model.Incident)
	for _, p := range paths {
		content, err := os.ReadFile(p)
		if err != nil {
			return nil, eris.Wrapf(err, "feed: read %s", p)
		}
		incs, err := snapshot.Decode(ctx, content, snapshot.DecodeOptions{IDColumn: opts.IDColumn})
		if err != nil {
			return nil, eris.Wrapf(err, "feed: decode %s", p)
		}
		for _, inc := range incs {
			if rawSeen[inc.RawReportNumber] {
				continue
			}
			rawSeen[inc.RawReportNumber] = true

			key, err := identity.Extract(inc.RawReportNumber)
			if err != nil {
				log.Warn("skipping row with unparsable report number",
					zap.String("path", p), zap.String("raw", inc.RawReportNumber))
				continue
			}
			if _, dup := out[key]; !dup {
				out[key] = inc
			}
		}
	}
	return out, nil
}
