package severity

import (
	"context"
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"slices"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/hazmat-radar/internal/fetcher"
	"github.com/sells-group/hazmat-radar/internal/model"
	"github.com/sells-group/hazmat-radar/internal/snapshot"
	"github.com/sells-group/hazmat-radar/internal/store"
)

// Output file names.
const (
	SeriousFile   = "serious-incidents.csv"
	ExpensiveFile = "serious-incidents-expensive.csv"
)

// Options locates the inputs and outputs of a filter run.
type Options struct {
	InputDir     string
	OutputDir    string
	ExpensiveMin int64
	IDColumn     string
}

// Result summarizes a filter run.
type Result struct {
	Files     int `json:"files"`
	Rows      int `json:"rows"`
	Serious   int `json:"serious"`
	Expensive int `json:"expensive"`
}

// Run concatenates every snapshot in InputDir in file-name order and writes
// the serious and the expensive serious incidents. runLog may be nil.
func Run(ctx context.Context, opts Options, runLog store.RunLog) (Result, error) {
	log := zap.L().With(zap.String("component", "severity"))

	runID := ""
	if runLog != nil {
		id, err := runLog.StartRun(ctx, model.StageFilter, "")
		if err != nil {
			return Result{}, eris.Wrap(err, "severity: start run")
		}
		runID = id
	}

	res, err := run(ctx, opts)
	if err != nil {
		if runLog != nil {
			if logErr := runLog.FailRun(context.WithoutCancel(ctx), runID, err.Error()); logErr != nil {
				log.Error("failed to record run failure", zap.Error(logErr))
			}
		}
		return res, err
	}

	if runLog != nil {
		if err := runLog.CompleteRun(ctx, runID, model.RunResult{Revisions: res.Files, Records: res.Serious}); err != nil {
			log.Error("failed to record run completion", zap.Error(err))
		}
	}
	log.Info("filter complete",
		zap.Int("files", res.Files),
		zap.Int("rows", res.Rows),
		zap.Int("serious", res.Serious),
		zap.Int("expensive", res.Expensive),
	)
	return res, nil
}

func run(ctx context.Context, opts Options) (Result, error) {
	var res Result

	paths, err := filepath.Glob(filepath.Join(opts.InputDir, "*.csv"))
	if err != nil {
		return res, eris.Wrap(err, "severity: list snapshots")
	}
	slices.Sort(paths)
	res.Files = len(paths)

	var (
		all     []model.Incident
		columns []string
		seen    = make(map[string]bool)
	)
	for _, p := range paths {
		content, err := os.ReadFile(p)
		if err != nil {
			return res, eris.Wrapf(err, "severity: read %s", p)
		}
		incs, err := snapshot.Decode(ctx, content, snapshot.DecodeOptions{IDColumn: opts.IDColumn})
		if err != nil {
			return res, eris.Wrapf(err, "severity: decode %s", p)
		}
		for _, inc := range incs {
			for _, c := range inc.Columns {
				if !seen[c] {
					seen[c] = true
					columns = append(columns, c)
				}
			}
		}
		all = append(all, incs...)
	}
	res.Rows = len(all)

	serious, err := Filter{}.Apply(all)
	if err != nil {
		return res, err
	}
	expensive, err := Filter{CostMin: opts.ExpensiveMin}.Apply(serious)
	if err != nil {
		return res, err
	}
	res.Serious = len(serious)
	res.Expensive = len(expensive)

	if err := WriteIncidents(filepath.Join(opts.OutputDir, SeriousFile), columns, serious); err != nil {
		return res, err
	}
	if err := WriteIncidents(filepath.Join(opts.OutputDir, ExpensiveFile), columns, expensive); err != nil {
		return res, err
	}
	return res, nil
}

// WriteIncidents writes incidents under the given header atomically.
// Columns an incident lacks are left empty.
func WriteIncidents(path string, columns []string, incs []model.Incident) error {
	err := fetcher.WriteFileAtomic(path, func(w io.Writer) error {
		cw := csv.NewWriter(w)
		if err := cw.Write(columns); err != nil {
			return err
		}
		row := make([]string, len(columns))
		for _, inc := range incs {
			for i, c := range columns {
				row[i] = inc.Get(c)
			}
			if err := cw.Write(row); err != nil {
				return err
			}
		}
		cw.Flush()
		return cw.Error()
	})
	return eris.Wrapf(err, "severity: write %s", path)
}
