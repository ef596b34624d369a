// Package store persists the run log and the discovery index.
package store

import (
	"context"
	"time"

	"github.com/sells-group/hazmat-radar/internal/model"
)

// RunLog records the lifecycle of stage runs.
type RunLog interface {
	StartRun(ctx context.Context, stage model.Stage, month string) (string, error)
	CompleteRun(ctx context.Context, runID string, result model.RunResult) error
	FailRun(ctx context.Context, runID string, errMsg string) error
}

// DiscoveryIndex mirrors discovery tables into a queryable index.
type DiscoveryIndex interface {
	// MergeDiscoveries upserts records, keeping the earliest timestamp per
	// report number. Returns the number of rows inserted or moved earlier.
	MergeDiscoveries(ctx context.Context, records []model.Discovery) (int, error)
}

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Stage  model.Stage     `json:"stage,omitempty"`
	Status model.RunStatus `json:"status,omitempty"`
	Limit  int             `json:"limit,omitempty"`
}

// Store is the full persistence surface used by the CLI.
type Store interface {
	RunLog
	DiscoveryIndex

	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)
	RecentDiscoveries(ctx context.Context, since time.Time, limit int) ([]model.Discovery, error)
	CountDiscoveries(ctx context.Context) (int, error)

	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
