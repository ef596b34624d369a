package model

import "time"

// Stage names a pipeline stage recorded in the run log.
type Stage string

const (
	StageFetch    Stage = "fetch"
	StageDiscover Stage = "discover"
	StageFilter   Stage = "filter"
	StagePublish  Stage = "publish"
)

// RunStatus represents the state of one stage run.
type RunStatus string

const (
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// Run is one entry of the run log. Month is empty for stages that span
// every snapshot (filter, publish).
type Run struct {
	ID               string     `json:"id" yaml:"id" db:"id"`
	Stage            Stage      `json:"stage" yaml:"stage" db:"stage"`
	Month            string     `json:"month,omitempty" yaml:"month,omitempty" db:"month"`
	Status           RunStatus  `json:"status" yaml:"status" db:"status"`
	StartedAt        time.Time  `json:"started_at" yaml:"started_at" db:"started_at"`
	CompletedAt      *time.Time `json:"completed_at,omitempty" yaml:"completed_at,omitempty" db:"completed_at"`
	Revisions        int        `json:"revisions" yaml:"revisions" db:"revisions"`
	Records          int        `json:"records" yaml:"records" db:"records"`
	SkippedRows      int        `json:"skipped_rows" yaml:"skipped_rows" db:"skipped_rows"`
	SkippedRevisions int        `json:"skipped_revisions" yaml:"skipped_revisions" db:"skipped_revisions"`
	Error            string     `json:"error,omitempty" yaml:"error,omitempty" db:"error"`
}

// RunResult carries the counters recorded when a run completes.
type RunResult struct {
	Revisions        int
	Records          int
	SkippedRows      int
	SkippedRevisions int
}
