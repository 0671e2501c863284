package db

import "time"

// Schema defines the SQLite schema. statuses is append-only: the latest row
// is the current status and older rows are history. runs records the outcome
// of every pipeline run.
const Schema = `
CREATE TABLE IF NOT EXISTS statuses (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    message TEXT NOT NULL,
    detail TEXT NOT NULL DEFAULT '',
    color TEXT NOT NULL DEFAULT '',
    target_time TEXT,
    created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_statuses_created_at ON statuses(created_at);

CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    state TEXT NOT NULL CHECK(state IN ('succeeded', 'failed')),
    steps INTEGER NOT NULL,
    failed_step TEXT NOT NULL DEFAULT '',
    error_kind TEXT NOT NULL DEFAULT '',
    detail TEXT NOT NULL DEFAULT '',
    duration_ms INTEGER NOT NULL DEFAULT 0,
    started_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
`

// Run states persisted in the runs table.
const (
	RunSucceeded = "succeeded"
	RunFailed    = "failed"
)

// timeLayout is how timestamps are stored. Fixed width keeps text ordering
// equal to time ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Status is one status record. A record with a TargetTime is a countdown and
// its Message is the label with the duration phrase removed.
type Status struct {
	ID         int64      `json:"id" yaml:"id"`
	Message    string     `json:"message" yaml:"message"`
	Detail     string     `json:"detail,omitempty" yaml:"detail,omitempty"`
	Color      string     `json:"color,omitempty" yaml:"color,omitempty"`
	TargetTime *time.Time `json:"targetTime,omitempty" yaml:"targetTime,omitempty"`
	CreatedAt  time.Time  `json:"createdAt" yaml:"createdAt"`
}

// IsCountdown reports whether the record counts down to a target time.
func (s *Status) IsCountdown() bool {
	return s != nil && s.TargetTime != nil
}

// RunRecord is the persisted summary of a pipeline run.
type RunRecord struct {
	ID         string    `json:"id" yaml:"id"`
	State      string    `json:"state" yaml:"state"`
	Steps      int       `json:"steps" yaml:"steps"`
	FailedStep string    `json:"failedStep,omitempty" yaml:"failedStep,omitempty"`
	ErrorKind  string    `json:"errorKind,omitempty" yaml:"errorKind,omitempty"`
	Detail     string    `json:"detail,omitempty" yaml:"detail,omitempty"`
	DurationMS int64     `json:"durationMs" yaml:"durationMs"`
	StartedAt  time.Time `json:"startedAt" yaml:"startedAt"`
}
