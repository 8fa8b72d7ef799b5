package model

import "time"

// RunStatus represents the state of an ingestion run.
type RunStatus string

const (
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// Run is one row of the ingestion run log.
type Run struct {
	ID          string      `json:"id"`
	Source      string      `json:"source"`
	Status      RunStatus   `json:"status"`
	StartedAt   time.Time   `json:"started_at"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`
	Summary     *RunSummary `json:"summary,omitempty"`
	Error       string      `json:"error,omitempty"`
}

// RunSummary holds the counts recorded when a run completes.
type RunSummary struct {
	Created   int `json:"created"`
	Updated   int `json:"updated"`
	Unchanged int `json:"unchanged"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`

	// UpdateCounts tallies touched trials per registry last-update date (YYYY-MM-DD).
	UpdateCounts map[string]int `json:"update_counts,omitempty"`
}
