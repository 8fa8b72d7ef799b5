// Package store persists trials, their reference entities, field history
// and the ingestion run log.
package store

import (
	"context"
	"time"

	"github.com/sells-group/trialsync/internal/model"
)

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status model.RunStatus `json:"status,omitempty"`
	Limit  int             `json:"limit,omitempty"`
	Offset int             `json:"offset,omitempty"`
}

// TrialFilter specifies criteria for listing trials.
type TrialFilter struct {
	// UpdatedSince keeps trials whose registry last-update is on or after it.
	UpdatedSince *time.Time `json:"updated_since,omitempty"`
	Status       string     `json:"status,omitempty"`
	Limit        int        `json:"limit,omitempty"`
	Offset       int        `json:"offset,omitempty"`
}

// Store defines the persistence interface for trial ingestion.
type Store interface {
	// Trials
	Exists(ctx context.Context, nctID string) (bool, error)
	GetTrial(ctx context.Context, nctID string) (*model.Trial, error)
	CreateTrial(ctx context.Context, t *model.Trial) error
	UpdateTrial(ctx context.Context, t *model.Trial, changes []model.Change, runID string) error
	ListTrials(ctx context.Context, filter TrialFilter) ([]model.Trial, error)
	History(ctx context.Context, nctID string) ([]model.HistoryEntry, error)
	LatestUpdate(ctx context.Context) (*time.Time, error)

	// Reference entities
	ResolveRef(ctx context.Context, key model.RefKey) (model.Ref, error)

	// Runs
	StartRun(ctx context.Context, source string) (*model.Run, error)
	CompleteRun(ctx context.Context, runID string, summary *model.RunSummary) error
	FailRun(ctx context.Context, runID string, cause error) error
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
