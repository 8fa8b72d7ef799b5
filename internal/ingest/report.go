package ingest

import (
	"github.com/sells-group/trialsync/internal/model"
)

// Skip records a document dropped before reaching the store.
type Skip struct {
	Source string `json:"source,omitempty"`
	NCTID  string `json:"nct_id,omitempty"`
	Reason string `json:"reason"`
}

// Failure records a document that could not be retrieved or that the store
// rejected, without aborting the batch.
type Failure struct {
	NCTID string `json:"nct_id"`
	Err   error  `json:"-"`
}

// Report summarizes one batch. Created, Updated and Unchanged are disjoint
// and ordered by first appearance in the batch.
type Report struct {
	RunID     string    `json:"run_id"`
	Created   []string  `json:"created"`
	Updated   []string  `json:"updated"`
	Unchanged []string  `json:"unchanged"`
	Skipped   []Skip    `json:"skipped"`
	Failed    []Failure `json:"failed"`

	// CreatedTrials holds the latest state of every created trial, in
	// Created order.
	CreatedTrials []*model.Trial `json:"-"`
	// UpdateCounts tallies created and updated trials by registry
	// last-update date (YYYY-MM-DD).
	UpdateCounts map[string]int `json:"update_counts,omitempty"`
}

// Summary returns the counts stored in the run log.
func (r *Report) Summary() *model.RunSummary {
	return &model.RunSummary{
		Created:      len(r.Created),
		Updated:      len(r.Updated),
		Unchanged:    len(r.Unchanged),
		Skipped:      len(r.Skipped),
		Failed:       len(r.Failed),
		UpdateCounts: r.UpdateCounts,
	}
}

// Touched returns the number of created and updated trials.
func (r *Report) Touched() int {
	return len(r.Created) + len(r.Updated)
}

type outcome int

const (
	outcomeUnchanged outcome = iota
	outcomeUpdated
	outcomeCreated
)

func (o outcome) String() string {
	switch o {
	case outcomeCreated:
		return "created"
	case outcomeUpdated:
		return "updated"
	default:
		return "unchanged"
	}
}

// tally tracks per-identifier outcomes across a batch. An outcome only
// moves upward: unchanged to updated, and nothing replaces created.
type tally struct {
	order   []string
	state   map[string]outcome
	trials  map[string]*model.Trial
	skipped []Skip
	failed  []Failure
}

func newTally() *tally {
	return &tally{
		state:  make(map[string]outcome),
		trials: make(map[string]*model.Trial),
	}
}

func (t *tally) record(id string, o outcome, trial *model.Trial) {
	prev, seen := t.state[id]
	if !seen {
		t.order = append(t.order, id)
	}
	if !seen || o > prev {
		t.state[id] = o
	}
	t.trials[id] = trial
}

func (t *tally) created(id string) bool {
	return t.state[id] == outcomeCreated
}

func (t *tally) report(runID string) *Report {
	r := &Report{
		RunID:        runID,
		Skipped:      t.skipped,
		Failed:       t.failed,
		UpdateCounts: make(map[string]int),
	}
	for _, id := range t.order {
		trial := t.trials[id]
		switch t.state[id] {
		case outcomeCreated:
			r.Created = append(r.Created, id)
			r.CreatedTrials = append(r.CreatedTrials, trial)
		case outcomeUpdated:
			r.Updated = append(r.Updated, id)
		default:
			r.Unchanged = append(r.Unchanged, id)
			continue
		}
		if trial != nil && trial.LastUpdate != nil {
			r.UpdateCounts[trial.LastUpdate.Format("2006-01-02")]++
		}
	}
	return r
}
