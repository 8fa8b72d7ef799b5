package model

import (
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

// Trial is the persisted registry record.
type Trial struct {
	ID    int64  `json:"id"`
	NCTID string `json:"nct_id"`

	Phase          string        `json:"phase"`
	Status         string        `json:"status"`
	StudyType      *string       `json:"study_type,omitempty"`
	Allocation     *string       `json:"allocation,omitempty"`
	PrimaryPurpose *string       `json:"primary_purpose,omitempty"`
	FunderType     *string       `json:"funder_type,omitempty"`
	Location       LocationScope `json:"location"`

	Protocol            *string `json:"protocol,omitempty"`
	Title               *string `json:"title,omitempty"`
	BriefSummary        *string `json:"brief_summary,omitempty"`
	Description         *string `json:"description,omitempty"`
	EligibilityCriteria *string `json:"eligibility_criteria,omitempty"`
	PrimaryOutcome      *string `json:"primary_outcome,omitempty"`
	SecondaryOutcome    *string `json:"secondary_outcome,omitempty"`
	OtherOutcome        *string `json:"other_outcome,omitempty"`
	LocationStr         *string `json:"location_str,omitempty"`
	Gender              *string `json:"gender,omitempty"`
	MinAge              *int    `json:"min_age,omitempty"`
	MaxAge              *int    `json:"max_age,omitempty"`

	FirstPosted            *time.Time `json:"first_posted,omitempty"`
	StartDate              *time.Time `json:"start_date,omitempty"`
	FirstStartDate         *time.Time `json:"first_start_date,omitempty"`
	PrimaryCompletion      *time.Time `json:"primary_completion,omitempty"`
	FirstPrimaryCompletion *time.Time `json:"first_primary_completion,omitempty"`
	EndDate                *time.Time `json:"end_date,omitempty"`
	FirstEndDate           *time.Time `json:"first_end_date,omitempty"`
	LastUpdate             *time.Time `json:"last_update,omitempty"`

	StudyDuration *int     `json:"study_duration,omitempty"`
	EnrollNumber  *int     `json:"enroll_number,omitempty"`
	ArmsNumber    *int     `json:"arms_number,omitempty"`
	PerArm        *float64 `json:"per_arm,omitempty"`
	NumSites      *int     `json:"num_sites,omitempty"`

	Reviewed  bool           `json:"reviewed"`
	Extra     map[string]any `json:"extra,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`

	Agents     []Ref `json:"agents,omitempty"`
	Conditions []Ref `json:"conditions,omitempty"`
	Sponsors   []Ref `json:"sponsors,omitempty"`
	Countries  []Ref `json:"countries,omitempty"`
	Biomarkers []Ref `json:"biomarkers,omitempty"`
}

// HasSponsor reports whether a sponsor with the given normalized name is attached.
func (t *Trial) HasSponsor(name string) bool {
	for _, s := range t.Sponsors {
		if s.Name == name {
			return true
		}
	}
	return false
}

// AddRef attaches r under its kind unless a ref with the same ID (or, for
// unresolved refs, the same key) is already present. It reports whether r
// was added.
func (t *Trial) AddRef(r Ref) bool {
	list := t.refList(r.Kind)
	if list == nil {
		return false
	}
	for _, existing := range *list {
		if (r.ID != 0 && existing.ID == r.ID) || existing.RefKey == r.RefKey {
			return false
		}
	}
	*list = append(*list, r)
	return true
}

func (t *Trial) refList(kind RefKind) *[]Ref {
	switch kind {
	case RefAgent:
		return &t.Agents
	case RefCondition:
		return &t.Conditions
	case RefSponsor:
		return &t.Sponsors
	case RefCountry:
		return &t.Countries
	case RefBiomarker:
		return &t.Biomarkers
	}
	return nil
}

// RefKind names a reference-entity table.
type RefKind string

const (
	RefAgent     RefKind = "agent"
	RefCondition RefKind = "condition"
	RefSponsor   RefKind = "sponsor"
	RefCountry   RefKind = "country"
	RefBiomarker RefKind = "biomarker"
)

// RefKey is the natural key of a reference entity. AgentType only applies
// to agents.
type RefKey struct {
	Kind      RefKind   `json:"kind"`
	Name      string    `json:"name"`
	AgentType AgentType `json:"agent_type,omitempty"`
}

// Ref is a resolved reference entity.
type Ref struct {
	ID int64 `json:"id"`
	RefKey
}

// NewRefKey builds a normalized natural key.
func NewRefKey(kind RefKind, name string) RefKey {
	return RefKey{Kind: kind, Name: NormalizeName(name)}
}

// NewAgentKey builds a normalized agent natural key.
func NewAgentKey(name string, typ AgentType) RefKey {
	return RefKey{Kind: RefAgent, Name: NormalizeName(name), AgentType: typ}
}

// NormalizeName applies NFC normalization and trims surrounding whitespace.
func NormalizeName(name string) string {
	return strings.TrimSpace(norm.NFC.String(name))
}

// Change records one field overwritten during reconciliation.
type Change struct {
	Field string `json:"field"`
	Old   string `json:"old"`
	New   string `json:"new"`
}

// HistoryEntry is one recorded field revision of a trial.
type HistoryEntry struct {
	Field     string    `json:"field"`
	OldValue  string    `json:"old_value"`
	NewValue  string    `json:"new_value"`
	RunID     string    `json:"run_id,omitempty"`
	ChangedAt time.Time `json:"changed_at"`
}
