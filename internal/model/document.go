package model

// Document is the canonical record produced by the parser for one registry
// study. Pointer fields are nil when the source document has no such tag.
type Document struct {
	NCTID     string  `json:"nct_id"`
	Status    string  `json:"status"`
	Phase     *string `json:"phase,omitempty"` // raw, possibly "|"-delimited
	StudyType *string `json:"study_type,omitempty"`

	Design     Design   `json:"design"`
	Agents     []Agent  `json:"agents,omitempty"`
	Conditions []string `json:"conditions,omitempty"`

	Protocol *string `json:"protocol,omitempty"`
	Title    *string `json:"title,omitempty"`

	Dates    Dates    `json:"dates"`
	Summary  Summary  `json:"summary"`
	Outcomes Outcomes `json:"outcomes"`

	Criteria   *string `json:"criteria,omitempty"`
	Enrollment *string `json:"enrollment,omitempty"`
	ArmsNumber *int    `json:"arms_number,omitempty"`

	Sponsors Sponsors `json:"sponsors"`
	Age      AgeRange `json:"age"`
	Gender   *string  `json:"gender,omitempty"`

	Locations []Location `json:"locations,omitempty"`

	Keywords         []string `json:"keywords,omitempty"`
	ConditionMesh    []string `json:"condition_mesh,omitempty"`
	InterventionMesh []string `json:"intervention_mesh,omitempty"`
	HasResults       bool     `json:"has_results"`

	// Countries is the sorted distinct set of non-nil location countries.
	Countries       []string `json:"countries,omitempty"`
	LocationsString *string  `json:"locations_string,omitempty"`

	Derived Derived        `json:"derived"`
	Extra   map[string]any `json:"extra,omitempty"`
}

// Design holds study-design attributes.
type Design struct {
	Allocation     *string `json:"allocation,omitempty"`
	PrimaryPurpose *string `json:"primary_purpose,omitempty"`
}

// Agent is one intervention as listed in the source document.
type Agent struct {
	Name        *string `json:"name,omitempty"`
	Type        *string `json:"type,omitempty"`
	Description *string `json:"description,omitempty"`
}

// Dates holds the registry's human-readable date strings.
type Dates struct {
	FirstPosted       *string `json:"first_posted,omitempty"`
	Start             *string `json:"start,omitempty"`
	LastUpdate        *string `json:"last_update,omitempty"`
	PrimaryCompletion *string `json:"primary_completion,omitempty"`
	Completion        *string `json:"completion,omitempty"`
}

// Summary holds the brief and detailed descriptions.
type Summary struct {
	Brief    *string `json:"brief,omitempty"`
	Detailed *string `json:"detailed,omitempty"`
}

// Outcome is one outcome measure entry.
type Outcome struct {
	Measure     *string `json:"measure,omitempty"`
	TimeFrame   *string `json:"time_frame,omitempty"`
	Description *string `json:"description,omitempty"`
}

// Outcomes groups the three ordered outcome lists.
type Outcomes struct {
	Primary   []Outcome `json:"primary,omitempty"`
	Secondary []Outcome `json:"secondary,omitempty"`
	Other     []Outcome `json:"other,omitempty"`
}

// Sponsor is a funding or leading organization with its agency class.
type Sponsor struct {
	Name *string `json:"name,omitempty"`
	Type *string `json:"type,omitempty"`
}

// Sponsors holds the lead sponsor and all sponsors (lead first, then collaborators).
type Sponsors struct {
	Lead *Sponsor  `json:"lead,omitempty"`
	All  []Sponsor `json:"all,omitempty"`
}

// AgeRange holds free-text eligibility ages such as "65 Years".
type AgeRange struct {
	Min *string `json:"min,omitempty"`
	Max *string `json:"max,omitempty"`
}

// Location is one study site.
type Location struct {
	Name    *string `json:"name,omitempty"`
	City    *string `json:"city,omitempty"`
	State   *string `json:"state,omitempty"`
	Country *string `json:"country,omitempty"`
	Zip     *string `json:"zip,omitempty"`
	Status  *string `json:"status,omitempty"`
}

// Derived holds the fields computed by the deriver.
type Derived struct {
	StudyDuration *int          `json:"study_duration,omitempty"`
	Enrollment    *int          `json:"enrollment,omitempty"`
	PerArm        float64       `json:"per_arm"`
	NumSites      int           `json:"num_sites"`
	PhaseCode     string        `json:"phase_code"`
	Location      LocationScope `json:"location"`
}

// Str returns a pointer to s, or nil when s is empty.
func Str(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Deref returns the value of p, or "" when p is nil.
func Deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
