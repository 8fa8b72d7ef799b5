// Package derive computes the secondary fields of a parsed document:
// study duration, per-arm enrollment, site count, phase code and location
// scope, plus any configured extension columns.
package derive

import (
	"regexp"
	"slices"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/trialsync/internal/model"
)

// Extension computes one extra column for every document. Results are
// stored in Document.Extra under Field.
type Extension struct {
	Field   string
	Compute func(*model.Document) any
}

// Deriver fills Document.Derived and Document.Extra.
type Deriver struct {
	extensions []Extension
}

// New creates a Deriver applying exts in order after the built-in fields.
func New(exts ...Extension) *Deriver {
	return &Deriver{extensions: exts}
}

// Extensions returns the configured extension columns.
func (d *Deriver) Extensions() []Extension {
	return d.extensions
}

// Derive computes every derived field of doc in place.
func (d *Deriver) Derive(doc *model.Document) {
	doc.Derived = model.Derived{
		StudyDuration: StudyDuration(doc.Dates.Start, doc.Dates.Completion),
		Enrollment:    parseCount(doc.Enrollment),
		NumSites:      len(doc.Locations),
		PhaseCode:     PhaseCode(doc.Phase),
		Location:      ClassifyLocation(doc.Countries),
	}
	doc.Derived.PerArm = PerArm(doc.Derived.Enrollment, doc.ArmsNumber)

	if len(d.extensions) == 0 {
		return
	}
	if doc.Extra == nil {
		doc.Extra = make(map[string]any, len(d.extensions))
	}
	for _, ext := range d.extensions {
		doc.Extra[ext.Field] = ext.Compute(doc)
	}
	zap.L().Debug("derived fields",
		zap.String("nct_id", doc.NCTID),
		zap.Int("extensions", len(d.extensions)),
	)
}

// StudyDuration returns the whole days from start to completion, or nil
// when either date is missing or unparseable.
func StudyDuration(start, completion *string) *int {
	s, c := ReadDate(start), ReadDate(completion)
	if s == nil || c == nil {
		return nil
	}
	days := int(c.Sub(*s).Hours() / 24)
	return &days
}

// PerArm divides enrollment by arm count in real arithmetic. Missing
// values or zero arms yield 0.
func PerArm(enrollment, arms *int) float64 {
	if enrollment == nil || arms == nil || *arms == 0 {
		return 0
	}
	return float64(*enrollment) / float64(*arms)
}

var phaseStrip = regexp.MustCompile(`(?i)\s|\||phase|/|_`)

// PhaseCode normalizes a raw phase string: "N/A" becomes "N", then
// whitespace, pipes, underscores, slashes and the word "Phase" (any case)
// are removed, so "Phase 1|Phase 2" and "PHASE1|PHASE2" become "12".
// Missing, empty and "NotApplicable" phases map to "N"; "Early1" maps to "E".
func PhaseCode(phase *string) string {
	if phase == nil {
		return "N"
	}
	code := phaseStrip.ReplaceAllString(strings.ReplaceAll(*phase, "N/A", "N"), "")
	switch strings.ToUpper(code) {
	case "", "NA", "NOTAPPLICABLE":
		return "N"
	case "EARLY1", "EARLY":
		return "E"
	}
	return code
}

// UnitedStates is the country name the registry uses for US sites.
const UnitedStates = "United States"

// ClassifyLocation derives the location scope from the country set: only
// the United States is US-only; the United States among others is both;
// anything else, including no countries, is non-US.
func ClassifyLocation(countries []string) model.LocationScope {
	hasUS := slices.Contains(countries, UnitedStates)
	switch {
	case hasUS && len(countries) == 1:
		return model.LocationUS
	case hasUS && len(countries) > 1:
		return model.LocationBoth
	default:
		return model.LocationNonUS
	}
}

var domesticCountries = []string{UnitedStates, "Canada"}

// DomesticScope classifies a rendered location string, treating the
// United States and Canada as domestic. The country of each line is its
// last comma-separated segment. Used by the mapper when a record carries a
// location string but no country set.
func DomesticScope(locationStr string) model.LocationScope {
	var domestic, foreign bool
	for _, line := range strings.Split(locationStr, "\n") {
		parts := strings.Split(line, ",")
		country := strings.TrimSpace(parts[len(parts)-1])
		if country == "" {
			continue
		}
		if slices.Contains(domesticCountries, country) {
			domestic = true
		} else {
			foreign = true
		}
	}
	switch {
	case domestic && foreign:
		return model.LocationBoth
	case domestic:
		return model.LocationUS
	default:
		return model.LocationNonUS
	}
}

func parseCount(s *string) *int {
	if s == nil {
		return nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(*s))
	if err != nil {
		f, ferr := strconv.ParseFloat(strings.TrimSpace(*s), 64)
		if ferr != nil {
			return nil
		}
		n = int(f)
	}
	return &n
}
