package parser

import (
	"context"
	"io"
	"regexp"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/trialsync/internal/fetcher"
	"github.com/sells-group/trialsync/internal/model"
)

// Column names of the registry's tabular search export.
const (
	ColNCTID             = "NCT Number"
	ColTitle             = "Title"
	ColStatus            = "Status"
	ColPhases            = "Phases"
	ColConditions        = "Conditions"
	ColInterventions     = "Interventions"
	ColOutcomes          = "Outcome Measures"
	ColSponsors          = "Sponsor/Collaborators"
	ColFundedBys         = "Funded Bys"
	ColEnrollment        = "Enrollment"
	ColStudyType         = "Study Type"
	ColStudyDesigns      = "Study Designs"
	ColOtherIDs          = "Other IDs"
	ColStartDate         = "Start Date"
	ColPrimaryCompletion = "Primary Completion Date"
	ColCompletion        = "Completion Date"
	ColFirstPosted       = "First Posted"
	ColLastUpdate        = "Last Update Posted"
	ColLocations         = "Locations"
	ColAge               = "Age"
	ColGender            = "Gender"
)

const listSep = "|"

var (
	ageRangeRe = regexp.MustCompile(`(?i)(\d+\s+\w+)\s+to\s+(\d+\s+\w+)`)
	ageMinRe   = regexp.MustCompile(`(?i)(\d+\s+\w+)\s+and\s+older`)
	ageMaxRe   = regexp.MustCompile(`(?i)up\s+to\s+(\d+\s+\w+)`)
)

// ParseRow maps one row of the tabular export to a Document. Rows without
// an identifier or status return a *model.MalformedRecordError.
func ParseRow(header, fields []string) (*model.Document, error) {
	row := fetcher.Row{Header: header, Fields: fields}
	get := func(col string) *string {
		return model.Str(strings.TrimSpace(row.Get(col)))
	}

	d := &model.Document{
		NCTID:  model.Deref(get(ColNCTID)),
		Status: model.Deref(get(ColStatus)),
	}
	if err := requireFields(d); err != nil {
		return nil, err
	}

	d.Phase = get(ColPhases)
	d.Title = get(ColTitle)
	d.StudyType = get(ColStudyType)
	d.Conditions = splitList(row.Get(ColConditions))
	d.Enrollment = get(ColEnrollment)
	d.Gender = get(ColGender)

	if ids := splitList(row.Get(ColOtherIDs)); len(ids) > 0 {
		d.Protocol = &ids[0]
	}

	design := designAttributes(row.Get(ColStudyDesigns))
	d.Design = model.Design{
		Allocation:     model.Str(design["allocation"]),
		PrimaryPurpose: model.Str(design["primary purpose"]),
	}

	for _, item := range splitList(row.Get(ColInterventions)) {
		typ, name, ok := strings.Cut(item, ":")
		if !ok {
			d.Agents = append(d.Agents, model.Agent{Name: model.Str(strings.TrimSpace(item))})
			continue
		}
		d.Agents = append(d.Agents, model.Agent{
			Name: model.Str(strings.TrimSpace(name)),
			Type: model.Str(strings.TrimSpace(typ)),
		})
	}

	for _, m := range splitList(row.Get(ColOutcomes)) {
		d.Outcomes.Primary = append(d.Outcomes.Primary, model.Outcome{Measure: model.Str(m)})
	}

	names := splitList(row.Get(ColSponsors))
	classes := splitList(row.Get(ColFundedBys))
	for i, name := range names {
		s := model.Sponsor{Name: model.Str(name)}
		if len(classes) == len(names) {
			s.Type = model.Str(classes[i])
		}
		d.Sponsors.All = append(d.Sponsors.All, s)
	}
	if len(d.Sponsors.All) > 0 {
		lead := d.Sponsors.All[0]
		if lead.Type == nil && len(classes) > 0 {
			lead.Type = model.Str(classes[0])
		}
		d.Sponsors.Lead = &lead
	}

	d.Dates = model.Dates{
		FirstPosted:       get(ColFirstPosted),
		Start:             get(ColStartDate),
		LastUpdate:        get(ColLastUpdate),
		PrimaryCompletion: get(ColPrimaryCompletion),
		Completion:        get(ColCompletion),
	}

	d.Age = parseAgeRange(row.Get(ColAge))

	for _, loc := range splitList(row.Get(ColLocations)) {
		d.Locations = append(d.Locations, parseLocation(loc))
	}

	return finish(d), nil
}

// NCTIDs reads the identifier column of a tabular export.
func NCTIDs(ctx context.Context, r io.Reader) ([]string, error) {
	rows, errs := fetcher.StreamCSV(ctx, r, fetcher.CSVOptions{HasHeader: true, LazyQuotes: true, TrimSpace: true})

	var ids []string
	for row := range rows {
		if id := row.Get(ColNCTID); id != "" {
			ids = append(ids, id)
		}
	}
	if err := <-errs; err != nil {
		return ids, eris.Wrap(err, "parser: read identifiers")
	}
	return ids, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, listSep) {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// designAttributes parses "Allocation: Randomized|Primary Purpose: Treatment"
// into lowercase keys.
func designAttributes(s string) map[string]string {
	out := make(map[string]string)
	for _, item := range splitList(s) {
		k, v, ok := strings.Cut(item, ":")
		if !ok {
			continue
		}
		out[strings.ToLower(strings.TrimSpace(k))] = strings.TrimSpace(v)
	}
	return out
}

// parseAgeRange handles "50 Years to 85 Years   (Adult, Older Adult)",
// "18 Years and older" and "up to 65 Years".
func parseAgeRange(s string) model.AgeRange {
	if m := ageRangeRe.FindStringSubmatch(s); m != nil {
		return model.AgeRange{Min: model.Str(m[1]), Max: model.Str(m[2])}
	}
	if m := ageMinRe.FindStringSubmatch(s); m != nil {
		return model.AgeRange{Min: model.Str(m[1])}
	}
	if m := ageMaxRe.FindStringSubmatch(s); m != nil {
		return model.AgeRange{Max: model.Str(m[1])}
	}
	return model.AgeRange{}
}

// parseLocation splits "Facility, City, State, Zip, Country". The country is
// always the last segment and the facility the first.
func parseLocation(s string) model.Location {
	var parts []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	var loc model.Location
	n := len(parts)
	if n == 0 {
		return loc
	}
	loc.Country = &parts[n-1]
	if n >= 2 {
		loc.Name = &parts[0]
	}
	if n >= 3 {
		loc.City = &parts[1]
	}
	if n >= 4 {
		loc.State = &parts[2]
	}
	if n >= 5 {
		loc.Zip = &parts[n-2]
	}
	return loc
}
