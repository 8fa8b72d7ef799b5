package mapper

import (
	"maps"
	"regexp"
	"strconv"

	"github.com/sells-group/trialsync/internal/derive"
	"github.com/sells-group/trialsync/internal/model"
	"github.com/sells-group/trialsync/internal/parser"
)

var firstInt = regexp.MustCompile(`\d+`)

// Build converts a derived document into its persisted representation,
// without relations. Creation-time snapshots (FirstStartDate and friends)
// are set from the current values.
func Build(doc *model.Document) *model.Trial {
	perArm := doc.Derived.PerArm
	numSites := doc.Derived.NumSites

	t := &model.Trial{
		NCTID:          doc.NCTID,
		Phase:          doc.Derived.PhaseCode,
		Status:         model.StatusCode(doc.Status),
		StudyType:      doc.StudyType,
		Allocation:     doc.Design.Allocation,
		PrimaryPurpose: model.PurposeCode(doc.Design.PrimaryPurpose),
		Location:       locationScope(doc),

		Protocol:            doc.Protocol,
		Title:               doc.Title,
		BriefSummary:        doc.Summary.Brief,
		Description:         doc.Summary.Detailed,
		EligibilityCriteria: doc.Criteria,
		PrimaryOutcome:      parser.FormatOutcomes(doc.Outcomes.Primary),
		SecondaryOutcome:    parser.FormatOutcomes(doc.Outcomes.Secondary),
		OtherOutcome:        parser.FormatOutcomes(doc.Outcomes.Other),
		LocationStr:         doc.LocationsString,
		Gender:              doc.Gender,
		MinAge:              Age(doc.Age.Min),
		MaxAge:              Age(doc.Age.Max),

		FirstPosted:       derive.ReadDate(doc.Dates.FirstPosted),
		StartDate:         derive.ReadDate(doc.Dates.Start),
		PrimaryCompletion: derive.ReadDate(doc.Dates.PrimaryCompletion),
		EndDate:           derive.ReadDate(doc.Dates.Completion),
		LastUpdate:        derive.ReadDate(doc.Dates.LastUpdate),

		StudyDuration: doc.Derived.StudyDuration,
		EnrollNumber:  doc.Derived.Enrollment,
		ArmsNumber:    doc.ArmsNumber,
		PerArm:        &perArm,
		NumSites:      &numSites,
	}
	if doc.Sponsors.Lead != nil {
		t.FunderType = model.FunderCode(doc.Sponsors.Lead.Type)
	}
	if t.Phase == "" {
		t.Phase = derive.PhaseCode(doc.Phase)
	}
	t.FirstStartDate = t.StartDate
	t.FirstPrimaryCompletion = t.PrimaryCompletion
	t.FirstEndDate = t.EndDate

	if len(doc.Extra) > 0 {
		t.Extra = maps.Clone(doc.Extra)
	}
	return t
}

func locationScope(doc *model.Document) model.LocationScope {
	if len(doc.Countries) == 0 && doc.LocationsString != nil {
		return derive.DomesticScope(*doc.LocationsString)
	}
	if doc.Derived.Location != "" {
		return doc.Derived.Location
	}
	return derive.ClassifyLocation(doc.Countries)
}

// Age returns the first integer in an age such as "65 Years".
func Age(s *string) *int {
	if s == nil {
		return nil
	}
	m := firstInt.FindString(*s)
	if m == "" {
		return nil
	}
	n, err := strconv.Atoi(m)
	if err != nil {
		return nil
	}
	return &n
}

// RefKeys lists the natural keys of every reference the document links to,
// normalized and deduplicated, in agent, condition, country, sponsor order.
// Agents without a name or type are dropped.
func RefKeys(doc *model.Document) []model.RefKey {
	seen := make(map[model.RefKey]bool)
	var keys []model.RefKey
	add := func(k model.RefKey) {
		if k.Name == "" || seen[k] {
			return
		}
		seen[k] = true
		keys = append(keys, k)
	}

	for _, a := range doc.Agents {
		if a.Name == nil || a.Type == nil {
			continue
		}
		add(model.NewAgentKey(*a.Name, model.ParseAgentType(*a.Type)))
	}
	for _, c := range doc.Conditions {
		add(model.NewRefKey(model.RefCondition, c))
	}
	for _, c := range doc.Countries {
		add(model.NewRefKey(model.RefCountry, c))
	}
	for _, k := range SponsorKeys(doc) {
		add(k)
	}
	return keys
}

// SponsorKeys lists the natural keys of every named sponsor in
// Sponsors.All, deduplicated.
func SponsorKeys(doc *model.Document) []model.RefKey {
	seen := make(map[string]bool)
	var keys []model.RefKey
	for _, s := range doc.Sponsors.All {
		if s.Name == nil {
			continue
		}
		k := model.NewRefKey(model.RefSponsor, *s.Name)
		if k.Name == "" || seen[k.Name] {
			continue
		}
		seen[k.Name] = true
		keys = append(keys, k)
	}
	return keys
}
