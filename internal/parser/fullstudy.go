package parser

import (
	"fmt"
	"strings"

	"github.com/antchfx/xmlquery"

	"github.com/sells-group/trialsync/internal/model"
)

func field(name string) string {
	return fmt.Sprintf(`.//Field[@Name=%q]`, name)
}

func parseFullStudy(root *xmlquery.Node) (*model.Document, error) {
	d := &model.Document{
		NCTID:  model.Deref(text(root, field("NCTId"))),
		Status: model.Deref(text(root, field("OverallStatus"))),
	}
	if err := requireFields(d); err != nil {
		return nil, err
	}

	if phases := texts(root, field("Phase")); len(phases) > 0 {
		d.Phase = model.Str(strings.Join(phases, "|"))
	}
	d.StudyType = text(root, field("StudyType"))
	d.Design = model.Design{
		Allocation:     text(root, field("DesignAllocation")),
		PrimaryPurpose: text(root, field("DesignPrimaryPurpose")),
	}

	for _, n := range xmlquery.Find(root, `//List[@Name="InterventionList"]/Struct[@Name="Intervention"]`) {
		d.Agents = append(d.Agents, model.Agent{
			Name:        text(n, field("InterventionName")),
			Type:        text(n, field("InterventionType")),
			Description: text(n, field("InterventionDescription")),
		})
	}

	d.Conditions = texts(root, `//List[@Name="ConditionList"]/Field[@Name="Condition"]`)
	d.Protocol = text(root, field("OrgStudyId"))
	d.Title = text(root, field("OfficialTitle"))
	if d.Title == nil {
		d.Title = text(root, field("BriefTitle"))
	}

	d.Dates = model.Dates{
		FirstPosted:       text(root, field("StudyFirstPostDate")),
		Start:             text(root, field("StartDate")),
		LastUpdate:        text(root, field("LastUpdatePostDate")),
		PrimaryCompletion: text(root, field("PrimaryCompletionDate")),
		Completion:        text(root, field("CompletionDate")),
	}
	d.Summary = model.Summary{
		Brief:    text(root, field("BriefSummary")),
		Detailed: text(root, field("DetailedDescription")),
	}
	d.Outcomes = model.Outcomes{
		Primary:   fullStudyOutcomes(root, "Primary"),
		Secondary: fullStudyOutcomes(root, "Secondary"),
		Other:     fullStudyOutcomes(root, "Other"),
	}

	d.Criteria = text(root, field("EligibilityCriteria"))
	d.Enrollment = text(root, field("EnrollmentCount"))
	arms := len(xmlquery.Find(root, `//Struct[@Name="ArmGroup"]`))
	d.ArmsNumber = &arms

	lead := model.Sponsor{
		Name: text(root, field("LeadSponsorName")),
		Type: text(root, field("LeadSponsorClass")),
	}
	d.Sponsors.Lead = &lead
	if lead.Name != nil {
		d.Sponsors.All = append(d.Sponsors.All, lead)
	}
	for _, n := range xmlquery.Find(root, `//List[@Name="CollaboratorList"]/Struct[@Name="Collaborator"]`) {
		d.Sponsors.All = append(d.Sponsors.All, model.Sponsor{
			Name: text(n, field("CollaboratorName")),
			Type: text(n, field("CollaboratorClass")),
		})
	}

	d.Age = model.AgeRange{
		Min: text(root, field("MinimumAge")),
		Max: text(root, field("MaximumAge")),
	}
	d.Gender = text(root, field("Gender"))

	for _, n := range xmlquery.Find(root, `//List[@Name="LocationList"]/Struct[@Name="Location"]`) {
		d.Locations = append(d.Locations, model.Location{
			Name:    text(n, field("LocationFacility")),
			City:    text(n, field("LocationCity")),
			State:   text(n, field("LocationState")),
			Country: text(n, field("LocationCountry")),
			Zip:     text(n, field("LocationZip")),
			Status:  text(n, field("LocationStatus")),
		})
	}

	d.Keywords = texts(root, `//List[@Name="KeywordList"]/Field[@Name="Keyword"]`)
	d.ConditionMesh = texts(root, `//Struct[@Name="ConditionMesh"]//Field[@Name="ConditionMeshTerm"]`)
	d.InterventionMesh = texts(root, `//Struct[@Name="InterventionMesh"]//Field[@Name="InterventionMeshTerm"]`)
	d.HasResults = xmlquery.FindOne(root, `//Struct[@Name="ResultsSection"]`) != nil

	return finish(d), nil
}

// fullStudyOutcomes reads one of the Primary, Secondary or Other outcome lists.
func fullStudyOutcomes(root *xmlquery.Node, kind string) []model.Outcome {
	expr := fmt.Sprintf(`//List[@Name="%sOutcomeList"]/Struct[@Name="%sOutcome"]`, kind, kind)
	var out []model.Outcome
	for _, n := range xmlquery.Find(root, expr) {
		out = append(out, model.Outcome{
			Measure:     text(n, field(kind+"OutcomeMeasure")),
			TimeFrame:   text(n, field(kind+"OutcomeTimeFrame")),
			Description: text(n, field(kind+"OutcomeDescription")),
		})
	}
	return out
}
