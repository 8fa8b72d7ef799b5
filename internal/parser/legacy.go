package parser

import (
	"github.com/antchfx/xmlquery"

	"github.com/sells-group/trialsync/internal/model"
)

func parseLegacy(root *xmlquery.Node) (*model.Document, error) {
	d := &model.Document{
		NCTID:  model.Deref(text(root, "//id_info/nct_id")),
		Status: model.Deref(text(root, "//overall_status")),
	}
	if d.NCTID == "" {
		d.NCTID = model.Deref(text(root, "//nct_id"))
	}
	if err := requireFields(d); err != nil {
		return nil, err
	}

	d.Phase = text(root, "//phase")
	d.StudyType = text(root, "//study_type")
	d.Design = model.Design{
		Allocation:     text(root, "//study_design_info/allocation"),
		PrimaryPurpose: text(root, "//study_design_info/primary_purpose"),
	}

	for _, n := range xmlquery.Find(root, "//intervention") {
		d.Agents = append(d.Agents, model.Agent{
			Name:        text(n, "intervention_name"),
			Type:        text(n, "intervention_type"),
			Description: text(n, "description"),
		})
	}

	d.Conditions = texts(root, "/clinical_study/condition")
	if len(d.Conditions) == 0 {
		d.Conditions = texts(root, "//condition")
	}
	d.Protocol = text(root, "//id_info/org_study_id")
	d.Title = text(root, "//official_title")
	if d.Title == nil {
		d.Title = text(root, "//brief_title")
	}

	d.Dates = model.Dates{
		FirstPosted:       text(root, "//study_first_posted"),
		Start:             text(root, "//start_date"),
		LastUpdate:        text(root, "//last_update_submitted"),
		PrimaryCompletion: text(root, "//primary_completion_date"),
		Completion:        text(root, "//completion_date"),
	}
	if d.Dates.LastUpdate == nil {
		d.Dates.LastUpdate = text(root, "//last_update_posted")
	}
	d.Summary = model.Summary{
		Brief:    text(root, "//brief_summary/textblock"),
		Detailed: text(root, "//detailed_description/textblock"),
	}
	d.Outcomes = model.Outcomes{
		Primary:   legacyOutcomes(root, "//primary_outcome"),
		Secondary: legacyOutcomes(root, "//secondary_outcome"),
		Other:     legacyOutcomes(root, "//other_outcome"),
	}

	d.Criteria = text(root, "//eligibility/criteria/textblock")
	d.Enrollment = text(root, "//enrollment")
	if arms := atoi(text(root, "//number_of_arms")); arms != nil {
		d.ArmsNumber = arms
	} else {
		n := len(xmlquery.Find(root, "//arm_group"))
		d.ArmsNumber = &n
	}

	if lead := xmlquery.FindOne(root, "//sponsors/lead_sponsor"); lead != nil {
		s := model.Sponsor{Name: text(lead, "agency"), Type: text(lead, "agency_class")}
		d.Sponsors.Lead = &s
		if s.Name != nil {
			d.Sponsors.All = append(d.Sponsors.All, s)
		}
	}
	for _, n := range xmlquery.Find(root, "//sponsors/collaborator") {
		d.Sponsors.All = append(d.Sponsors.All, model.Sponsor{
			Name: text(n, "agency"),
			Type: text(n, "agency_class"),
		})
	}

	d.Age = model.AgeRange{
		Min: text(root, "//eligibility/minimum_age"),
		Max: text(root, "//eligibility/maximum_age"),
	}
	d.Gender = text(root, "//eligibility/gender")

	for _, n := range xmlquery.Find(root, "//location") {
		facility := xmlquery.FindOne(n, "facility")
		if facility == nil {
			d.Locations = append(d.Locations, model.Location{Status: text(n, "status")})
			continue
		}
		d.Locations = append(d.Locations, model.Location{
			Name:    text(facility, "name"),
			City:    text(facility, "address/city"),
			State:   text(facility, "address/state"),
			Country: text(facility, "address/country"),
			Zip:     text(facility, "address/zip"),
			Status:  text(n, "status"),
		})
	}

	d.Keywords = texts(root, "//keyword")
	d.ConditionMesh = texts(root, "//condition_browse/mesh_term")
	d.InterventionMesh = texts(root, "//intervention_browse/mesh_term")
	d.HasResults = xmlquery.FindOne(root, "//clinical_results") != nil

	return finish(d), nil
}

func legacyOutcomes(root *xmlquery.Node, expr string) []model.Outcome {
	var out []model.Outcome
	for _, n := range xmlquery.Find(root, expr) {
		out = append(out, model.Outcome{
			Measure:     text(n, "measure"),
			TimeFrame:   text(n, "time_frame"),
			Description: text(n, "description"),
		})
	}
	return out
}
