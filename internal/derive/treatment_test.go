package derive

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/trialsync/internal/model"
)

func TestExtractTreatmentDays(t *testing.T) {
	tests := []struct {
		text string
		want int
	}{
		{"12 weeks", 84},
		{"Baseline to 78 weeks", 546},
		{"6 months", 186},
		{"2 years", 730},
		{"30 days", 30},
		{"1 day", 1},
		{"Baseline, 12 weeks, 24 weeks", 0},
		{"Up to end of study", 0},
		{"Week-12", 0},
		{"12-week", 84},
		{"", 0},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractTreatmentDays(tt.text))
		})
	}
}

func TestTreatmentDurationExtension(t *testing.T) {
	ext := TreatmentDuration()
	assert.Equal(t, TreatmentDaysField, ext.Field)

	doc := &model.Document{
		NCTID:  "NCT1",
		Status: "Recruiting",
		Outcomes: model.Outcomes{Primary: []model.Outcome{
			{Measure: model.Str("CDR-SB"), TimeFrame: model.Str("78 Weeks")},
		}},
	}
	New(ext).Derive(doc)
	assert.Equal(t, 546, doc.Extra[TreatmentDaysField])

	doc.Outcomes.Primary = append(doc.Outcomes.Primary, model.Outcome{TimeFrame: model.Str("52 weeks")})
	New(ext).Derive(doc)
	assert.Equal(t, 0, doc.Extra[TreatmentDaysField])
}

func TestTreatmentDurationExtension_RepeatedTimeFrame(t *testing.T) {
	doc := &model.Document{
		NCTID:  "NCT1",
		Status: "Recruiting",
		Outcomes: model.Outcomes{Primary: []model.Outcome{
			{Measure: model.Str("ADAS-Cog"), TimeFrame: model.Str("12 weeks")},
			{Measure: model.Str("MMSE"), TimeFrame: model.Str("12 weeks")},
		}},
	}
	assert.Equal(t, 84, TreatmentDuration().Compute(doc))

	doc.Outcomes.Primary = append(doc.Outcomes.Primary, model.Outcome{TimeFrame: model.Str("24 weeks")})
	assert.Equal(t, 0, TreatmentDuration().Compute(doc))
}
