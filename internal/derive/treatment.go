package derive

import (
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/sells-group/trialsync/internal/model"
)

// TreatmentDaysField is the extension column filled by TreatmentDuration.
const TreatmentDaysField = "treatment_days"

var durationRe = regexp.MustCompile(`\d+ months?|\d+ weeks?|\d+ days?|\d+ years?`)

// TreatmentDuration returns the extension computing treatment_days from
// the distinct primary outcome time frames.
func TreatmentDuration() Extension {
	return Extension{
		Field: TreatmentDaysField,
		Compute: func(doc *model.Document) any {
			var frames []string
			for _, o := range doc.Outcomes.Primary {
				if o.TimeFrame != nil {
					frames = append(frames, *o.TimeFrame)
				}
			}
			// Repeated frames count once.
			slices.Sort(frames)
			frames = slices.Compact(frames)
			return ExtractTreatmentDays(strings.Join(frames, " "))
		},
	}
}

// ExtractTreatmentDays finds a single "N days|weeks|months|years" mention
// in text and converts it to days (weeks x7, months x31, years x365). Zero
// or multiple mentions yield 0.
func ExtractTreatmentDays(text string) int {
	text = strings.NewReplacer(", ", " ", ". ", " ", "-", " ").Replace(text)
	text = strings.TrimSpace(strings.ToLower(text))

	matches := durationRe.FindAllString(text, -1)
	if len(matches) != 1 {
		return 0
	}
	num, unit, _ := strings.Cut(matches[0], " ")
	n, err := strconv.Atoi(num)
	if err != nil {
		return 0
	}
	switch unit[0] {
	case 'w':
		n *= 7
	case 'm':
		n *= 31
	case 'y':
		n *= 365
	}
	return n
}
