package parser

import (
	"strings"

	"github.com/sells-group/trialsync/internal/model"
)

// FormatOutcomes renders an outcome list as the free text stored on a
// trial. Measures, time frames and descriptions are collected separately
// (nil values dropped) and zipped positionally using the richest
// combination whose lengths agree:
//
//	all three equal:        "- {m} [Time Frame: {t}]\n\t{d}"
//	measure and time frame: "- {m} [Time Frame: {t}]"
//	measure and description:"- {m} \n\t{d}"
//	otherwise:              "- {m}"
//
// Blocks are separated by a blank line. An empty list yields nil.
func FormatOutcomes(items []model.Outcome) *string {
	var measures, times, descs []string
	for _, o := range items {
		if o.Measure != nil {
			measures = append(measures, *o.Measure)
		}
		if o.TimeFrame != nil {
			times = append(times, *o.TimeFrame)
		}
		if o.Description != nil {
			descs = append(descs, *o.Description)
		}
	}
	return model.Str(formatOutcome(measures, times, descs))
}

func formatOutcome(measures, times, descs []string) string {
	blocks := make([]string, 0, len(measures))
	switch {
	case len(measures) == len(times) && len(times) == len(descs):
		for i, m := range measures {
			blocks = append(blocks, "- "+m+" [Time Frame: "+times[i]+"]\n\t"+descs[i])
		}
	case len(measures) == len(times):
		for i, m := range measures {
			blocks = append(blocks, "- "+m+" [Time Frame: "+times[i]+"]")
		}
	case len(measures) == len(descs):
		for i, m := range measures {
			blocks = append(blocks, "- "+m+" \n\t"+descs[i])
		}
	default:
		for _, m := range measures {
			blocks = append(blocks, "- "+m)
		}
	}
	return strings.Join(blocks, "\n\n")
}

// TimeFrames returns the non-nil time frames of an outcome list.
func TimeFrames(items []model.Outcome) []string {
	var out []string
	for _, o := range items {
		if o.TimeFrame != nil {
			out = append(out, *o.TimeFrame)
		}
	}
	return out
}
