package parser

import (
	"slices"
	"strings"

	"github.com/sells-group/trialsync/internal/model"
)

// LocationString renders locations one per line, each line joining the
// non-nil Name, City, State, Country and Zip with ", ". Site status is
// never part of the line. No locations yields nil.
func LocationString(locs []model.Location) *string {
	lines := make([]string, 0, len(locs))
	for _, l := range locs {
		var parts []string
		for _, p := range []*string{l.Name, l.City, l.State, l.Country, l.Zip} {
			if p != nil {
				parts = append(parts, *p)
			}
		}
		lines = append(lines, strings.Join(parts, ", "))
	}
	return model.Str(strings.Join(lines, "\n"))
}

// Countries returns the distinct non-nil countries of locs, sorted.
func Countries(locs []model.Location) []string {
	var out []string
	for _, l := range locs {
		if l.Country == nil {
			continue
		}
		if !slices.Contains(out, *l.Country) {
			out = append(out, *l.Country)
		}
	}
	slices.Sort(out)
	return out
}
