package derive

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// Registry date layouts. A comma means the day of month is present.
const (
	DayLayout   = "January 2, 2006"
	MonthLayout = "January 2006"
)

var isoLayouts = []string{"2006-01-02", "2006-01"}

// dateParseError stays inside this package; ReadDate turns it into nil.
type dateParseError struct {
	value string
	err   error
}

func (e *dateParseError) Error() string {
	return "derive: parse date " + e.value + ": " + e.err.Error()
}

func (e *dateParseError) Unwrap() error { return e.err }

// ReadDate parses a registry date string. Missing or unparseable input
// yields nil.
func ReadDate(s *string) *time.Time {
	if s == nil {
		return nil
	}
	t, err := parseDate(*s)
	if err != nil {
		return nil
	}
	return &t
}

func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, &dateParseError{value: s, err: eris.New("empty")}
	}

	layout := MonthLayout
	if strings.Contains(s, ",") {
		layout = DayLayout
	}
	t, err := time.Parse(layout, s)
	if err == nil {
		return t, nil
	}
	for _, l := range isoLayouts {
		if iso, isoErr := time.Parse(l, s); isoErr == nil {
			return iso, nil
		}
	}
	return time.Time{}, &dateParseError{value: s, err: err}
}
