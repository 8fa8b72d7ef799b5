package reconcile

import (
	"strconv"
	"strings"
	"time"

	"github.com/sells-group/trialsync/internal/model"
)

// Kind selects how a rule compares stored and incoming values.
type Kind int

const (
	// KindText compares by direct inequality.
	KindText Kind = iota
	// KindDate overwrites when the incoming date differs from the stored one,
	// including when nothing is stored.
	KindDate
	// KindNumber compares as float64 with a missing stored value read as zero.
	KindNumber
	// KindList splits on the rule's separator and compares as sets.
	KindList
)

func (k Kind) String() string {
	switch k {
	case KindDate:
		return "date"
	case KindNumber:
		return "number"
	case KindList:
		return "list"
	default:
		return "text"
	}
}

// Rule describes one reconcilable field.
type Rule struct {
	Field string
	Kind  Kind
	// Sep separates items for KindList.
	Sep string

	// apply copies the incoming value onto stored when they differ. An absent
	// incoming value never clears stored.
	apply func(stored, incoming *model.Trial, sep string) (model.Change, bool)
}

// Apply reconciles one field of stored against incoming in place.
func (r Rule) Apply(stored, incoming *model.Trial) (model.Change, bool) {
	c, ok := r.apply(stored, incoming, r.Sep)
	c.Field = r.Field
	return c, ok
}

const dateLayout = "2006-01-02"

// DefaultRules returns the rule table applied when no field policy is set.
func DefaultRules() []Rule {
	return []Rule{
		codeRule("phase", func(t *model.Trial) *string { return &t.Phase }),
		codeRule("status", func(t *model.Trial) *string { return &t.Status }),
		textRule("protocol", func(t *model.Trial) **string { return &t.Protocol }),
		textRule("title", func(t *model.Trial) **string { return &t.Title }),
		codeRule("location", func(t *model.Trial) *model.LocationScope { return &t.Location }),

		dateRule("first_posted", func(t *model.Trial) **time.Time { return &t.FirstPosted }),
		dateRule("start_date", func(t *model.Trial) **time.Time { return &t.StartDate }),
		dateRule("primary_completion", func(t *model.Trial) **time.Time { return &t.PrimaryCompletion }),
		dateRule("end_date", func(t *model.Trial) **time.Time { return &t.EndDate }),
		dateRule("last_update", func(t *model.Trial) **time.Time { return &t.LastUpdate }),

		numberRule("study_duration", func(t *model.Trial) **int { return &t.StudyDuration }),
		numberRule("enroll_number", func(t *model.Trial) **int { return &t.EnrollNumber }),
		numberRule("arms_number", func(t *model.Trial) **int { return &t.ArmsNumber }),
		numberRule("per_arm", func(t *model.Trial) **float64 { return &t.PerArm }),
		numberRule("num_sites", func(t *model.Trial) **int { return &t.NumSites }),

		listRule("location_str", "\n", func(t *model.Trial) **string { return &t.LocationStr }),

		textRule("primary_outcome", func(t *model.Trial) **string { return &t.PrimaryOutcome }),
		textRule("secondary_outcome", func(t *model.Trial) **string { return &t.SecondaryOutcome }),
		textRule("other_outcome", func(t *model.Trial) **string { return &t.OtherOutcome }),
		textRule("eligibility_criteria", func(t *model.Trial) **string { return &t.EligibilityCriteria }),
		textRule("brief_summary", func(t *model.Trial) **string { return &t.BriefSummary }),
		textRule("description", func(t *model.Trial) **string { return &t.Description }),
	}
}

// codeRule handles non-pointer string fields; an empty incoming value is absent.
func codeRule[T ~string](field string, f func(*model.Trial) *T) Rule {
	return Rule{Field: field, Kind: KindText, apply: func(stored, incoming *model.Trial, _ string) (model.Change, bool) {
		in := *f(incoming)
		st := f(stored)
		if in == "" || *st == in {
			return model.Change{}, false
		}
		c := model.Change{Old: string(*st), New: string(in)}
		*st = in
		return c, true
	}}
}

func textRule(field string, f func(*model.Trial) **string) Rule {
	return Rule{Field: field, Kind: KindText, apply: func(stored, incoming *model.Trial, _ string) (model.Change, bool) {
		in := *f(incoming)
		st := f(stored)
		if in == nil || (*st != nil && **st == *in) {
			return model.Change{}, false
		}
		c := model.Change{Old: model.Deref(*st), New: *in}
		v := *in
		*st = &v
		return c, true
	}}
}

func dateRule(field string, f func(*model.Trial) **time.Time) Rule {
	return Rule{Field: field, Kind: KindDate, apply: func(stored, incoming *model.Trial, _ string) (model.Change, bool) {
		in := *f(incoming)
		st := f(stored)
		if in == nil || (*st != nil && sameDay(**st, *in)) {
			return model.Change{}, false
		}
		c := model.Change{Old: formatDate(*st), New: in.Format(dateLayout)}
		v := *in
		*st = &v
		return c, true
	}}
}

func numberRule[T int | float64](field string, f func(*model.Trial) **T) Rule {
	return Rule{Field: field, Kind: KindNumber, apply: func(stored, incoming *model.Trial, _ string) (model.Change, bool) {
		in := *f(incoming)
		st := f(stored)
		if in == nil {
			return model.Change{}, false
		}
		var old float64
		if *st != nil {
			old = float64(**st)
		}
		if old == float64(*in) {
			return model.Change{}, false
		}
		c := model.Change{New: formatNumber(float64(*in))}
		if *st != nil {
			c.Old = formatNumber(old)
		}
		v := *in
		*st = &v
		return c, true
	}}
}

func listRule(field, sep string, f func(*model.Trial) **string) Rule {
	return Rule{Field: field, Kind: KindList, Sep: sep, apply: func(stored, incoming *model.Trial, sep string) (model.Change, bool) {
		in := *f(incoming)
		st := f(stored)
		if in == nil || sameSet(model.Deref(*st), *in, sep) {
			return model.Change{}, false
		}
		c := model.Change{Old: model.Deref(*st), New: *in}
		v := *in
		*st = &v
		return c, true
	}}
}

func sameDay(a, b time.Time) bool {
	return a.UTC().Format(dateLayout) == b.UTC().Format(dateLayout)
}

func formatDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(dateLayout)
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// sameSet reports whether a and b hold the same items after splitting on
// sep and trimming, ignoring order, repeats and empty items.
func sameSet(a, b, sep string) bool {
	sa, sb := itemSet(a, sep), itemSet(b, sep)
	if len(sa) != len(sb) {
		return false
	}
	for item := range sa {
		if !sb[item] {
			return false
		}
	}
	return true
}

func itemSet(s, sep string) map[string]bool {
	set := make(map[string]bool)
	for _, item := range strings.Split(s, sep) {
		if item = strings.TrimSpace(item); item != "" {
			set[item] = true
		}
	}
	return set
}
