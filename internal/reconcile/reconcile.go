// Package reconcile compares a stored trial against a fresh registry
// document and applies the differences in place.
package reconcile

import (
	"context"
	"encoding/json"
	"slices"
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/trialsync/internal/mapper"
	"github.com/sells-group/trialsync/internal/model"
)

// Store is the persistence the reconciler needs.
type Store interface {
	mapper.RefResolver
	UpdateTrial(ctx context.Context, t *model.Trial, changes []model.Change, runID string) error
}

// Result describes one reconciliation pass.
type Result struct {
	Trial            *model.Trial
	Changes          []model.Change
	SponsorsAttached int
}

// Changed reports whether the pass overwrote a field or attached a sponsor.
func (r *Result) Changed() bool {
	return len(r.Changes) > 0 || r.SponsorsAttached > 0
}

// Reconciler applies a rule table to stored trials.
type Reconciler struct {
	store Store
	rules []Rule
	runID string
}

// New returns a Reconciler using rules, or DefaultRules when rules is nil.
func New(st Store, rules []Rule) *Reconciler {
	if rules == nil {
		rules = DefaultRules()
	}
	return &Reconciler{store: st, rules: rules}
}

// ForRun returns a copy that tags history rows with runID.
func (r *Reconciler) ForRun(runID string) *Reconciler {
	cp := *r
	cp.runID = runID
	return &cp
}

// Rules returns the active rule table.
func (r *Reconciler) Rules() []Rule {
	return slices.Clone(r.rules)
}

// Reconcile overwrites the fields of existing that differ from doc, attaches
// any sponsor of doc not yet linked, and persists existing. Relations are
// never removed. existing is mutated in place and returned in the result.
func (r *Reconciler) Reconcile(ctx context.Context, existing *model.Trial, doc *model.Document) (*Result, error) {
	incoming := mapper.Build(doc)
	res := &Result{Trial: existing, Changes: Compare(r.rules, existing, incoming)}
	res.Changes = append(res.Changes, compareExtra(existing, incoming)...)

	for _, key := range mapper.SponsorKeys(doc) {
		if existing.HasSponsor(key.Name) {
			continue
		}
		ref, err := r.store.ResolveRef(ctx, key)
		if err != nil {
			return nil, eris.Wrapf(err, "reconcile: resolve sponsor %q for %s", key.Name, existing.NCTID)
		}
		if existing.AddRef(ref) {
			res.SponsorsAttached++
		}
	}

	if err := r.store.UpdateTrial(ctx, existing, res.Changes, r.runID); err != nil {
		return nil, eris.Wrapf(err, "reconcile: update %s", existing.NCTID)
	}

	zap.L().Debug("trial reconciled",
		zap.String("component", "reconcile"),
		zap.String("nct_id", existing.NCTID),
		zap.Int("changes", len(res.Changes)),
		zap.Int("sponsors_attached", res.SponsorsAttached),
	)
	return res, nil
}

// Compare applies rules to stored in order and returns the changes made.
func Compare(rules []Rule, stored, incoming *model.Trial) []model.Change {
	var changes []model.Change
	for _, rule := range rules {
		if c, ok := rule.Apply(stored, incoming); ok {
			changes = append(changes, c)
		}
	}
	return changes
}

// compareExtra overwrites extension columns whose JSON form differs, so a
// stored float64 and an incoming int of the same value compare equal.
func compareExtra(stored, incoming *model.Trial) []model.Change {
	if len(incoming.Extra) == 0 {
		return nil
	}
	keys := make([]string, 0, len(incoming.Extra))
	for k := range incoming.Extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var changes []model.Change
	for _, k := range keys {
		in := jsonText(incoming.Extra[k])
		old, had := stored.Extra[k]
		if had && jsonText(old) == in {
			continue
		}
		c := model.Change{Field: "extra." + k, New: in}
		if had {
			c.Old = jsonText(old)
		}
		if stored.Extra == nil {
			stored.Extra = make(map[string]any, len(incoming.Extra))
		}
		stored.Extra[k] = incoming.Extra[k]
		changes = append(changes, c)
	}
	return changes
}

func jsonText(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}
