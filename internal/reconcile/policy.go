package reconcile

import (
	"os"
	"slices"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Policy restricts which fields reconciliation may overwrite.
//
//	fields: [status, end_date, last_update]
//	exclude: [title]
//
// An empty Fields list means every default rule.
type Policy struct {
	Fields  []string `yaml:"fields"`
	Exclude []string `yaml:"exclude"`
}

// LoadPolicy reads a field policy from a YAML file.
func LoadPolicy(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "reconcile: read policy %s", path)
	}
	var p Policy
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, eris.Wrapf(err, "reconcile: parse policy %s", path)
	}
	return &p, nil
}

// Rules returns the default rule table filtered by the policy, in default
// order. A nil policy returns every default rule. Unknown field names are
// an error.
func (p *Policy) Rules() ([]Rule, error) {
	all := DefaultRules()
	if p == nil {
		return all, nil
	}

	known := make(map[string]bool, len(all))
	for _, r := range all {
		known[r.Field] = true
	}
	for _, name := range append(slices.Clone(p.Fields), p.Exclude...) {
		if !known[name] {
			return nil, eris.Errorf("reconcile: unknown field %q in policy", name)
		}
	}

	rules := make([]Rule, 0, len(all))
	for _, r := range all {
		if len(p.Fields) > 0 && !slices.Contains(p.Fields, r.Field) {
			continue
		}
		if slices.Contains(p.Exclude, r.Field) {
			continue
		}
		rules = append(rules, r)
	}
	return rules, nil
}
