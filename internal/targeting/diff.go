// Package targeting compares individual context targeting between two flag versions.
package targeting

import (
	"slices"
	"sort"

	"github.com/launchdarkly-labs/ld-toolkit/internal/domain"
)

// Rule serves Variation to every context of ContextKind whose key is in Values.
type Rule struct {
	ContextKind string
	Values      []string
	Variation   int
}

// Snapshot maps an environment key to its targeting rules.
type Snapshot map[string][]Rule

// EnvironmentChange is the diff outcome for one environment.
type EnvironmentChange struct {
	Environment string
	Action      domain.ChangeAction
	Previous    []int
	Current     []int
}

// Variations returns the sorted variation indices rules serve to the context.
// A context listed by several rules yields one index per rule.
func Variations(rules []Rule, kind, key string) []int {
	var out []int
	for _, rule := range rules {
		if rule.ContextKind != kind {
			continue
		}
		if slices.Contains(rule.Values, key) {
			out = append(out, rule.Variation)
		}
	}
	sort.Ints(out)
	return out
}

// Classify compares sorted variation lists. ok is false when nothing changed.
func Classify(previous, current []int) (action domain.ChangeAction, ok bool) {
	was, is := len(previous) > 0, len(current) > 0
	switch {
	case !was && is:
		return domain.ChangeActionAdded, true
	case was && !is:
		return domain.ChangeActionRemoved, true
	case !slices.Equal(previous, current):
		return domain.ChangeActionChanged, true
	}
	return "", false
}

// Diff reports, per environment of current, how the targeting of the context
// identified by kind and key changed. Environments only present in previous
// are not inspected. Results are ordered by environment key.
func Diff(previous, current Snapshot, kind, key string) []EnvironmentChange {
	envs := make([]string, 0, len(current))
	for env := range current {
		envs = append(envs, env)
	}
	sort.Strings(envs)

	var changes []EnvironmentChange
	for _, env := range envs {
		before := Variations(previous[env], kind, key)
		after := Variations(current[env], kind, key)
		action, ok := Classify(before, after)
		if !ok {
			continue
		}
		changes = append(changes, EnvironmentChange{
			Environment: env,
			Action:      action,
			Previous:    before,
			Current:     after,
		})
	}
	return changes
}
