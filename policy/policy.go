// Package policy implements the pluggable merge policies evaluated against an
// open pull request to decide whether the engine may merge it automatically.
package policy

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rios0rios0/depflow/domain"
)

// Known merge policy names. Names are matched case-insensitively.
const (
	AllChecksSuccessfulName = "AllChecksSuccessful"
	StandardName            = "Standard"
	NoExtraCommitsName      = "NoExtraCommits"
	NoRequestedChangesName  = "NoRequestedChanges"

	// IgnoreChecksProperty is the only property recognized by
	// AllChecksSuccessful: a list of check names to ignore.
	IgnoreChecksProperty = "ignoreChecks"
)

// ValidateMergePolicies rejects unknown policy names and malformed
// properties. It runs at subscription-edit time so that evaluation can assume
// well-formed definitions.
func ValidateMergePolicies(policies []domain.MergePolicyDefinition) error {
	for _, p := range policies {
		switch {
		case strings.EqualFold(p.Name, AllChecksSuccessfulName):
			if len(p.Properties) == 0 {
				continue
			}
			if len(p.Properties) > 1 {
				return fmt.Errorf(
					"%s merge policy should have no properties, or an %q property",
					AllChecksSuccessfulName, IgnoreChecksProperty,
				)
			}
			if _, err := ignoreChecksList(p); err != nil {
				return err
			}
		case strings.EqualFold(p.Name, StandardName),
			strings.EqualFold(p.Name, NoExtraCommitsName),
			strings.EqualFold(p.Name, NoRequestedChangesName):
			// No properties to validate.
		default:
			return fmt.Errorf("unknown merge policy %q", p.Name)
		}
	}
	return nil
}

// ListsEqual reports whether two merge policy lists are equivalent for
// display/diff purposes. Comparison is name-based; AllChecksSuccessful
// additionally compares its ignored-check list order- and case-insensitively.
func ListsEqual(a, b []domain.MergePolicyDefinition) bool {
	if len(a) != len(b) {
		return false
	}
	// The registry holds an invariant that merge policies are not duplicated
	// within a list, so an unordered existence check is sufficient.
	for _, pa := range a {
		found := false
		for _, pb := range b {
			if policiesEqual(pa, pb) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func policiesEqual(a, b domain.MergePolicyDefinition) bool {
	if !strings.EqualFold(a.Name, b.Name) {
		return false
	}
	if !strings.EqualFold(a.Name, AllChecksSuccessfulName) {
		// Known policies other than AllChecksSuccessful carry no properties.
		return true
	}

	aIgnored, errA := ignoreChecksList(a)
	bIgnored, errB := ignoreChecksList(b)
	if errA != nil || errB != nil {
		return false
	}
	if len(aIgnored) != len(bIgnored) {
		return false
	}

	sortFold(aIgnored)
	sortFold(bIgnored)
	for i := range aIgnored {
		if !strings.EqualFold(aIgnored[i], bIgnored[i]) {
			return false
		}
	}
	return true
}

func sortFold(values []string) {
	sort.Slice(values, func(i, j int) bool {
		return strings.ToLower(values[i]) < strings.ToLower(values[j])
	})
}

// ignoreChecksList extracts the ignoreChecks property as a list of strings.
// A missing property is an empty list; any other shape is an error.
func ignoreChecksList(p domain.MergePolicyDefinition) ([]string, error) {
	raw, ok := p.Properties[IgnoreChecksProperty]
	if !ok {
		if len(p.Properties) > 0 {
			return nil, fmt.Errorf(
				"%s merge policy should have no properties, or an %q property",
				AllChecksSuccessfulName, IgnoreChecksProperty,
			)
		}
		return nil, nil
	}

	switch value := raw.(type) {
	case []string:
		return append([]string(nil), value...), nil
	case []any:
		checks := make([]string, 0, len(value))
		for _, item := range value {
			name, isString := item.(string)
			if !isString {
				return nil, fmt.Errorf(
					"%q property must be a list of check names", IgnoreChecksProperty)
			}
			checks = append(checks, name)
		}
		return checks, nil
	default:
		return nil, fmt.Errorf("%q property must be a list of check names", IgnoreChecksProperty)
	}
}
