package codelist

import (
	"fmt"

	"github.com/leapstack-labs/leapcohort/pkg/core"
)

// Conflict records a code that appeared in several combined inputs with
// different categories. The first-seen category is kept.
type Conflict struct {
	Code        string
	System      core.CodingSystem
	Kept        string
	Dropped     string
	DroppedFrom string
}

// Combine returns the union of lists. A code that appears under two
// different coding systems is rejected. A code repeated within one system
// keeps the category of the first list that declared it; differing
// categories are returned as conflicts for the caller to report.
func Combine(name string, lists ...*Codelist) (*Codelist, []Conflict, error) {
	if len(lists) == 0 {
		return nil, nil, &core.LoadError{Source: name, Err: fmt.Errorf("combine needs at least one codelist")}
	}

	out := newCodelist(name)
	systemOf := make(map[string]core.CodingSystem)
	var conflicts []Conflict

	for _, l := range lists {
		for _, e := range l.entries {
			if sys, seen := systemOf[e.Code]; seen && sys != e.System {
				return nil, nil, &core.LoadError{
					Source: name,
					Err:    fmt.Errorf("code %q appears as both %s (earlier input) and %s (%s)", e.Code, sys, e.System, l.name),
				}
			}
			systemOf[e.Code] = e.System

			kept, added := out.add(e)
			if !added && kept.Category != e.Category {
				conflicts = append(conflicts, Conflict{
					Code:        e.Code,
					System:      e.System,
					Kept:        kept.Category,
					Dropped:     e.Category,
					DroppedFrom: l.name,
				})
			}
		}
	}
	return out, conflicts, nil
}

// FilterByCategory keeps the entries whose category is one of include.
func FilterByCategory(name string, list *Codelist, include ...string) (*Codelist, error) {
	if !list.hasCategories {
		return nil, &core.LoadError{Source: name, Err: fmt.Errorf("codelist %q has no categories to filter on", list.name)}
	}
	if len(include) == 0 {
		return nil, &core.LoadError{Source: name, Err: fmt.Errorf("no categories to include")}
	}
	keep := make(map[string]bool, len(include))
	for _, c := range include {
		keep[c] = true
	}

	out := newCodelist(name)
	for _, e := range list.entries {
		if keep[e.Category] {
			out.add(e)
		}
	}
	return out, nil
}
