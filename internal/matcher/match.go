// Package matcher finds the events of a patient history whose code is in
// a codelist and whose date falls inside a resolved window.
package matcher

import (
	"sort"
	"strings"

	"github.com/leapstack-labs/leapcohort/internal/codelist"
	"github.com/leapstack-labs/leapcohort/internal/temporal"
	"github.com/leapstack-labs/leapcohort/pkg/core"
)

// Match is one matching event and, when the codelist declares
// categories, the category of its code.
type Match struct {
	Event    core.Event
	Category string
	Index    int // position of the event in the searched slice
}

// Filter narrows the candidate events before code matching.
type Filter func(e *core.Event) bool

// Find returns the events matching list within iv, ordered by date
// ascending. Matching is exact on (system, code): a code is never matched
// through another coding system.
func Find(events []core.Event, list *codelist.Codelist, iv temporal.Interval, filters ...Filter) []Match {
	var out []Match
	for i := range events {
		e := &events[i]
		if !iv.Contains(e.Date) {
			continue
		}
		if !accept(e, filters) {
			continue
		}
		entry, ok := list.Lookup(e.System, e.Code)
		if !ok {
			continue
		}
		out = append(out, Match{Event: *e, Category: entry.Category, Index: i})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Event.Date.Before(out[j].Event.Date)
	})
	return out
}

// Filtered returns the events passing every filter, without code
// matching. Used for admissions selected only by method or classification.
func Filtered(events []core.Event, iv temporal.Interval, filters ...Filter) []Match {
	var out []Match
	for i := range events {
		e := &events[i]
		if iv.Contains(e.Date) && accept(e, filters) {
			out = append(out, Match{Event: *e, Index: i})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Event.Date.Before(out[j].Event.Date)
	})
	return out
}

func accept(e *core.Event, filters []Filter) bool {
	for _, f := range filters {
		if !f(e) {
			return false
		}
	}
	return true
}

// InDomain keeps events from one history domain.
func InDomain(d core.Domain) Filter {
	return func(e *core.Event) bool { return e.Domain == d }
}

// AdmissionMethods keeps admissions whose method is one of methods.
func AdmissionMethods(methods ...string) Filter {
	set := toSet(methods)
	return func(e *core.Event) bool { return set[e.AdmissionMethod] }
}

// Classifications keeps admissions whose patient classification is one of
// classes.
func Classifications(classes ...string) Filter {
	set := toSet(classes)
	return func(e *core.Event) bool { return set[e.Classification] }
}

// PrimaryOnly keeps primary diagnoses.
func PrimaryOnly() Filter {
	return func(e *core.Event) bool { return e.Primary }
}

// WithValue keeps events that carry a recorded value.
func WithValue() Filter {
	return func(e *core.Event) bool { return e.NumericValue != nil || e.RawValue != "" }
}

// Pathogen keeps test results for pathogen, compared case-insensitively.
func Pathogen(pathogen string) Filter {
	return func(e *core.Event) bool { return strings.EqualFold(e.Pathogen, pathogen) }
}

// Result keeps test results with the given outcome.
func Result(r core.TestResult) Filter {
	return func(e *core.Event) bool { return e.Result == r }
}

// Products keeps events whose product is one of names, compared
// case-insensitively.
func Products(names ...string) Filter {
	set := toFoldedSet(names)
	return func(e *core.Event) bool { return set[strings.ToLower(e.Product)] }
}

// Indications keeps therapeutics given for one of indications.
func Indications(indications ...string) Filter {
	set := toFoldedSet(indications)
	return func(e *core.Event) bool { return set[strings.ToLower(e.Indication)] }
}

// TargetDisease keeps vaccinations against disease.
func TargetDisease(disease string) Filter {
	return func(e *core.Event) bool { return strings.EqualFold(e.TargetDisease, disease) }
}

func toFoldedSet(values []string) map[string]bool {
	set := make(map[string]bool, len(values))
	for _, v := range values {
		set[strings.ToLower(v)] = true
	}
	return set
}

func toSet(values []string) map[string]bool {
	set := make(map[string]bool, len(values))
	for _, v := range values {
		set[v] = true
	}
	return set
}

// First returns the earliest match.
func First(matches []Match) (Match, bool) {
	if len(matches) == 0 {
		return Match{}, false
	}
	return matches[0], true
}

// Last returns the latest match. Events sharing the latest date resolve
// to the one recorded last.
func Last(matches []Match) (Match, bool) {
	if len(matches) == 0 {
		return Match{}, false
	}
	return matches[len(matches)-1], true
}
