// Package codelist loads and indexes the sets of clinical codes used as
// match criteria. A Codelist is immutable once built and safe for
// concurrent reads.
package codelist

import (
	"fmt"
	"sort"

	"github.com/leapstack-labs/leapcohort/pkg/core"
)

// Codelist is a named set of codes, indexed by coding system then code.
type Codelist struct {
	name          string
	bySystem      map[core.CodingSystem]map[string]core.CodedEntry
	entries       []core.CodedEntry // first-seen order
	hasCategories bool
}

func newCodelist(name string) *Codelist {
	return &Codelist{
		name:     name,
		bySystem: make(map[core.CodingSystem]map[string]core.CodedEntry),
	}
}

// New builds an inline codelist from literal codes of a single system.
func New(name string, system core.CodingSystem, codes ...string) (*Codelist, error) {
	c := newCodelist(name)
	for _, code := range codes {
		if code == "" {
			return nil, &core.LoadError{Source: name, Err: fmt.Errorf("empty code")}
		}
		c.add(core.CodedEntry{Code: code, System: system})
	}
	return c, nil
}

// add inserts an entry unless the (system, code) pair is already present.
// It returns the entry that is kept.
func (c *Codelist) add(e core.CodedEntry) (kept core.CodedEntry, added bool) {
	codes, ok := c.bySystem[e.System]
	if !ok {
		codes = make(map[string]core.CodedEntry)
		c.bySystem[e.System] = codes
	}
	if existing, dup := codes[e.Code]; dup {
		return existing, false
	}
	codes[e.Code] = e
	c.entries = append(c.entries, e)
	if e.Category != "" {
		c.hasCategories = true
	}
	return e, true
}

// Name returns the codelist name.
func (c *Codelist) Name() string {
	return c.name
}

// Len returns the number of distinct (system, code) entries.
func (c *Codelist) Len() int {
	return len(c.entries)
}

// HasCategories reports whether any entry carries a category.
func (c *Codelist) HasCategories() bool {
	return c.hasCategories
}

// Contains reports whether code is in the list under system.
func (c *Codelist) Contains(system core.CodingSystem, code string) bool {
	_, ok := c.bySystem[system][code]
	return ok
}

// Lookup returns the entry for (system, code).
func (c *Codelist) Lookup(system core.CodingSystem, code string) (core.CodedEntry, bool) {
	e, ok := c.bySystem[system][code]
	return e, ok
}

// Entries returns a copy of all entries in first-seen order.
func (c *Codelist) Entries() []core.CodedEntry {
	out := make([]core.CodedEntry, len(c.entries))
	copy(out, c.entries)
	return out
}

// Systems returns the coding systems present, sorted.
func (c *Codelist) Systems() []core.CodingSystem {
	out := make([]core.CodingSystem, 0, len(c.bySystem))
	for sys := range c.bySystem {
		out = append(out, sys)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Categories returns the distinct categories in first-seen order.
func (c *Codelist) Categories() []string {
	seen := make(map[string]bool)
	var out []string
	for _, e := range c.entries {
		if e.Category == "" || seen[e.Category] {
			continue
		}
		seen[e.Category] = true
		out = append(out, e.Category)
	}
	return out
}

// EntriesInCategory returns the entries labelled with category.
func (c *Codelist) EntriesInCategory(category string) []core.CodedEntry {
	var out []core.CodedEntry
	for _, e := range c.entries {
		if e.Category == category {
			out = append(out, e)
		}
	}
	return out
}
