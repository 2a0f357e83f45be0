package codelist

import (
	"fmt"
	"sort"
)

// Builder collects codelists before they are frozen into a Registry.
type Builder struct {
	lists map[string]*Codelist
	order []string
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{lists: make(map[string]*Codelist)}
}

// Add registers a codelist under its name.
func (b *Builder) Add(c *Codelist) error {
	if c == nil {
		return fmt.Errorf("nil codelist")
	}
	if _, exists := b.lists[c.name]; exists {
		return fmt.Errorf("codelist %q already registered", c.name)
	}
	b.lists[c.name] = c
	b.order = append(b.order, c.name)
	return nil
}

// Get returns a codelist added so far, for building combined or filtered
// lists from earlier ones.
func (b *Builder) Get(name string) (*Codelist, bool) {
	c, ok := b.lists[name]
	return c, ok
}

// Build freezes the builder. The builder must not be used afterwards.
func (b *Builder) Build() *Registry {
	r := &Registry{lists: b.lists, order: b.order}
	b.lists = nil
	b.order = nil
	return r
}

// Registry is the immutable set of codelists available to a study.
// Reads need no locking.
type Registry struct {
	lists map[string]*Codelist
	order []string
}

// Get returns the codelist registered as name.
func (r *Registry) Get(name string) (*Codelist, bool) {
	c, ok := r.lists[name]
	return c, ok
}

// Names returns codelist names in registration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// SortedNames returns codelist names alphabetically.
func (r *Registry) SortedNames() []string {
	out := r.Names()
	sort.Strings(out)
	return out
}

// Len returns the number of registered codelists.
func (r *Registry) Len() int {
	return len(r.order)
}
