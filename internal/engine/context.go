package engine

import (
	"time"

	"github.com/leapstack-labs/leapcohort/internal/temporal"
	"github.com/leapstack-labs/leapcohort/pkg/core"
)

// Context holds one patient's values while the plan is evaluated. Values
// are written once, in plan order, and the context is dropped once the
// row is emitted. A Context is not safe for concurrent use.
type Context struct {
	plan    *Plan
	patient *core.Patient
	values  []core.Value
	done    []bool
	matched []int // index into patient.Events of the selected match, -1 for none
}

// NewContext returns an empty context for patient.
func NewContext(plan *Plan, patient *core.Patient) *Context {
	c := &Context{
		plan:    plan,
		patient: patient,
		values:  make([]core.Value, len(plan.byID)),
		done:    make([]bool, len(plan.byID)),
		matched: make([]int, len(plan.byID)),
	}
	for i := range c.matched {
		c.matched[i] = -1
	}
	return c
}

// Patient returns the record being evaluated.
func (c *Context) Patient() *core.Patient {
	return c.patient
}

// Eval evaluates n and stores its value. The nodes n depends on must have
// been evaluated already; Plan.Nodes is in a suitable order.
func (c *Context) Eval(n *Node) core.Value {
	v := n.Rule.eval(c, n)
	c.values[n.slot] = v
	c.done[n.slot] = true
	return v
}

// Value returns the value of a node evaluated so far.
func (c *Context) Value(id string) (core.Value, bool) {
	n, ok := c.plan.byID[id]
	if !ok || !c.done[n.slot] {
		return core.Value{}, false
	}
	return c.values[n.slot], true
}

// Matched returns the index in Patient().Events of the event selected by
// a code_match or admission_match node.
func (c *Context) Matched(id string) (int, bool) {
	n, ok := c.plan.byID[id]
	if !ok || c.matched[n.slot] < 0 {
		return 0, false
	}
	return c.matched[n.slot], true
}

func (c *Context) setMatched(n *Node, index int) {
	c.matched[n.slot] = index
}

// Included reports whether the population filter admitted the patient.
func (c *Context) Included() bool {
	v, ok := c.Value(PopulationID)
	return ok && v.Valid && v.Bool
}

// Row returns the output columns in declaration order.
func (c *Context) Row() []core.Value {
	row := make([]core.Value, len(c.plan.columns))
	for i, n := range c.plan.columns {
		row[i] = c.values[n.slot].WithLayout(n.Layout)
	}
	return row
}

// ResolveDate evaluates a date expression in n's scope.
func (c *Context) ResolveDate(n *Node, e temporal.DateExpr) (time.Time, bool) {
	return e.Resolve(c.dateLookup(n))
}

// ResolveWindow evaluates a window in n's scope.
func (c *Context) ResolveWindow(n *Node, w temporal.Window) (temporal.Interval, bool) {
	return w.Resolve(c.dateLookup(n))
}

// Lookup returns the value of name as seen from n: a variable in n's
// scope, or a study date.
func (c *Context) Lookup(n *Node, name string) core.Value {
	if id, ok := n.scope[name]; ok {
		return c.values[c.plan.byID[id].slot]
	}
	if t, ok := c.plan.dates.Lookup(name); ok {
		return core.DateValue(t)
	}
	return core.Value{}
}

func (c *Context) dateLookup(n *Node) temporal.DateLookup {
	return func(name string) (time.Time, bool) {
		v := c.Lookup(n, name)
		if !v.Valid || v.Kind != core.KindDate {
			return time.Time{}, false
		}
		return v.Date, true
	}
}

// scoped adapts a Context to expr.Lookup for one node.
type scoped struct {
	c *Context
	n *Node
}

func (s scoped) Lookup(name string) core.Value {
	return s.c.Lookup(s.n, name)
}

// Evaluate runs every node of the plan for patient, population filter
// last, and returns the context holding the results.
func (p *Plan) Evaluate(patient *core.Patient) *Context {
	c := NewContext(p, patient)
	for _, n := range p.nodes {
		c.Eval(n)
	}
	return c
}
