package engine

import (
	"fmt"
	"slices"
	"strings"
)

// Select returns a plan that outputs only the named columns and
// evaluates only the nodes they and the population filter read. Columns
// keep their declaration order.
func (p *Plan) Select(names ...string) (*Plan, error) {
	if len(names) == 0 {
		return p, nil
	}

	want := make(map[string]bool, len(names))
	for _, name := range names {
		n, ok := p.byID[name]
		if !ok || !n.Output {
			return nil, fmt.Errorf("unknown column %q (available: %s)", name, strings.Join(p.Columns(), ", "))
		}
		want[name] = true
	}

	keep := make(map[string]bool)
	for _, id := range append(slices.Clone(names), PopulationID) {
		keep[id] = true
		for _, up := range p.graph.Upstream(id) {
			keep[up] = true
		}
	}

	sub := &Plan{
		byID:     p.byID,
		registry: p.registry,
		dates:    p.dates,
	}
	ids := make([]string, 0, len(keep))
	for _, n := range p.nodes {
		if keep[n.ID] {
			sub.nodes = append(sub.nodes, n)
			ids = append(ids, n.ID)
		}
	}
	for _, n := range p.columns {
		if want[n.ID] {
			sub.columns = append(sub.columns, n)
		}
	}
	sub.graph = p.graph.Subgraph(ids)
	return sub, nil
}
