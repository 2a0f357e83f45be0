package dummy

import (
	"github.com/leapstack-labs/leapcohort/internal/engine"
	"github.com/leapstack-labs/leapcohort/internal/expr"
	"github.com/leapstack-labs/leapcohort/pkg/core"
)

// steering decides, before any record is drawn, which value the binary
// variables read by derived variables must take:
//
//   - the population filter wants its atoms true,
//   - a satisfying variable with its own incidence draws true or false,
//   - a categorised variable with its own ratios draws a label, wants that
//     rule true and every earlier rule false.
//
// Nodes are visited consumers first, so a decision reaching a satisfying
// local is passed on to the variables it reads. The first decision for a
// node wins. A variable that declares its own expectations is never
// steered; its own incidence stands.
func (b *builder) steering() {
	b.steer = make(map[string]bool)
	nodes := b.plan.Nodes()
	for i := len(nodes) - 1; i >= 0; i-- {
		n := nodes[i]
		switch r := n.Rule.(type) {
		case *engine.Satisfying:
			switch want, steered := b.steer[n.ID]; {
			case n.ID == engine.PopulationID:
				b.steerExpr(n, r.Expr, true)
			case steered:
				b.steerExpr(n, r.Expr, want)
			case declares(n):
				b.steerExpr(n, r.Expr, b.present(n))
			}

		case *engine.Categorise:
			ratios := ratiosOf(n)
			if !declares(n) || len(ratios) == 0 {
				continue
			}
			want := label(b.rng, ratios)
			target := len(r.Rules)
			for j, rule := range r.Rules {
				if rule.Label == want {
					target = j
					break
				}
			}
			if target < len(r.Rules) {
				b.steerExpr(n, r.Rules[target].When, true)
			}
			for _, rule := range r.Rules[:target] {
				b.steerExpr(n, rule.When, false)
			}
		}
	}
}

// declares reports whether n carries an expectations block of its own.
func declares(n *engine.Node) bool {
	return n.Spec != nil && n.Spec.Expectations != nil
}

func (b *builder) steerExpr(n *engine.Node, e *expr.Expr, want bool) {
	if e == nil {
		return
	}
	for _, name := range atoms(e.Root()) {
		id, ok := n.Resolve(name)
		if !ok {
			continue
		}
		dep, ok := b.plan.Node(id)
		if !ok || dep.Kind != core.KindBinary || declares(dep) {
			continue
		}
		if _, decided := b.steer[id]; !decided {
			b.steer[id] = want
		}
	}
}

// atoms returns the bare variable references joined by AND and OR at the
// top of an expression. Setting them all true makes such an expression
// true; setting them all false makes it false.
func atoms(node expr.Node) []string {
	switch x := node.(type) {
	case *expr.Ident:
		return []string{x.Name}
	case *expr.BinaryExpr:
		if x.Op == expr.TOKEN_AND || x.Op == expr.TOKEN_OR {
			return append(atoms(x.Left), atoms(x.Right)...)
		}
	}
	return nil
}
