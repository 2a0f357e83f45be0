// Package expr parses and evaluates the boolean and arithmetic
// expressions used by satisfying, categorised_as and population rules.
//
// Expressions are parsed once into a typed AST and evaluated per patient
// against already resolved variable values. Evaluation is three-valued:
// a comparison or arithmetic operation with a null operand is unknown,
// AND/OR/NOT follow Kleene logic, and Holds collapses unknown to false.
// A bare reference to a null variable is false rather than unknown,
// because "no matching event" and "false" are the same for a flag.
package expr

import (
	"github.com/leapstack-labs/leapcohort/pkg/core"
)

// Lookup resolves a variable name to its value for the current patient.
type Lookup interface {
	Lookup(name string) core.Value
}

// LookupFunc adapts a function to Lookup.
type LookupFunc func(name string) core.Value

// Lookup calls f(name).
func (f LookupFunc) Lookup(name string) core.Value {
	return f(name)
}

// Expr is a parsed expression.
type Expr struct {
	root Node
	src  string
	refs []string
}

// Parse parses src into an Expr.
func Parse(src string) (*Expr, error) {
	root, err := ParseExpr(src)
	if err != nil {
		return nil, err
	}
	return &Expr{root: root, src: src, refs: identifiers(root)}, nil
}

// MustParse is like Parse but panics on error.
func MustParse(src string) *Expr {
	e, err := Parse(src)
	if err != nil {
		panic(err)
	}
	return e
}

// Root returns the AST.
func (e *Expr) Root() Node {
	return e.root
}

// References returns the distinct variable names used, in source order.
func (e *Expr) References() []string {
	out := make([]string, len(e.refs))
	copy(out, e.refs)
	return out
}

// String returns the source text.
func (e *Expr) String() string {
	return e.src
}

// Eval evaluates the expression to a three-valued result.
func (e *Expr) Eval(l Lookup) Tri {
	return truth(eval(e.root, l))
}

// Holds evaluates the expression and collapses unknown to false.
func (e *Expr) Holds(l Lookup) bool {
	return e.Eval(l) == True
}

func identifiers(root Node) []string {
	seen := make(map[string]bool)
	var out []string
	Walk(root, func(n Node) {
		if id, ok := n.(*Ident); ok && !seen[id.Name] {
			seen[id.Name] = true
			out = append(out, id.Name)
		}
	})
	return out
}
