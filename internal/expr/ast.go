package expr

import (
	"strconv"
	"strings"
)

// Node is a node of a parsed expression.
type Node interface {
	exprNode()
	String() string
}

// Ident references a variable.
type Ident struct {
	Name string
	Pos  Position
}

// NumberLit is a numeric literal.
type NumberLit struct {
	Value float64
}

// StringLit is a quoted string literal.
type StringLit struct {
	Value string
}

// BoolLit is TRUE or FALSE.
type BoolLit struct {
	Value bool
}

// UnaryExpr is NOT x or -x.
type UnaryExpr struct {
	Op TokenType
	X  Node
}

// BinaryExpr is a logical, comparison or arithmetic operation.
type BinaryExpr struct {
	Op          TokenType
	Left, Right Node
}

func (*Ident) exprNode()      {}
func (*NumberLit) exprNode()  {}
func (*StringLit) exprNode()  {}
func (*BoolLit) exprNode()    {}
func (*UnaryExpr) exprNode()  {}
func (*BinaryExpr) exprNode() {}

func (n *Ident) String() string { return n.Name }

func (n *NumberLit) String() string {
	return strconv.FormatFloat(n.Value, 'f', -1, 64)
}

func (n *StringLit) String() string {
	return "'" + strings.ReplaceAll(n.Value, "'", "''") + "'"
}

func (n *BoolLit) String() string {
	if n.Value {
		return "TRUE"
	}
	return "FALSE"
}

func (n *UnaryExpr) String() string {
	if n.Op == TOKEN_NOT {
		return "(NOT " + n.X.String() + ")"
	}
	return "(" + n.Op.String() + n.X.String() + ")"
}

func (n *BinaryExpr) String() string {
	return "(" + n.Left.String() + " " + n.Op.String() + " " + n.Right.String() + ")"
}

// Walk calls fn for n and every node below it, depth first.
func Walk(n Node, fn func(Node)) {
	if n == nil {
		return
	}
	fn(n)
	switch n := n.(type) {
	case *UnaryExpr:
		Walk(n.X, fn)
	case *BinaryExpr:
		Walk(n.Left, fn)
		Walk(n.Right, fn)
	}
}
