package expr

import (
	"fmt"

	"github.com/leapstack-labs/leapcohort/pkg/core"
)

// KindOf reports the kind of a referenced variable.
type KindOf func(name string) (core.Kind, bool)

// Check verifies that the operands of every comparison and arithmetic
// operation can be combined, given the kinds of the referenced
// variables. Unknown names are left to the caller's resolver.
func (e *Expr) Check(kindOf KindOf) error {
	_, err := check(e.root, kindOf, e.src)
	return err
}

func check(n Node, kindOf KindOf, src string) (operandType, error) {
	switch n := n.(type) {
	case *Ident:
		k, ok := kindOf(n.Name)
		if !ok {
			return tNull, nil
		}
		switch k {
		case core.KindBinary:
			return tBool, nil
		case core.KindDate:
			return tDate, nil
		case core.KindCategory:
			return tString, nil
		default:
			return tNumber, nil
		}
	case *NumberLit:
		return tNumber, nil
	case *StringLit:
		return tString, nil
	case *BoolLit:
		return tBool, nil
	case *UnaryExpr:
		x, err := check(n.X, kindOf, src)
		if err != nil {
			return tNull, err
		}
		if n.Op == TOKEN_NOT {
			return tTri, nil
		}
		if x == tDate || x == tString {
			return tNull, &TypeError{Expr: src, Message: fmt.Sprintf("cannot negate %s", n.X)}
		}
		return tNumber, nil
	case *BinaryExpr:
		left, err := check(n.Left, kindOf, src)
		if err != nil {
			return tNull, err
		}
		right, err := check(n.Right, kindOf, src)
		if err != nil {
			return tNull, err
		}
		switch n.Op {
		case TOKEN_AND, TOKEN_OR:
			return tTri, nil
		case TOKEN_PLUS, TOKEN_MINUS, TOKEN_STAR, TOKEN_SLASH:
			if left == tDate || right == tDate {
				return tNull, &TypeError{Expr: src, Message: fmt.Sprintf("arithmetic on a date in %s; use a date expression with a day, month or year offset", n)}
			}
			return tNumber, nil
		default:
			if err := checkComparison(n, left, right, src); err != nil {
				return tNull, err
			}
			return tTri, nil
		}
	}
	return tNull, nil
}

func checkComparison(n *BinaryExpr, left, right operandType, src string) error {
	if left == tDate || right == tDate {
		other, otherNode := right, n.Right
		if right == tDate {
			other, otherNode = left, n.Left
		}
		switch other {
		case tDate, tNull:
			return nil
		case tString:
			if lit, ok := otherNode.(*StringLit); ok {
				if _, err := core.ParseDate(lit.Value); err != nil {
					return &TypeError{Expr: src, Message: fmt.Sprintf("%s is not a YYYY-MM-DD date", lit)}
				}
			}
			return nil
		default:
			return &TypeError{Expr: src, Message: fmt.Sprintf("cannot compare a date with %s", otherNode)}
		}
	}
	return nil
}
