package expr

import (
	"strconv"
	"time"

	"github.com/leapstack-labs/leapcohort/pkg/core"
)

// Tri is a three-valued truth value.
type Tri int8

// Truth values.
const (
	Unknown Tri = iota
	False
	True
)

func (t Tri) String() string {
	switch t {
	case True:
		return "true"
	case False:
		return "false"
	default:
		return "unknown"
	}
}

func triOf(b bool) Tri {
	if b {
		return True
	}
	return False
}

// Not negates t; NOT unknown is unknown.
func (t Tri) Not() Tri {
	switch t {
	case True:
		return False
	case False:
		return True
	default:
		return Unknown
	}
}

// And is Kleene conjunction.
func (t Tri) And(o Tri) Tri {
	if t == False || o == False {
		return False
	}
	if t == True && o == True {
		return True
	}
	return Unknown
}

// Or is Kleene disjunction.
func (t Tri) Or(o Tri) Tri {
	if t == True || o == True {
		return True
	}
	if t == False && o == False {
		return False
	}
	return Unknown
}

type operandType int

const (
	tNull operandType = iota
	tBool
	tNumber
	tString
	tDate
	tTri // result of a logical operator, may be unknown
)

// operand is an intermediate evaluation result.
type operand struct {
	typ  operandType
	b    bool
	tri  Tri
	f    float64
	s    string
	d    time.Time
	bare bool // a null reached directly from a variable reference
}

var unknown = operand{typ: tTri, tri: Unknown}

func fromValue(v core.Value) operand {
	if !v.Valid {
		return operand{typ: tNull, bare: true}
	}
	switch v.Kind {
	case core.KindBinary:
		return operand{typ: tBool, b: v.Bool}
	case core.KindDate:
		return operand{typ: tDate, d: v.Date}
	case core.KindCategory:
		return operand{typ: tString, s: v.Str}
	case core.KindNumeric:
		return operand{typ: tNumber, f: v.Float}
	case core.KindCount:
		return operand{typ: tNumber, f: float64(v.Int)}
	}
	return operand{typ: tNull, bare: true}
}

// truth converts an operand to a truth value in boolean context.
func truth(o operand) Tri {
	switch o.typ {
	case tTri:
		return o.tri
	case tNull:
		if o.bare {
			return False
		}
		return Unknown
	case tBool:
		return triOf(o.b)
	case tNumber:
		return triOf(o.f != 0)
	case tString:
		return triOf(o.s != "")
	case tDate:
		return True
	}
	return Unknown
}

func eval(n Node, l Lookup) operand {
	switch n := n.(type) {
	case *Ident:
		return fromValue(l.Lookup(n.Name))
	case *NumberLit:
		return operand{typ: tNumber, f: n.Value}
	case *StringLit:
		return operand{typ: tString, s: n.Value}
	case *BoolLit:
		return operand{typ: tBool, b: n.Value}
	case *UnaryExpr:
		x := eval(n.X, l)
		if n.Op == TOKEN_NOT {
			return operand{typ: tTri, tri: truth(x).Not()}
		}
		f, ok := number(x)
		if !ok {
			return operand{typ: tNull}
		}
		return operand{typ: tNumber, f: -f}
	case *BinaryExpr:
		return evalBinary(n, l)
	}
	return unknown
}

func evalBinary(n *BinaryExpr, l Lookup) operand {
	switch n.Op {
	case TOKEN_AND:
		left := truth(eval(n.Left, l))
		if left == False {
			return operand{typ: tTri, tri: False}
		}
		return operand{typ: tTri, tri: left.And(truth(eval(n.Right, l)))}
	case TOKEN_OR:
		left := truth(eval(n.Left, l))
		if left == True {
			return operand{typ: tTri, tri: True}
		}
		return operand{typ: tTri, tri: left.Or(truth(eval(n.Right, l)))}
	}

	left, right := eval(n.Left, l), eval(n.Right, l)
	switch n.Op {
	case TOKEN_PLUS, TOKEN_MINUS, TOKEN_STAR, TOKEN_SLASH:
		return arithmetic(n.Op, left, right)
	default:
		return operand{typ: tTri, tri: compare(n.Op, left, right)}
	}
}

func number(o operand) (float64, bool) {
	switch o.typ {
	case tNumber:
		return o.f, true
	case tBool:
		if o.b {
			return 1, true
		}
		return 0, true
	case tString:
		f, err := strconv.ParseFloat(o.s, 64)
		return f, err == nil
	case tTri:
		switch o.tri {
		case True:
			return 1, true
		case False:
			return 0, true
		}
	}
	return 0, false
}

func arithmetic(op TokenType, left, right operand) operand {
	a, okA := number(left)
	b, okB := number(right)
	if !okA || !okB {
		return operand{typ: tNull}
	}
	switch op {
	case TOKEN_PLUS:
		return operand{typ: tNumber, f: a + b}
	case TOKEN_MINUS:
		return operand{typ: tNumber, f: a - b}
	case TOKEN_STAR:
		return operand{typ: tNumber, f: a * b}
	default:
		if b == 0 {
			return operand{typ: tNull}
		}
		return operand{typ: tNumber, f: a / b}
	}
}

// compare applies a relational operator. Null operands, and operands
// that cannot be brought to a common type, give unknown.
func compare(op TokenType, left, right operand) Tri {
	if left.typ == tNull || right.typ == tNull {
		return Unknown
	}
	if (left.typ == tTri && left.tri == Unknown) || (right.typ == tTri && right.tri == Unknown) {
		return Unknown
	}

	// dates compare with dates, or with a date literal written as a string
	if left.typ == tDate || right.typ == tDate {
		a, okA := asDate(left)
		b, okB := asDate(right)
		if !okA || !okB {
			return Unknown
		}
		return ordered(op, a.Compare(b))
	}

	if left.typ == tString && right.typ == tString {
		switch {
		case left.s < right.s:
			return ordered(op, -1)
		case left.s > right.s:
			return ordered(op, 1)
		default:
			return ordered(op, 0)
		}
	}

	a, okA := number(left)
	b, okB := number(right)
	if !okA || !okB {
		// a category compared with a non-numeric literal
		if left.typ == tString || right.typ == tString {
			if op == TOKEN_NE {
				return True
			}
			if op == TOKEN_EQ {
				return False
			}
		}
		return Unknown
	}
	switch {
	case a < b:
		return ordered(op, -1)
	case a > b:
		return ordered(op, 1)
	default:
		return ordered(op, 0)
	}
}

func asDate(o operand) (time.Time, bool) {
	switch o.typ {
	case tDate:
		return o.d, true
	case tString:
		t, err := core.ParseDate(o.s)
		return t, err == nil
	}
	return time.Time{}, false
}

func ordered(op TokenType, cmp int) Tri {
	switch op {
	case TOKEN_EQ:
		return triOf(cmp == 0)
	case TOKEN_NE:
		return triOf(cmp != 0)
	case TOKEN_LT:
		return triOf(cmp < 0)
	case TOKEN_LE:
		return triOf(cmp <= 0)
	case TOKEN_GT:
		return triOf(cmp > 0)
	case TOKEN_GE:
		return triOf(cmp >= 0)
	}
	return Unknown
}
