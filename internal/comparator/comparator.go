// Package comparator splits a recorded lab value such as "~45" or ">=60"
// into its relational operator and numeric value.
package comparator

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

// Op is a relational operator recorded alongside a value.
type Op string

// Operators. OpNone means the value was recorded without one.
const (
	OpNone         Op = ""
	OpApprox       Op = "~"
	OpEqual        Op = "="
	OpGreaterEqual Op = ">="
	OpGreater      Op = ">"
	OpLess         Op = "<"
	OpLessEqual    Op = "<="
)

// decimal is the only number form a recorded value may take. ParseFloat
// alone would also accept NaN, Inf and hex floats.
var decimal = regexp.MustCompile(`^[+-]?(\d+\.?\d*|\.\d+)$`)

// Ops lists every explicit operator. Two-character operators come first
// so that prefix matching never splits ">=" into ">" and "=60".
var Ops = []Op{OpGreaterEqual, OpLessEqual, OpApprox, OpEqual, OpGreater, OpLess}

// String returns the operator text, or "None" for OpNone.
func (o Op) String() string {
	if o == OpNone {
		return "None"
	}
	return string(o)
}

// ParseOp converts operator text back to an Op. "None" and "" give OpNone.
func ParseOp(s string) (Op, bool) {
	if s == "" || s == "None" {
		return OpNone, true
	}
	for _, op := range Ops {
		if string(op) == s {
			return op, true
		}
	}
	return OpNone, false
}

// Result is a parsed value.
type Result struct {
	Op      Op
	Value   float64
	Numeric bool   // false when the value could not be read as a number
	Raw     string // the input, untouched
}

// Parse reads an optional leading operator followed by a number. It never
// fails: input it cannot read comes back as OpNone with Numeric false and
// the original text in Raw.
func Parse(raw string) Result {
	s := strings.TrimSpace(raw)
	op := OpNone
	for _, candidate := range Ops {
		if strings.HasPrefix(s, string(candidate)) {
			op = candidate
			s = strings.TrimSpace(s[len(candidate):])
			break
		}
	}

	if !decimal.MatchString(s) {
		return Result{Op: OpNone, Raw: raw}
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return Result{Op: OpNone, Raw: raw}
	}
	return Result{Op: op, Value: v, Numeric: true, Raw: raw}
}

// Format renders an operator and value the way they are recorded.
func Format(op Op, v float64) string {
	return string(op) + strconv.FormatFloat(v, 'f', -1, 64)
}
