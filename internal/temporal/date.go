// Package temporal resolves relative date expressions and the windows
// built from them.
//
// Date expressions take the form
//
//	2020-02-01
//	index_date
//	index_date - 90 days
//	first_positive_test + 1 month
//
// Month and year offsets use calendar arithmetic: the day of month is
// kept when it exists in the target month and clamped to the month's last
// day otherwise, so 2021-01-31 + 1 month is 2021-02-28.
package temporal

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/leapstack-labs/leapcohort/pkg/core"
)

// Built-in anchors are resolved from study dates, not from variables.
const (
	AnchorIndexDate = "index_date"
	AnchorStartDate = "start_date"
	AnchorEndDate   = "end_date"
	AnchorToday     = "today"
)

// IsAnchor reports whether name is a built-in study anchor.
func IsAnchor(name string) bool {
	switch name {
	case AnchorIndexDate, AnchorStartDate, AnchorEndDate, AnchorToday:
		return true
	}
	return false
}

// Unit is the unit of a date offset.
type Unit int

// Offset units.
const (
	Days Unit = iota
	Months
	Years
)

func (u Unit) String() string {
	switch u {
	case Months:
		return "months"
	case Years:
		return "years"
	default:
		return "days"
	}
}

// Offset is a signed calendar offset.
type Offset struct {
	N    int
	Unit Unit
}

// Apply shifts t by the offset.
func (o Offset) Apply(t time.Time) time.Time {
	switch o.Unit {
	case Months:
		return AddMonths(t, o.N)
	case Years:
		return AddMonths(t, 12*o.N)
	default:
		return t.AddDate(0, 0, o.N)
	}
}

// IsZero reports whether the offset is a no-op.
func (o Offset) IsZero() bool {
	return o.N == 0
}

// AddMonths adds n calendar months to t, clamping the day to the end of
// the target month.
func AddMonths(t time.Time, n int) time.Time {
	y, m, d := t.Date()
	first := time.Date(y, m+time.Month(n), 1, 0, 0, 0, 0, time.UTC)
	if last := daysIn(first); d > last {
		d = last
	}
	return time.Date(first.Year(), first.Month(), d, 0, 0, 0, 0, time.UTC)
}

func daysIn(firstOfMonth time.Time) int {
	return firstOfMonth.AddDate(0, 1, -1).Day()
}

// YearsBetween returns the number of whole years from birth to on.
func YearsBetween(birth, on time.Time) int {
	years := on.Year() - birth.Year()
	if on.Month() < birth.Month() || (on.Month() == birth.Month() && on.Day() < birth.Day()) {
		years--
	}
	return years
}

// DateLookup resolves a named date: a study anchor or a date-valued
// variable. ok is false when the name has no value for this patient.
type DateLookup func(name string) (t time.Time, ok bool)

// DateExpr is a parsed date expression.
type DateExpr struct {
	literal time.Time
	name    string // empty for a literal date
	offset  Offset
	raw     string
}

var dateExprPattern = regexp.MustCompile(
	`^\s*(\d{4}-\d{2}-\d{2}|[A-Za-z_][A-Za-z0-9_]*)\s*(?:([+-])\s*(\d+)\s*([A-Za-z]+))?\s*$`)

// ParseDateExpr parses a date expression.
func ParseDateExpr(s string) (DateExpr, error) {
	m := dateExprPattern.FindStringSubmatch(s)
	if m == nil {
		return DateExpr{}, fmt.Errorf("invalid date expression %q", s)
	}

	e := DateExpr{raw: strings.TrimSpace(s)}
	if m[1][0] >= '0' && m[1][0] <= '9' {
		t, err := core.ParseDate(m[1])
		if err != nil {
			return DateExpr{}, err
		}
		e.literal = t
	} else {
		e.name = m[1]
	}

	if m[2] != "" {
		n, err := strconv.Atoi(m[3])
		if err != nil {
			return DateExpr{}, fmt.Errorf("invalid offset in %q: %w", s, err)
		}
		unit, err := parseUnit(m[4])
		if err != nil {
			return DateExpr{}, fmt.Errorf("invalid date expression %q: %w", s, err)
		}
		if m[2] == "-" {
			n = -n
		}
		e.offset = Offset{N: n, Unit: unit}
	}
	return e, nil
}

// MustParseDateExpr is like ParseDateExpr but panics on error.
func MustParseDateExpr(s string) DateExpr {
	e, err := ParseDateExpr(s)
	if err != nil {
		panic(err)
	}
	return e
}

func parseUnit(s string) (Unit, error) {
	switch strings.ToLower(s) {
	case "day", "days":
		return Days, nil
	case "month", "months":
		return Months, nil
	case "year", "years":
		return Years, nil
	}
	return 0, fmt.Errorf("unknown unit %q (expected days, months or years)", s)
}

// Literal returns a date expression for a fixed date.
func Literal(t time.Time) DateExpr {
	t = core.TruncateDate(t)
	return DateExpr{literal: t, raw: core.FormatDate(t)}
}

// Ref returns a date expression naming an anchor or variable.
func Ref(name string, offset Offset) DateExpr {
	e := DateExpr{name: name, offset: offset}
	e.raw = e.format()
	return e
}

// Reference returns the anchor or variable name, or "" for a literal.
func (e DateExpr) Reference() string {
	return e.name
}

// Offset returns the offset applied after resolving the base date.
func (e DateExpr) Offset() Offset {
	return e.offset
}

// Resolve evaluates the expression. ok is false when the referenced name
// has no value.
func (e DateExpr) Resolve(lookup DateLookup) (time.Time, bool) {
	base := e.literal
	if e.name != "" {
		t, ok := lookup(e.name)
		if !ok {
			return time.Time{}, false
		}
		base = core.TruncateDate(t)
	}
	return e.offset.Apply(base), true
}

func (e DateExpr) String() string {
	if e.raw != "" {
		return e.raw
	}
	return e.format()
}

func (e DateExpr) format() string {
	base := e.name
	if base == "" {
		base = core.FormatDate(e.literal)
	}
	if e.offset.IsZero() {
		return base
	}
	sign, n := "+", e.offset.N
	if n < 0 {
		sign, n = "-", -n
	}
	return fmt.Sprintf("%s %s %d %s", base, sign, n, e.offset.Unit)
}
