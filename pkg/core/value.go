package core

import (
	"fmt"
	"strconv"
	"time"
)

// Kind is the type of a derived variable.
type Kind int

// Variable kinds.
const (
	KindBinary Kind = iota
	KindDate
	KindCategory
	KindNumeric
	KindCount
)

// String returns the configuration spelling of the kind.
func (k Kind) String() string {
	switch k {
	case KindBinary:
		return "binary_flag"
	case KindDate:
		return "date"
	case KindCategory:
		return "category"
	case KindNumeric:
		return "numeric"
	case KindCount:
		return "count"
	default:
		return "unknown"
	}
}

// Value is the typed result of evaluating one variable for one patient.
// The zero Value is a null binary flag; use the constructors.
type Value struct {
	Kind  Kind
	Valid bool // false means null: no matching event or unresolved anchor

	Bool  bool
	Date  time.Time
	Str   string
	Float float64
	Int   int64

	// Layout overrides DateLayout when a date is formatted.
	Layout string
}

// Null returns the null value of the given kind.
func Null(k Kind) Value {
	return Value{Kind: k}
}

// Bool returns a binary flag value.
func Bool(b bool) Value {
	return Value{Kind: KindBinary, Valid: true, Bool: b}
}

// DateValue returns a date value.
func DateValue(t time.Time) Value {
	return Value{Kind: KindDate, Valid: true, Date: TruncateDate(t)}
}

// Category returns a category value.
func Category(s string) Value {
	return Value{Kind: KindCategory, Valid: true, Str: s}
}

// Numeric returns a numeric value.
func Numeric(f float64) Value {
	return Value{Kind: KindNumeric, Valid: true, Float: f}
}

// Count returns a count value.
func Count(n int64) Value {
	return Value{Kind: KindCount, Valid: true, Int: n}
}

// WithLayout returns v formatted with a different date layout. Values
// other than dates are returned unchanged.
func (v Value) WithLayout(layout string) Value {
	if v.Kind == KindDate && layout != DateLayout {
		v.Layout = layout
	}
	return v
}

// IsNull reports whether the value is absent.
func (v Value) IsNull() bool {
	return !v.Valid
}

// Truthy is the value of a bare variable reference in a boolean expression.
// Null is false: "no event" and "false" are the same when combined.
func (v Value) Truthy() bool {
	if !v.Valid {
		return false
	}
	switch v.Kind {
	case KindBinary:
		return v.Bool
	case KindDate:
		return true
	case KindCategory:
		return v.Str != ""
	case KindNumeric:
		return v.Float != 0
	case KindCount:
		return v.Int != 0
	}
	return false
}

// Format renders the value for an output table. Null values render as
// nullMarker so that they are never confused with "" or 0.
func (v Value) Format(nullMarker string) string {
	if !v.Valid {
		return nullMarker
	}
	switch v.Kind {
	case KindBinary:
		if v.Bool {
			return "1"
		}
		return "0"
	case KindDate:
		if v.Layout != "" {
			return v.Date.Format(v.Layout)
		}
		return FormatDate(v.Date)
	case KindCategory:
		return v.Str
	case KindNumeric:
		return strconv.FormatFloat(v.Float, 'f', -1, 64)
	case KindCount:
		return strconv.FormatInt(v.Int, 10)
	}
	return nullMarker
}

// String implements fmt.Stringer for debugging.
func (v Value) String() string {
	return fmt.Sprintf("%s(%s)", v.Kind, v.Format("null"))
}
