package temporal

import (
	"fmt"
	"time"
)

// WindowKind is the shape of a window.
type WindowKind int

// Window shapes.
const (
	Unbounded WindowKind = iota
	BetweenDates
	OnOrBeforeDate
	OnOrAfterDate
)

// Window restricts matching events to a date range given by expressions.
// The zero Window is unbounded.
type Window struct {
	Kind WindowKind
	From DateExpr // BetweenDates, OnOrAfterDate
	To   DateExpr // BetweenDates, OnOrBeforeDate
}

// Between matches dates in [from, to], inclusive at both ends.
func Between(from, to DateExpr) Window {
	return Window{Kind: BetweenDates, From: from, To: to}
}

// OnOrBefore matches dates up to and including to.
func OnOrBefore(to DateExpr) Window {
	return Window{Kind: OnOrBeforeDate, To: to}
}

// OnOrAfter matches dates from and including from.
func OnOrAfter(from DateExpr) Window {
	return Window{Kind: OnOrAfterDate, From: from}
}

// References returns the names the window depends on, anchors included.
func (w Window) References() []string {
	var refs []string
	if w.hasFrom() && w.From.name != "" {
		refs = append(refs, w.From.name)
	}
	if w.hasTo() && w.To.name != "" {
		refs = append(refs, w.To.name)
	}
	return refs
}

func (w Window) hasFrom() bool {
	return w.Kind == BetweenDates || w.Kind == OnOrAfterDate
}

func (w Window) hasTo() bool {
	return w.Kind == BetweenDates || w.Kind == OnOrBeforeDate
}

// Resolve evaluates the window's endpoints. ok is false when an anchor
// has no value, in which case nothing can match.
func (w Window) Resolve(lookup DateLookup) (iv Interval, ok bool) {
	if w.hasFrom() {
		if iv.From, ok = w.From.Resolve(lookup); !ok {
			return Interval{}, false
		}
		iv.HasFrom = true
	}
	if w.hasTo() {
		if iv.To, ok = w.To.Resolve(lookup); !ok {
			return Interval{}, false
		}
		iv.HasTo = true
	}
	return iv, true
}

func (w Window) String() string {
	switch w.Kind {
	case BetweenDates:
		return fmt.Sprintf("between [%s, %s]", w.From, w.To)
	case OnOrBeforeDate:
		return fmt.Sprintf("on or before %s", w.To)
	case OnOrAfterDate:
		return fmt.Sprintf("on or after %s", w.From)
	default:
		return "any date"
	}
}

// Interval is a resolved window. A missing bound is open.
type Interval struct {
	From, To       time.Time
	HasFrom, HasTo bool
}

// All is the unbounded interval.
var All = Interval{}

// Contains reports whether d falls inside the interval, bounds inclusive.
func (iv Interval) Contains(d time.Time) bool {
	if iv.HasFrom && d.Before(iv.From) {
		return false
	}
	if iv.HasTo && d.After(iv.To) {
		return false
	}
	return true
}

// Empty reports whether no date can fall inside the interval.
func (iv Interval) Empty() bool {
	return iv.HasFrom && iv.HasTo && iv.To.Before(iv.From)
}
