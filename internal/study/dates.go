package study

import (
	"fmt"
	"time"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/leapstack-labs/leapcohort/internal/temporal"
	"github.com/leapstack-labs/leapcohort/pkg/core"
)

// Dates are the study-wide anchors.
type Dates struct {
	Start time.Time
	End   time.Time
	Index time.Time
	Today time.Time
}

// datesFile is the study-dates JSON document.
type datesFile struct {
	StartDate string `koanf:"start_date"`
	EndDate   string `koanf:"end_date"`
	IndexDate string `koanf:"index_date"`
}

// LoadDates reads a study-dates JSON file with start_date, end_date and an
// optional index_date, all YYYY-MM-DD. Other keys are ignored; the file
// is often shared with analysis scripts.
func LoadDates(path string) (Dates, error) {
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), json.Parser()); err != nil {
		return Dates{}, &core.LoadError{Source: path, Err: err}
	}
	var f datesFile
	if err := k.Unmarshal("", &f); err != nil {
		return Dates{}, &core.LoadError{Source: path, Err: err}
	}
	d, err := NewDates(f.StartDate, f.EndDate, f.IndexDate)
	if err != nil {
		return Dates{}, &core.LoadError{Source: path, Err: err}
	}
	return d, nil
}

// NewDates builds Dates from strings. An empty index defaults to start.
// Today is set to the current UTC date.
func NewDates(start, end, index string) (Dates, error) {
	if start == "" || end == "" {
		return Dates{}, fmt.Errorf("start_date and end_date are required")
	}
	var d Dates
	var err error
	if d.Start, err = core.ParseDate(start); err != nil {
		return Dates{}, fmt.Errorf("start_date: %w", err)
	}
	if d.End, err = core.ParseDate(end); err != nil {
		return Dates{}, fmt.Errorf("end_date: %w", err)
	}
	if d.End.Before(d.Start) {
		return Dates{}, fmt.Errorf("end_date %s is before start_date %s", end, start)
	}
	d.Index = d.Start
	if index != "" {
		if d.Index, err = core.ParseDate(index); err != nil {
			return Dates{}, fmt.Errorf("index_date: %w", err)
		}
	}
	d.Today = core.TruncateDate(time.Now())
	return d, nil
}

// Lookup resolves the built-in anchors.
func (d Dates) Lookup(name string) (time.Time, bool) {
	switch name {
	case temporal.AnchorIndexDate:
		return d.Index, true
	case temporal.AnchorStartDate:
		return d.Start, true
	case temporal.AnchorEndDate:
		return d.End, true
	case temporal.AnchorToday:
		return d.Today, !d.Today.IsZero()
	}
	return time.Time{}, false
}

// WithIndex applies a definition's index_date expression, which may name
// start_date or end_date or give a literal date.
func (d Dates) WithIndex(expr string) (Dates, error) {
	if expr == "" {
		return d, nil
	}
	e, err := temporal.ParseDateExpr(expr)
	if err != nil {
		return d, fmt.Errorf("index_date: %w", err)
	}
	if ref := e.Reference(); ref == temporal.AnchorIndexDate {
		return d, fmt.Errorf("index_date cannot refer to itself")
	}
	t, ok := e.Resolve(d.Lookup)
	if !ok {
		return d, fmt.Errorf("index_date %q must be a date or refer to start_date, end_date or today", expr)
	}
	d.Index = t
	return d, nil
}
