package core

import (
	"fmt"
	"time"
)

// DateLayout is the only date representation accepted in configuration
// files, and the default one written to output tables.
const DateLayout = "2006-01-02"

// dateFormats maps the date_format spellings of a study to time layouts.
var dateFormats = map[string]string{
	"YYYY-MM-DD": DateLayout,
	"YYYY-MM":    "2006-01",
	"YYYY":       "2006",
}

// ParseDateFormat returns the time layout of an output date format. The
// empty format is YYYY-MM-DD.
func ParseDateFormat(s string) (string, error) {
	if s == "" {
		return DateLayout, nil
	}
	layout, ok := dateFormats[s]
	if !ok {
		return "", fmt.Errorf("unknown date_format %q (expected YYYY-MM-DD, YYYY-MM or YYYY)", s)
	}
	return layout, nil
}

// ParseDate parses a YYYY-MM-DD string into a UTC midnight time.
func ParseDate(s string) (time.Time, error) {
	t, err := time.ParseInLocation(DateLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: expected YYYY-MM-DD", s)
	}
	return t, nil
}

// MustDate is like ParseDate but panics on malformed input.
// Intended for tests and package-level fixtures.
func MustDate(s string) time.Time {
	t, err := ParseDate(s)
	if err != nil {
		panic(err)
	}
	return t
}

// FormatDate renders t as YYYY-MM-DD.
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

// TruncateDate drops the clock component of t, keeping the calendar day in UTC.
func TruncateDate(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
