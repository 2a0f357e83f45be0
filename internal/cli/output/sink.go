package output

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"math"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/leapstack-labs/leapcohort/pkg/core"
)

// Cohort table formats.
const (
	FormatCSV   = "csv"
	FormatTable = "table"
	FormatJSONL = "jsonl"
)

// Sink receives the cohort table one row at a time. Flush must be called
// once the last row is written.
type Sink interface {
	WriteHeader(columns []string) error
	WriteRow(patientID string, values []core.Value) error
	Flush() error
}

// NewSink returns a sink for format. Null values are written as
// nullMarker, except in JSON lines where they are null.
func NewSink(format string, w io.Writer, nullMarker string) (Sink, error) {
	switch format {
	case FormatCSV, "":
		return NewCSVSink(w, nullMarker), nil
	case FormatTable:
		return NewTableSink(w, nullMarker), nil
	case FormatJSONL:
		return NewJSONLSink(w), nil
	default:
		return nil, fmt.Errorf("unknown table format %q (expected %s, %s or %s)", format, FormatCSV, FormatTable, FormatJSONL)
	}
}

// CSVSink writes RFC 4180 CSV.
type CSVSink struct {
	w          *csv.Writer
	nullMarker string
	record     []string
}

// NewCSVSink returns a CSV sink writing to w.
func NewCSVSink(w io.Writer, nullMarker string) *CSVSink {
	return &CSVSink{w: csv.NewWriter(w), nullMarker: nullMarker}
}

// WriteHeader writes the column names.
func (s *CSVSink) WriteHeader(columns []string) error {
	return s.w.Write(columns)
}

// WriteRow writes one patient.
func (s *CSVSink) WriteRow(patientID string, values []core.Value) error {
	s.record = append(s.record[:0], patientID)
	for _, v := range values {
		s.record = append(s.record, v.Format(s.nullMarker))
	}
	return s.w.Write(s.record)
}

// Flush flushes buffered rows.
func (s *CSVSink) Flush() error {
	s.w.Flush()
	return s.w.Error()
}

// TableSink collects rows and renders a go-pretty table on Flush.
type TableSink struct {
	out        io.Writer
	t          table.Writer
	nullMarker string
	rows       int
}

// NewTableSink returns a table sink writing to w.
func NewTableSink(w io.Writer, nullMarker string) *TableSink {
	t := table.NewWriter()
	t.SetStyle(table.StyleLight)
	return &TableSink{out: w, t: t, nullMarker: nullMarker}
}

// WriteHeader sets the table header.
func (s *TableSink) WriteHeader(columns []string) error {
	header := make(table.Row, len(columns))
	for i, c := range columns {
		header[i] = c
	}
	s.t.AppendHeader(header)
	return nil
}

// WriteRow appends one patient.
func (s *TableSink) WriteRow(patientID string, values []core.Value) error {
	row := make(table.Row, 0, len(values)+1)
	row = append(row, patientID)
	for _, v := range values {
		row = append(row, v.Format(s.nullMarker))
	}
	s.t.AppendRow(row)
	s.rows++
	return nil
}

// Flush renders the table.
func (s *TableSink) Flush() error {
	if s.rows == 0 {
		_, err := fmt.Fprintln(s.out, "(0 rows)")
		return err
	}
	if _, err := fmt.Fprintln(s.out, s.t.Render()); err != nil {
		return err
	}
	_, err := fmt.Fprintf(s.out, "(%d rows)\n", s.rows)
	return err
}

// JSONLSink writes one JSON object per patient, keys in column order.
type JSONLSink struct {
	out  io.Writer
	keys [][]byte
	line bytes.Buffer
}

// NewJSONLSink returns a JSON lines sink writing to w.
func NewJSONLSink(w io.Writer) *JSONLSink {
	return &JSONLSink{out: w}
}

// WriteHeader records the keys of each object.
func (s *JSONLSink) WriteHeader(columns []string) error {
	s.keys = make([][]byte, len(columns))
	for i, c := range columns {
		k, err := json.Marshal(c)
		if err != nil {
			return err
		}
		s.keys[i] = k
	}
	return nil
}

// WriteRow writes one patient. Binary flags are booleans, numbers and
// counts are numbers, dates and categories are strings.
func (s *JSONLSink) WriteRow(patientID string, values []core.Value) error {
	s.line.Reset()
	s.line.WriteByte('{')
	if err := s.field(0, patientID); err != nil {
		return err
	}
	for i, v := range values {
		s.line.WriteByte(',')
		if err := s.field(i+1, jsonValue(v)); err != nil {
			return err
		}
	}
	s.line.WriteString("}\n")
	_, err := s.out.Write(s.line.Bytes())
	return err
}

func (s *JSONLSink) field(i int, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("column %s: %w", s.keys[i], err)
	}
	s.line.Write(s.keys[i])
	s.line.WriteByte(':')
	s.line.Write(b)
	return nil
}

// Flush is a no-op; every row is written as it arrives.
func (s *JSONLSink) Flush() error {
	return nil
}

func jsonValue(v core.Value) any {
	if !v.Valid {
		return nil
	}
	switch v.Kind {
	case core.KindBinary:
		return v.Bool
	case core.KindNumeric:
		if math.IsNaN(v.Float) || math.IsInf(v.Float, 0) {
			return nil
		}
		return v.Float
	case core.KindCount:
		return v.Int
	default:
		return v.Format("")
	}
}
