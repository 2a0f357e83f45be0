package codelist

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/leapstack-labs/leapcohort/pkg/core"
)

// Source describes how to read one codelist CSV.
type Source struct {
	Name           string
	System         core.CodingSystem
	Column         string // header of the code column
	CategoryColumn string // optional header of the category column
}

// LoadFile opens path and loads it as a codelist.
func LoadFile(path string, src Source) (*Codelist, error) {
	f, err := os.Open(path) //nolint:gosec // path comes from the study definition
	if err != nil {
		return nil, &core.LoadError{Source: path, Err: err}
	}
	defer func() { _ = f.Close() }()

	c, err := Load(f, src)
	if err != nil {
		var le *core.LoadError
		if errors.As(err, &le) {
			le.Source = path
		}
		return nil, err
	}
	return c, nil
}

// Load reads a CSV with a header row. The declared code column (and the
// category column, when given) must be present. Blank codes are skipped;
// a repeated code keeps its first category.
func Load(r io.Reader, src Source) (*Codelist, error) {
	if src.Column == "" {
		return nil, &core.LoadError{Source: src.Name, Err: fmt.Errorf("code column not declared")}
	}

	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err == io.EOF {
		return nil, &core.LoadError{Source: src.Name, Err: fmt.Errorf("empty file")}
	}
	if err != nil {
		return nil, &core.LoadError{Source: src.Name, Err: fmt.Errorf("malformed header: %w", err)}
	}

	codeIdx := columnIndex(header, src.Column)
	if codeIdx < 0 {
		return nil, &core.LoadError{Source: src.Name, Err: fmt.Errorf("column %q not found in header %v", src.Column, header)}
	}
	catIdx := -1
	if src.CategoryColumn != "" {
		catIdx = columnIndex(header, src.CategoryColumn)
		if catIdx < 0 {
			return nil, &core.LoadError{Source: src.Name, Err: fmt.Errorf("category column %q not found in header %v", src.CategoryColumn, header)}
		}
	}

	c := newCodelist(src.Name)
	line := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, &core.LoadError{Source: src.Name, Err: fmt.Errorf("line %d: %w", line, err)}
		}
		if codeIdx >= len(record) {
			return nil, &core.LoadError{Source: src.Name, Err: fmt.Errorf("line %d: missing %q field", line, src.Column)}
		}
		code := strings.TrimSpace(record[codeIdx])
		if code == "" {
			continue
		}
		entry := core.CodedEntry{Code: code, System: src.System}
		if catIdx >= 0 {
			if catIdx >= len(record) {
				return nil, &core.LoadError{Source: src.Name, Err: fmt.Errorf("line %d: missing %q field", line, src.CategoryColumn)}
			}
			entry.Category = strings.TrimSpace(record[catIdx])
		}
		c.add(entry)
	}

	if c.Len() == 0 {
		return nil, &core.LoadError{Source: src.Name, Err: fmt.Errorf("no codes in column %q", src.Column)}
	}
	return c, nil
}

func columnIndex(header []string, name string) int {
	for i, h := range header {
		// Strip a UTF-8 BOM that spreadsheet exports leave on the first header.
		h = strings.TrimPrefix(strings.TrimSpace(h), "\ufeff")
		if h == name {
			return i
		}
	}
	return -1
}
