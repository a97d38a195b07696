package inputs

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ConfigError reports a table that lacks a field the run depends on. It is
// fatal: allocation never starts with an incomplete table.
type ConfigError struct {
	Table string
	Field string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("missing required field %q in %s table", e.Field, e.Table)
}

// IsConfigError reports whether err wraps a *ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// Table is a header plus string rows, the shape every CSV in the pipeline
// shares.
type Table struct {
	Columns []string
	Rows    [][]string
}

// NewTable returns an empty table with the given header.
func NewTable(columns ...string) Table {
	return Table{Columns: append([]string(nil), columns...)}
}

// Len returns the number of rows.
func (t Table) Len() int {
	return len(t.Rows)
}

// Index returns the position of a column, or -1.
func (t Table) Index(name string) int {
	for i, c := range t.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// Has reports whether the table has the named column.
func (t Table) Has(name string) bool {
	return t.Index(name) >= 0
}

// Require checks that every field is present. The first missing field is
// returned as a *ConfigError naming the table.
func (t Table) Require(table string, fields ...string) error {
	for _, f := range fields {
		if !t.Has(f) {
			return &ConfigError{Table: table, Field: f}
		}
	}
	return nil
}

// Column returns a copy of the named column.
func (t Table) Column(name string) ([]string, error) {
	idx := t.Index(name)
	if idx < 0 {
		return nil, &ConfigError{Table: "input", Field: name}
	}
	out := make([]string, len(t.Rows))
	for i, row := range t.Rows {
		if idx < len(row) {
			out[i] = row[idx]
		}
	}
	return out, nil
}

// Floats parses the named column as float64 values.
func (t Table) Floats(name string) ([]float64, error) {
	raw, err := t.Column(name)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(raw))
	for i, v := range raw {
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return nil, fmt.Errorf("column %s row %d: invalid number %q: %w", name, i, v, err)
		}
		out[i] = f
	}
	return out, nil
}

// Select returns a table holding only the named columns, in that order.
func (t Table) Select(columns ...string) (Table, error) {
	idx := make([]int, len(columns))
	for i, c := range columns {
		idx[i] = t.Index(c)
		if idx[i] < 0 {
			return Table{}, &ConfigError{Table: "input", Field: c}
		}
	}
	out := NewTable(columns...)
	out.Rows = make([][]string, len(t.Rows))
	for r, row := range t.Rows {
		sel := make([]string, len(idx))
		for i, j := range idx {
			if j < len(row) {
				sel[i] = row[j]
			}
		}
		out.Rows[r] = sel
	}
	return out, nil
}

// Filter returns the rows for which keep returns true. Rows are shared, not
// copied.
func (t Table) Filter(keep func(i int, row []string) bool) Table {
	out := NewTable(t.Columns...)
	for i, row := range t.Rows {
		if keep(i, row) {
			out.Rows = append(out.Rows, row)
		}
	}
	return out
}
