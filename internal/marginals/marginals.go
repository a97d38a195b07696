// Package marginals reads the per-tract control counts the allocator balances
// against.
package marginals

import (
	"fmt"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/mat"

	"github.com/ricci-colasanti/synthbalance/internal/inputs"
)

// DefaultTractColumn names the tract identifier column of census tract tables.
const DefaultTractColumn = "TRACTCE"

// Bins of a controlled attribute, in column order.
type Bins struct {
	Attribute string
	Values    []string
}

// Catalog lists the attributes marginal tables carry controls for. Control
// columns are named inputs.ColumnName(attribute, bin).
var Catalog = []Bins{
	{Attribute: inputs.NumPeople, Values: []string{"1", "2", "3", "4+"}},
	{Attribute: inputs.NumVehicles, Values: []string{"0", "1", "2", "3+"}},
	{Attribute: inputs.Age, Values: inputs.AgeBins},
}

// Lookup returns the catalog entry of an attribute.
func Lookup(attribute string) (Bins, bool) {
	for _, b := range Catalog {
		if b.Attribute == attribute {
			return b, true
		}
	}
	return Bins{}, false
}

// Marginals is a tract table: one row per tract, one column per control plus
// whatever descriptive columns (state, county, ...) the source carried.
type Marginals struct {
	Tracts []string

	table       inputs.Table
	tractColumn string
}

// New wraps a table whose tractColumn identifies each row.
func New(t inputs.Table, tractColumn string) (*Marginals, error) {
	if tractColumn == "" {
		tractColumn = DefaultTractColumn
	}
	ids, err := t.Column(tractColumn)
	if err != nil {
		return nil, &inputs.ConfigError{Table: "marginals", Field: tractColumn}
	}
	return &Marginals{Tracts: ids, table: t, tractColumn: tractColumn}, nil
}

// ReadCSV loads a marginal table from a CSV file.
func ReadCSV(filename, tractColumn string) (*Marginals, error) {
	t, err := inputs.ReadCSV(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read marginals CSV: %w", err)
	}
	return New(t, tractColumn)
}

// Table returns the underlying table.
func (m *Marginals) Table() inputs.Table {
	return m.table
}

// Len returns the number of tracts.
func (m *Marginals) Len() int {
	return len(m.Tracts)
}

// Controls returns the tracts × len(columns) control matrix with columns in
// exactly the requested order. This is the alignment the balancer relies on:
// column k of the result matches column k of the indicator matrix built from
// the same names.
func (m *Marginals) Controls(columns []string) (*mat.Dense, error) {
	if len(columns) == 0 {
		return nil, fmt.Errorf("no control columns requested")
	}
	if m.Len() == 0 {
		return nil, fmt.Errorf("marginal table has no tracts")
	}
	idx := make([]int, len(columns))
	for k, c := range columns {
		idx[k] = m.table.Index(c)
		if idx[k] < 0 {
			return nil, &inputs.ConfigError{Table: "marginals", Field: c}
		}
	}

	a := mat.NewDense(m.Len(), len(columns), nil)
	for t, row := range m.table.Rows {
		for k, j := range idx {
			raw := ""
			if j < len(row) {
				raw = strings.TrimSpace(row[j])
			}
			v, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				return nil, fmt.Errorf("tract %s column %s: invalid count %q: %w", m.Tracts[t], columns[k], raw, err)
			}
			if v < 0 {
				return nil, fmt.Errorf("tract %s column %s: negative count %v", m.Tracts[t], columns[k], v)
			}
			a.Set(t, k, v)
		}
	}
	return a, nil
}

// ColumnTotals sums a control matrix over its tracts. The result is the
// meta-marginal used to keep per-tract balancing consistent in total.
func ColumnTotals(a mat.Matrix) []float64 {
	r, c := a.Dims()
	out := make([]float64, c)
	for k := 0; k < c; k++ {
		for t := 0; t < r; t++ {
			out[k] += a.At(t, k)
		}
	}
	return out
}
