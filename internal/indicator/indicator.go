// Package indicator turns categorical household and person attributes into
// the 0/1 indicator matrix the balancer uses as its coefficient matrix.
package indicator

import (
	"fmt"
	"sort"
	"strconv"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/ricci-colasanti/synthbalance/internal/inputs"
)

// DefaultThreshold is the minimum share of households a control must cover.
// Sparser columns make the balancing system unstable or infeasible and are
// dropped.
const DefaultThreshold = 0.1

// DefaultAttributes are the household attributes balanced on.
var DefaultAttributes = []string{inputs.NumPeople, inputs.NumVehicles}

// Builder formats household and person tables into one household level table
// carrying indicator columns.
type Builder struct {
	// Attributes are household columns expanded into one-hot controls.
	Attributes []string
	// PersonAttribute is counted per household, one column per PersonBins
	// entry.
	PersonAttribute string
	PersonBins      []string
}

// NewBuilder returns a builder for the given attributes, counting persons per
// age bin. A nil attribute list selects DefaultAttributes.
func NewBuilder(attributes []string) *Builder {
	if len(attributes) == 0 {
		attributes = DefaultAttributes
	}
	return &Builder{
		Attributes:      append([]string(nil), attributes...),
		PersonAttribute: inputs.Age,
		PersonBins:      inputs.AgeBins,
	}
}

// Format merges households and persons into one table keyed by serial number.
//
// Parameters:
//   - households: must carry serial_number, household_weight and every attribute
//   - persons: must carry serial_number and the person attribute
//
// Returns:
//   - a table with columns serial_number, attributes, household_weight, the
//     one-hot columns of every attribute (bins sorted), then one count column
//     per person bin. Only households with at least one person are kept,
//     sorted by serial number.
func (b *Builder) Format(households, persons inputs.Table) (inputs.Table, error) {
	hhFields := append([]string{inputs.SerialNumber, inputs.HouseholdWeight}, b.Attributes...)
	if err := households.Require("household", hhFields...); err != nil {
		return inputs.Table{}, err
	}
	if err := persons.Require("person", inputs.SerialNumber, b.PersonAttribute); err != nil {
		return inputs.Table{}, err
	}

	personCounts, err := b.countPersons(persons)
	if err != nil {
		return inputs.Table{}, err
	}

	base := append([]string{inputs.SerialNumber}, b.Attributes...)
	base = append(base, inputs.HouseholdWeight)
	out, err := households.Select(base...)
	if err != nil {
		return inputs.Table{}, err
	}

	type dummy struct {
		attr   int
		column string
		bin    string
	}
	var dummies []dummy
	for a, attr := range b.Attributes {
		for _, bin := range uniqueSorted(out, 1+a) {
			dummies = append(dummies, dummy{attr: a, column: inputs.ColumnName(attr, bin), bin: bin})
		}
	}
	for _, d := range dummies {
		out.Columns = append(out.Columns, d.column)
	}
	for _, bin := range b.PersonBins {
		out.Columns = append(out.Columns, inputs.ColumnName(b.PersonAttribute, bin))
	}

	rows := make([][]string, 0, len(out.Rows))
	for _, row := range out.Rows {
		counts, ok := personCounts[row[0]]
		if !ok {
			continue
		}
		ext := make([]string, 0, len(out.Columns))
		ext = append(ext, row...)
		for _, d := range dummies {
			if row[1+d.attr] == d.bin {
				ext = append(ext, "1")
			} else {
				ext = append(ext, "0")
			}
		}
		for _, c := range counts {
			ext = append(ext, strconv.Itoa(c))
		}
		rows = append(rows, ext)
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i][0] < rows[j][0] })
	out.Rows = rows
	return out, nil
}

// countPersons tallies persons per household and bin. Values outside
// PersonBins are not counted.
func (b *Builder) countPersons(persons inputs.Table) (map[string][]int, error) {
	serial := persons.Index(inputs.SerialNumber)
	attr := persons.Index(b.PersonAttribute)
	binIdx := make(map[string]int, len(b.PersonBins))
	for i, bin := range b.PersonBins {
		binIdx[bin] = i
	}
	counts := make(map[string][]int)
	for r, row := range persons.Rows {
		if serial >= len(row) || attr >= len(row) {
			return nil, fmt.Errorf("person row %d: expected %d fields, got %d", r, len(persons.Columns), len(row))
		}
		c, ok := counts[row[serial]]
		if !ok {
			c = make([]int, len(b.PersonBins))
			counts[row[serial]] = c
		}
		if i, ok := binIdx[row[attr]]; ok {
			c[i]++
		}
	}
	return counts, nil
}

// Candidates returns the one-hot control columns of the builder's attributes
// present in t, attribute by attribute, bins sorted.
func (b *Builder) Candidates(t inputs.Table) []string {
	var cols []string
	for _, attr := range b.Attributes {
		idx := t.Index(attr)
		if idx < 0 {
			continue
		}
		for _, bin := range uniqueSorted(t, idx) {
			name := inputs.ColumnName(attr, bin)
			if t.Has(name) {
				cols = append(cols, name)
			}
		}
	}
	return cols
}

// FilterSparse keeps the columns whose mean over the rows of t is strictly
// greater than threshold, preserving their order. The result fixes the
// control ordering shared by the indicator and control matrices.
func FilterSparse(t inputs.Table, columns []string, threshold float64) ([]string, error) {
	if t.Len() == 0 {
		return nil, fmt.Errorf("no households to filter controls on")
	}
	var kept []string
	for _, c := range columns {
		v, err := t.Floats(c)
		if err != nil {
			return nil, err
		}
		if floats.Sum(v)/float64(len(v)) > threshold {
			kept = append(kept, c)
		}
	}
	return kept, nil
}

// Matrix returns the households × len(columns) indicator matrix.
func Matrix(t inputs.Table, columns []string) (*mat.Dense, error) {
	if t.Len() == 0 || len(columns) == 0 {
		return nil, fmt.Errorf("indicator matrix needs rows and columns, got %d×%d", t.Len(), len(columns))
	}
	h := mat.NewDense(t.Len(), len(columns), nil)
	for k, c := range columns {
		v, err := t.Floats(c)
		if err != nil {
			return nil, err
		}
		h.SetCol(k, v)
	}
	return h, nil
}

// Weights returns the household weights of t.
func Weights(t inputs.Table) ([]float64, error) {
	return t.Floats(inputs.HouseholdWeight)
}

func uniqueSorted(t inputs.Table, col int) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, row := range t.Rows {
		if col >= len(row) {
			continue
		}
		if _, ok := seen[row[col]]; !ok {
			seen[row[col]] = struct{}{}
			out = append(out, row[col])
		}
	}
	sort.Strings(out)
	return out
}
