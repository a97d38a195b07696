package accuracy

import (
	"fmt"

	"gonum.org/v1/gonum/floats"

	"github.com/ricci-colasanti/synthbalance/internal/allocation"
	"github.com/ricci-colasanti/synthbalance/internal/inputs"
	"github.com/ricci-colasanti/synthbalance/internal/marginals"
)

// TractFit compares one tract's controls with what was allocated to it.
type TractFit struct {
	Tract     string    `yaml:"tract"`
	Marginal  []float64 `yaml:"marginal,flow"`
	Allocated []float64 `yaml:"allocated,flow"`
	// Distance is measured between the two vectors normalised to shares.
	Distance float64 `yaml:"distance"`
}

// Fit measures, per tract, the distance between the marginal controls and
// the allocated totals of the same columns. Columns default to the controls
// the result was balanced on.
func Fit(m *marginals.Marginals, res *allocation.Result, columns []string, metric Metric) ([]TractFit, error) {
	if len(columns) == 0 {
		columns = res.Controls
	}
	a, err := m.Controls(columns)
	if err != nil {
		return nil, err
	}
	households := res.Households()
	if err := households.Require("allocated household", append([]string{inputs.Tract, inputs.Count}, columns...)...); err != nil {
		return nil, err
	}
	count, err := households.Floats(inputs.Count)
	if err != nil {
		return nil, err
	}
	tract := households.Index(inputs.Tract)
	values := make([][]float64, len(columns))
	for k, c := range columns {
		if values[k], err = households.Floats(c); err != nil {
			return nil, err
		}
	}

	index := make(map[string]int, m.Len())
	fits := make([]TractFit, m.Len())
	for t, id := range m.Tracts {
		index[id] = t
		fits[t] = TractFit{
			Tract:     id,
			Marginal:  a.RawRowView(t),
			Allocated: make([]float64, len(columns)),
		}
	}
	for i, row := range households.Rows {
		t, ok := index[row[tract]]
		if !ok {
			return nil, fmt.Errorf("allocated household row %d: unknown tract %q", i, row[tract])
		}
		for k := range columns {
			fits[t].Allocated[k] += count[i] * values[k][i]
		}
	}
	for t := range fits {
		fits[t].Distance = Distance(metric, shares(fits[t].Marginal), shares(fits[t].Allocated))
	}
	return fits, nil
}

// shares scales v to sum to one. A zero vector is returned unchanged.
func shares(v []float64) []float64 {
	out := append([]float64(nil), v...)
	if sum := floats.Sum(out); sum > 0 {
		floats.Scale(1/sum, out)
	}
	return out
}
