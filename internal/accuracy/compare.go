// Package accuracy measures how closely an allocation reproduces the
// marginals it was balanced against, next to the raw sample as a baseline.
package accuracy

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/ricci-colasanti/synthbalance/internal/allocation"
	"github.com/ricci-colasanti/synthbalance/internal/inputs"
	"github.com/ricci-colasanti/synthbalance/internal/marginals"
)

// Row holds the three totals of one control bin.
type Row struct {
	Variable string `yaml:"variable"`
	Bin      string `yaml:"bin"`
	// Sample is the weighted count in the PUMS sample.
	Sample float64 `yaml:"sample"`
	// Allocated is the count in the allocated population.
	Allocated float64 `yaml:"allocated"`
	// Marginal is the count summed over every tract.
	Marginal float64 `yaml:"marginal"`
}

// Comparison lists the totals of every compared bin.
type Comparison []Row

// Compare totals each bin of variables in the sample, in the allocation and
// in the marginals. A nil variable list compares every catalogued attribute.
//
// Person attributes are weighted by person_weight in the sample and counted
// through the per-household person columns of the allocation. Household
// attributes are weighted by household_weight and by the allocated counts.
func Compare(m *marginals.Marginals, households, persons inputs.Table, res *allocation.Result, variables []string) (Comparison, error) {
	if len(variables) == 0 {
		for _, b := range marginals.Catalog {
			variables = append(variables, b.Attribute)
		}
	}
	allocated := res.Households()
	count, err := allocated.Floats(inputs.Count)
	if err != nil {
		return nil, err
	}

	var out Comparison
	for _, variable := range variables {
		bins, ok := marginals.Lookup(variable)
		if !ok {
			return nil, fmt.Errorf("no marginal bins for variable %q", variable)
		}
		for _, bin := range bins.Values {
			column := inputs.ColumnName(variable, bin)
			row := Row{Variable: variable, Bin: bin}

			if variable == inputs.Age {
				if row.Sample, err = weightedCount(persons, "person", variable, bin, inputs.PersonWeight); err != nil {
					return nil, err
				}
				if row.Allocated, err = columnTotal(allocated, column, count); err != nil {
					return nil, err
				}
			} else {
				if row.Sample, err = weightedCount(households, "household", variable, bin, inputs.HouseholdWeight); err != nil {
					return nil, err
				}
				if row.Allocated, err = weightedCount(allocated, "allocated household", variable, bin, inputs.Count); err != nil {
					return nil, err
				}
			}

			marginal, err := m.Table().Floats(column)
			if err != nil {
				return nil, &inputs.ConfigError{Table: "marginals", Field: column}
			}
			row.Marginal = floats.Sum(marginal)
			out = append(out, row)
		}
	}
	return out, nil
}

// weightedCount sums the weight column over the rows whose variable equals bin.
func weightedCount(t inputs.Table, table, variable, bin, weight string) (float64, error) {
	if err := t.Require(table, variable, weight); err != nil {
		return 0, err
	}
	v, w := t.Index(variable), t.Index(weight)
	total := 0.0
	for r, row := range t.Rows {
		if v >= len(row) || w >= len(row) || strings.TrimSpace(row[v]) != bin {
			continue
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(row[w]), 64)
		if err != nil {
			return 0, fmt.Errorf("%s row %d: invalid %s %q: %w", table, r, weight, row[w], err)
		}
		total += f
	}
	return total, nil
}

// columnTotal returns Σ count_i·column_i. A missing column totals zero.
func columnTotal(t inputs.Table, column string, count []float64) (float64, error) {
	if !t.Has(column) {
		return 0, nil
	}
	v, err := t.Floats(column)
	if err != nil {
		return 0, err
	}
	return floats.Dot(v, count), nil
}

func (c Comparison) columns() (sample, allocated, marginal []float64) {
	sample = make([]float64, len(c))
	allocated = make([]float64, len(c))
	marginal = make([]float64, len(c))
	for i, r := range c {
		sample[i], allocated[i], marginal[i] = r.Sample, r.Allocated, r.Marginal
	}
	return sample, allocated, marginal
}

// RootMeanSquaredError returns the RMSE of the sample and of the allocation
// against the marginals.
func (c Comparison) RootMeanSquaredError() (sample, allocated float64) {
	s, a, m := c.columns()
	return rmse(s, m), rmse(a, m)
}

func rmse(x, m []float64) float64 {
	sq := make([]float64, len(x))
	for i := range x {
		sq[i] = (x[i] - m[i]) * (x[i] - m[i])
	}
	return math.Sqrt(stat.Mean(sq, nil))
}

// RootSquaredError is the per-bin RMSE without the mean.
func (c Comparison) RootSquaredError() (sample, allocated []float64) {
	s, a, m := c.columns()
	sample = make([]float64, len(c))
	allocated = make([]float64, len(c))
	for i := range c {
		sample[i] = math.Abs(s[i] - m[i])
		allocated[i] = math.Abs(a[i] - m[i])
	}
	return sample, allocated
}

// AbsolutePctError is |x−m| over the mean of x and m, per bin. A bin where
// both are zero gives NaN.
func (c Comparison) AbsolutePctError() (sample, allocated []float64) {
	s, a, m := c.columns()
	sample = make([]float64, len(c))
	allocated = make([]float64, len(c))
	for i := range c {
		sample[i] = math.Abs(s[i]-m[i]) / ((s[i] + m[i]) / 2)
		allocated[i] = math.Abs(a[i]-m[i]) / ((a[i] + m[i]) / 2)
	}
	return sample, allocated
}
