package accuracy

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Pair holds one error statistic for the sample and for the allocation.
type Pair struct {
	Sample    float64 `yaml:"sample"`
	Allocated float64 `yaml:"allocated"`
}

// BinError is a compared bin with its per-bin errors.
type BinError struct {
	Row              `yaml:",inline"`
	RootSquaredError Pair `yaml:"root_squared_error"`
	AbsolutePctError Pair `yaml:"absolute_pct_error"`
}

// Report is the written accuracy summary of one run.
type Report struct {
	RootMeanSquaredError Pair       `yaml:"root_mean_squared_error"`
	Bins                 []BinError `yaml:"bins"`
	Metric               string     `yaml:"metric"`
	Tracts               []TractFit `yaml:"tracts,omitempty"`
}

// NewReport gathers the statistics of c and the tract fits measured with
// metric.
func NewReport(c Comparison, fits []TractFit, metric Metric) Report {
	r := Report{Metric: metric.String(), Tracts: fits}
	r.RootMeanSquaredError.Sample, r.RootMeanSquaredError.Allocated = c.RootMeanSquaredError()
	rseS, rseA := c.RootSquaredError()
	apeS, apeA := c.AbsolutePctError()
	r.Bins = make([]BinError, len(c))
	for i, row := range c {
		r.Bins[i] = BinError{
			Row:              row,
			RootSquaredError: Pair{Sample: rseS[i], Allocated: rseA[i]},
			AbsolutePctError: Pair{Sample: apeS[i], Allocated: apeA[i]},
		}
	}
	return r
}

// Write stores the report as YAML.
func (r Report) Write(path string) error {
	out, err := yaml.Marshal(r)
	if err != nil {
		return fmt.Errorf("encoding accuracy report: %w", err)
	}
	if err := os.WriteFile(path, out, 0o644); err != nil {
		return fmt.Errorf("writing accuracy report: %w", err)
	}
	return nil
}
