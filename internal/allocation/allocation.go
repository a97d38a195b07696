// Package allocation assigns sample households to census tracts.
//
// An Allocator formats the household and person samples into indicator
// columns, balances the household weights against each tract's marginal
// controls, rounds them to integer counts, and returns the sample repeated
// once per tract with a count column. The Result indexes those counts by
// serial number for the generation stage.
package allocation

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-logr/logr"
	"gonum.org/v1/gonum/mat"

	"github.com/ricci-colasanti/synthbalance/internal/balance"
	"github.com/ricci-colasanti/synthbalance/internal/discretize"
	"github.com/ricci-colasanti/synthbalance/internal/indicator"
	"github.com/ricci-colasanti/synthbalance/internal/inputs"
	"github.com/ricci-colasanti/synthbalance/internal/logging"
	"github.com/ricci-colasanti/synthbalance/internal/marginals"
	"github.com/ricci-colasanti/synthbalance/internal/metrics"
	"github.com/ricci-colasanti/synthbalance/internal/solver"
)

const (
	// DefaultGamma trades the prior weights against the controls. Low
	// values (~1) trust the prior, high values (~10000) fit the controls.
	DefaultGamma     = 100.0
	DefaultMetaGamma = 100.0
)

// Allocator runs the allocation pipeline.
type Allocator struct {
	Builder     *indicator.Builder
	Balancer    *balance.Balancer
	Discretizer *discretize.Discretizer
	Log         logr.Logger

	// SparsityThreshold is the minimum share of households a control must
	// cover to be balanced on.
	SparsityThreshold float64
	Gamma             float64
	MetaGamma         float64
	// RunID tags the log lines of a run. Empty means a timestamp.
	RunID string
}

// NewAllocator returns an allocator with the default attributes and
// coefficients, balancing and discretizing with backend.
func NewAllocator(backend solver.Backend, log logr.Logger, m *metrics.Metrics) *Allocator {
	b := balance.NewBalancer(backend, log)
	b.Metrics = m
	d := discretize.NewDiscretizer(backend, log)
	d.Metrics = m
	return &Allocator{
		Builder:           indicator.NewBuilder(nil),
		Balancer:          b,
		Discretizer:       d,
		Log:               log,
		SparsityThreshold: indicator.DefaultThreshold,
		Gamma:             DefaultGamma,
		MetaGamma:         DefaultMetaGamma,
	}
}

// Allocate balances households against the tract controls in m.
//
// Parameters:
//   - m: one row of controls per tract
//   - households: must carry the required household fields and every
//     balancing attribute
//   - persons: must carry the required person fields
//
// Returns:
//   - the allocation, or a *inputs.ConfigError for a missing field
func (a *Allocator) Allocate(ctx context.Context, m *marginals.Marginals, households, persons inputs.Table) (*Result, error) {
	runID := a.RunID
	if runID == "" {
		runID = time.Now().UTC().Format("20060102T150405.000")
	}
	log := a.Log.WithValues("run", runID)
	balancer := *a.Balancer
	balancer.Log = log
	discretizer := *a.Discretizer
	discretizer.Log = log

	hhFields := append(append([]string(nil), inputs.RequiredHouseholdFields...), a.Builder.Attributes...)
	if err := households.Require("household", hhFields...); err != nil {
		return nil, err
	}
	if err := persons.Require("person", inputs.RequiredPersonFields...); err != nil {
		return nil, err
	}

	formatted, err := a.Builder.Format(households, persons)
	if err != nil {
		return nil, fmt.Errorf("formatting households: %w", err)
	}
	weights, err := indicator.Weights(formatted)
	if err != nil {
		return nil, fmt.Errorf("reading household weights: %w", err)
	}
	// Only nonzero weights take part.
	formatted = formatted.Filter(func(i int, _ []string) bool { return weights[i] > 0 })
	if formatted.Len() == 0 {
		return nil, fmt.Errorf("no households with positive weight and at least one person")
	}
	if weights, err = indicator.Weights(formatted); err != nil {
		return nil, err
	}

	columns, err := indicator.FilterSparse(formatted, a.Builder.Candidates(formatted), a.SparsityThreshold)
	if err != nil {
		return nil, fmt.Errorf("filtering sparse controls: %w", err)
	}
	if len(columns) == 0 {
		return nil, fmt.Errorf("no controls cover more than %.0f%% of households", a.SparsityThreshold*100)
	}
	h, err := indicator.Matrix(formatted, columns)
	if err != nil {
		return nil, err
	}
	controls, err := m.Controls(columns)
	if err != nil {
		return nil, fmt.Errorf("reading tract controls: %w", err)
	}
	tracts, n := m.Len(), formatted.Len()
	log.Info("allocating households", "households", n, "tracts", tracts, "controls", columns)

	w := mat.NewDense(tracts, n, nil)
	mu := mat.NewDense(len(columns), tracts, nil)
	for t := 0; t < tracts; t++ {
		w.SetRow(t, weights)
		for k := range columns {
			mu.Set(k, t, a.Gamma)
		}
	}
	outcome, err := balancer.Balance(ctx, balance.MultiProblem{
		H:      h,
		A:      controls,
		B:      marginals.ColumnTotals(controls),
		W:      w,
		Mu:     mu,
		MetaMu: a.MetaGamma,
	})
	if err != nil {
		return nil, err
	}
	log.V(logging.DEBUG).Info("balanced weights", "outcome", outcome.Kind.String(), "level", outcome.Level)

	d, report := discretizer.Discretize(ctx, h, outcome.Weights)
	counts := discretize.Counts(outcome.Weights, d)

	out := inputs.NewTable(append(append([]string(nil), formatted.Columns...), inputs.Count, inputs.Tract)...)
	out.Rows = make([][]string, 0, tracts*n)
	for t, tract := range m.Tracts {
		for i, row := range formatted.Rows {
			ext := make([]string, 0, len(out.Columns))
			ext = append(ext, row...)
			ext = append(ext, strconv.Itoa(counts[t][i]), tract)
			out.Rows = append(out.Rows, ext)
		}
	}

	trimmed, err := persons.Select(inputs.SerialNumber, inputs.Sex, inputs.Age)
	if err != nil {
		return nil, err
	}
	res, err := FromTables(out, trimmed)
	if err != nil {
		return nil, err
	}
	res.Outcome = outcome
	res.Report = report
	res.Controls = columns
	log.Info("allocation finished", "rows", out.Len(), "outcome", outcome.Kind.String(), "fallbackTracts", len(report.Fallback))
	return res, nil
}
