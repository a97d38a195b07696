// Package discretize turns fractional household weights into integer counts.
//
// Each tract keeps the integer part of its weights and rounds the fractional
// residuals r up or down by solving
//
//	maximize   Σ y·log r - γ·Σ U - γ·Σ V
//	subject to y·H ≤ r·H + U
//	           y·H ≥ r·H - V
//	           0 ≤ y ≤ 1, U, V ≥ 0
//
// and thresholding y at one half, so the rounded households keep the control
// totals of the residuals as closely as the γ penalty allows.
package discretize

import (
	"context"
	"errors"
	"math"
	"runtime"
	"time"

	"github.com/go-logr/logr"
	"gonum.org/v1/gonum/mat"

	"github.com/ricci-colasanti/synthbalance/internal/logging"
	"github.com/ricci-colasanti/synthbalance/internal/metrics"
	"github.com/ricci-colasanti/synthbalance/internal/solver"
)

const (
	DefaultGamma = 100.0

	// residualFloor is the smallest residual with a defined log.
	residualFloor = 1e-12
)

// Discretizer rounds balanced weights tract by tract.
type Discretizer struct {
	Backend solver.LinearSolver
	Log     logr.Logger
	Metrics *metrics.Metrics
	// Gamma penalizes deviation from the residual control totals.
	Gamma float64
	// Workers bounds the tracts solved concurrently. Zero means
	// runtime.NumCPU().
	Workers int
}

// NewDiscretizer returns a Discretizer with the default penalty.
func NewDiscretizer(backend solver.LinearSolver, log logr.Logger) *Discretizer {
	return &Discretizer{Backend: backend, Log: log, Gamma: DefaultGamma}
}

// Report lists the tracts that did not go through the LP.
type Report struct {
	Tracts int `yaml:"tracts"`
	// Skipped tracts have all-zero weights.
	Skipped []int `yaml:"skipped,omitempty"`
	// Fallback tracts were rounded from their residuals after the LP failed.
	Fallback []int `yaml:"fallback,omitempty"`
}

// Discretize returns the T × n matrix of 0/1 round-ups for the T × n weights
// X of households described by the n × K indicator matrix H. It panics with
// mat.ErrShape if X and H do not agree on n.
func (d *Discretizer) Discretize(ctx context.Context, h, x *mat.Dense) (*mat.Dense, Report) {
	t, n := x.Dims()
	if hn, _ := h.Dims(); hn != n {
		panic(mat.ErrShape)
	}
	out := mat.NewDense(t, n, nil)
	report := Report{Tracts: t}

	start := time.Now()
	results := d.run(ctx, h, x)
	for _, res := range results {
		switch res.status {
		case statusSkipped:
			report.Skipped = append(report.Skipped, res.tract)
		case statusFallback:
			report.Fallback = append(report.Fallback, res.tract)
		}
		if res.round != nil {
			out.SetRow(res.tract, res.round)
		}
	}
	d.Metrics.DiscretizeFallback(len(report.Fallback))
	d.Log.V(logging.DEBUG).Info("discretized weights", "tracts", t, "skipped", len(report.Skipped),
		"fallback", len(report.Fallback), "duration", time.Since(start))
	return out, report
}

type status int

const (
	statusSolved status = iota
	statusSkipped
	statusFallback
)

type tractResult struct {
	tract  int
	round  []float64
	status status
}

// tract rounds one row of weights.
func (d *Discretizer) tract(ctx context.Context, h *mat.Dense, tr int, weights []float64) tractResult {
	res := tractResult{tract: tr}
	if allZero(weights) {
		res.status = statusSkipped
		return res
	}

	r := residuals(weights)
	var active []int
	for i, v := range r {
		if v >= residualFloor {
			active = append(active, i)
		}
	}
	res.round = make([]float64, len(r))
	if len(active) == 0 {
		return res
	}

	prog := d.program(h, r, active)
	solveStart := time.Now()
	y, err := d.Backend.SolveLinear(ctx, prog)
	d.Metrics.ObserveSolve(metrics.ProgramLinear, time.Since(solveStart), err)
	if err != nil {
		d.Log.Info("discretization LP failed, rounding residuals", "tract", tr, "reason", err.Error())
		if errors.Is(err, solver.ErrTimeout) {
			if a, ok := d.Backend.(interface{ Abandoned() int64 }); ok {
				d.Log.Info("abandoned LP solves still running", "tract", tr, "running", a.Abandoned())
			}
		}
		res.status = statusFallback
		for i, v := range r {
			res.round[i] = binarize(v)
		}
		return res
	}
	for k, i := range active {
		res.round[i] = binarize(y[k])
	}
	return res
}

// program lays out y for the active households, then U and V per control.
// Row k reads y·H_k - U_k + V_k = r·H_k.
func (d *Discretizer) program(h *mat.Dense, r []float64, active []int) *solver.LinearProgram {
	_, k := h.Dims()
	na := len(active)
	gamma := d.Gamma
	if gamma <= 0 {
		gamma = DefaultGamma
	}

	vars := na + 2*k
	prog := &solver.LinearProgram{
		Objective:   make([]float64, vars),
		Constraints: solver.NewCoefficients(k, vars),
		RHS:         make([]float64, k),
		Upper:       make([]float64, vars),
	}
	for c := 0; c < k; c++ {
		for i, v := range r {
			prog.RHS[c] += v * h.At(i, c)
		}
	}
	for j, i := range active {
		prog.Objective[j] = -math.Log(r[i])
		prog.Upper[j] = 1
		for c := 0; c < k; c++ {
			prog.Constraints.Add(c, j, h.At(i, c))
		}
	}
	for c := 0; c < k; c++ {
		u, v := na+c, na+k+c
		prog.Objective[u] = gamma
		prog.Objective[v] = gamma
		prog.Upper[u] = math.Inf(1)
		prog.Upper[v] = math.Inf(1)
		prog.Constraints.Add(c, u, -1)
		prog.Constraints.Add(c, v, 1)
	}
	return prog
}

// Counts returns floor(X) + D.
func Counts(x, d *mat.Dense) [][]int {
	t, n := x.Dims()
	counts := make([][]int, t)
	for i := range counts {
		counts[i] = make([]int, n)
		for j := range counts[i] {
			counts[i][j] = int(math.Floor(x.At(i, j))) + int(d.At(i, j))
		}
	}
	return counts
}

func residuals(weights []float64) []float64 {
	r := make([]float64, len(weights))
	for i, w := range weights {
		r[i] = w - math.Floor(w)
	}
	return r
}

func binarize(v float64) float64 {
	if v > 0.5 {
		return 1
	}
	return 0
}

func allZero(v []float64) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}

func (d *Discretizer) workers(tracts int) int {
	n := d.Workers
	if n <= 0 {
		n = runtime.NumCPU()
	}
	if tracts < n {
		n = tracts
	}
	if n < 1 {
		n = 1
	}
	return n
}
