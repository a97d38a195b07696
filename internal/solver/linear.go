package solver

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize/convex/lp"
)

const defaultLinearTolerance = 1e-10

// LinearProgram is
//
//	minimize   Objectiveᵀ·x
//	subject to Constraints·x = RHS, 0 ≤ x ≤ Upper
//
// A nil Upper, or an infinite entry, leaves the variable unbounded above.
type LinearProgram struct {
	Objective   []float64
	Constraints *Coefficients
	RHS         []float64
	Upper       []float64
}

// LinearSolver solves linear programs.
type LinearSolver interface {
	SolveLinear(ctx context.Context, p *LinearProgram) ([]float64, error)
}

// Validate checks dimensions and that every coefficient is finite.
func (p *LinearProgram) Validate() error {
	if p.Constraints == nil {
		return failf(ErrInvalidProgram, "no constraint matrix")
	}
	rows, cols := p.Constraints.Dims()
	if len(p.Objective) != cols {
		return failf(ErrInvalidProgram, "%d variables but %d objective coefficients", cols, len(p.Objective))
	}
	if len(p.RHS) != rows {
		return failf(ErrInvalidProgram, "%d constraints but %d right-hand sides", rows, len(p.RHS))
	}
	if p.Upper != nil && len(p.Upper) != cols {
		return failf(ErrInvalidProgram, "%d variables but %d upper bounds", cols, len(p.Upper))
	}
	for j, c := range p.Objective {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return failf(ErrInvalidProgram, "variable %d: objective coefficient %v is not finite", j, c)
		}
	}
	for r, b := range p.RHS {
		if math.IsNaN(b) || math.IsInf(b, 0) {
			return failf(ErrInvalidProgram, "constraint %d: right-hand side %v is not finite", r, b)
		}
	}
	for j, u := range p.Upper {
		if math.IsNaN(u) || math.IsInf(u, -1) {
			return failf(ErrInvalidProgram, "variable %d: upper bound %v", j, u)
		}
	}
	return nil
}

func (p *LinearProgram) upper(j int) float64 {
	if p.Upper == nil {
		return math.Inf(1)
	}
	return p.Upper[j]
}

// Simplex solves linear programs with gonum's simplex method. Upper bounds
// become slack rows x_j + t_j = u_j, and the initial basis is taken from
// singleton columns when they cover every row, skipping phase I.
//
// gonum's simplex cannot be interrupted, so when Timeout or ctx expires the
// solve is abandoned and finishes in the background. Abandoned counts those
// solves until they return.
type Simplex struct {
	Tolerance float64
	Timeout   time.Duration

	abandoned atomic.Int64
	// run is sf.solve; tests replace it.
	run func(sf *standardForm, tol float64) ([]float64, error)
}

// Abandoned returns the number of timed out solves still running.
func (s *Simplex) Abandoned() int64 {
	return s.abandoned.Load()
}

// NewSimplex returns a Simplex solver with default settings.
func NewSimplex() *Simplex {
	return &Simplex{Tolerance: defaultLinearTolerance}
}

// SolveLinear returns the optimal x, or a *Failure.
func (s *Simplex) SolveLinear(ctx context.Context, p *LinearProgram) ([]float64, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if err := contextFailure(ctx); err != nil {
		return nil, err
	}
	sf, err := standardize(p)
	if err != nil {
		return nil, err
	}
	x := make([]float64, len(p.Objective))
	for j, v := range sf.fixed {
		x[j] = v
	}
	if len(sf.rhs) == 0 {
		return x, nil
	}

	tol := positiveOr(s.Tolerance, defaultLinearTolerance)
	type answer struct {
		x   []float64
		err error
	}
	run := s.run
	if run == nil {
		run = (*standardForm).solve
	}
	// state moves from running to either finished or abandoned, once.
	const (
		stateRunning int32 = iota
		stateFinished
		stateAbandoned
	)
	var state atomic.Int32
	done := make(chan answer, 1)
	go func() {
		optX, err := run(sf, tol)
		if !state.CompareAndSwap(stateRunning, stateFinished) {
			s.abandoned.Add(-1)
			return
		}
		done <- answer{optX, err}
	}()
	abandon := func() {
		s.abandoned.Add(1)
		if !state.CompareAndSwap(stateRunning, stateAbandoned) {
			s.abandoned.Add(-1)
		}
	}

	var timeout <-chan time.Time
	if s.Timeout > 0 {
		timer := time.NewTimer(s.Timeout)
		defer timer.Stop()
		timeout = timer.C
	}
	var ans answer
	select {
	case ans = <-done:
	case <-ctx.Done():
		abandon()
		return nil, fail(ErrTimeout, ctx.Err())
	case <-timeout:
		abandon()
		return nil, failf(ErrTimeout, "no answer after %v", s.Timeout)
	}
	if ans.err != nil {
		return nil, ans.err
	}

	for k, j := range sf.vars {
		v := ans.x[k]
		if v < 0 {
			v = 0
		}
		if u := p.upper(j); v > u {
			v = u
		}
		x[j] = v
	}
	return x, nil
}

// standardForm is a linear program reduced to gonum's min cᵀx, Ax = b, x ≥ 0.
type standardForm struct {
	c     []float64
	a     *mat.Dense
	rhs   []float64
	vars  []int           // original index of each leading column
	fixed map[int]float64 // variables decided without the simplex
	basis []int           // nil when phase I is needed
}

func standardize(p *LinearProgram) (_ *standardForm, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = failf(ErrInvalidProgram, "standard form: %v", r)
		}
	}()
	rows, cols := p.Constraints.Dims()
	sf := &standardForm{fixed: make(map[int]float64)}

	// Variables that appear in no constraint sit at whichever bound the
	// objective prefers.
	for j := 0; j < cols; j++ {
		u := p.upper(j)
		if u < 0 {
			return nil, failf(ErrInfeasible, "variable %d has negative upper bound %v", j, u)
		}
		if len(p.Constraints.Column(j)) > 0 && u > 0 {
			sf.vars = append(sf.vars, j)
			continue
		}
		switch c := p.Objective[j]; {
		case u == 0 || c >= 0:
			sf.fixed[j] = 0
		case math.IsInf(u, 1):
			return nil, failf(ErrUnbounded, "variable %d is unconstrained with objective %v", j, c)
		default:
			sf.fixed[j] = u
		}
	}

	used := make([]bool, rows)
	for _, j := range sf.vars {
		for _, e := range p.Constraints.Column(j) {
			used[e.Row] = true
		}
	}
	rowIndex := make([]int, rows)
	var rhs []float64
	for r := 0; r < rows; r++ {
		rowIndex[r] = -1
		if used[r] {
			rowIndex[r] = len(rhs)
			rhs = append(rhs, p.RHS[r])
			continue
		}
		// Only fixed variables touch this row.
		lhs := 0.0
		for j, v := range sf.fixed {
			lhs += p.Constraints.At(r, j) * v
		}
		if math.Abs(lhs-p.RHS[r]) > defaultAbsTol {
			return nil, failf(ErrInfeasible, "constraint %d has no free variables but right-hand side %v", r, p.RHS[r])
		}
	}
	// Fixed variables at a non-zero bound move to the right-hand side.
	for j, v := range sf.fixed {
		if v == 0 {
			continue
		}
		for _, e := range p.Constraints.Column(j) {
			if i := rowIndex[e.Row]; i >= 0 {
				rhs[i] -= e.Value * v
			}
		}
	}

	var bounded []int
	for k, j := range sf.vars {
		if !math.IsInf(p.upper(j), 1) {
			bounded = append(bounded, k)
		}
	}
	m := len(rhs) + len(bounded)
	n := len(sf.vars) + len(bounded)
	if m == 0 {
		return sf, nil
	}
	if m > n {
		return nil, failf(ErrInvalidProgram, "%d independent constraints on %d variables", m, n)
	}

	a := mat.NewDense(m, n, nil)
	for k, j := range sf.vars {
		for _, e := range p.Constraints.Column(j) {
			if i := rowIndex[e.Row]; i >= 0 {
				a.Set(i, k, e.Value)
			}
		}
	}
	base := len(rhs)
	for i, k := range bounded {
		row := base + i
		a.Set(row, k, 1)
		a.Set(row, len(sf.vars)+i, 1)
		rhs = append(rhs, p.upper(sf.vars[k]))
	}

	sf.c = make([]float64, n)
	for k, j := range sf.vars {
		sf.c[k] = p.Objective[j]
	}
	sf.a = a
	sf.rhs = rhs
	sf.basis = crashBasis(a, rhs)
	return sf, nil
}

// crashBasis picks, for every row, a column whose only non-zero lies in that
// row and whose value keeps the row feasible. It returns nil if some row has
// no such column.
func crashBasis(a *mat.Dense, b []float64) []int {
	m, n := a.Dims()
	basis := make([]int, m)
	for i := range basis {
		basis[i] = -1
	}
	for j := 0; j < n; j++ {
		row, count := -1, 0
		for i := 0; i < m; i++ {
			if a.At(i, j) != 0 {
				row = i
				count++
			}
		}
		if count != 1 || basis[row] >= 0 {
			continue
		}
		if b[row]/a.At(row, j) >= 0 {
			basis[row] = j
		}
	}
	for _, j := range basis {
		if j < 0 {
			return nil
		}
	}
	return basis
}

func (sf *standardForm) solve(tol float64) (x []float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			x, err = nil, failf(ErrInvalidProgram, "simplex: %v", r)
		}
	}()
	_, x, err = lp.Simplex(sf.c, sf.a, sf.rhs, tol, sf.basis)
	if err != nil {
		return nil, simplexFailure(err)
	}
	return x, nil
}

func simplexFailure(err error) error {
	switch {
	case errors.Is(err, lp.ErrInfeasible):
		return fail(ErrInfeasible, err)
	case errors.Is(err, lp.ErrUnbounded):
		return fail(ErrUnbounded, err)
	case errors.Is(err, lp.ErrSingular), errors.Is(err, lp.ErrZeroRow), errors.Is(err, lp.ErrZeroColumn):
		return fail(ErrInvalidProgram, err)
	default:
		return fail(ErrNotConverged, fmt.Errorf("simplex: %w", err))
	}
}
