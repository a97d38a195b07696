package solver

import (
	"context"
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"
)

const (
	defaultMaxIterations = 500
	defaultAbsTol        = 1e-6
	defaultRelTol        = 1e-6
	defaultRidge         = 1e-10
)

// Newton solves entropy programs through their dual. For multipliers λ the
// primal optimum is
//
//	v_j(λ) = exp(β_j - 1 - (Eᵀλ)_j / m_j)
//
// and λ minimizes the smooth convex function
//
//	g(λ) = Σ_j m_j·v_j(λ) + λ·d
//
// whose gradient d - E·v(λ) is the constraint residual. g is minimized with
// gonum's Newton method using the exact Hessian Σ_j (v_j/m_j)·e_j·e_jᵀ, plus
// Ridge on the diagonal to keep it positive definite when constraints are
// linearly dependent.
//
// Newton holds only settings and is safe for concurrent use.
type Newton struct {
	// MaxIterations bounds the major Newton iterations.
	MaxIterations int
	// Timeout bounds the wall-clock time of one solve. Zero means no limit.
	Timeout time.Duration
	// A solution is accepted when every constraint residual is within
	// AbsTol + RelTol·(|d_r| + Σ_j |E_rj·v_j|).
	AbsTol float64
	RelTol float64
	Ridge  float64
}

// NewNewton returns a Newton solver with default settings.
func NewNewton() *Newton {
	return &Newton{
		MaxIterations: defaultMaxIterations,
		AbsTol:        defaultAbsTol,
		RelTol:        defaultRelTol,
		Ridge:         defaultRidge,
	}
}

// SolveEntropy returns the optimal v, or a *Failure.
func (n *Newton) SolveEntropy(ctx context.Context, p *EntropyProgram) ([]float64, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if err := contextFailure(ctx); err != nil {
		return nil, err
	}
	absTol, relTol := positiveOr(n.AbsTol, defaultAbsTol), positiveOr(n.RelTol, defaultRelTol)

	pre, err := presolve(p, absTol)
	if err != nil {
		return nil, err
	}
	g := newDual(p, pre, n.Ridge)

	lambda := make([]float64, len(pre.active))
	var minimizeErr error
	if len(lambda) > 0 {
		if n.Timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, n.Timeout)
			defer cancel()
		}
		maxIter := n.MaxIterations
		if maxIter <= 0 {
			maxIter = defaultMaxIterations
		}

		problem := optimize.Problem{
			Func: g.Func,
			Grad: g.Grad,
			Hess: g.Hess,
			Status: func() (optimize.Status, error) {
				if err := ctx.Err(); err != nil {
					return optimize.Failure, err
				}
				return optimize.NotTerminated, nil
			},
		}
		settings := &optimize.Settings{
			GradientThreshold: absTol * 1e-3,
			MajorIterations:   maxIter,
			Runtime:           n.Timeout,
			Converger: &optimize.FunctionConverge{
				Absolute:   1e-12,
				Relative:   1e-14,
				Iterations: 20,
			},
		}

		result, err := optimize.Minimize(problem, lambda, settings, &optimize.Newton{})
		if ctx.Err() != nil {
			return nil, fail(ErrTimeout, ctx.Err())
		}
		if result == nil {
			return nil, fail(ErrNotConverged, err)
		}
		if result.Status == optimize.RuntimeLimit {
			return nil, failf(ErrTimeout, "stopped after %v", result.Runtime)
		}
		// A line search that stalls at machine precision still leaves a usable
		// point; the residual check below decides.
		minimizeErr = err
		lambda = result.X
	}

	v := g.primal(lambda)
	if err := checkResidual(p, v, absTol, relTol); err != nil {
		if minimizeErr != nil {
			return nil, fail(ErrNotConverged, fmt.Errorf("%v (minimizer: %w)", err, minimizeErr))
		}
		return nil, fail(ErrNotConverged, err)
	}
	return v, nil
}

// dual evaluates g(λ) and its derivatives over the active constraint rows.
type dual struct {
	p     *EntropyProgram
	free  []bool
	terms [][]Entry // per variable, entries indexed by position in λ
	rhs   []float64
	ridge float64
}

func newDual(p *EntropyProgram, pre presolved, ridge float64) *dual {
	rows, cols := p.Constraints.Dims()
	pos := make([]int, rows)
	for r := range pos {
		pos[r] = -1
	}
	rhs := make([]float64, len(pre.active))
	for i, r := range pre.active {
		pos[r] = i
		rhs[i] = p.RHS[r]
	}
	terms := make([][]Entry, cols)
	for j := 0; j < cols; j++ {
		if !pre.free[j] {
			continue
		}
		for _, e := range p.Constraints.Column(j) {
			if e.Value != 0 && pos[e.Row] >= 0 {
				terms[j] = append(terms[j], Entry{Row: pos[e.Row], Value: e.Value})
			}
		}
	}
	if ridge < 0 {
		ridge = 0
	}
	return &dual{p: p, free: pre.free, terms: terms, rhs: rhs, ridge: ridge}
}

func (g *dual) primal(lambda []float64) []float64 {
	v := make([]float64, len(g.free))
	for j, free := range g.free {
		if !free {
			continue
		}
		s := 0.0
		for _, e := range g.terms[j] {
			s += e.Value * lambda[e.Row]
		}
		v[j] = math.Exp(g.p.Linear[j] - 1 - s/g.p.Scale[j])
	}
	return v
}

func (g *dual) Func(lambda []float64) float64 {
	v := g.primal(lambda)
	f := 0.0
	for j, vj := range v {
		f += g.p.Scale[j] * vj
	}
	for i, l := range lambda {
		f += l*g.rhs[i] + 0.5*g.ridge*l*l
	}
	return f
}

func (g *dual) Grad(grad, lambda []float64) {
	v := g.primal(lambda)
	for i, l := range lambda {
		grad[i] = g.rhs[i] + g.ridge*l
	}
	for j, vj := range v {
		for _, e := range g.terms[j] {
			grad[e.Row] -= e.Value * vj
		}
	}
}

func (g *dual) Hess(hess *mat.SymDense, lambda []float64) {
	v := g.primal(lambda)
	hess.Zero()
	for j, vj := range v {
		if vj == 0 {
			continue
		}
		w := vj / g.p.Scale[j]
		terms := g.terms[j]
		for a := range terms {
			for b := a; b < len(terms); b++ {
				ra, rb := terms[a].Row, terms[b].Row
				hess.SetSym(ra, rb, hess.At(ra, rb)+w*terms[a].Value*terms[b].Value)
			}
		}
	}
	for i := range lambda {
		hess.SetSym(i, i, hess.At(i, i)+g.ridge)
	}
}

// checkResidual verifies E·v = d row by row, relative to the magnitude of the
// terms in each row.
func checkResidual(p *EntropyProgram, v []float64, absTol, relTol float64) error {
	rows, _ := p.Constraints.Dims()
	residual := make([]float64, rows)
	scale := make([]float64, rows)
	for j, vj := range v {
		if math.IsNaN(vj) || math.IsInf(vj, 0) {
			return fmt.Errorf("variable %d is %v", j, vj)
		}
		for _, e := range p.Constraints.Column(j) {
			residual[e.Row] += e.Value * vj
			scale[e.Row] += math.Abs(e.Value * vj)
		}
	}
	for r := range residual {
		res := math.Abs(residual[r] - p.RHS[r])
		if res > absTol+relTol*(scale[r]+math.Abs(p.RHS[r])) {
			return fmt.Errorf("constraint %d violated by %.6g", r, res)
		}
	}
	return nil
}

func positiveOr(v, def float64) float64 {
	if v > 0 {
		return v
	}
	return def
}
