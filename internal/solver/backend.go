package solver

import (
	"context"
	"time"
)

// Backend solves both program shapes.
type Backend interface {
	EntropySolver
	LinearSolver
}

// Solvers pairs an entropy solver with a linear solver.
type Solvers struct {
	Entropy EntropySolver
	Linear  LinearSolver
}

func (s Solvers) SolveEntropy(ctx context.Context, p *EntropyProgram) ([]float64, error) {
	return s.Entropy.SolveEntropy(ctx, p)
}

func (s Solvers) SolveLinear(ctx context.Context, p *LinearProgram) ([]float64, error) {
	return s.Linear.SolveLinear(ctx, p)
}

// Abandoned returns the linear solves still running after a timeout, or 0
// when the linear solver does not track them.
func (s Solvers) Abandoned() int64 {
	if a, ok := s.Linear.(interface{ Abandoned() int64 }); ok {
		return a.Abandoned()
	}
	return 0
}

// NewBackend returns the default Newton and Simplex pair, each limited to
// timeout per solve. A zero timeout means no limit.
func NewBackend(timeout time.Duration) Solvers {
	n := NewNewton()
	n.Timeout = timeout
	s := NewSimplex()
	s.Timeout = timeout
	return Solvers{Entropy: n, Linear: s}
}
