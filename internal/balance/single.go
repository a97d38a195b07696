package balance

import (
	"context"
	"math"
	"time"

	"github.com/go-logr/logr"

	"github.com/ricci-colasanti/synthbalance/internal/logging"
	"github.com/ricci-colasanti/synthbalance/internal/solver"
)

// BalanceSingle fits the weights of one unit. Without Mu it solves
//
//	maximize   Σ entr(x) + x·log w
//	subject to xᵀH = A, x ≥ 0
//
// and with Mu it replaces the equality by xᵀH = A⊙z, adding Σ mu·entr(z) to
// the objective. Solver failures are returned as *solver.Failure; there is no
// relaxation loop in single mode.
func BalanceSingle(ctx context.Context, backend solver.EntropySolver, log logr.Logger, p SingleProblem) (SingleResult, error) {
	if err := p.checkShape(); err != nil {
		return SingleResult{}, err
	}
	n, k := p.H.Dims()
	relaxed := p.Mu != nil

	vars := n
	if relaxed {
		vars += k
	}
	prog := &solver.EntropyProgram{
		Scale:       make([]float64, vars),
		Linear:      make([]float64, vars),
		Constraints: solver.NewCoefficients(k, vars),
		RHS:         make([]float64, k),
	}
	for i := 0; i < n; i++ {
		prog.Scale[i] = 1
		prog.Linear[i] = math.Log(p.W[i])
		for j := 0; j < k; j++ {
			prog.Constraints.Add(j, i, p.H.At(i, j))
		}
	}
	if relaxed {
		for j := 0; j < k; j++ {
			prog.Scale[n+j] = p.Mu[j]
			prog.Constraints.Add(j, n+j, -p.A[j])
		}
	} else {
		copy(prog.RHS, p.A)
	}

	log.V(logging.DEBUG).Info("balancing single unit", "households", n, "controls", k, "relaxed", relaxed)
	start := time.Now()
	v, err := backend.SolveEntropy(ctx, prog)
	if err != nil {
		return SingleResult{}, err
	}
	log.V(logging.TRACE).Info("single unit solved", "duration", time.Since(start))

	res := SingleResult{Weights: v[:n:n]}
	if relaxed {
		res.Z = v[n:]
	}
	return res, nil
}
