package balance

import (
	"context"

	"gonum.org/v1/gonum/mat"

	"github.com/ricci-colasanti/synthbalance/internal/solver"
)

// consistentH with consistentA is met exactly by consistentW.
var (
	consistentH = mat.NewDense(4, 5, []float64{
		1, 0, 0, 0, 0,
		0, 1, 0, 0, 0,
		0, 0, 1, 0, 1,
		0, 0, 0, 1, 1,
	})
	consistentA = []float64{81, 101, 151, 429, 580}
	consistentW = []float64{81, 101, 151, 429}

	inconsistentH = mat.NewDense(4, 5, []float64{
		1, 0, 0, 1, 0,
		0, 1, 0, 1, 1,
		0, 0, 1, 2, 1,
		0, 0, 1, 1, 2,
	})
	inconsistentA = []float64{81, 101, 151, 429, 299}
	inconsistentW = []float64{79, 99, 101, 49}
)

// tile stacks row t times.
func tile(row []float64, t int) *mat.Dense {
	m := mat.NewDense(t, len(row), nil)
	for i := 0; i < t; i++ {
		m.SetRow(i, row)
	}
	return m
}

func constant(r, c int, v float64) *mat.Dense {
	m := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			m.Set(i, j, v)
		}
	}
	return m
}

// multiProblem builds a problem with identical tracts and B the column sums.
func multiProblem(h *mat.Dense, a, w []float64, tracts int, mu, metaMu float64) MultiProblem {
	A := tile(a, tracts)
	B := make([]float64, len(a))
	for j, v := range a {
		B[j] = v * float64(tracts)
	}
	return MultiProblem{
		H:      h,
		A:      A,
		B:      B,
		W:      tile(w, tracts),
		Mu:     constant(len(a), tracts, mu),
		MetaMu: metaMu,
	}
}

// flakyBackend fails its first failures calls and then delegates.
type flakyBackend struct {
	failures int
	calls    int
	next     solver.EntropySolver
}

func (f *flakyBackend) SolveEntropy(ctx context.Context, p *solver.EntropyProgram) ([]float64, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, &solver.Failure{Reason: solver.ErrNotConverged}
	}
	return f.next.SolveEntropy(ctx, p)
}

// zeroBackend succeeds with every variable at zero.
type zeroBackend struct {
	calls int
}

func (z *zeroBackend) SolveEntropy(_ context.Context, p *solver.EntropyProgram) ([]float64, error) {
	z.calls++
	return make([]float64, len(p.Scale)), nil
}
