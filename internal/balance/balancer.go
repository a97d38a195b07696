package balance

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/go-logr/logr"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/ricci-colasanti/synthbalance/internal/logging"
	"github.com/ricci-colasanti/synthbalance/internal/metrics"
	"github.com/ricci-colasanti/synthbalance/internal/solver"
)

const (
	DefaultRelaxStep = 10.0
	DefaultMuFloor   = 1.0
)

// Kind tags how a multi-tract balance ended.
type Kind int

const (
	// Solved means the first attempt gave usable weights.
	Solved Kind = iota
	// Relaxed means usable weights were found after lowering mu.
	Relaxed
	// Infeasible means no attempt gave usable weights; the outcome carries
	// the fallback.
	Infeasible
)

func (k Kind) String() string {
	switch k {
	case Solved:
		return "solved"
	case Relaxed:
		return "relaxed"
	case Infeasible:
		return "infeasible"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// FallbackPolicy picks the weights of an Infeasible outcome.
type FallbackPolicy int

const (
	// FallbackRelativePrior returns the prior scaled by each tract's share
	// of the controls.
	FallbackRelativePrior FallbackPolicy = iota
	// FallbackZero returns all-zero weights.
	FallbackZero
)

func (f FallbackPolicy) String() string {
	switch f {
	case FallbackRelativePrior:
		return "relative_prior"
	case FallbackZero:
		return "zero"
	default:
		return fmt.Sprintf("FallbackPolicy(%d)", int(f))
	}
}

// ParseFallbackPolicy maps "relative_prior" and "zero" to their policies.
func ParseFallbackPolicy(s string) (FallbackPolicy, error) {
	switch s {
	case "relative_prior", "":
		return FallbackRelativePrior, nil
	case "zero":
		return FallbackZero, nil
	default:
		return 0, fmt.Errorf("unknown fallback policy %q", s)
	}
}

// Outcome is the result of Balancer.Balance.
type Outcome struct {
	Kind Kind
	// Weights is T × n. Tracts with all-zero controls have zero rows.
	Weights *mat.Dense
	// Level is the number of relaxation steps taken.
	Level int
	// Mu is the K × T importance matrix of the last attempt.
	Mu *mat.Dense
}

// Balancer fits many tracts at once and relaxes mu when the backend fails.
type Balancer struct {
	Backend   solver.EntropySolver
	Log       logr.Logger
	Metrics   *metrics.Metrics
	RelaxStep float64
	MuFloor   float64
	Fallback  FallbackPolicy
}

// NewBalancer returns a Balancer with the default relaxation schedule and
// the relative-prior fallback.
func NewBalancer(backend solver.EntropySolver, log logr.Logger) *Balancer {
	return &Balancer{
		Backend:   backend,
		Log:       log,
		RelaxStep: DefaultRelaxStep,
		MuFloor:   DefaultMuFloor,
		Fallback:  FallbackRelativePrior,
	}
}

// Balance solves
//
//	maximize   Σ entr(x) + x·log(e·w_rel) + Σ mu⊙(entr(z) + z) + Σ meta_mu·(entr(q) + q)
//	subject to x·H = A⊙zᵀ
//	           Σ_t A[t,k]·z[k,t] = B[k]·q[k]
//	           x, z, q ≥ 0
//
// where w_rel scales each tract's prior by its share of the controls. Tracts
// whose controls are all zero are left out and get zero weights. The only
// error is a *ShapeError for a malformed problem.
func (b *Balancer) Balance(ctx context.Context, p MultiProblem) (Outcome, error) {
	if err := p.checkShape(); err != nil {
		return Outcome{}, err
	}
	t, _ := p.A.Dims()
	n, _ := p.H.Dims()

	kept := nonZeroRows(p.A)
	if removed := t - len(kept); removed > 0 {
		b.Log.Info("tracts with zero marginals encountered, setting weights to zero", "removed", removed, "tracts", t)
		b.Metrics.ZeroTracts(removed)
	}
	if len(kept) == 0 {
		out := Outcome{Kind: Solved, Weights: mat.NewDense(t, n, nil), Mu: mat.DenseCopyOf(p.Mu)}
		b.record(out)
		return out, nil
	}

	sub := p.subset(kept)
	wRel := relativePrior(sub.A, sub.W)
	state := newRelaxState(sub.Mu, b.relaxStep(), b.muFloor())

	var weights *mat.Dense
	for weights == nil {
		x, err := b.attempt(ctx, sub, wRel, state.mu)
		if err == nil && !usable(x) {
			// All zero weights go straight to the fallback.
			b.Log.V(logging.DEBUG).Info("balancing attempt returned all zero weights", "level", state.level)
			state.giveUp()
			break
		}
		if err == nil {
			weights = x
			break
		}
		b.Log.V(logging.DEBUG).Info("balancing attempt failed", "level", state.level, "reason", err.Error())
		if !state.fail() {
			break
		}
		b.Log.Info("solver error encountered, importance weights have been relaxed", "level", state.level)
	}

	out := Outcome{Kind: state.kind(), Level: state.level, Mu: p.muWith(kept, state.mu)}
	if weights == nil {
		err := errors.New("no usable solution")
		b.Log.Error(err, "solution infeasible, using fallback weights", "fallback", b.Fallback.String(), "level", state.level)
		weights = b.fallback(wRel)
	}
	out.Weights = reinsert(weights, kept, t)
	b.record(out)
	return out, nil
}

func (b *Balancer) relaxStep() float64 {
	if b.RelaxStep > 0 {
		return b.RelaxStep
	}
	return DefaultRelaxStep
}

func (b *Balancer) muFloor() float64 {
	if b.MuFloor > 0 {
		return b.MuFloor
	}
	return DefaultMuFloor
}

func (b *Balancer) record(out Outcome) {
	b.Metrics.Outcome(out.Kind.String(), out.Level, out.Kind != Infeasible)
}

func (b *Balancer) fallback(wRel *mat.Dense) *mat.Dense {
	if b.Fallback == FallbackZero {
		r, c := wRel.Dims()
		return mat.NewDense(r, c, nil)
	}
	return mat.DenseCopyOf(wRel)
}

// attempt runs one solve of the multi-tract program with the given mu.
func (b *Balancer) attempt(ctx context.Context, p MultiProblem, wRel, mu *mat.Dense) (*mat.Dense, error) {
	prog := multiProgram(p, wRel, mu)
	start := time.Now()
	v, err := b.Backend.SolveEntropy(ctx, prog)
	b.Metrics.ObserveSolve(metrics.ProgramEntropy, time.Since(start), err)
	if err != nil {
		return nil, err
	}
	t, n := wRel.Dims()
	return mat.NewDense(t, n, v[:t*n:t*n]), nil
}

// multiProgram lays out x (T×n, row-major), then z (K×T, row-major), then q.
// Constraint row t·K+k is tract t's control k; row T·K+k is meta-marginal k.
func multiProgram(p MultiProblem, wRel, mu *mat.Dense) *solver.EntropyProgram {
	n, k := p.H.Dims()
	t, _ := p.A.Dims()
	xOff, zOff, qOff := 0, t*n, t*n+k*t
	vars := qOff + k
	rows := t*k + k

	prog := &solver.EntropyProgram{
		Scale:       make([]float64, vars),
		Linear:      make([]float64, vars),
		Constraints: solver.NewCoefficients(rows, vars),
		RHS:         make([]float64, rows),
	}
	for tr := 0; tr < t; tr++ {
		for i := 0; i < n; i++ {
			j := xOff + tr*n + i
			prog.Scale[j] = 1
			prog.Linear[j] = 1 + math.Log(wRel.At(tr, i))
			for c := 0; c < k; c++ {
				prog.Constraints.Add(tr*k+c, j, p.H.At(i, c))
			}
		}
	}
	for c := 0; c < k; c++ {
		for tr := 0; tr < t; tr++ {
			j := zOff + c*t + tr
			a := p.A.At(tr, c)
			prog.Scale[j] = mu.At(c, tr)
			prog.Linear[j] = 1
			prog.Constraints.Add(tr*k+c, j, -a)
			prog.Constraints.Add(t*k+c, j, a)
		}
		j := qOff + c
		prog.Scale[j] = p.MetaMu
		prog.Linear[j] = 1
		prog.Constraints.Add(t*k+c, j, -p.B[c])
	}
	return prog
}

// relativePrior returns W with each tract row scaled by that tract's share
// of the sum of A.
func relativePrior(a, w *mat.Dense) *mat.Dense {
	t, _ := a.Dims()
	totals := make([]float64, t)
	for tr := range totals {
		totals[tr] = floats.Sum(a.RawRowView(tr))
	}
	sum := floats.Sum(totals)
	out := mat.DenseCopyOf(w)
	for tr, total := range totals {
		floats.Scale(total/sum, out.RawRowView(tr))
	}
	return out
}

func nonZeroRows(a *mat.Dense) []int {
	t, _ := a.Dims()
	var rows []int
	for tr := 0; tr < t; tr++ {
		for _, v := range a.RawRowView(tr) {
			if v != 0 {
				rows = append(rows, tr)
				break
			}
		}
	}
	return rows
}

// usable reports whether x holds at least one positive weight.
func usable(x *mat.Dense) bool {
	r, _ := x.Dims()
	for i := 0; i < r; i++ {
		if floats.Max(x.RawRowView(i)) > 0 {
			return true
		}
	}
	return false
}

// subset keeps the given tracts.
func (p MultiProblem) subset(tracts []int) MultiProblem {
	n, k := p.H.Dims()
	a := mat.NewDense(len(tracts), k, nil)
	w := mat.NewDense(len(tracts), n, nil)
	mu := mat.NewDense(k, len(tracts), nil)
	for i, tr := range tracts {
		a.SetRow(i, p.A.RawRowView(tr))
		w.SetRow(i, p.W.RawRowView(tr))
		for c := 0; c < k; c++ {
			mu.Set(c, i, p.Mu.At(c, tr))
		}
	}
	return MultiProblem{H: p.H, A: a, B: p.B, W: w, Mu: mu, MetaMu: p.MetaMu}
}

// muWith returns the full K × T mu with the kept tracts' columns replaced.
func (p MultiProblem) muWith(tracts []int, mu *mat.Dense) *mat.Dense {
	out := mat.DenseCopyOf(p.Mu)
	k, _ := out.Dims()
	for i, tr := range tracts {
		for c := 0; c < k; c++ {
			out.Set(c, tr, mu.At(c, i))
		}
	}
	return out
}

// reinsert expands x back to t rows, leaving the removed tracts at zero.
func reinsert(x *mat.Dense, tracts []int, t int) *mat.Dense {
	_, n := x.Dims()
	out := mat.NewDense(t, n, nil)
	for i, tr := range tracts {
		out.SetRow(tr, x.RawRowView(i))
	}
	return out
}
