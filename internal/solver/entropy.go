package solver

import (
	"context"
	"math"
)

// EntropyProgram is
//
//	maximize   Σ_j Scale_j·(entr(v_j) + Linear_j·v_j)
//	subject to Constraints·v = RHS, v ≥ 0
//
// Every Scale_j must be positive and every Linear_j finite. The optimum of a
// lone term is v_j = exp(Linear_j - 1); the constraints pull it away from
// there.
type EntropyProgram struct {
	Scale       []float64
	Linear      []float64
	Constraints *Coefficients
	RHS         []float64
}

// EntropySolver solves entropy programs.
type EntropySolver interface {
	SolveEntropy(ctx context.Context, p *EntropyProgram) ([]float64, error)
}

// Validate checks dimensions and that every coefficient is finite. A
// non-finite linear coefficient, typically log(0) of a zero prior weight, has
// no optimum and fails with ErrInvalidProgram.
func (p *EntropyProgram) Validate() error {
	if p.Constraints == nil {
		return failf(ErrInvalidProgram, "no constraint matrix")
	}
	rows, cols := p.Constraints.Dims()
	if len(p.Scale) != cols || len(p.Linear) != cols {
		return failf(ErrInvalidProgram, "%d variables but %d scales and %d linear terms", cols, len(p.Scale), len(p.Linear))
	}
	if len(p.RHS) != rows {
		return failf(ErrInvalidProgram, "%d constraints but %d right-hand sides", rows, len(p.RHS))
	}
	for j := 0; j < cols; j++ {
		if !(p.Scale[j] > 0) || math.IsInf(p.Scale[j], 0) {
			return failf(ErrInvalidProgram, "variable %d: scale %v is not positive and finite", j, p.Scale[j])
		}
		if math.IsNaN(p.Linear[j]) || math.IsInf(p.Linear[j], 0) {
			return failf(ErrInvalidProgram, "variable %d: linear coefficient %v is not finite", j, p.Linear[j])
		}
		for _, e := range p.Constraints.Column(j) {
			if math.IsNaN(e.Value) || math.IsInf(e.Value, 0) {
				return failf(ErrInvalidProgram, "variable %d row %d: coefficient %v is not finite", j, e.Row, e.Value)
			}
		}
	}
	for r, d := range p.RHS {
		if math.IsNaN(d) || math.IsInf(d, 0) {
			return failf(ErrInvalidProgram, "constraint %d: right-hand side %v is not finite", r, d)
		}
	}
	return nil
}

// presolved is an entropy program after forcing rows have been removed.
type presolved struct {
	free   []bool // variables still optimized; the rest are fixed at zero
	active []int  // constraint rows kept in the dual
}

// presolve removes rows that pin variables to zero. A row with a zero
// right-hand side whose remaining coefficients all share one sign can only be
// met with every one of those variables at zero. In the dual such a row has no
// finite multiplier, so the variables are fixed and the row dropped, repeating
// until nothing changes. Rows left without free variables must have a zero
// right-hand side; rows whose sign pattern cannot reach their right-hand side
// make the program infeasible.
func presolve(p *EntropyProgram, absTol float64) (presolved, error) {
	rows, cols := p.Constraints.Dims()
	byRow := p.Constraints.rowEntries()

	free := make([]bool, cols)
	for j := range free {
		free[j] = true
	}
	open := make([]bool, rows)
	for r := range open {
		open[r] = true
	}

	for changed := true; changed; {
		changed = false
		for r := 0; r < rows; r++ {
			if !open[r] {
				continue
			}
			pos, neg := 0, 0
			for _, e := range byRow[r] {
				if !free[e.col] || e.value == 0 {
					continue
				}
				if e.value > 0 {
					pos++
				} else {
					neg++
				}
			}
			d := p.RHS[r]
			switch {
			case pos+neg == 0:
				if math.Abs(d) > absTol {
					return presolved{}, failf(ErrInfeasible, "constraint %d has no free variables but right-hand side %v", r, d)
				}
				open[r] = false
				changed = true
			case d > absTol && pos == 0, d < -absTol && neg == 0:
				return presolved{}, failf(ErrInfeasible, "constraint %d cannot reach right-hand side %v", r, d)
			case math.Abs(d) <= absTol && (pos == 0 || neg == 0):
				for _, e := range byRow[r] {
					if e.value != 0 {
						free[e.col] = false
					}
				}
				open[r] = false
				changed = true
			}
		}
	}

	var active []int
	for r := 0; r < rows; r++ {
		if open[r] {
			active = append(active, r)
		}
	}
	return presolved{free: free, active: active}, nil
}
