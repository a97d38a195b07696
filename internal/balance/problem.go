package balance

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// SingleProblem balances one unit. H is n households × K controls, A the K
// control totals and W the n prior weights. With a nil Mu the controls are
// met exactly; otherwise Mu holds the K importance weights of the relaxation
// factors.
type SingleProblem struct {
	H  *mat.Dense
	A  []float64
	W  []float64
	Mu []float64
}

// SingleResult holds the balanced weights and, for a relaxed problem, the
// relaxation factor of every control.
type SingleResult struct {
	Weights []float64
	Z       []float64
}

// MultiProblem balances T tracts at once.
type MultiProblem struct {
	// H is the n × K household indicator matrix shared by every tract.
	H *mat.Dense
	// A is T × K, one row of controls per tract.
	A *mat.Dense
	// B holds the K meta-marginals, usually the column sums of A.
	B []float64
	// W is T × n, the prior weights of every household in every tract.
	W *mat.Dense
	// Mu is K × T, the importance of each control in each tract.
	Mu *mat.Dense
	// MetaMu is the importance of the meta-marginals.
	MetaMu float64
}

// ShapeError reports an operand whose dimensions do not match the rest of a
// problem.
type ShapeError struct {
	Operand    string
	Rows, Cols int
	WantRows   int
	WantCols   int
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("balance: %s is %d×%d, want %d×%d", e.Operand, e.Rows, e.Cols, e.WantRows, e.WantCols)
}

func checkMatrix(name string, m *mat.Dense, rows, cols int) error {
	if m == nil {
		return &ShapeError{Operand: name, WantRows: rows, WantCols: cols}
	}
	r, c := m.Dims()
	if r != rows || c != cols {
		return &ShapeError{Operand: name, Rows: r, Cols: c, WantRows: rows, WantCols: cols}
	}
	return nil
}

func checkVector(name string, v []float64, n int) error {
	if len(v) != n {
		return &ShapeError{Operand: name, Rows: 1, Cols: len(v), WantRows: 1, WantCols: n}
	}
	return nil
}

func (p SingleProblem) checkShape() error {
	if p.H == nil {
		return &ShapeError{Operand: "H"}
	}
	n, k := p.H.Dims()
	if err := checkVector("A", p.A, k); err != nil {
		return err
	}
	if err := checkVector("W", p.W, n); err != nil {
		return err
	}
	if p.Mu != nil {
		return checkVector("Mu", p.Mu, k)
	}
	return nil
}

func (p MultiProblem) checkShape() error {
	if p.H == nil {
		return &ShapeError{Operand: "H"}
	}
	if p.A == nil {
		return &ShapeError{Operand: "A"}
	}
	n, k := p.H.Dims()
	t, _ := p.A.Dims()
	if err := checkMatrix("A", p.A, t, k); err != nil {
		return err
	}
	if err := checkVector("B", p.B, k); err != nil {
		return err
	}
	if err := checkMatrix("W", p.W, t, n); err != nil {
		return err
	}
	return checkMatrix("Mu", p.Mu, k, t)
}
