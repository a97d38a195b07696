// Package solver is the optimization backend of the balancer and the
// discretizer.
//
// It solves the two program shapes the allocation pipeline formulates:
//
//   - Entropy programs: maximize Σ m_j·(entr(v_j) + β_j·v_j) subject to
//     E·v = d and v ≥ 0, where entr(v) = -v·log(v).
//   - Linear programs: minimize cᵀx subject to A·x = b and 0 ≤ x ≤ u.
//
// Callers depend on the EntropySolver and LinearSolver interfaces. The
// default implementations are Newton, which minimizes the unconstrained dual
// of the entropy program with gonum's Newton method, and Simplex, which wraps
// gonum's simplex LP solver.
//
// Every failure is returned as a *Failure whose reason is one of the
// sentinel errors (ErrInvalidProgram, ErrInfeasible, ErrUnbounded,
// ErrNotConverged, ErrTimeout), so callers branch with errors.Is instead of
// inspecting gonum error values. A timeout is reported exactly like a failure
// to converge.
package solver
