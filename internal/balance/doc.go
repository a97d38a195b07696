// Package balance implements maximum-entropy list balancing.
//
// Given a list of sample households with prior weights and a set of control
// totals, the balancer finds the weights closest (in relative entropy) to the
// prior that reproduce the controls. BalanceSingle fits one geographic unit,
// exactly or with relaxation factors z on every control. Balancer.Balance
// fits many tracts at once, with per-tract relaxation factors weighted by mu
// and meta-marginal factors q tying the tracts to their summed controls.
//
// When the backend fails, Balancer lowers mu and retries. When even the
// floor fails, the outcome is Infeasible and carries fallback weights.
// Callers never see solver errors from Balance; they read Outcome.Kind.
package balance
