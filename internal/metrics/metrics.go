// Package metrics collects Prometheus metrics for an allocation run. The
// pipeline is a batch job, so the registry is dumped to a text file in the
// node-exporter textfile format rather than served.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "synthbalance"

// Program labels for ObserveSolve.
const (
	ProgramEntropy = "entropy"
	ProgramLinear  = "linear"
)

// Metrics holds the collectors of one run. A nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	outcomes       *prometheus.CounterVec
	relaxLevels    prometheus.Histogram
	solveDuration  *prometheus.HistogramVec
	solveFailures  *prometheus.CounterVec
	fallbackTracts prometheus.Counter
	zeroTracts     prometheus.Counter
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "balance",
			Name:      "outcomes_total",
			Help:      "Balancing outcomes by kind.",
		}, []string{"kind"}),
		relaxLevels: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "balance",
			Name:      "relaxation_level",
			Help:      "Relaxation steps taken before a usable solution.",
			Buckets:   prometheus.LinearBuckets(0, 1, 12),
		}),
		solveDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "solver",
			Name:      "duration_seconds",
			Help:      "Wall-clock time of a single backend solve.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{"program"}),
		solveFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "solver",
			Name:      "failures_total",
			Help:      "Backend solves that returned an error.",
		}, []string{"program"}),
		fallbackTracts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "discretize",
			Name:      "fallback_tracts_total",
			Help:      "Tracts rounded from residuals after the LP failed.",
		}),
		zeroTracts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "balance",
			Name:      "zero_marginal_tracts_total",
			Help:      "Tracts removed from balancing because every control was zero.",
		}),
	}
	m.registry.MustRegister(m.outcomes, m.relaxLevels, m.solveDuration, m.solveFailures, m.fallbackTracts, m.zeroTracts)
	return m
}

// Registry returns the registry holding the collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Outcome counts a balancing outcome. level is the number of relaxation
// steps; it is observed only for usable outcomes.
func (m *Metrics) Outcome(kind string, level int, usable bool) {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues(kind).Inc()
	if usable {
		m.relaxLevels.Observe(float64(level))
	}
}

// ObserveSolve records one backend call.
func (m *Metrics) ObserveSolve(program string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.solveDuration.WithLabelValues(program).Observe(d.Seconds())
	if err != nil {
		m.solveFailures.WithLabelValues(program).Inc()
	}
}

// DiscretizeFallback counts tracts rounded without the LP.
func (m *Metrics) DiscretizeFallback(tracts int) {
	if m == nil {
		return
	}
	m.fallbackTracts.Add(float64(tracts))
}

// ZeroTracts counts tracts removed because their controls are all zero.
func (m *Metrics) ZeroTracts(tracts int) {
	if m == nil {
		return
	}
	m.zeroTracts.Add(float64(tracts))
}

// WriteTextfile writes every metric to filename.
func (m *Metrics) WriteTextfile(filename string) error {
	if m == nil {
		return nil
	}
	return prometheus.WriteToTextfile(filename, m.registry)
}
