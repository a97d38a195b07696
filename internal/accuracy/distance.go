package accuracy

import (
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// epsilon keeps the logarithm and divisions of the distance metrics finite.
const epsilon = 1e-10

// Metric selects a distance between a tract's marginal and allocated shares.
type Metric int

// Distance metrics, selectable by name through ParseMetric.
const (
	KL_DIVERGENCE  Metric = iota // Kullback-Leibler divergence
	CHI_SQUARED                  // Chi-squared distance
	EUCLIDEAN                    // Standard Euclidean distance
	NORM_EUCLIDEAN               // Normalized Euclidean distance
	MANHATTAN                    // Manhattan distance
)

var metricNames = []string{"KL_DIVERGENCE", "CHI_SQUARED", "EUCLIDEAN", "NORM_EUCLIDEAN", "MANHATTAN"}

func (m Metric) String() string {
	if m < 0 || int(m) >= len(metricNames) {
		return fmt.Sprintf("Metric(%d)", int(m))
	}
	return metricNames[m]
}

// ParseMetric maps a metric name, in any case, to its Metric. The empty name
// selects KL_DIVERGENCE.
func ParseMetric(name string) (Metric, error) {
	name = strings.ToUpper(strings.TrimSpace(name))
	if name == "" {
		return KL_DIVERGENCE, nil
	}
	for i, n := range metricNames {
		if n == name {
			return Metric(i), nil
		}
	}
	return 0, fmt.Errorf("unknown distance metric %q, want one of %s", name, strings.Join(metricNames, ", "))
}

// Distance calculates the distance between two distributions using the specified metric
//
// Parameters:
//   - metric: The distance metric to use (KL_DIVERGENCE, CHI_SQUARED, etc.)
//   - target: The target distribution values
//   - actual: The generated distribution values to compare
//
// Returns:
//   - The calculated distance between the distributions
func Distance(metric Metric, target, actual []float64) float64 {
	switch metric {
	case CHI_SQUARED:
		return ChiSquaredDistance(target, actual)
	case EUCLIDEAN:
		return EuclideanDistance(target, actual)
	case NORM_EUCLIDEAN:
		return NormalizedEuclideanDistance(target, actual)
	case MANHATTAN:
		return ManhattanDistance(target, actual)
	default:
		return KLDivergence(target, actual)
	}
}

// KLDivergence returns D(P||Q) for a target P and an approximation Q.
func KLDivergence(target, actual []float64) float64 {
	return stat.KullbackLeibler(shifted(target), shifted(actual))
}

// ChiSquaredDistance treats target as the expected and actual as the observed
// values.
func ChiSquaredDistance(target, actual []float64) float64 {
	return stat.ChiSquare(shifted(actual), shifted(target))
}

// EuclideanDistance is the L2 norm of the difference.
func EuclideanDistance(target, actual []float64) float64 {
	return floats.Distance(actual, target, 2)
}

// NormalizedEuclideanDistance scales each difference by its target value.
// A nonzero value where the target is zero is penalised heavily.
func NormalizedEuclideanDistance(target, actual []float64) float64 {
	scaled := make([]float64, len(target))
	for i, norm := range target {
		switch {
		case math.Abs(norm) >= epsilon:
			scaled[i] = (actual[i] - norm) / norm
		case math.Abs(actual[i]) > epsilon:
			scaled[i] = math.Sqrt(1000) * actual[i]
		}
	}
	return floats.Norm(scaled, 2)
}

// ManhattanDistance is the L1 norm of the difference.
func ManhattanDistance(target, actual []float64) float64 {
	return floats.Distance(actual, target, 1)
}

// shifted returns a copy of v with epsilon added to every entry.
func shifted(v []float64) []float64 {
	out := append([]float64(nil), v...)
	floats.AddConst(epsilon, out)
	return out
}
