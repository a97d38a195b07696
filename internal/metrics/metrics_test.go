package metrics

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutcomeCounters(t *testing.T) {
	m := New()
	m.Outcome("solved", 0, true)
	m.Outcome("relaxed", 3, true)
	m.Outcome("infeasible", 11, false)
	m.Outcome("solved", 0, true)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.outcomes.WithLabelValues("solved")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.outcomes.WithLabelValues("infeasible")))
	assert.Equal(t, 3, testutil.CollectAndCount(m.outcomes))
	assert.Equal(t, 1, testutil.CollectAndCount(m.relaxLevels))
}

func TestSolveAndFallbackCounters(t *testing.T) {
	m := New()
	m.ObserveSolve(ProgramEntropy, 10*time.Millisecond, nil)
	m.ObserveSolve(ProgramEntropy, 20*time.Millisecond, errors.New("boom"))
	m.ObserveSolve(ProgramLinear, time.Millisecond, nil)
	m.DiscretizeFallback(2)
	m.ZeroTracts(4)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.solveFailures.WithLabelValues(ProgramEntropy)))
	assert.Equal(t, 2, testutil.CollectAndCount(m.solveDuration))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.fallbackTracts))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.zeroTracts))
}

func TestNilMetricsRecordNothing(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Outcome("solved", 0, true)
		m.ObserveSolve(ProgramLinear, time.Second, nil)
		m.DiscretizeFallback(1)
		m.ZeroTracts(1)
	})
	assert.NoError(t, m.WriteTextfile(filepath.Join(t.TempDir(), "none.prom")))
}

func TestWriteTextfile(t *testing.T) {
	m := New()
	m.Outcome("solved", 0, true)

	path := filepath.Join(t.TempDir(), "run.prom")
	require.NoError(t, m.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `synthbalance_balance_outcomes_total{kind="solved"} 1`)
}
