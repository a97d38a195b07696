package marginals

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/ricci-colasanti/synthbalance/internal/inputs"
)

const tractCSV = `STATEFP,TRACTCE,num_people_1,num_people_2,num_vehicles_0
29,020801,792,1068,40
29,021307,720,506,136
29,021310,0,0,0
`

func writeTracts(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "marginals.csv")
	require.NoError(t, os.WriteFile(path, []byte(tractCSV), 0o600))
	return path
}

func TestReadCSVAndControls(t *testing.T) {
	m, err := ReadCSV(writeTracts(t), "")
	require.NoError(t, err)
	assert.Equal(t, []string{"020801", "021307", "021310"}, m.Tracts)

	a, err := m.Controls([]string{"num_people_2", "num_people_1"})
	require.NoError(t, err)
	want := mat.NewDense(3, 2, []float64{
		1068, 792,
		506, 720,
		0, 0,
	})
	assert.True(t, mat.Equal(want, a))
	assert.Equal(t, []float64{1574, 1512}, ColumnTotals(a))
}

func TestControlsMissingColumn(t *testing.T) {
	m, err := ReadCSV(writeTracts(t), DefaultTractColumn)
	require.NoError(t, err)

	_, err = m.Controls([]string{"num_people_1", "num_people_4+"})
	require.Error(t, err)
	assert.True(t, inputs.IsConfigError(err))
	assert.Contains(t, err.Error(), "num_people_4+")
}

func TestControlsRejectsBadCounts(t *testing.T) {
	tbl := inputs.NewTable("TRACTCE", "num_people_1")
	tbl.Rows = [][]string{{"1", "-3"}}
	m, err := New(tbl, "")
	require.NoError(t, err)
	_, err = m.Controls([]string{"num_people_1"})
	assert.Error(t, err)

	tbl.Rows = [][]string{{"1", "many"}}
	m, err = New(tbl, "")
	require.NoError(t, err)
	_, err = m.Controls([]string{"num_people_1"})
	assert.Error(t, err)
}

func TestNewRequiresTractColumn(t *testing.T) {
	_, err := New(inputs.NewTable("GEOID"), "")
	assert.True(t, inputs.IsConfigError(err))
}

func TestLookup(t *testing.T) {
	b, ok := Lookup(inputs.Age)
	require.True(t, ok)
	assert.Equal(t, inputs.AgeBins, b.Values)

	_, ok = Lookup("income")
	assert.False(t, ok)
}
