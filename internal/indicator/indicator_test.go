package indicator

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/ricci-colasanti/synthbalance/internal/inputs"
	"github.com/ricci-colasanti/synthbalance/internal/marginals"
)

func households() inputs.Table {
	t := inputs.NewTable("puma", inputs.NumPeople, inputs.NumVehicles, inputs.SerialNumber, inputs.HouseholdWeight)
	t.Rows = [][]string{
		{"00901", "2", "3+", "1019591", "88"},
		{"00901", "1", "1", "1014317", "130"},
		{"00901", "3", "2", "1029939", "65"},
		{"00901", "1", "0", "1099999", "12"},
	}
	return t
}

func persons() inputs.Table {
	t := inputs.NewTable(inputs.SerialNumber, inputs.Age, inputs.Sex)
	t.Rows = [][]string{
		{"1014317", "65+", "F"},
		{"1019591", "35-64", "M"},
		{"1019591", "35-64", "F"},
		{"1029939", "18-34", "M"},
		{"1029939", "0-17", "M"},
		{"1029939", "18-34", "F"},
	}
	return t
}

func TestFormat(t *testing.T) {
	b := NewBuilder(nil)
	got, err := b.Format(households(), persons())
	require.NoError(t, err)

	assert.Equal(t, []string{
		"serial_number", "num_people", "num_vehicles", "household_weight",
		"num_people_1", "num_people_2", "num_people_3",
		"num_vehicles_0", "num_vehicles_1", "num_vehicles_2", "num_vehicles_3+",
		"age_0-17", "age_18-34", "age_35-64", "age_65+",
	}, got.Columns)

	// 1099999 has no persons and is dropped by the inner join.
	require.Equal(t, 3, got.Len())
	assert.Equal(t, []string{"1014317", "1", "1", "130", "1", "0", "0", "0", "1", "0", "0", "0", "0", "0", "1"}, got.Rows[0])
	assert.Equal(t, []string{"1019591", "2", "3+", "88", "0", "1", "0", "0", "0", "0", "1", "0", "0", "2", "0"}, got.Rows[1])
	assert.Equal(t, []string{"1029939", "3", "2", "65", "0", "0", "1", "0", "0", "1", "0", "1", "2", "0", "0"}, got.Rows[2])
}

func TestFormatMissingFields(t *testing.T) {
	b := NewBuilder(nil)
	hh := households()
	hh.Columns[2] = "vehicles"
	_, err := b.Format(hh, persons())
	require.Error(t, err)
	assert.True(t, inputs.IsConfigError(err))
	assert.Contains(t, err.Error(), "num_vehicles")

	p := persons()
	p.Columns[1] = "agep"
	_, err = b.Format(households(), p)
	assert.True(t, inputs.IsConfigError(err))
}

func TestCandidates(t *testing.T) {
	b := NewBuilder(nil)
	tbl, err := b.Format(households(), persons())
	require.NoError(t, err)
	// num_vehicles_0 only belonged to the dropped household.
	assert.Equal(t, []string{
		"num_people_1", "num_people_2", "num_people_3",
		"num_vehicles_1", "num_vehicles_2", "num_vehicles_3+",
	}, b.Candidates(tbl))
}

func TestFilterSparseDropsRareColumns(t *testing.T) {
	// 20 households; "rare" is present in one of them (5%), "edge" in two
	// (exactly 10%) and "common" in ten.
	tbl := inputs.NewTable("rare", "edge", "common")
	for i := 0; i < 20; i++ {
		row := []string{"0", "0", "0"}
		if i == 0 {
			row[0] = "1"
		}
		if i < 2 {
			row[1] = "1"
		}
		if i%2 == 0 {
			row[2] = "1"
		}
		tbl.Rows = append(tbl.Rows, row)
	}

	kept, err := FilterSparse(tbl, []string{"rare", "edge", "common"}, DefaultThreshold)
	require.NoError(t, err)
	assert.Equal(t, []string{"common"}, kept)

	h, err := Matrix(tbl, kept)
	require.NoError(t, err)
	rows, cols := h.Dims()
	assert.Equal(t, 20, rows)
	assert.Equal(t, 1, cols)

	tracts := inputs.NewTable("TRACTCE", "rare", "edge", "common")
	tracts.Rows = [][]string{{"000100", "5", "9", "40"}, {"000200", "1", "2", "30"}}
	m, err := marginals.New(tracts, "")
	require.NoError(t, err)
	a, err := m.Controls(kept)
	require.NoError(t, err)
	assert.True(t, mat.Equal(mat.NewDense(2, 1, []float64{40, 30}), a))
}

func TestFilterSparseErrors(t *testing.T) {
	_, err := FilterSparse(inputs.NewTable("a"), []string{"a"}, DefaultThreshold)
	assert.Error(t, err)

	tbl := inputs.NewTable("a")
	tbl.Rows = [][]string{{"x"}}
	_, err = FilterSparse(tbl, []string{"a"}, DefaultThreshold)
	assert.Error(t, err)
}

func TestMatrixAndWeights(t *testing.T) {
	b := NewBuilder([]string{inputs.NumPeople})
	tbl, err := b.Format(households(), persons())
	require.NoError(t, err)

	cols := b.Candidates(tbl)
	h, err := Matrix(tbl, cols)
	require.NoError(t, err)
	want := mat.NewDense(3, 3, []float64{
		1, 0, 0,
		0, 1, 0,
		0, 0, 1,
	})
	assert.True(t, mat.Equal(want, h), fmt.Sprintf("%v", mat.Formatted(h)))

	w, err := Weights(tbl)
	require.NoError(t, err)
	assert.Equal(t, []float64{130, 88, 65}, w)

	_, err = Matrix(tbl, nil)
	assert.Error(t, err)
}
