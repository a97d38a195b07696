package solver

import "fmt"

// Entry is one non-zero coefficient of a column.
type Entry struct {
	Row   int
	Value float64
}

// Coefficients is a sparse constraint matrix stored by column. The balancing
// programs have a handful of non-zeros per variable, so a dense matrix would
// be almost entirely zeros.
type Coefficients struct {
	rows int
	cols [][]Entry
}

// NewCoefficients returns an empty rows × cols matrix.
func NewCoefficients(rows, cols int) *Coefficients {
	if rows < 0 || cols < 0 {
		panic(fmt.Sprintf("solver: negative dimension %d×%d", rows, cols))
	}
	return &Coefficients{rows: rows, cols: make([][]Entry, cols)}
}

// Dims returns the number of rows and columns.
func (c *Coefficients) Dims() (rows, cols int) {
	return c.rows, len(c.cols)
}

// Add accumulates v into (row, col). Zero values are ignored.
func (c *Coefficients) Add(row, col int, v float64) {
	if row < 0 || row >= c.rows || col < 0 || col >= len(c.cols) {
		panic(fmt.Sprintf("solver: index (%d, %d) out of range %d×%d", row, col, c.rows, len(c.cols)))
	}
	if v == 0 {
		return
	}
	for i := range c.cols[col] {
		if c.cols[col][i].Row == row {
			c.cols[col][i].Value += v
			if c.cols[col][i].Value == 0 {
				c.cols[col] = append(c.cols[col][:i], c.cols[col][i+1:]...)
			}
			return
		}
	}
	c.cols[col] = append(c.cols[col], Entry{Row: row, Value: v})
}

// At returns the coefficient at (row, col).
func (c *Coefficients) At(row, col int) float64 {
	for _, e := range c.cols[col] {
		if e.Row == row {
			return e.Value
		}
	}
	return 0
}

// Column returns the non-zero entries of a column. The slice must not be
// modified.
func (c *Coefficients) Column(col int) []Entry {
	return c.cols[col]
}

// MulVec returns E·v.
func (c *Coefficients) MulVec(v []float64) []float64 {
	out := make([]float64, c.rows)
	for j, col := range c.cols {
		for _, e := range col {
			out[e.Row] += e.Value * v[j]
		}
	}
	return out
}

// rowEntries indexes the matrix by row.
func (c *Coefficients) rowEntries() [][]rowEntry {
	rows := make([][]rowEntry, c.rows)
	for j, col := range c.cols {
		for _, e := range col {
			if e.Value != 0 {
				rows[e.Row] = append(rows[e.Row], rowEntry{col: j, value: e.Value})
			}
		}
	}
	return rows
}

type rowEntry struct {
	col   int
	value float64
}
