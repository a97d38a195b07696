package allocation

import (
	"fmt"
	"math"
	"strconv"

	"github.com/ricci-colasanti/synthbalance/internal/balance"
	"github.com/ricci-colasanti/synthbalance/internal/discretize"
	"github.com/ricci-colasanti/synthbalance/internal/inputs"
)

// CountInformation is how many times a household repeats in one tract.
type CountInformation struct {
	Tract string
	Count int
}

// Result is an allocated household table and its person table.
type Result struct {
	// Outcome and Report describe the run that produced the result. They
	// are zero for results loaded from files.
	Outcome balance.Outcome
	Report  discretize.Report
	// Controls are the columns balanced on.
	Controls []string

	households inputs.Table
	persons    inputs.Table
	counts     map[string][]CountInformation
}

// FromTables indexes an allocated household table. The household table must
// carry serial_number, count and tract.
func FromTables(households, persons inputs.Table) (*Result, error) {
	if err := households.Require("household", inputs.SerialNumber, inputs.Count, inputs.Tract); err != nil {
		return nil, err
	}
	serial := households.Index(inputs.SerialNumber)
	count := households.Index(inputs.Count)
	tract := households.Index(inputs.Tract)

	counts := make(map[string][]CountInformation)
	for r, row := range households.Rows {
		c, err := strconv.ParseFloat(row[count], 64)
		if err != nil {
			return nil, fmt.Errorf("household row %d: count %q: %w", r, row[count], err)
		}
		counts[row[serial]] = append(counts[row[serial]], CountInformation{
			Tract: row[tract],
			Count: int(math.Trunc(c)),
		})
	}
	return &Result{households: households, persons: persons, counts: counts}, nil
}

// FromCSVs loads a result written by Write.
func FromCSVs(householdPath, personPath string) (*Result, error) {
	households, err := inputs.ReadCSV(householdPath)
	if err != nil {
		return nil, err
	}
	persons, err := inputs.ReadCSV(personPath)
	if err != nil {
		return nil, err
	}
	return FromTables(households, persons)
}

// GetCounts returns the tracts and repeat counts of a household, in table
// order. It returns nil for an unknown serial number.
func (r *Result) GetCounts(serial string) []CountInformation {
	return r.counts[serial]
}

// Serials returns the serial numbers of the allocated households in the
// order they first appear.
func (r *Result) Serials() []string {
	idx := r.households.Index(inputs.SerialNumber)
	seen := make(map[string]struct{}, len(r.counts))
	var out []string
	for _, row := range r.households.Rows {
		if _, ok := seen[row[idx]]; !ok {
			seen[row[idx]] = struct{}{}
			out = append(out, row[idx])
		}
	}
	return out
}

// Households returns the allocated household table.
func (r *Result) Households() inputs.Table {
	return r.households
}

// Persons returns the person table trimmed to serial_number, sex and age.
func (r *Result) Persons() inputs.Table {
	return r.persons
}

// Write stores both tables as CSV.
func (r *Result) Write(householdPath, personPath string) error {
	if err := inputs.WriteCSV(householdPath, r.households); err != nil {
		return fmt.Errorf("writing households: %w", err)
	}
	if err := inputs.WriteCSV(personPath, r.persons); err != nil {
		return fmt.Errorf("writing persons: %w", err)
	}
	return nil
}
