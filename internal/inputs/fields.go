// Package inputs holds the cleaned household and person tables consumed by
// the allocator, the names of the fields it relies on, and their CSV form.
package inputs

// Field names of the cleaned PUMS tables.
const (
	State            = "state"
	Puma             = "puma"
	SerialNumber     = "serial_number"
	NumPeople        = "num_people"
	NumVehicles      = "num_vehicles"
	HouseholdWeight  = "household_weight"
	HouseholdIncome  = "household_income"
	Age              = "age"
	Sex              = "sex"
	PersonWeight     = "person_weight"
	IndividualIncome = "individual_income"

	// Columns added by allocation.
	Count = "count"
	Tract = "tract"
)

// AgeBins are the cleaned age categories, in output column order.
var AgeBins = []string{"0-17", "18-34", "35-64", "65+"}

// Minimum fields needed to allocate households.
var (
	RequiredHouseholdFields = []string{SerialNumber, NumPeople, NumVehicles, HouseholdWeight}
	RequiredPersonFields    = []string{SerialNumber, Age, Sex}
)

// ColumnName joins an attribute and one of its bins into a control column
// name such as "num_people_2". The prefix keeps bins of different attributes
// from colliding.
func ColumnName(attribute, bin string) string {
	return attribute + "_" + bin
}
