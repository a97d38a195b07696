package allocation

import (
	"context"
	"errors"
	"path/filepath"
	"strconv"

	"github.com/google/go-cmp/cmp"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/ricci-colasanti/synthbalance/internal/inputs"
	"github.com/ricci-colasanti/synthbalance/internal/marginals"
	"github.com/ricci-colasanti/synthbalance/internal/metrics"
	"github.com/ricci-colasanti/synthbalance/internal/solver"
)

var _ = Describe("Allocator", func() {
	var (
		ctx       context.Context
		allocator *Allocator
		tracts    *marginals.Marginals
	)

	BeforeEach(func() {
		ctx = context.Background()
		allocator = NewAllocator(solver.NewBackend(0), testLog, metrics.New())
		allocator.RunID = "test"
		var err error
		tracts, err = marginals.New(mockTracts(), marginals.DefaultTractColumn)
		Expect(err).NotTo(HaveOccurred())
	})

	Context("with the sample tables", func() {
		var result *Result

		BeforeEach(func() {
			var err error
			result, err = allocator.Allocate(ctx, tracts, mockHouseholds(), mockPersons())
			Expect(err).NotTo(HaveOccurred())
		})

		It("should repeat every household once per tract", func() {
			households := result.Households()
			Expect(households.Len()).To(Equal(114))
			Expect(households.Columns).To(ConsistOf(
				"serial_number", "num_people", "num_vehicles", "household_weight",
				"num_people_1", "num_people_2", "num_people_3", "num_vehicles_0",
				"num_vehicles_1", "num_vehicles_2", "num_vehicles_3+", "age_0-17",
				"age_18-34", "age_65+", "age_35-64", "count", "tract",
			))
		})

		It("should order rows by tract, then household", func() {
			households := result.Households()
			tract := households.Index(inputs.Tract)
			for i, row := range households.Rows {
				Expect(row[tract]).To(Equal(tracts.Tracts[i/6]))
			}
		})

		It("should balance only on controls present in enough households", func() {
			Expect(result.Controls).To(Equal([]string{
				"num_people_1", "num_people_2", "num_people_3",
				"num_vehicles_1", "num_vehicles_2", "num_vehicles_3+",
			}))
		})

		It("should trim the person table", func() {
			Expect(result.Persons().Columns).To(Equal([]string{"serial_number", "sex", "age"}))
			Expect(result.Persons().Len()).To(Equal(11))
		})

		It("should index counts by serial number", func() {
			counts := result.GetCounts("1014317")
			Expect(counts).To(HaveLen(19))
			for i, c := range counts {
				Expect(c.Tract).To(Equal(tracts.Tracts[i]))
				Expect(c.Count).To(BeNumerically(">=", 0))
			}
			Expect(result.GetCounts("1010395")).To(BeNil(), "zero weight households are dropped")
			Expect(result.GetCounts("unknown")).To(BeNil())
			Expect(result.Serials()).To(Equal([]string{"1014317", "1019591", "1029939", "103719", "1038824", "1045157"}))
		})

		It("should give identical tables on a second run", func() {
			again, err := allocator.Allocate(ctx, tracts, mockHouseholds(), mockPersons())
			Expect(err).NotTo(HaveOccurred())
			Expect(again.Households()).To(Equal(result.Households()))
			for _, serial := range result.Serials() {
				Expect(cmp.Diff(result.GetCounts(serial), again.GetCounts(serial))).To(BeEmpty())
			}
		})

		It("should survive a CSV round trip", func() {
			dir := GinkgoT().TempDir()
			hh, pp := filepath.Join(dir, "households.csv"), filepath.Join(dir, "persons.csv")
			Expect(result.Write(hh, pp)).To(Succeed())

			loaded, err := FromCSVs(hh, pp)
			Expect(err).NotTo(HaveOccurred())
			Expect(loaded.Households()).To(Equal(result.Households()))
			Expect(loaded.Persons()).To(Equal(result.Persons()))
			for _, serial := range result.Serials() {
				Expect(cmp.Diff(result.GetCounts(serial), loaded.GetCounts(serial))).To(BeEmpty())
			}
		})
	})

	Context("with a tract whose controls are all zero", func() {
		It("should allocate nothing to that tract", func() {
			table := mockTracts()
			for j := 5; j < len(table.Columns); j++ {
				table.Rows[2][j] = "0"
			}
			zeroed, err := marginals.New(table, marginals.DefaultTractColumn)
			Expect(err).NotTo(HaveOccurred())

			result, err := allocator.Allocate(ctx, zeroed, mockHouseholds(), mockPersons())
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Report.Skipped).To(ContainElement(2))
			for _, serial := range result.Serials() {
				Expect(result.GetCounts(serial)[2]).To(Equal(CountInformation{Tract: "021309", Count: 0}))
			}
		})
	})

	DescribeTable("missing fields",
		func(households, persons inputs.Table, table, field string) {
			_, err := allocator.Allocate(ctx, tracts, households, persons)
			var ce *inputs.ConfigError
			Expect(errors.As(err, &ce)).To(BeTrue())
			Expect(ce.Table).To(Equal(table))
			Expect(ce.Field).To(Equal(field))
		},
		Entry("household vehicles", withoutColumn(mockHouseholds(), "num_vehicles"), mockPersons(), "household", "num_vehicles"),
		Entry("household weight", withoutColumn(mockHouseholds(), "household_weight"), mockPersons(), "household", "household_weight"),
		Entry("person sex", mockHouseholds(), withoutColumn(mockPersons(), "sex"), "person", "sex"),
	)

	It("should fail on a missing marginal column", func() {
		partial, err := marginals.New(withoutColumn(mockTracts(), "num_vehicles_2"), marginals.DefaultTractColumn)
		Expect(err).NotTo(HaveOccurred())

		_, err = allocator.Allocate(ctx, partial, mockHouseholds(), mockPersons())
		Expect(inputs.IsConfigError(err)).To(BeTrue())
		Expect(err.Error()).To(ContainSubstring(strconv.Quote("num_vehicles_2")))
	})
})

var _ = Describe("FromTables", func() {
	It("should require the allocation columns", func() {
		_, err := FromTables(inputs.NewTable("serial_number", "count"), inputs.NewTable())
		var ce *inputs.ConfigError
		Expect(errors.As(err, &ce)).To(BeTrue())
		Expect(ce.Field).To(Equal("tract"))
	})

	It("should reject a non-numeric count", func() {
		t := inputs.NewTable("serial_number", "count", "tract")
		t.Rows = [][]string{{"1", "many", "020801"}}
		_, err := FromTables(t, inputs.NewTable())
		Expect(err).To(HaveOccurred())
	})

	It("should keep counts in table order", func() {
		t := inputs.NewTable("serial_number", "count", "tract")
		t.Rows = [][]string{
			{"7", "2", "a"},
			{"8", "0", "a"},
			{"7", "1", "b"},
		}
		r, err := FromTables(t, inputs.NewTable())
		Expect(err).NotTo(HaveOccurred())
		Expect(r.GetCounts("7")).To(Equal([]CountInformation{{Tract: "a", Count: 2}, {Tract: "b", Count: 1}}))
		Expect(r.Serials()).To(Equal([]string{"7", "8"}))
	})
})
