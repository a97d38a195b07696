package balance

import (
	"context"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gonum.org/v1/gonum/mat"

	"github.com/ricci-colasanti/synthbalance/internal/metrics"
	"github.com/ricci-colasanti/synthbalance/internal/solver"
)

func expectRowsClose(weights *mat.Dense, want []float64, rel float64) {
	r, _ := weights.Dims()
	for i := 0; i < r; i++ {
		for j, w := range want {
			Expect(weights.At(i, j)).To(BeNumerically("~", w, w*rel), "tract %d household %d", i, j)
		}
	}
}

var _ = Describe("Balancer", func() {
	var (
		ctx      context.Context
		balancer *Balancer
	)

	BeforeEach(func() {
		ctx = context.Background()
		balancer = NewBalancer(solver.NewNewton(), testLog)
		balancer.Metrics = metrics.New()
	})

	Context("with consistent controls", func() {
		It("should reproduce the prior when the controls are trusted", func() {
			p := multiProblem(consistentH, consistentA, consistentW, 1, 100000, 1000)
			out, err := balancer.Balance(ctx, p)
			Expect(err).NotTo(HaveOccurred())
			Expect(out.Kind).To(Equal(Solved))
			Expect(out.Level).To(BeZero())
			expectRowsClose(out.Weights, consistentW, 0.05)
		})
	})

	Context("with inconsistent controls", func() {
		It("should stay near the prior when mu is low", func() {
			p := multiProblem(inconsistentH, inconsistentA, inconsistentW, 1, 1, 1000)
			out, err := balancer.Balance(ctx, p)
			Expect(err).NotTo(HaveOccurred())
			Expect(out.Kind).To(Equal(Solved))
			expectRowsClose(out.Weights, inconsistentW, 0.05)
		})

		It("should find the compromise weights across ten tracts", func() {
			p := multiProblem(inconsistentH, inconsistentA, inconsistentW, 10, 1000, 1000)
			out, err := balancer.Balance(ctx, p)
			Expect(err).NotTo(HaveOccurred())
			Expect(out.Kind).To(Equal(Solved))
			rows, _ := out.Weights.Dims()
			Expect(rows).To(Equal(10))
			expectRowsClose(out.Weights, []float64{70.66, 88.66, 85.47, 45.72}, 0.01)
		})

		It("should be deterministic", func() {
			p := multiProblem(inconsistentH, inconsistentA, inconsistentW, 3, 100, 100)
			first, err := balancer.Balance(ctx, p)
			Expect(err).NotTo(HaveOccurred())
			second, err := balancer.Balance(ctx, p)
			Expect(err).NotTo(HaveOccurred())
			Expect(second.Weights.RawMatrix().Data).To(Equal(first.Weights.RawMatrix().Data))
		})
	})

	Context("when no attempt succeeds", func() {
		var p MultiProblem

		BeforeEach(func() {
			p = multiProblem(inconsistentH, inconsistentA, []float64{1000, 0, 0, 0}, 10, 10, 1000)
		})

		It("should fall back to the relative prior", func() {
			out, err := balancer.Balance(ctx, p)
			Expect(err).NotTo(HaveOccurred())
			Expect(out.Kind).To(Equal(Infeasible))
			Expect(out.Level).To(Equal(1))
			Expect(mat.Equal(out.Mu, constant(5, 10, 1))).To(BeTrue())
			expectRowsClose(out.Weights, []float64{100, 0, 0, 0}, 1e-9)
		})

		It("should return zeros under the zero policy", func() {
			balancer.Fallback = FallbackZero
			out, err := balancer.Balance(ctx, p)
			Expect(err).NotTo(HaveOccurred())
			Expect(out.Kind).To(Equal(Infeasible))
			Expect(mat.Sum(out.Weights)).To(BeZero())
		})

		It("should treat a cancelled context as a failure", func() {
			cancelled, cancel := context.WithCancel(ctx)
			cancel()
			p := multiProblem(consistentH, consistentA, consistentW, 2, 30, 100)
			out, err := balancer.Balance(cancelled, p)
			Expect(err).NotTo(HaveOccurred())
			Expect(out.Kind).To(Equal(Infeasible))
			Expect(out.Level).To(Equal(3))
		})
	})

	Context("when a solve returns all zero weights", func() {
		It("should fall back without relaxing", func() {
			backend := &zeroBackend{}
			balancer.Backend = backend
			p := multiProblem(consistentH, consistentA, consistentW, 2, 100, 1000)

			out, err := balancer.Balance(ctx, p)
			Expect(err).NotTo(HaveOccurred())
			Expect(backend.calls).To(Equal(1))
			Expect(out.Kind).To(Equal(Infeasible))
			Expect(out.Level).To(BeZero())
			Expect(mat.Equal(out.Mu, constant(5, 2, 100))).To(BeTrue())
			expectRowsClose(out.Weights, []float64{40.5, 50.5, 75.5, 214.5}, 1e-9)
		})
	})

	Context("when the backend recovers after relaxing", func() {
		It("should report the relaxation level and the final mu", func() {
			backend := &flakyBackend{failures: 2, next: solver.NewNewton()}
			balancer.Backend = backend
			p := multiProblem(consistentH, consistentA, consistentW, 1, 100, 1000)

			out, err := balancer.Balance(ctx, p)
			Expect(err).NotTo(HaveOccurred())
			Expect(out.Kind).To(Equal(Relaxed))
			Expect(out.Level).To(Equal(2))
			Expect(out.Mu.At(0, 0)).To(Equal(80.0))
			Expect(backend.calls).To(Equal(3))
		})
	})

	Context("with zero-marginal tracts", func() {
		h := mat.NewDense(5, 4, []float64{
			0, 1, 0, 0,
			0, 0, 1, 0,
			0, 0, 0, 1,
			0, 0, 0, 1,
			0, 0, 1, 1,
		})

		It("should zero the empty tracts and balance the rest", func() {
			a := mat.NewDense(4, 4, nil)
			a.SetRow(1, []float64{324, 357, 138, 183})
			w := mat.NewDense(4, 5, nil)
			w.SetRow(1, []float64{79, 99, 101, 49, 200})
			p := MultiProblem{
				H:      h,
				A:      a,
				B:      []float64{324, 357, 138, 183},
				W:      w,
				Mu:     constant(4, 4, 10000),
				MetaMu: 1000,
			}

			out, err := balancer.Balance(ctx, p)
			Expect(err).NotTo(HaveOccurred())
			Expect(out.Kind).To(Equal(Solved))
			want := []float64{340.46, 58.09, 69.56, 33.75, 80.83}
			for j, v := range want {
				Expect(out.Weights.At(1, j)).To(BeNumerically("~", v, v*0.05))
			}
			for _, tr := range []int{0, 2, 3} {
				Expect(out.Weights.RawRowView(tr)).To(Equal(make([]float64, 5)))
			}
		})

		It("should not call the backend when every tract is empty", func() {
			backend := &flakyBackend{next: solver.NewNewton()}
			balancer.Backend = backend
			p := MultiProblem{
				H:      h,
				A:      mat.NewDense(3, 4, nil),
				B:      make([]float64, 4),
				W:      constant(3, 5, 1),
				Mu:     constant(4, 3, 100),
				MetaMu: 100,
			}

			out, err := balancer.Balance(ctx, p)
			Expect(err).NotTo(HaveOccurred())
			Expect(out.Kind).To(Equal(Solved))
			Expect(mat.Sum(out.Weights)).To(BeZero())
			rows, _ := out.Weights.Dims()
			Expect(rows).To(Equal(3))
			Expect(backend.calls).To(BeZero())
		})
	})

	Context("with a malformed problem", func() {
		It("should return a shape error", func() {
			p := multiProblem(consistentH, consistentA, consistentW, 2, 100, 100)
			p.Mu = constant(5, 3, 100)

			_, err := balancer.Balance(ctx, p)
			var shape *ShapeError
			Expect(errors.As(err, &shape)).To(BeTrue())
			Expect(shape.Operand).To(Equal("Mu"))
		})
	})
})
