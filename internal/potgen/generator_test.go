package potgen_test

import (
	"math"
	"math/cmplx"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/san-kum/branchflow/internal/grid"
	"github.com/san-kum/branchflow/internal/interp"
	"github.com/san-kum/branchflow/internal/potential"
	"github.com/san-kum/branchflow/internal/potgen"
)

func defaultOptions(seed uint64) potgen.Options {
	return potgen.Options{
		Seed:               seed,
		MaxDerivativeOrder: 2,
		CorrLength:         0.1,
		Randomize:          true,
		Correlation:        potgen.Gaussian(0.1),
	}
}

var _ = Describe("Discretize", func() {
	It("rejects odd extents", func() {
		_, err := potgen.Discretize([]int{15}, []float64{1}, potgen.Gaussian(0.1))
		Expect(err).To(MatchError(potgen.ErrOddExtent))
	})

	It("samples the correlation symmetrically around zero", func() {
		g, err := potgen.Discretize([]int{16, 16}, []float64{1, 1}, potgen.Gaussian(0.1))
		Expect(err).NotTo(HaveOccurred())

		// c(x) = c(-x) must hold cell-wise under centred indexing.
		for i := 1; i < 8; i++ {
			for j := 1; j < 8; j++ {
				Expect(real(g.At(i, j))).To(BeNumerically("~", real(g.At(-i, -j)), 1e-14))
			}
		}
		// The origin carries the maximum.
		Expect(real(g.At(0, 0))).To(BeNumerically("~", 1.0, 1e-14))
	})
})

var _ = Describe("SpectrumFromCorrelation", func() {
	It("preserves Hermitian symmetry after phase randomisation", func() {
		g, err := potgen.SpectrumFromCorrelation([]int{32, 32}, []float64{1, 1}, defaultOptions(99))
		Expect(err).NotTo(HaveOccurred())

		for i := -15; i < 16; i++ {
			for j := -15; j < 16; j++ {
				v := g.At(i, j)
				conj := g.At(-i, -j)
				Expect(cmplx.Abs(v - cmplx.Conj(conj))).To(BeNumerically("<", 1e-9))
			}
		}
	})

	It("rejects non positive-semidefinite correlations", func() {
		// A hard box correlation has an oscillating, sign-changing
		// spectrum.
		box := func(x []float64) float64 {
			if math.Abs(x[0]) < 0.3 {
				return 1
			}
			return 0
		}
		opt := defaultOptions(1)
		opt.Correlation = box
		_, err := potgen.SpectrumFromCorrelation([]int{64}, []float64{1}, opt)
		Expect(err).To(MatchError(potgen.ErrNonPSDCorrelation))
	})
})

var _ = Describe("Generate", func() {
	It("is reproducible for a fixed seed", func() {
		p1, err := potgen.Generate([]int{32, 32}, []float64{1, 1}, defaultOptions(1234))
		Expect(err).NotTo(HaveOccurred())
		p2, err := potgen.Generate([]int{32, 32}, []float64{1, 1}, defaultOptions(1234))
		Expect(err).NotTo(HaveOccurred())

		f1, err := p1.Field(potential.DefaultQuantity)
		Expect(err).NotTo(HaveOccurred())
		f2, err := p2.Field(potential.DefaultQuantity)
		Expect(err).NotTo(HaveOccurred())
		Expect(f1.Data()).To(Equal(f2.Data()))

		d1, err := p1.Derivative([]int{1, 1}, potential.DefaultQuantity)
		Expect(err).NotTo(HaveOccurred())
		d2, err := p2.Derivative([]int{1, 1}, potential.DefaultQuantity)
		Expect(err).NotTo(HaveOccurred())
		Expect(d1.Data()).To(Equal(d2.Data()))
	})

	It("differs between seeds", func() {
		p1, _ := potgen.Generate([]int{16, 16}, []float64{1, 1}, defaultOptions(1))
		p2, _ := potgen.Generate([]int{16, 16}, []float64{1, 1}, defaultOptions(2))
		f1, _ := p1.Field(potential.DefaultQuantity)
		f2, _ := p2.Field(potential.DefaultQuantity)
		Expect(f1.Data()).NotTo(Equal(f2.Data()))
	})

	It("produces a unit-variance, zero-mean field", func() {
		p, err := potgen.Generate([]int{64, 64}, []float64{1, 1}, defaultOptions(7))
		Expect(err).NotTo(HaveOccurred())

		f, _ := p.Field(potential.DefaultQuantity)
		mean := 0.0
		for _, v := range f.Data() {
			mean += v
		}
		mean /= float64(f.Cells())
		variance := 0.0
		for _, v := range f.Data() {
			variance += (v - mean) * (v - mean)
		}
		variance /= float64(f.Cells())

		Expect(mean).To(BeNumerically("~", 0.0, 1e-9))
		Expect(variance).To(BeNumerically("~", 1.0, 1e-9))
	})

	It("stores all derivatives up to the requested order", func() {
		opt := defaultOptions(3)
		opt.MaxDerivativeOrder = 2
		p, err := potgen.Generate([]int{16, 16}, []float64{1, 1}, opt)
		Expect(err).NotTo(HaveOccurred())

		Expect(p.HasDerivativesOfOrder(1, potential.DefaultQuantity)).To(BeTrue())
		Expect(p.HasDerivativesOfOrder(2, potential.DefaultQuantity)).To(BeTrue())
		Expect(p.HasDerivativesOfOrder(3, potential.DefaultQuantity)).To(BeFalse())
	})

	It("records metadata and the final support", func() {
		p, err := potgen.Generate([]int{16, 32}, []float64{1, 2}, defaultOptions(5))
		Expect(err).NotTo(HaveOccurred())
		Expect(p.Seed()).To(Equal(uint64(5)))
		Expect(p.GeneratorVersion()).To(Equal(uint64(3)))
		Expect(p.CorrelationLength()).To(Equal(0.1))
		Expect(p.Support()).To(Equal([]float64{1, 2}))
		Expect(p.Strength()).To(Equal(1.0))
	})

	It("keeps derivatives consistent with the potential", func() {
		// Integrating dV/dx along a line must reproduce the potential
		// difference.
		p, err := potgen.Generate([]int{512}, []float64{1}, defaultOptions(11))
		Expect(err).NotTo(HaveOccurred())

		field, _ := p.Field(potential.DefaultQuantity)
		deriv, _ := p.Derivative([]int{1}, potential.DefaultQuantity)
		fieldP := field.Shallow()
		Expect(fieldP.SetAccessMode(grid.Periodic)).To(Succeed())
		derivP := deriv.Shallow()
		Expect(derivP.SetAccessMode(grid.Periodic)).To(Succeed())

		scale := 512.0 // grid cells per unit length
		step := 1.0 / 512
		integrate := func(upTo float64) float64 {
			sum := 0.0
			steps := int(upTo / step)
			for i := 0; i < steps; i++ {
				mid := (float64(i) + 0.5) * step * scale
				sum += interp.Sample(derivP, []float64{mid}) * step
			}
			return sum
		}

		for _, upTo := range []float64{0.125, 0.25, 0.5} {
			want := interp.Sample(fieldP, []float64{upTo * scale}) -
				interp.Sample(fieldP, []float64{0})
			Expect(integrate(upTo)).To(BeNumerically("~", want, 5e-3))
		}
	})
})
