package potgen

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/cmplx"
	"sync"
	"time"

	"github.com/san-kum/branchflow/internal/fft"
	"github.com/san-kum/branchflow/internal/grid"
	"github.com/san-kum/branchflow/internal/memprof"
	"github.com/san-kum/branchflow/internal/potential"
)

// ErrNonPSDCorrelation reports a correlation whose discretised power
// spectrum has negative or imaginary components beyond tolerance.
var ErrNonPSDCorrelation = errors.New("potgen: power spectrum contains negative or imaginary components, check correlation function")

// psdTolerance bounds how negative/imaginary a spectrum cell may be before
// the correlation is rejected.
const psdTolerance = 1e-5

// Options configures a generator run.
type Options struct {
	Seed               uint64
	MaxDerivativeOrder int
	CorrLength         float64
	Threads            int
	Randomize          bool
	Verbose            bool
	Correlation        CorrelationFunc
}

// SpectrumFromCorrelation discretises the correlation, transforms it and
// takes the square root of the power spectrum, optionally randomising the
// phases. The result is the field in k-space with centred indexing.
func SpectrumFromCorrelation(extents []int, support []float64, opt Options) (*grid.Grid[complex128], error) {
	start := time.Now()
	g, err := Discretize(extents, support, opt.Correlation)
	if err != nil {
		return nil, err
	}
	slog.Debug("discretised correlation", "cells", g.Cells(), "took", time.Since(start))

	if err := fft.Forward(g); err != nil {
		g.Release()
		return nil, err
	}

	// The potential amplitude is the square root of the power spectrum.
	data := g.Data()
	for i, v := range data {
		re := real(v)
		if re < -psdTolerance || math.Abs(imag(v)) > psdTolerance {
			g.Release()
			return nil, fmt.Errorf("%w (cell %d: %v)", ErrNonPSDCorrelation, i, v)
		}
		if re < 0 {
			re = 0
		}
		data[i] = complex(math.Sqrt(re), 0)
	}

	if opt.Randomize {
		RandomizePhases(g, opt.Seed)
	}
	return g, nil
}

// Derivative computes one position-space derivative of the field from its
// k-space representation by multiplying with i^|order| pi^|order|
// prod (2 n_j)^{order_j} over the centred index, inverse-transforming and
// taking the real part. The factor assumes the unit-box convention used by
// the renormalisation step.
func Derivative(orderPerAxis []int, fieldK *grid.Grid[complex128]) (*grid.Grid[float64], error) {
	if len(orderPerAxis) != fieldK.Dim() {
		return nil, fmt.Errorf("potgen: derivative index has %d components, data dimension is %d", len(orderPerAxis), fieldK.Dim())
	}
	if fieldK.AccessMode() != grid.Centered {
		return nil, fmt.Errorf("potgen: derivative computation needs the field in fft-centered indexing")
	}
	total := 0
	for i, o := range orderPerAxis {
		if o < 0 {
			return nil, fmt.Errorf("potgen: negative derivative order on axis %d", i)
		}
		total += o
	}

	work := fieldK.Clone()
	defer work.Release()

	iFactor := cmplx.Pow(complex(0, math.Pi), complex(float64(total), 0))

	mi := fftIndexing(work)
	data := work.Data()
	for ; mi.Valid(); mi.Inc() {
		// d^n f(k) ~ (i k)^n f(k); the frequency of centred index n_j is
		// 2 n_j in the unit-box convention.
		rFactor := 1.0
		for axis, order := range orderPerAxis {
			if order == 0 {
				continue
			}
			rFactor *= powSmall(float64(2*mi.At(axis)), order)
		}
		data[work.OffsetOfIndex(&mi)] *= complex(rFactor, 0) * iFactor
	}

	if err := fft.Inverse(work); err != nil {
		return nil, err
	}

	result, err := grid.New[float64](fieldK.Extents(), grid.Centered)
	if err != nil {
		return nil, err
	}
	out := result.Data()
	for i, v := range data {
		out[i] = real(v)
	}
	return result, nil
}

func powSmall(base float64, exp int) float64 {
	switch exp {
	case 0:
		return 1
	case 1:
		return base
	case 2:
		return base * base
	case 3:
		return base * base * base
	}
	return math.Pow(base, float64(exp))
}

// computeDerivatives fills the potential with every derivative of total
// order in (0, maxOrder]. Derivative indices are processed in parallel
// unless the memory budget cannot hold the extra scratch grids, in which
// case the computation degrades to sequential.
func computeDerivatives(pot *potential.Potential, fieldK *grid.Grid[complex128], maxOrder int) error {
	dim := pot.Dim()
	scale := math.Sqrt(float64(fieldK.Cells()))

	var orders [][]int
	mi := grid.NewBoundedIndex(dim, 0, maxOrder+1)
	for ; mi.Valid(); mi.Inc() {
		if total := mi.Accumulated(); total > 0 && total <= maxOrder {
			orders = append(orders, mi.AsSlice())
		}
	}

	// Each in-flight derivative needs one complex scratch grid and one real
	// result grid.
	perTask := int64(fieldK.Cells()) * (16 + 8)
	parallel := memprof.Default.WouldFit(perTask * int64(len(orders)))
	if !parallel {
		slog.Warn("memory budget too small for parallel derivative computation, falling back to sequential",
			"derivatives", len(orders), "bytesPerTask", perTask)
	}

	type result struct {
		order []int
		data  *grid.Grid[float64]
		err   error
	}

	apply := func(order []int) result {
		deriv, err := Derivative(order, fieldK)
		if err != nil {
			return result{order: order, err: err}
		}
		// The sqrt(cells) part of the factor sqrt(cells/variance) that the
		// renormalisation applies to the potential itself; the remaining
		// 1/sqrt(variance) is applied to all grids afterwards.
		grid.Scale(deriv, scale)
		return result{order: order, data: deriv}
	}

	var results []result
	if parallel {
		results = make([]result, len(orders))
		var wg sync.WaitGroup
		for i, order := range orders {
			wg.Add(1)
			go func(i int, order []int) {
				defer wg.Done()
				results[i] = apply(order)
			}(i, order)
		}
		wg.Wait()
	} else {
		for _, order := range orders {
			results = append(results, apply(order))
		}
	}

	for _, r := range results {
		if r.err != nil {
			return r.err
		}
		if err := pot.SetDerivative(r.order, r.data, potential.DefaultQuantity); err != nil {
			return err
		}
	}
	return nil
}

// Generate runs the full pipeline and returns a unit-variance potential
// with all requested derivatives, metadata and the caller's support.
func Generate(extents []int, support []float64, opt Options) (*potential.Potential, error) {
	pot, err := potential.New(extents, onesLike(extents))
	if err != nil {
		return nil, err
	}
	pot.SetCreationInfo(opt.Seed, potential.Version, opt.CorrLength)

	fft.SetThreads(opt.Threads)

	fieldK, err := SpectrumFromCorrelation(extents, support, opt)
	if err != nil {
		return nil, err
	}
	defer fieldK.Release()

	if err := computeDerivatives(pot, fieldK, opt.MaxDerivativeOrder); err != nil {
		return nil, err
	}

	// Transform the field itself into position space, reusing the k-space
	// storage.
	if err := fft.Inverse(fieldK); err != nil {
		return nil, err
	}

	cells := fieldK.Cells()
	fieldX, err := grid.New[float64](extents, grid.Identity)
	if err != nil {
		return nil, err
	}

	mean := 0.0
	meanImag := 0.0
	src := fieldK.Data()
	dst := fieldX.Data()
	for i, v := range src {
		dst[i] = real(v)
		mean += real(v)
		meanImag += imag(v)
	}
	mean /= float64(cells)
	meanImag /= float64(cells)

	variance := 0.0
	for i := range dst {
		dst[i] -= mean
		variance += dst[i] * dst[i]
	}

	if opt.Verbose {
		slog.Info("field quality before renormalisation",
			"mean", mean,
			"sumOfSquares", variance,
			"meanImaginary", meanImag*math.Sqrt(float64(cells)/variance))
	}

	// Renormalise the potential to unit variance; the derivatives carry the
	// matching sqrt(cells) factor already.
	pot.ScaleAll(math.Sqrt(1.0/variance), "")
	grid.Scale(fieldX, math.Sqrt(float64(cells)/variance))

	if err := pot.SetField(fieldX, potential.DefaultQuantity); err != nil {
		return nil, err
	}
	if err := pot.SetSupport(support); err != nil {
		return nil, err
	}
	return pot, nil
}

func onesLike(extents []int) []float64 {
	out := make([]float64, len(extents))
	for i := range out {
		out[i] = 1
	}
	return out
}
