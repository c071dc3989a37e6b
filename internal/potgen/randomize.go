package potgen

import (
	"math"
	"math/cmplx"
	"math/rand/v2"
	"sync"

	"github.com/san-kum/branchflow/internal/grid"
)

// phasePartitionCells is the grid size per randomisation worker. The worker
// count must not depend on the hardware, otherwise results would differ
// between machines; it is derived from the data size alone and saturates at
// 64 workers (a 512^3 grid).
const phasePartitionCells = 128 * 128 * 128

// fftIndexing returns a multi-index over the FFT-centred index space of the
// grid, [-E/2, E/2) per axis.
func fftIndexing(g *grid.Grid[complex128]) grid.MultiIndex {
	mi := grid.NewMultiIndex(g.Dim())
	for i, e := range g.Extents() {
		mi.SetLowerBoundAt(i, -e/2)
		mi.SetUpperBoundAt(i, e/2)
	}
	mi.Init()
	return mi
}

// RandomizePhases multiplies every conjugate index pair (n, -n) of the
// centred spectrum by e^{i phi} and e^{-i phi} with phi uniform in [0, 2pi),
// preserving the Hermitian symmetry that keeps the position-space field
// real. Self-conjugate cells change sign with probability one half.
// Partitioning and per-partition seeding are deterministic functions of the
// master seed.
func RandomizePhases(g *grid.Grid[complex128], seed uint64) {
	mi := fftIndexing(g)

	threads := g.Cells() / phasePartitionCells
	if threads < 1 {
		threads = 1
	}
	if threads > 64 {
		threads = 64
	}
	parts := mi.Split(threads)

	// One seed pair per partition, drawn in partition order from the master
	// engine, so the result only depends on the user seed.
	master := rand.New(rand.NewPCG(seed, 0))
	var wg sync.WaitGroup
	for _, part := range parts {
		s1, s2 := master.Uint64(), master.Uint64()
		wg.Add(1)
		go func(part grid.MultiIndex, s1, s2 uint64) {
			defer wg.Done()
			randomizePartition(g, part, rand.New(rand.NewPCG(s1, s2)))
		}(part, s1, s2)
	}
	wg.Wait()
}

func randomizePartition(g *grid.Grid[complex128], mi grid.MultiIndex, rng *rand.Rand) {
	dim := mi.Dim()
	data := g.Data()
	var inverted [grid.MaxIndexDim]int

	for ; mi.Valid(); mi.Inc() {
		for i := 0; i < dim; i++ {
			inverted[i] = -mi.At(i)
		}
		offset := g.OffsetOfIndex(&mi)
		ioffset := g.OffsetOf(inverted[:dim])

		// Visit each conjugate pair exactly once. Self-conjugate cells may
		// be visited twice across partitions of a symmetric range, which is
		// harmless for a +-1 flip drawn fresh each time.
		if offset < ioffset {
			phase := rng.Float64() * 2 * math.Pi
			factor := cmplx.Rect(1, phase)
			data[offset] *= factor
			data[ioffset] *= cmplx.Conj(factor)
		} else if offset == ioffset {
			if rng.Float64() < 0.5 {
				data[offset] = -data[offset]
			}
		}
	}
}
