package potgen

import (
	"errors"
	"fmt"
	"runtime"
	"sync"

	"github.com/san-kum/branchflow/internal/grid"
)

var ErrOddExtent = errors.New("potgen: extents must be even")

// Discretize samples the correlation function onto a complex grid so that a
// forward FFT of the result is real up to rounding. The sample coordinate
// for cell n is ((n + E/2) mod E - E/2) * (S/E): wrapped so the function is
// evaluated symmetrically around zero.
func Discretize(extents []int, support []float64, f CorrelationFunc) (*grid.Grid[complex128], error) {
	if len(extents) != len(support) {
		return nil, fmt.Errorf("potgen: grid dimension %d does not match support dimension %d", len(extents), len(support))
	}
	for i, e := range extents {
		if e%2 != 0 {
			return nil, fmt.Errorf("%w: axis %d has extent %d", ErrOddExtent, i, e)
		}
	}

	g, err := grid.New[complex128](extents, grid.Identity)
	if err != nil {
		return nil, err
	}

	// Physical cell size per axis.
	scale := make([]float64, len(extents))
	for i := range extents {
		scale[i] = support[i] / float64(extents[i])
	}

	mi := g.Index()
	parts := mi.Split(runtime.NumCPU())

	var wg sync.WaitGroup
	for _, part := range parts {
		wg.Add(1)
		go func(part grid.MultiIndex) {
			defer wg.Done()
			fillPartition(g, part, scale, f)
		}(part)
	}
	wg.Wait()

	if err := g.SetAccessMode(grid.Centered); err != nil {
		g.Release()
		return nil, err
	}
	return g, nil
}

func fillPartition(g *grid.Grid[complex128], mi grid.MultiIndex, scale []float64, f CorrelationFunc) {
	dim := g.Dim()
	extents := g.Extents()
	data := g.Data()
	point := make([]float64, dim)

	for ; mi.Valid(); mi.Inc() {
		for i := 0; i < dim; i++ {
			// Faster than a modulo: indices are already in [0, E).
			p := mi.At(i)
			if p >= extents[i]/2 {
				p -= extents[i]
			}
			point[i] = float64(p) * scale[i]
		}
		data[g.OffsetOfIndex(&mi)] = complex(f(point), 0)
	}
}
