// Package fft performs in-place multi-dimensional complex DFTs on grids.
//
// The transform is built on gonum's dsp/fourier by applying a cached 1-D
// plan along every axis in turn. Plan construction is serialised behind a
// mutex; execution borrows per-goroutine plan instances from a pool, so
// lines of the same transform can run in parallel on disjoint data.
package fft

import (
	"fmt"
	"runtime"
	"sync"

	"gonum.org/v1/gonum/dsp/fourier"

	"github.com/san-kum/branchflow/internal/grid"
)

// threadCount is the process-wide worker count applied to transforms.
// Zero means use all available CPUs.
var (
	threadMu    sync.Mutex
	threadCount int
)

// SetThreads fixes the number of workers used for subsequent transforms.
func SetThreads(n int) {
	threadMu.Lock()
	defer threadMu.Unlock()
	threadCount = n
}

func workers() int {
	threadMu.Lock()
	defer threadMu.Unlock()
	if threadCount > 0 {
		return threadCount
	}
	return runtime.NumCPU()
}

// planCache pools CmplxFFT instances per transform length. A CmplxFFT
// carries scratch state and is not safe for concurrent use, so workers
// check instances out and return them.
var planCache = struct {
	sync.Mutex
	pools map[int]*sync.Pool
}{pools: make(map[int]*sync.Pool)}

func checkoutPlan(n int) *fourier.CmplxFFT {
	planCache.Lock()
	pool, ok := planCache.pools[n]
	if !ok {
		pool = &sync.Pool{}
		planCache.pools[n] = pool
	}
	planCache.Unlock()

	if p, _ := pool.Get().(*fourier.CmplxFFT); p != nil {
		return p
	}
	// Plan construction is not reentrant; build under the cache lock.
	planCache.Lock()
	p := fourier.NewCmplxFFT(n)
	planCache.Unlock()
	return p
}

func returnPlan(n int, p *fourier.CmplxFFT) {
	planCache.Lock()
	pool := planCache.pools[n]
	planCache.Unlock()
	pool.Put(p)
}

// Forward performs an unscaled in-place DFT over every axis of the grid.
func Forward(g *grid.Grid[complex128]) error {
	return transform(g, false)
}

// Inverse performs the in-place inverse DFT, dividing by the cell count so
// that Inverse(Forward(x)) returns x up to rounding.
func Inverse(g *grid.Grid[complex128]) error {
	if err := transform(g, true); err != nil {
		return err
	}
	data := g.Data()
	scale := complex(1/float64(g.Cells()), 0)
	for i := range data {
		data[i] *= scale
	}
	return nil
}

func transform(g *grid.Grid[complex128], inverse bool) error {
	extents := g.Extents()
	for axis := range extents {
		if err := transformAxis(g, axis, inverse); err != nil {
			return err
		}
	}
	return nil
}

// transformAxis runs the 1-D transform along one axis for every line of the
// grid, fanning the lines out over the worker count.
func transformAxis(g *grid.Grid[complex128], axis int, inverse bool) error {
	extents := g.Extents()
	n := extents[axis]
	if n == 1 {
		return nil
	}

	// Row-major layout: the stride of an axis is the product of the extents
	// behind it; the number of independent lines is cells / n.
	stride := 1
	for i := axis + 1; i < len(extents); i++ {
		stride *= extents[i]
	}
	lines := g.Cells() / n

	data := g.Data()
	nw := workers()
	if nw > lines {
		nw = lines
	}
	if nw < 1 {
		nw = 1
	}

	var wg sync.WaitGroup
	errs := make([]error, nw)
	for w := 0; w < nw; w++ {
		begin := w * lines / nw
		end := (w + 1) * lines / nw
		wg.Add(1)
		go func(w, begin, end int) {
			defer wg.Done()
			errs[w] = transformLines(data, n, stride, begin, end, inverse)
		}(w, begin, end)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

func transformLines(data []complex128, n, stride, begin, end int, inverse bool) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("fft: transform failed: %v", r)
		}
	}()

	plan := checkoutPlan(n)
	defer returnPlan(n, plan)

	line := make([]complex128, n)
	for li := begin; li < end; li++ {
		// Decompose the line index into the offset of its first element:
		// li = block*stride + pos, where a block spans n*stride elements.
		block := li / stride
		pos := li % stride
		base := block*n*stride + pos

		for i := 0; i < n; i++ {
			line[i] = data[base+i*stride]
		}
		if inverse {
			plan.Sequence(line, line)
		} else {
			plan.Coefficients(line, line)
		}
		for i := 0; i < n; i++ {
			data[base+i*stride] = line[i]
		}
	}
	return nil
}
