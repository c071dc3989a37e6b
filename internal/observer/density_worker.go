package observer

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/san-kum/branchflow/internal/grid"
	"github.com/san-kum/branchflow/internal/interp"
	"github.com/san-kum/branchflow/internal/memprof"
)

// IPDot is one interpolated deposition: a position in grid coordinates and
// the weight to splat there.
type IPDot struct {
	Pos    [3]float64
	Dim    int
	Weight float64
}

const (
	initialTrajectoryReserve = 1020
	queueCapacity            = 1 << 16
	initialMaxQueue          = 500
	maxQueueGrowth           = 500
	backpressureSleep        = 100 * time.Millisecond
)

// densityWorker drains trajectories of dots into a pool of density grids.
// Producers (integration threads finishing a trajectory) enqueue; the same
// threads then opportunistically grab any free grid and consume the queue
// between trajectories. When the queue backs up, the pool either allocates
// another grid (if the memory budget allows) or blocks the producer until
// consumers catch up.
type densityWorker struct {
	extents []int

	queue     chan []IPDot
	queueSize atomic.Int64
	maxQueue  atomic.Int64

	reusePool sync.Pool

	addMu      sync.Mutex
	grids      []*grid.Grid[float32]
	gridMu     []*sync.Mutex
	gridCount  atomic.Int64 // committed length of grids/gridMu
	freeGrids  atomic.Int64
	canCreate  atomic.Bool
}

func newDensityWorker(extents []int) (*densityWorker, error) {
	g, err := grid.New[float32](extents, grid.Periodic)
	if err != nil {
		return nil, err
	}
	w := &densityWorker{
		extents: append([]int(nil), extents...),
		queue:   make(chan []IPDot, queueCapacity),
		grids:   []*grid.Grid[float32]{g},
		gridMu:  []*sync.Mutex{{}},
	}
	w.maxQueue.Store(initialMaxQueue)
	w.gridCount.Store(1)
	w.freeGrids.Store(1)
	w.canCreate.Store(true)
	w.reusePool.New = func() any {
		return make([]IPDot, 0, initialTrajectoryReserve)
	}
	return w, nil
}

// take hands out an empty dot vector, reusing retired ones.
func (w *densityWorker) take() []IPDot {
	return w.reusePool.Get().([]IPDot)[:0]
}

// pushTrajectory enqueues a finished trajectory's dots and applies the
// backpressure policy.
func (w *densityWorker) pushTrajectory(dots []IPDot) {
	w.queue <- dots
	size := w.queueSize.Add(1)

	if size <= w.maxQueue.Load() {
		return
	}

	if w.checkBudget() {
		// Grow the high-water mark first to close the window in which
		// several producers decide to allocate for the same overflow.
		w.maxQueue.Add(maxQueueGrowth)
		if !w.addGrid() {
			w.maxQueue.Add(-maxQueueGrowth)
		}
		return
	}

	// Out of budget: rest until the consumers catch up.
	for w.queueSize.Load() >= w.maxQueue.Load() {
		time.Sleep(backpressureSleep)
	}
}

// work lets the calling thread consume queued trajectories. It grabs the
// first free grid, drains the queue into it and recycles the vectors.
func (w *densityWorker) work() {
	if w.freeGrids.Load() == 0 {
		return
	}

	n := int(w.gridCount.Load())
	for i := 0; i < n; i++ {
		mu := w.gridMu[i]
		if !mu.TryLock() {
			continue
		}
		w.freeGrids.Add(-1)
		g := w.grids[i]
		w.drainInto(g)
		w.freeGrids.Add(1)
		mu.Unlock()
		return
	}
}

func (w *densityWorker) drainInto(g *grid.Grid[float32]) {
	for {
		select {
		case dots := <-w.queue:
			w.queueSize.Add(-1)
			for i := range dots {
				interp.Splat(g, dots[i].Pos[:dots[i].Dim], dots[i].Weight)
			}
			w.reusePool.Put(dots[:0])
		default:
			return
		}
	}
}

// addGrid appends a fresh density grid and mutex. Returns false when the
// budget check fails or another thread grew the pool concurrently.
func (w *densityWorker) addGrid() bool {
	before := w.gridCount.Load()
	w.addMu.Lock()
	defer w.addMu.Unlock()

	if !w.checkBudget() || w.gridCount.Load() != before {
		return false
	}

	g, err := grid.New[float32](w.extents, grid.Periodic)
	if err != nil {
		w.canCreate.Store(false)
		return false
	}
	w.grids = append(w.grids, g)
	w.gridMu = append(w.gridMu, &sync.Mutex{})
	// Publish the mutex before the count so readers never index past the
	// committed prefix.
	count := w.gridCount.Add(1)
	w.freeGrids.Add(1)
	slog.Debug("density pool grew", "grids", count, "queue", w.queueSize.Load(), "maxQueue", w.maxQueue.Load())
	return true
}

// checkBudget reports whether another density grid fits into the memory
// budget. A failed check latches: once memory ran out we stop trying.
func (w *densityWorker) checkBudget() bool {
	if !w.canCreate.Load() {
		return false
	}
	cells, _ := grid.SafeProduct(w.extents)
	if !memprof.Default.WouldFit(int64(cells) * 4) {
		w.canCreate.Store(false)
		return false
	}
	return true
}

// reduce folds all grids into the first by pointwise addition, retiring the
// extras, and drains any dots still queued. Called once after all workers
// are done.
func (w *densityWorker) reduce() {
	w.drainInto(w.grids[0])

	main := w.grids[0].Data()
	for _, g := range w.grids[1:] {
		for i, v := range g.Data() {
			main[i] += v
		}
		g.Release()
	}
	w.grids = w.grids[:1]
	w.gridMu = w.gridMu[:1]
	w.gridCount.Store(1)
	w.freeGrids.Store(1)
}

// density returns the (reduced) result grid.
func (w *densityWorker) density() *grid.Grid[float32] { return w.grids[0] }
