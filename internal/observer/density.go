package observer

import (
	"io"
	"math"

	"github.com/san-kum/branchflow/internal/dynamics"
	"github.com/san-kum/branchflow/internal/fileio"
	"github.com/san-kum/branchflow/internal/grid"
	"github.com/san-kum/branchflow/internal/icgen"
	"github.com/san-kum/branchflow/internal/interp"
)

// ExtractFunc determines what a density observer accumulates: the returned
// value weights the time the ray spends in each cell. The default extracts
// 1, yielding the ray density; extracting a velocity component yields the
// flux density.
type ExtractFunc func(s *dynamics.State) float64

// DensityObserver accumulates weight * integral f(state) dt onto a grid by
// splitting each integration segment into subpixel steps and splatting
// them. It is thread-local for the per-trajectory dot cache, but all
// clones share one worker pool of density grids; Combine is therefore
// empty.
type DensityObserver struct {
	LocalBase

	dimension int
	dpiFactor float64
	scaling   []float64
	support   []float64
	size      []int

	lastTime     float64
	lastPosition []float64
	startPos     []float64
	centerOnStart bool

	extract ExtractFunc

	dots   []IPDot
	worker *densityWorker
}

// NewDensityObserver creates a density observer with its own grid pool.
func NewDensityObserver(size []int, support []float64, fileName string, center bool, extract ExtractFunc) (*DensityObserver, error) {
	worker, err := newDensityWorker(size)
	if err != nil {
		return nil, err
	}
	return newDensityWithWorker(size, support, fileName, center, extract, worker), nil
}

func newDensityWithWorker(size []int, support []float64, fileName string, center bool, extract ExtractFunc, worker *densityWorker) *DensityObserver {
	if extract == nil {
		extract = func(*dynamics.State) float64 { return 1 }
	}
	o := &DensityObserver{
		LocalBase:     NewLocalBase(fileName),
		dimension:     len(size),
		dpiFactor:     1,
		scaling:       make([]float64, len(size)),
		support:       append([]float64(nil), support...),
		size:          append([]int(nil), size...),
		lastPosition:  make([]float64, len(size)),
		startPos:      make([]float64, len(size)),
		centerOnStart: center,
		extract:       extract,
		worker:        worker,
	}
	// Scale physical positions to pixels; the density weight carries the
	// inverse cell volume so results are independent of the resolution.
	for i := range size {
		o.scaling[i] = float64(size[i]) / support[i]
		o.dpiFactor *= o.scaling[i]
	}
	return o
}

// Density returns the accumulated grid. Only meaningful after EndTracing.
func (o *DensityObserver) Density() *grid.Grid[float32] { return o.worker.density() }

func (o *DensityObserver) Clone() Local {
	return newDensityWithWorker(o.size, o.support, o.FileName, o.centerOnStart, o.extract, o.worker)
}

// Combine is empty: all clones write through the shared worker pool.
func (o *DensityObserver) Combine(Local) {}

func (o *DensityObserver) StartTrajectory(ic *icgen.InitialCondition, _ uint64) {
	if o.dots == nil {
		o.dots = o.worker.take()
	} else {
		o.dots = o.dots[:0]
	}
	copy(o.startPos, ic.State.Pos)
	// The first Watch call only primes the segment endpoint.
	o.lastTime = math.Inf(1)
}

func (o *DensityObserver) Watch(state *dynamics.State, t float64) bool {
	var cur [3]float64
	for i := 0; i < o.dimension; i++ {
		p := state.Pos[i]
		if o.centerOnStart {
			p -= o.startPos[i]
		}
		p *= o.scaling[i]
		if o.centerOnStart {
			p += o.support[i] / 2 * o.scaling[i]
		}
		// Leaving the recorded support ends the trajectory for this
		// observer.
		if p < 0 || p >= float64(o.size[i]) {
			return false
		}
		cur[i] = p
	}

	if t > o.lastTime {
		weight := o.extract(state)
		o.addInterpolatedLine(o.lastPosition, cur[:o.dimension], (t-o.lastTime)*weight)
	}

	o.lastTime = t
	copy(o.lastPosition, cur[:o.dimension])
	return true
}

// addInterpolatedLine subdivides the segment into roughly three dots per
// pixel and queues them with the per-dot share of the weight.
func (o *DensityObserver) addInterpolatedLine(start, end []float64, weight float64) {
	lenSq := 0.0
	for i := range start {
		d := end[i] - start[i]
		lenSq += d * d
	}
	count := int(math.Sqrt(lenSq) * 3)
	if count < 1 {
		count = 1
	}

	dpi := weight / float64(count) * o.dpiFactor

	for sub := 0; sub < count; sub++ {
		f := (float64(sub) + 0.5) / float64(count)
		dot := IPDot{Dim: o.dimension, Weight: dpi}
		for i := range start {
			dot.Pos[i] = interp.Lerp(start[i], end[i], f)
		}
		o.dots = append(o.dots, dot)
	}
}

func (o *DensityObserver) EndTrajectory(*dynamics.State) {
	o.worker.pushTrajectory(o.dots)
	o.dots = o.worker.take()
	// Lend this thread to the consumers between trajectories.
	o.worker.work()
}

func (o *DensityObserver) EndTracing(particleCount uint64) {
	o.worker.reduce()
	if particleCount > 0 {
		grid.Scale(o.worker.density(), float32(1.0/float64(particleCount)))
	}
}

// Save writes the density file: magic "dens001\n", dimension, support, then
// the grid dump of the accumulated float32 density.
func (o *DensityObserver) Save(w io.Writer) error {
	if _, err := io.WriteString(w, "dens001\n"); err != nil {
		return err
	}
	if err := fileio.WriteU64(w, uint64(o.dimension)); err != nil {
		return err
	}
	if err := fileio.WriteF64s(w, o.support); err != nil {
		return err
	}
	return o.worker.density().Dump(w)
}
