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

// velocityRange clamps recorded velocity components to [-1.5, 1.5]; after
// energy normalisation to 0.5 the speed cannot exceed 1, so the margin
// only matters for unnormalised runs.
const velocityRange = 1.5

// clampIndex maps a velocity component to a bin index.
func clampIndex(value float64, binCount int) int {
	v := value
	if v < -1 {
		v = -1
	} else if v > 1 {
		v = 1
	}
	return int(math.Round((v + 1) / 2 * float64(binCount-1)))
}

// VelocityHistogramObserver histograms the transverse velocity components
// (axes 1..D-1) at a list of observation times.
type VelocityHistogramObserver struct {
	LocalBase

	dimension int
	binCount  int
	times     []float64

	histograms []*grid.Grid[uint64]

	lastObserved int
	oldVelocity  []float64
	oldTime      float64
	scratch      []float64
}

// NewVelocityHistogramObserver creates one histogram per observation time.
func NewVelocityHistogramObserver(dimension int, times []float64, binCount int, fileName string) (*VelocityHistogramObserver, error) {
	o := &VelocityHistogramObserver{
		LocalBase: NewLocalBase(fileName),
		dimension: dimension,
		binCount:  binCount,
		times:     append([]float64(nil), times...),
	}
	extents := make([]int, dimension-1)
	for i := range extents {
		extents[i] = binCount
	}
	for range o.times {
		h, err := grid.New[uint64](extents, grid.Identity)
		if err != nil {
			return nil, err
		}
		o.histograms = append(o.histograms, h)
	}
	return o, nil
}

func (o *VelocityHistogramObserver) Clone() Local {
	clone, err := NewVelocityHistogramObserver(o.dimension, o.times, o.binCount, o.FileName)
	if err != nil {
		panic(err)
	}
	return clone
}

func (o *VelocityHistogramObserver) Combine(other Local) {
	src := other.(*VelocityHistogramObserver)
	for i, h := range o.histograms {
		data := h.Data()
		for j, v := range src.histograms[i].Data() {
			data[j] += v
		}
	}
}

func (o *VelocityHistogramObserver) StartTrajectory(ic *icgen.InitialCondition, _ uint64) {
	if o.oldVelocity == nil {
		o.oldVelocity = make([]float64, o.dimension)
		o.scratch = make([]float64, o.dimension)
	}
	copy(o.oldVelocity, ic.State.Vel)
	o.lastObserved = 0
	o.oldTime = 0
}

func (o *VelocityHistogramObserver) record(velocity []float64) {
	h := o.histograms[o.lastObserved]
	var idx [2]int
	for i := 0; i < o.dimension-1; i++ {
		idx[i] = clampIndex(velocity[i+1]/velocityRange, o.binCount)
	}
	off := h.OffsetOf(idx[:o.dimension-1])
	h.Data()[off]++
}

func (o *VelocityHistogramObserver) Watch(state *dynamics.State, t float64) bool {
	if o.lastObserved >= len(o.times) {
		return false
	}
	for t > o.times[o.lastObserved] {
		rtime := (o.times[o.lastObserved] - o.oldTime) / (t - o.oldTime)
		interp.LerpVec(o.scratch, o.oldVelocity, state.Vel, rtime)
		o.record(o.scratch)
		o.lastObserved++
		if o.lastObserved >= len(o.times) {
			return false
		}
	}
	copy(o.oldVelocity, state.Vel)
	o.oldTime = t
	return true
}

// Save writes the velocity histogram file: magic "velh001\n", histogram
// count, bin count, dimension, times, bin-centre velocities, then the
// histogram grids.
func (o *VelocityHistogramObserver) Save(w io.Writer) error {
	if _, err := io.WriteString(w, "velh001\n"); err != nil {
		return err
	}
	if err := fileio.WriteU64(w, uint64(len(o.histograms))); err != nil {
		return err
	}
	if err := fileio.WriteU64(w, uint64(o.binCount)); err != nil {
		return err
	}
	if err := fileio.WriteU64(w, uint64(o.dimension)); err != nil {
		return err
	}
	if err := fileio.WriteF64s(w, o.times); err != nil {
		return err
	}
	for j := 0; j < o.binCount; j++ {
		center := float64(j)/float64(o.binCount-1)*2 - 1
		if err := fileio.WriteF64(w, center*velocityRange); err != nil {
			return err
		}
	}
	for _, h := range o.histograms {
		if err := h.Dump(w); err != nil {
			return err
		}
	}
	return nil
}
