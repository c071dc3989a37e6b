package observer

import (
	"fmt"
	"io"

	"github.com/san-kum/branchflow/internal/dynamics"
	"github.com/san-kum/branchflow/internal/fileio"
	"github.com/san-kum/branchflow/internal/grid"
	"github.com/san-kum/branchflow/internal/icgen"
	"github.com/san-kum/branchflow/internal/interp"
)

// VelocityTransitionObserver counts transitions between velocity bins over
// a fixed time interval. The histogram spans up to 2*D axes: the incoming
// components selected by the in mask and the outgoing (or increment)
// components selected by the out mask; deselected axes collapse to extent
// one. It is thread-shared because transitions from all trajectories fill
// one histogram.
type VelocityTransitionObserver struct {
	SharedBase

	dimension     int
	binCount      int
	timeInterval  float64
	startRecording float64
	endRecording  float64
	incrementMode bool

	counts     *grid.Grid[uint32]
	binCenters []float64

	startTransition float64
	lastStepTime    float64
	lastVelocity    []float64
	oldVelocity     []float64
	scratch         []float64
}

// NewVelocityTransitionObserver builds the transition histogram. in and out
// select which velocity components of the source and target state are
// resolved.
func NewVelocityTransitionObserver(dimension int, timeInterval float64, binCount int,
	startTime, endTime float64, in, out []bool, incrementMode bool, fileName string) (*VelocityTransitionObserver, error) {

	if timeInterval <= 0 {
		return nil, fmt.Errorf("observer: non-positive time interval %g for velocity transitions", timeInterval)
	}
	if len(in) != dimension || len(out) != dimension {
		return nil, fmt.Errorf("observer: in/out masks must have %d entries", dimension)
	}

	extents := make([]int, 0, 2*dimension)
	for _, use := range in {
		if use {
			extents = append(extents, binCount)
		} else {
			extents = append(extents, 1)
		}
	}
	for _, use := range out {
		if use {
			extents = append(extents, binCount)
		} else {
			extents = append(extents, 1)
		}
	}
	counts, err := grid.New[uint32](extents, grid.Identity)
	if err != nil {
		return nil, err
	}

	o := &VelocityTransitionObserver{
		SharedBase:     NewSharedBase(fileName),
		dimension:      dimension,
		binCount:       binCount,
		timeInterval:   timeInterval,
		startRecording: startTime,
		endRecording:   endTime,
		incrementMode:  incrementMode,
		counts:         counts,
		lastVelocity:   make([]float64, dimension),
		oldVelocity:    make([]float64, dimension),
		scratch:        make([]float64, dimension),
	}
	for j := 0; j < binCount; j++ {
		center := float64(j)/float64(binCount-1)*2 - 1
		o.binCenters = append(o.binCenters, center*velocityRange)
	}
	return o, nil
}

func (o *VelocityTransitionObserver) StartTrajectory(ic *icgen.InitialCondition, _ uint64) {
	o.startTransition = o.endRecording
	o.lastStepTime = 0
	copy(o.lastVelocity, ic.State.Vel)
}

func (o *VelocityTransitionObserver) record(oldVelocity, velocity []float64) {
	var idx [8]int
	extents := o.counts.Extents()
	for i := 0; i < o.dimension; i++ {
		idx[i] = clampIndex(oldVelocity[i]/velocityRange, extents[i])
	}
	for i := 0; i < o.dimension; i++ {
		v := velocity[i]
		if o.incrementMode {
			v -= oldVelocity[i]
		}
		idx[i+o.dimension] = clampIndex(v/velocityRange, extents[i+o.dimension])
	}
	off := o.counts.OffsetOf(idx[:2*o.dimension])
	o.counts.Data()[off]++
}

func (o *VelocityTransitionObserver) Watch(state *dynamics.State, t float64) bool {
	// Recording may start at an arbitrary time; synthesise the velocity at
	// the recording start by interpolation.
	if t >= o.startRecording && o.lastStepTime <= o.startRecording {
		recordStep := o.startRecording - o.lastStepTime
		timeStep := t - o.lastStepTime
		r := 0.0
		if timeStep >= 1e-20 {
			r = recordStep / timeStep
		}
		interp.LerpVec(o.scratch, o.lastVelocity, state.Vel, r)
		o.startTransition = o.startRecording
		copy(o.oldVelocity, o.scratch)
	}

	// The small epsilon keeps transitions at the recording end from being
	// skipped by rounding.
	for t >= o.startTransition+o.timeInterval &&
		o.startTransition+o.timeInterval <= o.endRecording+1e-10 {

		recordStep := o.startTransition + o.timeInterval - o.lastStepTime
		timeStep := t - o.lastStepTime
		interp.LerpVec(o.scratch, o.lastVelocity, state.Vel, recordStep/timeStep)
		o.record(o.oldVelocity, o.scratch)
		o.startTransition += o.timeInterval
		copy(o.oldVelocity, o.scratch)
	}

	o.lastStepTime = t
	copy(o.lastVelocity, state.Vel)

	return t < o.endRecording
}

// Save writes the transition file: magic "velt002\n", bin count B,
// dimension D, the time interval, B bin-centre velocities, then the grid
// dump of the uint32 counts.
func (o *VelocityTransitionObserver) Save(w io.Writer) error {
	if _, err := io.WriteString(w, "velt002\n"); err != nil {
		return err
	}
	if err := fileio.WriteU64(w, uint64(o.binCount)); err != nil {
		return err
	}
	if err := fileio.WriteU64(w, uint64(o.dimension)); err != nil {
		return err
	}
	if err := fileio.WriteF64(w, o.timeInterval); err != nil {
		return err
	}
	if err := fileio.WriteF64s(w, o.binCenters); err != nil {
		return err
	}
	return o.counts.Dump(w)
}
