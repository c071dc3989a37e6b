package observer

import (
	"io"
	"math"

	"github.com/san-kum/branchflow/internal/dynamics"
	"github.com/san-kum/branchflow/internal/fileio"
	"github.com/san-kum/branchflow/internal/icgen"
	"github.com/san-kum/branchflow/internal/interp"
)

// AngularHistogramObserver bins the ray direction angle at a list of
// observation times. Velocities at the exact observation time are obtained
// by linear interpolation between the bracketing samples, which matters
// when the adaptive step is large compared to the time spacing.
type AngularHistogramObserver struct {
	LocalBase

	binSize float64
	times   []float64

	binCounts  [][]uint64
	sumAngle   []float64
	sumSquared []float64

	lastObserved int
	oldVelocity  []float64
	oldTime      float64
	scratch      []float64
}

// NewAngularHistogramObserver bins angles with the given bin size (radians)
// at the given times.
func NewAngularHistogramObserver(times []float64, binSize float64, fileName string) *AngularHistogramObserver {
	o := &AngularHistogramObserver{
		LocalBase: NewLocalBase(fileName),
		binSize:   binSize,
		times:     append([]float64(nil), times...),
	}
	bins := int(2 * math.Pi / binSize)
	for range o.times {
		o.binCounts = append(o.binCounts, make([]uint64, bins))
	}
	o.sumAngle = make([]float64, len(o.times))
	o.sumSquared = make([]float64, len(o.times))
	return o
}

// DefaultHistogramTimes is the fallback schedule: 0.01 .. 1.00 in steps of
// 0.01.
func DefaultHistogramTimes() []float64 {
	times := make([]float64, 100)
	for i := range times {
		times[i] = float64(i+1) / 100
	}
	return times
}

func (o *AngularHistogramObserver) Clone() Local {
	return NewAngularHistogramObserver(o.times, o.binSize, o.FileName)
}

func (o *AngularHistogramObserver) Combine(other Local) {
	src := other.(*AngularHistogramObserver)
	for i := range o.binCounts {
		for j := range o.binCounts[i] {
			o.binCounts[i][j] += src.binCounts[i][j]
		}
		o.sumAngle[i] += src.sumAngle[i]
		o.sumSquared[i] += src.sumSquared[i]
	}
}

func (o *AngularHistogramObserver) StartTrajectory(ic *icgen.InitialCondition, _ uint64) {
	if o.oldVelocity == nil {
		o.oldVelocity = make([]float64, len(ic.State.Vel))
		o.scratch = make([]float64, len(ic.State.Vel))
	}
	copy(o.oldVelocity, ic.State.Vel)
	o.lastObserved = 0
	o.oldTime = 0
}

func (o *AngularHistogramObserver) Watch(state *dynamics.State, t float64) bool {
	if o.lastObserved >= len(o.times) {
		return false
	}

	for t > o.times[o.lastObserved] {
		rtime := (o.times[o.lastObserved] - o.oldTime) / (t - o.oldTime)
		interp.LerpVec(o.scratch, o.oldVelocity, state.Vel, rtime)

		angle := math.Atan2(o.scratch[1], o.scratch[0]) // in [-pi, pi]
		idx := int((angle + math.Pi) / o.binSize)
		if idx == len(o.binCounts[o.lastObserved]) {
			idx--
		}
		o.binCounts[o.lastObserved][idx]++
		o.sumAngle[o.lastObserved] += angle
		o.sumSquared[o.lastObserved] += angle * angle

		o.lastObserved++
		if o.lastObserved >= len(o.times) {
			return false
		}
	}

	copy(o.oldVelocity, state.Vel)
	o.oldTime = t
	return true
}

// Save writes the histogram file: magic "angh001\n", histogram count H,
// bin count B, H times, B bin-centre angles, H angle sums, H angle-square
// sums, then H x B counts.
func (o *AngularHistogramObserver) Save(w io.Writer) error {
	if _, err := io.WriteString(w, "angh001\n"); err != nil {
		return err
	}
	if err := fileio.WriteU64(w, uint64(len(o.binCounts))); err != nil {
		return err
	}
	if err := fileio.WriteU64(w, uint64(len(o.binCounts[0]))); err != nil {
		return err
	}
	if err := fileio.WriteF64s(w, o.times); err != nil {
		return err
	}
	for j := range o.binCounts[0] {
		if err := fileio.WriteF64(w, (float64(j)+0.5)*o.binSize-math.Pi); err != nil {
			return err
		}
	}
	if err := fileio.WriteF64s(w, o.sumAngle); err != nil {
		return err
	}
	if err := fileio.WriteF64s(w, o.sumSquared); err != nil {
		return err
	}
	for _, bins := range o.binCounts {
		for _, count := range bins {
			if err := fileio.WriteU64(w, count); err != nil {
				return err
			}
		}
	}
	return nil
}
