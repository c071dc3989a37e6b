package observer

import (
	"io"

	"github.com/san-kum/branchflow/internal/dynamics"
	"github.com/san-kum/branchflow/internal/fileio"
	"github.com/san-kum/branchflow/internal/icgen"
)

// trajectorySample is one recorded point of a trajectory.
type trajectorySample struct {
	trajectory uint64
	pos        []float64
	vel        []float64
	time       float64
}

// TrajectoryObserver samples ray positions on a fixed time schedule. It
// has no algorithmic content; it simply writes out what it sees.
type TrajectoryObserver struct {
	LocalBase

	interval float64

	lastTime       float64
	particleNumber uint64
	samples        []trajectorySample
}

// NewTrajectoryObserver records a sample whenever the trajectory advanced
// by at least interval.
func NewTrajectoryObserver(interval float64, fileName string) *TrajectoryObserver {
	return &TrajectoryObserver{LocalBase: NewLocalBase(fileName), interval: interval}
}

func (o *TrajectoryObserver) Clone() Local {
	return NewTrajectoryObserver(o.interval, o.FileName)
}

func (o *TrajectoryObserver) Combine(other Local) {
	src := other.(*TrajectoryObserver)
	o.samples = append(o.samples, src.samples...)
	if src.particleNumber > o.particleNumber {
		o.particleNumber = src.particleNumber
	}
}

func (o *TrajectoryObserver) StartTrajectory(_ *icgen.InitialCondition, trajectory uint64) {
	// Negative so the t=0 sample is recorded.
	o.lastTime = -1
	o.particleNumber = trajectory
}

func (o *TrajectoryObserver) Watch(state *dynamics.State, t float64) bool {
	if t > o.lastTime+o.interval {
		o.samples = append(o.samples, trajectorySample{
			trajectory: o.particleNumber,
			pos:        append([]float64(nil), state.Pos...),
			vel:        append([]float64(nil), state.Vel...),
			time:       t,
		})
		o.lastTime = t
	}
	return true
}

// Save writes the trajectory file: magic "traj001\n", dimension, particle
// count, sample count, then the samples.
func (o *TrajectoryObserver) Save(w io.Writer) error {
	if _, err := io.WriteString(w, "traj001\n"); err != nil {
		return err
	}
	dim := 0
	if len(o.samples) > 0 {
		dim = len(o.samples[0].pos)
	}
	if err := fileio.WriteU64(w, uint64(dim)); err != nil {
		return err
	}
	if err := fileio.WriteU64(w, o.particleNumber); err != nil {
		return err
	}
	if err := fileio.WriteU64(w, uint64(len(o.samples))); err != nil {
		return err
	}
	for _, s := range o.samples {
		if err := fileio.WriteU64(w, s.trajectory); err != nil {
			return err
		}
		if err := fileio.WriteF64s(w, s.pos); err != nil {
			return err
		}
		if err := fileio.WriteF64s(w, s.vel); err != nil {
			return err
		}
		if err := fileio.WriteF64(w, s.time); err != nil {
			return err
		}
	}
	return nil
}
