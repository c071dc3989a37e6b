package observer

import (
	"bytes"
	"math"
	"sync"
	"testing"

	"github.com/san-kum/branchflow/internal/dynamics"
	"github.com/san-kum/branchflow/internal/icgen"
)

func densitySum(o *DensityObserver) float64 {
	sum := 0.0
	for _, v := range o.Density().Data() {
		sum += float64(v)
	}
	return sum
}

func TestDensity_SegmentWeightBookkeeping(t *testing.T) {
	size := []int{64, 64}
	support := []float64{1, 1}
	obs, err := NewDensityObserver(size, support, "density.dat", false, nil)
	if err != nil {
		t.Fatal(err)
	}
	obs.Init(nil)
	obs.StartTracing()

	ic := &icgen.InitialCondition{State: dynamics.NewState(2)}
	ic.State.Pos = []float64{0.25, 0.5}
	obs.StartTrajectory(ic, 1)

	mkState := func(x, y float64) *dynamics.State {
		s := dynamics.NewState(2)
		s.Pos[0], s.Pos[1] = x, y
		return s
	}

	// First sample primes the segment start; the second deposits
	// (t1 - t0) * weight * cells-per-unit-volume in total.
	if !obs.Watch(mkState(0.25, 0.5), 0.0) {
		t.Fatal("watch stopped unexpectedly")
	}
	if !obs.Watch(mkState(0.5, 0.5), 0.25) {
		t.Fatal("watch stopped unexpectedly")
	}
	obs.EndTrajectory(nil)
	obs.EndTracing(1)

	// dt * dpiFactor = 0.25 * 64 * 64
	want := 0.25 * 64 * 64
	if got := densitySum(obs); math.Abs(got-want) > want*1e-5 {
		t.Errorf("density total %g, expected %g", got, want)
	}
}

func TestDensity_OutsideSupportStopsTrajectory(t *testing.T) {
	obs, err := NewDensityObserver([]int{32, 32}, []float64{1, 1}, "density.dat", false, nil)
	if err != nil {
		t.Fatal(err)
	}
	obs.StartTracing()

	ic := &icgen.InitialCondition{State: dynamics.NewState(2)}
	obs.StartTrajectory(ic, 1)

	s := dynamics.NewState(2)
	s.Pos[0] = 1.5 // outside [0, 1)
	if obs.Watch(s, 0.1) {
		t.Error("expected watch to stop outside the support")
	}
}

func TestDensity_VelocityExtractor(t *testing.T) {
	extract := func(s *dynamics.State) float64 { return s.Vel[0] }
	obs, err := NewDensityObserver([]int{32, 32}, []float64{1, 1}, "vel.dat", false, extract)
	if err != nil {
		t.Fatal(err)
	}
	obs.StartTracing()

	ic := &icgen.InitialCondition{State: dynamics.NewState(2)}
	obs.StartTrajectory(ic, 1)

	s := dynamics.NewState(2)
	s.Pos = []float64{0.4, 0.5}
	s.Vel = []float64{2, 0}
	obs.Watch(s, 0.0)
	s2 := dynamics.NewState(2)
	s2.Pos = []float64{0.6, 0.5}
	s2.Vel = []float64{2, 0}
	obs.Watch(s2, 0.5)
	obs.EndTrajectory(nil)
	obs.EndTracing(1)

	want := 0.5 * 2 * 32 * 32 // dt * v * cells
	if got := densitySum(obs); math.Abs(got-want) > want*1e-5 {
		t.Errorf("flux total %g, expected %g", got, want)
	}
}

func TestDensity_ParallelClonesShareOnePool(t *testing.T) {
	root, err := NewDensityObserver([]int{32, 32}, []float64{1, 1}, "density.dat", false, nil)
	if err != nil {
		t.Fatal(err)
	}
	root.StartTracing()

	const workers = 4
	const trajectoriesPerWorker = 20

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		clone := root.Clone().(*DensityObserver)
		adopt(clone, root)
		wg.Add(1)
		go func(o *DensityObserver) {
			defer wg.Done()
			defer Reduce(o)
			for traj := 0; traj < trajectoriesPerWorker; traj++ {
				ic := &icgen.InitialCondition{State: dynamics.NewState(2)}
				o.StartTrajectory(ic, uint64(traj))

				s := dynamics.NewState(2)
				s.Pos = []float64{0.2, 0.5}
				o.Watch(s, 0)
				s2 := dynamics.NewState(2)
				s2.Pos = []float64{0.8, 0.5}
				o.Watch(s2, 1)
				o.EndTrajectory(nil)
			}
		}(clone)
	}
	wg.Wait()

	total := workers * trajectoriesPerWorker
	root.EndTracing(uint64(total))

	// Every trajectory deposits 1 * 32 * 32; EndTracing divides by the
	// particle count.
	want := float64(32 * 32)
	if got := densitySum(root); math.Abs(got-want) > want*1e-4 {
		t.Errorf("reduced density total %g, expected %g", got, want)
	}
}

func TestDensity_SaveFormat(t *testing.T) {
	obs, err := NewDensityObserver([]int{8, 8}, []float64{1, 1}, "density.dat", false, nil)
	if err != nil {
		t.Fatal(err)
	}
	obs.StartTracing()
	obs.EndTracing(1)

	var buf bytes.Buffer
	if err := obs.Save(&buf); err != nil {
		t.Fatal(err)
	}
	if !bytes.HasPrefix(buf.Bytes(), []byte("dens001\n")) {
		t.Errorf("density file does not start with the dens001 magic")
	}
}
