package observer

import (
	"io"
	"sync"
	"testing"

	"github.com/san-kum/branchflow/internal/dynamics"
	"github.com/san-kum/branchflow/internal/icgen"
)

// countingObserver is a minimal thread-local observer for framework tests.
type countingObserver struct {
	LocalBase

	watchLimit int

	steps        int
	trajectories int
	combined     int
}

func newCountingObserver(limit int) *countingObserver {
	return &countingObserver{LocalBase: NewLocalBase("counts.dat"), watchLimit: limit}
}

func (o *countingObserver) Clone() Local { return newCountingObserver(o.watchLimit) }

func (o *countingObserver) Combine(other Local) {
	src := other.(*countingObserver)
	o.steps += src.steps
	o.trajectories += src.trajectories
	o.combined++
}

func (o *countingObserver) StartTrajectory(*icgen.InitialCondition, uint64) { o.trajectories++ }

func (o *countingObserver) Watch(*dynamics.State, float64) bool {
	o.steps++
	return o.watchLimit <= 0 || o.steps < o.watchLimit
}

func (o *countingObserver) Save(io.Writer) error { return nil }

// recordingShared captures the replay order for shared-observer tests.
type recordingShared struct {
	SharedBase
	times        []float64
	trajectories []uint64
}

func newRecordingShared() *recordingShared {
	return &recordingShared{SharedBase: NewSharedBase("shared.dat")}
}

func (o *recordingShared) StartTrajectory(_ *icgen.InitialCondition, id uint64) {
	o.trajectories = append(o.trajectories, id)
}

func (o *recordingShared) Watch(_ *dynamics.State, t float64) bool {
	o.times = append(o.times, t)
	return true
}

func (o *recordingShared) Save(io.Writer) error { return nil }

func makeIC(dim int) *icgen.InitialCondition {
	return &icgen.InitialCondition{State: dynamics.NewState(dim)}
}

func runTrajectory(w *Worker, dim, steps int) {
	state := dynamics.NewOdeState(dim, false)
	w.StartTrajectory(makeIC(dim))
	for s := 0; s < steps; s++ {
		state.Position()[0] = float64(s)
		if !w.Observe(state, float64(s+1)*0.1) {
			break
		}
	}
	w.EndTrajectory()
}

func TestMaster_LocalReduction(t *testing.T) {
	root := newCountingObserver(0)
	m := NewMaster(2, nil)
	m.Add(root)
	m.StartTracing()

	const workers = 3
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w := m.Worker()
			defer w.Close()
			for traj := 0; traj < 5; traj++ {
				runTrajectory(w, 2, 4)
			}
		}()
	}
	wg.Wait()
	m.EndTracing()

	if root.trajectories != workers*5 {
		t.Errorf("expected %d trajectories, got %d", workers*5, root.trajectories)
	}
	if root.steps != workers*5*4 {
		t.Errorf("expected %d steps, got %d", workers*5*4, root.steps)
	}
	if root.combined != workers {
		t.Errorf("expected %d reductions, got %d", workers, root.combined)
	}
	if m.ParticleCount() != workers*5 {
		t.Errorf("particle count %d, expected %d", m.ParticleCount(), workers*5)
	}
}

func TestMaster_UniqueTrajectoryIDs(t *testing.T) {
	m := NewMaster(1, nil)
	m.Add(newCountingObserver(0))
	m.StartTracing()

	const workers = 4
	var mu sync.Mutex
	ids := make(map[uint64]bool)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w := m.Worker()
			defer w.Close()
			for traj := 0; traj < 50; traj++ {
				runTrajectory(w, 1, 2)
				mu.Lock()
				ids[w.trajectoryID] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	m.EndTracing()

	if len(ids) != workers*50 {
		t.Errorf("expected %d unique ids, got %d", workers*50, len(ids))
	}
}

func TestMaster_StopWhenNoObserverWatches(t *testing.T) {
	m := NewMaster(1, nil)
	m.Add(newCountingObserver(3)) // declines after 3 steps
	m.StartTracing()

	w := m.Worker()
	state := dynamics.NewOdeState(1, false)
	w.StartTrajectory(makeIC(1))

	steps := 0
	for s := 0; s < 100; s++ {
		if !w.Observe(state, float64(s)*0.1+0.1) {
			break
		}
		steps++
	}
	w.EndTrajectory()
	w.Close()
	m.EndTracing()

	if steps >= 99 {
		t.Error("integration was not stopped although no observer wanted samples")
	}
}

func TestMaster_SharedReplayPerTrajectory(t *testing.T) {
	shared := newRecordingShared()
	m := NewMaster(1, nil)
	m.Add(shared)
	m.StartTracing()

	w := m.Worker()
	runTrajectory(w, 1, 3)
	runTrajectory(w, 1, 2)
	w.Close()
	m.EndTracing()

	if len(shared.trajectories) != 2 {
		t.Fatalf("expected 2 replayed trajectories, got %d", len(shared.trajectories))
	}
	// Each trajectory is replayed in order with exactly the times that
	// runTrajectory observed, (s+1)*0.1 for step s.
	var want []float64
	for _, steps := range []int{3, 2} {
		for s := 0; s < steps; s++ {
			want = append(want, float64(s+1)*0.1)
		}
	}
	if len(shared.times) != len(want) {
		t.Fatalf("expected %d samples, got %d", len(want), len(shared.times))
	}
	for i := range want {
		if shared.times[i] != want[i] {
			t.Errorf("sample %d: expected t=%g, got %g", i, want[i], shared.times[i])
		}
	}
}

func TestMaster_EndTracingWithOpenWorkerPanics(t *testing.T) {
	m := NewMaster(1, nil)
	m.Add(newCountingObserver(0))
	m.StartTracing()
	_ = m.Worker()

	defer func() {
		if recover() == nil {
			t.Error("expected panic for EndTracing with an open worker view")
		}
	}()
	m.EndTracing()
}
