package observer

import (
	"fmt"
	"sync/atomic"

	"github.com/san-kum/branchflow/internal/dynamics"
	"github.com/san-kum/branchflow/internal/icgen"
)

// counters is the process-wide trajectory bookkeeping shared between the
// master and its worker views.
type counters struct {
	started  atomic.Uint64 // incremented for every started trajectory, yields unique ids
	finished atomic.Uint64 // incremented for every trajectory that produced samples
	workers  atomic.Int64  // open worker views
}

// Master composes the observer list and owns the root instances. Workers
// obtain a per-thread view with Worker; the view clones thread-local
// observers and shares the rest.
type Master struct {
	dim      int
	dyn      dynamics.RayDynamics
	periodic bool

	observers []Observer
	locals    []Local
	shared    []Shared

	ctr *counters
}

// NewMaster creates a master observer for the given dimension and dynamics.
func NewMaster(dim int, dyn dynamics.RayDynamics) *Master {
	return &Master{dim: dim, dyn: dyn, ctr: &counters{}}
}

// SetPeriodicBoundaries records whether tracing wraps around the support.
func (m *Master) SetPeriodicBoundaries(p bool) { m.periodic = p }

// Add registers an observer. Observers implementing Local are cloned per
// worker; those implementing Shared are called through their own mutex.
func (m *Master) Add(obs Observer) {
	if l, ok := obs.(Local); ok {
		m.locals = append(m.locals, l)
	} else if s, ok := obs.(Shared); ok {
		m.shared = append(m.shared, s)
	} else {
		panic(fmt.Sprintf("observer: %T is neither thread-local nor thread-shared", obs))
	}
	m.observers = append(m.observers, obs)
}

// Observers returns all registered root observers.
func (m *Master) Observers() []Observer { return m.observers }

// StartTracing resets the counters and initialises every observer.
func (m *Master) StartTracing() {
	m.ctr.started.Store(0)
	m.ctr.finished.Store(0)
	for _, o := range m.observers {
		o.Init(m.dyn)
		o.StartTracing()
	}
}

// EndTracing finalises every observer. All worker views must have been
// closed; an open view means a thread-local clone was never reduced, which
// would silently lose data, so it is treated as a programming error.
func (m *Master) EndTracing() {
	if open := m.ctr.workers.Load(); open != 0 {
		panic(fmt.Sprintf("observer: EndTracing with %d worker views still open", open))
	}
	count := m.ctr.finished.Load()
	for _, o := range m.observers {
		o.EndTracing(count)
	}
}

// ParticleCount returns the number of trajectories that produced samples.
func (m *Master) ParticleCount() uint64 { return m.ctr.finished.Load() }

// sample is one buffered (state, time) pair of the current trajectory.
type sample struct {
	s *dynamics.State
	t float64
}

// Worker is one integration thread's view of the master observer.
type Worker struct {
	master *Master

	locals []Local
	active []bool

	buffer  []sample
	bufTop  int // samples in use; buffer entries beyond are reusable
	scratch *dynamics.State

	currentIC    *icgen.InitialCondition
	trajectoryID uint64
}

// Worker creates a per-thread view: thread-local observers are cloned and
// parented to their roots, shared observers are referenced as-is.
func (m *Master) Worker() *Worker {
	w := &Worker{
		master:  m,
		active:  make([]bool, len(m.locals)),
		scratch: dynamics.NewState(m.dim),
	}
	for _, root := range m.locals {
		clone := root.Clone()
		adopt(clone, root)
		if !clone.localBase().Ready() {
			clone.Init(m.dyn)
		}
		w.locals = append(w.locals, clone)
	}
	m.ctr.workers.Add(1)
	return w
}

// Close reduces every thread-local clone into its root. Must be called
// exactly once per worker, after the worker's last trajectory.
func (w *Worker) Close() {
	for _, l := range w.locals {
		Reduce(l)
	}
	w.locals = nil
	w.master.ctr.workers.Add(-1)
}

// StartTrajectory draws a fresh unique trajectory id, activates all local
// observers and clears the sample buffer.
func (w *Worker) StartTrajectory(ic *icgen.InitialCondition) {
	w.trajectoryID = w.master.ctr.started.Add(1)
	w.currentIC = ic

	for i := range w.active {
		w.active[i] = true
	}
	for _, l := range w.locals {
		l.StartTrajectory(ic, w.trajectoryID)
	}
	w.bufTop = 0
}

// Observe is the integrator callback. It caches the sample for the shared
// replay, feeds all still-active local observers, and returns false when
// neither a local nor a shared observer wants further samples.
func (w *Worker) Observe(state *dynamics.OdeState, t float64) bool {
	// Shared observers see the buffered samples later, so their presence
	// forces watching through to the end.
	stillWatching := len(w.master.shared) > 0

	w.pushSample(state, t)

	state.ReadInto(w.scratch)
	for i, l := range w.locals {
		if !w.active[i] {
			continue
		}
		if l.Watch(w.scratch, t) {
			stillWatching = true
		} else {
			w.active[i] = false
		}
	}
	return stillWatching
}

// pushSample appends a deep copy of the state to the trajectory buffer,
// reusing previously allocated entries.
func (w *Worker) pushSample(state *dynamics.OdeState, t float64) {
	if w.bufTop == len(w.buffer) {
		w.buffer = append(w.buffer, sample{s: dynamics.NewState(w.master.dim)})
	}
	e := &w.buffer[w.bufTop]
	state.ReadInto(e.s)
	e.t = t
	w.bufTop++
}

// EndTrajectory replays the buffered samples for every shared observer
// under its lock, finishes the local observers, and counts the particle if
// any samples were produced.
func (w *Worker) EndTrajectory() {
	if w.bufTop == 0 {
		return
	}
	last := w.buffer[w.bufTop-1].s

	for _, sh := range w.master.shared {
		mu := sh.replayLock()
		mu.Lock()
		sh.StartTrajectory(w.currentIC, w.trajectoryID)
		for i := 0; i < w.bufTop; i++ {
			if !sh.Watch(w.buffer[i].s, w.buffer[i].t) {
				break
			}
		}
		sh.EndTrajectory(last)
		mu.Unlock()
	}

	for _, l := range w.locals {
		l.EndTrajectory(last)
	}

	w.master.ctr.finished.Add(1)
}

// TracedParticles returns the number of finished trajectories so far.
func (w *Worker) TracedParticles() uint64 { return w.master.ctr.finished.Load() }
