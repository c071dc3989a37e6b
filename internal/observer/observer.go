// Package observer implements the reduction framework that turns
// per-trajectory integration data into aggregate statistics, plus the
// concrete observers shipped with the tracer.
//
// Observers come in two kinds. Thread-local observers are cloned once per
// worker; each clone accumulates privately and is merged back into its root
// under the root's mutex when the worker finishes. Thread-shared observers
// exist once; the master observer buffers a trajectory's samples and
// replays them under the shared observer's lock at trajectory end, so a
// shared observer sees each trajectory contiguously and in time order.
package observer

import (
	"io"
	"sync"

	"github.com/san-kum/branchflow/internal/dynamics"
	"github.com/san-kum/branchflow/internal/icgen"
)

// Observer is the capability set every observer implements. Watch returns
// false when the observer wants no further samples of the current
// trajectory.
type Observer interface {
	// Init injects the dynamics (for energy measurement and the like).
	Init(dyn dynamics.RayDynamics)

	// StartTracing is called once before the first worker runs.
	StartTracing()
	// EndTracing is called once after all workers are done.
	EndTracing(particleCount uint64)

	// StartTrajectory resets per-trajectory state.
	StartTrajectory(ic *icgen.InitialCondition, trajectory uint64)
	// Watch receives every integration step of the trajectory.
	Watch(state *dynamics.State, t float64) bool
	// EndTrajectory commits per-trajectory data. final is the last sample.
	EndTrajectory(final *dynamics.State)

	// Save serialises the gathered results.
	Save(w io.Writer) error
	// Filename is the file name the observer wants its results saved under.
	Filename() string
}

// Local is a thread-local observer: cloned per worker and reduced into the
// root. Combine must implement a commutative-associative fold, because
// reduction order between workers is not defined.
type Local interface {
	Observer
	Clone() Local
	Combine(other Local)
	localBase() *LocalBase
}

// Shared is a thread-shared observer: one instance serialised by its own
// mutex. The master observer takes the lock around the replay of a whole
// trajectory.
type Shared interface {
	Observer
	replayLock() *sync.Mutex
}

// Base carries the state common to all observers.
type Base struct {
	FileName string
	Dyn      dynamics.RayDynamics
	ready    bool
}

// NewBase creates a Base with the given save-file name.
func NewBase(fileName string) Base { return Base{FileName: fileName} }

func (b *Base) Init(dyn dynamics.RayDynamics) {
	b.Dyn = dyn
	b.ready = true
}

func (b *Base) Ready() bool      { return b.ready }
func (b *Base) Filename() string { return b.FileName }

// Default no-op hooks; concrete observers override what they need.
func (b *Base) StartTracing()                      {}
func (b *Base) EndTracing(uint64)                  {}
func (b *Base) EndTrajectory(*dynamics.State)      {}

// LocalBase implements the clone/merge bookkeeping of thread-local
// observers. A clone keeps a reference to its root; Reduce merges the
// clone into the root under the root's mutex and severs the link. Dropping
// an unmerged clone is a programming error; Master.EndTracing panics while
// a worker is still open.
type LocalBase struct {
	Base
	mu   sync.Mutex // taken on the root during reduction
	root Local
}

// NewLocalBase creates a LocalBase with the given save-file name.
func NewLocalBase(fileName string) LocalBase { return LocalBase{Base: NewBase(fileName)} }

func (b *LocalBase) localBase() *LocalBase { return b }

// IsClone reports whether this observer still has to be reduced.
func (b *LocalBase) IsClone() bool { return b.root != nil }

// adopt registers self as a clone of root.
func adopt(clone, root Local) {
	clone.localBase().root = root
}

// Reduce merges self into its root observer. Safe to call on the root
// itself (no-op).
func Reduce(self Local) {
	b := self.localBase()
	if b.root == nil {
		return
	}
	rb := b.root.localBase()
	rb.mu.Lock()
	b.root.Combine(self)
	rb.mu.Unlock()
	b.root = nil
}

// SharedBase implements the mutex of thread-shared observers.
type SharedBase struct {
	Base
	mu sync.Mutex
}

// NewSharedBase creates a SharedBase with the given save-file name.
func NewSharedBase(fileName string) SharedBase { return SharedBase{Base: NewBase(fileName)} }

func (b *SharedBase) replayLock() *sync.Mutex { return &b.mu }
