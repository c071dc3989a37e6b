// Package memprof tracks the memory explicitly allocated for grid buffers
// against a process-wide budget. The density worker pool consults it before
// growing, so the accounting only needs to cover the large allocations.
package memprof

import (
	"errors"
	"sync/atomic"
)

// ErrBudgetExceeded indicates that an allocation would exceed the configured cap.
var ErrBudgetExceeded = errors.New("memprof: memory budget exceeded")

// Tracker counts outstanding bytes against a maximum.
// The zero value has an effectively unlimited budget.
type Tracker struct {
	inUse   atomic.Int64
	peak    atomic.Int64
	maximum atomic.Int64
}

// Default is the process-wide tracker used by grid allocation.
var Default = &Tracker{}

// SetMaximum sets the budget in bytes. Zero means unlimited.
func (t *Tracker) SetMaximum(bytes int64) { t.maximum.Store(bytes) }

// Maximum returns the configured budget in bytes (0 = unlimited).
func (t *Tracker) Maximum() int64 { return t.maximum.Load() }

// Allocate records an allocation of the given size.
func (t *Tracker) Allocate(bytes int64) {
	n := t.inUse.Add(bytes)
	for {
		p := t.peak.Load()
		if n <= p || t.peak.CompareAndSwap(p, n) {
			break
		}
	}
}

// Deallocate records that a previously recorded allocation was released.
func (t *Tracker) Deallocate(bytes int64) { t.inUse.Add(-bytes) }

// InUse returns the currently outstanding bytes.
func (t *Tracker) InUse() int64 { return t.inUse.Load() }

// Peak returns the highest outstanding byte count seen so far.
func (t *Tracker) Peak() int64 { return t.peak.Load() }

// WouldFit reports whether an additional allocation of the given size stays
// within the budget.
func (t *Tracker) WouldFit(bytes int64) bool {
	max := t.maximum.Load()
	return max <= 0 || t.inUse.Load()+bytes <= max
}
