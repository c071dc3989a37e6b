// Package grid implements the N-dimensional storage type shared by the
// potential generator and the ray tracer: a contiguous row-major buffer
// with a selectable index transform (identity, FFT-centred or periodic
// wrap) and binary dump/load support.
package grid

import (
	"errors"
	"fmt"
	"math"
	"unsafe"

	"github.com/san-kum/branchflow/internal/memprof"
)

// Element enumerates the cell types a grid can hold.
type Element interface {
	~float64 | ~float32 | ~complex128 | ~uint32 | ~uint64
}

// Sentinel errors for grid construction and I/O.
var (
	ErrOverflow     = errors.New("grid: cell count overflows")
	ErrInvalidShape = errors.New("grid: invalid shape")
	ErrTypeMismatch = errors.New("grid: element type mismatch")
	ErrFormat       = errors.New("grid: malformed grid dump")
)

// AccessMode selects how index vectors are transformed into storage offsets.
// The mode is metadata on the view; the storage layout never changes and
// switching modes is free.
type AccessMode int

const (
	// Identity uses indices as-is. The caller guarantees 0 <= i < extent.
	Identity AccessMode = iota
	// Centered maps the FFT index space [-E/2, E/2) onto storage by adding
	// the extent to negative components. Requires even extents.
	Centered
	// Periodic wraps every component into [0, extent).
	Periodic
)

func (m AccessMode) String() string {
	switch m {
	case Identity:
		return "identity"
	case Centered:
		return "fft-centered"
	case Periodic:
		return "periodic"
	}
	return fmt.Sprintf("AccessMode(%d)", int(m))
}

// storage owns the backing buffer. Shallow grid copies share one storage,
// so the allocation is accounted exactly once.
type storage[T Element] struct {
	data  []T
	bytes int64
}

func newStorage[T Element](cells int) *storage[T] {
	var zero T
	bytes := int64(cells) * int64(elemSize(zero))
	memprof.Default.Allocate(bytes)
	return &storage[T]{data: make([]T, cells), bytes: bytes}
}

// Grid is a view on shared storage: extents plus an access mode.
type Grid[T Element] struct {
	store   *storage[T]
	extents []int
	mode    AccessMode
}

// SafeProduct multiplies extents, failing on overflow or empty axes.
func SafeProduct(extents []int) (int, error) {
	if len(extents) == 0 {
		return 0, fmt.Errorf("%w: no extents", ErrInvalidShape)
	}
	prod := 1
	for _, e := range extents {
		if e <= 0 {
			return 0, fmt.Errorf("%w: non-positive extent %d", ErrInvalidShape, e)
		}
		if prod > math.MaxInt/e {
			return 0, fmt.Errorf("%w: extents %v", ErrOverflow, extents)
		}
		prod *= e
	}
	return prod, nil
}

// New allocates a zero-initialised grid with the given extents and mode.
func New[T Element](extents []int, mode AccessMode) (*Grid[T], error) {
	cells, err := SafeProduct(extents)
	if err != nil {
		return nil, err
	}
	g := &Grid[T]{
		store:   newStorage[T](cells),
		extents: append([]int(nil), extents...),
	}
	if err := g.SetAccessMode(mode); err != nil {
		g.Release()
		return nil, err
	}
	return g, nil
}

// NewSquare allocates a grid with the same extent on every axis.
func NewSquare[T Element](dim, size int, mode AccessMode) (*Grid[T], error) {
	extents := make([]int, dim)
	for i := range extents {
		extents[i] = size
	}
	return New[T](extents, mode)
}

// Release returns the buffer's bytes to the memory accounting. The grid
// must not be used afterwards. Releasing is optional; it exists so the
// density pool can retire scratch grids against the budget.
func (g *Grid[T]) Release() {
	if g.store != nil && g.store.bytes > 0 {
		memprof.Default.Deallocate(g.store.bytes)
		g.store.bytes = 0
	}
}

// Dim returns the number of axes.
func (g *Grid[T]) Dim() int { return len(g.extents) }

// Extents returns the per-axis cell counts. Callers must not modify it.
func (g *Grid[T]) Extents() []int { return g.extents }

// Cells returns the total cell count.
func (g *Grid[T]) Cells() int { return len(g.store.data) }

// Data exposes the raw row-major buffer for hot loops.
func (g *Grid[T]) Data() []T { return g.store.data }

// AccessMode returns the current index transform.
func (g *Grid[T]) AccessMode() AccessMode { return g.mode }

// SetAccessMode switches the index transform. Centered mode requires all
// extents to be even.
func (g *Grid[T]) SetAccessMode(mode AccessMode) error {
	if mode == Centered {
		for i, e := range g.extents {
			if e%2 != 0 {
				return fmt.Errorf("%w: fft-centered access on odd extent %d (axis %d)", ErrInvalidShape, e, i)
			}
		}
	}
	g.mode = mode
	return nil
}

// Shallow returns a new view sharing this grid's storage.
func (g *Grid[T]) Shallow() *Grid[T] {
	cp := *g
	cp.extents = append([]int(nil), g.extents...)
	return &cp
}

// Clone returns a deep copy with its own buffer.
func (g *Grid[T]) Clone() *Grid[T] {
	cp := &Grid[T]{
		store:   newStorage[T](g.Cells()),
		extents: append([]int(nil), g.extents...),
		mode:    g.mode,
	}
	copy(cp.store.data, g.store.data)
	return cp
}

// OffsetOf maps an index vector to a storage offset under the grid's
// access mode. Component count must equal the grid dimension.
func (g *Grid[T]) OffsetOf(index []int) int {
	offset := 0
	switch g.mode {
	case Identity:
		for i, e := range g.extents {
			v := index[i]
			if v < 0 || v >= e {
				panic(fmt.Sprintf("grid: identity index %d outside [0, %d) on axis %d", v, e, i))
			}
			offset = offset*e + v
		}
	case Centered:
		for i, e := range g.extents {
			v := index[i]
			if v < 0 {
				v += e
			}
			offset = offset*e + v
		}
	case Periodic:
		for i, e := range g.extents {
			v := index[i] % e
			if v < 0 {
				v += e
			}
			offset = offset*e + v
		}
	}
	return offset
}

// OffsetOfIndex is OffsetOf for a MultiIndex cursor position.
func (g *Grid[T]) OffsetOfIndex(mi *MultiIndex) int {
	offset := 0
	switch g.mode {
	case Identity:
		for i, e := range g.extents {
			offset = offset*e + mi.At(i)
		}
	case Centered:
		for i, e := range g.extents {
			v := mi.At(i)
			if v < 0 {
				v += e
			}
			offset = offset*e + v
		}
	case Periodic:
		for i, e := range g.extents {
			v := mi.At(i) % e
			if v < 0 {
				v += e
			}
			offset = offset*e + v
		}
	}
	return offset
}

// At returns the cell addressed by the index vector under the access mode.
func (g *Grid[T]) At(index ...int) T { return g.store.data[g.OffsetOf(index)] }

// Set writes the cell addressed by the index vector under the access mode.
func (g *Grid[T]) Set(v T, index ...int) { g.store.data[g.OffsetOf(index)] = v }

// Index returns a MultiIndex covering the grid in identity coordinates.
func (g *Grid[T]) Index() MultiIndex {
	mi := NewMultiIndex(g.Dim())
	mi.SetLowerBound(0)
	for i, e := range g.extents {
		mi.SetUpperBoundAt(i, e)
	}
	mi.Init()
	return mi
}

// Scale multiplies every cell by the factor.
func Scale[T Element](g *Grid[T], factor T) {
	data := g.Data()
	for i := range data {
		data[i] *= factor
	}
}

func elemSize[T Element](v T) int { return int(unsafe.Sizeof(v)) }
