// Package potential manages a generated random field together with its
// spatial derivatives and creation metadata, and implements the binary
// file format that links the generator to the tracer.
package potential

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/san-kum/branchflow/internal/grid"
)

// DefaultQuantity is the name under which the scalar potential and its
// derivatives are stored. Alternative dynamics store additional quantities
// such as "velocity0", "velocity1", ...
const DefaultQuantity = "potential"

// Version is the generator version recorded in new potentials.
const Version = 3

var (
	ErrDimensionMismatch = errors.New("potential: dimension mismatch")
	ErrMissingDerivative = errors.New("potential: derivative not present")
)

// key identifies a stored grid by quantity name and derivative multi-index.
type key struct {
	name  string
	deriv string // encoded derivative orders, e.g. "1,0"
}

func encodeDeriv(deriv []int) string {
	var sb strings.Builder
	for i, d := range deriv {
		if i > 0 {
			sb.WriteByte(',')
		}
		fmt.Fprintf(&sb, "%d", d)
	}
	return sb.String()
}

type entry struct {
	name  string
	deriv []int
	data  *grid.Grid[float64]
}

// Potential is a map from (quantity, derivative order) to grids plus the
// metadata describing how the field was generated. All stored grids share
// the potential's dimension and extents.
type Potential struct {
	dimension int
	extents   []int
	support   []float64

	seed       uint64
	version    uint64
	corrLength float64
	strength   float64

	data map[key]*entry
}

// New creates an empty potential with the given extents and per-axis
// physical support.
func New(extents []int, support []float64) (*Potential, error) {
	if len(extents) != len(support) {
		return nil, fmt.Errorf("%w: %d extents but %d support entries", ErrDimensionMismatch, len(extents), len(support))
	}
	if _, err := grid.SafeProduct(extents); err != nil {
		return nil, err
	}
	return &Potential{
		dimension:  len(extents),
		extents:    append([]int(nil), extents...),
		support:    append([]float64(nil), support...),
		version:    Version,
		corrLength: -1,
		strength:   1,
		data:       make(map[key]*entry),
	}, nil
}

// SetCreationInfo records the seed, generator version and correlation length.
func (p *Potential) SetCreationInfo(seed uint64, version uint64, corrLength float64) {
	p.seed = seed
	p.version = version
	p.corrLength = corrLength
}

func (p *Potential) Dim() int                  { return p.dimension }
func (p *Potential) Extents() []int            { return p.extents }
func (p *Potential) Support() []float64        { return p.support }
func (p *Potential) Seed() uint64              { return p.seed }
func (p *Potential) GeneratorVersion() uint64  { return p.version }
func (p *Potential) CorrelationLength() float64 { return p.corrLength }
func (p *Potential) Strength() float64         { return p.strength }

// GridCount returns the number of stored grids across all quantities.
func (p *Potential) GridCount() int { return len(p.data) }

func zeroDeriv(dim int) []int { return make([]int, dim) }

// SetField stores the zeroth derivative of a quantity.
func (p *Potential) SetField(g *grid.Grid[float64], name string) error {
	return p.SetDerivative(zeroDeriv(p.dimension), g, name)
}

// SetDerivative stores the grid for a derivative multi-index. The index
// must have one non-negative entry per axis and the grid must match the
// potential's shape.
func (p *Potential) SetDerivative(deriv []int, g *grid.Grid[float64], name string) error {
	if len(deriv) != p.dimension {
		return fmt.Errorf("%w: derivative index has %d components, dimension is %d", ErrDimensionMismatch, len(deriv), p.dimension)
	}
	for i, d := range deriv {
		if d < 0 {
			return fmt.Errorf("potential: negative derivative order %d on axis %d", d, i)
		}
	}
	if g.Dim() != p.dimension {
		return fmt.Errorf("%w: grid dimension %d, potential dimension %d", ErrDimensionMismatch, g.Dim(), p.dimension)
	}
	for i, e := range g.Extents() {
		if e != p.extents[i] {
			return fmt.Errorf("%w: grid extent %d on axis %d, potential extent %d", ErrDimensionMismatch, e, i, p.extents[i])
		}
	}
	k := key{name: name, deriv: encodeDeriv(deriv)}
	p.data[k] = &entry{name: name, deriv: append([]int(nil), deriv...), data: g}
	return nil
}

// Field returns the zeroth derivative of a quantity.
func (p *Potential) Field(name string) (*grid.Grid[float64], error) {
	return p.Derivative(zeroDeriv(p.dimension), name)
}

// Derivative returns the grid stored for a derivative multi-index.
func (p *Potential) Derivative(deriv []int, name string) (*grid.Grid[float64], error) {
	if len(deriv) != p.dimension {
		return nil, fmt.Errorf("%w: derivative index has %d components, dimension is %d", ErrDimensionMismatch, len(deriv), p.dimension)
	}
	e, ok := p.data[key{name: name, deriv: encodeDeriv(deriv)}]
	if !ok {
		return nil, fmt.Errorf("%w: %s %v", ErrMissingDerivative, name, deriv)
	}
	return e.data, nil
}

// HasDerivative reports whether a derivative multi-index is stored.
func (p *Potential) HasDerivative(deriv []int, name string) bool {
	_, ok := p.data[key{name: name, deriv: encodeDeriv(deriv)}]
	return ok
}

// HasDerivativesOfOrder reports whether every derivative multi-index whose
// components sum to order is present for the quantity.
func (p *Potential) HasDerivativesOfOrder(order int, name string) bool {
	mi := grid.NewBoundedIndex(p.dimension, 0, order+1)
	for ; mi.Valid(); mi.Inc() {
		if mi.Accumulated() != order {
			continue
		}
		if !p.HasDerivative(mi.AsSlice(), name) {
			return false
		}
	}
	return true
}

// ScaleAll multiplies the potential and every derivative of the named
// quantity by the factor. An empty name scales every stored grid.
func (p *Potential) ScaleAll(factor float64, name string) {
	for _, e := range p.data {
		if name == "" || e.name == name {
			grid.Scale(e.data, factor)
		}
	}
}

// SetStrength rescales all grids by the ratio of new to current strength.
func (p *Potential) SetStrength(strength float64) {
	p.ScaleAll(strength/p.strength, "")
	p.strength = strength
}

// SetSupport changes the physical support. Each stored derivative is
// rescaled by prod((old_j/new_j)^order_j), reflecting the change of dx in
// the derivative definition.
func (p *Potential) SetSupport(support []float64) error {
	if len(support) != p.dimension {
		return fmt.Errorf("%w: %d support entries, dimension is %d", ErrDimensionMismatch, len(support), p.dimension)
	}
	same := true
	for i := range support {
		if support[i] != p.support[i] {
			same = false
			break
		}
	}
	if same {
		return nil
	}

	scale := make([]float64, p.dimension)
	for i := range scale {
		scale[i] = p.support[i] / support[i]
	}
	for _, e := range p.data {
		factor := 1.0
		for i, order := range e.deriv {
			factor *= math.Pow(scale[i], float64(order))
		}
		grid.Scale(e.data, factor)
	}
	p.support = append([]float64(nil), support...)
	return nil
}

// entries returns the stored grids in a deterministic order so that file
// output is reproducible.
func (p *Potential) entries() []*entry {
	out := make([]*entry, 0, len(p.data))
	for _, e := range p.data {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].name != out[j].name {
			return out[i].name < out[j].name
		}
		a, b := out[i].deriv, out[j].deriv
		for k := range a {
			if a[k] != b[k] {
				return a[k] < b[k]
			}
		}
		return false
	})
	return out
}

// Info returns the human-readable metadata block that is embedded in the
// file header and shown by the tracer.
func (p *Potential) Info() string {
	var sb strings.Builder
	sb.WriteString("\npotgen generated potential:\n")
	fmt.Fprintf(&sb, " seed    = %d\n", p.seed)
	fmt.Fprintf(&sb, " corlen  = %g\n", p.corrLength)
	fmt.Fprintf(&sb, " version = %d\n", p.version)
	sb.WriteString(" extents = (")
	for i, e := range p.extents {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "%d", e)
	}
	sb.WriteString(")\n support = (")
	for i, s := range p.support {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "%g", s)
	}
	sb.WriteString(")\n\n")
	return sb.String()
}
