package observer

import (
	"fmt"
	"io"
	"math"
	"sort"

	"github.com/san-kum/branchflow/internal/dynamics"
	"github.com/san-kum/branchflow/internal/fileio"
	"github.com/san-kum/branchflow/internal/grid"
	"github.com/san-kum/branchflow/internal/icgen"
	"github.com/san-kum/branchflow/internal/interp"
)

// RadialDensityObserver histograms the angle under which each ray first
// crosses a set of radii around its starting point. Intended for radial
// initial conditions in two dimensions.
type RadialDensityObserver struct {
	LocalBase

	radii      []float64
	resolution int

	counts []*grid.Grid[uint32]

	startPos     []float64
	lastDelta    []float64
	lastRadius   float64
	radiusIndex  int
	scratch      []float64
}

// NewRadialDensityObserver bins crossings of the (sorted) radii into
// resolution angular bins.
func NewRadialDensityObserver(resolution int, radii []float64, fileName string) (*RadialDensityObserver, error) {
	if len(radii) == 0 {
		return nil, fmt.Errorf("observer: empty list of radii for radial density")
	}
	for _, r := range radii {
		if r <= 0 {
			return nil, fmt.Errorf("observer: non-positive radius %g for radial density", r)
		}
	}
	o := &RadialDensityObserver{
		LocalBase:  NewLocalBase(fileName),
		radii:      append([]float64(nil), radii...),
		resolution: resolution,
	}
	sort.Float64s(o.radii)
	for range o.radii {
		g, err := grid.New[uint32]([]int{resolution}, grid.Identity)
		if err != nil {
			return nil, err
		}
		o.counts = append(o.counts, g)
	}
	return o, nil
}

func (o *RadialDensityObserver) Clone() Local {
	clone, err := NewRadialDensityObserver(o.resolution, o.radii, o.FileName)
	if err != nil {
		panic(err)
	}
	return clone
}

func (o *RadialDensityObserver) Combine(other Local) {
	src := other.(*RadialDensityObserver)
	for i, g := range o.counts {
		data := g.Data()
		for j, v := range src.counts[i].Data() {
			data[j] += v
		}
	}
}

func (o *RadialDensityObserver) StartTrajectory(ic *icgen.InitialCondition, _ uint64) {
	if o.startPos == nil {
		dim := len(ic.State.Pos)
		o.startPos = make([]float64, dim)
		o.lastDelta = make([]float64, dim)
		o.scratch = make([]float64, dim)
	}
	copy(o.startPos, ic.State.Pos)
	for i := range o.lastDelta {
		o.lastDelta[i] = 0
	}
	o.lastRadius = 0
	o.radiusIndex = 0
}

func (o *RadialDensityObserver) Watch(state *dynamics.State, t float64) bool {
	r := 0.0
	delta := o.scratch
	for i := range delta {
		delta[i] = state.Pos[i] - o.startPos[i]
		r += delta[i] * delta[i]
	}
	r = math.Sqrt(r)

	if r > o.radii[o.radiusIndex] {
		// Interpolate the crossing point on the segment.
		s := (o.radii[o.radiusIndex] - o.lastRadius) / (r - o.lastRadius)
		x := interp.Lerp(o.lastDelta[0], delta[0], s)
		y := interp.Lerp(o.lastDelta[1], delta[1], s)

		angle := math.Atan2(y, x) // in [-pi, pi]
		bin := int((angle/(2*math.Pi) + 0.5) * float64(o.resolution))
		if bin == o.resolution {
			bin--
		}
		o.counts[o.radiusIndex].Data()[bin]++

		if o.radiusIndex == len(o.radii)-1 {
			return false
		}
		o.radiusIndex++
	}

	o.lastRadius = r
	copy(o.lastDelta, delta)
	return true
}

// Save writes the radial density file: magic "rade001\n", radius count,
// resolution, the radii, then one count grid per radius.
func (o *RadialDensityObserver) Save(w io.Writer) error {
	if _, err := io.WriteString(w, "rade001\n"); err != nil {
		return err
	}
	if err := fileio.WriteU64(w, uint64(len(o.radii))); err != nil {
		return err
	}
	if err := fileio.WriteU64(w, uint64(o.resolution)); err != nil {
		return err
	}
	if err := fileio.WriteF64s(w, o.radii); err != nil {
		return err
	}
	for _, g := range o.counts {
		if err := g.Dump(w); err != nil {
			return err
		}
	}
	return nil
}
