package observer

import (
	"fmt"
	"io"

	"github.com/san-kum/branchflow/internal/dynamics"
	"github.com/san-kum/branchflow/internal/fileio"
	"github.com/san-kum/branchflow/internal/icgen"
	"github.com/san-kum/branchflow/internal/interp"
)

// Caustic records one zero crossing of the signed area form along a
// trajectory. The CSV tags mark the scalar fields; the vector fields are
// excluded.
type Caustic struct {
	Trajectory uint64  `csv:"trajectory"`
	Pos        []float64 `csv:"-"`
	InitPos    []float64 `csv:"-"`
	Vel        []float64 `csv:"-"`
	InitVel    []float64 `csv:"-"`
	Time       float64 `csv:"time"`
	Index      uint8   `csv:"index"`
}

// write serialises one record: trajectory id, position, initial position,
// velocity, initial velocity, time and the per-trajectory caustic index as
// a single byte.
func (c *Caustic) write(w io.Writer) error {
	if err := fileio.WriteU64(w, c.Trajectory); err != nil {
		return err
	}
	for _, vec := range [][]float64{c.Pos, c.InitPos, c.Vel, c.InitVel} {
		if err := fileio.WriteF64s(w, vec); err != nil {
			return err
		}
	}
	if err := fileio.WriteF64(w, c.Time); err != nil {
		return err
	}
	_, err := w.Write([]byte{c.Index})
	return err
}

// ReadCaustic deserialises one record of the given dimension.
func ReadCaustic(r io.Reader, dim int) (Caustic, error) {
	var c Caustic
	var err error
	if c.Trajectory, err = fileio.ReadU64(r); err != nil {
		return c, err
	}
	for _, dst := range []*[]float64{&c.Pos, &c.InitPos, &c.Vel, &c.InitVel} {
		*dst = make([]float64, dim)
		if err = fileio.ReadF64s(r, *dst); err != nil {
			return c, err
		}
	}
	if c.Time, err = fileio.ReadF64(r); err != nil {
		return c, err
	}
	var b [1]byte
	if _, err = io.ReadFull(r, b[:]); err != nil {
		return c, err
	}
	c.Index = b[0]
	return c, nil
}

// CausticObserver detects caustics by watching the sign of the area (2D)
// or volume (3D) spanned by the monodromy-advected manifold deltas and the
// ray velocity. A sign change between two samples brackets a caustic; the
// crossing is located by linear interpolation. Requires monodromy tracing.
type CausticObserver struct {
	LocalBase

	dimension    int
	breakOnFirst bool

	causticCount   uint8
	particleNumber uint64
	oldArea        float64
	oldPosition    []float64
	oldVelocity    []float64
	oldTime        float64
	ic             *icgen.InitialCondition

	deltaVec []float64
	advected [6]float64
	caustics []Caustic
}

// NewCausticObserver creates the observer for a 2- or 3-dimensional world.
func NewCausticObserver(dimension int, breakOnFirst bool, fileName string) (*CausticObserver, error) {
	if dimension < 2 || dimension > 3 {
		return nil, fmt.Errorf("observer: caustic detection needs dimension 2 or 3, got %d", dimension)
	}
	return &CausticObserver{
		LocalBase:    NewLocalBase(fileName),
		dimension:    dimension,
		breakOnFirst: breakOnFirst,
		oldPosition:  make([]float64, dimension),
		oldVelocity:  make([]float64, dimension),
		deltaVec:     make([]float64, 2*dimension),
	}, nil
}

// Caustics returns the collected records.
func (o *CausticObserver) Caustics() []Caustic { return o.caustics }

func (o *CausticObserver) Clone() Local {
	clone, _ := NewCausticObserver(o.dimension, o.breakOnFirst, o.FileName)
	return clone
}

func (o *CausticObserver) Combine(other Local) {
	src := other.(*CausticObserver)
	o.caustics = append(o.caustics, src.caustics...)
	if src.particleNumber > o.particleNumber {
		o.particleNumber = src.particleNumber
	}
}

func (o *CausticObserver) StartTrajectory(ic *icgen.InitialCondition, trajectory uint64) {
	o.oldArea = 0
	o.causticCount = 0
	o.ic = ic
	o.particleNumber = trajectory
}

func (o *CausticObserver) Watch(state *dynamics.State, t float64) bool {
	var area float64
	if o.dimension == 2 {
		area = o.signedArea2D(state)
	} else {
		area = o.signedVolume3D(state)
	}

	// The very first sample has no previous area; spherical waves would
	// report a spurious caustic at the origin otherwise.
	if t > 0 && (area*o.oldArea < 0 || area == 0) {
		// A(t) crosses zero between the samples; locate the crossing
		// fraction p from the linear model A = (area - oldArea) p + oldArea.
		p := -o.oldArea / (area - o.oldArea)
		o.causticCount++

		pos := make([]float64, o.dimension)
		vel := make([]float64, o.dimension)
		interp.LerpVec(pos, o.oldPosition, state.Pos, p)
		interp.LerpVec(vel, o.oldVelocity, state.Vel, p)

		o.caustics = append(o.caustics, Caustic{
			Trajectory: o.particleNumber,
			Pos:        pos,
			InitPos:    append([]float64(nil), o.ic.State.Pos...),
			Vel:        vel,
			InitVel:    append([]float64(nil), o.ic.State.Vel...),
			Time:       interp.Lerp(o.oldTime, t, p),
			Index:      o.causticCount,
		})

		if o.breakOnFirst {
			return false
		}
	}

	o.oldArea = area
	copy(o.oldPosition, state.Pos)
	copy(o.oldVelocity, state.Vel)
	o.oldTime = t
	return true
}

// matVec computes dst = M * v for the 2dim x 2dim monodromy matrix.
func matVec(dst []float64, m []float64, v []float64) {
	n := len(v)
	for i := 0; i < n; i++ {
		sum := 0.0
		row := m[i*n:]
		for j := 0; j < n; j++ {
			sum += row[j] * v[j]
		}
		dst[i] = sum
	}
}

// signedArea2D is the 2D cross product of the advected position delta with
// the current velocity.
func (o *CausticObserver) signedArea2D(state *dynamics.State) float64 {
	delta := o.ic.Deltas[0].PhaseSpace(o.deltaVec)
	matVec(o.advected[:4], state.Mat, delta)
	return o.advected[0]*state.Vel[1] - o.advected[1]*state.Vel[0]
}

// signedVolume3D is the triple product of the two advected position deltas
// with the current velocity.
func (o *CausticObserver) signedVolume3D(state *dynamics.State) float64 {
	var v1, v2 [6]float64
	delta := o.ic.Deltas[0].PhaseSpace(o.deltaVec)
	matVec(v1[:], state.Mat, delta)
	delta = o.ic.Deltas[1].PhaseSpace(o.deltaVec)
	matVec(v2[:], state.Mat, delta)

	cx := v1[1]*v2[2] - v1[2]*v2[1]
	cy := -v1[0]*v2[2] + v1[2]*v2[0]
	cz := v1[0]*v2[1] - v1[1]*v2[0]

	return cx*state.Vel[0] + cy*state.Vel[1] + cz*state.Vel[2]
}

// Save writes the caustics file: magic "caus001\n", particle count,
// dimension, record count, then the records.
func (o *CausticObserver) Save(w io.Writer) error {
	if _, err := io.WriteString(w, "caus001\n"); err != nil {
		return err
	}
	if err := fileio.WriteU64(w, o.particleNumber); err != nil {
		return err
	}
	if err := fileio.WriteU64(w, uint64(o.dimension)); err != nil {
		return err
	}
	if err := fileio.WriteU64(w, uint64(len(o.caustics))); err != nil {
		return err
	}
	for i := range o.caustics {
		if err := o.caustics[i].write(w); err != nil {
			return err
		}
	}
	return nil
}
