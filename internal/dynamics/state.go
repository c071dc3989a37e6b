// Package dynamics defines particle states and the Hamiltonian ray
// dynamics that drive the tracer: a point mass moving through an
// interpolated potential, optionally carrying the monodromy matrix used
// for caustic detection.
package dynamics

import "fmt"

// State is the processing-friendly view of a particle: position, velocity
// and, when monodromy tracing is active, the 2D x 2D monodromy matrix in
// row-major order. It is used outside the integrator hot loop (initial
// conditions, observers).
type State struct {
	Pos []float64
	Vel []float64
	Mat []float64
}

// NewState creates a zero state of the given world dimension.
func NewState(dim int) *State {
	return &State{Pos: make([]float64, dim), Vel: make([]float64, dim)}
}

// Dim returns the world dimension.
func (s *State) Dim() int { return len(s.Pos) }

// Clone returns an independent copy.
func (s *State) Clone() *State {
	cp := &State{
		Pos: append([]float64(nil), s.Pos...),
		Vel: append([]float64(nil), s.Vel...),
	}
	if s.Mat != nil {
		cp.Mat = append([]float64(nil), s.Mat...)
	}
	return cp
}

// PhaseSpace writes (pos, vel) into a 2*dim vector.
func (s *State) PhaseSpace(dst []float64) []float64 {
	dim := s.Dim()
	if dst == nil {
		dst = make([]float64, 2*dim)
	}
	copy(dst[:dim], s.Pos)
	copy(dst[dim:2*dim], s.Vel)
	return dst
}

// OdeState is the flat vector the integrator works on: 2*dim components
// for position and velocity, plus 4*dim^2 monodromy components when
// enabled. Projections expose the segments without copying.
type OdeState struct {
	Data []float64

	dim       int
	monodromy bool
}

// NewOdeState allocates an integrator state.
func NewOdeState(dim int, monodromy bool) *OdeState {
	n := 2 * dim
	if monodromy {
		n += 4 * dim * dim
	}
	return &OdeState{Data: make([]float64, n), dim: dim, monodromy: monodromy}
}

func (o *OdeState) Dim() int            { return o.dim }
func (o *OdeState) HasMonodromy() bool  { return o.monodromy }
func (o *OdeState) Position() []float64 { return o.Data[:o.dim] }
func (o *OdeState) Velocity() []float64 { return o.Data[o.dim : 2*o.dim] }

// Matrix returns the monodromy segment (row-major 2dim x 2dim).
func (o *OdeState) Matrix() []float64 {
	if !o.monodromy {
		panic("dynamics: state carries no monodromy matrix")
	}
	return o.Data[2*o.dim:]
}

// InitMonodromy resets the monodromy block to the identity.
func (o *OdeState) InitMonodromy() {
	m := o.Matrix()
	for i := range m {
		m[i] = 0
	}
	rows := 2 * o.dim
	for i := 0; i < rows; i++ {
		m[i*rows+i] = 1
	}
}

// ReadInto converts the flat vector into a State, reusing the State's
// buffers.
func (o *OdeState) ReadInto(s *State) {
	if len(s.Pos) != o.dim {
		panic(fmt.Sprintf("dynamics: state dimension %d does not match ode state dimension %d", len(s.Pos), o.dim))
	}
	copy(s.Pos, o.Position())
	copy(s.Vel, o.Velocity())
	if o.monodromy {
		if s.Mat == nil {
			s.Mat = make([]float64, 4*o.dim*o.dim)
		}
		copy(s.Mat, o.Matrix())
	}
}
