package dynamics

import (
	"fmt"
	"math"

	"github.com/san-kum/branchflow/internal/grid"
	"github.com/san-kum/branchflow/internal/interp"
	"github.com/san-kum/branchflow/internal/potential"
)

// ParticleInPotential integrates a point mass in a random potential:
//
//	dp/dt = v
//	dv/dt = -grad V(p * scale)
//
// Positions are in physical units; the gradient grids are sampled in grid
// units after multiplying by scale = extents / support. With monodromy
// enabled, the linearised flow dM/dt = B M with B = ((0, I), (-H, 0)) is
// advanced alongside, H being the Hessian at the sampled point.
type ParticleInPotential struct {
	dim      int
	periodic bool
	monodromy bool

	scale    []float64
	gridSize []float64

	field     *grid.Grid[float64]
	firstDer  []*grid.Grid[float64]
	secondDer []*grid.Grid[float64]
}

// NewParticleInPotential borrows the needed grids from the potential as
// periodic shallow views. Monodromy tracing requires second derivatives.
func NewParticleInPotential(pot *potential.Potential, periodic, monodromy bool) (*ParticleInPotential, error) {
	dim := pot.Dim()
	if dim < 1 || dim > 3 {
		return nil, fmt.Errorf("dynamics: unsupported dimension %d", dim)
	}

	d := &ParticleInPotential{
		dim:       dim,
		periodic:  periodic,
		monodromy: monodromy,
		scale:     make([]float64, dim),
		gridSize:  make([]float64, dim),
	}
	for i := 0; i < dim; i++ {
		d.scale[i] = float64(pot.Extents()[i]) / pot.Support()[i]
		d.gridSize[i] = float64(pot.Extents()[i])
	}

	field, err := pot.Field(potential.DefaultQuantity)
	if err != nil {
		return nil, err
	}
	d.field = periodicView(field)

	for i := 0; i < dim; i++ {
		der, err := pot.Derivative(unitDeriv(dim, i), potential.DefaultQuantity)
		if err != nil {
			return nil, fmt.Errorf("dynamics: missing first derivative along axis %d: %w", i, err)
		}
		d.firstDer = append(d.firstDer, periodicView(der))
	}

	if monodromy {
		if !pot.HasDerivativesOfOrder(2, potential.DefaultQuantity) {
			return nil, fmt.Errorf("dynamics: monodromy integration requires derivatives of second order")
		}
		d.secondDer = make([]*grid.Grid[float64], dim*dim)
		for i := 0; i < dim; i++ {
			for j := 0; j < dim; j++ {
				der, err := pot.Derivative(mixedDeriv(dim, i, j), potential.DefaultQuantity)
				if err != nil {
					return nil, err
				}
				d.secondDer[i*dim+j] = periodicView(der)
			}
		}
	}
	return d, nil
}

func periodicView(g *grid.Grid[float64]) *grid.Grid[float64] {
	v := g.Shallow()
	// Interpolation needs wrap-around lookups even for non-periodic
	// tracing; the domain margin check keeps samples inside the grid then.
	_ = v.SetAccessMode(grid.Periodic)
	return v
}

func unitDeriv(dim, axis int) []int {
	d := make([]int, dim)
	d[axis] = 1
	return d
}

func mixedDeriv(dim, i, j int) []int {
	d := make([]int, dim)
	d[i]++
	d[j]++
	return d
}

func (d *ParticleInPotential) HasMonodromy() bool        { return d.monodromy }
func (d *ParticleInPotential) HasPeriodicBoundary() bool { return d.periodic }

// StateUpdate implements RayDynamics.
func (d *ParticleInPotential) StateUpdate(state, deriv *OdeState, _ float64) error {
	var p [3]float64
	pos := state.Position()
	for i := 0; i < d.dim; i++ {
		p[i] = pos[i] * d.scale[i]
		// One cell of safety margin so interpolation never reaches a
		// non-existing neighbour.
		if !d.periodic && (p[i] < 1 || p[i] > d.gridSize[i]-2) {
			return ErrOutOfDomain
		}
	}

	acc := deriv.Velocity()
	for i := 0; i < d.dim; i++ {
		acc[i] = -interp.Sample(d.firstDer[i], p[:d.dim])
	}
	copy(deriv.Position(), state.Velocity())

	if d.monodromy {
		coeffs := d.hessianAt(p[:d.dim])
		monodromyProduct(d.dim, deriv.Matrix(), &coeffs, state.Matrix())
	}
	return nil
}

// hessianAt samples -H at the (grid-space) position, symmetric entries
// computed once.
func (d *ParticleInPotential) hessianAt(p []float64) [9]float64 {
	var coeffs [9]float64
	for x := 0; x < d.dim; x++ {
		for y := 0; y <= x; y++ {
			v := interp.Sample(d.secondDer[x*d.dim+y], p)
			coeffs[x*d.dim+y] = -v
			coeffs[y*d.dim+x] = -v
		}
	}
	return coeffs
}

// monodromyProduct computes out = B * in where
//
//	B = (0   I)
//	    (-H  0)
//
// in block form over dim-sized blocks; out and in are 2dim x 2dim
// row-major.
func monodromyProduct(dim int, out []float64, coeffs *[9]float64, in []float64) {
	rowSize := 2 * dim
	halfOffset := rowSize * dim

	// Upper half of B copies the lower rows of in.
	copy(out[:halfOffset], in[halfOffset:])

	for i := 0; i < dim; i++ {
		for j := 0; j < dim; j++ {
			sumM11 := 0.0
			sumM12 := 0.0
			for k := 0; k < dim; k++ {
				sumM11 += coeffs[i*dim+k] * in[k*rowSize+j]
				sumM12 += coeffs[i*dim+k] * in[k*rowSize+j+dim]
			}
			out[halfOffset+i*rowSize+j] = sumM11
			out[halfOffset+i*rowSize+j+dim] = sumM12
		}
	}
}

// Energy returns 1/2 |v|^2 + V(p).
func (d *ParticleInPotential) Energy(s *State) float64 {
	var p [3]float64
	for i := 0; i < d.dim; i++ {
		p[i] = s.Pos[i] * d.scale[i]
	}
	epot := interp.Sample(d.field, p[:d.dim])
	ekin := 0.0
	for _, v := range s.Vel {
		ekin += v * v
	}
	return epot + 0.5*ekin
}

// NormalizeEnergy rescales the velocity so the total energy matches the
// target. Fails when the potential energy at the position already exceeds
// the target.
func (d *ParticleInPotential) NormalizeEnergy(s *State, totalEnergy float64) error {
	var p [3]float64
	for i := 0; i < d.dim; i++ {
		p[i] = s.Pos[i] * d.scale[i]
	}
	epot := interp.Sample(d.field, p[:d.dim])
	diff := totalEnergy - epot
	if diff < 0 {
		return fmt.Errorf("%w: potential %g, total %g", ErrUnreachableEnergy, epot, totalEnergy)
	}

	want := math.Sqrt(2 * diff)
	norm := 0.0
	for _, v := range s.Vel {
		norm += v * v
	}
	norm = math.Sqrt(norm)
	for i := range s.Vel {
		s.Vel[i] *= want / norm
	}
	return nil
}
