package dynamics

import (
	"errors"
	"math"
	"testing"

	"github.com/san-kum/branchflow/internal/grid"
	"github.com/san-kum/branchflow/internal/potential"
)

// flatPotential builds a zero potential with derivatives up to the given
// order.
func flatPotential(t *testing.T, extents []int, maxOrder int) *potential.Potential {
	t.Helper()
	support := make([]float64, len(extents))
	for i := range support {
		support[i] = 1
	}
	p, err := potential.New(extents, support)
	if err != nil {
		t.Fatal(err)
	}
	mi := grid.NewBoundedIndex(len(extents), 0, maxOrder+1)
	for ; mi.Valid(); mi.Inc() {
		if mi.Accumulated() > maxOrder {
			continue
		}
		g, err := grid.New[float64](extents, grid.Identity)
		if err != nil {
			t.Fatal(err)
		}
		if err := p.SetDerivative(mi.AsSlice(), g, potential.DefaultQuantity); err != nil {
			t.Fatal(err)
		}
	}
	return p
}

func TestParticle_FreeMotion(t *testing.T) {
	pot := flatPotential(t, []int{16, 16}, 1)
	dyn, err := NewParticleInPotential(pot, true, false)
	if err != nil {
		t.Fatal(err)
	}

	state := NewOdeState(2, false)
	copy(state.Position(), []float64{0.5, 0.5})
	copy(state.Velocity(), []float64{1, -2})

	deriv := NewOdeState(2, false)
	if err := dyn.StateUpdate(state, deriv, 0); err != nil {
		t.Fatal(err)
	}

	if deriv.Position()[0] != 1 || deriv.Position()[1] != -2 {
		t.Errorf("dp/dt should equal velocity, got %v", deriv.Position())
	}
	if deriv.Velocity()[0] != 0 || deriv.Velocity()[1] != 0 {
		t.Errorf("zero potential should not accelerate, got %v", deriv.Velocity())
	}
}

func TestParticle_OutOfDomain(t *testing.T) {
	pot := flatPotential(t, []int{16, 16}, 1)
	dyn, err := NewParticleInPotential(pot, false, false)
	if err != nil {
		t.Fatal(err)
	}

	state := NewOdeState(2, false)
	copy(state.Position(), []float64{0.99, 0.5}) // 0.99*16 > 16-2
	deriv := NewOdeState(2, false)

	if err := dyn.StateUpdate(state, deriv, 0); !errors.Is(err, ErrOutOfDomain) {
		t.Errorf("expected ErrOutOfDomain near the boundary, got %v", err)
	}
}

func TestParticle_MonodromyNeedsSecondDerivatives(t *testing.T) {
	pot := flatPotential(t, []int{16, 16}, 1)
	if _, err := NewParticleInPotential(pot, true, true); err == nil {
		t.Error("expected error: monodromy without second derivatives")
	}

	pot2 := flatPotential(t, []int{16, 16}, 2)
	if _, err := NewParticleInPotential(pot2, true, true); err != nil {
		t.Errorf("unexpected error with second derivatives present: %v", err)
	}
}

func TestParticle_MonodromyFreeFlow(t *testing.T) {
	pot := flatPotential(t, []int{16, 16}, 2)
	dyn, _ := NewParticleInPotential(pot, true, true)

	state := NewOdeState(2, true)
	copy(state.Position(), []float64{0.5, 0.5})
	copy(state.Velocity(), []float64{1, 0})
	state.InitMonodromy()

	deriv := NewOdeState(2, true)
	if err := dyn.StateUpdate(state, deriv, 0); err != nil {
		t.Fatal(err)
	}

	// With H = 0, dM/dt = ((0, I), (0, 0)) * I: the upper-right block is
	// the identity, everything else vanishes.
	m := deriv.Matrix()
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			want := 0.0
			if i < 2 && j == i+2 {
				want = 1.0
			}
			if m[i*4+j] != want {
				t.Errorf("dM[%d][%d]: expected %g, got %g", i, j, want, m[i*4+j])
			}
		}
	}
}

func TestParticle_Energy(t *testing.T) {
	pot := flatPotential(t, []int{16, 16}, 1)
	dyn, _ := NewParticleInPotential(pot, true, false)

	s := NewState(2)
	copy(s.Pos, []float64{0.5, 0.5})
	copy(s.Vel, []float64{0.6, 0.8})

	if e := dyn.Energy(s); math.Abs(e-0.5) > 1e-12 {
		t.Errorf("expected energy 0.5, got %g", e)
	}
}

func TestParticle_NormalizeEnergy(t *testing.T) {
	pot := flatPotential(t, []int{16, 16}, 1)
	dyn, _ := NewParticleInPotential(pot, true, false)

	s := NewState(2)
	copy(s.Pos, []float64{0.5, 0.5})
	copy(s.Vel, []float64{3, 4})

	if err := dyn.NormalizeEnergy(s, 0.5); err != nil {
		t.Fatal(err)
	}
	if e := dyn.Energy(s); math.Abs(e-0.5) > 1e-12 {
		t.Errorf("energy after normalisation: expected 0.5, got %g", e)
	}
	// Direction is preserved.
	if math.Abs(s.Vel[0]/s.Vel[1]-0.75) > 1e-12 {
		t.Errorf("velocity direction changed: %v", s.Vel)
	}
}

func TestParticle_NormalizeEnergyUnreachable(t *testing.T) {
	pot := flatPotential(t, []int{16, 16}, 1)
	field, _ := pot.Field(potential.DefaultQuantity)
	for i := range field.Data() {
		field.Data()[i] = 2 // everywhere above the requested total
	}
	dyn, _ := NewParticleInPotential(pot, true, false)

	s := NewState(2)
	copy(s.Pos, []float64{0.5, 0.5})
	copy(s.Vel, []float64{1, 0})

	if err := dyn.NormalizeEnergy(s, 0.5); !errors.Is(err, ErrUnreachableEnergy) {
		t.Errorf("expected ErrUnreachableEnergy, got %v", err)
	}
}
