package observer

import (
	"bytes"
	"math"
	"testing"

	"github.com/san-kum/branchflow/internal/dynamics"
	"github.com/san-kum/branchflow/internal/icgen"
)

// planarIC builds an initial condition whose first delta advances the
// position along axis 1, as a planar wave front does.
func planarIC(dim int) *icgen.InitialCondition {
	ic := &icgen.InitialCondition{State: dynamics.NewState(dim)}
	ic.State.Vel[0] = 1
	for i := 0; i < dim-1; i++ {
		d := dynamics.NewState(dim)
		d.Pos[(i+1)%dim] = 1
		ic.Deltas = append(ic.Deltas, d)
	}
	return ic
}

// identityState returns a state with identity monodromy and the given
// velocity.
func identityState(dim int, vel []float64) *dynamics.State {
	s := dynamics.NewState(dim)
	copy(s.Vel, vel)
	s.Mat = make([]float64, 4*dim*dim)
	for i := 0; i < 2*dim; i++ {
		s.Mat[i*2*dim+i] = 1
	}
	return s
}

func TestCaustic_NoSignChangeNoCaustic(t *testing.T) {
	obs, err := NewCausticObserver(2, false, "caustics.dat")
	if err != nil {
		t.Fatal(err)
	}
	obs.StartTrajectory(planarIC(2), 1)

	// Constant velocity, identity monodromy: the signed area stays at a
	// fixed nonzero value.
	s := identityState(2, []float64{1, 0})
	for i := 1; i <= 10; i++ {
		if !obs.Watch(s, float64(i)*0.1) {
			t.Fatal("observer stopped unexpectedly")
		}
	}
	if len(obs.Caustics()) != 0 {
		t.Errorf("expected no caustics, got %d", len(obs.Caustics()))
	}
}

func TestCaustic_SignChangeInterpolated(t *testing.T) {
	obs, err := NewCausticObserver(2, false, "caustics.dat")
	if err != nil {
		t.Fatal(err)
	}
	obs.StartTrajectory(planarIC(2), 3)

	// The signed area for this IC is M01 * vy - M11 * vx; with vy = 0 and
	// vx = 1 it is -M11. Flip M11 between samples to force a crossing.
	mkState := func(m11 float64, x float64) *dynamics.State {
		s := identityState(2, []float64{1, 0})
		s.Mat[1*4+1] = m11
		s.Pos[0] = x
		return s
	}

	if !obs.Watch(mkState(1, 0.0), 0.1) {
		t.Fatal("observer stopped early")
	}
	if !obs.Watch(mkState(-1, 1.0), 0.2) {
		t.Fatal("observer stopped early")
	}

	caustics := obs.Caustics()
	if len(caustics) != 1 {
		t.Fatalf("expected one caustic, got %d", len(caustics))
	}
	c := caustics[0]
	if c.Trajectory != 3 || c.Index != 1 {
		t.Errorf("unexpected trajectory/index: %d/%d", c.Trajectory, c.Index)
	}
	// The area flips from -1 to 1, so the crossing is at the midpoint.
	if math.Abs(c.Time-0.15) > 1e-12 {
		t.Errorf("expected interpolated time 0.15, got %g", c.Time)
	}
	if math.Abs(c.Pos[0]-0.5) > 1e-12 {
		t.Errorf("expected interpolated position 0.5, got %g", c.Pos[0])
	}
}

func TestCaustic_BreakOnFirst(t *testing.T) {
	obs, err := NewCausticObserver(2, true, "caustics.dat")
	if err != nil {
		t.Fatal(err)
	}
	obs.StartTrajectory(planarIC(2), 1)

	s := identityState(2, []float64{1, 0})
	if !obs.Watch(s, 0.1) {
		t.Fatal("stopped before any caustic")
	}
	flipped := identityState(2, []float64{1, 0})
	flipped.Mat[1*4+1] = -1
	if obs.Watch(flipped, 0.2) {
		t.Error("break_on_first should stop after the first caustic")
	}
}

func TestCaustic_CombineAndSave(t *testing.T) {
	root, _ := NewCausticObserver(2, false, "caustics.dat")
	clone := root.Clone().(*CausticObserver)
	adopt(clone, root)

	clone.StartTrajectory(planarIC(2), 7)
	clone.Watch(identityState(2, []float64{1, 0}), 0.1)
	m := identityState(2, []float64{1, 0})
	m.Mat[1*4+1] = -1
	clone.Watch(m, 0.2)

	Reduce(clone)
	if len(root.Caustics()) != 1 {
		t.Fatalf("expected the caustic to be merged into the root")
	}

	var buf bytes.Buffer
	if err := root.Save(&buf); err != nil {
		t.Fatal(err)
	}

	// Round trip through the file format.
	r := bytes.NewReader(buf.Bytes())
	header := make([]byte, 8)
	if _, err := r.Read(header); err != nil || string(header) != "caus001\n" {
		t.Fatalf("bad header %q (%v)", header, err)
	}
	var u64 [8]byte
	for i := 0; i < 3; i++ { // particle count, dimension, record count
		if _, err := r.Read(u64[:]); err != nil {
			t.Fatal(err)
		}
	}
	c, err := ReadCaustic(r, 2)
	if err != nil {
		t.Fatal(err)
	}
	if c.Trajectory != 7 || c.Index != 1 {
		t.Errorf("record not restored: %+v", c)
	}
}

func TestCaustic_3DTripleProduct(t *testing.T) {
	obs, err := NewCausticObserver(3, false, "caustics.dat")
	if err != nil {
		t.Fatal(err)
	}
	ic := planarIC(3)
	obs.StartTrajectory(ic, 1)

	// Identity monodromy: deltas stay (0,1,0) and (0,0,1); their cross
	// product is (1,0,0), so the volume equals vx.
	s := identityState(3, []float64{2, 0, 0})
	if !obs.Watch(s, 0.1) {
		t.Fatal("stopped early")
	}
	if obs.oldArea != 2 {
		t.Errorf("expected signed volume 2, got %g", obs.oldArea)
	}
}
