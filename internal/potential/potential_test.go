package potential

import (
	"bytes"
	"math"
	"testing"

	"github.com/san-kum/branchflow/internal/grid"
)

func testPotential(t *testing.T) *Potential {
	t.Helper()
	p, err := New([]int{4, 4}, []float64{1, 1})
	if err != nil {
		t.Fatal(err)
	}
	p.SetCreationInfo(42, Version, 0.1)

	for _, deriv := range [][]int{{0, 0}, {1, 0}, {0, 1}, {2, 0}, {1, 1}, {0, 2}} {
		g, err := grid.New[float64]([]int{4, 4}, grid.Identity)
		if err != nil {
			t.Fatal(err)
		}
		for i := range g.Data() {
			g.Data()[i] = float64(i) + 10*float64(deriv[0]) + 100*float64(deriv[1])
		}
		if err := p.SetDerivative(deriv, g, DefaultQuantity); err != nil {
			t.Fatal(err)
		}
	}
	return p
}

func TestPotential_RoundTrip(t *testing.T) {
	p := testPotential(t)

	var buf bytes.Buffer
	if err := p.Write(&buf); err != nil {
		t.Fatal(err)
	}
	firstDump := append([]byte(nil), buf.Bytes()...)

	loaded, err := Read(&buf)
	if err != nil {
		t.Fatal(err)
	}

	if loaded.Seed() != 42 || loaded.CorrelationLength() != 0.1 || loaded.GeneratorVersion() != Version {
		t.Errorf("metadata not restored: seed=%d corlen=%g version=%d",
			loaded.Seed(), loaded.CorrelationLength(), loaded.GeneratorVersion())
	}
	if loaded.GridCount() != p.GridCount() {
		t.Fatalf("expected %d grids, got %d", p.GridCount(), loaded.GridCount())
	}

	for _, deriv := range [][]int{{0, 0}, {1, 0}, {0, 1}, {2, 0}, {1, 1}, {0, 2}} {
		want, _ := p.Derivative(deriv, DefaultQuantity)
		got, err := loaded.Derivative(deriv, DefaultQuantity)
		if err != nil {
			t.Fatal(err)
		}
		for i := range want.Data() {
			if want.Data()[i] != got.Data()[i] {
				t.Fatalf("derivative %v cell %d differs", deriv, i)
			}
		}
	}

	// Writing the loaded potential again is byte-identical.
	var buf2 bytes.Buffer
	if err := loaded.Write(&buf2); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(firstDump, buf2.Bytes()) {
		t.Error("second dump differs from the first")
	}
}

func TestPotential_BadMagic(t *testing.T) {
	if _, err := Read(bytes.NewReader([]byte("nope!"))); err != ErrBadMagic {
		t.Errorf("expected ErrBadMagic, got %v", err)
	}
}

func TestPotential_SetStrength(t *testing.T) {
	p := testPotential(t)
	field, _ := p.Field(DefaultQuantity)
	before := field.Data()[5]

	p.SetStrength(2)
	if got := field.Data()[5]; got != before*2 {
		t.Errorf("strength 2: expected %g, got %g", before*2, got)
	}

	p.SetStrength(1)
	if got := field.Data()[5]; math.Abs(got-before) > 1e-12 {
		t.Errorf("strength back to 1: expected %g, got %g", before, got)
	}
}

func TestPotential_SetSupportRescalesDerivatives(t *testing.T) {
	p := testPotential(t)
	field, _ := p.Field(DefaultQuantity)
	first, _ := p.Derivative([]int{1, 0}, DefaultQuantity)
	second, _ := p.Derivative([]int{2, 0}, DefaultQuantity)

	f0 := field.Data()[3]
	d1 := first.Data()[3]
	d2 := second.Data()[3]

	if err := p.SetSupport([]float64{2, 1}); err != nil {
		t.Fatal(err)
	}

	// The potential itself is order zero and unchanged; each derivative
	// order along the changed axis picks up a factor (old/new) = 1/2.
	if got := field.Data()[3]; got != f0 {
		t.Errorf("potential changed under support rescale: %g -> %g", f0, got)
	}
	if got := first.Data()[3]; math.Abs(got-d1/2) > 1e-12 {
		t.Errorf("first derivative: expected %g, got %g", d1/2, got)
	}
	if got := second.Data()[3]; math.Abs(got-d2/4) > 1e-12 {
		t.Errorf("second derivative: expected %g, got %g", d2/4, got)
	}
}

func TestPotential_ShapeChecks(t *testing.T) {
	p, _ := New([]int{4, 4}, []float64{1, 1})

	wrongDim, _ := grid.New[float64]([]int{4}, grid.Identity)
	if err := p.SetDerivative([]int{0, 0}, wrongDim, DefaultQuantity); err == nil {
		t.Error("expected error for dimension mismatch")
	}

	g, _ := grid.New[float64]([]int{4, 4}, grid.Identity)
	if err := p.SetDerivative([]int{0}, g, DefaultQuantity); err == nil {
		t.Error("expected error for short derivative index")
	}
	if err := p.SetDerivative([]int{-1, 0}, g, DefaultQuantity); err == nil {
		t.Error("expected error for negative derivative order")
	}
}

func TestPotential_HasDerivativesOfOrder(t *testing.T) {
	p := testPotential(t)
	if !p.HasDerivativesOfOrder(1, DefaultQuantity) {
		t.Error("first order derivatives should be present")
	}
	if !p.HasDerivativesOfOrder(2, DefaultQuantity) {
		t.Error("second order derivatives should be present")
	}
	if p.HasDerivativesOfOrder(3, DefaultQuantity) {
		t.Error("third order derivatives should not be present")
	}
}
