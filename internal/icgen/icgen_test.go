package icgen

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"testing"

	"gonum.org/v1/gonum/stat"
)

func initConfig(t *testing.T, gen *Generator, particles int) {
	t.Helper()
	dim := gen.WorldDim()
	support := make([]float64, dim)
	offset := make([]float64, dim)
	for i := range support {
		support[i] = 1
	}
	err := gen.Init(Config{
		ParticleCount:     particles,
		Support:           support,
		Offset:            offset,
		UseRelativeCoords: true,
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestGenerator_ExhaustiveAndUnique(t *testing.T) {
	tests := []struct {
		name      string
		spec      []string
		particles int
		expect    int
		manifold  int
	}{
		{"planar 1d manifold", []string{"planar", "1"}, 100, 100, 1},
		{"planar 2d manifold", []string{"planar", "2"}, 100, 100, 2}, // floor(sqrt(100))^2
		{"planar uneven", []string{"planar", "2"}, 120, 100, 2},      // floor(sqrt(120))^2 = 100
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			gen, err := Make(3, tc.spec, 1)
			if err != nil {
				t.Fatal(err)
			}
			initConfig(t, gen, tc.particles)

			const workers = 4
			var mu sync.Mutex
			seen := make(map[string]int)

			var wg sync.WaitGroup
			for w := 0; w < workers; w++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					ic := gen.Conditions()
					for ic.Next() {
						key := fmt.Sprint(ic.ManifoldIndex)
						mu.Lock()
						seen[key]++
						mu.Unlock()
					}
				}()
			}
			wg.Wait()

			if len(seen) != tc.expect {
				t.Errorf("expected %d distinct manifold cells, got %d", tc.expect, len(seen))
			}
			for key, count := range seen {
				if count != 1 {
					t.Errorf("cell %s produced %d times", key, count)
				}
			}
		})
	}
}

func TestPlanar_DeltasSpanManifold(t *testing.T) {
	gen, err := Make(2, []string{"planar"}, 1)
	if err != nil {
		t.Fatal(err)
	}
	initConfig(t, gen, 16)

	ic := gen.Conditions()
	if !ic.Next() {
		t.Fatal(ic.Err())
	}

	// The default planar wave spans the last axis; the finite-difference
	// delta therefore points along axis 1 with magnitude support.
	if math.Abs(ic.Deltas[0].Pos[0]) > 1e-6 || math.Abs(ic.Deltas[0].Pos[1]-1) > 1e-6 {
		t.Errorf("unexpected delta position derivative %v", ic.Deltas[0].Pos)
	}
	if math.Abs(ic.Deltas[0].Vel[0]) > 1e-6 || math.Abs(ic.Deltas[0].Vel[1]) > 1e-6 {
		t.Errorf("planar wave deltas must not change the velocity, got %v", ic.Deltas[0].Vel)
	}
}

func TestRadial2D_DirectionsUniform(t *testing.T) {
	gen, err := Make(2, []string{"radial", "0.5", "0.5"}, 1)
	if err != nil {
		t.Fatal(err)
	}
	const n = 20000
	initConfig(t, gen, n)

	var phis []float64
	ic := gen.Conditions()
	for ic.Next() {
		if math.Abs(ic.State.Pos[0]-0.5) > 1e-9 || math.Abs(ic.State.Pos[1]-0.5) > 1e-9 {
			t.Fatalf("radial origin moved: %v", ic.State.Pos)
		}
		phi := math.Atan2(ic.State.Vel[1], ic.State.Vel[0])
		phis = append(phis, (phi+math.Pi)/(2*math.Pi))
	}
	if err := ic.Err(); err != nil {
		t.Fatal(err)
	}
	if len(phis) != n {
		t.Fatalf("expected %d rays, got %d", n, len(phis))
	}

	// Kolmogorov-Smirnov distance against the uniform distribution.
	sort.Float64s(phis)
	ks := 0.0
	for i, v := range phis {
		lo := math.Abs(v - float64(i)/float64(len(phis)))
		hi := math.Abs(v - float64(i+1)/float64(len(phis)))
		ks = math.Max(ks, math.Max(lo, hi))
	}
	bound := 1.628 / math.Sqrt(float64(len(phis)))
	if ks > bound {
		t.Errorf("KS statistic %g exceeds %g", ks, bound)
	}

	// The angle coordinates average to one half.
	mean := stat.Mean(phis, nil)
	if math.Abs(mean-0.5) > 0.01 {
		t.Errorf("mean angle coordinate %g deviates from 0.5", mean)
	}
}

func TestRadial3D_CoversSphere(t *testing.T) {
	gen, err := Make(3, []string{"radial_3d"}, 1)
	if err != nil {
		t.Fatal(err)
	}
	const n = 4000
	initConfig(t, gen, n)

	count := 0
	sumZ := 0.0
	ic := gen.Conditions()
	for ic.Next() {
		norm := 0.0
		for _, v := range ic.State.Vel {
			norm += v * v
		}
		if math.Abs(norm-1) > 1e-9 {
			t.Fatalf("velocity not unit length: %v", ic.State.Vel)
		}
		sumZ += ic.State.Vel[2]
		count++
	}
	if err := ic.Err(); err != nil {
		t.Fatal(err)
	}

	// Equal-area sampling approximates the particle budget and balances
	// the hemispheres.
	if count < n/2 || count > n*2 {
		t.Errorf("expected roughly %d rays, got %d", n, count)
	}
	if math.Abs(sumZ/float64(count)) > 0.1 {
		t.Errorf("polar component imbalance: %g", sumZ/float64(count))
	}
}

func TestRandomPlanar_DeltasOrthogonalToVelocity(t *testing.T) {
	gen, err := Make(2, []string{"random_planar"}, 7)
	if err != nil {
		t.Fatal(err)
	}
	initConfig(t, gen, 50)

	ic := gen.Conditions()
	for ic.Next() {
		dot := 0.0
		for i := range ic.State.Vel {
			dot += ic.State.Vel[i] * ic.Deltas[0].Pos[i]
		}
		if math.Abs(dot) > 1e-6 {
			t.Fatalf("delta not orthogonal to the velocity: dot=%g", dot)
		}
	}
}

func TestMake_UnknownName(t *testing.T) {
	if _, err := Make(2, []string{"unknown_ic"}, 1); err == nil {
		t.Fatal("expected error for unknown initial condition")
	} else if !strings.Contains(err.Error(), "planar") || !strings.Contains(err.Error(), "radial") {
		t.Errorf("error should list registered generators, got: %v", err)
	}
}
