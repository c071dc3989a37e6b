package icgen

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sort"
	"strconv"

	"github.com/san-kum/branchflow/internal/grid"
)

// ---------------------------------------------------------------------------
// planar wave

// planar spans a (hyper)plane: p(u) = origin + sum_k u_k span_k with a
// fixed velocity.
type planar struct {
	origin   []float64
	velocity []float64
	spanning [][]float64
}

func newPlanar(worldDim, waveDim int) (*Generator, error) {
	if waveDim > worldDim {
		return nil, fmt.Errorf("icgen: manifold dimension %d exceeds world dimension %d for planar wave", waveDim, worldDim)
	}
	f := &planar{
		origin:   make([]float64, worldDim),
		velocity: make([]float64, worldDim),
	}
	f.velocity[0] = 1
	for i := 0; i < waveDim; i++ {
		vec := make([]float64, worldDim)
		vec[worldDim-1-i] = 1
		f.spanning = append(f.spanning, vec)
	}
	return newGenerator(worldDim, waveDim, f)
}

func (f *planar) name() string { return "planar" }

func (f *planar) setSpanningVector(index int, vec []float64) error {
	if index >= len(f.spanning) {
		return fmt.Errorf("icgen: no spanning vector %d on a %d dimensional manifold", index, len(f.spanning))
	}
	norm := 0.0
	for _, v := range vec {
		norm += v * v
	}
	if norm < 1e-5 {
		return fmt.Errorf("icgen: spanning vector %d has zero length", index)
	}
	f.spanning[index] = vec
	return nil
}

func (f *planar) generate(pos, vel []float64, manifold []float64) {
	copy(pos, f.origin)
	for k, span := range f.spanning {
		for i := range pos {
			pos[i] += span[i] * manifold[k]
		}
	}
	copy(vel, f.velocity)
}

// ---------------------------------------------------------------------------
// random planar wave

// randomPlanar draws a fresh random direction (uniform on the sphere) and
// random origin for every trajectory; the manifold spans the hyperplane
// orthogonal to the velocity so caustic deltas describe a plane wave.
type randomPlanar struct {
	worldDim int
	rng      *rand.Rand

	fixedPos []float64
	fixedVel []float64

	cachePos      []float64
	cacheVel      []float64
	cacheStart    []float64
	cacheSpanning [][]float64
}

func newRandomPlanar(worldDim int, seed uint64) (*Generator, error) {
	f := &randomPlanar{
		worldDim:   worldDim,
		rng:        rand.New(rand.NewPCG(seed, 0x9e3779b97f4a7c15)),
		cachePos:   make([]float64, worldDim),
		cacheVel:   make([]float64, worldDim),
		cacheStart: make([]float64, worldDim-1),
	}
	for i := 0; i < worldDim-1; i++ {
		f.cacheSpanning = append(f.cacheSpanning, make([]float64, worldDim))
	}
	return newGenerator(worldDim, worldDim-1, f)
}

func (f *randomPlanar) name() string { return "random_planar" }

func (f *randomPlanar) nextTrajectory(manifold []float64, _ *grid.MultiIndex) {
	copy(f.cacheStart, manifold)

	if f.fixedPos != nil {
		copy(f.cachePos, f.fixedPos)
	} else {
		for i := range f.cachePos {
			f.cachePos[i] = f.rng.Float64()
		}
	}

	if f.fixedVel != nil {
		copy(f.cacheVel, f.fixedVel)
	} else if f.worldDim == 2 {
		angle := f.rng.Float64() * 2 * math.Pi
		f.cacheVel[0] = math.Sin(angle)
		f.cacheVel[1] = math.Cos(angle)
	} else {
		randomPointOnSphere(f.rng, f.cacheVel)
	}

	if f.worldDim == 2 {
		// (0,0,1) x (x,y,0) = (-y, x)
		f.cacheSpanning[0][0] = -f.cacheVel[1]
		f.cacheSpanning[0][1] = f.cacheVel[0]
	} else {
		// Cross the velocity with standard basis vectors, keeping the two
		// results with usable norm.
		j := 0
		for i := 0; i < 3 && j < 2; i++ {
			basis := [3]float64{}
			basis[i] = 1
			span := f.cacheSpanning[j]
			cross(span, basis[:], f.cacheVel)
			norm := math.Sqrt(span[0]*span[0] + span[1]*span[1] + span[2]*span[2])
			if norm > 0.2 {
				for k := range span {
					span[k] /= norm
				}
				j++
			}
		}
	}
}

func (f *randomPlanar) generate(pos, vel []float64, manifold []float64) {
	for i := 0; i < f.worldDim; i++ {
		v := f.cachePos[i]
		for j := range manifold {
			v += f.cacheSpanning[j][i] * (manifold[j] - f.cacheStart[j])
		}
		pos[i] = v
		vel[i] = f.cacheVel[i]
	}
}

func cross(dst, a, b []float64) {
	dst[0] = a[1]*b[2] - a[2]*b[1]
	dst[1] = a[2]*b[0] - a[0]*b[2]
	dst[2] = a[0]*b[1] - a[1]*b[0]
}

func randomPointOnSphere(rng *rand.Rand, dst []float64) {
	u := rng.Float64()*2 - 1
	theta := rng.Float64() * 2 * math.Pi
	r := math.Sqrt(1 - u*u)
	dst[0] = r * math.Cos(theta)
	dst[1] = r * math.Sin(theta)
	dst[2] = u
}

// ---------------------------------------------------------------------------
// radial wave, 2D

// radial2D emits rays from a fixed origin with v = (cos 2piu, sin 2piu).
type radial2D struct {
	origin []float64
}

func newRadial2D(worldDim int) (*Generator, error) {
	if worldDim < 2 {
		return nil, fmt.Errorf("icgen: radial wave requires at least a two dimensional world, got %d", worldDim)
	}
	f := &radial2D{origin: make([]float64, worldDim)}
	for i := range f.origin {
		f.origin[i] = 0.5
	}
	return newGenerator(worldDim, 1, f)
}

func (f *radial2D) name() string { return "radial" }

func (f *radial2D) generate(pos, vel []float64, manifold []float64) {
	copy(pos, f.origin)
	vel[0] = math.Cos(manifold[0] * 2 * math.Pi)
	vel[1] = math.Sin(manifold[0] * 2 * math.Pi)
}

// ---------------------------------------------------------------------------
// radial wave, 3D

// radial3D approximates equal-area sampling of the sphere: polar rows of
// width step = sqrt(4pi/N), with a per-row azimuth count proportional to
// the circle circumference at that latitude.
type radial3D struct {
	origin   [3]float64
	stepSize float64
}

func newRadial3D(worldDim int) (*Generator, error) {
	if worldDim != 3 {
		return nil, fmt.Errorf("icgen: radial_3d requires three dimensions, got %d", worldDim)
	}
	f := &radial3D{origin: [3]float64{0.5, 0.5, 0.5}}
	return newGenerator(worldDim, 2, f)
}

func (f *radial3D) name() string { return "radial_3d" }

func (f *radial3D) initGenerator(g *Generator, mi *grid.MultiIndex) {
	// Whole sphere: 4pi of solid angle over N particles; rows of width
	// sqrt(4pi/N) cover the polar range.
	f.stepSize = math.Sqrt(4 * math.Pi / float64(g.cfg.ParticleCount))
	rows := int(math.Ceil(math.Pi / f.stepSize))
	mi.SetUpperBoundAt(0, rows)
	mi.SetUpperBoundAt(1, 1)
}

func (f *radial3D) nextTrajectory(manifold []float64, mi *grid.MultiIndex) {
	theta := (2*manifold[0] - 1) * math.Pi / 2
	circumference := math.Cos(theta) * 2 * math.Pi

	// A new row recalculates its azimuth resolution from the latitude.
	if mi.At(mi.Dim()-1) == 0 {
		bound := int(math.Ceil(circumference / f.stepSize))
		if bound < 1 {
			bound = 1
		}
		mi.SetUpperBoundDynamic(1, bound)
	}
}

func (f *radial3D) generate(pos, vel []float64, manifold []float64) {
	theta := (2*manifold[0] - 1) * math.Pi / 2
	phi := manifold[1] * 2 * math.Pi

	copy(pos, f.origin[:])
	vel[0] = math.Cos(theta) * math.Sin(phi)
	vel[1] = math.Cos(theta) * math.Cos(phi)
	vel[2] = math.Sin(theta)
}

// ---------------------------------------------------------------------------
// random radial wave

// randomRadial emits every ray from its own random origin in a random
// direction; generate varies the direction smoothly with the manifold
// coordinates, so the deltas describe a coherent spherical wave and
// caustic detection keeps working.
type randomRadial struct {
	worldDim int
	rng      *rand.Rand

	fixedAngle []float64 // negative entries mean "not fixed"

	initialPos    []float64
	initialAngle  []float64
	manifoldStart []float64
}

func newRandomRadial(worldDim int, seed uint64) (*Generator, error) {
	if worldDim < 2 || worldDim > 3 {
		return nil, fmt.Errorf("icgen: random_radial requires a two or three dimensional world, got %d", worldDim)
	}
	f := &randomRadial{
		worldDim:      worldDim,
		rng:           rand.New(rand.NewPCG(seed, 0x6a09e667f3bcc909)),
		fixedAngle:    make([]float64, worldDim-1),
		initialPos:    make([]float64, worldDim),
		initialAngle:  make([]float64, worldDim-1),
		manifoldStart: make([]float64, worldDim-1),
	}
	for i := range f.fixedAngle {
		f.fixedAngle[i] = -1
	}
	return newGenerator(worldDim, worldDim-1, f)
}

func (f *randomRadial) name() string { return "random_radial" }

func (f *randomRadial) nextTrajectory(manifold []float64, _ *grid.MultiIndex) {
	copy(f.manifoldStart, manifold)

	for i := range f.initialPos {
		f.initialPos[i] = f.rng.Float64()
	}

	if f.worldDim == 2 {
		f.initialAngle[0] = f.rng.Float64() * 2 * math.Pi
	} else {
		u := f.rng.Float64()
		v := f.rng.Float64()
		f.initialAngle[0] = u * 2 * math.Pi
		f.initialAngle[1] = math.Acos(2*v - 1)
	}

	for i, fixed := range f.fixedAngle {
		if fixed >= 0 {
			f.initialAngle[i] = fixed
		}
	}
}

func (f *randomRadial) generate(pos, vel []float64, manifold []float64) {
	copy(pos, f.initialPos)
	if f.worldDim == 3 {
		phi := f.initialAngle[0] + (manifold[1]-f.manifoldStart[1])*2*math.Pi
		theta := f.initialAngle[1] + (manifold[0]-f.manifoldStart[0])*math.Pi
		vel[0] = math.Cos(phi) * math.Sin(theta)
		vel[1] = math.Sin(phi) * math.Sin(theta)
		vel[2] = math.Cos(theta)
	} else {
		phi := f.initialAngle[0] + (manifold[0]-f.manifoldStart[0])*2*math.Pi
		vel[0] = math.Cos(phi)
		vel[1] = math.Sin(phi)
	}
}

// ---------------------------------------------------------------------------
// construction from CLI specs

// Names lists the registered initial-condition generators.
func Names() []string {
	names := []string{"planar", "random_planar", "radial", "radial_3d", "random_radial"}
	sort.Strings(names)
	return names
}

// Make resolves an `--incoming` spec (name followed by its arguments) into
// a generator. Numeric arguments of radial and radial_3d set the origin,
// those of random_radial fix the direction angles; planar accepts an
// optional manifold dimension.
func Make(worldDim int, spec []string, seed uint64) (*Generator, error) {
	if len(spec) == 0 {
		return newPlanar(worldDim, worldDim-1)
	}
	name, args := spec[0], spec[1:]
	switch name {
	case "planar":
		waveDim := worldDim - 1
		if len(args) > 0 {
			v, err := strconv.Atoi(args[0])
			if err != nil {
				return nil, fmt.Errorf("icgen: invalid planar manifold dimension %q: %w", args[0], err)
			}
			waveDim = v
		}
		return newPlanar(worldDim, waveDim)
	case "random_planar":
		return newRandomPlanar(worldDim, seed)
	case "radial":
		gen, err := newRadial2D(worldDim)
		if err != nil {
			return nil, err
		}
		if len(args) > 0 {
			origin, err := parseFloats(args, worldDim, "radial origin")
			if err != nil {
				return nil, err
			}
			gen.form.(*radial2D).origin = origin
		}
		return gen, nil
	case "radial_3d":
		gen, err := newRadial3D(worldDim)
		if err != nil {
			return nil, err
		}
		if len(args) > 0 {
			origin, err := parseFloats(args, worldDim, "radial_3d origin")
			if err != nil {
				return nil, err
			}
			copy(gen.form.(*radial3D).origin[:], origin)
		}
		return gen, nil
	case "random_radial":
		gen, err := newRandomRadial(worldDim, seed)
		if err != nil {
			return nil, err
		}
		if len(args) > 0 {
			angles, err := parseFloats(args, worldDim-1, "random_radial fixed angles")
			if err != nil {
				return nil, err
			}
			copy(gen.form.(*randomRadial).fixedAngle, angles)
		}
		return gen, nil
	}
	return nil, fmt.Errorf("icgen: unknown initial condition %q (registered: %v)", name, Names())
}

func parseFloats(args []string, want int, what string) ([]float64, error) {
	if len(args) != want {
		return nil, fmt.Errorf("icgen: %s needs %d values, got %d", what, want, len(args))
	}
	out := make([]float64, want)
	for i, a := range args {
		v, err := strconv.ParseFloat(a, 64)
		if err != nil {
			return nil, fmt.Errorf("icgen: invalid %s value %q: %w", what, a, err)
		}
		out[i] = v
	}
	return out, nil
}
