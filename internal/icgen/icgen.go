// Package icgen enumerates starting states on a parametrised manifold.
//
// A Generator walks an integer multi-index over the manifold, converting
// each cell into an initial ray state plus finite-difference derivatives
// ("deltas") along the manifold axes. Multiple iterators may pull from the
// same generator concurrently; advancing the shared index is serialised by
// a mutex, so the union of all iterators covers every state exactly once.
package icgen

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/san-kum/branchflow/internal/dynamics"
	"github.com/san-kum/branchflow/internal/grid"
)

// deltaStep is the finite-difference step along manifold coordinates.
const deltaStep = 1e-5

var ErrNotInitialized = errors.New("icgen: generator used before Init")

// Config carries the options the tracer passes to a generator.
type Config struct {
	ParticleCount     int
	Support           []float64
	Offset            []float64
	UseRelativeCoords bool
	NormalizeEnergy   bool
	Dynamics          dynamics.RayDynamics
}

// form is the customisation point for concrete manifolds. generate must be
// a pure function of the manifold position (given the state set up by the
// last nextTrajectory call); it is invoked once for the base state and once
// per delta.
type form interface {
	name() string
	generate(pos, vel []float64, manifold []float64)
}

// initHook lets a form replace the default N^(1/m) manifold bounds.
type initHook interface {
	initGenerator(g *Generator, mi *grid.MultiIndex)
}

// nextHook is called before each trajectory; it may draw per-trajectory
// random state and adapt trailing-axis bounds.
type nextHook interface {
	nextTrajectory(manifold []float64, mi *grid.MultiIndex)
}

// Generator walks the manifold and produces initial conditions.
type Generator struct {
	worldDim    int
	manifoldDim int
	form        form

	cfg Config

	mu       sync.Mutex
	index    grid.MultiIndex
	position []float64
	ready    bool
}

func newGenerator(worldDim, manifoldDim int, f form) (*Generator, error) {
	if manifoldDim == 0 || manifoldDim > 2*worldDim {
		return nil, fmt.Errorf("icgen: incompatible dimensions: manifold %d, world %d", manifoldDim, worldDim)
	}
	return &Generator{
		worldDim:    worldDim,
		manifoldDim: manifoldDim,
		form:        f,
		index:       grid.NewMultiIndex(manifoldDim),
		position:    make([]float64, manifoldDim),
	}, nil
}

// WorldDim returns the dimension of produced positions and velocities.
func (g *Generator) WorldDim() int { return g.worldDim }

// ManifoldDim returns the dimension of the initial manifold.
func (g *Generator) ManifoldDim() int { return g.manifoldDim }

// Name returns the registered name of the manifold form.
func (g *Generator) Name() string { return g.form.name() }

// ParticleCount returns the configured particle count.
func (g *Generator) ParticleCount() int { return g.cfg.ParticleCount }

// Init validates the configuration and prepares the manifold index.
func (g *Generator) Init(cfg Config) error {
	if cfg.ParticleCount < 1 {
		return fmt.Errorf("icgen: particle count %d is not positive", cfg.ParticleCount)
	}
	if cfg.NormalizeEnergy && cfg.Dynamics == nil {
		return fmt.Errorf("icgen: energy normalisation requested but no dynamics set")
	}
	if len(cfg.Support) != g.worldDim {
		return fmt.Errorf("icgen: %d dimensional support in %d dimensional world", len(cfg.Support), g.worldDim)
	}
	if len(cfg.Offset) != g.worldDim {
		return fmt.Errorf("icgen: %d dimensional offset in %d dimensional world", len(cfg.Offset), g.worldDim)
	}
	g.cfg = cfg

	g.index = grid.NewMultiIndex(g.manifoldDim)
	g.index.SetLowerBound(0)
	if h, ok := g.form.(initHook); ok {
		h.initGenerator(g, &g.index)
	} else {
		g.defaultBounds(&g.index)
	}
	g.index.Init()
	g.updateManifoldPosition()
	g.ready = true
	return nil
}

// defaultBounds distributes the particle budget evenly: floor(N^(1/m))
// cells per manifold axis.
func (g *Generator) defaultBounds(mi *grid.MultiIndex) {
	root := math.Pow(float64(g.cfg.ParticleCount), 1.0/float64(g.manifoldDim))
	mi.SetUpperBound(int(math.Floor(root)))
}

func (g *Generator) updateManifoldPosition() {
	for i := 0; i < g.manifoldDim; i++ {
		g.position[i] = (float64(g.index.At(i)) + 0.5) / float64(g.index.UpperBound(i))
	}
}

// generateNormalized runs the form and applies coordinate scaling, offset
// and energy normalisation.
func (g *Generator) generateNormalized(s *dynamics.State, manifold []float64) error {
	g.form.generate(s.Pos, s.Vel, manifold)

	if g.cfg.UseRelativeCoords {
		for i := range s.Pos {
			s.Pos[i] *= g.cfg.Support[i]
		}
	}
	for i := range s.Pos {
		s.Pos[i] += g.cfg.Offset[i]
	}

	if g.cfg.NormalizeEnergy {
		return g.cfg.Dynamics.NormalizeEnergy(s, 0.5)
	}
	return nil
}

// advance moves ic to the next free manifold cell, or marks it invalid when
// the manifold is exhausted.
func (g *Generator) advance(ic *InitialCondition) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.ready {
		return ErrNotInitialized
	}
	if !g.index.Valid() {
		ic.valid = false
		return nil
	}

	if h, ok := g.form.(nextHook); ok {
		h.nextTrajectory(g.position, &g.index)
		// The hook may have adapted trailing-axis bounds; the coordinates
		// must reflect the bounds the cell is generated under.
		g.updateManifoldPosition()
	}

	if err := g.generateNormalized(ic.State, g.position); err != nil {
		return err
	}
	ic.valid = true

	for i := 0; i < g.manifoldDim; i++ {
		ic.ManifoldIndex[i] = g.index.At(i)
		ic.ManifoldCoords[i] = g.position[i]

		g.position[i] += deltaStep
		if err := g.generateNormalized(ic.Deltas[i], g.position); err != nil {
			return err
		}
		g.position[i] -= deltaStep

		// Difference quotient along the manifold axis.
		d := ic.Deltas[i]
		for j := 0; j < g.worldDim; j++ {
			d.Pos[j] = (d.Pos[j] - ic.State.Pos[j]) / deltaStep
			d.Vel[j] = (d.Vel[j] - ic.State.Vel[j]) / deltaStep
		}
	}

	if g.index.Inc(); g.index.Valid() {
		g.updateManifoldPosition()
	}
	return nil
}

// InitialCondition is one starting state plus its manifold deltas. It is
// also the iterator over the generator: create one per worker with
// Conditions and pull with Next.
type InitialCondition struct {
	State          *dynamics.State
	Deltas         []*dynamics.State
	ManifoldIndex  []int
	ManifoldCoords []float64

	valid bool
	err   error
	gen   *Generator
}

// Conditions creates a fresh iterator. The first Next call produces the
// first state.
func (g *Generator) Conditions() *InitialCondition {
	ic := &InitialCondition{
		State:          dynamics.NewState(g.worldDim),
		ManifoldIndex:  make([]int, g.manifoldDim),
		ManifoldCoords: make([]float64, g.manifoldDim),
		gen:            g,
	}
	for i := 0; i < g.manifoldDim; i++ {
		ic.Deltas = append(ic.Deltas, dynamics.NewState(g.worldDim))
	}
	return ic
}

// Next advances to the next initial condition. It returns false when the
// manifold is exhausted or an error occurred; check Err afterwards.
func (ic *InitialCondition) Next() bool {
	if err := ic.gen.advance(ic); err != nil {
		ic.err = err
		ic.valid = false
	}
	return ic.valid
}

// Err returns the error that ended iteration, if any.
func (ic *InitialCondition) Err() error { return ic.err }
