// Package tracer drives ensembles of ray trajectories through a potential:
// it fans initial conditions out over worker goroutines, integrates each
// trajectory and pumps the states into the observer framework.
package tracer

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/san-kum/branchflow/internal/dynamics"
	"github.com/san-kum/branchflow/internal/icgen"
	"github.com/san-kum/branchflow/internal/integrate"
	"github.com/san-kum/branchflow/internal/observer"
	"github.com/san-kum/branchflow/internal/potential"
)

// Integrator selects the stepping scheme.
type Integrator int

const (
	// AdaptiveCashKarp is the Runge-Kutta-Cash-Karp 5(4) adaptive stepper.
	AdaptiveCashKarp Integrator = iota
	// EulerConst is fixed-step explicit Euler.
	EulerConst
)

// ParseIntegrator resolves the CLI integrator name.
func ParseIntegrator(name string) (Integrator, error) {
	switch name {
	case "adaptive", "":
		return AdaptiveCashKarp, nil
	case "euler":
		return EulerConst, nil
	}
	return 0, fmt.Errorf("tracer: unknown integrator %q (known: adaptive, euler)", name)
}

// TraceResult summarises a run.
type TraceResult struct {
	MaxRelEnergyError  float64
	MeanRelEnergyError float64
	ParticleCount      uint64
}

// Tracer holds the run configuration and the master observer.
type Tracer struct {
	dim     int
	support []float64
	extents []int

	dyn    dynamics.RayDynamics
	master *observer.Master
	energy *observer.EnergyErrorObserver

	absErrBound float64
	relErrBound float64
	integrator  Integrator
	initialDt   float64
	endTime     float64
	maxThreads  int

	// Progress, if set, is called periodically from the printing worker
	// with the number of finished trajectories.
	Progress func(done uint64)
}

// New creates a tracer over the potential's geometry. The energy-error
// observer is always registered; its numbers feed the trace result.
func New(pot *potential.Potential, dyn dynamics.RayDynamics) *Tracer {
	t := &Tracer{
		dim:         pot.Dim(),
		support:     append([]float64(nil), pot.Support()...),
		extents:     append([]int(nil), pot.Extents()...),
		dyn:         dyn,
		master:      observer.NewMaster(pot.Dim(), dyn),
		energy:      observer.NewEnergyErrorObserver("energy.json"),
		absErrBound: 1e-6,
		relErrBound: 1e-6,
		endTime:     1.0,
		maxThreads:  runtime.NumCPU(),
	}

	// The initial step matches the cell size: dt = min_j support_j/extent_j.
	t.initialDt = t.support[0] / float64(t.extents[0])
	for i := 1; i < t.dim; i++ {
		if r := t.support[i] / float64(t.extents[i]); r < t.initialDt {
			t.initialDt = r
		}
	}

	t.master.Add(t.energy)
	return t
}

// SetErrorBounds sets the tolerances of the adaptive stepper.
func (t *Tracer) SetErrorBounds(absErr, relErr float64) {
	t.absErrBound = absErr
	t.relErrBound = relErr
}

// SetIntegrator selects the stepping scheme.
func (t *Tracer) SetIntegrator(i Integrator) { t.integrator = i }

// SetTimeStep overrides the initial (adaptive) or constant (Euler) step.
func (t *Tracer) SetTimeStep(dt float64) { t.initialDt = dt }

// SetEndTime sets the integration end time.
func (t *Tracer) SetEndTime(endTime float64) { t.endTime = endTime }

// SetMaxThreads bounds the worker count; zero or negative means one.
func (t *Tracer) SetMaxThreads(n int) {
	if n < 1 {
		n = 1
	}
	t.maxThreads = n
}

// AddObserver registers an observer with the master.
func (t *Tracer) AddObserver(obs observer.Observer) { t.master.Add(obs) }

// Observers returns all registered observers, for saving.
func (t *Tracer) Observers() []observer.Observer { return t.master.Observers() }

// Dim returns the world dimension.
func (t *Tracer) Dim() int { return t.dim }

func (t *Tracer) newStepper() integrate.Stepper {
	if t.integrator == EulerConst {
		return integrate.NewEuler()
	}
	return integrate.NewCashKarp54(t.absErrBound, t.relErrBound)
}

// Trace runs the whole ensemble. The IC generator is configured with the
// run's support shrunk by one cell per side, so interpolation has a safety
// margin even for non-periodic dynamics.
func (t *Tracer) Trace(gen *icgen.Generator, cfg icgen.Config) (TraceResult, error) {
	if t.dyn == nil {
		return TraceResult{}, fmt.Errorf("tracer: cannot trace without dynamics")
	}

	support := make([]float64, t.dim)
	offset := make([]float64, t.dim)
	for i := 0; i < t.dim; i++ {
		offset[i] = t.support[i] / float64(t.extents[i])
		support[i] = t.support[i] - 2*offset[i]
	}
	cfg.Dynamics = t.dyn
	cfg.Support = support
	cfg.Offset = offset
	if err := gen.Init(cfg); err != nil {
		return TraceResult{}, err
	}

	t.master.SetPeriodicBoundaries(t.dyn.HasPeriodicBoundary())
	t.master.StartTracing()

	threads := t.maxThreads
	if hw := runtime.NumCPU(); threads > hw {
		threads = hw
	}
	slog.Debug("distributing trajectories", "workers", threads)

	errs := make([]error, threads)
	var wg sync.WaitGroup
	for w := 0; w < threads; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			errs[w] = t.traceWorker(gen, w == 0)
		}(w)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return TraceResult{}, err
		}
	}

	t.master.EndTracing()

	return TraceResult{
		MaxRelEnergyError:  t.energy.MaxError(),
		MeanRelEnergyError: t.energy.MeanError(),
		ParticleCount:      t.master.ParticleCount(),
	}, nil
}

// traceWorker pulls initial conditions until the generator runs dry. The
// printer worker reports progress every ten seconds.
func (t *Tracer) traceWorker(gen *icgen.Generator, printer bool) error {
	wo := t.master.Worker()
	defer wo.Close()

	stepper := t.newStepper()
	state := dynamics.NewOdeState(t.dim, t.dyn.HasMonodromy())
	ic := gen.Conditions()
	lastReport := time.Now()

	for ic.Next() {
		if printer && time.Since(lastReport) > 10*time.Second {
			lastReport = time.Now()
			done := wo.TracedParticles()
			slog.Info("tracing", "trajectories", done)
			if t.Progress != nil {
				t.Progress(done)
			}
		}

		copy(state.Position(), ic.State.Pos)
		copy(state.Velocity(), ic.State.Vel)
		if t.dyn.HasMonodromy() {
			state.InitMonodromy()
		}

		wo.StartTrajectory(ic)

		err := stepper.Integrate(t.dyn.StateUpdate, state, 0, t.endTime, t.initialDt, wo.Observe)
		if err != nil && !errors.Is(err, dynamics.ErrOutOfDomain) {
			return err
		}

		wo.EndTrajectory()
	}
	return ic.Err()
}
