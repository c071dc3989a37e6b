// tracer integrates ray ensembles through a generated potential and
// reduces them into observer output files.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/san-kum/branchflow/internal/dynamics"
	"github.com/san-kum/branchflow/internal/icgen"
	"github.com/san-kum/branchflow/internal/memprof"
	"github.com/san-kum/branchflow/internal/observer"
	"github.com/san-kum/branchflow/internal/potential"
	"github.com/san-kum/branchflow/internal/runcfg"
	"github.com/san-kum/branchflow/internal/tracer"
	"github.com/san-kum/branchflow/internal/tui"
)

var (
	okStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("82"))
	warnStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("220")).Bold(true)
	dimStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("242"))
)

var (
	cfg        = runcfg.Default()
	configFile string
	liveView   bool
)

func main() {
	root := &cobra.Command{
		Use:          "tracer [flags] potential",
		Short:        "trace ray ensembles through a potential",
		Args:         cobra.MaximumNArgs(1),
		SilenceUsage: true,
		RunE:         runTrace,
	}

	f := root.Flags()
	f.IntVarP(&cfg.Particles, "particles", "n", cfg.Particles, "number of particles to trace")
	f.Float64VarP(&cfg.Strength, "strength", "s", cfg.Strength, "override the potential strength")
	f.BoolVar(&cfg.Periodic, "periodic", false, "trace with periodic boundary conditions")
	f.StringVar(&sIncoming, "incoming", "planar", "initial condition generator and its arguments")
	f.StringVar(&sObservers, "observers", "", "observer specifications")
	f.StringVar(&sDynamics, "dynamics", "particle", "dynamics and its arguments")
	f.Float64Var(&cfg.RelErrBound, "rel-err-bound", cfg.RelErrBound, "relative error bound of the adaptive integrator")
	f.Float64Var(&cfg.AbsErrBound, "abs-err-bound", cfg.AbsErrBound, "absolute error bound of the adaptive integrator")
	f.Float64VarP(&cfg.EndTime, "end-time", "e", cfg.EndTime, "integration end time")
	f.StringVarP(&cfg.ResultDir, "result-dir", "r", cfg.ResultDir, "directory for observer output")
	f.BoolVar(&cfg.NoNormEnergy, "no-norm-energy", false, "do not normalise initial state energies")
	f.IntVarP(&cfg.Threads, "threads", "t", 0, "number of worker threads")
	f.IntVar(&cfg.MemoryMB, "memory", cfg.MemoryMB, "memory budget in MiB")
	f.StringVar(&cfg.Integrator, "integrator", cfg.Integrator, "integrator (adaptive, euler)")
	f.Float64Var(&cfg.TimeStep, "time-step", 0, "fixed or initial time step")
	f.StringVar(&configFile, "config", "", "load run configuration from yaml")
	f.BoolVar(&liveView, "live", false, "show a live progress view")

	root.AddCommand(plotCommand(), exportCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "an error occurred:", err)
		os.Exit(1)
	}
}

var sIncoming, sObservers, sDynamics string

func runTrace(cmd *cobra.Command, args []string) error {
	if configFile != "" {
		fromFlags := *cfg
		loaded, err := runcfg.Load(configFile)
		if err != nil {
			return err
		}
		*cfg = *loaded
		// Explicitly set flags override file values.
		restore := map[string]func(){
			"particles":      func() { cfg.Particles = fromFlags.Particles },
			"strength":       func() { cfg.Strength = fromFlags.Strength },
			"periodic":       func() { cfg.Periodic = fromFlags.Periodic },
			"rel-err-bound":  func() { cfg.RelErrBound = fromFlags.RelErrBound },
			"abs-err-bound":  func() { cfg.AbsErrBound = fromFlags.AbsErrBound },
			"end-time":       func() { cfg.EndTime = fromFlags.EndTime },
			"result-dir":     func() { cfg.ResultDir = fromFlags.ResultDir },
			"no-norm-energy": func() { cfg.NoNormEnergy = fromFlags.NoNormEnergy },
			"threads":        func() { cfg.Threads = fromFlags.Threads },
			"memory":         func() { cfg.MemoryMB = fromFlags.MemoryMB },
			"integrator":     func() { cfg.Integrator = fromFlags.Integrator },
			"time-step":      func() { cfg.TimeStep = fromFlags.TimeStep },
		}
		for name, apply := range restore {
			if cmd.Flags().Changed(name) {
				apply()
			}
		}
	}
	if cmd.Flags().Changed("incoming") || cfg.Incoming == nil {
		cfg.Incoming = strings.Fields(sIncoming)
	}
	if cmd.Flags().Changed("observers") {
		cfg.Observers = strings.Fields(sObservers)
	}
	if cmd.Flags().Changed("dynamics") || cfg.Dynamics == nil {
		cfg.Dynamics = strings.Fields(sDynamics)
	}
	if len(args) == 1 {
		cfg.Potential = args[0]
	}
	if cfg.Potential == "" {
		return fmt.Errorf("potential file is required")
	}

	memprof.Default.SetMaximum(int64(cfg.MemoryMB) * 1024 * 1024)

	setupStart := time.Now()
	pot, err := potential.LoadFile(cfg.Potential)
	if err != nil {
		return err
	}
	if cfg.Strength >= 0 {
		pot.SetStrength(cfg.Strength)
	}

	dyn, err := makeDynamics(cfg.Dynamics, pot, cfg.Periodic)
	if err != nil {
		return err
	}

	tr := tracer.New(pot, dyn)
	integ, err := tracer.ParseIntegrator(cfg.Integrator)
	if err != nil {
		return err
	}
	tr.SetIntegrator(integ)
	tr.SetErrorBounds(cfg.AbsErrBound, cfg.RelErrBound)
	tr.SetEndTime(cfg.EndTime)
	if cfg.Threads > 0 {
		tr.SetMaxThreads(cfg.Threads)
	}
	if cfg.TimeStep > 0 {
		tr.SetTimeStep(cfg.TimeStep)
	}

	observers, err := observer.BuildAll(cfg.Observers, pot)
	if err != nil {
		return err
	}
	for _, obs := range observers {
		tr.AddObserver(obs)
	}

	gen, err := icgen.Make(tr.Dim(), cfg.Incoming, pot.Seed())
	if err != nil {
		return err
	}

	if err := os.MkdirAll(cfg.ResultDir, 0o755); err != nil {
		return err
	}
	if err := writeConfigFile(pot); err != nil {
		return err
	}

	fmt.Println(dimStyle.Render("potinfo:"), strings.TrimSpace(pot.Info()))
	fmt.Println(dimStyle.Render(fmt.Sprintf("setup took %s", time.Since(setupStart).Round(time.Millisecond))))

	icCfg := icgen.Config{
		ParticleCount:     cfg.Particles,
		UseRelativeCoords: true,
		NormalizeEnergy:   !cfg.NoNormEnergy,
	}

	var live *tui.Program
	var result tracer.TraceResult
	var traceErr error

	traceStart := time.Now()
	if liveView {
		live = tui.NewProgram(uint64(cfg.Particles))
		tr.Progress = live.Report
		go func() {
			result, traceErr = tr.Trace(gen, icCfg)
			live.Done()
		}()
		if err := live.Run(); err != nil {
			return err
		}
	} else {
		result, traceErr = tr.Trace(gen, icCfg)
	}
	if traceErr != nil {
		return traceErr
	}

	fmt.Println(dimStyle.Render(fmt.Sprintf("calculation took %s", time.Since(traceStart).Round(time.Millisecond))))
	fmt.Println(okStyle.Render(fmt.Sprintf("traced %d particles", result.ParticleCount)))
	fmt.Printf("maximum energy deviation: %g%%\n", result.MaxRelEnergyError*100)
	if result.MaxRelEnergyError > 1e-3 {
		fmt.Println(warnStyle.Render(fmt.Sprintf(
			"this indicates numerical problems: the potential resolution may be too low or its strength too high (mean deviation %g%%)",
			result.MeanRelEnergyError*100)))
	}

	return saveObservers(tr, result.ParticleCount)
}

// writeConfigFile records the literal command line and the potential
// metadata next to the observer output.
func writeConfigFile(pot *potential.Potential) error {
	f, err := os.Create(filepath.Join(cfg.ResultDir, "config.txt"))
	if err != nil {
		return err
	}
	defer f.Close()

	fmt.Fprintln(f, "# command line")
	fmt.Fprintln(f, strings.Join(os.Args, " "))
	fmt.Fprintln(f, "\n# potential data")
	fmt.Fprintln(f, pot.Info())
	fmt.Fprintln(f, "# tracing info")
	fmt.Fprintln(f, "  energy normalization", !cfg.NoNormEnergy)
	return nil
}

// saveObservers writes one file per observer. A failing observer is
// reported but does not keep the others from being saved.
func saveObservers(tr *tracer.Tracer, particles uint64) error {
	var firstErr error
	for _, obs := range tr.Observers() {
		path := filepath.Join(cfg.ResultDir, obs.Filename())
		if err := saveObserver(obs, path); err != nil {
			fmt.Fprintf(os.Stderr, "could not save observer data to %s: %v\n", path, err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	// Append the particle count to config.txt once it is known.
	f, err := os.OpenFile(filepath.Join(cfg.ResultDir, "config.txt"), os.O_APPEND|os.O_WRONLY, 0o644)
	if err == nil {
		fmt.Fprintln(f, "# particles", particles)
		f.Close()
	}
	return firstErr
}

func saveObserver(obs observer.Observer, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return obs.Save(f)
}

// dynamicsNames lists the registered dynamics.
func dynamicsNames() []string { return []string{"particle"} }

// makeDynamics resolves the --dynamics spec. Monodromy tracing is enabled
// when the potential carries second derivatives, unless disabled
// explicitly.
func makeDynamics(spec []string, pot *potential.Potential, periodic bool) (dynamics.RayDynamics, error) {
	if len(spec) == 0 {
		spec = []string{"particle"}
	}
	name, dynArgs := spec[0], spec[1:]
	switch name {
	case "particle":
		monodromy := pot.HasDerivativesOfOrder(2, potential.DefaultQuantity)
		for _, a := range dynArgs {
			switch a {
			case "monodromy":
				monodromy = true
			case "no_monodromy":
				monodromy = false
			default:
				return nil, fmt.Errorf("unknown dynamics argument %q", a)
			}
		}
		return dynamics.NewParticleInPotential(pot, periodic, monodromy)
	}
	return nil, fmt.Errorf("unknown dynamics %q (registered: %s)", name, strings.Join(dynamicsNames(), ", "))
}
