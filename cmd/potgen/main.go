// potgen generates random potentials with a prescribed spatial correlation
// and writes them, together with their derivatives, into a binary file the
// tracer can load.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/san-kum/branchflow/internal/fft"
	"github.com/san-kum/branchflow/internal/grid"
	"github.com/san-kum/branchflow/internal/memprof"
	"github.com/san-kum/branchflow/internal/potgen"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("242"))
)

var (
	flagDim             int
	flagSize            []int
	flagStrength        float64
	flagCorrLength      float64
	flagCorrelation     string
	flagTrafo           string
	flagSeed            uint64
	flagDerivativeOrder int
	flagOutput          string
	flagThreads         int
	flagNoWisdom        bool
	flagPrintProfile    bool
	flagCorrelationOnly bool
)

func main() {
	root := &cobra.Command{
		Use:          "potgen [flags] output",
		Short:        "generate correlated random potentials",
		Args:         cobra.MaximumNArgs(1),
		SilenceUsage: true,
		RunE:         run,
	}

	root.Flags().IntVarP(&flagDim, "dimension", "d", 2, "dimension of the generated potential (1, 2 or 3)")
	root.Flags().IntSliceVarP(&flagSize, "size", "s", nil, "sizes of the generated potential")
	root.Flags().Float64Var(&flagStrength, "strength", 1.0, "strength of the generated potential")
	root.Flags().Float64VarP(&flagCorrLength, "corrlength", "l", 0.1, "correlation length")
	root.Flags().StringVarP(&flagCorrelation, "correlation", "c", "gauss", "correlation function type and parameters")
	root.Flags().StringVar(&flagTrafo, "trafo", "", "transformation matrix applied to the correlation argument, c(x) = f(Mx)")
	root.Flags().Uint64Var(&flagSeed, "seed", 1, "seed for phase randomization")
	root.Flags().IntVar(&flagDerivativeOrder, "derivative-order", 2, "highest order of computed derivatives")
	root.Flags().StringVarP(&flagOutput, "output", "o", "", "file to store the potential")
	root.Flags().IntVarP(&flagThreads, "threads", "t", 0, "number of threads for the FFT stages")
	root.Flags().BoolVar(&flagNoWisdom, "no-wisdom", false, "disable the on-disk FFT plan cache marker")
	root.Flags().BoolVar(&flagPrintProfile, "print-profile", false, "print profiling information after generation")
	root.Flags().BoolVar(&flagCorrelationOnly, "correlation-only", false, "only discretise the correlation function")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "an error occurred:", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	if flagOutput == "" {
		if len(args) != 1 {
			return fmt.Errorf("output file is required")
		}
		flagOutput = args[0]
	}
	if flagDim < 1 || flagDim > 3 {
		return fmt.Errorf("invalid dimension %d specified", flagDim)
	}
	if len(flagSize) == 0 {
		return fmt.Errorf("at least one --size is required")
	}

	extents := append([]int(nil), flagSize...)
	if len(extents) == 1 {
		for len(extents) < flagDim {
			extents = append(extents, extents[0])
		}
	}
	if len(extents) != flagDim {
		return fmt.Errorf("invalid number of size factors")
	}

	// The output file is created up front so a bad path fails before the
	// computation instead of after it.
	probe, err := os.Create(flagOutput)
	if err != nil {
		return fmt.Errorf("could not open result file %s: %w", flagOutput, err)
	}
	probe.Close()

	corrSpec := strings.Fields(flagCorrelation)
	corr, err := potgen.MakeCorrelation(corrSpec, flagCorrLength, flagDim)
	if err != nil {
		return err
	}
	if flagTrafo != "" {
		m, err := potgen.ParseTransform(strings.Fields(flagTrafo), flagDim)
		if err != nil {
			return err
		}
		corr = potgen.WithTransform(corr, m)
	}

	// Support keeps the aspect ratio of the extents: the smallest axis
	// spans the unit length.
	minExt := extents[0]
	for _, e := range extents {
		if e < minExt {
			minExt = e
		}
	}
	support := make([]float64, flagDim)
	for i := range support {
		support[i] = float64(extents[i]) / float64(minExt)
	}

	sizeDesc := make([]string, len(extents))
	for i, e := range extents {
		sizeDesc[i] = fmt.Sprint(e)
	}
	fmt.Println(headerStyle.Render("generate potential"), dimStyle.Render(strings.Join(sizeDesc, "x")))

	start := time.Now()

	if flagCorrelationOnly {
		g, err := potgen.Discretize(extents, support, corr)
		if err != nil {
			return err
		}
		sampled, err := grid.New[float64](extents, grid.Centered)
		if err != nil {
			return err
		}
		dst := sampled.Data()
		for i, v := range g.Data() {
			dst[i] = real(v)
		}
		fmt.Println("saving correlation to", flagOutput)
		return dumpGrid(sampled, flagOutput)
	}

	opt := potgen.Options{
		Seed:               flagSeed,
		MaxDerivativeOrder: flagDerivativeOrder,
		CorrLength:         flagCorrLength,
		Threads:            flagThreads,
		Randomize:          true,
		Verbose:            flagPrintProfile,
		Correlation:        corr,
	}

	pot, err := potgen.Generate(extents, support, opt)
	if err != nil {
		return err
	}

	field, err := pot.Field("potential")
	if err != nil {
		return err
	}
	mean, variance := fieldStats(field.Data())
	fmt.Printf("Avg: %g\nVar: %g\n", mean, variance)

	pot.SetStrength(flagStrength)

	fmt.Println("saving potential to", flagOutput)
	if err := pot.SaveFile(flagOutput); err != nil {
		return err
	}

	if !flagNoWisdom {
		// The pure-Go FFT backend rebuilds plans cheaply; the marker only
		// records that the plan cache was in use for this run.
		_ = fft.TouchWisdom()
	}

	if flagPrintProfile {
		slog.Info("generation finished",
			"took", time.Since(start),
			"peakMemoryMB", memprof.Default.Peak()/(1024*1024))
	}
	return nil
}

func fieldStats(data []float64) (mean, variance float64) {
	for _, v := range data {
		mean += v
	}
	mean /= float64(len(data))
	for _, v := range data {
		variance += v * v / float64(len(data))
	}
	return mean, variance
}

func dumpGrid(g *grid.Grid[float64], path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return g.Dump(f)
}
