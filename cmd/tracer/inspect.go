package main

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/gocarina/gocsv"
	"github.com/guptarohit/asciigraph"
	"github.com/spf13/cobra"

	"github.com/san-kum/branchflow/internal/fileio"
	"github.com/san-kum/branchflow/internal/grid"
	"github.com/san-kum/branchflow/internal/observer"
)

// plotCommand renders observer output files as terminal graphs.
func plotCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "plot file",
		Short: "render an observer output file as a terminal graph",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			r := bufio.NewReader(f)
			magic, err := readMagic(r)
			if err != nil {
				return err
			}

			switch magic {
			case "dens001":
				return plotDensity(r)
			case "angh001":
				return plotAngularHistogram(r)
			default:
				return fmt.Errorf("no plot support for %q files", magic)
			}
		},
	}
}

func readMagic(r io.Reader) (string, error) {
	buf := make([]byte, 8)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	if buf[7] != '\n' {
		return "", fmt.Errorf("not an observer output file")
	}
	return string(buf[:7]), nil
}

// plotDensity shows the density profile along the first axis, averaged
// over the remaining axes.
func plotDensity(r io.Reader) error {
	dim, err := fileio.ReadU64(r)
	if err != nil {
		return err
	}
	support := make([]float64, dim)
	if err := fileio.ReadF64s(r, support); err != nil {
		return err
	}
	g, err := grid.Load[float32](r)
	if err != nil {
		return err
	}

	extents := g.Extents()
	rows := extents[0]
	cols := g.Cells() / rows

	profile := make([]float64, rows)
	data := g.Data()
	for i := 0; i < rows; i++ {
		sum := 0.0
		for j := 0; j < cols; j++ {
			sum += float64(data[i*cols+j])
		}
		profile[i] = sum / float64(cols)
	}

	fmt.Println(asciigraph.Plot(profile,
		asciigraph.Height(16),
		asciigraph.Caption(fmt.Sprintf("density profile along axis 0 (support %g)", support[0]))))
	return nil
}

// plotAngularHistogram shows the angle distribution of the last recorded
// time.
func plotAngularHistogram(r io.Reader) error {
	histograms, err := fileio.ReadU64(r)
	if err != nil {
		return err
	}
	bins, err := fileio.ReadU64(r)
	if err != nil {
		return err
	}
	times := make([]float64, histograms)
	if err := fileio.ReadF64s(r, times); err != nil {
		return err
	}
	angles := make([]float64, bins)
	if err := fileio.ReadF64s(r, angles); err != nil {
		return err
	}
	// angle sums and squares are not plotted
	skip := make([]float64, 2*histograms)
	if err := fileio.ReadF64s(r, skip); err != nil {
		return err
	}

	var last []float64
	for h := uint64(0); h < histograms; h++ {
		counts := make([]float64, bins)
		for b := range counts {
			v, err := fileio.ReadU64(r)
			if err != nil {
				return err
			}
			counts[b] = float64(v)
		}
		last = counts
	}

	fmt.Println(asciigraph.Plot(last,
		asciigraph.Height(16),
		asciigraph.Caption(fmt.Sprintf("angle distribution at t=%g", times[len(times)-1]))))
	return nil
}

// causticRow flattens a caustic record for CSV output.
type causticRow struct {
	Trajectory uint64  `csv:"trajectory"`
	Time       float64 `csv:"time"`
	Index      uint8   `csv:"index"`
	X          float64 `csv:"x"`
	Y          float64 `csv:"y"`
	Z          float64 `csv:"z"`
	VX         float64 `csv:"vx"`
	VY         float64 `csv:"vy"`
	VZ         float64 `csv:"vz"`
	InitX      float64 `csv:"init_x"`
	InitY      float64 `csv:"init_y"`
	InitZ      float64 `csv:"init_z"`
}

// exportCommand converts a binary caustics file into CSV.
func exportCommand() *cobra.Command {
	var outPath string
	cmd := &cobra.Command{
		Use:   "export caustics.dat",
		Short: "convert a caustics file to CSV",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			r := bufio.NewReader(f)
			magic, err := readMagic(r)
			if err != nil {
				return err
			}
			if magic != "caus001" {
				return fmt.Errorf("%s is not a caustics file", args[0])
			}

			if _, err := fileio.ReadU64(r); err != nil { // particle count
				return err
			}
			dim, err := fileio.ReadU64(r)
			if err != nil {
				return err
			}
			count, err := fileio.ReadU64(r)
			if err != nil {
				return err
			}

			rows := make([]*causticRow, 0, count)
			for i := uint64(0); i < count; i++ {
				c, err := observer.ReadCaustic(r, int(dim))
				if err != nil {
					return err
				}
				row := &causticRow{Trajectory: c.Trajectory, Time: c.Time, Index: c.Index}
				assign3(&row.X, &row.Y, &row.Z, c.Pos)
				assign3(&row.VX, &row.VY, &row.VZ, c.Vel)
				assign3(&row.InitX, &row.InitY, &row.InitZ, c.InitPos)
				rows = append(rows, row)
			}

			out := os.Stdout
			if outPath != "" {
				out, err = os.Create(outPath)
				if err != nil {
					return err
				}
				defer out.Close()
			}
			return gocsv.Marshal(rows, out)
		},
	}
	cmd.Flags().StringVarP(&outPath, "output", "o", "", "CSV output path (default stdout)")
	return cmd
}

func assign3(x, y, z *float64, v []float64) {
	if len(v) > 0 {
		*x = v[0]
	}
	if len(v) > 1 {
		*y = v[1]
	}
	if len(v) > 2 {
		*z = v[2]
	}
}
