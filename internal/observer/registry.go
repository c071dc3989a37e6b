package observer

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/san-kum/branchflow/internal/dynamics"
	"github.com/san-kum/branchflow/internal/potential"
)

// builder turns an argument token list into an observer.
type builder func(args []string, pot *potential.Potential) (Observer, error)

var builders = map[string]builder{
	"caustics":             buildCaustics,
	"density":              buildDensity,
	"angle_histogram":      buildAngularHistogram,
	"velocity_histogram":   buildVelocityHistogram,
	"velocity_transitions": buildVelocityTransitions,
	"trajectory":           buildTrajectory,
	"wavefront":            buildWavefront,
	"radial_density":       buildRadialDensity,
}

// Names lists the registered observer names.
func Names() []string {
	names := make([]string, 0, len(builders))
	for name := range builders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// BuildAll splits the --observers token list into groups: every token that
// names a registered observer starts a new group, everything else belongs
// to the preceding observer's argument list and is interpreted by that
// observer alone.
func BuildAll(tokens []string, pot *potential.Potential) ([]Observer, error) {
	if len(tokens) == 0 {
		return nil, nil
	}
	if _, ok := builders[tokens[0]]; !ok {
		return nil, fmt.Errorf("observer: unknown observer %q (registered: %s)", tokens[0], strings.Join(Names(), ", "))
	}

	var out []Observer
	for i := 0; i < len(tokens); {
		name := tokens[i]
		j := i + 1
		for j < len(tokens) {
			if _, ok := builders[tokens[j]]; ok {
				break
			}
			j++
		}
		obs, err := builders[name](tokens[i+1:j], pot)
		if err != nil {
			return nil, fmt.Errorf("observer %s: %w", name, err)
		}
		out = append(out, obs)
		i = j
	}
	return out, nil
}

// argScanner walks an observer's token list: named arguments followed by
// their values, with leftover tokens served as positionals in order.
type argScanner struct {
	tokens []string
	pos    int
}

func (s *argScanner) done() bool { return s.pos >= len(s.tokens) }

func (s *argScanner) peek() string { return s.tokens[s.pos] }

func (s *argScanner) next() string {
	t := s.tokens[s.pos]
	s.pos++
	return t
}

// numbers consumes as many numeric tokens as follow.
func (s *argScanner) numbers() []float64 {
	var out []float64
	for !s.done() {
		v, err := strconv.ParseFloat(s.peek(), 64)
		if err != nil {
			break
		}
		out = append(out, v)
		s.pos++
	}
	return out
}

func parseBoolToken(t string) (bool, error) {
	switch t {
	case "1", "true", "yes", "on":
		return true, nil
	case "0", "false", "no", "off":
		return false, nil
	}
	return false, fmt.Errorf("invalid boolean %q", t)
}

func buildCaustics(args []string, pot *potential.Potential) (Observer, error) {
	breakOnFirst := false
	fileName := "caustics.dat"

	s := &argScanner{tokens: args}
	positional := 0
	for !s.done() {
		switch t := s.next(); t {
		case "file_name":
			fileName = s.next()
		case "break_on_first":
			v, err := parseBoolToken(s.next())
			if err != nil {
				return nil, err
			}
			breakOnFirst = v
		default:
			if positional == 0 {
				v, err := parseBoolToken(t)
				if err != nil {
					return nil, err
				}
				breakOnFirst = v
				positional++
			} else {
				return nil, fmt.Errorf("unexpected argument %q", t)
			}
		}
	}
	return NewCausticObserver(pot.Dim(), breakOnFirst, fileName)
}

func buildDensity(args []string, pot *potential.Potential) (Observer, error) {
	center := false
	fileName := "density.dat"
	var size []int
	var support []float64
	var extract ExtractFunc

	s := &argScanner{tokens: args}
	for !s.done() {
		switch t := s.next(); t {
		case "center", "c":
			center = true
		case "size", "s":
			for _, v := range s.numbers() {
				size = append(size, int(v))
			}
			if len(size) == 0 {
				return nil, fmt.Errorf("size needs at least one integer")
			}
		case "support", "supp":
			support = s.numbers()
			if len(support) == 0 {
				return nil, fmt.Errorf("support needs at least one value")
			}
		case "extractor", "e":
			kind := s.next()
			switch kind {
			case "dens":
				// unit weight, the default
			case "vel", "velocity":
				dirTok := s.next()
				dir, err := strconv.Atoi(dirTok)
				if err != nil || dir < 0 || dir >= pot.Dim() {
					return nil, fmt.Errorf("invalid velocity direction %q", dirTok)
				}
				extract = func(st *dynamics.State) float64 { return st.Vel[dir] }
				fileName = "velocity" + dirTok + ".dat"
			default:
				return nil, fmt.Errorf("unknown extractor %q", kind)
			}
		case "file_name":
			fileName = s.next()
		default:
			return nil, fmt.Errorf("unexpected argument %q", t)
		}
	}

	if len(size) == 0 {
		size = append(size, pot.Extents()...)
	} else if len(size) == 1 {
		for len(size) < pot.Dim() {
			size = append(size, size[0])
		}
	}
	if len(size) != pot.Dim() {
		return nil, fmt.Errorf("invalid size for density observer")
	}

	if len(support) == 0 {
		support = append(support, pot.Support()...)
	} else if len(support) == 1 {
		for len(support) < pot.Dim() {
			support = append(support, support[0])
		}
	}
	if len(support) != pot.Dim() {
		return nil, fmt.Errorf("invalid support for density observer")
	}

	return NewDensityObserver(size, support, fileName, center, extract)
}

func buildAngularHistogram(args []string, _ *potential.Potential) (Observer, error) {
	times := DefaultHistogramTimes()
	interval := 0.01
	fileName := "angle_histograms.dat"

	s := &argScanner{tokens: args}
	positional := 0
	for !s.done() {
		switch t := s.next(); t {
		case "file_name":
			fileName = s.next()
		case "interval":
			v, err := strconv.ParseFloat(s.next(), 64)
			if err != nil {
				return nil, err
			}
			interval = v
		default:
			switch positional {
			case 0: // times file
				loaded, err := readTimesFile(t)
				if err != nil {
					return nil, err
				}
				times = loaded
			case 1: // bin size
				v, err := strconv.ParseFloat(t, 64)
				if err != nil {
					return nil, err
				}
				interval = v
			default:
				return nil, fmt.Errorf("unexpected argument %q", t)
			}
			positional++
		}
	}
	return NewAngularHistogramObserver(times, interval, fileName), nil
}

func readTimesFile(path string) ([]float64, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not open %s as histogram times source: %w", path, err)
	}
	var times []float64
	for _, field := range strings.Fields(string(raw)) {
		v, err := strconv.ParseFloat(field, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid time %q in %s", field, path)
		}
		times = append(times, v)
	}
	return times, nil
}

func buildVelocityHistogram(args []string, pot *potential.Potential) (Observer, error) {
	bins := 101
	fileName := "velocity_histograms.dat"
	times := DefaultHistogramTimes()

	s := &argScanner{tokens: args}
	for !s.done() {
		switch t := s.next(); t {
		case "bins":
			v, err := strconv.Atoi(s.next())
			if err != nil {
				return nil, err
			}
			bins = v
		case "times":
			loaded, err := readTimesFile(s.next())
			if err != nil {
				return nil, err
			}
			times = loaded
		case "file_name":
			fileName = s.next()
		default:
			return nil, fmt.Errorf("unexpected argument %q", t)
		}
	}
	return NewVelocityHistogramObserver(pot.Dim(), times, bins, fileName)
}

func buildVelocityTransitions(args []string, pot *potential.Potential) (Observer, error) {
	interval := 0.1
	bins := 51
	start := 0.0
	end := 1.0
	increments := false
	fileName := "velocity_transitions.dat"
	in := make([]bool, pot.Dim())
	out := make([]bool, pot.Dim())
	for i := range in {
		in[i] = true
		out[i] = true
	}

	s := &argScanner{tokens: args}
	for !s.done() {
		switch t := s.next(); t {
		case "interval":
			v, err := strconv.ParseFloat(s.next(), 64)
			if err != nil {
				return nil, err
			}
			interval = v
		case "bins":
			v, err := strconv.Atoi(s.next())
			if err != nil {
				return nil, err
			}
			bins = v
		case "start":
			v, err := strconv.ParseFloat(s.next(), 64)
			if err != nil {
				return nil, err
			}
			start = v
		case "end":
			v, err := strconv.ParseFloat(s.next(), 64)
			if err != nil {
				return nil, err
			}
			end = v
		case "increments":
			v, err := parseBoolToken(s.next())
			if err != nil {
				return nil, err
			}
			increments = v
		case "in", "out":
			mask := in
			if t == "out" {
				mask = out
			}
			for i := 0; i < pot.Dim(); i++ {
				v, err := parseBoolToken(s.next())
				if err != nil {
					return nil, err
				}
				mask[i] = v
			}
		case "file_name":
			fileName = s.next()
		default:
			return nil, fmt.Errorf("unexpected argument %q", t)
		}
	}
	return NewVelocityTransitionObserver(pot.Dim(), interval, bins, start, end, in, out, increments, fileName)
}

func buildTrajectory(args []string, _ *potential.Potential) (Observer, error) {
	interval := 0.01
	fileName := "trajectory.dat"

	s := &argScanner{tokens: args}
	positional := 0
	for !s.done() {
		switch t := s.next(); t {
		case "file_name":
			fileName = s.next()
		default:
			if positional == 0 {
				v, err := strconv.ParseFloat(t, 64)
				if err != nil {
					return nil, err
				}
				interval = v
				positional++
			} else {
				return nil, fmt.Errorf("unexpected argument %q", t)
			}
		}
	}
	return NewTrajectoryObserver(interval, fileName), nil
}

func buildWavefront(args []string, _ *potential.Potential) (Observer, error) {
	stopTime := 1.0
	fileName := "wavefront.ply"

	s := &argScanner{tokens: args}
	positional := 0
	for !s.done() {
		switch t := s.next(); t {
		case "file_name":
			fileName = s.next()
		default:
			if positional == 0 {
				v, err := strconv.ParseFloat(t, 64)
				if err != nil {
					return nil, err
				}
				stopTime = v
				positional++
			} else {
				return nil, fmt.Errorf("unexpected argument %q", t)
			}
		}
	}
	return NewWavefrontObserver(stopTime, fileName), nil
}

func buildRadialDensity(args []string, _ *potential.Potential) (Observer, error) {
	resolution := 360
	fileName := "radial_density.dat"
	var radii []float64

	s := &argScanner{tokens: args}
	for !s.done() {
		switch t := s.next(); t {
		case "resolution":
			v, err := strconv.Atoi(s.next())
			if err != nil {
				return nil, err
			}
			resolution = v
		case "radii":
			radii = s.numbers()
		case "file_name":
			fileName = s.next()
		default:
			return nil, fmt.Errorf("unexpected argument %q", t)
		}
	}
	if len(radii) == 0 {
		radii = []float64{0.25}
	}
	return NewRadialDensityObserver(resolution, radii, fileName)
}
