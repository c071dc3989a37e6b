// Package potgen synthesises stationary random scalar fields with a
// prescribed spatial correlation on a periodic grid, together with their
// spatial derivatives up to a chosen order.
package potgen

import (
	"errors"
	"fmt"
	"math"
	"strconv"

	"gonum.org/v1/gonum/mat"
)

// CorrelationFunc evaluates the two-point correlation at a displacement.
// Implementations must be safe for concurrent calls.
type CorrelationFunc func(x []float64) float64

var ErrUnknownCorrelation = errors.New("potgen: unknown correlation function")

// Gaussian returns exp(-|x|^2 / l^2).
func Gaussian(corrLength float64) CorrelationFunc {
	scale := -1.0 / (corrLength * corrLength)
	return func(x []float64) float64 {
		sum := 0.0
		for _, v := range x {
			sum += v * v
		}
		return math.Exp(sum * scale)
	}
}

// AnisotropicGaussian stretches the Gaussian correlation per axis. The
// anisotropy factors multiply 1/l on their axis.
func AnisotropicGaussian(corrLength float64, anisotropy []float64) CorrelationFunc {
	scale := make([]float64, len(anisotropy))
	for i, a := range anisotropy {
		scale[i] = a * a / (corrLength * corrLength)
	}
	return func(x []float64) float64 {
		sum := 0.0
		for i, v := range x {
			sum -= v * v * scale[i]
		}
		return math.Exp(sum)
	}
}

// Sech returns 1/cosh(|x|/l).
func Sech(corrLength float64) CorrelationFunc {
	scale := 1.0 / corrLength
	return func(x []float64) float64 {
		sum := 0.0
		for _, v := range x {
			sum += v * v
		}
		return 1.0 / math.Cosh(math.Sqrt(sum)*scale)
	}
}

// Power returns (1 + |x|^2/l^2)^-alpha.
func Power(corrLength, alpha float64) CorrelationFunc {
	scale := 1.0 / (corrLength * corrLength)
	return func(x []float64) float64 {
		sum := 0.0
		for _, v := range x {
			sum += v * v
		}
		return math.Pow(1+sum*scale, -alpha)
	}
}

// WithTransform wraps a correlation so that c(x) = f(Mx). The matrix must
// be square with the world dimension.
func WithTransform(f CorrelationFunc, m *mat.Dense) CorrelationFunc {
	r, _ := m.Dims()
	return func(x []float64) float64 {
		in := mat.NewVecDense(r, nil)
		for i := 0; i < r; i++ {
			in.SetVec(i, x[i])
		}
		var out mat.VecDense
		out.MulVec(m, in)
		return f(out.RawVector().Data)
	}
}

// ParseTransform builds the trafo matrix from 1, 4 or 9 whitespace-separated
// numbers for dimension 1, 2 or 3.
func ParseTransform(fields []string, dim int) (*mat.Dense, error) {
	if len(fields) != dim*dim {
		return nil, fmt.Errorf("potgen: trafo matrix needs %d entries for dimension %d, got %d", dim*dim, dim, len(fields))
	}
	data := make([]float64, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, fmt.Errorf("potgen: invalid trafo entry %q: %w", f, err)
		}
		data[i] = v
	}
	return mat.NewDense(dim, dim, data), nil
}

// MakeCorrelation resolves the CLI correlation spec (type followed by its
// arguments) into a function. Known types: gauss/gaussian (optional
// per-axis anisotropy factors), sech, pow/power (exponent argument).
func MakeCorrelation(spec []string, corrLength float64, dim int) (CorrelationFunc, error) {
	if len(spec) == 0 {
		return Gaussian(corrLength), nil
	}
	kind, args := spec[0], spec[1:]
	switch kind {
	case "gauss", "gaussian":
		if len(args) == 0 {
			return Gaussian(corrLength), nil
		}
		if len(args) != dim {
			return nil, fmt.Errorf("potgen: anisotropic gaussian needs %d factors, got %d", dim, len(args))
		}
		ani := make([]float64, dim)
		for i, a := range args {
			v, err := strconv.ParseFloat(a, 64)
			if err != nil {
				return nil, fmt.Errorf("potgen: invalid anisotropy factor %q: %w", a, err)
			}
			ani[i] = v
		}
		return AnisotropicGaussian(corrLength, ani), nil
	case "sech":
		return Sech(corrLength), nil
	case "pow", "power":
		if len(args) != 1 {
			return nil, fmt.Errorf("potgen: power correlation needs exactly the exponent argument")
		}
		alpha, err := strconv.ParseFloat(args[0], 64)
		if err != nil {
			return nil, fmt.Errorf("potgen: invalid power exponent %q: %w", args[0], err)
		}
		return Power(corrLength, alpha), nil
	}
	return nil, fmt.Errorf("%w: %q (known: gauss, sech, pow)", ErrUnknownCorrelation, kind)
}
