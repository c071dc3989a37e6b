// Package integrate provides the steppers that advance ray trajectories:
// an adaptive Runge-Kutta-Cash-Karp 5(4) pair with per-component error
// control and a fixed-step Euler method.
package integrate

import (
	"math"

	"github.com/san-kum/branchflow/internal/dynamics"
)

// DerivFunc evaluates the equation of motion.
type DerivFunc func(state, deriv *dynamics.OdeState, t float64) error

// ObserverFunc is called after every accepted step. Returning false stops
// the current trajectory.
type ObserverFunc func(state *dynamics.OdeState, t float64) bool

// Stepper integrates a trajectory from t0 to t1 with initial step dt.
type Stepper interface {
	Integrate(f DerivFunc, state *dynamics.OdeState, t0, t1, dt float64, observe ObserverFunc) error
}

// Cash-Karp 5(4) tableau.
var (
	ckA = [6]float64{0, 1.0 / 5.0, 3.0 / 10.0, 3.0 / 5.0, 1.0, 7.0 / 8.0}

	ckB = [6][5]float64{
		{},
		{1.0 / 5.0},
		{3.0 / 40.0, 9.0 / 40.0},
		{3.0 / 10.0, -9.0 / 10.0, 6.0 / 5.0},
		{-11.0 / 54.0, 5.0 / 2.0, -70.0 / 27.0, 35.0 / 27.0},
		{1631.0 / 55296.0, 175.0 / 512.0, 575.0 / 13824.0, 44275.0 / 110592.0, 253.0 / 4096.0},
	}

	ckC = [6]float64{37.0 / 378.0, 0, 250.0 / 621.0, 125.0 / 594.0, 0, 512.0 / 1771.0}

	ckDC = [6]float64{
		37.0/378.0 - 2825.0/27648.0,
		0,
		250.0/621.0 - 18575.0/48384.0,
		125.0/594.0 - 13525.0/55296.0,
		-277.0 / 14336.0,
		512.0/1771.0 - 1.0/4.0,
	}
)

// CashKarp54 is the adaptive stepper. Error control follows the usual
// mixed absolute/relative criterion
//
//	err = max_i |e_i| / (atol + rtol * (|x_i| + dt |dx_i|))
//
// with a step accepted when err <= 1.
type CashKarp54 struct {
	AbsTol float64
	RelTol float64

	safety   float64
	minScale float64
	maxScale float64

	k       [6][]float64
	trial   []float64
	scratch []float64
}

// NewCashKarp54 creates a stepper with the given tolerances.
func NewCashKarp54(absTol, relTol float64) *CashKarp54 {
	return &CashKarp54{
		AbsTol:   absTol,
		RelTol:   relTol,
		safety:   0.9,
		minScale: 0.2,
		maxScale: 5.0,
	}
}

func (s *CashKarp54) ensureScratch(n int) {
	if len(s.trial) == n {
		return
	}
	for i := range s.k {
		s.k[i] = make([]float64, n)
	}
	s.trial = make([]float64, n)
	s.scratch = make([]float64, n)
}

// Integrate advances state from t0 to t1, observing every accepted step.
// A DerivFunc error aborts immediately and is returned; the caller decides
// whether it is a trajectory-level condition.
func (s *CashKarp54) Integrate(f DerivFunc, state *dynamics.OdeState, t0, t1, dt float64, observe ObserverFunc) error {
	n := len(state.Data)
	s.ensureScratch(n)

	kState := dynamics.NewOdeState(state.Dim(), state.HasMonodromy())
	evalState := dynamics.NewOdeState(state.Dim(), state.HasMonodromy())

	t := t0
	for t < t1 {
		if dt > t1-t {
			dt = t1 - t
		}

		// Stage evaluations.
		for stage := 0; stage < 6; stage++ {
			copy(evalState.Data, state.Data)
			for j := 0; j < stage; j++ {
				c := ckB[stage][j] * dt
				if c == 0 {
					continue
				}
				kj := s.k[j]
				for i := 0; i < n; i++ {
					evalState.Data[i] += c * kj[i]
				}
			}
			if err := f(evalState, kState, t+ckA[stage]*dt); err != nil {
				return err
			}
			copy(s.k[stage], kState.Data)
		}

		// Fifth-order solution and embedded error estimate.
		maxErr := 0.0
		for i := 0; i < n; i++ {
			sum := 0.0
			errSum := 0.0
			for stage := 0; stage < 6; stage++ {
				sum += ckC[stage] * s.k[stage][i]
				errSum += ckDC[stage] * s.k[stage][i]
			}
			s.trial[i] = state.Data[i] + dt*sum

			scale := s.AbsTol + s.RelTol*(math.Abs(state.Data[i])+math.Abs(dt*s.k[0][i]))
			e := math.Abs(dt*errSum) / scale
			if e > maxErr {
				maxErr = e
			}
		}

		if maxErr > 1 {
			// Reject: shrink and retry.
			scale := math.Max(s.minScale, s.safety*math.Pow(maxErr, -0.25))
			dt *= scale
			continue
		}

		// Accept.
		copy(state.Data, s.trial)
		t += dt

		if maxErr > 0 {
			dt *= math.Min(s.maxScale, s.safety*math.Pow(maxErr, -0.2))
		} else {
			dt *= s.maxScale
		}

		if !observe(state, t) {
			return nil
		}
	}
	return nil
}
