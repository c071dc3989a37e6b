package integrate

import "github.com/san-kum/branchflow/internal/dynamics"

// Euler is the fixed-step explicit Euler method. It exists for cheap
// qualitative runs and for tests where the adaptive step control would get
// in the way.
type Euler struct {
	deriv *dynamics.OdeState
}

// NewEuler creates a fixed-step Euler stepper.
func NewEuler() *Euler { return &Euler{} }

// Integrate advances state from t0 to t1 in constant steps of dt.
func (e *Euler) Integrate(f DerivFunc, state *dynamics.OdeState, t0, t1, dt float64, observe ObserverFunc) error {
	if e.deriv == nil || len(e.deriv.Data) != len(state.Data) {
		e.deriv = dynamics.NewOdeState(state.Dim(), state.HasMonodromy())
	}

	for t := t0; t < t1; {
		if dt > t1-t {
			dt = t1 - t
		}
		if err := f(state, e.deriv, t); err != nil {
			return err
		}
		for i := range state.Data {
			state.Data[i] += dt * e.deriv.Data[i]
		}
		t += dt
		if !observe(state, t) {
			return nil
		}
	}
	return nil
}
