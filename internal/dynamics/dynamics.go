package dynamics

import "errors"

// Sentinel errors raised by dynamics implementations.
var (
	// ErrOutOfDomain signals that the particle left the non-periodic
	// support. The integrator treats it as a trajectory-level stop, never
	// as a run failure.
	ErrOutOfDomain = errors.New("dynamics: particle left the potential domain")

	// ErrUnreachableEnergy signals that energy normalisation was requested
	// at a point whose potential energy already exceeds the target total.
	ErrUnreachableEnergy = errors.New("dynamics: potential energy exceeds requested total energy")
)

// RayDynamics is the equation of motion driving the tracer.
type RayDynamics interface {
	// StateUpdate writes the time derivative of state into deriv.
	// Returning ErrOutOfDomain ends the current trajectory.
	StateUpdate(state, deriv *OdeState, t float64) error

	// HasMonodromy reports whether states carry a monodromy matrix.
	HasMonodromy() bool

	// HasPeriodicBoundary reports whether tracing wraps around the support.
	HasPeriodicBoundary() bool

	// NormalizeEnergy rescales the velocity so that the state's total
	// energy equals the target.
	NormalizeEnergy(s *State, energy float64) error

	// Energy returns kinetic plus potential energy of the state.
	Energy(s *State) float64
}
