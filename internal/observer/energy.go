package observer

import (
	"encoding/json"
	"io"
	"math"

	"github.com/san-kum/branchflow/internal/dynamics"
	"github.com/san-kum/branchflow/internal/icgen"
)

// EnergyErrorObserver measures the relative energy drift between the first
// and last state of every trajectory. The tracer registers it
// unconditionally and reports its numbers in the trace result.
type EnergyErrorObserver struct {
	LocalBase

	initialEnergy float64

	count uint64
	sum   float64
	max   float64
}

// NewEnergyErrorObserver creates the observer.
func NewEnergyErrorObserver(fileName string) *EnergyErrorObserver {
	return &EnergyErrorObserver{LocalBase: NewLocalBase(fileName)}
}

func (o *EnergyErrorObserver) StartTracing() {
	if o.Dyn == nil {
		panic("observer: energy observation started before dynamics have been set")
	}
}

func (o *EnergyErrorObserver) StartTrajectory(ic *icgen.InitialCondition, _ uint64) {
	o.initialEnergy = o.Dyn.Energy(ic.State)
}

// Watch declines further samples; only the trajectory endpoints matter.
func (o *EnergyErrorObserver) Watch(*dynamics.State, float64) bool { return false }

func (o *EnergyErrorObserver) EndTrajectory(final *dynamics.State) {
	finalEnergy := o.Dyn.Energy(final)
	relErr := math.Abs((o.initialEnergy - finalEnergy) / o.initialEnergy)

	o.count++
	o.sum += relErr
	if relErr > o.max {
		o.max = relErr
	}
}

func (o *EnergyErrorObserver) Clone() Local {
	return NewEnergyErrorObserver(o.FileName)
}

func (o *EnergyErrorObserver) Combine(other Local) {
	src := other.(*EnergyErrorObserver)
	o.count += src.count
	o.sum += src.sum
	if src.max > o.max {
		o.max = src.max
	}
}

// MaxError returns the largest relative energy error seen.
func (o *EnergyErrorObserver) MaxError() float64 { return o.max }

// MeanError returns the mean relative energy error.
func (o *EnergyErrorObserver) MeanError() float64 {
	if o.count == 0 {
		return 0
	}
	return o.sum / float64(o.count)
}

// Save writes the statistics as JSON.
func (o *EnergyErrorObserver) Save(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(map[string]any{
		"count": o.count,
		"max":   o.max,
		"sum":   o.sum,
		"mean":  o.MeanError(),
	})
}
