package policy

import (
	"context"
	"math"

	"github.com/justapithecus/marksman/types"
)

// Aiming constants.
const (
	// MoveCoefficient scales azimuth error (degrees) into a joint command.
	// Each elevation joint gets half of it, since two joints share the work.
	MoveCoefficient = 0.5
	// ShootThreshold is the aim error, in degrees, below which the trigger fires.
	ShootThreshold = 0.1
)

// Aimer reports the signed angular error between the barrel and the target.
type Aimer interface {
	// AimErrors returns azimuth and elevation error in degrees, each in
	// (-180, 180]. ok is false when there is no target.
	AimErrors() (azimuth, elevation float64, ok bool)
}

// AutoAim steers the barrel toward the target and fires once per episode.
// It is not safe for concurrent use.
type AutoAim struct {
	aimer Aimer
	shot  bool
	stats statsRecorder
}

// NewAutoAim creates the fallback aiming source.
func NewAutoAim(aimer Aimer) *AutoAim {
	return &AutoAim{aimer: aimer}
}

// Name implements ActionSource.
func (a *AutoAim) Name() string { return SourceAutoAim }

// Stats implements ActionSource.
func (a *AutoAim) Stats() Stats { return a.stats.snapshot() }

// Reset re-arms the trigger. Call at every episode boundary.
func (a *AutoAim) Reset() {
	a.shot = false
}

// NextAction implements ActionSource. It never fails.
func (a *AutoAim) NextAction(context.Context, *types.Observation) (types.ActionVector, error) {
	action := a.aim()
	a.stats.record(action, nil)
	return action, nil
}

func (a *AutoAim) aim() types.ActionVector {
	az, el, ok := a.aimer.AimErrors()
	if !ok {
		return types.ZeroAction
	}

	var action types.ActionVector
	action[types.ActionAzimuth] = clamp(az * MoveCoefficient)
	action[types.ActionElevation1] = clamp(-el * MoveCoefficient / 2)
	action[types.ActionElevation2] = clamp(-el * MoveCoefficient / 2)

	if !a.shot && math.Abs(az) < ShootThreshold && math.Abs(el) < ShootThreshold {
		action[types.ActionShoot] = 1
		a.shot = true
	}
	return action
}

func clamp(v float64) float32 {
	return float32(math.Max(-1, math.Min(1, v)))
}
