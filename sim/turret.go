// Package sim is a small kinematic stand-in for the turret scene: three
// rotating joints, a randomized set of objects to shoot at, and a camera
// that renders a crude view as JPEG.
package sim

import (
	"math"
	"sync"
	"time"

	"github.com/justapithecus/marksman/types"
)

// DefaultMaxDegreesPerSecond is the joint speed at a full-scale command.
const DefaultMaxDegreesPerSecond = 5.0

// Aim is the barrel direction in degrees.
type Aim struct {
	Azimuth   float64
	Elevation float64
}

// Turret has an azimuth joint and two elevation joints. Positive rotation
// of an elevation joint lowers the barrel.
type Turret struct {
	maxSpeed float64

	mu      sync.Mutex
	angles  [types.StateLen]float64
	speeds  [types.StateLen]float64
	initial [types.StateLen]float64
}

// NewTurret creates a turret at the given initial joint angles, in degrees.
func NewTurret(maxDegreesPerSecond float64, initial [types.StateLen]float64) *Turret {
	if maxDegreesPerSecond <= 0 {
		maxDegreesPerSecond = DefaultMaxDegreesPerSecond
	}
	return &Turret{maxSpeed: maxDegreesPerSecond, angles: initial, initial: initial}
}

// SetSpeeds sets joint speeds from the joint components of action.
func (t *Turret) SetSpeeds(action types.ActionVector) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.speeds {
		t.speeds[i] = float64(action[i]) * t.maxSpeed
	}
}

// Step integrates joint motion over dt.
func (t *Turret) Step(dt time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.angles {
		t.angles[i] = wrapDegrees(t.angles[i] + t.speeds[i]*dt.Seconds())
	}
}

// State returns joint angles normalized to [-1, 1].
func (t *Turret) State() types.StateVector {
	t.mu.Lock()
	defer t.mu.Unlock()
	var s types.StateVector
	for i, a := range t.angles {
		s[i] = float32(a / 180)
	}
	return s
}

// Aim returns the barrel direction.
func (t *Turret) Aim() Aim {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Aim{
		Azimuth:   t.angles[types.ActionAzimuth],
		Elevation: wrapDegrees(-(t.angles[types.ActionElevation1] + t.angles[types.ActionElevation2])),
	}
}

// ResetPose stops all joints and restores the initial angles.
func (t *Turret) ResetPose() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.angles = t.initial
	t.speeds = [types.StateLen]float64{}
}

// wrapDegrees maps an angle into (-180, 180].
func wrapDegrees(a float64) float64 {
	a = math.Mod(a, 360)
	switch {
	case a > 180:
		a -= 360
	case a <= -180:
		a += 360
	}
	return a
}
