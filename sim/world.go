package sim

import (
	"sync/atomic"
	"time"

	"github.com/justapithecus/marksman/types"
)

// World ties the turret to the scene. It is the actuator surface of the
// control loop and the geometry source for auto-aim.
type World struct {
	Turret *Turret
	Scene  *Scene

	onStrike func(Strike)
	shots    atomic.Int64
}

// NewWorld creates a world. onStrike, when non-nil, receives every shot
// that hit something.
func NewWorld(turret *Turret, scene *Scene, onStrike func(Strike)) *World {
	return &World{Turret: turret, Scene: scene, onStrike: onStrike}
}

// State returns the normalized joint state.
func (w *World) State() types.StateVector {
	return w.Turret.State()
}

// Apply sets joint speeds and fires when the trigger is set.
func (w *World) Apply(action types.ActionVector) {
	w.Turret.SetSpeeds(action)
	if !action.Shoot() {
		return
	}
	w.shots.Add(1)
	strike := w.Scene.Resolve(w.Turret.Aim())
	if strike.Hit && w.onStrike != nil {
		w.onStrike(strike)
	}
}

// Step advances joint motion.
func (w *World) Step(dt time.Duration) {
	w.Turret.Step(dt)
}

// ResetPose restores the turret's initial pose.
func (w *World) ResetPose() {
	w.Turret.ResetPose()
}

// RandomizeScene re-places the scene objects.
func (w *World) RandomizeScene() {
	w.Scene.RandomizeScene()
}

// AimErrors returns the angular error from the barrel to the target.
func (w *World) AimErrors() (azimuth, elevation float64, ok bool) {
	aim := w.Turret.Aim()
	target := w.Scene.Target()
	return wrapDegrees(target.Azimuth - aim.Azimuth), target.Elevation - aim.Elevation, true
}

// Shots returns the number of shots fired.
func (w *World) Shots() int64 {
	return w.shots.Load()
}
