package types

import "fmt"

// Vector sizes fixed by the control contract.
const (
	// ActionLen is the number of action components.
	ActionLen = 4
	// StateLen is the number of joint state components.
	StateLen = 3
)

// Action component indices.
const (
	ActionAzimuth = iota
	ActionElevation1
	ActionElevation2
	ActionShoot
)

// shootThreshold is the trigger value above which a shot fires.
const shootThreshold = 0.9

// ActionVector is [azimuth, elevation_1, elevation_2, shoot_trigger].
// Joint components are in [-1, 1]; the trigger is 0 or 1.
type ActionVector [ActionLen]float32

// ZeroAction is the neutral action used whenever no valid action is available.
var ZeroAction ActionVector

// ActionFromSlice converts a decoded action into an ActionVector.
// The wire format allows any length; only ActionLen is usable.
func ActionFromSlice(values []float32) (ActionVector, error) {
	var a ActionVector
	if len(values) != ActionLen {
		return a, fmt.Errorf("action length %d, want %d", len(values), ActionLen)
	}
	copy(a[:], values)
	return a, nil
}

// Shoot reports whether the trigger component fires a shot.
func (a ActionVector) Shoot() bool {
	return a[ActionShoot] > shootThreshold
}

// Slice returns the components as a new slice.
func (a ActionVector) Slice() []float32 {
	out := make([]float32, ActionLen)
	copy(out, a[:])
	return out
}

// StateVector holds normalized joint angles in [-1, 1].
type StateVector [StateLen]float32

// Slice returns the components as a new slice.
func (s StateVector) Slice() []float32 {
	out := make([]float32, StateLen)
	copy(out, s[:])
	return out
}

// Observation is the per-tick bundle sent to the policy service.
// It is built fresh every tick and not mutated after send.
type Observation struct {
	// Timestamp is seconds since episode start (or run start in infer mode).
	Timestamp float32
	// Image is the encoded still frame. May be empty before the first capture.
	Image []byte
	// State is the joint state read at tick time.
	State StateVector
}

// EpisodeStep is one recorded tick of an episode.
type EpisodeStep struct {
	Action    ActionVector `msgpack:"action"`
	State     StateVector  `msgpack:"state"`
	Timestamp float32      `msgpack:"timestamp"`
}
