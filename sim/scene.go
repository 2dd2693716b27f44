package sim

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
)

// Placement ranges, in degrees relative to the turret's initial aim.
const (
	targetAzimuthRange   = 15.0
	targetElevationRange = 6.0
	distractorCount      = 4
	// ObjectRadius is the angular half-width of every object.
	ObjectRadius = 1.5
	// toppleReach is how close a struck distractor must be to knock the
	// target over.
	toppleReach = 2 * ObjectRadius
)

// Object is something on the table.
type Object struct {
	Name      string
	Azimuth   float64
	Elevation float64
	Radius    float64
	Upright   bool
	IsTarget  bool
}

// Strike is the result of one shot.
type Strike struct {
	// Object is the struck object. Zero when the shot missed.
	Object        Object
	Hit           bool
	TargetUpright bool
}

// Scene holds the target and distractors. Placement is reproducible for a
// given seed.
type Scene struct {
	mu          sync.Mutex
	rng         *rand.Rand
	target      Object
	distractors []Object
	shuffles    int
}

// NewScene creates a scene and places the objects.
func NewScene(seed uint64) *Scene {
	s := &Scene{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
	s.RandomizeScene()
	return s
}

// RandomizeScene re-places the target and distractors and stands them up.
func (s *Scene) RandomizeScene() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.target = Object{
		Name:      "target",
		Azimuth:   s.uniform(targetAzimuthRange),
		Elevation: s.uniform(targetElevationRange),
		Radius:    ObjectRadius,
		Upright:   true,
		IsTarget:  true,
	}
	s.distractors = s.distractors[:0]
	for i := range distractorCount {
		s.distractors = append(s.distractors, Object{
			Name:      fmt.Sprintf("distractor_%d", i),
			Azimuth:   s.uniform(2 * targetAzimuthRange),
			Elevation: s.uniform(targetElevationRange),
			Radius:    ObjectRadius,
			Upright:   true,
		})
	}
	s.shuffles++
}

func (s *Scene) uniform(half float64) float64 {
	return (s.rng.Float64()*2 - 1) * half
}

// Target returns the current target.
func (s *Scene) Target() Object {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.target
}

// Objects returns the target followed by the distractors.
func (s *Scene) Objects() []Object {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Object, 0, 1+len(s.distractors))
	out = append(out, s.target)
	return append(out, s.distractors...)
}

// Randomizations returns how many times the scene was placed.
func (s *Scene) Randomizations() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shuffles
}

// Resolve fires a shot along aim. The nearest upright object whose radius
// contains the aim is struck. A struck distractor topples, and takes the
// target with it when the two stand close together.
func (s *Scene) Resolve(aim Aim) Strike {
	s.mu.Lock()
	defer s.mu.Unlock()

	best := -1
	bestDist := math.Inf(1)
	candidates := append([]*Object{&s.target}, pointers(s.distractors)...)
	for i, o := range candidates {
		if !o.Upright {
			continue
		}
		d := angularDistance(aim, o.Azimuth, o.Elevation)
		if d <= o.Radius && d < bestDist {
			best, bestDist = i, d
		}
	}
	if best < 0 {
		return Strike{TargetUpright: s.target.Upright}
	}

	struck := candidates[best]
	if !struck.IsTarget {
		struck.Upright = false
		if angularDistance(Aim{struck.Azimuth, struck.Elevation}, s.target.Azimuth, s.target.Elevation) <= toppleReach {
			s.target.Upright = false
		}
	}
	return Strike{Object: *struck, Hit: true, TargetUpright: s.target.Upright}
}

func pointers(objs []Object) []*Object {
	out := make([]*Object, len(objs))
	for i := range objs {
		out[i] = &objs[i]
	}
	return out
}

func angularDistance(aim Aim, azimuth, elevation float64) float64 {
	return math.Hypot(wrapDegrees(aim.Azimuth-azimuth), aim.Elevation-elevation)
}
