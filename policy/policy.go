// Package policy defines where control actions come from.
//
// Two sources exist: Remote asks the policy service over the wire, AutoAim
// computes a deterministic aiming action from scene geometry. Both return
// types.ZeroAction alongside any error so the tick always has something to
// apply.
package policy

import (
	"context"
	"sync"

	"github.com/justapithecus/marksman/types"
)

// Source names, used as the action_source metrics dimension.
const (
	SourceRemote  = "remote"
	SourceAutoAim = "autoaim"
)

// ActionSource produces the action for one tick.
type ActionSource interface {
	// NextAction returns the action for obs. On error the returned action
	// is types.ZeroAction and the caller applies it anyway.
	NextAction(ctx context.Context, obs *types.Observation) (types.ActionVector, error)

	// Name identifies the source.
	Name() string

	// Stats returns a point-in-time view of the source's counters.
	Stats() Stats
}

// Stats are per-source decision counters.
type Stats struct {
	// Decisions is the number of NextAction calls.
	Decisions int64
	// Succeeded counts calls that produced a real action.
	Succeeded int64
	// Fallbacks counts calls that returned the zero action due to an error.
	Fallbacks int64
	// Shots counts actions with the trigger set.
	Shots int64
}

// statsRecorder is the shared thread-safe counter holder.
type statsRecorder struct {
	mu    sync.Mutex
	stats Stats
}

func (r *statsRecorder) record(action types.ActionVector, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stats.Decisions++
	if err != nil {
		r.stats.Fallbacks++
		return
	}
	r.stats.Succeeded++
	if action.Shoot() {
		r.stats.Shots++
	}
}

func (r *statsRecorder) snapshot() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}
