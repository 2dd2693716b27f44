// Package recorder persists demonstration episodes.
//
// The episode machine drives a Recorder through StartEpisode, RecordStep and
// then exactly one of FinalizeEpisode or DiscardEpisode. Only finalized
// episodes become visible in the dataset.
package recorder

import (
	"context"
	"errors"
	"sync"

	"github.com/justapithecus/marksman/types"
)

// ErrNoEpisode is returned by step and terminal calls made outside an episode.
var ErrNoEpisode = errors.New("no episode in progress")

// Recorder receives the episode life-cycle. The caller owns the index.
type Recorder interface {
	StartEpisode(ctx context.Context, index uint32, fps float64) error
	RecordStep(ctx context.Context, step types.EpisodeStep, image []byte) error
	FinalizeEpisode(ctx context.Context) error
	DiscardEpisode(ctx context.Context) error
	Close() error
}

// StubRecorder counts calls without persisting anything.
type StubRecorder struct {
	mu sync.Mutex

	Started   []uint32
	Finalized []uint32
	Discarded []uint32
	// Steps is the per-episode step count of finalized episodes, in order.
	Steps  []int
	Closed bool

	// Err, when set, is returned by every call.
	Err error

	active  bool
	current uint32
	pending int
}

// NewStubRecorder creates a stub recorder.
func NewStubRecorder() *StubRecorder {
	return &StubRecorder{}
}

// StartEpisode implements Recorder.
func (r *StubRecorder) StartEpisode(_ context.Context, index uint32, _ float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.Started = append(r.Started, index)
	r.current = index
	r.pending = 0
	r.active = true
	return nil
}

// RecordStep implements Recorder.
func (r *StubRecorder) RecordStep(context.Context, types.EpisodeStep, []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	if !r.active {
		return ErrNoEpisode
	}
	r.pending++
	return nil
}

// FinalizeEpisode implements Recorder.
func (r *StubRecorder) FinalizeEpisode(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	if !r.active {
		return ErrNoEpisode
	}
	r.Finalized = append(r.Finalized, r.current)
	r.Steps = append(r.Steps, r.pending)
	r.active = false
	return nil
}

// DiscardEpisode implements Recorder.
func (r *StubRecorder) DiscardEpisode(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	if !r.active {
		return ErrNoEpisode
	}
	r.Discarded = append(r.Discarded, r.current)
	r.active = false
	return nil
}

// Close implements Recorder.
func (r *StubRecorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Closed = true
	return nil
}

var _ Recorder = (*StubRecorder)(nil)
