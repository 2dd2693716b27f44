// Package scheduler runs the control loop at a fixed rate, decoupled from
// the host's frame rate.
//
// The host feeds elapsed time through Advance. Time accumulates, and each
// full interval executes one tick; the remainder carries over. Ticks never
// overlap and run on the caller's goroutine.
package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/justapithecus/marksman/log"
	"github.com/justapithecus/marksman/metrics"
	"github.com/justapithecus/marksman/policy"
	"github.com/justapithecus/marksman/types"
)

// Actuators are the turret joints.
type Actuators interface {
	State() types.StateVector
	Apply(action types.ActionVector)
}

// FrameSource is the non-blocking side of the capture pipeline.
type FrameSource interface {
	GetLatestFrame() []byte
	RequestCapture() bool
}

// Episodes tracks the episode life-cycle in collect mode.
type Episodes interface {
	// Elapsed returns time since the current episode started.
	Elapsed(now time.Duration) time.Duration
	// Record appends one step to the live episode.
	Record(ctx context.Context, step types.EpisodeStep, image []byte)
	// Evaluate checks completion and performs any transition.
	Evaluate(ctx context.Context, now time.Duration) types.Phase
}

// Config wires the scheduler's collaborators.
type Config struct {
	// Interval is the control period. Required.
	Interval time.Duration
	// Actuators, Frames and Source are required.
	Actuators Actuators
	Frames    FrameSource
	Source    policy.ActionSource
	// Episodes is nil in infer mode.
	Episodes Episodes
	Logger   *log.Logger
	Metrics  *metrics.Collector
}

// Scheduler is the fixed-interval accumulator. It is not safe for
// concurrent use.
type Scheduler struct {
	cfg Config

	acc   time.Duration
	ticks int64
	done  bool
}

// Interval converts a tick rate into a period.
func Interval(fps float64) time.Duration {
	if fps <= 0 {
		return 0
	}
	return time.Duration(float64(time.Second) / fps)
}

// New validates cfg and creates a scheduler.
func New(cfg Config) (*Scheduler, error) {
	if cfg.Interval <= 0 {
		return nil, errors.New("scheduler interval must be positive")
	}
	if cfg.Actuators == nil || cfg.Frames == nil || cfg.Source == nil {
		return nil, errors.New("scheduler requires actuators, frames and an action source")
	}
	if cfg.Logger == nil {
		cfg.Logger = log.NewNop()
	}
	return &Scheduler{cfg: cfg}, nil
}

// Advance adds dt to the accumulator and runs every tick that became due.
// It returns the number of ticks executed. Once the episode tracker reports
// Done, Advance does nothing.
func (s *Scheduler) Advance(ctx context.Context, dt time.Duration) int {
	if s.done {
		return 0
	}
	s.acc += dt

	n := 0
	for s.acc >= s.cfg.Interval {
		if ctx.Err() != nil {
			break
		}
		s.tick(ctx)
		s.acc -= s.cfg.Interval
		n++
		if s.done {
			break
		}
	}
	return n
}

// Residual is the accumulated time not yet consumed by a tick.
func (s *Scheduler) Residual() time.Duration {
	return s.acc
}

// Ticks is the number of ticks executed so far.
func (s *Scheduler) Ticks() int64 {
	return s.ticks
}

// Done reports whether the episode tracker reached its configured count.
func (s *Scheduler) Done() bool {
	return s.done
}

// Now is the logical clock: ticks executed times the interval.
func (s *Scheduler) Now() time.Duration {
	return time.Duration(s.ticks) * s.cfg.Interval
}

func (s *Scheduler) tick(ctx context.Context) {
	now := s.Now()
	s.ticks++
	s.cfg.Metrics.IncTick()

	state := s.cfg.Actuators.State()
	image := s.cfg.Frames.GetLatestFrame()

	ts := now
	if s.cfg.Episodes != nil {
		ts = s.cfg.Episodes.Elapsed(now)
	}
	obs := &types.Observation{
		Timestamp: float32(ts.Seconds()),
		Image:     image,
		State:     state,
	}

	action, err := s.cfg.Source.NextAction(ctx, obs)
	if err != nil {
		s.cfg.Logger.Warn("action unavailable, applying zero action", map[string]any{
			"tick":   s.ticks,
			"source": s.cfg.Source.Name(),
			"error":  err.Error(),
		})
	}
	s.cfg.Actuators.Apply(action)

	if s.cfg.Episodes != nil {
		s.cfg.Episodes.Record(ctx, types.EpisodeStep{
			Action:    action,
			State:     state,
			Timestamp: obs.Timestamp,
		}, image)
		if s.cfg.Episodes.Evaluate(ctx, s.Now()) == types.PhaseDone {
			s.done = true
		}
	}

	s.cfg.Frames.RequestCapture()
}
