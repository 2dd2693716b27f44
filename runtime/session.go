// Package runtime assembles the control loop and runs it.
//
// A Session wires the simulated turret, the capture pipeline, the action
// source, the scheduler and (in collect mode) the episode machine. It is
// advanced by elapsed host time through Update. RunOrchestrator drives a
// Session from a wall-clock host loop and handles everything around it:
// policy connection, metrics persistence, event publishing and the outcome.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/justapithecus/marksman/capture"
	"github.com/justapithecus/marksman/episode"
	"github.com/justapithecus/marksman/log"
	"github.com/justapithecus/marksman/metrics"
	"github.com/justapithecus/marksman/policy"
	"github.com/justapithecus/marksman/recorder"
	"github.com/justapithecus/marksman/scheduler"
	"github.com/justapithecus/marksman/sim"
	"github.com/justapithecus/marksman/types"
)

// SessionConfig configures one control session.
type SessionConfig struct {
	Mode types.Mode
	// FPS is the control rate.
	FPS float64
	// Episodes and EpisodeDuration bound collect mode.
	Episodes        int
	EpisodeDuration time.Duration
	// Seed drives scene randomization.
	Seed                uint64
	MaxDegreesPerSecond float64
	Camera              sim.CameraConfig

	// Source is required in infer mode. In collect mode it defaults to
	// auto-aim on the simulated scene.
	Source policy.ActionSource
	// Recorder is required in collect mode.
	Recorder recorder.Recorder
	// Judge defaults to episode.TargetJudge.
	Judge episode.Judge

	Logger       *log.Logger
	Collector    *metrics.Collector
	OnTransition func(episode.Transition)
}

// Session is one assembled control loop.
type Session struct {
	cfg SessionConfig

	world    *sim.World
	pipeline *capture.Pipeline
	source   policy.ActionSource
	machine  *episode.Machine
	sched    *scheduler.Scheduler
}

// NewSession validates cfg and wires the loop.
func NewSession(cfg SessionConfig) (*Session, error) {
	if cfg.FPS <= 0 {
		return nil, errors.New("control fps must be positive")
	}
	if cfg.Logger == nil {
		cfg.Logger = log.NewNop()
	}

	s := &Session{cfg: cfg}
	turret := sim.NewTurret(cfg.MaxDegreesPerSecond, [types.StateLen]float64{})
	scene := sim.NewScene(cfg.Seed)
	s.world = sim.NewWorld(turret, scene, s.strike)
	s.pipeline = capture.NewPipeline(sim.NewCamera(cfg.Camera, turret, scene), cfg.Logger)

	var episodes scheduler.Episodes
	switch cfg.Mode {
	case types.ModeInfer:
		if cfg.Source == nil {
			return nil, errors.New("infer mode requires an action source")
		}
		s.source = cfg.Source
	case types.ModeCollect:
		if cfg.Recorder == nil {
			return nil, errors.New("collect mode requires a recorder")
		}
		var onReset func()
		if cfg.Source != nil {
			s.source = cfg.Source
		} else {
			aim := policy.NewAutoAim(s.world)
			s.source = aim
			onReset = aim.Reset
		}
		m, err := episode.New(episode.Config{
			Episodes: cfg.Episodes,
			Duration: cfg.EpisodeDuration,
			FPS:      cfg.FPS,
		}, episode.Deps{
			Recorder:     cfg.Recorder,
			Poser:        s.world,
			Scene:        s.world,
			Judge:        cfg.Judge,
			Logger:       cfg.Logger,
			Metrics:      cfg.Collector,
			OnReset:      onReset,
			OnTransition: cfg.OnTransition,
		})
		if err != nil {
			return nil, err
		}
		s.machine = m
		episodes = m
	default:
		return nil, fmt.Errorf("unknown mode %q", cfg.Mode)
	}

	sched, err := scheduler.New(scheduler.Config{
		Interval:  scheduler.Interval(cfg.FPS),
		Actuators: s.world,
		Frames:    s.pipeline,
		Source:    s.source,
		Episodes:  episodes,
		Logger:    cfg.Logger,
		Metrics:   cfg.Collector,
	})
	if err != nil {
		return nil, err
	}
	s.sched = sched
	return s, nil
}

// Start launches frame capture and, in collect mode, the first episode.
func (s *Session) Start(ctx context.Context) error {
	if err := s.pipeline.Start(ctx); err != nil {
		return err
	}
	if s.machine != nil {
		s.machine.Start(ctx, s.sched.Now())
	}
	s.pipeline.RequestCapture()
	return nil
}

// Update advances the simulation and the control loop by dt and reports
// whether the session is done.
func (s *Session) Update(ctx context.Context, dt time.Duration) bool {
	s.world.Step(dt)
	s.sched.Advance(ctx, dt)
	return s.sched.Done()
}

// Stop halts capture and folds its counters into the collector.
func (s *Session) Stop() {
	s.pipeline.Stop()
	st := s.pipeline.Stats()
	s.cfg.Collector.AbsorbCaptureStats(st.Requested, st.Completed, st.Failed, st.Skipped)
}

// Elapsed is the control-loop clock.
func (s *Session) Elapsed() time.Duration {
	return s.sched.Now()
}

// Ticks is the number of control ticks executed.
func (s *Session) Ticks() int64 {
	return s.sched.Ticks()
}

// Summary returns the episode counters. It is zero in infer mode.
func (s *Session) Summary() episode.Summary {
	if s.machine == nil {
		return episode.Summary{}
	}
	return s.machine.Summary()
}

// SourceStats returns the action source's counters.
func (s *Session) SourceStats() policy.Stats {
	return s.source.Stats()
}

// CaptureStats returns the capture pipeline counters.
func (s *Session) CaptureStats() capture.Stats {
	return s.pipeline.Stats()
}

// Shots returns the number of shots fired.
func (s *Session) Shots() int64 {
	return s.world.Shots()
}

func (s *Session) strike(st sim.Strike) {
	if s.machine == nil {
		return
	}
	s.machine.Strike(episode.Hit{
		Object:        st.Object.Name,
		IsTarget:      st.Object.IsTarget,
		TargetUpright: st.TargetUpright,
	})
}
