package runtime

import (
	"context"
	"fmt"
	"time"

	"github.com/justapithecus/marksman/adapter"
	"github.com/justapithecus/marksman/capture"
	"github.com/justapithecus/marksman/client"
	"github.com/justapithecus/marksman/episode"
	"github.com/justapithecus/marksman/iox"
	"github.com/justapithecus/marksman/lode"
	"github.com/justapithecus/marksman/log"
	"github.com/justapithecus/marksman/metrics"
	"github.com/justapithecus/marksman/policy"
	"github.com/justapithecus/marksman/recorder"
	"github.com/justapithecus/marksman/scheduler"
	"github.com/justapithecus/marksman/sim"
	"github.com/justapithecus/marksman/types"
)

// DefaultHostFPS is the host loop rate when none is configured.
const DefaultHostFPS = 60

// persistTimeout bounds end-of-run writes once the run context is gone.
const persistTimeout = 30 * time.Second

// RunConfig configures a single run.
type RunConfig struct {
	// RunMeta is the run identity.
	RunMeta *types.RunMeta

	// FPS is the control rate; HostFPS is the simulation step rate.
	FPS     float64
	HostFPS float64

	Episodes        int
	EpisodeDuration time.Duration
	// MaxDuration ends an infer run after this much control time.
	// Zero runs until the context is canceled.
	MaxDuration time.Duration

	Seed                uint64
	MaxDegreesPerSecond float64
	Camera              sim.CameraConfig

	// Policy addresses the policy service in infer mode.
	Policy client.Config
	// Reconnect re-dials a broken policy connection between ticks.
	Reconnect bool

	// Recorder persists episodes in collect mode.
	Recorder recorder.Recorder
	// Lode, when set, receives the metrics record at run end.
	Lode lode.Client
	// StoragePath is reported in the run_completed event.
	StoragePath string
	// Publisher, when set, receives episode and run events.
	Publisher *adapter.AsyncPublisher
	// Judge overrides the success predicate.
	Judge episode.Judge

	// Collector is the metrics collector for this run.
	// If nil, no metrics are recorded (all Collector methods are nil-safe).
	Collector *metrics.Collector
	// Logger overrides the run logger (for testing).
	Logger *log.Logger
}

// RunResult represents the result of a run.
type RunResult struct {
	RunMeta  *types.RunMeta
	Outcome  *types.RunOutcome
	Duration time.Duration
	// ControlTime is the control-loop clock at exit.
	ControlTime time.Duration
	Ticks       int64
	Shots       int64
	Episodes    episode.Summary
	SourceName  string
	SourceStats policy.Stats
	Capture     capture.Stats
}

// RunOrchestrator orchestrates a single run.
type RunOrchestrator struct {
	config    *RunConfig
	logger    *log.Logger
	startTime time.Time
}

// NewRunOrchestrator creates a new run orchestrator.
// Returns error if run metadata is invalid.
func NewRunOrchestrator(config *RunConfig) (*RunOrchestrator, error) {
	if err := config.RunMeta.Validate(); err != nil {
		return nil, fmt.Errorf("invalid run metadata: %w", err)
	}
	if config.RunMeta.Mode == types.ModeCollect && config.Recorder == nil {
		return nil, fmt.Errorf("collect run %s has no recorder", config.RunMeta.RunID)
	}

	logger := config.Logger
	if logger == nil {
		logger = log.NewLogger(config.RunMeta)
	}

	return &RunOrchestrator{
		config: config,
		logger: logger,
	}, nil
}

// Execute runs the session to completion.
//
// Execution flow:
//  1. Connect to the policy service (infer mode); failure is returned as a
//     *client.ConnectionError and nothing else happens
//  2. Assemble and start the session
//  3. Drive it from the host loop until done, timed out or canceled
//  4. Stop capture, close the recorder, persist metrics
//  5. Publish run_completed and return the result
func (r *RunOrchestrator) Execute(ctx context.Context) (*RunResult, error) {
	r.startTime = time.Now()
	meta := r.config.RunMeta

	var source policy.ActionSource
	if meta.Mode == types.ModeInfer {
		pc, err := client.Dial(ctx, r.config.Policy)
		if err != nil {
			r.logger.Error("policy service unreachable", map[string]any{
				"addr":  r.config.Policy.Addr(),
				"error": err.Error(),
			})
			return nil, err
		}
		defer iox.DiscardClose(pc)
		source = policy.NewRemote(pc, r.config.Collector, r.config.Reconnect)
	}

	session, err := NewSession(SessionConfig{
		Mode:                meta.Mode,
		FPS:                 r.config.FPS,
		Episodes:            r.config.Episodes,
		EpisodeDuration:     r.config.EpisodeDuration,
		Seed:                r.config.Seed,
		MaxDegreesPerSecond: r.config.MaxDegreesPerSecond,
		Camera:              r.config.Camera,
		Source:              source,
		Recorder:            r.config.Recorder,
		Judge:               r.config.Judge,
		Logger:              r.logger,
		Collector:           r.config.Collector,
		OnTransition:        r.publishTransition,
	})
	if err != nil {
		return nil, fmt.Errorf("assembling session: %w", err)
	}

	r.config.Collector.IncRunStarted()
	r.logger.Info("starting run", map[string]any{
		"fps":      r.config.FPS,
		"episodes": r.config.Episodes,
		"source":   session.source.Name(),
	})

	if err := session.Start(ctx); err != nil {
		return nil, fmt.Errorf("starting session: %w", err)
	}
	finished := r.hostLoop(ctx, session)
	session.Stop()

	var storageErrs []error
	if r.config.Recorder != nil {
		if err := r.config.Recorder.Close(); err != nil {
			storageErrs = append(storageErrs, fmt.Errorf("closing recorder: %w", err))
		}
	}

	outcome := r.determineOutcome(finished, session, storageErrs)
	switch outcome.Status {
	case types.OutcomeSuccess:
		r.config.Collector.IncRunCompleted()
	default:
		r.config.Collector.IncRunFailed()
	}

	if err := r.persistMetrics(ctx); err != nil {
		r.logger.Error("metrics write failed", map[string]any{"error": err.Error()})
		if outcome.Status == types.OutcomeSuccess {
			outcome = &types.RunOutcome{
				Status:  types.OutcomeStorageFailure,
				Message: fmt.Sprintf("metrics write failed: %v", err),
			}
		}
	}

	result := r.buildResult(outcome, session)
	r.publish(runCompletedEvent(meta, result, r.config.StoragePath))

	r.logger.Info("run completed", map[string]any{
		"outcome":  string(outcome.Status),
		"ticks":    result.Ticks,
		"duration": result.Duration.String(),
	})
	return result, nil
}

// hostLoop steps the session with wall-clock deltas. It reports whether the
// session finished on its own (collect done or infer time limit reached).
func (r *RunOrchestrator) hostLoop(ctx context.Context, session *Session) bool {
	hostFPS := r.config.HostFPS
	if hostFPS <= 0 {
		hostFPS = DefaultHostFPS
	}
	ticker := time.NewTicker(scheduler.Interval(hostFPS))
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return false
		case now := <-ticker.C:
			dt := now.Sub(last)
			last = now
			if session.Update(ctx, dt) {
				return true
			}
			if r.config.MaxDuration > 0 && session.Elapsed() >= r.config.MaxDuration {
				return true
			}
		}
	}
}

func (r *RunOrchestrator) determineOutcome(finished bool, session *Session, storageErrs []error) *types.RunOutcome {
	if !finished {
		return &types.RunOutcome{
			Status:  types.OutcomeCanceled,
			Message: fmt.Sprintf("run interrupted after %d ticks", session.Ticks()),
		}
	}
	if failures := r.config.Collector.Snapshot().RecorderFailures; failures > 0 {
		return &types.RunOutcome{
			Status:  types.OutcomeStorageFailure,
			Message: fmt.Sprintf("%d recorder calls failed", failures),
		}
	}
	if len(storageErrs) > 0 {
		return &types.RunOutcome{
			Status:  types.OutcomeStorageFailure,
			Message: storageErrs[0].Error(),
		}
	}
	if r.config.RunMeta.Mode == types.ModeCollect {
		s := session.Summary()
		return &types.RunOutcome{
			Status:  types.OutcomeSuccess,
			Message: fmt.Sprintf("collected %d episodes (%d discarded)", s.Finalized, s.Discarded),
		}
	}
	return &types.RunOutcome{
		Status:  types.OutcomeSuccess,
		Message: fmt.Sprintf("inference ran for %s", session.Elapsed()),
	}
}

// persistMetrics writes the metrics snapshot even when ctx is canceled.
func (r *RunOrchestrator) persistMetrics(ctx context.Context) error {
	if r.config.Lode == nil {
		return nil
	}
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	return r.config.Lode.WriteMetrics(writeCtx, r.config.Collector.Snapshot(), time.Now())
}

func (r *RunOrchestrator) publishTransition(t episode.Transition) {
	r.publish(episodeEvent(r.config.RunMeta, t))
}

func (r *RunOrchestrator) publish(event *adapter.Event) {
	if r.config.Publisher == nil {
		return
	}
	if !r.config.Publisher.Enqueue(event) {
		r.logger.Warn("event queue full, dropping event", map[string]any{
			"event_type": event.EventType,
		})
	}
}

func (r *RunOrchestrator) buildResult(outcome *types.RunOutcome, session *Session) *RunResult {
	return &RunResult{
		RunMeta:     r.config.RunMeta,
		Outcome:     outcome,
		Duration:    time.Since(r.startTime),
		ControlTime: session.Elapsed(),
		Ticks:       session.Ticks(),
		Shots:       session.Shots(),
		Episodes:    session.Summary(),
		SourceName:  session.source.Name(),
		SourceStats: session.SourceStats(),
		Capture:     session.CaptureStats(),
	}
}
