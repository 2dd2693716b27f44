// Package episode implements the collect-mode episode life-cycle.
//
// An episode collects steps until it succeeds, fails or times out. Success
// and timeout finalize it and advance the index; failure discards it and
// retries the same index. After the configured number of finalized episodes
// the machine is Done.
package episode

import (
	"context"
	"errors"
	"time"

	"github.com/justapithecus/marksman/log"
	"github.com/justapithecus/marksman/metrics"
	"github.com/justapithecus/marksman/recorder"
	"github.com/justapithecus/marksman/types"
)

// Poser resets the actuators to their initial pose.
type Poser interface {
	ResetPose()
}

// Scene re-randomizes object placement.
type Scene interface {
	RandomizeScene()
}

// Config bounds the episode sequence.
type Config struct {
	// Episodes is the number of episodes to finalize. Required.
	Episodes int
	// Duration is the per-episode timeout. Zero disables it.
	Duration time.Duration
	// FPS is passed to the recorder.
	FPS float64
}

// Transition is reported after every terminal phase.
type Transition struct {
	Index   uint32
	Phase   types.Phase
	Verdict Verdict
	Steps   int
	Elapsed time.Duration
}

// Deps are the machine's collaborators. Recorder, Poser and Scene are
// required.
type Deps struct {
	Recorder recorder.Recorder
	Poser    Poser
	Scene    Scene
	// Judge defaults to TargetJudge.
	Judge   Judge
	Logger  *log.Logger
	Metrics *metrics.Collector
	// OnReset runs at every episode boundary, after the pose reset.
	OnReset func()
	// OnTransition observes finalize and discard.
	OnTransition func(Transition)
}

// Summary reports the machine's counters.
type Summary struct {
	Index     uint32
	Phase     types.Phase
	Finalized int
	Discarded int
	// Terminal counts Completing and Discarding transitions.
	Terminal int
	// DoneReached counts entries into Done; at most 1.
	DoneReached int
}

// Machine owns the live episode and the episode counter.
// It is driven from the tick goroutine and is not safe for concurrent use,
// except Signal and Strike, which may be called from any goroutine.
type Machine struct {
	cfg  Config
	deps Deps

	index     uint32
	phase     types.Phase
	steps     []types.EpisodeStep
	startedAt time.Duration
	verdict   chan Verdict

	finalized   int
	discarded   int
	terminal    int
	doneReached int
}

// New validates cfg and deps and creates a machine in Collecting phase.
// Call Start before the first tick.
func New(cfg Config, deps Deps) (*Machine, error) {
	if cfg.Episodes <= 0 {
		return nil, errors.New("episode count must be positive")
	}
	if deps.Recorder == nil || deps.Poser == nil || deps.Scene == nil {
		return nil, errors.New("episode machine requires a recorder, poser and scene")
	}
	if deps.Judge == nil {
		deps.Judge = TargetJudge{}
	}
	if deps.Logger == nil {
		deps.Logger = log.NewNop()
	}
	return &Machine{
		cfg:     cfg,
		deps:    deps,
		phase:   types.PhaseCollecting,
		verdict: make(chan Verdict, 1),
	}, nil
}

// Start begins episode 0 at now.
func (m *Machine) Start(ctx context.Context, now time.Duration) {
	m.begin(ctx, now)
}

// Phase returns the current phase.
func (m *Machine) Phase() types.Phase {
	return m.phase
}

// Index returns the current episode index.
func (m *Machine) Index() uint32 {
	return m.index
}

// Episode returns a snapshot of the live episode.
func (m *Machine) Episode() types.Episode {
	return types.Episode{
		Index: m.index,
		Steps: append([]types.EpisodeStep(nil), m.steps...),
		Phase: m.phase,
	}
}

// Elapsed returns the time since the current episode started.
func (m *Machine) Elapsed(now time.Duration) time.Duration {
	return now - m.startedAt
}

// Record appends a step to the live episode and forwards it to the
// recorder. Steps outside Collecting are ignored.
func (m *Machine) Record(ctx context.Context, step types.EpisodeStep, image []byte) {
	if m.phase != types.PhaseCollecting {
		return
	}
	m.steps = append(m.steps, step)
	m.deps.Metrics.IncStepRecorded()
	if err := m.deps.Recorder.RecordStep(ctx, step, image); err != nil {
		m.recorderFailed("record_step", err)
	}
}

// Signal latches a verdict for the live episode. The first verdict wins;
// later ones are dropped until the episode ends.
func (m *Machine) Signal(v Verdict) {
	if v == VerdictNone {
		return
	}
	select {
	case m.verdict <- v:
	default:
	}
}

// Strike judges a hit and signals the resulting verdict.
func (m *Machine) Strike(hit Hit) {
	m.Signal(m.deps.Judge.Judge(hit))
}

// Evaluate applies any pending verdict or timeout and returns the phase
// the machine settled in.
func (m *Machine) Evaluate(ctx context.Context, now time.Duration) types.Phase {
	if m.phase != types.PhaseCollecting {
		return m.phase
	}

	verdict := VerdictNone
	select {
	case verdict = <-m.verdict:
	default:
	}

	switch {
	case verdict == VerdictFailure:
		m.discard(ctx, now)
	case verdict == VerdictSuccess:
		m.complete(ctx, now, verdict)
	case m.cfg.Duration > 0 && m.Elapsed(now) >= m.cfg.Duration:
		m.complete(ctx, now, verdict)
	}
	return m.phase
}

// Summary returns the counters.
func (m *Machine) Summary() Summary {
	return Summary{
		Index:       m.index,
		Phase:       m.phase,
		Finalized:   m.finalized,
		Discarded:   m.discarded,
		Terminal:    m.terminal,
		DoneReached: m.doneReached,
	}
}

func (m *Machine) complete(ctx context.Context, now time.Duration, verdict Verdict) {
	m.phase = types.PhaseCompleting
	m.terminal++
	if err := m.deps.Recorder.FinalizeEpisode(ctx); err != nil {
		m.recorderFailed("finalize_episode", err)
	}
	m.finalized++
	m.deps.Metrics.IncEpisodeFinalized()
	m.notify(now, verdict)

	m.resetScene()
	m.index++
	if int(m.index) >= m.cfg.Episodes {
		m.phase = types.PhaseDone
		m.doneReached++
		m.deps.Logger.Info("all episodes collected", map[string]any{
			"episodes":  m.finalized,
			"discarded": m.discarded,
		})
		return
	}
	m.begin(ctx, now)
}

func (m *Machine) discard(ctx context.Context, now time.Duration) {
	m.phase = types.PhaseDiscarding
	m.terminal++
	if err := m.deps.Recorder.DiscardEpisode(ctx); err != nil {
		m.recorderFailed("discard_episode", err)
	}
	m.discarded++
	m.deps.Metrics.IncEpisodeDiscarded()
	m.notify(now, VerdictFailure)

	m.resetScene()
	m.begin(ctx, now)
}

func (m *Machine) notify(now time.Duration, verdict Verdict) {
	t := Transition{
		Index:   m.index,
		Phase:   m.phase,
		Verdict: verdict,
		Steps:   len(m.steps),
		Elapsed: m.Elapsed(now),
	}
	m.deps.Logger.Info("episode ended", map[string]any{
		"episode_index": t.Index,
		"phase":         string(t.Phase),
		"verdict":       t.Verdict.String(),
		"steps":         t.Steps,
		"elapsed_ms":    t.Elapsed.Milliseconds(),
	})
	if m.deps.OnTransition != nil {
		m.deps.OnTransition(t)
	}
}

func (m *Machine) resetScene() {
	m.deps.Poser.ResetPose()
	if m.deps.OnReset != nil {
		m.deps.OnReset()
	}
	m.deps.Scene.RandomizeScene()
}

func (m *Machine) begin(ctx context.Context, now time.Duration) {
	m.phase = types.PhaseCollecting
	m.steps = m.steps[:0]
	m.startedAt = now
	// A verdict from the previous episode must not leak into this one.
	select {
	case <-m.verdict:
	default:
	}
	m.deps.Metrics.IncEpisodeStarted()
	if err := m.deps.Recorder.StartEpisode(ctx, m.index, m.cfg.FPS); err != nil {
		m.recorderFailed("start_episode", err)
	}
	m.deps.Logger.Debug("episode started", map[string]any{
		"episode_index": m.index,
		"of":            m.cfg.Episodes,
	})
}

func (m *Machine) recorderFailed(op string, err error) {
	m.deps.Metrics.IncRecorderFailure()
	m.deps.Logger.Error("recorder call failed", map[string]any{
		"op":            op,
		"episode_index": m.index,
		"error":         err.Error(),
	})
}
