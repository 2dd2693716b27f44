package runtime

import (
	"time"

	"github.com/justapithecus/marksman/adapter"
	"github.com/justapithecus/marksman/episode"
	"github.com/justapithecus/marksman/types"
)

func newEvent(meta *types.RunMeta, eventType string) *adapter.Event {
	return &adapter.Event{
		ContractVersion: types.ContractVersion,
		EventType:       eventType,
		RunID:           meta.RunID,
		Source:          meta.Source,
		Mode:            string(meta.Mode),
		Timestamp:       time.Now().UTC().Format(time.RFC3339),
	}
}

// episodeEvent describes a finalized or discarded episode.
func episodeEvent(meta *types.RunMeta, t episode.Transition) *adapter.Event {
	eventType := adapter.EventEpisodeFinalized
	if t.Phase == types.PhaseDiscarding {
		eventType = adapter.EventEpisodeDiscarded
	}
	e := newEvent(meta, eventType)
	index := t.Index
	e.EpisodeIndex = &index
	e.Steps = t.Steps
	return e
}

// runCompletedEvent summarizes the run.
func runCompletedEvent(meta *types.RunMeta, result *RunResult, storagePath string) *adapter.Event {
	e := newEvent(meta, adapter.EventRunCompleted)
	e.Outcome = string(result.Outcome.Status)
	e.EpisodesFinalized = int64(result.Episodes.Finalized)
	e.EpisodesDiscarded = int64(result.Episodes.Discarded)
	e.StoragePath = storagePath
	e.DurationMs = result.Duration.Milliseconds()
	return e
}
