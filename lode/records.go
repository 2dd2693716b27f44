package lode

import (
	"time"

	"github.com/justapithecus/marksman/metrics"
	"github.com/justapithecus/marksman/types"
)

// RecordKind discriminator values. The record kind is also the last partition key.
const (
	RecordKindStep    = "step"
	RecordKindEpisode = "episode"
	RecordKindMetrics = "metrics"
)

// StepRecord is one recorded control step of a finalized episode.
type StepRecord struct {
	EpisodeIndex uint32
	FrameIndex   int
	Timestamp    float32
	Action       types.ActionVector
	State        types.StateVector
	Task         string
	TaskIndex    int
	// ImagePath is the run-relative file name of the frame, empty when the
	// step was recorded before the first frame arrived.
	ImagePath string
}

// EpisodeRecord summarizes one finalized episode.
type EpisodeRecord struct {
	EpisodeIndex uint32
	Length       int
	Task         string
	TaskIndex    int
	FPS          float64
	FramesDir    string
	StartedAt    time.Time
	FinalizedAt  time.Time
}

// toStepRecordMap converts a step to a map for Lode storage.
// Lode HiveLayout requires records as map[string]any.
func toStepRecordMap(s StepRecord, cfg Config) map[string]any {
	return map[string]any{
		"record_kind":       RecordKindStep,
		"contract_version":  types.ContractVersion,
		"episode_index":     s.EpisodeIndex,
		"frame_index":       s.FrameIndex,
		"timestamp":         s.Timestamp,
		"action":            s.Action.Slice(),
		"observation.state": s.State.Slice(),
		"task":              s.Task,
		"task_index":        s.TaskIndex,
		"image_path":        s.ImagePath,
		"source":            cfg.Source,
		"day":               cfg.Day,
		"run_id":            cfg.RunID,
	}
}

// toEpisodeRecordMap converts an episode summary to a map for Lode storage.
func toEpisodeRecordMap(e EpisodeRecord, cfg Config) map[string]any {
	return map[string]any{
		"record_kind":      RecordKindEpisode,
		"contract_version": types.ContractVersion,
		"episode_index":    e.EpisodeIndex,
		"length":           e.Length,
		"task":             e.Task,
		"task_index":       e.TaskIndex,
		"fps":              e.FPS,
		"frames_dir":       e.FramesDir,
		"started_at":       e.StartedAt.UTC().Format(time.RFC3339Nano),
		"finalized_at":     e.FinalizedAt.UTC().Format(time.RFC3339Nano),
		"source":           cfg.Source,
		"day":              cfg.Day,
		"run_id":           cfg.RunID,
	}
}

// toMetricsRecordMap converts a metrics snapshot to a map for Lode storage.
// Counter names carry a _total suffix.
func toMetricsRecordMap(s metrics.Snapshot, cfg Config, completedAt time.Time) map[string]any {
	return map[string]any{
		"record_kind":      RecordKindMetrics,
		"contract_version": types.ContractVersion,
		"ts":               completedAt.UTC().Format(time.RFC3339Nano),

		"runs_started_total":   s.RunsStarted,
		"runs_completed_total": s.RunsCompleted,
		"runs_failed_total":    s.RunsFailed,

		"ticks_total":              s.Ticks,
		"remote_actions_total":     s.RemoteActions,
		"fallback_actions_total":   s.FallbackActions,
		"transport_errors_total":   s.TransportErrors,
		"malformed_messages_total": s.MalformedMessages,
		"reconnects_total":         s.Reconnects,

		"capture_requested_total": s.CaptureRequested,
		"capture_completed_total": s.CaptureCompleted,
		"capture_failed_total":    s.CaptureFailed,
		"capture_skipped_total":   s.CaptureSkipped,

		"episodes_started_total":   s.EpisodesStarted,
		"episodes_finalized_total": s.EpisodesFinalized,
		"episodes_discarded_total": s.EpisodesDiscarded,
		"steps_recorded_total":     s.StepsRecorded,
		"recorder_failures_total":  s.RecorderFailures,

		"lode_write_success_total": s.LodeWriteSuccess,
		"lode_write_failure_total": s.LodeWriteFailure,

		"mode":            s.Mode,
		"action_source":   s.ActionSource,
		"storage_backend": s.StorageBackend,

		"source": cfg.Source,
		"day":    cfg.Day,
		"run_id": cfg.RunID,
	}
}
