package reader

import (
	"errors"

	"github.com/justapithecus/marksman/lode"
)

// ParseMetricsRecord converts a Lode record (map[string]any) to a MetricsSnapshot.
// Handles both int64 (direct writes) and float64 (JSON round-trips) for numeric fields.
func ParseMetricsRecord(record map[string]any) (*MetricsSnapshot, error) {
	if record == nil {
		return nil, errors.New("nil record")
	}

	snap := &MetricsSnapshot{
		Ts: toString(record["ts"]),

		RunsStarted:   toInt64(record["runs_started_total"]),
		RunsCompleted: toInt64(record["runs_completed_total"]),
		RunsFailed:    toInt64(record["runs_failed_total"]),

		Ticks:             toInt64(record["ticks_total"]),
		RemoteActions:     toInt64(record["remote_actions_total"]),
		FallbackActions:   toInt64(record["fallback_actions_total"]),
		TransportErrors:   toInt64(record["transport_errors_total"]),
		MalformedMessages: toInt64(record["malformed_messages_total"]),
		Reconnects:        toInt64(record["reconnects_total"]),

		CaptureRequested: toInt64(record["capture_requested_total"]),
		CaptureCompleted: toInt64(record["capture_completed_total"]),
		CaptureFailed:    toInt64(record["capture_failed_total"]),
		CaptureSkipped:   toInt64(record["capture_skipped_total"]),

		EpisodesStarted:   toInt64(record["episodes_started_total"]),
		EpisodesFinalized: toInt64(record["episodes_finalized_total"]),
		EpisodesDiscarded: toInt64(record["episodes_discarded_total"]),
		StepsRecorded:     toInt64(record["steps_recorded_total"]),
		RecorderFailures:  toInt64(record["recorder_failures_total"]),

		LodeWriteSuccess: toInt64(record["lode_write_success_total"]),
		LodeWriteFailure: toInt64(record["lode_write_failure_total"]),

		Mode:           toString(record["mode"]),
		ActionSource:   toString(record["action_source"]),
		StorageBackend: toString(record["storage_backend"]),
		RunID:          toString(record["run_id"]),
		Source:         toString(record["source"]),
	}

	// The write path always populates these; missing values indicate a
	// malformed record.
	if snap.Ts == "" {
		return nil, errors.New("metrics record missing required field: ts")
	}
	if snap.RunID == "" {
		return nil, errors.New("metrics record missing required field: run_id")
	}
	if snap.Mode == "" {
		return nil, errors.New("metrics record missing required field: mode")
	}
	if snap.ActionSource == "" {
		return nil, errors.New("metrics record missing required field: action_source")
	}

	return snap, nil
}

func toEpisodeItem(s lode.EpisodeSummary) EpisodeItem {
	return EpisodeItem{
		RunID:       s.RunID,
		Source:      s.Source,
		Episode:     s.EpisodeIndex,
		Steps:       s.Length,
		FPS:         s.FPS,
		Task:        s.Task,
		FramesDir:   s.FramesDir,
		FinalizedAt: s.FinalizedAt,
	}
}

// toInt64 converts a value to int64, handling float64 from JSON and int64 from direct writes.
func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case float64:
		return int64(n)
	case int:
		return int64(n)
	default:
		return 0
	}
}

// toString converts a value to string, returning empty string for nil/non-string.
func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}
