// Package reader provides the read-side data access layer for the marksman CLI.
//
// It isolates the episodes and stats commands from the storage layout: all
// reads go through a Reader backed by the run dataset.
package reader

// Filter narrows reads to one run and/or source partition. Empty fields match all.
type Filter struct {
	RunID  string
	Source string
}

// EpisodeItem is one finalized episode in list output.
type EpisodeItem struct {
	RunID       string  `json:"run_id"`
	Source      string  `json:"source"`
	Episode     int64   `json:"episode"`
	Steps       int64   `json:"steps"`
	FPS         float64 `json:"fps"`
	Task        string  `json:"task" table:"-"`
	FramesDir   string  `json:"frames_dir"`
	FinalizedAt string  `json:"finalized_at"`
}

// MetricsSnapshot is the latest run metrics record.
type MetricsSnapshot struct {
	Ts string `json:"ts"`

	// Run lifecycle
	RunsStarted   int64 `json:"runs_started"`
	RunsCompleted int64 `json:"runs_completed"`
	RunsFailed    int64 `json:"runs_failed"`

	// Control loop
	Ticks             int64 `json:"ticks"`
	RemoteActions     int64 `json:"remote_actions"`
	FallbackActions   int64 `json:"fallback_actions"`
	TransportErrors   int64 `json:"transport_errors"`
	MalformedMessages int64 `json:"malformed_messages"`
	Reconnects        int64 `json:"reconnects"`

	// Capture
	CaptureRequested int64 `json:"capture_requested"`
	CaptureCompleted int64 `json:"capture_completed"`
	CaptureFailed    int64 `json:"capture_failed"`
	CaptureSkipped   int64 `json:"capture_skipped"`

	// Episodes
	EpisodesStarted   int64 `json:"episodes_started"`
	EpisodesFinalized int64 `json:"episodes_finalized"`
	EpisodesDiscarded int64 `json:"episodes_discarded"`
	StepsRecorded     int64 `json:"steps_recorded"`
	RecorderFailures  int64 `json:"recorder_failures"`

	// Lode / Storage
	LodeWriteSuccess int64 `json:"lode_write_success"`
	LodeWriteFailure int64 `json:"lode_write_failure"`

	// Dimensions
	Mode           string `json:"mode"`
	ActionSource   string `json:"action_source"`
	StorageBackend string `json:"storage_backend"`
	RunID          string `json:"run_id"`
	Source         string `json:"source"`
}
