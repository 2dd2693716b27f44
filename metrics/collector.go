// Package metrics provides per-run metrics collection.
//
// The Collector accumulates counters during a single run. It is a leaf package
// with no internal dependencies. Capture pipeline counters are absorbed from
// capture.Stats at run completion rather than recorded live, avoiding double-counting.
package metrics

import "sync"

// Snapshot is an immutable point-in-time view of all run metrics.
// Returned by Collector.Snapshot(). Safe to read concurrently after creation.
type Snapshot struct {
	// Run lifecycle
	RunsStarted   int64
	RunsCompleted int64
	RunsFailed    int64

	// Control loop
	Ticks             int64
	RemoteActions     int64
	FallbackActions   int64
	TransportErrors   int64
	MalformedMessages int64
	Reconnects        int64

	// Capture (absorbed from capture.Stats at run completion)
	CaptureRequested int64
	CaptureCompleted int64
	CaptureFailed    int64
	CaptureSkipped   int64

	// Episodes
	EpisodesStarted   int64
	EpisodesFinalized int64
	EpisodesDiscarded int64
	StepsRecorded     int64
	RecorderFailures  int64

	// Lode / Storage
	LodeWriteSuccess int64
	LodeWriteFailure int64

	// Dimensions (informational, set at construction)
	Mode           string
	ActionSource   string
	StorageBackend string
	RunID          string
}

// Collector accumulates metrics during a single run.
// Thread-safe via sync.Mutex. All increment methods are nil-receiver safe.
type Collector struct {
	mu sync.Mutex
	s  Snapshot
}

// NewCollector creates a Collector with dimension labels.
// storageBackend is empty for runs that record nothing.
func NewCollector(mode, actionSource, storageBackend, runID string) *Collector {
	return &Collector{s: Snapshot{
		Mode:           mode,
		ActionSource:   actionSource,
		StorageBackend: storageBackend,
		RunID:          runID,
	}}
}

func (c *Collector) inc(field func(*Snapshot) *int64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	*field(&c.s)++
	c.mu.Unlock()
}

// --- Run lifecycle ---

// IncRunStarted records a run start.
func (c *Collector) IncRunStarted() { c.inc(func(s *Snapshot) *int64 { return &s.RunsStarted }) }

// IncRunCompleted records a successful run completion.
func (c *Collector) IncRunCompleted() { c.inc(func(s *Snapshot) *int64 { return &s.RunsCompleted }) }

// IncRunFailed records a run that ended with an error.
func (c *Collector) IncRunFailed() { c.inc(func(s *Snapshot) *int64 { return &s.RunsFailed }) }

// --- Control loop ---

// IncTick records one executed control tick.
func (c *Collector) IncTick() { c.inc(func(s *Snapshot) *int64 { return &s.Ticks }) }

// IncRemoteAction records an action obtained from the remote policy service.
func (c *Collector) IncRemoteAction() { c.inc(func(s *Snapshot) *int64 { return &s.RemoteActions }) }

// IncFallbackAction records a tick that applied the zero action after a failure.
func (c *Collector) IncFallbackAction() {
	c.inc(func(s *Snapshot) *int64 { return &s.FallbackActions })
}

// IncTransportError records a failed round trip to the policy service.
func (c *Collector) IncTransportError() {
	c.inc(func(s *Snapshot) *int64 { return &s.TransportErrors })
}

// IncMalformedMessage records an inconsistent message from the policy service.
func (c *Collector) IncMalformedMessage() {
	c.inc(func(s *Snapshot) *int64 { return &s.MalformedMessages })
}

// IncReconnect records an explicit reconnect to the policy service.
func (c *Collector) IncReconnect() { c.inc(func(s *Snapshot) *int64 { return &s.Reconnects }) }

// --- Episodes ---

// IncEpisodeStarted records an episode start.
func (c *Collector) IncEpisodeStarted() {
	c.inc(func(s *Snapshot) *int64 { return &s.EpisodesStarted })
}

// IncEpisodeFinalized records a successfully completed episode.
func (c *Collector) IncEpisodeFinalized() {
	c.inc(func(s *Snapshot) *int64 { return &s.EpisodesFinalized })
}

// IncEpisodeDiscarded records a discarded episode.
func (c *Collector) IncEpisodeDiscarded() {
	c.inc(func(s *Snapshot) *int64 { return &s.EpisodesDiscarded })
}

// IncStepRecorded records one step handed to the recorder.
func (c *Collector) IncStepRecorded() { c.inc(func(s *Snapshot) *int64 { return &s.StepsRecorded }) }

// IncRecorderFailure records a recorder call that returned an error.
func (c *Collector) IncRecorderFailure() {
	c.inc(func(s *Snapshot) *int64 { return &s.RecorderFailures })
}

// --- Lode / Storage ---
// Lode counters are per-call, not per-record. A single dataset write
// with N records counts as 1 success.

// IncLodeWriteSuccess records a successful Lode write operation (per-call).
func (c *Collector) IncLodeWriteSuccess() {
	c.inc(func(s *Snapshot) *int64 { return &s.LodeWriteSuccess })
}

// IncLodeWriteFailure records a failed Lode write operation (per-call).
func (c *Collector) IncLodeWriteFailure() {
	c.inc(func(s *Snapshot) *int64 { return &s.LodeWriteFailure })
}

// --- Capture (absorbed) ---

// AbsorbCaptureStats copies capture pipeline counters into the collector.
// Called once after run completion with the final pipeline stats.
func (c *Collector) AbsorbCaptureStats(requested, completed, failed, skipped int64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.s.CaptureRequested = requested
	c.s.CaptureCompleted = completed
	c.s.CaptureFailed = failed
	c.s.CaptureSkipped = skipped
	c.mu.Unlock()
}

// --- Snapshot ---

// Snapshot returns an immutable point-in-time view of all metrics.
// The returned Snapshot is safe to read concurrently; the Collector can
// continue to be mutated independently.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.s
}
