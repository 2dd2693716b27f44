// Package lode persists recorded episodes, frames and run metrics to a Lode dataset.
//
// Records are Hive-partitioned by source/day/run_id/record_kind. Frame images and
// the dataset meta.json bypass the dataset machinery and are written straight to
// the underlying Store under the run's files/ prefix.
package lode

import (
	"context"
	"time"

	"github.com/justapithecus/marksman/metrics"
)

// DefaultDataset is the dataset ID used when none is configured.
const DefaultDataset = "marksman"

// DeriveDay computes the partition day from run start time.
// Format: YYYY-MM-DD in UTC.
func DeriveDay(startTime time.Time) string {
	return startTime.UTC().Format("2006-01-02")
}

// Config holds the dataset identity and partition keys for one run.
type Config struct {
	// Dataset is the Lode dataset ID.
	Dataset string
	// Source is the partition key for the environment that produced the run.
	Source string
	// Day is the partition key derived from run start time (YYYY-MM-DD UTC).
	Day string
	// RunID is the partition key for run identifier.
	RunID string
}

// Client abstracts the record store used by the recorder and the run orchestrator.
type Client interface {
	// WriteSteps writes all steps of one finalized episode, in order.
	WriteSteps(ctx context.Context, steps []StepRecord) error

	// WriteEpisode writes the episode summary record. It is written after the
	// episode's steps and frames, so its presence marks the episode complete.
	WriteEpisode(ctx context.Context, ep EpisodeRecord) error

	// WriteMetrics writes the run metrics snapshot.
	WriteMetrics(ctx context.Context, snap metrics.Snapshot, completedAt time.Time) error

	// Close releases client resources.
	Close() error
}

// StubClient is a test client that accepts writes without persisting.
type StubClient struct {
	Steps    [][]StepRecord
	Episodes []EpisodeRecord
	Metrics  []metrics.Snapshot
	Closed   bool

	// Err, when set, is returned by every write.
	Err error
}

// NewStubClient creates a new stub client.
func NewStubClient() *StubClient {
	return &StubClient{}
}

// WriteSteps implements Client.
func (c *StubClient) WriteSteps(_ context.Context, steps []StepRecord) error {
	if c.Err != nil {
		return c.Err
	}
	c.Steps = append(c.Steps, steps)
	return nil
}

// WriteEpisode implements Client.
func (c *StubClient) WriteEpisode(_ context.Context, ep EpisodeRecord) error {
	if c.Err != nil {
		return c.Err
	}
	c.Episodes = append(c.Episodes, ep)
	return nil
}

// WriteMetrics implements Client.
func (c *StubClient) WriteMetrics(_ context.Context, snap metrics.Snapshot, _ time.Time) error {
	if c.Err != nil {
		return c.Err
	}
	c.Metrics = append(c.Metrics, snap)
	return nil
}

// Close implements Client.
func (c *StubClient) Close() error {
	c.Closed = true
	return nil
}

// Verify StubClient implements Client.
var _ Client = (*StubClient)(nil)
