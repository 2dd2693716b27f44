package lode

import (
	"context"
	"time"

	"github.com/justapithecus/marksman/metrics"
)

// InstrumentedClient wraps a Client and records write metrics.
// Each write call increments lode_write_success or lode_write_failure
// on the metrics collector.
type InstrumentedClient struct {
	inner     Client
	collector *metrics.Collector
}

// NewInstrumentedClient wraps a client with metrics instrumentation.
func NewInstrumentedClient(inner Client, collector *metrics.Collector) *InstrumentedClient {
	return &InstrumentedClient{inner: inner, collector: collector}
}

func (c *InstrumentedClient) observe(err error) error {
	if err != nil {
		c.collector.IncLodeWriteFailure()
	} else {
		c.collector.IncLodeWriteSuccess()
	}
	return err
}

// WriteSteps delegates to the inner client and records success or failure.
func (c *InstrumentedClient) WriteSteps(ctx context.Context, steps []StepRecord) error {
	return c.observe(c.inner.WriteSteps(ctx, steps))
}

// WriteEpisode delegates to the inner client and records success or failure.
func (c *InstrumentedClient) WriteEpisode(ctx context.Context, ep EpisodeRecord) error {
	return c.observe(c.inner.WriteEpisode(ctx, ep))
}

// WriteMetrics delegates to the inner client. The metrics write itself is not
// counted: the snapshot being written is already final.
func (c *InstrumentedClient) WriteMetrics(ctx context.Context, snap metrics.Snapshot, completedAt time.Time) error {
	return c.inner.WriteMetrics(ctx, snap, completedAt)
}

// Close delegates to the inner client.
func (c *InstrumentedClient) Close() error {
	return c.inner.Close()
}

// Verify InstrumentedClient implements Client.
var _ Client = (*InstrumentedClient)(nil)
