package lode

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/justapithecus/lode/lode"

	"github.com/justapithecus/marksman/metrics"
)

// ErrEmptyEpisode is returned when an episode record has no steps.
var ErrEmptyEpisode = errors.New("episode rejected: no steps recorded")

// partitionKeys is the Hive layout shared by the write and read paths.
var partitionKeys = []string{"source", "day", "run_id", "record_kind"}

// LodeClient is a Lode-backed implementation of Client and FileWriter.
type LodeClient struct {
	dataset lode.Dataset
	config  Config

	storeFactory lode.StoreFactory
	storeOnce    sync.Once
	store        lode.Store
	storeErr     error
}

// NewLodeClient creates a new Lode client with filesystem storage.
// The root parameter is the base directory for Hive-partitioned storage.
func NewLodeClient(cfg Config, root string) (*LodeClient, error) {
	return NewLodeClientWithFactory(cfg, lode.NewFSFactory(root))
}

// NewLodeClientWithFactory creates a new Lode client with a custom store factory.
// Use lode.NewMemoryFactory() for testing.
func NewLodeClientWithFactory(cfg Config, factory lode.StoreFactory) (*LodeClient, error) {
	if cfg.Dataset == "" {
		cfg.Dataset = DefaultDataset
	}
	ds, err := newDataset(cfg.Dataset, factory)
	if err != nil {
		return nil, WrapInitError(err, cfg.Dataset)
	}
	return newClient(ds, cfg, factory), nil
}

func newClient(ds lode.Dataset, cfg Config, factory lode.StoreFactory) *LodeClient {
	return &LodeClient{
		dataset:      ds,
		config:       cfg,
		storeFactory: factory,
	}
}

func newDataset(id string, factory lode.StoreFactory) (lode.Dataset, error) {
	return lode.NewDataset(
		lode.DatasetID(id),
		factory,
		lode.WithHiveLayout(partitionKeys...),
		lode.WithCodec(lode.NewJSONLCodec()),
	)
}

// WriteSteps writes the steps of one episode as a single dataset snapshot.
func (c *LodeClient) WriteSteps(ctx context.Context, steps []StepRecord) error {
	if len(steps) == 0 {
		return nil
	}
	records := make([]any, 0, len(steps))
	for _, s := range steps {
		records = append(records, toStepRecordMap(s, c.config))
	}
	return c.write(ctx, records)
}

// WriteEpisode writes the episode summary record.
func (c *LodeClient) WriteEpisode(ctx context.Context, ep EpisodeRecord) error {
	if ep.Length == 0 {
		return ErrEmptyEpisode
	}
	return c.write(ctx, []any{toEpisodeRecordMap(ep, c.config)})
}

// WriteMetrics writes the run metrics snapshot as a single record.
func (c *LodeClient) WriteMetrics(ctx context.Context, snap metrics.Snapshot, completedAt time.Time) error {
	return c.write(ctx, []any{toMetricsRecordMap(snap, c.config, completedAt)})
}

func (c *LodeClient) write(ctx context.Context, records []any) error {
	if _, err := c.dataset.Write(ctx, records, lode.Metadata{}); err != nil {
		return WrapWriteError(err, c.config.Dataset)
	}
	return nil
}

// Close releases client resources.
func (c *LodeClient) Close() error {
	// Dataset doesn't require explicit close in current Lode API
	return nil
}

// Verify LodeClient implements Client.
var _ Client = (*LodeClient)(nil)
