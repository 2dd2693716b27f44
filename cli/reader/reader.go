package reader

import (
	"context"
	"fmt"

	lodelib "github.com/justapithecus/lode/lode"

	"github.com/justapithecus/marksman/lode"
)

// Reader abstracts read-only dataset access for CLI commands.
type Reader interface {
	ListEpisodes(ctx context.Context, f Filter) ([]EpisodeItem, error)
	LatestMetrics(ctx context.Context, f Filter) (*MetricsSnapshot, error)
}

// StorageOptions selects the dataset to read.
type StorageOptions struct {
	Dataset     string
	Backend     string
	Path        string
	Region      string
	Endpoint    string
	S3PathStyle bool
}

// DatasetReader reads episodes and metrics from a Lode dataset.
type DatasetReader struct {
	ds lodelib.Dataset
}

// NewDatasetReader wraps an open dataset.
func NewDatasetReader(ds lodelib.Dataset) *DatasetReader {
	return &DatasetReader{ds: ds}
}

// Open builds a read dataset for the configured backend.
func Open(ctx context.Context, opts StorageOptions) (*DatasetReader, error) {
	if opts.Dataset == "" {
		opts.Dataset = lode.DefaultDataset
	}
	if opts.Path == "" {
		return nil, fmt.Errorf("storage path is required for %s backend", opts.Backend)
	}

	var (
		ds  lodelib.Dataset
		err error
	)
	switch opts.Backend {
	case "fs":
		ds, err = lode.NewReadDatasetFS(opts.Dataset, opts.Path)
	case "s3":
		bucket, prefix := lode.ParseS3Path(opts.Path)
		ds, err = lode.NewReadDatasetS3(ctx, opts.Dataset, lode.S3Config{
			Bucket:       bucket,
			Prefix:       prefix,
			Region:       opts.Region,
			Endpoint:     opts.Endpoint,
			UsePathStyle: opts.S3PathStyle,
		})
	default:
		return nil, fmt.Errorf("unsupported storage backend: %s (must be fs or s3)", opts.Backend)
	}
	if err != nil {
		return nil, err
	}
	return NewDatasetReader(ds), nil
}

// ListEpisodes returns finalized episodes ordered by run and index.
func (r *DatasetReader) ListEpisodes(ctx context.Context, f Filter) ([]EpisodeItem, error) {
	summaries, err := lode.QueryEpisodes(ctx, r.ds, f.RunID, f.Source)
	if err != nil {
		return nil, err
	}
	items := make([]EpisodeItem, 0, len(summaries))
	for _, s := range summaries {
		items = append(items, toEpisodeItem(s))
	}
	return items, nil
}

// LatestMetrics returns the most recent metrics record.
func (r *DatasetReader) LatestMetrics(ctx context.Context, f Filter) (*MetricsSnapshot, error) {
	record, err := lode.QueryLatestMetrics(ctx, r.ds, f.RunID, f.Source)
	if err != nil {
		return nil, err
	}
	return ParseMetricsRecord(record)
}

var _ Reader = (*DatasetReader)(nil)
