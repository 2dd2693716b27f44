package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/marksman/cli/config"
	"github.com/justapithecus/marksman/cli/reader"
)

// readTimeout bounds a single read command against the dataset.
const readTimeout = 30 * time.Second

// storageOptions resolves dataset read settings from flags and --config.
func storageOptions(c *cli.Context) (reader.StorageOptions, error) {
	fileCfg, err := loadConfig(c)
	if err != nil {
		return reader.StorageOptions{}, err
	}
	storage := configVal(fileCfg, func(x *config.Config) config.StorageConfig { return x.Storage })
	return reader.StorageOptions{
		Dataset:     resolveString(c, "storage-dataset", storage.Dataset),
		Backend:     resolveString(c, "storage-backend", storage.Backend),
		Path:        resolveString(c, "storage-path", storage.Path),
		Region:      resolveString(c, "storage-region", storage.Region),
		Endpoint:    resolveString(c, "storage-endpoint", storage.Endpoint),
		S3PathStyle: resolveBool(c, "storage-s3-path-style", storage.S3PathStyle),
	}, nil
}

// openReader opens the dataset selected by the command's flags.
func openReader(ctx context.Context, c *cli.Context) (reader.Reader, error) {
	opts, err := storageOptions(c)
	if err != nil {
		return nil, err
	}
	r, err := reader.Open(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage reader: %w", err)
	}
	return r, nil
}

func readFilter(c *cli.Context) reader.Filter {
	return reader.Filter{
		RunID:  c.String("run-id"),
		Source: c.String("source"),
	}
}
