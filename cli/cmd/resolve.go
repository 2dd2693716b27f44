package cmd

import (
	"time"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/marksman/cli/config"
)

// Precedence for every setting: explicit flag, then config file, then the
// flag's own default.

// configVal reads a field from cfg, returning the zero value for a nil config.
func configVal[T any](cfg *config.Config, get func(*config.Config) T) T {
	var zero T
	if cfg == nil {
		return zero
	}
	return get(cfg)
}

func resolveString(c *cli.Context, name, fromConfig string) string {
	if c.IsSet(name) || fromConfig == "" {
		return c.String(name)
	}
	return fromConfig
}

func resolveInt(c *cli.Context, name string, fromConfig int) int {
	if c.IsSet(name) || fromConfig == 0 {
		return c.Int(name)
	}
	return fromConfig
}

func resolveUint64(c *cli.Context, name string, fromConfig uint64) uint64 {
	if c.IsSet(name) || fromConfig == 0 {
		return c.Uint64(name)
	}
	return fromConfig
}

func resolveFloat(c *cli.Context, name string, fromConfig float64) float64 {
	if c.IsSet(name) || fromConfig == 0 {
		return c.Float64(name)
	}
	return fromConfig
}

func resolveBool(c *cli.Context, name string, fromConfig bool) bool {
	if c.IsSet(name) {
		return c.Bool(name)
	}
	return fromConfig || c.Bool(name)
}

func resolveDuration(c *cli.Context, name string, fromConfig time.Duration) time.Duration {
	if c.IsSet(name) || fromConfig == 0 {
		return c.Duration(name)
	}
	return fromConfig
}

// loadConfig reads --config when given. A missing flag yields nil.
func loadConfig(c *cli.Context) (*config.Config, error) {
	path := c.String("config")
	if path == "" {
		return nil, nil
	}
	return config.Load(path)
}
