package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/justapithecus/marksman/types"
)

// Config represents a marksman.yaml configuration file.
// Values act as defaults for marksman run flags; CLI flags always override them.
type Config struct {
	Mode         string             `yaml:"mode"`
	Source       string             `yaml:"source"`
	Task         string             `yaml:"task"`
	Seed         uint64             `yaml:"seed"`
	Control      ControlConfig      `yaml:"control"`
	Episodes     EpisodesConfig     `yaml:"episodes"`
	PolicyServer PolicyServerConfig `yaml:"policy_server"`
	Capture      CaptureConfig      `yaml:"capture"`
	Storage      StorageConfig      `yaml:"storage"`
	Adapter      AdapterConfig      `yaml:"adapter"`
}

// ControlConfig holds control loop rates.
type ControlConfig struct {
	FPS                 float64 `yaml:"fps"`
	HostFPS             float64 `yaml:"host_fps"`
	MaxDegreesPerSecond float64 `yaml:"max_degrees_per_second"`
}

// EpisodesConfig bounds collect mode.
type EpisodesConfig struct {
	Count    int      `yaml:"count"`
	Duration Duration `yaml:"duration"`
}

// PolicyServerConfig addresses the remote policy service.
type PolicyServerConfig struct {
	Host            string   `yaml:"host"`
	Port            int      `yaml:"port"`
	MaxMessageBytes uint32   `yaml:"max_message_bytes"`
	RequestTimeout  Duration `yaml:"request_timeout"`
	Reconnect       bool     `yaml:"reconnect"`
}

// CaptureConfig holds camera settings.
type CaptureConfig struct {
	Width       int      `yaml:"width"`
	Height      int      `yaml:"height"`
	JPEGQuality int      `yaml:"jpeg_quality"`
	Latency     Duration `yaml:"latency"`
}

// StorageConfig holds storage defaults from the config file.
type StorageConfig struct {
	Dataset     string `yaml:"dataset"`
	Backend     string `yaml:"backend"`
	Path        string `yaml:"path"`
	Region      string `yaml:"region"`
	Endpoint    string `yaml:"endpoint"`
	S3PathStyle bool   `yaml:"s3_path_style"`
	SpoolDir    string `yaml:"spool_dir"`
}

// AdapterConfig holds adapter defaults from the config file.
type AdapterConfig struct {
	Type    string            `yaml:"type"`
	URL     string            `yaml:"url"`
	Channel string            `yaml:"channel,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty"`
	Timeout Duration          `yaml:"timeout,omitempty"`
	Retries *int              `yaml:"retries,omitempty"`
}

// Duration wraps time.Duration for YAML string parsing (e.g. "10s", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "10s" or "5m30s".
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

// Defaults used when neither the config file nor a flag sets a value.
const (
	DefaultTask     = "Shoot red paper bottle with straw"
	DefaultSource   = "sim"
	DefaultFPS      = 10
	DefaultHostFPS  = 60
	DefaultEpisodes = 50
	DefaultHost     = "127.0.0.1"
	DefaultPort     = 9000
	DefaultWidth    = 640
	DefaultHeight   = 480
	DefaultQuality  = 80
	DefaultMaxDeg   = 5
	DefaultBackend  = "fs"
	DefaultPath     = "./marksman-data"
)

// DefaultEpisodeDuration is the per-episode time limit.
const DefaultEpisodeDuration = 5 * time.Second

// Defaults returns a Config populated with the built-in defaults.
func Defaults() Config {
	return Config{
		Mode:   string(types.ModeCollect),
		Source: DefaultSource,
		Task:   DefaultTask,
		Control: ControlConfig{
			FPS:                 DefaultFPS,
			HostFPS:             DefaultHostFPS,
			MaxDegreesPerSecond: DefaultMaxDeg,
		},
		Episodes: EpisodesConfig{
			Count:    DefaultEpisodes,
			Duration: Duration{DefaultEpisodeDuration},
		},
		PolicyServer: PolicyServerConfig{
			Host: DefaultHost,
			Port: DefaultPort,
		},
		Capture: CaptureConfig{
			Width:       DefaultWidth,
			Height:      DefaultHeight,
			JPEGQuality: DefaultQuality,
		},
		Storage: StorageConfig{
			Backend: DefaultBackend,
			Path:    DefaultPath,
		},
	}
}

// Validate checks value ranges. All problems are reported together.
func (c *Config) Validate() error {
	var errs []error
	if _, err := types.ParseMode(c.Mode); err != nil {
		errs = append(errs, err)
	}
	if c.Control.FPS <= 0 {
		errs = append(errs, fmt.Errorf("control.fps must be positive, got %v", c.Control.FPS))
	}
	if c.Control.HostFPS < 0 {
		errs = append(errs, fmt.Errorf("control.host_fps must not be negative, got %v", c.Control.HostFPS))
	}
	if c.Control.MaxDegreesPerSecond <= 0 {
		errs = append(errs, fmt.Errorf("control.max_degrees_per_second must be positive, got %v", c.Control.MaxDegreesPerSecond))
	}
	if c.Mode == string(types.ModeCollect) {
		if c.Episodes.Count <= 0 {
			errs = append(errs, fmt.Errorf("episodes.count must be positive, got %d", c.Episodes.Count))
		}
		if c.Episodes.Duration.Duration <= 0 {
			errs = append(errs, errors.New("episodes.duration must be positive"))
		}
		if c.Task == "" {
			errs = append(errs, errors.New("task must be non-empty in collect mode"))
		}
	}
	if c.PolicyServer.Port <= 0 || c.PolicyServer.Port > 65535 {
		errs = append(errs, fmt.Errorf("policy_server.port out of range: %d", c.PolicyServer.Port))
	}
	if c.Capture.Width <= 0 || c.Capture.Height <= 0 {
		errs = append(errs, fmt.Errorf("capture size must be positive, got %dx%d", c.Capture.Width, c.Capture.Height))
	}
	if c.Capture.JPEGQuality < 1 || c.Capture.JPEGQuality > 100 {
		errs = append(errs, fmt.Errorf("capture.jpeg_quality must be in [1, 100], got %d", c.Capture.JPEGQuality))
	}
	switch c.Storage.Backend {
	case "fs", "s3":
	default:
		errs = append(errs, fmt.Errorf("storage.backend must be fs or s3, got %q", c.Storage.Backend))
	}
	switch c.Adapter.Type {
	case "", "webhook", "redis":
	default:
		errs = append(errs, fmt.Errorf("adapter.type must be webhook or redis, got %q", c.Adapter.Type))
	}
	if c.Adapter.Type != "" && c.Adapter.URL == "" {
		errs = append(errs, fmt.Errorf("adapter.url is required for %s adapter", c.Adapter.Type))
	}
	return errors.Join(errs...)
}
