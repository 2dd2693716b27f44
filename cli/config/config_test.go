package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad_FullConfig(t *testing.T) {
	yaml := `mode: infer
source: bench-2
task: Shoot the red bottle
seed: 42

control:
  fps: 15
  host_fps: 120
  max_degrees_per_second: 8

episodes:
  count: 20
  duration: 7s

policy_server:
  host: policy.local
  port: 9100
  max_message_bytes: 4096
  request_timeout: 250ms
  reconnect: true

capture:
  width: 320
  height: 240
  jpeg_quality: 90
  latency: 20ms

storage:
  dataset: marksman
  backend: s3
  path: my-bucket/prefix
  region: us-east-1
  endpoint: https://example.com
  s3_path_style: true
  spool_dir: /tmp/spool

adapter:
  type: webhook
  url: https://hooks.example.com/marksman
  headers:
    Authorization: Bearer token123
  timeout: 10s
  retries: 3
`
	cfg, err := Load(writeTemp(t, yaml))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	assertEqual(t, "mode", cfg.Mode, "infer")
	assertEqual(t, "source", cfg.Source, "bench-2")
	assertEqual(t, "task", cfg.Task, "Shoot the red bottle")
	if cfg.Seed != 42 {
		t.Errorf("seed = %d, want 42", cfg.Seed)
	}

	if cfg.Control.FPS != 15 || cfg.Control.HostFPS != 120 || cfg.Control.MaxDegreesPerSecond != 8 {
		t.Errorf("control = %+v, want fps 15, host_fps 120, max 8", cfg.Control)
	}
	if cfg.Episodes.Count != 20 || cfg.Episodes.Duration.Duration != 7*time.Second {
		t.Errorf("episodes = %+v, want 20 x 7s", cfg.Episodes)
	}

	ps := cfg.PolicyServer
	assertEqual(t, "policy_server.host", ps.Host, "policy.local")
	if ps.Port != 9100 || ps.MaxMessageBytes != 4096 || !ps.Reconnect {
		t.Errorf("policy_server = %+v", ps)
	}
	if ps.RequestTimeout.Duration != 250*time.Millisecond {
		t.Errorf("request_timeout = %v, want 250ms", ps.RequestTimeout.Duration)
	}

	if cfg.Capture.Width != 320 || cfg.Capture.Height != 240 || cfg.Capture.JPEGQuality != 90 {
		t.Errorf("capture = %+v", cfg.Capture)
	}
	if cfg.Capture.Latency.Duration != 20*time.Millisecond {
		t.Errorf("capture.latency = %v, want 20ms", cfg.Capture.Latency.Duration)
	}

	assertEqual(t, "storage.backend", cfg.Storage.Backend, "s3")
	assertEqual(t, "storage.path", cfg.Storage.Path, "my-bucket/prefix")
	assertEqual(t, "storage.region", cfg.Storage.Region, "us-east-1")
	assertEqual(t, "storage.endpoint", cfg.Storage.Endpoint, "https://example.com")
	assertEqual(t, "storage.spool_dir", cfg.Storage.SpoolDir, "/tmp/spool")
	if !cfg.Storage.S3PathStyle {
		t.Error("expected storage.s3_path_style=true")
	}

	assertEqual(t, "adapter.type", cfg.Adapter.Type, "webhook")
	assertEqual(t, "adapter.url", cfg.Adapter.URL, "https://hooks.example.com/marksman")
	if cfg.Adapter.Timeout.Duration != 10*time.Second {
		t.Errorf("adapter.timeout = %v, want 10s", cfg.Adapter.Timeout.Duration)
	}
	if cfg.Adapter.Retries == nil || *cfg.Adapter.Retries != 3 {
		t.Errorf("expected adapter.retries=3")
	}
	if cfg.Adapter.Headers["Authorization"] != "Bearer token123" {
		t.Errorf("expected Authorization header")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() = %v, want nil", err)
	}
}

func TestLoad_EmptyConfigKeepsDefaults(t *testing.T) {
	for _, content := range []string{"", "   \n  \n", "# only a comment\n"} {
		cfg, err := Load(writeTemp(t, content))
		if err != nil {
			t.Fatalf("Load(%q) failed: %v", content, err)
		}
		def := Defaults()
		if cfg.Task != def.Task || cfg.Control.FPS != def.Control.FPS || cfg.Episodes.Count != def.Episodes.Count {
			t.Errorf("Load(%q) = %+v, want defaults", content, cfg)
		}
	}
}

func TestLoad_PartialSectionKeepsOtherDefaults(t *testing.T) {
	cfg, err := Load(writeTemp(t, "control:\n  fps: 30\n"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Control.FPS != 30 {
		t.Errorf("control.fps = %v, want 30", cfg.Control.FPS)
	}
	if cfg.Control.HostFPS != DefaultHostFPS {
		t.Errorf("control.host_fps = %v, want %v", cfg.Control.HostFPS, DefaultHostFPS)
	}
	if cfg.PolicyServer.Port != DefaultPort {
		t.Errorf("policy_server.port = %d, want %d", cfg.PolicyServer.Port, DefaultPort)
	}
}

func TestDefaults(t *testing.T) {
	def := Defaults()
	if def.Control.FPS != 10 {
		t.Errorf("fps = %v, want 10", def.Control.FPS)
	}
	if def.Episodes.Count != 50 || def.Episodes.Duration.Duration != 5*time.Second {
		t.Errorf("episodes = %+v, want 50 x 5s", def.Episodes)
	}
	if def.PolicyServer.Host != "127.0.0.1" || def.PolicyServer.Port != 9000 {
		t.Errorf("policy_server = %s:%d, want 127.0.0.1:9000", def.PolicyServer.Host, def.PolicyServer.Port)
	}
	if def.PolicyServer.Reconnect || def.PolicyServer.RequestTimeout.Duration != 0 {
		t.Error("reconnect and request_timeout must default to off")
	}
	if def.Capture.Width != 640 || def.Capture.Height != 480 || def.Capture.JPEGQuality != 80 {
		t.Errorf("capture = %+v, want 640x480 q80", def.Capture)
	}
	assertEqual(t, "task", def.Task, "Shoot red paper bottle with straw")
	if err := def.Validate(); err != nil {
		t.Errorf("Defaults().Validate() = %v, want nil", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"bad mode", func(c *Config) { c.Mode = "replay" }, "invalid mode"},
		{"zero fps", func(c *Config) { c.Control.FPS = 0 }, "control.fps"},
		{"zero episodes", func(c *Config) { c.Episodes.Count = 0 }, "episodes.count"},
		{"zero duration", func(c *Config) { c.Episodes.Duration = Duration{} }, "episodes.duration"},
		{"empty task", func(c *Config) { c.Task = "" }, "task"},
		{"port", func(c *Config) { c.PolicyServer.Port = 70000 }, "policy_server.port"},
		{"quality", func(c *Config) { c.Capture.JPEGQuality = 0 }, "jpeg_quality"},
		{"backend", func(c *Config) { c.Storage.Backend = "gcs" }, "storage.backend"},
		{"adapter type", func(c *Config) { c.Adapter.Type = "kafka" }, "adapter.type"},
		{"adapter url", func(c *Config) { c.Adapter.Type = "redis" }, "adapter.url"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %v, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestValidate_InferIgnoresEpisodes(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "infer"
	cfg.Episodes.Count = 0
	cfg.Task = ""
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() = %v, want nil", err)
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	if _, err := Load("/nonexistent/marksman.yaml"); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	if _, err := Load(writeTemp(t, "{{invalid yaml")); err == nil {
		t.Fatal("expected error for invalid YAML")
	}
}

func TestLoad_EnvExpansion(t *testing.T) {
	t.Setenv("MARKSMAN_TEST_HOST", "10.0.0.5")
	cfg, err := Load(writeTemp(t, "policy_server:\n  host: ${MARKSMAN_TEST_HOST}\n  port: ${MARKSMAN_TEST_PORT:-9200}\n"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	assertEqual(t, "policy_server.host", cfg.PolicyServer.Host, "10.0.0.5")
	if cfg.PolicyServer.Port != 9200 {
		t.Errorf("policy_server.port = %d, want 9200", cfg.PolicyServer.Port)
	}
}

func TestLoad_UnknownKeyRejected(t *testing.T) {
	_, err := Load(writeTemp(t, "source: sim\nbogus_key: should_fail\n"))
	if err == nil {
		t.Fatal("expected error for unknown key, got nil")
	}
	if !strings.Contains(err.Error(), "bogus_key") {
		t.Errorf("error should mention the unknown key, got: %v", err)
	}
}

func TestLoad_UnknownNestedKeyRejected(t *testing.T) {
	_, err := Load(writeTemp(t, "storage:\n  backend: fs\n  unknown_field: bad\n"))
	if err == nil {
		t.Fatal("expected error for unknown nested key, got nil")
	}
	if !strings.Contains(err.Error(), "unknown_field") {
		t.Errorf("error should mention the unknown key, got: %v", err)
	}
}

func TestLoad_RetriesZeroDistinctFromNil(t *testing.T) {
	cfg, err := Load(writeTemp(t, "adapter:\n  type: webhook\n  url: https://example.com\n  retries: 0\n"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Adapter.Retries == nil {
		t.Fatal("expected retries to be non-nil (*int(0)), got nil")
	}
	if *cfg.Adapter.Retries != 0 {
		t.Errorf("expected retries=0, got %d", *cfg.Adapter.Retries)
	}
}

func TestLoad_RetriesOmittedIsNil(t *testing.T) {
	cfg, err := Load(writeTemp(t, "adapter:\n  type: webhook\n  url: https://example.com\n"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Adapter.Retries != nil {
		t.Errorf("expected retries to be nil, got %d", *cfg.Adapter.Retries)
	}
}

func TestDuration_InvalidFormat(t *testing.T) {
	_, err := Load(writeTemp(t, "episodes:\n  duration: not-a-duration\n"))
	if err == nil {
		t.Fatal("expected error for invalid duration")
	}
	if !strings.Contains(err.Error(), "not-a-duration") {
		t.Errorf("error should mention the bad value, got: %v", err)
	}
}

func TestDuration_EmptyKeepsDefault(t *testing.T) {
	cfg, err := Load(writeTemp(t, "episodes:\n  duration: \"\"\n"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Episodes.Duration.Duration != DefaultEpisodeDuration {
		t.Errorf("duration = %v, want %v", cfg.Episodes.Duration.Duration, DefaultEpisodeDuration)
	}
}

func TestLoad_RedisAdapterConfig(t *testing.T) {
	yaml := `adapter:
  type: redis
  url: redis://localhost:6379/0
  channel: turret:events
`
	cfg, err := Load(writeTemp(t, yaml))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	assertEqual(t, "adapter.type", cfg.Adapter.Type, "redis")
	assertEqual(t, "adapter.channel", cfg.Adapter.Channel, "turret:events")
}

// writeTemp writes content to a temp file and returns the path.
func writeTemp(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "marksman.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}
	return path
}

func assertEqual(t *testing.T, field, got, want string) {
	t.Helper()
	if got != want {
		t.Errorf("%s: got %q, want %q", field, got, want)
	}
}
