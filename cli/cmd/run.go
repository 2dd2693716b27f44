package cmd

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/justapithecus/marksman/adapter"
	"github.com/justapithecus/marksman/adapter/redis"
	"github.com/justapithecus/marksman/adapter/webhook"
	"github.com/justapithecus/marksman/cli/config"
	"github.com/justapithecus/marksman/client"
	"github.com/justapithecus/marksman/iox"
	"github.com/justapithecus/marksman/lode"
	"github.com/justapithecus/marksman/log"
	"github.com/justapithecus/marksman/metrics"
	"github.com/justapithecus/marksman/policy"
	"github.com/justapithecus/marksman/recorder"
	"github.com/justapithecus/marksman/runtime"
	"github.com/justapithecus/marksman/sim"
	"github.com/justapithecus/marksman/types"
)

// Exit codes for marksman run.
const (
	exitSuccess     = 0
	exitRunFailure  = 1
	exitConfigError = 2
)

// adapterCloseTimeout bounds draining the event queue at exit.
const adapterCloseTimeout = 10 * time.Second

// RunCommand returns the run command.
// This is the only command that drives the turret.
func RunCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Run the control loop (collect episodes or infer against a policy service)",
		Flags: runFlags(),
		Action: func(c *cli.Context) error {
			return runAction(c)
		},
	}
}

func runFlags() []cli.Flag {
	return []cli.Flag{
		ConfigFlag,
		// Run identity
		&cli.StringFlag{Name: "mode", Usage: "Run mode: collect or infer", Value: string(types.ModeCollect)},
		&cli.StringFlag{Name: "run-id", Usage: "Run ID (default: generated)"},
		&cli.StringFlag{Name: "source", Usage: "Source partition key", Value: config.DefaultSource},
		&cli.StringFlag{Name: "task", Usage: "Task label stored with every step", Value: config.DefaultTask},
		&cli.Uint64Flag{Name: "seed", Usage: "Simulation seed (0 picks one at random)"},
		// Control loop
		&cli.Float64Flag{Name: "fps", Usage: "Control rate in ticks per second", Value: config.DefaultFPS},
		&cli.Float64Flag{Name: "host-fps", Usage: "Simulation step rate", Value: config.DefaultHostFPS},
		&cli.Float64Flag{Name: "max-degrees-per-second", Usage: "Turret slew limit per axis", Value: config.DefaultMaxDeg},
		&cli.IntFlag{Name: "episodes", Usage: "Episodes to collect", Value: config.DefaultEpisodes},
		&cli.DurationFlag{Name: "episode-duration", Usage: "Per-episode time limit", Value: config.DefaultEpisodeDuration},
		&cli.DurationFlag{Name: "max-duration", Usage: "Stop an infer run after this much control time (0 = until interrupted)"},
		// Policy service
		&cli.StringFlag{Name: "policy-host", Usage: "Policy service host", Value: config.DefaultHost},
		&cli.IntFlag{Name: "policy-port", Usage: "Policy service port", Value: config.DefaultPort},
		&cli.IntFlag{Name: "policy-max-message-bytes", Usage: "Largest accepted response payload (0 = protocol maximum)"},
		&cli.DurationFlag{Name: "policy-request-timeout", Usage: "Per-request timeout (0 = none)"},
		&cli.BoolFlag{Name: "policy-reconnect", Usage: "Re-dial a broken policy connection between ticks"},
		// Capture
		&cli.IntFlag{Name: "capture-width", Usage: "Frame width in pixels", Value: config.DefaultWidth},
		&cli.IntFlag{Name: "capture-height", Usage: "Frame height in pixels", Value: config.DefaultHeight},
		&cli.IntFlag{Name: "capture-quality", Usage: "JPEG quality (1-100)", Value: config.DefaultQuality},
		&cli.DurationFlag{Name: "capture-latency", Usage: "Simulated render time per frame"},
		// Storage
		&cli.StringFlag{Name: "storage-dataset", Usage: "Lode dataset ID", Value: lode.DefaultDataset},
		&cli.StringFlag{Name: "storage-backend", Usage: "Storage backend: fs or s3", Value: config.DefaultBackend},
		&cli.StringFlag{Name: "storage-path", Usage: "Storage path (fs: directory, s3: bucket/prefix)", Value: config.DefaultPath},
		&cli.StringFlag{Name: "storage-region", Usage: "AWS region for S3 backend"},
		&cli.StringFlag{Name: "storage-endpoint", Usage: "Custom S3 endpoint (MinIO, R2)"},
		&cli.BoolFlag{Name: "storage-s3-path-style", Usage: "Force S3 path-style addressing"},
		&cli.StringFlag{Name: "spool-dir", Usage: "Directory for in-progress episode spools (default: system temp)"},
		// Event adapter
		&cli.StringFlag{Name: "adapter", Usage: "Event adapter: webhook or redis"},
		&cli.StringFlag{Name: "adapter-url", Usage: "Adapter endpoint URL"},
		&cli.StringFlag{Name: "adapter-channel", Usage: "Redis pub/sub channel (default: " + redis.DefaultChannel + ")"},
		&cli.StringSliceFlag{Name: "adapter-header", Usage: "Webhook header as key=value (repeatable)"},
		&cli.DurationFlag{Name: "adapter-timeout", Usage: "Per-publish timeout"},
		&cli.IntFlag{Name: "adapter-retries", Usage: "Retry attempts per event"},
		// Output
		&cli.StringFlag{Name: "report", Usage: "Write a JSON run report to this path (- for stdout)"},
		&cli.BoolFlag{Name: "quiet", Aliases: []string{"q"}, Usage: "Suppress the result summary"},
	}
}

// resolveRunConfig merges the config file and flags, then validates the result.
func resolveRunConfig(c *cli.Context) (*config.Config, error) {
	fileCfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}

	get := func(f func(*config.Config) string) string { return configVal(fileCfg, f) }

	cfg := &config.Config{
		Mode:   resolveString(c, "mode", get(func(x *config.Config) string { return x.Mode })),
		Source: resolveString(c, "source", get(func(x *config.Config) string { return x.Source })),
		Task:   resolveString(c, "task", get(func(x *config.Config) string { return x.Task })),
		Seed:   resolveUint64(c, "seed", configVal(fileCfg, func(x *config.Config) uint64 { return x.Seed })),
		Control: config.ControlConfig{
			FPS:                 resolveFloat(c, "fps", configVal(fileCfg, func(x *config.Config) float64 { return x.Control.FPS })),
			HostFPS:             resolveFloat(c, "host-fps", configVal(fileCfg, func(x *config.Config) float64 { return x.Control.HostFPS })),
			MaxDegreesPerSecond: resolveFloat(c, "max-degrees-per-second", configVal(fileCfg, func(x *config.Config) float64 { return x.Control.MaxDegreesPerSecond })),
		},
		Episodes: config.EpisodesConfig{
			Count:    resolveInt(c, "episodes", configVal(fileCfg, func(x *config.Config) int { return x.Episodes.Count })),
			Duration: config.Duration{Duration: resolveDuration(c, "episode-duration", configVal(fileCfg, func(x *config.Config) time.Duration { return x.Episodes.Duration.Duration }))},
		},
		PolicyServer: config.PolicyServerConfig{
			Host:            resolveString(c, "policy-host", get(func(x *config.Config) string { return x.PolicyServer.Host })),
			Port:            resolveInt(c, "policy-port", configVal(fileCfg, func(x *config.Config) int { return x.PolicyServer.Port })),
			MaxMessageBytes: uint32(resolveInt(c, "policy-max-message-bytes", int(configVal(fileCfg, func(x *config.Config) uint32 { return x.PolicyServer.MaxMessageBytes })))),
			RequestTimeout:  config.Duration{Duration: resolveDuration(c, "policy-request-timeout", configVal(fileCfg, func(x *config.Config) time.Duration { return x.PolicyServer.RequestTimeout.Duration }))},
			Reconnect:       resolveBool(c, "policy-reconnect", configVal(fileCfg, func(x *config.Config) bool { return x.PolicyServer.Reconnect })),
		},
		Capture: config.CaptureConfig{
			Width:       resolveInt(c, "capture-width", configVal(fileCfg, func(x *config.Config) int { return x.Capture.Width })),
			Height:      resolveInt(c, "capture-height", configVal(fileCfg, func(x *config.Config) int { return x.Capture.Height })),
			JPEGQuality: resolveInt(c, "capture-quality", configVal(fileCfg, func(x *config.Config) int { return x.Capture.JPEGQuality })),
			Latency:     config.Duration{Duration: resolveDuration(c, "capture-latency", configVal(fileCfg, func(x *config.Config) time.Duration { return x.Capture.Latency.Duration }))},
		},
		Storage: config.StorageConfig{
			Dataset:     resolveString(c, "storage-dataset", get(func(x *config.Config) string { return x.Storage.Dataset })),
			Backend:     resolveString(c, "storage-backend", get(func(x *config.Config) string { return x.Storage.Backend })),
			Path:        resolveString(c, "storage-path", get(func(x *config.Config) string { return x.Storage.Path })),
			Region:      resolveString(c, "storage-region", get(func(x *config.Config) string { return x.Storage.Region })),
			Endpoint:    resolveString(c, "storage-endpoint", get(func(x *config.Config) string { return x.Storage.Endpoint })),
			S3PathStyle: resolveBool(c, "storage-s3-path-style", configVal(fileCfg, func(x *config.Config) bool { return x.Storage.S3PathStyle })),
			SpoolDir:    resolveString(c, "spool-dir", get(func(x *config.Config) string { return x.Storage.SpoolDir })),
		},
	}

	adapterCfg, err := parseAdapterConfigWithPrecedence(c, fileCfg)
	if err != nil {
		return nil, err
	}
	cfg.Adapter = adapterCfg

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// parseAdapterConfigWithPrecedence resolves adapter settings. Headers from
// the config file and --adapter-header are merged, flags winning per key.
func parseAdapterConfigWithPrecedence(c *cli.Context, fileCfg *config.Config) (config.AdapterConfig, error) {
	fromFile := configVal(fileCfg, func(x *config.Config) config.AdapterConfig { return x.Adapter })

	out := config.AdapterConfig{
		Type:    resolveString(c, "adapter", fromFile.Type),
		URL:     resolveString(c, "adapter-url", fromFile.URL),
		Channel: resolveString(c, "adapter-channel", fromFile.Channel),
		Timeout: config.Duration{Duration: resolveDuration(c, "adapter-timeout", fromFile.Timeout.Duration)},
		Retries: fromFile.Retries,
	}
	if c.IsSet("adapter-retries") {
		retries := c.Int("adapter-retries")
		out.Retries = &retries
	}
	if out.Type == "" {
		return out, nil
	}
	if out.URL == "" {
		return out, errors.New("--adapter-url is required when --adapter is set")
	}

	headers := make(map[string]string, len(fromFile.Headers))
	maps.Copy(headers, fromFile.Headers)
	for _, h := range c.StringSlice("adapter-header") {
		k, v, ok := strings.Cut(h, "=")
		if !ok || k == "" {
			return out, fmt.Errorf("invalid --adapter-header %q: expected key=value", h)
		}
		headers[k] = v
	}
	if len(headers) > 0 {
		out.Headers = headers
	}
	return out, nil
}

func runAction(c *cli.Context) error {
	cfg, err := resolveRunConfig(c)
	if err != nil {
		return cli.Exit(fmt.Sprintf("invalid configuration: %v", err), exitConfigError)
	}
	mode, _ := types.ParseMode(cfg.Mode)

	runID := c.String("run-id")
	if runID == "" {
		runID = "run-" + uuid.NewString()
	}
	runMeta := &types.RunMeta{
		RunID:  runID,
		Mode:   mode,
		Source: cfg.Source,
		Task:   cfg.Task,
	}
	logger := log.NewLogger(runMeta)
	defer iox.DiscardErr(logger.Sync)

	actionSource := policy.SourceAutoAim
	if mode == types.ModeInfer {
		actionSource = policy.SourceRemote
	}
	collector := metrics.NewCollector(string(mode), actionSource, cfg.Storage.Backend, runID)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	startTime := time.Now()
	day := lode.DeriveDay(startTime)
	lodeClient, err := buildLodeClient(ctx, cfg.Storage, lode.Config{
		Dataset: datasetOrDefault(cfg.Storage.Dataset),
		Source:  cfg.Source,
		Day:     day,
		RunID:   runID,
	})
	if err != nil {
		return cli.Exit(fmt.Sprintf("failed to initialize storage: %v", err), exitConfigError)
	}
	store := lode.NewInstrumentedClient(lodeClient, collector)
	defer iox.DiscardClose(store)

	camera := sim.CameraConfig{
		Width:   cfg.Capture.Width,
		Height:  cfg.Capture.Height,
		Quality: cfg.Capture.JPEGQuality,
		Latency: cfg.Capture.Latency.Duration,
	}

	var rec recorder.Recorder
	if mode == types.ModeCollect {
		spoolDir := cfg.Storage.SpoolDir
		if spoolDir == "" {
			spoolDir, err = os.MkdirTemp("", "marksman-spool-")
			if err != nil {
				return cli.Exit(fmt.Sprintf("failed to create spool dir: %v", err), exitConfigError)
			}
			defer func() { _ = os.RemoveAll(spoolDir) }()
		}
		rec, err = recorder.NewLodeRecorder(recorder.Config{
			DatasetName: datasetOrDefault(cfg.Storage.Dataset),
			Task:        cfg.Task,
			Width:       camera.Width,
			Height:      camera.Height,
			SpoolDir:    spoolDir,
		}, store, lodeClient, logger)
		if err != nil {
			return cli.Exit(fmt.Sprintf("failed to create recorder: %v", err), exitConfigError)
		}
	}

	publisher, err := buildPublisher(cfg.Adapter, logger)
	if err != nil {
		return cli.Exit(fmt.Sprintf("failed to create adapter: %v", err), exitConfigError)
	}
	if publisher != nil {
		defer func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), adapterCloseTimeout)
			defer cancel()
			if err := publisher.Close(closeCtx); err != nil {
				logger.Warn("adapter close failed", map[string]any{"error": err.Error()})
			}
		}()
	}

	runConfig := &runtime.RunConfig{
		RunMeta:             runMeta,
		FPS:                 cfg.Control.FPS,
		HostFPS:             cfg.Control.HostFPS,
		Episodes:            cfg.Episodes.Count,
		EpisodeDuration:     cfg.Episodes.Duration.Duration,
		MaxDuration:         c.Duration("max-duration"),
		Seed:                cfg.Seed,
		MaxDegreesPerSecond: cfg.Control.MaxDegreesPerSecond,
		Camera:              camera,
		Policy: client.Config{
			Host:            cfg.PolicyServer.Host,
			Port:            cfg.PolicyServer.Port,
			MaxMessageBytes: cfg.PolicyServer.MaxMessageBytes,
			RequestTimeout:  cfg.PolicyServer.RequestTimeout.Duration,
		},
		Reconnect:   cfg.PolicyServer.Reconnect,
		Recorder:    rec,
		Lode:        store,
		StoragePath: buildStoragePath(cfg.Storage, cfg.Source, day, runID),
		Publisher:   publisher,
		Collector:   collector,
		Logger:      logger,
	}

	orchestrator, err := runtime.NewRunOrchestrator(runConfig)
	if err != nil {
		return cli.Exit(fmt.Sprintf("failed to create orchestrator: %v", err), exitConfigError)
	}

	result, err := orchestrator.Execute(ctx)
	if err != nil {
		if client.IsConnectionError(err) {
			return cli.Exit(fmt.Sprintf("policy service unavailable: %v", err), exitConfigError)
		}
		return cli.Exit(fmt.Sprintf("execution failed: %v", err), exitRunFailure)
	}

	exitCode := outcomeToExitCode(result.Outcome.Status)
	if !c.Bool("quiet") {
		printRunResult(result)
	}
	if path := c.String("report"); path != "" {
		report := runtime.BuildRunReport(result, collector.Snapshot(), exitCode)
		if err := runtime.WriteRunReport(report, path); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to write run report: %v\n", err)
		}
	}
	return cli.Exit("", exitCode)
}

func datasetOrDefault(dataset string) string {
	if dataset == "" {
		return lode.DefaultDataset
	}
	return dataset
}

// buildLodeClient creates the storage client for the chosen backend.
func buildLodeClient(ctx context.Context, storage config.StorageConfig, cfg lode.Config) (*lode.LodeClient, error) {
	switch storage.Backend {
	case "fs", "":
		if err := os.MkdirAll(storage.Path, 0o755); err != nil {
			return nil, fmt.Errorf("creating storage path: %w", err)
		}
		return lode.NewLodeClient(cfg, storage.Path)
	case "s3":
		bucket, prefix := lode.ParseS3Path(storage.Path)
		return lode.NewLodeS3Client(ctx, cfg, lode.S3Config{
			Bucket:       bucket,
			Prefix:       prefix,
			Region:       storage.Region,
			Endpoint:     storage.Endpoint,
			UsePathStyle: storage.S3PathStyle,
		})
	default:
		return nil, fmt.Errorf("unknown storage-backend: %s (must be fs or s3)", storage.Backend)
	}
}

// buildPublisher wraps the configured adapter in an async queue.
// Returns nil when no adapter is configured.
func buildPublisher(cfg config.AdapterConfig, logger *log.Logger) (*adapter.AsyncPublisher, error) {
	retries := -1
	if cfg.Retries != nil {
		retries = *cfg.Retries
	}

	var inner adapter.Adapter
	switch cfg.Type {
	case "":
		return nil, nil
	case "webhook":
		wc := webhook.Config{URL: cfg.URL, Headers: cfg.Headers, Timeout: cfg.Timeout.Duration, Retries: webhook.DefaultRetries}
		if retries >= 0 {
			wc.Retries = retries
		}
		a, err := webhook.New(wc)
		if err != nil {
			return nil, err
		}
		inner = a
	case "redis":
		rc := redis.Config{URL: cfg.URL, Channel: cfg.Channel, Timeout: cfg.Timeout.Duration, Retries: redis.DefaultRetries}
		if retries >= 0 {
			rc.Retries = retries
		}
		a, err := redis.New(rc)
		if err != nil {
			return nil, err
		}
		inner = a
	default:
		return nil, fmt.Errorf("unknown adapter: %s (must be webhook or redis)", cfg.Type)
	}

	return adapter.NewAsyncPublisher(inner, adapter.DefaultQueueSize, func(e *adapter.Event, err error) {
		logger.Warn("event publish failed", map[string]any{
			"event_type": e.EventType,
			"error":      err.Error(),
		})
	}), nil
}

// buildStoragePath returns the partition prefix a run writes under.
func buildStoragePath(storage config.StorageConfig, source, day, runID string) string {
	scheme := "file://"
	if storage.Backend == "s3" {
		scheme = "s3://"
	}
	return fmt.Sprintf("%s%s/datasets/%s/partitions/source=%s/day=%s/run_id=%s",
		scheme,
		strings.TrimSuffix(storage.Path, "/"),
		datasetOrDefault(storage.Dataset),
		source, day, runID,
	)
}

func outcomeToExitCode(status types.OutcomeStatus) int {
	switch status {
	case types.OutcomeSuccess:
		return exitSuccess
	default:
		return exitRunFailure
	}
}

func printRunResult(result *runtime.RunResult) {
	fmt.Printf("\nrun_id=%s, mode=%s, outcome=%s, duration=%s\n",
		result.RunMeta.RunID,
		result.RunMeta.Mode,
		result.Outcome.Status,
		result.Duration.Round(time.Millisecond),
	)

	fmt.Printf("\n=== Run Result ===\n")
	fmt.Printf("Run ID:       %s\n", result.RunMeta.RunID)
	fmt.Printf("Source:       %s\n", result.RunMeta.Source)
	fmt.Printf("Outcome:      %s\n", result.Outcome.Status)
	fmt.Printf("Message:      %s\n", result.Outcome.Message)
	fmt.Printf("Control Time: %s\n", result.ControlTime)
	fmt.Printf("Ticks:        %d\n", result.Ticks)
	fmt.Printf("Shots:        %d\n", result.Shots)

	if result.RunMeta.Mode == types.ModeCollect {
		fmt.Printf("\n=== Episodes ===\n")
		fmt.Printf("Finalized:    %d\n", result.Episodes.Finalized)
		fmt.Printf("Discarded:    %d\n", result.Episodes.Discarded)
	}

	fmt.Printf("\n=== Policy (%s) ===\n", result.SourceName)
	fmt.Printf("Decisions:    %d\n", result.SourceStats.Decisions)
	fmt.Printf("Succeeded:    %d\n", result.SourceStats.Succeeded)
	fmt.Printf("Fallbacks:    %d\n", result.SourceStats.Fallbacks)

	fmt.Printf("\n=== Capture ===\n")
	fmt.Printf("Requested:    %d\n", result.Capture.Requested)
	fmt.Printf("Completed:    %d\n", result.Capture.Completed)
	fmt.Printf("Failed:       %d\n", result.Capture.Failed)
	fmt.Printf("Skipped:      %d\n", result.Capture.Skipped)
}
