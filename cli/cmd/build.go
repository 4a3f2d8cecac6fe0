package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/kiln/adapter"
	"github.com/pithecene-io/kiln/adapter/redis"
	"github.com/pithecene-io/kiln/adapter/webhook"
	"github.com/pithecene-io/kiln/artifact"
	"github.com/pithecene-io/kiln/cli/config"
	"github.com/pithecene-io/kiln/generator"
	"github.com/pithecene-io/kiln/ipc"
	"github.com/pithecene-io/kiln/lode"
	"github.com/pithecene-io/kiln/log"
	"github.com/pithecene-io/kiln/metrics"
	"github.com/pithecene-io/kiln/policy"
	"github.com/pithecene-io/kiln/runtime"
	"github.com/pithecene-io/kiln/worker"
)

// Defaults used when kiln.yaml leaves a location unset.
const (
	defaultStoreDir     = ".kiln/artifacts"
	defaultRegistryPath = ".kiln/tools.json"
)

// loadConfig reads --config. A missing file at the default path yields the
// defaults; a missing file named explicitly is an error.
func loadConfig(c *cli.Context) (*config.Config, error) {
	path := c.String("config")
	if !c.IsSet("config") && path == config.DefaultPath {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			return config.Defaults(), nil
		}
	}
	return config.Load(path)
}

// resolveRole returns --role, else the configured role.
func resolveRole(c *cli.Context, cfg *config.Config) (string, error) {
	role := c.String("role")
	if role == "" {
		role = cfg.Role
	}
	if role == "" {
		return "", errors.New("no role: set role in kiln.yaml or pass --role")
	}
	return role, nil
}

func openStore(c *cli.Context, cfg *config.Config, logger *log.Logger) (*artifact.Store, error) {
	dir := c.String("store-dir")
	if dir == "" {
		dir = cfg.StoreDir
	}
	if dir == "" {
		dir = defaultStoreDir
	}
	return artifact.NewStore(artifact.StoreConfig{Dir: dir, Logger: logger})
}

// openReadStore opens the artifact store for commands that never dispatch.
func openReadStore(c *cli.Context, cfg *config.Config) (*artifact.Store, error) {
	return openStore(c, cfg, log.NewLogger("kiln", cfg.LogLevel))
}

// stack is an Executor and everything it owns.
type stack struct {
	exec      *runtime.Executor
	store     *artifact.Store
	collector *metrics.Collector
	telemetry policy.Policy
	logger    *log.Logger
	closers   []func() error
}

// Close flushes telemetry and releases workers, adapters and clients, in
// reverse order of construction.
func (s *stack) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = append(errs, s.closers[i]())
	}
	return errors.Join(errs...)
}

// buildStack wires the Executor for role from cfg.
func buildStack(ctx context.Context, c *cli.Context, cfg *config.Config, role string) (st *stack, err error) {
	logger := log.NewLogger("kiln", cfg.LogLevel)
	st = &stack{logger: logger}
	defer func() {
		if err != nil {
			_ = st.Close()
		}
	}()

	st.store, err = openStore(c, cfg, logger)
	if err != nil {
		return st, err
	}

	codec := cfg.Worker.Codec
	if codec == "" {
		codec = ipc.CodecJSON
	}
	st.collector = metrics.NewCollector(role, codec, cfg.Telemetry.Backend)

	gen, err := buildGenerator(cfg.Generator)
	if err != nil {
		return st, err
	}
	if closer, ok := gen.(interface{ Close() error }); ok {
		st.closers = append(st.closers, closer.Close)
	}

	rcfg := runtime.Config{
		Role:            role,
		Capabilities:    capabilities(cfg, role),
		Generator:       gen,
		Store:           st.store,
		RegistryPath:    cfg.RegistryPath,
		GuardrailBudget: cfg.Budgets.Guardrail,
		OutcomeBudget:   cfg.Budgets.Outcome,
		Enforcement:     cfg.Promotion.Enforcement,
		PromotionPolicy: cfg.Promotion.Policy,
		ProgramOutput:   os.Stderr,
		Logger:          logger,
		Collector:       st.collector,
	}
	if rcfg.RegistryPath == "" {
		rcfg.RegistryPath = defaultRegistryPath
	}
	if err := os.MkdirAll(filepath.Dir(rcfg.RegistryPath), 0o755); err != nil {
		return st, fmt.Errorf("registry dir: %w", err)
	}

	if cfg.Worker.Path != "" {
		sup, err := worker.NewSupervisor(worker.Config{
			WorkerPath:  cfg.Worker.Path,
			EnvsRoot:    cfg.Worker.EnvsRoot,
			Codec:       codec,
			Timeout:     cfg.Worker.Timeout.Duration,
			MaxRestarts: cfg.Worker.MaxRestarts,
			Stderr:      os.Stderr,
			Logger:      logger,
			Collector:   st.collector,
		})
		if err != nil {
			return st, fmt.Errorf("worker: %w", err)
		}
		st.closers = append(st.closers, sup.Close)
		rcfg.Workers = sup
	}

	if cfg.Telemetry.Backend != "" {
		client, err := buildLodeClient(ctx, cfg.Telemetry)
		if err != nil {
			return st, fmt.Errorf("telemetry: %w", err)
		}
		sink := lode.NewInstrumentedSink(client, st.collector)
		pol, err := policy.New(policy.Config{
			Name:             cfg.Telemetry.Policy,
			MaxBufferRecords: cfg.Telemetry.BufferRecords,
			MaxBufferBytes:   cfg.Telemetry.BufferBytes,
			FlushCount:       cfg.Telemetry.FlushCount,
			FlushInterval:    cfg.Telemetry.FlushInterval.Duration,
			Logger:           logger,
		}, sink)
		if err != nil {
			_ = sink.Close()
			return st, fmt.Errorf("telemetry policy: %w", err)
		}
		st.telemetry = pol
		st.closers = append(st.closers, pol.Close)
		rcfg.Telemetry = pol
		if cfg.Telemetry.Sources {
			rcfg.Sources = client
		}
	}

	if cfg.Adapter.Type != "" {
		a, err := buildAdapter(cfg.Adapter)
		if err != nil {
			return st, fmt.Errorf("adapter: %w", err)
		}
		st.closers = append(st.closers, a.Close)
		rcfg.Adapter = a
		rcfg.AdapterTimeout = cfg.Adapter.Timeout.Duration
	}

	st.exec, err = runtime.New(rcfg)
	if err != nil {
		return st, err
	}
	return st, nil
}

// capabilities converts the declared methods of role.
func capabilities(cfg *config.Config, role string) map[string]*runtime.Capability {
	rc, ok := cfg.Roles[role]
	if !ok {
		return nil
	}
	caps := make(map[string]*runtime.Capability, len(rc.Methods))
	for name, m := range rc.Methods {
		caps[name] = &runtime.Capability{Purpose: m.Purpose, Contract: m.Contract}
	}
	return caps
}

func buildGenerator(gc config.GeneratorConfig) (generator.Generator, error) {
	switch gc.Type {
	case "http":
		return generator.NewHTTP(generator.HTTPConfig{
			URL:     gc.URL,
			Headers: gc.Headers,
			Model:   gc.Model,
			Timeout: gc.Timeout.Duration,
			Retries: gc.Retries,
		})
	case "dir":
		return generator.NewDir(gc.Dir)
	case "":
		return nil, errors.New("no generator: set generator.type in kiln.yaml")
	default:
		return nil, fmt.Errorf("unknown generator type: %s", gc.Type)
	}
}

// buildLodeClient opens the telemetry dataset on the configured backend.
func buildLodeClient(ctx context.Context, tc config.TelemetryConfig) (*lode.Client, error) {
	cfg := lode.Config{Dataset: tc.Dataset}
	switch tc.Backend {
	case "fs":
		return lode.NewFSClient(cfg, tc.Path)
	case "s3":
		return lode.NewS3Client(ctx, cfg, s3Config(tc))
	default:
		return nil, fmt.Errorf("unknown telemetry backend: %s (must be fs or s3)", tc.Backend)
	}
}

func s3Config(tc config.TelemetryConfig) lode.S3Config {
	bucket, prefix := lode.ParseS3Path(tc.Path)
	return lode.S3Config{
		Bucket:       bucket,
		Prefix:       prefix,
		Region:       tc.Region,
		Endpoint:     tc.Endpoint,
		UsePathStyle: tc.S3PathStyle,
	}
}

func buildAdapter(ac config.AdapterConfig) (adapter.Adapter, error) {
	switch ac.Type {
	case "redis":
		retries := redis.DefaultRetries
		if ac.Retries != nil {
			retries = *ac.Retries
		}
		return redis.New(redis.Config{
			URL:     ac.URL,
			Channel: ac.Channel,
			Timeout: ac.Timeout.Duration,
			Retries: retries,
		})
	case "webhook":
		retries := webhook.DefaultRetries
		if ac.Retries != nil {
			retries = *ac.Retries
		}
		return webhook.New(webhook.Config{
			URL:     ac.URL,
			Headers: ac.Headers,
			Timeout: ac.Timeout.Duration,
			Retries: retries,
		})
	default:
		return nil, fmt.Errorf("unknown adapter type: %s (must be redis or webhook)", ac.Type)
	}
}
