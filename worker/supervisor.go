package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"time"

	"github.com/pithecene-io/kiln/iox"
	"github.com/pithecene-io/kiln/ipc"
	"github.com/pithecene-io/kiln/log"
	"github.com/pithecene-io/kiln/metrics"
	"github.com/pithecene-io/kiln/types"
)

// Defaults for Config.
const (
	DefaultTimeout     = 30 * time.Second
	DefaultMaxRestarts = 2
)

// Config configures a Supervisor.
type Config struct {
	// WorkerPath is the kiln-worker binary.
	WorkerPath string
	// EnvsRoot holds one directory per environment id. A worker for env
	// id E resolves imports from <EnvsRoot>/E/src.
	EnvsRoot string
	// Codec is the ipc codec name (json or msgpack).
	Codec string
	// Timeout bounds each request. Zero means DefaultTimeout.
	Timeout time.Duration
	// MaxRestarts bounds restarts per request after a crash or timeout.
	// Nil means DefaultMaxRestarts.
	MaxRestarts *int
	// Stderr receives worker diagnostics.
	Stderr io.Writer
	// Factory overrides process creation (for testing).
	Factory ProcessFactory
	// Logger receives lifecycle logs. Nil discards.
	Logger *log.Logger
	// Collector receives worker metrics. May be nil.
	Collector *metrics.Collector
}

// Supervisor lazily starts a worker for the environment a request needs,
// restarts it after crashes and timeouts within a bounded budget, and
// serializes requests to it.
type Supervisor struct {
	cfg         Config
	maxRestarts int
	factory     ProcessFactory
	logger      *log.Logger

	mu       sync.Mutex
	current  *Executor
	restarts int
	starts   int
}

// NewSupervisor validates cfg and returns a Supervisor. No worker is
// started until the first Execute.
func NewSupervisor(cfg Config) (*Supervisor, error) {
	maxRestarts := DefaultMaxRestarts
	if cfg.MaxRestarts != nil {
		maxRestarts = *cfg.MaxRestarts
	}
	if maxRestarts < 0 {
		return nil, fmt.Errorf("max_restarts must be >= 0, got %d", maxRestarts)
	}
	if cfg.Timeout < 0 {
		return nil, fmt.Errorf("timeout must be >= 0, got %s", cfg.Timeout)
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	factory := cfg.Factory
	if factory == nil {
		factory = StartProcess
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.NewNop()
	}
	return &Supervisor{cfg: cfg, maxRestarts: maxRestarts, factory: factory, logger: logger}, nil
}

// Result is the answer to one Execute.
type Result struct {
	Outcome types.Outcome
	// ContextSnapshot is the worker's working state after the run. Nil
	// when the worker failed before answering.
	ContextSnapshot map[string]any
}

// Execute runs req on a worker for its dependency set. It never returns
// an error: worker failures that outlast the restart budget become a
// terminal timeout or worker_crash Outcome, and non-serializable inputs
// become non_serializable_result.
func (s *Supervisor) Execute(ctx context.Context, req *ipc.Request) Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	if req.IPCVersion == "" {
		req.IPCVersion = types.IPCVersion
	}
	if _, err := req.Map(); err != nil {
		return Result{Outcome: types.Err(types.ErrorTypeNonSerializableResult, err.Error(), true, nil)}
	}
	envID := types.EnvironmentID(req.Dependencies)
	if err := s.prepareEnv(envID, req.Dependencies); err != nil {
		return Result{Outcome: types.Err(types.ErrorTypeDependencyInstallFailed, err.Error(), false, map[string]any{"env_id": envID})}
	}

	restarted := 0
	for {
		resp, err := s.attempt(ctx, envID, req)
		if err == nil {
			o := resp.Outcome
			if restarted > 0 {
				o = o.WithMetadata(map[string]any{"worker_restarts": restarted})
			}
			return Result{Outcome: o, ContextSnapshot: resp.ContextSnapshot}
		}

		var se *ipc.SerializationError
		if errors.As(err, &se) {
			return Result{Outcome: types.Err(types.ErrorTypeNonSerializableResult, err.Error(), true, nil)}
		}

		s.teardown()
		if ctx.Err() != nil {
			return Result{Outcome: types.Err(types.ErrorTypeTimeout, "call cancelled: "+ctx.Err().Error(), false, nil)}
		}

		if errors.Is(err, ErrWorkerTimeout) {
			s.cfg.Collector.IncWorkerTimeout()
		} else {
			s.cfg.Collector.IncWorkerCrash()
		}

		if restarted >= s.maxRestarts {
			s.logger.Error("worker restart budget exhausted", map[string]any{
				"env_id":       envID,
				"call_id":      req.CallID,
				"restarts":     restarted,
				"max_restarts": s.maxRestarts,
				"error":        err.Error(),
			})
			return Result{Outcome: outcomeFor(err, restarted)}
		}

		restarted++
		s.restarts++
		s.cfg.Collector.IncWorkerRestart()
		s.logger.Warn("restarting worker", map[string]any{
			"env_id":  envID,
			"call_id": req.CallID,
			"attempt": restarted,
			"error":   err.Error(),
		})
	}
}

// attempt runs req once on a worker for envID, starting one if needed.
func (s *Supervisor) attempt(ctx context.Context, envID string, req *ipc.Request) (*ipc.Response, error) {
	exec, err := s.ensure(ctx, envID)
	if err != nil {
		return nil, err
	}
	return exec.Call(ctx, req, s.cfg.Timeout)
}

// ensure returns a live executor bound to envID, replacing the current
// one when the environment differs or it is broken.
func (s *Supervisor) ensure(ctx context.Context, envID string) (*Executor, error) {
	if s.current != nil && (s.current.EnvID() != envID || s.current.Broken()) {
		if s.current.EnvID() != envID {
			s.logger.Info("switching worker environment", map[string]any{
				"from": s.current.EnvID(),
				"to":   envID,
			})
		}
		s.teardown()
	}
	if s.current != nil {
		return s.current, nil
	}

	proc, err := s.factory(ctx, ProcessConfig{
		WorkerPath: s.cfg.WorkerPath,
		EnvID:      envID,
		GoPath:     s.envDir(envID),
		Codec:      s.cfg.Codec,
		Stderr:     s.cfg.Stderr,
	})
	if err != nil {
		return nil, fmt.Errorf("start worker: %v: %w", err, ErrWorkerExited)
	}
	exec, err := NewExecutor(proc, s.cfg.Codec, envID)
	if err != nil {
		_ = proc.Kill()
		return nil, err
	}
	s.starts++
	s.cfg.Collector.IncWorkerStart()
	s.logger.Debug("worker started", map[string]any{"env_id": envID})
	s.current = exec
	return exec, nil
}

func (s *Supervisor) teardown() {
	if s.current == nil {
		return
	}
	if err := s.current.Close(); err != nil {
		s.logger.Debug("worker close", map[string]any{"error": err.Error()})
	}
	s.current = nil
}

// envDir is the GOPATH of envID's worker. Programs without dependencies
// share the root.
func (s *Supervisor) envDir(envID string) string {
	if s.cfg.EnvsRoot == "" {
		return ""
	}
	if envID == "" {
		return s.cfg.EnvsRoot
	}
	return filepath.Join(s.cfg.EnvsRoot, envID)
}

// prepareEnv records the dependency manifest for envID. Packages
// themselves are provisioned into <env>/src out of band; the worker
// reports dependency_activation_failed for any that are missing.
func (s *Supervisor) prepareEnv(envID string, deps []types.Dependency) error {
	if envID == "" || s.cfg.EnvsRoot == "" {
		return nil
	}
	manifest, err := json.MarshalIndent(map[string]any{"env_id": envID, "dependencies": deps}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	path := filepath.Join(s.envDir(envID), "manifest.json")
	if err := iox.WriteFileAtomic(path, manifest, 0o644); err != nil {
		return fmt.Errorf("install environment %s: %w", envID, err)
	}
	return nil
}

// Restarts returns the cumulative number of restarts.
func (s *Supervisor) Restarts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.restarts
}

// Starts returns the cumulative number of worker starts.
func (s *Supervisor) Starts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.starts
}

// EnvID returns the environment id of the running worker, or "" when
// none is running.
func (s *Supervisor) EnvID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return ""
	}
	return s.current.EnvID()
}

// Close stops the running worker, if any.
func (s *Supervisor) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.teardown()
	return nil
}
