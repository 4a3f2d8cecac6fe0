package worker

import (
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pithecene-io/kiln/ipc"
	"github.com/pithecene-io/kiln/metrics"
	"github.com/pithecene-io/kiln/types"
)

const addProgram = `package main

func Run(env map[string]any, args []any, kwargs map[string]any) (map[string]any, error) {
	env["calls"] = 1
	return map[string]any{"status": "ok", "value": args[0].(int) + args[1].(int)}, nil
}
`

func addRequest(callID string) *ipc.Request {
	return &ipc.Request{
		CallID:     callID,
		Role:       "calculator",
		MethodName: "add",
		Code:       addProgram,
		Args:       []any{2, 2},
	}
}

func newTestSupervisor(t *testing.T, f *countingFactory, mutate func(*Config)) (*Supervisor, *metrics.Collector) {
	t.Helper()
	collector := metrics.NewCollector("calculator", "json", "fs")
	cfg := Config{
		EnvsRoot:  t.TempDir(),
		Codec:     ipc.CodecJSON,
		Timeout:   2 * time.Second,
		Factory:   f.start,
		Collector: collector,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	s, err := NewSupervisor(cfg)
	if err != nil {
		t.Fatalf("NewSupervisor: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s, collector
}

func TestSupervisor_Execute(t *testing.T) {
	f := &countingFactory{behaviors: []func(io.Reader, io.WriteCloser){serving(ServeConfig{})}}
	s, _ := newTestSupervisor(t, f, nil)

	res := s.Execute(t.Context(), addRequest("call-1"))
	if !res.Outcome.IsOK() || res.Outcome.Value != 4 {
		t.Fatalf("outcome = %v, want ok(4)", res.Outcome)
	}
	if res.ContextSnapshot["calls"] != 1 {
		t.Errorf("context snapshot = %v, want calls=1", res.ContextSnapshot)
	}

	// The worker is long-lived: a second request reuses it.
	res = s.Execute(t.Context(), addRequest("call-2"))
	if !res.Outcome.IsOK() {
		t.Fatalf("second outcome = %v", res.Outcome)
	}
	if got := s.Starts(); got != 1 {
		t.Errorf("Starts = %d, want 1", got)
	}
}

func TestSupervisor_RestartBudget(t *testing.T) {
	f := &countingFactory{behaviors: []func(io.Reader, io.WriteCloser){crashing}}
	s, collector := newTestSupervisor(t, f, func(c *Config) { c.MaxRestarts = intPtr(2) })

	res := s.Execute(t.Context(), addRequest("call-1"))

	if res.Outcome.ErrorType != types.ErrorTypeWorkerCrash {
		t.Fatalf("ErrorType = %q, want worker_crash", res.Outcome.ErrorType)
	}
	if res.Outcome.Retriable {
		t.Error("terminal worker_crash should not be retriable")
	}
	if got := f.calls.Load(); got != 3 {
		t.Errorf("process starts = %d, want 3", got)
	}
	if got := s.Restarts(); got != 2 {
		t.Errorf("Restarts = %d, want 2", got)
	}

	snap := collector.Snapshot()
	if snap.WorkerCrashes != 3 {
		t.Errorf("WorkerCrashes = %d, want 3", snap.WorkerCrashes)
	}
	if snap.WorkerRestarts != 2 {
		t.Errorf("WorkerRestarts = %d, want 2", snap.WorkerRestarts)
	}
}

func TestSupervisor_RestartsAreCumulative(t *testing.T) {
	f := &countingFactory{behaviors: []func(io.Reader, io.WriteCloser){crashing}}
	s, _ := newTestSupervisor(t, f, func(c *Config) { c.MaxRestarts = intPtr(1) })

	s.Execute(t.Context(), addRequest("call-1"))
	s.Execute(t.Context(), addRequest("call-2"))

	if got := s.Restarts(); got != 2 {
		t.Errorf("Restarts = %d, want 2 (one per request)", got)
	}
}

func TestSupervisor_RecoversAfterCrash(t *testing.T) {
	f := &countingFactory{behaviors: []func(io.Reader, io.WriteCloser){crashing, serving(ServeConfig{})}}
	s, _ := newTestSupervisor(t, f, nil)

	res := s.Execute(t.Context(), addRequest("call-1"))
	if !res.Outcome.IsOK() {
		t.Fatalf("outcome = %v, want ok", res.Outcome)
	}
	if res.Outcome.Metadata["worker_restarts"] != 1 {
		t.Errorf("worker_restarts = %v, want 1", res.Outcome.Metadata["worker_restarts"])
	}
}

func TestSupervisor_Timeout(t *testing.T) {
	f := &countingFactory{behaviors: []func(io.Reader, io.WriteCloser){hanging}}
	s, collector := newTestSupervisor(t, f, func(c *Config) {
		c.Timeout = 50 * time.Millisecond
		c.MaxRestarts = intPtr(0)
	})

	res := s.Execute(t.Context(), addRequest("call-1"))
	if res.Outcome.ErrorType != types.ErrorTypeTimeout {
		t.Fatalf("ErrorType = %q, want timeout", res.Outcome.ErrorType)
	}
	if got := f.calls.Load(); got != 1 {
		t.Errorf("process starts = %d, want 1", got)
	}
	if collector.Snapshot().WorkerTimeouts != 1 {
		t.Errorf("WorkerTimeouts = %d, want 1", collector.Snapshot().WorkerTimeouts)
	}
}

func TestSupervisor_SwitchesEnvironment(t *testing.T) {
	envsRoot := t.TempDir()
	depsA := []types.Dependency{{Name: "example.com/alpha"}}
	depsB := []types.Dependency{{Name: "example.com/beta", Version: "v2"}}
	for _, deps := range [][]types.Dependency{depsA, depsB} {
		dir := filepath.Join(envsRoot, types.EnvironmentID(deps), "src", filepath.FromSlash(deps[0].Name))
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
	}

	f := &countingFactory{}
	f.behaviors = []func(io.Reader, io.WriteCloser){
		serving(ServeConfig{GoPath: filepath.Join(envsRoot, types.EnvironmentID(depsA))}),
		serving(ServeConfig{GoPath: filepath.Join(envsRoot, types.EnvironmentID(depsB))}),
	}
	s, _ := newTestSupervisor(t, f, func(c *Config) { c.EnvsRoot = envsRoot })

	reqA := addRequest("call-a")
	reqA.Dependencies = depsA
	if res := s.Execute(t.Context(), reqA); !res.Outcome.IsOK() {
		t.Fatalf("env A outcome = %v", res.Outcome)
	}
	reqB := addRequest("call-b")
	reqB.Dependencies = depsB
	if res := s.Execute(t.Context(), reqB); !res.Outcome.IsOK() {
		t.Fatalf("env B outcome = %v", res.Outcome)
	}

	if got := f.calls.Load(); got != 2 {
		t.Fatalf("process starts = %d, want 2", got)
	}
	if f.configs[0].EnvID == f.configs[1].EnvID {
		t.Error("both workers bound to the same environment")
	}
	if s.EnvID() != types.EnvironmentID(depsB) {
		t.Errorf("EnvID = %q, want env B", s.EnvID())
	}
	if _, err := os.Stat(filepath.Join(envsRoot, types.EnvironmentID(depsA), "manifest.json")); err != nil {
		t.Errorf("manifest not written: %v", err)
	}
}

func TestSupervisor_MissingDependency(t *testing.T) {
	envsRoot := t.TempDir()
	deps := []types.Dependency{{Name: "example.com/absent"}}
	f := &countingFactory{behaviors: []func(io.Reader, io.WriteCloser){
		serving(ServeConfig{GoPath: filepath.Join(envsRoot, types.EnvironmentID(deps))}),
	}}
	s, _ := newTestSupervisor(t, f, func(c *Config) { c.EnvsRoot = envsRoot })

	req := addRequest("call-1")
	req.Dependencies = deps
	res := s.Execute(t.Context(), req)
	if res.Outcome.ErrorType != types.ErrorTypeDependencyActivateFailed {
		t.Fatalf("ErrorType = %q, want dependency_activation_failed", res.Outcome.ErrorType)
	}
}

func TestSupervisor_RejectsNonSerializableInput(t *testing.T) {
	f := &countingFactory{behaviors: []func(io.Reader, io.WriteCloser){serving(ServeConfig{})}}
	s, _ := newTestSupervisor(t, f, nil)

	req := addRequest("call-1")
	req.Kwargs = map[string]any{"ch": make(chan int)}
	res := s.Execute(t.Context(), req)

	if res.Outcome.ErrorType != types.ErrorTypeNonSerializableResult {
		t.Fatalf("ErrorType = %q, want non_serializable_result", res.Outcome.ErrorType)
	}
	if got := f.calls.Load(); got != 0 {
		t.Errorf("process starts = %d, want 0", got)
	}
}

func TestNewSupervisor_Validation(t *testing.T) {
	if _, err := NewSupervisor(Config{MaxRestarts: intPtr(-1)}); err == nil {
		t.Error("negative max_restarts accepted")
	}
	if _, err := NewSupervisor(Config{Timeout: -time.Second}); err == nil {
		t.Error("negative timeout accepted")
	}
}
