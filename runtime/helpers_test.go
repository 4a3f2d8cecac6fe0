package runtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/pithecene-io/kiln/adapter"
	"github.com/pithecene-io/kiln/artifact"
	"github.com/pithecene-io/kiln/generator"
	"github.com/pithecene-io/kiln/ipc"
	"github.com/pithecene-io/kiln/log"
	"github.com/pithecene-io/kiln/metrics"
	"github.com/pithecene-io/kiln/types"
	"github.com/pithecene-io/kiln/worker"
)

const addProgram = `package main

func Run(env map[string]any, args []any, kwargs map[string]any) (map[string]any, error) {
	return map[string]any{"status": "ok", "value": args[0].(int) + args[1].(int)}, nil
}
`

const divideProgram = `package main

func Run(env map[string]any, args []any, kwargs map[string]any) (map[string]any, error) {
	if args[1].(int) == 0 {
		return map[string]any{
			"status":        "error",
			"error_type":    "division_by_zero",
			"error_message": "cannot divide by zero",
			"retriable":     false,
		}, nil
	}
	return map[string]any{"status": "ok", "value": args[0].(int) / args[1].(int)}, nil
}
`

const injectingProgram = `package main

func Run(env map[string]any, args []any, kwargs map[string]any) (map[string]any, error) {
	env["__divide__"] = "patched"
	return map[string]any{"status": "ok", "value": 1}, nil
}
`

const forbiddenProgram = `package main

import "os/exec"

func Run(env map[string]any, args []any, kwargs map[string]any) (map[string]any, error) {
	_ = exec.Command("true")
	return map[string]any{"status": "ok", "value": 1}, nil
}
`

const panickingProgram = `package main

func Run(env map[string]any, args []any, kwargs map[string]any) (map[string]any, error) {
	panic("boom")
}
`

// retriableProgram returns a retriable error outcome of errorType.
func retriableProgram(errorType string) string {
	return fmt.Sprintf(`package main

func Run(env map[string]any, args []any, kwargs map[string]any) (map[string]any, error) {
	return map[string]any{
		"status":        "error",
		"error_type":    %q,
		"error_message": "try again",
		"retriable":     true,
	}, nil
}
`, errorType)
}

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func intPtr(n int) *int { return &n }

type fixture struct {
	exec      *Executor
	store     *artifact.Store
	collector *metrics.Collector
}

// newFixture builds an executor for role "math" over a temp store.
// mutate adjusts the config before New.
func newFixture(t *testing.T, gen generator.Generator, mutate func(*Config)) *fixture {
	t.Helper()
	store, err := artifact.NewStore(artifact.StoreConfig{
		Dir:    t.TempDir(),
		Logger: log.NewNop(),
		Now:    func() time.Time { return testNow },
	})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	collector := metrics.NewCollector("math", "json", "fs")
	cfg := Config{
		Role: "math",
		Capabilities: map[string]*Capability{
			"add":    {Purpose: "add two integers"},
			"divide": {Purpose: "divide two integers"},
		},
		Generator: gen,
		Store:     store,
		Logger:    log.NewNop(),
		Collector: collector,
		Now:       func() time.Time { return testNow },
	}
	if mutate != nil {
		mutate(&cfg)
	}
	exec, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return &fixture{exec: exec, store: store, collector: collector}
}

// methodGenerator answers each method with its own program.
type methodGenerator struct {
	programs map[string]string
}

func (g *methodGenerator) Generate(_ context.Context, req generator.Request) (types.Program, error) {
	code, ok := g.programs[req.Method]
	if !ok {
		return types.Program{}, &generator.ResponseError{Msg: "no program for " + req.Method}
	}
	return types.Program{Code: code}, nil
}

// fakeWorkers answers worker requests from a fixed sequence.
type fakeWorkers struct {
	mu       sync.Mutex
	results  []worker.Result
	requests []*ipc.Request
}

func (f *fakeWorkers) Execute(_ context.Context, req *ipc.Request) worker.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	i := min(len(f.requests)-1, len(f.results)-1)
	return f.results[i]
}

// recordingAdapter keeps published events.
type recordingAdapter struct {
	mu     sync.Mutex
	events []*adapter.CallCompletedEvent
	err    error
}

func (a *recordingAdapter) Publish(_ context.Context, event *adapter.CallCompletedEvent) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, event)
	return a.err
}

func (a *recordingAdapter) Close() error { return nil }

var errAdapterDown = errors.New("adapter down")
