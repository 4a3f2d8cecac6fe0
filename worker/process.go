// Package worker runs dependency-bearing programs in a supervised
// subprocess. The host side (Executor, Supervisor) and the worker side
// (Serve) speak the ipc protocol over the subprocess's stdin and stdout.
package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
)

// Environment variables read by the worker binary.
const (
	EnvCodec  = "KILN_WORKER_CODEC"
	EnvGoPath = "KILN_WORKER_GOPATH"
	EnvEnvID  = "KILN_WORKER_ENV_ID"
)

// Process is a started worker subprocess.
type Process interface {
	// Stdin carries requests to the worker.
	Stdin() io.WriteCloser
	// Stdout carries responses from the worker.
	Stdout() io.Reader
	// Wait blocks until the process exits.
	Wait() error
	// Kill terminates the process.
	Kill() error
}

// ProcessConfig describes the worker to start.
type ProcessConfig struct {
	// WorkerPath is the path to the kiln-worker binary.
	WorkerPath string
	// EnvID is the environment id of the dependency set.
	EnvID string
	// GoPath is where the worker resolves dependency imports.
	GoPath string
	// Codec is the ipc codec name.
	Codec string
	// Stderr receives worker diagnostics. Nil discards.
	Stderr io.Writer
}

// ProcessFactory starts a Process. Used for test injection.
type ProcessFactory func(ctx context.Context, cfg ProcessConfig) (Process, error)

type execProcess struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
}

// StartProcess launches the worker binary.
func StartProcess(_ context.Context, cfg ProcessConfig) (Process, error) {
	if cfg.WorkerPath == "" {
		return nil, errors.New("worker path is empty")
	}
	// The supervisor owns the lifetime; the process must outlive the
	// context of the request that happened to start it.
	cmd := exec.Command(cfg.WorkerPath)
	cmd.Env = deduplicateEnv(append(os.Environ(),
		EnvCodec+"="+cfg.Codec,
		EnvGoPath+"="+cfg.GoPath,
		EnvEnvID+"="+cfg.EnvID,
	))
	if cfg.Stderr != nil {
		cmd.Stderr = cfg.Stderr
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start worker: %w", err)
	}
	return &execProcess{cmd: cmd, stdin: stdin, stdout: stdout}, nil
}

func (p *execProcess) Stdin() io.WriteCloser { return p.stdin }
func (p *execProcess) Stdout() io.Reader     { return p.stdout }
func (p *execProcess) Wait() error           { return p.cmd.Wait() }

func (p *execProcess) Kill() error {
	if p.cmd.Process != nil {
		return p.cmd.Process.Kill()
	}
	return nil
}

// deduplicateEnv keeps the last occurrence of each env var key so the
// values appended for the worker win over inherited duplicates.
func deduplicateEnv(env []string) []string {
	seen := make(map[string]int, len(env))
	for i, entry := range env {
		key, _, _ := strings.Cut(entry, "=")
		seen[key] = i
	}
	result := make([]string, 0, len(seen))
	for i, entry := range env {
		key, _, _ := strings.Cut(entry, "=")
		if seen[key] == i {
			result = append(result, entry)
		}
	}
	return result
}
