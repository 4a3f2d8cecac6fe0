package worker

import (
	"bufio"
	"context"
	"io"
	"sync"
	"sync/atomic"
)

// pipeProcess is an in-memory Process. The behavior func plays the worker
// side on the request and response pipes.
type pipeProcess struct {
	stdinR  *io.PipeReader
	stdinW  *io.PipeWriter
	stdoutR *io.PipeReader
	stdoutW *io.PipeWriter

	done     chan struct{}
	killOnce sync.Once
}

func newPipeProcess(behavior func(stdin io.Reader, stdout io.WriteCloser)) *pipeProcess {
	p := &pipeProcess{done: make(chan struct{})}
	p.stdinR, p.stdinW = io.Pipe()
	p.stdoutR, p.stdoutW = io.Pipe()
	go func() {
		behavior(p.stdinR, p.stdoutW)
		_ = p.stdoutW.Close()
	}()
	return p
}

func (p *pipeProcess) Stdin() io.WriteCloser { return p.stdinW }
func (p *pipeProcess) Stdout() io.Reader     { return p.stdoutR }

func (p *pipeProcess) Wait() error {
	<-p.done
	return nil
}

func (p *pipeProcess) Kill() error {
	p.killOnce.Do(func() {
		_ = p.stdinR.Close()
		_ = p.stdoutW.Close()
		close(p.done)
	})
	return nil
}

// serving runs the real worker loop.
func serving(cfg ServeConfig) func(io.Reader, io.WriteCloser) {
	return func(stdin io.Reader, stdout io.WriteCloser) {
		_ = Serve(context.Background(), stdin, stdout, cfg)
	}
}

// crashing reads one request line and exits without answering.
func crashing(stdin io.Reader, _ io.WriteCloser) {
	_, _ = bufio.NewReader(stdin).ReadBytes('\n')
}

// hanging reads requests and never answers.
func hanging(stdin io.Reader, _ io.WriteCloser) {
	_, _ = io.Copy(io.Discard, stdin)
}

// countingFactory builds processes from behaviors in order, repeating the
// last one.
type countingFactory struct {
	behaviors []func(io.Reader, io.WriteCloser)
	calls     atomic.Int32
	mu        sync.Mutex
	configs   []ProcessConfig
}

func (f *countingFactory) start(_ context.Context, cfg ProcessConfig) (Process, error) {
	n := int(f.calls.Add(1)) - 1
	f.mu.Lock()
	f.configs = append(f.configs, cfg)
	f.mu.Unlock()
	if n >= len(f.behaviors) {
		n = len(f.behaviors) - 1
	}
	return newPipeProcess(f.behaviors[n]), nil
}

func intPtr(n int) *int { return &n }
