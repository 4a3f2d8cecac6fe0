package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pithecene-io/kiln/ipc"
	"github.com/pithecene-io/kiln/types"
)

type readResult struct {
	msg map[string]any
	err error
}

// Executor owns one worker process and runs one request at a time on it.
type Executor struct {
	proc  Process
	codec ipc.Codec
	envID string

	// reads is fed by the reader goroutine; it is closed after the first
	// read error.
	reads chan readResult
	done  chan struct{}

	mu     sync.Mutex
	broken bool

	closeOnce sync.Once
}

// NewExecutor wraps a started process. The reader goroutine runs until
// the process output ends.
func NewExecutor(proc Process, codecName, envID string) (*Executor, error) {
	codec, err := ipc.NewCodec(codecName, proc.Stdout(), proc.Stdin())
	if err != nil {
		return nil, err
	}
	e := &Executor{
		proc:  proc,
		codec: codec,
		envID: envID,
		reads: make(chan readResult, 1),
		done:  make(chan struct{}),
	}
	go e.readLoop()
	return e, nil
}

func (e *Executor) readLoop() {
	defer close(e.reads)
	for {
		msg, err := e.codec.ReadMessage()
		select {
		case e.reads <- readResult{msg: msg, err: err}:
		case <-e.done:
			return
		}
		// A payload that failed to decode leaves the stream usable.
		if err != nil && !isDecodeError(err) {
			return
		}
	}
}

func isDecodeError(err error) bool {
	var fe *ipc.FrameError
	return errors.As(err, &fe) && fe.Kind == ipc.FrameErrorDecode
}

// EnvID returns the environment id the worker was started for.
func (e *Executor) EnvID() string { return e.envID }

// Broken reports whether a previous call left the worker unusable.
func (e *Executor) Broken() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.broken
}

// Call sends req and waits up to timeout for the matching response.
//
// Errors:
//   - *ipc.SerializationError: req cannot cross the boundary (worker still usable)
//   - ErrWorkerTimeout: no response within timeout
//   - ErrWorkerExited: output ended or could not be read
//   - *ipc.ProtocolError, *ipc.DecodeError: response does not belong to req
//
// Every error except a serialization error leaves the executor broken.
func (e *Executor) Call(ctx context.Context, req *ipc.Request, timeout time.Duration) (*ipc.Response, error) {
	msg, err := req.Map()
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.broken {
		return nil, fmt.Errorf("call %s: %w", req.CallID, ErrWorkerExited)
	}

	resp, err := e.roundTrip(ctx, req, msg, timeout)
	if err != nil {
		e.broken = true
		return nil, err
	}
	return resp, nil
}

func (e *Executor) roundTrip(ctx context.Context, req *ipc.Request, msg map[string]any, timeout time.Duration) (*ipc.Response, error) {
	if err := e.codec.WriteMessage(msg); err != nil {
		return nil, fmt.Errorf("call %s: write request: %v: %w", req.CallID, err, ErrWorkerExited)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res, ok := <-e.reads:
		if !ok {
			return nil, fmt.Errorf("call %s: %w", req.CallID, ErrWorkerExited)
		}
		if res.err != nil {
			if !isDecodeError(res.err) {
				return nil, fmt.Errorf("call %s: %v: %w", req.CallID, res.err, ErrWorkerExited)
			}
			return nil, &ipc.ProtocolError{Msg: "unreadable response", Err: res.err}
		}
		resp, err := ipc.ResponseFromMap(res.msg)
		if err != nil {
			return nil, err
		}
		if err := resp.Validate(req.IPCVersion, req.CallID); err != nil {
			return nil, err
		}
		return resp, nil
	case <-timer.C:
		return nil, fmt.Errorf("call %s after %s: %w", req.CallID, timeout, ErrWorkerTimeout)
	case <-ctx.Done():
		return nil, fmt.Errorf("call %s: %w", req.CallID, ctx.Err())
	}
}

// Close stops the worker: stdin is closed, the process is killed and
// reaped.
func (e *Executor) Close() error {
	var err error
	e.closeOnce.Do(func() {
		close(e.done)
		_ = e.proc.Stdin().Close()
		_ = e.proc.Kill()
		err = e.proc.Wait()
		var exitErr interface{ ExitCode() int }
		if errors.As(err, &exitErr) {
			// Killed on purpose.
			err = nil
		}
	})
	return err
}

// outcomeFor maps an executor error to the terminal Outcome reported when
// the restart budget is spent.
func outcomeFor(err error, restarts int) types.Outcome {
	meta := map[string]any{"worker_restarts": restarts, "detail": err.Error()}
	if errors.Is(err, ErrWorkerTimeout) {
		return types.Err(types.ErrorTypeTimeout, "worker did not respond in time", false, meta)
	}
	return types.Err(types.ErrorTypeWorkerCrash, "worker exited unexpectedly", false, meta)
}
