package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/pithecene-io/kiln/guardrail"
	"github.com/pithecene-io/kiln/ipc"
	"github.com/pithecene-io/kiln/log"
	"github.com/pithecene-io/kiln/program"
	"github.com/pithecene-io/kiln/types"
)

// ServeConfig configures the worker side of the protocol.
type ServeConfig struct {
	// Codec is the ipc codec name.
	Codec string
	// GoPath is where program imports are resolved.
	GoPath string
	// ProgramOutput receives program stdout and stderr. Stdout of the
	// worker process is the protocol channel and is never handed out.
	ProgramOutput io.Writer
	// Logger receives diagnostics. Nil discards.
	Logger *log.Logger
}

// Serve answers requests from r on w until r ends. It returns nil on a
// clean end of input and an error when the stream is unrecoverable.
func Serve(ctx context.Context, r io.Reader, w io.Writer, cfg ServeConfig) error {
	codec, err := ipc.NewCodec(cfg.Codec, r, w)
	if err != nil {
		return err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.NewNop()
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		msg, err := codec.ReadMessage()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			if ipc.IsFatalFrameError(err) || !isDecodeError(err) {
				return fmt.Errorf("read request: %w", err)
			}
			logger.Warn("skipping undecodable request", map[string]any{"error": err.Error()})
			continue
		}

		resp := handle(ctx, msg, cfg)
		if err := codec.WriteMessage(resp.Map()); err != nil {
			return fmt.Errorf("write response %s: %w", resp.CallID, err)
		}
	}
}

func handle(ctx context.Context, msg map[string]any, cfg ServeConfig) *ipc.Response {
	resp := &ipc.Response{IPCVersion: types.IPCVersion}
	resp.CallID, _ = msg["call_id"].(string)

	req, err := ipc.RequestFromMap(msg)
	if err != nil {
		resp.Outcome = types.Err(types.ErrorTypeInvalidFormat, err.Error(), false, nil)
		return resp
	}

	for _, dep := range req.Dependencies {
		if !dependencyPresent(cfg.GoPath, dep.Name) {
			resp.Outcome = types.Err(
				types.ErrorTypeDependencyActivateFailed,
				fmt.Sprintf("dependency %s is not installed in this environment", dep),
				false,
				map[string]any{"dependency": dep.Name},
			)
			return resp
		}
	}

	env := req.ContextSnapshot
	if env == nil {
		env = make(map[string]any)
	}
	out := cfg.ProgramOutput
	o, err := program.Run(ctx, req.Code, env, req.Args, req.Kwargs, program.Options{
		GoPath: cfg.GoPath,
		Stdout: out,
		Stderr: out,
	})
	if err != nil {
		resp.Outcome = types.Err(guardrail.ErrorTypeOf(err), err.Error(), true, map[string]any{MetaException: true})
		return resp
	}
	resp.Outcome = o
	resp.ContextSnapshot = env
	return resp
}

func dependencyPresent(goPath, name string) bool {
	if goPath == "" {
		return false
	}
	info, err := os.Stat(filepath.Join(goPath, "src", filepath.FromSlash(name)))
	return err == nil && info.IsDir()
}
