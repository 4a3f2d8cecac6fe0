// Package main provides the kiln worker entrypoint. The supervisor starts
// one per dependency environment and speaks the ipc protocol over its
// stdin and stdout. Programs write to stderr.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/pithecene-io/kiln/log"
	"github.com/pithecene-io/kiln/worker"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := log.NewLogger("kiln-worker", os.Getenv("KILN_LOG_LEVEL")).With(map[string]any{
		"env_id": os.Getenv(worker.EnvEnvID),
	})
	defer func() { _ = logger.Sync() }()

	err := worker.Serve(ctx, os.Stdin, os.Stdout, worker.ServeConfig{
		Codec:         os.Getenv(worker.EnvCodec),
		GoPath:        os.Getenv(worker.EnvGoPath),
		ProgramOutput: os.Stderr,
		Logger:        logger,
	})
	if err != nil {
		logger.Error("worker stopped", map[string]any{"error": err.Error()})
		os.Exit(1)
	}
}
