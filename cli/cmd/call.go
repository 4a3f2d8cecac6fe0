package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/kiln/cli/render"
	"github.com/pithecene-io/kiln/ipc"
	"github.com/pithecene-io/kiln/metrics"
	"github.com/pithecene-io/kiln/runtime"
)

// CallCommand returns the call command, which dispatches one method call.
func CallCommand() *cli.Command {
	return &cli.Command{
		Name:      "call",
		Usage:     "Dispatch one method call and print its outcome",
		ArgsUsage: "METHOD [ARG...]",
		Description: "Each ARG is parsed as JSON and passed as a positional argument; " +
			"text that is not valid JSON is passed as a string.",
		Flags: []cli.Flag{
			ConfigFlag,
			RoleFlag,
			StoreDirFlag,
			FormatFlag,
			&cli.StringFlag{
				Name:  "kwargs",
				Usage: "Keyword arguments as a JSON object",
				Value: "{}",
			},
			&cli.StringFlag{
				Name:  "state",
				Usage: "Initial working state as a JSON object",
				Value: "{}",
			},
			&cli.StringFlag{
				Name:  "metrics-textfile",
				Usage: "Write a Prometheus textfile of call metrics to this path",
			},
			&cli.BoolFlag{
				Name:  "quiet",
				Usage: "Suppress outcome output",
			},
		},
		Action: callAction,
	}
}

func callAction(c *cli.Context) error {
	if c.NArg() < 1 {
		return cli.Exit("call requires a METHOD", exitSetupFailure)
	}
	method := c.Args().First()
	args := make([]any, 0, c.NArg()-1)
	for _, raw := range c.Args().Tail() {
		args = append(args, parseValue(raw))
	}
	kwargs, err := parseObject(c.String("kwargs"))
	if err != nil {
		return cli.Exit(fmt.Sprintf("invalid --kwargs: %v", err), exitSetupFailure)
	}
	state, err := parseObject(c.String("state"))
	if err != nil {
		return cli.Exit(fmt.Sprintf("invalid --state: %v", err), exitSetupFailure)
	}

	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(err.Error(), exitSetupFailure)
	}
	role, err := resolveRole(c, cfg)
	if err != nil {
		return cli.Exit(err.Error(), exitSetupFailure)
	}
	r, err := render.NewRenderer(c)
	if err != nil {
		return cli.Exit(err.Error(), exitSetupFailure)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := buildStack(ctx, c, cfg, role)
	if err != nil {
		return cli.Exit(fmt.Sprintf("setup failed: %v", err), exitSetupFailure)
	}

	session := runtime.NewSession(state)
	o := st.exec.Dispatch(runtime.WithSession(ctx, session), method, args, kwargs)

	if err := st.Close(); err != nil {
		st.logger.Sugar().Warnf("shutdown incomplete: %v", err)
	}
	if path := c.String("metrics-textfile"); path != "" {
		if err := metrics.WriteTextfile(path, st.collector.Snapshot()); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: metrics textfile: %v\n", err)
		}
	}

	if !c.Bool("quiet") {
		if err := r.Render(o.Envelope()); err != nil {
			return err
		}
	}
	if !o.IsOK() {
		return cli.Exit("", exitErrorOutcome)
	}
	return nil
}

// parseValue decodes raw as JSON with integral numbers as int, falling
// back to the raw string.
func parseValue(raw string) any {
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil || dec.More() {
		return raw
	}
	return ipc.Normalize(v)
}

// parseObject decodes a JSON object with the same number handling.
func parseObject(raw string) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, err
	}
	if m == nil {
		m = map[string]any{}
	}
	return ipc.Normalize(m).(map[string]any), nil
}
