package cmd

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/pithecene-io/kiln/ipc"
	"github.com/pithecene-io/kiln/runtime"
)

// maxBatchLine bounds one JSONL input line.
const maxBatchLine = 4 << 20

// batchLine is one call of a batch file.
type batchLine struct {
	// Session groups lines that share working state. Lines without a
	// session each get their own.
	Session string         `json:"session"`
	Method  string         `json:"method"`
	Args    []any          `json:"args"`
	Kwargs  map[string]any `json:"kwargs"`
	// State seeds the session's working state. Only the first line of a
	// session may set it.
	State map[string]any `json:"state"`
}

// batchResult is one output line, in input order.
type batchResult struct {
	Line    int            `json:"line"`
	Session string         `json:"session"`
	Method  string         `json:"method"`
	Outcome map[string]any `json:"outcome"`
}

// BatchCommand returns the batch command, which dispatches calls from a
// JSONL file with one session per group of lines.
func BatchCommand() *cli.Command {
	return &cli.Command{
		Name:      "batch",
		Usage:     "Dispatch calls from a JSONL file, one session per group",
		ArgsUsage: "FILE|-",
		Flags: []cli.Flag{
			ConfigFlag,
			RoleFlag,
			StoreDirFlag,
			&cli.IntFlag{
				Name:  "concurrency",
				Usage: "Sessions run at once",
				Value: 4,
			},
		},
		Action: batchAction,
	}
}

func batchAction(c *cli.Context) error {
	in := io.Reader(os.Stdin)
	if name := c.Args().First(); name != "" && name != "-" {
		f, err := os.Open(name)
		if err != nil {
			return cli.Exit(err.Error(), exitSetupFailure)
		}
		defer f.Close()
		in = f
	}
	lines, err := readBatch(in)
	if err != nil {
		return cli.Exit(err.Error(), exitSetupFailure)
	}
	if c.Int("concurrency") < 1 {
		return cli.Exit("--concurrency must be >= 1", exitSetupFailure)
	}

	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(err.Error(), exitSetupFailure)
	}
	role, err := resolveRole(c, cfg)
	if err != nil {
		return cli.Exit(err.Error(), exitSetupFailure)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := buildStack(ctx, c, cfg, role)
	if err != nil {
		return cli.Exit(fmt.Sprintf("setup failed: %v", err), exitSetupFailure)
	}
	results, runErr := runBatch(ctx, st.exec, lines, c.Int("concurrency"))
	if err := st.Close(); err != nil {
		st.logger.Sugar().Warnf("shutdown incomplete: %v", err)
	}
	if runErr != nil {
		return cli.Exit(runErr.Error(), exitSetupFailure)
	}

	enc := json.NewEncoder(c.App.Writer)
	failed := false
	for _, res := range results {
		if err := enc.Encode(res); err != nil {
			return err
		}
		if res.Outcome["status"] != "ok" {
			failed = true
		}
	}
	if failed {
		return cli.Exit("", exitErrorOutcome)
	}
	return nil
}

// readBatch parses JSONL input. Blank lines are skipped; line numbers in
// errors are 1-based.
func readBatch(r io.Reader) ([]batchLine, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64<<10), maxBatchLine)
	var lines []batchLine
	n := 0
	for sc.Scan() {
		n++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		dec := json.NewDecoder(bytes.NewReader([]byte(text)))
		dec.UseNumber()
		var bl batchLine
		if err := dec.Decode(&bl); err != nil {
			return nil, fmt.Errorf("batch line %d: %w", n, err)
		}
		if bl.Method == "" {
			return nil, fmt.Errorf("batch line %d: method is required", n)
		}
		for i, a := range bl.Args {
			bl.Args[i] = ipc.Normalize(a)
		}
		if bl.Kwargs != nil {
			ipc.Normalize(bl.Kwargs)
		}
		if bl.State != nil {
			ipc.Normalize(bl.State)
		}
		if bl.Session == "" {
			bl.Session = fmt.Sprintf("line-%d", n)
		}
		lines = append(lines, bl)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read batch: %w", err)
	}
	return lines, nil
}

// runBatch runs each session's lines in order, sessions concurrently, and
// returns results in input order.
func runBatch(ctx context.Context, exec *runtime.Executor, lines []batchLine, concurrency int) ([]batchResult, error) {
	var order []string
	groups := make(map[string][]int)
	for i, bl := range lines {
		if _, ok := groups[bl.Session]; !ok {
			order = append(order, bl.Session)
		}
		groups[bl.Session] = append(groups[bl.Session], i)
	}

	results := make([]batchResult, len(lines))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, name := range order {
		idx := groups[name]
		g.Go(func() error {
			session := runtime.NewSession(lines[idx[0]].State)
			sctx := runtime.WithSession(gctx, session)
			for _, i := range idx {
				if err := gctx.Err(); err != nil {
					return err
				}
				bl := lines[i]
				o := exec.Dispatch(sctx, bl.Method, bl.Args, bl.Kwargs)
				results[i] = batchResult{Line: i + 1, Session: name, Method: bl.Method, Outcome: o.Envelope()}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
