package cmd

import (
	"errors"
	"io"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/kiln/cli/render"
	"github.com/pithecene-io/kiln/ipc"
	"github.com/pithecene-io/kiln/runtime"
)

// DebugCommand returns the debug command with subcommands.
func DebugCommand() *cli.Command {
	return &cli.Command{
		Name:  "debug",
		Usage: "Debugging utilities (ipc, registry)",
		Subcommands: []*cli.Command{
			debugIPCCommand(),
			debugRegistryCommand(),
		},
	}
}

// IPCMessageRow summarizes one decoded worker message.
type IPCMessageRow struct {
	Index     int            `json:"index"`
	Kind      string         `json:"kind"`
	CallID    string         `json:"call_id"`
	Method    string         `json:"method"`
	Status    string         `json:"status"`
	ErrorType string         `json:"error_type"`
	Problem   string         `json:"problem"`
	Message   map[string]any `json:"message,omitempty"`
}

func debugIPCCommand() *cli.Command {
	return &cli.Command{
		Name:      "ipc",
		Usage:     "Decode a captured worker message stream",
		ArgsUsage: "FILE|-",
		Flags: append(ReadOnlyFlags(),
			&cli.StringFlag{
				Name:  "codec",
				Usage: "Wire codec: json or msgpack",
				Value: ipc.CodecJSON,
			},
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "Include payload details",
			},
		),
		Action: debugIPCAction,
	}
}

func debugIPCAction(c *cli.Context) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}
	if c.Bool("tui") {
		return cli.Exit("--tui is not supported for debug commands", 1)
	}

	in := io.Reader(os.Stdin)
	if name := c.Args().First(); name != "" && name != "-" {
		f, err := os.Open(name)
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}
	codec, err := ipc.NewCodec(c.String("codec"), in, io.Discard)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	rows, err := decodeIPCStream(codec, c.Bool("verbose"))
	if err != nil {
		return err
	}
	return r.Render(rows)
}

// decodeIPCStream reads messages until EOF. A message that decodes as
// neither a request nor a response is reported, not fatal; a stream that
// cannot be read any further ends the listing with that error.
func decodeIPCStream(codec ipc.Codec, verbose bool) ([]IPCMessageRow, error) {
	var rows []IPCMessageRow
	for i := 0; ; i++ {
		msg, err := codec.ReadMessage()
		if errors.Is(err, io.EOF) {
			return rows, nil
		}
		if err != nil {
			return rows, err
		}
		row := classifyMessage(msg)
		row.Index = i
		if verbose {
			row.Message = msg
		}
		rows = append(rows, row)
	}
}

func classifyMessage(msg map[string]any) IPCMessageRow {
	if _, isReq := msg["code"]; isReq {
		req, err := ipc.RequestFromMap(msg)
		if err != nil {
			return IPCMessageRow{Kind: "request", Problem: err.Error()}
		}
		return IPCMessageRow{Kind: "request", CallID: req.CallID, Method: req.Role + "." + req.MethodName}
	}
	resp, err := ipc.ResponseFromMap(msg)
	if err != nil {
		callID, _ := msg["call_id"].(string)
		return IPCMessageRow{Kind: "unknown", CallID: callID, Problem: err.Error()}
	}
	return IPCMessageRow{
		Kind:      "response",
		CallID:    resp.CallID,
		Status:    string(resp.Outcome.Status),
		ErrorType: resp.Outcome.ErrorType,
	}
}

// RegistryRow is one entry of the tool registry.
type RegistryRow struct {
	Tool      string    `json:"tool"`
	Checksum  string    `json:"checksum"`
	Dynamic   bool      `json:"dynamic"`
	UpdatedAt time.Time `json:"updated_at"`
}

func debugRegistryCommand() *cli.Command {
	return &cli.Command{
		Name:   "registry",
		Usage:  "Show the tool registry",
		Flags:  ReadOnlyFlags(),
		Action: debugRegistryAction,
	}
}

func debugRegistryAction(c *cli.Context) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}
	if c.Bool("tui") {
		return cli.Exit("--tui is not supported for debug commands", 1)
	}
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	path := cfg.RegistryPath
	if path == "" {
		path = defaultRegistryPath
	}
	entries, err := runtime.LoadRegistry(path)
	if err != nil {
		return err
	}
	rows := make([]RegistryRow, 0, len(entries))
	for name, e := range entries {
		rows = append(rows, RegistryRow{Tool: name, Checksum: e.Checksum, Dynamic: e.Dynamic, UpdatedAt: e.UpdatedAt})
	}
	slices.SortFunc(rows, func(a, b RegistryRow) int { return strings.Compare(a.Tool, b.Tool) })
	return r.Render(rows)
}
