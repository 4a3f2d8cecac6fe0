package cmd

import (
	"context"
	"fmt"
	"time"

	lodelib "github.com/justapithecus/lode/lode"
	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/kiln/cli/config"
	"github.com/pithecene-io/kiln/cli/reader"
	"github.com/pithecene-io/kiln/cli/render"
	"github.com/pithecene-io/kiln/cli/tui"
	"github.com/pithecene-io/kiln/lode"
)

// statsTimeout bounds one dataset scan.
const statsTimeout = 30 * time.Second

// StatsCommand returns the stats command, which aggregates call records
// from the telemetry dataset per capability.
func StatsCommand() *cli.Command {
	return &cli.Command{
		Name:  "stats",
		Usage: "Show call statistics from the telemetry dataset",
		Flags: append(ReadOnlyFlags(),
			&cli.StringFlag{Name: "method", Usage: "Filter by method"},
			&cli.StringFlag{Name: "day", Usage: "Filter by day partition (YYYY-MM-DD)"},
			&cli.BoolFlag{Name: "all", Usage: "Include every role, ignoring role in kiln.yaml"},
			&cli.StringFlag{Name: "storage-dataset", Usage: "Lode dataset ID (default: \"kiln\")"},
			&cli.StringFlag{Name: "storage-backend", Usage: "Storage backend: fs or s3"},
			&cli.StringFlag{Name: "storage-path", Usage: "Storage path (fs: directory, s3: bucket/prefix)"},
			&cli.StringFlag{Name: "storage-region", Usage: "AWS region for S3 backend"},
		),
		Action: statsAction,
	}
}

func statsAction(c *cli.Context) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	tc := statsTelemetry(c, cfg.Telemetry)
	if tc.Backend == "" || tc.Path == "" {
		return cli.Exit("stats needs a telemetry backend and path: set telemetry in kiln.yaml or pass --storage-backend and --storage-path", 1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), statsTimeout)
	defer cancel()

	ds, err := buildReadDataset(ctx, tc)
	if err != nil {
		return fmt.Errorf("failed to initialize storage reader: %w", err)
	}

	f := lode.CallFilter{Method: c.String("method"), Day: c.String("day")}
	if !c.Bool("all") {
		f.Role = c.String("role")
		if f.Role == "" {
			f.Role = cfg.Role
		}
	}
	rows, err := reader.CallStats(ctx, ds, f)
	if err != nil {
		return fmt.Errorf("failed to read call records: %w", err)
	}

	if c.Bool("tui") {
		return r.RenderTUI(tui.ViewStatsCalls, rows)
	}
	return r.Render(rows)
}

// statsTelemetry applies the storage flags over the configured telemetry
// location.
func statsTelemetry(c *cli.Context, tc config.TelemetryConfig) config.TelemetryConfig {
	if v := c.String("storage-dataset"); v != "" {
		tc.Dataset = v
	}
	if v := c.String("storage-backend"); v != "" {
		tc.Backend = v
	}
	if v := c.String("storage-path"); v != "" {
		tc.Path = v
	}
	if v := c.String("storage-region"); v != "" {
		tc.Region = v
	}
	return tc
}

// buildReadDataset opens the telemetry dataset for reading.
func buildReadDataset(ctx context.Context, tc config.TelemetryConfig) (lodelib.Dataset, error) {
	switch tc.Backend {
	case "fs":
		return lode.NewReadDatasetFS(tc.Dataset, tc.Path)
	case "s3":
		return lode.NewReadDatasetS3(ctx, tc.Dataset, s3Config(tc))
	default:
		return nil, fmt.Errorf("unsupported storage-backend: %s (must be fs or s3)", tc.Backend)
	}
}
