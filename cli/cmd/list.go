package cmd

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/kiln/cli/reader"
	"github.com/pithecene-io/kiln/cli/render"
)

// listWarningThreshold is the number of rows above which we suggest --limit.
const listWarningThreshold = 100

// isStderrTTY returns true if stderr is a TTY.
func isStderrTTY() bool {
	info, err := os.Stderr.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}

// ListCommand returns the list command. List returns thin rows; use
// inspect for one artifact in full.
func ListCommand() *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "List stored artifacts",
		Flags: append(ReadOnlyFlags(),
			&cli.BoolFlag{
				Name:  "all",
				Usage: "List every role, ignoring role in kiln.yaml",
			},
			&cli.StringFlag{
				Name:  "state",
				Usage: "Filter by state: candidate, probation, durable, degraded",
			},
			&cli.IntFlag{
				Name:  "limit",
				Usage: "Maximum number of rows to return (0 = no limit)",
			},
		),
		Action: listAction,
	}
}

func listAction(c *cli.Context) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}
	if c.Bool("tui") {
		return cli.Exit("--tui is not supported for list", 1)
	}

	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	role := ""
	if !c.Bool("all") {
		role = c.String("role")
		if role == "" {
			role = cfg.Role
		}
	}
	store, err := openReadStore(c, cfg)
	if err != nil {
		return err
	}

	rows, err := reader.New(store).List(role)
	if err != nil {
		return err
	}
	if state := c.String("state"); state != "" {
		filtered := rows[:0]
		for _, row := range rows {
			if row.State == state {
				filtered = append(filtered, row)
			}
		}
		rows = filtered
	}
	limit := c.Int("limit")
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}

	if len(rows) > listWarningThreshold && limit == 0 && isStderrTTY() {
		fmt.Fprintf(os.Stderr, "Warning: returning %d results. Consider using --limit to reduce output.\n\n", len(rows))
	}
	return r.Render(rows)
}
