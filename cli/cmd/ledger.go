package cmd

import (
	"errors"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/kiln/artifact"
	"github.com/pithecene-io/kiln/cli/reader"
	"github.com/pithecene-io/kiln/cli/render"
)

// LedgerCommand returns the ledger command, which prints the promotion
// decisions recorded for one artifact.
func LedgerCommand() *cli.Command {
	return &cli.Command{
		Name:      "ledger",
		Usage:     "Show promotion decisions for one artifact",
		ArgsUsage: "METHOD | ROLE.METHOD",
		Flags:     ReadOnlyFlags(),
		Action:    ledgerAction,
	}
}

func ledgerAction(c *cli.Context) error {
	if c.NArg() < 1 {
		return cli.Exit("ledger requires a METHOD", 1)
	}
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}
	if c.Bool("tui") {
		return cli.Exit("--tui is not supported for ledger", 1)
	}
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	role, method, err := artifactKey(c, cfg, c.Args().First())
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	store, err := openReadStore(c, cfg)
	if err != nil {
		return err
	}

	rows, err := reader.New(store).Ledger(role, method)
	if errors.Is(err, artifact.ErrNotFound) {
		return cli.Exit(fmt.Sprintf("artifact not found: %s.%s", role, method), 1)
	}
	if err != nil {
		return err
	}
	return r.Render(rows)
}
