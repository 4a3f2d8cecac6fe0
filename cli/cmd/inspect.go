package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/kiln/artifact"
	"github.com/pithecene-io/kiln/cli/config"
	"github.com/pithecene-io/kiln/cli/reader"
	"github.com/pithecene-io/kiln/cli/render"
	"github.com/pithecene-io/kiln/cli/tui"
)

// InspectCommand returns the inspect command: the full view of one
// artifact, including retained versions and generation history.
func InspectCommand() *cli.Command {
	return &cli.Command{
		Name:      "inspect",
		Usage:     "Inspect one artifact",
		ArgsUsage: "METHOD | ROLE.METHOD",
		Flags: append(ReadOnlyFlags(),
			&cli.BoolFlag{
				Name:  "code",
				Usage: "Print only the current source",
			},
		),
		Action: inspectAction,
	}
}

func inspectAction(c *cli.Context) error {
	if c.NArg() < 1 {
		return cli.Exit("inspect requires a METHOD", 1)
	}
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
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

	resp, err := reader.New(store).Inspect(role, method)
	if errors.Is(err, artifact.ErrNotFound) {
		return cli.Exit(fmt.Sprintf("artifact not found: %s.%s", role, method), 1)
	}
	if err != nil {
		return err
	}

	if c.Bool("code") {
		_, err := fmt.Fprintln(c.App.Writer, resp.Code)
		return err
	}
	if c.Bool("tui") {
		return r.RenderTUI(tui.ViewInspectArtifact, resp)
	}
	return r.Render(resp)
}

// artifactKey resolves "role.method", or a bare method under --role or the
// configured role.
func artifactKey(c *cli.Context, cfg *config.Config, arg string) (role, method string, err error) {
	if before, after, ok := strings.Cut(arg, "."); ok && c.String("role") == "" {
		if before == "" || after == "" {
			return "", "", fmt.Errorf("invalid artifact name: %q", arg)
		}
		return before, after, nil
	}
	role, err = resolveRole(c, cfg)
	if err != nil {
		return "", "", err
	}
	return role, arg, nil
}
