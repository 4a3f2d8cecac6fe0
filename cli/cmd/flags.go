// Package cmd provides the commands of the kiln binary.
package cmd

import (
	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/kiln/cli/config"
)

// Exit codes for call and batch.
const (
	exitSuccess      = 0
	exitErrorOutcome = 1
	exitSetupFailure = 2
)

var (
	// ConfigFlag names the kiln.yaml file. A missing default file is
	// not an error; a missing explicit file is.
	ConfigFlag = &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Path to kiln.yaml",
		Value:   config.DefaultPath,
		EnvVars: []string{"KILN_CONFIG"},
	}

	// RoleFlag overrides the configured role.
	RoleFlag = &cli.StringFlag{
		Name:  "role",
		Usage: "Role to dispatch for (overrides role in kiln.yaml)",
	}

	// StoreDirFlag overrides the artifact store directory.
	StoreDirFlag = &cli.StringFlag{
		Name:  "store-dir",
		Usage: "Artifact store directory (overrides store_dir in kiln.yaml)",
	}

	// FormatFlag selects output format: json, table, yaml.
	FormatFlag = &cli.StringFlag{
		Name:    "format",
		Aliases: []string{"f"},
		Usage:   "Output format: json, table, yaml",
	}

	// TUIFlag enables Bubble Tea interactive mode.
	TUIFlag = &cli.BoolFlag{
		Name:  "tui",
		Usage: "Enable interactive TUI mode (inspect, stats only)",
	}
)

// ReadOnlyFlags returns the shared flags of commands that only read.
// --tui is included everywhere so unsupported commands can say so.
func ReadOnlyFlags() []cli.Flag {
	return []cli.Flag{ConfigFlag, RoleFlag, StoreDirFlag, FormatFlag, TUIFlag}
}
