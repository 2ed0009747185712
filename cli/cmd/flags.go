// Package cmd provides CLI commands for the taskstream binary.
package cmd

import (
	"io"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/taskstream/cli/render"
)

// Process streams, swapped by tests.
var (
	stdin  io.Reader = os.Stdin
	stdout io.Writer = os.Stdout
	stderr io.Writer = os.Stderr
)

// Shared flags for output-producing commands.
var (
	// FormatFlag selects output format: json, table, yaml.
	FormatFlag = &cli.StringFlag{
		Name:    "format",
		Aliases: []string{"f"},
		Usage:   "Output format: json, table, yaml",
	}

	// NoColorFlag disables colored output.
	NoColorFlag = &cli.BoolFlag{
		Name:  "no-color",
		Usage: "Disable colored output",
	}

	// ConfigFlag points at a taskstream.yaml file.
	ConfigFlag = &cli.StringFlag{
		Name:  "config",
		Usage: "Path to config file (default: ./taskstream.yaml when present)",
	}
)

// OutputFlags returns the shared flags for all commands that render a result.
func OutputFlags() []cli.Flag {
	return []cli.Flag{
		FormatFlag,
		NoColorFlag,
	}
}

// newRenderer builds the stdout renderer. When stdout has been redirected
// away from the process stdout the TTY default does not apply and json wins.
func newRenderer(c *cli.Context) (*render.Renderer, error) {
	if f, ok := stdout.(*os.File); ok && f == os.Stdout {
		return render.NewRenderer(c)
	}
	format, err := render.ParseFormat(c.String("format"))
	if err != nil {
		return nil, err
	}
	if format == "" {
		format = render.FormatJSON
	}
	return render.NewRendererWithWriter(format, stdout), nil
}

// isStderrTTY reports whether progress output goes to a terminal.
func isStderrTTY() bool {
	f, ok := stderr.(*os.File)
	return ok && render.IsTerminal(f)
}
