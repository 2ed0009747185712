// Package main provides the taskstream CLI entrypoint.
//
// Usage:
//
//	taskstream <command> [options]
//
// Exit codes for `chat`:
//   - 0: the stream completed
//   - 1: the server sent an error event
//   - 2: transport, protocol or idle timeout failure
//   - 3: invalid input or configuration
//   - 130: interrupted
package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/taskstream/cli/cmd"
	"github.com/pithecene-io/taskstream/types"
)

// Commit is set via ldflags at build time.
var commit = "unknown"

func newApp() *cli.App {
	return &cli.App{
		Name:           "taskstream",
		Usage:          "Streaming chat progress client",
		Version:        fmt.Sprintf("%s (commit: %s)", types.Version, commit),
		ExitErrHandler: exitErrHandler,
		Commands: []*cli.Command{
			cmd.ChatCommand(),
			cmd.ReplayCommand(),
			cmd.HistoryCommand(),
			cmd.VersionCommand(commit),
		},
	}
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		// ExitErrHandler already exited for cli.ExitCoder errors.
		os.Exit(1)
	}
}

// exitErrHandler prints the error message, if any, and exits with the
// code carried by cli.Exit.
func exitErrHandler(_ *cli.Context, err error) {
	if err == nil {
		return
	}
	os.Exit(reportExit(os.Stderr, err))
}

// reportExit writes err's message to w and returns the exit code.
// cli.Exit("", N) prints nothing.
func reportExit(w io.Writer, err error) int {
	var exitCoder cli.ExitCoder
	if errors.As(err, &exitCoder) {
		code := exitCoder.ExitCode()
		if msg := exitCoder.Error(); msg != "" && msg != fmt.Sprintf("exit status %d", code) {
			fmt.Fprintln(w, msg)
		}
		return code
	}

	fmt.Fprintf(w, "Error: %v\n", err)
	return 1
}
