// Package main provides the trackerd driver binary: the process that owns
// a TrackerAuthority and answers GetMapOutputStatuses RPCs.
//
// Usage:
//
//	trackerd serve [--config tracker.yaml]
//	trackerd stats <shuffleId> <numReducers> [--tui]
//	trackerd monitor [--config tracker.yaml]
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

var commit = "unknown"
var version = "0.1.0"

func main() {
	app := &cli.App{
		Name:           "trackerd",
		Usage:          "Shuffle map-output tracking authority",
		Version:        fmt.Sprintf("%s (commit: %s)", version, commit),
		ExitErrHandler: exitErrHandler,
		Commands: []*cli.Command{
			serveCommand(),
			statsCommand(),
			monitorCommand(),
			versionCommand(version, commit),
		},
	}

	if err := app.Run(os.Args); err != nil {
		os.Exit(1)
	}
}

// exitErrHandler preserves exit codes carried by cli.Exit, matching the
// teacher's cmd/quarry entrypoint handler.
func exitErrHandler(_ *cli.Context, err error) {
	if err == nil {
		return
	}

	var exitCoder cli.ExitCoder
	if errors.As(err, &exitCoder) {
		code := exitCoder.ExitCode()
		msg := exitCoder.Error()
		if msg != "" && msg != fmt.Sprintf("exit status %d", code) {
			fmt.Fprintln(os.Stderr, msg)
		}
		os.Exit(code)
	}

	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
