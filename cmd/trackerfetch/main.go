// Package main provides trackerfetch: a worker-side CLI exercising
// trackerclient.Client's getStatuses/getMapSizesByExecutorId against a
// TrackerAuthority, wired together over an in-process rpc.Transport.
//
// Usage:
//
//	trackerfetch sizes <shuffleId> <startPartition> <endPartition>
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
		Name:           "trackerfetch",
		Usage:          "Worker-side shuffle map-output client",
		Version:        fmt.Sprintf("%s (commit: %s)", version, commit),
		ExitErrHandler: exitErrHandler,
		Commands: []*cli.Command{
			sizesCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		os.Exit(1)
	}
}

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
