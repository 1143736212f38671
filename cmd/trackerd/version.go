package main

import (
	"fmt"

	"github.com/urfave/cli/v2"
)

func versionCommand(version, commit string) *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Print trackerd's version",
		Action: func(c *cli.Context) error {
			fmt.Printf("trackerd %s (commit: %s)\n", version, commit)
			return nil
		},
	}
}
