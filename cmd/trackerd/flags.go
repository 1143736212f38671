package main

import (
	"github.com/urfave/cli/v2"

	"github.com/yikf/shuffletrack/config"
)

// Shared flags across trackerd subcommands.
var (
	// ConfigFlag points at a tracker.yaml config.Config file. Empty means
	// config.Default().
	ConfigFlag = &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Path to tracker config YAML (defaults to built-in defaults)",
	}

	// TUIFlag switches stats from JSON output to a single static frame of
	// the dashboard panel.
	TUIFlag = &cli.BoolFlag{
		Name:  "tui",
		Usage: "Render the dashboard panel instead of JSON output",
	}
)

func loadConfigFlag(c *cli.Context) (config.Config, error) {
	path := c.String("config")
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}
