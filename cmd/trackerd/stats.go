package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/urfave/cli/v2"

	"github.com/yikf/shuffletrack/dashboard"
)

func statsCommand() *cli.Command {
	return &cli.Command{
		Name:      "stats",
		Usage:     "Show per-shuffle partition statistics and dispatcher/cache counters",
		ArgsUsage: "<shuffleId> <numReducers>",
		Flags:     []cli.Flag{ConfigFlag, TUIFlag},
		Action:    statsAction,
	}
}

func statsAction(c *cli.Context) error {
	if c.NArg() != 2 {
		return cli.Exit("usage: trackerd stats <shuffleId> <numReducers>", 1)
	}
	shuffleID, err := strconv.Atoi(c.Args().Get(0))
	if err != nil {
		return cli.Exit(fmt.Sprintf("invalid shuffleId: %v", err), 1)
	}
	numReducers, err := strconv.Atoi(c.Args().Get(1))
	if err != nil {
		return cli.Exit(fmt.Sprintf("invalid numReducers: %v", err), 1)
	}

	cfg, err := loadConfigFlag(c)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	a, collector, _, err := buildAuthority(cfg)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	if err := seedDemoShuffle(a); err != nil {
		return cli.Exit(err.Error(), 1)
	}

	stats, err := a.GetStatistics(int32(shuffleID), numReducers)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	if c.Bool("tui") {
		fmt.Println(dashboard.RenderSnapshotStatic(collector.Snapshot()))
		return nil
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(map[string]any{
		"shuffleId":        shuffleID,
		"totalSizePerPart": stats.TotalSize,
		"metrics":          collector.Snapshot(),
	})
}
