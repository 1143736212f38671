package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/urfave/cli/v2"
)

func sizesCommand() *cli.Command {
	return &cli.Command{
		Name:      "sizes",
		Usage:     "Fetch and group partition sizes by executor for a shuffle",
		ArgsUsage: "<shuffleId> <startPartition> <endPartition>",
		Action:    sizesAction,
	}
}

func sizesAction(c *cli.Context) error {
	if c.NArg() != 3 {
		return cli.Exit("usage: trackerfetch sizes <shuffleId> <startPartition> <endPartition>", 1)
	}
	shuffleID, err := strconv.Atoi(c.Args().Get(0))
	if err != nil {
		return cli.Exit(fmt.Sprintf("invalid shuffleId: %v", err), 1)
	}
	start, err := strconv.Atoi(c.Args().Get(1))
	if err != nil {
		return cli.Exit(fmt.Sprintf("invalid startPartition: %v", err), 1)
	}
	end, err := strconv.Atoi(c.Args().Get(2))
	if err != nil {
		return cli.Exit(fmt.Sprintf("invalid endPartition: %v", err), 1)
	}

	client, a, err := buildClient()
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a.Start(ctx)
	defer a.Stop()

	blocks, err := client.GetMapSizesByExecutorId(ctx, int32(shuffleID), start, end)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(blocks)
}
