package main

import (
	"context"
	"math/rand"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/yikf/shuffletrack/authority"
	"github.com/yikf/shuffletrack/catalog"
	"github.com/yikf/shuffletrack/dashboard"
	"github.com/yikf/shuffletrack/metrics"
)

func monitorCommand() *cli.Command {
	return &cli.Command{
		Name:   "monitor",
		Usage:  "Live dashboard of dispatcher and cache counters",
		Flags:  []cli.Flag{ConfigFlag},
		Action: monitorAction,
	}
}

func monitorAction(c *cli.Context) error {
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

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a.Start(ctx)
	defer a.Stop()

	// Simulate worker activity against the driver authority, so the
	// dashboard has moving counters instead of a flat line: a background
	// goroutine repeatedly asks for the demo shuffle's catalog and
	// occasionally re-registers one of its map outputs, which invalidates
	// the cached serialized form. Re-registration does not bump the epoch.
	stop := make(chan struct{})
	defer close(stop)
	go simulateTraffic(a, stop)

	return dashboard.RunMonitorTUI(func() metrics.Snapshot {
		return collector.Snapshot()
	}, 500*time.Millisecond)
}

func simulateTraffic(a *authority.Authority, stop <-chan struct{}) {
	ticker := time.NewTicker(300 * time.Millisecond)
	defer ticker.Stop()
	ctx := context.Background()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			_, _ = a.GetMapOutputStatuses(ctx, demoShuffleID)
			if rand.Intn(5) == 0 {
				_ = a.RegisterMapOutput(demoShuffleID, 0, catalog.NewMapStatus(
					catalog.BlockManagerId{ExecutorID: "exec-a", Host: "host-a", Port: 7337},
					[]int64{10, 20, 30},
				))
			}
		}
	}
}
