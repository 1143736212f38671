package main

import (
	"fmt"

	"github.com/yikf/shuffletrack/authority"
	"github.com/yikf/shuffletrack/broadcast"
	"github.com/yikf/shuffletrack/config"
	"github.com/yikf/shuffletrack/metrics"
	"github.com/yikf/shuffletrack/tlog"
)

// buildAuthority wires a driver-side Authority from cfg: the broadcast
// manager backing large-catalog delivery, the metrics collector the
// dashboard polls, and the logger every component shares. Grounded on
// cmd/quarry/main.go's flat construction-then-run shape.
func buildAuthority(cfg config.Config) (*authority.Authority, *metrics.Collector, *tlog.Logger, error) {
	logger := tlog.New(tlog.Context{Component: "trackerd", Level: cfg.Logging.Level})
	collector := metrics.NewCollector()

	mgr, err := buildBroadcastManager(cfg, logger)
	if err != nil {
		return nil, nil, nil, err
	}

	authCfg := authority.Config{
		DispatcherNumThreads: cfg.DispatcherNumThreads,
		QueueCapacity:        cfg.DispatcherQueueCapacity,
		ParallelAggThreshold: cfg.ParallelAggThreshold,
		MinSizeForBroadcast:  cfg.MinSizeForBroadcast,
	}
	a := authority.New(authCfg, mgr, logger, collector)
	return a, collector, logger, nil
}

func buildBroadcastManager(cfg config.Config, logger *tlog.Logger) (broadcast.Manager, error) {
	if cfg.Redis == nil {
		return broadcast.NewMemoryManager(), nil
	}

	mgr, err := broadcast.NewRedisManager(broadcast.RedisConfig{
		URL: cfg.Redis.URL,
		TTL: cfg.Redis.TTL.Duration,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("trackerd: build redis broadcast manager: %w", err)
	}
	return mgr, nil
}
