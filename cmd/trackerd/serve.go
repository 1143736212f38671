package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/yikf/shuffletrack/rpc"
)

var errMalformedRequest = errors.New("trackerd: malformed GetMapOutputStatuses request")

// MapOutputTrackerEndpoint is the RPC endpoint name workers Ask against,
// per spec.md §6.
const MapOutputTrackerEndpoint = "MapOutputTracker"

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:   "serve",
		Usage:  "Run the driver-resident tracker authority",
		Flags:  []cli.Flag{ConfigFlag},
		Action: serveAction,
	}
}

func serveAction(c *cli.Context) error {
	cfg, err := loadConfigFlag(c)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	a, _, logger, err := buildAuthority(cfg)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	if err := seedDemoShuffle(a); err != nil {
		return cli.Exit(err.Error(), 1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a.Start(ctx)
	defer a.Stop()

	transport := rpc.NewInProcessTransport(logger)
	transport.RegisterEndpoint(MapOutputTrackerEndpoint, rpc.HandlerFunc(func(ctx context.Context, req []byte) ([]byte, error) {
		shuffleID, err := decodeShuffleIDRequest(req)
		if err != nil {
			return nil, err
		}
		return a.GetMapOutputStatuses(ctx, shuffleID)
	}))

	logger.Info("trackerd: serving", map[string]any{"endpoint": MapOutputTrackerEndpoint})
	<-ctx.Done()
	logger.Info("trackerd: shutting down", nil)
	return nil
}

// decodeShuffleIDRequest decodes the 4-byte big-endian shuffleId request
// body described in spec.md §6's RPC message shapes.
func decodeShuffleIDRequest(req []byte) (int32, error) {
	if len(req) != 4 {
		return 0, errMalformedRequest
	}
	return int32(uint32(req[0])<<24 | uint32(req[1])<<16 | uint32(req[2])<<8 | uint32(req[3])), nil
}
