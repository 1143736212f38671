package main

import (
	"context"
	"errors"

	"github.com/yikf/shuffletrack/authority"
	"github.com/yikf/shuffletrack/broadcast"
	"github.com/yikf/shuffletrack/catalog"
	"github.com/yikf/shuffletrack/config"
	"github.com/yikf/shuffletrack/metrics"
	"github.com/yikf/shuffletrack/rpc"
	"github.com/yikf/shuffletrack/tlog"
	"github.com/yikf/shuffletrack/trackerclient"
	"github.com/yikf/shuffletrack/wire"
)

var errMalformedRequest = errors.New("trackerfetch: malformed GetMapOutputStatuses request")

const mapOutputTrackerEndpoint = "MapOutputTracker"
const demoShuffleID int32 = 0

// buildClient wires a self-contained demo: an in-memory TrackerAuthority
// registered behind an rpc.InProcessTransport, and a trackerclient.Client
// talking to it through that transport — standing in for the driver
// process trackerfetch would otherwise reach over the network.
func buildClient() (*trackerclient.Client, *authority.Authority, error) {
	logger := tlog.New(tlog.Context{Component: "trackerfetch"})
	collector := metrics.NewCollector()
	mgr := broadcast.NewMemoryManager()

	a := authority.New(authority.Config{
		DispatcherNumThreads: 4,
		MinSizeForBroadcast:  config.DefaultMinSizeForBroadcast,
	}, mgr, logger, collector)

	if err := seedDemoShuffle(a); err != nil {
		return nil, nil, err
	}

	transport := rpc.NewInProcessTransport(logger)
	transport.RegisterEndpoint(mapOutputTrackerEndpoint, rpc.HandlerFunc(func(ctx context.Context, req []byte) ([]byte, error) {
		shuffleID, err := decodeShuffleIDRequest(req)
		if err != nil {
			return nil, err
		}
		return a.GetMapOutputStatuses(ctx, shuffleID)
	}))

	serializer := wire.NewCatalogSerializer(mgr, config.DefaultMinSizeForBroadcast, logger)
	fetcher := &transportFetcher{transport: transport}
	client := trackerclient.New(fetcher, serializer, logger, collector)
	return client, a, nil
}

func seedDemoShuffle(a *authority.Authority) error {
	if err := a.RegisterShuffle(demoShuffleID, 3); err != nil {
		return err
	}
	bmA := catalog.BlockManagerId{ExecutorID: "exec-a", Host: "host-a", Port: 7337}
	bmB := catalog.BlockManagerId{ExecutorID: "exec-b", Host: "host-b", Port: 7337}
	_ = a.RegisterMapOutput(demoShuffleID, 0, catalog.NewMapStatus(bmA, []int64{10, 20, 30}))
	_ = a.RegisterMapOutput(demoShuffleID, 1, catalog.NewMapStatus(bmB, []int64{5, 5, 5}))
	_ = a.RegisterMapOutput(demoShuffleID, 2, catalog.NewMapStatus(bmA, []int64{0, 100, 0}))
	return nil
}

// transportFetcher adapts an rpc.Transport into trackerclient.Fetcher,
// encoding the shuffleId as the 4-byte big-endian body spec.md §6's
// GetMapOutputStatuses request uses.
type transportFetcher struct {
	transport rpc.Transport
}

func (f *transportFetcher) GetMapOutputStatuses(ctx context.Context, shuffleID int32) ([]byte, error) {
	req := encodeShuffleIDRequest(shuffleID)
	return f.transport.Ask(ctx, "", mapOutputTrackerEndpoint, req)
}

func encodeShuffleIDRequest(shuffleID int32) []byte {
	u := uint32(shuffleID)
	return []byte{byte(u >> 24), byte(u >> 16), byte(u >> 8), byte(u)}
}

func decodeShuffleIDRequest(req []byte) (int32, error) {
	if len(req) != 4 {
		return 0, errMalformedRequest
	}
	return int32(uint32(req[0])<<24 | uint32(req[1])<<16 | uint32(req[2])<<8 | uint32(req[3])), nil
}
