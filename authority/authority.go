// Package authority implements the driver-resident TrackerAuthority: the
// owner of every stage's ShuffleStatus, a dispatcher pool answering
// metadata RPCs off the transport thread, and the epoch counter workers
// use to invalidate their caches.
//
// Grounded on the teacher's runtime.Operator worker-pool (bounded channel +
// semaphore-limited concurrency + sync.WaitGroup join discipline),
// generalized from "run child jobs" to "answer GetMapOutputStatuses
// requests from a queue."
package authority

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/yikf/shuffletrack/broadcast"
	"github.com/yikf/shuffletrack/catalog"
	"github.com/yikf/shuffletrack/metrics"
	"github.com/yikf/shuffletrack/tlog"
	"github.com/yikf/shuffletrack/wire"
)

// Sentinel errors per spec.md §7's taxonomy.
var (
	ErrAlreadyRegistered = catalog.ErrAlreadyRegistered
	ErrUnknownShuffle    = errors.New("authority: unknown shuffle")
)

// PoisonPillShuffleID is the agreed-upon sentinel shuffleId used to cascade
// dispatcher shutdown: one pill, re-offered by every consumer that reads
// it, terminates a pool of unknown size without a shared counter.
const PoisonPillShuffleID int32 = -99

// StopMapOutputTrackerShuffleID is the sentinel shuffleId identifying
// spec.md §6's second (and only other) authority RPC message:
// StopMapOutputTracker → reply true. Stop sends this to itself, ahead of
// the PoisonPill, so the message is observably handled by the dispatcher
// pool rather than only being an internal Stop detail.
const StopMapOutputTrackerShuffleID int32 = -100

// PendingRequest is a (shuffleId, replyContext) pair enqueued by the RPC
// entry point and consumed by a messageLoop.
type PendingRequest struct {
	ShuffleID int32
	Reply     chan<- reply
}

type reply struct {
	bytes []byte
	err   error
}

// Config bounds the authority's dispatcher pool and statistics
// parallelization gate.
type Config struct {
	// DispatcherNumThreads is the fixed pool size of message-loop consumers
	// (spec default 8).
	DispatcherNumThreads int
	// QueueCapacity bounds the request channel. The spec describes an
	// "unbounded FIFO blocking queue"; a generously-sized channel matches
	// that queue's observable behavior under normal load (the RPC caller
	// blocks on a full queue rather than being rejected).
	QueueCapacity int
	// ParallelAggThreshold gates getStatistics' parallel summation.
	ParallelAggThreshold int
	// MinSizeForBroadcast is forwarded to the wire.CatalogSerializer.
	MinSizeForBroadcast int
}

// Authority is the TrackerAuthority: owns every ShuffleStatus, runs the
// dispatcher pool, and tracks the epoch.
type Authority struct {
	cfg        Config
	logger     *tlog.Logger
	metrics    *metrics.Collector
	serializer *wire.CatalogSerializer

	statusesMu sync.Mutex
	statuses   map[int32]*catalog.ShuffleStatus

	epochMu sync.Mutex
	epoch   uint64

	queue  chan PendingRequest
	stopWg sync.WaitGroup
}

// New constructs an Authority. broadcastMgr may be nil, in which case an
// in-process broadcast.MemoryManager is used.
func New(cfg Config, broadcastMgr broadcast.Manager, logger *tlog.Logger, collector *metrics.Collector) *Authority {
	if cfg.DispatcherNumThreads <= 0 {
		cfg.DispatcherNumThreads = 8
	}
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = 4096
	}
	if logger == nil {
		logger = tlog.Noop()
	}
	if broadcastMgr == nil {
		broadcastMgr = broadcast.NewMemoryManager()
	}
	return &Authority{
		cfg:        cfg,
		logger:     logger,
		metrics:    collector,
		serializer: wire.NewCatalogSerializer(broadcastMgr, cfg.MinSizeForBroadcast, logger),
		statuses:   make(map[int32]*catalog.ShuffleStatus),
		queue:      make(chan PendingRequest, cfg.QueueCapacity),
	}
}

// Start launches the dispatcher pool's messageLoop consumers. Call Stop to
// cascade shutdown via the poison pill.
func (a *Authority) Start(ctx context.Context) {
	for i := 0; i < a.cfg.DispatcherNumThreads; i++ {
		a.stopWg.Add(1)
		go a.messageLoop(ctx, i)
	}
}

// stopReplyTimeout bounds how long Stop waits for StopMapOutputTracker's
// reply. Start's ctx is typically already canceled by the time Stop runs
// (a server shuts down its context before tearing down the authority), in
// which case every messageLoop has already exited via ctx.Done() and
// nothing will ever answer; this timeout keeps that ordering from
// deadlocking shutdown.
const stopReplyTimeout = 2 * time.Second

// Stop implements spec.md §5's shutdown sequence: send StopMapOutputTracker
// to itself (answered while the dispatcher pool is still alive, so the
// message is genuinely handled rather than just an internal detail), post
// the PoisonPill to shut the pool down, then release every registered
// catalog's cached serialized form and any pinned broadcast handle.
func (a *Authority) Stop() {
	replyCh := make(chan reply, 1)
	a.queue <- PendingRequest{ShuffleID: StopMapOutputTrackerShuffleID, Reply: replyCh}
	select {
	case <-replyCh:
	case <-time.After(stopReplyTimeout):
		a.logger.Warn("dispatcher: StopMapOutputTracker reply timed out, pool likely already stopped", nil)
	}

	a.queue <- PendingRequest{ShuffleID: PoisonPillShuffleID}
	a.stopWg.Wait()

	a.releaseAllCatalogs()
}

// releaseAllCatalogs destroys every registered ShuffleStatus's cached
// broadcast handle (via its own invalidation path) and drops the registry,
// so nothing outlives the authority that was serving it.
func (a *Authority) releaseAllCatalogs() {
	a.statusesMu.Lock()
	defer a.statusesMu.Unlock()
	for _, s := range a.statuses {
		s.InvalidateSerializedMapOutputStatusCache()
	}
	a.statuses = make(map[int32]*catalog.ShuffleStatus)
}

// messageLoop is one dispatcher-pool consumer: blocking-take a request; if
// it's the poison pill, re-offer it for the next consumer and exit;
// otherwise look up the catalog and reply with its serialized form,
// logging and swallowing non-fatal errors.
func (a *Authority) messageLoop(ctx context.Context, id int) {
	defer a.stopWg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-a.queue:
			if req.ShuffleID == PoisonPillShuffleID {
				select {
				case a.queue <- req:
				default:
					// Queue momentarily full; another consumer will still see
					// a pill because Stop only needs one to ever propagate
					// and the channel send above already attempted delivery.
				}
				return
			}
			if req.ShuffleID == StopMapOutputTrackerShuffleID {
				if req.Reply != nil {
					req.Reply <- reply{bytes: []byte{1}}
				}
				a.metrics.IncRequestsServed()
				continue
			}
			a.serveRequest(ctx, req)
			a.metrics.IncRequestsServed()
		}
	}
}

func (a *Authority) serveRequest(ctx context.Context, req PendingRequest) {
	status := a.lookup(req.ShuffleID)
	if status == nil {
		a.logger.Warn("dispatcher: unknown shuffle", map[string]any{"shuffle_id": req.ShuffleID})
		if req.Reply != nil {
			req.Reply <- reply{err: fmt.Errorf("%w: %d", ErrUnknownShuffle, req.ShuffleID)}
		}
		return
	}

	bytes, err := status.SerializedMapStatus(func(ms []*catalog.MapStatus) ([]byte, catalog.BroadcastHandle, error) {
		return a.serializer.SerializeMapStatuses(ctx, ms)
	})
	if err != nil {
		a.logger.Error("dispatcher: serialize failed", map[string]any{"shuffle_id": req.ShuffleID, "error": err.Error()})
	}
	if req.Reply != nil {
		req.Reply <- reply{bytes: bytes, err: err}
	}
}

// GetMapOutputStatuses implements the authority side of the
// GetMapOutputStatuses RPC (spec.md §6): enqueue the request for the
// dispatcher pool and await its reply, honoring ctx cancellation.
func (a *Authority) GetMapOutputStatuses(ctx context.Context, shuffleID int32) ([]byte, error) {
	replyCh := make(chan reply, 1)
	req := PendingRequest{ShuffleID: shuffleID, Reply: replyCh}

	select {
	case a.queue <- req:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case r := <-replyCh:
		return r.bytes, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// RegisterShuffle creates a fresh ShuffleStatus for shuffleID. Fails with
// ErrAlreadyRegistered if shuffleID is already present.
func (a *Authority) RegisterShuffle(shuffleID int32, numMaps int) error {
	a.statusesMu.Lock()
	defer a.statusesMu.Unlock()
	if _, ok := a.statuses[shuffleID]; ok {
		return fmt.Errorf("authority: shuffle %d: %w", shuffleID, ErrAlreadyRegistered)
	}
	a.statuses[shuffleID] = catalog.NewShuffleStatus(shuffleID, numMaps)
	return nil
}

// RegisterMapOutput delegates to the shuffle's catalog. No epoch bump.
func (a *Authority) RegisterMapOutput(shuffleID int32, mapID int, status *catalog.MapStatus) error {
	s := a.lookup(shuffleID)
	if s == nil {
		return fmt.Errorf("authority: shuffle %d: %w", shuffleID, ErrUnknownShuffle)
	}
	s.AddMapOutput(mapID, status)
	return nil
}

// UnregisterMapOutput conditionally removes a single map's output, then
// bumps the epoch. Fails with ErrUnknownShuffle if shuffleID is absent.
func (a *Authority) UnregisterMapOutput(shuffleID int32, mapID int, bmAddress catalog.BlockManagerId) error {
	s := a.lookup(shuffleID)
	if s == nil {
		return fmt.Errorf("authority: shuffle %d: %w", shuffleID, ErrUnknownShuffle)
	}
	s.RemoveMapOutput(mapID, bmAddress)
	a.incrementEpoch()
	return nil
}

// UnregisterShuffle removes shuffleID's catalog entry. Per DESIGN.md's
// Open Question decision, the in-array statuses are not cleared first
// (harmless, since the entry is dropped), but the cache is always
// invalidated so any pinned broadcast handle is destroyed before the
// ShuffleStatus is discarded.
func (a *Authority) UnregisterShuffle(shuffleID int32) {
	a.statusesMu.Lock()
	s, ok := a.statuses[shuffleID]
	if ok {
		delete(a.statuses, shuffleID)
	}
	a.statusesMu.Unlock()

	if ok {
		s.InvalidateSerializedMapOutputStatusCache()
	}
}

// RemoveOutputsOnHost applies the filter across every registered catalog,
// then bumps the epoch exactly once.
func (a *Authority) RemoveOutputsOnHost(host string) {
	a.forEachStatus(func(s *catalog.ShuffleStatus) { s.RemoveOutputsOnHost(host) })
	a.incrementEpoch()
}

// RemoveOutputsOnExecutor applies the filter across every registered
// catalog, then bumps the epoch exactly once.
func (a *Authority) RemoveOutputsOnExecutor(execID string) {
	a.forEachStatus(func(s *catalog.ShuffleStatus) { s.RemoveOutputsOnExecutor(execID) })
	a.incrementEpoch()
}

func (a *Authority) forEachStatus(fn func(*catalog.ShuffleStatus)) {
	a.statusesMu.Lock()
	snapshot := make([]*catalog.ShuffleStatus, 0, len(a.statuses))
	for _, s := range a.statuses {
		snapshot = append(snapshot, s)
	}
	a.statusesMu.Unlock()

	for _, s := range snapshot {
		fn(s)
	}
}

// ContainsShuffle reports whether shuffleID is registered.
func (a *Authority) ContainsShuffle(shuffleID int32) bool {
	return a.lookup(shuffleID) != nil
}

// GetNumAvailableOutputs returns the count of non-empty slots for
// shuffleID, or -1 if shuffleID is unknown.
func (a *Authority) GetNumAvailableOutputs(shuffleID int32) int {
	s := a.lookup(shuffleID)
	if s == nil {
		return -1
	}
	return s.NumAvailableOutputs()
}

// FindMissingPartitions returns the missing map-partition ids for
// shuffleID, or nil if shuffleID is unknown.
func (a *Authority) FindMissingPartitions(shuffleID int32) []int {
	s := a.lookup(shuffleID)
	if s == nil {
		return nil
	}
	return s.FindMissingPartitions()
}

func (a *Authority) lookup(shuffleID int32) *catalog.ShuffleStatus {
	a.statusesMu.Lock()
	defer a.statusesMu.Unlock()
	return a.statuses[shuffleID]
}

// incrementEpoch bumps the epoch under its own lock, separate from any
// catalog's exclusion, and records the bump in metrics.
func (a *Authority) incrementEpoch() {
	a.epochMu.Lock()
	a.epoch++
	a.epochMu.Unlock()
	a.metrics.IncEpochBump()
}

// GetEpoch returns the current epoch.
func (a *Authority) GetEpoch() uint64 {
	a.epochMu.Lock()
	defer a.epochMu.Unlock()
	return a.epoch
}
