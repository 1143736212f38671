// Package trackerclient implements the worker-resident TrackerClient: a
// cache of fetched catalogs that coalesces concurrent first-fetches for
// the same shuffle and honors epoch-driven invalidation from the driver.
//
// Grounded on the teacher's lode.LodeClient (mutex-guarded map state,
// commit-then-clear-state discipline) and lode.errors' sentinel-error
// classification table, generalized from storage-write bookkeeping to
// fetch-coalescing bookkeeping.
package trackerclient

import (
	"context"
	"fmt"
	"sync"

	"github.com/yikf/shuffletrack/catalog"
	"github.com/yikf/shuffletrack/metrics"
	"github.com/yikf/shuffletrack/tlog"
)

// Fetcher is what a Client needs from the transport: ask the authority
// for a shuffle's serialized catalog. Declared locally so this package
// doesn't need to import package rpc; cmd/trackerfetch adapts an
// rpc.Transport to it.
type Fetcher interface {
	GetMapOutputStatuses(ctx context.Context, shuffleID int32) ([]byte, error)
}

// Decoder is the subset of wire.CatalogSerializer a Client needs.
// Declared locally for the same reason as Fetcher.
type Decoder interface {
	DeserializeMapStatuses(ctx context.Context, blob []byte) ([]*catalog.MapStatus, error)
}

// Client is the TrackerClient: per-worker cache of fetched catalogs.
type Client struct {
	fetcher Fetcher
	decoder Decoder
	logger  *tlog.Logger
	metrics *metrics.Collector

	cacheMu     sync.Mutex
	mapStatuses map[int32][]*catalog.MapStatus

	fetchMu  sync.Mutex
	fetchCnd *sync.Cond
	fetching map[int32]struct{}

	epochMu sync.Mutex
	epoch   uint64
}

// New constructs a Client against the given fetcher/decoder pair.
func New(fetcher Fetcher, decoder Decoder, logger *tlog.Logger, collector *metrics.Collector) *Client {
	if logger == nil {
		logger = tlog.Noop()
	}
	c := &Client{
		fetcher:     fetcher,
		decoder:     decoder,
		logger:      logger,
		metrics:     collector,
		mapStatuses: make(map[int32][]*catalog.MapStatus),
		fetching:    make(map[int32]struct{}),
	}
	c.fetchCnd = sync.NewCond(&c.fetchMu)
	return c
}

// GetStatuses implements spec §4.4's getStatuses: fast path on a warm
// cache; otherwise exactly one caller among any number of concurrent
// callers for the same shuffleID performs the RPC fetch, and every other
// caller blocks on a sync.Cond until that fetch (successful or not)
// completes — this is the thundering-herd coalescing property (spec §8
// property 7).
func (c *Client) GetStatuses(ctx context.Context, shuffleID int32) ([]*catalog.MapStatus, error) {
	if statuses, ok := c.readCache(shuffleID); ok {
		c.metrics.IncCacheHit()
		return statuses, nil
	}
	c.metrics.IncCacheMiss()

	c.fetchMu.Lock()
	for {
		if _, inFlight := c.fetching[shuffleID]; !inFlight {
			break
		}
		c.fetchCnd.Wait()
		// Another caller's fetch may have just populated the cache; check
		// before deciding whether this caller must itself become the
		// fetcher.
		if statuses, ok := c.readCacheLocked(shuffleID); ok {
			c.fetchMu.Unlock()
			return statuses, nil
		}
	}
	if statuses, ok := c.readCacheLocked(shuffleID); ok {
		c.fetchMu.Unlock()
		return statuses, nil
	}
	c.fetching[shuffleID] = struct{}{}
	c.fetchMu.Unlock()

	c.metrics.IncCoalescedFetch()
	statuses, fetchErr := c.fetchAndDecode(ctx, shuffleID)

	c.fetchMu.Lock()
	if fetchErr == nil {
		c.writeCache(shuffleID, statuses)
	}
	delete(c.fetching, shuffleID)
	c.fetchCnd.Broadcast()
	c.fetchMu.Unlock()

	if fetchErr != nil {
		c.metrics.IncMetadataFetchFailure()
		return nil, &MetadataFetchError{ShuffleID: shuffleID, PartitionID: -1, Err: fetchErr}
	}
	if statuses == nil {
		c.metrics.IncMetadataFetchFailure()
		return nil, &MetadataFetchError{ShuffleID: shuffleID, PartitionID: -1}
	}
	return statuses, nil
}

func (c *Client) fetchAndDecode(ctx context.Context, shuffleID int32) ([]*catalog.MapStatus, error) {
	blob, err := c.fetcher.GetMapOutputStatuses(ctx, shuffleID)
	if err != nil {
		return nil, fmt.Errorf("trackerclient: fetch shuffle %d: %w", shuffleID, err)
	}
	statuses, err := c.decoder.DeserializeMapStatuses(ctx, blob)
	if err != nil {
		return nil, fmt.Errorf("trackerclient: decode shuffle %d: %w", shuffleID, err)
	}
	return statuses, nil
}

func (c *Client) readCache(shuffleID int32) ([]*catalog.MapStatus, bool) {
	c.cacheMu.Lock()
	defer c.cacheMu.Unlock()
	statuses, ok := c.mapStatuses[shuffleID]
	return statuses, ok
}

func (c *Client) readCacheLocked(shuffleID int32) ([]*catalog.MapStatus, bool) {
	return c.readCache(shuffleID)
}

func (c *Client) writeCache(shuffleID int32, statuses []*catalog.MapStatus) {
	c.cacheMu.Lock()
	c.mapStatuses[shuffleID] = statuses
	c.cacheMu.Unlock()
}

// clearCache drops every cached entry, used on epoch bump and on a
// MetadataFetchFailed (stale cache is presumed poisoned).
func (c *Client) clearCache() {
	c.cacheMu.Lock()
	c.mapStatuses = make(map[int32][]*catalog.MapStatus)
	c.cacheMu.Unlock()
}

// UpdateEpoch implements spec §4.4: if newEpoch exceeds the locally-held
// epoch, adopt it and clear the entire cache. This is the only planned
// invalidation path (spec §8 property 8).
func (c *Client) UpdateEpoch(newEpoch uint64) {
	c.epochMu.Lock()
	advanced := newEpoch > c.epoch
	if advanced {
		c.epoch = newEpoch
	}
	c.epochMu.Unlock()

	if advanced {
		c.clearCache()
	}
}

// Epoch returns the locally-held epoch.
func (c *Client) Epoch() uint64 {
	c.epochMu.Lock()
	defer c.epochMu.Unlock()
	return c.epoch
}

// UnregisterShuffle drops shuffleID's cache entry.
func (c *Client) UnregisterShuffle(shuffleID int32) {
	c.cacheMu.Lock()
	delete(c.mapStatuses, shuffleID)
	c.cacheMu.Unlock()
}

// BlockId identifies one downstream partition's slice of one map task's
// output.
type BlockId struct {
	ShuffleID int32
	MapID     int
	ReduceID  int
}

// SizedBlock pairs a BlockId with its estimated byte size.
type SizedBlock struct {
	Block BlockId
	Size  int64
}

// ExecutorBlocks groups the SizedBlocks that live on one BlockManagerId.
type ExecutorBlocks struct {
	Location catalog.BlockManagerId
	Blocks   []SizedBlock
}

// GetMapSizesByExecutorId implements spec §4.4: fetch (or reuse the cached)
// statuses for shuffleID, then group the [startPartition, endPartition)
// slice of every map's output by BlockManagerId. If the catalog is
// incomplete (any map task not yet registered), the entire local cache is
// cleared — a stale/incomplete cache is presumed poisoned — and a
// MetadataFetchError carrying (shuffleID, startPartition) is returned.
func (c *Client) GetMapSizesByExecutorId(ctx context.Context, shuffleID int32, startPartition, endPartition int) ([]ExecutorBlocks, error) {
	statuses, err := c.GetStatuses(ctx, shuffleID)
	if err != nil {
		return nil, err
	}

	blocks, _, ok := convertMapStatuses(statuses, shuffleID, startPartition, endPartition)
	if !ok {
		c.clearCache()
		c.metrics.IncMetadataFetchFailure()
		return nil, &MetadataFetchError{ShuffleID: shuffleID, PartitionID: startPartition}
	}
	return blocks, nil
}

// convertMapStatuses groups [startPartition, endPartition) sizes by
// BlockManagerId. Fails (ok=false, with the index of the first nil slot)
// if any map slot is nil — an incomplete catalog can't be safely
// converted, even when the requested partition range only covers a subset
// of partitions.
func convertMapStatuses(statuses []*catalog.MapStatus, shuffleID int32, startPartition, endPartition int) ([]ExecutorBlocks, int, bool) {
	for mapID, status := range statuses {
		if status == nil {
			return nil, mapID, false
		}
	}

	order := make([]catalog.BlockManagerId, 0)
	grouped := make(map[catalog.BlockManagerId][]SizedBlock)

	for mapID, status := range statuses {
		for p := startPartition; p < endPartition; p++ {
			size := status.GetSizeForBlock(p)
			if size == 0 {
				continue
			}
			if _, seen := grouped[status.Location]; !seen {
				order = append(order, status.Location)
			}
			grouped[status.Location] = append(grouped[status.Location], SizedBlock{
				Block: BlockId{ShuffleID: shuffleID, MapID: mapID, ReduceID: p},
				Size:  size,
			})
		}
	}

	result := make([]ExecutorBlocks, 0, len(order))
	for _, loc := range order {
		result = append(result, ExecutorBlocks{Location: loc, Blocks: grouped[loc]})
	}
	return result, 0, true
}
