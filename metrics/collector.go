// Package metrics provides observability counters for the tracking
// subsystem. The Collector accumulates counters for a running authority or
// client instance; it is a leaf package with no internal dependencies.
//
// Grounded on the teacher's metrics.Collector: a mutex-guarded counter
// struct with nil-receiver-safe increment methods and an immutable
// Snapshot(), generalized from per-run extraction metrics to per-instance
// dispatcher/cache metrics.
package metrics

import "sync"

// Snapshot is an immutable point-in-time view of a Collector's counters.
// Safe to read concurrently after creation.
type Snapshot struct {
	// Dispatcher (authority side)
	RequestsServed    int64
	EpochBumps        int64
	BroadcastSwitches int64

	// Cache coalescing (client side)
	CacheHits         int64
	CacheMisses       int64
	CoalescedFetches  int64
	MetadataFetchFail int64

	// DispatcherQueueLen is a live reading (not an accumulated counter),
	// stamped in by the caller from len(authority's request channel) since
	// this leaf package does not import package authority.
	DispatcherQueueLen int64
}

// Collector accumulates counters. Thread-safe via sync.Mutex. All
// increment methods are nil-receiver safe, so a component constructed
// without a collector (e.g. in a unit test) can call them unconditionally.
type Collector struct {
	mu sync.Mutex

	requestsServed    int64
	epochBumps        int64
	broadcastSwitches int64

	cacheHits         int64
	cacheMisses       int64
	coalescedFetches  int64
	metadataFetchFail int64
}

// NewCollector creates an empty Collector.
func NewCollector() *Collector {
	return &Collector{}
}

// IncRequestsServed records one dispatcher reply sent.
func (c *Collector) IncRequestsServed() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.requestsServed++
	c.mu.Unlock()
}

// IncEpochBump records one epoch increment.
func (c *Collector) IncEpochBump() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.epochBumps++
	c.mu.Unlock()
}

// IncBroadcastSwitch records one serialized catalog that switched to
// broadcast delivery.
func (c *Collector) IncBroadcastSwitch() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.broadcastSwitches++
	c.mu.Unlock()
}

// IncCacheHit records a client-side getStatuses fast-path hit.
func (c *Collector) IncCacheHit() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.cacheHits++
	c.mu.Unlock()
}

// IncCacheMiss records a client-side getStatuses cold lookup.
func (c *Collector) IncCacheMiss() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.cacheMisses++
	c.mu.Unlock()
}

// IncCoalescedFetch records one caller elected to perform the RPC fetch on
// behalf of every concurrent waiter for the same shuffleId.
func (c *Collector) IncCoalescedFetch() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.coalescedFetches++
	c.mu.Unlock()
}

// IncMetadataFetchFailure records one MetadataFetchFailed error surfaced
// to a client caller.
func (c *Collector) IncMetadataFetchFailure() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.metadataFetchFail++
	c.mu.Unlock()
}

// Snapshot returns an immutable copy of the current counters, with
// DispatcherQueueLen unset. Use SnapshotWithQueueLen from a caller that
// holds the live dispatcher queue.
func (c *Collector) Snapshot() Snapshot {
	return c.SnapshotWithQueueLen(0)
}

// SnapshotWithQueueLen returns an immutable copy of the current counters,
// stamping in the supplied live dispatcher queue length.
func (c *Collector) SnapshotWithQueueLen(queueLen int64) Snapshot {
	if c == nil {
		return Snapshot{DispatcherQueueLen: queueLen}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		RequestsServed:     c.requestsServed,
		EpochBumps:         c.epochBumps,
		BroadcastSwitches:  c.broadcastSwitches,
		CacheHits:          c.cacheHits,
		CacheMisses:        c.cacheMisses,
		CoalescedFetches:   c.coalescedFetches,
		MetadataFetchFail:  c.metadataFetchFail,
		DispatcherQueueLen: queueLen,
	}
}
