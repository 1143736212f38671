package catalog

import (
	"errors"
	"sync"
)

// ErrAlreadyRegistered is returned by registries (package authority) when a
// shuffleId is registered twice; kept here so callers constructing a
// ShuffleStatus directly can use the same sentinel.
var ErrAlreadyRegistered = errors.New("shuffle already registered")

// SerializedForm is the cached, already-framed wire form of a catalog's map
// statuses, produced by package wire's CatalogSerializer. ShuffleStatus
// treats it opaquely: it only needs to know whether it has one, hand it
// back unchanged, and clear it on mutation.
type SerializedForm struct {
	Bytes []byte
}

// BroadcastHandle is the subset of broadcast.Handle that ShuffleStatus
// needs: an identity to serialize into the outer BROADCAST frame, and a
// non-blocking destroy. Declared here (rather than importing package
// broadcast) to keep catalog free of a dependency on the distribution
// layer. broadcast.Handle's Destroy takes a context and returns an error,
// so package wire wraps it in an adapter (catalogHandle) to satisfy this
// interface.
type BroadcastHandle interface {
	ID() string
	// Destroy releases the broadcast artifact. Must not block the caller
	// for long and must not propagate errors into the catalog's mutating
	// path — implementations should log-and-swallow internally or the
	// caller here does it for them.
	Destroy()
}

// ShuffleStatus is the per-stage catalog: one slot per map-partition id,
// holding that map task's MapStatus once registered. All mutation and
// cache access for a single ShuffleStatus is serialized by mu.
type ShuffleStatus struct {
	ShuffleID int32

	mu                  sync.Mutex
	mapStatuses         []*MapStatus
	numAvailableOutputs int
	cachedSerialized    *SerializedForm
	cachedBroadcast     BroadcastHandle
}

// NewShuffleStatus creates a catalog for a stage with numMaps map tasks.
// All slots start empty.
func NewShuffleStatus(shuffleID int32, numMaps int) *ShuffleStatus {
	return &ShuffleStatus{
		ShuffleID:   shuffleID,
		mapStatuses: make([]*MapStatus, numMaps),
	}
}

// NumMaps returns the fixed slot count this catalog was created with.
func (s *ShuffleStatus) NumMaps() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.mapStatuses)
}

// AddMapOutput replaces the slot for mapID. If the slot was previously
// empty, numAvailableOutputs is incremented. Always invalidates both
// caches, since the registered catalog's serialized form is now stale.
func (s *ShuffleStatus) AddMapOutput(mapID int, status *MapStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if mapID < 0 || mapID >= len(s.mapStatuses) {
		return
	}
	if s.mapStatuses[mapID] == nil {
		s.numAvailableOutputs++
	}
	s.mapStatuses[mapID] = status
	s.invalidateLocked()
}

// RemoveMapOutput empties the slot for mapID, but only if its current
// BlockManagerId equals bmAddress — this is a no-op under any other
// condition, including a concurrent re-registration at a different host,
// so a stale "remove on host X" can never clobber a fresher registration.
func (s *ShuffleStatus) RemoveMapOutput(mapID int, bmAddress BlockManagerId) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if mapID < 0 || mapID >= len(s.mapStatuses) {
		return
	}
	cur := s.mapStatuses[mapID]
	if cur == nil || cur.Location != bmAddress {
		return
	}
	s.mapStatuses[mapID] = nil
	s.numAvailableOutputs--
	s.invalidateLocked()
}

// RemoveOutputsByFilter clears every slot whose BlockManagerId satisfies
// predicate. Invalidates the caches if, and only if, at least one slot was
// cleared.
func (s *ShuffleStatus) RemoveOutputsByFilter(predicate func(BlockManagerId) bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := false
	for i, status := range s.mapStatuses {
		if status == nil {
			continue
		}
		if predicate(status.Location) {
			s.mapStatuses[i] = nil
			s.numAvailableOutputs--
			removed = true
		}
	}
	if removed {
		s.invalidateLocked()
	}
}

// RemoveOutputsOnHost clears every slot whose output was produced on host.
func (s *ShuffleStatus) RemoveOutputsOnHost(host string) {
	s.RemoveOutputsByFilter(func(b BlockManagerId) bool { return b.Host == host })
}

// RemoveOutputsOnExecutor clears every slot whose output was produced by
// the given executor.
func (s *ShuffleStatus) RemoveOutputsOnExecutor(execID string) {
	s.RemoveOutputsByFilter(func(b BlockManagerId) bool { return b.ExecutorID == execID })
}

// NumAvailableOutputs returns the count of non-empty slots.
func (s *ShuffleStatus) NumAvailableOutputs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.numAvailableOutputs
}

// FindMissingPartitions returns the map-partition ids whose slot is still
// empty. len(result) == numMaps - numAvailableOutputs always holds.
func (s *ShuffleStatus) FindMissingPartitions() []int {
	s.mu.Lock()
	defer s.mu.Unlock()

	var missing []int
	for i, status := range s.mapStatuses {
		if status == nil {
			missing = append(missing, i)
		}
	}
	if len(missing) != len(s.mapStatuses)-s.numAvailableOutputs {
		panic("catalog: findMissingPartitions count diverged from numAvailableOutputs invariant")
	}
	return missing
}

// WithMapStatuses executes fn against the internal slot array while
// holding this catalog's exclusion. fn must treat the slice as read-only:
// it is a live view, not a copy, and mutating it would bypass the cache
// invalidation discipline every other mutator goes through.
func (s *ShuffleStatus) WithMapStatuses(fn func([]*MapStatus)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.mapStatuses)
}

// SerializedMapStatus returns the cached serialized form if present, or
// computes it via compute, caches it, and returns it. Under contention,
// compute is called at most once while the cache is empty — all callers
// hold s.mu for the duration of the call (including compute's own work),
// which is safe here because compute performs no I/O beyond gzip/msgpack
// encoding of data already resident in this catalog, and spec-mandated
// single-computation is simplest to guarantee by holding the same lock
// mutation uses.
//
// compute is supplied by package wire (CatalogSerializer.SerializeMapStatuses)
// so that package catalog does not need to import the wire format
// directly; it returns the outer wire bytes and, if the direct form
// exceeded the broadcast threshold, a broadcast handle to retain.
func (s *ShuffleStatus) SerializedMapStatus(compute func([]*MapStatus) ([]byte, BroadcastHandle, error)) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cachedSerialized != nil {
		return s.cachedSerialized.Bytes, nil
	}

	bytes, handle, err := compute(s.mapStatuses)
	if err != nil {
		return nil, err
	}
	s.cachedSerialized = &SerializedForm{Bytes: bytes}
	s.cachedBroadcast = handle
	return bytes, nil
}

// InvalidateSerializedMapOutputStatusCache clears the cached serialized
// form. If a broadcast handle is pinned, it is destroyed with a
// non-blocking, error-swallowing call — broadcast destruction RPCs to dead
// workers must never cascade failure into the catalog's mutating path.
func (s *ShuffleStatus) InvalidateSerializedMapOutputStatusCache() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invalidateLocked()
}

// invalidateLocked is the invalidation body; caller must hold s.mu.
func (s *ShuffleStatus) invalidateLocked() {
	s.cachedSerialized = nil
	if s.cachedBroadcast != nil {
		handle := s.cachedBroadcast
		s.cachedBroadcast = nil
		// Destroy is documented non-blocking and error-swallowing; call it
		// outside no extra goroutine is needed, but guard against a
		// misbehaving implementation panicking mid-invalidation anyway.
		func() {
			defer func() { _ = recover() }()
			handle.Destroy()
		}()
	}
}
