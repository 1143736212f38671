package catalog

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bm(exec, host string, port int) BlockManagerId {
	return BlockManagerId{ExecutorID: exec, Host: host, Port: port}
}

func TestAddMapOutput_TracksNumAvailableOutputs(t *testing.T) {
	s := NewShuffleStatus(7, 3)
	require.Equal(t, 0, s.NumAvailableOutputs())

	s.AddMapOutput(0, NewCompressedMapStatus(bm("e0", "host-a", 1), []int64{10, 20, 30}))
	assert.Equal(t, 1, s.NumAvailableOutputs())

	// Re-registering the same mapId must not double-count (invariant 1).
	s.AddMapOutput(0, NewCompressedMapStatus(bm("e0", "host-a", 1), []int64{1, 2, 3}))
	assert.Equal(t, 1, s.NumAvailableOutputs())

	s.AddMapOutput(1, NewCompressedMapStatus(bm("e1", "host-b", 1), []int64{5, 5, 5}))
	assert.Equal(t, 2, s.NumAvailableOutputs())
}

func TestRemoveMapOutput_NoopOnAddressMismatch(t *testing.T) {
	s := NewShuffleStatus(1, 2)
	loc := bm("e0", "host-a", 1)
	s.AddMapOutput(0, NewCompressedMapStatus(loc, []int64{1, 2}))
	require.Equal(t, 1, s.NumAvailableOutputs())

	// Invariant 4: remove with a mismatched address is a no-op.
	s.RemoveMapOutput(0, bm("e0", "host-b", 1))
	assert.Equal(t, 1, s.NumAvailableOutputs())

	s.RemoveMapOutput(0, loc)
	assert.Equal(t, 0, s.NumAvailableOutputs())
}

func TestRemoveMapOutput_StaleRemoveDoesNotClobberReRegistration(t *testing.T) {
	s := NewShuffleStatus(1, 1)
	hostX := bm("e0", "host-X", 1)
	hostY := bm("e0", "host-Y", 1)

	s.AddMapOutput(0, NewCompressedMapStatus(hostX, []int64{1}))
	s.AddMapOutput(0, NewCompressedMapStatus(hostY, []int64{2})) // re-registration wins

	// A stale remove targeting the old host must not touch the new registration.
	s.RemoveMapOutput(0, hostX)
	assert.Equal(t, 1, s.NumAvailableOutputs())
}

func TestFindMissingPartitions(t *testing.T) {
	s := NewShuffleStatus(1, 3)
	s.AddMapOutput(0, NewCompressedMapStatus(bm("e0", "h", 1), []int64{1}))
	s.AddMapOutput(2, NewCompressedMapStatus(bm("e2", "h", 1), []int64{1}))

	missing := s.FindMissingPartitions()
	assert.Equal(t, []int{1}, missing)
	assert.Len(t, missing, 3-s.NumAvailableOutputs())
}

func TestRemoveOutputsOnHost(t *testing.T) {
	s := NewShuffleStatus(1, 3)
	s.AddMapOutput(0, NewCompressedMapStatus(bm("e0", "host-X", 1), []int64{1}))
	s.AddMapOutput(1, NewCompressedMapStatus(bm("e1", "host-Y", 1), []int64{1}))
	s.AddMapOutput(2, NewCompressedMapStatus(bm("e2", "host-X", 1), []int64{1}))

	s.RemoveOutputsOnHost("host-X")

	assert.Equal(t, 1, s.NumAvailableOutputs())
	missing := s.FindMissingPartitions()
	assert.ElementsMatch(t, []int{0, 2}, missing)
}

// fakeHandle is a minimal BroadcastHandle for cache-invalidation tests.
type fakeHandle struct {
	id       string
	destroys *int64
}

func (f *fakeHandle) ID() string { return f.id }
func (f *fakeHandle) Destroy()   { atomic.AddInt64(f.destroys, 1) }

func TestMutation_AlwaysClearsBothCaches(t *testing.T) {
	s := NewShuffleStatus(1, 1)
	s.AddMapOutput(0, NewCompressedMapStatus(bm("e0", "h", 1), []int64{1}))

	var destroys int64
	handle := &fakeHandle{id: "b1", destroys: &destroys}

	_, err := s.SerializedMapStatus(func(ms []*MapStatus) ([]byte, BroadcastHandle, error) {
		return []byte("cached"), handle, nil
	})
	require.NoError(t, err)

	// Any mutation must clear cachedSerialized and destroy cachedBroadcast.
	s.AddMapOutput(0, NewCompressedMapStatus(bm("e0", "h2", 1), []int64{2}))
	assert.Equal(t, int64(1), atomic.LoadInt64(&destroys))

	// Cache must actually be empty: a second SerializedMapStatus call
	// recomputes rather than returning the destroyed handle's bytes.
	var calls int64
	_, err = s.SerializedMapStatus(func(ms []*MapStatus) ([]byte, BroadcastHandle, error) {
		atomic.AddInt64(&calls, 1)
		return []byte("recomputed"), nil, nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), atomic.LoadInt64(&calls))
}

func TestSerializedMapStatus_ComputesAtMostOnceUnderContention(t *testing.T) {
	s := NewShuffleStatus(1, 1)
	s.AddMapOutput(0, NewCompressedMapStatus(bm("e0", "h", 1), []int64{1}))

	var computeCalls int64
	compute := func(ms []*MapStatus) ([]byte, BroadcastHandle, error) {
		atomic.AddInt64(&computeCalls, 1)
		return []byte("x"), nil, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.SerializedMapStatus(compute)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	// ShuffleStatus's exclusion serializes all 50 callers, so by the time
	// any of them returns the cache is already populated and every other
	// caller observes it instead of recomputing.
	assert.Equal(t, int64(1), atomic.LoadInt64(&computeCalls))
}

func TestInvalidate_DestroysPinnedHandleExactlyOnce(t *testing.T) {
	s := NewShuffleStatus(1, 1)
	var destroys int64
	handle := &fakeHandle{id: "b1", destroys: &destroys}

	_, err := s.SerializedMapStatus(func(ms []*MapStatus) ([]byte, BroadcastHandle, error) {
		return []byte("x"), handle, nil
	})
	require.NoError(t, err)

	s.InvalidateSerializedMapOutputStatusCache()
	assert.Equal(t, int64(1), atomic.LoadInt64(&destroys))

	// Invalidating again with nothing pinned must not panic or double-destroy.
	s.InvalidateSerializedMapOutputStatusCache()
	assert.Equal(t, int64(1), atomic.LoadInt64(&destroys))
}
