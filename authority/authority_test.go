package authority

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yikf/shuffletrack/broadcast"
	"github.com/yikf/shuffletrack/catalog"
	"github.com/yikf/shuffletrack/metrics"
)

func bm(exec, host string, port int) catalog.BlockManagerId {
	return catalog.BlockManagerId{ExecutorID: exec, Host: host, Port: port}
}

func newTestAuthority(t *testing.T) *Authority {
	t.Helper()
	a := New(Config{DispatcherNumThreads: 2, MinSizeForBroadcast: 1 << 20}, broadcast.NewMemoryManager(), nil, metrics.NewCollector())
	ctx, cancel := context.WithCancel(context.Background())
	a.Start(ctx)
	t.Cleanup(cancel)
	return a
}

func seedS1(t *testing.T, a *Authority) {
	t.Helper()
	require.NoError(t, a.RegisterShuffle(7, 3))
	require.NoError(t, a.RegisterMapOutput(7, 0, catalog.NewCompressedMapStatus(bm("e0", "host-A", 1), []int64{10, 20, 30})))
	require.NoError(t, a.RegisterMapOutput(7, 1, catalog.NewCompressedMapStatus(bm("e1", "host-B", 1), []int64{5, 5, 5})))
	require.NoError(t, a.RegisterMapOutput(7, 2, catalog.NewCompressedMapStatus(bm("e0", "host-A", 1), []int64{0, 100, 0})))
}

// TestRegisterShuffle_DuplicateFails covers spec's AlreadyRegistered error.
func TestRegisterShuffle_DuplicateFails(t *testing.T) {
	a := newTestAuthority(t)
	require.NoError(t, a.RegisterShuffle(1, 2))
	err := a.RegisterShuffle(1, 2)
	assert.ErrorIs(t, err, ErrAlreadyRegistered)
}

// TestGetMapOutputStatuses_UnknownShuffle covers the Open Question
// decision: explicit UnknownShuffle reply rather than a timeout.
func TestGetMapOutputStatuses_UnknownShuffle(t *testing.T) {
	a := newTestAuthority(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := a.GetMapOutputStatuses(ctx, 999)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownShuffle)
}

func TestGetMapOutputStatuses_ServesRegisteredCatalog(t *testing.T) {
	a := newTestAuthority(t)
	seedS1(t, a)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	blob, err := a.GetMapOutputStatuses(ctx, 7)
	require.NoError(t, err)
	assert.NotEmpty(t, blob)
}

// TestStatistics_S1BasicRoundtrip covers seed scenario S1.
func TestStatistics_S1BasicRoundtrip(t *testing.T) {
	a := newTestAuthority(t)
	seedS1(t, a)

	stats, err := a.GetStatistics(7, 3)
	require.NoError(t, err)
	require.Len(t, stats.TotalSize, 3)
	assert.Equal(t, int64(10), stats.TotalSize[0])
	assert.Equal(t, int64(125), stats.TotalSize[1]) // 20+5+100
	assert.Equal(t, int64(30), stats.TotalSize[2])
}

// TestLocality_S3LocalityGate covers seed scenario S3.
func TestLocality_S3LocalityGate(t *testing.T) {
	a := newTestAuthority(t)
	seedS1(t, a)

	hosts := a.GetPreferredLocationsForShuffle(7, 1, 3)
	require.Len(t, hosts, 1)
	assert.Equal(t, "host-A", hosts[0])
}

// TestLocality_AboveThresholdReturnsEmpty covers the O(numMaps) escape
// hatch for huge jobs.
func TestLocality_AboveThresholdReturnsEmpty(t *testing.T) {
	a := newTestAuthority(t)
	require.NoError(t, a.RegisterShuffle(1, 1))
	require.NoError(t, a.RegisterMapOutput(1, 0, catalog.NewCompressedMapStatus(bm("e0", "h", 1), []int64{100})))

	hosts := a.GetPreferredLocationsForShuffle(1, 0, ShufflePrefReduceThreshold)
	assert.Empty(t, hosts)
}

// TestTopologySweep_S5 covers seed scenario S5.
func TestTopologySweep_S5(t *testing.T) {
	a := newTestAuthority(t)
	require.NoError(t, a.RegisterShuffle(1, 2))
	require.NoError(t, a.RegisterShuffle(2, 2))
	require.NoError(t, a.RegisterMapOutput(1, 0, catalog.NewCompressedMapStatus(bm("e0", "host-X", 1), []int64{1})))
	require.NoError(t, a.RegisterMapOutput(1, 1, catalog.NewCompressedMapStatus(bm("e1", "host-Y", 1), []int64{1})))
	require.NoError(t, a.RegisterMapOutput(2, 0, catalog.NewCompressedMapStatus(bm("e2", "host-X", 1), []int64{1})))
	require.NoError(t, a.RegisterMapOutput(2, 1, catalog.NewCompressedMapStatus(bm("e3", "host-Y", 1), []int64{1})))

	for i := uint64(0); i < 3; i++ {
		a.incrementEpoch()
	}
	require.Equal(t, uint64(3), a.GetEpoch())

	a.RemoveOutputsOnHost("host-X")

	assert.Equal(t, 1, a.GetNumAvailableOutputs(1))
	assert.Equal(t, 1, a.GetNumAvailableOutputs(2))
	assert.Equal(t, uint64(4), a.GetEpoch())
}

// TestUnregisterShuffle_DestroysBroadcastHandle covers the Open Question
// decision that cache invalidation still runs even though in-array
// statuses aren't cleared first.
func TestUnregisterShuffle_DestroysBroadcastHandle(t *testing.T) {
	mgr := broadcast.NewMemoryManager()
	a := New(Config{DispatcherNumThreads: 1, MinSizeForBroadcast: 1}, mgr, nil, metrics.NewCollector())
	ctx, cancel := context.WithCancel(context.Background())
	a.Start(ctx)
	defer cancel()

	require.NoError(t, a.RegisterShuffle(1, 1))
	require.NoError(t, a.RegisterMapOutput(1, 0, catalog.NewCompressedMapStatus(bm("e0", "h", 1), []int64{1000})))

	reqCtx, reqCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer reqCancel()
	_, err := a.GetMapOutputStatuses(reqCtx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, mgr.Len())

	a.UnregisterShuffle(1)
	assert.Equal(t, 0, mgr.Len())
	assert.False(t, a.ContainsShuffle(1))
}

// TestDispatcher_PoisonPillCascadesShutdown exercises Stop()'s
// re-offering discipline across multiple consumers.
func TestDispatcher_PoisonPillCascadesShutdown(t *testing.T) {
	a := New(Config{DispatcherNumThreads: 4}, broadcast.NewMemoryManager(), nil, metrics.NewCollector())
	ctx := context.Background()
	a.Start(ctx)

	done := make(chan struct{})
	go func() {
		a.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop() did not cascade shutdown across the dispatcher pool")
	}
}

// TestDispatcher_StopMapOutputTrackerRepliesTrue covers spec.md §6's
// StopMapOutputTracker -> reply: true RPC message, answered by the live
// dispatcher pool rather than only as an internal Stop() detail.
func TestDispatcher_StopMapOutputTrackerRepliesTrue(t *testing.T) {
	a := newTestAuthority(t)

	replyCh := make(chan reply, 1)
	a.queue <- PendingRequest{ShuffleID: StopMapOutputTrackerShuffleID, Reply: replyCh}

	select {
	case r := <-replyCh:
		require.NoError(t, r.err)
		assert.Equal(t, []byte{1}, r.bytes)
	case <-time.After(2 * time.Second):
		t.Fatal("StopMapOutputTracker request was never answered")
	}
}

// TestStop_ReleasesCatalogs covers spec.md §5's "releases all catalogs":
// Stop must clear the registered ShuffleStatus map so nothing outlives
// the authority that was serving it.
func TestStop_ReleasesCatalogs(t *testing.T) {
	a := New(Config{DispatcherNumThreads: 2}, broadcast.NewMemoryManager(), nil, metrics.NewCollector())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a.Start(ctx)

	seedS1(t, a)
	require.True(t, a.ContainsShuffle(7))

	a.Stop()

	a.statusesMu.Lock()
	n := len(a.statuses)
	a.statusesMu.Unlock()
	assert.Equal(t, 0, n, "Stop() should release every registered catalog")
}

// TestDispatcher_ConcurrentRequestsAllServed exercises many concurrent
// callers against a small dispatcher pool.
func TestDispatcher_ConcurrentRequestsAllServed(t *testing.T) {
	a := newTestAuthority(t)
	seedS1(t, a)

	var wg sync.WaitGroup
	errs := make([]error, 20)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			_, err := a.GetMapOutputStatuses(ctx, 7)
			errs[i] = err
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
}

func TestFindMissingPartitions_UnknownShuffleReturnsNil(t *testing.T) {
	a := newTestAuthority(t)
	assert.Nil(t, a.FindMissingPartitions(42))
}

func TestRemoveOutputsOnExecutor(t *testing.T) {
	a := newTestAuthority(t)
	require.NoError(t, a.RegisterShuffle(1, 2))
	require.NoError(t, a.RegisterMapOutput(1, 0, catalog.NewCompressedMapStatus(bm("e0", "h", 1), []int64{1})))
	require.NoError(t, a.RegisterMapOutput(1, 1, catalog.NewCompressedMapStatus(bm("e1", "h", 1), []int64{1})))

	a.RemoveOutputsOnExecutor("e0")
	missing := a.FindMissingPartitions(1)
	sort.Ints(missing)
	assert.Equal(t, []int{0}, missing)
}

func TestUnregisterMapOutput_UnknownShuffleErrors(t *testing.T) {
	a := newTestAuthority(t)
	err := a.UnregisterMapOutput(1, 0, bm("e0", "h", 1))
	assert.True(t, errors.Is(err, ErrUnknownShuffle))
}
