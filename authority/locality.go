package authority

import (
	"encoding/binary"
	"runtime"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/yikf/shuffletrack/catalog"
)

// Locality constants, spec.md §4.3/§6.
const (
	ShufflePrefMapThreshold    = 1000
	ShufflePrefReduceThreshold = 1000
	ReducerPrefLocsFraction    = 0.2
)

// MapOutputStatistics is the result of GetStatistics: total bytes per
// reduce partition, summed across every registered map output.
type MapOutputStatistics struct {
	TotalSize []int64
}

// GetStatistics sums, for shuffleID, the total byte size of each reduce
// partition across every map output. Holds the catalog's exclusion for the
// entire aggregation via WithMapStatuses, so statuses cannot mutate
// mid-aggregation. When numMaps*numReducers exceeds ParallelAggThreshold,
// the reducer-partition range is split into near-equal contiguous
// sub-ranges and summed concurrently, joined via sync.WaitGroup before
// returning — matching the teacher's runtime.Operator join-before-return
// discipline.
func (a *Authority) GetStatistics(shuffleID int32, numReducers int) (*MapOutputStatistics, error) {
	s := a.lookup(shuffleID)
	if s == nil {
		return nil, ErrUnknownShuffle
	}

	var totals []int64
	s.WithMapStatuses(func(statuses []*catalog.MapStatus) {
		totals = aggregateStatistics(statuses, numReducers, a.cfg.ParallelAggThreshold)
	})
	return &MapOutputStatistics{TotalSize: totals}, nil
}

func aggregateStatistics(statuses []*catalog.MapStatus, numReducers, threshold int) []int64 {
	totals := make([]int64, numReducers)
	work := len(statuses) * numReducers

	if threshold <= 0 || work <= threshold {
		sumRange(statuses, totals, 0, numReducers)
		return totals
	}

	parallelism := min(runtime.GOMAXPROCS(0), work/threshold+1)
	if parallelism < 1 {
		parallelism = 1
	}
	if parallelism > numReducers {
		parallelism = numReducers
	}

	chunk := (numReducers + parallelism - 1) / parallelism
	var wg sync.WaitGroup
	for start := 0; start < numReducers; start += chunk {
		end := min(start+chunk, numReducers)
		wg.Add(1)
		go func(start, end int) {
			defer wg.Done()
			sumRange(statuses, totals, start, end)
		}(start, end)
	}
	wg.Wait()
	return totals
}

// sumRange sums statuses[*].GetSizeForBlock(p) into totals[p] for
// p in [start, end). Each goroutine owns a disjoint sub-range of totals,
// so no synchronization is needed across goroutines.
func sumRange(statuses []*catalog.MapStatus, totals []int64, start, end int) {
	for _, status := range statuses {
		if status == nil {
			continue
		}
		for p := start; p < end; p++ {
			totals[p] += status.GetSizeForBlock(p)
		}
	}
}

// GetPreferredLocationsForShuffle implements spec §4.3: for jobs under
// both the map and reduce thresholds, delegate to
// GetLocationsWithLargestOutputs; otherwise return empty, since location
// computation is O(numMaps) per reducer and isn't worth it for huge jobs.
func (a *Authority) GetPreferredLocationsForShuffle(shuffleID int32, reducerID, numReducers int) []string {
	s := a.lookup(shuffleID)
	if s == nil {
		return nil
	}
	if s.NumMaps() >= ShufflePrefMapThreshold || numReducers >= ShufflePrefReduceThreshold {
		return nil
	}

	bmIDs := a.GetLocationsWithLargestOutputs(shuffleID, reducerID, numReducers, ReducerPrefLocsFraction)
	hosts := make([]string, len(bmIDs))
	for i, bm := range bmIDs {
		hosts[i] = bm.Host
	}
	return hosts
}

// GetLocationsWithLargestOutputs sums bytes for reducerID per
// BlockManagerId across all non-empty statuses, keyed by a compact xxhash
// of the BlockManagerId rather than its string form to avoid a string
// allocation per status in the hot aggregation path. Returns every
// BlockManagerId whose fraction of the total is >= fractionThreshold.
// Returns nil if shuffleID is unknown or no location meets the threshold.
func (a *Authority) GetLocationsWithLargestOutputs(shuffleID int32, reducerID, numReducers int, fractionThreshold float64) []catalog.BlockManagerId {
	s := a.lookup(shuffleID)
	if s == nil {
		return nil
	}
	if reducerID < 0 || reducerID >= numReducers {
		return nil
	}

	type aggregate struct {
		bm    catalog.BlockManagerId
		bytes int64
	}

	byHash := make(map[uint64]*aggregate)
	var total int64

	s.WithMapStatuses(func(statuses []*catalog.MapStatus) {
		for _, status := range statuses {
			if status == nil {
				continue
			}
			size := status.GetSizeForBlock(reducerID)
			if size == 0 {
				continue
			}
			h := hashBlockManagerId(status.Location)
			agg, ok := byHash[h]
			if !ok {
				agg = &aggregate{bm: status.Location}
				byHash[h] = agg
			}
			agg.bytes += size
			total += size
		}
	})

	if total == 0 {
		return nil
	}

	var result []catalog.BlockManagerId
	for _, agg := range byHash {
		if float64(agg.bytes)/float64(total) >= fractionThreshold {
			result = append(result, agg.bm)
		}
	}
	return result
}

func hashBlockManagerId(bm catalog.BlockManagerId) uint64 {
	h := xxhash.New()
	_, _ = h.WriteString(bm.ExecutorID)
	_, _ = h.WriteString(bm.Host)
	var portBuf [8]byte
	binary.LittleEndian.PutUint64(portBuf[:], uint64(bm.Port))
	_, _ = h.Write(portBuf[:])
	return h.Sum64()
}
