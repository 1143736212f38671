package main

import (
	"github.com/yikf/shuffletrack/authority"
	"github.com/yikf/shuffletrack/catalog"
)

// demoShuffleID is the shuffle registered by seedDemoShuffle, used by
// stats/monitor when no live driver has registered real map output yet.
const demoShuffleID int32 = 0

// seedDemoShuffle registers the three-map fixture from spec.md §8's S1
// seed scenario: two maps on bm-A, one on bm-B, with a mix of zero and
// non-zero partition sizes. It exists so `trackerd stats`/`trackerd
// monitor` have something to show without a separate worker process
// feeding the authority over a real network transport.
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
