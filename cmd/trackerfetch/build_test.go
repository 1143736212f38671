package main

import (
	"context"
	"testing"
)

func TestBuildClient_SizesRoundTrip(t *testing.T) {
	client, a, err := buildClient()
	if err != nil {
		t.Fatalf("buildClient: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a.Start(ctx)
	defer a.Stop()

	blocks, err := client.GetMapSizesByExecutorId(ctx, demoShuffleID, 0, 3)
	if err != nil {
		t.Fatalf("GetMapSizesByExecutorId: %v", err)
	}

	var total int
	for _, eb := range blocks {
		total += len(eb.Blocks)
	}
	if total == 0 {
		t.Fatal("expected at least one non-zero-sized block across the demo fixture")
	}
}

func TestEncodeDecodeShuffleIDRequest_RoundTrips(t *testing.T) {
	for _, id := range []int32{0, 1, 7, -99, 1 << 20} {
		got, err := decodeShuffleIDRequest(encodeShuffleIDRequest(id))
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if got != id {
			t.Errorf("roundtrip(%d) = %d", id, got)
		}
	}
}

func TestDecodeShuffleIDRequest_RejectsMalformed(t *testing.T) {
	if _, err := decodeShuffleIDRequest([]byte{1, 2, 3}); err == nil {
		t.Fatal("expected error for short request")
	}
}
