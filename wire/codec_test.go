package wire

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yikf/shuffletrack/broadcast"
	"github.com/yikf/shuffletrack/catalog"
)

func statusFixture() []*catalog.MapStatus {
	loc0 := catalog.BlockManagerId{ExecutorID: "e0", Host: "host-a", Port: 7077}
	loc1 := catalog.BlockManagerId{ExecutorID: "e1", Host: "host-b", Port: 7077}
	return []*catalog.MapStatus{
		catalog.NewCompressedMapStatus(loc0, []int64{10, 20, 30}),
		catalog.NewCompressedMapStatus(loc1, []int64{5, 5, 5}),
		nil, // unregistered slot
	}
}

func TestRoundTrip_DirectForm(t *testing.T) {
	ctx := context.Background()
	s := NewCatalogSerializer(broadcast.NewMemoryManager(), 512*1024, nil)

	blob, handle, err := s.SerializeMapStatuses(ctx, statusFixture())
	require.NoError(t, err)
	assert.Nil(t, handle)
	require.NotEmpty(t, blob)
	assert.Equal(t, TagDirect, blob[0])

	decoded, err := s.DeserializeMapStatuses(ctx, blob)
	require.NoError(t, err)
	require.Len(t, decoded, 3)
	assert.Nil(t, decoded[2])
	assert.Equal(t, int64(20), decoded[0].GetSizeForBlock(1))
	assert.Equal(t, int64(5), decoded[1].GetSizeForBlock(2))
}

func TestRoundTrip_BroadcastForm(t *testing.T) {
	ctx := context.Background()
	mgr := broadcast.NewMemoryManager()
	// Threshold of 1 forces every non-empty direct blob into broadcast form.
	s := NewCatalogSerializer(mgr, 1, nil)

	blob, handle, err := s.SerializeMapStatuses(ctx, statusFixture())
	require.NoError(t, err)
	require.NotNil(t, handle)
	require.NotEmpty(t, blob)
	assert.Equal(t, TagBroadcast, blob[0])
	assert.Equal(t, 1, mgr.Len())

	decoded, err := s.DeserializeMapStatuses(ctx, blob)
	require.NoError(t, err)
	require.Len(t, decoded, 3)
	assert.Equal(t, int64(30), decoded[0].GetSizeForBlock(2))

	handle.Destroy()
	assert.Equal(t, 0, mgr.Len())
}

func TestDeserialize_UnknownTagIsProtocolError(t *testing.T) {
	s := NewCatalogSerializer(broadcast.NewMemoryManager(), 512*1024, nil)
	_, err := s.DeserializeMapStatuses(context.Background(), []byte{0x42, 1, 2, 3})
	assert.ErrorIs(t, err, ErrProtocol)
}

func TestDeserialize_EmptyBlobIsProtocolError(t *testing.T) {
	s := NewCatalogSerializer(broadcast.NewMemoryManager(), 512*1024, nil)
	_, err := s.DeserializeMapStatuses(context.Background(), nil)
	assert.ErrorIs(t, err, ErrProtocol)
}

func TestRoundTrip_HighlyCompressedVariantPreserved(t *testing.T) {
	ctx := context.Background()
	s := NewCatalogSerializer(broadcast.NewMemoryManager(), 512*1024, nil)

	loc := catalog.BlockManagerId{ExecutorID: "e0", Host: "h", Port: 1}
	sizes := make([]int64, 4000)
	for i := range sizes {
		if i%3 == 0 {
			sizes[i] = 100
		}
	}
	original := []*catalog.MapStatus{catalog.NewMapStatus(loc, sizes)}
	require.Equal(t, catalog.HighlyCompressed, original[0].Kind)

	blob, _, err := s.SerializeMapStatuses(ctx, original)
	require.NoError(t, err)

	decoded, err := s.DeserializeMapStatuses(ctx, blob)
	require.NoError(t, err)
	require.Len(t, decoded, 1)
	assert.Equal(t, catalog.HighlyCompressed, decoded[0].Kind)
	assert.Equal(t, int64(100), decoded[0].GetSizeForBlock(0))
	assert.Equal(t, int64(0), decoded[0].GetSizeForBlock(1))
}

func TestSerialize_BroadcastPublishFailureFallsBackToDirect(t *testing.T) {
	ctx := context.Background()
	s := NewCatalogSerializer(failingManager{}, 1, nil)

	blob, handle, err := s.SerializeMapStatuses(ctx, statusFixture())
	require.NoError(t, err)
	assert.Nil(t, handle)
	assert.Equal(t, TagDirect, blob[0])
}

type failingManager struct{}

func (failingManager) New(ctx context.Context, data []byte, isLocal bool) (broadcast.Handle, error) {
	return nil, assertErr
}

func (failingManager) Get(ctx context.Context, id string) ([]byte, error) {
	return nil, assertErr
}

var assertErr = assertError("broadcast unavailable")

type assertError string

func (e assertError) Error() string { return string(e) }
