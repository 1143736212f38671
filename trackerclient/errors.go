package trackerclient

import (
	"errors"
	"fmt"
)

// Sentinel errors per spec.md §7's taxonomy, in the shape of the teacher's
// lode.StorageError sentinel table: callers use errors.Is against these,
// errors.As against the wrapping struct for (shuffleID, partitionID).
var (
	// ErrMetadataFetchFailed classifies any failure to obtain a coherent
	// catalog for a shuffle: RPC failure, decode failure, or a fetch that
	// completed without ever populating the cache.
	ErrMetadataFetchFailed = errors.New("trackerclient: metadata fetch failed")
	// ErrUnknownShuffle names the unregistered-shuffle case. Client does
	// not return it: an authority's unknown-shuffle error reaches callers
	// as the Err cause of a MetadataFetchError.
	ErrUnknownShuffle = errors.New("trackerclient: unknown shuffle")
)

// MetadataFetchError wraps ErrMetadataFetchFailed with the (shuffleID,
// partitionID) context spec.md §7 requires, mirroring the teacher's
// StorageError{Kind, Op, Path, Err} wrapping shape.
type MetadataFetchError struct {
	ShuffleID   int32
	PartitionID int
	Err         error
}

func (e *MetadataFetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("trackerclient: metadata fetch failed for shuffle %d partition %d: %v", e.ShuffleID, e.PartitionID, e.Err)
	}
	return fmt.Sprintf("trackerclient: metadata fetch failed for shuffle %d partition %d", e.ShuffleID, e.PartitionID)
}

func (e *MetadataFetchError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrMetadataFetchFailed
}

// Is reports whether target is ErrMetadataFetchFailed, so callers can use
// errors.Is(err, trackerclient.ErrMetadataFetchFailed) regardless of the
// wrapped cause.
func (e *MetadataFetchError) Is(target error) bool {
	return target == ErrMetadataFetchFailed
}
