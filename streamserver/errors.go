package streamserver

import "fmt"

// OutOfOrderChunkError reports a getChunk call whose chunkIndex didn't
// match the stream's next expected index.
type OutOfOrderChunkError struct {
	StreamID int64
	Expected int64
	Got      int64
}

func (e *OutOfOrderChunkError) Error() string {
	return fmt.Sprintf("streamserver: stream %d: out of order chunk (expected %d, got %d)", e.StreamID, e.Expected, e.Got)
}

// PastEndChunkError reports a getChunk/openStream call against a stream
// that no longer exists in the registry: either it was never registered,
// or its lazy sequence has already drained.
type PastEndChunkError struct {
	StreamID   int64
	ChunkIndex int64
}

func (e *PastEndChunkError) Error() string {
	return fmt.Sprintf("streamserver: stream %d: chunk %d requested past end", e.StreamID, e.ChunkIndex)
}

// UnauthorizedError reports a checkAuthorization call whose client
// identity didn't match the stream's registered appID.
type UnauthorizedError struct {
	StreamID       int64
	ClientIdentity string
}

func (e *UnauthorizedError) Error() string {
	return fmt.Sprintf("streamserver: stream %d: client %q unauthorized", e.StreamID, e.ClientIdentity)
}

// UnknownStreamError reports an operation against a streamId absent from
// the registry (registerChannel, checkAuthorization — getChunk instead
// reports PastEndChunkError for an absent id, per spec §4.5's wording that
// distinguishes "never existed or already drained" from the other
// operations' own semantics).
type UnknownStreamError struct {
	StreamID int64
}

func (e *UnknownStreamError) Error() string {
	return fmt.Sprintf("streamserver: unknown stream %d", e.StreamID)
}
