// Package streamserver implements the StreamChunkServer: registers ordered
// lazy sequences of buffers and serves them chunk-by-chunk to whichever
// single transport connection claims the stream, reclaiming outstanding
// buffers when that connection disconnects.
//
// Grounded on the teacher's runtime.ArtifactManager (registry of
// accumulator-like state keyed by a string id, guarded by one mutex,
// reconciled on completion) generalized from chunk *accumulation* to chunk
// *dispensing*, and on proxy.Selector's use of crypto/rand for an
// identifier seed.
package streamserver

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/yikf/shuffletrack/tlog"
)

// Buffer is one dispensed chunk of a stream: opaque payload bytes backed by
// a reference-counted external resource (a file segment, a pinned network
// buffer). Release must be idempotent-safe to call once per Buffer; callers
// get exactly one Buffer per getChunk/connectionTerminated release.
type Buffer interface {
	Bytes() []byte
	Release()
}

// BufferSequence is a lazy, ordered source of Buffers for one stream. Next
// returns ok=false once the sequence is drained; it must not be called
// again afterward.
type BufferSequence interface {
	Next() (buf Buffer, ok bool)
}

// Connection identifies a transport-level connection. Comparable with ==,
// so any comparable transport handle (net.Conn wrapper, connection ID
// integer) satisfies it.
type Connection any

// StreamState is the per-stream record: which lazy sequence it dispenses
// from, which connection (if any) is allowed to consume it, how far it's
// progressed, and how many chunks are currently in flight on the wire.
//
// nextExpectedChunkIndex is touched only by getChunk, and the stream
// contract is at-most-one consumer per stream, so it needs no lock of its
// own (spec §4.5's concurrency note). connection is set by
// registerChannel and read by checkAuthorization/connectionTerminated, so
// it's guarded by the server's registry mutex rather than its own.
// chunksInFlight is touched from transport callbacks concurrently with
// getChunk, so it's a plain atomic.
type StreamState struct {
	streamID   int64
	appID      string
	seq        BufferSequence
	connection Connection

	nextExpectedChunkIndex int64
	chunksInFlight         int64

	// peeked holds one buffer already pulled from seq in order to detect
	// drain-after-this-chunk without handing out the following chunk early.
	// hasPeeked distinguishes "peeked and seq is drained beyond it" from
	// "nothing peeked yet".
	peeked    Buffer
	hasPeeked bool
}

// StreamChunkServer is the registry of active streams.
type StreamChunkServer struct {
	mu      sync.Mutex
	streams map[int64]*StreamState
	nextID  int64
	logger  *tlog.Logger
}

// New constructs a StreamChunkServer. The first allocated streamId is a
// random 32-bit seed times 1000, so that distinct process runs are visually
// separable in logs — two runs' stream ids won't collide in a shared log
// stream even at a glance.
func New(logger *tlog.Logger) (*StreamChunkServer, error) {
	if logger == nil {
		logger = tlog.Noop()
	}
	seed, err := rand.Int(rand.Reader, big.NewInt(1<<32))
	if err != nil {
		return nil, fmt.Errorf("streamserver: seed stream id: %w", err)
	}
	return &StreamChunkServer{
		streams: make(map[int64]*StreamState),
		nextID:  seed.Int64() * 1000,
		logger:  logger,
	}, nil
}

// RegisterStream allocates a fresh streamId and stores a StreamState for
// the given lazy sequence. appID may be empty, meaning no authorization
// check applies to this stream.
func (s *StreamChunkServer) RegisterStream(appID string, seq BufferSequence) int64 {
	id := atomic.AddInt64(&s.nextID, 1)
	st := &StreamState{
		streamID: id,
		appID:    appID,
		seq:      seq,
	}
	s.mu.Lock()
	s.streams[id] = st
	s.mu.Unlock()
	return id
}

// RegisterChannel associates a transport connection with streamId. A
// stream holds at most one connection: a later call replaces the earlier
// association. GetChunk does not check which connection calls it.
func (s *StreamChunkServer) RegisterChannel(conn Connection, streamID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.streams[streamID]
	if !ok {
		return &UnknownStreamError{StreamID: streamID}
	}
	st.connection = conn
	return nil
}

// GetChunk requires chunkIndex == the stream's nextExpectedChunkIndex and
// the sequence not yet drained; otherwise fails with *OutOfOrderChunkError
// or *PastEndChunkError respectively. On success it advances the index and
// returns the next buffer from the lazy sequence. If that buffer drains
// the sequence, the stream is removed from the registry — the returned
// buffer remains valid; the transport releases it after sending.
func (s *StreamChunkServer) GetChunk(streamID, chunkIndex int64) (Buffer, error) {
	s.mu.Lock()
	st, ok := s.streams[streamID]
	s.mu.Unlock()
	if !ok {
		return nil, &PastEndChunkError{StreamID: streamID, ChunkIndex: chunkIndex}
	}

	if chunkIndex != st.nextExpectedChunkIndex {
		return nil, &OutOfOrderChunkError{StreamID: streamID, Expected: st.nextExpectedChunkIndex, Got: chunkIndex}
	}

	var buf Buffer
	if st.hasPeeked {
		buf = st.peeked
		st.peeked = nil
		st.hasPeeked = false
	} else {
		next, ok := st.seq.Next()
		if !ok {
			s.removeStream(streamID)
			return nil, &PastEndChunkError{StreamID: streamID, ChunkIndex: chunkIndex}
		}
		buf = next
	}
	st.nextExpectedChunkIndex++

	// Peek one chunk ahead so the stream can be deregistered the instant it
	// drains, per spec §4.5, without handing that following chunk out early.
	if next, ok := st.seq.Next(); ok {
		st.peeked = next
		st.hasPeeked = true
	} else {
		s.removeStream(streamID)
	}
	return buf, nil
}

// streamChunkID renders the "<streamId>_<chunkIndex>" textual form spec §6
// requires for openStream/chunkBeingSent/chunkSent's string-keyed paths.
func streamChunkID(streamID, chunkIndex int64) string {
	return fmt.Sprintf("%d_%d", streamID, chunkIndex)
}

// ParseStreamChunkID parses the "<streamId>_<chunkIndex>" textual form.
func ParseStreamChunkID(id string) (streamID, chunkIndex int64, err error) {
	parts := strings.SplitN(id, "_", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("streamserver: malformed stream chunk id %q", id)
	}
	streamID, err = strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("streamserver: malformed stream id in %q: %w", id, err)
	}
	chunkIndex, err = strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("streamserver: malformed chunk index in %q: %w", id, err)
	}
	return streamID, chunkIndex, nil
}

// OpenStream accepts the "streamId_chunkId" textual form and re-enters
// GetChunk.
func (s *StreamChunkServer) OpenStream(streamChunkID string) (Buffer, error) {
	streamID, chunkIndex, err := ParseStreamChunkID(streamChunkID)
	if err != nil {
		return nil, err
	}
	return s.GetChunk(streamID, chunkIndex)
}

// CheckAuthorization enforces spec §4.5's identity rule: if clientIdentity
// is non-empty, it must equal the stream's appID; otherwise fails with
// *UnauthorizedError. A stream registered with an empty appID (no identity
// requirement) or a caller with no identity both pass unconditionally.
func (s *StreamChunkServer) CheckAuthorization(clientIdentity string, streamID int64) error {
	s.mu.Lock()
	st, ok := s.streams[streamID]
	s.mu.Unlock()
	if !ok {
		return &UnknownStreamError{StreamID: streamID}
	}
	if clientIdentity == "" || st.appID == "" {
		return nil
	}
	if clientIdentity != st.appID {
		return &UnauthorizedError{StreamID: streamID, ClientIdentity: clientIdentity}
	}
	return nil
}

// ChunkBeingSent increments streamId's in-flight chunk count. Tolerates an
// unknown stream as a no-op, per spec §4.5.
func (s *StreamChunkServer) ChunkBeingSent(streamID int64) {
	s.mu.Lock()
	st := s.streams[streamID]
	s.mu.Unlock()
	if st != nil {
		atomic.AddInt64(&st.chunksInFlight, 1)
	}
}

// ChunkSent decrements streamId's in-flight chunk count. Tolerates an
// unknown stream as a no-op.
func (s *StreamChunkServer) ChunkSent(streamID int64) {
	s.mu.Lock()
	st := s.streams[streamID]
	s.mu.Unlock()
	if st != nil {
		atomic.AddInt64(&st.chunksInFlight, -1)
	}
}

// ChunksBeingTransferred sums chunksInFlight across every active stream.
func (s *StreamChunkServer) ChunksBeingTransferred() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total uint64
	for _, st := range s.streams {
		total += uint64(atomic.LoadInt64(&st.chunksInFlight))
	}
	return total
}

// ConnectionTerminated removes every stream associated with conn from the
// registry and releases every remaining buffer in each one's lazy
// sequence. Buffers are reference-counted external resources (file
// segments, network buffers); leaking them leaks file descriptors.
func (s *StreamChunkServer) ConnectionTerminated(conn Connection) {
	s.mu.Lock()
	var orphaned []*StreamState
	for id, st := range s.streams {
		if st.connection == conn {
			orphaned = append(orphaned, st)
			delete(s.streams, id)
		}
	}
	s.mu.Unlock()

	for _, st := range orphaned {
		drainAndRelease(st)
	}
}

// drainAndRelease releases every buffer the stream hasn't handed out yet:
// a pending peeked buffer, if any, plus the remainder of the lazy
// sequence.
func drainAndRelease(st *StreamState) {
	if st.hasPeeked {
		st.peeked.Release()
		st.peeked = nil
		st.hasPeeked = false
	}
	for {
		buf, ok := st.seq.Next()
		if !ok {
			return
		}
		buf.Release()
	}
}

func (s *StreamChunkServer) removeStream(streamID int64) {
	s.mu.Lock()
	delete(s.streams, streamID)
	s.mu.Unlock()
}

// StreamChunkIDFor is exported for callers (the transport layer) that need
// to construct the textual id after a successful GetChunk, mirroring
// OpenStream's inverse.
func StreamChunkIDFor(streamID, chunkIndex int64) string {
	return streamChunkID(streamID, chunkIndex)
}
