// Package wire implements the CatalogSerializer: the tag+gzip+msgpack wire
// format a ShuffleStatus's map outputs are encoded into for delivery to
// workers, and the adaptive direct/broadcast switch described in spec §4.2.
//
// Grounded on the teacher's ipc/frame.go tag-byte framing convention,
// adapted from a fixed two-field RPC frame to a tag byte followed by a
// compressed, variant-tagged catalog payload (no length prefix).
package wire

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/yikf/shuffletrack/broadcast"
	"github.com/yikf/shuffletrack/catalog"
	"github.com/yikf/shuffletrack/tlog"
)

// Tag values framing every wire blob's first byte.
const (
	TagDirect    byte = 0x00
	TagBroadcast byte = 0x01
)

// ErrProtocol is returned when a blob's tag byte is neither TagDirect nor
// TagBroadcast, or the payload doesn't parse under its claimed tag.
var ErrProtocol = errors.New("wire: protocol error")

// wireMapStatus is the on-wire shape of a catalog.MapStatus. Field names are
// short: this struct is gzip+msgpack encoded per catalog, and catalogs are
// re-sent on every epoch bump, so per-field overhead multiplies across the
// whole cluster.
type wireMapStatus struct {
	ExecutorID string `msgpack:"e"`
	Host       string `msgpack:"h"`
	Port       int    `msgpack:"p"`

	Kind          uint8   `msgpack:"k"`
	NumPartitions int     `msgpack:"n"`
	ExactSizes    []int64 `msgpack:"x,omitempty"`
	Empty         []bool  `msgpack:"m,omitempty"`
	AvgSize       int64   `msgpack:"a,omitempty"`

	// Missing marks a nil slot in the catalog's map-statuses array (a map
	// task not yet registered, or removed). Encoded explicitly rather than
	// via a shorter array, since positions are meaningful: index i is
	// partition i's status.
	Missing bool `msgpack:"z,omitempty"`
}

// wireCatalog is the DIRECT-tagged payload: the full array of map statuses
// for one shuffle, position-indexed.
type wireCatalog struct {
	Statuses []wireMapStatus `msgpack:"s"`
}

// wireBroadcastHandle is the BROADCAST-tagged payload: a pointer to the
// artifact holding the real DIRECT-tagged blob.
type wireBroadcastHandle struct {
	ID string `msgpack:"id"`
}

func toWire(statuses []*catalog.MapStatus) wireCatalog {
	out := make([]wireMapStatus, len(statuses))
	for i, s := range statuses {
		if s == nil {
			out[i] = wireMapStatus{Missing: true}
			continue
		}
		w := wireMapStatus{
			ExecutorID:    s.Location.ExecutorID,
			Host:          s.Location.Host,
			Port:          s.Location.Port,
			Kind:          uint8(s.Kind),
			NumPartitions: s.NumPartitions(),
		}
		switch s.Kind {
		case catalog.Compressed:
			w.ExactSizes = s.ExactSizes()
		case catalog.HighlyCompressed:
			w.Empty = s.EmptyPartitions()
			w.AvgSize = s.AvgSize()
		}
		out[i] = w
	}
	return wireCatalog{Statuses: out}
}

func fromWire(wc wireCatalog) []*catalog.MapStatus {
	out := make([]*catalog.MapStatus, len(wc.Statuses))
	for i, w := range wc.Statuses {
		if w.Missing {
			continue
		}
		loc := catalog.BlockManagerId{ExecutorID: w.ExecutorID, Host: w.Host, Port: w.Port}
		sizes := make([]int64, w.NumPartitions)
		switch catalog.SizeKind(w.Kind) {
		case catalog.Compressed:
			copy(sizes, w.ExactSizes)
			out[i] = catalog.NewCompressedMapStatus(loc, sizes)
		case catalog.HighlyCompressed:
			// Reconstruct sizes consistent with the emptiness bitmap and
			// average so NewHighlyCompressedMapStatus recomputes the same
			// lossy representation it was built from — the round trip is
			// format-preserving, not byte-exact, which is all the
			// HighlyCompressed variant ever promises.
			for j, empty := range w.Empty {
				if !empty {
					sizes[j] = w.AvgSize
				}
			}
			out[i] = catalog.NewHighlyCompressedMapStatus(loc, sizes)
		}
	}
	return out
}

func gzipCompress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw, err := gzip.NewWriterLevel(&buf, gzip.BestSpeed)
	if err != nil {
		return nil, err
	}
	if _, err := zw.Write(data); err != nil {
		_ = zw.Close()
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func gzipDecompress(data []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: gzip: %v", ErrProtocol, err)
	}
	defer zr.Close()
	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("%w: gzip: %v", ErrProtocol, err)
	}
	return out, nil
}

// encodeDirect builds a complete TagDirect-framed blob: tag byte followed by
// a gzip-compressed msgpack encoding of statuses.
func encodeDirect(statuses []*catalog.MapStatus) ([]byte, error) {
	raw, err := msgpack.Marshal(toWire(statuses))
	if err != nil {
		return nil, fmt.Errorf("wire: marshal: %w", err)
	}
	compressed, err := gzipCompress(raw)
	if err != nil {
		return nil, fmt.Errorf("wire: compress: %w", err)
	}
	blob := make([]byte, 0, len(compressed)+1)
	blob = append(blob, TagDirect)
	blob = append(blob, compressed...)
	return blob, nil
}

// CatalogSerializer implements spec §4.2: encode a catalog's map statuses,
// switching to broadcast delivery when the direct form is large, and decode
// either form back into a map-statuses array.
type CatalogSerializer struct {
	broadcastMgr        broadcast.Manager
	minSizeForBroadcast int
	logger              *tlog.Logger
}

// NewCatalogSerializer builds a serializer. minSizeForBroadcast is the byte
// threshold (spec default 512 KiB) above which the DIRECT form is replaced
// by a BROADCAST handle pointing at it.
func NewCatalogSerializer(mgr broadcast.Manager, minSizeForBroadcast int, logger *tlog.Logger) *CatalogSerializer {
	if logger == nil {
		logger = tlog.Noop()
	}
	return &CatalogSerializer{broadcastMgr: mgr, minSizeForBroadcast: minSizeForBroadcast, logger: logger}
}

// SerializeMapStatuses implements the callback shape ShuffleStatus.
// SerializedMapStatus expects: encode statuses, and if the direct blob
// meets or exceeds minSizeForBroadcast, publish it and return the smaller
// outer BROADCAST blob plus a catalog.BroadcastHandle adapter instead.
func (c *CatalogSerializer) SerializeMapStatuses(ctx context.Context, statuses []*catalog.MapStatus) ([]byte, catalog.BroadcastHandle, error) {
	direct, err := encodeDirect(statuses)
	if err != nil {
		return nil, nil, err
	}
	if len(direct) < c.minSizeForBroadcast {
		return direct, nil, nil
	}

	handle, err := c.broadcastMgr.New(ctx, direct, false)
	if err != nil {
		// Broadcast publication failed; fall back to direct delivery rather
		// than failing the whole catalog serialization.
		c.logger.Warn("broadcast publish failed, falling back to direct", map[string]any{"error": err.Error()})
		return direct, nil, nil
	}

	outerRaw, err := msgpack.Marshal(wireBroadcastHandle{ID: handle.ID()})
	if err != nil {
		return nil, nil, fmt.Errorf("wire: marshal broadcast handle: %w", err)
	}
	outerCompressed, err := gzipCompress(outerRaw)
	if err != nil {
		return nil, nil, fmt.Errorf("wire: compress broadcast handle: %w", err)
	}
	outer := make([]byte, 0, len(outerCompressed)+1)
	outer = append(outer, TagBroadcast)
	outer = append(outer, outerCompressed...)

	return outer, &catalogHandle{handle: handle, logger: c.logger}, nil
}

// DeserializeMapStatuses implements the reader side of spec §4.2's decode
// contract: read the tag byte, and for DIRECT gunzip+unmarshal directly;
// for BROADCAST, decode the handle, fetch its payload (itself a
// DIRECT-tagged blob), and recurse one level into it.
func (c *CatalogSerializer) DeserializeMapStatuses(ctx context.Context, blob []byte) ([]*catalog.MapStatus, error) {
	if len(blob) == 0 {
		return nil, fmt.Errorf("%w: empty blob", ErrProtocol)
	}
	switch blob[0] {
	case TagDirect:
		return c.decodeDirectPayload(blob[1:])
	case TagBroadcast:
		raw, err := gzipDecompress(blob[1:])
		if err != nil {
			return nil, err
		}
		var handle wireBroadcastHandle
		if err := msgpack.Unmarshal(raw, &handle); err != nil {
			return nil, fmt.Errorf("%w: unmarshal broadcast handle: %v", ErrProtocol, err)
		}
		inner, err := c.broadcastMgr.Get(ctx, handle.ID)
		if err != nil {
			return nil, fmt.Errorf("wire: fetch broadcast artifact %s: %w", handle.ID, err)
		}
		if len(inner) == 0 || inner[0] != TagDirect {
			return nil, fmt.Errorf("%w: broadcast artifact is not direct-tagged", ErrProtocol)
		}
		return c.decodeDirectPayload(inner[1:])
	default:
		return nil, fmt.Errorf("%w: unknown tag %#x", ErrProtocol, blob[0])
	}
}

func (c *CatalogSerializer) decodeDirectPayload(payload []byte) ([]*catalog.MapStatus, error) {
	raw, err := gzipDecompress(payload)
	if err != nil {
		return nil, err
	}
	var wc wireCatalog
	if err := msgpack.Unmarshal(raw, &wc); err != nil {
		return nil, fmt.Errorf("%w: unmarshal catalog: %v", ErrProtocol, err)
	}
	return fromWire(wc), nil
}

// destroyTimeout bounds catalogHandle.Destroy's own context, independent of
// any deadline the invalidating caller (ShuffleStatus, under its mutex) is
// operating under.
const destroyTimeout = 3 * time.Second

// catalogHandle adapts a broadcast.Handle (context-taking Destroy) to
// catalog.BroadcastHandle (no-arg Destroy), applying its own short timeout
// and logging-and-swallowing errors — ShuffleStatus.invalidateLocked must
// never be blocked or failed by a destroy RPC to a dead broadcast backend.
type catalogHandle struct {
	handle broadcast.Handle
	logger *tlog.Logger
}

func (c *catalogHandle) ID() string { return c.handle.ID() }

func (c *catalogHandle) Destroy() {
	ctx, cancel := context.WithTimeout(context.Background(), destroyTimeout)
	defer cancel()
	if err := c.handle.Destroy(ctx); err != nil {
		c.logger.Warn("wire: broadcast destroy failed", map[string]any{
			"id":    c.handle.ID(),
			"error": err.Error(),
		})
	}
}
