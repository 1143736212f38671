// Package broadcast provides the distribution primitive the wire codec
// switches to when a serialized catalog exceeds the configured broadcast
// threshold: ship the blob once per node, expose a cheap handle, and let
// the handle's owner destroy it when it's no longer needed.
//
// This subsystem does not itself decide *when* to broadcast — that is the
// wire package's job, following spec.md §4.2/§6. Package broadcast only
// supplies the mechanism: Manager.New publishes a blob and returns a
// Handle; Handle.Destroy releases it.
package broadcast

import "context"

// Handle is a published broadcast artifact. Handle.Destroy must be safe to
// call from the catalog's mutating path: implementations should treat
// destroy failures as logged-and-swallowed internally, never blocking or
// propagating to callers that can't usefully react (see catalog's
// invalidateLocked, which calls ID()/Destroy() through this interface).
type Handle interface {
	// ID identifies this artifact, suitable for embedding in a BROADCAST
	// wire frame so a remote reader knows which artifact to pull.
	ID() string
	// Fetch retrieves the published payload. Safe to call many times.
	Fetch(ctx context.Context) ([]byte, error)
	// Destroy releases the artifact. Non-blocking in spirit: implementations
	// should apply their own short timeout rather than letting this hang.
	Destroy(ctx context.Context) error
}

// Manager publishes blobs and returns handles to them.
type Manager interface {
	// New publishes data as a new broadcast artifact. isLocal indicates the
	// artifact is being created for the same process that will also read
	// it back (relevant to implementations that can short-circuit local
	// reads, e.g. skip network round-trips in single-process demos/tests).
	New(ctx context.Context, data []byte, isLocal bool) (Handle, error)
	// Get fetches a previously published artifact by the id its Handle.ID
	// returned. Used by a reader that only has the id off the wire (the
	// BROADCAST frame's wireBroadcastHandle) and never held the Handle
	// itself.
	Get(ctx context.Context, id string) ([]byte, error)
}
