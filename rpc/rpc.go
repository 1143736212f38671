// Package rpc declares the transport boundary spec.md §6 names as an
// external collaborator ("RPC transport: endpoint registration, unicast
// send, ask-with-timeout, per-connection callbacks") and supplies an
// in-process implementation sufficient for the CLI demo and test suite —
// the subsystem's own spec places the real transport out of scope.
//
// Grounded on the teacher's adapter.Adapter: a small interface-first
// boundary owned by its consumer (here, TrackerClient and
// StreamChunkServer), with a concrete implementation behind it.
package rpc

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/yikf/shuffletrack/tlog"
)

// Handler answers one RPC endpoint's requests. req/resp are opaque framed
// bytes; spec.md §6's GetMapOutputStatuses/StopMapOutputTracker both fit
// this shape (request bytes in, reply bytes out).
type Handler interface {
	Handle(ctx context.Context, req []byte) ([]byte, error)
}

// HandlerFunc adapts a plain function to Handler.
type HandlerFunc func(ctx context.Context, req []byte) ([]byte, error)

// Handle implements Handler.
func (f HandlerFunc) Handle(ctx context.Context, req []byte) ([]byte, error) {
	return f(ctx, req)
}

// ConnectionListener receives per-connection lifecycle callbacks, the
// "provided collaborator" spec.md §6 cites for streamserver's
// connectionTerminated reclamation path.
type ConnectionListener interface {
	ConnectionTerminated(conn any)
}

// Transport is the collaborator the authority's endpoint registration and
// the client side (through cmd/trackerfetch's adapter to
// trackerclient.Fetcher) depend on, so both sides of the boundary share
// one definition.
type Transport interface {
	// RegisterEndpoint binds a named endpoint (spec §6: "MapOutputTracker")
	// to a Handler. Registering the same name twice replaces the handler.
	RegisterEndpoint(name string, h Handler)
	// Ask sends req to endpoint and blocks for a reply or ctx's deadline,
	// whichever comes first. addr is ignored by the in-process transport
	// (every endpoint lives in the same process) but is part of the
	// interface so a real network transport can route by address.
	Ask(ctx context.Context, addr, endpoint string, req []byte) ([]byte, error)
	// RegisterConnectionListener subscribes l to connection-terminated
	// notifications, used by streamserver to reclaim buffers.
	RegisterConnectionListener(l ConnectionListener)
	// NotifyConnectionTerminated informs every registered listener that
	// conn has disconnected. Called by the transport's own connection
	// handling code in a real implementation; exposed here so the
	// in-process transport (and tests) can simulate it directly.
	NotifyConnectionTerminated(conn any)
}

// ErrUnknownEndpoint is returned by InProcessTransport.Ask when no handler
// is registered under the requested endpoint name.
type ErrUnknownEndpoint struct {
	Endpoint string
}

func (e *ErrUnknownEndpoint) Error() string {
	return fmt.Sprintf("rpc: unknown endpoint %q", e.Endpoint)
}

// InProcessTransport wires a Handler directly to Ask calls within the same
// process, skipping any real network stack. Every Ask is stamped with a
// fresh correlation ID (github.com/google/uuid) attached to the logger's
// fields, so the client and authority sides of one call can be correlated
// in logs even though no wire actually carries the ID.
type InProcessTransport struct {
	logger *tlog.Logger

	mu        sync.RWMutex
	endpoints map[string]Handler
	listeners []ConnectionListener
}

// NewInProcessTransport constructs an InProcessTransport.
func NewInProcessTransport(logger *tlog.Logger) *InProcessTransport {
	if logger == nil {
		logger = tlog.Noop()
	}
	return &InProcessTransport{
		logger:    logger,
		endpoints: make(map[string]Handler),
	}
}

// RegisterEndpoint implements Transport.
func (t *InProcessTransport) RegisterEndpoint(name string, h Handler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.endpoints[name] = h
}

// Ask implements Transport.
func (t *InProcessTransport) Ask(ctx context.Context, addr, endpoint string, req []byte) ([]byte, error) {
	t.mu.RLock()
	h, ok := t.endpoints[endpoint]
	t.mu.RUnlock()
	if !ok {
		return nil, &ErrUnknownEndpoint{Endpoint: endpoint}
	}

	correlationID := uuid.NewString()
	fields := map[string]any{"correlation_id": correlationID, "endpoint": endpoint}
	t.logger.Debug("rpc ask", fields)

	type result struct {
		resp []byte
		err  error
	}
	done := make(chan result, 1)
	go func() {
		resp, err := h.Handle(ctx, req)
		done <- result{resp, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			t.logger.Warn("rpc ask failed", map[string]any{"correlation_id": correlationID, "endpoint": endpoint, "error": r.err.Error()})
		}
		return r.resp, r.err
	case <-ctx.Done():
		t.logger.Warn("rpc ask timed out", map[string]any{"correlation_id": correlationID, "endpoint": endpoint, "error": ctx.Err().Error()})
		return nil, ctx.Err()
	}
}

// RegisterConnectionListener implements Transport.
func (t *InProcessTransport) RegisterConnectionListener(l ConnectionListener) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.listeners = append(t.listeners, l)
}

// NotifyConnectionTerminated implements Transport.
func (t *InProcessTransport) NotifyConnectionTerminated(conn any) {
	t.mu.RLock()
	listeners := make([]ConnectionListener, len(t.listeners))
	copy(listeners, t.listeners)
	t.mu.RUnlock()

	for _, l := range listeners {
		l.ConnectionTerminated(conn)
	}
}
