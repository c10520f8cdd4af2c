// Package transport defines the abstract message-duplex interface the RPC
// peer consumes, per spec §6 — the transport socket itself is an external
// collaborator the core does not implement, only observes. This package
// carries the interface contract, the four-state readiness enum, an
// in-process Pipe implementation for tests, and a concrete
// github.com/gorilla/websocket adapter.
package transport

import (
	"context"

	"peerrpc/protocol"
)

// ReadyState mirrors the WebSocket readyState values named in spec §6.
type ReadyState int

const (
	Connecting ReadyState = 0
	Open       ReadyState = 1
	Closing    ReadyState = 2
	Closed     ReadyState = 3
)

func (r ReadyState) String() string {
	switch r {
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case Closing:
		return "closing"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// Duplex is the bidirectional message transport a Peer is built on.
// Implementations must be safe for concurrent Send calls: a Peer calls
// Send from concurrent Call, Emit and response paths without holding a
// lock of its own.
type Duplex interface {
	// Send transmits one frame to the remote side. Returns an error if the
	// transport is not Open.
	Send(ctx context.Context, frame protocol.Frame) error

	// Close closes the transport. Safe to call multiple times.
	Close(code int, reason string) error

	// ReadyState reports the current connection state.
	ReadyState() ReadyState

	// SetOnMessage registers the callback invoked for every inbound frame.
	// Must be called before the transport starts delivering messages.
	SetOnMessage(func(protocol.Frame))

	// SetOnClose registers the callback invoked once when the transport
	// transitions to Closed, whether by local Close or remote hangup.
	SetOnClose(func())
}
