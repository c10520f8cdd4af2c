package peer

import "fmt"

// Error taxonomy per spec §7. Each kind is a distinct type so callers can
// discriminate with errors.As instead of string matching, and each
// carries the fields spec.md's table says it must carry.

// ConnectionClosedError is returned when a call is attempted on a closed
// Peer, or when a pending call is rejected because the Peer closed.
type ConnectionClosedError struct {
	PeerID string
}

func (e *ConnectionClosedError) Error() string {
	return fmt.Sprintf("peer %q: connection closed", e.PeerID)
}

// MethodNotFoundError is returned when a method is absent from the
// relevant schema, on either side of the connection.
type MethodNotFoundError struct {
	Method string
}

func (e *MethodNotFoundError) Error() string {
	return fmt.Sprintf("method %q not found", e.Method)
}

// ValidationError is returned when input or output fails its validator.
type ValidationError struct {
	Method string
	Issues []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for %q: %v", e.Method, e.Issues)
}

// TimeoutError is returned when a pending request's deadline elapses
// before a response or error arrives.
type TimeoutError struct {
	Method    string
	TimeoutMs int64
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("call to %q timed out after %dms", e.Method, e.TimeoutMs)
}

// RemoteError is returned when the remote peer responds with an ErrorMsg
// for an outstanding request.
type RemoteError struct {
	Method  string
	Code    int32
	Message string
	Data    any
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote error calling %q: [%d] %s", e.Method, e.Code, e.Message)
}
