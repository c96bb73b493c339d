// Package errs defines the error taxonomy shared by every scopinator
// component: the kinds a caller can distinguish with errors.Is, not
// concrete error types.
package errs

import "errors"

// Sentinel errors. Wrap with fmt.Errorf("...: %w", ErrX) to add context;
// callers match with errors.Is.
var (
	// ErrConnectFailed means the transport could not be established
	// (dial timeout, refused, DNS failure).
	ErrConnectFailed = errors.New("connect failed")

	// ErrDisconnected means the transport was lost mid-operation.
	// Pending requests observe this; the reader loop restarts.
	ErrDisconnected = errors.New("disconnected")

	// ErrTimeout means a request's deadline elapsed while the
	// transport was still up.
	ErrTimeout = errors.New("timeout")

	// ErrProtocol means a frame or JSON line could not be parsed.
	// Non-fatal for the session; only the affected request (if any)
	// fails.
	ErrProtocol = errors.New("protocol error")

	// ErrCommandRejected means the device replied with an error
	// object. The RPCError carried alongside has the device's verbatim
	// code/message.
	ErrCommandRejected = errors.New("command rejected")

	// ErrOverloaded means a bounded queue stayed full past its
	// configured timeout.
	ErrOverloaded = errors.New("overloaded")

	// ErrCancelled means the caller (or a Disconnect/Close call)
	// aborted the request, as distinct from a network-induced
	// ErrDisconnected.
	ErrCancelled = errors.New("cancelled")
)
