// Package transport dials the two plain-TCP sessions scopinator holds
// with a device and frames their byte streams: newline-delimited text
// for the control channel, fixed 80-byte-header binary for the
// imaging channel (see pkg/wire for the codecs themselves).
//
// # Protocol stack
//
//	┌────────────────────────────────┐
//	│   JSON envelope / binary frame │
//	├────────────────────────────────┤
//	│  Line framing / 80B header     │
//	├────────────────────────────────┤
//	│           TCP                  │
//	└────────────────────────────────┘
//
// # Liveness
//
// There is no ping/pong: liveness is inferred from read_idle_timeout.
// If no byte arrives on the connection within that window, the read
// loop treats it as a disconnect and reports it to the handler exactly
// like an I/O error would.
//
// # Lifecycle
//
// A Transport moves through Disconnected -> Connecting -> Connected ->
// Closing on a single connection attempt. Reconnection across attempts
// is the job of pkg/connection.Manager, which supplies a ConnectFunc
// that dials a fresh Transport on every retry.
package transport
