// Package connection provides connection lifecycle management for the
// device session: state tracking and automatic reconnection with
// exponential backoff and full jitter.
//
// # State machine
//
//	Disconnected -> Connecting -> Connected -> {Reconnecting -> Connecting} | Closing -> Closed
//
// Closing is terminal: once Close is called, any reconnect attempt
// blocked on its backoff delay is abandoned rather than run to
// completion, so shutdown completes promptly even mid-backoff.
//
// # Reconnection strategy
//
// When the transport reports connection loss, the Manager backs off
// exponentially with full jitter:
//
//	delay = min(cap, base·2^n) · random(0.5, 1.0)
//
// with base 500ms, cap 10s, and n (consecutive failures) capped at 6.
// Reconnection retries forever unless a max_attempts bound is set via
// SetMaxAttempts, in which case exceeding it settles the manager in
// StateDisconnected and invokes OnReconnectFailed. n resets to zero on
// every successful connection.
package connection
