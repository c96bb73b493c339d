// Package control implements the high-level control-channel client:
// connect, disconnect, send a command and await its correlated
// response, subscribe to device events, and read a status snapshot.
//
// A Client composes a reconnecting transport.Transport (text mode), a
// correlator.Correlator for request/response matching, an eventbus.Bus
// for event fan-out, and a status.Store for the session's own view of
// device state. None of those packages know about each other; Client
// is the only thing that wires them together, the same layering the
// source session this was grounded on uses between its transport,
// interaction client and snapshot tracker.
package control
