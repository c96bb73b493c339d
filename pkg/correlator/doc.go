// Package correlator matches outgoing control-channel requests to their
// eventual responses by id, with in-flight timeouts and write-side
// backpressure.
//
// Every Issue call allocates a monotonically increasing id, parks a
// completion channel in a pending table keyed by that id, and hands the
// encoded request to a bounded write queue. Exactly one of four things
// resolves the call:
//
//   - the matching response arrives (HandleResponse finds the id)
//   - the reaper's 100ms tick finds the entry past its deadline (Timeout)
//   - the owning session reports a network-induced disconnect (Reset,
//     which completes everything pending with Disconnected)
//   - the caller tears the session down (Close, which completes
//     everything pending with Cancelled)
//
// The write queue itself can also fail a call before it is ever parked:
// if the queue stays full past its configured timeout, Issue returns
// ErrOverloaded without ever sending the request.
package correlator
