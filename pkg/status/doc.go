// Package status holds the single owned device-status struct a
// session's reader tasks keep up to date, and that every other part of
// the program reads through copy-on-read snapshots.
//
// Mutation is confined to four independently-updated field groups —
// pointing, pi (battery/temperature/focus), view, and stack — plus the
// connection flags/last-seen pair. Each Store.Set*/Add*/Mark* call
// builds a full copy of the current State, mutates only its own group,
// and atomically publishes the copy; Snapshot callers only ever see a
// State that was whole and consistent at some point in time, never a
// mix of an old field group with a new one.
//
// On an InternalDisconnected event only ControlConnected flips to
// false; every other field is left at its last known value rather than
// cleared, so a caller reading mid-outage sees stale-but-timestamped
// data instead of zeroes. Re-querying device state after a reconnect is
// the control client's job, not this package's — Store only ever
// records whatever its caller tells it.
package status
