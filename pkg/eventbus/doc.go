// Package eventbus fans decoded device events out to independent
// subscribers.
//
// Each subscriber gets its own bounded queue and its own goroutine
// running its handler, so one subscriber's slow or panicking handler
// never blocks or breaks delivery to another.
// When a subscriber's queue is full, the oldest queued event is
// dropped to make room for the new one, the subscriber's Dropped
// counter is incremented, and at most one warning per WarnInterval is
// logged — a burst of overflow never floods the log.
//
// Events of the same kind are delivered to a given subscriber in
// publish order (each subscriber drains its queue from a single
// goroutine); there is no ordering guarantee across kinds, and none
// across subscribers.
package eventbus
