package status

import (
	"sync"
	"sync/atomic"
	"time"
)

// Pointing is the mount's current target coordinates.
type Pointing struct {
	RA  float64
	Dec float64
}

// Pi holds the device host's own vitals.
type Pi struct {
	BatteryPercent float64
	TemperatureC   float64
	FocusPosition  int
}

// View describes the current display/observation mode.
type View struct {
	Mode string
}

// Stack holds the running frame-stacking counters for the current
// streaming session. Stacked only grows within a session; ResetStackCounters clears
// all three on start_streaming.
type Stack struct {
	Stacked int
	Dropped int
	Skipped int
}

// ConnFlags tracks channel liveness and when each channel was last
// heard from.
type ConnFlags struct {
	ControlConnected bool
	ImagingConnected bool
	ControlLastSeen  time.Time
	ImagingLastSeen  time.Time
}

// State is one consistent, fully-populated snapshot of device status.
type State struct {
	Pointing  Pointing
	Pi        Pi
	View      View
	Stack     Stack
	ConnFlags ConnFlags
}

// Store is the session's single owned status struct. The zero value is
// not usable; construct with NewStore.
type Store struct {
	current atomic.Pointer[State]
	mu      sync.Mutex // serializes read-modify-write across Set*/Add*/Mark* calls
}

// NewStore creates an empty Store.
func NewStore() *Store {
	s := &Store{}
	s.current.Store(&State{})
	return s
}

// Snapshot returns a copy of the current state. Safe for concurrent use
// and never blocks on a writer.
func (s *Store) Snapshot() State {
	return *s.current.Load()
}

func (s *Store) mutate(fn func(*State)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := *s.current.Load()
	fn(&next)
	s.current.Store(&next)
}

// SetPointing atomically replaces the pointing group.
func (s *Store) SetPointing(p Pointing) {
	s.mutate(func(st *State) { st.Pointing = p })
}

// SetPi atomically replaces the pi group.
func (s *Store) SetPi(pi Pi) {
	s.mutate(func(st *State) { st.Pi = pi })
}

// SetView atomically replaces the view group.
func (s *Store) SetView(v View) {
	s.mutate(func(st *State) { st.View = v })
}

// AddStackCounts atomically increments the stack group's counters. Use
// negative deltas only if the device itself reports a correction; the
// counters are otherwise monotonic within a session.
func (s *Store) AddStackCounts(stacked, dropped, skipped int) {
	s.mutate(func(st *State) {
		st.Stack.Stacked += stacked
		st.Stack.Dropped += dropped
		st.Stack.Skipped += skipped
	})
}

// ResetStackCounters zeroes the stack group. Called on start_streaming.
func (s *Store) ResetStackCounters() {
	s.mutate(func(st *State) { st.Stack = Stack{} })
}

// MarkInternalDisconnected flips ControlConnected to false and leaves
// every other field untouched, per the InternalDisconnected handling
// invariant.
func (s *Store) MarkInternalDisconnected() {
	s.mutate(func(st *State) { st.ConnFlags.ControlConnected = false })
}

// MarkInternalReconnected flips ControlConnected to true and refreshes
// ControlLastSeen. It does not by itself re-query device state; the
// control client does that after calling this.
func (s *Store) MarkInternalReconnected() {
	s.mutate(func(st *State) {
		st.ConnFlags.ControlConnected = true
		st.ConnFlags.ControlLastSeen = time.Now()
	})
}

// SetImagingConnected updates the imaging channel's connectedness.
func (s *Store) SetImagingConnected(connected bool) {
	s.mutate(func(st *State) {
		st.ConnFlags.ImagingConnected = connected
		if connected {
			st.ConnFlags.ImagingLastSeen = time.Now()
		}
	})
}

// TouchControlLastSeen refreshes the control channel's last-seen
// timestamp. Called by the control reader task on every message.
func (s *Store) TouchControlLastSeen() {
	s.mutate(func(st *State) { st.ConnFlags.ControlLastSeen = time.Now() })
}

// TouchImagingLastSeen refreshes the imaging channel's last-seen
// timestamp. Called by the imaging reader task on every frame.
func (s *Store) TouchImagingLastSeen() {
	s.mutate(func(st *State) { st.ConnFlags.ImagingLastSeen = time.Now() })
}
