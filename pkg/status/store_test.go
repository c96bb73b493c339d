package status

import (
	"sync"
	"testing"
	"time"
)

func TestNewStoreSnapshotIsZeroValue(t *testing.T) {
	s := NewStore()
	snap := s.Snapshot()

	if snap.Pointing != (Pointing{}) {
		t.Errorf("Pointing = %+v, want zero value", snap.Pointing)
	}
	if snap.ConnFlags.ControlConnected {
		t.Error("ControlConnected = true for a fresh store")
	}
}

func TestSetPointingUpdatesOnlyPointingGroup(t *testing.T) {
	s := NewStore()
	s.SetPi(Pi{BatteryPercent: 80})

	s.SetPointing(Pointing{RA: 10.5, Dec: -20.1})

	snap := s.Snapshot()
	if snap.Pointing != (Pointing{RA: 10.5, Dec: -20.1}) {
		t.Errorf("Pointing = %+v, want {10.5 -20.1}", snap.Pointing)
	}
	if snap.Pi.BatteryPercent != 80 {
		t.Errorf("Pi.BatteryPercent = %v, want 80 (should survive an unrelated SetPointing)", snap.Pi.BatteryPercent)
	}
}

func TestAddStackCountsAccumulates(t *testing.T) {
	s := NewStore()
	s.AddStackCounts(1, 0, 0)
	s.AddStackCounts(2, 1, 0)
	s.AddStackCounts(0, 0, 3)

	snap := s.Snapshot()
	if snap.Stack != (Stack{Stacked: 3, Dropped: 1, Skipped: 3}) {
		t.Errorf("Stack = %+v, want {3 1 3}", snap.Stack)
	}
}

func TestResetStackCountersZeroesGroup(t *testing.T) {
	s := NewStore()
	s.AddStackCounts(5, 2, 1)
	s.ResetStackCounters()

	if snap := s.Snapshot(); snap.Stack != (Stack{}) {
		t.Errorf("Stack = %+v after reset, want zero value", snap.Stack)
	}
}

func TestMarkInternalDisconnectedOnlyFlipsControlConnected(t *testing.T) {
	s := NewStore()
	s.MarkInternalReconnected()
	s.SetPi(Pi{BatteryPercent: 55, TemperatureC: 40})
	s.SetView(View{Mode: "live"})

	s.MarkInternalDisconnected()

	snap := s.Snapshot()
	if snap.ConnFlags.ControlConnected {
		t.Error("ControlConnected = true after MarkInternalDisconnected")
	}
	if snap.Pi.BatteryPercent != 55 || snap.Pi.TemperatureC != 40 {
		t.Errorf("Pi = %+v, want stale values retained", snap.Pi)
	}
	if snap.View.Mode != "live" {
		t.Errorf("View.Mode = %q, want stale value retained", snap.View.Mode)
	}
}

func TestMarkInternalReconnectedSetsControlConnectedAndLastSeen(t *testing.T) {
	s := NewStore()
	before := time.Now()
	s.MarkInternalReconnected()

	snap := s.Snapshot()
	if !snap.ConnFlags.ControlConnected {
		t.Error("ControlConnected = false after MarkInternalReconnected")
	}
	if snap.ConnFlags.ControlLastSeen.Before(before) {
		t.Errorf("ControlLastSeen = %v, want at or after %v", snap.ConnFlags.ControlLastSeen, before)
	}
}

func TestSetImagingConnectedTouchesLastSeenOnlyWhenConnected(t *testing.T) {
	s := NewStore()
	s.SetImagingConnected(true)
	snap := s.Snapshot()
	if snap.ConnFlags.ImagingLastSeen.IsZero() {
		t.Error("ImagingLastSeen not set after connecting")
	}

	lastSeen := snap.ConnFlags.ImagingLastSeen
	time.Sleep(5 * time.Millisecond)
	s.SetImagingConnected(false)

	snap = s.Snapshot()
	if snap.ConnFlags.ImagingConnected {
		t.Error("ImagingConnected = true after SetImagingConnected(false)")
	}
	if !snap.ConnFlags.ImagingLastSeen.Equal(lastSeen) {
		t.Error("ImagingLastSeen changed on disconnect, want unchanged")
	}
}

func TestTouchControlAndImagingLastSeen(t *testing.T) {
	s := NewStore()
	before := time.Now()
	s.TouchControlLastSeen()
	s.TouchImagingLastSeen()

	snap := s.Snapshot()
	if snap.ConnFlags.ControlLastSeen.Before(before) {
		t.Error("ControlLastSeen not refreshed")
	}
	if snap.ConnFlags.ImagingLastSeen.Before(before) {
		t.Error("ImagingLastSeen not refreshed")
	}
}

func TestSnapshotNeverObservesPartialGroupDuringConcurrentWrites(t *testing.T) {
	s := NewStore()
	stop := make(chan struct{})
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
			}
			if i%2 == 0 {
				s.SetPointing(Pointing{RA: 1, Dec: 1})
			} else {
				s.SetPointing(Pointing{RA: -1, Dec: -1})
			}
		}
	}()

	deadline := time.Now().Add(100 * time.Millisecond)
	for time.Now().Before(deadline) {
		snap := s.Snapshot()
		if snap.Pointing != (Pointing{}) && snap.Pointing != (Pointing{RA: 1, Dec: 1}) && snap.Pointing != (Pointing{RA: -1, Dec: -1}) {
			close(stop)
			wg.Wait()
			t.Fatalf("observed torn Pointing value: %+v", snap.Pointing)
		}
	}
	close(stop)
	wg.Wait()
}
