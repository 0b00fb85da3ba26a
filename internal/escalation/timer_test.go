package escalation

import (
	"sync/atomic"
	"testing"
	"time"
)

func waitForCount(t *testing.T, counter *atomic.Int32, want int32) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if counter.Load() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected count %d, got %d", want, counter.Load())
}

func TestGraceTimerFires(t *testing.T) {
	gt := NewGraceTimer()
	defer gt.Stop()

	var fired atomic.Int32
	gt.Arm("case-1", 10*time.Millisecond, func() { fired.Add(1) })
	waitForCount(t, &fired, 1)
}

func TestGraceTimerCancel(t *testing.T) {
	gt := NewGraceTimer()
	defer gt.Stop()

	var fired atomic.Int32
	gt.Arm("case-1", 30*time.Millisecond, func() { fired.Add(1) })
	gt.Cancel("case-1")

	time.Sleep(100 * time.Millisecond)
	if fired.Load() != 0 {
		t.Errorf("expected cancelled timer not to fire, fired %d times", fired.Load())
	}

	// Cancelling an unarmed case is a no-op.
	gt.Cancel("case-unknown")
}

func TestGraceTimerRearmReplaces(t *testing.T) {
	gt := NewGraceTimer()
	defer gt.Stop()

	var first, second atomic.Int32
	gt.Arm("case-1", 30*time.Millisecond, func() { first.Add(1) })
	gt.Arm("case-1", 10*time.Millisecond, func() { second.Add(1) })

	waitForCount(t, &second, 1)
	time.Sleep(100 * time.Millisecond)
	if first.Load() != 0 {
		t.Errorf("expected replaced timer not to fire, fired %d times", first.Load())
	}
}

func TestGraceTimerStopDisarmsAll(t *testing.T) {
	gt := NewGraceTimer()

	var fired atomic.Int32
	gt.Arm("case-1", 30*time.Millisecond, func() { fired.Add(1) })
	gt.Arm("case-2", 30*time.Millisecond, func() { fired.Add(1) })
	gt.Stop()

	time.Sleep(100 * time.Millisecond)
	if fired.Load() != 0 {
		t.Errorf("expected no timers to fire after stop, fired %d times", fired.Load())
	}
}
