package cooldown

import (
	"sync"
	"testing"
	"time"

	"analyzehub/internal/retry"

	clocktesting "k8s.io/utils/clock/testing"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}

func TestTimer_ManualTicks(t *testing.T) {
	t.Parallel()

	tm := New(clocktesting.NewFakeClock(time.Now()), nil)
	defer tm.Stop()

	if tm.IsActive() {
		t.Fatalf("new timer must be idle")
	}
	tm.Arm(45)
	if !tm.IsActive() || tm.Remaining() != 45 {
		t.Fatalf("after arm: active=%v remaining=%d", tm.IsActive(), tm.Remaining())
	}
	for i := 0; i < 44; i++ {
		tm.Tick()
	}
	if !tm.IsActive() || tm.Remaining() != 1 {
		t.Fatalf("after 44 ticks: active=%v remaining=%d", tm.IsActive(), tm.Remaining())
	}
	tm.Tick()
	if tm.IsActive() || tm.Remaining() != 0 {
		t.Fatalf("after 45 ticks: active=%v remaining=%d", tm.IsActive(), tm.Remaining())
	}
	tm.Tick()
	if tm.Remaining() != 0 {
		t.Fatalf("tick while idle changed remaining to %d", tm.Remaining())
	}
}

func TestTimer_ArmOverwrites(t *testing.T) {
	t.Parallel()

	tm := New(clocktesting.NewFakeClock(time.Now()), nil)
	defer tm.Stop()

	tm.Arm(10)
	tm.Tick()
	tm.Arm(5)
	if tm.Remaining() != 5 {
		t.Fatalf("remaining=%d want 5", tm.Remaining())
	}
	tm.Arm(0)
	tm.Arm(-3)
	if tm.Remaining() != 5 {
		t.Fatalf("non-positive arm changed remaining to %d", tm.Remaining())
	}
	if w := tm.Window(); w.Remaining != 5 || w.Reason != retry.KindRateLimited {
		t.Fatalf("window=%+v", w)
	}
}

func TestTimer_DrivenByClock(t *testing.T) {
	t.Parallel()

	fc := clocktesting.NewFakeClock(time.Now())
	var mu sync.Mutex
	var seen []int
	tm := New(fc, func(remaining int) {
		mu.Lock()
		seen = append(seen, remaining)
		mu.Unlock()
	})
	defer tm.Stop()

	tm.Arm(3)
	waitFor(t, fc.HasWaiters)
	for want := 2; want >= 0; want-- {
		fc.Step(TickInterval)
		want := want
		waitFor(t, func() bool { return tm.Remaining() == want })
	}
	if tm.IsActive() {
		t.Fatalf("expected idle after countdown")
	}

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 4
	})
	mu.Lock()
	defer mu.Unlock()
	for i, want := range []int{3, 2, 1, 0} {
		if seen[i] != want {
			t.Fatalf("seen=%v", seen)
		}
	}
}

func TestTimer_StopIgnoresArm(t *testing.T) {
	t.Parallel()

	tm := New(clocktesting.NewFakeClock(time.Now()), nil)
	tm.Arm(5)
	tm.Stop()
	tm.Stop()
	tm.Arm(7)
	if tm.Remaining() != 5 {
		t.Fatalf("arm after stop changed remaining to %d", tm.Remaining())
	}
}
