// Package cooldown tracks the server-imposed waiting period after a rate
// limit, during which no new analysis may start.
package cooldown

import (
	"sync"
	"time"

	"analyzehub/internal/retry"

	"k8s.io/utils/clock"
)

// TickInterval is the countdown resolution.
const TickInterval = time.Second

// Window is a snapshot of the countdown.
type Window struct {
	Remaining int             `json:"remaining"`
	Reason    retry.ErrorKind `json:"reason"`
}

// Timer is a cancellable once-per-second countdown.
//
// Idle -> Active(N) on Arm; Active(k) -> Active(k-1) on Tick while k > 1;
// Active(1) -> Idle on the next Tick. Arming while active overwrites the
// remaining seconds.
type Timer struct {
	mu        sync.Mutex
	clock     clock.WithTicker
	remaining int
	ticker    clock.Ticker
	stopCh    chan struct{}
	gen       int
	closed    bool
	onChange  func(remaining int)
}

// New creates a countdown driven by clk. onChange, if set, receives every
// new remaining value and is called outside the timer's lock.
func New(clk clock.WithTicker, onChange func(remaining int)) *Timer {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Timer{clock: clk, onChange: onChange}
}

// Arm starts (or restarts) the countdown at seconds. Non-positive values are
// ignored.
func (t *Timer) Arm(seconds int) {
	if seconds <= 0 {
		return
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.remaining = seconds
	if t.ticker == nil {
		t.startLocked()
	}
	t.mu.Unlock()

	t.notify(seconds)
}

// Tick advances the countdown by one second. It is a no-op while idle.
func (t *Timer) Tick() {
	t.tick(-1)
}

// IsActive reports whether new submissions are blocked.
func (t *Timer) IsActive() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.remaining > 0
}

// Remaining returns the seconds left; 0 when idle.
func (t *Timer) Remaining() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.remaining
}

// Window returns the current countdown snapshot.
func (t *Timer) Window() Window {
	return Window{Remaining: t.Remaining(), Reason: retry.KindRateLimited}
}

// Stop releases the periodic task. The timer ignores Arm afterwards; call it
// when the owner is torn down.
func (t *Timer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	t.releaseLocked()
}

func (t *Timer) startLocked() {
	t.gen++
	t.ticker = t.clock.NewTicker(TickInterval)
	t.stopCh = make(chan struct{})
	go t.run(t.gen, t.ticker, t.stopCh)
}

func (t *Timer) releaseLocked() {
	if t.ticker == nil {
		return
	}
	t.ticker.Stop()
	close(t.stopCh)
	t.ticker = nil
	t.stopCh = nil
}

func (t *Timer) run(gen int, ticker clock.Ticker, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case <-ticker.C():
			t.tick(gen)
		}
	}
}

// tick decrements the countdown. gen < 0 means a manual tick; otherwise the
// tick only counts if it comes from the current ticker.
func (t *Timer) tick(gen int) {
	t.mu.Lock()
	if gen >= 0 && (gen != t.gen || t.ticker == nil) {
		t.mu.Unlock()
		return
	}
	if t.remaining == 0 {
		t.mu.Unlock()
		return
	}
	t.remaining--
	remaining := t.remaining
	if remaining == 0 {
		t.releaseLocked()
	}
	t.mu.Unlock()

	t.notify(remaining)
}

func (t *Timer) notify(remaining int) {
	if t.onChange != nil {
		t.onChange(remaining)
	}
}
