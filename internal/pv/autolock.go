package pv

import (
	"sync"
	"time"
)

// AutoLockTimer is a cancellable, resettable inactivity deadline. At most one
// deadline is outstanding; Reset cancels and reschedules atomically. Every
// reschedule bumps a generation so a callback already in flight for an older
// deadline becomes a no-op.
type AutoLockTimer struct {
	mu       sync.Mutex
	clock    Clock
	onExpire func()

	timeout  time.Duration
	timer    Timer
	gen      uint64
	deadline time.Time
	running  bool
	paused   bool
	fired    bool
}

// NewAutoLockTimer creates a stopped timer. onExpire runs on the clock's
// goroutine when a deadline elapses, without the timer's lock held.
func NewAutoLockTimer(clock Clock, onExpire func()) *AutoLockTimer {
	return &AutoLockTimer{clock: clock, onExpire: onExpire}
}

// Start arms a fresh window of length timeout, clearing any pause.
// A non-positive timeout disables the timer until the next Start.
func (t *AutoLockTimer) Start(timeout time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.timeout = timeout
	t.paused = false
	t.fired = false
	if timeout <= 0 {
		t.disarmLocked()
		t.running = false
		return
	}
	t.running = true
	t.armLocked()
}

// Reset rearms a full window. It does nothing while stopped or paused.
func (t *AutoLockTimer) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.running || t.paused {
		return
	}
	t.armLocked()
}

// Pause suspends the countdown. The pending deadline is dropped.
func (t *AutoLockTimer) Pause() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.running || t.paused {
		return
	}
	t.paused = true
	t.disarmLocked()
}

// Resume restarts the countdown from a full window.
func (t *AutoLockTimer) Resume() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.running || !t.paused {
		return
	}
	t.paused = false
	t.armLocked()
}

// Cancel stops the timer. A callback already in flight will not call onExpire.
func (t *AutoLockTimer) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.disarmLocked()
	t.running = false
	t.paused = false
	t.fired = false
}

// Deadline returns the pending deadline, if any.
func (t *AutoLockTimer) Deadline() (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.deadline, !t.deadline.IsZero()
}

// Paused reports whether the countdown is suspended.
func (t *AutoLockTimer) Paused() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.paused
}

// takeExpiry reports whether the last deadline fired since the most recent
// Start or Cancel, and clears the flag.
func (t *AutoLockTimer) takeExpiry() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	fired := t.fired
	t.fired = false
	return fired
}

func (t *AutoLockTimer) armLocked() {
	t.disarmLocked()
	gen := t.gen
	t.deadline = t.clock.Now().Add(t.timeout)
	t.timer = t.clock.AfterFunc(t.timeout, func() { t.fire(gen) })
}

func (t *AutoLockTimer) disarmLocked() {
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.gen++
	t.deadline = time.Time{}
}

func (t *AutoLockTimer) fire(gen uint64) {
	t.mu.Lock()
	if gen != t.gen || !t.running || t.paused {
		t.mu.Unlock()
		return
	}
	t.running = false
	t.fired = true
	t.timer = nil
	t.deadline = time.Time{}
	t.mu.Unlock()

	if t.onExpire != nil {
		t.onExpire()
	}
}
