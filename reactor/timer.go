package reactor

import (
	"sync"
	"time"
)

// Timer is a waitable deadline, bound to a Context. Handlers passed to AsyncWait are queued on the
// Context once the deadline passes, or when the wait is cancelled.
//
// A new Timer has a zero expiry, which has already passed.
type Timer struct {
	c *Context

	mu     sync.Mutex
	expiry time.Time
	// incremented whenever the deadline changes, so that stale wakeups are ignored
	gen   uint64
	clock *time.Timer
	waits []timerWait
}

type timerWait struct {
	op *Op
	fn func(error)
}

// NewTimer returns a new Timer for c.
func NewTimer(c *Context) *Timer {
	return &Timer{c: c}
}

// Context returns the Context the timer schedules its handlers on.
func (t *Timer) Context() *Context {
	return t.c
}

// Expiry returns the current deadline.
func (t *Timer) Expiry() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.expiry
}

// ExpiresAfter sets the deadline to d from now. Any pending waits are cancelled, completing with
// ErrOperationAborted; the number of cancelled waits is returned.
func (t *Timer) ExpiresAfter(d time.Duration) int {
	t.mu.Lock()
	waits := t.resetLocked()
	t.expiry = time.Now().Add(d)

	gen := t.gen
	t.clock = time.AfterFunc(d, func() { t.fire(gen) })
	t.mu.Unlock()

	completeAll(waits, ErrOperationAborted)
	return len(waits)
}

// AsyncWait queues fn once the deadline passes. If it has already passed, fn is queued
// immediately. fn receives nil on expiry, or ErrOperationAborted if the wait was cancelled.
//
// AsyncWait never calls fn inline.
func (t *Timer) AsyncWait(fn func(error)) {
	op := t.c.BeginOp()

	t.mu.Lock()
	if !time.Now().Before(t.expiry) {
		t.mu.Unlock()
		op.Complete(func() { fn(nil) })
		return
	}
	t.waits = append(t.waits, timerWait{op: op, fn: fn})
	t.mu.Unlock()
}

// Cancel completes all pending waits with ErrOperationAborted, returning how many there were. The
// deadline is unchanged, so later waits still complete when it passes.
func (t *Timer) Cancel() int {
	t.mu.Lock()
	waits := t.waits
	t.waits = nil
	t.mu.Unlock()

	completeAll(waits, ErrOperationAborted)
	return len(waits)
}

// must be called with t.mu held
func (t *Timer) resetLocked() []timerWait {
	if t.clock != nil {
		t.clock.Stop()
		t.clock = nil
	}
	t.gen += 1

	waits := t.waits
	t.waits = nil
	return waits
}

func (t *Timer) fire(gen uint64) {
	t.mu.Lock()
	if gen != t.gen {
		t.mu.Unlock()
		return
	}
	t.clock = nil
	waits := t.waits
	t.waits = nil
	t.mu.Unlock()

	completeAll(waits, nil)
}

func completeAll(waits []timerWait, err error) {
	for _, w := range waits {
		fn := w.fn
		w.op.Complete(func() { fn(err) })
	}
}
