// Package timer attaches chains of callbacks to reactor timers.
//
// [Wait] arms a one-shot timer, and [Every] a repeating one. Any number of callbacks can be
// attached to the same underlying timer:
//
//	timer.Wait(ctx, 5*time.Second).
//		ThenFunc(func(err error) { ... }).
//		Then(someCallback)
//
// One-shot callbacks ([Timer.Then]) are each invoked exactly once, in the order they were
// attached, when the timer expires or is cancelled. Repeating callbacks ([Timer.Repeat]) are
// invoked on every expiry until they ask to stop; the timer re-arms itself for as long as any
// repeating callback remains.
//
// Cancellation is reported to callbacks as an error matching [reactor.ErrOperationAborted].
//
// A [Weak] handle refers to a timer without keeping it alive, so that a timer can be cancelled by
// something other than its owner.
package timer

import (
	"sync"
	"time"
	"weak"

	"github.com/sharnoff/ioapp/reactor"
)

// Callback is invoked once, with nil on expiry or an error if the wait was cancelled or failed.
type Callback interface {
	Fire(err error)
}

// Func adapts an ordinary function (or method value) to a Callback.
type Func func(err error)

func (f Func) Fire(err error) { f(err) }

// RepeatCallback is invoked on every expiry of a repeating timer. Returning true stops the
// callback from being invoked again.
type RepeatCallback interface {
	Repeat(err error) (stop bool)
}

// RepeatFunc adapts an ordinary function (or method value) to a RepeatCallback.
type RepeatFunc func(err error) (stop bool)

func (f RepeatFunc) Repeat(err error) bool { return f(err) }

// Timer is a reactor timer with a chain of callbacks attached to it.
type Timer struct {
	rt       *reactor.Timer
	interval time.Duration

	mu       sync.Mutex
	once     []Callback
	repeat   []RepeatCallback
	armed    bool
	firing   bool
	stopping bool
	closed   bool
	fired    int
}

// Wait arms a one-shot timer on ctx, expiring after d. Attach callbacks with Then.
func Wait(ctx *reactor.Context, d time.Duration) *Timer {
	return newTimer(ctx, d)
}

// Every arms a repeating timer on ctx, first expiring after d. Attach callbacks with Repeat.
//
// After each expiry, the next deadline is d after the time the expiry was handled - not after the
// previous deadline. Under load, the effective period is therefore longer than d, and the drift
// accumulates.
func Every(ctx *reactor.Context, d time.Duration) *Timer {
	return newTimer(ctx, d)
}

func newTimer(ctx *reactor.Context, d time.Duration) *Timer {
	t := &Timer{rt: reactor.NewTimer(ctx), interval: d}
	t.rt.ExpiresAfter(d)
	return t
}

// Interval returns the duration the timer was created with.
func (t *Timer) Interval() time.Duration {
	return t.interval
}

// Expiry returns the current deadline of the underlying timer.
func (t *Timer) Expiry() time.Time {
	return t.rt.Expiry()
}

// Fired returns the number of times the timer has completed (by expiry or cancellation).
func (t *Timer) Fired() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.fired
}

// Then attaches a one-shot callback. If the timer already expired, cb is invoked as soon as
// possible, with a nil error.
func (t *Timer) Then(cb Callback) *Timer {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.once = append(t.once, cb)
	t.armLocked()
	return t
}

// ThenFunc is shorthand for Then(Func(fn)).
func (t *Timer) ThenFunc(fn func(err error)) *Timer {
	return t.Then(Func(fn))
}

// Repeat attaches a repeating callback.
func (t *Timer) Repeat(cb RepeatCallback) *Timer {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.repeat = append(t.repeat, cb)
	t.armLocked()
	return t
}

// RepeatFunc is shorthand for Repeat(RepeatFunc(fn)).
func (t *Timer) RepeatFunc(fn func(err error) (stop bool)) *Timer {
	return t.Repeat(RepeatFunc(fn))
}

// Cancel cancels the pending wait, if there is one. Attached callbacks are invoked with an error
// matching reactor.ErrOperationAborted, and repeating callbacks are dropped. Cancel returns the
// number of waits that were cancelled (0 or 1).
//
// Called from within a callback, Cancel stops the expiry that is currently firing: repeating
// callbacks are dropped instead of re-armed, and one-shot callbacks attached during the firing
// are invoked with the aborted error.
func (t *Timer) Cancel() int {
	t.mu.Lock()
	stopped := 0
	if t.firing && !t.stopping {
		t.stopping = true
		stopped = 1
	}
	t.mu.Unlock()

	return stopped + t.rt.Cancel()
}

// Close cancels the timer and invalidates all Weak handles to it. Callbacks attached afterwards
// are never invoked.
func (t *Timer) Close() {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()

	t.rt.Cancel()
}

// must be called with t.mu held
func (t *Timer) armLocked() {
	if t.armed || t.firing || t.closed {
		return
	}
	t.armed = true
	t.rt.AsyncWait(t.fire)
}

func (t *Timer) fire(err error) {
	t.mu.Lock()
	once := t.once
	reps := t.repeat
	t.once = nil
	t.armed = false
	t.firing = true
	t.fired += 1
	t.mu.Unlock()

	for _, cb := range once {
		cb.Fire(err)
	}

	var keep []RepeatCallback
	for _, cb := range reps {
		if !cb.Repeat(err) {
			keep = append(keep, cb)
		}
	}

	t.mu.Lock()
	t.firing = false

	// callbacks attached while firing were appended after reps
	added := t.repeat[len(reps):]
	var aborted []Callback
	if err != nil || t.stopping {
		// errors, including cancellation, stop repeating permanently
		t.repeat = nil
	} else {
		t.repeat = append(keep, added...)
	}
	if t.stopping {
		t.stopping = false
		aborted = t.once
		t.once = nil
	}

	if !t.closed {
		if len(t.repeat) != 0 {
			t.rt.ExpiresAfter(t.interval)
			t.armLocked()
		} else if len(t.once) != 0 {
			t.armLocked()
		}
	}
	t.mu.Unlock()

	for _, cb := range aborted {
		cb.Fire(reactor.ErrOperationAborted)
	}
}

// Weak is a non-owning reference to a Timer. The zero value refers to no timer.
type Weak struct {
	p weak.Pointer[Timer]
}

// Weak returns a weak handle to t.
func (t *Timer) Weak() Weak {
	return Weak{p: weak.Make(t)}
}

// Lock returns the timer, if it still exists and has not been closed.
func (w Weak) Lock() (*Timer, bool) {
	t := w.p.Value()
	if t == nil {
		return nil, false
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, false
	}
	return t, true
}

// Expired returns whether the timer no longer exists, or has been closed.
func (w Weak) Expired() bool {
	_, ok := w.Lock()
	return !ok
}

// Cancel cancels the referenced timer, if it still exists. Cancelling through a handle to a timer
// that was closed or garbage collected is a no-op. Cancel returns whether a pending wait (or the
// expiry currently firing) was cancelled.
func (w Weak) Cancel() bool {
	t, ok := w.Lock()
	if !ok {
		return false
	}
	return t.Cancel() != 0
}
