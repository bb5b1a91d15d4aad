package reactor

import (
	"sync/atomic"
)

// WorkGuard is a keep-alive token: while it's held, the Context always has outstanding work, so
// Run does not return for lack of it.
type WorkGuard struct {
	c    *Context
	owns atomic.Bool
}

// NewWorkGuard returns a WorkGuard that holds one unit of work on c until Reset.
func (c *Context) NewWorkGuard() *WorkGuard {
	g := &WorkGuard{c: c}
	c.addWork()
	g.owns.Store(true)
	return g
}

// Reset releases the work held by the guard. Only the first call has any effect; Reset returns
// whether this call was the one that released it.
func (g *WorkGuard) Reset() bool {
	if !g.owns.CompareAndSwap(true, false) {
		return false
	}
	g.c.finishWork()
	return true
}

// OwnsWork returns whether the guard still holds its work, i.e. Reset has not been called.
func (g *WorkGuard) OwnsWork() bool {
	return g.owns.Load()
}

// Op represents an asynchronous operation in progress - typically some blocking call made on a
// separate goroutine. The operation counts as outstanding work until its completion handler has
// been executed (or the Op is abandoned).
type Op struct {
	c    *Context
	done atomic.Bool
}

// BeginOp registers the start of an asynchronous operation.
func (c *Context) BeginOp() *Op {
	c.addWork()
	return &Op{c: c}
}

// Complete queues fn as the operation's completion handler. The work held by the Op is transferred
// to the handler. Only the first call to Complete or Abandon has any effect; Complete returns
// whether fn was queued.
func (o *Op) Complete(fn func()) bool {
	if !o.done.CompareAndSwap(false, true) {
		return false
	}

	o.c.mu.Lock()
	defer o.c.mu.Unlock()
	o.c.push(fn)
	return true
}

// Abandon finishes the operation without a completion handler.
func (o *Op) Abandon() bool {
	if !o.done.CompareAndSwap(false, true) {
		return false
	}
	o.c.finishWork()
	return true
}
