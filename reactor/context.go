// Package reactor provides the event loop that the rest of this module schedules work on.
//
// A [Context] is a queue of ready handlers plus a count of outstanding work. Any number of
// goroutines may call [Context.Run] at the same time; each one executes ready handlers until the
// context runs out of work. Work is anything that may still produce a handler: a handler that has
// been posted but not yet executed, an asynchronous operation that has started but not yet
// completed ([Op]), or a keep-alive token ([WorkGuard]).
//
// Once the outstanding work reaches zero, the context is stopped and every call to Run returns.
// A stopped context can be reused after calling [Context.Restart].
package reactor

import (
	"sync"
	"sync/atomic"

	"github.com/joeycumines/logiface"

	"github.com/sharnoff/ioapp/internal/trace"
)

// Context is the event loop. The zero value is not usable; construct one with New.
type Context struct {
	mu   sync.Mutex
	cond sync.Cond

	queue   []func()
	head    int
	work    int
	stopped bool
	// goroutine ids currently inside Run, mapped to their nesting depth
	runners map[uint64]int

	executed atomic.Uint64

	logger  *logiface.Logger[logiface.Event]
	onPanic func(*PanicError)
}

// New creates a new Context with no outstanding work.
func New(opts ...Option) *Context {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	c := &Context{
		runners: make(map[uint64]int),
		logger:  o.logger,
		onPanic: o.onPanic,
	}
	c.cond.L = &c.mu
	return c
}

// Post schedules fn to be executed by one of the goroutines running the Context. It never executes
// fn inline. Post is safe to call from any goroutine.
func (c *Context) Post(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.work += 1
	c.push(fn)
}

// Dispatch executes fn immediately if the calling goroutine is currently running the Context, and
// otherwise behaves like Post.
func (c *Context) Dispatch(fn func()) {
	if c.RunningInThisThread() {
		c.execute(fn)
		return
	}
	c.Post(fn)
}

// must be called with c.mu held
func (c *Context) push(fn func()) {
	c.queue = append(c.queue, fn)
	c.cond.Signal()
}

// must be called with c.mu held, and the queue non-empty
func (c *Context) pop() func() {
	fn := c.queue[c.head]
	c.queue[c.head] = nil
	c.head += 1

	// reclaim the consumed prefix once it dominates the slice
	if c.head == len(c.queue) {
		c.queue = c.queue[:0]
		c.head = 0
	} else if c.head > 64 && c.head*2 > len(c.queue) {
		n := copy(c.queue, c.queue[c.head:])
		c.queue = c.queue[:n]
		c.head = 0
	}
	return fn
}

// Run executes handlers on the calling goroutine until the Context has no more outstanding work,
// or until Stop is called. It returns the number of handlers executed by this call.
//
// Run may be called from many goroutines at once; handlers are distributed among them.
func (c *Context) Run() int {
	id := trace.Goroutine()

	c.mu.Lock()
	c.runners[id] += 1
	defer func() {
		if c.runners[id] -= 1; c.runners[id] == 0 {
			delete(c.runners, id)
		}
		c.mu.Unlock()
	}()

	count := 0
	for {
		for c.head == len(c.queue) && c.work > 0 && !c.stopped {
			c.cond.Wait()
		}

		if c.stopped || c.work == 0 {
			c.stopped = true
			c.cond.Broadcast()
			return count
		}

		fn := c.pop()
		c.mu.Unlock()
		c.execute(fn)
		count += 1
		c.mu.Lock()

		// the handler counted as work until now, so that it could schedule more before the
		// context was considered finished.
		c.work -= 1
	}
}

// Stop makes every current and future call to Run return as soon as possible, without waiting
// for outstanding work. Handlers that were queued remain queued.
func (c *Context) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stopped = true
	c.cond.Broadcast()
}

// Stopped returns whether the Context is stopped, either explicitly via Stop or because it ran out
// of work.
func (c *Context) Stopped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopped
}

// Restart clears the stopped state, so that Run may be called again. It must not be called while
// any goroutine is still inside Run.
func (c *Context) Restart() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopped = false
}

// RunningInThisThread returns whether the calling goroutine is currently inside Run for this
// Context.
func (c *Context) RunningInThisThread() bool {
	id := trace.Goroutine()

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.runners[id] != 0
}

// Executed returns the total number of handlers executed over the lifetime of the Context.
func (c *Context) Executed() uint64 {
	return c.executed.Load()
}

// Outstanding returns the current amount of outstanding work. It's mostly useful for tests and
// diagnostics, because the value may change immediately.
func (c *Context) Outstanding() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.work
}

func (c *Context) addWork() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.work += 1
}

func (c *Context) finishWork() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.work -= 1
	if c.work == 0 {
		// wake up idle runners so they notice there's nothing left
		c.cond.Broadcast()
	}
}

// execute runs fn, recovering and reporting any panic.
func (c *Context) execute(fn func()) {
	defer c.executed.Add(1)
	defer func() {
		if perr := Recover(recover()); perr != nil {
			c.logger.Err().
				Err(perr).
				Str("stack", perr.Stack.String()).
				Log("reactor: handler panicked")
			if c.onPanic != nil {
				c.onPanic(perr)
			}
		}
	}()

	fn()
}
