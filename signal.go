package ioapp

import (
	"context"
	"fmt"
	"os"
	ossignal "os/signal" // rename so we can have function args named 'signal'
	"sync"

	"github.com/joeycumines/logiface"
	"golang.org/x/exp/slices"
)

// Exit is the signal triggered on an App's SignalManager once OnExit has returned. Callbacks
// registered for it can fetch the exit code with ExitCode.
var Exit exitSignal

type exitSignal struct{}

func (exitSignal) String() string { return "exit" }

type exitCodeKey struct{}

func withExitCode(ctx context.Context, code int) context.Context {
	return context.WithValue(ctx, exitCodeKey{}, code)
}

// ExitCode returns the exit code carried by the context passed to callbacks for the Exit signal.
func ExitCode(ctx context.Context) (int, bool) {
	code, ok := ctx.Value(exitCodeKey{}).(int)
	return code, ok
}

// SignalRegister is the registration half of a SignalManager.
type SignalRegister interface {
	On(signal any, immediateCtx context.Context, callbacks ...func(context.Context) error) error
	WithErrorHandler(handler func(context.Context, error) error) SignalRegister
}

// SignalManager runs callbacks when signals are triggered. A signal is any comparable value; each
// one triggers at most once per manager.
//
// Values implementing os.Signal are special: registering a callback for one (or fetching its
// Context) starts forwarding deliveries of that OS signal into the manager.
//
// Triggering a signal also triggers it in all child managers, but not in the parent. Callbacks and
// children are processed newest first. An error returned by a callback (and not handled by its
// error handler) stops the processing of the rest.
type SignalManager struct {
	mu sync.Mutex

	parent     *SignalManager
	idInParent int
	children   []*SignalManager

	signals map[any]signalEntry
	nextID  int
	// set by Stop; cleanup is only done once all children have also stopped
	stopping bool
	stopped  bool

	logger *logiface.Logger[logiface.Event]
}

type signalRegisterWithErrorHandler struct {
	r          SignalRegister
	errHandler func(context.Context, error) error
}

type signalEntry struct {
	ctx    context.Context
	cancel context.CancelFunc

	callbacks []signalCallback
	// stops OS signal forwarding, if it was set up
	unnotify  func()
	triggered bool
	// triggered only because the parent was already triggered when this manager was created
	inherited bool
	ignored   bool
}

type signalCallback struct {
	id    int
	f     func(context.Context) error
	onErr func(context.Context, error) error
}

// NewSignalManager creates a new root SignalManager.
func NewSignalManager() *SignalManager {
	return &SignalManager{
		signals: make(map[any]signalEntry),
	}
}

// NewChild creates a SignalManager that's triggered whenever m is. Signals already triggered in m
// are treated as triggered in the child, unless the child calls Ignore.
//
// If m was stopped, NewChild returns m itself.
func (m *SignalManager) NewChild() *SignalManager {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopping || m.stopped {
		return m
	}

	id := m.nextID
	m.nextID += 1

	child := &SignalManager{
		parent:     m,
		idInParent: id,
		signals:    make(map[any]signalEntry),
		logger:     m.logger,
	}

	for sig, e := range m.signals {
		if e.triggered {
			child.signals[sig] = signalEntry{triggered: true, inherited: true}
		}
	}

	m.children = append(m.children, child)
	return child
}

// must be called with m.mu held
func (m *SignalManager) forwardOS(e *signalEntry, signal any) {
	if e.triggered || e.unnotify != nil {
		return
	}

	sig, ok := signal.(os.Signal)
	if !ok {
		return
	}

	ch := make(chan os.Signal, 1)
	ossignal.Notify(ch, sig)
	e.unnotify = func() {
		ossignal.Stop(ch)
		close(ch)
	}
	go func() {
		for range ch {
			m.logger.Info().Stringer("signal", sig).Log("received OS signal")
			_ = m.Trigger(signal, context.Background())
		}
	}()
}

// On registers callbacks to run when signal is triggered. If it was already triggered, the
// callbacks are run immediately with immediateCtx, and the first unhandled error is returned.
// Otherwise they're run by Trigger, with its context.
func (m *SignalManager) On(signal any, immediateCtx context.Context, callbacks ...func(context.Context) error) error {
	return m.on(signal, immediateCtx, nil, callbacks...)
}

// WithErrorHandler returns a SignalRegister whose callbacks pass any error through handler. If
// handler returns nil, the error is considered handled.
func (m *SignalManager) WithErrorHandler(handler func(context.Context, error) error) SignalRegister {
	return &signalRegisterWithErrorHandler{
		r:          m,
		errHandler: handler,
	}
}

func (r *signalRegisterWithErrorHandler) base() *SignalManager {
	for {
		switch inner := r.r.(type) {
		case *signalRegisterWithErrorHandler:
			r = inner
		case *SignalManager:
			return inner
		default:
			panic(fmt.Sprintf("unexpected SignalRegister type %T", inner))
		}
	}
}

func (r *signalRegisterWithErrorHandler) On(signal any, ctx context.Context, callbacks ...func(context.Context) error) error {
	return r.base().on(signal, ctx, r.errHandler, callbacks...)
}

func (r *signalRegisterWithErrorHandler) WithErrorHandler(handler func(context.Context, error) error) SignalRegister {
	if r.errHandler == nil {
		return &signalRegisterWithErrorHandler{r: r.r, errHandler: handler}
	}

	return &signalRegisterWithErrorHandler{
		r: r,
		errHandler: func(ctx context.Context, err error) error {
			err = handler(ctx, err)
			if err != nil {
				err = r.errHandler(ctx, err)
			}
			return err
		},
	}
}

func (m *SignalManager) on(signal any, ctx context.Context, errHandler func(context.Context, error) error, callbacks ...func(context.Context) error) error {
	m.mu.Lock()
	locked := true
	defer func() {
		if locked {
			m.mu.Unlock()
		}
	}()

	if m.stopping || m.stopped {
		return nil
	}

	e := m.signals[signal]
	m.forwardOS(&e, signal)

	if !e.triggered {
		for _, f := range callbacks {
			e.callbacks = append(e.callbacks, signalCallback{id: m.nextID, f: f, onErr: errHandler})
			m.nextID += 1
		}
		m.signals[signal] = e
		return nil
	}

	// already happened; run the callbacks ourselves, right now
	locked = false
	m.mu.Unlock()

	for i := len(callbacks) - 1; i >= 0; i -= 1 {
		err := callbacks[i](ctx)
		if err != nil && errHandler != nil {
			err = errHandler(ctx, err)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

var canceledContext = func() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	return ctx
}()

// Context returns a context that's canceled when signal is triggered (or m is stopped).
func (m *SignalManager) Context(signal any) context.Context {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopping || m.stopped {
		return canceledContext
	}

	e := m.signals[signal]
	if e.triggered {
		return canceledContext
	} else if e.ctx != nil {
		return e.ctx
	}

	m.forwardOS(&e, signal)
	e.ctx, e.cancel = context.WithCancel(context.Background())
	m.signals[signal] = e
	return e.ctx
}

// Triggered returns whether signal has been triggered in m.
func (m *SignalManager) Triggered(signal any) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.signals[signal].triggered
}

// Trigger triggers signal in m and all of its children, running the registered callbacks with
// ctx. It returns the first unhandled error from a callback. Triggering a signal that was already
// triggered does nothing.
func (m *SignalManager) Trigger(signal any, ctx context.Context) error {
	return m.trigger(signal, ctx, true)
}

func (m *SignalManager) trigger(signal any, ctx context.Context, explicit bool) error {
	m.mu.Lock()
	locked := true
	defer func() {
		if locked {
			m.mu.Unlock()
		}
	}()

	if m.stopping || m.stopped {
		return nil
	}

	e := m.signals[signal]
	if e.triggered {
		if e.inherited && explicit {
			e.inherited = false
			m.signals[signal] = e
		}
		return nil
	} else if e.ignored && !explicit {
		return nil
	}

	if e.cancel != nil {
		e.cancel()
	}
	// no other goroutine writes to e once this is set, so it's safe to read without the lock
	e.triggered = true
	m.signals[signal] = e

	if explicit {
		m.logger.Debug().Str("signal", fmt.Sprint(signal)).Log("signal triggered")
	}

	cbIdx := len(e.callbacks) - 1
	childIdx := len(m.children) - 1

	// callbacks and children share one id sequence, so newest-first order interleaves them
	var err error
	for err == nil && (cbIdx >= 0 || childIdx >= 0) {
		cbID, childID := -1, -1
		if cbIdx >= 0 {
			cbID = e.callbacks[cbIdx].id
		}
		var child *SignalManager
		if childIdx >= 0 {
			child = m.children[childIdx]
			childID = child.idInParent
		}

		// callbacks and children may be reentrant, so they run without the lock
		locked = false
		m.mu.Unlock()

		if cbID > childID {
			cb := e.callbacks[cbIdx]
			if err = cb.f(ctx); err != nil && cb.onErr != nil {
				err = cb.onErr(ctx, err)
			}
			cbIdx -= 1
		} else {
			err = child.trigger(signal, ctx, false)
			childIdx -= 1
		}

		m.mu.Lock()
		locked = true
		// children may have stopped in the meantime
		if childIdx >= len(m.children) {
			childIdx = len(m.children) - 1
		}
	}

	// release the callbacks so they can be garbage collected
	e = m.signals[signal]
	e.callbacks = nil
	m.signals[signal] = e
	return err
}

// Ignore makes m ignore triggers of signal that come from its parent. Explicit calls to Trigger on
// m still take effect.
func (m *SignalManager) Ignore(signal any) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := m.signals[signal]
	e.ignored = true
	if e.inherited {
		e.triggered = false
		e.inherited = false
	}
	m.signals[signal] = e
}

// Stop stops m: no more callbacks are registered or run, and OS signal forwarding stops once all
// of m's children have stopped as well. A stopped child is removed from its parent.
func (m *SignalManager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopping || m.stopped {
		return
	}

	m.stopping = true
	m.finishStop()
}

// must be called with m.mu held
func (m *SignalManager) finishStop() {
	if !m.stopping || m.stopped || len(m.children) != 0 {
		return
	}

	m.stopped = true
	for _, e := range m.signals {
		if e.unnotify != nil {
			e.unnotify()
		}
	}

	if m.parent != nil {
		m.parent.mu.Lock()
		defer m.parent.mu.Unlock()

		idx := slices.IndexFunc(m.parent.children, func(c *SignalManager) bool { return c == m })
		if idx < 0 {
			panic("internal error: child SignalManager not found in parent")
		}
		m.parent.children = slices.Delete(m.parent.children, idx, idx+1)

		m.parent.finishStop()
	}
}
