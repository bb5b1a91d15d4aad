package ioapp

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/joeycumines/logiface"

	"github.com/sharnoff/ioapp/ccy"
	"github.com/sharnoff/ioapp/reactor"
)

var (
	// ErrThreadsNotOwned is returned by App.Launch under policies that don't own their threads.
	// Those apps are run with App.Run instead.
	ErrThreadsNotOwned = errors.New("ioapp: policy does not own threads; use Run")
	// ErrOwnsThreads is returned by App.Run under policies that own their threads. Those apps are
	// started with App.Launch instead.
	ErrOwnsThreads = errors.New("ioapp: policy owns threads; use Launch")
	// ErrAlreadyStarted is returned by App.Launch and App.Run if the app was already started.
	ErrAlreadyStarted = errors.New("ioapp: already started")
)

// App drives a reactor.Context through the lifecycle described by State, calling into its Hooks
// along the way. The policy P decides who runs the loop, and whether hooks are serialized.
//
// Construct an App with New.
type App[P ccy.Policy] struct {
	id      uuid.UUID
	hooks   Hooks
	ctx     *reactor.Context
	guard   *reactor.WorkGuard
	signals *SignalManager
	workers *TaskGroup
	logger  *logiface.Logger[logiface.Event]

	hookMu  ccy.Mutex[P]
	prepare sync.Once

	state         stateCell
	started       atomic.Bool
	exitRequested atomic.Bool
	returnCode    atomic.Int64
	threads       atomic.Int32

	errMu sync.Mutex
	err   error
}

// New creates an App in StateCreated. The app starts holding work on its reactor.Context, which
// it releases on the first call to RequestExit.
func New[P ccy.Policy](hooks Hooks, opts ...Option) *App[P] {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	id := uuid.New()
	logger := o.logger.Clone().
		Str("app", id.String()).
		Str("policy", ccy.Traits[P]().Name).
		Logger()

	ctx := o.ctx
	if ctx == nil {
		ctx = reactor.New(reactor.WithLogger(logger))
	}

	a := &App[P]{
		id:      id,
		hooks:   hooks,
		ctx:     ctx,
		guard:   ctx.NewWorkGuard(),
		signals: NewSignalManager(),
		workers: NewTaskGroup("workers"),
		logger:  logger,
	}
	a.signals.logger = logger
	a.returnCode.Store(-1)
	return a
}

// ID returns the app's unique instance ID, which is also attached to its log lines.
func (a *App[P]) ID() uuid.UUID {
	return a.id
}

// Context returns the reactor.Context the app runs.
func (a *App[P]) Context() *reactor.Context {
	return a.ctx
}

// Signals returns the app's SignalManager. The Exit signal is triggered on it after OnExit.
func (a *App[P]) Signals() *SignalManager {
	return a.signals
}

// State returns the furthest lifecycle state reached so far.
func (a *App[P]) State() State {
	return a.state.load()
}

// Prepare calls Prepare on the app's hooks, if they implement Preparer. Only the first call has
// any effect. Launch and Run call it automatically.
func (a *App[P]) Prepare() {
	a.prepare.Do(func() {
		if p, ok := a.hooks.(Preparer); ok {
			a.callHook("Prepare", p.Prepare)
		}
		a.state.advance(StatePrepared)
	})
}

// Launch prepares the app and starts n goroutines running its loop, returning without waiting
// for them. n is clamped to what the policy allows (at least 1). Wait for the goroutines to
// finish with Join.
//
// Launch returns ErrThreadsNotOwned if the policy doesn't own its threads.
func (a *App[P]) Launch(n int) error {
	var p P
	if !p.OwnsThreads() {
		return ErrThreadsNotOwned
	} else if !a.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	a.Prepare()
	n = ccy.ClampThreads[P](n)
	a.logger.Info().Int("threads", n).Log("launching app")

	for i := 0; i < n; i += 1 {
		name := fmt.Sprintf("worker-%d", i)
		a.workers.Add(name)
		a.threads.Add(1)
		go func() {
			defer a.workers.Done(name)
			a.runLoop(name)
		}()
	}
	return nil
}

// Run prepares the app and runs its loop on the calling goroutine, returning once the loop has
// finished. The returned code is the one returned by OnExit, or -1 if the loop finished without
// exit being requested (e.g. because the reactor was stopped).
//
// Run returns ErrOwnsThreads if the policy owns its threads.
func (a *App[P]) Run() (int, error) {
	var p P
	if p.OwnsThreads() {
		return -1, ErrOwnsThreads
	} else if !a.started.CompareAndSwap(false, true) {
		return -1, ErrAlreadyStarted
	}

	a.Prepare()
	a.threads.Add(1)
	a.runLoop("main")
	return a.ReturnCode(), nil
}

// runLoop runs one goroutine's share of the app. The caller must have already counted it in
// a.threads.
func (a *App[P]) runLoop(name string) {
	logger := a.logger.Clone().Str("loop", name).Logger()

	a.state.advance(StateRunning)
	a.hookMu.Do(func() { a.callHook("OnStarted", a.hooks.OnStarted) })
	logger.Debug().Log("loop started")

	n := a.ctx.Run()

	a.hookMu.Do(func() { a.callHook("OnStopped", a.hooks.OnStopped) })
	logger.Debug().Int("handlers", n).Log("loop stopped")

	if a.threads.Add(-1) == 0 {
		a.state.advance(StateStopped)
	}
}

// RequestExit schedules the call to OnExit on the reactor and releases the app's hold on it, so
// that the run loops return once the remaining work has drained. It may be called from any
// goroutine, any number of times. Only the first call has any effect; RequestExit returns true
// for that call only.
//
// After OnExit returns, the Exit signal is triggered on the app's SignalManager.
func (a *App[P]) RequestExit(reason int) bool {
	if !a.exitRequested.CompareAndSwap(false, true) {
		return false
	}

	a.state.advance(StateExitRequested)
	a.logger.Info().Int("reason", reason).Log("exit requested")

	a.ctx.Dispatch(func() {
		code := reason
		a.callHook("OnExit", func() { code = a.hooks.OnExit(reason) })
		a.returnCode.Store(int64(code))

		ctx := withExitCode(context.Background(), code)
		if err := a.signals.Trigger(Exit, ctx); err != nil {
			a.logger.Warning().Err(err).Log("exit callback failed")
		}
	})
	return a.guard.Reset()
}

// ExitRequested returns whether RequestExit has been called.
func (a *App[P]) ExitRequested() bool {
	return a.exitRequested.Load()
}

// ReturnCode returns the code returned by OnExit, or -1 if it hasn't returned yet.
func (a *App[P]) ReturnCode() int {
	return int(a.returnCode.Load())
}

// Join blocks until every goroutine started by Launch has returned. Afterwards no more hooks are
// called. It returns immediately if Launch was never called.
func (a *App[P]) Join() {
	<-a.workers.Wait()
}

// TryJoin is like Join, but returns early with ctx.Err() if the context is canceled.
func (a *App[P]) TryJoin(ctx context.Context) error {
	return a.workers.TryWait(ctx)
}

// ThreadCount returns the number of goroutines currently running the app's loop.
func (a *App[P]) ThreadCount() int {
	return int(a.threads.Load())
}

// Running returns whether any goroutine is running the app's loop.
func (a *App[P]) Running() bool {
	return a.ThreadCount() != 0
}

// Workers returns the goroutines started by Launch that haven't yet returned.
func (a *App[P]) Workers() []TaskInfo {
	return a.workers.Tasks()
}

// CallIsSafe returns whether the calling goroutine may use the app without further
// synchronization: the policy must consider such calls safe, and the caller must be one of the
// goroutines running the app's loop.
func (a *App[P]) CallIsSafe() bool {
	var p P
	return p.ExternalCallSafe() && a.ctx.RunningInThisThread()
}

// CallIsInApp returns whether the calling goroutine is one of the goroutines running the app's
// loop.
func (a *App[P]) CallIsInApp() bool {
	return a.ctx.RunningInThisThread()
}

// Post schedules fn on the app's reactor.
func (a *App[P]) Post(fn func()) {
	a.ctx.Post(fn)
}

// Dispatch runs fn immediately if called from the app's loop, otherwise schedules it like Post.
func (a *App[P]) Dispatch(fn func()) {
	a.ctx.Dispatch(fn)
}

// Err returns the first panic recovered from a hook, or nil. The error wraps a
// *reactor.PanicError.
func (a *App[P]) Err() error {
	a.errMu.Lock()
	defer a.errMu.Unlock()
	return a.err
}

// callHook calls fn, recovering and recording any panic.
func (a *App[P]) callHook(name string, fn func()) {
	defer func() {
		perr := reactor.Recover(recover())
		if perr == nil {
			return
		}

		a.logger.Err().
			Err(perr).
			Str("hook", name).
			Str("stack", perr.Stack.String()).
			Log("hook panicked")

		a.errMu.Lock()
		defer a.errMu.Unlock()
		if a.err == nil {
			a.err = fmt.Errorf("%s: %w", name, perr)
		}
	}()

	fn()
}
