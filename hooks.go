package ioapp

// Hooks are the points at which an App calls into the application.
//
// Under policies where ccy.Policy.InternalCallSafe is true, OnStarted and OnStopped are serialized
// across all of the app's goroutines. Otherwise they may run concurrently.
//
// A hook that panics does not bring down the app: the panic is recovered, logged, and made
// available through App.Err.
type Hooks interface {
	// OnStarted is called by each run loop goroutine, before it starts executing handlers.
	OnStarted()
	// OnExit is called exactly once, on the reactor, after the first call to App.RequestExit. It
	// returns the app's exit code.
	OnExit(reason int) int
	// OnStopped is called by each run loop goroutine, after it has finished executing handlers.
	OnStopped()
}

// Preparer may be implemented by Hooks that need to do something once, before any goroutine
// starts running the app.
type Preparer interface {
	Prepare()
}

// NopHooks implements Hooks by doing nothing. It's intended to be embedded, so that applications
// only need to implement the hooks they care about.
//
// NopHooks.OnExit returns the exit reason as the exit code.
type NopHooks struct{}

func (NopHooks) OnStarted()            {}
func (NopHooks) OnExit(reason int) int { return reason }
func (NopHooks) OnStopped()            {}
