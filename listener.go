package ioapp

import (
	"context"
	"os"
	"syscall"

	"github.com/sharnoff/ioapp/ccy"
)

// SignalTarget is anything that can be asked to exit. *App implements it.
type SignalTarget interface {
	RequestExit(reason int) bool
}

// DefaultSignals are the OS signals that ListenSignals uses if none are given.
var DefaultSignals = []any{os.Interrupt, syscall.SIGTERM}

// SignalListener requests exit on its target when any of a fixed set of signals is triggered.
type SignalListener struct {
	mgr *SignalManager
}

// ListenSignals registers target to have RequestExit called when any of sigs is triggered on mgr.
// OS signals are forwarded from the OS, and request exit with the signal number as the reason.
// Other signals use reason 0. If no signals are given, DefaultSignals is used.
//
// Registration is made on a child of mgr, so closing the listener doesn't affect mgr. If mgr is
// already stopping, nothing is registered and the returned listener's Close does nothing.
func ListenSignals(mgr *SignalManager, target SignalTarget, sigs ...any) *SignalListener {
	if len(sigs) == 0 {
		sigs = DefaultSignals
	}

	child := mgr.NewChild()
	if child == mgr {
		return &SignalListener{}
	}
	for _, sig := range sigs {
		reason := 0
		if s, ok := sig.(syscall.Signal); ok {
			reason = int(s)
		}
		_ = child.On(sig, context.Background(), func(context.Context) error {
			target.RequestExit(reason)
			return nil
		})
	}
	return &SignalListener{mgr: child}
}

// Close stops future signals from requesting exit, and stops forwarding them from the OS.
func (l *SignalListener) Close() {
	if l.mgr != nil {
		l.mgr.Stop()
	}
}

// SignalListenerApp is an App that requests its own exit on OS termination signals.
type SignalListenerApp[P ccy.Policy] struct {
	*App[P]
	listener *SignalListener
}

// NewSignalListenerApp creates an App (see New) that listens for the signals given by
// WithSignals, or DefaultSignals.
func NewSignalListenerApp[P ccy.Policy](hooks Hooks, opts ...Option) *SignalListenerApp[P] {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	app := New[P](hooks, opts...)
	return &SignalListenerApp[P]{
		App:      app,
		listener: ListenSignals(app.Signals(), app, o.sigs...),
	}
}

// CloseSignalListening stops signals from requesting exit.
func (a *SignalListenerApp[P]) CloseSignalListening() {
	a.listener.Close()
}
