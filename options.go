package ioapp

import (
	"github.com/joeycumines/logiface"

	"github.com/sharnoff/ioapp/reactor"
)

// Option configures an App, see New.
type Option func(*options)

type options struct {
	logger *logiface.Logger[logiface.Event]
	ctx    *reactor.Context
	sigs   []any
}

// WithLogger sets the logger for lifecycle events. Log lines carry the app's ID. A nil logger (the
// default) disables logging.
func WithLogger(logger *logiface.Logger[logiface.Event]) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithContext runs the app on an existing reactor.Context, rather than creating a new one.
func WithContext(ctx *reactor.Context) Option {
	return func(o *options) {
		o.ctx = ctx
	}
}

// WithSignals sets the OS signals that a SignalListenerApp requests exit on. The default is
// SIGINT and SIGTERM. It has no effect on a plain App.
func WithSignals(sigs ...any) Option {
	return func(o *options) {
		o.sigs = sigs
	}
}
