package reactor

import (
	"github.com/joeycumines/logiface"
)

// Option configures a Context, see New.
type Option func(*options)

type options struct {
	logger  *logiface.Logger[logiface.Event]
	onPanic func(*PanicError)
}

// WithLogger sets the logger that the Context reports recovered panics to. A nil logger (the
// default) disables logging.
func WithLogger(logger *logiface.Logger[logiface.Event]) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithPanicHandler sets a function that is called, on the goroutine that recovered it, with each
// panic raised by a handler.
func WithPanicHandler(fn func(*PanicError)) Option {
	return func(o *options) {
		o.onPanic = fn
	}
}
