package dgram

import (
	"github.com/joeycumines/logiface"
	"github.com/prometheus/client_golang/prometheus"
)

// ReadMode controls when a device issues its next receive.
type ReadMode int

const (
	// Continuous re-arms the receive as soon as OnReceived returns.
	Continuous ReadMode = iota
	// OnDemand waits for the owner to call ReadNext, which provides backpressure.
	OnDemand
)

// DefaultBufferSize is the default size of the receive buffer, large enough for any UDP payload.
const DefaultBufferSize = 65536

// Option configures a device, see NewDevice and NewPort.
type Option func(*options)

type options struct {
	mode       ReadMode
	bufSize    int
	reuseAddr  bool
	logger     *logiface.Logger[logiface.Event]
	registerer prometheus.Registerer
	name       string
}

func defaultOptions() options {
	return options{
		mode:    Continuous,
		bufSize: DefaultBufferSize,
	}
}

// WithReadMode sets the ReadMode. The default is Continuous.
func WithReadMode(mode ReadMode) Option {
	return func(o *options) {
		o.mode = mode
	}
}

// WithBufferSize sets the size of the receive buffer. Datagrams larger than the buffer are
// truncated. Sizes less than 1 are ignored.
func WithBufferSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.bufSize = n
		}
	}
}

// WithReuseAddr sets SO_REUSEADDR on sockets opened by the device. It has no effect on platforms
// without raw socket control.
func WithReuseAddr(reuse bool) Option {
	return func(o *options) {
		o.reuseAddr = reuse
	}
}

// WithLogger sets the logger for socket lifecycle events. A nil logger (the default) disables
// logging.
func WithLogger(logger *logiface.Logger[logiface.Event]) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithMetrics registers the device's counters with reg, labelled with the given device name. A
// nil registerer (the default) disables metrics.
func WithMetrics(reg prometheus.Registerer, name string) Option {
	return func(o *options) {
		o.registerer = reg
		o.name = name
	}
}
