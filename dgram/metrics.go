package dgram

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	received      prometheus.Counter
	bytesReceived prometheus.Counter
	sent          prometheus.Counter
	bytesSent     prometheus.Counter
	errors        *prometheus.CounterVec
}

// newMetrics returns nil if reg is nil; all methods on a nil *metrics are no-ops.
func newMetrics(reg prometheus.Registerer, device string) *metrics {
	if reg == nil {
		return nil
	}

	labels := prometheus.Labels{"device": device}
	counter := func(name, help string) prometheus.Counter {
		return register(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "ioapp",
			Subsystem:   "dgram",
			Name:        name,
			Help:        help,
			ConstLabels: labels,
		}))
	}

	return &metrics{
		received:      counter("datagrams_received_total", "Total datagrams received"),
		bytesReceived: counter("bytes_received_total", "Total bytes received"),
		sent:          counter("datagrams_sent_total", "Total datagrams sent"),
		bytesSent:     counter("bytes_sent_total", "Total bytes sent"),
		errors: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "ioapp",
			Subsystem:   "dgram",
			Name:        "errors_total",
			Help:        "Errors reported to the handler, by case",
			ConstLabels: labels,
		}, []string{"case"})),
	}
}

// register registers c, or returns the equivalent collector that was already registered, so that
// a device name can be reused (e.g. after closing and recreating a device).
func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

func (m *metrics) onReceived(n int) {
	if m == nil {
		return
	}
	m.received.Inc()
	m.bytesReceived.Add(float64(n))
}

func (m *metrics) onSent(n int) {
	if m == nil {
		return
	}
	m.sent.Inc()
	m.bytesSent.Add(float64(n))
}

func (m *metrics) onError(c ErrorCase) {
	if m == nil {
		return
	}
	m.errors.WithLabelValues(c.String()).Inc()
}
