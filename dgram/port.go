package dgram

import (
	"github.com/sharnoff/ioapp/ccy"
	"github.com/sharnoff/ioapp/reactor"
)

// Port is a Device whose handlers are functions that can be replaced at any time, so that one
// device type serves many protocols without defining a Handler for each.
//
// Under the ccy.Safe policy, replacing a handler is synchronized with reading it for an event, and
// events are delivered one at a time. The port's lock is not held while a handler runs, so a
// handler may replace itself (or any other handler) from within the call. It follows that a Set
// method can return while the previous handler is still finishing a call that started before the
// replacement; every event that starts afterwards sees the new handler.
//
// Under the other policies, handlers must not be replaced while the port is running.
type Port[M Message, P ccy.Policy] struct {
	*Device[M, P]

	mu      ccy.Mutex[P]
	onData  func(M)
	onError func(ErrorCase, error)
	onSent  func()
}

// NewPort creates an unbound port with no handlers. Events with no handler set are dropped.
func NewPort[M Message, P ccy.Policy](ctx *reactor.Context, opts ...Option) *Port[M, P] {
	p := &Port[M, P]{}
	p.Device = NewDevice[M, P](ctx, portHandler[M, P]{p}, opts...)
	return p
}

// SetDataHandler sets the function called with each received datagram.
func (p *Port[M, P]) SetDataHandler(fn func(msg M)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onData = fn
}

// SetErrorHandler sets the function called with each error.
func (p *Port[M, P]) SetErrorHandler(fn func(c ErrorCase, err error)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onError = fn
}

// SetSentHandler sets the function called after each successful send.
func (p *Port[M, P]) SetSentHandler(fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onSent = fn
}

type portHandler[M Message, P ccy.Policy] struct {
	p *Port[M, P]
}

func (h portHandler[M, P]) OnReceived(msg M) {
	h.p.mu.Lock()
	fn := h.p.onData
	h.p.mu.Unlock()

	if fn != nil {
		fn(msg)
	}
}

func (h portHandler[M, P]) OnSent() {
	h.p.mu.Lock()
	fn := h.p.onSent
	h.p.mu.Unlock()

	if fn != nil {
		fn()
	}
}

func (h portHandler[M, P]) OnError(c ErrorCase, err error) {
	h.p.mu.Lock()
	fn := h.p.onError
	h.p.mu.Unlock()

	if fn != nil {
		fn(c, err)
	}
}
