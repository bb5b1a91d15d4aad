// Package dgram provides asynchronous datagram (UDP) sockets driven by a reactor.Context.
//
// A [Device] owns one socket. Once bound, it keeps a single receive in flight and reports each
// datagram to its [Handler]; sends may be issued at any time, and each one owns a private copy of
// its message until it completes. Every failure is delivered to Handler.OnError, classified by
// [ErrorCase] - the device never retries on its own.
//
// A [Port] is a Device whose handlers are plain functions that can be swapped at runtime.
package dgram

import (
	"net"
	"net/netip"
	"sync"

	"github.com/joeycumines/logiface"
	"golang.org/x/exp/slices"

	"github.com/sharnoff/ioapp/ccy"
	"github.com/sharnoff/ioapp/reactor"
)

// Message is the set of types a device can deliver received datagrams as.
type Message interface {
	~[]byte | ~string
}

// Handler receives the events of a Device. All methods are called from goroutines running the
// device's reactor.Context; under the ccy.Safe policy, calls are serialized.
type Handler[M Message] interface {
	// OnReceived is called with the contents of each received datagram. The message is owned by
	// the handler.
	OnReceived(msg M)
	// OnSent is called once for each successful Send.
	OnSent()
	// OnError is called for every failure. Errors caused by the device cancelling its own
	// operations (e.g. on Close) satisfy IsAborted.
	OnError(c ErrorCase, err error)
}

// State is the binding state of a Device.
type State int

const (
	Unbound State = iota
	Bound
	Closed
)

func (s State) String() string {
	switch s {
	case Unbound:
		return "unbound"
	case Bound:
		return "bound"
	case Closed:
		return "closed"
	default:
		return "invalid"
	}
}

// Device is an asynchronous datagram socket. Construct one with NewDevice.
type Device[M Message, P ccy.Policy] struct {
	ctx     *reactor.Context
	h       Handler[M]
	opts    options
	logger  *logiface.Logger[logiface.Event]
	metrics *metrics

	// serializes handler calls, under policies that require it
	hmu ccy.Mutex[P]

	mu     sync.Mutex
	state  State
	sock   *socket
	remote netip.AddrPort
}

// socket is a single underlying socket. A device replaces its socket when rebinding; completions
// from the old one are recognized by comparing pointers.
type socket struct {
	conn  *net.UDPConn
	v6    bool
	bound bool
	local netip.AddrPort
	buf   []byte

	// set when replaced by a rebind: its pending receive must not be reported
	retired bool
	reading bool
	// whether OnReceived is currently running for a datagram from this socket
	inHandler bool
	// ReadNext was called during the handler
	readRequested bool
}

// NewDevice creates an unbound device that reports to h.
func NewDevice[M Message, P ccy.Policy](ctx *reactor.Context, h Handler[M], opts ...Option) *Device[M, P] {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	return &Device[M, P]{
		ctx:     ctx,
		h:       h,
		opts:    o,
		logger:  o.logger,
		metrics: newMetrics(o.registerer, o.name),
	}
}

// Context returns the reactor.Context the device schedules its handlers on.
func (d *Device[M, P]) Context() *reactor.Context {
	return d.ctx
}

// State returns the current binding state.
func (d *Device[M, P]) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// IsOpen returns whether the device has a socket, bound or not.
func (d *Device[M, P]) IsOpen() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sock != nil && d.state != Closed
}

// LocalAddr returns the address the device is bound to, if it's bound.
func (d *Device[M, P]) LocalAddr() (netip.AddrPort, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != Bound {
		return netip.AddrPort{}, false
	}
	return d.sock.local, true
}

// LastRemote returns the source address of the most recently received datagram, or the zero
// value if none has been received. IPv4 peers of an IPv6 device are reported as IPv4 addresses.
func (d *Device[M, P]) LastRemote() netip.AddrPort {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.remote
}

// Open opens an unbound socket for the given address family, which can be used to Send before (or
// without) binding. Opening an already open device is a no-op.
func (d *Device[M, P]) Open(v6 bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch {
	case d.state == Closed:
		return ErrClosed
	case d.sock != nil:
		return nil
	}

	conn, err := openSocket(v6, d.opts.reuseAddr)
	if err != nil {
		return err
	}
	d.sock = d.newSocket(conn, v6)
	return nil
}

func (d *Device[M, P]) newSocket(conn *net.UDPConn, v6 bool) *socket {
	return &socket{conn: conn, v6: v6, buf: make([]byte, d.opts.bufSize)}
}

// BindPort binds to the IPv4 any-address on the given port. Port 0 picks an ephemeral port.
func (d *Device[M, P]) BindPort(port uint16) {
	d.Bind(netip.AddrPortFrom(netip.IPv4Unspecified(), port))
}

// BindPortV6 binds to the IPv6 any-address on the given port. The socket also accepts IPv4
// traffic where the platform allows it.
func (d *Device[M, P]) BindPortV6(port uint16) {
	d.Bind(netip.AddrPortFrom(netip.IPv6Unspecified(), port))
}

// Bind binds the device to addr, and starts receiving.
//
// An open, unbound socket of the same address family is bound in place. Otherwise (including if
// the device is already bound) a new socket is bound to addr, and the old one is closed only once
// that succeeds. The old socket's pending receive is discarded without being reported.
//
// Failures are reported as OnError(Bind, err), and leave the device as it was.
func (d *Device[M, P]) Bind(addr netip.AddrPort) {
	v6 := addr.Addr().Is6() && !addr.Addr().Is4In6()

	d.mu.Lock()
	if d.state == Closed {
		d.mu.Unlock()
		d.reportLater(Bind, ErrClosed)
		return
	}

	var (
		sock  *socket
		local netip.AddrPort
		err   error
	)
	if d.sock != nil && !d.sock.bound && d.sock.v6 == v6 {
		if local, err = bindSocket(d.sock.conn, addr, v6); err == nil {
			sock = d.sock
		}
	}
	if sock == nil {
		// nothing to reuse, or the open socket was implicitly bound by sending from it
		var conn *net.UDPConn
		if conn, local, err = listenSocket(addr, v6, d.opts.reuseAddr); err == nil {
			sock = d.newSocket(conn, v6)
		}
	}
	if err != nil {
		d.mu.Unlock()
		d.logger.Debug().Err(err).Stringer("addr", addr).Log("dgram: bind failed")
		d.reportLater(Bind, err)
		return
	}

	if old := d.sock; old != nil && old != sock {
		old.retired = true
		old.conn.Close()
	}
	sock.bound = true
	sock.local = local
	d.sock = sock
	d.state = Bound
	d.armLocked()
	d.mu.Unlock()

	d.logger.Debug().Stringer("addr", local).Log("dgram: bound")
}

// ReadNext issues the next receive in OnDemand mode. Called from within OnReceived, the receive
// is issued once the handler returns. It has no effect if a receive is already in flight, or the
// device isn't bound.
func (d *Device[M, P]) ReadNext() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.sock != nil && d.sock.inHandler {
		d.sock.readRequested = true
		return
	}
	d.armLocked()
}

// must be called with d.mu held
func (d *Device[M, P]) armLocked() {
	sock := d.sock
	if d.state != Bound || sock.reading || sock.inHandler {
		return
	}
	sock.reading = true

	op := d.ctx.BeginOp()
	go func() {
		n, from, err := sock.conn.ReadFromUDPAddrPort(sock.buf)
		op.Complete(func() { d.received(sock, n, from, err) })
	}()
}

func (d *Device[M, P]) received(sock *socket, n int, from netip.AddrPort, err error) {
	d.mu.Lock()
	if sock.retired {
		d.mu.Unlock()
		return
	}

	if err != nil {
		sock.reading = false
		d.mu.Unlock()
		d.fail(Read, aborted(err))
		return
	}

	d.remote = netip.AddrPortFrom(from.Addr().Unmap(), from.Port())
	msg := M(slices.Clone(sock.buf[:n]))
	sock.inHandler = true
	d.mu.Unlock()

	d.metrics.onReceived(n)
	d.hmu.Do(func() { d.h.OnReceived(msg) })

	d.mu.Lock()
	defer d.mu.Unlock()
	sock.inHandler = false
	sock.reading = false
	if d.opts.mode == Continuous || sock.readRequested {
		sock.readRequested = false
		if d.sock == sock {
			d.armLocked()
		}
	}
}

// Send transmits msg to the given address. The message is copied, so the caller may reuse it
// immediately. OnSent or OnError(Connect, err) is called once the send completes.
func (d *Device[M, P]) Send(to netip.AddrPort, msg M) {
	d.mu.Lock()
	sock := d.sock
	closed := d.state == Closed
	d.mu.Unlock()

	if sock == nil || closed {
		d.reportLater(Connect, ErrNotOpen)
		return
	}

	buf := append([]byte(nil), msg...)
	to = mapAddr(to, sock.v6)

	op := d.ctx.BeginOp()
	go func() {
		n, err := sock.conn.WriteToUDPAddrPort(buf, to)
		op.Complete(func() {
			buf = nil
			if err != nil {
				d.fail(Connect, aborted(err))
				return
			}
			d.metrics.onSent(n)
			d.hmu.Do(d.h.OnSent)
		})
	}()
}

// Reply sends msg to LastRemote. It returns ErrNoRemote if no datagram has been received yet;
// every other failure is reported to the handler, as with Send.
func (d *Device[M, P]) Reply(msg M) error {
	remote := d.LastRemote()
	if !remote.IsValid() {
		return ErrNoRemote
	}
	d.Send(remote, msg)
	return nil
}

// Close closes the device's socket. A pending receive is reported once, as OnError(Read, err)
// with IsAborted(err). A closed device can't be reopened.
func (d *Device[M, P]) Close() error {
	d.mu.Lock()
	if d.state == Closed {
		d.mu.Unlock()
		return nil
	}
	d.state = Closed
	sock := d.sock
	d.mu.Unlock()

	if sock == nil {
		return nil
	}
	d.logger.Debug().Stringer("addr", sock.local).Log("dgram: closing")
	return sock.conn.Close()
}

func (d *Device[M, P]) fail(c ErrorCase, err error) {
	d.metrics.onError(c)
	d.hmu.Do(func() { d.h.OnError(c, err) })
}

// reportLater delivers an error through the reactor, so that the handler is never called from
// within the method that caused the error.
func (d *Device[M, P]) reportLater(c ErrorCase, err error) {
	d.ctx.Post(func() { d.fail(c, err) })
}

// mapAddr converts to the address family of the socket it's sent from.
func mapAddr(to netip.AddrPort, v6 bool) netip.AddrPort {
	addr := to.Addr()
	switch {
	case v6 && addr.Is4():
		addr = netip.AddrFrom16(addr.As16())
	case !v6 && addr.Is4In6():
		addr = addr.Unmap()
	}
	return netip.AddrPortFrom(addr, to.Port())
}
