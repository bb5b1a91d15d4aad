package dgram

import (
	"errors"
	"fmt"
	"net"

	"github.com/sharnoff/ioapp/reactor"
)

// ErrorCase classifies the errors reported to Handler.OnError.
type ErrorCase int

const (
	// Connect is reported for any failed send. The name is historical: datagram sends never
	// establish a connection.
	Connect ErrorCase = iota
	// Bind is reported when opening or binding the socket fails.
	Bind
	// Read is reported for any failed receive, including one cancelled by Close.
	Read
)

func (c ErrorCase) String() string {
	switch c {
	case Connect:
		return "connect"
	case Bind:
		return "bind"
	case Read:
		return "read"
	default:
		return fmt.Sprintf("ErrorCase(%d)", int(c))
	}
}

var (
	// ErrNotOpen is reported when sending through a device with no open socket.
	ErrNotOpen = errors.New("dgram: socket not open")
	// ErrNoRemote is returned by Reply before any datagram has been received.
	ErrNoRemote = errors.New("dgram: no datagram received yet")
	// ErrClosed is reported when binding or opening a device that has been closed.
	ErrClosed = errors.New("dgram: device closed")
)

// IsAborted returns whether err resulted from the device cancelling its own operation, as opposed
// to a transport failure.
func IsAborted(err error) bool {
	return errors.Is(err, reactor.ErrOperationAborted)
}

// aborted tags errors caused by closing our own socket.
func aborted(err error) error {
	if err != nil && errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("%w: %w", reactor.ErrOperationAborted, err)
	}
	return err
}
