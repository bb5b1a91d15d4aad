//go:build !unix

package dgram

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
)

// openSocket creates a socket bound to an ephemeral port, which is as close to an unbound socket
// as the net package allows.
func openSocket(v6, _ bool) (*net.UDPConn, error) {
	return net.ListenUDP(network(v6), nil)
}

// bindSocket only succeeds if conn is already bound to a compatible address: open sockets can't be
// rebound without raw socket control.
func bindSocket(conn *net.UDPConn, addr netip.AddrPort, _ bool) (netip.AddrPort, error) {
	local := conn.LocalAddr().(*net.UDPAddr).AddrPort()
	if addr.Port() == 0 || addr.Port() == local.Port() {
		return local, nil
	}
	return netip.AddrPort{}, fmt.Errorf("bind %v: %w", addr, errors.ErrUnsupported)
}

func listenSocket(addr netip.AddrPort, v6, _ bool) (*net.UDPConn, netip.AddrPort, error) {
	conn, err := net.ListenUDP(network(v6), net.UDPAddrFromAddrPort(addr))
	if err != nil {
		return nil, netip.AddrPort{}, err
	}
	return conn, conn.LocalAddr().(*net.UDPAddr).AddrPort(), nil
}

func network(v6 bool) string {
	if v6 {
		return "udp6"
	}
	return "udp4"
}
