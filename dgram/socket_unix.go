//go:build unix

package dgram

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"os"

	"golang.org/x/sys/unix"
)

// openSocket creates an unbound UDP socket, registered with the runtime's network poller. It can
// send immediately, and can be bound later with bindSocket.
func openSocket(v6, reuseAddr bool) (*net.UDPConn, error) {
	family := unix.AF_INET
	if v6 {
		family = unix.AF_INET6
	}

	fd, err := unix.Socket(family, unix.SOCK_DGRAM, unix.IPPROTO_UDP)
	if err != nil {
		return nil, os.NewSyscallError("socket", err)
	}
	unix.CloseOnExec(fd)

	if err := configure(fd, v6, reuseAddr); err != nil {
		unix.Close(fd)
		return nil, err
	}

	f := os.NewFile(uintptr(fd), "udp")
	// FilePacketConn duplicates the descriptor, so ours is always closed.
	pc, err := net.FilePacketConn(f)
	f.Close()
	if err != nil {
		return nil, err
	}

	conn, ok := pc.(*net.UDPConn)
	if !ok {
		pc.Close()
		return nil, fmt.Errorf("unexpected connection type %T", pc)
	}
	return conn, nil
}

func configure(fd int, v6, reuseAddr bool) error {
	if reuseAddr {
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
			return os.NewSyscallError("setsockopt", err)
		}
	}
	if v6 {
		// dual stack, so that an IPv6 device can also talk to IPv4 peers
		if err := unix.SetsockoptInt(fd, unix.IPPROTO_IPV6, unix.IPV6_V6ONLY, 0); err != nil {
			return os.NewSyscallError("setsockopt", err)
		}
	}
	return nil
}

// bindSocket binds conn to addr, returning the resulting local address (with the port filled in
// if addr's port was zero).
func bindSocket(conn *net.UDPConn, addr netip.AddrPort, v6 bool) (netip.AddrPort, error) {
	rc, err := conn.SyscallConn()
	if err != nil {
		return netip.AddrPort{}, err
	}

	sa := toSockaddr(addr, v6)
	var (
		local   netip.AddrPort
		bindErr error
	)
	err = rc.Control(func(fd uintptr) {
		if bindErr = unix.Bind(int(fd), sa); bindErr != nil {
			bindErr = os.NewSyscallError("bind", bindErr)
			return
		}
		var bound unix.Sockaddr
		if bound, bindErr = unix.Getsockname(int(fd)); bindErr != nil {
			bindErr = os.NewSyscallError("getsockname", bindErr)
			return
		}
		local = fromSockaddr(bound)
	})
	if err = errors.Join(err, bindErr); err != nil {
		return netip.AddrPort{}, &net.OpError{Op: "bind", Net: "udp", Addr: net.UDPAddrFromAddrPort(addr), Err: err}
	}
	return local, nil
}

// listenSocket opens a socket and binds it to addr, closing it again if binding fails.
func listenSocket(addr netip.AddrPort, v6, reuseAddr bool) (*net.UDPConn, netip.AddrPort, error) {
	conn, err := openSocket(v6, reuseAddr)
	if err != nil {
		return nil, netip.AddrPort{}, err
	}
	local, err := bindSocket(conn, addr, v6)
	if err != nil {
		conn.Close()
		return nil, netip.AddrPort{}, err
	}
	return conn, local, nil
}

func toSockaddr(addr netip.AddrPort, v6 bool) unix.Sockaddr {
	if v6 {
		sa := &unix.SockaddrInet6{Port: int(addr.Port()), Addr: addr.Addr().As16()}
		return sa
	}
	return &unix.SockaddrInet4{Port: int(addr.Port()), Addr: addr.Addr().Unmap().As4()}
}

func fromSockaddr(sa unix.Sockaddr) netip.AddrPort {
	switch sa := sa.(type) {
	case *unix.SockaddrInet4:
		return netip.AddrPortFrom(netip.AddrFrom4(sa.Addr), uint16(sa.Port))
	case *unix.SockaddrInet6:
		return netip.AddrPortFrom(netip.AddrFrom16(sa.Addr), uint16(sa.Port))
	default:
		return netip.AddrPort{}
	}
}
