// Package transport owns UDP endpoints used to carry L2TP control and
// data traffic. It performs no protocol processing of its own: callers
// get raw datagrams in and send raw datagrams out.
package transport

import (
	"fmt"
	"net"
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

// Endpoint is a UDP socket shared by zero or more owners (control
// tunnels and the data sessions that borrow a control tunnel's
// socket). Refs tracks the share count; the last Detach closes the
// underlying file descriptor.
type Endpoint struct {
	local, peer *net.UDPAddr
	fd          int
	file        *os.File
	rc          syscall.RawConn
	connected   bool
	refs        int
}

// Attach binds a new non-blocking UDP socket to local. If local has no
// port the kernel autobinds one; the bound address is retrievable via
// LocalAddr after this call.
func Attach(local *net.UDPAddr) (*Endpoint, error) {
	family, err := addrFamily(local)
	if err != nil {
		return nil, err
	}

	fd, err := unix.Socket(family, unix.SOCK_DGRAM, unix.IPPROTO_UDP)
	if err != nil {
		return nil, fmt.Errorf("socket: %v", err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("set nonblocking: %v", err)
	}

	sa, err := netAddrToUnix(local)
	if err != nil {
		unix.Close(fd)
		return nil, err
	}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("bind: %v", err)
	}

	file := os.NewFile(uintptr(fd), "l2tp-udp")
	rc, err := file.SyscallConn()
	if err != nil {
		unix.Close(fd)
		return nil, err
	}

	boundLocal, err := localAddrOf(fd)
	if err != nil {
		unix.Close(fd)
		return nil, err
	}

	return &Endpoint{
		local: boundLocal,
		fd:    fd,
		file:  file,
		rc:    rc,
		refs:  1,
	}, nil
}

// SetPeer connects the endpoint to remote so the kernel filters out
// datagrams from any other source. Returns EADDRINUSE if the resulting
// local/remote 4-tuple is already in use by another endpoint on this
// host; the caller (the reliability engine) is responsible for the
// socket-transfer behaviour that rule exists to enable.
func (e *Endpoint) SetPeer(remote *net.UDPAddr) error {
	sa, err := netAddrToUnix(remote)
	if err != nil {
		return err
	}
	if err := unix.Connect(e.fd, sa); err != nil {
		if err == unix.EADDRINUSE {
			return unix.EADDRINUSE
		}
		return fmt.Errorf("connect: %v", err)
	}
	e.peer = remote
	e.connected = true
	return nil
}

// AddRef records an additional owner sharing this endpoint.
func (e *Endpoint) AddRef() {
	e.refs++
}

// Detach releases one owner's reference. The socket is closed only
// when the last owner detaches.
func (e *Endpoint) Detach() error {
	e.refs--
	if e.refs > 0 {
		return nil
	}
	return e.file.Close()
}

// LocalAddr returns the endpoint's bound local address.
func (e *Endpoint) LocalAddr() *net.UDPAddr {
	return e.local
}

// PeerAddr returns the connected peer address, if any.
func (e *Endpoint) PeerAddr() *net.UDPAddr {
	return e.peer
}

// Fd exposes the raw file descriptor for use in a poll/select reactor.
func (e *Endpoint) Fd() int {
	return e.fd
}

// RecvFrom receives a single datagram. When none is pending it waits
// on the Go runtime poller until one arrives, so it does not return
// unix.EAGAIN/EWOULDBLOCK; it returns early only on a receive error or
// when the endpoint is closed.
func (e *Endpoint) RecvFrom(b []byte) (n int, from *net.UDPAddr, err error) {
	var sa unix.Sockaddr
	cerr := e.rc.Read(func(fd uintptr) bool {
		n, sa, err = unix.Recvfrom(int(fd), b, unix.MSG_NOSIGNAL)
		return err != unix.EAGAIN && err != unix.EWOULDBLOCK
	})
	if err != nil {
		return n, nil, err
	}
	if cerr != nil {
		return n, nil, cerr
	}
	from, err = unixToNetAddr(sa)
	return n, from, err
}

// SendTo sends a single datagram. If the endpoint is connected, to is
// ignored and the datagram goes to the connected peer.
func (e *Endpoint) SendTo(b []byte, to *net.UDPAddr) error {
	if e.connected {
		var err error
		cerr := e.rc.Write(func(fd uintptr) bool {
			_, err = unix.Write(int(fd), b)
			return err != unix.EAGAIN && err != unix.EWOULDBLOCK
		})
		if err != nil {
			return err
		}
		return cerr
	}

	sa, err := netAddrToUnix(to)
	if err != nil {
		return err
	}
	cerr := e.rc.Write(func(fd uintptr) bool {
		err = unix.Sendto(int(fd), b, unix.MSG_NOSIGNAL, sa)
		return err != unix.EAGAIN && err != unix.EWOULDBLOCK
	})
	if err != nil {
		return err
	}
	return cerr
}

func addrFamily(addr *net.UDPAddr) (int, error) {
	if addr == nil || addr.IP == nil || addr.IP.To4() != nil {
		return unix.AF_INET, nil
	}
	if addr.IP.To16() != nil {
		return unix.AF_INET6, nil
	}
	return 0, fmt.Errorf("unhandled address family for %v", addr)
}

func localAddrOf(fd int) (*net.UDPAddr, error) {
	sa, err := unix.Getsockname(fd)
	if err != nil {
		return nil, fmt.Errorf("getsockname: %v", err)
	}
	return unixToNetAddr(sa)
}

func unixToNetAddr(addr unix.Sockaddr) (*net.UDPAddr, error) {
	switch sa := addr.(type) {
	case *unix.SockaddrInet4:
		return &net.UDPAddr{IP: net.IP(sa.Addr[:]), Port: sa.Port}, nil
	case *unix.SockaddrInet6:
		return &net.UDPAddr{IP: net.IP(sa.Addr[:]), Port: sa.Port}, nil
	}
	return nil, fmt.Errorf("unhandled address family")
}

func netAddrToUnix(addr *net.UDPAddr) (unix.Sockaddr, error) {
	if addr == nil {
		return nil, fmt.Errorf("nil address")
	}
	if b := addr.IP.To4(); b != nil {
		return &unix.SockaddrInet4{Port: addr.Port, Addr: [4]byte{b[0], b[1], b[2], b[3]}}, nil
	}
	if b := addr.IP.To16(); b != nil {
		var a [16]byte
		copy(a[:], b)
		return &unix.SockaddrInet6{Port: addr.Port, Addr: a}, nil
	}
	return nil, fmt.Errorf("unhandled address family for %v", addr)
}

// SameFourTuple reports whether two endpoints share the same local and
// peer address pair, the condition that triggers socket transfer per
// the sharing rule in component B of the specification.
func SameFourTuple(a, b *Endpoint) bool {
	if a == nil || b == nil || a.local == nil || b.local == nil || a.peer == nil || b.peer == nil {
		return false
	}
	return a.local.IP.Equal(b.local.IP) && a.local.Port == b.local.Port &&
		a.peer.IP.Equal(b.peer.IP) && a.peer.Port == b.peer.Port
}
