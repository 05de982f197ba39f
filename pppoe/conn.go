package pppoe

import (
	"fmt"
	"net"
	"os"
	"syscall"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"golang.org/x/sys/unix"
)

// PPPoEConn is a raw AF_PACKET socket bound to one interface, carrying
// PPPoE discovery frames only (its Ethernet type is fixed at bind
// time). logger is optional: a nil logger is turned into a no-op one
// so callers that don't care about discovery-level diagnostics aren't
// forced to construct one.
type PPPoEConn struct {
	iface  *net.Interface
	fd     int
	file   *os.File
	rc     syscall.RawConn
	logger log.Logger
}

func newRawSocket(protocol int) (fd int, err error) {

	// raw socket since we want to read/write link-level packets
	fd, err = unix.Socket(unix.AF_PACKET, unix.SOCK_RAW, protocol)
	if err != nil {
		return -1, fmt.Errorf("pppoe: open raw socket: %v", err)
	}

	// make the socket nonblocking so we can use it with the runtime poller
	if err = unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("pppoe: set socket nonblocking: %v", err)
	}

	// set the socket CLOEXEC to prevent passing it to child processes
	flags, err := unix.FcntlInt(uintptr(fd), unix.F_GETFD, 0)
	if err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("pppoe: fcntl(F_GETFD): %v", err)
	}

	_, err = unix.FcntlInt(uintptr(fd), unix.F_SETFD, flags|unix.FD_CLOEXEC)
	if err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("pppoe: fcntl(F_SETFD, FD_CLOEXEC): %v", err)
	}

	// allow broadcast
	err = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_BROADCAST, 1)
	if err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("pppoe: setsockopt(SO_BROADCAST): %v", err)
	}

	return
}

// NewDiscoveryConnection opens and binds a raw discovery socket on
// ifname. A nil logger is accepted and replaced with a no-op one, so
// this remains usable from tests and callers that don't want
// diagnostics.
func NewDiscoveryConnection(ifname string, logger log.Logger) (conn *PPPoEConn, err error) {
	if logger == nil {
		logger = log.NewNopLogger()
	}

	iface, err := net.InterfaceByName(ifname)
	if err != nil {
		return nil, fmt.Errorf("pppoe: look up interface %q: %v", ifname, err)
	}

	fd, err := newRawSocket(int(ethTypeDiscoveryNetUint16()))
	if err != nil {
		return nil, err
	}

	// bind to the interface specified
	sa := unix.SockaddrLinklayer{
		Protocol: ethTypeDiscoveryNetUint16(),
		Ifindex:  iface.Index,
	}
	err = unix.Bind(fd, &sa)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("pppoe: bind discovery socket to %q: %v", ifname, err)
	}

	// register the socket with the runtime
	file := os.NewFile(uintptr(fd), "pppoe")
	rc, err := file.SyscallConn()
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("pppoe: register socket with runtime poller: %v", err)
	}

	level.Debug(logger).Log("message", "pppoe discovery socket bound", "ifname", ifname)

	return &PPPoEConn{
		iface:  iface,
		fd:     fd,
		file:   file,
		rc:     rc,
		logger: logger,
	}, nil
}

func (c *PPPoEConn) Close() (err error) {
	if c.file != nil {
		err = c.file.Close()
		c.file = nil
		if err != nil {
			level.Error(c.logger).Log("message", "failed to close pppoe discovery socket", "error", err)
		}
	}
	return
}

func (c *PPPoEConn) Send(b []byte) (n int, err error) {
	return c.file.Write(b)
}

func (c *PPPoEConn) Recv(b []byte) (n int, err error) {
	return c.file.Read(b)
}

func (c *PPPoEConn) HWAddr() (addr [6]byte) {
	if len(c.iface.HardwareAddr) >= 6 {
		return [6]byte{
			c.iface.HardwareAddr[0],
			c.iface.HardwareAddr[1],
			c.iface.HardwareAddr[2],
			c.iface.HardwareAddr[3],
			c.iface.HardwareAddr[4],
			c.iface.HardwareAddr[5],
		}
	}
	return [6]byte{}
}
