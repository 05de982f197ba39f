package registry

import (
	"net"

	"github.com/go-ppp/pppctld/ctrlproto"
	"github.com/go-ppp/pppctld/session"
)

// clientConn is one connection on the control socket: its partial-read
// state, the byte order it has settled on, and the event subscriptions
// it holds across every session it has enabled events for. Grounded on
// original_source/Controller/ppp_socket_server.c's `struct client`.
type clientConn struct {
	id         uint32
	conn       net.Conn
	reader     *ctrlproto.Reader
	privileged bool

	// out holds encoded frames queued for writing; the reactor writes
	// them out at the end of every loop iteration.
	out [][]byte
}

func newClientConn(id uint32, conn net.Conn, privileged bool) *clientConn {
	return &clientConn{
		id:         id,
		conn:       conn,
		reader:     ctrlproto.NewReader(privileged),
		privileged: privileged,
	}
}

func (c *clientConn) queue(hdr ctrlproto.Header, body []byte) {
	c.out = append(c.out, c.reader.EncodeReply(hdr, body))
}

// OnPhaseChange implements session.Subscriber: a phase change is
// surfaced as a PPP-class event keyed by the session's numeric handle.
func (c *clientConn) OnPhaseChange(handle uint32, phase session.Phase) {
	hdr, body := ctrlproto.NewEvent(uint32(phase), 0, "")
	hdr.Cookie = handle
	c.queue(hdr, body)
}

// OnExit implements session.Subscriber: a terminal exit code is
// surfaced the same way, with the error code as the event kind.
func (c *clientConn) OnExit(handle uint32, code session.ExitCode) {
	hdr, body := ctrlproto.NewEvent(uint32(code), 0, "")
	hdr.Cookie = handle
	c.queue(hdr, body)
}
