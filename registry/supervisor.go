// Package registry implements the session registry and supervisor:
// the single reactor that owns every PPP session, the l2tprfc tunnel
// manager backing the L2TP subtype, and the client control socket.
// It is grounded on cmd/kl2tpd/kl2tpd.go's application type, which
// plays the same role of owning one event loop, one signal channel
// and one waitgroup for orderly shutdown, generalised from one
// protocol engine to the full session/option/event surface described
// in spec sections 4 and 5.
package registry

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"golang.org/x/sys/unix"

	"github.com/go-ppp/pppctld/config"
	"github.com/go-ppp/pppctld/ctrlproto"
	"github.com/go-ppp/pppctld/dataplane"
	"github.com/go-ppp/pppctld/l2tprfc"
	"github.com/go-ppp/pppctld/session"
	"github.com/go-ppp/pppctld/transport"
)

const (
	fastTickPeriod = 200 * time.Millisecond
	slowTickPeriod = 500 * time.Millisecond
)

// Supervisor owns every live session, the l2tprfc tunnel manager, and
// every connected control-socket client. All of its state is mutated
// only from the goroutine running Run, matching the single-reactor
// discipline l2tprfc and option already assume; reader goroutines for
// the control socket and UDP endpoints only ever forward bytes over a
// channel, never touch shared state directly.
type Supervisor struct {
	cfg    *config.Config
	logger log.Logger

	manager        *l2tprfc.Manager
	sessions       map[uint32]*session.Session
	order          []uint32
	byService      map[string]uint32
	tunnelSessions map[l2tprfc.Handle]*session.Session
	nextHandle     uint32

	clients      map[uint32]*clientConn
	nextClientID uint32

	listener  net.Listener
	udpIn     chan udpDatagram
	pppoeDone chan pppoeResult

	dp dataplane.Installer
}

type udpDatagram struct {
	buf  []byte
	from *net.UDPAddr
}

type clientBytes struct {
	id  uint32
	buf []byte
	err error
}

// NewSupervisor binds the client control socket named in cfg and
// returns a Supervisor ready for Run. The socket is created fresh on
// every startup, mirroring the teacher's daemons which own their
// control surface for their whole lifetime rather than inheriting it.
func NewSupervisor(cfg *config.Config, logger log.Logger) (*Supervisor, error) {
	_ = os.Remove(cfg.Daemon.ControlSocket)
	ln, err := net.Listen("unix", cfg.Daemon.ControlSocket)
	if err != nil {
		return nil, fmt.Errorf("registry: listen on %s: %v", cfg.Daemon.ControlSocket, err)
	}
	if err := os.Chmod(cfg.Daemon.ControlSocket, os.FileMode(cfg.Daemon.ControlSocketMode)); err != nil {
		ln.Close()
		return nil, fmt.Errorf("registry: chmod %s: %v", cfg.Daemon.ControlSocket, err)
	}

	dp, err := dataplane.NewNetlinkInstaller()
	if err != nil {
		level.Warn(logger).Log("message", "kernel l2tp dataplane unavailable, falling back to null installer", "error", err)
		dp = dataplane.NullInstaller{}
	}

	return &Supervisor{
		cfg:            cfg,
		logger:         logger,
		manager:        l2tprfc.NewManager(),
		sessions:       make(map[uint32]*session.Session),
		byService:      make(map[string]uint32),
		tunnelSessions: make(map[l2tprfc.Handle]*session.Session),
		clients:        make(map[uint32]*clientConn),
		listener:       ln,
		udpIn:          make(chan udpDatagram, 64),
		pppoeDone:      make(chan pppoeResult, 8),
		dp:             dp,
	}, nil
}

// Run is the supervisor's reactor loop: it accepts control-socket
// connections, reassembles and dispatches their requests, drives
// l2tprfc's fast/slow timers, and feeds inbound UDP datagrams to the
// tunnel manager, until ctx is cancelled or a termination signal
// arrives.
func (s *Supervisor) Run(ctx context.Context) error {
	defer s.listener.Close()
	defer s.dp.Close()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, unix.SIGINT, unix.SIGTERM)
	defer signal.Stop(sigCh)

	newConns := make(chan net.Conn, 8)
	clientData := make(chan clientBytes, 64)
	go s.acceptLoop(newConns)

	fastTick := time.NewTicker(fastTickPeriod)
	slowTick := time.NewTicker(slowTickPeriod)
	defer fastTick.Stop()
	defer slowTick.Stop()

	level.Info(s.logger).Log(
		"message", "pppctld starting",
		"control_socket", s.cfg.Daemon.ControlSocket,
		"listen", s.cfg.Daemon.Listen)

	for {
		select {
		case <-ctx.Done():
			level.Info(s.logger).Log("message", "shutting down", "reason", ctx.Err())
			return nil

		case sig := <-sigCh:
			level.Info(s.logger).Log("message", "received signal, shutting down", "signal", sig.String())
			return nil

		case conn := <-newConns:
			s.nextClientID++
			id := s.nextClientID
			s.clients[id] = newClientConn(id, conn, false)
			go s.readClientLoop(id, conn, clientData)

		case cb := <-clientData:
			s.handleClientBytes(cb)

		case dg := <-s.udpIn:
			s.manager.HandleInbound(dg.buf, dg.from)

		case r := <-s.pppoeDone:
			s.handlePPPoEResult(r)

		case <-fastTick.C:
			s.manager.FastTick()

		case <-slowTick.C:
			s.manager.SlowTick()
		}

		// Write out frames queued outside request handling, such as
		// events raised by UDP input, discovery results or timer ticks.
		for _, c := range s.clients {
			if len(c.out) > 0 {
				s.flush(c)
			}
		}
	}
}

func (s *Supervisor) acceptLoop(out chan<- net.Conn) {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		out <- conn
	}
}

func (s *Supervisor) readClientLoop(id uint32, conn net.Conn, out chan<- clientBytes) {
	buf := make([]byte, 4096)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			cp := make([]byte, n)
			copy(cp, buf[:n])
			out <- clientBytes{id: id, buf: cp}
		}
		if err != nil {
			out <- clientBytes{id: id, err: err}
			return
		}
	}
}

// readUDP feeds one tunnel's endpoint into the reactor. It never
// mutates Manager or session state itself: only the byte slice and
// source address cross the channel, so the receive side stays the
// only goroutine touching tunnel state.
func (s *Supervisor) readUDP(ep *transport.Endpoint) {
	buf := make([]byte, 4096)
	for {
		n, from, err := ep.RecvFrom(buf)
		switch err {
		case nil:
			cp := make([]byte, n)
			copy(cp, buf[:n])
			s.udpIn <- udpDatagram{buf: cp, from: from}
		case unix.EAGAIN:
			time.Sleep(5 * time.Millisecond)
		default:
			return
		}
	}
}

func (s *Supervisor) handleClientBytes(cb clientBytes) {
	c, ok := s.clients[cb.id]
	if !ok {
		return
	}
	if cb.err != nil {
		s.dropClient(c)
		return
	}

	msgs, err := c.reader.Feed(cb.buf)
	if err != nil {
		level.Error(s.logger).Log("message", "malformed request, dropping connection", "client", cb.id, "error", err)
		s.dropClient(c)
		return
	}

	for _, msg := range msgs {
		reply, body := s.dispatch(c, msg)
		if ctrlproto.NoReply(reply) {
			continue
		}
		c.queue(reply, body)
	}
	s.flush(c)
}

func (s *Supervisor) flush(c *clientConn) {
	for _, b := range c.out {
		if _, err := c.conn.Write(b); err != nil {
			level.Error(s.logger).Log("message", "write failed, dropping connection", "client", c.id, "error", err)
			s.dropClient(c)
			return
		}
	}
	c.out = c.out[:0]
}

func (s *Supervisor) dropClient(c *clientConn) {
	delete(s.clients, c.id)
	for _, sess := range s.sessions {
		sess.Unsubscribe(c)
		if sess.Owner() == c.id {
			sess.SetOwner(0)
		}
	}
	c.conn.Close()
}

// connect implements the CONNECT request: the first call for a given
// service id creates its session record against the service's
// persisted option setup; a later call while idle or dead (e.g. after a
// prior disconnect) restarts the existing record rather than minting a
// new handle, per spec section 4.G.
func (s *Supervisor) connect(serviceID string, c *clientConn) (*session.Session, error) {
	if h, ok := s.byService[serviceID]; ok {
		sess := s.sessions[h]
		sess.SetOwner(c.id)
		if sess.Phase() == session.PhaseDead {
			sess.SetPhase(session.PhaseIdle)
		}
		if sess.Phase() != session.PhaseIdle {
			return sess, nil
		}
		if err := sess.Connect(s.engineFor(sess)); err != nil {
			return nil, err
		}
		return sess, nil
	}

	s.nextHandle++
	h := s.nextHandle
	sess := session.New(h, serviceID, s.subtypeFor(serviceID), s.cfg.SetupSource(serviceID))
	sess.SetOwner(c.id)

	if err := sess.Connect(s.engineFor(sess)); err != nil {
		return nil, err
	}

	s.sessions[h] = sess
	s.order = append(s.order, h)
	s.byService[serviceID] = h
	return sess, nil
}

// linkSubtypeAll is the "no filter" sentinel for the subtype selector
// packed into the high 16 bits of a GET_NB_LINKS/GET_LINK_BY_INDEX
// request's Link field, matching ppp_socket_server.c's
// socket_getnblinks/socket_getlinkbyindex ("subtype == 0xFFFF").
const linkSubtypeAll = 0xFFFF

// splitLinkSubtype unpacks a listing request's Link field into a
// zero-based index (low 16 bits) and a subtype filter (high 16 bits),
// per spec section 4.G.
func splitLinkSubtype(link uint32) (index uint32, subtype uint16) {
	return link & 0xFFFF, uint16(link >> 16)
}

func subtypeMatches(filter uint16, sess *session.Session) bool {
	return filter == linkSubtypeAll || int(filter) == int(sess.Subtype)
}

// countLinks implements socket_getnblinks: the number of registered
// sessions matching the request's subtype filter, or the full count
// when the filter is the "all subtypes" sentinel.
func (s *Supervisor) countLinks(link uint32) uint32 {
	_, subtype := splitLinkSubtype(link)
	if subtype == linkSubtypeAll {
		return uint32(len(s.sessions))
	}
	var n uint32
	for _, h := range s.order {
		if subtypeMatches(subtype, s.sessions[h]) {
			n++
		}
	}
	return n
}

// subtypeFor picks a service's transport subtype from its persisted
// option setup: presence of a "PPPoE" entity selects PPPoE, otherwise
// L2TP is assumed, matching the config package's documented layout
// where services configure exactly the entities their transport needs.
func (s *Supervisor) subtypeFor(serviceID string) session.Subtype {
	if setup, ok := s.cfg.Setup[serviceID]; ok {
		if _, ok := setup["PPPoE"]; ok {
			return session.SubtypePPPoE
		}
	}
	return session.SubtypeL2TP
}

// engineFor constructs the session.Engine matching a session's
// subtype.
func (s *Supervisor) engineFor(sess *session.Session) session.Engine {
	if sess.Subtype == session.SubtypePPPoE {
		return &pppoeEngine{sup: s, sess: sess}
	}
	return &l2tpEngine{sup: s, sess: sess}
}

func (s *Supervisor) lookupByHandle(handle uint32) *session.Session {
	return s.sessions[handle]
}

func (s *Supervisor) lookupByServiceID(id string) *session.Session {
	h, ok := s.byService[id]
	if !ok {
		return nil
	}
	return s.sessions[h]
}

// lookupByIndex implements socket_getlinkbyindex: idx walks only the
// subsequence of sessions matching the request's subtype filter, and
// is reset to zero at the start of that subsequence (an index of 0
// means "the first matching session", not "the first session
// overall" once a filter narrower than linkSubtypeAll is in play).
func (s *Supervisor) lookupByIndex(link uint32) *session.Session {
	index, subtype := splitLinkSubtype(link)
	var n uint32
	for _, h := range s.order {
		sess := s.sessions[h]
		if !subtypeMatches(subtype, sess) {
			continue
		}
		if n == index {
			return sess
		}
		n++
	}
	return nil
}
