package registry

import (
	"fmt"
	"net"

	"github.com/go-kit/kit/log/level"

	"github.com/go-ppp/pppctld/l2tprfc"
	"github.com/go-ppp/pppctld/option"
	"github.com/go-ppp/pppctld/session"
)

// l2tpEngine bridges a session.Session to an l2tprfc control tunnel,
// playing the role pppd plays for kl2tpd: session.Connect calls Start
// once with the frozen option set, and every subsequent lifecycle
// transition arrives as an l2tprfc event routed back through
// Supervisor.OnInput/OnEvent into the session's phase. Grounded on
// cmd/kl2tpd/kl2tpd.go's application type, which plays the same
// bridging role between l2tp.Context events and pppd instances.
type l2tpEngine struct {
	sup       *Supervisor
	sess      *session.Session
	tunnel    l2tprfc.Handle
	started   bool
	installed bool
}

// Start implements session.Engine: it allocates a control tunnel,
// applies the frozen option set to its retransmission policy, and
// dials the peer named by the "L2TP" entity's "peer_addr"/"peer_port"
// options.
func (e *l2tpEngine) Start(options map[[2]string]option.Value) error {
	h, err := e.sup.manager.NewClient(e)
	if err != nil {
		return err
	}
	e.tunnel = h
	e.sup.tunnelSessions[h] = e.sess

	if err := e.sup.manager.SetFlags(h, l2tprfc.FlagControl|l2tprfc.FlagAdaptTimer); err != nil {
		return err
	}
	if err := e.sup.manager.SetWindow(h, 4); err != nil {
		return err
	}
	if err := e.sup.manager.SetPeerWindow(h, 4); err != nil {
		return err
	}
	id := e.sup.manager.GetNewTunnelID()
	e.sup.manager.SetTunnelID(h, id)
	// l2tprfc implements RFC2661's reliable-delivery layer only, not its
	// AVP control-message layer, so there is no SCCRQ/SCCRP exchange here
	// to learn a peer-assigned tunnel ID from; this engine runs tunnel
	// IDs symmetric on both sides instead.
	e.sup.manager.SetPeerTunnelID(h, id)
	// Session ID stays 0 on this handle: it is the control tunnel, and
	// l2tprfc rejects a session id on anything carrying FlagControl, per
	// spec section 3 invariant 5 (control frames carry session id 0).
	// The fixed 1/1 data session id pair used by the kernel dataplane
	// install (installDataplane, below) is tracked only in this engine,
	// not set on the l2tprfc tunnel itself.

	// Each outbound call gets its own ephemeral-port socket: the control
	// tunnel sharing rule in l2tprfc only applies to data sessions
	// borrowing a control tunnel's endpoint, not to two independent
	// control tunnels, so binding the fixed listen port here would
	// collide across concurrent calls.
	listenHost, _, err := net.SplitHostPort(e.sup.cfg.Daemon.Listen)
	if err != nil {
		return fmt.Errorf("l2tpEngine: parse listen address: %v", err)
	}
	local, err := net.ResolveUDPAddr("udp", net.JoinHostPort(listenHost, "0"))
	if err != nil {
		return fmt.Errorf("l2tpEngine: resolve local address: %v", err)
	}
	if err := e.sup.manager.SetOurAddr(h, local); err != nil {
		return fmt.Errorf("l2tpEngine: bind local endpoint: %v", err)
	}

	peerAddr := options[[2]string{"L2TP", "peer_addr"}].AsAddress("")
	if peerAddr == "" {
		// Config files and SET_OPTION supply the address as a string.
		peerAddr = options[[2]string{"L2TP", "peer_addr"}].AsString("", 0)
	}
	if peerAddr == "" {
		return fmt.Errorf("l2tpEngine: no L2TP peer_addr configured for service %s", e.sess.ServiceID)
	}
	peerPort := options[[2]string{"L2TP", "peer_port"}].AsU32(1701)
	peer, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", peerAddr, peerPort))
	if err != nil {
		return fmt.Errorf("l2tpEngine: resolve peer address: %v", err)
	}
	if err := e.sup.manager.SetPeerAddr(h, peer); err != nil {
		return fmt.Errorf("l2tpEngine: set peer address: %v", err)
	}

	ep, err := e.sup.manager.Endpoint(h)
	if err != nil {
		return fmt.Errorf("l2tpEngine: no endpoint bound: %v", err)
	}
	go e.sup.readUDP(ep)

	e.started = true
	e.sess.SetPhase(session.PhaseSerialConn)
	level.Info(e.sup.logger).Log(
		"message", "l2tp control tunnel starting",
		"service_id", e.sess.ServiceID,
		"peer", peer.String())
	return nil
}

// Stop implements session.Engine: it frees the underlying control
// tunnel, which enters l2tprfc's FREEING linger state rather than
// vanishing immediately.
func (e *l2tpEngine) Stop() {
	if !e.started {
		return
	}
	if e.installed {
		if ourID, err := e.sup.manager.GetTunnelID(e.tunnel); err == nil {
			if err := e.sup.dp.RemoveSession(ourID, 1); err != nil {
				level.Error(e.sup.logger).Log("message", "kernel dataplane session removal failed", "error", err)
			}
		}
		e.installed = false
	}
	if err := e.sup.manager.Free(e.tunnel); err != nil {
		level.Error(e.sup.logger).Log("message", "failed to free tunnel", "error", err)
	}
	delete(e.sup.tunnelSessions, e.tunnel)
	e.started = false
}

// OnInput implements l2tprfc.TunnelHost. A control-channel frame
// reaching here means the peer has responded, so the first delivery
// advances the session from SerialConn to Establish; this repository
// does not itself speak LCP/IPCP, so Establish is as far as the phase
// machine runs without a real PPP negotiation engine attached.
func (e *l2tpEngine) OnInput(payload []byte, from *net.UDPAddr, isControl bool) bool {
	if e.sess.Phase() == session.PhaseSerialConn {
		e.sess.SetPhase(session.PhaseEstablish)
		e.installDataplane()
	}
	return true
}

// installDataplane asks the kernel to create the pppol2tp session
// backing this tunnel. OnInput calls it only on the SerialConn to
// Establish transition, so if either tunnel ID is unknown or the
// install fails, installation is skipped and not attempted again.
func (e *l2tpEngine) installDataplane() {
	if e.installed {
		return
	}
	ourID, err := e.sup.manager.GetTunnelID(e.tunnel)
	if err != nil {
		return
	}
	peerID, err := e.sup.manager.GetPeerTunnelID(e.tunnel)
	if err != nil || peerID == 0 {
		return
	}
	if err := e.sup.dp.InstallSession(ourID, peerID, 1, 1); err != nil {
		level.Error(e.sup.logger).Log(
			"message", "kernel dataplane session install failed",
			"service_id", e.sess.ServiceID,
			"error", err)
		return
	}
	e.installed = true
}

// OnEvent implements l2tprfc.TunnelHost.
func (e *l2tpEngine) OnEvent(kind l2tprfc.EventKind, aux int) {
	switch kind {
	case l2tprfc.EventReliableFailed:
		e.sess.SetPhase(session.PhaseDead)
		level.Error(e.sup.logger).Log(
			"message", "control channel reliability exhausted",
			"service_id", e.sess.ServiceID)
	case l2tprfc.EventInputError:
		level.Error(e.sup.logger).Log(
			"message", "data plane sequence violation",
			"service_id", e.sess.ServiceID,
			"aux", aux)
	}
}
