package l2tprfc

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"

	"github.com/go-ppp/pppctld/transport"
	"github.com/go-ppp/pppctld/wire"
)

// Handle is an opaque reference to a Tunnel returned by NewClient. It
// is stable for the tunnel's lifetime regardless of how its tunnel ID
// or session ID are subsequently assigned; this is the "arena plus
// stable index" indirection called for by the design notes, in place
// of the host/tunnel raw back-pointers the original engine used.
type Handle uint32

// Manager owns every live tunnel and is the sole mutator of their
// state. It must only ever be driven from the single reactor
// goroutine described in the specification's concurrency model: no
// locking is used anywhere in this package.
type Manager struct {
	tunnels map[Handle]*Tunnel
	order   []Handle // iteration order, mirroring the original's TAILQ
	next    Handle

	uniqueTunnelID uint16
}

// NewManager creates an empty tunnel registry.
func NewManager() *Manager {
	return &Manager{
		tunnels: make(map[Handle]*Tunnel),
	}
}

// NewClient creates a new tunnel or data-session record with
// sane defaults and registers host as its up-call target.
func (m *Manager) NewClient(host TunnelHost) (Handle, error) {
	if host == nil {
		return 0, fmt.Errorf("nil host")
	}
	m.next++
	h := m.next
	m.tunnels[h] = newTunnel(host)
	m.order = append(m.order, h)
	return h, nil
}

func (m *Manager) lookup(h Handle) (*Tunnel, error) {
	t, ok := m.tunnels[h]
	if !ok {
		return nil, unix.ENODEV
	}
	return t, nil
}

// Endpoint exposes the transport socket backing a tunnel, for the
// owning registry to drive the actual non-blocking reads that feed
// HandleInbound; this package performs no I/O of its own.
func (m *Manager) Endpoint(h Handle) (*transport.Endpoint, error) {
	t, err := m.lookup(h)
	if err != nil {
		return nil, err
	}
	return t.ep, nil
}

func isControlFrame(f wire.Frame) bool {
	return f.Kind == wire.Control || f.Kind == wire.Ack
}

// HandleInbound is the single subscriber entry point fed by the UDP
// transport adapter (component B) with (payload, source address)
// pairs. It decodes the frame and routes it to the first matching
// tunnel, per the routing rules in spec section 4.C.
func (m *Manager) HandleInbound(raw []byte, from *net.UDPAddr) {
	f, err := wire.Decode(raw)
	if err != nil {
		return // protocol violation: drop the frame, continue
	}

	if isControlFrame(f) {
		for _, h := range m.order {
			t := m.tunnels[h]
			if t == nil || !t.isControl() {
				continue
			}
			if t.ourTunnelID != f.TunnelID {
				continue
			}
			if t.peerAddr != nil && !addrEqual(t.peerAddr, from) {
				continue
			}
			m.handleControl(t, f, from)
			return
		}
		return
	}

	for _, h := range m.order {
		t := m.tunnels[h]
		if t == nil || t.isControl() {
			continue
		}
		if t.ourTunnelID == f.TunnelID && t.ourSessionID == f.SessionID &&
			t.peerAddr != nil && addrEqual(t.peerAddr, from) {
			m.handleData(t, f, from)
			return
		}
	}
}

func addrEqual(a, b *net.UDPAddr) bool {
	return a != nil && b != nil && a.IP.Equal(b.IP) && a.Port == b.Port
}

// Output transmits a payload on the given tunnel or data session, per
// the rules in spec section 4.C.
func (m *Manager) Output(h Handle, payload []byte, dest *net.UDPAddr) error {
	t, err := m.lookup(h)
	if err != nil {
		return err
	}
	if t.isFreeing() {
		return fmt.Errorf("tunnel is freeing, output dropped")
	}
	if t.ep == nil {
		return fmt.Errorf("tunnel has no attached endpoint")
	}

	to := dest
	if to == nil {
		to = t.peerAddr
	}

	if t.isControl() {
		return m.outputControl(t, payload, to)
	}
	return m.outputData(t, payload, to)
}

func (m *Manager) outputControl(t *Tunnel, payload []byte, to *net.UDPAddr) error {
	ns := t.ourNs
	t.ourNs++

	elem := sendElem{seqno: ns, to: to, payload: payload}

	if len(t.sendQueue) == 0 {
		t.retryCount = 0
		t.retransTimeRemain = t.initialTimeout
	}
	t.sendQueue = append(t.sendQueue, elem)

	if seqLess(elem.seqno, t.peerNr+t.peerWindow) {
		t.st &^= stateNewSequence
		return m.transmitQueued(t, &t.sendQueue[len(t.sendQueue)-1])
	}
	return nil
}

func (m *Manager) outputData(t *Tunnel, payload []byte, to *net.UDPAddr) error {
	includeSeq := t.flags&FlagPeerSeqRequired != 0
	hdr := wire.Header{TunnelID: t.peerTunnelID, SessionID: t.peerSessionID, Ns: t.ourLastDataSeq}
	b, err := wire.EncodeData(hdr, includeSeq, payload)
	if err != nil {
		return err
	}
	if includeSeq {
		t.ourLastDataSeq++
	}
	return t.ep.SendTo(b, to)
}

// transmitQueued (re)sends a control-queue entry, refreshing Nr to the
// current our_nr on every transmission (including retransmissions) so
// a retransmit still acks whatever has arrived in the meantime.
func (m *Manager) transmitQueued(t *Tunnel, e *sendElem) error {
	hdr := wire.Header{TunnelID: t.peerTunnelID, SessionID: 0, Ns: e.seqno, Nr: t.ourNr}
	b, err := wire.EncodeControl(hdr, e.payload)
	if err != nil {
		return err
	}
	return t.ep.SendTo(b, e.to)
}

// Free begins teardown of a tunnel or session. Data sessions are freed
// immediately; control tunnels with both tunnel IDs assigned enter the
// FREEING lifecycle state and linger for one retransmission cycle so
// that in-flight peer traffic has somewhere to go.
func (m *Manager) Free(h Handle) error {
	t, err := m.lookup(h)
	if err != nil {
		return err
	}
	if t.isControl() && t.ourTunnelID != 0 && t.peerTunnelID != 0 {
		t.host = nil
		t.st |= stateFreeing
		t.freeTimeRemain = lingerTicks
		return nil
	}
	m.freeNow(h)
	return nil
}

func (m *Manager) freeNow(h Handle) {
	t, ok := m.tunnels[h]
	if !ok {
		return
	}
	if t.ep != nil {
		t.ep.Detach()
	}
	delete(m.tunnels, h)
	for i, oh := range m.order {
		if oh == h {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
}

// findEndpointToShare implements the §4.B sharing rule: a data
// session whose our_tunnel_id matches an existing control connection
// reuses that control tunnel's endpoint.
func (m *Manager) findEndpointToShare(tunnelID uint16) *transport.Endpoint {
	for _, h := range m.order {
		t := m.tunnels[h]
		if t != nil && t.isControl() && t.ourTunnelID == tunnelID {
			return t.ep
		}
	}
	return nil
}

// findConflictingControlTunnel implements the transfer-on-conflict
// rule: when setting a peer address would create a 4-tuple already in
// use by another control tunnel, that tunnel's socket is reused.
func (m *Manager) findConflictingControlTunnel(self Handle, local, peer *net.UDPAddr) *Tunnel {
	for _, h := range m.order {
		if h == self {
			continue
		}
		t := m.tunnels[h]
		if t == nil || !t.isControl() || t.ep == nil {
			continue
		}
		if t.ourAddr != nil && t.peerAddr != nil &&
			addrEqual(t.ourAddr, local) && addrEqual(t.peerAddr, peer) {
			return t
		}
	}
	return nil
}
