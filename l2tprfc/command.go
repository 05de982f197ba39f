package l2tprfc

import (
	"fmt"
	"net"

	"github.com/go-ppp/pppctld/transport"
	"github.com/go-ppp/pppctld/wire"
)

// SetFlags and GetFlags expose the FlagControl/FlagAdaptTimer/FlagDebug/
// FlagPeerSeqRequired bits to the owning session registry.
func (m *Manager) SetFlags(h Handle, flags Flags) error {
	t, err := m.lookup(h)
	if err != nil {
		return err
	}
	t.flags = flags
	return nil
}

func (m *Manager) GetFlags(h Handle) (Flags, error) {
	t, err := m.lookup(h)
	if err != nil {
		return 0, err
	}
	return t.flags, nil
}

// SetWindow records this side's receive window on the tunnel. The
// value is never sent on the wire and does not limit reception.
func (m *Manager) SetWindow(h Handle, window uint16) error {
	t, err := m.lookup(h)
	if err != nil {
		return err
	}
	if window == 0 {
		return fmt.Errorf("window must be non-zero")
	}
	t.ourWindow = window
	return nil
}

// SetPeerWindow sets the peer's advertised window, learned out of band
// (e.g. from an AVP in the PPP control layer this engine does not
// parse itself).
func (m *Manager) SetPeerWindow(h Handle, window uint16) error {
	t, err := m.lookup(h)
	if err != nil {
		return err
	}
	if window == 0 {
		return fmt.Errorf("window must be non-zero")
	}
	t.peerWindow = window
	return nil
}

// GetNewTunnelID returns a tunnel ID not currently in use by any
// registered control tunnel, per the uniqueness invariant in spec
// section 3.
func (m *Manager) GetNewTunnelID() uint16 {
	for {
		m.uniqueTunnelID++
		if m.uniqueTunnelID == wire.ListenerTunnelID {
			continue
		}
		if !m.tunnelIDInUse(m.uniqueTunnelID) {
			return m.uniqueTunnelID
		}
	}
}

func (m *Manager) tunnelIDInUse(id uint16) bool {
	for _, h := range m.order {
		if t := m.tunnels[h]; t != nil && t.isControl() && t.ourTunnelID == id {
			return true
		}
	}
	return false
}

func (m *Manager) SetTunnelID(h Handle, id uint16) error {
	t, err := m.lookup(h)
	if err != nil {
		return err
	}
	t.ourTunnelID = id
	return nil
}

func (m *Manager) GetTunnelID(h Handle) (uint16, error) {
	t, err := m.lookup(h)
	if err != nil {
		return 0, err
	}
	return t.ourTunnelID, nil
}

func (m *Manager) SetPeerTunnelID(h Handle, id uint16) error {
	t, err := m.lookup(h)
	if err != nil {
		return err
	}
	t.peerTunnelID = id
	return nil
}

func (m *Manager) GetPeerTunnelID(h Handle) (uint16, error) {
	t, err := m.lookup(h)
	if err != nil {
		return 0, err
	}
	return t.peerTunnelID, nil
}

// SetSessionID and SetPeerSessionID are data-session-only: a control
// tunnel's frames always carry session id 0, so setting one here would
// risk it leaking into a control frame header.
func (m *Manager) SetSessionID(h Handle, id uint16) error {
	t, err := m.lookup(h)
	if err != nil {
		return err
	}
	if t.isControl() {
		return fmt.Errorf("session id is data-only, rejected for control tunnel")
	}
	t.ourSessionID = id
	return nil
}

func (m *Manager) SetPeerSessionID(h Handle, id uint16) error {
	t, err := m.lookup(h)
	if err != nil {
		return err
	}
	if t.isControl() {
		return fmt.Errorf("peer session id is data-only, rejected for control tunnel")
	}
	t.peerSessionID = id
	return nil
}

// SetTimeout, SetTimeoutCap and SetMaxRetries tune the retransmission
// policy; units are 500ms ticks, matching the slow timer's period.
func (m *Manager) SetTimeout(h Handle, ticks uint16) error {
	t, err := m.lookup(h)
	if err != nil {
		return err
	}
	t.initialTimeout = ticks
	return nil
}

func (m *Manager) SetTimeoutCap(h Handle, ticks uint16) error {
	t, err := m.lookup(h)
	if err != nil {
		return err
	}
	t.timeoutCap = ticks
	return nil
}

func (m *Manager) SetMaxRetries(h Handle, retries uint16) error {
	t, err := m.lookup(h)
	if err != nil {
		return err
	}
	t.maxRetries = retries
	return nil
}

// SetOurAddr binds (or rebinds) the local endpoint for a tunnel or
// data session. Data sessions whose our_tunnel_id matches a live
// control tunnel share that tunnel's endpoint rather than opening
// their own socket, per the section 4.B sharing rule.
func (m *Manager) SetOurAddr(h Handle, local *net.UDPAddr) error {
	t, err := m.lookup(h)
	if err != nil {
		return err
	}

	if !t.isControl() {
		if shared := m.findEndpointToShare(t.ourTunnelID); shared != nil {
			shared.AddRef()
			t.ep = shared
			t.ourAddr = shared.LocalAddr()
			return nil
		}
	}

	if t.ep != nil {
		t.ep.Detach()
	}
	ep, err := transport.Attach(local)
	if err != nil {
		return err
	}
	t.ep = ep
	t.ourAddr = ep.LocalAddr()
	return nil
}

// SetPeerAddr connects the tunnel's endpoint to the peer. If the
// resulting 4-tuple collides with another live control tunnel's
// socket, that tunnel's endpoint is reused instead of failing, per
// the socket-transfer rule in spec section 4.B.
func (m *Manager) SetPeerAddr(h Handle, peer *net.UDPAddr) error {
	t, err := m.lookup(h)
	if err != nil {
		return err
	}
	if t.ep == nil {
		return fmt.Errorf("tunnel has no local endpoint bound")
	}

	err = t.ep.SetPeer(peer)
	if err == nil {
		t.peerAddr = peer
		return nil
	}

	if conflict := m.findConflictingControlTunnel(h, t.ourAddr, peer); conflict != nil {
		conflict.ep.AddRef()
		t.ep.Detach()
		t.ep = conflict.ep
		t.peerAddr = peer
		return nil
	}
	return err
}
