package pppoe

import (
	"fmt"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
)

// DiscoveredPeer describes the access concentrator that answered a
// PADI with a matching PADO, kept so a subsequent PADR addresses the
// same peer rather than a different AC that happened to also reply.
type DiscoveredPeer struct {
	HWAddr      [6]byte
	ServiceName string
}

// DialSession runs the client side of the PPPoE Active Discovery
// sequence (PADI/PADO/PADR/PADS) on ifname and returns the discovery
// connection it used, the negotiated session ID and the peer. The
// connection carries discovery frames only, not session data. This is
// new client-side orchestration
// built on top of the packet builders in pppoe.go and the raw
// connection in conn.go, neither of which sequenced discovery
// end-to-end on their own. A nil logger is accepted and replaced with
// a no-op one.
func DialSession(ifname, serviceName string, logger log.Logger) (conn *PPPoEConn, sid PPPoESessionID, peer DiscoveredPeer, err error) {
	if logger == nil {
		logger = log.NewNopLogger()
	}

	conn, err = NewDiscoveryConnection(ifname, logger)
	if err != nil {
		return nil, 0, DiscoveredPeer{}, err
	}

	padi, err := NewPADI(conn.HWAddr(), serviceName)
	if err != nil {
		conn.Close()
		return nil, 0, DiscoveredPeer{}, err
	}
	b, err := padi.ToBytes()
	if err != nil {
		conn.Close()
		return nil, 0, DiscoveredPeer{}, err
	}
	if _, err = conn.Send(b); err != nil {
		conn.Close()
		return nil, 0, DiscoveredPeer{}, fmt.Errorf("pppoe: send PADI: %v", err)
	}
	level.Debug(logger).Log("message", "pppoe PADI sent", "ifname", ifname, "service_name", serviceName)

	pado, err := recvCode(conn, PPPoECodePADO, logger)
	if err != nil {
		conn.Close()
		return nil, 0, DiscoveredPeer{}, err
	}
	peer = DiscoveredPeer{HWAddr: pado.SrcHWAddr, ServiceName: serviceName}
	level.Debug(logger).Log("message", "pppoe PADO received", "peer_hwaddr", fmt.Sprintf("%x", peer.HWAddr))

	padr, err := NewPADR(conn.HWAddr(), peer.HWAddr, serviceName)
	if err != nil {
		conn.Close()
		return nil, 0, DiscoveredPeer{}, err
	}
	b, err = padr.ToBytes()
	if err != nil {
		conn.Close()
		return nil, 0, DiscoveredPeer{}, err
	}
	if _, err = conn.Send(b); err != nil {
		conn.Close()
		return nil, 0, DiscoveredPeer{}, fmt.Errorf("pppoe: send PADR: %v", err)
	}
	level.Debug(logger).Log("message", "pppoe PADR sent", "peer_hwaddr", fmt.Sprintf("%x", peer.HWAddr))

	pads, err := recvCode(conn, PPPoECodePADS, logger)
	if err != nil {
		conn.Close()
		return nil, 0, DiscoveredPeer{}, err
	}
	level.Debug(logger).Log("message", "pppoe PADS received", "session_id", pads.SessionID)

	return conn, pads.SessionID, peer, nil
}

// recvCode reads discovery frames until one of the wanted code is
// parsed, returning the first such packet. Frames that fail to parse
// (truncated reads, non-discovery traffic sharing the interface) are
// logged and skipped rather than aborting the whole sequence: a
// malformed or unrelated frame on the wire doesn't mean the peer we
// want has gone away.
func recvCode(conn *PPPoEConn, want PPPoECode, logger log.Logger) (*PPPoEPacket, error) {
	buf := make([]byte, 1500)
	for {
		n, err := conn.Recv(buf)
		if err != nil {
			return nil, fmt.Errorf("pppoe: recv: %v", err)
		}
		packets, err := ParsePacketBuffer(buf[:n])
		if err != nil {
			level.Debug(logger).Log("message", "pppoe discarding unparseable frame", "error", err)
			continue
		}
		for _, p := range packets {
			if p.Code == want {
				return p, nil
			}
		}
	}
}
