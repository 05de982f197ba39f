// Package dataplane installs and removes the kernel's managed
// pppol2tp tunnel/session state over generic netlink. It is adapted
// from the teacher's internal/nll2tp client and the small
// DataPlane/TunnelDataPlane/SessionDataPlane interface split in
// l2tp/dataplane.go and l2tp/nl_dataplane.go, collapsed here to the
// single Installer interface the registry needs: a tunnel/session
// pair is installed once the control channel reaches establishment
// and removed on teardown. The actual kernel forwarding path this
// enables is out of scope; only the installation call itself is this
// repository's business.
package dataplane

import (
	"fmt"

	"github.com/go-ppp/pppctld/internal/nll2tp"
)

// Installer installs or removes the kernel dataplane state backing one
// L2TP tunnel/session pair.
type Installer interface {
	InstallTunnel(tunnelID, peerTunnelID uint16, fd int) error
	InstallSession(tunnelID, peerTunnelID, sessionID, peerSessionID uint16) error
	RemoveSession(tunnelID, sessionID uint16) error
	RemoveTunnel(tunnelID uint16) error
	Close()
}

// netlinkInstaller is the real kernel-backed Installer, grounded on
// l2tp/nl_dataplane.go's nlDataPlane.
type netlinkInstaller struct {
	conn *nll2tp.Conn
}

// NewNetlinkInstaller dials the kernel's l2tp generic netlink family.
// Callers should fall back to NullInstaller if this fails (e.g. the
// l2tp kernel module isn't loaded, or the process lacks
// CAP_NET_ADMIN), exactly as the teacher's kl2tpd does with its
// -null flag / nullDataPlane.
func NewNetlinkInstaller() (Installer, error) {
	conn, err := nll2tp.Dial()
	if err != nil {
		return nil, fmt.Errorf("dataplane: dial genetlink: %v", err)
	}
	return &netlinkInstaller{conn: conn}, nil
}

func (n *netlinkInstaller) InstallTunnel(tunnelID, peerTunnelID uint16, fd int) error {
	cfg := &nll2tp.TunnelConfig{
		Tid:     nll2tp.L2tpTunnelID(tunnelID),
		Ptid:    nll2tp.L2tpTunnelID(peerTunnelID),
		Version: nll2tp.ProtocolVersion2,
		Encap:   nll2tp.EncaptypeUdp,
	}
	if fd >= 0 {
		return n.conn.CreateManagedTunnel(fd, cfg)
	}
	return fmt.Errorf("dataplane: static tunnel install needs local/peer addresses, not supported from this path")
}

func (n *netlinkInstaller) InstallSession(tunnelID, peerTunnelID, sessionID, peerSessionID uint16) error {
	return n.conn.CreateSession(&nll2tp.SessionConfig{
		Tid:             nll2tp.L2tpTunnelID(tunnelID),
		Ptid:            nll2tp.L2tpTunnelID(peerTunnelID),
		Sid:             nll2tp.L2tpSessionID(sessionID),
		Psid:            nll2tp.L2tpSessionID(peerSessionID),
		Pseudowire_type: nll2tp.PwtypePPP,
	})
}

func (n *netlinkInstaller) RemoveSession(tunnelID, sessionID uint16) error {
	return n.conn.DeleteSession(&nll2tp.SessionConfig{
		Tid: nll2tp.L2tpTunnelID(tunnelID),
		Sid: nll2tp.L2tpSessionID(sessionID),
	})
}

func (n *netlinkInstaller) RemoveTunnel(tunnelID uint16) error {
	return n.conn.DeleteTunnel(&nll2tp.TunnelConfig{
		Tid:  nll2tp.L2tpTunnelID(tunnelID),
		Ptid: 1, // DeleteTunnel sends only Tid; Ptid is not used on this path
	})
}

func (n *netlinkInstaller) Close() {
	n.conn.Close()
}

// NullInstaller is a no-op Installer, grounded on
// l2tp/null_dataplane.go's nullDataPlane: used when no real kernel
// dataplane is available or wanted (development, containers without
// CAP_NET_ADMIN, non-Linux hosts).
type NullInstaller struct{}

func (NullInstaller) InstallTunnel(tunnelID, peerTunnelID uint16, fd int) error  { return nil }
func (NullInstaller) InstallSession(tunnelID, peerTunnelID, sessionID, peerSessionID uint16) error {
	return nil
}
func (NullInstaller) RemoveSession(tunnelID, sessionID uint16) error { return nil }
func (NullInstaller) RemoveTunnel(tunnelID uint16) error             { return nil }
func (NullInstaller) Close()                                        {}
