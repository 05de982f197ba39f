// Package l2tprfc implements the RFC2661 L2TP reliable control channel:
// per-tunnel send/receive windows, adaptive retransmission, ack
// piggybacking, out-of-order reassembly and session demultiplexing.
// It is a direct translation of the userland reliability engine found
// in Apple's L2TP kernel extension (l2tp_rfc.c), restructured as a
// single-threaded reactor component: a Manager owns every live tunnel
// and is the sole mutator of their state, so no tunnel or session here
// takes a lock.
package l2tprfc

import (
	"net"

	"github.com/go-ppp/pppctld/transport"
	"github.com/go-ppp/pppctld/wire"
)

// Flags configure a tunnel's role and behaviour. They correspond to the
// L2TP_FLAG_* bits of the original engine.
type Flags uint32

const (
	// FlagControl marks a tunnel as carrying the reliable control
	// channel, as opposed to a data session that borrows a control
	// tunnel's endpoint.
	FlagControl Flags = 1 << iota
	// FlagAdaptTimer doubles the retransmission timeout on every retry
	// up to TimeoutCap; without it every retry waits InitialTimeout.
	FlagAdaptTimer
	// FlagDebug enables verbose per-tunnel logging.
	FlagDebug
	// FlagPeerSeqRequired indicates the peer negotiated sequenced data
	// frames for this session.
	FlagPeerSeqRequired
)

// state is a set of lifecycle flags, private to this package: callers
// observe lifecycle through Manager methods and events, not this bitset
// directly.
type state uint32

const (
	stateSessionEst state = 1 << iota
	stateNewSequence
	stateFreeing
)

// EventKind enumerates the asynchronous events a Tunnel can raise to
// its TunnelHost.
type EventKind int

const (
	// EventReliableFailed fires once retransmission exhausts MaxRetries;
	// the owner should abandon the call. The engine stops retransmitting
	// but the tunnel stays resident until explicit teardown.
	EventReliableFailed EventKind = iota
	// EventInputError fires on a data-plane sequence violation (a skip
	// forward rather than the expected next value).
	EventInputError
	// EventXmitFull signals the underlying endpoint would block.
	EventXmitFull
	// EventXmitOK signals send capacity has returned after EventXmitFull.
	EventXmitOK
)

// TunnelHost is implemented by the owner of a Tunnel (the session
// registry). OnInput delivers payload in strict per-tunnel sequence for
// control frames; accepted reports whether the host had room to take
// it, per the buffer-overrun handling in the spec. OnEvent delivers
// asynchronous notifications that have no natural reply.
type TunnelHost interface {
	OnInput(payload []byte, from *net.UDPAddr, isControl bool) (accepted bool)
	OnEvent(kind EventKind, aux int)
}

// sendElem is one outstanding control frame awaiting ack.
type sendElem struct {
	seqno   uint16
	to      *net.UDPAddr
	payload []byte
}

// recvElem is one out-of-order control frame held pending the gap
// filling, or (on the listener) the first frame of a not-yet-accepted
// inbound tunnel.
type recvElem struct {
	seqno   uint16
	from    *net.UDPAddr
	payload []byte
}

// Tunnel is the per-tunnel (or per-data-session) reliability state
// described in spec section 3. Fields are unexported: all mutation goes
// through Manager so that the single-reactor-goroutine discipline in
// section 5 is structurally enforced.
type Tunnel struct {
	host TunnelHost
	ep   *transport.Endpoint

	flags Flags
	st    state

	ourTunnelID, peerTunnelID   uint16
	ourSessionID, peerSessionID uint16

	ourWindow, peerWindow uint16

	ourNs, ourNr, peerNr             uint16
	ourLastDataSeq, peerLastDataSeq  uint16

	initialTimeout, timeoutCap uint16 // half-second ticks
	maxRetries, retryCount     uint16
	retransTimeRemain          uint16
	freeTimeRemain             uint16

	sendQueue []sendElem
	recvQueue []recvElem

	peerAddr, ourAddr *net.UDPAddr
}

const (
	defaultWindowSize      = 4
	defaultInitialTimeout  = 2  // half-second ticks == 1 second
	defaultTimeoutCap      = 16 // half-second ticks == 8 seconds
	defaultMaxRetries      = 5
	lingerTicks            = 62 // half-second ticks == 31 seconds
	fastTickInterval       = 200 // milliseconds
	slowTickIntervalMillis = 500
)

func newTunnel(host TunnelHost) *Tunnel {
	return &Tunnel{
		host:           host,
		flags:          FlagAdaptTimer,
		ourWindow:      defaultWindowSize,
		peerWindow:     defaultWindowSize,
		initialTimeout: defaultInitialTimeout,
		timeoutCap:     defaultTimeoutCap,
		maxRetries:     defaultMaxRetries,
	}
}

func (t *Tunnel) isControl() bool  { return t.flags&FlagControl != 0 }
func (t *Tunnel) isFreeing() bool  { return t.st&stateFreeing != 0 }
func (t *Tunnel) isListener() bool { return t.isControl() && t.ourTunnelID == wire.ListenerTunnelID }
