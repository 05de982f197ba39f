package l2tprfc

import (
	"net"
	"sort"

	"github.com/go-ppp/pppctld/wire"
)

// handleControl implements l2tp_handle_control: ack processing,
// reordering and in-sequence delivery for the reliable control
// channel, and the listener's first-packet buffering.
func (m *Manager) handleControl(t *Tunnel, f wire.Frame, from *net.UDPAddr) {
	if t.isListener() {
		m.handleListenerInput(t, f, from)
		return
	}

	if seqGreater(f.Nr, t.peerNr) {
		m.handleAck(t, f.Nr)
	}
	if f.Kind == wire.Ack {
		return
	}

	switch {
	case seqGreater(f.Ns, t.ourNr):
		m.queueOutOfOrder(t, f, from)
	case seqLess(f.Ns, t.ourNr):
		// Already delivered: the peer didn't see our ack, so remind it.
		t.st |= stateNewSequence
	default:
		m.deliverInSequence(t, f, from)
		m.drainRecvQueue(t)
	}
}

// handleListenerInput implements the tunnel-id-0 acceptance path: the
// first control frame from a not-yet-known peer is buffered for
// Accept and also delivered to the host, so the caller can decide
// whether to spin up a new tunnel for it; if the host refuses it, the
// buffered copy is discarded.
func (m *Manager) handleListenerInput(t *Tunnel, f wire.Frame, from *net.UDPAddr) {
	if f.Ns != 0 {
		return // only a fresh SCCRQ-equivalent may open a new tunnel
	}
	elem := recvElem{seqno: f.Ns, from: from, payload: f.Payload}
	t.recvQueue = append(t.recvQueue, elem)

	if !t.host.OnInput(f.Payload, from, true) {
		// Host had no room for a new tunnel: discard the buffered copy.
		t.recvQueue = t.recvQueue[:len(t.recvQueue)-1]
	}
}

// handleAck implements l2tp_rfc_handle_ack: advances peer_nr, drops
// fully-acked entries from the send queue, and releases any
// previously window-blocked entries that the advance now admits.
func (m *Manager) handleAck(t *Tunnel, nr uint16) {
	oldPeerNr := t.peerNr
	t.peerNr = nr

	i := 0
	for i < len(t.sendQueue) && seqLess(t.sendQueue[i].seqno, nr) {
		t.retryCount = 0
		t.retransTimeRemain = t.initialTimeout
		i++
	}
	t.sendQueue = t.sendQueue[i:]

	for idx := range t.sendQueue {
		e := &t.sendQueue[idx]
		if seqGreater(e.seqno, nr+t.peerWindow-1) {
			break // still outside the current window
		}
		if seqGreater(e.seqno, oldPeerNr+t.peerWindow-1) {
			// Was outside the window before this ack, now inside it.
			m.transmitQueued(t, e)
		}
	}
}

func (m *Manager) queueOutOfOrder(t *Tunnel, f wire.Frame, from *net.UDPAddr) {
	for _, e := range t.recvQueue {
		if e.seqno == f.Ns {
			return // duplicate of an already-buffered frame
		}
	}
	t.recvQueue = append(t.recvQueue, recvElem{seqno: f.Ns, from: from, payload: f.Payload})
	sort.Slice(t.recvQueue, func(i, j int) bool { return seqLess(t.recvQueue[i].seqno, t.recvQueue[j].seqno) })
}

func (m *Manager) deliverInSequence(t *Tunnel, f wire.Frame, from *net.UDPAddr) {
	if t.isFreeing() {
		t.ourNr++
		t.st |= stateNewSequence
		return
	}
	if !t.host.OnInput(f.Payload, from, true) {
		// Buffer overrun: drop this frame, don't advance. The peer will
		// retransmit it.
		return
	}
	t.ourNr++
	t.st |= stateNewSequence
}

// drainRecvQueue delivers any buffered frames that are now in
// sequence, stopping at the first gap. A host refusal discards the
// remainder of the queue rather than holding it for later: an
// overrun is treated as fatal for whatever is currently in flight.
func (m *Manager) drainRecvQueue(t *Tunnel) {
	for len(t.recvQueue) > 0 {
		head := t.recvQueue[0]
		if head.seqno != t.ourNr {
			break
		}
		t.recvQueue = t.recvQueue[1:]

		if t.isFreeing() {
			t.ourNr++
			t.st |= stateNewSequence
			continue
		}
		if !t.host.OnInput(head.payload, head.from, true) {
			t.recvQueue = t.recvQueue[:0]
			return
		}
		t.ourNr++
	}
}

// handleData implements l2tp_handle_data: a sequenced data frame that
// skips ahead raises EventInputError and is still delivered, one at or
// behind the last seen sequence number is dropped as stale; unsequenced
// frames are delivered unconditionally.
func (m *Manager) handleData(t *Tunnel, f wire.Frame, from *net.UDPAddr) {
	if t.isFreeing() {
		return
	}
	if f.HasSeq {
		if seqGreater(f.Ns, t.peerLastDataSeq) && f.Ns != t.peerLastDataSeq+1 {
			t.host.OnEvent(EventInputError, int(f.Ns))
		}
		if seqLessEq(f.Ns, t.peerLastDataSeq) && t.peerLastDataSeq != 0 {
			return // stale retransmission
		}
		t.peerLastDataSeq = f.Ns
	}
	t.host.OnInput(f.Payload, from, false)
}
