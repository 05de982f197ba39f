package l2tprfc

import "github.com/go-ppp/pppctld/wire"

// FastTick drives the 200ms piggyback-ack timer (l2tp_rfc_fasttimer):
// any established tunnel with an unacknowledged in-sequence arrival
// and nothing already queued to carry that ack gets an explicit
// zero-payload ack frame.
func (m *Manager) FastTick() {
	for _, h := range m.order {
		t := m.tunnels[h]
		if t == nil || !t.isControl() || t.isListener() || t.peerTunnelID == 0 {
			continue
		}
		if t.st&stateNewSequence == 0 {
			continue
		}
		if len(t.sendQueue) != 0 {
			continue // an outbound frame will carry the ack anyway
		}
		m.sendBareAck(t)
		t.st &^= stateNewSequence
	}
}

func (m *Manager) sendBareAck(t *Tunnel) {
	if t.ep == nil || t.peerAddr == nil {
		return
	}
	hdr := wire.Header{TunnelID: t.peerTunnelID, Ns: t.ourNs, Nr: t.ourNr}
	b, err := wire.EncodeControl(hdr, nil)
	if err != nil {
		return
	}
	t.ep.SendTo(b, t.peerAddr)
}

// SlowTick drives the 500ms retransmission and linger timer
// (l2tp_rfc_slowtimer).
func (m *Manager) SlowTick() {
	// Snapshot the handle list: freeNow mutates m.order in place, which
	// would otherwise shift elements under a live range over the same
	// backing array.
	handles := append([]Handle(nil), m.order...)
	var expired []Handle

	for _, h := range handles {
		t := m.tunnels[h]
		if t == nil {
			continue
		}

		if t.isFreeing() {
			if t.freeTimeRemain > 0 {
				t.freeTimeRemain--
			}
			if t.freeTimeRemain == 0 {
				expired = append(expired, h)
			}
			continue
		}

		if !t.isControl() || len(t.sendQueue) == 0 {
			continue
		}

		if t.retryCount > 0 && t.retryCount >= t.maxRetries {
			// EventReliableFailed has already been raised for this queue.
			continue
		}

		if t.retransTimeRemain > 0 {
			t.retransTimeRemain--
		}
		if t.retransTimeRemain > 0 {
			continue
		}

		t.retryCount++
		if t.retryCount >= t.maxRetries {
			if t.host != nil {
				t.host.OnEvent(EventReliableFailed, 0)
			}
			// Stop retransmitting; the tunnel stays resident until the
			// owner explicitly tears it down.
			continue
		}

		m.transmitQueued(t, &t.sendQueue[0])
		t.retransTimeRemain = nextTimeout(t)
	}

	for _, h := range expired {
		m.freeNow(h)
	}
}

// nextTimeout computes the next retransmission interval, doubling on
// every retry up to timeout_cap when FlagAdaptTimer is set.
func nextTimeout(t *Tunnel) uint16 {
	if t.flags&FlagAdaptTimer == 0 {
		return t.initialTimeout
	}
	timeout := t.initialTimeout
	for i := uint16(0); i < t.retryCount; i++ {
		if timeout >= t.timeoutCap {
			return t.timeoutCap
		}
		timeout *= 2
	}
	if timeout > t.timeoutCap {
		return t.timeoutCap
	}
	return timeout
}
