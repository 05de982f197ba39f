package l2tprfc

import "fmt"

// Accept implements the listener-to-tunnel transfer (l2tp_rfc_accept):
// the first buffered frame on the tunnel-id-0 listener is handed to a
// freshly created tunnel, which picks up the reliability sequence from
// that frame rather than starting cold.
func (m *Manager) Accept(listener, target Handle) error {
	lt, err := m.lookup(listener)
	if err != nil {
		return err
	}
	if !lt.isListener() {
		return fmt.Errorf("handle is not a listener")
	}
	if len(lt.recvQueue) == 0 {
		return fmt.Errorf("no pending connection to accept")
	}

	tt, err := m.lookup(target)
	if err != nil {
		return err
	}

	elem := lt.recvQueue[0]
	lt.recvQueue = lt.recvQueue[1:]

	tt.peerAddr = elem.from
	tt.ourNr = elem.seqno + 1
	tt.st |= stateNewSequence

	if tt.host != nil {
		tt.host.OnInput(elem.payload, elem.from, true)
	}
	return nil
}
