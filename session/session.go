// Package session implements the PPP session record: identity, phase,
// subtype, its effective option set, owning client, and notification
// subscribers. It is modelled on the `ppp` struct surfaced through
// original_source/Controller/ppp_socket_server.c (ppp_updatephase,
// ppp_new, the subtype-specific connect paths) and the phase naming
// used throughout that file and the Helpers/pppd tree. The actual PPP
// negotiation engine remains an opaque collaborator behind Engine.
package session

import (
	"fmt"

	"github.com/go-ppp/pppctld/option"
)

// Phase is the session lifecycle state, per spec section 4.D.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseInitialize
	PhaseSerialConn
	PhaseEstablish
	PhaseAuthenticate
	PhaseNetwork
	PhaseRunning
	PhaseDisconnect
	PhaseHoldoff
	PhaseDead
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseInitialize:
		return "initialize"
	case PhaseSerialConn:
		return "serialconn"
	case PhaseEstablish:
		return "establish"
	case PhaseAuthenticate:
		return "authenticate"
	case PhaseNetwork:
		return "network"
	case PhaseRunning:
		return "running"
	case PhaseDisconnect:
		return "disconnect"
	case PhaseHoldoff:
		return "holdoff"
	case PhaseDead:
		return "dead"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Subtype names the underlying transport carrying this session's PPP
// traffic.
type Subtype int

const (
	SubtypeSerial Subtype = iota
	SubtypePPPoE
	SubtypePPTP
	SubtypeL2TP
)

func (s Subtype) String() string {
	switch s {
	case SubtypeSerial:
		return "serial"
	case SubtypePPPoE:
		return "pppoe"
	case SubtypePPTP:
		return "pptp"
	case SubtypeL2TP:
		return "l2tp"
	default:
		return "unknown"
	}
}

// Engine is the opaque PPP negotiation collaborator. No LCP/IPCP/CCP
// or authentication state machine lives in this repository; Engine is
// whatever external process or library actually runs PPP, started with
// the session's frozen option set.
type Engine interface {
	Start(options map[[2]string]option.Value) error
	Stop()
}

// Subscriber receives session lifecycle notifications, the session
// package's side of the client control protocol's event fan-out
// (package ctrlproto).
type Subscriber interface {
	OnPhaseChange(handle uint32, phase Phase)
	OnExit(handle uint32, code ExitCode)
}

// ExitCode is the closed set named in spec section 6.
type ExitCode int

const (
	ExitNone ExitCode = iota
	ExitConnectFailed
	ExitHangup
	ExitAuthFailed
	ExitOpenFailed
	ExitOptionError
)

// Session is one PPP call: its identity, lifecycle phase, transport
// subtype, effective option set, owning client (if any), and
// subscriber list. All fields are mutated only from the supervisor's
// single reactor goroutine (package registry).
type Session struct {
	Handle    uint32
	ServiceID string
	IfUnit    int
	Subtype   Subtype

	phase  Phase
	owner  uint32 // owning client's connection id, 0 if unarbitrated
	engine Engine

	Options *option.Store
	frozen  map[[2]string]option.Value

	subscribers map[Subscriber]uint32 // subscriber -> requested event mask
}

// New creates a session record in PhaseIdle. setup is the persisted
// per-service option tier (spec section 4.E); it may be nil.
func New(handle uint32, serviceID string, subtype Subtype, setup option.Source) *Session {
	return &Session{
		Handle:      handle,
		ServiceID:   serviceID,
		Subtype:     subtype,
		phase:       PhaseIdle,
		Options:     option.NewStore(setup),
		subscribers: make(map[Subscriber]uint32),
	}
}

// Phase returns the current lifecycle phase.
func (s *Session) Phase() Phase { return s.phase }

// Owner returns the owning client's connection id, or 0 if the
// session is unarbitrated.
func (s *Session) Owner() uint32 { return s.owner }

// SetOwner arbitrates the session to a client connection.
func (s *Session) SetOwner(clientID uint32) { s.owner = clientID }

// Subscribe registers sub for notifications matching mask (1 = PPP
// events, 2 = status updates), per spec section 4.F's ENABLE_EVENT.
func (s *Session) Subscribe(sub Subscriber, mask uint32) {
	s.subscribers[sub] = mask
}

// Unsubscribe removes sub from the notification list.
func (s *Session) Unsubscribe(sub Subscriber) {
	delete(s.subscribers, sub)
}

// optionKeys enumerates the (entity, property) pairs frozen into the
// engine's option set at connect time: a few PPP/Modem keys plus the
// keys the L2TP and PPPoE engines in package registry read.
var optionKeys = [][2]string{
	{"PPP", "auth"},
	{"PPP", "mtu"},
	{"Modem", "Speed"},
	{"Modem", "dial_string"},
	{"L2TP", "peer_addr"},
	{"L2TP", "peer_port"},
	{"PPPoE", "ifname"},
	{"PPPoE", "service_name"},
}

// Connect freezes the effective option set and starts the PPP engine,
// transitioning from PhaseIdle through PhaseInitialize to the subtype's
// first connection phase. The negotiation itself, and the transition
// to PhaseEstablish onward, are driven by Engine callbacks the caller
// wires via SetPhase.
func (s *Session) Connect(engine Engine) error {
	if s.phase != PhaseIdle {
		return fmt.Errorf("session: cannot connect from phase %v", s.phase)
	}
	s.engine = engine
	s.frozen = s.Options.Freeze(optionKeys, nil)
	s.SetPhase(PhaseInitialize)
	if err := engine.Start(s.frozen); err != nil {
		s.SetPhase(PhaseDead)
		s.notifyExit(ExitConnectFailed)
		return err
	}
	return nil
}

// Disconnect stops the engine and transitions through PhaseDisconnect
// to PhaseDead.
func (s *Session) Disconnect() {
	if s.engine != nil {
		s.engine.Stop()
	}
	s.SetPhase(PhaseDisconnect)
	s.SetPhase(PhaseDead)
}

// SetPhase transitions the session's lifecycle phase and notifies
// every subscriber whose mask includes PPP events (bit 0), in the
// order phases actually occur, per spec section 5's ordering
// guarantee for posted events.
func (s *Session) SetPhase(p Phase) {
	s.phase = p
	for sub, mask := range s.subscribers {
		if mask&1 != 0 {
			sub.OnPhaseChange(s.Handle, p)
		}
	}
}

func (s *Session) notifyExit(code ExitCode) {
	for sub, mask := range s.subscribers {
		if mask&1 != 0 {
			sub.OnExit(s.Handle, code)
		}
	}
}
