// Package ctrlproto implements the length-prefixed client control
// protocol on the local stream socket: request/reply framing,
// per-connection endianness auto-detection, and event fan-out. It is
// grounded on original_source/Controller/ppp_socket_server.c's
// `struct msg` header and its readn/writen helpers, reworked into
// Go's non-blocking partial-frame reassembly idiom described in
// spec section 5.
package ctrlproto

import (
	"encoding/binary"
	"fmt"
)

// HeaderSize is the encoded size of the fixed request/reply header:
// flags, type (u16 each), result, cookie, link, len (u32 each).
const HeaderSize = 2 + 2 + 4 + 4 + 4 + 4

// ReplySentinel marks a privileged fire-and-forget message as having
// no reply at all, distinct from a zero-length "OK" reply.
const ReplySentinel = 0xFFFFFFFF

// Flags are bits in the header's flags field.
type Flags uint16

const (
	// FlagUseServiceID indicates the body is preceded by a service-id
	// string of length Header.Link bytes.
	FlagUseServiceID Flags = 1 << 0
)

// Type is a request or reply type. The set is closed and stable: new
// requests take new integers, never reuse, per spec section 6.
type Type uint16

const (
	TypeVersion Type = iota
	TypeStatus
	TypeExtendedStatus
	TypeConnect
	TypeDisconnect
	TypeSuspend
	TypeResume
	TypeGetOption
	TypeSetOption
	TypeEnableEvent
	TypeDisableEvent
	TypeGetNbLinks
	TypeGetLinkByIndex
	TypeGetLinkByServiceID
	TypeGetLinkByIfname
	TypeGetConnectData

	// MaxPublicType is the highest request type an ordinary client may
	// send. A decoded type beyond this is either a privileged type, or
	// (far more likely in practice) a sign that the header needs to be
	// read with the opposite byte order; see Reader.
	maxPublicTypeSentinel
)

// MaxPublicType is the highest request number an unprivileged client
// may legitimately send.
const MaxPublicType = maxPublicTypeSentinel - 1

const (
	// TypeEvent is a reply-only pseudo-type for fan-out notifications:
	// Result carries the event kind, Cookie the error code.
	TypeEvent Type = 100 + iota
	// TypePPPDEvent, TypePPPDStatus and TypePPPDPhase arrive only from
	// the privileged in-process PPP engine side channel; they are
	// fire-and-forget (the daemon replies with Len == ReplySentinel).
	TypePPPDEvent
	TypePPPDStatus
	TypePPPDPhase
)

// Event mask bits for ENABLE_EVENT/DISABLE_EVENT.
const (
	EventMaskPPP    uint32 = 1 << 0
	EventMaskStatus uint32 = 1 << 1
)

// Header is the fixed 20-byte frame header prefixing every request and
// reply body.
type Header struct {
	Flags  Flags
	Type   Type
	Result uint32
	Cookie uint32
	Link   uint32
	Len    uint32
}

// EncodeHeader renders h in the given byte order.
func EncodeHeader(h Header, order binary.ByteOrder) []byte {
	b := make([]byte, HeaderSize)
	order.PutUint16(b[0:2], uint16(h.Flags))
	order.PutUint16(b[2:4], uint16(h.Type))
	order.PutUint32(b[4:8], h.Result)
	order.PutUint32(b[8:12], h.Cookie)
	order.PutUint32(b[12:16], h.Link)
	order.PutUint32(b[16:20], h.Len)
	return b
}

// DecodeHeader parses a HeaderSize-byte buffer in the given byte order.
func DecodeHeader(b []byte, order binary.ByteOrder) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, fmt.Errorf("ctrlproto: short header: %d bytes", len(b))
	}
	return Header{
		Flags:  Flags(order.Uint16(b[0:2])),
		Type:   Type(order.Uint16(b[2:4])),
		Result: order.Uint32(b[4:8]),
		Cookie: order.Uint32(b[8:12]),
		Link:   order.Uint32(b[12:16]),
		Len:    order.Uint32(b[16:20]),
	}, nil
}

// Message is a fully reassembled request or reply: header plus body.
// When FlagUseServiceID is set the first Header.Link bytes of Body are
// the service-id string and the remainder is the payload.
type Message struct {
	Header Header
	Body   []byte
}

// ServiceID splits a service-id-tagged body, per FlagUseServiceID.
func (m Message) ServiceID() (id string, rest []byte) {
	if m.Header.Flags&FlagUseServiceID == 0 || int(m.Header.Link) > len(m.Body) {
		return "", m.Body
	}
	return string(m.Body[:m.Header.Link]), m.Body[m.Header.Link:]
}
