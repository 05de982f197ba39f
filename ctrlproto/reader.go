package ctrlproto

import (
	"encoding/binary"
	"fmt"
)

// nativeOrder is the byte order a privileged, in-process client is
// assumed to use, and the order the daemon first tries for any new
// connection.
var nativeOrder binary.ByteOrder = binary.LittleEndian
var networkOrder binary.ByteOrder = binary.BigEndian

// Reader reassembles a byte stream from one client connection into
// Messages, implementing the (header_bytes_read, total_length,
// body_buffer) state machine of spec section 5: Feed may be called
// with any number of bytes at a time, including partial headers or
// partial bodies, as non-blocking reads deliver them.
type Reader struct {
	privileged   bool
	orderLatched bool
	order        binary.ByteOrder

	headerBuf []byte
	haveHdr   int
	hdr       Header
	haveLen   bool
	body      []byte
	haveBody  int
}

// NewReader creates a Reader for one connection. Privileged
// connections (the in-process PPP engine side channel, or a
// CAP-equivalent local client) always use native order and skip
// auto-detection.
func NewReader(privileged bool) *Reader {
	return &Reader{
		privileged: privileged,
		order:      nativeOrder,
		headerBuf:  make([]byte, HeaderSize),
	}
}

// Order returns the byte order this connection has settled on.
func (r *Reader) Order() binary.ByteOrder { return r.order }

// Feed appends newly read bytes and returns every Message that became
// complete as a result. Partial frames are retained internally for the
// next call.
func (r *Reader) Feed(b []byte) ([]Message, error) {
	var out []Message
	for len(b) > 0 {
		if !r.haveLen {
			n := copy(r.headerBuf[r.haveHdr:], b)
			r.haveHdr += n
			b = b[n:]
			if r.haveHdr < HeaderSize {
				break // header still incomplete
			}
			if err := r.decodeHeader(); err != nil {
				return out, err
			}
			r.haveLen = true
			r.body = make([]byte, r.hdr.Len)
			r.haveBody = 0
			if r.hdr.Len == 0 {
				out = append(out, Message{Header: r.hdr})
				r.reset()
				continue
			}
		}

		n := copy(r.body[r.haveBody:], b)
		r.haveBody += n
		b = b[n:]
		if r.haveBody == len(r.body) {
			out = append(out, Message{Header: r.hdr, Body: r.body})
			r.reset()
		}
	}
	return out, nil
}

func (r *Reader) reset() {
	r.haveHdr = 0
	r.haveLen = false
	r.body = nil
	r.haveBody = 0
}

// decodeHeader applies the endianness auto-detection rule: an
// unprivileged client whose decoded type (read in the currently
// assumed order) exceeds the highest known request number is assumed
// to be using the opposite byte order; the choice is latched for the
// rest of the connection's lifetime.
func (r *Reader) decodeHeader() error {
	hdr, err := DecodeHeader(r.headerBuf, r.order)
	if err != nil {
		return err
	}

	if !r.privileged && !r.orderLatched && hdr.Type > MaxPublicType {
		swapped := networkOrder
		if r.order == networkOrder {
			swapped = nativeOrder
		}
		alt, err := DecodeHeader(r.headerBuf, swapped)
		if err == nil && alt.Type <= MaxPublicType {
			r.order = swapped
			hdr = alt
		}
	}
	r.orderLatched = true

	if hdr.Len > 1<<20 {
		return fmt.Errorf("ctrlproto: implausible body length %d", hdr.Len)
	}
	r.hdr = hdr
	return nil
}

// EncodeReply renders a reply in the order this connection settled on,
// so replies are always symmetric with what the client sent.
func (r *Reader) EncodeReply(h Header, body []byte) []byte {
	return append(EncodeHeader(h, r.order), body...)
}
