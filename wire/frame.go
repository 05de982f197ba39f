package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Kind distinguishes the frame shapes a decoded L2TP datagram can take.
type Kind int

const (
	// Control is a reliable control-channel frame (T=1) carrying a
	// non-empty payload for the PPP engine.
	Control Kind = iota
	// Ack is a zero-length-body control frame (T=1) that exists only
	// to acknowledge Nr; it carries no payload.
	Ack
	// Data is a data-plane frame (T=0) with no sequence numbers.
	Data
	// DataWithOffset is a data-plane frame (T=0) carrying Ns/Nr. An
	// offset field, if present, is skipped and does not affect the kind.
	DataWithOffset
)

// Frame is the decoded representation of an L2TP datagram. Only the
// fields relevant to Kind are meaningful; e.g. Ns/Nr are always zero
// for Data frames without sequencing.
type Frame struct {
	Kind      Kind
	TunnelID  uint16
	SessionID uint16
	Ns        uint16
	Nr        uint16
	HasSeq    bool // Ns/Nr fields were present on the wire
	Payload   []byte
}

// Header carries the fields needed to encode a frame; Decode populates
// the equivalent fields on a Frame.
type Header struct {
	TunnelID  uint16
	SessionID uint16
	Ns        uint16
	Nr        uint16
}

func version(flagsVersion uint16) uint16 {
	return flagsVersion & VersionMask
}

// Decode parses a single L2TP datagram. Per RFC2661 section 3.1 the
// optional fields are strictly ordered: {L? length} {tunnel, session}
// {S? ns, nr} {O? offset}. The payload is truncated (never extended) to
// the declared Length, which strips any link-layer padding; a frame with
// no declared Length uses the remainder of the buffer.
//
// Control frames (T=1) are rejected unless L and S are set and O is
// clear, per spec: the naive C translation of this check
// ("flags & L2TP_FLAGS_S == 0") binds the comparison tighter than the
// bitwise AND, evaluates to flags & 0, and so never rejects anything. This
// implementation honours the intended check, not the historical bug.
func Decode(b []byte) (Frame, error) {
	r := bytes.NewReader(b)

	var flagsVersion uint16
	if err := binary.Read(r, binary.BigEndian, &flagsVersion); err != nil {
		return Frame{}, fmt.Errorf("short frame: %v", err)
	}
	if version(flagsVersion) != Version {
		return Frame{}, fmt.Errorf("unsupported protocol version %d", version(flagsVersion))
	}

	isControl := flagsVersion&FlagT != 0
	hasLength := flagsVersion&FlagL != 0
	hasSeq := flagsVersion&FlagS != 0
	hasOffset := flagsVersion&FlagO != 0

	if isControl {
		if !hasLength || !hasSeq || hasOffset {
			return Frame{}, fmt.Errorf("control frame has illegal flag combination 0x%04x", flagsVersion)
		}
	}

	declaredLen := uint16(len(b))
	if hasLength {
		if err := binary.Read(r, binary.BigEndian, &declaredLen); err != nil {
			return Frame{}, fmt.Errorf("short frame: missing length field: %v", err)
		}
	}
	if int(declaredLen) > len(b) {
		return Frame{}, fmt.Errorf("declared length %d exceeds frame bounds %d", declaredLen, len(b))
	}

	var tid, sid uint16
	if err := binary.Read(r, binary.BigEndian, &tid); err != nil {
		return Frame{}, fmt.Errorf("short frame: missing tunnel id: %v", err)
	}
	if err := binary.Read(r, binary.BigEndian, &sid); err != nil {
		return Frame{}, fmt.Errorf("short frame: missing session id: %v", err)
	}

	var ns, nr uint16
	if hasSeq {
		if err := binary.Read(r, binary.BigEndian, &ns); err != nil {
			return Frame{}, fmt.Errorf("short frame: missing ns: %v", err)
		}
		if err := binary.Read(r, binary.BigEndian, &nr); err != nil {
			return Frame{}, fmt.Errorf("short frame: missing nr: %v", err)
		}
	}

	if hasOffset {
		var offsetSize uint16
		if err := binary.Read(r, binary.BigEndian, &offsetSize); err != nil {
			return Frame{}, fmt.Errorf("short frame: missing offset size: %v", err)
		}
		if _, err := r.Seek(int64(offsetSize), 1); err != nil {
			return Frame{}, fmt.Errorf("offset size %d exceeds frame bounds: %v", offsetSize, err)
		}
	}

	// Truncate to the declared length, never extend: this strips
	// link-layer padding trailing the real payload.
	consumed := len(b) - r.Len()
	end := int(declaredLen)
	if end < consumed {
		end = consumed
	}
	if end > len(b) {
		end = len(b)
	}
	payload := b[consumed:end]

	f := Frame{
		TunnelID:  tid,
		SessionID: sid,
		Ns:        ns,
		Nr:        nr,
		HasSeq:    hasSeq,
		Payload:   payload,
	}

	switch {
	case isControl && len(payload) == 0:
		f.Kind = Ack
	case isControl:
		f.Kind = Control
	case hasSeq:
		f.Kind = DataWithOffset
	default:
		f.Kind = Data
	}

	return f, nil
}

// EncodeControl renders a control-channel frame (Control or Ack, per
// whether payload is empty). T, L and S are always set and O is always
// clear, matching the only combination Decode accepts.
func EncodeControl(hdr Header, payload []byte) ([]byte, error) {
	length := uint16(controlHeaderSize + len(payload))
	flagsVersion := uint16(FlagT|FlagL|FlagS) | Version

	buf := new(bytes.Buffer)
	for _, v := range []uint16{flagsVersion, length, hdr.TunnelID, hdr.SessionID, hdr.Ns, hdr.Nr} {
		if err := binary.Write(buf, binary.BigEndian, v); err != nil {
			return nil, err
		}
	}
	buf.Write(payload)
	return buf.Bytes(), nil
}

// EncodeData renders a data-plane frame. When includeSeq is true the Ns/Nr
// fields are written ahead of the payload and S is set; O is never set
// since this implementation never emits an offset field.
func EncodeData(hdr Header, includeSeq bool, payload []byte) ([]byte, error) {
	flagsVersion := uint16(FlagL) | Version
	length := uint16(commonHeaderLen + tunnelSessionLen + len(payload))
	if includeSeq {
		flagsVersion |= FlagS
		length += seqLen
	}

	buf := new(bytes.Buffer)
	fields := []uint16{flagsVersion, length, hdr.TunnelID, hdr.SessionID}
	if includeSeq {
		fields = append(fields, hdr.Ns, hdr.Nr)
	}
	for _, v := range fields {
		if err := binary.Write(buf, binary.BigEndian, v); err != nil {
			return nil, err
		}
	}
	buf.Write(payload)
	return buf.Bytes(), nil
}
