package wire

import (
	"bytes"
	"testing"
)

func TestEncodeDecodeControlRoundTrip(t *testing.T) {
	cases := []struct {
		name    string
		hdr     Header
		payload []byte
	}{
		{"empty payload is an ack", Header{TunnelID: 7, SessionID: 0, Ns: 4, Nr: 9}, nil},
		{"with payload", Header{TunnelID: 1, SessionID: 0, Ns: 0, Nr: 1}, []byte{0x80, 0x08, 0x00, 0x00, 0x00, 0x06}},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			b, err := EncodeControl(c.hdr, c.payload)
			if err != nil {
				t.Fatalf("encode: %v", err)
			}
			f, err := Decode(b)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if f.TunnelID != c.hdr.TunnelID || f.SessionID != c.hdr.SessionID ||
				f.Ns != c.hdr.Ns || f.Nr != c.hdr.Nr {
				t.Fatalf("header mismatch: got %+v, want %+v", f, c.hdr)
			}
			if len(c.payload) == 0 {
				if f.Kind != Ack {
					t.Fatalf("expected Ack, got %v", f.Kind)
				}
			} else {
				if f.Kind != Control {
					t.Fatalf("expected Control, got %v", f.Kind)
				}
				if !bytes.Equal(f.Payload, c.payload) {
					t.Fatalf("payload mismatch: got %v, want %v", f.Payload, c.payload)
				}
			}
		})
	}
}

func TestDecodeRejectsBadVersion(t *testing.T) {
	b, _ := EncodeControl(Header{TunnelID: 1}, nil)
	b[1] = 3 // clobber the low 4 bits of the version field
	if _, err := Decode(b); err == nil {
		t.Fatalf("expected error decoding frame with bad version")
	}
}

// TestDecodeRejectsControlFrameMissingSeq documents the spec's Open
// Question: a naive C translation of the flag check
// ("flags & L2TP_FLAGS_S == 0") binds the comparison tighter than the
// bitwise AND and so never actually rejects anything. This test
// pins down the intended behaviour: control frames without S must be
// rejected.
func TestDecodeRejectsControlFrameMissingSeq(t *testing.T) {
	b, err := EncodeControl(Header{TunnelID: 1}, nil)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	// Clear the S bit (byte 0, bit 0x08) while leaving T, L set.
	b[0] &^= 0x08
	if _, err := Decode(b); err == nil {
		t.Fatalf("expected control frame missing S bit to be rejected")
	}
}

func TestDecodeTruncatesToDeclaredLength(t *testing.T) {
	b, err := EncodeControl(Header{TunnelID: 1, Ns: 0, Nr: 0}, []byte{0x01, 0x02, 0x03, 0x04})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	// Append link-layer padding the codec must strip.
	padded := append(append([]byte{}, b...), 0xff, 0xff, 0xff, 0xff)
	f, err := Decode(padded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !bytes.Equal(f.Payload, []byte{0x01, 0x02, 0x03, 0x04}) {
		t.Fatalf("payload not truncated to declared length: got %v", f.Payload)
	}
}

func TestEncodeDecodeDataRoundTrip(t *testing.T) {
	hdr := Header{TunnelID: 3, SessionID: 5, Ns: 10, Nr: 0}
	b, err := EncodeData(hdr, true, []byte("ppp payload"))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	f, err := Decode(b)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if f.Kind != DataWithOffset {
		t.Fatalf("expected DataWithOffset, got %v", f.Kind)
	}
	if f.Ns != 10 || !f.HasSeq {
		t.Fatalf("sequence fields not round-tripped: %+v", f)
	}
	if string(f.Payload) != "ppp payload" {
		t.Fatalf("payload mismatch: %q", f.Payload)
	}
}

func TestEncodeDecodeDataWithoutSeq(t *testing.T) {
	hdr := Header{TunnelID: 3, SessionID: 5}
	b, err := EncodeData(hdr, false, []byte("x"))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	f, err := Decode(b)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if f.Kind != Data || f.HasSeq {
		t.Fatalf("expected plain Data frame, got %+v", f)
	}
}
