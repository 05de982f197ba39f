package option

import "testing"

func TestTierPrecedence(t *testing.T) {
	setup := SourceFunc(func(e, p string) (Value, bool) {
		if e == "PPP" && p == "MTU" {
			return U32(1400), true
		}
		return Value{}, false
	})
	s := NewStore(setup)

	if got := s.Get("PPP", "MTU", U32(0)).AsU32(0); got != 1400 {
		t.Fatalf("setup tier: got %d, want 1400", got)
	}

	s.SetOption("PPP", "MTU", U32(1000))
	if got := s.Get("PPP", "MTU", U32(0)).AsU32(0); got != 1000 {
		t.Fatalf("override tier: got %d, want 1000", got)
	}

	s.Live = SourceFunc(func(e, p string) (Value, bool) {
		if e == "PPP" && p == "MTU" {
			return U32(1492), true
		}
		return Value{}, false
	})
	if got := s.Get("PPP", "MTU", U32(0)).AsU32(0); got != 1492 {
		t.Fatalf("live tier: got %d, want 1492", got)
	}

	if got := s.Get("PPP", "Unknown", String("default")).AsString("default", 0); got != "default" {
		t.Fatalf("no hit: got %q, want default", got)
	}
}

func TestSetOptionSnapsSerialSpeed(t *testing.T) {
	s := NewStore(nil)
	s.SetOption("Modem", "Speed", U32(5000))
	if got := s.Get("Modem", "Speed", U32(0)).AsU32(0); got != 9600 {
		t.Fatalf("snapped speed = %d, want 9600", got)
	}
}

func TestAddressRoundTrip(t *testing.T) {
	v, err := Address("10.0.0.1")
	if err != nil {
		t.Fatalf("Address: %v", err)
	}
	if got := v.AsAddress(""); got != "10.0.0.1" {
		t.Fatalf("AsAddress = %q, want 10.0.0.1", got)
	}
}

func TestSnapSpeedLadder(t *testing.T) {
	cases := map[uint32]uint32{
		0:      1200,
		1200:   1200,
		1800:   2400,
		20000:  38400,
		200000: 115200,
	}
	for in, want := range cases {
		if got := SnapSpeed(in); got != want {
			t.Fatalf("SnapSpeed(%d) = %d, want %d", in, got, want)
		}
	}
}
