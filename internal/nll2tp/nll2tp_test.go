package nll2tp

import "testing"

func TestTunnelCreateAttrValidation(t *testing.T) {
	cases := []struct {
		name string
		cfg  *TunnelConfig
	}{
		{"nil config", nil},
		{"zero tunnel id", &TunnelConfig{Ptid: 1, Version: ProtocolVersion2, Encap: EncaptypeUdp}},
		{"zero peer tunnel id", &TunnelConfig{Tid: 1, Version: ProtocolVersion2, Encap: EncaptypeUdp}},
		{"bad version", &TunnelConfig{Tid: 1, Ptid: 1, Version: 9, Encap: EncaptypeUdp}},
		{"bad encap", &TunnelConfig{Tid: 1, Ptid: 1, Version: ProtocolVersion2, Encap: 9}},
		{"v2 ip encap unsupported", &TunnelConfig{Tid: 1, Ptid: 1, Version: ProtocolVersion2, Encap: EncaptypeIp}},
		{"v2 tunnel id too wide", &TunnelConfig{Tid: 1 << 20, Ptid: 1, Version: ProtocolVersion2, Encap: EncaptypeUdp}},
	}
	for _, c := range cases {
		if _, err := tunnelCreateAttr(c.cfg); err == nil {
			t.Errorf("%s: expected error, got nil", c.name)
		}
	}

	attrs, err := tunnelCreateAttr(&TunnelConfig{Tid: 100, Ptid: 200, Version: ProtocolVersion2, Encap: EncaptypeUdp})
	if err != nil {
		t.Fatalf("valid config: %v", err)
	}
	if len(attrs) != 5 {
		t.Fatalf("valid config: got %d attributes, want 5", len(attrs))
	}
}

func TestSessionAttrValidation(t *testing.T) {
	cases := []struct {
		name string
		cfg  *SessionConfig
	}{
		{"nil config", nil},
		{"zero tunnel id", &SessionConfig{Sid: 1, Psid: 1}},
		{"zero session id", &SessionConfig{Tid: 1, Psid: 1}},
		{"zero peer session id", &SessionConfig{Tid: 1, Sid: 1}},
	}
	for _, c := range cases {
		if _, err := sessionAttr(c.cfg); err == nil {
			t.Errorf("%s: expected error, got nil", c.name)
		}
	}

	attrs, err := sessionAttr(&SessionConfig{Tid: 1, Ptid: 2, Sid: 3, Psid: 4, Pseudowire_type: PwtypePPP})
	if err != nil {
		t.Fatalf("valid config: %v", err)
	}
	if len(attrs) != 6 {
		t.Fatalf("valid config: got %d attributes, want 6", len(attrs))
	}
}
