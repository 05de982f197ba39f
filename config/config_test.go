package config

import "testing"

func TestLoadStringDaemonDefaults(t *testing.T) {
	cfg, err := LoadString(`
[daemon]
control_socket = "/tmp/pppctld.sock"
listen = "127.0.0.1:1701"
`)
	if err != nil {
		t.Fatalf("LoadString: %v", err)
	}
	if cfg.Daemon.ControlSocket != "/tmp/pppctld.sock" {
		t.Fatalf("control_socket = %q", cfg.Daemon.ControlSocket)
	}
	if cfg.Daemon.ControlSocketMode != 0666 {
		t.Fatalf("control_socket_mode default = %o, want 0666", cfg.Daemon.ControlSocketMode)
	}
}

func TestLoadStringServiceSetup(t *testing.T) {
	cfg, err := LoadString(`
[service.isp1.PPP]
auth = "chap"
mtu = 1492

[service.isp1.Modem]
speed = 57600
`)
	if err != nil {
		t.Fatalf("LoadString: %v", err)
	}

	src := cfg.SetupSource("isp1")
	v, ok := src.Lookup("PPP", "auth")
	if !ok || v.AsString("", 0) != "chap" {
		t.Fatalf("PPP.auth = %+v, ok=%v", v, ok)
	}
	v, ok = src.Lookup("Modem", "speed")
	if !ok || v.AsU32(0) != 57600 {
		t.Fatalf("Modem.speed = %+v, ok=%v", v, ok)
	}
	if _, ok := src.Lookup("PPP", "nonexistent"); ok {
		t.Fatalf("expected no hit for unset property")
	}
}

func TestSetupSourceUnknownService(t *testing.T) {
	cfg, err := LoadString(`[daemon]`)
	if err != nil {
		t.Fatalf("LoadString: %v", err)
	}
	src := cfg.SetupSource("nope")
	if _, ok := src.Lookup("PPP", "auth"); ok {
		t.Fatalf("expected no hit for unknown service")
	}
}
