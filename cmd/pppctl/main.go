/*
The pppctl command is a thin CLI client for pppctld's control socket:
it starts a named PPP call, watches it come up, and reports its exit
code, implementing the CLI surface described in package ctrlproto's
wire format.
*/
package main

import (
	"encoding/binary"
	"flag"
	"fmt"
	"net"
	"os"

	"golang.org/x/sys/unix"

	"github.com/go-ppp/pppctld/ctrlproto"
)

func main() {
	socketPtr := flag.String("socket", "/var/run/pppctld.sock", "control socket path")
	serviceIDPtr := flag.String("serviceid", "", "identity under which the session publishes and is looked up")
	_ = flag.String("serverid", "", "optional server identity when instantiated from a server preferences blob")
	_ = flag.Bool("nopppload", false, "suppress kernel-extension autoload")
	_ = flag.Bool("looplocal", false, "loop traffic destined for the local tunnel address back through the interface")
	_ = flag.Bool("nolooplocal", false, "disable looplocal")
	_ = flag.Bool("addifroute", false, "install a subnet route for the interface's netmask on bringup")
	_ = flag.Bool("noifroute", false, "disable addifroute")
	flag.Parse()

	if *serviceIDPtr == "" {
		fmt.Fprintln(os.Stderr, "pppctl: -serviceid is required")
		os.Exit(1)
	}

	if err := run(*socketPtr, *serviceIDPtr); err != nil {
		fmt.Fprintf(os.Stderr, "pppctl: %v\n", err)
		os.Exit(1)
	}
}

func run(socketPath, serviceID string) error {
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return fmt.Errorf("connect to %s: %v", socketPath, err)
	}
	defer conn.Close()

	handle, err := connect(conn, serviceID)
	if err != nil {
		return err
	}
	fmt.Printf("session %d connecting for service %q\n", handle, serviceID)

	if err := enableEvents(conn, handle); err != nil {
		return fmt.Errorf("enable events: %v", err)
	}

	return watchEvents(conn)
}

// order is the byte order a privileged, in-process client uses, per
// ctrlproto's auto-detection rule: this client never needs detection
// since it always speaks the daemon's native order.
var order binary.ByteOrder = binary.LittleEndian

func connect(conn net.Conn, serviceID string) (uint32, error) {
	hdr := ctrlproto.Header{
		Type:  ctrlproto.TypeConnect,
		Flags: ctrlproto.FlagUseServiceID,
		Link:  uint32(len(serviceID)),
		Len:   uint32(len(serviceID)),
	}
	if err := writeRequest(conn, hdr, []byte(serviceID)); err != nil {
		return 0, err
	}
	reply, _, err := readReply(conn)
	if err != nil {
		return 0, err
	}
	if reply.Result != 0 {
		return 0, fmt.Errorf("connect failed: %v", unix.Errno(reply.Result))
	}
	return reply.Cookie, nil
}

func enableEvents(conn net.Conn, handle uint32) error {
	hdr := ctrlproto.Header{
		Type:   ctrlproto.TypeEnableEvent,
		Cookie: handle,
		Link:   ctrlproto.EventMaskPPP,
	}
	if err := writeRequest(conn, hdr, nil); err != nil {
		return err
	}
	reply, _, err := readReply(conn)
	if err != nil {
		return err
	}
	if reply.Result != 0 {
		return fmt.Errorf("enable_event failed: %v", unix.Errno(reply.Result))
	}
	return nil
}

func watchEvents(conn net.Conn) error {
	for {
		hdr, body, err := readReply(conn)
		if err != nil {
			return err
		}
		if hdr.Type != ctrlproto.TypeEvent {
			continue
		}
		if hdr.Flags&ctrlproto.FlagUseServiceID != 0 {
			fmt.Printf("event kind=%d service=%q\n", hdr.Result, string(body))
		} else {
			fmt.Printf("session %d: event kind=%d\n", hdr.Cookie, hdr.Result)
		}
	}
}

func writeRequest(conn net.Conn, hdr ctrlproto.Header, body []byte) error {
	frame := append(ctrlproto.EncodeHeader(hdr, order), body...)
	_, err := conn.Write(frame)
	return err
}

func readReply(conn net.Conn) (ctrlproto.Header, []byte, error) {
	hdrBuf := make([]byte, ctrlproto.HeaderSize)
	if _, err := readFull(conn, hdrBuf); err != nil {
		return ctrlproto.Header{}, nil, err
	}
	hdr, err := ctrlproto.DecodeHeader(hdrBuf, order)
	if err != nil {
		return ctrlproto.Header{}, nil, err
	}
	if hdr.Len == 0 || hdr.Len == ctrlproto.ReplySentinel {
		return hdr, nil, nil
	}
	body := make([]byte, hdr.Len)
	if _, err := readFull(conn, body); err != nil {
		return ctrlproto.Header{}, nil, err
	}
	return hdr, body, nil
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
