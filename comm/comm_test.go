package comm

import (
	"bufio"
	"net"
	"testing"
)

// echoServer accepts one connection and answers every CR-framed command
// with "=ok\r", the general shape of a mount controller reply
func echoServer(t *testing.T) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		rd := bufio.NewReader(conn)
		for {
			if _, err := rd.ReadBytes('\r'); err != nil {
				return
			}
			if _, err := conn.Write([]byte("=ok\r")); err != nil {
				return
			}
		}
	}()
	return ln
}

func TestLinkSendRecv(t *testing.T) {
	ln := echoServer(t)
	defer ln.Close()

	l := NewLink(ln.Addr().String(), false)
	if l.Connected() {
		t.Fatal("link connected before Open")
	}
	if err := l.Open(); err != nil {
		t.Fatal(err)
	}
	defer l.Close()
	if !l.Connected() {
		t.Fatal("link not connected after Open")
	}

	resp, err := l.SendRecv([]byte(":j1"))
	if err != nil {
		t.Fatal(err)
	}
	if string(resp) != "=ok" {
		t.Errorf("response %q, want =ok with the terminator stripped", resp)
	}
}

func TestLinkNotConnected(t *testing.T) {
	l := NewLink("127.0.0.1:1", false)
	if err := l.Send([]byte("x")); err != ErrNotConnected {
		t.Errorf("Send: %v, want ErrNotConnected", err)
	}
	if _, err := l.Recv(); err != ErrNotConnected {
		t.Errorf("Recv: %v, want ErrNotConnected", err)
	}
	if _, err := l.SendRecv([]byte("x")); err != ErrNotConnected {
		t.Errorf("SendRecv: %v, want ErrNotConnected", err)
	}
	if err := l.Close(); err != nil {
		t.Errorf("Close on an unopened link: %v", err)
	}
}

func TestLinkOpenRefused(t *testing.T) {
	// grab a port and close it so nothing is listening there
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close()

	l := NewLink(addr, false)
	if err := l.Open(); err == nil {
		l.Close()
		t.Fatal("Open succeeded with nothing listening")
	}
}
