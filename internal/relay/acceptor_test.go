package relay

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"
	"testing"
	"time"

	"svdrpmux/util"
)

func startAcceptor(t *testing.T, r *Relay) (*Acceptor, string) {
	t.Helper()
	port, err := util.FindFreePort()
	if err != nil {
		t.Fatalf("FindFreePort: %v", err)
	}
	addr := fmt.Sprintf("127.0.0.1:%d", port)

	a := NewAcceptor(r, AcceptorOptions{
		Addr:    addr,
		Service: "svdrpmux",
		Version: "1.0.0",
		Logger:  util.NewLogger(0),
	})

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- a.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-errc:
			if err != nil {
				t.Errorf("Run returned %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Error("Run did not return after context cancel")
		}
	})

	return a, addr
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met within 2s")
}

// dialClient connects to the acceptor, retrying briefly since Run
// starts listening asynchronously.
func dialClient(t *testing.T, addr string) (net.Conn, *bufio.Reader) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		conn, err := net.DialTimeout("tcp", addr, 200*time.Millisecond)
		if err == nil {
			t.Cleanup(func() { conn.Close() })
			return conn, bufio.NewReader(conn)
		}
		if time.Now().After(deadline) {
			t.Fatalf("dial %s: %v", addr, err)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestAcceptorGreetsClients(t *testing.T) {
	r, _ := newTestRelay(t, newPipeDialer(), OrderLIFO)
	a, addr := startAcceptor(t, r)

	conn, br := dialClient(t, addr)
	if got := readLine(t, conn, br); !strings.HasPrefix(got, "220 ") {
		t.Fatalf("greeting = %q", got)
	}
	waitFor(t, func() bool { return a.ActiveSessions() == 1 })
}

func TestAcceptorEndToEnd(t *testing.T) {
	d := newPipeDialer()
	r, m := newTestRelay(t, d, OrderLIFO)
	_, addr := startAcceptor(t, r)

	conn, br := dialClient(t, addr)
	readLine(t, conn, br) // greeting
	writeLine(t, conn, "LSTT 3")

	b := d.accept(t)
	defer b.close()
	b.greet()
	b.expect("LSTT 3")
	b.send("250 3 1:25:1692:2026-08-24:2015:2100:50:99:Timer")

	if got := readLine(t, conn, br); got != "250 3 1:25:1692:2026-08-24:2015:2100:50:99:Timer" {
		t.Fatalf("response = %q", got)
	}

	writeLine(t, conn, "QUIT")
	if got := readLine(t, conn, br); !strings.HasPrefix(got, "221 ") {
		t.Fatalf("goodbye = %q", got)
	}
	if m.TotalClients() != 1 {
		t.Errorf("total clients = %d, want 1", m.TotalClients())
	}
}

func TestAcceptorTracksMultipleSessions(t *testing.T) {
	r, _ := newTestRelay(t, newPipeDialer(), OrderLIFO)
	a, addr := startAcceptor(t, r)

	c1, br1 := dialClient(t, addr)
	c2, br2 := dialClient(t, addr)
	readLine(t, c1, br1)
	readLine(t, c2, br2)
	waitFor(t, func() bool { return a.ActiveSessions() == 2 })

	writeLine(t, c1, "QUIT")
	readLine(t, c1, br1) // goodbye
	waitFor(t, func() bool { return a.ActiveSessions() == 1 })
}

func TestAcceptorShutdownClosesSessions(t *testing.T) {
	r, _ := newTestRelay(t, newPipeDialer(), OrderLIFO)
	a, addr := startAcceptor(t, r)

	conn, br := dialClient(t, addr)
	readLine(t, conn, br) // greeting
	waitFor(t, func() bool { return a.ActiveSessions() == 1 })

	a.Shutdown("maintenance window")

	want := "221 " + util.Hostname() + " closing connection (maintenance window)"
	if got := readLine(t, conn, br); got != want {
		t.Fatalf("goodbye = %q, want %q", got, want)
	}
	waitFor(t, func() bool {
		c, err := net.DialTimeout("tcp", addr, 100*time.Millisecond)
		if err == nil {
			c.Close()
			return false
		}
		return true
	})
}
