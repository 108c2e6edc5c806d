package core

import (
	"bufio"
	"context"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"svdrpmux/config"
	"svdrpmux/internal/transport"
	"svdrpmux/util"
)

// startStubBackend runs a minimal SVDRP-speaking server: greeting on
// connect, "250 echo <cmd>" per command, goodbye on QUIT.
func startStubBackend(t *testing.T) string {
	return startStubBackendOn(t, "127.0.0.1:0")
}

func startStubBackendOn(t *testing.T, addr string) string {
	t.Helper()
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		t.Fatalf("stub listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				c.Write([]byte("220 stub SVDRP VideoDiskRecorder 2.4.1; Mon Aug 24 12:00:00 2026\r\n"))
				sc := bufio.NewScanner(c)
				for sc.Scan() {
					line := strings.TrimRight(sc.Text(), "\r")
					if strings.EqualFold(line, "QUIT") {
						c.Write([]byte("221 stub closing connection\r\n"))
						return
					}
					c.Write([]byte("250 echo " + line + "\r\n"))
				}
			}(conn)
		}
	}()
	return ln.Addr().String()
}

func testConfig(t *testing.T, backendAddr string) *config.Config {
	t.Helper()
	bHost, bPortStr, err := net.SplitHostPort(backendAddr)
	if err != nil {
		t.Fatalf("split backend addr: %v", err)
	}
	bPort, err := strconv.Atoi(bPortStr)
	if err != nil {
		t.Fatalf("backend port: %v", err)
	}
	lPort, err := util.FindFreePort()
	if err != nil {
		t.Fatalf("FindFreePort: %v", err)
	}

	cfg := config.New()
	cfg.BackendHost = bHost
	cfg.BackendPort = bPort
	cfg.ListenHost = "127.0.0.1"
	cfg.ListenPort = lPort
	cfg.ConnectTimeout = time.Second
	cfg.ReconnectInitial = 10 * time.Millisecond
	cfg.ReconnectMax = 50 * time.Millisecond
	return cfg
}

func dialRelay(t *testing.T, addr string) (net.Conn, *bufio.Reader) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		conn, err := net.DialTimeout("tcp", addr, 200*time.Millisecond)
		if err == nil {
			t.Cleanup(func() { conn.Close() })
			return conn, bufio.NewReader(conn)
		}
		if time.Now().After(deadline) {
			t.Fatalf("dial relay %s: %v", addr, err)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func readLine(t *testing.T, conn net.Conn, r *bufio.Reader) string {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	line, err := r.ReadString('\n')
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	return strings.TrimRight(line, "\r\n")
}

func TestServeEndToEnd(t *testing.T) {
	backendAddr := startStubBackend(t)
	cfg := testConfig(t, backendAddr)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Serve(ctx, cfg, util.NewLogger(0), "test") }()

	conn, br := dialRelay(t, cfg.ListenAddr())
	if got := readLine(t, conn, br); !strings.HasPrefix(got, "220 ") {
		t.Fatalf("greeting = %q", got)
	}

	conn.Write([]byte("LSTE 1\r\n"))
	if got := readLine(t, conn, br); got != "250 echo LSTE 1" {
		t.Fatalf("response = %q", got)
	}

	conn.Write([]byte("QUIT\r\n"))
	if got := readLine(t, conn, br); !strings.HasPrefix(got, "221 ") {
		t.Fatalf("goodbye = %q", got)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve returned %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestServeSurvivesBackendOutage(t *testing.T) {
	// The backend is down when the command arrives; the relay must
	// keep retrying and serve the queued command once it appears.
	backendPort, err := util.FindFreePort()
	if err != nil {
		t.Fatalf("FindFreePort: %v", err)
	}
	backendAddr := util.FormatAddr("127.0.0.1", backendPort)
	cfg := testConfig(t, backendAddr)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- Serve(ctx, cfg, util.NewLogger(0), "test") }()

	conn, br := dialRelay(t, cfg.ListenAddr())
	readLine(t, conn, br) // greeting
	conn.Write([]byte("STAT disk\r\n"))

	time.Sleep(50 * time.Millisecond)
	startStubBackendOn(t, backendAddr)

	if got := readLine(t, conn, br); got != "250 echo STAT disk" {
		t.Fatalf("response = %q", got)
	}
}

func TestBuildDialer(t *testing.T) {
	cfg := config.New()
	cfg.ConnectTimeout = 7 * time.Second

	d := buildDialer(cfg, util.NewLogger(0))
	tcp, ok := d.(*transport.TCPDialer)
	if !ok {
		t.Fatalf("dialer type %T, want *transport.TCPDialer", d)
	}
	if tcp.Timeout != 7*time.Second {
		t.Errorf("timeout = %v", tcp.Timeout)
	}

	cfg.TunnelEnabled = true
	cfg.TunnelHost = "bastion"
	if _, ok := buildDialer(cfg, util.NewLogger(0)).(*transport.SSHDialer); !ok {
		t.Error("tunnel config should yield an SSH dialer")
	}
}

func TestBuildBackoff(t *testing.T) {
	cfg := config.New()
	cfg.ReconnectInitial = 100 * time.Millisecond
	cfg.ReconnectMax = 2 * time.Second
	cfg.ReconnectAttempts = 9

	bo := buildBackoff(cfg)
	if bo.InitialDelay != 100*time.Millisecond || bo.MaxDelay != 2*time.Second {
		t.Errorf("delays = %v/%v", bo.InitialDelay, bo.MaxDelay)
	}
	if bo.MaxAttempts != 9 {
		t.Errorf("max attempts = %d", bo.MaxAttempts)
	}
	if !bo.Jitter {
		t.Error("jitter should be enabled")
	}
}
