package util

import (
	"net"
	"strconv"
	"testing"
)

func TestFormatAddr(t *testing.T) {
	tests := []struct {
		host string
		port int
		want string
	}{
		{"localhost", 6419, "localhost:6419"},
		{"127.0.0.1", 2001, "127.0.0.1:2001"},
		{"::1", 6419, "[::1]:6419"},
	}
	for _, tt := range tests {
		if got := FormatAddr(tt.host, tt.port); got != tt.want {
			t.Errorf("FormatAddr(%q, %d) = %q, want %q", tt.host, tt.port, got, tt.want)
		}
	}
}

func TestHostname(t *testing.T) {
	if Hostname() == "" {
		t.Error("Hostname returned empty string")
	}
}

func TestFindFreePort(t *testing.T) {
	port, err := FindFreePort()
	if err != nil {
		t.Fatal(err)
	}
	if port < 1 || port > 65535 {
		t.Fatalf("port %d out of range", port)
	}

	// The port should actually be bindable.
	l, err := net.Listen("tcp", "127.0.0.1:"+strconv.Itoa(port))
	if err != nil {
		t.Fatalf("binding freshly found port %d: %v", port, err)
	}
	l.Close()
}
