// Package config defines the runtime configuration for svdrpmux and
// provides helpers for parsing address and tunnel specifications.
package config

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	muxerr "svdrpmux/internal/errors"
	"svdrpmux/util"
)

// Config holds every tuneable for a relay instance.
type Config struct {
	// ── Backend ──────────────────────────────────────────────────────
	BackendHost    string
	BackendPort    int
	ConnectTimeout time.Duration

	// ── Listener ─────────────────────────────────────────────────────
	ListenHost  string // empty binds all interfaces
	ListenPort  int
	IdleTimeout time.Duration // 0 disables the client idle ceiling

	// ── Dispatch ─────────────────────────────────────────────────────
	Ordering string // "lifo" (default) or "fifo"

	// ── Reconnect policy ─────────────────────────────────────────────
	ReconnectInitial  time.Duration
	ReconnectMax      time.Duration
	ReconnectAttempts int // 0 retries forever

	// ── SSH tunnel ───────────────────────────────────────────────────
	TunnelSpec     string // raw user@host[:port] from -T
	TunnelEnabled  bool
	TunnelUser     string
	TunnelHost     string
	TunnelPort     int
	SSHKeyPath     string
	SSHPassword    bool // true → prompt interactively
	UseSSHAgent    bool
	StrictHostKey  bool
	KnownHostsPath string

	// ── Output ───────────────────────────────────────────────────────
	Verbose int
	Trace   bool

	// ConfigFile is the TOML file the rest of the config was loaded
	// from, when one was given.
	ConfigFile string
}

// New returns a Config populated with defaults.
func New() *Config {
	return &Config{
		BackendPort:      DefaultBackendPort,
		ListenPort:       DefaultListenPort,
		ConnectTimeout:   DefaultConnTimeout,
		ReconnectInitial: DefaultReconnectInitial,
		ReconnectMax:     DefaultReconnectMax,
	}
}

// BackendAddr returns the backend "host:port", bracketing IPv6
// literals.
func (c *Config) BackendAddr() string {
	return util.FormatAddr(c.BackendHost, c.BackendPort)
}

// ListenAddr returns the listener "host:port".
func (c *Config) ListenAddr() string {
	return util.FormatAddr(c.ListenHost, c.ListenPort)
}

// ── Address parser ───────────────────────────────────────────────────

// ParseHostPort splits "host", "host:port", or ":port".  A missing
// part keeps the supplied defaults.
func ParseHostPort(spec, defHost string, defPort int) (host string, port int, err error) {
	host, port = defHost, defPort
	if spec == "" {
		return host, port, nil
	}

	hp := spec
	if i := strings.LastIndex(spec, ":"); i >= 0 {
		hp = spec[:i]
		p, perr := strconv.Atoi(spec[i+1:])
		if perr != nil || p < 1 || p > 65535 {
			return "", 0, fmt.Errorf("invalid port in %q", spec)
		}
		port = p
	}
	if hp != "" {
		host = hp
	}
	return host, port, nil
}

// ── Tunnel-spec parser ───────────────────────────────────────────────

// tunnelRe matches [user@]host[:port].
var tunnelRe = regexp.MustCompile(`^(?:([^@]+)@)?([^:]+)(?::(\d+))?$`)

// ParseTunnelSpec extracts user, host, and port from a string such as
// "admin@bastion.example.com:2222".  Port defaults to 22.
func ParseTunnelSpec(spec string) (user, host string, port int, err error) {
	m := tunnelRe.FindStringSubmatch(spec)
	if m == nil {
		return "", "", 0, fmt.Errorf("invalid tunnel spec %q – expected [user@]host[:port]", spec)
	}
	user = m[1]
	host = m[2]
	port = DefaultSSHPort
	if m[3] != "" {
		port, err = strconv.Atoi(m[3])
		if err != nil || port < 1 || port > 65535 {
			return "", "", 0, fmt.Errorf("invalid tunnel port %q", m[3])
		}
	}
	if host == "" {
		return "", "", 0, fmt.Errorf("tunnel host is required")
	}
	return user, host, port, nil
}

// ── Validation ───────────────────────────────────────────────────────

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	if c.BackendHost == "" {
		return &muxerr.ConfigError{
			Field: "backend", Message: "backend host is required (use --help for usage)",
		}
	}
	if c.BackendPort < 1 || c.BackendPort > 65535 {
		return &muxerr.ConfigError{
			Field: "backend", Value: strconv.Itoa(c.BackendPort),
			Message: "port out of range 1-65535",
		}
	}
	if c.ListenPort < 1 || c.ListenPort > 65535 {
		return &muxerr.ConfigError{
			Field: "port", Value: strconv.Itoa(c.ListenPort),
			Message: "port out of range 1-65535",
		}
	}

	switch c.Ordering {
	case "", "lifo", "fifo":
	default:
		return &muxerr.ConfigError{
			Field: "ordering", Value: c.Ordering, Message: "must be lifo or fifo",
		}
	}

	if c.ReconnectInitial < 0 || c.ReconnectMax < 0 || c.ReconnectAttempts < 0 {
		return &muxerr.ConfigError{
			Field: "reconnect", Message: "reconnect values must not be negative",
		}
	}
	if c.ReconnectMax > 0 && c.ReconnectInitial > c.ReconnectMax {
		return &muxerr.ConfigError{
			Field: "reconnect", Message: "initial delay exceeds max delay",
		}
	}

	if c.TunnelEnabled && c.TunnelHost == "" {
		return &muxerr.ConfigError{
			Field: "tunnel", Value: c.TunnelSpec, Message: "tunnel host is required",
		}
	}

	return nil
}
