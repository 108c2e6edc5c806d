package config

import "time"

// ── Default values ───────────────────────────────────────────────────
//
// All tuneable defaults live here so they are easy to audit and reuse
// across CLI flags, config file parsing, and environment variable
// loading.

const (
	// DefaultBackendPort is the IANA-registered SVDRP port.  Backends
	// older than VDR 1.7.15 listened on 2001 instead.
	DefaultBackendPort = 6419

	// DefaultListenPort is where the relay accepts clients.
	DefaultListenPort = 6420

	// DefaultSSHPort is the standard SSH port.
	DefaultSSHPort = 22

	// DefaultConnTimeout is the TCP/SSH connection timeout.
	DefaultConnTimeout = 30 * time.Second

	// DefaultReconnectInitial is the delay before the first backend
	// reconnect attempt.
	DefaultReconnectInitial = 1 * time.Second

	// DefaultReconnectMax caps the exponential backoff between backend
	// reconnect attempts.
	DefaultReconnectMax = 60 * time.Second

	// DefaultServiceName identifies the relay in greeting lines.
	DefaultServiceName = "svdrpmux"
)
