package config

// loader.go - configuration loading from environment variables.
//
// Precedence order (highest wins):
//   1. CLI flags  (handled by cmd/root.go)
//   2. Environment variables  (this file)
//   3. Config file  (file.go)
//   4. Defaults   (defaults.go)

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// ── Environment variable mapping ─────────────────────────────────────
//
// Every supported env var uses the SVDRPMUX_ prefix.  Boolean values
// accept "1", "true", "yes" (case-insensitive).  Durations accept Go
// duration syntax ("90s", "2m") or a plain number of seconds.

// LoadFromEnv overlays environment variables onto cfg.  Only non-empty
// env vars override the existing value.  This should be called BEFORE
// CLI flag parsing so that flags take precedence.
func LoadFromEnv(cfg *Config) error {
	if v := os.Getenv("SVDRPMUX_BACKEND"); v != "" {
		host, port, err := ParseHostPort(v, cfg.BackendHost, cfg.BackendPort)
		if err != nil {
			return err
		}
		cfg.BackendHost, cfg.BackendPort = host, port
	}
	if v := os.Getenv("SVDRPMUX_LISTEN"); v != "" {
		host, port, err := ParseHostPort(v, cfg.ListenHost, cfg.ListenPort)
		if err != nil {
			return err
		}
		cfg.ListenHost, cfg.ListenPort = host, port
	}
	if v := os.Getenv("SVDRPMUX_ORDERING"); v != "" {
		cfg.Ordering = strings.ToLower(v)
	}
	if d, ok := envDuration("SVDRPMUX_TIMEOUT"); ok {
		cfg.ConnectTimeout = d
	}
	if d, ok := envDuration("SVDRPMUX_IDLE_TIMEOUT"); ok {
		cfg.IdleTimeout = d
	}

	// Reconnect policy
	if d, ok := envDuration("SVDRPMUX_RECONNECT_INITIAL"); ok {
		cfg.ReconnectInitial = d
	}
	if d, ok := envDuration("SVDRPMUX_RECONNECT_MAX"); ok {
		cfg.ReconnectMax = d
	}
	if v := envInt("SVDRPMUX_RECONNECT_ATTEMPTS"); v > 0 {
		cfg.ReconnectAttempts = v
	}

	// SSH tunnel
	if v := os.Getenv("SVDRPMUX_TUNNEL"); v != "" {
		cfg.TunnelSpec = v
	}
	if v := os.Getenv("SVDRPMUX_SSH_KEY"); v != "" {
		cfg.SSHKeyPath = v
	}
	if envBool("SVDRPMUX_SSH_PASSWORD") {
		cfg.SSHPassword = true
	}
	if envBool("SVDRPMUX_SSH_AGENT") {
		cfg.UseSSHAgent = true
	}
	if envBool("SVDRPMUX_STRICT_HOSTKEY") {
		cfg.StrictHostKey = true
	}
	if v := os.Getenv("SVDRPMUX_KNOWN_HOSTS"); v != "" {
		cfg.KnownHostsPath = v
	}

	// Output
	if v := envInt("SVDRPMUX_VERBOSE"); v > 0 {
		cfg.Verbose = v
	}
	if envBool("SVDRPMUX_TRACE") {
		cfg.Trace = true
	}
	return nil
}

// ── helpers ──────────────────────────────────────────────────────────

func envInt(key string) int {
	v := os.Getenv(key)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}

func envBool(key string) bool {
	v := strings.ToLower(os.Getenv(key))
	return v == "1" || v == "true" || v == "yes"
}

func envDuration(key string) (time.Duration, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	if d, err := time.ParseDuration(v); err == nil && d >= 0 {
		return d, true
	}
	if n, err := strconv.Atoi(v); err == nil && n >= 0 {
		return time.Duration(n) * time.Second, true
	}
	return 0, false
}
