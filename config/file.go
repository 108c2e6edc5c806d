package config

// file.go - TOML configuration files.
//
// Only keys actually present in the file override cfg, so the file
// slots between the built-in defaults and the environment overlay.

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

type fileConfig struct {
	Backend        string `toml:"backend"`
	Listen         string `toml:"listen"`
	Ordering       string `toml:"ordering"`
	ConnectTimeout string `toml:"connect_timeout"`
	IdleTimeout    string `toml:"idle_timeout"`
	Verbose        int    `toml:"verbose"`
	Trace          bool   `toml:"trace"`

	Reconnect struct {
		InitialDelay string `toml:"initial_delay"`
		MaxDelay     string `toml:"max_delay"`
		MaxAttempts  int    `toml:"max_attempts"`
	} `toml:"reconnect"`

	Tunnel struct {
		Spec          string `toml:"spec"`
		Key           string `toml:"key"`
		Password      bool   `toml:"password"`
		Agent         bool   `toml:"agent"`
		StrictHostKey bool   `toml:"strict_hostkey"`
		KnownHosts    string `toml:"known_hosts"`
	} `toml:"tunnel"`
}

// ApplyFile overlays the TOML file at path onto cfg.
func ApplyFile(cfg *Config, path string) error {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return fmt.Errorf("load config file: %w", err)
	}

	if meta.IsDefined("backend") {
		host, port, err := ParseHostPort(strings.TrimSpace(raw.Backend), cfg.BackendHost, cfg.BackendPort)
		if err != nil {
			return fmt.Errorf("config %s: backend: %w", path, err)
		}
		cfg.BackendHost, cfg.BackendPort = host, port
	}
	if meta.IsDefined("listen") {
		host, port, err := ParseHostPort(strings.TrimSpace(raw.Listen), cfg.ListenHost, cfg.ListenPort)
		if err != nil {
			return fmt.Errorf("config %s: listen: %w", path, err)
		}
		cfg.ListenHost, cfg.ListenPort = host, port
	}
	if meta.IsDefined("ordering") {
		cfg.Ordering = strings.ToLower(strings.TrimSpace(raw.Ordering))
	}
	if meta.IsDefined("connect_timeout") {
		if cfg.ConnectTimeout, err = parseFileDuration(path, "connect_timeout", raw.ConnectTimeout); err != nil {
			return err
		}
	}
	if meta.IsDefined("idle_timeout") {
		if cfg.IdleTimeout, err = parseFileDuration(path, "idle_timeout", raw.IdleTimeout); err != nil {
			return err
		}
	}
	if meta.IsDefined("verbose") {
		cfg.Verbose = raw.Verbose
	}
	if meta.IsDefined("trace") {
		cfg.Trace = raw.Trace
	}

	if meta.IsDefined("reconnect", "initial_delay") {
		if cfg.ReconnectInitial, err = parseFileDuration(path, "reconnect.initial_delay", raw.Reconnect.InitialDelay); err != nil {
			return err
		}
	}
	if meta.IsDefined("reconnect", "max_delay") {
		if cfg.ReconnectMax, err = parseFileDuration(path, "reconnect.max_delay", raw.Reconnect.MaxDelay); err != nil {
			return err
		}
	}
	if meta.IsDefined("reconnect", "max_attempts") {
		cfg.ReconnectAttempts = raw.Reconnect.MaxAttempts
	}

	if meta.IsDefined("tunnel", "spec") {
		cfg.TunnelSpec = strings.TrimSpace(raw.Tunnel.Spec)
	}
	if meta.IsDefined("tunnel", "key") {
		cfg.SSHKeyPath = strings.TrimSpace(raw.Tunnel.Key)
	}
	if meta.IsDefined("tunnel", "password") {
		cfg.SSHPassword = raw.Tunnel.Password
	}
	if meta.IsDefined("tunnel", "agent") {
		cfg.UseSSHAgent = raw.Tunnel.Agent
	}
	if meta.IsDefined("tunnel", "strict_hostkey") {
		cfg.StrictHostKey = raw.Tunnel.StrictHostKey
	}
	if meta.IsDefined("tunnel", "known_hosts") {
		cfg.KnownHostsPath = strings.TrimSpace(raw.Tunnel.KnownHosts)
	}

	cfg.ConfigFile = path
	return nil
}

func parseFileDuration(path, key, value string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("config %s: %s: %w", path, key, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("config %s: %s: must not be negative", path, key)
	}
	return d, nil
}
