// Package cmd wires up the CLI flags and dispatches to the relay core.
package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	flag "github.com/spf13/pflag"

	"svdrpmux/config"
	"svdrpmux/internal/core"
	"svdrpmux/util"
)

// version is overridable at link time:
//
//	go build -ldflags "-X svdrpmux/cmd.version=2.0.0"
var version = "1.0.0" //nolint:gochecknoglobals

// Execute parses args and runs the relay.
//
// Precedence, highest first: flags, environment, config file, defaults.
// The config file is located by a pre-scan for -C/--config so its
// values land before flag parsing overwrites them.
func Execute(ctx context.Context, args []string) error {
	cfg := config.New()

	if path := findConfigFlag(args); path != "" {
		if err := config.ApplyFile(cfg, path); err != nil {
			return err
		}
	}
	if err := config.LoadFromEnv(cfg); err != nil {
		return err
	}

	fs := flag.NewFlagSet("svdrpmux", flag.ContinueOnError)

	// ── backend ──────────────────────────────────────────────────
	var backendSpec string
	fs.StringVarP(&backendSpec, "backend", "b", "", "Backend host[:port]")

	var timeoutSec int
	fs.IntVarP(&timeoutSec, "timeout", "w", 0, "Backend connect timeout in seconds")

	// ── listener ─────────────────────────────────────────────────
	fs.IntVarP(&cfg.ListenPort, "port", "p", cfg.ListenPort, "Listen port")
	fs.StringVar(&cfg.ListenHost, "listen-host", cfg.ListenHost, "Listen address (default all interfaces)")
	fs.DurationVar(&cfg.IdleTimeout, "idle-timeout", cfg.IdleTimeout, "Disconnect idle clients after this (0 = never)")

	// ── dispatch ─────────────────────────────────────────────────
	fs.StringVarP(&cfg.Ordering, "ordering", "o", cfg.Ordering, "Backlog ordering: lifo or fifo")

	// ── reconnect ────────────────────────────────────────────────
	fs.DurationVar(&cfg.ReconnectInitial, "reconnect-initial", cfg.ReconnectInitial, "Initial backend reconnect delay")
	fs.DurationVar(&cfg.ReconnectMax, "reconnect-max", cfg.ReconnectMax, "Maximum backend reconnect delay")
	fs.IntVar(&cfg.ReconnectAttempts, "reconnect-attempts", cfg.ReconnectAttempts, "Reconnect attempts per outage (0 = unlimited)")

	// ── SSH tunnel ───────────────────────────────────────────────
	fs.StringVarP(&cfg.TunnelSpec, "tunnel", "T", cfg.TunnelSpec, "Reach the backend via SSH [user@]host[:port]")
	fs.StringVar(&cfg.SSHKeyPath, "ssh-key", cfg.SSHKeyPath, "SSH private key file")
	fs.BoolVar(&cfg.SSHPassword, "ssh-password", cfg.SSHPassword, "Prompt for SSH password")
	fs.BoolVar(&cfg.UseSSHAgent, "ssh-agent", cfg.UseSSHAgent, "Use SSH agent")
	fs.BoolVar(&cfg.StrictHostKey, "strict-hostkey", cfg.StrictHostKey, "Verify SSH host keys")
	fs.StringVar(&cfg.KnownHostsPath, "known-hosts", cfg.KnownHostsPath, "Custom known_hosts path")

	// ── misc ─────────────────────────────────────────────────────
	var configPath string
	fs.StringVarP(&configPath, "config", "C", "", "TOML config file")
	var flagVerbose int
	fs.CountVarP(&flagVerbose, "verbose", "v", "Increase verbosity (repeatable)")
	fs.BoolVar(&cfg.Trace, "trace", cfg.Trace, "Log every relay state transition")

	var dryRun, showVersion, showHelp bool
	fs.BoolVar(&dryRun, "dry-run", false, "Validate configuration and exit")
	fs.BoolVar(&showVersion, "version", false, "Print version and exit")
	fs.BoolVarP(&showHelp, "help", "h", false, "Show this help")

	fs.Usage = func() { printUsage(fs) }

	// ── parse ────────────────────────────────────────────────────
	if err := fs.Parse(args); err != nil {
		return err
	}

	if showHelp {
		printUsage(fs)
		return nil
	}
	if showVersion {
		fmt.Printf("svdrpmux %s\n", version)
		return nil
	}

	if timeoutSec > 0 {
		cfg.ConnectTimeout = time.Duration(timeoutSec) * time.Second
	}
	if flagVerbose > 0 {
		cfg.Verbose = flagVerbose
	}

	// ── positional arguments ─────────────────────────────────────
	if err := parsePositional(cfg, &backendSpec, fs.Args()); err != nil {
		return err
	}
	if backendSpec != "" {
		host, port, err := config.ParseHostPort(backendSpec, cfg.BackendHost, cfg.BackendPort)
		if err != nil {
			return fmt.Errorf("backend: %w", err)
		}
		cfg.BackendHost, cfg.BackendPort = host, port
	}

	// ── tunnel spec ──────────────────────────────────────────────
	if cfg.TunnelSpec != "" {
		user, host, port, err := config.ParseTunnelSpec(cfg.TunnelSpec)
		if err != nil {
			return fmt.Errorf("tunnel: %w", err)
		}
		cfg.TunnelEnabled = true
		cfg.TunnelUser = user
		cfg.TunnelHost = host
		cfg.TunnelPort = port
	}

	// ── validate ─────────────────────────────────────────────────
	if err := cfg.Validate(); err != nil {
		return err
	}
	if dryRun {
		fmt.Printf("configuration ok: relay %s -> %s\n", cfg.ListenAddr(), cfg.BackendAddr())
		return nil
	}

	// ── run ──────────────────────────────────────────────────────
	// A daemon logs at normal level by default; -v raises it from
	// there, and trace mode needs debug.
	verbosity := cfg.Verbose + 1
	if cfg.Trace && verbosity < 3 {
		verbosity = 3
	}
	logger := util.NewLogger(verbosity)

	return core.Serve(ctx, cfg, logger, version)
}

// ── helpers ──────────────────────────────────────────────────────────

// findConfigFlag pre-scans raw args for -C/--config so the file can be
// applied before the real flag parse.
func findConfigFlag(args []string) string {
	for i := 0; i < len(args); i++ {
		a := args[i]
		switch {
		case a == "-C" || a == "--config":
			if i+1 < len(args) {
				return args[i+1]
			}
		case strings.HasPrefix(a, "--config="):
			return strings.TrimPrefix(a, "--config=")
		case strings.HasPrefix(a, "-C="):
			return strings.TrimPrefix(a, "-C=")
		}
	}
	return ""
}

// parsePositional accepts the backend as "host [port]" for parity with
// svdrpsend-style invocation.
func parsePositional(cfg *config.Config, backendSpec *string, remaining []string) error {
	switch len(remaining) {
	case 0:
		return nil
	case 1:
		if *backendSpec != "" {
			return fmt.Errorf("backend given both as flag and argument")
		}
		*backendSpec = remaining[0]
		return nil
	case 2:
		if *backendSpec != "" {
			return fmt.Errorf("backend given both as flag and argument")
		}
		*backendSpec = remaining[0] + ":" + remaining[1]
		return nil
	default:
		return fmt.Errorf("too many arguments (use --help for usage)")
	}
}

func printUsage(fs *flag.FlagSet) {
	fmt.Fprintf(os.Stderr, `svdrpmux – SVDRP connection multiplexer v%s

Accepts any number of clients, relays their commands over a single
backend connection, and routes each response back to its sender.

Usage:
  svdrpmux -b <host[:port]> [options]          Relay for a backend
  svdrpmux [options] <host> [port]             Same, positional form
  svdrpmux -C relay.toml                       Configure from a file
  svdrpmux -T user@gateway -b <host>           Backend via SSH

Options:
`, version)
	fs.PrintDefaults()
	fmt.Fprintf(os.Stderr, `
Examples:
  svdrpmux -b vdr.local                        Relay vdr.local:6419 on :6420
  svdrpmux -b vdr.local:2001 -p 7000           Old-style backend port
  svdrpmux -b vdr.local -o fifo                First-come dispatch
  svdrpmux -T admin@htpc -b 127.0.0.1 -v       Tunnelled backend, verbose
`)
}
