// Package core assembles the relay from configuration and supervises
// its lifetime.
package core

import (
	"context"
	"time"

	"svdrpmux/config"
	"svdrpmux/internal/metrics"
	"svdrpmux/internal/relay"
	"svdrpmux/internal/retry"
	"svdrpmux/internal/transport"
	"svdrpmux/tunnel"
	"svdrpmux/util"
)

// restartPause is the breather between a relay fault and the rebuild.
const restartPause = 1 * time.Second

// Serve runs the relay until ctx is cancelled.  A fault in the accept
// loop is logged and the whole relay rebuilt rather than taking the
// process down; queued state is lost but service resumes.
func Serve(ctx context.Context, cfg *config.Config, logger *util.Logger, version string) error {
	for {
		err := serveOnce(ctx, cfg, logger, version)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			logger.Error("relay fault: %v", err)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(restartPause):
		}
		logger.Info("restarting relay")
	}
}

// serveOnce builds one relay instance, runs it, and tears it down in
// order: stop accepting, say goodbye to the clients, then to the
// backend.
func serveOnce(ctx context.Context, cfg *config.Config, logger *util.Logger, version string) error {
	ordering, err := relay.ParseOrdering(cfg.Ordering)
	if err != nil {
		return err
	}

	dialer := buildDialer(cfg, logger)
	defer dialer.Close()

	m := metrics.New()
	rly := relay.New(ctx, relay.Options{
		BackendAddr: cfg.BackendAddr(),
		Dialer:      dialer,
		Ordering:    ordering,
		Backoff:     buildBackoff(cfg),
		Logger:      logger,
		Metrics:     m,
		Trace:       cfg.Trace,
	})
	acc := relay.NewAcceptor(rly, relay.AcceptorOptions{
		Addr:        cfg.ListenAddr(),
		IdleTimeout: cfg.IdleTimeout,
		Service:     config.DefaultServiceName,
		Version:     version,
		Logger:      logger,
		Metrics:     m,
		Trace:       cfg.Trace,
	})

	logger.Info("relaying %s -> %s", cfg.ListenAddr(), cfg.BackendAddr())
	runErr := acc.Run(ctx)

	acc.Shutdown("service shutting down")
	rly.Shutdown("service shutting down")
	select {
	case <-rly.Done():
	case <-time.After(2 * time.Second):
		logger.Warn("backend did not close the connection after QUIT")
	}

	logger.Verbose("final stats:\n%s", m.JSON())
	return runErr
}

// ── component builders ───────────────────────────────────────────────

// buildDialer creates the right transport.Dialer for the given config.
func buildDialer(cfg *config.Config, logger *util.Logger) transport.Dialer {
	if cfg.TunnelEnabled {
		return transport.NewSSHDialer(&tunnel.SSHConfig{
			User:          cfg.TunnelUser,
			Host:          cfg.TunnelHost,
			Port:          cfg.TunnelPort,
			KeyPath:       cfg.SSHKeyPath,
			PromptPass:    cfg.SSHPassword,
			UseAgent:      cfg.UseSSHAgent,
			StrictHostKey: cfg.StrictHostKey,
			KnownHosts:    cfg.KnownHostsPath,
			ConnTimeout:   cfg.ConnectTimeout,
		}, logger)
	}
	return &transport.TCPDialer{Timeout: cfg.ConnectTimeout}
}

// buildBackoff maps the reconnect settings onto a retry policy.
func buildBackoff(cfg *config.Config) *retry.Backoff {
	return &retry.Backoff{
		InitialDelay: cfg.ReconnectInitial,
		MaxDelay:     cfg.ReconnectMax,
		Multiplier:   2.0,
		MaxAttempts:  cfg.ReconnectAttempts,
		Jitter:       true,
	}
}
