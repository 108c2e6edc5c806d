package relay

import (
	"context"
	"net"
	"sync"
	"time"

	muxerr "svdrpmux/internal/errors"
	"svdrpmux/internal/metrics"
	"svdrpmux/internal/transport"
	"svdrpmux/util"
)

// AcceptorOptions configure the client-facing listener.
type AcceptorOptions struct {
	// Addr is the "host:port" to listen on.
	Addr string

	// IdleTimeout tears down client sessions that stay silent longer
	// than this.  0 disables the ceiling.
	IdleTimeout time.Duration

	Service string
	Version string
	Logger  *util.Logger
	Metrics *metrics.Collector
	Trace   bool
}

// Acceptor accepts client connections and runs one Session per
// connection, all sharing the one Relay.
type Acceptor struct {
	relay *Relay
	opts  AcceptorOptions
	host  string

	mu       sync.Mutex
	ln       net.Listener
	sessions map[*Session]struct{}
	shutdown bool
}

// NewAcceptor creates an Acceptor bound to relay.  Call Run to start
// listening.
func NewAcceptor(r *Relay, opts AcceptorOptions) *Acceptor {
	if opts.Logger == nil {
		opts.Logger = util.NewLogger(0)
	}
	return &Acceptor{
		relay:    r,
		opts:     opts,
		host:     util.Hostname(),
		sessions: make(map[*Session]struct{}),
	}
}

// Run listens and accepts until ctx is cancelled or Shutdown is
// called.  Returns nil on orderly shutdown.
func (a *Acceptor) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.opts.Addr)
	if err != nil {
		return muxerr.Wrap("listen", a.opts.Addr, err)
	}

	a.mu.Lock()
	if a.shutdown {
		a.mu.Unlock()
		ln.Close()
		return nil
	}
	a.ln = ln
	a.mu.Unlock()

	a.opts.Logger.Info("listening on %s", ln.Addr())

	// Shut the listener down when the context expires.
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			a.mu.Lock()
			sd := a.shutdown
			a.mu.Unlock()
			if sd {
				return nil
			}
			return muxerr.Wrap("accept", a.opts.Addr, err)
		}
		a.serve(conn)
	}
}

// serve wraps one accepted connection in a Session.
func (a *Acceptor) serve(nc net.Conn) {
	a.mu.Lock()
	if a.shutdown {
		a.mu.Unlock()
		nc.Close()
		return
	}

	lc := transport.NewLineConn(nc, a.opts.IdleTimeout, a.opts.Logger)
	sess := NewSession(a.relay, lc, SessionOptions{
		Host:    a.host,
		Service: a.opts.Service,
		Version: a.opts.Version,
		Logger:  a.opts.Logger,
		Metrics: a.opts.Metrics,
		Trace:   a.opts.Trace,
		OnClose: a.remove,
	})
	a.sessions[sess] = struct{}{}
	a.mu.Unlock()

	a.opts.Metrics.ClientConnected()
	a.opts.Logger.Verbose("client connected from %s", nc.RemoteAddr())
	sess.Start()
}

// remove deregisters a finished session.
func (a *Acceptor) remove(s *Session) {
	a.mu.Lock()
	delete(a.sessions, s)
	a.mu.Unlock()
}

// ActiveSessions returns the number of live client sessions.
func (a *Acceptor) ActiveSessions() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.sessions)
}

// Shutdown stops accepting new connections and closes every live
// session with the given reason.  Idempotent.
func (a *Acceptor) Shutdown(reason string) {
	a.mu.Lock()
	if a.shutdown {
		a.mu.Unlock()
		return
	}
	a.shutdown = true
	ln := a.ln
	live := make([]*Session, 0, len(a.sessions))
	for s := range a.sessions {
		live = append(live, s)
	}
	a.mu.Unlock()

	if ln != nil {
		ln.Close()
	}
	a.opts.Logger.Info("acceptor shutting down (%s), %d session(s)", reason, len(live))
	for _, s := range live {
		s.Close(reason)
	}
}
