// Package relay implements the serialization core: many client
// sessions submit commands, a single backend connection carries them
// one at a time, and each (possibly multi-line) response is routed
// back to the session that issued the command.
package relay

import (
	"context"
	"net"
	"strings"
	"sync"

	muxerr "svdrpmux/internal/errors"
	"svdrpmux/internal/metrics"
	"svdrpmux/internal/retry"
	"svdrpmux/internal/transport"
	"svdrpmux/util"
)

// linkState tracks the backend connection.
type linkState int

const (
	linkDisconnected linkState = iota
	linkConnecting
	linkConnected
)

// Options configure a Relay.
type Options struct {
	// BackendAddr is the backend "host:port".
	BackendAddr string

	// Dialer reaches the backend (plain TCP or SSH-forwarded).
	Dialer transport.Dialer

	// Ordering selects the backlog strategy (default LIFO).
	Ordering Ordering

	// Backoff is the reconnect policy.  Nil selects
	// retry.DefaultBackoff (unlimited capped-exponential).
	Backoff *retry.Backoff

	Logger  *util.Logger
	Metrics *metrics.Collector // nil is a valid no-op collector

	// Trace logs every state transition at debug level.
	Trace bool
}

// Relay owns the single backend connection, the pending-command
// backlog, the in-flight command, and the reconnect loop.  All public
// methods are atomic with respect to each other: the relay's state is
// never observable mid-transition.
type Relay struct {
	opts    Options
	backoff *retry.Backoff
	logger  *util.Logger
	metrics *metrics.Collector

	ctx    context.Context // governs reconnect attempts
	cancel context.CancelFunc

	done     chan struct{} // closed once the relay is inert
	doneOnce sync.Once

	mu         sync.Mutex
	state      linkState
	conn       *transport.LineConn
	backlog    backlog
	inflight   *Command
	quitting   bool
	everLinked bool // a backend connection has succeeded before
}

// New creates a Relay.  ctx bounds the reconnect machinery; cancelling
// it aborts any in-progress connection attempt.
func New(ctx context.Context, opts Options) *Relay {
	if opts.Logger == nil {
		opts.Logger = util.NewLogger(0)
	}
	bo := opts.Backoff
	if bo == nil {
		bo = retry.DefaultBackoff()
	}
	rctx, cancel := context.WithCancel(ctx)
	return &Relay{
		opts:    opts,
		backoff: bo,
		logger:  opts.Logger,
		metrics: opts.Metrics,
		ctx:     rctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
}

// Done is closed once the relay is inert: shutdown has completed and
// the backend link is gone.  It stays open while the shutdown QUIT is
// still draining, even if the context passed to New has already been
// cancelled.
func (r *Relay) Done() <-chan struct{} { return r.done }

// markInert records that shutdown has fully completed.
func (r *Relay) markInert() {
	r.doneOnce.Do(func() { close(r.done) })
}

// Submit queues one command line on behalf of client.  The text is
// trimmed; empty submissions are rejected with ErrInvalidCommand, and
// submissions after Shutdown with ErrRelayClosed.
func (r *Relay) Submit(client ClientHandle, text string) error {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return muxerr.ErrInvalidCommand
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.quitting {
		return muxerr.ErrRelayClosed
	}

	r.backlog.add(clientCommand(client, trimmed), r.opts.Ordering)
	r.metrics.CommandSubmitted()
	r.trace("submit %q, %s", trimmed, r.backlog.String())
	r.dispatchLocked()
	return nil
}

// OnBackendLine processes one response line from the backend.
func (r *Relay) OnBackendLine(line string) {
	r.backendLineFrom(nil, line)
}

// OnBackendDisconnected records loss of the backend link, requeues a
// client-originated in-flight command at the front, and re-dispatches
// (which reconnects if work remains).
func (r *Relay) OnBackendDisconnected() {
	r.backendDownFrom(nil, nil)
}

// Shutdown marks the relay as quitting.  With an open backend link a
// synthetic QUIT is sent with priority; once the backend closes the
// connection the relay is inert.  Idempotent.
func (r *Relay) Shutdown(reason string) {
	r.mu.Lock()
	if r.quitting {
		r.mu.Unlock()
		return
	}
	r.quitting = true
	r.logger.Info("relay shutting down (%s)", reason)

	if r.state == linkConnected {
		r.backlog.pushUrgent(quitCommand())
		r.trace("queued backend goodbye")
		r.dispatchLocked()
		r.mu.Unlock()
		return
	}

	// No backend link to say goodbye to; abort any connect attempt.
	r.state = linkDisconnected
	r.mu.Unlock()
	r.cancel()
	r.markInert()
}

// ── dispatch ─────────────────────────────────────────────────────────

// dispatchLocked advances the backlog.  Called with r.mu held, after
// Submit, after the in-flight slot clears, and after reconnection.
func (r *Relay) dispatchLocked() {
	// Quitting with the link down is terminal.
	if r.quitting && r.state == linkDisconnected {
		return
	}

	// One outstanding command at a time — no pipelining.
	if r.inflight != nil {
		return
	}

	// Pop the next command whose originator is still around.
	var cmd Command
	found := false
	wasUrgent := false
	for {
		urgent := r.backlog.urgent > 0
		c, ok := r.backlog.popFront()
		if !ok {
			break
		}
		if c.kind == kindClient && c.origin.Closed() {
			r.metrics.CommandDiscarded()
			r.trace("discard %q: originator gone", c.text)
			continue
		}
		cmd = c
		wasUrgent = urgent
		found = true
		break
	}
	if !found {
		return
	}

	if r.state != linkConnected {
		// Put it back until the link is up.  Urgent entries (retry,
		// quit) keep their front priority; an ordinary submission is
		// merely parked and LIFO arrivals may still overtake it.
		if wasUrgent {
			r.backlog.pushUrgent(cmd)
		} else {
			r.backlog.park(cmd)
		}
		if r.state == linkDisconnected {
			r.state = linkConnecting
			r.trace("link connecting to %s", r.opts.BackendAddr)
			go r.connectLoop()
		}
		return
	}

	r.inflight = &cmd
	r.trace("dispatch %q", cmd.text)
	if err := r.conn.WriteLine(cmd.text); err != nil {
		// The link is going down; the disconnect event will requeue.
		r.logger.Debug("backend write failed: %v", err)
		return
	}
	if cmd.kind == kindClient {
		r.metrics.CommandRelayed()
	}
}

// ── backend events ───────────────────────────────────────────────────

// backendLineFrom handles a response line.  src guards against events
// from a connection that has already been replaced; nil means "the
// current link".
func (r *Relay) backendLineFrom(src *transport.LineConn, line string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if src != nil && src != r.conn {
		return // stale link
	}

	st, ok := ParseStatusLine(line)
	if !ok {
		r.logger.Debug("ignoring malformed backend line %q", line)
		return
	}
	if st.Code == CodeGoodbye {
		r.trace("backend goodbye: %q", line)
		return
	}
	if r.inflight == nil {
		r.logger.Debug("ignoring unsolicited backend line %q", line)
		return
	}

	cmd := r.inflight
	if cmd.origin != nil && !cmd.origin.Closed() {
		if err := cmd.origin.SendLine(line); err != nil {
			// Client vanished mid-response; keep consuming the
			// response so the backend advances normally.
			r.trace("drop response line for gone client")
		} else {
			r.metrics.ResponseDelivered()
		}
	}

	if st.Last {
		r.inflight = nil
		r.trace("response complete (code %d)", st.Code)
		r.dispatchLocked()
	}
}

func (r *Relay) backendDownFrom(src *transport.LineConn, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if src != nil && src != r.conn {
		return // stale link
	}

	if r.conn != nil {
		r.conn.Close() //nolint:errcheck
		r.conn = nil
	}
	r.state = linkDisconnected

	if inflight := r.inflight; inflight != nil {
		r.inflight = nil
		if inflight.kind == kindClient {
			// Retry the unfinished command before anything else.
			r.backlog.pushUrgent(*inflight)
			r.trace("requeued in-flight %q", inflight.text)
		}
	}

	if r.quitting {
		r.logger.Info("backend link closed, relay inert")
		r.cancel()
		r.markInert()
		return
	}

	if err != nil {
		r.logger.Warn("backend disconnected: %v", err)
	} else {
		r.logger.Info("backend disconnected")
	}
	r.dispatchLocked()
}

// ── connection attempts ──────────────────────────────────────────────

// connectLoop dials the backend with capped exponential backoff.  Runs
// in its own goroutine; there is at most one at a time (guarded by the
// Connecting state).
func (r *Relay) connectLoop() {
	addr := r.opts.BackendAddr

	err := r.backoff.Do(r.ctx, func(attempt int) error {
		r.mu.Lock()
		if r.quitting {
			r.mu.Unlock()
			return retry.Permanent(muxerr.ErrRelayClosed)
		}
		r.mu.Unlock()

		conn, derr := r.opts.Dialer.Dial(r.ctx, "tcp", addr)
		if derr != nil {
			r.logger.Verbose("backend %s: connect attempt %d failed: %v",
				addr, attempt, derr)
			r.metrics.RecordError(derr.Error())
			return muxerr.Wrap("dial", addr, derr)
		}
		r.attach(conn)
		return nil
	})

	if err != nil {
		r.mu.Lock()
		r.state = linkDisconnected
		pending := r.backlog.len()
		r.mu.Unlock()
		if !muxerr.Is(err, muxerr.ErrRelayClosed) {
			// Budget exhausted (only with a configured attempt cap).
			// The backlog is kept; the next Submit starts a new loop.
			r.logger.Error("backend %s unreachable, %d command(s) waiting: %v",
				addr, pending, err)
		}
	}
}

// attach installs a fresh backend connection and primes the in-flight
// slot with the greeting sentinel so the banner is absorbed by the
// ordinary response matching in backendLineFrom.
func (r *Relay) attach(nc net.Conn) {
	lc := transport.NewLineConn(nc, 0, r.logger)

	r.mu.Lock()
	if r.quitting {
		r.mu.Unlock()
		lc.Close() //nolint:errcheck
		return
	}
	r.conn = lc
	r.state = linkConnected
	sentinel := greetingSentinel()
	r.inflight = &sentinel
	if r.everLinked {
		r.metrics.BackendReconnect()
	}
	r.everLinked = true
	r.mu.Unlock()

	r.logger.Info("connected to backend %s", nc.RemoteAddr())
	lc.Start(&linkHandler{relay: r, conn: lc})
}

// linkHandler adapts transport events onto the relay, pinning the
// connection they belong to.
type linkHandler struct {
	relay *Relay
	conn  *transport.LineConn
}

func (h *linkHandler) OnLine(line string) {
	h.relay.backendLineFrom(h.conn, line)
}

func (h *linkHandler) OnWriteDrained() {}

func (h *linkHandler) OnDisconnected(err error) {
	h.relay.backendDownFrom(h.conn, err)
}

// trace logs a state transition when tracing is enabled.
func (r *Relay) trace(format string, args ...interface{}) {
	if r.opts.Trace {
		r.logger.Debug("relay: "+format, args...)
	}
}
