package relay

import (
	"fmt"
	"strings"
	"sync"
	"time"

	muxerr "svdrpmux/internal/errors"
	"svdrpmux/internal/metrics"
	"svdrpmux/internal/transport"
	"svdrpmux/util"
)

type sessionState int

const (
	sessionActive sessionState = iota
	sessionClosing
	sessionClosed
)

// SessionOptions carry the per-acceptor constants into each session.
type SessionOptions struct {
	Host    string // local host identity for greeting/goodbye lines
	Service string
	Version string
	Logger  *util.Logger
	Metrics *metrics.Collector
	Trace   bool

	// OnClose is invoked once when the session's socket is gone
	// (acceptor deregistration).  May be nil.
	OnClose func(*Session)
}

// Session is one connected client.  It speaks the greeting/quit
// handshake and forwards command lines into the relay.  Session is the
// relay's ClientHandle for routing responses back.
type Session struct {
	relay *Relay
	conn  *transport.LineConn
	opts  SessionOptions

	mu    sync.Mutex
	state sessionState
}

// NewSession wraps an accepted client connection.  Call Start to send
// the greeting and begin reading.
func NewSession(r *Relay, conn *transport.LineConn, opts SessionOptions) *Session {
	if opts.Logger == nil {
		opts.Logger = util.NewLogger(0)
	}
	return &Session{relay: r, conn: conn, opts: opts}
}

// Start sends the greeting line and begins the read loop.
func (s *Session) Start() {
	greeting := fmt.Sprintf("220 %s %s %s; %s",
		s.opts.Host, s.opts.Service, s.opts.Version,
		time.Now().Format(time.RFC1123))
	if err := s.conn.WriteLine(greeting); err != nil {
		s.opts.Logger.Debug("greeting to %s failed: %v", s.conn.RemoteAddr(), err)
	}
	s.conn.Start(s)
}

// Close sends the goodbye line and closes the socket once all buffered
// output has been flushed.  Closing an already-closed session is a
// no-op.
func (s *Session) Close(reason string) {
	s.mu.Lock()
	if s.state != sessionActive {
		s.mu.Unlock()
		return
	}
	s.state = sessionClosing
	s.mu.Unlock()

	s.trace("closing (%s)", reason)
	goodbye := fmt.Sprintf("221 %s closing connection (%s)", s.opts.Host, reason)
	s.conn.WriteLine(goodbye) //nolint:errcheck // socket may already be gone
	s.conn.CloseWhenDrained()
}

// ── ClientHandle ─────────────────────────────────────────────────────

// SendLine forwards one backend response line to the client.
func (s *Session) SendLine(line string) error {
	s.mu.Lock()
	active := s.state == sessionActive
	s.mu.Unlock()

	if !active {
		return muxerr.ErrStaleHandle
	}
	if err := s.conn.WriteLine(line); err != nil {
		return muxerr.ErrStaleHandle
	}
	return nil
}

// Closed reports whether the session is gone (or going).
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state != sessionActive
}

// ── transport.LineHandler ────────────────────────────────────────────

// OnLine handles one line from the client: a quit request closes the
// session, anything else non-blank is submitted to the relay.
func (s *Session) OnLine(line string) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return
	}

	word, rest := splitWord(trimmed)
	if strings.EqualFold(word, "QUIT") {
		reason := strings.TrimSpace(rest)
		if reason == "" {
			reason = "client request"
		}
		s.Close(reason)
		return
	}

	if err := s.relay.Submit(s, trimmed); err != nil {
		if muxerr.Is(err, muxerr.ErrRelayClosed) {
			s.Close("service shutting down")
			return
		}
		s.opts.Logger.Warn("client %s: %v", s.conn.RemoteAddr(), err)
	}
}

// OnWriteDrained is informational for sessions; the drain-then-close
// sequencing lives in the transport layer.
func (s *Session) OnWriteDrained() {
	s.trace("output drained")
}

// OnDisconnected finalises the session once the socket is gone.
func (s *Session) OnDisconnected(err error) {
	s.mu.Lock()
	if s.state == sessionClosed {
		s.mu.Unlock()
		return
	}
	s.state = sessionClosed
	s.mu.Unlock()

	if err != nil {
		s.opts.Logger.Verbose("client %s disconnected: %v", s.conn.RemoteAddr(), err)
	} else {
		s.opts.Logger.Verbose("client %s disconnected", s.conn.RemoteAddr())
	}
	s.opts.Metrics.ClientDisconnected()
	if s.opts.OnClose != nil {
		s.opts.OnClose(s)
	}
}

func (s *Session) trace(format string, args ...interface{}) {
	if s.opts.Trace {
		s.opts.Logger.Debug("session %s: "+format,
			append([]interface{}{s.conn.RemoteAddr()}, args...)...)
	}
}

// splitWord splits off the first whitespace-delimited word.
func splitWord(s string) (word, rest string) {
	if i := strings.IndexAny(s, " \t"); i >= 0 {
		return s[:i], s[i+1:]
	}
	return s, ""
}
