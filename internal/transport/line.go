package transport

import (
	"bufio"
	"net"
	"strings"
	"sync"
	"time"

	"svdrpmux/util"
)

// LineHandler receives the framed events of a LineConn.  Callbacks are
// invoked from the connection's own goroutines; implementations do
// their own locking.
type LineHandler interface {
	// OnLine is called once per received line, terminator stripped.
	OnLine(line string)

	// OnWriteDrained is called whenever the write queue empties after
	// at least one line has been flushed.
	OnWriteDrained()

	// OnDisconnected is called exactly once when the connection is
	// gone, with the read error (nil on clean EOF).
	OnDisconnected(err error)
}

// writeReq is one queued outbound line.  A close request travels
// through the same queue so that it is ordered after every line
// submitted before it (write-drain-then-close).
type writeReq struct {
	line  string
	close bool
}

// LineConn frames a net.Conn into text lines.  Reads frame on '\n'
// with an optional preceding '\r'; writes terminate lines with CRLF.
type LineConn struct {
	conn        net.Conn
	logger      *util.Logger
	idleTimeout time.Duration // 0 = no read deadline

	writes chan writeReq
	quit   chan struct{}

	mu     sync.Mutex
	closed bool // no further writes accepted

	closeOnce sync.Once
	quitOnce  sync.Once
}

// NewLineConn wraps conn.  The connection is inert until Start.
func NewLineConn(conn net.Conn, idleTimeout time.Duration, logger *util.Logger) *LineConn {
	return &LineConn{
		conn:        conn,
		logger:      logger,
		idleTimeout: idleTimeout,
		writes:      make(chan writeReq, 64),
		quit:        make(chan struct{}),
	}
}

// Start launches the read and write loops.  Handler callbacks begin
// immediately; callers must be fully initialised before Start.
func (c *LineConn) Start(h LineHandler) {
	go c.writeLoop(h)
	go c.readLoop(h)
}

// RemoteAddr returns the peer address for logging.
func (c *LineConn) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

// WriteLine queues a line for transmission.  Returns net.ErrClosed
// once the connection is closed or closing.
func (c *LineConn) WriteLine(line string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return net.ErrClosed
	}
	c.mu.Unlock()

	select {
	case c.writes <- writeReq{line: line}:
		return nil
	case <-c.quit:
		return net.ErrClosed
	}
}

// CloseWhenDrained refuses further writes and closes the connection
// once every previously queued line has been flushed to the peer.
// Closing an already-closed connection is tolerated.
func (c *LineConn) CloseWhenDrained() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	select {
	case c.writes <- writeReq{close: true}:
	case <-c.quit:
	}
}

// Close tears the connection down immediately, discarding any queued
// output.  Safe to call multiple times and from any goroutine.
func (c *LineConn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.quitOnce.Do(func() { close(c.quit) })

	var err error
	c.closeOnce.Do(func() { err = c.conn.Close() })
	return err
}

// ── loops ────────────────────────────────────────────────────────────

func (c *LineConn) readLoop(h LineHandler) {
	buf := util.GetBuf()
	defer util.PutBuf(buf)

	sc := bufio.NewScanner(c.conn)
	sc.Buffer(*buf, util.DefaultBufSize)

	for {
		if c.idleTimeout > 0 {
			c.conn.SetReadDeadline(time.Now().Add(c.idleTimeout)) //nolint:errcheck
		}
		if !sc.Scan() {
			break
		}
		h.OnLine(strings.TrimSuffix(sc.Text(), "\r"))
	}

	err := sc.Err() // nil on clean EOF
	c.Close()       //nolint:errcheck // unblock the writer, idempotent
	h.OnDisconnected(err)
}

func (c *LineConn) writeLoop(h LineHandler) {
	w := bufio.NewWriter(c.conn)

	for {
		select {
		case req := <-c.writes:
			if req.close {
				w.Flush() //nolint:errcheck // best effort before close
				c.Close() //nolint:errcheck
				return
			}
			w.WriteString(req.line) //nolint:errcheck
			w.WriteString("\r\n")   //nolint:errcheck
			if err := w.Flush(); err != nil {
				c.logger.Debug("write to %s failed: %v", c.conn.RemoteAddr(), err)
				c.Close() //nolint:errcheck
				return
			}
			if len(c.writes) == 0 {
				h.OnWriteDrained()
			}
		case <-c.quit:
			return
		}
	}
}
