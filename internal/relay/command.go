package relay

import (
	"fmt"

	muxerr "svdrpmux/internal/errors"
)

// ClientHandle is the relay's weak back-reference to a client session:
// just enough to deliver a response line or notice that the session is
// gone.  The relay never controls a session's lifecycle through it.
type ClientHandle interface {
	// SendLine delivers one response line verbatim.  Returns
	// ErrStaleHandle once the session has closed; callers treat that
	// as a silent no-op.
	SendLine(line string) error

	// Closed reports whether the session is gone.
	Closed() bool
}

// commandKind tags the variants of Command.
type commandKind int

const (
	// kindClient is an ordinary command submitted by a client.
	kindClient commandKind = iota

	// kindGreeting is the sentinel that absorbs the backend's banner
	// right after (re)connect.  It has no originator and is never
	// written to the backend or requeued.
	kindGreeting

	// kindQuit is the synthetic goodbye sent to the backend during
	// shutdown.  It has no originator.
	kindQuit
)

// Command is one queued protocol command.  Immutable once created;
// consumed exactly once — written to the backend, or discarded when
// its originator disconnects before dispatch.
type Command struct {
	kind   commandKind
	origin ClientHandle // nil for greeting/quit
	text   string
}

func clientCommand(origin ClientHandle, text string) Command {
	return Command{kind: kindClient, origin: origin, text: text}
}

func greetingSentinel() Command {
	return Command{kind: kindGreeting}
}

func quitCommand() Command {
	return Command{kind: kindQuit, text: "QUIT"}
}

// ── Ordering ─────────────────────────────────────────────────────────

// Ordering selects how client submissions queue relative to commands
// already waiting.
type Ordering int

const (
	// OrderLIFO dispatches the most recently submitted command first.
	// This is the historic relay behaviour and the default.
	OrderLIFO Ordering = iota

	// OrderFIFO dispatches commands in submission order.
	OrderFIFO
)

func (o Ordering) String() string {
	if o == OrderFIFO {
		return "fifo"
	}
	return "lifo"
}

// ParseOrdering maps a config string onto an Ordering.
func ParseOrdering(s string) (Ordering, error) {
	switch s {
	case "", "lifo":
		return OrderLIFO, nil
	case "fifo":
		return OrderFIFO, nil
	default:
		return 0, &muxerr.ConfigError{
			Field:   "ordering",
			Value:   s,
			Message: "must be lifo or fifo",
		}
	}
}

// ── Backlog ──────────────────────────────────────────────────────────

// backlog holds commands awaiting dispatch.  Urgent entries — the
// in-flight command requeued after a backend drop, and the shutdown
// QUIT — sit ahead of everything else and are never preempted by later
// submissions, regardless of the configured ordering.
type backlog struct {
	urgent int // count of leading urgent entries
	items  []Command
}

// add inserts a client submission according to the ordering strategy.
func (b *backlog) add(cmd Command, ord Ordering) {
	if ord == OrderFIFO {
		b.items = append(b.items, cmd)
		return
	}
	// LIFO: ahead of every waiting submission, behind urgent entries.
	i := b.urgent
	b.items = append(b.items, Command{})
	copy(b.items[i+1:], b.items[i:])
	b.items[i] = cmd
}

// pushUrgent inserts cmd at the very front.
func (b *backlog) pushUrgent(cmd Command) {
	b.items = append([]Command{cmd}, b.items...)
	b.urgent++
}

// park reinserts a command that was popped for dispatch but could not
// be written because the link is down.  It returns to the head of the
// ordinary region without becoming urgent, so a later LIFO submission
// may still precede it.
func (b *backlog) park(cmd Command) {
	i := b.urgent
	b.items = append(b.items, Command{})
	copy(b.items[i+1:], b.items[i:])
	b.items[i] = cmd
}

// popFront removes and returns the next command to dispatch.
func (b *backlog) popFront() (Command, bool) {
	if len(b.items) == 0 {
		return Command{}, false
	}
	cmd := b.items[0]
	b.items = b.items[1:]
	if b.urgent > 0 {
		b.urgent--
	}
	return cmd, true
}

func (b *backlog) len() int { return len(b.items) }

func (b *backlog) String() string {
	return fmt.Sprintf("backlog(%d, %d urgent)", len(b.items), b.urgent)
}
