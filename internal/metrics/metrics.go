// Package metrics provides lightweight, lock-free counters for
// tracking runtime statistics of a relay instance.
//
// All methods are safe for concurrent use.  A nil *Collector is a
// valid no-op receiver, so callers never need to nil-check.
package metrics

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"
)

// Collector tracks runtime metrics for a relay instance.
// A nil Collector is safe to use — all methods become no-ops.
type Collector struct {
	clientsActive      atomic.Int64
	clientsTotal       atomic.Int64
	commandsSubmitted  atomic.Int64
	commandsRelayed    atomic.Int64
	commandsDiscarded  atomic.Int64
	responsesDelivered atomic.Int64
	backendReconnects  atomic.Int64
	errorsTotal        atomic.Int64

	mu           sync.RWMutex
	startTime    time.Time
	lastError    time.Time
	lastErrorMsg string
}

// New creates a metrics collector with the start time set to now.
func New() *Collector {
	return &Collector{startTime: time.Now()}
}

// ── Client metrics ───────────────────────────────────────────────────

// ClientConnected increments both the active and total counters.
func (c *Collector) ClientConnected() {
	if c == nil {
		return
	}
	c.clientsActive.Add(1)
	c.clientsTotal.Add(1)
}

// ClientDisconnected decrements the active client counter.
func (c *Collector) ClientDisconnected() {
	if c == nil {
		return
	}
	c.clientsActive.Add(-1)
}

// ActiveClients returns the current number of connected clients.
func (c *Collector) ActiveClients() int64 {
	if c == nil {
		return 0
	}
	return c.clientsActive.Load()
}

// TotalClients returns the lifetime client connection count.
func (c *Collector) TotalClients() int64 {
	if c == nil {
		return 0
	}
	return c.clientsTotal.Load()
}

// ── Command metrics ──────────────────────────────────────────────────

// CommandSubmitted records a command accepted into the backlog.
func (c *Collector) CommandSubmitted() {
	if c == nil {
		return
	}
	c.commandsSubmitted.Add(1)
}

// CommandRelayed records a command written to the backend.
func (c *Collector) CommandRelayed() {
	if c == nil {
		return
	}
	c.commandsRelayed.Add(1)
}

// CommandDiscarded records a queued command dropped because its
// originating client disconnected before dispatch.
func (c *Collector) CommandDiscarded() {
	if c == nil {
		return
	}
	c.commandsDiscarded.Add(1)
}

// ResponseDelivered records a response line forwarded to a client.
func (c *Collector) ResponseDelivered() {
	if c == nil {
		return
	}
	c.responsesDelivered.Add(1)
}

// CommandsRelayed returns the number of commands written to the backend.
func (c *Collector) CommandsRelayed() int64 {
	if c == nil {
		return 0
	}
	return c.commandsRelayed.Load()
}

// CommandsDiscarded returns the number of commands dropped at dispatch.
func (c *Collector) CommandsDiscarded() int64 {
	if c == nil {
		return 0
	}
	return c.commandsDiscarded.Load()
}

// ── Backend metrics ──────────────────────────────────────────────────

// BackendReconnect records a backend reconnection event.
func (c *Collector) BackendReconnect() {
	if c == nil {
		return
	}
	c.backendReconnects.Add(1)
}

// BackendReconnects returns the total backend reconnection count.
func (c *Collector) BackendReconnects() int64 {
	if c == nil {
		return 0
	}
	return c.backendReconnects.Load()
}

// ── Error metrics ────────────────────────────────────────────────────

// RecordError increments the error counter and stores the message.
func (c *Collector) RecordError(msg string) {
	if c == nil {
		return
	}
	c.errorsTotal.Add(1)
	c.mu.Lock()
	c.lastError = time.Now()
	c.lastErrorMsg = msg
	c.mu.Unlock()
}

// ErrorCount returns the total number of errors recorded.
func (c *Collector) ErrorCount() int64 {
	if c == nil {
		return 0
	}
	return c.errorsTotal.Load()
}

// ── Snapshot ─────────────────────────────────────────────────────────

// Snapshot is a point-in-time view of all metrics.
type Snapshot struct {
	Uptime             string `json:"uptime"`
	ClientsActive      int64  `json:"clients_active"`
	ClientsTotal       int64  `json:"clients_total"`
	CommandsSubmitted  int64  `json:"commands_submitted"`
	CommandsRelayed    int64  `json:"commands_relayed"`
	CommandsDiscarded  int64  `json:"commands_discarded"`
	ResponsesDelivered int64  `json:"responses_delivered"`
	BackendReconnects  int64  `json:"backend_reconnects"`
	ErrorsTotal        int64  `json:"errors_total"`
	LastError          string `json:"last_error,omitempty"`
	LastErrorMessage   string `json:"last_error_message,omitempty"`
}

// Snapshot returns a copy of all current metrics.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := Snapshot{
		Uptime:             time.Since(c.startTime).Truncate(time.Second).String(),
		ClientsActive:      c.clientsActive.Load(),
		ClientsTotal:       c.clientsTotal.Load(),
		CommandsSubmitted:  c.commandsSubmitted.Load(),
		CommandsRelayed:    c.commandsRelayed.Load(),
		CommandsDiscarded:  c.commandsDiscarded.Load(),
		ResponsesDelivered: c.responsesDelivered.Load(),
		BackendReconnects:  c.backendReconnects.Load(),
		ErrorsTotal:        c.errorsTotal.Load(),
	}
	if !c.lastError.IsZero() {
		s.LastError = c.lastError.Format(time.RFC3339)
		s.LastErrorMessage = c.lastErrorMsg
	}
	return s
}

// JSON returns the snapshot as an indented JSON string.
func (c *Collector) JSON() string {
	s := c.Snapshot()
	data, _ := json.MarshalIndent(s, "", "  ")
	return string(data)
}
