// Package transport provides connection establishment and line framing.
// Dialers handle the "how" of reaching the backend — plain TCP or an
// SSH-tunnelled hop — independent of what happens over the connection.
// LineConn turns a raw connection into discrete text lines and delivery
// events; nothing above this package touches raw bytes.
package transport

import (
	"context"
	"net"
)

// Dialer opens outbound network connections.  Implementations include
// a plain TCP dialer and an SSH-tunnelled dialer that routes traffic
// through an encrypted gateway.
type Dialer interface {
	// Dial establishes a connection to the given network address.
	Dial(ctx context.Context, network, address string) (net.Conn, error)

	// Close releases any long-lived resources held by the dialer
	// (e.g. an SSH session).  Stateless dialers return nil.
	Close() error
}
