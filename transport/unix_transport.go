package transport

import (
	"context"
	"net"
)

// UnixTransport implements the Transport interface using Unix domain sockets
type UnixTransport struct {
	netConn
	dialer net.Dialer
}

// NewUnixTransport creates a new UnixTransport instance
func NewUnixTransport() *UnixTransport {
	return &UnixTransport{}
}

// Connect establishes a Unix domain socket connection to the specified path.
// The port parameter is ignored for Unix sockets.
func (t *UnixTransport) Connect(ctx context.Context, path string, port int) error {
	conn, err := t.dialer.DialContext(ctx, "unix", path)
	if err != nil {
		return classifyDialError(path, err)
	}
	return t.set(conn)
}
