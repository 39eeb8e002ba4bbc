package transport

import (
	"context"
	"net"
	"strconv"

	"github.com/Jennifer-Brigman/stormhttp/errors"
)

// TcpTransport implements the Transport interface using TCP sockets
type TcpTransport struct {
	netConn
	dialer net.Dialer
}

// NewTcpTransport creates a new TcpTransport instance
func NewTcpTransport() *TcpTransport {
	return &TcpTransport{}
}

// Connect establishes a TCP connection to the specified host and port
func (t *TcpTransport) Connect(ctx context.Context, host string, port int) error {
	addr := net.JoinHostPort(host, strconv.Itoa(port))

	conn, err := t.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return classifyDialError(addr, err)
	}

	// Set TCP_NODELAY to disable Nagle's algorithm for lower latency
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		if err := tcpConn.SetNoDelay(true); err != nil {
			conn.Close()
			return errors.NewTransportError(errors.TransportErrorSocketCreateFailure, "failed to set TCP_NODELAY", err)
		}
	}

	return t.set(conn)
}
