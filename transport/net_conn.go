package transport

import (
	stderrors "errors"
	"io"
	"net"
	"sync"
	"syscall"

	"github.com/Jennifer-Brigman/stormhttp/errors"
)

// netConn holds the net.Conn shared by the TCP, TLS and Unix transports.
type netConn struct {
	mu   sync.Mutex
	conn net.Conn
}

func (c *netConn) current() net.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

func (c *netConn) set(conn net.Conn) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		conn.Close()
		return errors.NewTransportError(errors.TransportErrorSocketConnectFailure, "already connected", nil)
	}
	c.conn = conn
	return nil
}

// Write sends all of buf over the connection.
func (c *netConn) Write(buf []byte) (int, error) {
	conn := c.current()
	if conn == nil {
		return 0, errors.NewTransportError(errors.TransportErrorSocketWriteFailure, "not connected", nil)
	}

	n, err := conn.Write(buf)
	if err != nil {
		return n, classifyIOError(errors.TransportErrorSocketWriteFailure, "write failed", err)
	}
	return n, nil
}

// Read receives data from the connection.
func (c *netConn) Read(buf []byte) (int, error) {
	conn := c.current()
	if conn == nil {
		return 0, errors.NewTransportError(errors.TransportErrorSocketReadFailure, "not connected", nil)
	}

	n, err := conn.Read(buf)
	if err != nil {
		if n > 0 {
			return n, nil
		}
		return 0, classifyIOError(errors.TransportErrorSocketReadFailure, "read failed", err)
	}
	if n == 0 && len(buf) > 0 {
		return 0, errors.NewTransportError(errors.TransportErrorConnectionClosed, "connection closed by peer", io.EOF)
	}
	return n, nil
}

// Close closes the connection. Closing twice is not an error.
func (c *netConn) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn == nil {
		return nil
	}
	if err := conn.Close(); err != nil && !stderrors.Is(err, net.ErrClosed) {
		return errors.NewTransportError(errors.TransportErrorConnectionClosed, "failed to close socket", err)
	}
	return nil
}

// classifyIOError maps a read or write failure to a transport error. EOF,
// resets, broken pipes and use of a closed connection all mean the peer or
// a concurrent Close ended the connection.
func classifyIOError(kind errors.TransportError, msg string, err error) error {
	var netErr net.Error
	switch {
	case stderrors.Is(err, io.EOF),
		stderrors.Is(err, io.ErrUnexpectedEOF),
		stderrors.Is(err, net.ErrClosed),
		stderrors.Is(err, syscall.EPIPE),
		stderrors.Is(err, syscall.ECONNRESET):
		return errors.NewTransportError(errors.TransportErrorConnectionClosed, "connection closed", err)
	case stderrors.As(err, &netErr) && netErr.Timeout():
		return errors.NewTransportError(errors.TransportErrorTimeout, msg, err)
	}
	return errors.NewTransportError(kind, msg, err)
}

// classifyDialError maps a dial failure to a transport error.
func classifyDialError(addr string, err error) error {
	var dnsErr *net.DNSError
	var netErr net.Error
	switch {
	case stderrors.As(err, &dnsErr):
		return errors.NewTransportError(errors.TransportErrorDnsFailure, "failed to resolve "+addr, err)
	case stderrors.As(err, &netErr) && netErr.Timeout():
		return errors.NewTransportError(errors.TransportErrorTimeout, "timed out connecting to "+addr, err)
	}
	return errors.NewTransportError(errors.TransportErrorSocketConnectFailure, "failed to connect to "+addr, err)
}
