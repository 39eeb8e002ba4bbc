// Package transport provides the byte-oriented socket collaborators used by
// the client: plain TCP, TLS, Unix domain sockets and two io_uring backends.
package transport

import (
	"context"
	"crypto/tls"
	"fmt"

	"github.com/Jennifer-Brigman/stormhttp/errors"
)

// Transport defines the interface for network I/O operations.
type Transport interface {
	// Connect establishes a connection to the specified host and port.
	// For Unix sockets, the host parameter is the socket path and port is ignored.
	Connect(ctx context.Context, host string, port int) error

	// Write sends data to the connected peer.
	// Returns the number of bytes written or an error.
	Write(buf []byte) (int, error)

	// Read receives data from the connected peer.
	// Returns the number of bytes read or an error.
	Read(buf []byte) (int, error)

	// Close closes the connection. It may be called from another goroutine to
	// abort a blocked Read or Write, and more than once.
	Close() error
}

// Kind names a transport implementation.
type Kind string

const (
	KindTCP     Kind = "tcp"
	KindTLS     Kind = "tls"
	KindUnix    Kind = "unix"
	KindUring   Kind = "uring"
	KindUringV2 Kind = "uring2"
)

// New returns an unconnected transport of the given kind. tlsConfig is only
// used by KindTLS and may be nil.
func New(kind Kind, tlsConfig *tls.Config) (Transport, error) {
	switch kind {
	case KindTCP, "":
		return NewTcpTransport(), nil
	case KindTLS:
		return NewTlsTransport(tlsConfig), nil
	case KindUnix:
		return NewUnixTransport(), nil
	case KindUring, KindUringV2:
		return newUring(kind)
	default:
		return nil, errors.NewInvalidArgumentError(fmt.Sprintf("unknown transport %q", kind))
	}
}
