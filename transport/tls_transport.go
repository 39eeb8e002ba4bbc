package transport

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	stderrors "errors"
	"net"
	"strconv"

	"github.com/Jennifer-Brigman/stormhttp/errors"
)

// TlsTransport implements the Transport interface over TLS on TCP.
type TlsTransport struct {
	netConn
	config *tls.Config
}

// NewTlsTransport creates a TlsTransport. A nil config verifies the server
// against the system roots.
func NewTlsTransport(config *tls.Config) *TlsTransport {
	return &TlsTransport{config: config}
}

// Connect dials host:port and completes the TLS handshake. The server name
// defaults to host.
func (t *TlsTransport) Connect(ctx context.Context, host string, port int) error {
	addr := net.JoinHostPort(host, strconv.Itoa(port))

	config := &tls.Config{}
	if t.config != nil {
		config = t.config.Clone()
	}
	if config.ServerName == "" {
		config.ServerName = host
	}

	dialer := &tls.Dialer{
		NetDialer: &net.Dialer{},
		Config:    config,
	}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		if isVerificationError(err) {
			return errors.NewTransportError(errors.TransportErrorTlsVerification, "certificate of "+addr+" rejected", err)
		}
		return classifyDialError(addr, err)
	}

	if tlsConn, ok := conn.(*tls.Conn); ok {
		if tcpConn, ok := tlsConn.NetConn().(*net.TCPConn); ok {
			_ = tcpConn.SetNoDelay(true)
		}
	}
	return t.set(conn)
}

func isVerificationError(err error) bool {
	var verifyErr *tls.CertificateVerificationError
	var unknownAuthority x509.UnknownAuthorityError
	var hostname x509.HostnameError
	var invalid x509.CertificateInvalidError
	return stderrors.As(err, &verifyErr) ||
		stderrors.As(err, &unknownAuthority) ||
		stderrors.As(err, &hostname) ||
		stderrors.As(err, &invalid)
}
