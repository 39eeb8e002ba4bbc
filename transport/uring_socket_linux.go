package transport

import (
	"context"
	"net"
	"strconv"
	"syscall"

	"github.com/Jennifer-Brigman/stormhttp/errors"
)

// uringQueueDepth is the submission queue size of each ring.
const uringQueueDepth = 32

// resolveSockaddr looks host up and returns the address of its first IPv4
// record, or its first record when it has none, with the socket domain to
// use.
func resolveSockaddr(ctx context.Context, host string, port int) (syscall.Sockaddr, int, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	ips, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil || len(ips) == 0 {
		return nil, 0, errors.NewTransportError(errors.TransportErrorDnsFailure, "failed to resolve "+addr, err)
	}

	ip := ips[0].IP
	for _, candidate := range ips {
		if candidate.IP.To4() != nil {
			ip = candidate.IP
			break
		}
	}
	if ip4 := ip.To4(); ip4 != nil {
		sa := &syscall.SockaddrInet4{Port: port}
		copy(sa.Addr[:], ip4)
		return sa, syscall.AF_INET, nil
	}
	sa := &syscall.SockaddrInet6{Port: port}
	copy(sa.Addr[:], ip.To16())
	return sa, syscall.AF_INET6, nil
}

// openSocket creates a TCP socket with TCP_NODELAY set.
func openSocket(domain int) (int, error) {
	fd, err := syscall.Socket(domain, syscall.SOCK_STREAM|syscall.SOCK_CLOEXEC, 0)
	if err != nil {
		return -1, errors.NewTransportError(errors.TransportErrorSocketCreateFailure, "failed to create socket", err)
	}
	if err := syscall.SetsockoptInt(fd, syscall.IPPROTO_TCP, syscall.TCP_NODELAY, 1); err != nil {
		syscall.Close(fd)
		return -1, errors.NewTransportError(errors.TransportErrorSocketCreateFailure, "failed to set TCP_NODELAY", err)
	}
	return fd, nil
}

// closeSocket shuts fd down before closing it so that a read or write still
// queued on a ring completes instead of waiting for the peer.
func closeSocket(fd int) error {
	_ = syscall.Shutdown(fd, syscall.SHUT_RDWR)
	if err := syscall.Close(fd); err != nil {
		return errors.NewTransportError(errors.TransportErrorConnectionClosed, "failed to close socket", err)
	}
	return nil
}

func newUring(kind Kind) (Transport, error) {
	if kind == KindUringV2 {
		return NewUringTransportV2()
	}
	return NewUringTransport()
}
