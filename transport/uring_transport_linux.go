package transport

import (
	"context"
	"sync"
	"syscall"

	"github.com/iceber/iouring-go"

	"github.com/Jennifer-Brigman/stormhttp/errors"
)

// UringTransport implements Transport using io_uring for async I/O
type UringTransport struct {
	mu       sync.Mutex
	iour     *iouring.IOURing
	fd       int
	closed   bool
	inflight sync.WaitGroup
}

// NewUringTransport creates a new TCP transport with io_uring
func NewUringTransport() (*UringTransport, error) {
	iour, err := iouring.New(uringQueueDepth)
	if err != nil {
		return nil, errors.NewTransportError(errors.TransportErrorIoUringInit, "failed to initialize io_uring", err)
	}

	return &UringTransport{
		iour: iour,
		fd:   -1,
	}, nil
}

// begin registers a call that uses the ring and returns the socket, or -1
// when not connected. The caller must call t.inflight.Done.
func (t *UringTransport) begin() (int, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return -1, true
	}
	t.inflight.Add(1)
	return t.fd, false
}

// submit queues req and waits for its result.
func (t *UringTransport) submit(ctx context.Context, req iouring.PrepRequest) (int, error) {
	ch := make(chan iouring.Result, 1)
	if _, err := t.iour.SubmitRequest(req, ch); err != nil {
		return 0, errors.NewTransportError(errors.TransportErrorIoUringSubmit, "failed to submit request", err)
	}
	select {
	case result := <-ch:
		return result.ReturnInt()
	case <-ctx.Done():
		// the socket is closed by the caller; the completion lands in ch
		return 0, ctx.Err()
	}
}

// Connect establishes a TCP connection using io_uring
func (t *UringTransport) Connect(ctx context.Context, host string, port int) error {
	current, closed := t.begin()
	if closed {
		return errors.NewTransportError(errors.TransportErrorConnectionClosed, "connection closed", nil)
	}
	defer t.inflight.Done()
	if current >= 0 {
		return errors.NewTransportError(errors.TransportErrorSocketConnectFailure, "already connected", nil)
	}

	sa, domain, err := resolveSockaddr(ctx, host, port)
	if err != nil {
		return err
	}
	fd, err := openSocket(domain)
	if err != nil {
		return err
	}

	connReq, err := iouring.Connect(fd, sa)
	if err != nil {
		closeSocket(fd)
		return errors.NewTransportError(errors.TransportErrorSocketConnectFailure, "failed to connect to "+host, err)
	}
	if _, err := t.submit(ctx, connReq); err != nil {
		closeSocket(fd)
		if ctx.Err() != nil {
			return errors.NewTransportError(errors.TransportErrorTimeout, "connect aborted", err)
		}
		return errors.NewTransportError(errors.TransportErrorSocketConnectFailure, "failed to connect to "+host, err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		closeSocket(fd)
		return errors.NewTransportError(errors.TransportErrorConnectionClosed, "closed while connecting", nil)
	}
	t.fd = fd
	return nil
}

// Write sends data over the connection using io_uring
func (t *UringTransport) Write(buf []byte) (int, error) {
	fd, closed := t.begin()
	if closed {
		return 0, errors.NewTransportError(errors.TransportErrorConnectionClosed, "connection closed", nil)
	}
	defer t.inflight.Done()
	if fd < 0 {
		return 0, errors.NewTransportError(errors.TransportErrorSocketWriteFailure, "not connected", nil)
	}

	totalWritten := 0
	for totalWritten < len(buf) {
		n, err := t.submit(context.Background(), iouring.Send(fd, buf[totalWritten:], syscall.MSG_NOSIGNAL))
		if err != nil {
			if _, isTransport := err.(*errors.HttpError); isTransport {
				return totalWritten, err
			}
			if err == syscall.EPIPE || err == syscall.ECONNRESET {
				return totalWritten, errors.NewTransportError(errors.TransportErrorConnectionClosed, "connection closed during write", err)
			}
			return totalWritten, errors.NewTransportError(errors.TransportErrorSocketWriteFailure, "write failed", err)
		}
		if n <= 0 {
			return totalWritten, errors.NewTransportError(errors.TransportErrorConnectionClosed, "connection closed during write", nil)
		}
		totalWritten += n
	}

	return totalWritten, nil
}

// Read receives data from the connection using io_uring
func (t *UringTransport) Read(buf []byte) (int, error) {
	fd, closed := t.begin()
	if closed {
		return 0, errors.NewTransportError(errors.TransportErrorConnectionClosed, "connection closed", nil)
	}
	defer t.inflight.Done()
	if fd < 0 {
		return 0, errors.NewTransportError(errors.TransportErrorSocketReadFailure, "not connected", nil)
	}

	n, err := t.submit(context.Background(), iouring.Recv(fd, buf, 0))
	if err != nil {
		if _, isTransport := err.(*errors.HttpError); isTransport {
			return 0, err
		}
		if err == syscall.ECONNRESET {
			return 0, errors.NewTransportError(errors.TransportErrorConnectionClosed, "connection reset by peer", err)
		}
		return 0, errors.NewTransportError(errors.TransportErrorSocketReadFailure, "read failed", err)
	}
	if n == 0 && len(buf) > 0 {
		return 0, errors.NewTransportError(errors.TransportErrorConnectionClosed, "connection closed by peer", nil)
	}

	return n, nil
}

// Close closes the connection and releases the ring once the calls still
// using it have returned. Closing twice is not an error.
func (t *UringTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	var err error
	if t.fd >= 0 {
		err = closeSocket(t.fd)
		t.fd = -1
	}
	t.mu.Unlock()

	t.inflight.Wait()
	t.iour.Close()
	return err
}
