package transport

import (
	"context"
	"sync"
	"syscall"

	"github.com/godzie44/go-uring/uring"

	"github.com/Jennifer-Brigman/stormhttp/errors"
)

// UringTransportV2 implements Transport using godzie44/go-uring. The ring is
// driven synchronously: each call queues one entry and waits for it.
type UringTransportV2 struct {
	mu       sync.Mutex
	ring     *uring.Ring
	fd       int
	closed   bool
	inflight sync.WaitGroup
}

// NewUringTransportV2 creates a new TCP transport with io_uring (v2 using godzie44/go-uring)
func NewUringTransportV2() (*UringTransportV2, error) {
	ring, err := uring.New(uringQueueDepth)
	if err != nil {
		return nil, errors.NewTransportError(errors.TransportErrorIoUringInit, "failed to initialize io_uring", err)
	}

	return &UringTransportV2{
		ring: ring,
		fd:   -1,
	}, nil
}

func (t *UringTransportV2) begin() (int, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return -1, true
	}
	t.inflight.Add(1)
	return t.fd, false
}

// Connect establishes a TCP connection. The connect itself is a blocking
// system call; only reads and writes go through the ring.
func (t *UringTransportV2) Connect(ctx context.Context, host string, port int) error {
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

	stop := context.AfterFunc(ctx, func() { syscall.Shutdown(fd, syscall.SHUT_RDWR) })
	err = syscall.Connect(fd, sa)
	stop()
	if err != nil || ctx.Err() != nil {
		closeSocket(fd)
		if ctx.Err() != nil {
			return errors.NewTransportError(errors.TransportErrorTimeout, "connect aborted", ctx.Err())
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

// complete queues op, submits it and waits for its completion.
func (t *UringTransportV2) complete(op uring.Operation) (int, error) {
	if err := t.ring.QueueSQE(op, 0, 0); err != nil {
		return 0, errors.NewTransportError(errors.TransportErrorIoUringSubmit, "failed to queue request", err)
	}
	if _, err := t.ring.Submit(); err != nil {
		return 0, errors.NewTransportError(errors.TransportErrorIoUringSubmit, "failed to submit request", err)
	}

	cqe, err := t.ring.WaitCQEvents(1)
	if err != nil {
		return 0, errors.NewTransportError(errors.TransportErrorIoUringSubmit, "failed to wait for completion", err)
	}
	defer t.ring.SeenCQE(cqe)
	if err := cqe.Error(); err != nil {
		return 0, err
	}
	return int(cqe.Res), nil
}

// Write sends data over the connection using io_uring
func (t *UringTransportV2) Write(buf []byte) (int, error) {
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
		n, err := t.complete(uring.Write(uintptr(fd), buf[totalWritten:], 0))
		if err != nil {
			if _, isTransport := err.(*errors.HttpError); isTransport {
				return totalWritten, err
			}
			if err == syscall.EPIPE || err == syscall.ECONNRESET {
				return totalWritten, errors.NewTransportError(errors.TransportErrorConnectionClosed, "connection closed during write", err)
			}
			return totalWritten, errors.NewTransportError(errors.TransportErrorSocketWriteFailure, "write operation failed", err)
		}
		if n <= 0 {
			return totalWritten, errors.NewTransportError(errors.TransportErrorConnectionClosed, "connection closed during write", nil)
		}
		totalWritten += n
	}

	return totalWritten, nil
}

// Read receives data from the connection using io_uring
func (t *UringTransportV2) Read(buf []byte) (int, error) {
	fd, closed := t.begin()
	if closed {
		return 0, errors.NewTransportError(errors.TransportErrorConnectionClosed, "connection closed", nil)
	}
	defer t.inflight.Done()
	if fd < 0 {
		return 0, errors.NewTransportError(errors.TransportErrorSocketReadFailure, "not connected", nil)
	}

	n, err := t.complete(uring.Read(uintptr(fd), buf, 0))
	if err != nil {
		if _, isTransport := err.(*errors.HttpError); isTransport {
			return 0, err
		}
		if err == syscall.ECONNRESET {
			return 0, errors.NewTransportError(errors.TransportErrorConnectionClosed, "connection reset by peer", err)
		}
		return 0, errors.NewTransportError(errors.TransportErrorSocketReadFailure, "read operation failed", err)
	}
	if n == 0 && len(buf) > 0 {
		return 0, errors.NewTransportError(errors.TransportErrorConnectionClosed, "connection closed by peer", nil)
	}

	return n, nil
}

// Close shuts the socket down, which completes any read or write queued on
// the ring, and releases the ring once those calls have returned. Closing
// twice is not an error.
func (t *UringTransportV2) Close() error {
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
	t.ring.Close()
	return err
}
