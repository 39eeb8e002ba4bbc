//go:build !linux

package transport

import "github.com/Jennifer-Brigman/stormhttp/errors"

func newUring(kind Kind) (Transport, error) {
	return nil, errors.NewTransportError(errors.TransportErrorIoUringInit, "io_uring requires linux", nil)
}
