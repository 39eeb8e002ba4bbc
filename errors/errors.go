package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorType represents the category of error
type ErrorType int

const (
	ErrorNone ErrorType = iota
	ErrorTransport
	ErrorProtocol
	ErrorInvalidArgument
)

// TransportError represents transport-layer specific errors
type TransportError int

const (
	TransportErrorNone TransportError = iota
	TransportErrorSocketCreateFailure
	TransportErrorSocketConnectFailure
	TransportErrorSocketReadFailure
	TransportErrorSocketWriteFailure
	TransportErrorConnectionClosed
	TransportErrorDnsFailure
	TransportErrorTimeout
	TransportErrorTlsVerification
	TransportErrorIoUringInit
	TransportErrorIoUringSubmit
)

func (e TransportError) String() string {
	switch e {
	case TransportErrorSocketCreateFailure:
		return "socket creation failed"
	case TransportErrorSocketConnectFailure:
		return "socket connection failed"
	case TransportErrorSocketReadFailure:
		return "socket read failed"
	case TransportErrorSocketWriteFailure:
		return "socket write failed"
	case TransportErrorConnectionClosed:
		return "connection closed"
	case TransportErrorDnsFailure:
		return "DNS lookup failed"
	case TransportErrorTimeout:
		return "timeout"
	case TransportErrorTlsVerification:
		return "TLS certificate verification failed"
	case TransportErrorIoUringInit:
		return "io_uring initialization failed"
	case TransportErrorIoUringSubmit:
		return "io_uring submission failed"
	default:
		return fmt.Sprintf("transport error %d", int(e))
	}
}

// ProtocolError represents wire-level errors found while parsing a message
type ProtocolError int

const (
	ProtocolErrorNone ProtocolError = iota
	ProtocolErrorMalformedStartLine
	ProtocolErrorInvalidHeader
	ProtocolErrorInvalidChunkedEncoding
	ProtocolErrorMessageTooLarge
	ProtocolErrorIncompleteMessage
	ProtocolErrorRedirectExhausted
)

func (e ProtocolError) String() string {
	switch e {
	case ProtocolErrorMalformedStartLine:
		return "malformed start line"
	case ProtocolErrorInvalidHeader:
		return "invalid header"
	case ProtocolErrorInvalidChunkedEncoding:
		return "invalid chunked encoding"
	case ProtocolErrorMessageTooLarge:
		return "message too large"
	case ProtocolErrorIncompleteMessage:
		return "incomplete message"
	case ProtocolErrorRedirectExhausted:
		return "redirects exhausted"
	default:
		return fmt.Sprintf("protocol error %d", int(e))
	}
}

// ArgumentError represents misuse of the API by the caller. These are never
// produced by bytes coming off the wire.
type ArgumentError int

const (
	ArgumentErrorNone ArgumentError = iota
	ArgumentErrorUnknownStatusCode
	ArgumentErrorUnsupportedEncoding
	ArgumentErrorDuplicateRoute
)

func (e ArgumentError) String() string {
	switch e {
	case ArgumentErrorUnknownStatusCode:
		return "unknown status code"
	case ArgumentErrorUnsupportedEncoding:
		return "unsupported encoding"
	case ArgumentErrorDuplicateRoute:
		return "duplicate route"
	case ArgumentErrorNone:
		return "invalid argument"
	default:
		return fmt.Sprintf("argument error %d", int(e))
	}
}

// HttpError is the main error type of the module
type HttpError struct {
	Type          ErrorType
	TransportErr  TransportError
	ProtocolErr   ProtocolError
	ArgumentErr   ArgumentError
	Message       string
	UnderlyingErr error
}

// Error implements the error interface
func (e *HttpError) Error() string {
	if e == nil {
		return "no error"
	}

	var typeStr string
	switch e.Type {
	case ErrorTransport:
		typeStr = "transport error: " + e.TransportErr.String()
	case ErrorProtocol:
		typeStr = "protocol error: " + e.ProtocolErr.String()
	case ErrorInvalidArgument:
		typeStr = "invalid argument: " + e.ArgumentErr.String()
	default:
		typeStr = "unknown error"
	}

	if e.Message != "" {
		typeStr = fmt.Sprintf("%s: %s", typeStr, e.Message)
	}

	if e.UnderlyingErr != nil {
		return fmt.Sprintf("%s (caused by: %v)", typeStr, e.UnderlyingErr)
	}

	return typeStr
}

// Unwrap returns the underlying error for error chain support
func (e *HttpError) Unwrap() error {
	return e.UnderlyingErr
}

// NewTransportError creates a new transport error
func NewTransportError(err TransportError, message string, underlying error) *HttpError {
	return &HttpError{
		Type:          ErrorTransport,
		TransportErr:  err,
		Message:       message,
		UnderlyingErr: underlying,
	}
}

// NewProtocolError creates a new protocol error
func NewProtocolError(err ProtocolError, message string) *HttpError {
	return &HttpError{
		Type:        ErrorProtocol,
		ProtocolErr: err,
		Message:     message,
	}
}

// NewArgumentError creates a new invalid argument error of the given kind
func NewArgumentError(err ArgumentError, message string) *HttpError {
	return &HttpError{
		Type:        ErrorInvalidArgument,
		ArgumentErr: err,
		Message:     message,
	}
}

// NewInvalidArgumentError creates a new invalid argument error
func NewInvalidArgumentError(message string) *HttpError {
	return NewArgumentError(ArgumentErrorNone, message)
}

// IsTransport reports whether err wraps a transport error of the given kind.
func IsTransport(err error, kind TransportError) bool {
	var he *HttpError
	return stderrors.As(err, &he) && he.Type == ErrorTransport && he.TransportErr == kind
}

// IsProtocol reports whether err wraps a protocol error of the given kind.
func IsProtocol(err error, kind ProtocolError) bool {
	var he *HttpError
	return stderrors.As(err, &he) && he.Type == ErrorProtocol && he.ProtocolErr == kind
}

// IsArgument reports whether err wraps an argument error of the given kind.
func IsArgument(err error, kind ArgumentError) bool {
	var he *HttpError
	return stderrors.As(err, &he) && he.Type == ErrorInvalidArgument && he.ArgumentErr == kind
}
