package protocol

import (
	"io"
	"strconv"
	"strings"

	"github.com/valyala/bytebufferpool"

	"github.com/Jennifer-Brigman/stormhttp/coding"
	"github.com/Jennifer-Brigman/stormhttp/errors"
)

// DefaultVersion is the protocol version of messages built in code.
const DefaultVersion = "1.1"

// Message holds the parts shared by requests and responses.
type Message struct {
	Version string // "1.1", "1.0"
	Headers Headers
	Cookies Cookies
	Body    []byte

	complete bool
}

// IsComplete reports whether a parser finished filling the message.
func (m *Message) IsComplete() bool { return m.complete }

func (m *Message) version() string {
	if m.Version == "" {
		return DefaultVersion
	}
	return m.Version
}

// KeepAlive reports whether the connection may carry another message after
// this one. An explicit Connection header wins; otherwise HTTP/1.1 keeps the
// connection open and HTTP/1.0 does not.
func (m *Message) KeepAlive() bool {
	for _, v := range m.Headers.Values(HeaderConnection) {
		for _, tok := range strings.Split(v, ",") {
			switch strings.ToLower(strings.TrimSpace(tok)) {
			case "close":
				return false
			case "keep-alive":
				return true
			}
		}
	}
	return m.version() != "1.0"
}

// IsChunked reports whether the last transfer coding is chunked.
func (m *Message) IsChunked() bool {
	values := m.Headers.Values(HeaderTransferEncoding)
	if len(values) == 0 {
		return false
	}
	last := values[len(values)-1]
	if i := strings.LastIndexByte(last, ','); i >= 0 {
		last = last[i+1:]
	}
	return strings.EqualFold(strings.TrimSpace(last), "chunked")
}

func (m *Message) reset() {
	m.Version = ""
	m.Headers.Reset()
	m.Cookies.Reset()
	m.Body = nil
	m.complete = false
}

func (m *Message) appendBody(dst []byte) []byte {
	if !m.IsChunked() {
		return append(dst, m.Body...)
	}
	if len(m.Body) > 0 {
		dst = strconv.AppendInt(dst, int64(len(m.Body)), 16)
		dst = append(dst, '\r', '\n')
		dst = append(dst, m.Body...)
		dst = append(dst, '\r', '\n')
	}
	return append(dst, "0\r\n\r\n"...)
}

// Request is an HTTP request.
type Request struct {
	Message
	Method string
	URL    *URL
}

// NewRequest builds a request for target, which may be an absolute URL or
// an origin-form path.
func NewRequest(method string, target string) (*Request, error) {
	u, err := ParseURL(target)
	if err != nil {
		return nil, err
	}
	return &Request{Message: Message{Version: DefaultVersion}, Method: method, URL: u}, nil
}

// Reset clears the request so a parser can fill it again.
func (r *Request) Reset() {
	r.Message.reset()
	r.Method = ""
	r.URL = nil
}

func (r *Request) target() string {
	switch {
	case r.URL == nil:
		return "/"
	case r.Method == "CONNECT" && r.URL.Host != "":
		return r.URL.Host + ":" + strconv.Itoa(r.URL.EffectivePort())
	default:
		return r.URL.RequestURI()
	}
}

// AppendTo renders the request in wire form onto dst.
func (r *Request) AppendTo(dst []byte) []byte {
	dst = append(dst, r.Method...)
	dst = append(dst, ' ')
	dst = append(dst, r.target()...)
	dst = append(dst, " HTTP/"...)
	dst = append(dst, r.version()...)
	dst = append(dst, '\r', '\n')
	dst = r.Headers.AppendTo(dst)
	dst = r.Cookies.appendCookieLine(dst)
	dst = append(dst, '\r', '\n')
	return r.appendBody(dst)
}

// Bytes returns the request in wire form.
func (r *Request) Bytes() []byte { return r.AppendTo(nil) }

// WriteTo writes the request in wire form to w.
func (r *Request) WriteTo(w io.Writer) (int64, error) {
	return writePooled(w, r.AppendTo)
}

// Response is an HTTP response.
type Response struct {
	Message
	Reason string

	statusCode int
	encoding   string
	identity   []byte
}

// NewResponse returns an empty response with the given status code. Unknown
// codes are rejected.
func NewResponse(code int) (*Response, error) {
	if err := checkStatusCode(code); err != nil {
		return nil, err
	}
	return &Response{
		Message:    Message{Version: DefaultVersion},
		Reason:     StatusText(code),
		statusCode: code,
	}, nil
}

// MustResponse is like NewResponse but panics on an unknown code. It is meant
// for constant codes.
func MustResponse(code int) *Response {
	r, err := NewResponse(code)
	if err != nil {
		panic(err)
	}
	return r
}

// TextResponse returns a response carrying body as text/plain.
func TextResponse(code int, body string) *Response {
	r := MustResponse(code)
	r.Headers.Set(HeaderContentType, "text/plain; charset=utf-8")
	r.Body = []byte(body)
	return r
}

func (r *Response) StatusCode() int { return r.statusCode }

// SetStatusCode changes the status code and resets the reason text.
func (r *Response) SetStatusCode(code int) error {
	if err := checkStatusCode(code); err != nil {
		return err
	}
	r.statusCode, r.Reason = code, StatusText(code)
	return nil
}

// Reset clears the response so a parser can fill it again.
func (r *Response) Reset() {
	r.Message.reset()
	r.Reason = ""
	r.statusCode = 0
	r.encoding = ""
	r.identity = nil
}

// Encoding returns the content coding applied through SetEncoding.
func (r *Response) Encoding() string {
	if r.encoding == "" {
		return coding.Identity
	}
	return r.encoding
}

// SetEncoding re-encodes the body with the named content coding. Encoding
// always starts from the identity body, so switching back to identity
// restores the original bytes. Content-Encoding is updated, and so is
// Content-Length when present.
func (r *Response) SetEncoding(name string) error {
	if r.Encoding() == coding.Identity {
		r.identity = r.Body
	}
	body, err := coding.Encode(name, r.identity)
	if err != nil {
		return err
	}
	r.Body, r.encoding = body, name
	if name == coding.Identity {
		r.Headers.Del(HeaderContentEncoding)
	} else {
		r.Headers.Set(HeaderContentEncoding, name)
	}
	if r.Headers.Has(HeaderContentLength) {
		r.Headers.SetInt(HeaderContentLength, len(r.Body))
	}
	return nil
}

// DecodedBody returns the body with its Content-Encoding removed.
func (r *Response) DecodedBody() ([]byte, error) {
	name, ok := r.Headers.Get(HeaderContentEncoding)
	if !ok {
		return r.Body, nil
	}
	name = strings.ToLower(strings.TrimSpace(name))
	if !coding.Supported(name) {
		return nil, errors.NewArgumentError(errors.ArgumentErrorUnsupportedEncoding, name)
	}
	return coding.Decode(name, r.Body)
}

// IsRedirect reports whether the status asks the client to follow Location.
func (r *Response) IsRedirect() bool {
	switch r.statusCode {
	case 301, 302, 307, 308:
		return true
	}
	return false
}

// AppendTo renders the response in wire form onto dst.
func (r *Response) AppendTo(dst []byte) []byte {
	reason := r.Reason
	if reason == "" {
		reason = StatusText(r.statusCode)
	}
	dst = append(dst, "HTTP/"...)
	dst = append(dst, r.version()...)
	dst = append(dst, ' ')
	dst = strconv.AppendInt(dst, int64(r.statusCode), 10)
	dst = append(dst, ' ')
	dst = append(dst, reason...)
	dst = append(dst, '\r', '\n')
	dst = r.Headers.AppendTo(dst)
	dst = r.Cookies.appendSetCookieLines(dst)
	dst = append(dst, '\r', '\n')
	return r.appendBody(dst)
}

// Bytes returns the response in wire form.
func (r *Response) Bytes() []byte { return r.AppendTo(nil) }

// WriteTo writes the response in wire form to w.
func (r *Response) WriteTo(w io.Writer) (int64, error) {
	return writePooled(w, r.AppendTo)
}

func writePooled(w io.Writer, render func([]byte) []byte) (int64, error) {
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)
	buf.B = render(buf.B[:0])
	n, err := w.Write(buf.B)
	return int64(n), err
}
