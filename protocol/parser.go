package protocol

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/Jennifer-Brigman/stormhttp/errors"
)

// DefaultMaxHeaderBytes bounds the start line plus header section.
const DefaultMaxHeaderBytes = 64 << 10

const maxChunkLineBytes = 4096

type parseState int

const (
	stateStart parseState = iota
	stateStartLine
	stateHeaders
	stateBody
	stateBodyUntilClose
	stateChunkSize
	stateChunkData
	stateChunkDataEnd
	stateTrailer
	stateDone
	stateFailed
)

func (s parseState) String() string {
	switch s {
	case stateStart:
		return "start"
	case stateStartLine:
		return "start-line"
	case stateHeaders:
		return "headers"
	case stateBody:
		return "body"
	case stateBodyUntilClose:
		return "body-until-close"
	case stateChunkSize:
		return "chunk-size"
	case stateChunkData:
		return "chunk-data"
	case stateChunkDataEnd:
		return "chunk-data-end"
	case stateTrailer:
		return "trailer"
	case stateDone:
		return "done"
	default:
		return "failed"
	}
}

// Parser incrementally fills one request or response from byte chunks of
// any size. Feed it until the target message reports IsComplete, then
// retarget it with SetRequest or SetResponse to parse the next message.
//
// A Parser is owned by a single connection and is not safe for concurrent
// use.
type Parser struct {
	// MaxHeaderBytes bounds the start line plus headers. Zero means
	// DefaultMaxHeaderBytes.
	MaxHeaderBytes int
	// MaxBodyBytes bounds the decoded body. Zero means unlimited.
	MaxBodyBytes int
	// ReadUntilClose makes a response without Content-Length or chunked
	// framing take every byte up to the end of the connection as its body;
	// the caller reports that end with Close. Without it such a response
	// has an empty body. Requests are not affected.
	ReadUntilClose bool

	req  *Request
	resp *Response
	msg  *Message

	state       parseState
	err         error
	skipBody    bool
	line        []byte
	headerBytes int

	pendingName  string
	pendingValue string
	hasPending   bool

	remaining int64
}

// NewRequestParser returns a parser filling req.
func NewRequestParser(req *Request) *Parser {
	p := &Parser{}
	p.SetRequest(req)
	return p
}

// NewResponseParser returns a parser filling resp.
func NewResponseParser(resp *Response) *Parser {
	p := &Parser{}
	p.SetResponse(resp)
	return p
}

// SetRequest retargets the parser to req and restarts it. Internal buffers
// are kept.
func (p *Parser) SetRequest(req *Request) {
	req.Reset()
	p.req, p.resp, p.msg = req, nil, &req.Message
	p.restart()
}

// SetResponse retargets the parser to resp and restarts it. Internal
// buffers are kept.
func (p *Parser) SetResponse(resp *Response) {
	resp.Reset()
	p.req, p.resp, p.msg = nil, resp, &resp.Message
	p.restart()
}

func (p *Parser) restart() {
	p.state = stateStart
	p.err = nil
	p.skipBody = false
	p.line = p.line[:0]
	p.headerBytes = 0
	p.pendingName, p.pendingValue, p.hasPending = "", "", false
	p.remaining = 0
}

// SkipBody tells the parser that the message has no body whatever its
// headers say, as for the response to a HEAD request. It applies until the
// parser is retargeted.
func (p *Parser) SkipBody() { p.skipBody = true }

// Done reports whether the current message is complete.
func (p *Parser) Done() bool { return p.state == stateDone }

// Started reports whether any byte of the current message was consumed.
func (p *Parser) Started() bool {
	return p.state != stateStart || len(p.line) > 0
}

// Close tells the parser that the peer closed the connection. A response
// being read until close is complete; any other message that has started
// but not finished is reported as incomplete.
func (p *Parser) Close() error {
	switch {
	case p.err != nil:
		return p.err
	case p.state == stateBodyUntilClose:
		p.finish()
		return nil
	case p.state == stateDone || !p.Started():
		return nil
	}
	p.err = errors.NewProtocolError(errors.ProtocolErrorIncompleteMessage, "connection closed in state "+p.state.String())
	p.state = stateFailed
	return p.err
}

// Feed consumes bytes of the current message and returns how many it used.
// Bytes beyond the end of the message are left for the caller, which makes
// pipelining possible. Data is copied, so the caller may reuse its buffer.
// Once an error is returned the parser stays failed until retargeted.
func (p *Parser) Feed(data []byte) (int, error) {
	if p.err != nil {
		return 0, p.err
	}
	consumed := 0
	for consumed < len(data) && p.state != stateDone {
		n, err := p.step(data[consumed:])
		consumed += n
		if err != nil {
			p.state, p.err = stateFailed, err
			return consumed, err
		}
	}
	return consumed, nil
}

func (p *Parser) maxHeaderBytes() int {
	if p.MaxHeaderBytes > 0 {
		return p.MaxHeaderBytes
	}
	return DefaultMaxHeaderBytes
}

func (p *Parser) step(data []byte) (int, error) {
	switch p.state {
	case stateStart:
		// leading empty lines are tolerated
		if data[0] == '\r' || data[0] == '\n' {
			return 1, nil
		}
		p.state = stateStartLine
		return 0, nil

	case stateStartLine:
		line, n, ok := p.readLine(data)
		if err := p.countHeaderBytes(n); err != nil {
			return n, err
		}
		if !ok {
			return n, nil
		}
		var err error
		if p.req != nil {
			err = p.parseRequestLine(string(line))
		} else {
			err = p.parseStatusLine(string(line))
		}
		p.line = p.line[:0]
		p.state = stateHeaders
		return n, err

	case stateHeaders:
		line, n, ok := p.readLine(data)
		if err := p.countHeaderBytes(n); err != nil {
			return n, err
		}
		if !ok {
			return n, nil
		}
		err := p.headerLine(line)
		p.line = p.line[:0]
		return n, err

	case stateBody:
		n := p.take(data)
		if p.remaining == 0 {
			p.finish()
		}
		return n, nil

	case stateBodyUntilClose:
		if err := p.checkBodySize(int64(len(data))); err != nil {
			return 0, err
		}
		p.msg.Body = append(p.msg.Body, data...)
		return len(data), nil

	case stateChunkSize:
		line, n, ok := p.readLine(data)
		if len(p.line) > maxChunkLineBytes {
			return n, errors.NewProtocolError(errors.ProtocolErrorInvalidChunkedEncoding, "chunk size line too long")
		}
		if !ok {
			return n, nil
		}
		size, err := parseChunkSize(line)
		p.line = p.line[:0]
		if err != nil {
			return n, err
		}
		if err := p.checkBodySize(size); err != nil {
			return n, err
		}
		if size == 0 {
			p.state = stateTrailer
		} else {
			p.remaining, p.state = size, stateChunkData
		}
		return n, nil

	case stateChunkData:
		n := p.take(data)
		if p.remaining == 0 {
			p.state = stateChunkDataEnd
		}
		return n, nil

	case stateChunkDataEnd:
		line, n, ok := p.readLine(data)
		if !ok {
			if len(p.line) > 1 {
				return n, errors.NewProtocolError(errors.ProtocolErrorInvalidChunkedEncoding, "missing CRLF after chunk data")
			}
			return n, nil
		}
		p.line = p.line[:0]
		if len(line) != 0 {
			return n, errors.NewProtocolError(errors.ProtocolErrorInvalidChunkedEncoding, "missing CRLF after chunk data")
		}
		p.state = stateChunkSize
		return n, nil

	case stateTrailer:
		line, n, ok := p.readLine(data)
		if err := p.countHeaderBytes(n); err != nil {
			return n, err
		}
		if !ok {
			return n, nil
		}
		empty := len(line) == 0
		p.line = p.line[:0]
		if empty {
			p.finish()
		}
		return n, nil
	}
	return 0, errors.NewProtocolError(errors.ProtocolErrorIncompleteMessage, "parser used in state "+p.state.String())
}

// readLine returns the next LF-terminated line without its line ending,
// buffering partial lines across calls. The returned line is only valid
// until p.line is reset.
func (p *Parser) readLine(data []byte) (line []byte, n int, ok bool) {
	i := bytes.IndexByte(data, '\n')
	if i < 0 {
		p.line = append(p.line, data...)
		return nil, len(data), false
	}
	if len(p.line) > 0 {
		p.line = append(p.line, data[:i]...)
		line = p.line
	} else {
		line = data[:i]
	}
	return bytes.TrimSuffix(line, []byte{'\r'}), i + 1, true
}

func (p *Parser) countHeaderBytes(n int) error {
	p.headerBytes += n
	if p.headerBytes > p.maxHeaderBytes() {
		return errors.NewProtocolError(errors.ProtocolErrorInvalidHeader,
			"header section exceeds "+strconv.Itoa(p.maxHeaderBytes())+" bytes")
	}
	return nil
}

// checkBodySize rejects adding more bytes to the body read so far.
func (p *Parser) checkBodySize(more int64) error {
	if p.MaxBodyBytes > 0 && more > int64(p.MaxBodyBytes)-int64(len(p.msg.Body)) {
		return errors.NewProtocolError(errors.ProtocolErrorMessageTooLarge,
			"body exceeds "+strconv.Itoa(p.MaxBodyBytes)+" bytes")
	}
	return nil
}

func (p *Parser) take(data []byte) int {
	n := len(data)
	if int64(n) > p.remaining {
		n = int(p.remaining)
	}
	p.msg.Body = append(p.msg.Body, data[:n]...)
	p.remaining -= int64(n)
	return n
}

func (p *Parser) finish() {
	p.state = stateDone
	p.msg.complete = true
}

func malformed(line string) error {
	return errors.NewProtocolError(errors.ProtocolErrorMalformedStartLine, strconv.Quote(line))
}

func parseVersion(s string) (string, bool) {
	v, ok := strings.CutPrefix(s, "HTTP/")
	if !ok {
		return "", false
	}
	major, minor, ok := strings.Cut(v, ".")
	if !ok || !isDigits(major) || !isDigits(minor) {
		return "", false
	}
	return v, true
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func isToken(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c <= ' ' || c >= 0x7f || strings.IndexByte(`"(),/:;<=>?@[\]{}`, c) >= 0 {
			return false
		}
	}
	return true
}

// parseRequestLine reads "METHOD SP target SP HTTP/x.y".
func (p *Parser) parseRequestLine(line string) error {
	parts := strings.Split(line, " ")
	if len(parts) != 3 || !isToken(parts[0]) || parts[1] == "" {
		return malformed(line)
	}
	version, ok := parseVersion(parts[2])
	if !ok {
		return malformed(line)
	}
	u, err := ParseURL(parts[1])
	if err != nil {
		return malformed(line)
	}
	p.req.Method, p.req.URL, p.req.Version = parts[0], u, version
	return nil
}

// parseStatusLine reads "HTTP/x.y SP code [SP reason]".
func (p *Parser) parseStatusLine(line string) error {
	parts := strings.SplitN(line, " ", 3)
	if len(parts) < 2 || len(parts[1]) != 3 || !isDigits(parts[1]) {
		return malformed(line)
	}
	version, ok := parseVersion(parts[0])
	if !ok {
		return malformed(line)
	}
	code, _ := strconv.Atoi(parts[1])
	if !ValidStatusCode(code) {
		return malformed(line)
	}
	p.resp.Version, p.resp.statusCode = version, code
	if len(parts) == 3 && parts[2] != "" {
		p.resp.Reason = parts[2]
	} else {
		p.resp.Reason = StatusText(code)
	}
	return nil
}

func (p *Parser) headerLine(line []byte) error {
	if len(line) == 0 {
		p.commitHeader()
		return p.endHeaders()
	}
	if line[0] == ' ' || line[0] == '\t' {
		if !p.hasPending {
			return errors.NewProtocolError(errors.ProtocolErrorInvalidHeader, "continuation line without a header")
		}
		cont := strings.TrimSpace(string(line))
		switch {
		case cont == "":
		case p.pendingValue == "":
			p.pendingValue = cont
		default:
			p.pendingValue += " " + cont
		}
		return nil
	}

	p.commitHeader()
	i := bytes.IndexByte(line, ':')
	if i <= 0 {
		return errors.NewProtocolError(errors.ProtocolErrorInvalidHeader, strconv.Quote(string(line)))
	}
	name := string(line[:i])
	if strings.ContainsAny(name, " \t") {
		return errors.NewProtocolError(errors.ProtocolErrorInvalidHeader, "whitespace in header name "+strconv.Quote(name))
	}
	p.pendingName = name
	p.pendingValue = strings.TrimSpace(string(line[i+1:]))
	p.hasPending = true
	return nil
}

func (p *Parser) commitHeader() {
	if !p.hasPending {
		return
	}
	name, value := p.pendingName, p.pendingValue
	p.pendingName, p.pendingValue, p.hasPending = "", "", false

	switch {
	case p.req != nil && strings.EqualFold(name, HeaderCookie):
		parseCookieHeader(p.msg.Cookies.Entry("", ""), value)
	case p.resp != nil && strings.EqualFold(name, HeaderSetCookie):
		p.msg.Cookies.mergeSetCookie(value)
	default:
		p.msg.Headers.Add(name, value)
	}
}

func (p *Parser) endHeaders() error {
	if p.req != nil && p.req.URL.Host == "" {
		if host, ok := p.req.Headers.Get(HeaderHost); ok {
			p.req.URL.Host, p.req.URL.Port = splitHost(host)
		}
	}

	if p.skipBody || (p.resp != nil && Bodyless(p.resp.statusCode)) {
		p.finish()
		return nil
	}
	if p.msg.IsChunked() {
		p.state = stateChunkSize
		return nil
	}

	values := p.msg.Headers.Values(HeaderContentLength)
	if len(values) == 0 && p.resp != nil && p.ReadUntilClose {
		p.state = stateBodyUntilClose
		return nil
	}
	length, err := contentLength(values)
	if err != nil {
		return err
	}
	if length <= 0 {
		p.finish()
		return nil
	}
	if err := p.checkBodySize(length); err != nil {
		return err
	}
	if length <= DefaultMaxHeaderBytes {
		p.msg.Body = make([]byte, 0, length)
	}
	p.remaining, p.state = length, stateBody
	return nil
}

func splitHost(host string) (string, int) {
	if h, port, ok := splitHostPort(host); ok {
		return h, port
	}
	return host, -1
}

// contentLength validates every Content-Length value; they must be numeric
// and agree. It returns -1 when there is none.
func contentLength(values []string) (int64, error) {
	length := int64(-1)
	for _, v := range values {
		for _, item := range strings.Split(v, ",") {
			item = strings.TrimSpace(item)
			if !isDigits(item) {
				return 0, errors.NewProtocolError(errors.ProtocolErrorInvalidHeader, "invalid Content-Length "+strconv.Quote(v))
			}
			n, err := strconv.ParseInt(item, 10, 64)
			if err != nil {
				return 0, errors.NewProtocolError(errors.ProtocolErrorInvalidHeader, "invalid Content-Length "+strconv.Quote(v))
			}
			if length >= 0 && n != length {
				return 0, errors.NewProtocolError(errors.ProtocolErrorInvalidHeader, "conflicting Content-Length values")
			}
			length = n
		}
	}
	return length, nil
}

// parseChunkSize reads "hex-size [; extensions]".
func parseChunkSize(line []byte) (int64, error) {
	if i := bytes.IndexByte(line, ';'); i >= 0 {
		line = line[:i]
	}
	s := strings.TrimSpace(string(line))
	size, err := strconv.ParseInt(s, 16, 64)
	if err != nil || size < 0 || s[0] == '+' {
		return 0, errors.NewProtocolError(errors.ProtocolErrorInvalidChunkedEncoding, "invalid chunk size "+strconv.Quote(s))
	}
	return size, nil
}
