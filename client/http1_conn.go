package client

import (
	"github.com/Jennifer-Brigman/stormhttp/errors"
	"github.com/Jennifer-Brigman/stormhttp/protocol"
	"github.com/Jennifer-Brigman/stormhttp/transport"
)

// http1Conn runs HTTP/1.x exchanges over one transport. It is used by one
// request at a time.
type http1Conn struct {
	key       string
	transport transport.Transport
	parser    *protocol.Parser
	buffer    []byte
	out       []byte

	// reusable is cleared when the peer closed the connection or sent
	// bytes past the end of the response.
	reusable bool
}

func newHttp1Conn(key string, t transport.Transport, cfg Config) *http1Conn {
	parser := protocol.NewResponseParser(&protocol.Response{})
	parser.ReadUntilClose = true
	parser.MaxHeaderBytes = cfg.MaxHeaderBytes
	parser.MaxBodyBytes = cfg.MaxBodyBytes
	return &http1Conn{
		key:       key,
		transport: t,
		parser:    parser,
		buffer:    make([]byte, cfg.ReadBufferSize),
		reusable:  true,
	}
}

// startResponse retargets the parser at a fresh response.
func (c *http1Conn) startResponse(head bool) *protocol.Response {
	resp := &protocol.Response{}
	c.parser.SetResponse(resp)
	if head {
		c.parser.SkipBody()
	}
	return resp
}

// roundTrip writes req and reads its response. Interim 1xx responses other
// than 101 are skipped. head means the response has no body whatever its
// headers say.
func (c *http1Conn) roundTrip(req *protocol.Request, head bool) (*protocol.Response, error) {
	c.out = req.AppendTo(c.out[:0])
	if _, err := c.transport.Write(c.out); err != nil {
		c.reusable = false
		return nil, err
	}

	resp := c.startResponse(head)
	for {
		n, err := c.transport.Read(c.buffer)
		data := c.buffer[:n]
		for len(data) > 0 {
			used, perr := c.parser.Feed(data)
			if perr != nil {
				c.reusable = false
				return nil, perr
			}
			data = data[used:]
			if !resp.IsComplete() {
				break
			}
			if interim(resp) {
				resp = c.startResponse(head)
				continue
			}
			if len(data) > 0 {
				c.reusable = false
			}
			return resp, nil
		}

		if err != nil {
			c.reusable = false
			if !errors.IsTransport(err, errors.TransportErrorConnectionClosed) {
				return nil, err
			}
			if cerr := c.parser.Close(); cerr != nil {
				return nil, cerr
			}
			if resp.IsComplete() {
				return resp, nil
			}
			return nil, errors.NewProtocolError(errors.ProtocolErrorIncompleteMessage,
				"connection closed before the response started")
		}
	}
}

// started reports whether any byte of the current response arrived.
func (c *http1Conn) started() bool { return c.parser.Started() }

func (c *http1Conn) close() error { return c.transport.Close() }

func interim(resp *protocol.Response) bool {
	code := resp.StatusCode()
	return code >= 100 && code < 200 && code != 101
}
