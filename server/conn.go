// Package server drives HTTP/1.x connections: it feeds received bytes to
// a per-connection parser, routes each completed request and serializes the
// responses.
package server

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/Jennifer-Brigman/stormhttp/errors"
	"github.com/Jennifer-Brigman/stormhttp/protocol"
	"github.com/Jennifer-Brigman/stormhttp/router"
)

// Conn holds the parse state of one server connection. It is owned by the
// goroutine or event loop serving that connection.
type Conn struct {
	ID uint64

	router *router.Router
	parser *protocol.Parser
	req    *protocol.Request
	out    []byte
	logger zerolog.Logger
}

// NewConn returns the state for connection id.
func NewConn(id uint64, r *router.Router, cfg Config) *Conn {
	cfg = cfg.withDefaults()
	c := &Conn{
		ID:     id,
		router: r,
		req:    &protocol.Request{},
		logger: cfg.Logger.With().Uint64("conn", id).Logger(),
	}
	c.parser = protocol.NewRequestParser(c.req)
	c.parser.MaxHeaderBytes = cfg.MaxHeaderBytes
	c.parser.MaxBodyBytes = cfg.MaxBodyBytes
	return c
}

// OnBytesReceived feeds data to the parser. Every request completed by it
// is routed and its response appended to out, so pipelined requests are
// answered in order. closeConn reports that the connection must be closed
// once out is written: the client asked for it, or the input was malformed,
// in which case err describes the problem and out ends with an error
// response. out is reused by the next call.
func (c *Conn) OnBytesReceived(ctx context.Context, data []byte) (out []byte, closeConn bool, err error) {
	out = c.out[:0]
	for len(data) > 0 {
		n, err := c.parser.Feed(data)
		data = data[n:]
		if err != nil {
			out = rejection(err).AppendTo(out)
			c.out = out
			return out, true, err
		}
		if !c.req.IsComplete() {
			break
		}

		resp := c.router.RouteRequest(ctx, c.req)
		keepAlive := c.req.KeepAlive()
		if !keepAlive {
			resp.Headers.Set(protocol.HeaderConnection, "close")
		} else if c.req.Version == "1.0" {
			resp.Headers.Set(protocol.HeaderConnection, "keep-alive")
		}
		c.logger.Debug().Str("method", c.req.Method).Str("path", c.req.URL.Path).
			Int("status", resp.StatusCode()).Msg("request served")
		out = resp.AppendTo(out)
		if !keepAlive {
			c.out = out
			return out, true, nil
		}

		// handlers may keep the request, so every message gets a new one
		c.req = &protocol.Request{}
		c.parser.SetRequest(c.req)
	}
	c.out = out
	return out, false, nil
}

// Pending reports whether part of a request has been received.
func (c *Conn) Pending() bool { return c.parser.Started() }

func rejection(err error) *protocol.Response {
	resp := protocol.TextResponse(400, "Bad Request")
	if errors.IsProtocol(err, errors.ProtocolErrorMessageTooLarge) {
		resp = protocol.TextResponse(413, "Request Entity Too Large")
	}
	resp.Headers.Set(protocol.HeaderConnection, "close")
	resp.Headers.SetInt(protocol.HeaderContentLength, len(resp.Body))
	return resp
}
