// Package router dispatches parsed requests to handlers through a path
// trie, and applies the response post-processing every routed request
// gets: middleware hooks, content-encoding negotiation and default headers.
package router

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Jennifer-Brigman/stormhttp/coding"
	"github.com/Jennifer-Brigman/stormhttp/protocol"
)

const (
	DefaultMinCompressionLength = 1400
	DefaultServerHeader         = "stormhttp"
)

// Config holds the router settings. The zero value is usable.
type Config struct {
	// MinCompressionLength is the body size a response must exceed before
	// its content coding is negotiated. Zero means
	// DefaultMinCompressionLength; a negative value disables compression.
	MinCompressionLength int
	// ServerHeader is the default Server header value. Zero means
	// DefaultServerHeader; "-" omits the header.
	ServerHeader string
	Logger       *zerolog.Logger
}

func (c Config) withDefaults() Config {
	if c.MinCompressionLength == 0 {
		c.MinCompressionLength = DefaultMinCompressionLength
	}
	if c.ServerHeader == "" {
		c.ServerHeader = DefaultServerHeader
	}
	if c.Logger == nil {
		nop := zerolog.Nop()
		c.Logger = &nop
	}
	return c
}

// Router owns a routing trie and the middleware chain.
type Router struct {
	cfg  Config
	trie Trie

	mu         sync.RWMutex
	middleware []Middleware
}

func New(cfg Config) *Router {
	return &Router{cfg: cfg.withDefaults()}
}

// AddRoute registers handler for method at path.
func (r *Router) AddRoute(path string, method string, handler Handler) error {
	if err := r.trie.Add(path, strings.ToUpper(method), handler); err != nil {
		return err
	}
	r.cfg.Logger.Debug().Str("method", method).Str("path", path).Msg("route added")
	return nil
}

// HandleFunc registers a function handler for method at path.
func (r *Router) HandleFunc(path string, method string, fn func(ctx context.Context, req *protocol.Request) (*protocol.Response, error)) error {
	return r.AddRoute(path, method, HandlerFunc(fn))
}

// Use appends m to the middleware chain.
func (r *Router) Use(m Middleware) {
	r.mu.Lock()
	r.middleware = append(r.middleware, m)
	r.mu.Unlock()
}

// Dispatch looks the request up and calls its handler, without middleware
// or post-processing. Unknown paths get a 404 and unregistered methods a
// 405 carrying Allow. A HEAD request without its own handler runs the GET
// handler; the body is then dropped and its length kept in Content-Length.
func (r *Router) Dispatch(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
	resp, implicitHead, err := r.dispatch(ctx, req)
	if err != nil {
		return nil, err
	}
	if implicitHead {
		if !resp.Headers.Has(protocol.HeaderContentLength) {
			resp.Headers.SetInt(protocol.HeaderContentLength, len(resp.Body))
		}
		resp.Body = nil
	}
	return resp, nil
}

func (r *Router) dispatch(ctx context.Context, req *protocol.Request) (resp *protocol.Response, implicitHead bool, err error) {
	match, ok := r.trie.Lookup(req.URL.Path)
	if !ok {
		return protocol.TextResponse(404, "Not Found"), false, nil
	}
	if req.URL.MatchInfo == nil {
		req.URL.MatchInfo = make(map[string]string, len(match.Params))
	}
	for name, value := range match.Params {
		req.URL.MatchInfo[name] = value
	}

	h, ok := match.Handlers[req.Method]
	if !ok && req.Method == "HEAD" {
		if h, ok = match.Handlers["GET"]; ok {
			implicitHead = true
		}
	}
	if !ok {
		resp = protocol.TextResponse(405, "Method Not Allowed")
		resp.Headers.Set(protocol.HeaderAllow, strings.Join(allowed(match), ", "))
		return resp, false, nil
	}

	if implicitHead {
		req.Method = "GET"
		defer func() { req.Method = "HEAD" }()
	}
	resp, err = h.Handle(ctx, req)
	if err == nil && resp == nil {
		err = fmt.Errorf("handler for %s %s returned no response", req.Method, req.URL.Path)
	}
	return resp, implicitHead, err
}

func allowed(m Match) []string {
	methods := m.Methods()
	if _, get := m.Handlers["GET"]; get {
		if _, head := m.Handlers["HEAD"]; !head {
			methods = append(methods, "HEAD")
		}
	}
	return methods
}

func internalError() *protocol.Response {
	return protocol.TextResponse(500, "Internal Server Error")
}

// RouteRequest is the full routing entry point: middleware, handler and
// response post-processing. It always returns a response; handler errors
// and panics become a 500.
func (r *Router) RouteRequest(ctx context.Context, req *protocol.Request) *protocol.Response {
	r.mu.RLock()
	chain := r.middleware
	r.mu.RUnlock()

	var (
		resp *protocol.Response
		ran  []Middleware
	)
	for _, m := range chain {
		if !applies(m, req) {
			continue
		}
		ran = append(ran, m)
		early, err := r.safeBefore(ctx, m, req)
		if err != nil {
			r.logFailure(req, err, "middleware failed")
			resp = internalError()
			break
		}
		if early != nil {
			resp = early
			break
		}
	}

	if resp == nil {
		var err error
		resp, err = r.safeDispatch(ctx, req)
		if err != nil {
			r.logFailure(req, err, "handler failed")
			resp = internalError()
		}
	}

	for i := len(ran) - 1; i >= 0; i-- {
		if err := r.safeAfter(ctx, ran[i], req, resp); err != nil {
			r.logFailure(req, err, "middleware failed")
			resp = internalError()
		}
	}

	r.finish(req, resp)
	return resp
}

func (r *Router) safeDispatch(ctx context.Context, req *protocol.Request) (resp *protocol.Response, err error) {
	defer func() {
		if v := recover(); v != nil {
			resp, err = nil, fmt.Errorf("panic: %v", v)
		}
	}()
	resp, _, err = r.dispatch(ctx, req)
	return resp, err
}

func (r *Router) safeBefore(ctx context.Context, m Middleware, req *protocol.Request) (resp *protocol.Response, err error) {
	defer func() {
		if v := recover(); v != nil {
			resp, err = nil, fmt.Errorf("panic: %v", v)
		}
	}()
	return m.Before(ctx, req)
}

func (r *Router) safeAfter(ctx context.Context, m Middleware, req *protocol.Request, resp *protocol.Response) (err error) {
	defer func() {
		if v := recover(); v != nil {
			err = fmt.Errorf("panic: %v", v)
		}
	}()
	m.After(ctx, req, resp)
	return nil
}

func (r *Router) logFailure(req *protocol.Request, err error, msg string) {
	r.cfg.Logger.Error().Err(err).Str("method", req.Method).Str("path", req.URL.Path).Msg(msg)
}

// finish applies the post-processing every routed response gets.
func (r *Router) finish(req *protocol.Request, resp *protocol.Response) {
	resp.Version = req.Version
	r.negotiate(req, resp)

	code := resp.StatusCode()
	if !protocol.Bodyless(code) && !resp.IsChunked() && !resp.Headers.Has(protocol.HeaderContentLength) {
		resp.Headers.SetInt(protocol.HeaderContentLength, len(resp.Body))
	}
	if !resp.Headers.Has(protocol.HeaderDate) {
		resp.Headers.Set(protocol.HeaderDate, time.Now().UTC().Format(protocol.TimeFormat))
	}
	if r.cfg.ServerHeader != "-" && !resp.Headers.Has(protocol.HeaderServer) {
		resp.Headers.Set(protocol.HeaderServer, r.cfg.ServerHeader)
	}
	if req.Method == "HEAD" || protocol.Bodyless(code) {
		resp.Body = nil
	}
}

// negotiate picks the client's most preferred coding this package supports.
// Codings with q=0 are never picked.
func (r *Router) negotiate(req *protocol.Request, resp *protocol.Response) {
	if r.cfg.MinCompressionLength < 0 || len(resp.Body) <= r.cfg.MinCompressionLength {
		return
	}
	if resp.Headers.Has(protocol.HeaderContentEncoding) || !req.Headers.Has(protocol.HeaderAcceptEncoding) {
		return
	}
	for _, qv := range req.Headers.QList(protocol.HeaderAcceptEncoding) {
		if qv.Q <= 0 {
			continue
		}
		name := strings.ToLower(qv.Value)
		if name == "*" {
			name = coding.Gzip
		}
		if !coding.Supported(name) {
			continue
		}
		if err := resp.SetEncoding(name); err != nil {
			r.cfg.Logger.Warn().Err(err).Str("encoding", name).Msg("compression failed")
			return
		}
		if name != coding.Identity {
			resp.Headers.Add("Vary", protocol.HeaderAcceptEncoding)
		}
		return
	}
}
