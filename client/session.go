// Package client issues HTTP/1.x requests over pooled transports, following
// redirects and keeping cookies in a jar.
package client

import (
	"context"
	"crypto/tls"
	"net"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/Jennifer-Brigman/stormhttp/cookiejar"
	"github.com/Jennifer-Brigman/stormhttp/errors"
	"github.com/Jennifer-Brigman/stormhttp/protocol"
	"github.com/Jennifer-Brigman/stormhttp/transport"
)

const (
	DefaultMaxRedirects   = 10
	DefaultReadBufferSize = 64 << 10
	DefaultMaxConns       = 64

	// maxIdlePerHost bounds the idle connections kept for one origin.
	maxIdlePerHost = 4
)

// Config configures a Session. The zero value is usable.
type Config struct {
	// Version is the HTTP version sent in request lines, "1.1" by default.
	Version string
	// Headers are sent with every request. Headers passed to Send replace
	// them name by name.
	Headers protocol.Headers
	// MaxRedirects bounds how many redirects one Send follows. Zero means
	// DefaultMaxRedirects; a negative value returns redirects to the caller
	// unfollowed.
	MaxRedirects int
	// ReadBufferSize is the number of bytes read from a connection at once.
	ReadBufferSize int
	// MaxConns bounds the requests in flight at once.
	MaxConns int64
	// Transport selects the transport for http URLs. https URLs always use
	// TLS.
	Transport transport.Kind
	// UnixSocket is the socket path dialled for every request when
	// Transport is transport.KindUnix.
	UnixSocket string
	TLSConfig  *tls.Config
	// Jar stores response cookies and supplies request cookies. Nil
	// disables cookie handling.
	Jar *cookiejar.Jar

	MaxHeaderBytes int
	MaxBodyBytes   int
	Logger         *zerolog.Logger
}

func (c Config) withDefaults() Config {
	if c.Version == "" {
		c.Version = protocol.DefaultVersion
	}
	if c.MaxRedirects == 0 {
		c.MaxRedirects = DefaultMaxRedirects
	}
	if c.ReadBufferSize <= 0 {
		c.ReadBufferSize = DefaultReadBufferSize
	}
	if c.MaxConns <= 0 {
		c.MaxConns = DefaultMaxConns
	}
	if c.Transport == "" {
		c.Transport = transport.KindTCP
	}
	if c.Logger == nil {
		nop := zerolog.Nop()
		c.Logger = &nop
	}
	return c
}

// Session sends requests and keeps idle connections for reuse. It is safe
// for concurrent use.
type Session struct {
	cfg   Config
	slots *semaphore.Weighted

	mu     sync.Mutex
	idle   map[string][]*http1Conn
	closed bool
}

func New(cfg Config) *Session {
	cfg = cfg.withDefaults()
	return &Session{
		cfg:   cfg,
		slots: semaphore.NewWeighted(cfg.MaxConns),
		idle:  make(map[string][]*http1Conn),
	}
}

// Get sends a GET request.
func (s *Session) Get(ctx context.Context, rawURL string, headers *protocol.Headers) (*protocol.Response, error) {
	return s.Send(ctx, "GET", rawURL, headers, nil)
}

// Post sends a POST request carrying body.
func (s *Session) Post(ctx context.Context, rawURL string, headers *protocol.Headers, body []byte) (*protocol.Response, error) {
	return s.Send(ctx, "POST", rawURL, headers, body)
}

// Send issues a request to the absolute http or https URL rawURL and
// returns the complete response. Redirects (301, 302, 307 and 308) are
// followed with the same method and body; when the redirect limit is
// reached or a redirect has no usable Location, Send returns a synthesized
// 500 response instead of an error. Errors are transport and protocol
// failures, and the context's error when ctx ends first.
func (s *Session) Send(ctx context.Context, method string, rawURL string, headers *protocol.Headers, body []byte) (*protocol.Response, error) {
	u, err := protocol.ParseURL(rawURL)
	if err != nil {
		return nil, err
	}
	method = strings.ToUpper(method)

	for redirects := 0; ; redirects++ {
		resp, err := s.roundTrip(ctx, method, u, headers, body)
		if err != nil {
			return nil, err
		}
		if s.cfg.MaxRedirects < 0 || !resp.IsRedirect() {
			return resp, nil
		}

		log := s.cfg.Logger.Debug().Str("from", u.Raw).Int("status", resp.StatusCode())
		if redirects >= s.cfg.MaxRedirects {
			log.Err(errors.NewProtocolError(errors.ProtocolErrorRedirectExhausted,
				"stopped after "+strconv.Itoa(redirects)+" redirects")).Msg("redirect limit reached")
			return s.failedRedirect(), nil
		}
		next, ok := location(u, resp)
		if !ok {
			log.Msg("redirect without a usable location")
			return s.failedRedirect(), nil
		}
		log.Str("to", next.Raw).Msg("following redirect")
		u = next
	}
}

// failedRedirect is the response returned when a redirect cannot be
// followed.
func (s *Session) failedRedirect() *protocol.Response {
	resp := protocol.MustResponse(500)
	resp.Version = s.cfg.Version
	return resp
}

// location resolves the target of a redirect against the URL that
// produced it.
func location(from *protocol.URL, resp *protocol.Response) (*protocol.URL, bool) {
	loc, ok := resp.Headers.Get(protocol.HeaderLocation)
	if !ok {
		loc, ok = resp.Headers.Get(protocol.HeaderURI)
	}
	if !ok || strings.TrimSpace(loc) == "" {
		return nil, false
	}
	ref, err := url.Parse(strings.TrimSpace(loc))
	if err != nil {
		return nil, false
	}
	base := &url.URL{
		Scheme:   from.Scheme,
		Host:     authority(from),
		Path:     from.Path,
		RawPath:  from.RawPath,
		RawQuery: from.RawQuery,
	}
	next, err := protocol.ParseURL(base.ResolveReference(ref).String())
	if err != nil || (next.Scheme != "http" && next.Scheme != "https") {
		return nil, false
	}
	return next, true
}

// authority returns host[:port] with the port only when it is not the
// scheme's default.
func authority(u *protocol.URL) string {
	host := u.Host
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	if u.Port < 0 || u.Port == defaultPort(u.Scheme) {
		return host
	}
	return host + ":" + strconv.Itoa(u.Port)
}

func defaultPort(scheme string) int {
	if scheme == "https" {
		return 443
	}
	return 80
}

func (s *Session) roundTrip(ctx context.Context, method string, u *protocol.URL, headers *protocol.Headers, body []byte) (*protocol.Response, error) {
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, errors.NewInvalidArgumentError("unsupported URL " + strconv.Quote(u.Raw))
	}
	if err := s.slots.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer s.slots.Release(1)

	req := s.buildRequest(method, u, headers, body)
	head := method == "HEAD"

	for attempt := 0; ; attempt++ {
		c, reused, err := s.conn(ctx, u)
		if err != nil {
			return nil, err
		}

		stop := context.AfterFunc(ctx, func() { c.close() })
		resp, err := c.roundTrip(req, head)
		if !stop() {
			c.close()
			return nil, errors.NewTransportError(errors.TransportErrorTimeout, "request abandoned", ctx.Err())
		}
		if err != nil {
			c.close()
			// an idle connection the server closed meanwhile is retried once
			if reused && attempt == 0 && !c.started() {
				s.cfg.Logger.Debug().Str("origin", c.key).Msg("stale connection, redialling")
				continue
			}
			return nil, err
		}

		if s.cfg.Jar != nil && resp.Cookies.Len() > 0 {
			s.cfg.Jar.Update(u, &resp.Cookies)
		}
		if c.reusable && req.KeepAlive() && resp.KeepAlive() {
			s.putIdle(c)
		} else {
			c.close()
		}
		return resp, nil
	}
}

func (s *Session) buildRequest(method string, u *protocol.URL, headers *protocol.Headers, body []byte) *protocol.Request {
	req := &protocol.Request{
		Message: protocol.Message{Version: s.cfg.Version, Body: body},
		Method:  method,
		URL:     u,
	}
	req.Headers.Set(protocol.HeaderHost, authority(u))
	s.cfg.Headers.Each(func(name string, values []string) {
		req.Headers.Set(name, values...)
	})
	if headers != nil {
		headers.Each(func(name string, values []string) {
			req.Headers.Set(name, values...)
		})
	}
	if !req.IsChunked() && !req.Headers.Has(protocol.HeaderContentLength) &&
		(len(body) > 0 || method == "POST" || method == "PUT" || method == "PATCH") {
		req.Headers.SetInt(protocol.HeaderContentLength, len(body))
	}
	if s.cfg.Jar != nil {
		for _, c := range s.cfg.Jar.CookiesFor(u) {
			req.Cookies.Add(c)
		}
	}
	return req
}

// originKey identifies the connections that can serve u.
func (s *Session) originKey(u *protocol.URL) string {
	if u.Scheme == "http" && s.cfg.Transport == transport.KindUnix {
		return "unix:" + s.cfg.UnixSocket
	}
	return u.Scheme + "://" + net.JoinHostPort(u.Host, strconv.Itoa(u.EffectivePort()))
}

// conn returns an idle connection for u's origin or dials a new one.
func (s *Session) conn(ctx context.Context, u *protocol.URL) (*http1Conn, bool, error) {
	key := s.originKey(u)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, false, errors.NewTransportError(errors.TransportErrorConnectionClosed, "session closed", nil)
	}
	if idle := s.idle[key]; len(idle) > 0 {
		c := idle[len(idle)-1]
		s.idle[key] = idle[:len(idle)-1]
		s.mu.Unlock()
		c.reusable = true
		s.cfg.Logger.Debug().Str("origin", key).Msg("reusing connection")
		return c, true, nil
	}
	s.mu.Unlock()

	kind, host := s.cfg.Transport, u.Host
	switch {
	case u.Scheme == "https":
		kind = transport.KindTLS
	case kind == transport.KindUnix:
		host = s.cfg.UnixSocket
	}
	t, err := transport.New(kind, s.cfg.TLSConfig)
	if err != nil {
		return nil, false, err
	}
	if err := t.Connect(ctx, host, u.EffectivePort()); err != nil {
		t.Close()
		s.cfg.Logger.Debug().Err(err).Str("origin", key).Msg("dial failed")
		return nil, false, err
	}
	s.cfg.Logger.Debug().Str("origin", key).Str("transport", string(kind)).Msg("connection opened")
	return newHttp1Conn(key, t, s.cfg), false, nil
}

func (s *Session) putIdle(c *http1Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || len(s.idle[c.key]) >= maxIdlePerHost {
		c.close()
		return
	}
	s.idle[c.key] = append(s.idle[c.key], c)
}

// Close closes the idle connections. Requests sent afterwards fail.
func (s *Session) Close() error {
	s.mu.Lock()
	idle := s.idle
	s.idle = make(map[string][]*http1Conn)
	s.closed = true
	s.mu.Unlock()

	for _, conns := range idle {
		for _, c := range conns {
			c.close()
		}
	}
	return nil
}
