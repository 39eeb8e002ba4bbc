package server

import (
	"context"
	"crypto/tls"
	stderrors "errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/Jennifer-Brigman/stormhttp/router"
)

const DefaultReadBufferSize = 16 << 10

// Config holds the connection driver settings. The zero value is usable.
type Config struct {
	Addr string
	// TLSConfig enables TLS on accepted connections when set.
	TLSConfig *tls.Config
	// ReadBufferSize is the size of the per-connection read buffer.
	ReadBufferSize int
	// MaxHeaderBytes and MaxBodyBytes bound each request; see
	// protocol.Parser.
	MaxHeaderBytes int
	MaxBodyBytes   int
	// IdleTimeout closes a connection that sends nothing for this long.
	// Zero disables it.
	IdleTimeout time.Duration
	Logger      *zerolog.Logger
}

func (c Config) withDefaults() Config {
	if c.Addr == "" {
		c.Addr = ":8080"
	}
	if c.ReadBufferSize <= 0 {
		c.ReadBufferSize = DefaultReadBufferSize
	}
	if c.Logger == nil {
		nop := zerolog.Nop()
		c.Logger = &nop
	}
	return c
}

// Server accepts connections and serves each from its own goroutine.
type Server struct {
	cfg    Config
	router *router.Router
	nextID atomic.Uint64

	mu    sync.Mutex
	conns map[net.Conn]struct{}
	wg    sync.WaitGroup
}

func New(r *router.Router, cfg Config) *Server {
	return &Server{
		cfg:    cfg.withDefaults(),
		router: r,
		conns:  make(map[net.Conn]struct{}),
	}
}

// ListenAndServe listens on the configured address and serves until ctx is
// cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled, then closes the
// listener and every open connection and waits for their goroutines.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	if s.cfg.TLSConfig != nil {
		ln = tls.NewListener(ln, s.cfg.TLSConfig)
	}
	s.cfg.Logger.Info().Str("addr", ln.Addr().String()).Bool("tls", s.cfg.TLSConfig != nil).Msg("server listening")

	stop := context.AfterFunc(ctx, func() {
		ln.Close()
		s.closeConns()
	})
	defer stop()

	for {
		nc, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				s.wg.Wait()
				s.cfg.Logger.Info().Msg("server stopped")
				return nil
			}
			return err
		}
		if !s.track(nc) {
			nc.Close()
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.untrack(nc)
			s.serveConn(ctx, nc)
		}()
	}
}

func (s *Server) track(nc net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conns == nil {
		return false
	}
	s.conns[nc] = struct{}{}
	return true
}

func (s *Server) untrack(nc net.Conn) {
	s.mu.Lock()
	if s.conns != nil {
		delete(s.conns, nc)
	}
	s.mu.Unlock()
	nc.Close()
}

func (s *Server) closeConns() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for nc := range s.conns {
		nc.Close()
	}
	s.conns = nil
}

func (s *Server) serveConn(ctx context.Context, nc net.Conn) {
	conn := NewConn(s.nextID.Add(1), s.router, s.cfg)
	log := conn.logger.With().Str("remote", nc.RemoteAddr().String()).Logger()
	log.Debug().Msg("connection opened")

	buf := make([]byte, s.cfg.ReadBufferSize)
	for {
		if s.cfg.IdleTimeout > 0 {
			_ = nc.SetReadDeadline(time.Now().Add(s.cfg.IdleTimeout))
		}
		n, err := nc.Read(buf)
		if n > 0 {
			out, closeConn, perr := conn.OnBytesReceived(ctx, buf[:n])
			if len(out) > 0 {
				if _, werr := nc.Write(out); werr != nil {
					log.Debug().Err(werr).Msg("write failed")
					return
				}
			}
			if perr != nil {
				log.Debug().Err(perr).Msg("malformed request")
			}
			if closeConn {
				log.Debug().Msg("connection closed by request")
				return
			}
		}
		if err != nil {
			if stderrors.Is(err, io.EOF) || stderrors.Is(err, net.ErrClosed) {
				log.Debug().Msg("connection closed")
			} else {
				log.Debug().Err(err).Bool("pending", conn.Pending()).Msg("connection read failed")
			}
			return
		}
	}
}
