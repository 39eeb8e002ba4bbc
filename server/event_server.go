package server

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/panjf2000/gnet/v2"

	"github.com/Jennifer-Brigman/stormhttp/router"
)

// EventServer serves connections from gnet event loops instead of one
// goroutine per connection. Handlers run on the event loop, so a slow
// handler delays the other connections of its loop. TLSConfig and
// IdleTimeout are not supported.
type EventServer struct {
	gnet.BuiltinEventEngine

	cfg       Config
	router    *router.Router
	multicore bool
	nextID    atomic.Uint64

	ctx    context.Context
	engine gnet.Engine
	booted chan struct{}
	failed chan struct{}
}

// NewEventServer returns an event-loop server. multicore runs one event
// loop per CPU.
func NewEventServer(r *router.Router, cfg Config, multicore bool) *EventServer {
	return &EventServer{
		cfg:       cfg.withDefaults(),
		router:    r,
		multicore: multicore,
		booted:    make(chan struct{}),
		failed:    make(chan struct{}),
	}
}

// Run serves until ctx is cancelled.
func (s *EventServer) Run(ctx context.Context) error {
	s.ctx = ctx
	go func() {
		select {
		case <-ctx.Done():
		case <-s.failed:
			return
		}
		// a cancel that lands before OnBoot still has to stop the engine
		select {
		case <-s.booted:
		case <-s.failed:
			return
		}
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.engine.Stop(stopCtx); err != nil {
			s.cfg.Logger.Warn().Err(err).Msg("stopping event loops failed")
		}
	}()

	options := []gnet.Option{
		gnet.WithMulticore(s.multicore),
		gnet.WithTCPNoDelay(gnet.TCPNoDelay),
		gnet.WithReadBufferCap(s.cfg.ReadBufferSize),
	}
	err := gnet.Run(s, "tcp://"+s.cfg.Addr, options...)
	select {
	case <-s.booted:
	default:
		close(s.failed)
	}
	return err
}

// Ready is closed once the event loops accept connections.
func (s *EventServer) Ready() <-chan struct{} { return s.booted }

func (s *EventServer) OnBoot(eng gnet.Engine) gnet.Action {
	s.engine = eng
	s.cfg.Logger.Info().Str("addr", s.cfg.Addr).Bool("multicore", s.multicore).Msg("event server listening")
	close(s.booted)
	return gnet.None
}

func (s *EventServer) OnShutdown(gnet.Engine) {
	s.cfg.Logger.Info().Msg("event server stopped")
}

func (s *EventServer) OnOpen(c gnet.Conn) ([]byte, gnet.Action) {
	conn := NewConn(s.nextID.Add(1), s.router, s.cfg)
	c.SetContext(conn)
	conn.logger.Debug().Str("remote", c.RemoteAddr().String()).Msg("connection opened")
	return nil, gnet.None
}

func (s *EventServer) OnClose(c gnet.Conn, err error) gnet.Action {
	if conn, ok := c.Context().(*Conn); ok {
		conn.logger.Debug().Err(err).Msg("connection closed")
	}
	return gnet.None
}

func (s *EventServer) OnTraffic(c gnet.Conn) gnet.Action {
	conn, ok := c.Context().(*Conn)
	if !ok {
		return gnet.Close
	}
	data, err := c.Next(-1)
	if err != nil {
		conn.logger.Debug().Err(err).Msg("read failed")
		return gnet.Close
	}

	out, closeConn, perr := conn.OnBytesReceived(s.ctx, data)
	if len(out) > 0 {
		if _, err := c.Write(out); err != nil {
			conn.logger.Debug().Err(err).Msg("write failed")
			return gnet.Close
		}
	}
	if perr != nil {
		conn.logger.Debug().Err(perr).Msg("malformed request")
	}
	if closeConn {
		return gnet.Close
	}
	return gnet.None
}
