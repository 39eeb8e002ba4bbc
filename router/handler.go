package router

import (
	"context"

	"github.com/Jennifer-Brigman/stormhttp/protocol"
)

// Handler produces the response for one request.
type Handler interface {
	Handle(ctx context.Context, req *protocol.Request) (*protocol.Response, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, req *protocol.Request) (*protocol.Response, error)

func (f HandlerFunc) Handle(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
	return f(ctx, req)
}

// Middleware wraps every routed request. Before runs in registration order
// ahead of the handler; a non-nil response from it is sent instead of
// calling the handler. After runs in reverse order for every middleware
// whose Before ran, and may modify the response in place.
type Middleware interface {
	Before(ctx context.Context, req *protocol.Request) (*protocol.Response, error)
	After(ctx context.Context, req *protocol.Request, resp *protocol.Response)
}

// Filter may be implemented by a Middleware that only applies to some
// requests.
type Filter interface {
	Applies(req *protocol.Request) bool
}

// Hooks builds a Middleware from optional functions.
type Hooks struct {
	BeforeFunc  func(ctx context.Context, req *protocol.Request) (*protocol.Response, error)
	AfterFunc   func(ctx context.Context, req *protocol.Request, resp *protocol.Response)
	AppliesFunc func(req *protocol.Request) bool
}

func (h Hooks) Before(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
	if h.BeforeFunc == nil {
		return nil, nil
	}
	return h.BeforeFunc(ctx, req)
}

func (h Hooks) After(ctx context.Context, req *protocol.Request, resp *protocol.Response) {
	if h.AfterFunc != nil {
		h.AfterFunc(ctx, req, resp)
	}
}

func (h Hooks) Applies(req *protocol.Request) bool {
	return h.AppliesFunc == nil || h.AppliesFunc(req)
}

func applies(m Middleware, req *protocol.Request) bool {
	f, ok := m.(Filter)
	return !ok || f.Applies(req)
}
