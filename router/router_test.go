package router

import (
	"bytes"
	"context"
	"errors"
	"strconv"
	"strings"
	"testing"

	"github.com/Jennifer-Brigman/stormhttp/protocol"
)

func newRequest(t *testing.T, method string, target string) *protocol.Request {
	t.Helper()
	req, err := protocol.NewRequest(method, target)
	if err != nil {
		t.Fatal(err)
	}
	return req
}

func textHandler(body string) HandlerFunc {
	return func(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
		return protocol.TextResponse(200, body), nil
	}
}

func TestRouteRequestMatchInfo(t *testing.T) {
	r := New(Config{})
	var got string
	err := r.HandleFunc("/foo/<name>", "GET", func(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
		got = req.URL.MatchInfo["name"]
		return protocol.TextResponse(200, "hi "+got), nil
	})
	if err != nil {
		t.Fatal(err)
	}

	req := newRequest(t, "GET", "/foo/bar")
	resp := r.RouteRequest(context.Background(), req)
	if resp.StatusCode() != 200 || got != "bar" || req.URL.MatchInfo["name"] != "bar" {
		t.Fatalf("status=%d name=%q", resp.StatusCode(), got)
	}
	if string(resp.Body) != "hi bar" {
		t.Errorf("body = %q", resp.Body)
	}
}

func TestRouteRequestNotFound(t *testing.T) {
	r := New(Config{})
	must(t, r.AddRoute("/a", "GET", textHandler("a")))

	for _, path := range []string{"/b", "/a/deeper", "/"} {
		resp := r.RouteRequest(context.Background(), newRequest(t, "GET", path))
		if resp.StatusCode() != 404 {
			t.Errorf("%s: status = %d, want 404", path, resp.StatusCode())
		}
	}
}

func TestRouteRequestMethodNotAllowed(t *testing.T) {
	r := New(Config{})
	must(t, r.AddRoute("/x", "POST", textHandler("posted")))

	resp := r.RouteRequest(context.Background(), newRequest(t, "GET", "/x"))
	if resp.StatusCode() != 405 {
		t.Fatalf("status = %d, want 405", resp.StatusCode())
	}
	allow, _ := resp.Headers.Get(protocol.HeaderAllow)
	if !strings.Contains(allow, "POST") {
		t.Errorf("Allow = %q, want POST listed", allow)
	}

	must(t, r.AddRoute("/y", "GET", textHandler("y")))
	resp = r.RouteRequest(context.Background(), newRequest(t, "DELETE", "/y"))
	if allow, _ := resp.Headers.Get(protocol.HeaderAllow); allow != "GET, HEAD" {
		t.Errorf("Allow = %q, want GET, HEAD", allow)
	}
}

func TestImplicitHead(t *testing.T) {
	r := New(Config{})
	var seen string
	must(t, r.HandleFunc("/x", "GET", func(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
		seen = req.Method
		resp := protocol.TextResponse(200, "the body")
		resp.Headers.Set("X-Custom", "yes")
		return resp, nil
	}))

	get := r.RouteRequest(context.Background(), newRequest(t, "GET", "/x"))
	headReq := newRequest(t, "HEAD", "/x")
	head := r.RouteRequest(context.Background(), headReq)

	if seen != "GET" {
		t.Errorf("handler saw method %q", seen)
	}
	if headReq.Method != "HEAD" {
		t.Errorf("request method not restored: %q", headReq.Method)
	}
	if head.StatusCode() != get.StatusCode() {
		t.Errorf("HEAD status %d, GET status %d", head.StatusCode(), get.StatusCode())
	}
	for _, name := range []string{protocol.HeaderContentLength, protocol.HeaderContentType, "X-Custom"} {
		g, _ := get.Headers.Get(name)
		h, _ := head.Headers.Get(name)
		if g != h {
			t.Errorf("%s: HEAD %q, GET %q", name, h, g)
		}
	}
	if cl, _ := head.Headers.Get(protocol.HeaderContentLength); cl != "8" {
		t.Errorf("Content-Length = %q, want 8", cl)
	}
	if len(head.Body) != 0 {
		t.Errorf("HEAD body = %q", head.Body)
	}

	bare, err := r.Dispatch(context.Background(), newRequest(t, "HEAD", "/x"))
	if err != nil {
		t.Fatal(err)
	}
	if cl, _ := bare.Headers.Get(protocol.HeaderContentLength); cl != "8" || len(bare.Body) != 0 {
		t.Errorf("Dispatch HEAD: Content-Length %q body %q", cl, bare.Body)
	}
}

func TestHandlerFailuresBecome500(t *testing.T) {
	r := New(Config{})
	must(t, r.HandleFunc("/err", "GET", func(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
		return nil, errors.New("boom")
	}))
	must(t, r.HandleFunc("/panic", "GET", func(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
		panic("boom")
	}))
	must(t, r.HandleFunc("/nil", "GET", func(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
		return nil, nil
	}))

	for _, path := range []string{"/err", "/panic", "/nil"} {
		resp := r.RouteRequest(context.Background(), newRequest(t, "GET", path))
		if resp.StatusCode() != 500 {
			t.Errorf("%s: status = %d, want 500", path, resp.StatusCode())
		}
	}

	// error pages are never shared between requests
	a := r.RouteRequest(context.Background(), newRequest(t, "GET", "/err"))
	b := r.RouteRequest(context.Background(), newRequest(t, "GET", "/err"))
	if a == b {
		t.Error("500 responses share one value")
	}
}

func TestMiddlewareOrder(t *testing.T) {
	r := New(Config{})
	var trace []string
	hook := func(name string) Hooks {
		return Hooks{
			BeforeFunc: func(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
				trace = append(trace, "before "+name)
				return nil, nil
			},
			AfterFunc: func(ctx context.Context, req *protocol.Request, resp *protocol.Response) {
				trace = append(trace, "after "+name)
			},
		}
	}
	r.Use(hook("a"))
	r.Use(hook("b"))
	r.Use(Hooks{
		AppliesFunc: func(req *protocol.Request) bool { return false },
		BeforeFunc: func(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
			trace = append(trace, "filtered")
			return nil, nil
		},
	})
	must(t, r.HandleFunc("/", "GET", func(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
		trace = append(trace, "handler")
		return protocol.MustResponse(200), nil
	}))

	r.RouteRequest(context.Background(), newRequest(t, "GET", "/"))
	want := "before a,before b,handler,after b,after a"
	if got := strings.Join(trace, ","); got != want {
		t.Errorf("trace = %s, want %s", got, want)
	}
}

func TestMiddlewareShortCircuit(t *testing.T) {
	r := New(Config{})
	var afterCalls []string
	r.Use(Hooks{AfterFunc: func(ctx context.Context, req *protocol.Request, resp *protocol.Response) {
		afterCalls = append(afterCalls, "first")
	}})
	r.Use(Hooks{BeforeFunc: func(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
		return protocol.TextResponse(401, "no"), nil
	}})
	r.Use(Hooks{AfterFunc: func(ctx context.Context, req *protocol.Request, resp *protocol.Response) {
		afterCalls = append(afterCalls, "never")
	}})
	handled := false
	must(t, r.HandleFunc("/", "GET", func(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
		handled = true
		return protocol.MustResponse(200), nil
	}))

	resp := r.RouteRequest(context.Background(), newRequest(t, "GET", "/"))
	if resp.StatusCode() != 401 || handled {
		t.Fatalf("status=%d handled=%v", resp.StatusCode(), handled)
	}
	if strings.Join(afterCalls, ",") != "first" {
		t.Errorf("after hooks = %v", afterCalls)
	}
}

func TestCompressionNegotiation(t *testing.T) {
	body := bytes.Repeat([]byte("compressible "), 160)[:2000]
	r := New(Config{MinCompressionLength: 1400})
	must(t, r.HandleFunc("/big", "GET", func(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
		resp := protocol.MustResponse(200)
		resp.Body = body
		return resp, nil
	}))

	req := newRequest(t, "GET", "/big")
	req.Headers.Set(protocol.HeaderAcceptEncoding, "gzip, identity;q=0.5")
	resp := r.RouteRequest(context.Background(), req)

	if enc, _ := resp.Headers.Get(protocol.HeaderContentEncoding); enc != "gzip" {
		t.Fatalf("Content-Encoding = %q", enc)
	}
	if len(resp.Body) >= len(body) {
		t.Errorf("compressed body is %d bytes, input %d", len(resp.Body), len(body))
	}
	if cl, _ := resp.Headers.Get(protocol.HeaderContentLength); cl != strconv.Itoa(len(resp.Body)) {
		t.Errorf("Content-Length = %s, body %d", cl, len(resp.Body))
	}
	decoded, err := resp.DecodedBody()
	if err != nil || !bytes.Equal(decoded, body) {
		t.Errorf("decoded body mismatch: %v", err)
	}
}

func TestCompressionSkipped(t *testing.T) {
	r := New(Config{})
	must(t, r.HandleFunc("/small", "GET", textHandler("tiny")))
	must(t, r.HandleFunc("/big", "GET", textHandler(strings.Repeat("z", 5000))))

	tests := []struct {
		path, accept string
	}{
		{"/small", "gzip"},
		{"/big", ""},
		{"/big", "gzip;q=0, identity"},
		{"/big", "zstd"},
	}
	for _, tt := range tests {
		req := newRequest(t, "GET", tt.path)
		if tt.accept != "" {
			req.Headers.Set(protocol.HeaderAcceptEncoding, tt.accept)
		}
		resp := r.RouteRequest(context.Background(), req)
		if resp.Headers.Has(protocol.HeaderContentEncoding) {
			t.Errorf("%s with %q was encoded", tt.path, tt.accept)
		}
	}
}

func TestDefaultHeaders(t *testing.T) {
	r := New(Config{ServerHeader: "test-server"})
	must(t, r.HandleFunc("/default", "GET", textHandler("abc")))
	must(t, r.HandleFunc("/custom", "GET", func(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
		resp := protocol.TextResponse(200, "abc")
		resp.Headers.Set(protocol.HeaderServer, "mine")
		resp.Headers.Set(protocol.HeaderDate, "yesterday")
		return resp, nil
	}))

	req := newRequest(t, "GET", "/default")
	req.Version = "1.0"
	resp := r.RouteRequest(context.Background(), req)
	if v, _ := resp.Headers.Get(protocol.HeaderServer); v != "test-server" {
		t.Errorf("Server = %q", v)
	}
	if v, _ := resp.Headers.Get(protocol.HeaderContentLength); v != "3" {
		t.Errorf("Content-Length = %q", v)
	}
	if !resp.Headers.Has(protocol.HeaderDate) {
		t.Error("Date missing")
	}
	if resp.Version != "1.0" {
		t.Errorf("Version = %q, want the request's", resp.Version)
	}

	resp = r.RouteRequest(context.Background(), newRequest(t, "GET", "/custom"))
	if v, _ := resp.Headers.Get(protocol.HeaderServer); v != "mine" {
		t.Errorf("Server overwritten: %q", v)
	}
	if v, _ := resp.Headers.Get(protocol.HeaderDate); v != "yesterday" {
		t.Errorf("Date overwritten: %q", v)
	}
}

// must fails the test when a route cannot be registered.
func must(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("registering route: %v", err)
	}
}
