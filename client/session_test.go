package client

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/Jennifer-Brigman/stormhttp/cookiejar"
	"github.com/Jennifer-Brigman/stormhttp/errors"
	"github.com/Jennifer-Brigman/stormhttp/protocol"
	"github.com/Jennifer-Brigman/stormhttp/transport"
)

type testServer struct {
	URL      string
	Socket   string
	accepted atomic.Int32

	mu    sync.Mutex
	conns []net.Conn
	wg    sync.WaitGroup
}

// setupTestServer serves every accepted connection with handler until the
// test ends.
func setupTestServer(t *testing.T, network string, handler func(net.Conn)) *testServer {
	t.Helper()
	address := "127.0.0.1:0"
	if network == "unix" {
		address = filepath.Join(t.TempDir(), "server.sock")
	}
	listener, err := net.Listen(network, address)
	if err != nil {
		t.Fatalf("Failed to create listener: %v", err)
	}

	ts := &testServer{URL: "http://" + listener.Addr().String()}
	if network == "unix" {
		ts.URL, ts.Socket = "http://unix", address
	}
	ts.wg.Add(1)
	go func() {
		defer ts.wg.Done()
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			ts.accepted.Add(1)
			ts.mu.Lock()
			ts.conns = append(ts.conns, conn)
			ts.mu.Unlock()
			ts.wg.Add(1)
			go func() {
				defer ts.wg.Done()
				defer conn.Close()
				handler(conn)
			}()
		}
	}()

	t.Cleanup(func() {
		listener.Close()
		ts.mu.Lock()
		for _, conn := range ts.conns {
			conn.Close()
		}
		ts.mu.Unlock()
		ts.wg.Wait()
	})
	return ts
}

// serveRequests parses requests from conn and writes what respond returns.
// An empty answer closes the connection.
func serveRequests(conn net.Conn, respond func(req *protocol.Request) string) {
	buf := make([]byte, 4096)
	req := &protocol.Request{}
	parser := protocol.NewRequestParser(req)
	for {
		n, err := conn.Read(buf)
		data := buf[:n]
		for len(data) > 0 {
			used, perr := parser.Feed(data)
			if perr != nil {
				return
			}
			data = data[used:]
			if !req.IsComplete() {
				break
			}
			answer := respond(req)
			if answer == "" {
				return
			}
			if _, err := conn.Write([]byte(answer)); err != nil {
				return
			}
			req = &protocol.Request{}
			parser.SetRequest(req)
		}
		if err != nil {
			return
		}
	}
}

func reply(status string, headers string, body string) string {
	return fmt.Sprintf("HTTP/1.1 %s\r\n%sContent-Length: %d\r\n\r\n%s", status, headers, len(body), body)
}

func TestSession_Get(t *testing.T) {
	seen := make(chan string, 1)
	ts := setupTestServer(t, "tcp", func(conn net.Conn) {
		serveRequests(conn, func(req *protocol.Request) string {
			host, _ := req.Headers.Get(protocol.HeaderHost)
			agent, _ := req.Headers.Get("User-Agent")
			seen <- req.Method + " " + req.URL.RequestURI() + " " + host + " " + agent
			return reply("200 OK", "", "Hello, World!")
		})
	})

	cfg := Config{}
	cfg.Headers.Set("User-Agent", "stormhttp-test")
	s := New(cfg)
	defer s.Close()

	resp, err := s.Get(context.Background(), ts.URL+"/test?x=1", nil)
	if err != nil {
		t.Fatalf("GET request failed: %v", err)
	}
	if resp.StatusCode() != 200 {
		t.Errorf("Expected status code 200, got %d", resp.StatusCode())
	}
	if string(resp.Body) != "Hello, World!" {
		t.Errorf("Expected body %q, got %q", "Hello, World!", resp.Body)
	}

	want := "GET /test?x=1 " + strings.TrimPrefix(ts.URL, "http://") + " stormhttp-test"
	if got := <-seen; got != want {
		t.Errorf("server saw %q, want %q", got, want)
	}
}

func TestSession_Post(t *testing.T) {
	ts := setupTestServer(t, "tcp", func(conn net.Conn) {
		serveRequests(conn, func(req *protocol.Request) string {
			length, _ := req.Headers.Get(protocol.HeaderContentLength)
			return reply("201 Created", "", length+":"+string(req.Body))
		})
	})

	s := New(Config{})
	defer s.Close()

	resp, err := s.Post(context.Background(), ts.URL+"/create", nil, []byte("test data"))
	if err != nil {
		t.Fatalf("POST request failed: %v", err)
	}
	if resp.StatusCode() != 201 {
		t.Errorf("Expected status code 201, got %d", resp.StatusCode())
	}
	if string(resp.Body) != "9:test data" {
		t.Errorf("Expected body %q, got %q", "9:test data", resp.Body)
	}
}

func TestSession_ReusesConnection(t *testing.T) {
	ts := setupTestServer(t, "tcp", func(conn net.Conn) {
		serveRequests(conn, func(req *protocol.Request) string {
			return reply("200 OK", "", req.URL.Path)
		})
	})

	s := New(Config{})
	defer s.Close()
	for _, path := range []string{"/a", "/b", "/c"} {
		resp, err := s.Get(context.Background(), ts.URL+path, nil)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		if string(resp.Body) != path {
			t.Errorf("GET %s: body %q", path, resp.Body)
		}
	}
	if n := ts.accepted.Load(); n != 1 {
		t.Errorf("server accepted %d connections, want 1", n)
	}
}

func TestSession_ConnectionClose(t *testing.T) {
	ts := setupTestServer(t, "tcp", func(conn net.Conn) {
		serveRequests(conn, func(req *protocol.Request) string {
			return reply("200 OK", "Connection: close\r\n", "bye")
		})
	})

	s := New(Config{})
	defer s.Close()
	for i := 0; i < 2; i++ {
		if _, err := s.Get(context.Background(), ts.URL+"/", nil); err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
	}
	if n := ts.accepted.Load(); n != 2 {
		t.Errorf("server accepted %d connections, want 2", n)
	}
}

func TestSession_RetriesStaleConnection(t *testing.T) {
	// the server answers one request per connection without announcing it
	ts := setupTestServer(t, "tcp", func(conn net.Conn) {
		buf := make([]byte, 4096)
		conn.Read(buf)
		conn.Write([]byte(reply("200 OK", "", "once")))
	})

	s := New(Config{})
	defer s.Close()
	for i := 0; i < 2; i++ {
		resp, err := s.Get(context.Background(), ts.URL+"/", nil)
		if err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
		if string(resp.Body) != "once" {
			t.Errorf("request %d: body %q", i, resp.Body)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestSession_HeadResponseHasNoBody(t *testing.T) {
	ts := setupTestServer(t, "tcp", func(conn net.Conn) {
		serveRequests(conn, func(req *protocol.Request) string {
			if req.Method == "HEAD" {
				return "HTTP/1.1 200 OK\r\nContent-Length: 5\r\n\r\n"
			}
			return reply("200 OK", "", "hello")
		})
	})

	s := New(Config{})
	defer s.Close()
	resp, err := s.Send(context.Background(), "head", ts.URL+"/", nil, nil)
	if err != nil {
		t.Fatalf("HEAD failed: %v", err)
	}
	if len(resp.Body) != 0 {
		t.Errorf("HEAD response body = %q", resp.Body)
	}
	resp, err = s.Get(context.Background(), ts.URL+"/", nil)
	if err != nil || string(resp.Body) != "hello" {
		t.Fatalf("GET after HEAD: %v %q", err, resp.Body)
	}
	if n := ts.accepted.Load(); n != 1 {
		t.Errorf("server accepted %d connections, want 1", n)
	}
}

func TestSession_ReadsUntilClose(t *testing.T) {
	ts := setupTestServer(t, "tcp", func(conn net.Conn) {
		serveRequests(conn, func(req *protocol.Request) string {
			conn.Write([]byte("HTTP/1.0 200 OK\r\n\r\nstreamed until close"))
			return ""
		})
	})

	s := New(Config{})
	defer s.Close()
	resp, err := s.Get(context.Background(), ts.URL+"/", nil)
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	if string(resp.Body) != "streamed until close" {
		t.Errorf("body = %q", resp.Body)
	}
}

func TestSession_SkipsInterimResponses(t *testing.T) {
	ts := setupTestServer(t, "tcp", func(conn net.Conn) {
		serveRequests(conn, func(req *protocol.Request) string {
			return "HTTP/1.1 100 Continue\r\n\r\n" + reply("200 OK", "", "final")
		})
	})

	s := New(Config{})
	defer s.Close()
	resp, err := s.Post(context.Background(), ts.URL+"/", nil, []byte("x"))
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode() != 200 || string(resp.Body) != "final" {
		t.Errorf("got %d %q", resp.StatusCode(), resp.Body)
	}
}

func TestSession_IncompleteResponse(t *testing.T) {
	ts := setupTestServer(t, "tcp", func(conn net.Conn) {
		serveRequests(conn, func(req *protocol.Request) string {
			conn.Write([]byte("HTTP/1.1 200 OK\r\nContent-Length: 10\r\n\r\nabc"))
			return ""
		})
	})

	s := New(Config{})
	defer s.Close()
	_, err := s.Get(context.Background(), ts.URL+"/", nil)
	if !errors.IsProtocol(err, errors.ProtocolErrorIncompleteMessage) {
		t.Fatalf("expected incomplete message, got %v", err)
	}
}

func TestSession_Redirects(t *testing.T) {
	var hits atomic.Int32
	ts := setupTestServer(t, "tcp", func(conn net.Conn) {
		serveRequests(conn, func(req *protocol.Request) string {
			hits.Add(1)
			switch req.URL.Path {
			case "/old":
				return reply("301 Moved Permanently", "Location: new?from=old\r\n", "")
			case "/new":
				host, _ := req.Headers.Get(protocol.HeaderHost)
				return reply("307 Temporary Redirect", "Location: http://"+host+"/final\r\n", "")
			case "/uri":
				return reply("302 Found", "URI: /final\r\n", "")
			case "/final":
				return reply("200 OK", "", req.Method+" "+string(req.Body))
			case "/loop":
				return reply("302 Found", "Location: /loop\r\n", "")
			default:
				return reply("308 Permanent Redirect", "", "")
			}
		})
	})

	t.Run("followed", func(t *testing.T) {
		s := New(Config{})
		defer s.Close()
		resp, err := s.Post(context.Background(), ts.URL+"/old", nil, []byte("payload"))
		if err != nil {
			t.Fatal(err)
		}
		if resp.StatusCode() != 200 || string(resp.Body) != "POST payload" {
			t.Errorf("got %d %q", resp.StatusCode(), resp.Body)
		}
	})

	t.Run("uri header", func(t *testing.T) {
		s := New(Config{})
		defer s.Close()
		resp, err := s.Get(context.Background(), ts.URL+"/uri", nil)
		if err != nil || resp.StatusCode() != 200 {
			t.Fatalf("got %v %v", resp, err)
		}
	})

	t.Run("exhausted", func(t *testing.T) {
		hits.Store(0)
		var logs bytes.Buffer
		logger := zerolog.New(zerolog.SyncWriter(&logs)).Level(zerolog.DebugLevel)
		s := New(Config{MaxRedirects: 3, Logger: &logger})
		defer s.Close()
		resp, err := s.Get(context.Background(), ts.URL+"/loop", nil)
		if err != nil {
			t.Fatal(err)
		}
		if resp.StatusCode() != 500 || len(resp.Body) != 0 {
			t.Errorf("got %d %q, want an empty 500", resp.StatusCode(), resp.Body)
		}
		if n := hits.Load(); n != 4 {
			t.Errorf("server saw %d requests, want 4", n)
		}
		if !strings.Contains(logs.String(), errors.ProtocolErrorRedirectExhausted.String()) {
			t.Errorf("exhaustion not logged: %s", logs.String())
		}
	})

	t.Run("missing location", func(t *testing.T) {
		s := New(Config{})
		defer s.Close()
		resp, err := s.Get(context.Background(), ts.URL+"/nowhere", nil)
		if err != nil {
			t.Fatal(err)
		}
		if resp.StatusCode() != 500 {
			t.Errorf("status = %d, want 500", resp.StatusCode())
		}
	})

	t.Run("not followed", func(t *testing.T) {
		s := New(Config{MaxRedirects: -1})
		defer s.Close()
		resp, err := s.Get(context.Background(), ts.URL+"/old", nil)
		if err != nil {
			t.Fatal(err)
		}
		if resp.StatusCode() != 301 {
			t.Errorf("status = %d, want 301", resp.StatusCode())
		}
	})
}

func TestSession_Cookies(t *testing.T) {
	ts := setupTestServer(t, "tcp", func(conn net.Conn) {
		serveRequests(conn, func(req *protocol.Request) string {
			if req.URL.Path == "/login" {
				return reply("200 OK", "Set-Cookie: sid=abc; Path=/\r\n", "")
			}
			sid, _ := req.Cookies.Value("sid")
			return reply("200 OK", "", "sid="+sid)
		})
	})

	jar := cookiejar.New(cookiejar.Config{})
	s := New(Config{Jar: jar})
	defer s.Close()

	if _, err := s.Get(context.Background(), ts.URL+"/login", nil); err != nil {
		t.Fatal(err)
	}
	if jar.Len() != 1 {
		t.Fatalf("jar holds %d entries, want 1", jar.Len())
	}
	resp, err := s.Get(context.Background(), ts.URL+"/me", nil)
	if err != nil {
		t.Fatal(err)
	}
	if string(resp.Body) != "sid=abc" {
		t.Errorf("body = %q", resp.Body)
	}
}

func TestSession_CancelReleasesSlot(t *testing.T) {
	release := make(chan struct{})
	ts := setupTestServer(t, "tcp", func(conn net.Conn) {
		serveRequests(conn, func(req *protocol.Request) string {
			if req.URL.Path == "/hang" {
				<-release
				return ""
			}
			return reply("200 OK", "", "ok")
		})
	})
	t.Cleanup(func() { close(release) })

	s := New(Config{MaxConns: 1})
	defer s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := s.Get(ctx, ts.URL+"/hang", nil)
	if !stderrors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}

	ctx2, cancel2 := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel2()
	resp, err := s.Get(ctx2, ts.URL+"/ok", nil)
	if err != nil {
		t.Fatalf("slot was not released: %v", err)
	}
	if string(resp.Body) != "ok" {
		t.Errorf("body = %q", resp.Body)
	}
}

func TestSession_Errors(t *testing.T) {
	s := New(Config{})

	if _, err := s.Get(context.Background(), "ftp://example.com/", nil); !errors.IsArgument(err, errors.ArgumentErrorNone) {
		t.Errorf("ftp URL: got %v", err)
	}
	if _, err := s.Get(context.Background(), "", nil); err == nil {
		t.Error("empty URL: expected an error")
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close()
	if _, err := s.Get(context.Background(), "http://"+addr+"/", nil); !errors.IsTransport(err, errors.TransportErrorSocketConnectFailure) {
		t.Errorf("refused connection: got %v", err)
	}

	s.Close()
	if _, err := s.Get(context.Background(), "http://"+addr+"/", nil); !errors.IsTransport(err, errors.TransportErrorConnectionClosed) {
		t.Errorf("closed session: got %v", err)
	}
}

func TestSession_UnixSocket(t *testing.T) {
	ts := setupTestServer(t, "unix", func(conn net.Conn) {
		serveRequests(conn, func(req *protocol.Request) string {
			return reply("200 OK", "", "over unix "+req.URL.Path)
		})
	})

	s := New(Config{Transport: transport.KindUnix, UnixSocket: ts.Socket})
	defer s.Close()
	resp, err := s.Get(context.Background(), ts.URL+"/ping", nil)
	if err != nil {
		t.Fatal(err)
	}
	if string(resp.Body) != "over unix /ping" {
		t.Errorf("body = %q", resp.Body)
	}
}

func TestSession_UringTransports(t *testing.T) {
	ts := setupTestServer(t, "tcp", func(conn net.Conn) {
		serveRequests(conn, func(req *protocol.Request) string {
			return reply("200 OK", "", "Hello from "+req.URL.Path)
		})
	})

	for _, kind := range []transport.Kind{transport.KindUring, transport.KindUringV2} {
		t.Run(string(kind), func(t *testing.T) {
			probe, err := transport.New(kind, nil)
			if err != nil {
				t.Skipf("io_uring unavailable: %v", err)
			}
			probe.Close()

			s := New(Config{Transport: kind})
			defer s.Close()
			for i := 0; i < 2; i++ {
				resp, err := s.Get(context.Background(), ts.URL+"/"+string(kind), nil)
				if err != nil {
					t.Fatalf("request %d: %v", i, err)
				}
				if string(resp.Body) != "Hello from /"+string(kind) {
					t.Errorf("body = %q", resp.Body)
				}
			}
		})
	}
}
