package main

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/Jennifer-Brigman/stormhttp/protocol"
	"github.com/Jennifer-Brigman/stormhttp/router"
)

const indexPage = `stormd demo

GET  /hello/<name>   greeting
POST /echo           echoes the request body
GET  /about          cacheable page
GET  /cookies        counts visits in a cookie
`

// newRouter registers the demo routes. started is reported as the
// modification time of the cacheable page.
func newRouter(cfg router.Config, started time.Time) (*router.Router, error) {
	r := router.New(cfg)
	log := cfg.Logger

	r.Use(router.Hooks{
		AfterFunc: func(ctx context.Context, req *protocol.Request, resp *protocol.Response) {
			if log != nil {
				log.Info().Str("method", req.Method).Str("path", req.URL.Path).
					Int("status", resp.StatusCode()).Int("bytes", len(resp.Body)).Msg("request")
			}
		},
	})

	about := router.CacheControl(router.CacheOptions{
		Setting: router.CachePublic,
		MaxAge:  time.Hour,
		ETag: func(*protocol.Request) string {
			return `"` + strconv.FormatInt(started.Unix(), 36) + `"`
		},
		LastModified: func(*protocol.Request) time.Time { return started },
	}, router.HandlerFunc(func(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
		return protocol.TextResponse(200, "served by stormd since "+started.UTC().Format(time.RFC1123)), nil
	}))

	routes := []struct {
		path, method string
		handler      router.Handler
	}{
		{"/", "GET", router.HandlerFunc(index)},
		{"/hello/<name>", "GET", router.HandlerFunc(hello)},
		{"/echo", "POST", router.HandlerFunc(echo)},
		{"/about", "GET", about},
		{"/cookies", "GET", router.HandlerFunc(visits)},
	}
	for _, rt := range routes {
		if err := r.AddRoute(rt.path, rt.method, rt.handler); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func index(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
	return protocol.TextResponse(200, indexPage), nil
}

func hello(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
	return protocol.TextResponse(200, "Hello, "+req.URL.MatchInfo["name"]+"!\n"), nil
}

func echo(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
	resp := protocol.MustResponse(200)
	contentType, ok := req.Headers.Get(protocol.HeaderContentType)
	if !ok {
		contentType = "application/octet-stream"
	}
	resp.Headers.Set(protocol.HeaderContentType, contentType)
	resp.Body = req.Body
	return resp, nil
}

// visits counts the requests of one client in a cookie.
func visits(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
	n := 0
	if v, ok := req.Cookies.Value("visits"); ok {
		n, _ = strconv.Atoi(strings.TrimSpace(v))
	}
	n++

	resp := protocol.TextResponse(200, "visit "+strconv.Itoa(n)+"\n")
	c := resp.Cookies.Entry("", "/")
	c.Set("visits", strconv.Itoa(n))
	c.SetMaxAge(int((24 * time.Hour).Seconds()))
	c.SetHttpOnly(true)
	return resp, nil
}
