// Stormget fetches a URL with the stormhttp client and prints the body.
//
//	stormget http://localhost:8080/hello/you
//	stormget -X POST -d 'payload' http://localhost:8080/echo
//	stormget -transport uring -i http://localhost:8080/
//	stormget -transport unix -socket /run/app.sock http://app/status
package main

import (
	"context"
	"crypto/tls"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/Jennifer-Brigman/stormhttp/client"
	"github.com/Jennifer-Brigman/stormhttp/cookiejar"
	"github.com/Jennifer-Brigman/stormhttp/protocol"
	"github.com/Jennifer-Brigman/stormhttp/transport"
)

// headerFlags collects repeated -H "Name: value" flags.
type headerFlags []string

func (h *headerFlags) String() string { return strings.Join(*h, ", ") }

func (h *headerFlags) Set(v string) error {
	if !strings.Contains(v, ":") {
		return fmt.Errorf("header %q has no colon", v)
	}
	*h = append(*h, v)
	return nil
}

func main() {
	var (
		headers   headerFlags
		method    = flag.String("X", "GET", "request method")
		data      = flag.String("d", "", "request body")
		kind      = flag.String("transport", "tcp", "transport for http URLs: tcp, unix, uring or uring2")
		socket    = flag.String("socket", "", "Unix socket path for -transport unix")
		redirects = flag.Int("max-redirects", client.DefaultMaxRedirects, "redirects to follow, negative disables")
		insecure  = flag.Bool("k", false, "skip TLS certificate verification")
		include   = flag.Bool("i", false, "print the status line and headers")
		decode    = flag.Bool("decode", true, "undo Content-Encoding before printing")
		timeout   = flag.Duration("timeout", 30*time.Second, "overall request timeout")
		redisAddr = flag.String("redis", "", "keep cookies in Redis at this address between runs")
		redisKey  = flag.String("redis-key", "stormget:cookies", "Redis hash holding the cookies")
		verbose   = flag.Bool("v", false, "debug logging")
	)
	flag.Var(&headers, "H", `request header "Name: value", repeatable`)
	flag.Parse()
	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: stormget [flags] URL")
		flag.PrintDefaults()
		os.Exit(2)
	}

	level := zerolog.WarnLevel
	if *verbose {
		level = zerolog.DebugLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		Level(level).With().Timestamp().Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	jarCfg := cookiejar.Config{Logger: &logger}
	if *redisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: *redisAddr})
		defer rdb.Close()
		jarCfg.Storage = cookiejar.NewRedisStorage(rdb, *redisKey)
	}
	jar := cookiejar.New(jarCfg)
	if *redisAddr != "" {
		if err := jar.Load(ctx); err != nil {
			logger.Fatal().Err(err).Msg("loading cookies failed")
		}
	}

	cfg := client.Config{
		MaxRedirects: *redirects,
		Transport:    transport.Kind(*kind),
		UnixSocket:   *socket,
		Jar:          jar,
		Logger:       &logger,
	}
	if cfg.MaxRedirects == 0 {
		cfg.MaxRedirects = -1
	}
	if *insecure {
		cfg.TLSConfig = &tls.Config{InsecureSkipVerify: true}
	}
	cfg.Headers.Set("User-Agent", "stormget")
	cfg.Headers.Set(protocol.HeaderAcceptEncoding, "br, gzip, deflate")

	var extra protocol.Headers
	for _, h := range headers {
		name, value, _ := strings.Cut(h, ":")
		extra.Add(strings.TrimSpace(name), strings.TrimSpace(value))
	}

	session := client.New(cfg)
	defer session.Close()

	var body []byte
	if *data != "" {
		body = []byte(*data)
	}
	resp, err := session.Send(ctx, *method, flag.Arg(0), &extra, body)
	if err != nil {
		logger.Error().Err(err).Msg("request failed")
		os.Exit(1)
	}
	if *redisAddr != "" {
		if err := jar.Save(ctx); err != nil {
			logger.Warn().Err(err).Msg("saving cookies failed")
		}
	}

	if *include {
		fmt.Printf("HTTP/%s %d %s\n", resp.Version, resp.StatusCode(), resp.Reason)
		resp.Headers.Each(func(name string, values []string) {
			for _, v := range values {
				fmt.Printf("%s: %s\n", name, v)
			}
		})
		fmt.Println()
	}

	out := resp.Body
	if *decode {
		if out, err = resp.DecodedBody(); err != nil {
			logger.Error().Err(err).Msg("decoding body failed")
			os.Exit(1)
		}
	}
	os.Stdout.Write(out)
	if resp.StatusCode() >= 400 {
		os.Exit(1)
	}
}
